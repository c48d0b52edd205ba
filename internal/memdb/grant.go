package memdb

import (
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/koustreak/driftbox/internal/ddl"
	"github.com/koustreak/driftbox/internal/errs"
)

// columnPrivileges are the table privileges that also exist per column.
var columnPrivileges = []string{"INSERT", "REFERENCES", "SELECT", "UPDATE"}

// grantPublic is how column_privileges spells the public pseudo-role.
const grantPublic = "PUBLIC"

func isColumnPrivilege(p string) bool {
	for _, c := range columnPrivileges {
		if c == p {
			return true
		}
	}
	return false
}

type privilege struct {
	name    string
	columns []string // empty for a table-wide privilege
}

func (db *DB) grant(stmt *pg_query.GrantStmt) error {
	if stmt.GetObjtype() != pg_query.ObjectType_OBJECT_TABLE {
		return nil
	}

	var tables []string
	switch stmt.GetTargtype() {
	case pg_query.GrantTargetType_ACL_TARGET_OBJECT:
		for _, obj := range stmt.GetObjects() {
			name, err := relationName(obj.GetRangeVar())
			if err != nil {
				return err
			}
			if _, ok := db.tables[name]; !ok {
				return undefinedTable(name)
			}
			tables = append(tables, name)
		}
	case pg_query.GrantTargetType_ACL_TARGET_ALL_IN_SCHEMA:
		for _, obj := range stmt.GetObjects() {
			if ns := obj.GetString_().GetSval(); ns != defaultNamespace {
				return errs.Newf(errs.ErrKindQueryFailed, "schema %q does not exist", ns)
			}
		}
		tables = db.tableNames()
	default:
		return nil
	}

	grantees := make([]string, 0, len(stmt.GetGrantees()))
	for _, g := range stmt.GetGrantees() {
		grantees = append(grantees, roleName(g.GetRoleSpec(), grantPublic))
	}

	for _, table := range tables {
		t := db.tables[table]
		for _, p := range privileges(stmt) {
			if !isColumnPrivilege(p.name) {
				if len(p.columns) > 0 {
					return errs.Newf(errs.ErrKindQueryFailed, "invalid privilege type %s for column", p.name)
				}
				continue
			}
			for _, grantee := range grantees {
				perm := ddl.FormatPermission(grantee, p.name)
				if err := applyGrant(table, t, perm, p.columns, stmt.GetIsGrant()); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// privileges expands the statement's privilege list. An empty list or a
// nameless entry means ALL.
func privileges(stmt *pg_query.GrantStmt) []privilege {
	all := func(cols []string) []privilege {
		out := make([]privilege, len(columnPrivileges))
		for i, name := range columnPrivileges {
			out[i] = privilege{name: name, columns: cols}
		}
		return out
	}

	if len(stmt.GetPrivileges()) == 0 {
		return all(nil)
	}
	var out []privilege
	for _, n := range stmt.GetPrivileges() {
		ap := n.GetAccessPriv()
		cols := stringList(ap.GetCols())
		if ap.GetPrivName() == "" {
			out = append(out, all(cols)...)
			continue
		}
		out = append(out, privilege{name: strings.ToUpper(ap.GetPrivName()), columns: cols})
	}
	return out
}

func applyGrant(table string, t *table, perm string, columns []string, grant bool) error {
	if len(columns) == 0 {
		if grant {
			t.tableGrants[perm] = true
			return nil
		}
		// Revoking a table privilege also revokes it from every column.
		delete(t.tableGrants, perm)
		for _, c := range t.columns {
			c.Permissions = without(c.Permissions, perm)
		}
		return nil
	}

	for _, name := range columns {
		c, err := t.column(table, name)
		if err != nil {
			return err
		}
		if grant {
			if !contains(c.Permissions, perm) {
				c.Permissions = append(c.Permissions, perm)
			}
		} else {
			c.Permissions = without(c.Permissions, perm)
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func without(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
