package memdb

import (
	"sort"

	"github.com/koustreak/driftbox/internal/errs"
	"github.com/koustreak/driftbox/internal/schema"
)

type table struct {
	columns map[string]*schema.ColumnInfo

	// pkName is empty when the table has no primary key.
	pkName      string
	foreignKeys map[string]schema.ForeignKeyInfo // by constraint name
	policies    map[string]schema.Policy
	rls         bool

	// tableGrants hold "grantee:PRIVILEGE" entries granted on the table as
	// a whole; they apply to every column, present and future.
	tableGrants map[string]bool
}

func newTable() *table {
	return &table{
		columns:     make(map[string]*schema.ColumnInfo),
		foreignKeys: make(map[string]schema.ForeignKeyInfo),
		policies:    make(map[string]schema.Policy),
		tableGrants: make(map[string]bool),
	}
}

func (t *table) clone() *table {
	out := newTable()
	for name, c := range t.columns {
		out.columns[name] = c.Clone()
	}
	out.pkName = t.pkName
	for name, fk := range t.foreignKeys {
		out.foreignKeys[name] = fk
	}
	for name, p := range t.policies {
		p.Roles = append([]string(nil), p.Roles...)
		out.policies[name] = p
	}
	out.rls = t.rls
	for g := range t.tableGrants {
		out.tableGrants[g] = true
	}
	return out
}

func cloneTables(in map[string]*table) map[string]*table {
	out := make(map[string]*table, len(in))
	for name, t := range in {
		out[name] = t.clone()
	}
	return out
}

func (t *table) column(table, name string) (*schema.ColumnInfo, error) {
	c, ok := t.columns[name]
	if !ok {
		return nil, undefinedColumn(table, name)
	}
	return c, nil
}

func (t *table) primaryKey() []string {
	var cols []string
	for name, c := range t.columns {
		if c.IsPrimaryKey {
			cols = append(cols, name)
		}
	}
	sort.Strings(cols)
	return cols
}

func (t *table) hasConstraint(name string) bool {
	if name != "" && name == t.pkName {
		return true
	}
	_, ok := t.foreignKeys[name]
	return ok
}

// export renders the table the way introspection reports it: table-wide
// grants expanded onto each column, one foreign key per column.
func (t *table) export() *schema.TableInfo {
	out := schema.NewTable()
	for name, c := range t.columns {
		col := c.Clone()
		for g := range t.tableGrants {
			col.Permissions = append(col.Permissions, g)
		}
		out.Columns[name] = col
	}

	names := make([]string, 0, len(t.foreignKeys))
	for name := range t.foreignKeys {
		names = append(names, name)
	}
	sort.Strings(names)
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		fk := t.foreignKeys[name]
		if seen[fk.ColumnName] {
			continue
		}
		seen[fk.ColumnName] = true
		out.ForeignKeys = append(out.ForeignKeys, fk)
	}

	for _, p := range t.policies {
		p.Roles = append([]string(nil), p.Roles...)
		out.Policies = append(out.Policies, p)
	}
	return out
}

func undefinedTable(name string) error {
	return errs.Newf(errs.ErrKindQueryFailed, "relation %q does not exist", name)
}

func undefinedColumn(table, column string) error {
	return errs.Newf(errs.ErrKindQueryFailed, "column %q of relation %q does not exist", column, table)
}
