package ddl

import (
	"fmt"
	"sort"
	"strings"

	"github.com/koustreak/driftbox/internal/diff"
	"github.com/koustreak/driftbox/internal/schema"
)

// refreshPolicies re-enables row-level security and re-issues every target
// policy under its recorded name. Policies only present in from are dropped.
// There is no partial ALTER POLICY: one changed attribute recreates all of
// them.
func (g *generator) refreshPolicies(table string, from, to []schema.Policy) {
	g.emitf("ALTER TABLE %s ENABLE ROW LEVEL SECURITY", ident(table))

	keep := make(map[string]bool, len(to))
	for _, p := range to {
		keep[p.Name] = true
	}
	for _, p := range from {
		if !keep[p.Name] {
			g.emitf("DROP POLICY IF EXISTS %s ON %s", ident(p.Name), ident(table))
		}
	}
	for _, p := range to {
		g.emitf("DROP POLICY IF EXISTS %s ON %s", ident(p.Name), ident(table))
		g.stmts = append(g.stmts, createPolicy(table, p)+";")
	}
}

func createPolicy(table string, p schema.Policy) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE POLICY %s ON %s", ident(p.Name), ident(table))
	if p.Permissive {
		b.WriteString(" AS PERMISSIVE")
	} else {
		b.WriteString(" AS RESTRICTIVE")
	}
	cmd := strings.ToUpper(p.Command)
	if cmd == "" {
		cmd = "ALL"
	}
	b.WriteString(" FOR ")
	b.WriteString(cmd)

	roles := p.Roles
	if len(roles) == 0 {
		roles = []string{schema.PublicRole}
	}
	b.WriteString(" TO ")
	b.WriteString(roleList(roles))

	if p.Using != "" {
		fmt.Fprintf(&b, " USING (%s)", p.Using)
	}
	if p.WithCheck != "" {
		fmt.Fprintf(&b, " WITH CHECK (%s)", p.WithCheck)
	}
	return b.String()
}

// grantKey identifies one aggregated GRANT or REVOKE statement.
type grantKey struct {
	Grantee   string
	Privilege string
}

// grantSet maps a grantee/privilege pair to the columns it covers.
type grantSet map[grantKey][]string

func (s grantSet) add(column, permission string) {
	grantee, privilege, ok := ParsePermission(permission)
	if !ok {
		return
	}
	k := grantKey{Grantee: grantee, Privilege: privilege}
	s[k] = append(s[k], column)
}

func (s grantSet) keys() []grantKey {
	keys := make([]grantKey, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Grantee != keys[j].Grantee {
			return keys[i].Grantee < keys[j].Grantee
		}
		return keys[i].Privilege < keys[j].Privilege
	})
	return keys
}

// ParsePermission splits a "grantee:PRIVILEGE" entry.
func ParsePermission(p string) (grantee, privilege string, ok bool) {
	i := strings.LastIndex(p, ":")
	if i <= 0 || i == len(p)-1 {
		return "", "", false
	}
	return p[:i], strings.ToUpper(p[i+1:]), true
}

// FormatPermission is the inverse of ParsePermission.
func FormatPermission(grantee, privilege string) string {
	return grantee + ":" + strings.ToUpper(privilege)
}

// tableGrants collects every column grant of a table.
func tableGrants(t *schema.TableInfo) grantSet {
	s := grantSet{}
	for _, col := range t.ColumnNames() {
		for _, p := range t.Columns[col].Permissions {
			s.add(col, p)
		}
	}
	return s
}

// changedGrants returns the grants to add and revoke for the columns of a
// changed table: everything on added columns, and the per-column set
// difference on changed ones.
func changedGrants(t *schema.TableInfo, td *diff.TableDiff) (grants, revokes grantSet) {
	grants, revokes = grantSet{}, grantSet{}
	for _, col := range td.ColumnsAdded {
		if c, ok := t.Columns[col]; ok {
			for _, p := range c.Permissions {
				grants.add(col, p)
			}
		}
	}
	for _, col := range td.ChangedColumns() {
		change := td.ColumnsDiff[col]
		for _, p := range difference(change.To.Permissions, change.From.Permissions) {
			grants.add(col, p)
		}
		for _, p := range difference(change.From.Permissions, change.To.Permissions) {
			revokes.add(col, p)
		}
	}
	return grants, revokes
}

func (g *generator) reconcileGrants(table string, grants, revokes grantSet) {
	for _, k := range revokes.keys() {
		g.emitf("REVOKE %s (%s) ON %s FROM %s", k.Privilege, identList(revokes[k]), ident(table), role(k.Grantee))
	}
	for _, k := range grants.keys() {
		g.emitf("GRANT %s (%s) ON %s TO %s", k.Privilege, identList(grants[k]), ident(table), role(k.Grantee))
	}
}

func difference(a, b []string) []string {
	in := make(map[string]bool, len(b))
	for _, s := range b {
		in[s] = true
	}
	var out []string
	for _, s := range a {
		if !in[s] {
			out = append(out, s)
		}
	}
	return out
}

func role(name string) string {
	if strings.EqualFold(name, schema.PublicRole) {
		return "PUBLIC"
	}
	return ident(name)
}

func roleList(names []string) string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = role(n)
	}
	return strings.Join(out, ", ")
}
