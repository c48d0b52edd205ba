// Package ddl turns a schema diff into an ordered PostgreSQL migration
// script.
//
// Generation is pure text synthesis. It never fails on well-formed input, but
// the output is not guaranteed to execute: an ALTER ... TYPE cast may be
// illegal for the data at hand, for example.
package ddl

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/koustreak/driftbox/internal/diff"
	"github.com/koustreak/driftbox/internal/schema"
	"github.com/koustreak/driftbox/internal/sqlexpr"
)

// Options controls which parts of the diff are rendered and how.
type Options struct {
	// Extended renders row-level-security policies and column grants.
	Extended bool
	// ShellTables creates added tables empty and adds their columns one
	// ALTER at a time.
	ShellTables bool
}

// Generate returns the statements that move a database from the diff's
// source schema to target, each terminated by a semicolon.
//
// Order: removed tables are dropped, then every removed foreign key on the
// surviving tables, so no later column or key drop is blocked by a reference
// from another table. Added tables are created with their primary keys, then
// each changed table has columns added, altered and dropped and policies and
// grants reconciled. Foreign keys that reference a changed table, or a table
// created later, are added last, once every referenced column exists.
func Generate(d *diff.SchemaDiff, target *schema.DatabaseSchema, opts Options) []string {
	if d == nil {
		return nil
	}
	if target == nil {
		target = schema.New()
	}

	g := &generator{target: target, opts: opts}

	for _, name := range d.TablesRemoved {
		g.emitf("DROP TABLE %s CASCADE", ident(name))
	}
	g.dropForeignKeys(d)

	changed := d.ChangedTables()
	g.createTables(d.TablesAdded, changed)
	for _, name := range changed {
		g.alterTable(name, d.TablesDiff[name])
	}

	for _, emit := range g.deferred {
		emit()
	}
	for _, name := range changed {
		for _, fk := range sortedForeignKeys(d.TablesDiff[name].ForeignKeysAdded) {
			g.addForeignKey(name, fk)
		}
	}
	return g.stmts
}

// Script renders Generate's output as newline-separated text.
func Script(d *diff.SchemaDiff, target *schema.DatabaseSchema, opts Options) string {
	return strings.Join(Generate(d, target, opts), "\n")
}

type generator struct {
	target   *schema.DatabaseSchema
	opts     Options
	stmts    []string
	deferred []func()
}

func (g *generator) emitf(format string, args ...any) {
	g.stmts = append(g.stmts, fmt.Sprintf(format, args...)+";")
}

func (g *generator) table(name string) *schema.TableInfo {
	if t, ok := g.target.Tables[name]; ok {
		return t
	}
	return schema.NewTable()
}

// createTables emits every added table in dependency order. A foreign key
// whose referenced table is created later (a cycle) or is still to be
// altered is deferred.
func (g *generator) createTables(names, changed []string) {
	added := make(map[string]bool, len(names))
	for _, name := range names {
		added[name] = true
	}
	altered := make(map[string]bool, len(changed))
	for _, name := range changed {
		altered[name] = true
	}

	created := make(map[string]bool, len(names))

	for _, name := range dependencyOrder(names, g.target) {
		t := g.table(name)
		if g.opts.ShellTables {
			g.emitf("CREATE TABLE %s ()", ident(name))
			for _, col := range t.ColumnNames() {
				g.emitf("ALTER TABLE %s ADD COLUMN %s", ident(name), columnDefinition(name, col, t.Columns[col]))
			}
		} else {
			defs := make([]string, 0, len(t.Columns))
			for _, col := range t.ColumnNames() {
				defs = append(defs, "  "+columnDefinition(name, col, t.Columns[col]))
			}
			if len(defs) == 0 {
				g.emitf("CREATE TABLE %s ()", ident(name))
			} else {
				g.emitf("CREATE TABLE %s (\n%s\n)", ident(name), strings.Join(defs, ",\n"))
			}
		}
		created[name] = true

		if pk := t.PrimaryKey(); len(pk) > 0 {
			g.addPrimaryKey(name, pk)
		}
		for _, fk := range sortedForeignKeys(t.ForeignKeys) {
			if (added[fk.ReferenceTable] && !created[fk.ReferenceTable]) || altered[fk.ReferenceTable] {
				g.deferred = append(g.deferred, func() { g.addForeignKey(name, fk) })
				continue
			}
			g.addForeignKey(name, fk)
		}
		if g.opts.Extended {
			if len(t.Policies) > 0 {
				g.refreshPolicies(name, nil, t.Policies)
			}
			g.reconcileGrants(name, tableGrants(t), nil)
		}
	}
}

func (g *generator) alterTable(name string, td *diff.TableDiff) {
	t := g.table(name)

	for _, col := range td.ColumnsAdded {
		if c, ok := t.Columns[col]; ok {
			g.emitf("ALTER TABLE %s ADD COLUMN %s", ident(name), columnDefinition(name, col, c))
		}
	}

	if td.PrimaryKey != nil && len(td.PrimaryKey.From) > 0 {
		g.emitf("ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s", ident(name), ident(PrimaryKeyName(name)))
	}

	for _, col := range td.ChangedColumns() {
		g.alterColumn(name, col, td.ColumnsDiff[col])
	}

	for _, col := range td.ColumnsRemoved {
		g.emitf("ALTER TABLE %s DROP COLUMN %s", ident(name), ident(col))
	}

	if td.PrimaryKey != nil && len(td.PrimaryKey.To) > 0 {
		g.addPrimaryKey(name, td.PrimaryKey.To)
	}

	if !g.opts.Extended {
		return
	}
	if td.Policies != nil {
		g.refreshPolicies(name, td.Policies.From, td.Policies.To)
	}
	grants, revokes := changedGrants(t, td)
	g.reconcileGrants(name, grants, revokes)
}

// dropForeignKeys releases the removed keys of every changed table. Keys
// that referenced a removed table went with its CASCADE drop.
func (g *generator) dropForeignKeys(d *diff.SchemaDiff) {
	gone := make(map[string]bool, len(d.TablesRemoved))
	for _, name := range d.TablesRemoved {
		gone[name] = true
	}
	for _, name := range d.ChangedTables() {
		for _, fk := range sortedForeignKeys(d.TablesDiff[name].ForeignKeysRemoved) {
			if gone[fk.ReferenceTable] {
				continue
			}
			g.dropForeignKey(name, fk.ColumnName)
		}
	}
}

func (g *generator) alterColumn(table, col string, change diff.ColumnChange) {
	from, to := change.From, change.To
	prefix := fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s", ident(table), ident(col))

	if !from.TypeEqual(to) {
		typ := typeName(to)
		g.emitf("%s TYPE %s USING %s::%s", prefix, typ, ident(col), typ)
	}
	if from.IsNullable != to.IsNullable {
		if to.IsNullable {
			g.emitf("%s DROP NOT NULL", prefix)
		} else {
			g.emitf("%s SET NOT NULL", prefix)
		}
	}
	if !equalDefault(from.DefaultValue, to.DefaultValue) {
		if to.DefaultValue == nil {
			g.emitf("%s DROP DEFAULT", prefix)
		} else {
			g.emitf("%s SET DEFAULT %s", prefix, *to.DefaultValue)
		}
	}
}

func (g *generator) addPrimaryKey(table string, cols []string) {
	g.emitf("ALTER TABLE %s ADD PRIMARY KEY (%s)", ident(table), identList(cols))
}

func (g *generator) addForeignKey(table string, fk schema.ForeignKeyInfo) {
	g.emitf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s) ON UPDATE %s ON DELETE %s",
		ident(table),
		ident(ForeignKeyName(table, fk.ColumnName)),
		ident(fk.ColumnName),
		ident(fk.ReferenceTable),
		ident(fk.ReferenceColumn),
		action(fk.UpdateRule),
		action(fk.DeleteRule),
	)
}

func (g *generator) dropForeignKey(table, col string) {
	g.emitf("ALTER TABLE %s DROP CONSTRAINT %s", ident(table), ident(ForeignKeyName(table, col)))
}

// ForeignKeyName is the synthetic constraint name for the key on column.
func ForeignKeyName(table, column string) string {
	return table + "_" + column + "_fkey"
}

// PrimaryKeyName is the constraint name PostgreSQL gives a table's key.
func PrimaryKeyName(table string) string {
	return table + "_pkey"
}

// SequenceName is the sequence a serial column owns.
func SequenceName(table, column string) string {
	return table + "_" + column + "_seq"
}

// SerialDefault is the default a serial column reports once created.
func SerialDefault(table, column string) string {
	return fmt.Sprintf("nextval('%s'::regclass)", strings.ReplaceAll(SequenceName(table, column), "'", "''"))
}

func columnDefinition(table, name string, c *schema.ColumnInfo) string {
	var b strings.Builder
	b.WriteString(ident(name))
	b.WriteByte(' ')

	serial := serialType(table, name, c)
	if serial != "" {
		b.WriteString(serial)
	} else {
		b.WriteString(typeName(c))
	}
	if !c.IsNullable {
		b.WriteString(" NOT NULL")
	}
	if c.DefaultValue != nil && serial == "" {
		b.WriteString(" DEFAULT ")
		b.WriteString(*c.DefaultValue)
	}
	return b.String()
}

// serialType returns the serial pseudo-type for an integer column whose
// default is its own sequence, so that creating it also creates the
// sequence.
func serialType(table, name string, c *schema.ColumnInfo) string {
	if c.DefaultValue == nil || sqlexpr.Canonical(*c.DefaultValue) != sqlexpr.Canonical(SerialDefault(table, name)) {
		return ""
	}
	switch c.Type {
	case "integer":
		return "serial"
	case "bigint":
		return "bigserial"
	case "smallint":
		return "smallserial"
	}
	return ""
}

func typeName(c *schema.ColumnInfo) string {
	if c.MaxLength != nil && schema.SupportsLength(c.Type) {
		return fmt.Sprintf("%s(%d)", c.Type, *c.MaxLength)
	}
	return c.Type
}

func action(a schema.ReferentialAction) string {
	if a == "" {
		return string(schema.NoAction)
	}
	return string(a)
}

func equalDefault(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func identList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = ident(n)
	}
	return strings.Join(quoted, ", ")
}

func sortedForeignKeys(fks []schema.ForeignKeyInfo) []schema.ForeignKeyInfo {
	out := append([]schema.ForeignKeyInfo(nil), fks...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ColumnName < out[j].ColumnName })
	return out
}
