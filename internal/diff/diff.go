// Package diff computes the structural difference between two schemas.
//
// Compare is pure and deterministic: every list in the result is sorted, and
// no result depends on map iteration order.
package diff

import (
	"fmt"
	"slices"
	"sort"

	"github.com/koustreak/driftbox/internal/schema"
)

// ColumnChange records both sides of a column that exists in source and
// target but differs in at least one field.
type ColumnChange struct {
	From *schema.ColumnInfo `json:"from" yaml:"from"`
	To   *schema.ColumnInfo `json:"to" yaml:"to"`
}

// PolicyChange replaces the whole policy list of a table.
type PolicyChange struct {
	From []schema.Policy `json:"from" yaml:"from"`
	To   []schema.Policy `json:"to" yaml:"to"`
}

// KeyChange records the primary-key column set on both sides.
type KeyChange struct {
	From []string `json:"from" yaml:"from"`
	To   []string `json:"to" yaml:"to"`
}

// TableDiff is the delta of one table present on both sides.
type TableDiff struct {
	ColumnsAdded       []string                `json:"columnsAdded,omitempty" yaml:"columnsAdded,omitempty"`
	ColumnsRemoved     []string                `json:"columnsRemoved,omitempty" yaml:"columnsRemoved,omitempty"`
	ColumnsDiff        map[string]ColumnChange `json:"columnsDiff,omitempty" yaml:"columnsDiff,omitempty"`
	ForeignKeysAdded   []schema.ForeignKeyInfo `json:"foreignKeysAdded,omitempty" yaml:"foreignKeysAdded,omitempty"`
	ForeignKeysRemoved []schema.ForeignKeyInfo `json:"foreignKeysRemoved,omitempty" yaml:"foreignKeysRemoved,omitempty"`
	Policies           *PolicyChange           `json:"policies,omitempty" yaml:"policies,omitempty"`

	// PrimaryKey is set when the key column set differs. It never appears on
	// its own: a key change always shows up as a column change as well.
	PrimaryKey *KeyChange `json:"primaryKey,omitempty" yaml:"primaryKey,omitempty"`
}

// IsEmpty reports whether the table diff carries no change.
func (d *TableDiff) IsEmpty() bool {
	return d == nil ||
		len(d.ColumnsAdded) == 0 &&
			len(d.ColumnsRemoved) == 0 &&
			len(d.ColumnsDiff) == 0 &&
			len(d.ForeignKeysAdded) == 0 &&
			len(d.ForeignKeysRemoved) == 0 &&
			d.Policies == nil
}

// ChangedColumns returns the keys of ColumnsDiff in lexical order.
func (d *TableDiff) ChangedColumns() []string {
	names := make([]string, 0, len(d.ColumnsDiff))
	for name := range d.ColumnsDiff {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SchemaDiff is the delta between a source and a target schema.
type SchemaDiff struct {
	TablesAdded   []string              `json:"tablesAdded" yaml:"tablesAdded"`
	TablesRemoved []string              `json:"tablesRemoved" yaml:"tablesRemoved"`
	TablesDiff    map[string]*TableDiff `json:"tablesDiff" yaml:"tablesDiff"`
}

// IsEmpty reports whether source and target were structurally identical.
func (d *SchemaDiff) IsEmpty() bool {
	return d == nil || len(d.TablesAdded) == 0 && len(d.TablesRemoved) == 0 && len(d.TablesDiff) == 0
}

// ChangedTables returns the keys of TablesDiff in lexical order.
func (d *SchemaDiff) ChangedTables() []string {
	names := make([]string, 0, len(d.TablesDiff))
	for name := range d.TablesDiff {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Summary is a one-line count of the changes, for logs and the CLI.
func (d *SchemaDiff) Summary() string {
	if d.IsEmpty() {
		return "no changes"
	}
	var cols, fks, pols int
	for _, td := range d.TablesDiff {
		cols += len(td.ColumnsAdded) + len(td.ColumnsRemoved) + len(td.ColumnsDiff)
		fks += len(td.ForeignKeysAdded) + len(td.ForeignKeysRemoved)
		if td.Policies != nil {
			pols++
		}
	}
	return fmt.Sprintf("%d table(s) added, %d removed, %d changed (%d column, %d foreign key, %d policy change(s))",
		len(d.TablesAdded), len(d.TablesRemoved), len(d.TablesDiff), cols, fks, pols)
}

// Compare returns the diff that turns source into target. A nil schema is
// treated as empty.
func Compare(source, target *schema.DatabaseSchema) *SchemaDiff {
	if source == nil {
		source = schema.New()
	}
	if target == nil {
		target = schema.New()
	}

	d := &SchemaDiff{
		TablesAdded:   []string{},
		TablesRemoved: []string{},
		TablesDiff:    map[string]*TableDiff{},
	}

	for _, name := range target.TableNames() {
		if _, ok := source.Tables[name]; !ok {
			d.TablesAdded = append(d.TablesAdded, name)
		}
	}
	for _, name := range source.TableNames() {
		to, ok := target.Tables[name]
		if !ok {
			d.TablesRemoved = append(d.TablesRemoved, name)
			continue
		}
		if td := compareTables(source.Tables[name], to); !td.IsEmpty() {
			d.TablesDiff[name] = td
		}
	}
	return d
}

func compareTables(from, to *schema.TableInfo) *TableDiff {
	td := &TableDiff{}

	for _, name := range to.ColumnNames() {
		if _, ok := from.Columns[name]; !ok {
			td.ColumnsAdded = append(td.ColumnsAdded, name)
		}
	}
	for _, name := range from.ColumnNames() {
		toCol, ok := to.Columns[name]
		if !ok {
			td.ColumnsRemoved = append(td.ColumnsRemoved, name)
			continue
		}
		fromCol := from.Columns[name]
		if !fromCol.Equal(toCol) {
			if td.ColumnsDiff == nil {
				td.ColumnsDiff = make(map[string]ColumnChange)
			}
			td.ColumnsDiff[name] = ColumnChange{From: fromCol.Clone(), To: toCol.Clone()}
		}
	}

	td.ForeignKeysAdded = fkDifference(to.ForeignKeys, from.ForeignKeys)
	td.ForeignKeysRemoved = fkDifference(from.ForeignKeys, to.ForeignKeys)

	if fromPK, toPK := from.PrimaryKey(), to.PrimaryKey(); !slices.Equal(fromPK, toPK) {
		td.PrimaryKey = &KeyChange{From: fromPK, To: toPK}
	}

	if !schema.PoliciesEqual(from.Policies, to.Policies) {
		td.Policies = &PolicyChange{
			From: append([]schema.Policy(nil), from.Policies...),
			To:   append([]schema.Policy(nil), to.Policies...),
		}
	}
	return td
}

// fkDifference returns the keys of a that have no structurally equal
// counterpart in b, sorted by column name.
func fkDifference(a, b []schema.ForeignKeyInfo) []schema.ForeignKeyInfo {
	var out []schema.ForeignKeyInfo
	for _, fk := range a {
		found := false
		for _, other := range b {
			if fk.Equal(other) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, fk)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ColumnName < out[j].ColumnName })
	return out
}
