package schema

import (
	"sort"
	"strings"
)

// ReferentialAction is the ON UPDATE / ON DELETE behaviour of a foreign key.
type ReferentialAction string

const (
	NoAction   ReferentialAction = "NO ACTION"
	Cascade    ReferentialAction = "CASCADE"
	SetNull    ReferentialAction = "SET NULL"
	SetDefault ReferentialAction = "SET DEFAULT"
	Restrict   ReferentialAction = "RESTRICT"
)

// ParseReferentialAction normalises the spellings drivers report
// ("no action", "NO_ACTION", "") to a ReferentialAction.
func ParseReferentialAction(s string) ReferentialAction {
	norm := strings.ToUpper(strings.TrimSpace(strings.ReplaceAll(s, "_", " ")))
	switch ReferentialAction(norm) {
	case Cascade, SetNull, SetDefault, Restrict:
		return ReferentialAction(norm)
	default:
		return NoAction
	}
}

// ColumnInfo describes a single column. Identity is the column name, which
// is the key in TableInfo.Columns.
type ColumnInfo struct {
	Type         string   `json:"type" yaml:"type"`
	MaxLength    *int     `json:"maxLength,omitempty" yaml:"maxLength,omitempty"`
	IsNullable   bool     `json:"isNullable" yaml:"isNullable"`
	DefaultValue *string  `json:"defaultValue,omitempty" yaml:"defaultValue,omitempty"`
	IsPrimaryKey bool     `json:"isPrimaryKey" yaml:"isPrimaryKey"`
	Permissions  []string `json:"permissions,omitempty" yaml:"permissions,omitempty"`
}

// ForeignKeyInfo describes a single-column foreign key. A table holds at
// most one per column.
type ForeignKeyInfo struct {
	ColumnName      string            `json:"columnName" yaml:"columnName"`
	ReferenceTable  string            `json:"referenceTable" yaml:"referenceTable"`
	ReferenceColumn string            `json:"referenceColumn" yaml:"referenceColumn"`
	UpdateRule      ReferentialAction `json:"updateRule" yaml:"updateRule"`
	DeleteRule      ReferentialAction `json:"deleteRule" yaml:"deleteRule"`
}

// PublicRole is the pseudo-role a policy applies to when no role is named.
const PublicRole = "public"

// Policy is a row-level-security policy.
type Policy struct {
	Name       string   `json:"name" yaml:"name"`
	Command    string   `json:"command" yaml:"command"` // ALL, SELECT, INSERT, UPDATE, DELETE
	Permissive bool     `json:"permissive" yaml:"permissive"`
	Roles      []string `json:"roles,omitempty" yaml:"roles,omitempty"`
	Using      string   `json:"using,omitempty" yaml:"using,omitempty"`
	WithCheck  string   `json:"withCheck,omitempty" yaml:"withCheck,omitempty"`
}

// TableInfo describes a table, its columns, foreign keys and policies.
type TableInfo struct {
	Columns     map[string]*ColumnInfo `json:"columns" yaml:"columns"`
	ForeignKeys []ForeignKeyInfo       `json:"foreignKeys,omitempty" yaml:"foreignKeys,omitempty"`
	Policies    []Policy               `json:"policies,omitempty" yaml:"policies,omitempty"`
}

// NewTable returns an empty table.
func NewTable() *TableInfo {
	return &TableInfo{Columns: make(map[string]*ColumnInfo)}
}

// ColumnNames returns the column names in lexical order.
func (t *TableInfo) ColumnNames() []string {
	return sortedKeys(t.Columns)
}

// PrimaryKey returns the primary-key column names in lexical order.
func (t *TableInfo) PrimaryKey() []string {
	var pk []string
	for _, name := range t.ColumnNames() {
		if t.Columns[name].IsPrimaryKey {
			pk = append(pk, name)
		}
	}
	return pk
}

// ForeignKey returns the foreign key declared on column, if any.
func (t *TableInfo) ForeignKey(column string) (ForeignKeyInfo, bool) {
	for _, fk := range t.ForeignKeys {
		if fk.ColumnName == column {
			return fk, true
		}
	}
	return ForeignKeyInfo{}, false
}

// DatabaseSchema maps table name to table.
type DatabaseSchema struct {
	Tables map[string]*TableInfo `json:"tables" yaml:"tables"`
}

// New returns an empty schema.
func New() *DatabaseSchema {
	return &DatabaseSchema{Tables: make(map[string]*TableInfo)}
}

// TableNames returns the table names in lexical order.
func (s *DatabaseSchema) TableNames() []string {
	if s == nil {
		return nil
	}
	return sortedKeys(s.Tables)
}

// Table returns the named table, creating it when absent.
func (s *DatabaseSchema) Table(name string) *TableInfo {
	if s.Tables == nil {
		s.Tables = make(map[string]*TableInfo)
	}
	t, ok := s.Tables[name]
	if !ok {
		t = NewTable()
		s.Tables[name] = t
	}
	return t
}

// Normalize sorts the order-insensitive lists (foreign keys, policies,
// permissions, roles) so that structurally equal schemas compare equal
// regardless of the order a driver returned rows in.
func (s *DatabaseSchema) Normalize() *DatabaseSchema {
	if s == nil {
		return New()
	}
	if s.Tables == nil {
		s.Tables = make(map[string]*TableInfo)
	}
	for _, t := range s.Tables {
		if t.Columns == nil {
			t.Columns = make(map[string]*ColumnInfo)
		}
		for _, c := range t.Columns {
			c.Type = CanonicalType(c.Type)
			c.Permissions = normalizePermissions(c.Permissions)
		}
		for i := range t.ForeignKeys {
			fk := &t.ForeignKeys[i]
			fk.UpdateRule = ParseReferentialAction(string(fk.UpdateRule))
			fk.DeleteRule = ParseReferentialAction(string(fk.DeleteRule))
		}
		sort.Slice(t.ForeignKeys, func(i, j int) bool {
			return t.ForeignKeys[i].ColumnName < t.ForeignKeys[j].ColumnName
		})
		for i := range t.Policies {
			p := &t.Policies[i]
			if len(p.Roles) == 0 {
				p.Roles = []string{PublicRole}
			}
			sort.Strings(p.Roles)
			p.Command = strings.ToUpper(p.Command)
			if p.Command == "" {
				p.Command = "ALL"
			}
		}
		sort.Slice(t.Policies, func(i, j int) bool {
			return t.Policies[i].Name < t.Policies[j].Name
		})
		if len(t.ForeignKeys) == 0 {
			t.ForeignKeys = nil
		}
		if len(t.Policies) == 0 {
			t.Policies = nil
		}
	}
	return s
}

// Clone returns a deep copy of the schema.
func (s *DatabaseSchema) Clone() *DatabaseSchema {
	out := New()
	if s == nil {
		return out
	}
	for name, t := range s.Tables {
		out.Tables[name] = t.Clone()
	}
	return out
}

// Clone returns a deep copy of the table.
func (t *TableInfo) Clone() *TableInfo {
	out := NewTable()
	for name, c := range t.Columns {
		out.Columns[name] = c.Clone()
	}
	out.ForeignKeys = append([]ForeignKeyInfo(nil), t.ForeignKeys...)
	for _, p := range t.Policies {
		p.Roles = append([]string(nil), p.Roles...)
		out.Policies = append(out.Policies, p)
	}
	return out
}

// Clone returns a deep copy of the column.
func (c *ColumnInfo) Clone() *ColumnInfo {
	out := *c
	if c.MaxLength != nil {
		n := *c.MaxLength
		out.MaxLength = &n
	}
	if c.DefaultValue != nil {
		d := *c.DefaultValue
		out.DefaultValue = &d
	}
	out.Permissions = append([]string(nil), c.Permissions...)
	if len(out.Permissions) == 0 {
		out.Permissions = nil
	}
	return &out
}

func normalizePermissions(perms []string) []string {
	if len(perms) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(perms))
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		p = NormalizePermission(p)
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Ptr returns a pointer to v. Handy for MaxLength and DefaultValue literals.
func Ptr[T any](v T) *T {
	return &v
}
