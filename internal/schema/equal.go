package schema

import "slices"

// Equal reports whether two columns are structurally identical over every
// tracked field. Permissions are compared as ordered lists; Normalize sorts
// them first.
func (c *ColumnInfo) Equal(o *ColumnInfo) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.Type == o.Type &&
		equalPtr(c.MaxLength, o.MaxLength) &&
		c.IsNullable == o.IsNullable &&
		equalPtr(c.DefaultValue, o.DefaultValue) &&
		c.IsPrimaryKey == o.IsPrimaryKey &&
		slices.Equal(c.Permissions, o.Permissions)
}

// TypeEqual reports whether type and length agree.
func (c *ColumnInfo) TypeEqual(o *ColumnInfo) bool {
	return c.Type == o.Type && equalPtr(c.MaxLength, o.MaxLength)
}

// Equal compares every field of the foreign key.
func (fk ForeignKeyInfo) Equal(o ForeignKeyInfo) bool {
	return fk == o
}

// Equal compares every field of the policy.
func (p Policy) Equal(o Policy) bool {
	return p.Name == o.Name &&
		p.Command == o.Command &&
		p.Permissive == o.Permissive &&
		slices.Equal(p.Roles, o.Roles) &&
		p.Using == o.Using &&
		p.WithCheck == o.WithCheck
}

// PoliciesEqual is whole-list equality.
func PoliciesEqual(a, b []Policy) bool {
	return slices.EqualFunc(a, b, Policy.Equal)
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
