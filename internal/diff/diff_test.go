package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/driftbox/internal/schema"
)

func usersSource() *schema.DatabaseSchema {
	s := schema.New()
	users := s.Table("users")
	users.Columns["id"] = &schema.ColumnInfo{Type: "integer", IsPrimaryKey: true}
	users.Columns["name"] = &schema.ColumnInfo{Type: "text", IsNullable: true}
	return s
}

func usersTarget() *schema.DatabaseSchema {
	s := schema.New()
	users := s.Table("users")
	users.Columns["id"] = &schema.ColumnInfo{Type: "integer", IsPrimaryKey: true}
	users.Columns["name"] = &schema.ColumnInfo{Type: "character varying", MaxLength: schema.Ptr(50), IsNullable: true}
	users.Columns["email"] = &schema.ColumnInfo{Type: "text", IsNullable: true}
	return s
}

func shop() *schema.DatabaseSchema {
	s := usersTarget()
	orders := s.Table("orders")
	orders.Columns["id"] = &schema.ColumnInfo{Type: "integer", IsPrimaryKey: true}
	orders.Columns["user_id"] = &schema.ColumnInfo{Type: "integer", IsNullable: true}
	orders.ForeignKeys = []schema.ForeignKeyInfo{{
		ColumnName: "user_id", ReferenceTable: "users", ReferenceColumn: "id",
		UpdateRule: schema.NoAction, DeleteRule: schema.Cascade,
	}}
	orders.Policies = []schema.Policy{{Name: "own", Command: "SELECT", Permissive: true, Roles: []string{"app"}, Using: "true"}}
	return s
}

func TestCompare_Reflexive(t *testing.T) {
	for name, s := range map[string]*schema.DatabaseSchema{
		"empty": schema.New(),
		"users": usersSource(),
		"shop":  shop(),
	} {
		t.Run(name, func(t *testing.T) {
			d := Compare(s, s.Clone())
			assert.True(t, d.IsEmpty())
			assert.Empty(t, d.TablesAdded)
			assert.Empty(t, d.TablesRemoved)
			assert.Empty(t, d.TablesDiff)
		})
	}
}

func TestCompare_FromEmpty(t *testing.T) {
	d := Compare(schema.New(), shop())

	assert.Equal(t, []string{"orders", "users"}, d.TablesAdded)
	assert.Empty(t, d.TablesRemoved)
	assert.Empty(t, d.TablesDiff)
}

func TestCompare_NilIsEmpty(t *testing.T) {
	d := Compare(nil, usersSource())
	assert.Equal(t, []string{"users"}, d.TablesAdded)

	d = Compare(usersSource(), nil)
	assert.Equal(t, []string{"users"}, d.TablesRemoved)
}

func TestCompare_DisjointSchemas(t *testing.T) {
	a := schema.New()
	a.Table("alpha").Columns["id"] = &schema.ColumnInfo{Type: "integer"}
	b := schema.New()
	b.Table("beta").Columns["id"] = &schema.ColumnInfo{Type: "integer"}

	d := Compare(a, b)
	assert.Equal(t, []string{"beta"}, d.TablesAdded)
	assert.Equal(t, []string{"alpha"}, d.TablesRemoved)
	assert.Empty(t, d.TablesDiff)
}

func TestCompare_UsersExample(t *testing.T) {
	d := Compare(usersSource(), usersTarget())

	require.Contains(t, d.TablesDiff, "users")
	td := d.TablesDiff["users"]
	assert.Equal(t, []string{"email"}, td.ColumnsAdded)
	assert.Empty(t, td.ColumnsRemoved)
	require.Contains(t, td.ColumnsDiff, "name")

	change := td.ColumnsDiff["name"]
	assert.Equal(t, "text", change.From.Type)
	assert.Nil(t, change.From.MaxLength)
	assert.Equal(t, "character varying", change.To.Type)
	assert.Equal(t, 50, *change.To.MaxLength)
	assert.Equal(t, []string{"name"}, td.ChangedColumns())
}

func TestCompare_ColumnFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *schema.ColumnInfo)
	}{
		{"nullability", func(c *schema.ColumnInfo) { c.IsNullable = false }},
		{"default", func(c *schema.ColumnInfo) { c.DefaultValue = schema.Ptr("'anon'::text") }},
		{"primary key", func(c *schema.ColumnInfo) { c.IsPrimaryKey = true }},
		{"permissions", func(c *schema.ColumnInfo) { c.Permissions = []string{"app:SELECT"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := usersSource()
			tt.mutate(target.Tables["users"].Columns["name"])

			d := Compare(usersSource(), target)
			require.Contains(t, d.TablesDiff, "users")
			assert.Equal(t, []string{"name"}, d.TablesDiff["users"].ChangedColumns())
		})
	}
}

func TestCompare_ForeignKeysAsSets(t *testing.T) {
	source := shop()
	target := shop()

	// Same keys in a different order are not a change.
	target.Tables["orders"].Columns["buyer_id"] = &schema.ColumnInfo{Type: "integer", IsNullable: true}
	source.Tables["orders"].Columns["buyer_id"] = &schema.ColumnInfo{Type: "integer", IsNullable: true}
	buyer := schema.ForeignKeyInfo{ColumnName: "buyer_id", ReferenceTable: "users", ReferenceColumn: "id", UpdateRule: schema.NoAction, DeleteRule: schema.NoAction}
	source.Tables["orders"].ForeignKeys = append(source.Tables["orders"].ForeignKeys, buyer)
	target.Tables["orders"].ForeignKeys = append([]schema.ForeignKeyInfo{buyer}, target.Tables["orders"].ForeignKeys...)
	assert.True(t, Compare(source, target).IsEmpty())

	// A changed rule is reported as remove + add of the whole key.
	target.Tables["orders"].ForeignKeys[1].DeleteRule = schema.SetNull
	d := Compare(source, target)
	require.Contains(t, d.TablesDiff, "orders")
	td := d.TablesDiff["orders"]
	require.Len(t, td.ForeignKeysAdded, 1)
	require.Len(t, td.ForeignKeysRemoved, 1)
	assert.Equal(t, schema.SetNull, td.ForeignKeysAdded[0].DeleteRule)
	assert.Equal(t, schema.Cascade, td.ForeignKeysRemoved[0].DeleteRule)
	assert.Empty(t, td.ColumnsDiff)
}

func TestCompare_PoliciesWholeList(t *testing.T) {
	source := shop()
	target := shop()
	target.Tables["orders"].Policies = append(target.Tables["orders"].Policies,
		schema.Policy{Name: "insert_own", Command: "INSERT", Permissive: true, WithCheck: "true"})

	d := Compare(source, target)
	require.Contains(t, d.TablesDiff, "orders")
	pc := d.TablesDiff["orders"].Policies
	require.NotNil(t, pc)
	assert.Len(t, pc.From, 1)
	assert.Len(t, pc.To, 2)
}

func TestSchemaDiff_Summary(t *testing.T) {
	assert.Equal(t, "no changes", Compare(shop(), shop()).Summary())
	assert.Equal(t,
		"0 table(s) added, 0 removed, 1 changed (2 column, 0 foreign key, 0 policy change(s))",
		Compare(usersSource(), usersTarget()).Summary())
}

func TestCompare_PrimaryKeyChange(t *testing.T) {
	source := usersSource()
	target := usersSource()
	target.Tables["users"].Columns["name"].IsPrimaryKey = true
	target.Tables["users"].Columns["name"].IsNullable = false

	td := Compare(source, target).TablesDiff["users"]
	require.NotNil(t, td)
	require.NotNil(t, td.PrimaryKey)
	assert.Equal(t, []string{"id"}, td.PrimaryKey.From)
	assert.Equal(t, []string{"id", "name"}, td.PrimaryKey.To)

	// Dropping a key column is a key change even though no remaining column changed.
	target = usersSource()
	delete(target.Tables["users"].Columns, "id")
	td = Compare(source, target).TablesDiff["users"]
	require.NotNil(t, td)
	assert.Equal(t, []string{"id"}, td.ColumnsRemoved)
	assert.Nil(t, td.PrimaryKey.To)
}
