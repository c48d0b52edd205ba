package schema

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalType(t *testing.T) {
	tests := map[string]string{
		"int4":                        "integer",
		"INT":                         "integer",
		"serial":                      "integer",
		"bigserial":                   "bigint",
		"varchar":                     "character varying",
		"character  varying":          "character varying",
		"pg_catalog.bool":             "boolean",
		"timestamptz":                 "timestamp with time zone",
		"timestamp without time zone": "timestamp without time zone",
		"uuid":                        "uuid",
		"JSONB":                       "jsonb",
		"int4[]":                      "integer[]",
		"varbit":                      "bit varying",
		"bit varying":                 "bit varying",
		"_text":                       "_text",
	}
	for in, want := range tests {
		assert.Equal(t, want, CanonicalType(in), in)
	}
}

func TestNormalizePermission(t *testing.T) {
	assert.Equal(t, "app:SELECT", NormalizePermission("app:select"))
	assert.Equal(t, "PUBLIC:UPDATE", NormalizePermission("public:update"))
	assert.Equal(t, "odd", NormalizePermission("odd"))

	s := New()
	s.Table("t").Columns["c"] = &ColumnInfo{Type: "text", Permissions: []string{"public:SELECT", "PUBLIC:SELECT", "app:insert"}}
	s.Normalize()
	assert.Equal(t, []string{"PUBLIC:SELECT", "app:INSERT"}, s.Tables["t"].Columns["c"].Permissions)
}

func TestParseReferentialAction(t *testing.T) {
	assert.Equal(t, Cascade, ParseReferentialAction("cascade"))
	assert.Equal(t, SetNull, ParseReferentialAction("SET_NULL"))
	assert.Equal(t, Restrict, ParseReferentialAction(" restrict "))
	assert.Equal(t, NoAction, ParseReferentialAction(""))
	assert.Equal(t, NoAction, ParseReferentialAction("whatever"))
}

func TestColumnInfo_Equal(t *testing.T) {
	base := &ColumnInfo{Type: "character varying", MaxLength: Ptr(50), IsNullable: true, DefaultValue: Ptr("'x'")}

	tests := []struct {
		name  string
		other *ColumnInfo
		equal bool
	}{
		{"identical copy", base.Clone(), true},
		{"length differs", &ColumnInfo{Type: "character varying", MaxLength: Ptr(60), IsNullable: true, DefaultValue: Ptr("'x'")}, false},
		{"length missing", &ColumnInfo{Type: "character varying", IsNullable: true, DefaultValue: Ptr("'x'")}, false},
		{"default differs", &ColumnInfo{Type: "character varying", MaxLength: Ptr(50), IsNullable: true, DefaultValue: Ptr("'y'")}, false},
		{"nullability differs", &ColumnInfo{Type: "character varying", MaxLength: Ptr(50), DefaultValue: Ptr("'x'")}, false},
		{"pk differs", &ColumnInfo{Type: "character varying", MaxLength: Ptr(50), IsNullable: true, DefaultValue: Ptr("'x'"), IsPrimaryKey: true}, false},
		{"permissions differ", &ColumnInfo{Type: "character varying", MaxLength: Ptr(50), IsNullable: true, DefaultValue: Ptr("'x'"), Permissions: []string{"app:SELECT"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.equal, base.Equal(tt.other))
		})
	}
}

func TestPoliciesEqual(t *testing.T) {
	a := []Policy{{Name: "p", Command: "SELECT", Permissive: true, Roles: []string{"app"}, Using: "true"}}
	b := []Policy{{Name: "p", Command: "SELECT", Permissive: true, Roles: []string{"app"}, Using: "true"}}
	assert.True(t, PoliciesEqual(a, b))

	b[0].Roles = []string{"app", "admin"}
	assert.False(t, PoliciesEqual(a, b))
	assert.True(t, PoliciesEqual(nil, []Policy{}))
}

func TestClone_IsDeep(t *testing.T) {
	s := New()
	users := s.Table("users")
	users.Columns["id"] = &ColumnInfo{Type: "integer", IsPrimaryKey: true, Permissions: []string{"app:SELECT"}}
	users.Policies = []Policy{{Name: "p", Roles: []string{"app"}}}

	c := s.Clone()
	c.Tables["users"].Columns["id"].Permissions[0] = "changed"
	c.Tables["users"].Policies[0].Roles[0] = "changed"
	c.Tables["users"].Columns["id"].Type = "bigint"

	assert.Equal(t, "app:SELECT", users.Columns["id"].Permissions[0])
	assert.Equal(t, "app", users.Policies[0].Roles[0])
	assert.Equal(t, "integer", users.Columns["id"].Type)
}

func TestLoadSnapshot_Normalizes(t *testing.T) {
	s, err := LoadSnapshot("testdata/shop.yaml")
	require.NoError(t, err)

	assert.Equal(t, []string{"orders", "users"}, s.TableNames())

	users := s.Tables["users"]
	assert.Equal(t, "integer", users.Columns["id"].Type)
	assert.Equal(t, "character varying", users.Columns["email"].Type)
	assert.Equal(t, 120, *users.Columns["email"].MaxLength)
	assert.Equal(t, []string{"app:UPDATE", "reporting:SELECT"}, users.Columns["email"].Permissions)
	assert.Equal(t, []string{"id"}, users.PrimaryKey())

	orders := s.Tables["orders"]
	fk, ok := orders.ForeignKey("user_id")
	require.True(t, ok)
	assert.Equal(t, NoAction, fk.UpdateRule)
	assert.Equal(t, Cascade, fk.DeleteRule)
	assert.Equal(t, "SELECT", orders.Policies[0].Command)
}

func TestSnapshot_RoundTripThroughJSONAndYAML(t *testing.T) {
	s, err := LoadSnapshot("testdata/shop.yaml")
	require.NoError(t, err)

	for _, format := range []Format{FormatJSON, FormatYAML} {
		var buf bytes.Buffer
		require.NoError(t, EncodeSnapshot(&buf, s, format))

		decoded, err := DecodeSnapshot(&buf, format)
		require.NoError(t, err)
		assert.Equal(t, s, decoded, string(format))
	}
}
