package schema

import "strings"

// canonicalTypes maps Postgres internal names and SQL aliases to the
// spelling information_schema.columns.data_type reports.
var canonicalTypes = map[string]string{
	"int":         "integer",
	"int4":        "integer",
	"integer":     "integer",
	"serial":      "integer",
	"serial4":     "integer",
	"int8":        "bigint",
	"bigint":      "bigint",
	"bigserial":   "bigint",
	"serial8":     "bigint",
	"int2":        "smallint",
	"smallint":    "smallint",
	"smallserial": "smallint",
	"serial2":     "smallint",
	"varchar":     "character varying",
	"char":        "character",
	"bpchar":      "character",
	"bool":        "boolean",
	"float8":      "double precision",
	"float":       "double precision",
	"float4":      "real",
	"decimal":     "numeric",
	"timestamp":   "timestamp without time zone",
	"timestamptz": "timestamp with time zone",
	"time":        "time without time zone",
	"timetz":      "time with time zone",
	"varbit":      "bit varying",
}

// CanonicalType returns the information_schema spelling of a type name.
// Unknown names are lower-cased and passed through. Array types keep their
// "[]" suffix around the canonical element type.
func CanonicalType(name string) string {
	n := strings.ToLower(strings.Join(strings.Fields(name), " "))
	n = strings.TrimPrefix(n, "pg_catalog.")
	if elem, ok := strings.CutSuffix(n, "[]"); ok {
		return CanonicalType(elem) + "[]"
	}
	if c, ok := canonicalTypes[n]; ok {
		return c
	}
	return n
}

// NormalizePermission upper-cases the privilege of a "grantee:PRIVILEGE"
// entry and spells the public pseudo-role the way column_privileges does.
func NormalizePermission(p string) string {
	i := strings.LastIndex(p, ":")
	if i < 0 {
		return p
	}
	grantee, privilege := p[:i], strings.ToUpper(p[i+1:])
	if strings.EqualFold(grantee, PublicRole) {
		grantee = "PUBLIC"
	}
	return grantee + ":" + privilege
}

// IsSerial reports whether name is one of the serial pseudo-types, which
// expand to an integer column with a sequence default.
func IsSerial(name string) bool {
	switch strings.ToLower(name) {
	case "serial", "serial4", "bigserial", "serial8", "smallserial", "serial2":
		return true
	}
	return false
}

// SupportsLength reports whether a canonical type carries a character
// length modifier that information_schema exposes as
// character_maximum_length.
func SupportsLength(canonical string) bool {
	switch canonical {
	case "character varying", "character", "bit", "bit varying":
		return true
	}
	return false
}
