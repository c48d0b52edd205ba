package memdb

import (
	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/koustreak/driftbox/internal/errs"
	"github.com/koustreak/driftbox/internal/schema"
	"github.com/koustreak/driftbox/internal/sqlexpr"
)

func relationName(rv *pg_query.RangeVar) (string, error) {
	if rv == nil {
		return "", errs.New(errs.ErrKindQueryFailed, "statement names no relation")
	}
	if ns := rv.GetSchemaname(); ns != "" && ns != defaultNamespace {
		return "", errs.Newf(errs.ErrKindQueryFailed, "schema %q does not exist", ns)
	}
	return rv.GetRelname(), nil
}

// qualifiedName resolves a dotted name list such as [public, users].
func qualifiedName(names []string) (string, error) {
	switch len(names) {
	case 1:
		return names[0], nil
	case 2:
		if names[0] != defaultNamespace {
			return "", errs.Newf(errs.ErrKindQueryFailed, "schema %q does not exist", names[0])
		}
		return names[1], nil
	}
	return "", errs.Newf(errs.ErrKindQueryFailed, "improper qualified name %v", names)
}

func stringList(nodes []*pg_query.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if s := n.GetString_(); s != nil {
			out = append(out, s.GetSval())
		}
	}
	return out
}

// typeOf returns the canonical type, the length modifier for character
// types, and whether the name was a serial pseudo-type.
func typeOf(tn *pg_query.TypeName) (typ string, length *int, serial bool) {
	names := stringList(tn.GetNames())
	if len(names) == 0 {
		return "", nil, false
	}
	last := names[len(names)-1]
	serial = schema.IsSerial(last)
	typ = schema.CanonicalType(last)

	if mods := tn.GetTypmods(); len(mods) > 0 && schema.SupportsLength(typ) {
		if ival := mods[0].GetAConst().GetIval(); ival != nil {
			n := int(ival.GetIval())
			length = &n
		}
	}
	if len(tn.GetArrayBounds()) > 0 {
		typ += "[]"
	}
	return typ, length, serial
}

func roleName(spec *pg_query.RoleSpec, public string) string {
	switch spec.GetRoletype() {
	case pg_query.RoleSpecType_ROLESPEC_PUBLIC:
		return public
	case pg_query.RoleSpecType_ROLESPEC_CURRENT_USER:
		return "current_user"
	case pg_query.RoleSpecType_ROLESPEC_CURRENT_ROLE:
		return "current_role"
	case pg_query.RoleSpecType_ROLESPEC_SESSION_USER:
		return "session_user"
	}
	return spec.GetRolename()
}

// referentialAction decodes the single-letter action codes of a parsed
// foreign key.
func referentialAction(code string) schema.ReferentialAction {
	switch code {
	case "c":
		return schema.Cascade
	case "n":
		return schema.SetNull
	case "d":
		return schema.SetDefault
	case "r":
		return schema.Restrict
	}
	return schema.NoAction
}

func deparse(expr *pg_query.Node) (string, error) {
	out, err := sqlexpr.Deparse(expr)
	if err != nil {
		return "", errs.Wrap(errs.ErrKindQueryFailed, "deparse expression", err)
	}
	return out, nil
}
