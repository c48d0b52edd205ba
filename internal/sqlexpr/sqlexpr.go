// Package sqlexpr canonicalizes SQL expression text.
//
// PostgreSQL reports defaults and policy predicates in its own deparsed
// form ("(id = 1)", "'a'::character varying") while the in-memory engine
// and hand-written snapshots spell them differently. Passing every
// expression through the same parse/deparse round trip makes the spellings
// comparable.
package sqlexpr

import (
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/koustreak/driftbox/internal/schema"
)

const selectPrefix = "SELECT "

// Canonical returns the deparsed form of expr. Text that does not parse as
// a single expression is returned trimmed but otherwise unchanged.
func Canonical(expr string) string {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return ""
	}
	tree, err := pg_query.Parse(selectPrefix + expr)
	if err != nil || len(tree.GetStmts()) != 1 {
		return expr
	}
	sel := tree.GetStmts()[0].GetStmt().GetSelectStmt()
	if sel == nil || len(sel.GetTargetList()) != 1 || len(sel.GetFromClause()) != 0 {
		return expr
	}
	out, err := pg_query.Deparse(tree)
	if err != nil || !strings.HasPrefix(out, selectPrefix) {
		return expr
	}
	return strings.TrimPrefix(out, selectPrefix)
}

// Deparse renders an expression node from a parse tree in the same form
// Canonical produces.
func Deparse(expr *pg_query.Node) (string, error) {
	sel := &pg_query.SelectStmt{
		TargetList: []*pg_query.Node{
			{Node: &pg_query.Node_ResTarget{ResTarget: &pg_query.ResTarget{Val: expr}}},
		},
		Op:          pg_query.SetOperation_SETOP_NONE,
		LimitOption: pg_query.LimitOption_LIMIT_OPTION_DEFAULT,
	}
	tree := &pg_query.ParseResult{
		Stmts: []*pg_query.RawStmt{{Stmt: &pg_query.Node{Node: &pg_query.Node_SelectStmt{SelectStmt: sel}}}},
	}
	out, err := pg_query.Deparse(tree)
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(out, selectPrefix), nil
}

// NormalizeSchema canonicalizes every default and policy expression of s in
// place and returns it.
func NormalizeSchema(s *schema.DatabaseSchema) *schema.DatabaseSchema {
	if s == nil {
		return nil
	}
	for _, t := range s.Tables {
		for _, c := range t.Columns {
			if c.DefaultValue != nil {
				v := Canonical(*c.DefaultValue)
				c.DefaultValue = &v
			}
		}
		for i := range t.Policies {
			t.Policies[i].Using = Canonical(t.Policies[i].Using)
			t.Policies[i].WithCheck = Canonical(t.Policies[i].WithCheck)
		}
	}
	return s
}
