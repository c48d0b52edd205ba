// Package validate checks a candidate DDL script before it is applied.
//
// Every statement is parsed with the PostgreSQL grammar and scanned against a
// deny-list of destructive operations. Validation is exhaustive: a failing
// statement is recorded and the remaining statements are still checked.
package validate

import (
	"fmt"
	"regexp"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// Severity ranks a problem. Both severities currently make a script invalid.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Kind classifies a problem.
type Kind string

const (
	KindSyntax      Kind = "syntax"
	KindDenied      Kind = "denied"
	KindDestructive Kind = "destructive"
)

// Problem is one reason a statement was rejected.
type Problem struct {
	Index     int      `json:"index"`
	Statement string   `json:"statement"`
	Severity  Severity `json:"severity"`
	Kind      Kind     `json:"kind"`
	Message   string   `json:"message"`
}

func (p Problem) String() string {
	return fmt.Sprintf("statement %d (%s): %s: %s", p.Index+1, p.Severity, p.Message, abbreviate(p.Statement))
}

// Result is the outcome of validating a script.
type Result struct {
	Valid      bool      `json:"valid"`
	Errors     []Problem `json:"errors"`
	Statements []string  `json:"statements"`
}

// Messages returns one human-readable line per problem.
func (r *Result) Messages() []string {
	out := make([]string, len(r.Errors))
	for i, p := range r.Errors {
		out[i] = p.String()
	}
	return out
}

var (
	denied      = regexp.MustCompile(`(?i)\bDROP\s+(DATABASE|SCHEMA)\b`)
	destructive = regexp.MustCompile(`(?i)\bTRUNCATE\b`)
)

// Validate splits script into statements and checks each one.
func Validate(script string) *Result {
	stmts := Split(script)
	r := &Result{Errors: []Problem{}, Statements: stmts}

	for i, stmt := range stmts {
		if _, err := pg_query.Parse(stmt); err != nil {
			r.Errors = append(r.Errors, Problem{
				Index: i, Statement: stmt, Severity: SeverityError, Kind: KindSyntax,
				Message: err.Error(),
			})
		}
		if m := denied.FindString(stmt); m != "" {
			r.Errors = append(r.Errors, Problem{
				Index: i, Statement: stmt, Severity: SeverityError, Kind: KindDenied,
				Message: strings.ToUpper(strings.Join(strings.Fields(m), " ")) + " is not allowed",
			})
		}
		if destructive.MatchString(stmt) {
			r.Errors = append(r.Errors, Problem{
				Index: i, Statement: stmt, Severity: SeverityWarning, Kind: KindDestructive,
				Message: "TRUNCATE discards data",
			})
		}
	}

	r.Valid = len(r.Errors) == 0
	return r
}

// Split breaks a script into trimmed statements without their trailing
// semicolons. The PostgreSQL scanner is used so that semicolons inside
// literals do not split; text the scanner rejects falls back to a plain
// split on ';'.
func Split(script string) []string {
	parts, err := pg_query.SplitWithScanner(script, true)
	if err != nil {
		parts = strings.Split(script, ";")
	}

	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(p), ";"))
		if p != "" {
			stmts = append(stmts, p)
		}
	}
	return stmts
}

func abbreviate(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 80 {
		return s[:77] + "..."
	}
	return s
}
