// Package sandbox provides disposable preview databases.
//
// A Sandbox accepts DDL and reports its resulting schema. Three backends
// implement it: memory (an in-process catalog), hybrid (the in-process
// catalog plus a cache of live source connections) and container (a real
// PostgreSQL server in a Docker container).
package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/koustreak/driftbox/internal/errs"
	"github.com/koustreak/driftbox/internal/schema"
)

// Kind names a sandbox backend.
type Kind string

const (
	KindMemory    Kind = "memory"
	KindHybrid    Kind = "hybrid"
	KindContainer Kind = "container"
)

// ParseKind accepts a backend name from configuration.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindMemory, KindHybrid, KindContainer:
		return k, nil
	case "":
		return KindMemory, nil
	}
	return "", errs.Newf(errs.ErrKindInvalidInput, "unknown sandbox backend %q", s)
}

// ApplyOptions controls how a script is applied.
type ApplyOptions struct {
	// Atomic runs every statement in one transaction. The first failure
	// rolls everything back and skips the rest.
	Atomic bool
}

// StatementResult is the outcome of one applied statement.
type StatementResult struct {
	Index     int
	Statement string
	Err       error
	// Skipped is set in atomic mode for statements after a failure.
	Skipped  bool
	Duration time.Duration
}

// OK reports whether the statement ran and succeeded.
func (r StatementResult) OK() bool {
	return r.Err == nil && !r.Skipped
}

// Failures returns the results whose statement failed.
func Failures(results []StatementResult) []StatementResult {
	var out []StatementResult
	for _, r := range results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

// Sandbox is a disposable database a preview runs against.
type Sandbox interface {
	ID() string
	Kind() Kind

	// Apply executes stmts in order. Without opts.Atomic every statement
	// is attempted and failures are only recorded in the results; the
	// returned error is reserved for the sandbox itself failing.
	Apply(ctx context.Context, stmts []string, opts ApplyOptions) ([]StatementResult, error)

	// Introspect reads the sandbox's current schema.
	Introspect(ctx context.Context) (*schema.DatabaseSchema, error)

	// Discard releases everything the sandbox holds. It is idempotent.
	Discard(ctx context.Context) error
}

// Provisioner creates sandboxes of one kind.
type Provisioner interface {
	Kind() Kind
	Provision(ctx context.Context, key string) (Sandbox, error)
}

type execFunc func(ctx context.Context, stmt string) error

// applyBestEffort runs every statement, recording failures and moving on.
func applyBestEffort(ctx context.Context, stmts []string, exec execFunc) ([]StatementResult, error) {
	results := make([]StatementResult, 0, len(stmts))
	for i, stmt := range stmts {
		if err := ctx.Err(); err != nil {
			return results, errs.Wrap(errs.ErrKindTimeout, "apply canceled", err)
		}
		start := time.Now()
		err := exec(ctx, stmt)
		results = append(results, StatementResult{Index: i, Statement: stmt, Err: err, Duration: time.Since(start)})
	}
	return results, nil
}

// applyAtomic stops at the first failure and marks the remaining
// statements skipped. Rolling back is the caller's job.
func applyAtomic(ctx context.Context, stmts []string, exec execFunc) ([]StatementResult, error) {
	results := make([]StatementResult, 0, len(stmts))
	for i, stmt := range stmts {
		start := time.Now()
		err := ctx.Err()
		if err == nil {
			err = exec(ctx, stmt)
		}
		results = append(results, StatementResult{Index: i, Statement: stmt, Err: err, Duration: time.Since(start)})
		if err != nil {
			for j := i + 1; j < len(stmts); j++ {
				results = append(results, StatementResult{Index: j, Statement: stmts[j], Skipped: true})
			}
			return results, errs.Wrap(errs.ErrKindApply, fmt.Sprintf("statement %d failed, nothing applied", i+1), err)
		}
	}
	return results, nil
}

// basic drops what only extended introspection reports, so a sandbox
// answers the same way a live non-extended read would.
func basic(s *schema.DatabaseSchema) *schema.DatabaseSchema {
	for _, t := range s.Tables {
		t.Policies = nil
		for _, c := range t.Columns {
			c.Permissions = nil
		}
	}
	return s
}
