// Package preview dry-runs a migration in a user's sandbox.
//
// A preview leases the user's sandbox, converges it onto the source
// schema, applies the candidate script (supplied or synthesized), and
// diffs the result against the target. An empty verification diff means
// the candidate fully reconciles source and target. Any failure releases
// the sandbox before the error is returned.
package preview

import (
	"context"
	"strings"
	"time"

	"github.com/koustreak/driftbox/internal/ddl"
	"github.com/koustreak/driftbox/internal/diff"
	"github.com/koustreak/driftbox/internal/errs"
	"github.com/koustreak/driftbox/internal/introspect"
	"github.com/koustreak/driftbox/internal/logger"
	"github.com/koustreak/driftbox/internal/registry"
	"github.com/koustreak/driftbox/internal/sandbox"
	"github.com/koustreak/driftbox/internal/schema"
	"github.com/koustreak/driftbox/internal/validate"
)

// State is a step of the preview state machine.
type State string

const (
	StateIdle             State = "idle"
	StateSandboxAcquired  State = "sandbox_acquired"
	StateSourceSeeded     State = "source_seeded"
	StateCandidateApplied State = "candidate_applied"
	StateVerified         State = "verified"
	StateFailed           State = "failed"
)

// Request asks for one preview.
type Request struct {
	// Key identifies the user; each key owns at most one sandbox.
	Key    string
	Source introspect.Descriptor
	Target introspect.Descriptor

	// Script is an optional candidate migration. When empty, the script is
	// synthesized from diff(source, target).
	Script string

	// Atomic applies seed and candidate each in a single transaction.
	Atomic bool
}

// Result reports how far a preview got and what it found.
type Result struct {
	State     State  `json:"state"`
	SandboxID string `json:"sandbox_id,omitempty"`
	Reused    bool   `json:"reused"`

	SeedScript []string                  `json:"seed_script,omitempty"`
	Script     []string                  `json:"script,omitempty"`
	Statements []sandbox.StatementResult `json:"-"`

	// Diff is sandbox versus target after the candidate ran.
	Diff      *diff.SchemaDiff   `json:"diff,omitempty"`
	Converged bool               `json:"converged"`
	Problems  []validate.Problem `json:"problems,omitempty"`

	Duration time.Duration `json:"duration"`
}

// Failed returns the statements of the candidate that did not apply.
func (r *Result) Failed() []sandbox.StatementResult {
	return sandbox.Failures(r.Statements)
}

// Options are defaults for every preview an Orchestrator runs.
type Options struct {
	// Extended carries policies and grants through introspection and DDL.
	Extended bool
	// ShellTables synthesizes added tables as empty shells plus ALTERs.
	ShellTables bool
	// Atomic is the default for Request.Atomic.
	Atomic bool
}

// Orchestrator runs previews against sandboxes from a registry.
type Orchestrator struct {
	reg      *registry.Registry
	resolver introspect.Resolver
	opts     Options
	log      *logger.Logger
}

// New returns an Orchestrator. resolver may be nil; its Extended flag is
// overridden by opts.Extended, and its Connector by sandboxes that offer
// one.
func New(reg *registry.Registry, resolver *introspect.Resolver, opts Options, log *logger.Logger) *Orchestrator {
	o := &Orchestrator{reg: reg, opts: opts, log: log}
	if resolver != nil {
		o.resolver = *resolver
	}
	o.resolver.Extended = opts.Extended
	if o.log == nil {
		o.log = logger.Nop()
	}
	return o
}

// Preview runs req to completion. On failure the returned Result carries
// StateFailed and whatever was learned before the failing step.
//
// A supplied script is validated before any sandbox is leased, so a rejected
// script never reaches a database. The user's existing sandbox, if any, is
// still released: every failed preview leaves the user without one.
func (o *Orchestrator) Preview(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	res := &Result{State: StateIdle}
	log := o.log.With().Str("user", req.Key).Logger()

	if strings.TrimSpace(req.Key) == "" {
		res.State = StateFailed
		return res, errs.New(errs.ErrKindInvalidInput, "preview needs a user key")
	}

	var candidate []string
	if strings.TrimSpace(req.Script) != "" {
		v := validate.Validate(req.Script)
		if !v.Valid {
			res.State = StateFailed
			res.Problems = v.Errors
			if err := o.reg.Release(ctx, req.Key); err != nil {
				log.WarnWith("release after rejected script", err, nil)
			}
			log.WarnWith("candidate script rejected", nil, map[string]interface{}{"problems": len(v.Errors)})
			return res, errs.WithDetails(errs.ErrKindValidation, "candidate script rejected", v.Messages())
		}
		candidate = v.Statements
	}

	r := &run{o: o, req: req, res: res, log: log, candidate: candidate}
	err := o.reg.Do(ctx, req.Key, r.execute)
	res.Duration = time.Since(start)
	if err != nil {
		res.State = StateFailed
		log.ErrorWith("preview failed", err, map[string]interface{}{"sandbox": res.SandboxID})
		return res, err
	}

	log.InfoWith("preview verified", map[string]interface{}{
		"sandbox":   res.SandboxID,
		"converged": res.Converged,
		"failed":    len(res.Failed()),
		"duration":  res.Duration.String(),
	})
	return res, nil
}

// run holds one preview's working state while the user's key is held.
type run struct {
	o         *Orchestrator
	req       Request
	res       *Result
	log       *logger.Logger
	candidate []string

	resolver introspect.Resolver
	sb       sandbox.Sandbox
	source   *schema.DatabaseSchema
	target   *schema.DatabaseSchema
}

func (r *run) execute(ctx context.Context, l *registry.Lease) error {
	r.sb = l.Sandbox
	r.res.SandboxID = l.Sandbox.ID()
	r.res.Reused = l.Reused

	r.resolver = r.o.resolver
	if c, ok := l.Sandbox.(introspect.Connector); ok {
		r.resolver.Connector = c
	}
	r.transition(StateSandboxAcquired)

	if err := r.seed(ctx); err != nil {
		return err
	}
	r.transition(StateSourceSeeded)

	if err := r.applyCandidate(ctx); err != nil {
		return err
	}
	r.transition(StateCandidateApplied)

	if err := r.verify(ctx); err != nil {
		return err
	}
	r.transition(StateVerified)
	return nil
}

// seed converges the sandbox onto the source. A fresh sandbox gets the
// whole source; a reused one is reset by the same diff.
func (r *run) seed(ctx context.Context) error {
	src, err := r.schema(ctx, r.req.Source, "source")
	if err != nil {
		return err
	}
	r.source = src

	current, err := r.sb.Introspect(ctx)
	if err != nil {
		return errs.Rekind(errs.ErrKindIntrospection, "introspect sandbox", err)
	}

	stmts := ddl.Generate(diff.Compare(current, src), src, r.ddlOptions())
	r.res.SeedScript = stmts

	results, err := r.sb.Apply(ctx, stmts, sandbox.ApplyOptions{Atomic: r.atomic()})
	if err != nil {
		return errs.Rekind(errs.ErrKindApply, "seed sandbox", err)
	}
	if failed := sandbox.Failures(results); len(failed) > 0 {
		details := make([]string, len(failed))
		for i, f := range failed {
			details[i] = f.Statement + ": " + f.Err.Error()
		}
		return errs.WithDetails(errs.ErrKindApply, "seed sandbox from source", details)
	}
	return nil
}

func (r *run) applyCandidate(ctx context.Context) error {
	script := r.candidate
	if script == nil {
		target, err := r.targetSchema(ctx)
		if err != nil {
			return err
		}
		script = ddl.Generate(diff.Compare(r.source, target), target, r.ddlOptions())
	}
	r.res.Script = script

	results, err := r.sb.Apply(ctx, script, sandbox.ApplyOptions{Atomic: r.atomic()})
	r.res.Statements = results
	if err != nil {
		return err
	}
	if failed := sandbox.Failures(results); len(failed) > 0 {
		r.log.WarnWith("candidate statements failed", failed[0].Err, map[string]interface{}{
			"failed": len(failed),
			"total":  len(results),
		})
	}
	return nil
}

func (r *run) verify(ctx context.Context) error {
	target, err := r.targetSchema(ctx)
	if err != nil {
		return err
	}
	got, err := r.sb.Introspect(ctx)
	if err != nil {
		return errs.Rekind(errs.ErrKindIntrospection, "introspect sandbox", err)
	}

	r.res.Diff = diff.Compare(got, target)
	r.res.Converged = r.res.Diff.IsEmpty()
	return nil
}

func (r *run) targetSchema(ctx context.Context) (*schema.DatabaseSchema, error) {
	if r.target != nil {
		return r.target, nil
	}
	t, err := r.schema(ctx, r.req.Target, "target")
	if err != nil {
		return nil, err
	}
	r.target = t
	return t, nil
}

func (r *run) schema(ctx context.Context, d introspect.Descriptor, role string) (*schema.DatabaseSchema, error) {
	h, err := r.resolver.Resolve(ctx, d)
	if err != nil {
		return nil, errs.Rekind(errs.ErrKindIntrospection, "resolve "+role, err)
	}
	s, err := h.Schema(ctx)
	if err != nil {
		return nil, errs.Rekind(errs.ErrKindIntrospection, "read "+role, err)
	}
	return s, nil
}

func (r *run) ddlOptions() ddl.Options {
	return ddl.Options{Extended: r.o.opts.Extended, ShellTables: r.o.opts.ShellTables}
}

func (r *run) atomic() bool {
	return r.req.Atomic || r.o.opts.Atomic
}

func (r *run) transition(s State) {
	r.log.DebugWith("preview state", map[string]interface{}{"from": string(r.res.State), "to": string(s)})
	r.res.State = s
}
