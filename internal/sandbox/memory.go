package sandbox

import (
	"context"

	"github.com/google/uuid"

	"github.com/koustreak/driftbox/internal/memdb"
	"github.com/koustreak/driftbox/internal/schema"
)

// Memory is a sandbox backed by an in-process catalog.
type Memory struct {
	id       string
	db       *memdb.DB
	extended bool
}

// NewMemory returns an empty in-memory sandbox. extended controls whether
// Introspect reports policies and grants.
func NewMemory(extended bool) *Memory {
	return &Memory{id: uuid.NewString(), db: memdb.New(), extended: extended}
}

func (m *Memory) ID() string { return m.id }
func (m *Memory) Kind() Kind { return KindMemory }

func (m *Memory) Apply(ctx context.Context, stmts []string, opts ApplyOptions) ([]StatementResult, error) {
	if !opts.Atomic {
		return applyBestEffort(ctx, stmts, m.db.Exec)
	}

	snap := m.db.Snapshot()
	results, err := applyAtomic(ctx, stmts, m.db.Exec)
	if err != nil {
		m.db.Restore(snap)
	}
	return results, err
}

func (m *Memory) Introspect(ctx context.Context) (*schema.DatabaseSchema, error) {
	s := m.db.Schema()
	if !m.extended {
		s = basic(s)
	}
	return s, nil
}

func (m *Memory) Discard(context.Context) error {
	m.db.Reset()
	return nil
}

// MemoryProvisioner creates Memory sandboxes.
type MemoryProvisioner struct {
	Extended bool
}

func (p *MemoryProvisioner) Kind() Kind { return KindMemory }

func (p *MemoryProvisioner) Provision(context.Context, string) (Sandbox, error) {
	return NewMemory(p.Extended), nil
}
