package sandbox

import (
	"context"
	"sync"

	"github.com/koustreak/driftbox/internal/database"
	"github.com/koustreak/driftbox/internal/errs"
	"github.com/koustreak/driftbox/internal/introspect"
)

// OpenFunc opens a live database connection.
type OpenFunc func(ctx context.Context, cfg *database.Config) (database.DB, error)

// Hybrid is an in-memory sandbox that also caches the live source
// connections a preview introspects, so repeated previews for the same
// user reuse one pool per source. It implements introspect.Connector.
type Hybrid struct {
	*Memory

	open OpenFunc
	pool func(driver database.Driver, dsn string) *database.Config

	mu     sync.Mutex
	conns  map[string]database.DB
	closed bool
}

var _ introspect.Connector = (*Hybrid)(nil)

// NewHybrid returns an empty hybrid sandbox. A nil open uses
// introspect.Open; a nil pool uses database.DefaultConfig.
func NewHybrid(extended bool, open OpenFunc, pool func(database.Driver, string) *database.Config) *Hybrid {
	if open == nil {
		open = introspect.Open
	}
	if pool == nil {
		pool = database.DefaultConfig
	}
	return &Hybrid{
		Memory: NewMemory(extended),
		open:   open,
		pool:   pool,
		conns:  make(map[string]database.DB),
	}
}

func (h *Hybrid) Kind() Kind { return KindHybrid }

// Connect returns the cached connection for d, opening it on first use.
func (h *Hybrid) Connect(ctx context.Context, d introspect.Descriptor) (database.DB, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, errs.New(errs.ErrKindNotFound, "sandbox "+h.id+" was discarded")
	}

	key := d.Driver + "\x00" + d.DSN
	if db, ok := h.conns[key]; ok {
		return db, nil
	}
	cfg := h.pool(database.Driver(d.Driver), d.DSN)
	if cfg == nil {
		cfg = database.DefaultConfig(database.Driver(d.Driver), d.DSN)
	}
	db, err := h.open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	h.conns[key] = db
	return db, nil
}

// Connections reports how many live connections are cached.
func (h *Hybrid) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Discard closes every cached connection and empties the catalog.
func (h *Hybrid) Discard(ctx context.Context) error {
	h.mu.Lock()
	for key, db := range h.conns {
		db.Close()
		delete(h.conns, key)
	}
	h.closed = true
	h.mu.Unlock()
	return h.Memory.Discard(ctx)
}

// HybridProvisioner creates Hybrid sandboxes.
type HybridProvisioner struct {
	Extended bool
	Open     OpenFunc
	Pool     func(database.Driver, string) *database.Config
}

func (p *HybridProvisioner) Kind() Kind { return KindHybrid }

func (p *HybridProvisioner) Provision(context.Context, string) (Sandbox, error) {
	return NewHybrid(p.Extended, p.Open, p.Pool), nil
}
