// Package introspect turns a connection descriptor into a Handle that can
// read a normalized schema.
//
// Live databases (postgres, mysql, sqlite) are opened through a Connector;
// snapshots are YAML or JSON files on disk or in object storage.
package introspect

import (
	"context"
	"strings"
	"time"

	"github.com/koustreak/driftbox/internal/database"
	"github.com/koustreak/driftbox/internal/errs"
	"github.com/koustreak/driftbox/internal/filestore"
	"github.com/koustreak/driftbox/internal/schema"
)

// DriverSnapshot selects a schema snapshot file instead of a live database.
const DriverSnapshot = "snapshot"

// Handle reads the schema of one source.
type Handle interface {
	Schema(ctx context.Context) (*schema.DatabaseSchema, error)
}

// Descriptor names a schema source.
type Descriptor struct {
	// Driver is postgres, mysql, sqlite or snapshot.
	Driver string `json:"driver" yaml:"driver"`

	// DSN is a connection string, or a snapshot path / s3:// URI.
	DSN string `json:"dsn" yaml:"dsn"`

	// Schema is the namespace to read; empty means the driver default.
	Schema string `json:"schema,omitempty" yaml:"schema,omitempty"`
}

// String hides the DSN, which usually carries a password.
func (d Descriptor) String() string {
	if d.Driver == DriverSnapshot {
		return d.Driver + ":" + d.DSN
	}
	return d.Driver + ":***"
}

// Connector hands out live database connections. Implementations own the
// connections they return; callers never close them.
type Connector interface {
	Connect(ctx context.Context, d Descriptor) (database.DB, error)
}

// Resolver resolves descriptors into handles.
type Resolver struct {
	// Connector supplies live connections. When nil, each Schema call opens
	// a connection and closes it afterwards.
	Connector Connector

	// Store serves s3:// snapshots.
	Store         filestore.Store
	DefaultBucket string

	// Extended reads policies and grants from live sources.
	Extended bool

	// Pool overrides the pool settings of directly opened connections.
	Pool func(driver database.Driver, dsn string) *database.Config
}

// Resolve is Resolver.Resolve with a zero Resolver.
func Resolve(ctx context.Context, d Descriptor) (Handle, error) {
	return (&Resolver{}).Resolve(ctx, d)
}

// Resolve checks d and returns a handle for it. Nothing is opened until the
// handle's Schema is called.
func (r *Resolver) Resolve(_ context.Context, d Descriptor) (Handle, error) {
	if strings.TrimSpace(d.DSN) == "" {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "descriptor %s has no DSN", d.Driver)
	}

	if strings.EqualFold(d.Driver, DriverSnapshot) {
		if filestore.IsURI(d.DSN) && r.Store == nil {
			return nil, errs.Newf(errs.ErrKindInvalidInput, "snapshot %s needs object storage, none configured", d.DSN)
		}
		return &snapshotHandle{uri: d.DSN, store: r.Store, bucket: r.DefaultBucket}, nil
	}

	driver, err := database.ParseDriver(d.Driver)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "resolve descriptor", err)
	}
	d.Driver = string(driver)

	return &liveHandle{resolver: r, desc: d}, nil
}

type liveHandle struct {
	resolver *Resolver
	desc     Descriptor
}

func (h *liveHandle) Schema(ctx context.Context) (*schema.DatabaseSchema, error) {
	cfg := h.resolver.config(h.desc)

	if c := h.resolver.Connector; c != nil {
		db, err := c.Connect(ctx, h.desc)
		if err != nil {
			return nil, errs.Rekind(errs.ErrKindIntrospection, "connect "+h.desc.String(), err)
		}
		return h.introspect(ctx, db, cfg.QueryTimeout)
	}

	db, err := Open(ctx, cfg)
	if err != nil {
		return nil, errs.Rekind(errs.ErrKindIntrospection, "connect "+h.desc.String(), err)
	}
	defer db.Close()
	return h.introspect(ctx, db, cfg.QueryTimeout)
}

// introspect reads the schema under the pool's query deadline, if any.
func (h *liveHandle) introspect(ctx context.Context, db database.DB, timeout time.Duration) (*schema.DatabaseSchema, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	s, err := db.Introspect(ctx, database.IntrospectOptions{Schema: h.desc.Schema, Extended: h.resolver.Extended})
	return s, errs.Rekind(errs.ErrKindIntrospection, "introspect "+h.desc.String(), err)
}

func (r *Resolver) config(d Descriptor) *database.Config {
	driver := database.Driver(d.Driver)
	if r.Pool != nil {
		if cfg := r.Pool(driver, d.DSN); cfg != nil {
			return cfg
		}
	}
	return database.DefaultConfig(driver, d.DSN)
}
