package database

import (
	"context"

	"github.com/koustreak/driftbox/internal/schema"
)

// Querier is the read side shared by DB and Tx. Introspection only needs
// this much.
type Querier interface {
	// Query executes a SQL statement that returns multiple rows.
	Query(ctx context.Context, sql string, args ...any) (Rows, error)

	// QueryRow executes a SQL statement that returns at most one row.
	QueryRow(ctx context.Context, sql string, args ...any) Row
}

// DB is the central contract for all database operations.
// Layers above this package talk only to this interface; they never import
// a driver's native client.
type DB interface {
	Querier

	// Ping verifies the database is reachable.
	Ping(ctx context.Context) error

	// Exec executes a statement that returns no rows.
	Exec(ctx context.Context, sql string, args ...any) error

	// Introspect reads the normalized schema of the database.
	// This is an expensive operation; callers should cache the result.
	Introspect(ctx context.Context, opts IntrospectOptions) (*schema.DatabaseSchema, error)

	// Close releases all resources held by the connection pool.
	Close()
}

// Tx is a database transaction.
type Tx interface {
	Querier
	Exec(ctx context.Context, sql string, args ...any) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Rows is an abstraction over a database result set.
// Callers must always call Close() when done, even on error.
type Rows interface {
	// Next advances to the next row.
	// Returns false when no more rows exist or on error.
	Next() bool

	// Scan copies the current row's columns into the provided destinations.
	Scan(dest ...any) error

	// Close releases resources held by the result set.
	Close()

	// Err returns any error encountered during iteration.
	Err() error
}

// Row is an abstraction over a single database row.
type Row interface {
	Scan(dest ...any) error
}

// IntrospectOptions selects what an introspector reads.
type IntrospectOptions struct {
	// Schema is the namespace to read. Empty means the driver default
	// ("public" for Postgres, the connection's database for MySQL).
	Schema string

	// Extended also reads row-level-security policies and column grants
	// where the engine has them.
	Extended bool
}
