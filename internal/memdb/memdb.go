// Package memdb is an in-process PostgreSQL catalog. It executes DDL parsed
// by the PostgreSQL grammar against a model of tables, columns, keys,
// row-level-security policies and column grants, and reports the result as
// a schema.DatabaseSchema shaped like live introspection.
//
// Only catalog state is modelled. Data statements, indexes and sequences
// are accepted and ignored.
package memdb

import (
	"context"
	"sort"
	"sync"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/koustreak/driftbox/internal/errs"
	"github.com/koustreak/driftbox/internal/schema"
)

// defaultNamespace is the only schema the catalog holds.
const defaultNamespace = "public"

// DB is an in-memory catalog. It is safe for concurrent use.
type DB struct {
	mu     sync.Mutex
	tables map[string]*table
}

// New returns an empty catalog.
func New() *DB {
	return &DB{tables: make(map[string]*table)}
}

// Exec parses sql and applies every statement in it. Like a multi-statement
// simple query, the string runs as one unit: if a statement fails, none of
// them take effect.
func (db *DB) Exec(ctx context.Context, sql string) error {
	if err := ctx.Err(); err != nil {
		return errs.Wrap(errs.ErrKindTimeout, "exec canceled", err)
	}

	tree, err := pg_query.Parse(sql)
	if err != nil {
		return errs.Wrap(errs.ErrKindQueryFailed, "syntax error", err)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	saved := cloneTables(db.tables)
	for _, raw := range tree.GetStmts() {
		if err := db.exec(raw.GetStmt()); err != nil {
			db.tables = saved
			return err
		}
	}
	return nil
}

// Schema returns the normalized schema of the catalog.
func (db *DB) Schema() *schema.DatabaseSchema {
	db.mu.Lock()
	defer db.mu.Unlock()

	s := schema.New()
	for name, t := range db.tables {
		s.Tables[name] = t.export()
	}
	return s.Normalize()
}

// TableNames returns the sorted table names.
func (db *DB) TableNames() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.tableNames()
}

func (db *DB) tableNames() []string {
	names := make([]string, 0, len(db.tables))
	for name := range db.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot is a saved catalog state.
type Snapshot struct {
	tables map[string]*table
}

// Snapshot captures the current state for a later Restore.
func (db *DB) Snapshot() *Snapshot {
	db.mu.Lock()
	defer db.mu.Unlock()
	return &Snapshot{tables: cloneTables(db.tables)}
}

// Restore rolls the catalog back to s. A snapshot can be restored more
// than once.
func (db *DB) Restore(s *Snapshot) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.tables = cloneTables(s.tables)
}

// Reset drops every table.
func (db *DB) Reset() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.tables = make(map[string]*table)
}
