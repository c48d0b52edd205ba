package sandbox

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/driftbox/internal/database"
	"github.com/koustreak/driftbox/internal/errs"
	"github.com/koustreak/driftbox/internal/introspect"
	"github.com/koustreak/driftbox/internal/schema"
)

type fakeDB struct {
	database.DB
	closed bool
}

func (d *fakeDB) Close() { d.closed = true }

func (d *fakeDB) Introspect(context.Context, database.IntrospectOptions) (*schema.DatabaseSchema, error) {
	s := schema.New()
	s.Table("users").Columns["id"] = &schema.ColumnInfo{Type: "integer", IsPrimaryKey: true}
	return s.Normalize(), nil
}

func TestHybrid_CachesConnections(t *testing.T) {
	ctx := context.Background()
	var opened []*database.Config
	var dbs []*fakeDB
	open := func(_ context.Context, cfg *database.Config) (database.DB, error) {
		opened = append(opened, cfg)
		db := &fakeDB{}
		dbs = append(dbs, db)
		return db, nil
	}

	h := NewHybrid(false, open, nil)
	assert.Equal(t, KindHybrid, h.Kind())

	src := introspect.Descriptor{Driver: "postgres", DSN: "postgres://a"}
	a, err := h.Connect(ctx, src)
	require.NoError(t, err)
	b, err := h.Connect(ctx, src)
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = h.Connect(ctx, introspect.Descriptor{Driver: "postgres", DSN: "postgres://b"})
	require.NoError(t, err)
	assert.Equal(t, 2, h.Connections())
	require.Len(t, opened, 2)
	assert.Equal(t, database.DriverPostgres, opened[0].Driver)

	require.NoError(t, h.Discard(ctx))
	assert.Equal(t, 0, h.Connections())
	for _, db := range dbs {
		assert.True(t, db.closed)
	}

	_, err = h.Connect(ctx, src)
	assert.True(t, errs.IsNotFound(err))
}

func TestHybrid_OpenFailureNotCached(t *testing.T) {
	calls := 0
	open := func(context.Context, *database.Config) (database.DB, error) {
		calls++
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "dial", errors.New("refused"))
	}
	h := NewHybrid(false, open, nil)

	d := introspect.Descriptor{Driver: "mysql", DSN: "root@tcp(db)/app"}
	_, err := h.Connect(context.Background(), d)
	assert.True(t, errs.IsConnectionFailed(err))
	_, err = h.Connect(context.Background(), d)
	assert.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 0, h.Connections())
}

func TestHybrid_ServesResolver(t *testing.T) {
	ctx := context.Background()
	h := NewHybrid(false, func(context.Context, *database.Config) (database.DB, error) {
		return &fakeDB{}, nil
	}, nil)

	r := &introspect.Resolver{Connector: h}
	handle, err := r.Resolve(ctx, introspect.Descriptor{Driver: "pg", DSN: "postgres://src"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		s, err := handle.Schema(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"users"}, s.TableNames())
	}
	assert.Equal(t, 1, h.Connections())

	_, err = h.Apply(ctx, []string{`CREATE TABLE users (id integer PRIMARY KEY)`}, ApplyOptions{})
	require.NoError(t, err)
	s, err := h.Introspect(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"users"}, s.TableNames())
}
