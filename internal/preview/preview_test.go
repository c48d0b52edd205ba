package preview

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/driftbox/internal/database"
	"github.com/koustreak/driftbox/internal/database/sqlite"
	"github.com/koustreak/driftbox/internal/errs"
	"github.com/koustreak/driftbox/internal/introspect"
	"github.com/koustreak/driftbox/internal/registry"
	"github.com/koustreak/driftbox/internal/sandbox"
)

const sourceYAML = `
tables:
  users:
    columns:
      id:
        type: integer
        isPrimaryKey: true
      name:
        type: varchar
        maxLength: 50
        isNullable: true
`

const targetYAML = `
tables:
  users:
    columns:
      id:
        type: integer
        isPrimaryKey: true
      name:
        type: varchar
        maxLength: 50
        isNullable: true
      email:
        type: text
        isNullable: true
  orders:
    columns:
      id:
        type: integer
        isPrimaryKey: true
      user_id:
        type: integer
        isNullable: true
    foreignKeys:
      - columnName: user_id
        referenceTable: users
        referenceColumn: id
        updateRule: no action
        deleteRule: cascade
`

func snapshot(t *testing.T, name, body string) introspect.Descriptor {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return introspect.Descriptor{Driver: introspect.DriverSnapshot, DSN: path}
}

func setup(t *testing.T, opts Options) (*Orchestrator, *registry.Registry, Request) {
	t.Helper()
	reg := registry.New(&sandbox.MemoryProvisioner{Extended: opts.Extended}, registry.Config{})
	t.Cleanup(func() { _ = reg.Close(context.Background()) })

	req := Request{
		Key:    "alice",
		Source: snapshot(t, "source.yaml", sourceYAML),
		Target: snapshot(t, "target.yaml", targetYAML),
	}
	return New(reg, nil, opts, nil), reg, req
}

func TestPreview_SynthesizedScriptConverges(t *testing.T) {
	ctx := context.Background()
	o, reg, req := setup(t, Options{})

	res, err := o.Preview(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, StateVerified, res.State)
	assert.True(t, res.Converged, res.Diff.Summary())
	assert.False(t, res.Reused)
	assert.NotEmpty(t, res.SeedScript)
	assert.NotEmpty(t, res.Script)
	assert.Empty(t, res.Failed())
	assert.Equal(t, 1, reg.Len())

	// The reused sandbox holds the target now; seeding resets it.
	again, err := o.Preview(ctx, req)
	require.NoError(t, err)
	assert.True(t, again.Reused)
	assert.Equal(t, res.SandboxID, again.SandboxID)
	assert.True(t, again.Converged, again.Diff.Summary())
	assert.Contains(t, again.SeedScript, `DROP TABLE "orders" CASCADE;`)
}

func TestPreview_ShellTables(t *testing.T) {
	o, _, req := setup(t, Options{ShellTables: true, Atomic: true})

	res, err := o.Preview(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Converged, res.Diff.Summary())
}

func TestPreview_SuppliedScriptReportsRemainingDiff(t *testing.T) {
	o, _, req := setup(t, Options{})
	req.Script = `ALTER TABLE users ADD COLUMN email text;`

	res, err := o.Preview(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StateVerified, res.State)
	assert.False(t, res.Converged)
	assert.Equal(t, []string{"orders"}, res.Diff.TablesAdded)
	assert.Equal(t, []string{"ALTER TABLE users ADD COLUMN email text"}, res.Script)
}

func TestPreview_BestEffortKeepsGoing(t *testing.T) {
	o, reg, req := setup(t, Options{})
	req.Script = `
ALTER TABLE missing ADD COLUMN x integer;
ALTER TABLE users ADD COLUMN email text;
CREATE TABLE orders (id integer PRIMARY KEY, user_id integer REFERENCES users (id) ON DELETE CASCADE);
`

	res, err := o.Preview(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StateVerified, res.State)
	require.Len(t, res.Failed(), 1)
	assert.Equal(t, 0, res.Failed()[0].Index)
	assert.True(t, res.Converged, res.Diff.Summary())
	assert.Equal(t, 1, reg.Len())
}

func TestPreview_AtomicFailureReleasesSandbox(t *testing.T) {
	o, reg, req := setup(t, Options{})
	req.Atomic = true
	req.Script = `
ALTER TABLE users ADD COLUMN email text;
ALTER TABLE missing ADD COLUMN x integer;
`

	res, err := o.Preview(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errs.IsApply(err))
	assert.Equal(t, StateFailed, res.State)
	require.Len(t, res.Statements, 2)
	assert.Equal(t, 0, reg.Len())
}

func TestPreview_RejectedScript(t *testing.T) {
	ctx := context.Background()
	o, reg, req := setup(t, Options{})

	_, err := o.Preview(ctx, req)
	require.NoError(t, err)
	require.Equal(t, 1, reg.Len())

	req.Script = "ALTER TABLE users ADD COLUMN email text; DROP SCHEMA public CASCADE;"
	res, err := o.Preview(ctx, req)
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
	assert.Equal(t, StateFailed, res.State)
	require.Len(t, res.Problems, 1)
	assert.Equal(t, 1, res.Problems[0].Index)
	assert.Len(t, errs.DetailsOf(err), 1)
	assert.Empty(t, res.SandboxID, "nothing was applied")
	assert.Equal(t, 0, reg.Len())
}

func TestPreview_IntrospectionFailureReleasesSandbox(t *testing.T) {
	o, reg, req := setup(t, Options{})
	req.Target = introspect.Descriptor{Driver: introspect.DriverSnapshot, DSN: filepath.Join(t.TempDir(), "missing.yaml")}

	res, err := o.Preview(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errs.IsIntrospection(err))
	assert.Equal(t, StateFailed, res.State)
	assert.NotEmpty(t, res.SeedScript, "the source was seeded before the target was read")
	assert.Equal(t, 0, reg.Len())
}

func TestPreview_NeedsKey(t *testing.T) {
	o, _, req := setup(t, Options{})
	req.Key = " "

	_, err := o.Preview(context.Background(), req)
	assert.True(t, errs.IsInvalidInput(err))
}

func TestPreview_HybridReadsLiveSource(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "source.db")

	src, err := sqlite.New(ctx, database.DefaultConfig(database.DriverSQLite, path))
	require.NoError(t, err)
	require.NoError(t, src.Exec(ctx, `CREATE TABLE users (id INTEGER PRIMARY KEY, name VARCHAR(50))`))
	src.Close()

	reg := registry.New(&sandbox.HybridProvisioner{}, registry.Config{})
	t.Cleanup(func() { _ = reg.Close(ctx) })
	o := New(reg, nil, Options{}, nil)

	req := Request{
		Key:    "alice",
		Source: introspect.Descriptor{Driver: "sqlite3", DSN: path},
		Target: snapshot(t, "target.yaml", targetYAML),
	}
	for i := 0; i < 2; i++ {
		res, err := o.Preview(ctx, req)
		require.NoError(t, err)
		assert.True(t, res.Converged, res.Diff.Summary())
	}

	l, err := reg.Lease(ctx, "alice")
	require.NoError(t, err)
	h, ok := l.Sandbox.(*sandbox.Hybrid)
	require.True(t, ok)
	assert.Equal(t, 1, h.Connections())
}
