package memdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/driftbox/internal/ddl"
	"github.com/koustreak/driftbox/internal/errs"
	"github.com/koustreak/driftbox/internal/schema"
	"github.com/koustreak/driftbox/internal/sqlexpr"
)

func exec(t *testing.T, db *DB, sql string) {
	t.Helper()
	require.NoError(t, db.Exec(context.Background(), sql))
}

func TestCreateTable_Columns(t *testing.T) {
	db := New()
	exec(t, db, `CREATE TABLE users (
		id         serial PRIMARY KEY,
		email      varchar(120) NOT NULL,
		name       text DEFAULT 'anon',
		score      double precision NULL,
		tags       text[],
		created_at timestamptz DEFAULT now()
	)`)

	users := db.Schema().Tables["users"]
	require.NotNil(t, users)

	id := users.Columns["id"]
	assert.Equal(t, "integer", id.Type)
	assert.True(t, id.IsPrimaryKey)
	assert.False(t, id.IsNullable)
	assert.Equal(t, sqlexpr.Canonical(ddl.SerialDefault("users", "id")), *id.DefaultValue)

	email := users.Columns["email"]
	assert.Equal(t, "character varying", email.Type)
	assert.Equal(t, 120, *email.MaxLength)
	assert.False(t, email.IsNullable)

	assert.Equal(t, sqlexpr.Canonical("'anon'"), *users.Columns["name"].DefaultValue)
	assert.Equal(t, "double precision", users.Columns["score"].Type)
	assert.True(t, users.Columns["score"].IsNullable)
	assert.Equal(t, "text[]", users.Columns["tags"].Type)
	assert.Equal(t, "timestamp with time zone", users.Columns["created_at"].Type)
	assert.Equal(t, "now()", *users.Columns["created_at"].DefaultValue)
}

func TestCreateTable_Keys(t *testing.T) {
	db := New()
	exec(t, db, `CREATE TABLE users (id integer, PRIMARY KEY (id))`)
	exec(t, db, `CREATE TABLE orders (
		id        bigint PRIMARY KEY,
		user_id   integer REFERENCES users ON DELETE CASCADE,
		parent_id bigint,
		CONSTRAINT orders_parent FOREIGN KEY (parent_id) REFERENCES orders (id) ON UPDATE SET NULL
	)`)

	s := db.Schema()
	assert.Equal(t, []string{"id"}, s.Tables["users"].PrimaryKey())
	assert.False(t, s.Tables["users"].Columns["id"].IsNullable, "primary key implies NOT NULL")

	assert.Equal(t, []schema.ForeignKeyInfo{
		{ColumnName: "parent_id", ReferenceTable: "orders", ReferenceColumn: "id", UpdateRule: schema.SetNull, DeleteRule: schema.NoAction},
		{ColumnName: "user_id", ReferenceTable: "users", ReferenceColumn: "id", UpdateRule: schema.NoAction, DeleteRule: schema.Cascade},
	}, s.Tables["orders"].ForeignKeys)
}

func TestCreateTable_Errors(t *testing.T) {
	tests := []struct {
		name string
		sql  string
	}{
		{"duplicate table", "CREATE TABLE a (id int); CREATE TABLE a (id int)"},
		{"duplicate column", "CREATE TABLE a (id int, id int)"},
		{"missing referenced table", "CREATE TABLE a (b_id int REFERENCES b (id))"},
		{"referenced table without key", "CREATE TABLE b (id int); CREATE TABLE a (b_id int REFERENCES b)"},
		{"two primary keys", "CREATE TABLE a (id int PRIMARY KEY, x int, PRIMARY KEY (x))"},
		{"other schema", "CREATE TABLE audit.log (id int)"},
		{"syntax", "CREATE TABLE (id int)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := New()
			err := db.Exec(context.Background(), tt.sql)
			require.Error(t, err)
			assert.True(t, errs.IsQueryFailed(err))
			assert.Empty(t, db.TableNames(), "a failed Exec leaves no trace")
		})
	}
}

func TestCreateTable_IfNotExists(t *testing.T) {
	db := New()
	exec(t, db, "CREATE TABLE a (id int)")
	exec(t, db, "CREATE TABLE IF NOT EXISTS a (other text)")
	assert.Equal(t, []string{"id"}, db.Schema().Tables["a"].ColumnNames())
}

func TestAlterTable_Columns(t *testing.T) {
	db := New()
	exec(t, db, "CREATE TABLE users (id int, name text, age int DEFAULT 0)")

	exec(t, db, `ALTER TABLE users ADD COLUMN email varchar(50) NOT NULL`)
	exec(t, db, `ALTER TABLE users ALTER COLUMN name TYPE varchar(80) USING name::varchar(80)`)
	exec(t, db, `ALTER TABLE users ALTER COLUMN name SET NOT NULL`)
	exec(t, db, `ALTER TABLE users ALTER COLUMN name SET DEFAULT ''`)
	exec(t, db, `ALTER TABLE users ALTER COLUMN age DROP DEFAULT`)
	exec(t, db, `ALTER TABLE users DROP COLUMN id`)
	exec(t, db, `ALTER TABLE users ADD COLUMN IF NOT EXISTS email text`)
	exec(t, db, `ALTER TABLE users DROP COLUMN IF EXISTS nope`)
	exec(t, db, `ALTER TABLE IF EXISTS ghosts ADD COLUMN x int`)

	users := db.Schema().Tables["users"]
	assert.Equal(t, []string{"age", "email", "name"}, users.ColumnNames())
	assert.Equal(t, 50, *users.Columns["email"].MaxLength)
	assert.Equal(t, "character varying", users.Columns["name"].Type)
	assert.Equal(t, 80, *users.Columns["name"].MaxLength)
	assert.False(t, users.Columns["name"].IsNullable)
	assert.Equal(t, sqlexpr.Canonical("''"), *users.Columns["name"].DefaultValue)
	assert.Nil(t, users.Columns["age"].DefaultValue)

	err := db.Exec(context.Background(), "ALTER TABLE users ALTER COLUMN nope SET NOT NULL")
	assert.True(t, errs.IsQueryFailed(err))
}

func TestAlterTable_Constraints(t *testing.T) {
	db := New()
	exec(t, db, "CREATE TABLE users (id int, org int)")
	exec(t, db, "CREATE TABLE orders (id int, user_id int)")

	exec(t, db, `ALTER TABLE users ADD PRIMARY KEY (id)`)
	exec(t, db, `ALTER TABLE "orders" ADD CONSTRAINT "orders_user_id_fkey" FOREIGN KEY ("user_id") REFERENCES "users" ("id") ON UPDATE NO ACTION ON DELETE SET NULL`)

	err := db.Exec(context.Background(), `ALTER TABLE users ALTER COLUMN id DROP NOT NULL`)
	assert.Error(t, err, "primary key column cannot be nullable")

	err = db.Exec(context.Background(), `ALTER TABLE users DROP CONSTRAINT users_pkey`)
	assert.Error(t, err, "referenced key needs CASCADE")

	exec(t, db, `ALTER TABLE orders DROP CONSTRAINT orders_user_id_fkey`)
	exec(t, db, `ALTER TABLE users DROP CONSTRAINT IF EXISTS users_pkey`)
	exec(t, db, `ALTER TABLE users DROP CONSTRAINT IF EXISTS users_pkey`)
	exec(t, db, `ALTER TABLE users ADD PRIMARY KEY (id, org)`)

	s := db.Schema()
	assert.Equal(t, []string{"id", "org"}, s.Tables["users"].PrimaryKey())
	assert.Empty(t, s.Tables["orders"].ForeignKeys)

	err = db.Exec(context.Background(), `ALTER TABLE users DROP CONSTRAINT nope`)
	assert.True(t, errs.IsQueryFailed(err))
}

func TestDropColumn_DropsKeys(t *testing.T) {
	db := New()
	exec(t, db, "CREATE TABLE users (id int PRIMARY KEY, org int)")
	exec(t, db, "CREATE TABLE orders (id int, user_id int REFERENCES users (id))")

	assert.Error(t, db.Exec(context.Background(), "ALTER TABLE users DROP COLUMN id"))

	exec(t, db, "ALTER TABLE users DROP COLUMN id CASCADE")
	s := db.Schema()
	assert.Empty(t, s.Tables["orders"].ForeignKeys)
	assert.Empty(t, s.Tables["users"].PrimaryKey())

	exec(t, db, "ALTER TABLE users ADD PRIMARY KEY (org)")
}

func TestDropTable(t *testing.T) {
	db := New()
	exec(t, db, "CREATE TABLE users (id int PRIMARY KEY, manager int REFERENCES users)")
	exec(t, db, "CREATE TABLE orders (id int, user_id int REFERENCES users)")

	err := db.Exec(context.Background(), "DROP TABLE users")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "other objects depend on it")

	exec(t, db, `DROP TABLE "users" CASCADE`)
	exec(t, db, `DROP TABLE IF EXISTS users`)
	assert.Equal(t, []string{"orders"}, db.TableNames())
	assert.Empty(t, db.Schema().Tables["orders"].ForeignKeys)

	assert.True(t, errs.IsQueryFailed(db.Exec(context.Background(), "DROP TABLE users")))
}

func TestRename(t *testing.T) {
	db := New()
	exec(t, db, "CREATE TABLE users (id int PRIMARY KEY)")
	exec(t, db, "CREATE TABLE orders (id int, user_id int REFERENCES users (id))")

	exec(t, db, "ALTER TABLE users RENAME COLUMN id TO user_key")
	exec(t, db, "ALTER TABLE users RENAME TO customers")
	exec(t, db, "ALTER TABLE orders RENAME COLUMN user_id TO customer_id")
	exec(t, db, "ALTER TABLE orders RENAME CONSTRAINT orders_user_id_fkey TO orders_customer_fk")

	s := db.Schema()
	assert.Equal(t, []string{"customers", "orders"}, s.TableNames())
	assert.Equal(t, []schema.ForeignKeyInfo{{
		ColumnName: "customer_id", ReferenceTable: "customers", ReferenceColumn: "user_key",
		UpdateRule: schema.NoAction, DeleteRule: schema.NoAction,
	}}, s.Tables["orders"].ForeignKeys)

	exec(t, db, "ALTER TABLE orders DROP CONSTRAINT orders_customer_fk")
	assert.Empty(t, db.Schema().Tables["orders"].ForeignKeys)
}

func TestPolicies(t *testing.T) {
	db := New()
	exec(t, db, "CREATE TABLE orders (id int, user_id int)")
	exec(t, db, `ALTER TABLE "orders" ENABLE ROW LEVEL SECURITY`)
	exec(t, db, `CREATE POLICY "own" ON "orders" AS PERMISSIVE FOR SELECT TO "app", reporting USING ((user_id = 1))`)
	exec(t, db, `CREATE POLICY guard ON orders AS RESTRICTIVE WITH CHECK (user_id > 0)`)

	policies := db.Schema().Tables["orders"].Policies
	require.Len(t, policies, 2)
	assert.Equal(t, schema.Policy{
		Name: "guard", Command: "ALL", Permissive: false, Roles: []string{"public"},
		WithCheck: sqlexpr.Canonical("user_id > 0"),
	}, policies[0])
	assert.Equal(t, schema.Policy{
		Name: "own", Command: "SELECT", Permissive: true, Roles: []string{"app", "reporting"},
		Using: sqlexpr.Canonical("user_id = 1"),
	}, policies[1])

	assert.Error(t, db.Exec(context.Background(), `CREATE POLICY own ON orders USING (true)`))

	exec(t, db, `DROP POLICY IF EXISTS "own" ON "orders"`)
	exec(t, db, `DROP POLICY IF EXISTS "own" ON "orders"`)
	exec(t, db, `ALTER POLICY guard ON orders RENAME TO fence`)
	policies = db.Schema().Tables["orders"].Policies
	require.Len(t, policies, 1)
	assert.Equal(t, "fence", policies[0].Name)

	assert.Error(t, db.Exec(context.Background(), `DROP POLICY own ON orders`))
}

func TestGrants(t *testing.T) {
	db := New()
	exec(t, db, "CREATE TABLE users (id int, email text, name text)")

	exec(t, db, `GRANT SELECT ("email", "name") ON "users" TO "reporting"`)
	exec(t, db, `GRANT UPDATE (email) ON users TO app, PUBLIC`)
	exec(t, db, `GRANT INSERT ON users TO loader`)
	exec(t, db, `GRANT DELETE ON users TO loader`)

	cols := db.Schema().Tables["users"].Columns
	assert.Equal(t, []string{"PUBLIC:UPDATE", "app:UPDATE", "loader:INSERT", "reporting:SELECT"}, cols["email"].Permissions)
	assert.Equal(t, []string{"loader:INSERT", "reporting:SELECT"}, cols["name"].Permissions)
	assert.Equal(t, []string{"loader:INSERT"}, cols["id"].Permissions)

	exec(t, db, `ALTER TABLE users ADD COLUMN age int`)
	assert.Equal(t, []string{"loader:INSERT"}, db.Schema().Tables["users"].Columns["age"].Permissions,
		"table grants cover new columns")

	exec(t, db, `REVOKE SELECT ("name") ON "users" FROM "reporting"`)
	exec(t, db, `REVOKE UPDATE (email) ON users FROM PUBLIC`)
	exec(t, db, `REVOKE INSERT ON users FROM loader`)

	cols = db.Schema().Tables["users"].Columns
	assert.Equal(t, []string{"app:UPDATE", "reporting:SELECT"}, cols["email"].Permissions)
	assert.Nil(t, cols["name"].Permissions)
	assert.Nil(t, cols["id"].Permissions)

	assert.Error(t, db.Exec(context.Background(), `GRANT SELECT (nope) ON users TO app`))
	assert.Error(t, db.Exec(context.Background(), `GRANT DELETE (email) ON users TO app`))
}

func TestIgnoredAndUnsupportedStatements(t *testing.T) {
	db := New()
	exec(t, db, "CREATE TABLE t (id int)")
	exec(t, db, "BEGIN; CREATE INDEX t_id ON t (id); INSERT INTO t VALUES (1); TRUNCATE t; COMMIT")

	err := db.Exec(context.Background(), "CREATE VIEW v AS SELECT 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ViewStmt")
}

func TestExec_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, errs.IsTimeout(New().Exec(ctx, "CREATE TABLE t (id int)")))
}

func TestSnapshotRestore(t *testing.T) {
	db := New()
	exec(t, db, "CREATE TABLE t (id int)")
	snap := db.Snapshot()

	exec(t, db, "ALTER TABLE t ADD COLUMN name text; CREATE TABLE u (id int)")
	db.Restore(snap)
	assert.Equal(t, []string{"t"}, db.TableNames())
	assert.Equal(t, []string{"id"}, db.Schema().Tables["t"].ColumnNames())

	exec(t, db, "CREATE TABLE u (id int)")
	db.Restore(snap)
	assert.Equal(t, []string{"t"}, db.TableNames(), "a snapshot can be restored twice")

	db.Reset()
	assert.Empty(t, db.TableNames())
}
