package postgres

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/driftbox/internal/database"
	"github.com/koustreak/driftbox/internal/errs"
	"github.com/koustreak/driftbox/internal/schema"
	"github.com/koustreak/driftbox/internal/sqlexpr"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind errs.ErrKind
	}{
		{"deadline", context.DeadlineExceeded, errs.ErrKindTimeout},
		{"canceled", fmt.Errorf("wrapped: %w", context.Canceled), errs.ErrKindTimeout},
		{"no rows", pgx.ErrNoRows, errs.ErrKindNotFound},
		{"connection class", &pgconn.PgError{Code: "08006", Message: "connection failure"}, errs.ErrKindConnectionFailed},
		{"syntax", &pgconn.PgError{Code: "42601", Message: "syntax error"}, errs.ErrKindQueryFailed},
		{"undefined table", &pgconn.PgError{Code: "42P01", Message: "relation does not exist"}, errs.ErrKindQueryFailed},
		{"privilege", &pgconn.PgError{Code: "42501", Message: "permission denied"}, errs.ErrKindPermissionDenied},
		{"auth", &pgconn.PgError{Code: "28P01", Message: "password authentication failed"}, errs.ErrKindPermissionDenied},
		{"statement timeout", &pgconn.PgError{Code: "57014", Message: "canceling statement"}, errs.ErrKindTimeout},
		{"network", errors.New("dial tcp: connection refused"), errs.ErrKindConnectionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapError(tt.err, "op")
			require.Error(t, err)
			assert.Equal(t, tt.kind, errs.KindOf(err))
			assert.True(t, errors.Is(err, tt.err))
		})
	}

	assert.NoError(t, mapError(nil, "op"))
}

// fakeQuerier answers each catalog query with canned rows.
type fakeQuerier struct {
	results map[string][][]any
	fail    map[string]error
}

func (f *fakeQuerier) Query(_ context.Context, sql string, _ ...any) (database.Rows, error) {
	if err := f.fail[sql]; err != nil {
		return nil, err
	}
	return &fakeRows{data: f.results[sql], pos: -1}, nil
}

func (f *fakeQuerier) QueryRow(context.Context, string, ...any) database.Row {
	return nil
}

type fakeRows struct {
	data [][]any
	pos  int
}

func (r *fakeRows) Next() bool { r.pos++; return r.pos < len(r.data) }
func (r *fakeRows) Close()     {}
func (r *fakeRows) Err() error { return nil }

func (r *fakeRows) Scan(dest ...any) error {
	row := r.data[r.pos]
	if len(row) != len(dest) {
		return fmt.Errorf("scan: %d values into %d destinations", len(row), len(dest))
	}
	for i, v := range row {
		target := reflect.ValueOf(dest[i]).Elem()
		if v == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		target.Set(reflect.ValueOf(v))
	}
	return nil
}

func catalog() *fakeQuerier {
	return &fakeQuerier{results: map[string][][]any{
		tablesQuery: {{"empty"}, {"orders"}, {"users"}},
		columnsQuery: {
			{"orders", "id", "integer", (*int)(nil), false, schema.Ptr("nextval('orders_id_seq'::regclass)")},
			{"orders", "user_id", "integer", (*int)(nil), true, (*string)(nil)},
			{"users", "id", "integer", (*int)(nil), false, (*string)(nil)},
			{"users", "name", "character varying", schema.Ptr(50), true, schema.Ptr("'anon'::character varying")},
		},
		primaryKeysQuery: {{"orders", "id"}, {"users", "id"}},
		foreignKeysQuery: {{"orders", "user_id", "users", "id", "NO ACTION", "CASCADE"}},
		policiesQuery: {
			{"orders", "own", true, []string{"public"}, "SELECT", "(user_id = 1)", ""},
		},
		columnPrivilegesQuery: {
			{"users", "name", "reporting", "SELECT"},
			{"users", "name", "app", "UPDATE"},
		},
	}}
}

func TestIntrospect(t *testing.T) {
	s, err := Introspect(context.Background(), catalog(), database.IntrospectOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"empty", "orders", "users"}, s.TableNames())
	assert.Empty(t, s.Tables["empty"].Columns)

	users := s.Tables["users"]
	assert.True(t, users.Columns["id"].IsPrimaryKey)
	assert.False(t, users.Columns["name"].IsPrimaryKey)
	assert.Equal(t, 50, *users.Columns["name"].MaxLength)
	assert.Equal(t, sqlexpr.Canonical("'anon'::varchar"), *users.Columns["name"].DefaultValue)
	assert.Nil(t, users.Columns["name"].Permissions, "grants are only read in extended mode")

	orders := s.Tables["orders"]
	fk, ok := orders.ForeignKey("user_id")
	require.True(t, ok)
	assert.Equal(t, schema.ForeignKeyInfo{
		ColumnName: "user_id", ReferenceTable: "users", ReferenceColumn: "id",
		UpdateRule: schema.NoAction, DeleteRule: schema.Cascade,
	}, fk)
	assert.Nil(t, orders.Policies)
}

func TestIntrospect_Extended(t *testing.T) {
	s, err := Introspect(context.Background(), catalog(), database.IntrospectOptions{Extended: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"app:UPDATE", "reporting:SELECT"}, s.Tables["users"].Columns["name"].Permissions)
	require.Len(t, s.Tables["orders"].Policies, 1)
	p := s.Tables["orders"].Policies[0]
	assert.Equal(t, "own", p.Name)
	assert.Equal(t, []string{"public"}, p.Roles)
	assert.Equal(t, sqlexpr.Canonical("user_id = 1"), p.Using)
}

func TestIntrospect_FailureIsIntrospectionError(t *testing.T) {
	q := catalog()
	q.fail = map[string]error{foreignKeysQuery: mapError(&pgconn.PgError{Code: "42501", Message: "denied"}, "query failed")}

	_, err := Introspect(context.Background(), q, database.IntrospectOptions{})
	require.Error(t, err)
	assert.True(t, errs.IsIntrospection(err))
	assert.Contains(t, err.Error(), "read foreign keys")
}
