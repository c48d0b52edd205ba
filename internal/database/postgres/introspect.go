package postgres

import (
	"context"
	"fmt"

	"github.com/koustreak/driftbox/internal/database"
	"github.com/koustreak/driftbox/internal/errs"
	"github.com/koustreak/driftbox/internal/schema"
	"github.com/koustreak/driftbox/internal/sqlexpr"
)

const defaultSchema = "public"

// Every identifier column is cast to text: information_schema exposes
// domains (sql_identifier, cardinal_number) that pgx has no codec for.
const (
	tablesQuery = `
		SELECT table_name::text
		FROM information_schema.tables
		WHERE table_schema = $1
		  AND table_type   = 'BASE TABLE'
		ORDER BY table_name`

	columnsQuery = `
		SELECT c.table_name::text,
		       c.column_name::text,
		       CASE
		           WHEN c.data_type = 'USER-DEFINED' THEN c.udt_name::text
		           WHEN c.data_type = 'ARRAY'        THEN substr(c.udt_name::text, 2) || '[]'
		           ELSE c.data_type::text
		       END,
		       c.character_maximum_length::int,
		       c.is_nullable = 'YES',
		       c.column_default::text
		FROM information_schema.columns c
		JOIN information_schema.tables t
		  ON t.table_schema = c.table_schema
		 AND t.table_name   = c.table_name
		WHERE c.table_schema = $1
		  AND t.table_type   = 'BASE TABLE'
		ORDER BY c.table_name, c.ordinal_position`

	primaryKeysQuery = `
		SELECT tc.table_name::text, kcu.column_name::text
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name
		 AND tc.table_schema    = kcu.table_schema
		 AND tc.table_name      = kcu.table_name
		WHERE tc.constraint_type = 'PRIMARY KEY'
		  AND tc.table_schema    = $1
		ORDER BY tc.table_name, kcu.ordinal_position`

	foreignKeysQuery = `
		SELECT kcu.table_name::text,
		       kcu.column_name::text,
		       ccu.table_name::text,
		       ccu.column_name::text,
		       rc.update_rule::text,
		       rc.delete_rule::text
		FROM information_schema.referential_constraints rc
		JOIN information_schema.key_column_usage kcu
		  ON kcu.constraint_schema = rc.constraint_schema
		 AND kcu.constraint_name   = rc.constraint_name
		JOIN information_schema.constraint_column_usage ccu
		  ON ccu.constraint_schema = rc.unique_constraint_schema
		 AND ccu.constraint_name   = rc.unique_constraint_name
		WHERE rc.constraint_schema = $1
		ORDER BY kcu.table_name, kcu.column_name`

	policiesQuery = `
		SELECT tablename::text,
		       policyname::text,
		       permissive = 'PERMISSIVE',
		       roles::text[],
		       cmd::text,
		       COALESCE(qual, ''),
		       COALESCE(with_check, '')
		FROM pg_policies
		WHERE schemaname = $1
		ORDER BY tablename, policyname`

	// The table owner holds every privilege implicitly; listing those
	// would make every owned column look granted.
	columnPrivilegesQuery = `
		SELECT cp.table_name::text,
		       cp.column_name::text,
		       cp.grantee::text,
		       cp.privilege_type::text
		FROM information_schema.column_privileges cp
		JOIN pg_tables pt
		  ON pt.schemaname = cp.table_schema
		 AND pt.tablename  = cp.table_name
		WHERE cp.table_schema = $1
		  AND cp.grantee::text <> pt.tableowner::text
		ORDER BY cp.table_name, cp.column_name, cp.grantee, cp.privilege_type`
)

// step fills one aspect of s from the catalog.
type step struct {
	name string
	run  func(ctx context.Context, q database.Querier, ns string, s *schema.DatabaseSchema) error
}

// Introspect reads tables, columns, primary and foreign keys (and, when
// opts.Extended is set, policies and column grants) through q. q may be a
// Driver or an open transaction.
func Introspect(ctx context.Context, q database.Querier, opts database.IntrospectOptions) (*schema.DatabaseSchema, error) {
	ns := opts.Schema
	if ns == "" {
		ns = defaultSchema
	}

	s := schema.New()

	rows, err := q.Query(ctx, tablesQuery, ns)
	if err != nil {
		return nil, introspectionError("list tables", err)
	}
	tables, err := database.ScanStrings(rows)
	if err != nil {
		return nil, introspectionError("list tables", err)
	}
	for _, name := range tables {
		s.Table(name)
	}

	steps := []step{
		{"read columns", readColumns},
		{"read primary keys", readPrimaryKeys},
		{"read foreign keys", readForeignKeys},
	}
	if opts.Extended {
		steps = append(steps,
			step{"read policies", readPolicies},
			step{"read column privileges", readColumnPrivileges},
		)
	}
	for _, st := range steps {
		if err := st.run(ctx, q, ns, s); err != nil {
			return nil, introspectionError(st.name, err)
		}
	}

	return sqlexpr.NormalizeSchema(s.Normalize()), nil
}

func readColumns(ctx context.Context, q database.Querier, ns string, s *schema.DatabaseSchema) error {
	rows, err := q.Query(ctx, columnsQuery, ns)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			table, name, typ string
			maxLen           *int
			nullable         bool
			def              *string
		)
		if err := rows.Scan(&table, &name, &typ, &maxLen, &nullable, &def); err != nil {
			return err
		}
		s.Table(table).Columns[name] = &schema.ColumnInfo{
			Type:         typ,
			MaxLength:    maxLen,
			IsNullable:   nullable,
			DefaultValue: def,
		}
	}
	return rows.Err()
}

func readPrimaryKeys(ctx context.Context, q database.Querier, ns string, s *schema.DatabaseSchema) error {
	rows, err := q.Query(ctx, primaryKeysQuery, ns)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var table, col string
		if err := rows.Scan(&table, &col); err != nil {
			return err
		}
		if c, ok := s.Table(table).Columns[col]; ok {
			c.IsPrimaryKey = true
		}
	}
	return rows.Err()
}

func readForeignKeys(ctx context.Context, q database.Querier, ns string, s *schema.DatabaseSchema) error {
	rows, err := q.Query(ctx, foreignKeysQuery, ns)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var table, col, refTable, refCol, onUpdate, onDelete string
		if err := rows.Scan(&table, &col, &refTable, &refCol, &onUpdate, &onDelete); err != nil {
			return err
		}
		t := s.Table(table)
		// One key per column; a multi-column key contributes its first row.
		if _, exists := t.ForeignKey(col); exists {
			continue
		}
		t.ForeignKeys = append(t.ForeignKeys, schema.ForeignKeyInfo{
			ColumnName:      col,
			ReferenceTable:  refTable,
			ReferenceColumn: refCol,
			UpdateRule:      schema.ParseReferentialAction(onUpdate),
			DeleteRule:      schema.ParseReferentialAction(onDelete),
		})
	}
	return rows.Err()
}

func readPolicies(ctx context.Context, q database.Querier, ns string, s *schema.DatabaseSchema) error {
	rows, err := q.Query(ctx, policiesQuery, ns)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var table string
		var p schema.Policy
		if err := rows.Scan(&table, &p.Name, &p.Permissive, &p.Roles, &p.Command, &p.Using, &p.WithCheck); err != nil {
			return err
		}
		t := s.Table(table)
		t.Policies = append(t.Policies, p)
	}
	return rows.Err()
}

func readColumnPrivileges(ctx context.Context, q database.Querier, ns string, s *schema.DatabaseSchema) error {
	rows, err := q.Query(ctx, columnPrivilegesQuery, ns)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var table, col, grantee, privilege string
		if err := rows.Scan(&table, &col, &grantee, &privilege); err != nil {
			return err
		}
		if c, ok := s.Table(table).Columns[col]; ok {
			c.Permissions = append(c.Permissions, fmt.Sprintf("%s:%s", grantee, privilege))
		}
	}
	return rows.Err()
}

func introspectionError(what string, err error) error {
	return errs.Wrap(errs.ErrKindIntrospection, "postgres: "+what, err)
}
