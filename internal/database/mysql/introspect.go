package mysql

import (
	"context"
	"strings"

	"github.com/koustreak/driftbox/internal/database"
	"github.com/koustreak/driftbox/internal/errs"
	"github.com/koustreak/driftbox/internal/schema"
	"github.com/koustreak/driftbox/internal/sqlexpr"
)

const (
	tablesQuery = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = COALESCE(NULLIF(?, ''), DATABASE())
		  AND table_type   = 'BASE TABLE'
		ORDER BY table_name`

	columnsQuery = `
		SELECT c.table_name,
		       c.column_name,
		       c.data_type,
		       c.character_maximum_length,
		       c.is_nullable = 'YES',
		       c.column_default,
		       c.column_key = 'PRI'
		FROM information_schema.columns c
		JOIN information_schema.tables t
		  ON t.table_schema = c.table_schema
		 AND t.table_name   = c.table_name
		WHERE c.table_schema = COALESCE(NULLIF(?, ''), DATABASE())
		  AND t.table_type   = 'BASE TABLE'
		ORDER BY c.table_name, c.ordinal_position`

	foreignKeysQuery = `
		SELECT kcu.table_name,
		       kcu.column_name,
		       kcu.referenced_table_name,
		       kcu.referenced_column_name,
		       rc.update_rule,
		       rc.delete_rule
		FROM information_schema.key_column_usage kcu
		JOIN information_schema.referential_constraints rc
		  ON rc.constraint_schema = kcu.constraint_schema
		 AND rc.constraint_name   = kcu.constraint_name
		WHERE kcu.table_schema = COALESCE(NULLIF(?, ''), DATABASE())
		  AND kcu.referenced_table_name IS NOT NULL
		ORDER BY kcu.table_name, kcu.column_name`
)

// Introspect reads tables, columns and keys of the connection's database
// (or opts.Schema). MySQL has no row-level security; opts.Extended is
// ignored.
func Introspect(ctx context.Context, q database.Querier, opts database.IntrospectOptions) (*schema.DatabaseSchema, error) {
	s := schema.New()

	rows, err := q.Query(ctx, tablesQuery, opts.Schema)
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

	if err := readColumns(ctx, q, opts.Schema, s); err != nil {
		return nil, introspectionError("read columns", err)
	}
	if err := readForeignKeys(ctx, q, opts.Schema, s); err != nil {
		return nil, introspectionError("read foreign keys", err)
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
			maxLen           *int64
			nullable, pk     bool
			def              *string
		)
		if err := rows.Scan(&table, &name, &typ, &maxLen, &nullable, &def, &pk); err != nil {
			return err
		}
		col := &schema.ColumnInfo{
			Type:         typ,
			IsNullable:   nullable,
			DefaultValue: def,
			IsPrimaryKey: pk,
		}
		if maxLen != nil && schema.SupportsLength(schema.CanonicalType(typ)) {
			n := int(*maxLen)
			col.MaxLength = &n
		}
		s.Table(table).Columns[name] = col
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
		if _, exists := t.ForeignKey(col); exists {
			continue
		}
		t.ForeignKeys = append(t.ForeignKeys, schema.ForeignKeyInfo{
			ColumnName:      col,
			ReferenceTable:  refTable,
			ReferenceColumn: refCol,
			UpdateRule:      schema.ParseReferentialAction(strings.TrimSpace(onUpdate)),
			DeleteRule:      schema.ParseReferentialAction(strings.TrimSpace(onDelete)),
		})
	}
	return rows.Err()
}

func introspectionError(what string, err error) error {
	return errs.Wrap(errs.ErrKindIntrospection, "mysql: "+what, err)
}
