package sqlite

import (
	"context"
	"database/sql"
	"regexp"
	"strconv"
	"strings"

	"github.com/koustreak/driftbox/internal/database"
	"github.com/koustreak/driftbox/internal/errs"
	"github.com/koustreak/driftbox/internal/schema"
	"github.com/koustreak/driftbox/internal/sqlexpr"
)

const (
	tablesQuery = `
		SELECT name
		FROM sqlite_master
		WHERE type = 'table'
		  AND name NOT LIKE 'sqlite_%'
		ORDER BY name`

	columnsQuery = `
		SELECT name, type, "notnull", dflt_value, pk
		FROM pragma_table_info(?)
		ORDER BY cid`

	foreignKeysQuery = `
		SELECT "from", "table", "to", on_update, on_delete
		FROM pragma_foreign_key_list(?)
		ORDER BY id, seq`
)

// declaredType splits "VARCHAR(50)" into its name and length.
var declaredType = regexp.MustCompile(`^\s*([^(]*?)\s*(?:\(\s*(\d+)\s*(?:,\s*\d+\s*)?\))?\s*$`)

// Introspect reads tables, columns and keys through the PRAGMA table-valued
// functions. SQLite has no schemas or row-level security; opts is ignored.
func Introspect(ctx context.Context, q database.Querier, _ database.IntrospectOptions) (*schema.DatabaseSchema, error) {
	rows, err := q.Query(ctx, tablesQuery)
	if err != nil {
		return nil, introspectionError("list tables", err)
	}
	tables, err := database.ScanStrings(rows)
	if err != nil {
		return nil, introspectionError("list tables", err)
	}

	s := schema.New()
	for _, name := range tables {
		if err := readColumns(ctx, q, name, s.Table(name)); err != nil {
			return nil, introspectionError("read columns of "+name, err)
		}
	}
	for _, name := range tables {
		if err := readForeignKeys(ctx, q, name, s); err != nil {
			return nil, introspectionError("read foreign keys of "+name, err)
		}
	}

	return sqlexpr.NormalizeSchema(s.Normalize()), nil
}

func readColumns(ctx context.Context, q database.Querier, table string, t *schema.TableInfo) error {
	rows, err := q.Query(ctx, columnsQuery, table)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			name, declared string
			notNull, pk    int
			def            sql.NullString
		)
		if err := rows.Scan(&name, &declared, &notNull, &def, &pk); err != nil {
			return err
		}
		typ, length := splitType(declared)
		col := &schema.ColumnInfo{
			Type:         typ,
			MaxLength:    length,
			IsNullable:   notNull == 0 && pk == 0,
			IsPrimaryKey: pk > 0,
		}
		if def.Valid {
			col.DefaultValue = &def.String
		}
		t.Columns[name] = col
	}
	return rows.Err()
}

func readForeignKeys(ctx context.Context, q database.Querier, table string, s *schema.DatabaseSchema) error {
	rows, err := q.Query(ctx, foreignKeysQuery, table)
	if err != nil {
		return err
	}
	defer rows.Close()

	t := s.Tables[table]
	for rows.Next() {
		var (
			col, refTable      string
			refCol             sql.NullString
			onUpdate, onDelete string
		)
		if err := rows.Scan(&col, &refTable, &refCol, &onUpdate, &onDelete); err != nil {
			return err
		}
		if _, exists := t.ForeignKey(col); exists {
			continue
		}
		fk := schema.ForeignKeyInfo{
			ColumnName:      col,
			ReferenceTable:  refTable,
			ReferenceColumn: refCol.String,
			UpdateRule:      schema.ParseReferentialAction(onUpdate),
			DeleteRule:      schema.ParseReferentialAction(onDelete),
		}
		// REFERENCES t without a column list targets t's primary key.
		if !refCol.Valid || fk.ReferenceColumn == "" {
			if ref, ok := s.Tables[refTable]; ok {
				if pk := ref.PrimaryKey(); len(pk) == 1 {
					fk.ReferenceColumn = pk[0]
				}
			}
		}
		t.ForeignKeys = append(t.ForeignKeys, fk)
	}
	return rows.Err()
}

// splitType separates a declared type from its length modifier. SQLite
// accepts any declared type, so only lengths on character types are kept.
func splitType(declared string) (string, *int) {
	m := declaredType.FindStringSubmatch(declared)
	if m == nil {
		return strings.TrimSpace(declared), nil
	}
	name := schema.CanonicalType(m[1])
	if m[2] == "" || !schema.SupportsLength(name) {
		return name, nil
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return name, nil
	}
	return name, &n
}

func introspectionError(what string, err error) error {
	return errs.Wrap(errs.ErrKindIntrospection, "sqlite: "+what, err)
}
