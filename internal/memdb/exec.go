package memdb

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/koustreak/driftbox/internal/ddl"
	"github.com/koustreak/driftbox/internal/errs"
	"github.com/koustreak/driftbox/internal/schema"
	"github.com/koustreak/driftbox/internal/sqlexpr"
)

func (db *DB) exec(stmt *pg_query.Node) error {
	switch n := stmt.GetNode().(type) {
	case *pg_query.Node_CreateStmt:
		return db.createTable(n.CreateStmt)
	case *pg_query.Node_AlterTableStmt:
		return db.alterTable(n.AlterTableStmt)
	case *pg_query.Node_DropStmt:
		return db.drop(n.DropStmt)
	case *pg_query.Node_RenameStmt:
		return db.rename(n.RenameStmt)
	case *pg_query.Node_CreatePolicyStmt:
		return db.createPolicy(n.CreatePolicyStmt)
	case *pg_query.Node_GrantStmt:
		return db.grant(n.GrantStmt)
	case *pg_query.Node_SelectStmt, *pg_query.Node_InsertStmt, *pg_query.Node_UpdateStmt,
		*pg_query.Node_DeleteStmt, *pg_query.Node_TruncateStmt, *pg_query.Node_IndexStmt,
		*pg_query.Node_CommentStmt, *pg_query.Node_CreateSeqStmt, *pg_query.Node_AlterSeqStmt,
		*pg_query.Node_VariableSetStmt, *pg_query.Node_TransactionStmt, *pg_query.Node_CreateExtensionStmt:
		return nil
	}
	return errs.Newf(errs.ErrKindQueryFailed, "unsupported statement %s", statementName(stmt))
}

func statementName(n *pg_query.Node) string {
	return strings.TrimPrefix(fmt.Sprintf("%T", n.GetNode()), "*pg_query.Node_")
}

// pendingKey is a key constraint applied once every column of the
// statement exists. column is set for column-level constraints.
type pendingKey struct {
	column string
	c      *pg_query.Constraint
}

func (db *DB) createTable(stmt *pg_query.CreateStmt) error {
	name, err := relationName(stmt.GetRelation())
	if err != nil {
		return err
	}
	if _, exists := db.tables[name]; exists {
		if stmt.GetIfNotExists() {
			return nil
		}
		return errs.Newf(errs.ErrKindQueryFailed, "relation %q already exists", name)
	}

	t := newTable()
	db.tables[name] = t

	var keys []pendingKey
	for _, elt := range stmt.GetTableElts() {
		switch e := elt.GetNode().(type) {
		case *pg_query.Node_ColumnDef:
			pending, err := db.addColumn(name, t, e.ColumnDef)
			if err != nil {
				return err
			}
			keys = append(keys, pending...)
		case *pg_query.Node_Constraint:
			keys = append(keys, pendingKey{c: e.Constraint})
		}
	}
	for _, k := range keys {
		if err := db.addConstraint(name, t, k); err != nil {
			return err
		}
	}
	return nil
}

// addColumn creates the column and returns its key constraints unapplied.
func (db *DB) addColumn(table string, t *table, def *pg_query.ColumnDef) ([]pendingKey, error) {
	name := def.GetColname()
	if _, exists := t.columns[name]; exists {
		return nil, errs.Newf(errs.ErrKindQueryFailed, "column %q of relation %q already exists", name, table)
	}

	typ, length, serial := typeOf(def.GetTypeName())
	col := &schema.ColumnInfo{Type: typ, MaxLength: length, IsNullable: !def.GetIsNotNull()}
	if serial {
		col.IsNullable = false
		col.DefaultValue = schema.Ptr(sqlexpr.Canonical(ddl.SerialDefault(table, name)))
	}
	if raw := def.GetRawDefault(); raw != nil {
		expr, err := deparse(raw)
		if err != nil {
			return nil, err
		}
		col.DefaultValue = &expr
	}

	var keys []pendingKey
	for _, n := range def.GetConstraints() {
		c := n.GetConstraint()
		if c == nil {
			continue
		}
		switch c.GetContype() {
		case pg_query.ConstrType_CONSTR_NOTNULL, pg_query.ConstrType_CONSTR_IDENTITY:
			col.IsNullable = false
		case pg_query.ConstrType_CONSTR_NULL:
			col.IsNullable = true
		case pg_query.ConstrType_CONSTR_DEFAULT:
			expr, err := deparse(c.GetRawExpr())
			if err != nil {
				return nil, err
			}
			col.DefaultValue = &expr
		case pg_query.ConstrType_CONSTR_PRIMARY, pg_query.ConstrType_CONSTR_FOREIGN:
			keys = append(keys, pendingKey{column: name, c: c})
		}
	}

	t.columns[name] = col
	return keys, nil
}

// addConstraint applies primary and foreign keys. UNIQUE, CHECK and
// EXCLUDE carry no modelled state.
func (db *DB) addConstraint(table string, t *table, k pendingKey) error {
	switch k.c.GetContype() {
	case pg_query.ConstrType_CONSTR_PRIMARY:
		cols := stringList(k.c.GetKeys())
		if k.column != "" {
			cols = []string{k.column}
		}
		return addPrimaryKey(table, t, k.c.GetConname(), cols)
	case pg_query.ConstrType_CONSTR_FOREIGN:
		cols := stringList(k.c.GetFkAttrs())
		if k.column != "" {
			cols = []string{k.column}
		}
		return db.addForeignKey(table, t, k.c, cols)
	}
	return nil
}

func addPrimaryKey(table string, t *table, name string, cols []string) error {
	if t.pkName != "" {
		return errs.Newf(errs.ErrKindQueryFailed, "multiple primary keys for table %q are not allowed", table)
	}
	if len(cols) == 0 {
		return errs.Newf(errs.ErrKindQueryFailed, "primary key on %q names no columns", table)
	}
	for _, col := range cols {
		if _, err := t.column(table, col); err != nil {
			return err
		}
	}
	if name == "" {
		name = ddl.PrimaryKeyName(table)
	}
	if t.hasConstraint(name) {
		return errs.Newf(errs.ErrKindQueryFailed, "constraint %q for relation %q already exists", name, table)
	}

	for _, col := range cols {
		c := t.columns[col]
		c.IsPrimaryKey = true
		c.IsNullable = false
	}
	t.pkName = name
	return nil
}

func (db *DB) addForeignKey(table string, t *table, c *pg_query.Constraint, cols []string) error {
	if len(cols) != 1 {
		return errs.Newf(errs.ErrKindQueryFailed, "foreign key on %q: only single-column keys are supported", table)
	}
	col := cols[0]
	if _, err := t.column(table, col); err != nil {
		return err
	}

	refTable, err := relationName(c.GetPktable())
	if err != nil {
		return err
	}
	ref, ok := db.tables[refTable]
	if !ok {
		return undefinedTable(refTable)
	}
	refCols := stringList(c.GetPkAttrs())
	if len(refCols) == 0 {
		refCols = ref.primaryKey()
		if len(refCols) == 0 {
			return errs.Newf(errs.ErrKindQueryFailed, "there is no primary key for referenced table %q", refTable)
		}
	}
	if len(refCols) != 1 {
		return errs.Newf(errs.ErrKindQueryFailed, "number of referencing and referenced columns for foreign key on %q disagree", table)
	}
	if _, err := ref.column(refTable, refCols[0]); err != nil {
		return err
	}

	name := c.GetConname()
	if name == "" {
		name = ddl.ForeignKeyName(table, col)
	}
	if t.hasConstraint(name) {
		return errs.Newf(errs.ErrKindQueryFailed, "constraint %q for relation %q already exists", name, table)
	}

	t.foreignKeys[name] = schema.ForeignKeyInfo{
		ColumnName:      col,
		ReferenceTable:  refTable,
		ReferenceColumn: refCols[0],
		UpdateRule:      referentialAction(c.GetFkUpdAction()),
		DeleteRule:      referentialAction(c.GetFkDelAction()),
	}
	return nil
}

func (db *DB) alterTable(stmt *pg_query.AlterTableStmt) error {
	if stmt.GetObjtype() != pg_query.ObjectType_OBJECT_TABLE {
		return nil
	}
	name, err := relationName(stmt.GetRelation())
	if err != nil {
		return err
	}
	t, ok := db.tables[name]
	if !ok {
		if stmt.GetMissingOk() {
			return nil
		}
		return undefinedTable(name)
	}

	for _, n := range stmt.GetCmds() {
		if err := db.alterTableCmd(name, t, n.GetAlterTableCmd()); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) alterTableCmd(table string, t *table, cmd *pg_query.AlterTableCmd) error {
	cascade := cmd.GetBehavior() == pg_query.DropBehavior_DROP_CASCADE

	switch cmd.GetSubtype() {
	case pg_query.AlterTableType_AT_AddColumn:
		def := cmd.GetDef().GetColumnDef()
		if _, exists := t.columns[def.GetColname()]; exists && cmd.GetMissingOk() {
			return nil
		}
		keys, err := db.addColumn(table, t, def)
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := db.addConstraint(table, t, k); err != nil {
				return err
			}
		}
		return nil

	case pg_query.AlterTableType_AT_DropColumn:
		return db.dropColumn(table, t, cmd.GetName(), cmd.GetMissingOk(), cascade)

	case pg_query.AlterTableType_AT_AddConstraint:
		return db.addConstraint(table, t, pendingKey{c: cmd.GetDef().GetConstraint()})

	case pg_query.AlterTableType_AT_DropConstraint:
		return db.dropConstraint(table, t, cmd.GetName(), cmd.GetMissingOk(), cascade)

	case pg_query.AlterTableType_AT_EnableRowSecurity, pg_query.AlterTableType_AT_ForceRowSecurity:
		t.rls = true
		return nil

	case pg_query.AlterTableType_AT_DisableRowSecurity:
		t.rls = false
		return nil
	}

	return alterColumn(table, t, cmd)
}

func alterColumn(table string, t *table, cmd *pg_query.AlterTableCmd) error {
	switch cmd.GetSubtype() {
	case pg_query.AlterTableType_AT_AlterColumnType,
		pg_query.AlterTableType_AT_SetNotNull,
		pg_query.AlterTableType_AT_DropNotNull,
		pg_query.AlterTableType_AT_ColumnDefault:
	default:
		return nil
	}

	col, err := t.column(table, cmd.GetName())
	if err != nil {
		return err
	}

	switch cmd.GetSubtype() {
	case pg_query.AlterTableType_AT_AlterColumnType:
		// The USING expression converts data, which is not modelled.
		col.Type, col.MaxLength, _ = typeOf(cmd.GetDef().GetColumnDef().GetTypeName())
	case pg_query.AlterTableType_AT_SetNotNull:
		col.IsNullable = false
	case pg_query.AlterTableType_AT_DropNotNull:
		if col.IsPrimaryKey {
			return errs.Newf(errs.ErrKindQueryFailed, "column %q is in a primary key", cmd.GetName())
		}
		col.IsNullable = true
	case pg_query.AlterTableType_AT_ColumnDefault:
		if cmd.GetDef() == nil {
			col.DefaultValue = nil
			return nil
		}
		expr, err := deparse(cmd.GetDef())
		if err != nil {
			return err
		}
		col.DefaultValue = &expr
	}
	return nil
}

func (db *DB) dropColumn(table string, t *table, name string, missingOK, cascade bool) error {
	col, ok := t.columns[name]
	if !ok {
		if missingOK {
			return nil
		}
		return undefinedColumn(table, name)
	}

	// Dropping a key column drops the whole primary key.
	affected := map[string]bool{name: true}
	if col.IsPrimaryKey {
		for _, c := range t.primaryKey() {
			affected[c] = true
		}
	}
	deps := db.referencing(table, affected)
	if len(deps) > 0 && !cascade {
		return errs.Newf(errs.ErrKindQueryFailed, "cannot drop column %q of table %q because other objects depend on it", name, table)
	}
	db.dropKeys(deps)

	for fkName, fk := range t.foreignKeys {
		if fk.ColumnName == name {
			delete(t.foreignKeys, fkName)
		}
	}
	if col.IsPrimaryKey {
		for _, c := range t.columns {
			c.IsPrimaryKey = false
		}
		t.pkName = ""
	}
	delete(t.columns, name)
	return nil
}

func (db *DB) dropConstraint(table string, t *table, name string, missingOK, cascade bool) error {
	if name != "" && name == t.pkName {
		pk := make(map[string]bool)
		for _, c := range t.primaryKey() {
			pk[c] = true
		}
		deps := db.referencing(table, pk)
		if len(deps) > 0 && !cascade {
			return errs.Newf(errs.ErrKindQueryFailed, "cannot drop constraint %q on table %q because other objects depend on it", name, table)
		}
		db.dropKeys(deps)
		for c := range pk {
			t.columns[c].IsPrimaryKey = false
		}
		t.pkName = ""
		return nil
	}

	if _, ok := t.foreignKeys[name]; ok {
		delete(t.foreignKeys, name)
		return nil
	}
	if missingOK {
		return nil
	}
	return errs.Newf(errs.ErrKindQueryFailed, "constraint %q of relation %q does not exist", name, table)
}

// keyRef names one foreign key constraint.
type keyRef struct {
	table, name string
}

// referencing lists the foreign keys, in any table, that point at one of
// cols of table.
func (db *DB) referencing(table string, cols map[string]bool) []keyRef {
	var refs []keyRef
	for name, t := range db.tables {
		for fkName, fk := range t.foreignKeys {
			if fk.ReferenceTable == table && cols[fk.ReferenceColumn] {
				refs = append(refs, keyRef{table: name, name: fkName})
			}
		}
	}
	return refs
}

func (db *DB) dropKeys(refs []keyRef) {
	for _, r := range refs {
		if t, ok := db.tables[r.table]; ok {
			delete(t.foreignKeys, r.name)
		}
	}
}

func (db *DB) drop(stmt *pg_query.DropStmt) error {
	missingOK := stmt.GetMissingOk()
	cascade := stmt.GetBehavior() == pg_query.DropBehavior_DROP_CASCADE

	switch stmt.GetRemoveType() {
	case pg_query.ObjectType_OBJECT_TABLE:
		for _, obj := range stmt.GetObjects() {
			name, err := qualifiedName(stringList(obj.GetList().GetItems()))
			if err != nil {
				return err
			}
			if err := db.dropTable(name, missingOK, cascade); err != nil {
				return err
			}
		}

	case pg_query.ObjectType_OBJECT_POLICY:
		for _, obj := range stmt.GetObjects() {
			// The policy name follows the qualified table name.
			names := stringList(obj.GetList().GetItems())
			if len(names) < 2 {
				return errs.New(errs.ErrKindQueryFailed, "DROP POLICY needs a table")
			}
			policy := names[len(names)-1]
			table, err := qualifiedName(names[:len(names)-1])
			if err != nil {
				return err
			}
			t, ok := db.tables[table]
			if !ok {
				if missingOK {
					continue
				}
				return undefinedTable(table)
			}
			if _, ok := t.policies[policy]; !ok {
				if missingOK {
					continue
				}
				return errs.Newf(errs.ErrKindQueryFailed, "policy %q for table %q does not exist", policy, table)
			}
			delete(t.policies, policy)
		}
	}
	return nil
}

func (db *DB) dropTable(name string, missingOK, cascade bool) error {
	t, ok := db.tables[name]
	if !ok {
		if missingOK {
			return nil
		}
		return undefinedTable(name)
	}

	all := make(map[string]bool, len(t.columns))
	for c := range t.columns {
		all[c] = true
	}
	var deps []keyRef
	for _, r := range db.referencing(name, all) {
		if r.table != name {
			deps = append(deps, r)
		}
	}
	if len(deps) > 0 && !cascade {
		return errs.Newf(errs.ErrKindQueryFailed, "cannot drop table %q because other objects depend on it", name)
	}
	db.dropKeys(deps)
	delete(db.tables, name)
	return nil
}

func (db *DB) rename(stmt *pg_query.RenameStmt) error {
	switch stmt.GetRenameType() {
	case pg_query.ObjectType_OBJECT_TABLE, pg_query.ObjectType_OBJECT_COLUMN,
		pg_query.ObjectType_OBJECT_TABCONSTRAINT, pg_query.ObjectType_OBJECT_POLICY:
	default:
		return nil
	}

	table, err := relationName(stmt.GetRelation())
	if err != nil {
		return err
	}
	t, ok := db.tables[table]
	if !ok {
		if stmt.GetMissingOk() {
			return nil
		}
		return undefinedTable(table)
	}
	from, to := stmt.GetSubname(), stmt.GetNewname()

	switch stmt.GetRenameType() {
	case pg_query.ObjectType_OBJECT_TABLE:
		if _, exists := db.tables[to]; exists {
			return errs.Newf(errs.ErrKindQueryFailed, "relation %q already exists", to)
		}
		delete(db.tables, table)
		db.tables[to] = t
		for _, other := range db.tables {
			for name, fk := range other.foreignKeys {
				if fk.ReferenceTable == table {
					fk.ReferenceTable = to
					other.foreignKeys[name] = fk
				}
			}
		}

	case pg_query.ObjectType_OBJECT_COLUMN:
		col, err := t.column(table, from)
		if err != nil {
			return err
		}
		if _, exists := t.columns[to]; exists {
			return errs.Newf(errs.ErrKindQueryFailed, "column %q of relation %q already exists", to, table)
		}
		delete(t.columns, from)
		t.columns[to] = col
		for name, fk := range t.foreignKeys {
			if fk.ColumnName == from {
				fk.ColumnName = to
				t.foreignKeys[name] = fk
			}
		}
		for _, other := range db.tables {
			for name, fk := range other.foreignKeys {
				if fk.ReferenceTable == table && fk.ReferenceColumn == from {
					fk.ReferenceColumn = to
					other.foreignKeys[name] = fk
				}
			}
		}

	case pg_query.ObjectType_OBJECT_TABCONSTRAINT:
		if t.hasConstraint(to) {
			return errs.Newf(errs.ErrKindQueryFailed, "constraint %q for relation %q already exists", to, table)
		}
		switch fk, ok := t.foreignKeys[from]; {
		case from != "" && from == t.pkName:
			t.pkName = to
		case ok:
			delete(t.foreignKeys, from)
			t.foreignKeys[to] = fk
		default:
			return errs.Newf(errs.ErrKindQueryFailed, "constraint %q of relation %q does not exist", from, table)
		}

	case pg_query.ObjectType_OBJECT_POLICY:
		p, ok := t.policies[from]
		if !ok {
			return errs.Newf(errs.ErrKindQueryFailed, "policy %q for table %q does not exist", from, table)
		}
		if _, exists := t.policies[to]; exists {
			return errs.Newf(errs.ErrKindQueryFailed, "policy %q for table %q already exists", to, table)
		}
		delete(t.policies, from)
		p.Name = to
		t.policies[to] = p
	}
	return nil
}

func (db *DB) createPolicy(stmt *pg_query.CreatePolicyStmt) error {
	table, err := relationName(stmt.GetTable())
	if err != nil {
		return err
	}
	t, ok := db.tables[table]
	if !ok {
		return undefinedTable(table)
	}
	name := stmt.GetPolicyName()
	if _, exists := t.policies[name]; exists {
		return errs.Newf(errs.ErrKindQueryFailed, "policy %q for table %q already exists", name, table)
	}

	p := schema.Policy{
		Name:       name,
		Command:    strings.ToUpper(stmt.GetCmdName()),
		Permissive: stmt.GetPermissive(),
	}
	if p.Command == "" {
		p.Command = "ALL"
	}
	for _, r := range stmt.GetRoles() {
		p.Roles = append(p.Roles, roleName(r.GetRoleSpec(), schema.PublicRole))
	}
	if q := stmt.GetQual(); q != nil {
		if p.Using, err = deparse(q); err != nil {
			return err
		}
	}
	if wc := stmt.GetWithCheck(); wc != nil {
		if p.WithCheck, err = deparse(wc); err != nil {
			return err
		}
	}
	t.policies[name] = p
	return nil
}
