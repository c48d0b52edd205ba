// Package schema is the normalized description of a relational schema that
// every introspector produces and every other component consumes: tables,
// columns, single-column foreign keys and, in the extended variant,
// row-level-security policies and column grants.
//
// Column maps are unordered; use TableInfo.ColumnNames and
// DatabaseSchema.TableNames for deterministic iteration.
package schema
