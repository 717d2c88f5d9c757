package vectorizer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// DB is the subset of *sql.DB / *sql.Tx the vectorizer package needs.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// PKColumn is one member of the source table's primary key, in key order.
type PKColumn struct {
	AttNum  int    `json:"attnum"`
	AttName string `json:"attname"`
	AttType string `json:"attype"`
	PKNum   int    `json:"pknum"`
}

// ErrNoPrimaryKey indicates the source table has no primary key.
var ErrNoPrimaryKey = errors.New("source table has no primary key")

// SourcePK derives the primary key columns of a table, preserving key order.
func SourcePK(ctx context.Context, db DB, schema, table string) ([]PKColumn, error) {
	query := `
		SELECT a.attnum, a.attname, pg_catalog.format_type(a.atttypid, a.atttypmod), k.ord
		FROM pg_catalog.pg_class c
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		JOIN pg_catalog.pg_index i ON i.indrelid = c.oid AND i.indisprimary
		JOIN LATERAL unnest(i.indkey) WITH ORDINALITY AS k(attnum, ord) ON true
		JOIN pg_catalog.pg_attribute a ON a.attrelid = c.oid AND a.attnum = k.attnum
		WHERE n.nspname = $1 AND c.relname = $2
		ORDER BY k.ord
	`
	rows, err := db.QueryContext(ctx, query, schema, table)
	if err != nil {
		return nil, fmt.Errorf("derive primary key of %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	var pk []PKColumn
	for rows.Next() {
		var col PKColumn
		if err := rows.Scan(&col.AttNum, &col.AttName, &col.AttType, &col.PKNum); err != nil {
			return nil, fmt.Errorf("scan primary key column: %w", err)
		}
		pk = append(pk, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(pk) == 0 {
		return nil, ErrNoPrimaryKey
	}
	return pk, nil
}

// ColumnTypeName returns the pg_type.typname of a column, or sql.ErrNoRows
// wrapped if the column does not exist.
func ColumnTypeName(ctx context.Context, db DB, schema, table, column string) (string, error) {
	query := `
		SELECT t.typname
		FROM pg_catalog.pg_class c
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		JOIN pg_catalog.pg_attribute a ON a.attrelid = c.oid
		JOIN pg_catalog.pg_type t ON t.oid = a.atttypid
		WHERE n.nspname = $1 AND c.relname = $2 AND a.attname = $3
		  AND a.attnum > 0 AND NOT a.attisdropped
	`
	var typname string
	err := db.QueryRowContext(ctx, query, schema, table, column).Scan(&typname)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("column %s.%s.%s does not exist: %w", schema, table, column, err)
	}
	if err != nil {
		return "", fmt.Errorf("resolve type of %s.%s.%s: %w", schema, table, column, err)
	}
	return typname, nil
}

// RelationExists reports whether any relation (table, view, sequence, index)
// with the given name exists in the schema.
func RelationExists(ctx context.Context, db DB, schema, name string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM pg_catalog.pg_class c
			JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
			WHERE n.nspname = $1 AND c.relname = $2
		)
	`
	var exists bool
	if err := db.QueryRowContext(ctx, query, schema, name).Scan(&exists); err != nil {
		return false, fmt.Errorf("check relation %s.%s: %w", schema, name, err)
	}
	return exists, nil
}

// IsOwner reports whether current_user is (a member of) the owning role of
// the given table.
func IsOwner(ctx context.Context, db DB, schema, table string) (bool, error) {
	query := `
		SELECT pg_catalog.pg_has_role(current_user, c.relowner, 'MEMBER')
		FROM pg_catalog.pg_class c
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2
	`
	var owner bool
	err := db.QueryRowContext(ctx, query, schema, table).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("table %s.%s does not exist", schema, table)
	}
	if err != nil {
		return false, fmt.Errorf("check ownership of %s.%s: %w", schema, table, err)
	}
	return owner, nil
}

// RoleExists reports whether a role is present in pg_roles.
func RoleExists(ctx context.Context, db DB, role string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_catalog.pg_roles WHERE rolname = $1)`, role).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check role %s: %w", role, err)
	}
	return exists, nil
}
