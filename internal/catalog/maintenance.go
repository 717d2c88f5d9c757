package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/vectorsync-ai/vectorsync/internal/observability"
)

// DroppedObject describes one object reported by a sql_drop event.
type DroppedObject struct {
	ObjType  string
	ObjNames []string
	ObjArgs  []string
	ClassID  int64
	ObjID    int64
}

// ObjectRef is the oid triple of an object touched by a DDL command.
type ObjectRef struct {
	ClassID  int64
	ObjID    int64
	ObjSubID int32
	// CommandTag is the DDL command that touched the object, e.g.
	// "ALTER TABLE" or "ALTER SCHEMA".
	CommandTag string
}

// Maintainer keeps catalog identity aligned with the database across DDL.
// It only ever reads names out of system catalogs; nothing user-supplied is
// interpolated into SQL.
type Maintainer struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewMaintainer creates a catalog maintainer.
func NewMaintainer(db *sql.DB, logger *observability.Logger) *Maintainer {
	return &Maintainer{db: db, logger: logger.WithComponent("catalog")}
}

// HandleDrops removes catalog rows for dropped objects. Relation drops also
// remove every column row keyed on the relation's oid pair.
func (m *Maintainer) HandleDrops(ctx context.Context, dropped []DroppedObject) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin drop maintenance: %w", err)
	}
	defer tx.Rollback()

	for _, d := range dropped {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM ai.semantic_catalog_obj
			WHERE objtype = $1 AND objnames = $2 AND objargs = $3
		`, d.ObjType, pq.Array(d.ObjNames), pq.Array(d.ObjArgs))
		if err != nil {
			return fmt.Errorf("delete dropped object: %w", err)
		}

		if isRelationType(d.ObjType) {
			_, err := tx.ExecContext(ctx, `
				DELETE FROM ai.semantic_catalog_obj
				WHERE classid = $1 AND objid = $2 AND objsubid <> 0
			`, d.ClassID, d.ObjID)
			if err != nil {
				return fmt.Errorf("delete dropped relation columns: %w", err)
			}
		}
	}
	return tx.Commit()
}

// HandleDDLEnd re-resolves identity for each touched object and writes the
// address back when it changed. An ALTER SCHEMA rename cascades to every
// object the schema contains; renamed relations cascade to their columns.
func (m *Maintainer) HandleDDLEnd(ctx context.Context, touched []ObjectRef) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ddl maintenance: %w", err)
	}
	defer tx.Rollback()

	for _, ref := range touched {
		if ref.CommandTag == "ALTER SCHEMA" {
			if err := m.realignSchema(ctx, tx, ref); err != nil {
				return err
			}
			continue
		}
		if err := m.realignObject(ctx, tx, ref.ClassID, ref.ObjID, ref.ObjSubID); err != nil {
			return err
		}
		// Renames and schema moves change every column address too.
		if err := m.realignColumns(ctx, tx, ref.ClassID, ref.ObjID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// realignObject rewrites one row's address triple from its oid triple.
func (m *Maintainer) realignObject(ctx context.Context, tx *sql.Tx, classid, objid int64, objsubid int32) error {
	var objtype string
	var names, args []string
	err := tx.QueryRowContext(ctx, `
		SELECT type, object_names, object_args
		FROM pg_identify_object_as_address($1::oid, $2::oid, $3)
	`, classid, objid, objsubid).Scan(&objtype, pq.Array(&names), pq.Array(&args))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Object vanished between the event and us; the drop hook owns it.
			return nil
		}
		return fmt.Errorf("identify object (%d, %d, %d): %w", classid, objid, objsubid, err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE ai.semantic_catalog_obj
		SET objtype = $4, objnames = $5, objargs = $6
		WHERE classid = $1 AND objid = $2 AND objsubid = $3
		  AND (objtype, objnames, objargs) IS DISTINCT FROM ($4, $5, $6)
	`, classid, objid, objsubid, objtype, pq.Array(names), pq.Array(args))
	if err != nil {
		return fmt.Errorf("realign object (%d, %d, %d): %w", classid, objid, objsubid, err)
	}
	return nil
}

// realignColumns rewrites the address of every column row of a relation.
func (m *Maintainer) realignColumns(ctx context.Context, tx *sql.Tx, classid, objid int64) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT objsubid FROM ai.semantic_catalog_obj
		WHERE classid = $1 AND objid = $2 AND objsubid <> 0
	`, classid, objid)
	if err != nil {
		return fmt.Errorf("list column rows: %w", err)
	}
	defer rows.Close()

	var subids []int32
	for rows.Next() {
		var s int32
		if err := rows.Scan(&s); err != nil {
			return err
		}
		subids = append(subids, s)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, s := range subids {
		if err := m.realignObject(ctx, tx, classid, objid, s); err != nil {
			return err
		}
	}
	return nil
}

// realignSchema rewrites every catalog row whose object lives in the renamed
// schema: tables, views, and functions, plus all their columns.
func (m *Maintainer) realignSchema(ctx context.Context, tx *sql.Tx, ref ObjectRef) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT DISTINCT o.classid, o.objid
		FROM ai.semantic_catalog_obj o
		WHERE (o.classid = 'pg_class'::regclass::oid::int8
		       AND o.objid IN (SELECT oid::int8 FROM pg_class WHERE relnamespace = $1::oid))
		   OR (o.classid = 'pg_proc'::regclass::oid::int8
		       AND o.objid IN (SELECT oid::int8 FROM pg_proc WHERE pronamespace = $1::oid))
	`, ref.ObjID)
	if err != nil {
		return fmt.Errorf("list schema members: %w", err)
	}
	defer rows.Close()

	type pair struct{ classid, objid int64 }
	var members []pair
	for rows.Next() {
		var p pair
		if err := rows.Scan(&p.classid, &p.objid); err != nil {
			return err
		}
		members = append(members, p)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, p := range members {
		if err := m.realignObject(ctx, tx, p.classid, p.objid, 0); err != nil {
			return err
		}
		if err := m.realignColumns(ctx, tx, p.classid, p.objid); err != nil {
			return err
		}
	}
	return nil
}

// PostRestore re-resolves the oid triple of every catalog row from its
// address triple. A dump/restore rewrites oids, so the stored ones are stale
// until this runs. View and materialized-view columns cannot go through the
// generic address lookup; their attnum is read from pg_attribute directly.
func (m *Maintainer) PostRestore(ctx context.Context) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin post-restore: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, objtype, objnames, objargs FROM ai.semantic_catalog_obj
	`)
	if err != nil {
		return fmt.Errorf("list catalog rows: %w", err)
	}

	type rowRef struct {
		id       int64
		objtype  string
		objnames []string
		objargs  []string
	}
	var refs []rowRef
	for rows.Next() {
		var rr rowRef
		if err := rows.Scan(&rr.id, &rr.objtype, pq.Array(&rr.objnames), pq.Array(&rr.objargs)); err != nil {
			rows.Close()
			return err
		}
		refs = append(refs, rr)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, rr := range refs {
		var classid, objid int64
		var objsubid int32
		var lookupErr error

		switch rr.objtype {
		case "view column", "materialized view column":
			classid, objid, objsubid, lookupErr = m.lookupViewColumn(ctx, tx, rr.objnames)
		default:
			lookupErr = tx.QueryRowContext(ctx, `
				SELECT classid::int8, objid::int8, objsubid
				FROM pg_get_object_address($1, $2, $3)
			`, rr.objtype, pq.Array(rr.objnames), pq.Array(rr.objargs)).
				Scan(&classid, &objid, &objsubid)
		}
		if lookupErr != nil {
			m.logger.Warn().
				Int64("id", rr.id).
				Str("objtype", rr.objtype).
				Err(lookupErr).
				Msg("catalog row no longer resolves, leaving stale oids")
			continue
		}

		_, err := tx.ExecContext(ctx, `
			UPDATE ai.semantic_catalog_obj
			SET classid = $2, objid = $3, objsubid = $4
			WHERE id = $1
		`, rr.id, classid, objid, objsubid)
		if err != nil {
			return fmt.Errorf("restore oids for row %d: %w", rr.id, err)
		}
	}
	return tx.Commit()
}

// lookupViewColumn resolves a view or matview column by splitting objnames
// into (schema, relation, attname) and reading pg_attribute.
func (m *Maintainer) lookupViewColumn(ctx context.Context, tx *sql.Tx, objnames []string) (int64, int64, int32, error) {
	if len(objnames) != 3 {
		return 0, 0, 0, fmt.Errorf("view column address needs 3 names, got %d", len(objnames))
	}
	var classid, objid int64
	var attnum int32
	err := tx.QueryRowContext(ctx, `
		SELECT 'pg_class'::regclass::oid::int8, c.oid::int8, a.attnum
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		JOIN pg_attribute a ON a.attrelid = c.oid
		WHERE n.nspname = $1 AND c.relname = $2 AND a.attname = $3
		  AND NOT a.attisdropped
	`, objnames[0], objnames[1], objnames[2]).Scan(&classid, &objid, &attnum)
	if err != nil {
		return 0, 0, 0, err
	}
	return classid, objid, attnum, nil
}

func isRelationType(objtype string) bool {
	switch objtype {
	case "table", "view", "materialized view", "foreign table":
		return true
	}
	return false
}
