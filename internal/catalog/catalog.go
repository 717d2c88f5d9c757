// Package catalog implements the semantic catalog: descriptions of database
// objects and example SQL statements, embedded for retrieval by the
// text-to-SQL agent. Object rows carry both the stable address triple
// (objtype, objnames, objargs) and the oid triple (classid, objid, objsubid);
// the maintenance hooks keep the two aligned across DDL.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/vectorsync-ai/vectorsync/internal/embedding"
	"github.com/vectorsync-ai/vectorsync/internal/vectorizer"
)

// ErrObjectNotFound is returned when an oid triple resolves to nothing.
var ErrObjectNotFound = errors.New("database object not found")

// Object is one row of ai.semantic_catalog_obj.
type Object struct {
	ID          int64
	ObjType     string
	ObjNames    []string
	ObjArgs     []string
	ClassID     int64
	ObjID       int64
	ObjSubID    int32
	Description string
}

// SQLExample is one row of ai.semantic_catalog_sql.
type SQLExample struct {
	ID          int64
	SQL         string
	Description string
}

// Repository persists semantic catalog rows.
type Repository struct {
	db       vectorizer.DB
	embedder embedding.Provider
}

// NewRepository creates a catalog repository. embedder may be nil; rows are
// then stored without embeddings and excluded from semantic search until
// EmbedMissing runs with a provider.
func NewRepository(db vectorizer.DB, embedder embedding.Provider) *Repository {
	return &Repository{db: db, embedder: embedder}
}

// SetDescription upserts the description for the object identified by the
// oid triple. The address triple is resolved through the database's own
// object-identification routine so it always matches current catalogs.
func (r *Repository) SetDescription(ctx context.Context, classid, objid int64, objsubid int32, description string) (*Object, error) {
	obj := &Object{ClassID: classid, ObjID: objid, ObjSubID: objsubid, Description: description}

	err := r.db.QueryRowContext(ctx, `
		SELECT type, object_names, object_args
		FROM pg_identify_object_as_address($1::oid, $2::oid, $3)
	`, classid, objid, objsubid).Scan(&obj.ObjType, pq.Array(&obj.ObjNames), pq.Array(&obj.ObjArgs))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("identify object (%d, %d, %d): %w", classid, objid, objsubid, err)
	}

	vec, err := r.embedText(ctx, description)
	if err != nil {
		return nil, err
	}

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO ai.semantic_catalog_obj
			(objtype, objnames, objargs, classid, objid, objsubid, description, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (objtype, objnames, objargs) DO UPDATE SET
			classid = $4, objid = $5, objsubid = $6,
			description = $7, embedding = $8
		RETURNING id
	`, obj.ObjType, pq.Array(obj.ObjNames), pq.Array(obj.ObjArgs),
		obj.ClassID, obj.ObjID, obj.ObjSubID, obj.Description, vec).Scan(&obj.ID)
	if err != nil {
		return nil, fmt.Errorf("upsert object description: %w", err)
	}
	return obj, nil
}

// AddSQLExample stores an example SQL statement with its description.
func (r *Repository) AddSQLExample(ctx context.Context, sqlText, description string) (*SQLExample, error) {
	vec, err := r.embedText(ctx, description+"\n"+sqlText)
	if err != nil {
		return nil, err
	}

	ex := &SQLExample{SQL: sqlText, Description: description}
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO ai.semantic_catalog_sql (sql, description, embedding)
		VALUES ($1, $2, $3)
		RETURNING id
	`, sqlText, description, vec).Scan(&ex.ID)
	if err != nil {
		return nil, fmt.Errorf("insert sql example: %w", err)
	}
	return ex, nil
}

// GetObjects fetches catalog objects by id, preserving no particular order.
func (r *Repository) GetObjects(ctx context.Context, ids []int64) ([]*Object, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, objtype, objnames, objargs, classid, objid, objsubid, description
		FROM ai.semantic_catalog_obj WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("get catalog objects: %w", err)
	}
	defer rows.Close()
	return scanObjects(rows)
}

// ListTopLevelObjects returns every objsubid=0 row, used by the agent's
// include_entire_schema mode.
func (r *Repository) ListTopLevelObjects(ctx context.Context) ([]*Object, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, objtype, objnames, objargs, classid, objid, objsubid, description
		FROM ai.semantic_catalog_obj WHERE objsubid = 0 ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list top-level objects: %w", err)
	}
	defer rows.Close()
	return scanObjects(rows)
}

// GetSQLExamples fetches SQL examples by id.
func (r *Repository) GetSQLExamples(ctx context.Context, ids []int64) ([]*SQLExample, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, sql, description FROM ai.semantic_catalog_sql WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("get sql examples: %w", err)
	}
	defer rows.Close()

	var out []*SQLExample
	for rows.Next() {
		ex := &SQLExample{}
		if err := rows.Scan(&ex.ID, &ex.SQL, &ex.Description); err != nil {
			return nil, err
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}

// EmbedMissing computes embeddings for catalog rows stored without one,
// in batches of batchSize. It returns the number of rows embedded.
func (r *Repository) EmbedMissing(ctx context.Context, batchSize int) (int, error) {
	if r.embedder == nil {
		return 0, errors.New("no embedding provider configured")
	}
	if batchSize <= 0 {
		batchSize = 50
	}

	total := 0
	for {
		n, err := r.embedMissingBatch(ctx, "ai.semantic_catalog_obj", "description", batchSize)
		if err != nil {
			return total, err
		}
		total += n
		if n < batchSize {
			break
		}
	}
	for {
		n, err := r.embedMissingBatch(ctx, "ai.semantic_catalog_sql", "concat(description, chr(10), sql)", batchSize)
		if err != nil {
			return total, err
		}
		total += n
		if n < batchSize {
			break
		}
	}
	return total, nil
}

func (r *Repository) embedMissingBatch(ctx context.Context, table, textExpr string, batchSize int) (int, error) {
	query := fmt.Sprintf(
		"SELECT id, %s FROM %s WHERE embedding IS NULL ORDER BY id LIMIT $1",
		textExpr, table)
	rows, err := r.db.QueryContext(ctx, query, batchSize)
	if err != nil {
		return 0, fmt.Errorf("find rows missing embeddings: %w", err)
	}
	defer rows.Close()

	var ids []int64
	var texts []string
	for rows.Next() {
		var id int64
		var text string
		if err := rows.Scan(&id, &text); err != nil {
			return 0, err
		}
		ids = append(ids, id)
		texts = append(texts, text)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	results, err := r.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed catalog rows: %w", err)
	}
	for i, res := range results {
		if res.Err != nil {
			return 0, fmt.Errorf("embed catalog row %d: %w", ids[i], res.Err)
		}
		update := fmt.Sprintf("UPDATE %s SET embedding = $2 WHERE id = $1", table)
		if _, err := r.db.ExecContext(ctx, update, ids[i], vectorLiteral(res.Vector)); err != nil {
			return 0, fmt.Errorf("store embedding for row %d: %w", ids[i], err)
		}
	}
	return len(ids), nil
}

func (r *Repository) embedText(ctx context.Context, text string) (interface{}, error) {
	if r.embedder == nil {
		return nil, nil
	}
	results, err := r.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed description: %w", err)
	}
	if len(results) != 1 || results[0].Err != nil {
		return nil, fmt.Errorf("embed description: no usable embedding")
	}
	return vectorLiteral(results[0].Vector), nil
}

func scanObjects(rows *sql.Rows) ([]*Object, error) {
	var out []*Object
	for rows.Next() {
		o := &Object{}
		if err := rows.Scan(&o.ID, &o.ObjType, pq.Array(&o.ObjNames), pq.Array(&o.ObjArgs),
			&o.ClassID, &o.ObjID, &o.ObjSubID, &o.Description); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func vectorLiteral(vec []float32) string {
	buf := make([]byte, 0, len(vec)*10+2)
	buf = append(buf, '[')
	for i, x := range vec {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, []byte(fmt.Sprintf("%g", x))...)
	}
	return string(append(buf, ']'))
}
