package catalog

import (
	"context"
	"fmt"

	"github.com/lib/pq"
)

// SearchObjects returns the catalog objects nearest to the query vector,
// ordered by cosine distance. Column hits are promoted to their owning
// relation so the agent always reasons about whole tables and views.
// maxDist <= 0 disables the distance cutoff.
func (r *Repository) SearchObjects(ctx context.Context, vector []float32, maxResults int, maxDist float64) ([]*Object, error) {
	query := `
		SELECT id, objtype, objnames, objargs, classid, objid, objsubid, description,
		       embedding <=> $1 AS dist
		FROM ai.semantic_catalog_obj
		WHERE embedding IS NOT NULL
		ORDER BY dist
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, vectorLiteral(vector), maxResults)
	if err != nil {
		return nil, fmt.Errorf("search catalog objects: %w", err)
	}
	defer rows.Close()

	var hits []*Object
	for rows.Next() {
		o := &Object{}
		var dist float64
		if err := rows.Scan(&o.ID, &o.ObjType, pq.Array(&o.ObjNames), pq.Array(&o.ObjArgs),
			&o.ClassID, &o.ObjID, &o.ObjSubID, &o.Description, &dist); err != nil {
			return nil, err
		}
		if maxDist > 0 && dist > maxDist {
			continue
		}
		hits = append(hits, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return r.promoteColumns(ctx, hits)
}

// promoteColumns replaces column hits with their owning top-level object.
func (r *Repository) promoteColumns(ctx context.Context, hits []*Object) ([]*Object, error) {
	var out []*Object
	seen := make(map[int64]bool)
	add := func(o *Object) {
		if !seen[o.ID] {
			seen[o.ID] = true
			out = append(out, o)
		}
	}

	for _, h := range hits {
		if h.ObjSubID == 0 {
			add(h)
			continue
		}
		owner, err := r.ownerOf(ctx, h)
		if err != nil {
			return nil, err
		}
		if owner != nil {
			add(owner)
		}
	}
	return out, nil
}

// ownerOf finds the objsubid=0 row for a column hit. A column described
// without its relation has no owner row; the hit is dropped in that case.
func (r *Repository) ownerOf(ctx context.Context, col *Object) (*Object, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, objtype, objnames, objargs, classid, objid, objsubid, description
		FROM ai.semantic_catalog_obj
		WHERE classid = $1 AND objid = $2 AND objsubid = 0
	`, col.ClassID, col.ObjID)
	if err != nil {
		return nil, fmt.Errorf("find owning relation: %w", err)
	}
	defer rows.Close()

	owners, err := scanObjects(rows)
	if err != nil {
		return nil, err
	}
	if len(owners) == 0 {
		return nil, nil
	}
	return owners[0], nil
}

// SearchSQL returns the example statements nearest to the query vector.
func (r *Repository) SearchSQL(ctx context.Context, vector []float32, maxResults int, maxDist float64) ([]*SQLExample, error) {
	query := `
		SELECT id, sql, description, embedding <=> $1 AS dist
		FROM ai.semantic_catalog_sql
		WHERE embedding IS NOT NULL
		ORDER BY dist
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, vectorLiteral(vector), maxResults)
	if err != nil {
		return nil, fmt.Errorf("search sql examples: %w", err)
	}
	defer rows.Close()

	var out []*SQLExample
	for rows.Next() {
		ex := &SQLExample{}
		var dist float64
		if err := rows.Scan(&ex.ID, &ex.SQL, &ex.Description, &dist); err != nil {
			return nil, err
		}
		if maxDist > 0 && dist > maxDist {
			continue
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}
