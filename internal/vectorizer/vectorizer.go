package vectorizer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Common errors
var (
	ErrNotFound = errors.New("vectorizer not found")
	ErrNotOwner = errors.New("only the owner of the source table may manage its vectorizers")
)

// Vectorizer is one source-table → embedding-table mapping with its
// configured pipeline. The row is immutable once created; creation and
// deletion are transactional with the physical objects it references.
type Vectorizer struct {
	ID           int32
	SourceSchema string
	SourceTable  string
	SourcePK     []PKColumn
	TargetSchema string
	TargetTable  string
	ViewSchema   string
	ViewName     string
	TriggerName  string
	QueueSchema  string
	QueueTable   string
	Config       *Config
	CreatedAt    time.Time
}

// Repository persists vectorizer rows in ai.vectorizer.
type Repository struct {
	db DB
}

// NewRepository creates a vectorizer repository.
func NewRepository(db DB) *Repository {
	return &Repository{db: db}
}

// NextID allocates a fresh vectorizer id from the monotonic sequence.
func (r *Repository) NextID(ctx context.Context) (int32, error) {
	var id int32
	err := r.db.QueryRowContext(ctx, `SELECT nextval('ai.vectorizer_id_seq')::int4`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("allocate vectorizer id: %w", err)
	}
	return id, nil
}

// Insert records a vectorizer row. Must run inside the provisioning
// transaction so the row and its objects appear atomically.
func (r *Repository) Insert(ctx context.Context, v *Vectorizer) error {
	pkJSON, err := json.Marshal(v.SourcePK)
	if err != nil {
		return fmt.Errorf("marshal source pk: %w", err)
	}
	cfgJSON, err := MarshalConfig(v.Config)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO ai.vectorizer
			(id, source_schema, source_table, source_pk, target_schema, target_table,
			 view_schema, view_name, trigger_name, queue_schema, queue_table, config)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = r.db.ExecContext(ctx, query,
		v.ID, v.SourceSchema, v.SourceTable, pkJSON, v.TargetSchema, v.TargetTable,
		v.ViewSchema, v.ViewName, v.TriggerName, v.QueueSchema, v.QueueTable, cfgJSON,
	)
	if err != nil {
		return fmt.Errorf("insert vectorizer %d: %w", v.ID, err)
	}
	return nil
}

// Get retrieves a vectorizer by id.
func (r *Repository) Get(ctx context.Context, id int32) (*Vectorizer, error) {
	query := `
		SELECT id, source_schema, source_table, source_pk, target_schema, target_table,
		       view_schema, view_name, trigger_name, queue_schema, queue_table, config, created_at
		FROM ai.vectorizer WHERE id = $1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// List retrieves all vectorizers ordered by id.
func (r *Repository) List(ctx context.Context) ([]*Vectorizer, error) {
	query := `
		SELECT id, source_schema, source_table, source_pk, target_schema, target_table,
		       view_schema, view_name, trigger_name, queue_schema, queue_table, config, created_at
		FROM ai.vectorizer ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list vectorizers: %w", err)
	}
	defer rows.Close()

	var out []*Vectorizer
	for rows.Next() {
		v, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Delete removes the vectorizer row. Must run inside the teardown transaction.
func (r *Repository) Delete(ctx context.Context, id int32) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM ai.vectorizer WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete vectorizer %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateConfig persists a modified config document (used to write back the
// scheduler job id).
func (r *Repository) UpdateConfig(ctx context.Context, id int32, cfg *Config) error {
	cfgJSON, err := MarshalConfig(cfg)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `UPDATE ai.vectorizer SET config = $2 WHERE id = $1`, id, cfgJSON)
	if err != nil {
		return fmt.Errorf("update vectorizer %d config: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *Repository) scanOne(row *sql.Row) (*Vectorizer, error) {
	v, err := r.scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return v, err
}

func (r *Repository) scanRow(row rowScanner) (*Vectorizer, error) {
	v := &Vectorizer{}
	var pkJSON, cfgJSON []byte
	err := row.Scan(
		&v.ID, &v.SourceSchema, &v.SourceTable, &pkJSON, &v.TargetSchema, &v.TargetTable,
		&v.ViewSchema, &v.ViewName, &v.TriggerName, &v.QueueSchema, &v.QueueTable,
		&cfgJSON, &v.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(pkJSON, &v.SourcePK); err != nil {
		return nil, fmt.Errorf("unmarshal source pk of vectorizer %d: %w", v.ID, err)
	}
	cfg, err := ParseConfig(cfgJSON)
	if err != nil {
		return nil, fmt.Errorf("vectorizer %d: %w", v.ID, err)
	}
	v.Config = cfg
	return v, nil
}
