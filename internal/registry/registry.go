// Package registry tracks worker processes and per-vectorizer progress in
// the ai schema. Heartbeats use clock_timestamp() so long transactions in
// the same session cannot freeze the liveness signal.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/vectorsync-ai/vectorsync/internal/vectorizer"
)

// DeadHeartbeatMultiple is how many missed heartbeat intervals mark a worker
// process as dead.
const DeadHeartbeatMultiple = 3

// Process is one row of ai.vectorizer_worker_process.
type Process struct {
	ID                uuid.UUID
	Version           string
	Started           time.Time
	ExpectedHeartbeat time.Duration
	LastHeartbeat     time.Time
	HeartbeatCount    int64
	ErrorCount        int64
	SuccessCount      int64
	LastErrorAt       *time.Time
	LastErrorMessage  string
}

// Alive reports whether the process heartbeated recently enough to be
// considered live at the given instant.
func (p *Process) Alive(now time.Time) bool {
	return now.Sub(p.LastHeartbeat) < DeadHeartbeatMultiple*p.ExpectedHeartbeat
}

// Progress is one row of ai.vectorizer_worker_progress: the cumulative
// outcome of all runs against one vectorizer.
type Progress struct {
	VectorizerID         int32
	SuccessCount         int64
	ErrorCount           int64
	LastSuccessAt        *time.Time
	LastSuccessProcessID *uuid.UUID
	LastErrorAt          *time.Time
	LastErrorMessage     string
	LastErrorProcessID   *uuid.UUID
}

// Repository persists worker process and progress rows.
type Repository struct {
	db vectorizer.DB
}

// NewRepository creates a registry repository.
func NewRepository(db vectorizer.DB) *Repository {
	return &Repository{db: db}
}

// Start registers a new worker process and returns its id.
func (r *Repository) Start(ctx context.Context, version string, heartbeatInterval time.Duration) (uuid.UUID, error) {
	id := uuid.New()
	query := `
		INSERT INTO ai.vectorizer_worker_process
			(id, version, started, expected_heartbeat_interval, last_heartbeat, heartbeat_count)
		VALUES ($1, $2, clock_timestamp(), $3, clock_timestamp(), 0)
	`
	_, err := r.db.ExecContext(ctx, query, id, version, heartbeatInterval.String())
	if err != nil {
		return uuid.Nil, fmt.Errorf("register worker process: %w", err)
	}
	return id, nil
}

// Heartbeat records a liveness beat plus the outcome deltas accumulated
// since the previous beat.
func (r *Repository) Heartbeat(ctx context.Context, id uuid.UUID, successDelta, errorDelta int64, lastError string) error {
	query := `
		UPDATE ai.vectorizer_worker_process SET
			last_heartbeat = clock_timestamp(),
			heartbeat_count = heartbeat_count + 1,
			success_count = success_count + $2,
			error_count = error_count + $3,
			last_error_at = CASE WHEN $4 <> '' THEN clock_timestamp() ELSE last_error_at END,
			last_error_message = CASE WHEN $4 <> '' THEN $4 ELSE last_error_message END
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, successDelta, errorDelta, lastError)
	if err != nil {
		return fmt.Errorf("heartbeat worker process %s: %w", id, err)
	}
	return nil
}

// RecordSuccess upserts a successful run into the progress table, adding the
// rows it embedded to the cumulative count.
func (r *Repository) RecordSuccess(ctx context.Context, vectorizerID int32, processID uuid.UUID, successes int64) error {
	query := `
		INSERT INTO ai.vectorizer_worker_progress
			(vectorizer_id, success_count, last_success_at, last_success_process_id)
		VALUES ($1, $2, clock_timestamp(), $3)
		ON CONFLICT (vectorizer_id) DO UPDATE SET
			success_count = vectorizer_worker_progress.success_count + $2,
			last_success_at = clock_timestamp(),
			last_success_process_id = $3
	`
	_, err := r.db.ExecContext(ctx, query, vectorizerID, successes, processID)
	if err != nil {
		return fmt.Errorf("record success for vectorizer %d: %w", vectorizerID, err)
	}
	return nil
}

// RecordError upserts failed rows into the progress table.
func (r *Repository) RecordError(ctx context.Context, vectorizerID int32, processID uuid.UUID, message string, errors int64) error {
	query := `
		INSERT INTO ai.vectorizer_worker_progress
			(vectorizer_id, error_count, last_error_at, last_error_message, last_error_process_id)
		VALUES ($1, $2, clock_timestamp(), $3, $4)
		ON CONFLICT (vectorizer_id) DO UPDATE SET
			error_count = vectorizer_worker_progress.error_count + $2,
			last_error_at = clock_timestamp(),
			last_error_message = $3,
			last_error_process_id = $4
	`
	_, err := r.db.ExecContext(ctx, query, vectorizerID, errors, message, processID)
	if err != nil {
		return fmt.Errorf("record error for vectorizer %d: %w", vectorizerID, err)
	}
	return nil
}

// GetProcess fetches one worker process row.
func (r *Repository) GetProcess(ctx context.Context, id uuid.UUID) (*Process, error) {
	query := `
		SELECT id, version, started,
		       extract(epoch from expected_heartbeat_interval),
		       last_heartbeat, heartbeat_count, success_count, error_count,
		       last_error_at, coalesce(last_error_message, '')
		FROM ai.vectorizer_worker_process WHERE id = $1
	`
	p := &Process{}
	var intervalSecs float64
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.Version, &p.Started, &intervalSecs,
		&p.LastHeartbeat, &p.HeartbeatCount, &p.SuccessCount, &p.ErrorCount,
		&p.LastErrorAt, &p.LastErrorMessage,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("worker process %s not found", id)
		}
		return nil, fmt.Errorf("get worker process %s: %w", id, err)
	}
	p.ExpectedHeartbeat = time.Duration(intervalSecs * float64(time.Second))
	return p, nil
}

// ListProcesses returns all worker process rows, newest first.
func (r *Repository) ListProcesses(ctx context.Context) ([]*Process, error) {
	query := `
		SELECT id, version, started,
		       extract(epoch from expected_heartbeat_interval),
		       last_heartbeat, heartbeat_count, success_count, error_count,
		       last_error_at, coalesce(last_error_message, '')
		FROM ai.vectorizer_worker_process ORDER BY started DESC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list worker processes: %w", err)
	}
	defer rows.Close()

	var out []*Process
	for rows.Next() {
		p := &Process{}
		var intervalSecs float64
		if err := rows.Scan(
			&p.ID, &p.Version, &p.Started, &intervalSecs,
			&p.LastHeartbeat, &p.HeartbeatCount, &p.SuccessCount, &p.ErrorCount,
			&p.LastErrorAt, &p.LastErrorMessage,
		); err != nil {
			return nil, err
		}
		p.ExpectedHeartbeat = time.Duration(intervalSecs * float64(time.Second))
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetProgress fetches the progress row for one vectorizer. A vectorizer
// that no worker has processed yet has a zero Progress.
func (r *Repository) GetProgress(ctx context.Context, vectorizerID int32) (*Progress, error) {
	query := `
		SELECT vectorizer_id, success_count, error_count,
		       last_success_at, last_success_process_id,
		       last_error_at, coalesce(last_error_message, ''), last_error_process_id
		FROM ai.vectorizer_worker_progress WHERE vectorizer_id = $1
	`
	p := &Progress{}
	err := r.db.QueryRowContext(ctx, query, vectorizerID).Scan(
		&p.VectorizerID, &p.SuccessCount, &p.ErrorCount,
		&p.LastSuccessAt, &p.LastSuccessProcessID,
		&p.LastErrorAt, &p.LastErrorMessage, &p.LastErrorProcessID,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return &Progress{VectorizerID: vectorizerID}, nil
		}
		return nil, fmt.Errorf("get progress for vectorizer %d: %w", vectorizerID, err)
	}
	return p, nil
}

// PendingLimit caps the queue-depth count so status checks stay cheap on a
// deep queue; QueuePending reports PendingLimit when the true depth exceeds
// it.
const PendingLimit = 10000

// QueuePending counts queued rows for one vectorizer, capped at PendingLimit.
// exact bypasses the cap.
func (r *Repository) QueuePending(ctx context.Context, v *vectorizer.Vectorizer, exact bool) (int64, bool, error) {
	queue := pq.QuoteIdentifier(v.QueueSchema) + "." + pq.QuoteIdentifier(v.QueueTable)

	var query string
	if exact {
		query = fmt.Sprintf("SELECT count(*) FROM %s", queue)
	} else {
		query = fmt.Sprintf("SELECT count(*) FROM (SELECT 1 FROM %s LIMIT %d) q", queue, PendingLimit+1)
	}

	var n int64
	if err := r.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, false, fmt.Errorf("count queue for vectorizer %d: %w", v.ID, err)
	}
	if !exact && n > PendingLimit {
		return PendingLimit, true, nil
	}
	return n, false, nil
}
