// Package scheduler registers timescaledb background jobs that nudge
// scheduled vectorizers. The job itself runs inside the database; this
// package only books and cancels it.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/vectorsync-ai/vectorsync/internal/observability"
	"github.com/vectorsync-ai/vectorsync/internal/vectorizer"
)

// jobProc is the in-database procedure each registered job executes. It is
// installed by the schema bootstrap.
const jobProc = "ai._vectorizer_job"

// TimescaleScheduler books vectorizer jobs through timescaledb's job
// machinery (add_job / delete_job).
type TimescaleScheduler struct {
	logger *observability.Logger
}

// NewTimescaleScheduler creates a scheduler. Callers must have verified the
// timescaledb extension is installed; Available does that.
func NewTimescaleScheduler(logger *observability.Logger) *TimescaleScheduler {
	return &TimescaleScheduler{logger: logger.WithComponent("scheduler")}
}

// Available reports whether the timescaledb extension is installed in the
// connected database.
func Available(ctx context.Context, db vectorizer.DB) (bool, error) {
	var installed bool
	err := db.QueryRowContext(ctx,
		"SELECT count(*) > 0 FROM pg_extension WHERE extname = 'timescaledb'",
	).Scan(&installed)
	if err != nil {
		return false, fmt.Errorf("check timescaledb extension: %w", err)
	}
	return installed, nil
}

// Register books a repeating job for the vectorizer and returns the job id.
func (s *TimescaleScheduler) Register(ctx context.Context, db vectorizer.DB, vectorizerID int32, interval time.Duration) (int64, error) {
	var jobID int64
	err := db.QueryRowContext(ctx, `
		SELECT add_job(
			$1::regproc,
			$2::interval,
			config => jsonb_build_object('vectorizer_id', $3::int4),
			fixed_schedule => false
		)
	`, jobProc, interval.String(), vectorizerID).Scan(&jobID)
	if err != nil {
		return 0, fmt.Errorf("add_job for vectorizer %d: %w", vectorizerID, err)
	}
	s.logger.Info().
		Int32("vectorizer_id", vectorizerID).
		Int64("job_id", jobID).
		Str("interval", interval.String()).
		Msg("scheduler job registered")
	return jobID, nil
}

// Remove cancels a previously registered job. A job that is already gone is
// not an error.
func (s *TimescaleScheduler) Remove(ctx context.Context, db vectorizer.DB, jobID int64) error {
	_, err := db.ExecContext(ctx, `
		SELECT delete_job(job_id)
		FROM timescaledb_information.jobs
		WHERE job_id = $1
	`, jobID)
	if err != nil {
		return fmt.Errorf("delete_job %d: %w", jobID, err)
	}
	s.logger.Info().Int64("job_id", jobID).Msg("scheduler job removed")
	return nil
}
