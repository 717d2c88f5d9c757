// Package worker implements the vectorizer runtime: a polling loop that
// claims queued work, runs the embedding pipeline, and reports liveness and
// progress through the worker registry.
package worker

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vectorsync-ai/vectorsync/internal/config"
	"github.com/vectorsync-ai/vectorsync/internal/observability"
	"github.com/vectorsync-ai/vectorsync/internal/registry"
	"github.com/vectorsync-ai/vectorsync/internal/secrets"
	"github.com/vectorsync-ai/vectorsync/internal/vectorizer"
)

// Worker polls all vectorizers and processes their queues.
type Worker struct {
	db       *sql.DB
	repo     *vectorizer.Repository
	registry *registry.Repository
	resolver secrets.Resolver
	logger   *observability.Logger
	cfg      config.WorkerConfig
	version  string

	processID    uuid.UUID
	successDelta atomic.Int64
	errorDelta   atomic.Int64
}

// New creates a worker.
func New(db *sql.DB, cfg config.WorkerConfig, version string, logger *observability.Logger) *Worker {
	return &Worker{
		db:       db,
		repo:     vectorizer.NewRepository(db),
		registry: registry.NewRepository(db),
		resolver: secrets.NewDBResolver(db),
		logger:   logger.WithComponent("worker"),
		cfg:      cfg,
		version:  version,
	}
}

// ProcessID returns the registered worker process id. Zero until Run starts.
func (w *Worker) ProcessID() uuid.UUID { return w.processID }

// Run registers the worker process and polls until the context is canceled.
// With OnceAndExit set it processes every queue once and returns.
func (w *Worker) Run(ctx context.Context) error {
	id, err := w.registry.Start(ctx, w.version, w.cfg.HeartbeatInterval)
	if err != nil {
		return err
	}
	w.processID = id
	w.logger = w.logger.WithWorker(id.String())
	w.logger.Info().
		Str("version", w.version).
		Dur("poll_interval", w.cfg.PollInterval).
		Bool("once", w.cfg.OnceAndExit).
		Msg("worker started")

	hbCtx, stopHeartbeat := context.WithCancel(context.Background())
	defer stopHeartbeat()
	go w.heartbeatLoop(hbCtx)

	if w.cfg.OnceAndExit {
		return w.poll(ctx)
	}

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if err := w.poll(ctx); err != nil {
			if ctx.Err() != nil {
				w.logger.Info().Msg("worker stopping")
				return nil
			}
			w.logger.Error().Err(err).Msg("poll failed")
		}
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("worker stopping")
			return nil
		case <-ticker.C:
		}
	}
}

// poll runs every vectorizer's queue to empty, one vectorizer at a time.
// A failure in one vectorizer is recorded and does not stop the others.
func (w *Worker) poll(ctx context.Context) error {
	vectorizers, err := w.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("list vectorizers: %w", err)
	}

	for _, v := range vectorizers {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := w.runOne(ctx, v); err != nil {
			w.errorDelta.Add(1)
			w.logger.Error().Err(err).Int32("vectorizer_id", v.ID).Msg("vectorizer run failed")
			if rerr := w.registry.RecordError(ctx, v.ID, w.processID, err.Error(), 1); rerr != nil {
				w.logger.Error().Err(rerr).Msg("record error failed")
			}
			continue
		}
	}
	return nil
}

func (w *Worker) runOne(ctx context.Context, v *vectorizer.Vectorizer) error {
	exec, err := NewExecutor(ctx, w.db, v, w.resolver, w.logger)
	if err != nil {
		return err
	}

	stats, err := exec.Run(ctx)
	if err != nil {
		return err
	}
	if stats.Succeeded > 0 || stats.Failed > 0 {
		w.logger.Info().
			Int32("vectorizer_id", v.ID).
			Int64("rows", stats.Succeeded).
			Int64("failed", stats.Failed).
			Msg("queue drained")
	}
	if stats.Failed > 0 {
		w.errorDelta.Add(stats.Failed)
		if err := w.registry.RecordError(ctx, v.ID, w.processID, stats.LastError, stats.Failed); err != nil {
			w.logger.Error().Err(err).Msg("record error failed")
		}
	}
	w.successDelta.Add(1)
	return w.registry.RecordSuccess(ctx, v.ID, w.processID, stats.Succeeded)
}

// heartbeatLoop beats at half the expected interval so one delayed beat
// never looks like a death. It runs on its own context: a canceled run
// context must not silence the final beats while shutdown completes.
func (w *Worker) heartbeatLoop(ctx context.Context) {
	interval := w.cfg.HeartbeatInterval / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := w.successDelta.Swap(0)
			e := w.errorDelta.Swap(0)
			if err := w.registry.Heartbeat(ctx, w.processID, s, e, ""); err != nil {
				w.logger.Warn().Err(err).Msg("heartbeat failed")
			}
		}
	}
}
