// Package schema installs and upgrades the ai catalog schema. Migrations
// are embedded and versioned by name; applied versions are recorded in
// ai.migration so re-running the installer is a no-op.
package schema

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vectorsync-ai/vectorsync/internal/observability"
)

type migration struct {
	name string
	sql  string
}

// Order matters. Never edit an applied migration; append a new one.
var migrations = []migration{
	{
		name: "001-schema",
		sql: `
			CREATE SCHEMA IF NOT EXISTS ai;
		`,
	},
	{
		name: "002-vectorizer",
		sql: `
			CREATE SEQUENCE IF NOT EXISTS ai.vectorizer_id_seq;

			CREATE TABLE IF NOT EXISTS ai.vectorizer (
				id int4 NOT NULL PRIMARY KEY DEFAULT nextval('ai.vectorizer_id_seq'),
				source_schema text NOT NULL,
				source_table text NOT NULL,
				source_pk jsonb NOT NULL,
				target_schema text NOT NULL,
				target_table text NOT NULL,
				view_schema text NOT NULL,
				view_name text NOT NULL,
				trigger_name text NOT NULL,
				queue_schema text NOT NULL,
				queue_table text NOT NULL,
				config jsonb NOT NULL,
				created_at timestamptz NOT NULL DEFAULT now(),
				UNIQUE (target_schema, target_table)
			);
		`,
	},
	{
		name: "003-worker-registry",
		sql: `
			CREATE TABLE IF NOT EXISTS ai.vectorizer_worker_process (
				id uuid NOT NULL PRIMARY KEY,
				version text NOT NULL,
				started timestamptz NOT NULL DEFAULT clock_timestamp(),
				expected_heartbeat_interval interval NOT NULL,
				last_heartbeat timestamptz NOT NULL DEFAULT clock_timestamp(),
				heartbeat_count int8 NOT NULL DEFAULT 0,
				error_count int8 NOT NULL DEFAULT 0,
				success_count int8 NOT NULL DEFAULT 0,
				last_error_at timestamptz,
				last_error_message text
			);

			CREATE TABLE IF NOT EXISTS ai.vectorizer_worker_progress (
				vectorizer_id int4 NOT NULL PRIMARY KEY,
				success_count int8 NOT NULL DEFAULT 0,
				error_count int8 NOT NULL DEFAULT 0,
				last_success_at timestamptz,
				last_success_process_id uuid,
				last_error_at timestamptz,
				last_error_message text,
				last_error_process_id uuid
			);
		`,
	},
	{
		name: "004-semantic-catalog",
		sql: `
			CREATE TABLE IF NOT EXISTS ai.semantic_catalog_obj (
				id int8 NOT NULL PRIMARY KEY GENERATED BY DEFAULT AS IDENTITY,
				objtype text NOT NULL,
				objnames text[] NOT NULL,
				objargs text[] NOT NULL,
				classid int8 NOT NULL,
				objid int8 NOT NULL,
				objsubid int4 NOT NULL,
				description text NOT NULL,
				embedding vector,
				UNIQUE (objtype, objnames, objargs)
			);

			CREATE INDEX IF NOT EXISTS semantic_catalog_obj_addr_idx
				ON ai.semantic_catalog_obj (classid, objid, objsubid);

			CREATE TABLE IF NOT EXISTS ai.semantic_catalog_sql (
				id int8 NOT NULL PRIMARY KEY GENERATED BY DEFAULT AS IDENTITY,
				sql text NOT NULL,
				description text NOT NULL,
				embedding vector
			);
		`,
	},
	{
		name: "005-secrets",
		sql: `
			CREATE TABLE IF NOT EXISTS ai._secret (
				name text NOT NULL PRIMARY KEY,
				value text NOT NULL
			);

			CREATE OR REPLACE FUNCTION ai.reveal_secret(secret_name text, use_cache bool DEFAULT true)
			RETURNS text AS
			$func$
				SELECT value FROM ai._secret WHERE name = secret_name
			$func$ LANGUAGE sql STABLE SECURITY DEFINER;
		`,
	},
	{
		name: "006-scheduler-job",
		sql: `
			CREATE OR REPLACE PROCEDURE ai._vectorizer_job(job_id int DEFAULT null, config jsonb DEFAULT null)
			AS $proc$
			BEGIN
				PERFORM pg_notify('vectorsync', coalesce(config->>'vectorizer_id', ''));
			END;
			$proc$ LANGUAGE plpgsql;
		`,
	},
}

// Installer applies the embedded catalog migrations.
type Installer struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewInstaller creates an installer.
func NewInstaller(db *sql.DB, logger *observability.Logger) *Installer {
	return &Installer{db: db, logger: logger.WithComponent("schema")}
}

// Status reports which migrations are applied and which are pending.
type Status struct {
	Applied []string
	Pending []string
}

// UpToDate reports whether no migrations are pending.
func (s *Status) UpToDate() bool {
	return len(s.Pending) == 0
}

// Status computes the migration status without applying anything.
func (i *Installer) Status(ctx context.Context) (*Status, error) {
	applied, err := i.appliedVersions(ctx)
	if err != nil {
		return nil, err
	}

	s := &Status{}
	for _, m := range migrations {
		if applied[m.name] {
			s.Applied = append(s.Applied, m.name)
		} else {
			s.Pending = append(s.Pending, m.name)
		}
	}
	return s, nil
}

// Apply runs every pending migration in order. The pgvector extension must
// already be installed; it usually needs superuser and is deliberately not
// created here.
func (i *Installer) Apply(ctx context.Context) error {
	var hasVector bool
	err := i.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'vector')`).Scan(&hasVector)
	if err != nil {
		return fmt.Errorf("check pgvector extension: %w", err)
	}
	if !hasVector {
		return fmt.Errorf("the vector extension is not installed; run CREATE EXTENSION vector first")
	}

	applied, err := i.appliedVersions(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.name] {
			continue
		}
		if err := i.applyOne(ctx, m); err != nil {
			return err
		}
		i.logger.Info().Str("migration", m.name).Msg("Applied migration")
	}
	return nil
}

func (i *Installer) applyOne(ctx context.Context, m migration) error {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", m.name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		return fmt.Errorf("apply migration %s: %w", m.name, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ai.migration (name) VALUES ($1)`, m.name); err != nil {
		return fmt.Errorf("record migration %s: %w", m.name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", m.name, err)
	}
	return nil
}

// appliedVersions reads ai.migration, creating it on first run.
func (i *Installer) appliedVersions(ctx context.Context) (map[string]bool, error) {
	_, err := i.db.ExecContext(ctx, `
		CREATE SCHEMA IF NOT EXISTS ai;
		CREATE TABLE IF NOT EXISTS ai.migration (
			name text NOT NULL PRIMARY KEY,
			applied_at timestamptz NOT NULL DEFAULT clock_timestamp()
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("ensure migration table: %w", err)
	}

	rows, err := i.db.QueryContext(ctx, `SELECT name FROM ai.migration`)
	if err != nil {
		return nil, fmt.Errorf("read applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	return applied, rows.Err()
}
