package vectorizer

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/vectorsync-ai/vectorsync/internal/observability"
)

// JobScheduler registers and removes the repeating jobs that drive
// scheduled vectorizers. Implemented by internal/scheduler for timescaledb.
type JobScheduler interface {
	Register(ctx context.Context, db DB, vectorizerID int32, interval time.Duration) (int64, error)
	Remove(ctx context.Context, db DB, jobID int64) error
}

// Provisioner creates and tears down the physical objects backing a
// vectorizer: target table, queue table, source trigger, and join view.
type Provisioner struct {
	db        *sql.DB
	repo      *Repository
	scheduler JobScheduler
	logger    *observability.Logger
}

// NewProvisioner creates a provisioner. scheduler may be nil when no
// timescaledb integration is available; creating a vectorizer with
// scheduling=timescaledb then fails.
func NewProvisioner(db *sql.DB, scheduler JobScheduler, logger *observability.Logger) *Provisioner {
	return &Provisioner{
		db:        db,
		repo:      NewRepository(db),
		scheduler: scheduler,
		logger:    logger.WithComponent("provisioner"),
	}
}

// CreateRequest describes a vectorizer to provision.
type CreateRequest struct {
	SourceSchema    string
	SourceTable     string
	Config          *Config
	EnqueueExisting bool
}

// Create provisions a vectorizer: derives the source primary key, allocates
// an id, validates the config, creates target/queue/trigger/view in one
// transaction, applies grants, optionally enqueues existing rows, and records
// the vectorizer row. Only the owner of the source table may call this.
func (p *Provisioner) Create(ctx context.Context, req CreateRequest) (*Vectorizer, error) {
	if req.SourceSchema == "" {
		req.SourceSchema = "public"
	}
	req.Config.ApplyDefaults()

	owner, err := IsOwner(ctx, p.db, req.SourceSchema, req.SourceTable)
	if err != nil {
		return nil, err
	}
	if !owner {
		return nil, ErrNotOwner
	}

	pk, err := SourcePK(ctx, p.db, req.SourceSchema, req.SourceTable)
	if err != nil {
		return nil, err
	}

	id, err := p.repo.NextID(ctx)
	if err != nil {
		return nil, err
	}

	v := &Vectorizer{
		ID:           id,
		SourceSchema: req.SourceSchema,
		SourceTable:  req.SourceTable,
		SourcePK:     pk,
		TriggerName:  TriggerName(id),
		QueueSchema:  CatalogSchema,
		QueueTable:   QueueTableName(id),
		Config:       req.Config,
	}
	p.resolveDestination(v)

	if err := p.checkNameCollisions(ctx, v); err != nil {
		return nil, err
	}

	if verrs := Validate(ctx, p.db, req.SourceSchema, req.SourceTable, id, req.Config); verrs != nil {
		return nil, verrs
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin provisioning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := p.createObjects(ctx, tx, v); err != nil {
		return nil, err
	}
	if err := p.applyGrants(ctx, tx, v); err != nil {
		return nil, err
	}
	if req.EnqueueExisting {
		if err := p.enqueueExisting(ctx, tx, v); err != nil {
			return nil, err
		}
	}

	if v.Config.Scheduling.Implementation == SchedulingTimescaleDB {
		if p.scheduler == nil {
			return nil, fmt.Errorf("scheduling=timescaledb requested but no scheduler is configured")
		}
		interval := time.Duration(v.Config.Scheduling.ScheduleInterval)
		if interval <= 0 {
			interval = 5 * time.Minute
		}
		jobID, err := p.scheduler.Register(ctx, tx, v.ID, interval)
		if err != nil {
			return nil, fmt.Errorf("register scheduler job: %w", err)
		}
		v.Config.Scheduling.JobID = jobID
	}

	txRepo := NewRepository(tx)
	if err := txRepo.Insert(ctx, v); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit provisioning transaction: %w", err)
	}

	p.logger.Info().
		Int32("vectorizer_id", v.ID).
		Str("source", req.SourceSchema+"."+req.SourceTable).
		Str("target", v.TargetSchema+"."+v.TargetTable).
		Msg("vectorizer created")

	return v, nil
}

// Drop tears down a vectorizer: scheduler job, trigger + backing function,
// queue table, and batch staging tables are removed together with the
// vectorizer row. The target
// table and view are kept since they may hold user data.
func (p *Provisioner) Drop(ctx context.Context, id int32) error {
	v, err := p.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin teardown transaction: %w", err)
	}
	defer tx.Rollback()

	if jobID := v.Config.Scheduling.JobID; jobID != 0 && p.scheduler != nil {
		if err := p.scheduler.Remove(ctx, tx, jobID); err != nil {
			return fmt.Errorf("remove scheduler job %d: %w", jobID, err)
		}
	}

	// The source table may already be gone; only then is the trigger gone too.
	srcExists, err := RelationExists(ctx, tx, v.SourceSchema, v.SourceTable)
	if err != nil {
		return err
	}
	if srcExists {
		stmt := fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s",
			pq.QuoteIdentifier(v.TriggerName), qualified(v.SourceSchema, v.SourceTable))
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("drop trigger: %w", err)
		}
	}
	stmt := fmt.Sprintf("DROP FUNCTION IF EXISTS %s()",
		qualified(CatalogSchema, TriggerFuncName(id)))
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("drop trigger function: %w", err)
	}

	stmt = fmt.Sprintf("DROP TABLE IF EXISTS %s", qualified(v.QueueSchema, v.QueueTable))
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("drop queue table: %w", err)
	}

	if usesBatchAPI(v.Config) {
		for _, name := range []string{BatchChunksTableName(id), BatchTableName(id)} {
			stmt = fmt.Sprintf("DROP TABLE IF EXISTS %s", qualified(CatalogSchema, name))
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("drop batch table: %w", err)
			}
		}
	}

	txRepo := NewRepository(tx)
	if err := txRepo.Delete(ctx, id); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit teardown transaction: %w", err)
	}

	p.logger.Info().Int32("vectorizer_id", id).Msg("vectorizer dropped")
	return nil
}

// resolveDestination fills the target/view names from the destination config
// and the default naming scheme.
func (p *Provisioner) resolveDestination(v *Vectorizer) {
	d := v.Config.Destination
	switch d.Implementation {
	case DestinationCustom:
		v.TargetSchema = firstNonEmpty(d.TargetSchema, v.SourceSchema)
		v.TargetTable = d.TargetTable
		v.ViewSchema = firstNonEmpty(d.ViewSchema, v.SourceSchema)
		v.ViewName = firstNonEmpty(d.ViewName, DefaultViewName(v.SourceTable))
	case DestinationSource:
		// Embeddings land in a column on the source table itself.
		v.TargetSchema = v.SourceSchema
		v.TargetTable = v.SourceTable
	default:
		v.TargetSchema = v.SourceSchema
		v.TargetTable = DefaultTargetTable(v.SourceTable)
		v.ViewSchema = v.SourceSchema
		v.ViewName = DefaultViewName(v.SourceTable)
	}
}

func (p *Provisioner) checkNameCollisions(ctx context.Context, v *Vectorizer) error {
	type target struct{ schema, name string }
	var targets []target
	if v.Config.Destination.Implementation != DestinationSource {
		targets = append(targets,
			target{v.TargetSchema, v.TargetTable},
			target{v.ViewSchema, v.ViewName},
		)
	}
	targets = append(targets, target{v.QueueSchema, v.QueueTable})

	for _, t := range targets {
		exists, err := RelationExists(ctx, p.db, t.schema, t.name)
		if err != nil {
			return err
		}
		if exists {
			return ValidationErrors{{
				Kind: KindNameCollision, Field: "destination",
				Message: fmt.Sprintf("relation %s.%s already exists", t.schema, t.name),
			}}
		}
	}
	return nil
}

// createObjects creates the target table (or source embedding column), the
// queue table, the batch staging tables when the openai batch API is on, the
// source trigger, and the join view.
func (p *Provisioner) createObjects(ctx context.Context, tx DB, v *Vectorizer) error {
	pkDefs := make([]string, len(v.SourcePK))
	pkNames := make([]string, len(v.SourcePK))
	for i, col := range v.SourcePK {
		pkDefs[i] = fmt.Sprintf("%s %s NOT NULL", pq.QuoteIdentifier(col.AttName), col.AttType)
		pkNames[i] = pq.QuoteIdentifier(col.AttName)
	}
	pkList := strings.Join(pkNames, ", ")

	if v.Config.Destination.Implementation == DestinationSource {
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s vector(%d)",
			qualified(v.SourceSchema, v.SourceTable),
			pq.QuoteIdentifier(v.Config.Destination.EmbeddingColumn),
			v.Config.Embedding.Dimensions)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("add embedding column: %w", err)
		}
	} else {
		stmt := fmt.Sprintf(`CREATE TABLE %s (
	embedding_uuid uuid NOT NULL PRIMARY KEY DEFAULT gen_random_uuid(),
	%s,
	chunk_seq int4 NOT NULL,
	chunk text NOT NULL,
	embedding vector(%d) NOT NULL,
	UNIQUE (%s, chunk_seq)
)`,
			qualified(v.TargetSchema, v.TargetTable),
			strings.Join(pkDefs, ",\n\t"),
			v.Config.Embedding.Dimensions,
			pkList)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create target table: %w", err)
		}
	}

	stmt := fmt.Sprintf(`CREATE TABLE %s (
	%s,
	queued_at timestamptz NOT NULL DEFAULT now()
)`,
		qualified(v.QueueSchema, v.QueueTable),
		strings.Join(pkDefs, ",\n\t"))
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create queue table: %w", err)
	}
	stmt = fmt.Sprintf("CREATE INDEX ON %s (%s)",
		qualified(v.QueueSchema, v.QueueTable), pkList)
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("index queue table: %w", err)
	}

	if usesBatchAPI(v.Config) {
		if err := p.createBatchTables(ctx, tx, v); err != nil {
			return err
		}
	}

	if err := p.createTrigger(ctx, tx, v, pkNames); err != nil {
		return err
	}

	if v.Config.Destination.Implementation != DestinationSource {
		if err := p.createView(ctx, tx, v, pkNames); err != nil {
			return err
		}
	}
	return nil
}

// createBatchTables creates the staging tables the openai batch mode uses to
// track in-flight jobs and their chunk inputs.
func (p *Provisioner) createBatchTables(ctx context.Context, tx DB, v *Vectorizer) error {
	stmt := fmt.Sprintf(`CREATE TABLE %s (
	batch_id text NOT NULL PRIMARY KEY,
	status text NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now(),
	completed_at timestamptz
)`, qualified(CatalogSchema, BatchTableName(v.ID)))
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create batch table: %w", err)
	}

	stmt = fmt.Sprintf(`CREATE TABLE %s (
	batch_id text NOT NULL,
	input_index int4 NOT NULL,
	chunk text NOT NULL,
	PRIMARY KEY (batch_id, input_index)
)`, qualified(CatalogSchema, BatchChunksTableName(v.ID)))
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create batch chunks table: %w", err)
	}
	return nil
}

func usesBatchAPI(cfg *Config) bool {
	return cfg.Embedding.Implementation == EmbeddingOpenAI && cfg.Embedding.UseBatchAPI
}

// createTrigger installs the AFTER ROW trigger feeding the queue. INSERT and
// UPDATE enqueue the new primary key; DELETE removes the row's embeddings.
// The function runs as definer and touches only objects named here, never
// user-supplied SQL.
func (p *Provisioner) createTrigger(ctx context.Context, tx DB, v *Vectorizer, pkNames []string) error {
	newVals := make([]string, len(pkNames))
	deleteConds := make([]string, len(pkNames))
	for i, name := range pkNames {
		newVals[i] = "NEW." + name
		deleteConds[i] = fmt.Sprintf("%s = OLD.%s", name, name)
	}

	deleteBranch := "RETURN OLD;"
	if v.Config.Destination.Implementation != DestinationSource {
		deleteBranch = fmt.Sprintf("DELETE FROM %s WHERE %s;\n\t\tRETURN OLD;",
			qualified(v.TargetSchema, v.TargetTable), strings.Join(deleteConds, " AND "))
	}

	fn := fmt.Sprintf(`CREATE OR REPLACE FUNCTION %s() RETURNS trigger
LANGUAGE plpgsql SECURITY DEFINER
SET search_path = pg_catalog, pg_temp
AS $trg$
BEGIN
	IF (TG_OP = 'DELETE') THEN
		%s
	END IF;
	INSERT INTO %s (%s) VALUES (%s);
	RETURN NEW;
END
$trg$`,
		qualified(CatalogSchema, TriggerFuncName(v.ID)),
		deleteBranch,
		qualified(v.QueueSchema, v.QueueTable),
		strings.Join(pkNames, ", "),
		strings.Join(newVals, ", "))
	if _, err := tx.ExecContext(ctx, fn); err != nil {
		return fmt.Errorf("create trigger function: %w", err)
	}

	stmt := fmt.Sprintf(`CREATE TRIGGER %s
AFTER INSERT OR UPDATE OR DELETE ON %s
FOR EACH ROW EXECUTE FUNCTION %s()`,
		pq.QuoteIdentifier(v.TriggerName),
		qualified(v.SourceSchema, v.SourceTable),
		qualified(CatalogSchema, TriggerFuncName(v.ID)))
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create trigger: %w", err)
	}
	return nil
}

// createView joins the embedding store back to the source rows on pk.
func (p *Provisioner) createView(ctx context.Context, tx DB, v *Vectorizer, pkNames []string) error {
	joinConds := make([]string, len(pkNames))
	for i, name := range pkNames {
		joinConds[i] = fmt.Sprintf("t.%s = s.%s", name, name)
	}
	stmt := fmt.Sprintf(`CREATE VIEW %s AS
SELECT t.embedding_uuid, t.chunk_seq, t.chunk, t.embedding, s.*
FROM %s t
LEFT JOIN %s s ON %s`,
		qualified(v.ViewSchema, v.ViewName),
		qualified(v.TargetSchema, v.TargetTable),
		qualified(v.SourceSchema, v.SourceTable),
		strings.Join(joinConds, " AND "))
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create view: %w", err)
	}
	return nil
}

// applyGrants grants SELECT on the source and full DML on queue and target to
// each configured role. A missing role logs a warning and is skipped.
func (p *Provisioner) applyGrants(ctx context.Context, tx DB, v *Vectorizer) error {
	var roles []string
	switch v.Config.GrantTo.Implementation {
	case GrantToExplicit:
		roles = v.Config.GrantTo.Roles
	case GrantToTimescale:
		roles = append(append([]string{}, v.Config.GrantTo.Roles...), "tsdbadmin")
	}

	for _, role := range roles {
		exists, err := RoleExists(ctx, tx, role)
		if err != nil {
			return err
		}
		if !exists {
			p.logger.Warn().Str("role", role).Msg("grant_to role does not exist, skipping")
			continue
		}

		stmts := []string{
			fmt.Sprintf("GRANT SELECT ON %s TO %s",
				qualified(v.SourceSchema, v.SourceTable), pq.QuoteIdentifier(role)),
			fmt.Sprintf("GRANT SELECT, INSERT, UPDATE, DELETE ON %s TO %s",
				qualified(v.QueueSchema, v.QueueTable), pq.QuoteIdentifier(role)),
		}
		if v.Config.Destination.Implementation != DestinationSource {
			stmts = append(stmts, fmt.Sprintf("GRANT SELECT, INSERT, UPDATE, DELETE ON %s TO %s",
				qualified(v.TargetSchema, v.TargetTable), pq.QuoteIdentifier(role)))
		}
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("grant to %s: %w", role, err)
			}
		}
	}
	return nil
}

// enqueueExisting copies all current source primary keys into the queue in a
// single statement.
func (p *Provisioner) enqueueExisting(ctx context.Context, tx DB, v *Vectorizer) error {
	pkNames := make([]string, len(v.SourcePK))
	for i, col := range v.SourcePK {
		pkNames[i] = pq.QuoteIdentifier(col.AttName)
	}
	pkList := strings.Join(pkNames, ", ")

	stmt := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
		qualified(v.QueueSchema, v.QueueTable), pkList, pkList,
		qualified(v.SourceSchema, v.SourceTable))
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("enqueue existing rows: %w", err)
	}
	return nil
}

func qualified(schema, name string) string {
	return pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(name)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
