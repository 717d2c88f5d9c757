package worker

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/vectorsync-ai/vectorsync/internal/chunking"
	"github.com/vectorsync-ai/vectorsync/internal/embedding"
	"github.com/vectorsync-ai/vectorsync/internal/loading"
	"github.com/vectorsync-ai/vectorsync/internal/observability"
	"github.com/vectorsync-ai/vectorsync/internal/secrets"
	"github.com/vectorsync-ai/vectorsync/internal/vectorizer"
)

// defaultAPIKeyName maps an embedding implementation to the conventional
// environment variable holding its key.
func defaultAPIKeyName(implementation string) string {
	switch implementation {
	case vectorizer.EmbeddingOpenAI:
		return "OPENAI_API_KEY"
	case vectorizer.EmbeddingVoyageAI:
		return "VOYAGE_API_KEY"
	default:
		return ""
	}
}

// Executor runs the embedding pipeline for one vectorizer: claim queued
// primary keys, load and chunk the source rows, embed, and write the target
// table. One executor serves one vectorizer.
type Executor struct {
	db        *sql.DB
	v         *vectorizer.Vectorizer
	provider  embedding.Provider
	guard     *embedding.Guard
	splitter  chunking.Splitter
	loader    loading.Loader
	parser    loading.Parser
	formatter *Formatter
	logger    *observability.Logger

	batchSize   int
	concurrency int
	maxRetries  int
}

// NewExecutor wires the pipeline stages for one vectorizer. The API key is
// resolved through the secret resolver at construction, once per run.
func NewExecutor(ctx context.Context, db *sql.DB, v *vectorizer.Vectorizer, resolver secrets.Resolver, logger *observability.Logger) (*Executor, error) {
	cfg := v.Config

	apiKey := ""
	if name := defaultAPIKeyName(cfg.Embedding.Implementation); name != "" || cfg.Embedding.APIKeyName != "" {
		var err error
		apiKey, err = resolver.Resolve(ctx, "", cfg.Embedding.APIKeyName, name)
		if err != nil {
			return nil, fmt.Errorf("resolve embedding api key: %w", err)
		}
	}

	provider, err := embedding.New(cfg.Embedding, apiKey, 0)
	if err != nil {
		return nil, err
	}
	if cfg.Embedding.UseBatchAPI {
		openai, ok := provider.(*embedding.OpenAIProvider)
		if !ok {
			return nil, fmt.Errorf("use_batch_api requires the openai implementation")
		}
		provider = embedding.NewBatchProvider(openai, db, v.ID)
	}

	splitter, err := chunking.NewSplitter(&cfg.Chunking)
	if err != nil {
		return nil, err
	}
	loader, err := loading.New(&cfg.Loading)
	if err != nil {
		return nil, err
	}
	parser, err := loading.NewParser(&cfg.Parsing)
	if err != nil {
		return nil, err
	}
	formatter, err := NewFormatter(&cfg.Formatting)
	if err != nil {
		return nil, err
	}

	return &Executor{
		db:          db,
		v:           v,
		provider:    provider,
		guard:       embedding.NewGuard(cfg.Embedding.Dimensions),
		splitter:    splitter,
		loader:      loader,
		parser:      parser,
		formatter:   formatter,
		logger:      logger.WithVectorizer(v.ID),
		batchSize:   cfg.Processing.BatchSize,
		concurrency: cfg.Processing.Concurrency,
		maxRetries:  cfg.Processing.MaxRetries,
	}, nil
}

// RunStats aggregates the outcome of one queue drain.
type RunStats struct {
	Succeeded int64
	Failed    int64
	LastError string
}

// Run drains the vectorizer's queue, one claimed batch per transaction.
func (e *Executor) Run(ctx context.Context) (RunStats, error) {
	var stats RunStats
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		bs, err := e.processBatch(ctx)
		if err != nil {
			return stats, err
		}
		stats.Succeeded += bs.succeeded
		stats.Failed += bs.failed
		if bs.lastErr != "" {
			stats.LastError = bs.lastErr
		}
		// The drain is judged on physical queue rows, not deduplicated
		// keys; a full claim of duplicate entries must not end the pass.
		if bs.claimed < e.batchSize {
			return stats, nil
		}
	}
}

// item is one claimed source row mid-pipeline.
type item struct {
	pk       []interface{}
	payloads []string
	vectors  [][]float32
	err      error
}

// batchStats is the outcome of one claimed batch. claimed counts queue rows
// locked before pk dedupe.
type batchStats struct {
	claimed   int
	succeeded int64
	failed    int64
	lastErr   string
}

func (e *Executor) processBatch(ctx context.Context) (batchStats, error) {
	var stats batchStats

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("begin batch transaction: %w", err)
	}
	defer tx.Rollback()

	cs, err := e.claim(ctx, tx)
	if err != nil {
		return stats, err
	}
	stats.claimed = len(cs.ctids)
	if stats.claimed == 0 {
		return stats, nil
	}

	items, err := e.loadRows(ctx, tx, cs.pks)
	if err != nil {
		return stats, err
	}

	if err := e.embedItems(ctx, items); err != nil {
		return stats, err
	}

	for _, it := range items {
		if it.err == nil {
			if err := e.writeItem(ctx, tx, it); err != nil {
				return stats, err
			}
		}
		if it.err != nil {
			// Deterministic failure: drop the queue rows below and surface
			// the count through the progress record.
			e.logger.Warn().Err(it.err).Msg("dropping row after deterministic error")
			stats.failed++
			stats.lastErr = it.err.Error()
			continue
		}
		stats.succeeded++
	}

	if err := e.deleteClaimed(ctx, tx, cs.ctids); err != nil {
		return stats, err
	}
	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("commit batch: %w", err)
	}
	return stats, nil
}

// claimSet is one locked batch: the deduplicated pk tuples to process and
// the physical queue rows backing them.
type claimSet struct {
	pks   [][]interface{}
	ctids []string
}

// claim locks up to batchSize queued rows. SKIP LOCKED lets concurrent
// workers share one queue without blocking each other; the ctid of every
// locked row is kept so the batch deletes exactly what it observed.
func (e *Executor) claim(ctx context.Context, tx *sql.Tx) (*claimSet, error) {
	pkCols := e.pkColumnList()
	query := fmt.Sprintf(
		"SELECT ctid, %s FROM %s ORDER BY queued_at LIMIT %d FOR UPDATE SKIP LOCKED",
		pkCols, e.queueTable(), e.batchSize)

	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("claim queue rows: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	cs := &claimSet{}
	for rows.Next() {
		var ctid string
		pk := make([]interface{}, len(e.v.SourcePK))
		dest := make([]interface{}, 0, len(pk)+1)
		dest = append(dest, &ctid)
		for i := range pk {
			dest = append(dest, &pk[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan claimed row: %w", err)
		}
		cs.ctids = append(cs.ctids, ctid)
		// The queue may hold several entries for one row; process it once.
		key := pkKey(pk)
		if seen[key] {
			continue
		}
		seen[key] = true
		cs.pks = append(cs.pks, pk)
	}
	return cs, rows.Err()
}

// loadRows fetches the claimed source rows and runs load, parse, chunk, and
// format. Claimed keys whose source row has vanished produce no item; their
// queue entries are simply deleted.
func (e *Executor) loadRows(ctx context.Context, tx *sql.Tx, claimed [][]interface{}) ([]*item, error) {
	loadCol := e.v.Config.Loading.ColumnName
	fetchCols := make([]string, 0, len(e.v.SourcePK)+1+len(e.formatter.Columns()))
	for _, pk := range e.v.SourcePK {
		fetchCols = append(fetchCols, pk.AttName)
	}
	fetchCols = append(fetchCols, loadCol)
	for _, c := range e.formatter.Columns() {
		if c != loadCol && !containsPK(e.v.SourcePK, c) {
			fetchCols = append(fetchCols, c)
		}
	}

	quoted := make([]string, len(fetchCols))
	for i, c := range fetchCols {
		quoted[i] = pq.QuoteIdentifier(c)
	}
	where, args := e.pkTupleFilter(claimed, 1)
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		strings.Join(quoted, ", "), e.sourceTable(), where)

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch source rows: %w", err)
	}
	defer rows.Close()

	var items []*item
	npk := len(e.v.SourcePK)
	for rows.Next() {
		values := make([]interface{}, len(fetchCols))
		dest := make([]interface{}, len(values))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan source row: %w", err)
		}

		it := &item{pk: values[:npk]}
		rowVals := make(map[string]string, len(fetchCols)-npk)
		for i := npk; i < len(fetchCols); i++ {
			rowVals[fetchCols[i]] = stringifyValue(values[i])
		}
		for i, pk := range e.v.SourcePK {
			rowVals[pk.AttName] = stringifyValue(values[i])
		}

		it.payloads, it.err = e.buildPayloads(ctx, values[npk], rowVals)
		items = append(items, it)
	}
	return items, rows.Err()
}

func (e *Executor) buildPayloads(ctx context.Context, loadValue interface{}, rowVals map[string]string) ([]string, error) {
	doc, err := e.loader.Load(ctx, loadValue)
	if err != nil {
		return nil, err
	}
	text, err := e.parser.Parse(doc)
	if err != nil {
		return nil, err
	}
	chunks := e.splitter.Split(text)
	if len(chunks) == 0 {
		return nil, loading.ErrEmptyContent
	}

	payloads := make([]string, len(chunks))
	for i, c := range chunks {
		payloads[i] = e.formatter.Render(c.Text, rowVals)
	}
	return payloads, nil
}

// embedItems generates vectors for every healthy item, retrying transport
// failures with exponential backoff and spreading items across the
// configured concurrency.
func (e *Executor) embedItems(ctx context.Context, items []*item) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for _, it := range items {
		if it.err != nil {
			continue
		}
		it := it
		g.Go(func() error {
			results, err := e.embedWithRetry(gctx, it.payloads)
			if err != nil {
				if embedding.IsRetryable(err) {
					// Retries exhausted; fail the run so the rows stay queued.
					return err
				}
				it.err = err
				return nil
			}
			it.vectors = make([][]float32, len(results))
			for i, r := range results {
				if r.Err != nil {
					it.err = r.Err
					return nil
				}
				if err := e.guard.Check(r.Vector); err != nil {
					it.err = err
					return nil
				}
				it.vectors[i] = r.Vector
			}
			return nil
		})
	}
	return g.Wait()
}

func (e *Executor) embedWithRetry(ctx context.Context, payloads []string) ([]embedding.Result, error) {
	var results []embedding.Result
	op := func() error {
		var err error
		results, err = e.provider.Embed(ctx, payloads)
		if err != nil {
			if embedding.IsRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = time.Minute
	err := backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(e.maxRetries)), ctx))
	return results, err
}

// writeItem replaces the row's embeddings: delete whatever chunks exist for
// the primary key, then insert the fresh set. The delete+insert pair keeps
// stale chunks from surviving a re-chunk that produced fewer pieces.
func (e *Executor) writeItem(ctx context.Context, tx *sql.Tx, it *item) error {
	if e.v.Config.Destination.Implementation == vectorizer.DestinationSource {
		return e.writeSourceColumn(ctx, tx, it)
	}

	where, args := e.pkTupleFilter([][]interface{}{it.pk}, 1)
	del := fmt.Sprintf("DELETE FROM %s WHERE %s", e.targetTable(), where)
	if _, err := tx.ExecContext(ctx, del, args...); err != nil {
		return fmt.Errorf("delete stale chunks: %w", err)
	}

	cols := make([]string, 0, len(e.v.SourcePK)+3)
	for _, pk := range e.v.SourcePK {
		cols = append(cols, pq.QuoteIdentifier(pk.AttName))
	}
	cols = append(cols, "chunk_seq", "chunk", "embedding")

	placeholders := make([]string, len(cols))
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		e.targetTable(), strings.Join(cols, ", "), strings.Join(fillPlaceholders(placeholders), ", "))

	for seq, vec := range it.vectors {
		args := make([]interface{}, 0, len(cols))
		args = append(args, it.pk...)
		args = append(args, seq, it.payloads[seq], formatVector(vec))
		if _, err := tx.ExecContext(ctx, insert, args...); err != nil {
			return fmt.Errorf("insert chunk %d: %w", seq, err)
		}
	}
	return nil
}

// writeSourceColumn updates the vector column on the source row itself.
// Source-destination vectorizers embed whole values, so more than one chunk
// is a configuration problem surfaced as a deterministic error.
func (e *Executor) writeSourceColumn(ctx context.Context, tx *sql.Tx, it *item) error {
	if len(it.vectors) != 1 {
		it.err = fmt.Errorf("source destination requires exactly one chunk, got %d", len(it.vectors))
		return nil
	}

	where, args := e.pkTupleFilter([][]interface{}{it.pk}, 2)
	query := fmt.Sprintf("UPDATE %s SET %s = $1 WHERE %s",
		e.sourceTable(),
		pq.QuoteIdentifier(e.v.Config.Destination.EmbeddingColumn),
		where)
	allArgs := append([]interface{}{formatVector(it.vectors[0])}, args...)
	if _, err := tx.ExecContext(ctx, query, allArgs...); err != nil {
		return fmt.Errorf("update source embedding column: %w", err)
	}
	return nil
}

// deleteClaimed removes exactly the queue rows this batch locked. Filtering
// by ctid leaves entries committed after the claim untouched, so a source
// update that lands mid-batch is picked up on a later pass.
func (e *Executor) deleteClaimed(ctx context.Context, tx *sql.Tx, ctids []string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE ctid = ANY($1::tid[])", e.queueTable())
	if _, err := tx.ExecContext(ctx, query, pq.Array(ctids)); err != nil {
		return fmt.Errorf("delete claimed queue rows: %w", err)
	}
	return nil
}

// pkTupleFilter builds "(a, b) IN (($1, $2), ($3, $4))" for the given pk
// tuples, with placeholders starting at firstArg.
func (e *Executor) pkTupleFilter(pks [][]interface{}, firstArg int) (string, []interface{}) {
	cols := make([]string, len(e.v.SourcePK))
	for i, pk := range e.v.SourcePK {
		cols[i] = pq.QuoteIdentifier(pk.AttName)
	}

	var args []interface{}
	tuples := make([]string, len(pks))
	n := firstArg
	for i, pk := range pks {
		ph := make([]string, len(pk))
		for j, v := range pk {
			ph[j] = fmt.Sprintf("$%d", n)
			args = append(args, v)
			n++
		}
		tuples[i] = "(" + strings.Join(ph, ", ") + ")"
	}
	return fmt.Sprintf("(%s) IN (%s)", strings.Join(cols, ", "), strings.Join(tuples, ", ")), args
}

func (e *Executor) pkColumnList() string {
	cols := make([]string, len(e.v.SourcePK))
	for i, pk := range e.v.SourcePK {
		cols[i] = pq.QuoteIdentifier(pk.AttName)
	}
	return strings.Join(cols, ", ")
}

func (e *Executor) queueTable() string {
	return pq.QuoteIdentifier(e.v.QueueSchema) + "." + pq.QuoteIdentifier(e.v.QueueTable)
}

func (e *Executor) sourceTable() string {
	return pq.QuoteIdentifier(e.v.SourceSchema) + "." + pq.QuoteIdentifier(e.v.SourceTable)
}

func (e *Executor) targetTable() string {
	return pq.QuoteIdentifier(e.v.TargetSchema) + "." + pq.QuoteIdentifier(e.v.TargetTable)
}

func containsPK(pks []vectorizer.PKColumn, name string) bool {
	for _, pk := range pks {
		if pk.AttName == name {
			return true
		}
	}
	return false
}

func pkKey(pk []interface{}) string {
	parts := make([]string, len(pk))
	for i, v := range pk {
		parts[i] = stringifyValue(v)
	}
	return strings.Join(parts, "\x1f")
}

func fillPlaceholders(ph []string) []string {
	for i := range ph {
		ph[i] = fmt.Sprintf("$%d", i+1)
	}
	return ph
}
