package worker

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectorsync-ai/vectorsync/internal/chunking"
	"github.com/vectorsync-ai/vectorsync/internal/embedding"
	"github.com/vectorsync-ai/vectorsync/internal/loading"
	"github.com/vectorsync-ai/vectorsync/internal/observability"
	"github.com/vectorsync-ai/vectorsync/internal/vectorizer"
)

func testVectorizer() *vectorizer.Vectorizer {
	return &vectorizer.Vectorizer{
		ID:           1,
		SourceSchema: "public",
		SourceTable:  "docs",
		SourcePK:     []vectorizer.PKColumn{{AttName: "id", AttType: "int8"}},
		TargetSchema: "public",
		TargetTable:  "docs_embedding_store",
		QueueSchema:  "ai",
		QueueTable:   "_vectorizer_q_1",
		Config: &vectorizer.Config{
			Embedding: vectorizer.EmbeddingConfig{
				Implementation: vectorizer.EmbeddingOpenAI,
				Model:          "text-embedding-3-small",
				Dimensions:     4,
			},
			Chunking: vectorizer.ChunkingConfig{
				Implementation: vectorizer.ChunkingCharacter,
				ChunkColumn:    "body",
				ChunkSize:      800,
			},
			Loading: vectorizer.LoadingConfig{
				Implementation: vectorizer.LoadingRow,
				ColumnName:     "body",
			},
			Parsing: vectorizer.ParsingConfig{Implementation: vectorizer.ParsingNone},
			Formatting: vectorizer.FormattingConfig{
				Implementation: vectorizer.FormattingPythonTemplate,
				Template:       "$chunk",
			},
			Destination: vectorizer.DestinationConfig{Implementation: vectorizer.DestinationDefault},
			Processing:  vectorizer.ProcessingConfig{BatchSize: 50, Concurrency: 1, MaxRetries: 2},
		},
	}
}

func newTestExecutor(t *testing.T, v *vectorizer.Vectorizer, db *sql.DB) *Executor {
	t.Helper()

	splitter, err := chunking.NewSplitter(&v.Config.Chunking)
	require.NoError(t, err)
	loader, err := loading.New(&v.Config.Loading)
	require.NoError(t, err)
	parser, err := loading.NewParser(&v.Config.Parsing)
	require.NoError(t, err)
	formatter, err := NewFormatter(&v.Config.Formatting)
	require.NoError(t, err)

	return &Executor{
		db:          db,
		v:           v,
		provider:    embedding.NewMockProvider(v.Config.Embedding.Dimensions),
		guard:       embedding.NewGuard(v.Config.Embedding.Dimensions),
		splitter:    splitter,
		loader:      loader,
		parser:      parser,
		formatter:   formatter,
		logger:      observability.NopLogger(),
		batchSize:   v.Config.Processing.BatchSize,
		concurrency: v.Config.Processing.Concurrency,
		maxRetries:  v.Config.Processing.MaxRetries,
	}
}

func queueRows(t *testing.T, pairs ...interface{}) *sqlmock.Rows {
	t.Helper()
	require.Zero(t, len(pairs)%2)
	rows := sqlmock.NewRows([]string{"ctid", "id"})
	for i := 0; i < len(pairs); i += 2 {
		rows.AddRow(pairs[i], pairs[i+1])
	}
	return rows
}

func TestExecutor_ProcessBatch_HappyPath(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	// Duplicate queue entries for pk 10 collapse into one processed row.
	mock.ExpectQuery(`SELECT ctid, "id" FROM "ai"\."_vectorizer_q_1" ORDER BY queued_at LIMIT 50 FOR UPDATE SKIP LOCKED`).
		WillReturnRows(queueRows(t,
			"(0,1)", int64(10),
			"(0,2)", int64(10),
			"(0,3)", int64(11)))
	mock.ExpectQuery(`SELECT "id", "body" FROM "public"\."docs" WHERE \("id"\) IN \(\(\$1\), \(\$2\)\)`).
		WithArgs(int64(10), int64(11)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "body"}).
			AddRow(int64(10), "first document").
			AddRow(int64(11), "second document"))

	mock.ExpectExec(`DELETE FROM "public"\."docs_embedding_store" WHERE \("id"\) IN \(\(\$1\)\)`).
		WithArgs(int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO "public"\."docs_embedding_store"`).
		WithArgs(int64(10), 0, "first document", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(`DELETE FROM "public"\."docs_embedding_store" WHERE \("id"\) IN \(\(\$1\)\)`).
		WithArgs(int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO "public"\."docs_embedding_store"`).
		WithArgs(int64(11), 0, "second document", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(`DELETE FROM "ai"\."_vectorizer_q_1" WHERE ctid = ANY\(\$1::tid\[\]\)`).
		WithArgs(pq.Array([]string{"(0,1)", "(0,2)", "(0,3)"})).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	e := newTestExecutor(t, testVectorizer(), db)
	stats, err := e.processBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.claimed)
	assert.Equal(t, int64(2), stats.succeeded)
	assert.Zero(t, stats.failed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutor_ProcessBatch_EmptyQueue(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WillReturnRows(queueRows(t))
	mock.ExpectRollback()

	e := newTestExecutor(t, testVectorizer(), db)
	stats, err := e.processBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.claimed)
}

func TestExecutor_ProcessBatch_DeterministicErrorDropsRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WillReturnRows(queueRows(t, "(0,1)", int64(20)))
	// Empty body yields a deterministic load error; no target writes happen
	// but the queue row is still deleted and the failure is counted.
	mock.ExpectQuery(`FROM "public"\."docs"`).
		WithArgs(int64(20)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "body"}).AddRow(int64(20), ""))
	mock.ExpectExec(`DELETE FROM "ai"\."_vectorizer_q_1"`).
		WithArgs(pq.Array([]string{"(0,1)"})).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	e := newTestExecutor(t, testVectorizer(), db)
	stats, err := e.processBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.claimed)
	assert.Zero(t, stats.succeeded)
	assert.Equal(t, int64(1), stats.failed)
	assert.NotEmpty(t, stats.lastErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutor_VanishedSourceRowOnlyClearsQueue(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WillReturnRows(queueRows(t, "(0,1)", int64(30)))
	mock.ExpectQuery(`FROM "public"\."docs"`).
		WithArgs(int64(30)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "body"}))
	mock.ExpectExec(`DELETE FROM "ai"\."_vectorizer_q_1"`).
		WithArgs(pq.Array([]string{"(0,1)"})).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	e := newTestExecutor(t, testVectorizer(), db)
	stats, err := e.processBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.claimed)
	assert.Zero(t, stats.succeeded)
	assert.Zero(t, stats.failed)
}

// The commit-time queue delete must name the physical rows the claim locked,
// so entries committed mid-batch survive for the next pass.
func TestExecutor_DeletesOnlyClaimedQueueRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WillReturnRows(queueRows(t, "(0,7)", int64(60)))
	mock.ExpectQuery(`FROM "public"\."docs"`).
		WithArgs(int64(60)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "body"}).AddRow(int64(60), "text"))
	mock.ExpectExec(`DELETE FROM "public"\."docs_embedding_store"`).
		WithArgs(int64(60)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO "public"\."docs_embedding_store"`).
		WithArgs(int64(60), 0, "text", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM "ai"\."_vectorizer_q_1" WHERE ctid = ANY\(\$1::tid\[\]\)`).
		WithArgs(pq.Array([]string{"(0,7)"})).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	e := newTestExecutor(t, testVectorizer(), db)
	stats, err := e.processBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.succeeded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A claim filled entirely by duplicate entries for one pk still counts as a
// full batch, so the drain goes back for the rest of the queue.
func TestExecutor_Run_DrainsPastDuplicateFullClaim(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WillReturnRows(queueRows(t, "(0,1)", int64(10), "(0,2)", int64(10)))
	mock.ExpectQuery(`FROM "public"\."docs"`).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "body"}).AddRow(int64(10), "first"))
	mock.ExpectExec(`DELETE FROM "public"\."docs_embedding_store"`).
		WithArgs(int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO "public"\."docs_embedding_store"`).
		WithArgs(int64(10), 0, "first", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM "ai"\."_vectorizer_q_1"`).
		WithArgs(pq.Array([]string{"(0,1)", "(0,2)"})).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WillReturnRows(queueRows(t, "(0,3)", int64(11)))
	mock.ExpectQuery(`FROM "public"\."docs"`).
		WithArgs(int64(11)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "body"}).AddRow(int64(11), "second"))
	mock.ExpectExec(`DELETE FROM "public"\."docs_embedding_store"`).
		WithArgs(int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO "public"\."docs_embedding_store"`).
		WithArgs(int64(11), 0, "second", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM "ai"\."_vectorizer_q_1"`).
		WithArgs(pq.Array([]string{"(0,3)"})).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	e := newTestExecutor(t, testVectorizer(), db)
	e.batchSize = 2

	stats, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Succeeded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

type failingProvider struct{}

func (failingProvider) Embed(context.Context, []string) ([]embedding.Result, error) {
	return nil, &embedding.TransportError{StatusCode: 503, Message: "unavailable"}
}
func (failingProvider) Model() string   { return "failing" }
func (failingProvider) Dimensions() int { return 4 }

func TestExecutor_TransportFailureKeepsRowsQueued(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WillReturnRows(queueRows(t, "(0,1)", int64(40)))
	mock.ExpectQuery(`FROM "public"\."docs"`).
		WithArgs(int64(40)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "body"}).AddRow(int64(40), "text"))
	mock.ExpectRollback()

	e := newTestExecutor(t, testVectorizer(), db)
	e.provider = failingProvider{}
	e.maxRetries = 0

	_, err = e.processBatch(context.Background())
	require.Error(t, err)
	assert.True(t, embedding.IsRetryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutor_SourceDestinationWritesBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	v := testVectorizer()
	v.Config.Destination = vectorizer.DestinationConfig{
		Implementation:  vectorizer.DestinationSource,
		EmbeddingColumn: "embedding",
	}
	v.TargetSchema = v.SourceSchema
	v.TargetTable = v.SourceTable

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WillReturnRows(queueRows(t, "(0,1)", int64(50)))
	mock.ExpectQuery(`FROM "public"\."docs"`).
		WithArgs(int64(50)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "body"}).AddRow(int64(50), "short"))
	mock.ExpectExec(`UPDATE "public"\."docs" SET "embedding" = \$1 WHERE \("id"\) IN \(\(\$2\)\)`).
		WithArgs(sqlmock.AnyArg(), int64(50)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM "ai"\."_vectorizer_q_1"`).
		WithArgs(pq.Array([]string{"(0,1)"})).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	e := newTestExecutor(t, v, db)
	stats, err := e.processBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.succeeded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutor_PKTupleFilter(t *testing.T) {
	v := testVectorizer()
	v.SourcePK = []vectorizer.PKColumn{{AttName: "a"}, {AttName: "b"}}
	e := &Executor{v: v}

	where, args := e.pkTupleFilter([][]interface{}{{1, "x"}, {2, "y"}}, 1)
	assert.Equal(t, `("a", "b") IN (($1, $2), ($3, $4))`, where)
	assert.Equal(t, []interface{}{1, "x", 2, "y"}, args)
}

func TestDefaultAPIKeyName(t *testing.T) {
	assert.Equal(t, "OPENAI_API_KEY", defaultAPIKeyName(vectorizer.EmbeddingOpenAI))
	assert.Equal(t, "VOYAGE_API_KEY", defaultAPIKeyName(vectorizer.EmbeddingVoyageAI))
	assert.Empty(t, defaultAPIKeyName(vectorizer.EmbeddingOllama))
}
