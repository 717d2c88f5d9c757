package worker

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectorsync-ai/vectorsync/internal/config"
	"github.com/vectorsync-ai/vectorsync/internal/observability"
	"github.com/vectorsync-ai/vectorsync/internal/registry"
	"github.com/vectorsync-ai/vectorsync/internal/secrets"
	"github.com/vectorsync-ai/vectorsync/internal/vectorizer"
)

// A row dropped for a deterministic error must land in the progress table's
// error count, not disappear behind a clean success record.
func TestWorker_RunOneRecordsDeterministicErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	w := &Worker{
		db:        db,
		repo:      vectorizer.NewRepository(db),
		registry:  registry.NewRepository(db),
		resolver:  secrets.StaticResolver{"OPENAI_API_KEY": "test-key"},
		logger:    observability.NopLogger(),
		cfg:       config.WorkerConfig{HeartbeatInterval: time.Second},
		processID: uuid.New(),
	}

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WillReturnRows(sqlmock.NewRows([]string{"ctid", "id"}).AddRow("(0,1)", int64(20)))
	// The empty body fails deterministically before any embedding call.
	mock.ExpectQuery(`FROM "public"\."docs"`).
		WithArgs(int64(20)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "body"}).AddRow(int64(20), ""))
	mock.ExpectExec(`DELETE FROM "ai"\."_vectorizer_q_1"`).
		WithArgs(pq.Array([]string{"(0,1)"})).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectExec(`INSERT INTO ai\.vectorizer_worker_progress\s+\(vectorizer_id, error_count`).
		WithArgs(int32(1), int64(1), sqlmock.AnyArg(), w.processID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO ai\.vectorizer_worker_progress\s+\(vectorizer_id, success_count`).
		WithArgs(int32(1), int64(0), w.processID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, w.runOne(context.Background(), testVectorizer()))
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, int64(1), w.errorDelta.Load())
	assert.Equal(t, int64(1), w.successDelta.Load())
}
