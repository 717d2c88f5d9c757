package schema

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectorsync-ai/vectorsync/internal/observability"
)

func newTestInstaller(t *testing.T) (*Installer, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewInstaller(db, observability.NopLogger()), mock
}

func expectMigrationTable(mock sqlmock.Sqlmock, applied ...string) {
	mock.ExpectExec("CREATE SCHEMA IF NOT EXISTS ai").
		WillReturnResult(sqlmock.NewResult(0, 0))
	rows := sqlmock.NewRows([]string{"name"})
	for _, name := range applied {
		rows.AddRow(name)
	}
	mock.ExpectQuery("SELECT name FROM ai.migration").WillReturnRows(rows)
}

func TestInstaller_StatusFreshDatabase(t *testing.T) {
	inst, mock := newTestInstaller(t)
	expectMigrationTable(mock)

	status, err := inst.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, status.UpToDate())
	assert.Empty(t, status.Applied)
	assert.Len(t, status.Pending, len(migrations))
	assert.Equal(t, "001-schema", status.Pending[0])

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInstaller_StatusPartiallyApplied(t *testing.T) {
	inst, mock := newTestInstaller(t)
	expectMigrationTable(mock, "001-schema", "002-vectorizer")

	status, err := inst.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, status.UpToDate())
	assert.Equal(t, []string{"001-schema", "002-vectorizer"}, status.Applied)
	assert.Equal(t, "003-worker-registry", status.Pending[0])

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInstaller_ApplyRunsPendingInOrder(t *testing.T) {
	inst, mock := newTestInstaller(t)

	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM pg_extension WHERE extname = 'vector'\)`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	applied := make([]string, 0, len(migrations)-1)
	for _, m := range migrations[:len(migrations)-1] {
		applied = append(applied, m.name)
	}
	expectMigrationTable(mock, applied...)

	last := migrations[len(migrations)-1]
	mock.ExpectBegin()
	mock.ExpectExec("CREATE OR REPLACE PROCEDURE").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO ai.migration").
		WithArgs(last.name).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, inst.Apply(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInstaller_ApplyWithoutVectorExtension(t *testing.T) {
	inst, mock := newTestInstaller(t)

	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM pg_extension WHERE extname = 'vector'\)`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	err := inst.Apply(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vector extension is not installed")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInstaller_ApplyUpToDateIsNoop(t *testing.T) {
	inst, mock := newTestInstaller(t)

	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM pg_extension WHERE extname = 'vector'\)`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	names := make([]string, 0, len(migrations))
	for _, m := range migrations {
		names = append(names, m.name)
	}
	expectMigrationTable(mock, names...)

	require.NoError(t, inst.Apply(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
