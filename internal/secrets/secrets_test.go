package secrets

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDBResolver_LiteralWins(t *testing.T) {
	r := NewDBResolver(nil)

	v, err := r.Resolve(context.Background(), "literal-key", "SOME_NAME", "DEFAULT_NAME")
	require.NoError(t, err)
	assert.Equal(t, "literal-key", v)
}

func TestDBResolver_EnvByName(t *testing.T) {
	t.Setenv("VSYNC_TEST_KEY", "from-env")
	r := NewDBResolver(nil)

	v, err := r.Resolve(context.Background(), "", "VSYNC_TEST_KEY", "OPENAI_API_KEY")
	require.NoError(t, err)
	assert.Equal(t, "from-env", v)
}

func TestDBResolver_EnvByDefaultName(t *testing.T) {
	t.Setenv("VSYNC_TEST_DEFAULT", "fallback-env")
	r := NewDBResolver(nil)

	v, err := r.Resolve(context.Background(), "", "VSYNC_TEST_MISSING", "VSYNC_TEST_DEFAULT")
	require.NoError(t, err)
	assert.Equal(t, "fallback-env", v)
}

func TestDBResolver_DatabaseFallback(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT ai.reveal_secret").
		WithArgs("VSYNC_DB_KEY").
		WillReturnRows(sqlmock.NewRows([]string{"reveal_secret"}).AddRow("from-db"))

	r := NewDBResolver(db)
	v, err := r.Resolve(context.Background(), "", "VSYNC_DB_KEY", "")
	require.NoError(t, err)
	assert.Equal(t, "from-db", v)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBResolver_CachesResolvedValue(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// Only one query despite two resolves.
	mock.ExpectQuery("SELECT ai.reveal_secret").
		WithArgs("VSYNC_CACHED").
		WillReturnRows(sqlmock.NewRows([]string{"reveal_secret"}).AddRow("v1"))

	r := NewDBResolver(db)
	ctx := context.Background()

	v, err := r.Resolve(ctx, "", "VSYNC_CACHED", "")
	require.NoError(t, err)
	assert.Equal(t, "v1", v)

	v, err = r.Resolve(ctx, "", "VSYNC_CACHED", "")
	require.NoError(t, err)
	assert.Equal(t, "v1", v)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBResolver_NotFound(t *testing.T) {
	r := NewDBResolver(nil)

	_, err := r.Resolve(context.Background(), "", "VSYNC_NOPE", "VSYNC_ALSO_NOPE")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestStaticResolver(t *testing.T) {
	r := StaticResolver{"OPENAI_API_KEY": "static"}

	v, err := r.Resolve(context.Background(), "", "", "OPENAI_API_KEY")
	require.NoError(t, err)
	assert.Equal(t, "static", v)

	_, err = r.Resolve(context.Background(), "", "MISSING", "")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}
