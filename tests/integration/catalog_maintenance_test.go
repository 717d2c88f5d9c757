package integration

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectorsync-ai/vectorsync/internal/catalog"
	"github.com/vectorsync-ai/vectorsync/internal/embedding"
	"github.com/vectorsync-ai/vectorsync/internal/observability"
)

// tableAddress reads the (classid, objid) pair of a table.
func tableAddress(t *testing.T, db *sql.DB, qualified string) (int64, int64) {
	t.Helper()
	var classid, objid int64
	require.NoError(t, db.QueryRow(
		`SELECT 'pg_class'::regclass::oid::int8, $1::regclass::oid::int8`, qualified).
		Scan(&classid, &objid))
	return classid, objid
}

func TestCatalogSurvivesRename(t *testing.T) {
	skipUnlessDocker(t)

	setup := SetupPostgres(t)
	defer setup.Cleanup()
	db := setup.Open(t)
	setup.InstallSchema(t, db)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	_, err := db.ExecContext(ctx,
		`CREATE TABLE public.orders (id int PRIMARY KEY, total numeric NOT NULL)`)
	require.NoError(t, err)

	embedder := embedding.NewMockProvider(embeddingDims)
	repo := catalog.NewRepository(db, embedder)

	classid, objid := tableAddress(t, db, "public.orders")
	obj, err := repo.SetDescription(ctx, classid, objid, 0,
		"Customer orders with their monetary totals")
	require.NoError(t, err)
	assert.Equal(t, []string{"public", "orders"}, obj.ObjNames)

	// Column descriptions hang off the same oid pair.
	_, err = repo.SetDescription(ctx, classid, objid, 2,
		"Order total in the store currency")
	require.NoError(t, err)

	// Renaming the table invalidates the stored name, not the oid. The
	// maintenance hook realigns names from the oid triple.
	_, err = db.ExecContext(ctx, `ALTER TABLE public.orders RENAME TO purchases`)
	require.NoError(t, err)

	m := catalog.NewMaintainer(db, observability.NopLogger())
	require.NoError(t, m.HandleDDLEnd(ctx, []catalog.ObjectRef{
		{ClassID: classid, ObjID: objid, ObjSubID: 0, CommandTag: "ALTER TABLE"},
	}))

	var names []string
	got, err := repo.GetObjects(ctx, []int64{obj.ID})
	require.NoError(t, err)
	require.Len(t, got, 1)
	names = got[0].ObjNames
	assert.Equal(t, []string{"public", "purchases"}, names)

	// Retrieval finds the renamed table through its description embedding.
	results, err := embedder.Embed(ctx, []string{"Customer orders with their monetary totals"})
	require.NoError(t, err)
	hits, err := repo.SearchObjects(ctx, results[0].Vector, 5, 0)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, []string{"public", "purchases"}, hits[0].ObjNames)
}

func TestCatalogPostRestoreRealignsOids(t *testing.T) {
	skipUnlessDocker(t)

	setup := SetupPostgres(t)
	defer setup.Cleanup()
	db := setup.Open(t)
	setup.InstallSchema(t, db)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	_, err := db.ExecContext(ctx,
		`CREATE TABLE public.events (id int PRIMARY KEY, payload jsonb)`)
	require.NoError(t, err)

	repo := catalog.NewRepository(db, embedding.NewMockProvider(embeddingDims))
	classid, objid := tableAddress(t, db, "public.events")
	obj, err := repo.SetDescription(ctx, classid, objid, 0, "Event log")
	require.NoError(t, err)

	// Simulate a restore: the stored oid no longer matches the live object.
	_, err = db.ExecContext(ctx, `
		UPDATE ai.semantic_catalog_obj SET classid = 0, objid = 0 WHERE id = $1
	`, obj.ID)
	require.NoError(t, err)

	m := catalog.NewMaintainer(db, observability.NopLogger())
	require.NoError(t, m.PostRestore(ctx))

	var gotClassid, gotObjid int64
	require.NoError(t, db.QueryRowContext(ctx, `
		SELECT classid, objid FROM ai.semantic_catalog_obj WHERE id = $1
	`, obj.ID).Scan(&gotClassid, &gotObjid))
	assert.Equal(t, classid, gotClassid)
	assert.Equal(t, objid, gotObjid)
}

func TestCatalogDropRemovesRows(t *testing.T) {
	skipUnlessDocker(t)

	setup := SetupPostgres(t)
	defer setup.Cleanup()
	db := setup.Open(t)
	setup.InstallSchema(t, db)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	_, err := db.ExecContext(ctx,
		`CREATE TABLE public.sessions (id int PRIMARY KEY, started_at timestamptz)`)
	require.NoError(t, err)

	repo := catalog.NewRepository(db, embedding.NewMockProvider(embeddingDims))
	classid, objid := tableAddress(t, db, "public.sessions")
	_, err = repo.SetDescription(ctx, classid, objid, 0, "Login sessions")
	require.NoError(t, err)
	_, err = repo.SetDescription(ctx, classid, objid, 2, "Session start time")
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `DROP TABLE public.sessions`)
	require.NoError(t, err)

	m := catalog.NewMaintainer(db, observability.NopLogger())
	require.NoError(t, m.HandleDrops(ctx, []catalog.DroppedObject{{
		ObjType:  "table",
		ObjNames: []string{"public", "sessions"},
		ObjArgs:  []string{},
		ClassID:  classid,
		ObjID:    objid,
	}}))

	var remaining int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT count(*) FROM ai.semantic_catalog_obj`).Scan(&remaining))
	assert.Equal(t, 0, remaining)
}
