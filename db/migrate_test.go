package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestOpenWithMigrations(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := OpenWithMigrations(dbPath, nil)
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"schema_migrations", "ai_model_usage", "segment_runs"} {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "table %s should exist after migrations", table)
	}

	var versions int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&versions))
	assert.Equal(t, 3, versions)
}

func TestMigrate_Idempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := OpenWithMigrations(dbPath, nil)
	require.NoError(t, err)
	ran, err := Migrate(db, nil)
	require.NoError(t, err)
	assert.Empty(t, ran, "second pass applies nothing")
	db.Close()

	// Reopening applies nothing new
	db, err = OpenWithMigrations(dbPath, nil)
	require.NoError(t, err)
	defer db.Close()

	var versions int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&versions))
	assert.Equal(t, 3, versions)
}

func TestMigrate_SegmentRunsStatusConstraint(t *testing.T) {
	db, err := OpenWithMigrations(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`INSERT INTO segment_runs (run_id, segment_start, segment_size, status, started_at)
		VALUES ('r', 0, 30, 'exploded', CURRENT_TIMESTAMP)`)
	assert.Error(t, err)
}

func TestMigrate_FreshDatabase(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "fresh.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	ran, err := Migrate(db, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	assert.Equal(t, []string{"000", "001", "002"}, ran)
}

func TestEmbeddedMigrations_Ordered(t *testing.T) {
	all, err := embeddedMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, all)
	assert.Equal(t, "000", all[0].version)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].version, all[i].version)
	}
}
