package testing

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/teranos/ontogen/db"
)

// CreateTestDB creates a migrated SQLite database in a temp dir.
// A file is used instead of :memory: so pooled connections share one database.
// Automatically registers cleanup via t.Cleanup().
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	database, err := db.OpenWithMigrations(filepath.Join(t.TempDir(), "ontogen_test.db"), nil)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		database.Close()
	})

	return database
}
