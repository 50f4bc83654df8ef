package testing

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/teranos/dialpulse/db"
)

// CreateTestDB creates a migrated SQLite database in a per-test temp dir.
// A file (not :memory:) keeps every pooled connection on the same data, which the
// concurrent dispatch loops rely on. Cleanup is registered via t.Cleanup().
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := db.OpenWithMigrations(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("Failed to create test database: %+v", err)
	}

	t.Cleanup(func() {
		conn.Close()
	})

	return conn
}
