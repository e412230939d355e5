package db

import (
	"path/filepath"
	"testing"
)

// NewTestDB creates a fresh SQLite database in a temp directory with the
// schema applied. A file is used instead of :memory: so that every pooled
// connection sees the same data.
func NewTestDB(t testing.TB) *DB {
	t.Helper()

	d, err := Open(SQLite, filepath.Join(t.TempDir(), "test.sqlite3"))
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}

	if err := Migrate(d); err != nil {
		d.Close()
		t.Fatalf("creating test database schema: %v", err)
	}

	t.Cleanup(func() { d.Close() })

	return d
}
