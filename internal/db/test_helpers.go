package db

import (
	"path/filepath"
	"testing"
)

// NewTestDB opens a migrated database in a per-test temp dir.
func NewTestDB(t testing.TB) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
