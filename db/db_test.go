package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func setupTestDB(t *testing.T) *Warehouse {
	t.Helper()
	w, err := OpenDatabase(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test db: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestOpenDatabase(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "nested", "warehouse.db")

	w, err := OpenDatabase(context.Background(), "sqlite://"+dbPath)
	if err != nil {
		t.Fatalf("OpenDatabase failed: %v", err)
	}
	defer w.Close()

	// Verify database file exists
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}

	// Verify schema was initialized
	var count int
	err = w.DB().QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name LIKE 'hubspot_%'").Scan(&count)
	if err != nil {
		t.Fatalf("Failed to query tables: %v", err)
	}
	if count != len(allTables) {
		t.Errorf("Expected %d tables, got %d", len(allTables), count)
	}

	// Verify WAL mode
	var mode string
	if err := w.DB().QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("Failed to query journal mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("Expected WAL mode, got %s", mode)
	}

	if w.Dialect() != DialectSQLite {
		t.Errorf("Expected sqlite dialect, got %s", w.Dialect())
	}
}

func TestOpenDatabaseReinitializes(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "warehouse.db")

	w, err := OpenDatabase(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("Initial OpenDatabase failed: %v", err)
	}
	_ = w.Close()

	// CREATE TABLE IF NOT EXISTS must tolerate existing tables
	w, err = OpenDatabase(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenDatabase should handle re-initialization, got: %v", err)
	}
	_ = w.Close()
}

func TestOpenDatabaseInvalidPath(t *testing.T) {
	_, err := OpenDatabase(context.Background(), "/invalid/nonexistent/path/that/cannot/be/created/test.db")
	if err == nil {
		t.Errorf("Expected error for invalid path, but OpenDatabase succeeded")
	}
}

func TestRebind(t *testing.T) {
	tests := []struct {
		name    string
		dialect Dialect
		in      string
		want    string
	}{
		{"sqlite untouched", DialectSQLite, "SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = ? AND b = ?"},
		{"postgres numbered", DialectPostgres, "SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = $1 AND b = $2"},
		{"postgres skips literals", DialectPostgres, "SELECT '?' FROM t WHERE a = ?", "SELECT '?' FROM t WHERE a = $1"},
		{"postgres escaped quote", DialectPostgres, "SELECT 'it''s ?' WHERE a = ?", "SELECT 'it''s ?' WHERE a = $1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.dialect.Rebind(tt.in); got != tt.want {
				t.Errorf("Rebind() = %q, want %q", got, tt.want)
			}
		})
	}
}
