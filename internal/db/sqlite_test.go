package db

import (
	"path/filepath"
	"testing"
)

func TestOpen_CreatesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tabmux.db")
	conn, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer conn.Close()

	var name string
	err = conn.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='session_history'`).Scan(&name)
	if err != nil {
		t.Fatalf("schema missing: %v", err)
	}

	// Migrations are idempotent.
	if err := runMigrations(conn); err != nil {
		t.Errorf("second migration failed: %v", err)
	}
}
