// Package testutil provides shared helpers for package tests.
package testutil

import (
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/evanhollis/eraflow/internal/store"
)

// NewStore opens a throwaway SQLite store under t.TempDir.
func NewStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(store.Config{
		Path:   filepath.Join(t.TempDir(), "eraflow.db"),
		Logger: slog.Default(),
	})
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
