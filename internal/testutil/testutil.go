// Package testutil provides shared test helpers for setting up state dirs and vector stores.
package testutil

import (
	"os"
	"testing"

	"github.com/fenwick/mnemon/internal/canonlog"
	"github.com/fenwick/mnemon/internal/embedding"
	"github.com/fenwick/mnemon/internal/vecstore"
)

// TestStore creates a temporary SQLite vector store backed by the local
// embedding provider, cleaned up automatically.
func TestStore(t *testing.T) *vecstore.Store {
	t.Helper()
	dbFile, err := os.CreateTemp("", "mnemon-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	store, err := vecstore.Open(dbFile.Name(), embedding.NewLocal())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// TestStateDir creates a temporary state directory with a canonical log
// source rooted in it.
func TestStateDir(t *testing.T) (string, *canonlog.FS) {
	t.Helper()
	stateDir := t.TempDir()
	source, err := canonlog.NewFS(stateDir)
	if err != nil {
		t.Fatal(err)
	}
	return stateDir, source
}
