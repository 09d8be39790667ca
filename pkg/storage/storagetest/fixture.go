// Package storagetest provides a temp-dir BoltStore fixture for tests that
// need a real durable store without managing file lifecycle by hand.
package storagetest

import (
	"path/filepath"
	"testing"

	"github.com/cuemby/ripple/pkg/storage"
)

// NewStore opens a BoltStore under t.TempDir(), with quotaBytes as its
// configured quota, and registers cleanup to close it.
func NewStore(t *testing.T, quotaBytes int64) *storage.BoltStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ripple-test.db")
	store, err := storage.NewBoltStore(path, quotaBytes)
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}
