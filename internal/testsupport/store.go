package testsupport

import (
	"testing"

	"bemflow/internal/config"
	"bemflow/internal/jobstore"
)

// MustOpenStore opens a history store for the provided config and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *jobstore.Store {
	t.Helper()
	store, err := jobstore.Open(cfg)
	if err != nil {
		t.Fatalf("jobstore.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
