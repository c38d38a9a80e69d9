package testsupport

import (
	"testing"

	"cinedeck/internal/config"
	"cinedeck/internal/store"
)

// MustOpenStore opens the database described by cfg and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.DB {
	t.Helper()

	db, err := store.Open(cfg.DatabasePath())
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}
