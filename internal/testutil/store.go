package testutil

import (
	"testing"

	"github.com/HerbHall/servicedesk/internal/store"
)

// NewStore opens an in-memory SQLite store closed at test cleanup.
func NewStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("testutil.NewStore: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}
