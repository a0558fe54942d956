// Package testing provides database setup helpers for tests.
package testing

import (
	"testing"

	"github.com/pintheon/pinner/pinner/db/iface"
	"github.com/pintheon/pinner/pinner/db/kv"
)

// SetupDB instantiates and returns a state store backed by a temp
// directory, cleaned up with the test.
func SetupDB(t testing.TB) iface.Database {
	db, err := kv.NewKVStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to instantiate DB: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Fatalf("Failed to close database: %v", err)
		}
		if err := db.ClearDB(); err != nil {
			t.Fatalf("Failed to clear database: %v", err)
		}
	})
	return db
}
