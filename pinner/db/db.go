// Package db exports the state store interface and its bolt-backed
// constructor.
package db

import (
	"github.com/pintheon/pinner/pinner/db/iface"
	"github.com/pintheon/pinner/pinner/db/kv"
)

// Database exposes the state store operations.
type Database = iface.Database

// NewDB opens (or creates) the pinner database at the given data directory.
func NewDB(dirPath string) (Database, error) {
	return kv.NewKVStore(dirPath)
}
