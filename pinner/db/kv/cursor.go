package kv

import (
	"context"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/pintheon/pinner/encoding/bytesutil"
)

// Cursor returns the highest ledger sequence whose events have been fully
// ingested. Zero means no cursor has been persisted yet.
func (s *Store) Cursor(ctx context.Context) (uint64, error) {
	var cursor uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		enc := tx.Bucket(metadataBucket).Get(cursorKey)
		if len(enc) == 0 {
			return nil
		}
		cursor = bytesutil.BytesToUint64BigEndian(enc)
		return nil
	})
	return cursor, err
}

// SaveCursor persists the cursor. The cursor is monotonically
// non-decreasing; an attempt to move it backwards is rejected.
func (s *Store) SaveCursor(ctx context.Context, ledger uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(metadataBucket)
		if enc := bkt.Get(cursorKey); len(enc) != 0 {
			if prev := bytesutil.BytesToUint64BigEndian(enc); ledger < prev {
				return errors.Errorf("cursor cannot move backwards from %d to %d", prev, ledger)
			}
		}
		return bkt.Put(cursorKey, bytesutil.Uint64ToBytesBigEndian(ledger))
	})
}
