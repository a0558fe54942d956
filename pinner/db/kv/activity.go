package kv

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/pintheon/pinner/encoding/bytesutil"
	"github.com/pintheon/pinner/pinner/types"
)

// LogActivity appends one entry to the activity feed. The feed is
// append-only and never authoritative for daemon state.
func (s *Store) LogActivity(ctx context.Context, entry *types.ActivityRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(activityBucket)
		seq, err := bkt.NextSequence()
		if err != nil {
			return err
		}
		entry.ID = seq
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = time.Now().UTC()
		}
		enc, err := json.Marshal(entry)
		if err != nil {
			return errors.Wrap(err, "could not encode activity entry")
		}
		return bkt.Put(bytesutil.Uint64ToBytesBigEndian(seq), enc)
	})
}

// RecentActivity returns up to limit entries, newest first.
func (s *Store) RecentActivity(ctx context.Context, limit int) ([]*types.ActivityRecord, error) {
	var entries []*types.ActivityRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(activityBucket).Cursor()
		for k, v := c.Last(); k != nil && len(entries) < limit; k, v = c.Prev() {
			entry := &types.ActivityRecord{}
			if err := json.Unmarshal(v, entry); err != nil {
				return errors.Wrap(err, "could not decode activity entry")
			}
			entries = append(entries, entry)
		}
		return nil
	})
	return entries, err
}
