package kv

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/pintheon/pinner/pinner/types"
)

// SaveFlag records a successful flag submission against a pinner. At most
// one row per pinner address; the contract enforces the same constraint.
func (s *Store) SaveFlag(ctx context.Context, rec *types.FlagRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(flagHistoryBucket)
		key := []byte(rec.PinnerAddress)
		if bkt.Get(key) != nil {
			return errors.Errorf("flag already recorded for pinner %s", rec.PinnerAddress)
		}
		if rec.SubmittedAt.IsZero() {
			rec.SubmittedAt = time.Now().UTC()
		}
		enc, err := json.Marshal(rec)
		if err != nil {
			return errors.Wrap(err, "could not encode flag record")
		}
		return bkt.Put(key, enc)
	})
}

// HasFlagged reports whether a flag was already submitted for the pinner.
func (s *Store) HasFlagged(ctx context.Context, pinnerAddress string) (bool, error) {
	var flagged bool
	err := s.db.View(func(tx *bolt.Tx) error {
		flagged = tx.Bucket(flagHistoryBucket).Get([]byte(pinnerAddress)) != nil
		return nil
	})
	return flagged, err
}

// Flag returns the flag record for a pinner, or nil.
func (s *Store) Flag(ctx context.Context, pinnerAddress string) (*types.FlagRecord, error) {
	var rec *types.FlagRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		enc := tx.Bucket(flagHistoryBucket).Get([]byte(pinnerAddress))
		if enc == nil {
			return nil
		}
		rec = &types.FlagRecord{}
		return json.Unmarshal(enc, rec)
	})
	return rec, err
}

// FlagHistory returns all recorded flag submissions.
func (s *Store) FlagHistory(ctx context.Context) ([]*types.FlagRecord, error) {
	var records []*types.FlagRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(flagHistoryBucket).ForEach(func(k, v []byte) error {
			rec := &types.FlagRecord{}
			if err := json.Unmarshal(v, rec); err != nil {
				return errors.Wrap(err, "could not decode flag record")
			}
			records = append(records, rec)
			return nil
		})
	})
	return records, err
}
