package kv

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/pintheon/pinner/pinner/types"
)

// DaemonConfig returns the persisted runtime policy record, or nil if none
// has been saved yet.
func (s *Store) DaemonConfig(ctx context.Context) (*types.DaemonConfigRecord, error) {
	var rec *types.DaemonConfigRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		enc := tx.Bucket(metadataBucket).Get(daemonConfigKey)
		if len(enc) == 0 {
			return nil
		}
		rec = &types.DaemonConfigRecord{}
		return json.Unmarshal(enc, rec)
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not decode daemon config")
	}
	return rec, nil
}

// SaveDaemonConfig persists the runtime policy record, stamping UpdatedAt.
func (s *Store) SaveDaemonConfig(ctx context.Context, rec *types.DaemonConfigRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	enc, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "could not encode daemon config")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(metadataBucket).Put(daemonConfigKey, enc)
	})
}
