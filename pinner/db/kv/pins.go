package kv

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/pintheon/pinner/pinner/types"
)

// SavePin records a cid as pinned on the local storage node under the
// daemon's ownership.
func (s *Store) SavePin(ctx context.Context, pin *types.PinRecord) error {
	if pin.PinnedAt.IsZero() {
		pin.PinnedAt = time.Now().UTC()
	}
	enc, err := json.Marshal(pin)
	if err != nil {
		return errors.Wrap(err, "could not encode pin")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(pinsBucket).Put([]byte(pin.CID), enc)
	})
}

// HasPin reports whether a pin row exists for cid.
func (s *Store) HasPin(ctx context.Context, cid string) (bool, error) {
	var exists bool
	err := s.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(pinsBucket).Get([]byte(cid)) != nil
		return nil
	})
	return exists, err
}

// Pin returns the pin row for cid, or nil if none exists.
func (s *Store) Pin(ctx context.Context, cid string) (*types.PinRecord, error) {
	var pin *types.PinRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		enc := tx.Bucket(pinsBucket).Get([]byte(cid))
		if enc == nil {
			return nil
		}
		pin = &types.PinRecord{}
		return json.Unmarshal(enc, pin)
	})
	return pin, err
}

// DeletePin removes the pin row for cid. Used when the operator has opted
// into unpinning on slot release.
func (s *Store) DeletePin(ctx context.Context, cid string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(pinsBucket).Delete([]byte(cid))
	})
}

// Pins returns all pin rows.
func (s *Store) Pins(ctx context.Context) ([]*types.PinRecord, error) {
	var pins []*types.PinRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(pinsBucket).ForEach(func(k, v []byte) error {
			pin := &types.PinRecord{}
			if err := json.Unmarshal(v, pin); err != nil {
				return errors.Wrap(err, "could not decode pin")
			}
			pins = append(pins, pin)
			return nil
		})
	})
	return pins, err
}
