package kv

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/pintheon/pinner/pinner/types"
)

func trackedPinKey(cid, pinner string) []byte {
	return []byte(cid + "|" + pinner)
}

// SaveTrackedCID records a cid the operator published for auditing and
// indexes it by cid hash so PINNED/UNPIN events can be resolved.
func (s *Store) SaveTrackedCID(ctx context.Context, tc *types.TrackedCID) error {
	if tc.CreatedAt.IsZero() {
		tc.CreatedAt = time.Now().UTC()
	}
	enc, err := json.Marshal(tc)
	if err != nil {
		return errors.Wrap(err, "could not encode tracked cid")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(trackedCIDsBucket).Put([]byte(tc.CID), enc); err != nil {
			return err
		}
		return tx.Bucket(cidHashIndexBucket).Put([]byte(tc.CIDHash), []byte(tc.CID))
	})
}

// TrackedCID returns the tracked cid row, or nil if the cid is not audited.
func (s *Store) TrackedCID(ctx context.Context, cid string) (*types.TrackedCID, error) {
	var tc *types.TrackedCID
	err := s.db.View(func(tx *bolt.Tx) error {
		enc := tx.Bucket(trackedCIDsBucket).Get([]byte(cid))
		if enc == nil {
			return nil
		}
		tc = &types.TrackedCID{}
		return json.Unmarshal(enc, tc)
	})
	return tc, err
}

// TrackedCIDByHash resolves a cid hash from a PINNED or UNPIN event to the
// tracked cid row, or nil when the hash does not belong to an audited cid.
func (s *Store) TrackedCIDByHash(ctx context.Context, cidHash string) (*types.TrackedCID, error) {
	var tc *types.TrackedCID
	err := s.db.View(func(tx *bolt.Tx) error {
		cid := tx.Bucket(cidHashIndexBucket).Get([]byte(cidHash))
		if cid == nil {
			return nil
		}
		enc := tx.Bucket(trackedCIDsBucket).Get(cid)
		if enc == nil {
			return nil
		}
		tc = &types.TrackedCID{}
		return json.Unmarshal(enc, tc)
	})
	return tc, err
}

// SaveTrackedPin inserts a (cid, pinner) pair under verification.
// Insert-or-ignore on the composite key; returns true only when a new row
// was created.
func (s *Store) SaveTrackedPin(ctx context.Context, tp *types.TrackedPin) (bool, error) {
	inserted := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(trackedPinsBucket)
		key := trackedPinKey(tp.CID, tp.PinnerAddress)
		if bkt.Get(key) != nil {
			return nil
		}
		if tp.ClaimedAt.IsZero() {
			tp.ClaimedAt = time.Now().UTC()
		}
		if tp.Status == "" {
			tp.Status = types.TrackingStatus
		}
		enc, err := json.Marshal(tp)
		if err != nil {
			return errors.Wrap(err, "could not encode tracked pin")
		}
		if err := bkt.Put(key, enc); err != nil {
			return err
		}
		inserted = true
		return nil
	})
	return inserted, err
}

// TrackedPin returns the row for a (cid, pinner) pair, or nil.
func (s *Store) TrackedPin(ctx context.Context, cid, pinner string) (*types.TrackedPin, error) {
	var tp *types.TrackedPin
	err := s.db.View(func(tx *bolt.Tx) error {
		enc := tx.Bucket(trackedPinsBucket).Get(trackedPinKey(cid, pinner))
		if enc == nil {
			return nil
		}
		tp = &types.TrackedPin{}
		return json.Unmarshal(enc, tp)
	})
	return tp, err
}

// TrackedPins returns rows matching any of the given statuses; with no
// filter, all rows are returned.
func (s *Store) TrackedPins(ctx context.Context, statuses ...types.TrackedPinStatus) ([]*types.TrackedPin, error) {
	match := func(st types.TrackedPinStatus) bool {
		if len(statuses) == 0 {
			return true
		}
		for _, want := range statuses {
			if st == want {
				return true
			}
		}
		return false
	}
	var pins []*types.TrackedPin
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(trackedPinsBucket).ForEach(func(k, v []byte) error {
			tp := &types.TrackedPin{}
			if err := json.Unmarshal(v, tp); err != nil {
				return errors.Wrap(err, "could not decode tracked pin")
			}
			if match(tp.Status) {
				pins = append(pins, tp)
			}
			return nil
		})
	})
	return pins, err
}

// UpdateTrackedPin applies fn to the (cid, pinner) row inside one write
// transaction, so a verifier outcome updates counters and status
// atomically.
func (s *Store) UpdateTrackedPin(ctx context.Context, cid, pinner string, fn func(tp *types.TrackedPin) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(trackedPinsBucket)
		key := trackedPinKey(cid, pinner)
		enc := bkt.Get(key)
		if enc == nil {
			return errors.Wrapf(ErrNotFound, "tracked pin %s/%s", cid, pinner)
		}
		tp := &types.TrackedPin{}
		if err := json.Unmarshal(enc, tp); err != nil {
			return errors.Wrap(err, "could not decode tracked pin")
		}
		if err := fn(tp); err != nil {
			return err
		}
		out, err := json.Marshal(tp)
		if err != nil {
			return errors.Wrap(err, "could not encode tracked pin")
		}
		return bkt.Put(key, out)
	})
}

// FreeTrackedPinsByCIDHash marks every tracked pin of the cid behind the
// given hash as slot_freed, returning how many rows changed. Rows already
// freed are left untouched.
func (s *Store) FreeTrackedPinsByCIDHash(ctx context.Context, cidHash string) (int, error) {
	freed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		cid := tx.Bucket(cidHashIndexBucket).Get([]byte(cidHash))
		if cid == nil {
			return nil
		}
		bkt := tx.Bucket(trackedPinsBucket)
		prefix := append(append([]byte{}, cid...), '|')
		updates := make(map[string][]byte)
		c := bkt.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			tp := &types.TrackedPin{}
			if err := json.Unmarshal(v, tp); err != nil {
				return errors.Wrap(err, "could not decode tracked pin")
			}
			if tp.Status == types.SlotFreedStatus {
				continue
			}
			tp.Status = types.SlotFreedStatus
			out, err := json.Marshal(tp)
			if err != nil {
				return errors.Wrap(err, "could not encode tracked pin")
			}
			updates[string(k)] = out
		}
		for k, v := range updates {
			if err := bkt.Put([]byte(k), v); err != nil {
				return err
			}
			freed++
		}
		return nil
	})
	return freed, err
}
