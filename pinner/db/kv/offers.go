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

// ErrIllegalTransition is returned when an offer status update would leave
// a terminal state or skip a lifecycle step.
var ErrIllegalTransition = errors.New("illegal offer status transition")

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// SaveOffer persists a new offer keyed by slot id. Insert-or-ignore: if a
// row for the slot already exists the call is a no-op and returns false, so
// re-polled events cannot clobber lifecycle progress.
func (s *Store) SaveOffer(ctx context.Context, offer *types.OfferRecord) (bool, error) {
	inserted := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(offersBucket)
		key := bytesutil.Uint64ToBytesBigEndian(offer.SlotID)
		if bkt.Get(key) != nil {
			return nil
		}
		now := time.Now().UTC()
		offer.CreatedAt = now
		offer.UpdatedAt = now
		enc, err := json.Marshal(offer)
		if err != nil {
			return errors.Wrap(err, "could not encode offer")
		}
		if err := bkt.Put(key, enc); err != nil {
			return err
		}
		inserted = true
		return nil
	})
	return inserted, err
}

// Offer returns the offer for a slot id, or nil if none exists.
func (s *Store) Offer(ctx context.Context, slotID uint64) (*types.OfferRecord, error) {
	var offer *types.OfferRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		enc := tx.Bucket(offersBucket).Get(bytesutil.Uint64ToBytesBigEndian(slotID))
		if enc == nil {
			return nil
		}
		offer = &types.OfferRecord{}
		return json.Unmarshal(enc, offer)
	})
	return offer, err
}

// UpdateOffer applies fn to the offer row for slotID inside a single write
// transaction. fn may mutate any field except the status; use
// UpdateOfferStatus for lifecycle moves so the transition guard applies.
func (s *Store) UpdateOffer(ctx context.Context, slotID uint64, fn func(offer *types.OfferRecord) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(offersBucket)
		key := bytesutil.Uint64ToBytesBigEndian(slotID)
		enc := bkt.Get(key)
		if enc == nil {
			return errors.Wrapf(ErrNotFound, "offer for slot %d", slotID)
		}
		offer := &types.OfferRecord{}
		if err := json.Unmarshal(enc, offer); err != nil {
			return errors.Wrap(err, "could not decode offer")
		}
		status := offer.Status
		if err := fn(offer); err != nil {
			return err
		}
		offer.Status = status
		offer.UpdatedAt = time.Now().UTC()
		out, err := json.Marshal(offer)
		if err != nil {
			return errors.Wrap(err, "could not encode offer")
		}
		return bkt.Put(key, out)
	})
}

// UpdateOfferStatus moves an offer to a new lifecycle status. Transitions
// that would leave a terminal state, or that the state machine does not
// permit, are rejected with ErrIllegalTransition.
func (s *Store) UpdateOfferStatus(ctx context.Context, slotID uint64, status types.OfferStatus, rejectReason string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(offersBucket)
		key := bytesutil.Uint64ToBytesBigEndian(slotID)
		enc := bkt.Get(key)
		if enc == nil {
			return errors.Wrapf(ErrNotFound, "offer for slot %d", slotID)
		}
		offer := &types.OfferRecord{}
		if err := json.Unmarshal(enc, offer); err != nil {
			return errors.Wrap(err, "could not decode offer")
		}
		if !offer.Status.CanTransition(status) {
			return errors.Wrapf(ErrIllegalTransition, "%s -> %s for slot %d", offer.Status, status, slotID)
		}
		offer.Status = status
		if rejectReason != "" {
			offer.RejectReason = rejectReason
		}
		offer.UpdatedAt = time.Now().UTC()
		out, err := json.Marshal(offer)
		if err != nil {
			return errors.Wrap(err, "could not encode offer")
		}
		return bkt.Put(key, out)
	})
}

// OffersByStatus returns all offers currently in the given status, in slot
// id order.
func (s *Store) OffersByStatus(ctx context.Context, status types.OfferStatus) ([]*types.OfferRecord, error) {
	var offers []*types.OfferRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(offersBucket).ForEach(func(k, v []byte) error {
			offer := &types.OfferRecord{}
			if err := json.Unmarshal(v, offer); err != nil {
				return errors.Wrap(err, "could not decode offer")
			}
			if offer.Status == status {
				offers = append(offers, offer)
			}
			return nil
		})
	})
	return offers, err
}

// ApprovalQueue returns all offers waiting for an operator decision.
func (s *Store) ApprovalQueue(ctx context.Context) ([]*types.OfferRecord, error) {
	return s.OffersByStatus(ctx, types.StatusAwaitingApproval)
}
