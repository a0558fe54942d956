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

// ErrDuplicateClaim is returned when a claim already exists for a slot.
var ErrDuplicateClaim = errors.New("claim already recorded for slot")

// SaveClaim appends a claim row. Keyed by slot id, so a second claim for
// the same slot is rejected.
func (s *Store) SaveClaim(ctx context.Context, claim *types.Claim) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(claimsBucket)
		key := bytesutil.Uint64ToBytesBigEndian(claim.SlotID)
		if bkt.Get(key) != nil {
			return errors.Wrapf(ErrDuplicateClaim, "slot %d", claim.SlotID)
		}
		if claim.ClaimedAt.IsZero() {
			claim.ClaimedAt = time.Now().UTC()
		}
		enc, err := json.Marshal(claim)
		if err != nil {
			return errors.Wrap(err, "could not encode claim")
		}
		return bkt.Put(key, enc)
	})
}

// Claim returns the claim for a slot id, or nil if none exists.
func (s *Store) Claim(ctx context.Context, slotID uint64) (*types.Claim, error) {
	var claim *types.Claim
	err := s.db.View(func(tx *bolt.Tx) error {
		enc := tx.Bucket(claimsBucket).Get(bytesutil.Uint64ToBytesBigEndian(slotID))
		if enc == nil {
			return nil
		}
		claim = &types.Claim{}
		return json.Unmarshal(enc, claim)
	})
	return claim, err
}

// Earnings aggregates claim totals, bucketed over the standard trailing
// windows.
func (s *Store) Earnings(ctx context.Context) (*types.EarningsSummary, error) {
	summary := &types.EarningsSummary{}
	now := time.Now().UTC()
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(claimsBucket).ForEach(func(k, v []byte) error {
			claim := &types.Claim{}
			if err := json.Unmarshal(v, claim); err != nil {
				return errors.Wrap(err, "could not decode claim")
			}
			summary.ClaimsCount++
			summary.TotalEarned += claim.AmountEarned
			age := now.Sub(claim.ClaimedAt)
			if age <= 24*time.Hour {
				summary.Earned24h += claim.AmountEarned
			}
			if age <= 7*24*time.Hour {
				summary.Earned7d += claim.AmountEarned
			}
			if age <= 30*24*time.Hour {
				summary.Earned30d += claim.AmountEarned
			}
			return nil
		})
	})
	return summary, err
}
