package kv

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/pintheon/pinner/pinner/types"
)

// CachedPinner returns the cached registry record for an address along
// with its age, or nil when no entry exists. Eviction is lazy; staleness
// is judged by the caller against its ttl.
func (s *Store) CachedPinner(ctx context.Context, address string) (*types.PinnerInfo, error) {
	var info *types.PinnerInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		enc := tx.Bucket(pinnerCacheBucket).Get([]byte(address))
		if enc == nil {
			return nil
		}
		info = &types.PinnerInfo{}
		return json.Unmarshal(enc, info)
	})
	return info, err
}

// CachePinner stores a registry record fetched from chain, stamping
// CachedAt.
func (s *Store) CachePinner(ctx context.Context, info *types.PinnerInfo) error {
	info.CachedAt = time.Now().UTC()
	enc, err := json.Marshal(info)
	if err != nil {
		return errors.Wrap(err, "could not encode pinner info")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(pinnerCacheBucket).Put([]byte(info.Address), enc)
	})
}

// ExpirePinner drops the cached record for an address.
func (s *Store) ExpirePinner(ctx context.Context, address string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(pinnerCacheBucket).Delete([]byte(address))
	})
}
