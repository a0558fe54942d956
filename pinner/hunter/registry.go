package hunter

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/pintheon/pinner/pinner/db/iface"
	"github.com/pintheon/pinner/pinner/stellar"
	"github.com/pintheon/pinner/pinner/types"
)

// ChainRegistry is the on-chain pinner lookup the cache refreshes from.
type ChainRegistry interface {
	GetPinner(ctx context.Context, address string) (*stellar.PinnerData, error)
}

// Registry caches on-chain pinner records so a verification cycle does not
// hit the chain once per check. Two layers: an in-memory hot cache and the
// durable pinner-cache bucket, both TTL governed with lazy eviction. The
// durable layer survives restarts mid cooldown.
type Registry struct {
	store   iface.Database
	queries ChainRegistry
	ttl     time.Duration
	hot     *gocache.Cache
}

// NewRegistry builds the pinner registry cache with the given entry ttl.
func NewRegistry(store iface.Database, queries ChainRegistry, ttl time.Duration) *Registry {
	return &Registry{
		store:   store,
		queries: queries,
		ttl:     ttl,
		hot:     gocache.New(ttl, 10*time.Minute),
	}
}

// PinnerInfo returns the registry record for an address, refreshing from
// chain on miss or when the cached entry has aged past the ttl. An
// unregistered address returns (nil, nil).
func (r *Registry) PinnerInfo(ctx context.Context, address string) (*types.PinnerInfo, error) {
	if cached, ok := r.hot.Get(address); ok {
		return cached.(*types.PinnerInfo), nil
	}
	stored, err := r.store.CachedPinner(ctx, address)
	if err != nil {
		return nil, err
	}
	if stored != nil && time.Since(stored.CachedAt) <= r.ttl {
		r.hot.SetDefault(address, stored)
		return stored, nil
	}
	return r.Refresh(ctx, address)
}

// Refresh fetches the pinner record from chain and repopulates both cache
// layers.
func (r *Registry) Refresh(ctx context.Context, address string) (*types.PinnerInfo, error) {
	pinner, err := r.queries.GetPinner(ctx, address)
	if err != nil {
		return nil, err
	}
	if pinner == nil {
		return nil, nil
	}
	info := &types.PinnerInfo{
		Address:   pinner.Address,
		NodeID:    pinner.NodeID,
		Multiaddr: pinner.Multiaddr,
		Active:    pinner.Active,
	}
	if err := r.store.CachePinner(ctx, info); err != nil {
		return nil, err
	}
	r.hot.SetDefault(address, info)
	log.WithField("pinner", shortID(address)).Debug("Refreshed pinner registry entry")
	return info, nil
}

// Evict drops an address from both cache layers.
func (r *Registry) Evict(ctx context.Context, address string) error {
	r.hot.Delete(address)
	return r.store.ExpirePinner(ctx, address)
}

func shortID(s string) string {
	if len(s) > 16 {
		return s[:16]
	}
	return s
}
