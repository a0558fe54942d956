// Package filter decides whether a pin offer is worth acting on. The
// checks run in a fixed order and the first failure wins; all arithmetic
// is integer stroops.
package filter

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/pintheon/pinner/pinner/stellar"
	"github.com/pintheon/pinner/pinner/types"
)

var log = logrus.WithField("prefix", "filter")

// Wallet balance must cover this many times the estimated fee before an
// offer is worth submitting a claim for.
const feeSafetyFactor = 2

// Store is the slice of the state store the filter reads.
type Store interface {
	Offer(ctx context.Context, slotID uint64) (*types.OfferRecord, error)
	Claim(ctx context.Context, slotID uint64) (*types.Claim, error)
	HasPin(ctx context.Context, cid string) (bool, error)
	DaemonConfig(ctx context.Context) (*types.DaemonConfigRecord, error)
}

// ChainQueries is the read-only contract surface the filter consults.
type ChainQueries interface {
	GetSlot(ctx context.Context, slotID uint64) (*stellar.SlotInfo, error)
	IsSlotExpired(ctx context.Context, slotID uint64) (bool, error)
	AccountBalance(ctx context.Context, address string) (int64, error)
}

// SizeProber checks declared content size without moving body bytes.
type SizeProber interface {
	Probe(ctx context.Context, gateway, cid string) (int64, error)
}

// FeeEstimator produces the claim fee estimate used by the wallet and
// profitability checks.
type FeeEstimator interface {
	EstimateClaimFee(ctx context.Context, slotID uint64) int64
}

// Policy carries the static fallbacks used when no runtime policy record
// has been persisted yet.
type Policy struct {
	MinPrice       int64
	MaxContentSize int64
}

// Filter evaluates pin offers against local policy and on-chain state.
type Filter struct {
	store    Store
	queries  ChainQueries
	prober   SizeProber
	fees     FeeEstimator
	operator string
	fallback Policy
}

// New builds an offer filter. operator is the daemon's own address, used
// for the wallet balance check.
func New(store Store, queries ChainQueries, prober SizeProber, fees FeeEstimator, operator string, fallback Policy) *Filter {
	return &Filter{
		store:    store,
		queries:  queries,
		prober:   prober,
		fees:     fees,
		operator: operator,
		fallback: fallback,
	}
}

func (f *Filter) policy(ctx context.Context) (minPrice, maxSize int64) {
	minPrice, maxSize = f.fallback.MinPrice, f.fallback.MaxContentSize
	rec, err := f.store.DaemonConfig(ctx)
	if err != nil {
		log.WithError(err).Warn("Could not load runtime policy, using defaults")
		return
	}
	if rec != nil {
		if rec.MinPrice > 0 {
			minPrice = rec.MinPrice
		}
		if rec.MaxContentSize > 0 {
			maxSize = rec.MaxContentSize
		}
	}
	return
}

func reject(ev *stellar.PinEvent, reason string) *types.FilterResult {
	return &types.FilterResult{
		Accepted:   false,
		Reason:     reason,
		SlotID:     ev.SlotID,
		OfferPrice: ev.OfferPrice,
	}
}

// Evaluate applies the policy predicates to a pin offer, first failure
// wins. Inconclusive lookups (chain query or gateway probe errors) never
// reject on their own; the definitive checks still run.
func (f *Filter) Evaluate(ctx context.Context, ev *stellar.PinEvent) (*types.FilterResult, error) {
	minPrice, maxSize := f.policy(ctx)

	// 1. Slot already claimed or filled locally.
	if offer, err := f.store.Offer(ctx, ev.SlotID); err != nil {
		return nil, err
	} else if offer != nil && (offer.Status == types.StatusClaimed || offer.Status == types.StatusFilled) {
		return reject(ev, types.ReasonAlreadySeenClaimed), nil
	}
	if claim, err := f.store.Claim(ctx, ev.SlotID); err != nil {
		return nil, err
	} else if claim != nil {
		return reject(ev, types.ReasonAlreadySeenClaimed), nil
	}

	// 2. CID already pinned locally.
	if pinned, err := f.store.HasPin(ctx, ev.CID); err != nil {
		return nil, err
	} else if pinned {
		return reject(ev, types.ReasonCIDAlreadyPinned), nil
	}

	// 3. Price floor. Equality is accepted.
	if ev.OfferPrice < minPrice {
		return reject(ev, types.ReasonPriceTooLow), nil
	}

	// 4. Slot liveness on-chain.
	if expired, err := f.queries.IsSlotExpired(ctx, ev.SlotID); err != nil {
		log.WithError(err).WithField("slotID", ev.SlotID).Warn("Slot expiry check inconclusive")
	} else if expired {
		return reject(ev, types.ReasonSlotNotActive), nil
	}
	if slot, err := f.queries.GetSlot(ctx, ev.SlotID); err != nil {
		log.WithError(err).WithField("slotID", ev.SlotID).Warn("Slot lookup inconclusive")
	} else if slot != nil && slot.PinsRemaining == 0 {
		return reject(ev, types.ReasonSlotNotActive), nil
	}

	// 5. Declared content size. Equality is accepted.
	if size, err := f.prober.Probe(ctx, ev.Gateway, ev.CID); err != nil {
		log.WithError(err).WithField("cid", ev.CID).Warn("Gateway size probe inconclusive")
	} else if size > maxSize {
		return reject(ev, types.ReasonContentTooLarge), nil
	}

	// 6 and 7. Fee driven checks.
	fee := f.fees.EstimateClaimFee(ctx, ev.SlotID)
	balance, err := f.queries.AccountBalance(ctx, f.operator)
	if err != nil {
		return nil, err
	}
	result := &types.FilterResult{
		SlotID:         ev.SlotID,
		OfferPrice:     ev.OfferPrice,
		WalletBalance:  balance,
		EstimatedTxFee: fee,
		NetProfit:      ev.OfferPrice - fee,
	}
	if balance < fee*feeSafetyFactor {
		result.Reason = types.ReasonInsufficientXLM
		return result, nil
	}
	if ev.OfferPrice-fee <= 0 {
		result.Reason = types.ReasonUnprofitable
		return result, nil
	}

	result.Accepted = true
	result.Reason = types.ReasonAccepted
	return result, nil
}
