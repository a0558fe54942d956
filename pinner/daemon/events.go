package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/pintheon/pinner/config"
	"github.com/pintheon/pinner/pinner/stellar"
	"github.com/pintheon/pinner/pinner/types"
)

var errInvalidMode = errors.New("invalid mode, must be one of: auto, approve")

// dispatch applies one contract event. A returned error means the event
// was not durably recorded and the window must not be advanced past it.
func (s *Service) dispatch(ctx context.Context, ev stellar.ContractEvent) error {
	switch e := ev.(type) {
	case *stellar.PinEvent:
		return s.handlePin(ctx, e)
	case *stellar.PinnedEvent:
		s.handlePinned(ctx, e)
	case *stellar.UnpinEvent:
		s.handleUnpin(ctx, e)
	}
	return nil
}

// handlePin persists the offer, runs it through the filter, and either
// starts the pin pipeline, queues it for approval, or rejects it. Only
// intake-persistence failures return an error; once the offer row is
// durable, downstream failures are logged and the offer is left for the
// recovery and expiry paths.
func (s *Service) handlePin(ctx context.Context, ev *stellar.PinEvent) error {
	if s.hunter != nil {
		if err := s.hunter.OnPinEvent(ctx, ev); err != nil {
			log.WithError(err).Warn("Hunter could not ingest PIN event")
		}
	}

	offer := &types.OfferRecord{
		SlotID:          ev.SlotID,
		CID:             ev.CID,
		Filename:        ev.Filename,
		Gateway:         ev.Gateway,
		OfferPrice:      ev.OfferPrice,
		PinQty:          ev.PinQty,
		PinsRemaining:   ev.PinQty,
		Publisher:       ev.Publisher,
		LedgerSequence:  ev.LedgerSequence,
		Status:          types.StatusPending,
		EstimatedExpiry: time.Now().UTC().Add(s.cfg.OfferTTL),
	}
	inserted, err := s.store.SaveOffer(ctx, offer)
	if err != nil {
		log.WithError(err).WithField("slot", ev.SlotID).Error("Could not persist offer")
		return errors.Wrapf(err, "could not persist offer for slot %d", ev.SlotID)
	}
	if inserted {
		offersSeenTotal.Inc()
		s.logActivity(types.ActivityOfferSeen, ev.SlotID, ev.CID, ev.OfferPrice,
			fmt.Sprintf("offer for %s at %d stroops", ev.CID, ev.OfferPrice))
		log.WithFields(logrus.Fields{
			"slot":  ev.SlotID,
			"cid":   ev.CID,
			"price": ev.OfferPrice,
		}).Info("New pin offer")
	} else {
		// Replayed window after a crash. A record past pending already
		// reflects its verdict; a pending one never got filtered, so it
		// runs the pipeline again.
		existing, err := s.store.Offer(ctx, ev.SlotID)
		if err != nil {
			return errors.Wrapf(err, "could not load replayed offer for slot %d", ev.SlotID)
		}
		if existing == nil || existing.Status != types.StatusPending {
			return nil
		}
		log.WithField("slot", ev.SlotID).Info("Re-evaluating replayed pending offer")
	}

	verdict, err := s.filter.Evaluate(ctx, ev)
	if err != nil {
		log.WithError(err).WithField("slot", ev.SlotID).Error("Could not evaluate offer")
		return nil
	}
	if err := s.store.UpdateOffer(ctx, ev.SlotID, func(o *types.OfferRecord) error {
		o.NetProfit = verdict.NetProfit
		return nil
	}); err != nil {
		log.WithError(err).WithField("slot", ev.SlotID).Warn("Could not record offer economics")
	}

	if !verdict.Accepted {
		offersRejectedTotal.WithLabelValues(verdict.Reason).Inc()
		if err := s.store.UpdateOfferStatus(ctx, ev.SlotID, types.StatusRejected, verdict.Reason); err != nil {
			log.WithError(err).WithField("slot", ev.SlotID).Error("Could not mark offer rejected")
			return nil
		}
		s.logActivity(types.ActivityOfferRejected, ev.SlotID, ev.CID, 0, "rejected: "+verdict.Reason)
		log.WithFields(logrus.Fields{
			"slot":   ev.SlotID,
			"reason": verdict.Reason,
		}).Info("Offer rejected")
		return nil
	}

	if s.Mode() == config.ModeApprove {
		if err := s.store.UpdateOfferStatus(ctx, ev.SlotID, types.StatusAwaitingApproval, ""); err != nil {
			log.WithError(err).WithField("slot", ev.SlotID).Error("Could not queue offer for approval")
			return nil
		}
		s.logActivity(types.ActivityOfferQueued, ev.SlotID, ev.CID, verdict.NetProfit, "queued for operator approval")
		log.WithField("slot", ev.SlotID).Info("Offer queued for approval")
		return nil
	}

	s.processOffer(ctx, ev.SlotID)
	return nil
}

// handlePinned closes out our own offers when the slot fills and feeds the
// hunter regardless of claimant.
func (s *Service) handlePinned(ctx context.Context, ev *stellar.PinnedEvent) {
	if s.hunter != nil {
		if err := s.hunter.OnPinnedEvent(ctx, ev); err != nil {
			log.WithError(err).Warn("Hunter could not ingest PINNED event")
		}
	}

	offer, err := s.offerByCIDHash(ctx, ev.CIDHash, ev.SlotID)
	if err != nil {
		log.WithError(err).Warn("Could not match PINNED event to offer")
		return
	}
	if offer == nil {
		return
	}
	if err := s.store.UpdateOffer(ctx, offer.SlotID, func(o *types.OfferRecord) error {
		o.PinsRemaining = ev.PinsRemaining
		return nil
	}); err != nil {
		log.WithError(err).WithField("slot", offer.SlotID).Warn("Could not update pins remaining")
	}
	if ev.PinsRemaining > 0 {
		return
	}
	// Slot full. pinned -> filled covers the race where another pinner
	// takes the last claim before ours lands; claimed -> filled is the
	// normal close-out.
	switch offer.Status {
	case types.StatusPinned, types.StatusClaimed:
		if err := s.store.UpdateOfferStatus(ctx, offer.SlotID, types.StatusFilled, ""); err != nil {
			log.WithError(err).WithField("slot", offer.SlotID).Warn("Could not mark offer filled")
			return
		}
		log.WithField("slot", offer.SlotID).Info("Slot filled")
	}
}

// handleUnpin expires the local offer and optionally unpins released
// content.
func (s *Service) handleUnpin(ctx context.Context, ev *stellar.UnpinEvent) {
	if s.hunter != nil {
		if err := s.hunter.OnUnpinEvent(ctx, ev); err != nil {
			log.WithError(err).Warn("Hunter could not ingest UNPIN event")
		}
	}

	offer, err := s.offerByCIDHash(ctx, ev.CIDHash, ev.SlotID)
	if err != nil || offer == nil {
		return
	}
	if !offer.Status.Terminal() {
		if err := s.store.UpdateOfferStatus(ctx, offer.SlotID, types.StatusExpired, ""); err != nil {
			log.WithError(err).WithField("slot", offer.SlotID).Warn("Could not expire offer")
		}
		s.logActivity(types.ActivityOfferExpired, offer.SlotID, offer.CID, 0, "slot released by publisher")
	}

	if !s.cfg.UnpinOnRelease {
		return
	}
	has, err := s.store.HasPin(ctx, offer.CID)
	if err != nil || !has {
		return
	}
	if s.executor.Unpin(ctx, offer.CID) {
		if err := s.store.DeletePin(ctx, offer.CID); err != nil {
			log.WithError(err).WithField("cid", offer.CID).Warn("Could not delete pin record")
		}
		log.WithField("cid", offer.CID).Info("Unpinned released content")
	}
}

// offerByCIDHash finds our offer for a PINNED/UNPIN event. Events carry
// the slot id directly, so the lookup is by slot with a hash sanity check.
func (s *Service) offerByCIDHash(ctx context.Context, cidHash string, slotID uint64) (*types.OfferRecord, error) {
	offer, err := s.store.Offer(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if offer == nil {
		return nil, nil
	}
	if stellar.HashCID(offer.CID) != cidHash {
		return nil, errors.Errorf("cid hash mismatch for slot %d", slotID)
	}
	return offer, nil
}

// processApproved drains operator-approved offers into the pin pipeline.
func (s *Service) processApproved(ctx context.Context) {
	approved, err := s.store.OffersByStatus(ctx, types.StatusApproved)
	if err != nil {
		log.WithError(err).Error("Could not load approved offers")
		return
	}
	for _, offer := range approved {
		s.processOffer(ctx, offer.SlotID)
	}
}

// expireStaleOffers times out offers that sat in pending or the approval
// queue past their estimated expiry.
func (s *Service) expireStaleOffers(ctx context.Context) {
	now := time.Now().UTC()
	for _, status := range []types.OfferStatus{types.StatusPending, types.StatusAwaitingApproval} {
		offers, err := s.store.OffersByStatus(ctx, status)
		if err != nil {
			log.WithError(err).Error("Could not scan for stale offers")
			return
		}
		for _, offer := range offers {
			if offer.EstimatedExpiry.IsZero() || offer.EstimatedExpiry.After(now) {
				continue
			}
			if err := s.store.UpdateOfferStatus(ctx, offer.SlotID, types.StatusExpired, ""); err != nil {
				log.WithError(err).WithField("slot", offer.SlotID).Warn("Could not expire stale offer")
				continue
			}
			s.logActivity(types.ActivityOfferExpired, offer.SlotID, offer.CID, 0, "offer ttl elapsed")
			log.WithField("slot", offer.SlotID).Info("Offer expired")
		}
	}
}
