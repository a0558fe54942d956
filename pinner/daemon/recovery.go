package daemon

import (
	"context"

	"github.com/pintheon/pinner/pinner/types"
)

// recover resumes offers the previous run left in flight. A pinning offer
// re-runs the whole pipeline (every step is idempotent on the storage
// node), a pinned offer goes straight to claim, and a claiming offer
// re-submits; the contract's already-claimed refusal makes the double
// submission harmless.
func (s *Service) recover(ctx context.Context) error {
	pinning, err := s.store.OffersByStatus(ctx, types.StatusPinning)
	if err != nil {
		return err
	}
	for _, offer := range pinning {
		log.WithField("slot", offer.SlotID).Info("Resuming interrupted pin")
		result := s.executor.Pin(ctx, offer.CID, offer.Gateway)
		if !result.Success {
			pinsFailedTotal.Inc()
			if err := s.store.UpdateOfferStatus(ctx, offer.SlotID, types.StatusPinFailed, ""); err != nil {
				log.WithError(err).WithField("slot", offer.SlotID).Error("Could not mark pin failure")
			}
			s.logActivity(types.ActivityPinFailed, offer.SlotID, offer.CID, 0, "pin failed on recovery: "+result.Error)
			continue
		}
		if err := s.store.SavePin(ctx, &types.PinRecord{
			CID:         offer.CID,
			SlotID:      offer.SlotID,
			BytesPinned: result.BytesPinned,
		}); err != nil {
			log.WithError(err).WithField("cid", offer.CID).Error("Could not persist pin record")
		}
		if err := s.store.UpdateOfferStatus(ctx, offer.SlotID, types.StatusPinned, ""); err != nil {
			log.WithError(err).WithField("slot", offer.SlotID).Error("Could not mark offer pinned")
			continue
		}
		pinsSucceededTotal.Inc()
		s.claimOffer(ctx, offer.SlotID, offer.CID)
	}

	pinned, err := s.store.OffersByStatus(ctx, types.StatusPinned)
	if err != nil {
		return err
	}
	for _, offer := range pinned {
		claim, err := s.store.Claim(ctx, offer.SlotID)
		if err != nil {
			return err
		}
		if claim != nil {
			// The claim landed but the crash hit before the status
			// update.
			if err := s.store.UpdateOfferStatus(ctx, offer.SlotID, types.StatusClaiming, ""); err == nil {
				if err := s.store.UpdateOfferStatus(ctx, offer.SlotID, types.StatusClaimed, ""); err != nil {
					log.WithError(err).WithField("slot", offer.SlotID).Error("Could not mark offer claimed")
				}
			}
			continue
		}
		log.WithField("slot", offer.SlotID).Info("Resuming claim for pinned offer")
		s.claimOffer(ctx, offer.SlotID, offer.CID)
	}

	claiming, err := s.store.OffersByStatus(ctx, types.StatusClaiming)
	if err != nil {
		return err
	}
	for _, offer := range claiming {
		log.WithField("slot", offer.SlotID).Info("Re-submitting interrupted claim")
		s.resubmitClaim(ctx, offer.SlotID, offer.CID)
	}
	return nil
}

// resubmitClaim is claimOffer without the claiming transition, for offers
// already in that state.
func (s *Service) resubmitClaim(ctx context.Context, slotID uint64, cid string) {
	result := s.claimer.SubmitClaim(ctx, slotID)
	if result.Success {
		if err := s.store.SaveClaim(ctx, &types.Claim{
			SlotID:       slotID,
			CID:          cid,
			AmountEarned: result.AmountEarned,
			TxHash:       result.TxHash,
		}); err != nil {
			log.WithError(err).WithField("slot", slotID).Error("Could not persist claim")
		}
		if err := s.store.UpdateOfferStatus(ctx, slotID, types.StatusClaimed, ""); err != nil {
			log.WithError(err).WithField("slot", slotID).Error("Could not mark offer claimed")
		}
		claimsSucceededTotal.Inc()
		earningsTotal.Add(float64(result.AmountEarned))
		s.logActivity(types.ActivityClaimSuccess, slotID, cid, result.AmountEarned, "claim recovered")
		return
	}
	if result.Code == types.ClaimAlreadyClaimed {
		// Our earlier submission actually landed. The refusal carries no
		// amount, so reconcile it from the offer: a claim pays the slot's
		// per-pin price.
		var amount int64
		if offer, err := s.store.Offer(ctx, slotID); err == nil && offer != nil {
			amount = offer.OfferPrice
		}
		if err := s.store.SaveClaim(ctx, &types.Claim{SlotID: slotID, CID: cid, AmountEarned: amount}); err != nil {
			log.WithError(err).WithField("slot", slotID).Warn("Could not persist recovered claim")
		}
		if err := s.store.UpdateOfferStatus(ctx, slotID, types.StatusClaimed, ""); err != nil {
			log.WithError(err).WithField("slot", slotID).Error("Could not mark offer claimed")
		}
		claimsSucceededTotal.Inc()
		earningsTotal.Add(float64(amount))
		s.logActivity(types.ActivityClaimSuccess, slotID, cid, amount, "claim recovered, already on chain")
		return
	}
	claimsFailedTotal.WithLabelValues(string(result.Code)).Inc()
	if err := s.store.UpdateOfferStatus(ctx, slotID, types.StatusClaimFailed, string(result.Code)); err != nil {
		log.WithError(err).WithField("slot", slotID).Error("Could not mark claim failure")
	}
	s.logActivity(types.ActivityClaimFailed, slotID, cid, 0, "claim failed on recovery: "+string(result.Code))
	if result.Code == types.ClaimNotPinner {
		log.Error("Operator is not an active registered pinner, shutting down")
		s.onFatal(result.Error)
	}
}
