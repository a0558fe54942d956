package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/pintheon/pinner/pinner/types"
)

// processOffer drives one accepted offer through pin and claim. The offer
// must be in a state with a legal path to pinning; anything else is left
// alone, which makes the call idempotent under event replay.
func (s *Service) processOffer(ctx context.Context, slotID uint64) {
	offer, err := s.store.Offer(ctx, slotID)
	if err != nil || offer == nil {
		log.WithError(err).WithField("slot", slotID).Error("Could not load offer for processing")
		return
	}
	if !offer.Status.CanTransition(types.StatusPinning) {
		return
	}
	if err := s.store.UpdateOfferStatus(ctx, slotID, types.StatusPinning, ""); err != nil {
		log.WithError(err).WithField("slot", slotID).Error("Could not start pin pipeline")
		return
	}
	s.logActivity(types.ActivityPinStarted, slotID, offer.CID, 0, "pin pipeline started")

	result := s.executor.Pin(ctx, offer.CID, offer.Gateway)
	if !result.Success {
		pinsFailedTotal.Inc()
		if err := s.store.UpdateOfferStatus(ctx, slotID, types.StatusPinFailed, ""); err != nil {
			log.WithError(err).WithField("slot", slotID).Error("Could not mark pin failure")
		}
		s.logActivity(types.ActivityPinFailed, slotID, offer.CID, 0, "pin failed: "+result.Error)
		log.WithFields(logrus.Fields{
			"slot": slotID,
			"cid":  offer.CID,
			"err":  result.Error,
		}).Error("Pin pipeline failed")
		return
	}

	if err := s.store.SavePin(ctx, &types.PinRecord{
		CID:         offer.CID,
		SlotID:      slotID,
		BytesPinned: result.BytesPinned,
	}); err != nil {
		log.WithError(err).WithField("cid", offer.CID).Error("Could not persist pin record")
	}
	if err := s.store.UpdateOfferStatus(ctx, slotID, types.StatusPinned, ""); err != nil {
		log.WithError(err).WithField("slot", slotID).Error("Could not mark offer pinned")
		return
	}
	pinsSucceededTotal.Inc()
	s.logActivity(types.ActivityPinSuccess, slotID, offer.CID, 0,
		fmt.Sprintf("pinned %s (%s)", offer.CID, humanize.Bytes(uint64(result.BytesPinned))))
	log.WithFields(logrus.Fields{
		"slot": slotID,
		"cid":  offer.CID,
		"size": humanize.Bytes(uint64(result.BytesPinned)),
	}).Info("Content pinned")

	s.claimOffer(ctx, slotID, offer.CID)
}

// claimOffer submits collect_pin for a pinned offer, retrying transient
// submission failures.
func (s *Service) claimOffer(ctx context.Context, slotID uint64, cid string) {
	if err := s.store.UpdateOfferStatus(ctx, slotID, types.StatusClaiming, ""); err != nil {
		log.WithError(err).WithField("slot", slotID).Error("Could not start claim")
		return
	}

	var result *types.ClaimResult
	for attempt := 1; attempt <= s.cfg.ClaimRetries; attempt++ {
		result = s.claimer.SubmitClaim(ctx, slotID)
		if result.Success || !result.Retryable {
			break
		}
		log.WithFields(logrus.Fields{
			"slot":    slotID,
			"attempt": attempt,
			"err":     result.Error,
		}).Warn("Claim submission failed, will retry")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}

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
		s.logActivity(types.ActivityClaimSuccess, slotID, cid, result.AmountEarned,
			fmt.Sprintf("earned %d stroops", result.AmountEarned))
		log.WithFields(logrus.Fields{
			"slot":   slotID,
			"amount": result.AmountEarned,
		}).Info("Claim collected")
		return
	}

	claimsFailedTotal.WithLabelValues(string(result.Code)).Inc()
	if err := s.store.UpdateOfferStatus(ctx, slotID, types.StatusClaimFailed, string(result.Code)); err != nil {
		log.WithError(err).WithField("slot", slotID).Error("Could not mark claim failure")
	}
	s.logActivity(types.ActivityClaimFailed, slotID, cid, 0, "claim failed: "+string(result.Code))
	log.WithFields(logrus.Fields{
		"slot": slotID,
		"code": result.Code,
		"err":  result.Error,
	}).Error("Claim failed")

	if result.Code == types.ClaimNotPinner {
		// The contract says this operator is not a registered, active
		// pinner. Every future claim would fail the same way.
		log.Error("Operator is not an active registered pinner, shutting down")
		s.onFatal(result.Error)
	}
}

// ApproveOffer re-verifies the slot on chain and releases a queued offer
// into the pin pipeline. Used by the control API.
func (s *Service) ApproveOffer(ctx context.Context, slotID uint64, verify func(ctx context.Context, slotID uint64) (bool, error)) error {
	offer, err := s.store.Offer(ctx, slotID)
	if err != nil {
		return err
	}
	if offer == nil {
		return errors.Errorf("no offer for slot %d", slotID)
	}
	if offer.Status != types.StatusAwaitingApproval {
		return errors.Errorf("offer %d is %s, not awaiting approval", slotID, offer.Status)
	}
	if verify != nil {
		expired, err := verify(ctx, slotID)
		if err != nil {
			return errors.Wrap(err, "could not re-verify slot")
		}
		if expired {
			if err := s.store.UpdateOfferStatus(ctx, slotID, types.StatusExpired, ""); err != nil {
				return err
			}
			return errors.Errorf("slot %d expired while awaiting approval", slotID)
		}
	}
	if err := s.store.UpdateOfferStatus(ctx, slotID, types.StatusApproved, ""); err != nil {
		return err
	}
	s.logActivity(types.ActivityOfferApproved, slotID, offer.CID, 0, "approved by operator")
	log.WithField("slot", slotID).Info("Offer approved")
	return nil
}

// RejectOffer removes a queued offer at the operator's request.
func (s *Service) RejectOffer(ctx context.Context, slotID uint64) error {
	offer, err := s.store.Offer(ctx, slotID)
	if err != nil {
		return err
	}
	if offer == nil {
		return errors.Errorf("no offer for slot %d", slotID)
	}
	if offer.Status != types.StatusAwaitingApproval {
		return errors.Errorf("offer %d is %s, not awaiting approval", slotID, offer.Status)
	}
	if err := s.store.UpdateOfferStatus(ctx, slotID, types.StatusRejected, types.ReasonOperatorRejected); err != nil {
		return err
	}
	s.logActivity(types.ActivityOfferRejected, slotID, offer.CID, 0, "rejected by operator")
	return nil
}
