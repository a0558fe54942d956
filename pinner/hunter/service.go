// Package hunter audits other pinners' claims against our published
// content and submits flag transactions when a pinner stops serving.
package hunter

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/pintheon/pinner/pinner/db/iface"
	"github.com/pintheon/pinner/pinner/stellar"
	"github.com/pintheon/pinner/pinner/types"
)

var log = logrus.WithField("prefix", "hunter")

// Config holds the hunter service parameters.
type Config struct {
	OperatorAddress     string
	CycleInterval       time.Duration
	MaxConcurrentChecks int
	FailureThreshold    int
	CooldownAfterFlag   time.Duration
}

// Service ingests contract events relevant to content we published and
// periodically verifies that every claiming pinner still serves it.
type Service struct {
	ctx       context.Context
	cancel    context.CancelFunc
	cfg       Config
	store     iface.Database
	registry  PinnerDirectory
	scheduler *Scheduler
	flagger   Flagger
	runEvery  func(ctx context.Context, period time.Duration, f func())
}

// NewService assembles the hunter from its collaborators.
func NewService(ctx context.Context, cfg Config, store iface.Database, verifier PinVerifier, registry PinnerDirectory, flagger Flagger, runEvery func(ctx context.Context, period time.Duration, f func())) *Service {
	ctx, cancel := context.WithCancel(ctx)
	scheduler := NewScheduler(store, verifier, registry, flagger, SchedulerConfig{
		MaxConcurrentChecks: cfg.MaxConcurrentChecks,
		FailureThreshold:    cfg.FailureThreshold,
		CooldownAfterFlag:   cfg.CooldownAfterFlag,
	})
	return &Service{
		ctx:       ctx,
		cancel:    cancel,
		cfg:       cfg,
		store:     store,
		registry:  registry,
		scheduler: scheduler,
		flagger:   flagger,
		runEvery:  runEvery,
	}
}

// Start begins periodic verification cycles.
func (s *Service) Start() {
	log.WithField("interval", s.cfg.CycleInterval).Info("Starting hunter verification cycles")
	s.runEvery(s.ctx, s.cfg.CycleInterval, func() {
		if _, err := s.scheduler.RunCycle(s.ctx); err != nil {
			log.WithError(err).Error("Verification cycle failed")
		}
	})
}

// Stop cancels the verification loop.
func (s *Service) Stop() error {
	s.cancel()
	return nil
}

// Status always reports healthy; a broken cycle is logged, not fatal.
func (s *Service) Status() error {
	return nil
}

// OnPinEvent records cids we published ourselves so later PINNED events
// can be matched back through the cid hash.
func (s *Service) OnPinEvent(ctx context.Context, ev *stellar.PinEvent) error {
	if ev.Publisher != s.cfg.OperatorAddress {
		return nil
	}
	tc := &types.TrackedCID{
		CID:       ev.CID,
		CIDHash:   stellar.HashCID(ev.CID),
		SlotID:    ev.SlotID,
		Publisher: ev.Publisher,
		Gateway:   ev.Gateway,
		PinQty:    ev.PinQty,
	}
	if err := s.store.SaveTrackedCID(ctx, tc); err != nil {
		return errors.Wrap(err, "could not track published cid")
	}
	log.WithFields(logrus.Fields{
		"cid":  ev.CID,
		"slot": ev.SlotID,
	}).Info("Tracking published cid for verification")
	return nil
}

// OnPinnedEvent registers a (cid, pinner) pair when another pinner claims
// a slot for content we published. Events for cids we never published, or
// for our own claims, are ignored.
func (s *Service) OnPinnedEvent(ctx context.Context, ev *stellar.PinnedEvent) error {
	if ev.Pinner == s.cfg.OperatorAddress {
		return nil
	}
	tc, err := s.store.TrackedCIDByHash(ctx, ev.CIDHash)
	if err != nil {
		return errors.Wrap(err, "could not resolve cid hash")
	}
	if tc == nil {
		return nil
	}

	pin := &types.TrackedPin{
		CID:           tc.CID,
		CIDHash:       tc.CIDHash,
		PinnerAddress: ev.Pinner,
		SlotID:        tc.SlotID,
		Status:        types.TrackingStatus,
	}
	// Node identity is resolved best-effort at ingestion and again at
	// check time, so a registry outage here does not drop the pair.
	if info, err := s.registry.PinnerInfo(ctx, ev.Pinner); err == nil && info != nil {
		pin.PinnerNodeID = info.NodeID
		pin.PinnerMultiaddr = info.Multiaddr
	}
	inserted, err := s.store.SaveTrackedPin(ctx, pin)
	if err != nil {
		return errors.Wrap(err, "could not track pin claim")
	}
	if inserted {
		log.WithFields(logrus.Fields{
			"cid":    tc.CID,
			"pinner": shortID(ev.Pinner),
			"slot":   tc.SlotID,
		}).Info("Tracking new pin claim")
	}
	return nil
}

// OnUnpinEvent releases every tracked pair for the withdrawn cid so no
// further checks or flags are attempted against it.
func (s *Service) OnUnpinEvent(ctx context.Context, ev *stellar.UnpinEvent) error {
	freed, err := s.store.FreeTrackedPinsByCIDHash(ctx, ev.CIDHash)
	if err != nil {
		return errors.Wrap(err, "could not free tracked pins")
	}
	if freed > 0 {
		log.WithFields(logrus.Fields{
			"cid_hash": shortID(ev.CIDHash),
			"freed":    freed,
		}).Info("Slot withdrawn, released tracked pins")
	}
	return nil
}

// RunCycleNow triggers one verification cycle outside the schedule.
func (s *Service) RunCycleNow(ctx context.Context) (*types.CycleReport, error) {
	return s.scheduler.RunCycle(ctx)
}

// VerifyNow runs a single on-demand check for one tracked pair and applies
// the same state updates a scheduled check would.
func (s *Service) VerifyNow(ctx context.Context, cid, pinnerAddress string) (*types.VerificationResult, error) {
	pin, err := s.store.TrackedPin(ctx, cid, pinnerAddress)
	if err != nil {
		return nil, err
	}
	if pin == nil {
		return nil, errors.New("pair is not tracked")
	}
	outcome, result := s.scheduler.checkPin(ctx, pin)
	if result == nil {
		if outcome == outcomeSkipped {
			return nil, errors.New("pinner skipped: inactive, unregistered, or in flag cooldown")
		}
		return nil, errors.New("check could not run")
	}
	return result, nil
}

// FlagNow submits a flag for the pinner immediately, bypassing the failure
// threshold but not the duplicate guard.
func (s *Service) FlagNow(ctx context.Context, pinnerAddress string) *types.FlagResult {
	return s.flagger.Flag(ctx, pinnerAddress)
}

// LastCycle returns the most recent cycle summary.
func (s *Service) LastCycle(ctx context.Context) (*types.CycleReport, error) {
	return s.store.LastCycle(ctx)
}
