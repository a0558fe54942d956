package hunter

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/pintheon/pinner/pinner/db/iface"
	"github.com/pintheon/pinner/pinner/types"
)

// PinVerifier runs the network verification pipeline for one pair.
type PinVerifier interface {
	Verify(ctx context.Context, cid, pinnerNodeID, pinnerMultiaddr string) *types.VerificationResult
}

// PinnerDirectory resolves pinner addresses to node identities.
type PinnerDirectory interface {
	PinnerInfo(ctx context.Context, address string) (*types.PinnerInfo, error)
}

// Flagger submits flags with the duplicate guard applied.
type Flagger interface {
	Flag(ctx context.Context, pinnerAddress string) *types.FlagResult
}

// SchedulerConfig bounds one verification cycle.
type SchedulerConfig struct {
	MaxConcurrentChecks int
	FailureThreshold    int
	CooldownAfterFlag   time.Duration
}

// Scheduler runs verification cycles over the tracked-pin registry.
// Cycles never overlap; a tick that arrives while a cycle is running is
// dropped.
type Scheduler struct {
	store    iface.Database
	verifier PinVerifier
	registry PinnerDirectory
	flagger  Flagger
	cfg      SchedulerConfig

	mu      sync.Mutex
	running bool
}

// NewScheduler builds a verification scheduler.
func NewScheduler(store iface.Database, verifier PinVerifier, registry PinnerDirectory, flagger Flagger, cfg SchedulerConfig) *Scheduler {
	if cfg.MaxConcurrentChecks < 1 {
		cfg.MaxConcurrentChecks = 1
	}
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	return &Scheduler{
		store:    store,
		verifier: verifier,
		registry: registry,
		flagger:  flagger,
		cfg:      cfg,
	}
}

type checkOutcome int

const (
	outcomePassed checkOutcome = iota
	outcomeFailed
	outcomeFlagged
	outcomeSkipped
	outcomeError
)

// RunCycle executes one verification cycle and appends its summary. A nil
// report with no error means a previous cycle was still running.
func (s *Scheduler) RunCycle(ctx context.Context) (*types.CycleReport, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		log.Debug("Skipping verification cycle, previous cycle still running")
		return nil, nil
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	started := time.Now()
	pins, err := s.store.TrackedPins(ctx, types.TrackingStatus, types.VerifiedStatus, types.SuspectStatus)
	if err != nil {
		return nil, err
	}

	// Suspects first, then oldest checks.
	sort.Slice(pins, func(i, j int) bool {
		if pins[i].ConsecutiveFailures != pins[j].ConsecutiveFailures {
			return pins[i].ConsecutiveFailures > pins[j].ConsecutiveFailures
		}
		return pins[i].LastCheckedAt.Before(pins[j].LastCheckedAt)
	})

	trackedPinsGauge.Set(float64(len(pins)))
	report := &types.CycleReport{StartedAt: started.UTC(), TotalChecked: len(pins)}
	sem := semaphore.NewWeighted(int64(s.cfg.MaxConcurrentChecks))
	outcomes := make([]checkOutcome, len(pins))
	var wg sync.WaitGroup
	for i, pin := range pins {
		if err := sem.Acquire(ctx, 1); err != nil {
			outcomes[i] = outcomeError
			continue
		}
		wg.Add(1)
		go func(i int, pin *types.TrackedPin) {
			defer wg.Done()
			defer sem.Release(1)
			outcomes[i], _ = s.checkPin(ctx, pin)
		}(i, pin)
	}
	wg.Wait()

	for _, outcome := range outcomes {
		switch outcome {
		case outcomePassed:
			report.Passed++
		case outcomeFailed:
			report.Failed++
		case outcomeFlagged:
			report.Flagged++
		case outcomeSkipped:
			report.Skipped++
		case outcomeError:
			report.Errors++
		}
	}

	report.CompletedAt = time.Now().UTC()
	report.DurationMs = time.Since(started).Milliseconds()
	if err := s.store.AppendCycle(ctx, report); err != nil {
		return nil, err
	}
	cyclesTotal.Inc()
	log.WithFields(logrus.Fields{
		"checked":  report.TotalChecked,
		"passed":   report.Passed,
		"failed":   report.Failed,
		"flagged":  report.Flagged,
		"skipped":  report.Skipped,
		"errors":   report.Errors,
		"duration": time.Duration(report.DurationMs) * time.Millisecond,
	}).Info("Verification cycle complete")
	return report, nil
}

// inCooldown reports whether a prior flag against the pinner is younger
// than the cooldown window.
func (s *Scheduler) inCooldown(ctx context.Context, pinnerAddress string) bool {
	if s.cfg.CooldownAfterFlag <= 0 {
		return false
	}
	rec, err := s.store.Flag(ctx, pinnerAddress)
	if err != nil || rec == nil {
		return false
	}
	return time.Since(rec.SubmittedAt) < s.cfg.CooldownAfterFlag
}

func (s *Scheduler) checkPin(ctx context.Context, pin *types.TrackedPin) (checkOutcome, *types.VerificationResult) {
	if s.inCooldown(ctx, pin.PinnerAddress) {
		checksTotal.WithLabelValues("skipped").Inc()
		return outcomeSkipped, nil
	}

	info, err := s.registry.PinnerInfo(ctx, pin.PinnerAddress)
	if err != nil {
		log.WithError(err).WithField("pinner", shortID(pin.PinnerAddress)).Warn("Pinner lookup failed")
		checksTotal.WithLabelValues("error").Inc()
		return outcomeError, nil
	}
	if info == nil || !info.Active {
		checksTotal.WithLabelValues("skipped").Inc()
		return outcomeSkipped, nil
	}

	result := s.verifier.Verify(ctx, pin.CID, info.NodeID, info.Multiaddr)
	if err := s.store.RecordVerification(ctx, result); err != nil {
		log.WithError(err).Warn("Could not record verification result")
	}

	now := time.Now().UTC()
	if result.Errored {
		// Neither pass nor fail; failure counters stay put so local
		// outages cannot cause flag storms.
		if err := s.store.UpdateTrackedPin(ctx, pin.CID, pin.PinnerAddress, func(tp *types.TrackedPin) error {
			tp.LastCheckedAt = now
			tp.TotalChecks++
			return nil
		}); err != nil {
			log.WithError(err).Warn("Could not update tracked pin")
		}
		checksTotal.WithLabelValues("error").Inc()
		return outcomeError, result
	}

	if result.Passed {
		if err := s.store.UpdateTrackedPin(ctx, pin.CID, pin.PinnerAddress, func(tp *types.TrackedPin) error {
			tp.Status = types.VerifiedStatus
			tp.ConsecutiveFailures = 0
			tp.TotalChecks++
			tp.LastCheckedAt = now
			tp.LastVerifiedAt = now
			return nil
		}); err != nil {
			log.WithError(err).Warn("Could not update tracked pin")
			return outcomeError, result
		}
		checksTotal.WithLabelValues("passed").Inc()
		return outcomePassed, result
	}

	var failures int
	if err := s.store.UpdateTrackedPin(ctx, pin.CID, pin.PinnerAddress, func(tp *types.TrackedPin) error {
		tp.ConsecutiveFailures++
		tp.TotalChecks++
		tp.TotalFailures++
		tp.LastCheckedAt = now
		// Any definitive failure demotes the pair; flag submission is
		// still gated on the threshold below.
		tp.Status = types.SuspectStatus
		failures = tp.ConsecutiveFailures
		return nil
	}); err != nil {
		log.WithError(err).Warn("Could not update tracked pin")
		return outcomeError, result
	}
	checksTotal.WithLabelValues("failed").Inc()

	if failures < s.cfg.FailureThreshold {
		return outcomeFailed, result
	}

	flagResult := s.flagger.Flag(ctx, pin.PinnerAddress)
	if !flagResult.Success && !flagResult.AlreadyFlagged {
		log.WithField("pinner", shortID(pin.PinnerAddress)).WithField("err", flagResult.Error).Error("Flag submission failed")
		return outcomeFailed, result
	}
	if err := s.store.UpdateTrackedPin(ctx, pin.CID, pin.PinnerAddress, func(tp *types.TrackedPin) error {
		tp.Status = types.FlagSubmittedStatus
		tp.FlaggedAt = now
		tp.FlagTxHash = flagResult.TxHash
		return nil
	}); err != nil {
		log.WithError(err).Warn("Could not update tracked pin after flag")
	}
	if flagResult.Success {
		flagsSubmittedTotal.Inc()
		bountyEarnedTotal.Add(float64(flagResult.BountyEarned))
		return outcomeFlagged, result
	}
	return outcomeFailed, result
}
