// Package daemon implements the main offer-processing loop: polling the
// ledger for contract events, filtering offers, driving the pin pipeline,
// and submitting claims.
package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pintheon/pinner/config"
	"github.com/pintheon/pinner/pinner/db/iface"
	"github.com/pintheon/pinner/pinner/stellar"
	"github.com/pintheon/pinner/pinner/types"
)

var log = logrus.WithField("prefix", "daemon")

// EventSource drains contract events from the ledger.
type EventSource interface {
	Poll(ctx context.Context) ([]stellar.ContractEvent, uint64, error)
	Backoff(base time.Duration) time.Duration
}

// OfferFilter evaluates a pin offer against policy and chain state.
type OfferFilter interface {
	Evaluate(ctx context.Context, ev *stellar.PinEvent) (*types.FilterResult, error)
}

// PinExecutor runs the fetch-add-verify-pin pipeline on the storage node.
type PinExecutor interface {
	Pin(ctx context.Context, cid, gateway string) *types.PinResult
	Unpin(ctx context.Context, cid string) bool
}

// Claimer submits collect_pin transactions.
type Claimer interface {
	SubmitClaim(ctx context.Context, slotID uint64) *types.ClaimResult
}

// HunterSink receives contract events relevant to published-content
// auditing. All methods are fed unconditionally; the sink decides
// relevance.
type HunterSink interface {
	OnPinEvent(ctx context.Context, ev *stellar.PinEvent) error
	OnPinnedEvent(ctx context.Context, ev *stellar.PinnedEvent) error
	OnUnpinEvent(ctx context.Context, ev *stellar.UnpinEvent) error
}

// Config holds the daemon loop parameters.
type Config struct {
	OperatorAddress string
	Mode            config.Mode
	PollInterval    time.Duration
	ErrorBackoff    time.Duration
	OfferTTL        time.Duration
	ClaimRetries    int
	UnpinOnRelease  bool
}

// Service is the main offer-processing loop.
type Service struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    Config

	store    iface.Database
	source   EventSource
	filter   OfferFilter
	executor PinExecutor
	claimer  Claimer
	hunter   HunterSink

	// onFatal is invoked when the contract reports this operator is not
	// a registered or active pinner. Processing cannot continue.
	onFatal func(reason string)

	modeMu sync.RWMutex
	mode   config.Mode

	// Unapplied tail of the last polled batch. The poller's pagination
	// cursor has already moved past these events, so they are retried
	// here until every one is durably recorded; only then may the
	// persisted cursor advance. Touched only by the loop goroutine.
	replay        []stellar.ContractEvent
	replayCovered uint64

	done chan struct{}
}

// New assembles the daemon service. hunter and onFatal may be nil.
func New(ctx context.Context, cfg Config, store iface.Database, source EventSource, filter OfferFilter, executor PinExecutor, claimer Claimer, hunter HunterSink, onFatal func(reason string)) *Service {
	ctx, cancel := context.WithCancel(ctx)
	if cfg.ClaimRetries < 1 {
		cfg.ClaimRetries = 1
	}
	if onFatal == nil {
		onFatal = func(string) {}
	}
	return &Service{
		ctx:      ctx,
		cancel:   cancel,
		cfg:      cfg,
		store:    store,
		source:   source,
		filter:   filter,
		executor: executor,
		claimer:  claimer,
		hunter:   hunter,
		onFatal:  onFatal,
		mode:     cfg.Mode,
		done:     make(chan struct{}),
	}
}

// Start restores runtime policy, recovers in-flight offers, and begins the
// poll loop.
func (s *Service) Start() {
	if rec, err := s.store.DaemonConfig(s.ctx); err == nil && rec != nil && config.Mode(rec.Mode).Valid() {
		s.modeMu.Lock()
		s.mode = config.Mode(rec.Mode)
		s.modeMu.Unlock()
	}
	s.logActivity(types.ActivityDaemonStarted, 0, "", 0, "daemon started in "+string(s.Mode())+" mode")

	if err := s.recover(s.ctx); err != nil {
		log.WithError(err).Error("Startup recovery failed")
	}

	log.WithFields(logrus.Fields{
		"mode":         s.Mode(),
		"pollInterval": s.cfg.PollInterval,
	}).Info("Starting offer processing loop")
	go s.run()
}

// Stop cancels the loop and waits for the current iteration to finish.
func (s *Service) Stop() error {
	s.cancel()
	<-s.done
	if err := s.store.LogActivity(context.Background(), &types.ActivityRecord{
		EventType: types.ActivityDaemonStopped,
		Message:   "daemon stopped",
	}); err != nil {
		log.WithError(err).Debug("Could not log shutdown")
	}
	return nil
}

// Status always reports healthy; poll failures are retried with backoff
// rather than surfaced as unhealth.
func (s *Service) Status() error {
	return nil
}

func (s *Service) run() {
	defer close(s.done)
	for {
		delay := s.tick()
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// tick runs one loop iteration and returns the delay before the next.
func (s *Service) tick() time.Duration {
	events, covered := s.replay, s.replayCovered
	if len(events) == 0 {
		var err error
		events, covered, err = s.source.Poll(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return s.cfg.PollInterval
			}
			backoff := s.source.Backoff(s.cfg.ErrorBackoff)
			log.WithError(err).WithField("backoff", backoff).Warn("Event poll failed")
			return backoff
		}
	}

	// The cursor only moves once every event in the window has been
	// durably applied, so a crash or write failure mid batch replays the
	// window. Re-dispatch of already-applied events is idempotent.
	for i, ev := range events {
		if err := s.dispatch(s.ctx, ev); err != nil {
			s.replay, s.replayCovered = events[i:], covered
			log.WithError(err).WithField("remaining", len(s.replay)).Warn("Could not apply event window, will retry")
			return s.cfg.ErrorBackoff
		}
	}
	s.replay, s.replayCovered = nil, 0
	if covered > 0 {
		if err := s.store.SaveCursor(s.ctx, covered); err != nil {
			log.WithError(err).Error("Could not advance cursor")
		}
	}

	s.processApproved(s.ctx)
	s.expireStaleOffers(s.ctx)
	return s.cfg.PollInterval
}

// Mode returns the current operating mode.
func (s *Service) Mode() config.Mode {
	s.modeMu.RLock()
	defer s.modeMu.RUnlock()
	return s.mode
}

// SetMode switches between auto and approve and persists the choice.
func (s *Service) SetMode(ctx context.Context, mode config.Mode) error {
	if !mode.Valid() {
		return errInvalidMode
	}
	s.modeMu.Lock()
	s.mode = mode
	s.modeMu.Unlock()

	rec, err := s.store.DaemonConfig(ctx)
	if err != nil {
		return err
	}
	if rec == nil {
		rec = &types.DaemonConfigRecord{}
	}
	rec.Mode = string(mode)
	if err := s.store.SaveDaemonConfig(ctx, rec); err != nil {
		return err
	}
	s.logActivity(types.ActivityModeChanged, 0, "", 0, "mode changed to "+string(mode))
	log.WithField("mode", mode).Info("Operating mode changed")
	return nil
}

// UpdatePolicy persists new runtime filter policy values. Zero values leave
// the corresponding field unchanged.
func (s *Service) UpdatePolicy(ctx context.Context, minPrice, maxContentSize int64) error {
	rec, err := s.store.DaemonConfig(ctx)
	if err != nil {
		return err
	}
	if rec == nil {
		rec = &types.DaemonConfigRecord{Mode: string(s.Mode())}
	}
	if minPrice > 0 {
		rec.MinPrice = minPrice
	}
	if maxContentSize > 0 {
		rec.MaxContentSize = maxContentSize
	}
	if err := s.store.SaveDaemonConfig(ctx, rec); err != nil {
		return err
	}
	s.logActivity(types.ActivityPolicyUpdated, 0, "", 0, "filter policy updated")
	return nil
}

func (s *Service) logActivity(eventType string, slotID uint64, cid string, amount int64, msg string) {
	if err := s.store.LogActivity(s.ctx, &types.ActivityRecord{
		EventType: eventType,
		SlotID:    slotID,
		CID:       cid,
		Amount:    amount,
		Message:   msg,
	}); err != nil && s.ctx.Err() == nil {
		log.WithError(err).WithField("event", eventType).Warn("Could not append activity record")
	}
}
