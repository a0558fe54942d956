package hunter

import (
	"context"
	"testing"
	"time"

	"github.com/pintheon/pinner/pinner/db/iface"
	dbtesting "github.com/pintheon/pinner/pinner/db/testing"
	"github.com/pintheon/pinner/pinner/stellar"
	"github.com/pintheon/pinner/pinner/types"
	"github.com/pintheon/pinner/testing/assert"
	"github.com/pintheon/pinner/testing/require"
)

func noopRunEvery(context.Context, time.Duration, func()) {}

func newTestService(t *testing.T, verifier PinVerifier, flagger Flagger) (*Service, iface.Database) {
	db := dbtesting.SetupDB(t)
	svc := NewService(context.Background(), Config{
		OperatorAddress:     operatorAddr,
		CycleInterval:       time.Hour,
		MaxConcurrentChecks: 2,
		FailureThreshold:    3,
	}, db, verifier, activeDirectory(), flagger, noopRunEvery)
	return svc, db
}

func publishEvent() *stellar.PinEvent {
	return &stellar.PinEvent{
		SlotID:     7,
		CID:        huntedCID,
		Publisher:  operatorAddr,
		Gateway:    "http://gw.example",
		OfferPrice: 1_000_000,
		PinQty:     3,
	}
}

func claimEvent(pinner string) *stellar.PinnedEvent {
	return &stellar.PinnedEvent{
		SlotID:  7,
		CIDHash: stellar.HashCID(huntedCID),
		Pinner:  pinner,
	}
}

func TestService_IgnoresForeignPublishers(t *testing.T) {
	svc, db := newTestService(t, &stubVerifier{passed: true}, &stubFlagger{})
	ctx := context.Background()

	ev := publishEvent()
	ev.Publisher = "GSOMEONEELSE"
	require.NoError(t, svc.OnPinEvent(ctx, ev))

	tc, err := db.TrackedCID(ctx, huntedCID)
	require.NoError(t, err)
	assert.Equal(t, true, tc == nil)
}

func TestService_DuplicateClaimsTrackOnce(t *testing.T) {
	svc, db := newTestService(t, &stubVerifier{passed: true}, &stubFlagger{})
	ctx := context.Background()

	require.NoError(t, svc.OnPinEvent(ctx, publishEvent()))
	for i := 0; i < 3; i++ {
		require.NoError(t, svc.OnPinnedEvent(ctx, claimEvent(rivalAddr)))
	}

	pins, err := db.TrackedPins(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, len(pins))
	assert.Equal(t, types.TrackingStatus, pins[0].Status)
	assert.Equal(t, "12D3KooWRival", pins[0].PinnerNodeID)
}

func TestService_IgnoresOwnClaimsAndUnknownHashes(t *testing.T) {
	svc, db := newTestService(t, &stubVerifier{passed: true}, &stubFlagger{})
	ctx := context.Background()
	require.NoError(t, svc.OnPinEvent(ctx, publishEvent()))

	// Our own claim on our own slot.
	require.NoError(t, svc.OnPinnedEvent(ctx, claimEvent(operatorAddr)))
	// A claim on content somebody else published.
	foreign := &stellar.PinnedEvent{SlotID: 9, CIDHash: stellar.HashCID("QmNotOurs"), Pinner: rivalAddr}
	require.NoError(t, svc.OnPinnedEvent(ctx, foreign))

	pins, err := db.TrackedPins(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, len(pins))
}

func TestService_UnpinReleasesTrackedPairs(t *testing.T) {
	flagger := &stubFlagger{}
	svc, db := newTestService(t, &stubVerifier{passed: false}, flagger)
	ctx := context.Background()

	require.NoError(t, svc.OnPinEvent(ctx, publishEvent()))
	require.NoError(t, svc.OnPinnedEvent(ctx, claimEvent(rivalAddr)))
	require.NoError(t, svc.OnUnpinEvent(ctx, &stellar.UnpinEvent{SlotID: 7, CIDHash: stellar.HashCID(huntedCID)}))

	pin, err := db.TrackedPin(ctx, huntedCID, rivalAddr)
	require.NoError(t, err)
	assert.Equal(t, types.SlotFreedStatus, pin.Status)

	// Freed pairs are never checked again, even with a failing verifier.
	report, err := svc.RunCycleNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.TotalChecked)
	assert.Equal(t, 0, flagger.calls)
}

func TestService_VerifyNow(t *testing.T) {
	svc, _ := newTestService(t, &stubVerifier{passed: true}, &stubFlagger{})
	ctx := context.Background()

	_, err := svc.VerifyNow(ctx, huntedCID, rivalAddr)
	require.ErrorContains(t, "not tracked", err)

	require.NoError(t, svc.OnPinEvent(ctx, publishEvent()))
	require.NoError(t, svc.OnPinnedEvent(ctx, claimEvent(rivalAddr)))

	res, err := svc.VerifyNow(ctx, huntedCID, rivalAddr)
	require.NoError(t, err)
	assert.Equal(t, true, res.Passed)
}

func TestService_FlagNowHonorsDuplicateGuard(t *testing.T) {
	db := dbtesting.SetupDB(t)
	sender := &stubFlagger{}
	flagger := NewFlagSubmitter(db, chainFlaggerFunc(func(ctx context.Context, addr string) *types.FlagResult {
		return sender.Flag(ctx, addr)
	}))
	svc := NewService(context.Background(), Config{
		OperatorAddress:     operatorAddr,
		CycleInterval:       time.Hour,
		MaxConcurrentChecks: 1,
		FailureThreshold:    3,
	}, db, &stubVerifier{passed: true}, activeDirectory(), flagger, noopRunEvery)
	ctx := context.Background()

	first := svc.FlagNow(ctx, rivalAddr)
	require.Equal(t, true, first.Success)

	second := svc.FlagNow(ctx, rivalAddr)
	assert.Equal(t, false, second.Success)
	assert.Equal(t, true, second.AlreadyFlagged)
	assert.Equal(t, 1, sender.calls)
}

type chainFlaggerFunc func(ctx context.Context, pinnerAddress string) *types.FlagResult

func (f chainFlaggerFunc) SubmitFlag(ctx context.Context, pinnerAddress string) *types.FlagResult {
	return f(ctx, pinnerAddress)
}
