package hunter

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/pintheon/pinner/pinner/db/iface"
	dbtesting "github.com/pintheon/pinner/pinner/db/testing"
	"github.com/pintheon/pinner/pinner/stellar"
	"github.com/pintheon/pinner/pinner/types"
	"github.com/pintheon/pinner/testing/assert"
	"github.com/pintheon/pinner/testing/require"
)

const (
	huntedCID    = "QmHuntedContent"
	operatorAddr = "GOPERATOR"
	rivalAddr    = "GRIVALPINNER"
)

type stubVerifier struct {
	passed  bool
	errored bool
	calls   int
}

func (s *stubVerifier) Verify(_ context.Context, cid, nodeID, _ string) *types.VerificationResult {
	s.calls++
	return &types.VerificationResult{
		CID:          cid,
		PinnerNodeID: nodeID,
		Passed:       s.passed,
		Errored:      s.errored,
		MethodUsed:   types.MethodBitswap,
		CheckedAt:    time.Now().UTC(),
	}
}

type stubDirectory struct {
	infos map[string]*types.PinnerInfo
	err   error
}

func (s *stubDirectory) PinnerInfo(_ context.Context, address string) (*types.PinnerInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.infos[address], nil
}

type stubFlagger struct {
	calls   int
	fail    bool
	flagged map[string]bool
}

func (s *stubFlagger) Flag(_ context.Context, pinnerAddress string) *types.FlagResult {
	s.calls++
	if s.flagged == nil {
		s.flagged = map[string]bool{}
	}
	if s.flagged[pinnerAddress] {
		return &types.FlagResult{PinnerAddress: pinnerAddress, AlreadyFlagged: true}
	}
	if s.fail {
		return &types.FlagResult{PinnerAddress: pinnerAddress, Error: "simulate failed"}
	}
	s.flagged[pinnerAddress] = true
	return &types.FlagResult{
		Success:       true,
		PinnerAddress: pinnerAddress,
		TxHash:        "txflag",
		FlagCount:     1,
		BountyEarned:  5_000,
	}
}

func activeDirectory() *stubDirectory {
	return &stubDirectory{infos: map[string]*types.PinnerInfo{
		rivalAddr: {Address: rivalAddr, NodeID: "12D3KooWRival", Multiaddr: "/ip4/10.0.0.9/tcp/4001", Active: true},
	}}
}

func trackPair(t *testing.T, db iface.Database) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, db.SaveTrackedCID(ctx, &types.TrackedCID{
		CID:       huntedCID,
		CIDHash:   stellar.HashCID(huntedCID),
		SlotID:    7,
		Publisher: operatorAddr,
		PinQty:    3,
	}))
	_, err := db.SaveTrackedPin(ctx, &types.TrackedPin{
		CID:           huntedCID,
		CIDHash:       stellar.HashCID(huntedCID),
		PinnerAddress: rivalAddr,
		SlotID:        7,
		Status:        types.TrackingStatus,
	})
	require.NoError(t, err)
}

func TestRunCycle_PassMarksVerifiedAndResetsFailures(t *testing.T) {
	db := dbtesting.SetupDB(t)
	ctx := context.Background()
	trackPair(t, db)
	require.NoError(t, db.UpdateTrackedPin(ctx, huntedCID, rivalAddr, func(tp *types.TrackedPin) error {
		tp.ConsecutiveFailures = 2
		return nil
	}))

	s := NewScheduler(db, &stubVerifier{passed: true}, activeDirectory(), &stubFlagger{}, SchedulerConfig{
		MaxConcurrentChecks: 2,
		FailureThreshold:    3,
	})
	report, err := s.RunCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Passed)

	pin, err := db.TrackedPin(ctx, huntedCID, rivalAddr)
	require.NoError(t, err)
	assert.Equal(t, types.VerifiedStatus, pin.Status)
	assert.Equal(t, 0, pin.ConsecutiveFailures)
	assert.Equal(t, false, pin.LastVerifiedAt.IsZero())
}

func TestRunCycle_ThresholdFailuresSubmitFlag(t *testing.T) {
	db := dbtesting.SetupDB(t)
	ctx := context.Background()
	trackPair(t, db)

	flagger := &stubFlagger{}
	s := NewScheduler(db, &stubVerifier{passed: false}, activeDirectory(), flagger, SchedulerConfig{
		MaxConcurrentChecks: 2,
		FailureThreshold:    3,
	})

	for i := 0; i < 2; i++ {
		report, err := s.RunCycle(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, report.Failed)
		require.Equal(t, 0, report.Flagged)
	}
	assert.Equal(t, 0, flagger.calls)

	report, err := s.RunCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Flagged)
	require.Equal(t, 1, flagger.calls)

	pin, err := db.TrackedPin(ctx, huntedCID, rivalAddr)
	require.NoError(t, err)
	assert.Equal(t, types.FlagSubmittedStatus, pin.Status)
	assert.Equal(t, "txflag", pin.FlagTxHash)

	// Flagged pairs leave the verification rotation entirely.
	report, err = s.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.TotalChecked)
	assert.Equal(t, 1, flagger.calls)
}

func TestRunCycle_FirstFailureDemotesToSuspect(t *testing.T) {
	db := dbtesting.SetupDB(t)
	ctx := context.Background()
	trackPair(t, db)

	flagger := &stubFlagger{}
	s := NewScheduler(db, &stubVerifier{passed: false}, activeDirectory(), flagger, SchedulerConfig{
		MaxConcurrentChecks: 1,
		FailureThreshold:    3,
	})

	_, err := s.RunCycle(ctx)
	require.NoError(t, err)
	pin, err := db.TrackedPin(ctx, huntedCID, rivalAddr)
	require.NoError(t, err)
	assert.Equal(t, types.SuspectStatus, pin.Status)
	assert.Equal(t, 1, pin.ConsecutiveFailures)

	// One failure short of the threshold the pair is still suspect, not
	// yet flagged.
	_, err = s.RunCycle(ctx)
	require.NoError(t, err)
	pin, err = db.TrackedPin(ctx, huntedCID, rivalAddr)
	require.NoError(t, err)
	assert.Equal(t, types.SuspectStatus, pin.Status)
	assert.Equal(t, 2, pin.ConsecutiveFailures)
	assert.Equal(t, 0, flagger.calls)
}

func TestRunCycle_ErroredChecksDoNotIncrementFailures(t *testing.T) {
	db := dbtesting.SetupDB(t)
	ctx := context.Background()
	trackPair(t, db)

	flagger := &stubFlagger{}
	s := NewScheduler(db, &stubVerifier{errored: true}, activeDirectory(), flagger, SchedulerConfig{
		MaxConcurrentChecks: 2,
		FailureThreshold:    1,
	})

	for i := 0; i < 5; i++ {
		report, err := s.RunCycle(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, report.Errors)
	}

	pin, err := db.TrackedPin(ctx, huntedCID, rivalAddr)
	require.NoError(t, err)
	assert.Equal(t, 0, pin.ConsecutiveFailures)
	assert.Equal(t, types.TrackingStatus, pin.Status)
	assert.Equal(t, 0, flagger.calls)
	assert.Equal(t, 5, pin.TotalChecks)
}

func TestRunCycle_InactivePinnerSkipped(t *testing.T) {
	db := dbtesting.SetupDB(t)
	ctx := context.Background()
	trackPair(t, db)

	verifier := &stubVerifier{passed: true}
	dir := &stubDirectory{infos: map[string]*types.PinnerInfo{
		rivalAddr: {Address: rivalAddr, Active: false},
	}}
	s := NewScheduler(db, verifier, dir, &stubFlagger{}, SchedulerConfig{MaxConcurrentChecks: 1, FailureThreshold: 3})

	report, err := s.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, verifier.calls)
}

func TestRunCycle_LookupErrorCountsAsError(t *testing.T) {
	db := dbtesting.SetupDB(t)
	trackPair(t, db)

	s := NewScheduler(db, &stubVerifier{passed: true}, &stubDirectory{err: errors.New("rpc down")}, &stubFlagger{},
		SchedulerConfig{MaxConcurrentChecks: 1, FailureThreshold: 3})

	report, err := s.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Errors)
}

func TestRunCycle_CooldownSkipsRecentlyFlagged(t *testing.T) {
	db := dbtesting.SetupDB(t)
	ctx := context.Background()
	trackPair(t, db)
	require.NoError(t, db.SaveFlag(ctx, &types.FlagRecord{PinnerAddress: rivalAddr, TxHash: "old"}))

	verifier := &stubVerifier{passed: false}
	s := NewScheduler(db, verifier, activeDirectory(), &stubFlagger{}, SchedulerConfig{
		MaxConcurrentChecks: 1,
		FailureThreshold:    1,
		CooldownAfterFlag:   time.Hour,
	})

	report, err := s.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, verifier.calls)
}

func TestRunCycle_AppendsCycleHistory(t *testing.T) {
	db := dbtesting.SetupDB(t)
	ctx := context.Background()
	trackPair(t, db)

	s := NewScheduler(db, &stubVerifier{passed: true}, activeDirectory(), &stubFlagger{},
		SchedulerConfig{MaxConcurrentChecks: 1, FailureThreshold: 3})
	_, err := s.RunCycle(ctx)
	require.NoError(t, err)

	last, err := db.LastCycle(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, 1, last.TotalChecked)
	assert.Equal(t, 1, last.Passed)
}
