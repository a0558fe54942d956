package kv

import (
	"context"
	"testing"
	"time"

	"github.com/pintheon/pinner/pinner/types"
	"github.com/pintheon/pinner/testing/assert"
	"github.com/pintheon/pinner/testing/require"
)

func testOffer(slotID uint64) *types.OfferRecord {
	return &types.OfferRecord{
		SlotID:     slotID,
		CID:        "QmTestContent",
		Gateway:    "http://gw.example",
		OfferPrice: 1_000_000,
		PinQty:     3,
		Publisher:  "GPUB",
		Status:     types.StatusPending,
	}
}

func TestSaveOffer_InsertOrIgnore(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	inserted, err := db.SaveOffer(ctx, testOffer(1))
	require.NoError(t, err)
	assert.Equal(t, true, inserted)

	require.NoError(t, db.UpdateOfferStatus(ctx, 1, types.StatusPinning, ""))

	// A re-polled event must not clobber lifecycle progress.
	dup := testOffer(1)
	dup.OfferPrice = 999
	inserted, err = db.SaveOffer(ctx, dup)
	require.NoError(t, err)
	assert.Equal(t, false, inserted)

	offer, err := db.Offer(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, offer)
	assert.Equal(t, types.StatusPinning, offer.Status)
	assert.Equal(t, int64(1_000_000), offer.OfferPrice)
}

func TestUpdateOfferStatus_LegalPath(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	_, err := db.SaveOffer(ctx, testOffer(2))
	require.NoError(t, err)

	for _, status := range []types.OfferStatus{
		types.StatusPinning,
		types.StatusPinned,
		types.StatusClaiming,
		types.StatusClaimed,
		types.StatusFilled,
	} {
		require.NoError(t, db.UpdateOfferStatus(ctx, 2, status, ""))
	}
	offer, err := db.Offer(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFilled, offer.Status)
}

func TestUpdateOfferStatus_TerminalStateIsSticky(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	_, err := db.SaveOffer(ctx, testOffer(3))
	require.NoError(t, err)
	require.NoError(t, db.UpdateOfferStatus(ctx, 3, types.StatusRejected, types.ReasonPriceTooLow))

	err = db.UpdateOfferStatus(ctx, 3, types.StatusPinning, "")
	require.ErrorIs(t, err, ErrIllegalTransition)

	offer, err := db.Offer(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, types.StatusRejected, offer.Status)
	assert.Equal(t, types.ReasonPriceTooLow, offer.RejectReason)
}

func TestUpdateOfferStatus_SkippingStepsRejected(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	_, err := db.SaveOffer(ctx, testOffer(4))
	require.NoError(t, err)

	err = db.UpdateOfferStatus(ctx, 4, types.StatusClaimed, "")
	require.ErrorIs(t, err, ErrIllegalTransition)
}

func TestUpdateOfferStatus_MissingOffer(t *testing.T) {
	db := setupDB(t)
	err := db.UpdateOfferStatus(context.Background(), 404, types.StatusPinning, "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateOffer_PreservesStatus(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	_, err := db.SaveOffer(ctx, testOffer(5))
	require.NoError(t, err)
	require.NoError(t, db.UpdateOffer(ctx, 5, func(offer *types.OfferRecord) error {
		offer.PinsRemaining = 1
		offer.Status = types.StatusClaimed // must be ignored
		return nil
	}))

	offer, err := db.Offer(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, offer.Status)
	assert.Equal(t, uint32(1), offer.PinsRemaining)
}

func TestOffersByStatus_AndApprovalQueue(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	for slot := uint64(1); slot <= 4; slot++ {
		_, err := db.SaveOffer(ctx, testOffer(slot))
		require.NoError(t, err)
	}
	require.NoError(t, db.UpdateOfferStatus(ctx, 2, types.StatusAwaitingApproval, ""))
	require.NoError(t, db.UpdateOfferStatus(ctx, 3, types.StatusAwaitingApproval, ""))
	require.NoError(t, db.UpdateOfferStatus(ctx, 4, types.StatusPinning, ""))

	queue, err := db.ApprovalQueue(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, len(queue))
	assert.Equal(t, uint64(2), queue[0].SlotID)
	assert.Equal(t, uint64(3), queue[1].SlotID)

	pinning, err := db.OffersByStatus(ctx, types.StatusPinning)
	require.NoError(t, err)
	require.Equal(t, 1, len(pinning))
	assert.Equal(t, uint64(4), pinning[0].SlotID)
}

func TestSaveClaim_RejectsDuplicateSlot(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	claim := &types.Claim{SlotID: 9, CID: "QmA", AmountEarned: 500, TxHash: "tx1"}
	require.NoError(t, db.SaveClaim(ctx, claim))

	err := db.SaveClaim(ctx, &types.Claim{SlotID: 9, CID: "QmA", AmountEarned: 500, TxHash: "tx2"})
	require.ErrorIs(t, err, ErrDuplicateClaim)

	stored, err := db.Claim(ctx, 9)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "tx1", stored.TxHash)
}

func TestEarnings_Windows(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, db.SaveClaim(ctx, &types.Claim{SlotID: 1, AmountEarned: 100, ClaimedAt: now.Add(-time.Hour)}))
	require.NoError(t, db.SaveClaim(ctx, &types.Claim{SlotID: 2, AmountEarned: 200, ClaimedAt: now.Add(-3 * 24 * time.Hour)}))
	require.NoError(t, db.SaveClaim(ctx, &types.Claim{SlotID: 3, AmountEarned: 400, ClaimedAt: now.Add(-60 * 24 * time.Hour)}))

	summary, err := db.Earnings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.ClaimsCount)
	assert.Equal(t, int64(700), summary.TotalEarned)
	assert.Equal(t, int64(100), summary.Earned24h)
	assert.Equal(t, int64(300), summary.Earned7d)
	assert.Equal(t, int64(300), summary.Earned30d)
}

func TestPins_RoundTrip(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	has, err := db.HasPin(ctx, "QmA")
	require.NoError(t, err)
	assert.Equal(t, false, has)

	require.NoError(t, db.SavePin(ctx, &types.PinRecord{CID: "QmA", SlotID: 1, BytesPinned: 1024}))
	has, err = db.HasPin(ctx, "QmA")
	require.NoError(t, err)
	assert.Equal(t, true, has)

	require.NoError(t, db.DeletePin(ctx, "QmA"))
	has, err = db.HasPin(ctx, "QmA")
	require.NoError(t, err)
	assert.Equal(t, false, has)
}

func TestActivity_NewestFirstWithLimit(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, db.LogActivity(ctx, &types.ActivityRecord{
			EventType: types.ActivityOfferSeen,
			SlotID:    uint64(i),
			Message:   "offer seen",
		}))
	}
	entries, err := db.RecentActivity(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, 3, len(entries))
	assert.Equal(t, uint64(4), entries[0].SlotID)
	assert.Equal(t, uint64(2), entries[2].SlotID)
}
