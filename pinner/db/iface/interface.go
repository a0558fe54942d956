// Package iface defines the interface for the pinner state store.
package iface

import (
	"context"
	"io"

	"github.com/pintheon/pinner/pinner/types"
)

// Database defines the necessary methods for the pinner state store. It is
// the single durable source of truth; components hold this handle and
// request all mutation through it.
type Database interface {
	io.Closer
	DatabasePath() string
	ClearDB() error

	// Cursor related methods.
	Cursor(ctx context.Context) (uint64, error)
	SaveCursor(ctx context.Context, ledger uint64) error

	// Runtime policy related methods.
	DaemonConfig(ctx context.Context) (*types.DaemonConfigRecord, error)
	SaveDaemonConfig(ctx context.Context, rec *types.DaemonConfigRecord) error

	// Offer lifecycle related methods.
	SaveOffer(ctx context.Context, offer *types.OfferRecord) (bool, error)
	Offer(ctx context.Context, slotID uint64) (*types.OfferRecord, error)
	UpdateOffer(ctx context.Context, slotID uint64, fn func(offer *types.OfferRecord) error) error
	UpdateOfferStatus(ctx context.Context, slotID uint64, status types.OfferStatus, rejectReason string) error
	OffersByStatus(ctx context.Context, status types.OfferStatus) ([]*types.OfferRecord, error)
	ApprovalQueue(ctx context.Context) ([]*types.OfferRecord, error)

	// Claim related methods.
	SaveClaim(ctx context.Context, claim *types.Claim) error
	Claim(ctx context.Context, slotID uint64) (*types.Claim, error)
	Earnings(ctx context.Context) (*types.EarningsSummary, error)

	// Pin related methods.
	SavePin(ctx context.Context, pin *types.PinRecord) error
	HasPin(ctx context.Context, cid string) (bool, error)
	Pin(ctx context.Context, cid string) (*types.PinRecord, error)
	DeletePin(ctx context.Context, cid string) error
	Pins(ctx context.Context) ([]*types.PinRecord, error)

	// Activity feed related methods.
	LogActivity(ctx context.Context, entry *types.ActivityRecord) error
	RecentActivity(ctx context.Context, limit int) ([]*types.ActivityRecord, error)

	// Hunter related methods.
	SaveTrackedCID(ctx context.Context, tc *types.TrackedCID) error
	TrackedCID(ctx context.Context, cid string) (*types.TrackedCID, error)
	TrackedCIDByHash(ctx context.Context, cidHash string) (*types.TrackedCID, error)
	SaveTrackedPin(ctx context.Context, tp *types.TrackedPin) (bool, error)
	TrackedPin(ctx context.Context, cid, pinner string) (*types.TrackedPin, error)
	TrackedPins(ctx context.Context, statuses ...types.TrackedPinStatus) ([]*types.TrackedPin, error)
	UpdateTrackedPin(ctx context.Context, cid, pinner string, fn func(tp *types.TrackedPin) error) error
	FreeTrackedPinsByCIDHash(ctx context.Context, cidHash string) (int, error)
	RecordVerification(ctx context.Context, result *types.VerificationResult) error
	RecentVerifications(ctx context.Context, limit int) ([]*types.VerificationResult, error)
	AppendCycle(ctx context.Context, report *types.CycleReport) error
	LastCycle(ctx context.Context) (*types.CycleReport, error)
	SaveFlag(ctx context.Context, rec *types.FlagRecord) error
	HasFlagged(ctx context.Context, pinnerAddress string) (bool, error)
	Flag(ctx context.Context, pinnerAddress string) (*types.FlagRecord, error)
	FlagHistory(ctx context.Context) ([]*types.FlagRecord, error)

	// Pinner registry cache related methods.
	CachedPinner(ctx context.Context, address string) (*types.PinnerInfo, error)
	CachePinner(ctx context.Context, info *types.PinnerInfo) error
	ExpirePinner(ctx context.Context, address string) error
}
