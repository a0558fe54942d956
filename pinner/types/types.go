// Package types holds the record types persisted by the state store and the
// structured results passed between daemon components.
package types

import "time"

// OfferStatus is the lifecycle state of a pin offer.
type OfferStatus string

// Offer lifecycle states.
const (
	StatusPending          OfferStatus = "pending"
	StatusRejected         OfferStatus = "rejected"
	StatusAwaitingApproval OfferStatus = "awaiting_approval"
	StatusApproved         OfferStatus = "approved"
	StatusPinning          OfferStatus = "pinning"
	StatusPinned           OfferStatus = "pinned"
	StatusClaiming         OfferStatus = "claiming"
	StatusClaimed          OfferStatus = "claimed"
	StatusPinFailed        OfferStatus = "pin_failed"
	StatusClaimFailed      OfferStatus = "claim_failed"
	StatusExpired          OfferStatus = "expired"
	StatusFilled           OfferStatus = "filled"
)

// validOfferTransitions encodes the offer state machine. A status missing
// from the map is terminal. The single exception to terminal-state
// immutability is claimed -> filled, reported by a PINNED event once the
// slot's last claim lands.
var validOfferTransitions = map[OfferStatus][]OfferStatus{
	StatusPending:          {StatusRejected, StatusAwaitingApproval, StatusPinning, StatusExpired},
	StatusAwaitingApproval: {StatusApproved, StatusRejected, StatusExpired},
	StatusApproved:         {StatusPinning, StatusExpired},
	StatusPinning:          {StatusPinned, StatusPinFailed, StatusExpired},
	StatusPinned:           {StatusClaiming, StatusFilled, StatusExpired},
	StatusClaiming:         {StatusClaimed, StatusClaimFailed, StatusExpired},
	StatusClaimed:          {StatusFilled},
}

// CanTransition reports whether the offer state machine permits moving
// from s to next.
func (s OfferStatus) CanTransition(next OfferStatus) bool {
	for _, allowed := range validOfferTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no transitions leave s, except the
// claimed -> filled bookkeeping move.
func (s OfferStatus) Terminal() bool {
	switch s {
	case StatusRejected, StatusClaimed, StatusPinFailed, StatusClaimFailed, StatusExpired, StatusFilled:
		return true
	}
	return false
}

// Reject reasons produced by the offer filter, in evaluation order.
const (
	ReasonAlreadySeenClaimed = "already_seen_claimed"
	ReasonCIDAlreadyPinned   = "cid_already_pinned"
	ReasonPriceTooLow        = "price_too_low"
	ReasonSlotNotActive      = "slot_not_active"
	ReasonContentTooLarge    = "content_too_large"
	ReasonInsufficientXLM    = "insufficient_xlm"
	ReasonUnprofitable       = "unprofitable"
	ReasonOperatorRejected   = "operator_rejected"
	ReasonAccepted           = "accepted"
)

// OfferRecord is a pin offer as persisted in the state store.
type OfferRecord struct {
	SlotID          uint64      `json:"slot_id"`
	CID             string      `json:"cid"`
	Filename        string      `json:"filename"`
	Gateway         string      `json:"gateway"`
	OfferPrice      int64       `json:"offer_price"`
	PinQty          uint32      `json:"pin_qty"`
	PinsRemaining   uint32      `json:"pins_remaining"`
	Publisher       string      `json:"publisher"`
	LedgerSequence  uint64      `json:"ledger_sequence"`
	Status          OfferStatus `json:"status"`
	RejectReason    string      `json:"reject_reason,omitempty"`
	NetProfit       int64       `json:"net_profit"`
	EstimatedExpiry time.Time   `json:"estimated_expiry"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Claim records a successful collect_pin submission. Append-only, at most
// one per slot.
type Claim struct {
	SlotID       uint64    `json:"slot_id"`
	CID          string    `json:"cid"`
	AmountEarned int64     `json:"amount_earned"`
	TxHash       string    `json:"tx_hash"`
	ClaimedAt    time.Time `json:"claimed_at"`
}

// PinRecord is a CID pinned on the local storage node under the daemon's
// ownership.
type PinRecord struct {
	CID         string    `json:"cid"`
	SlotID      uint64    `json:"slot_id"`
	BytesPinned int64     `json:"bytes_pinned"`
	PinnedAt    time.Time `json:"pinned_at"`
}

// ActivityRecord is a single append-only activity feed entry.
type ActivityRecord struct {
	ID        uint64    `json:"id"`
	EventType string    `json:"event_type"`
	SlotID    uint64    `json:"slot_id,omitempty"`
	CID       string    `json:"cid,omitempty"`
	Amount    int64     `json:"amount,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Activity feed event types.
const (
	ActivityDaemonStarted = "daemon_started"
	ActivityDaemonStopped = "daemon_stopped"
	ActivityOfferSeen     = "offer_seen"
	ActivityOfferRejected = "offer_rejected"
	ActivityOfferQueued   = "offer_queued"
	ActivityOfferApproved = "offer_approved"
	ActivityOfferExpired  = "offer_expired"
	ActivityPinStarted    = "pin_started"
	ActivityPinSuccess    = "pin_success"
	ActivityPinFailed     = "pin_failed"
	ActivityClaimSuccess  = "claim_success"
	ActivityClaimFailed   = "claim_failed"
	ActivitySlotClaimed   = "slot_claimed"
	ActivityModeChanged   = "mode_changed"
	ActivityPolicyUpdated = "policy_updated"
	ActivityHunterCycle   = "hunter_cycle"
	ActivityHunterFlag    = "hunter_flag"
	ActivityError         = "error"
)

// DaemonConfigRecord is the runtime-mutable daemon policy, persisted so
// that IPC changes survive restarts.
type DaemonConfigRecord struct {
	Mode           string    `json:"mode"`
	MinPrice       int64     `json:"min_price"`
	MaxContentSize int64     `json:"max_content_size"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// EarningsSummary aggregates claim totals over standard windows.
type EarningsSummary struct {
	TotalEarned int64 `json:"total_earned"`
	Earned24h   int64 `json:"earned_24h"`
	Earned7d    int64 `json:"earned_7d"`
	Earned30d   int64 `json:"earned_30d"`
	ClaimsCount int   `json:"claims_count"`
}

// FilterResult is the verdict from evaluating a pin offer against policy.
type FilterResult struct {
	Accepted       bool   `json:"accepted"`
	Reason         string `json:"reason"`
	SlotID         uint64 `json:"slot_id"`
	OfferPrice     int64  `json:"offer_price"`
	WalletBalance  int64  `json:"wallet_balance"`
	EstimatedTxFee int64  `json:"estimated_tx_fee"`
	NetProfit      int64  `json:"net_profit"`
}

// PinResult is the outcome of one executor pipeline run.
type PinResult struct {
	Success     bool   `json:"success"`
	CID         string `json:"cid"`
	BytesPinned int64  `json:"bytes_pinned"`
	Error       string `json:"error,omitempty"`
	DurationMs  int64  `json:"duration_ms"`
}

// ClaimCode classifies a collect_pin submission outcome.
type ClaimCode string

// Claim outcome codes.
const (
	ClaimOK             ClaimCode = "ok"
	ClaimAlreadyClaimed ClaimCode = "already_claimed"
	ClaimSlotExpired    ClaimCode = "slot_expired"
	ClaimSlotNotActive  ClaimCode = "slot_not_active"
	ClaimNotPinner      ClaimCode = "not_pinner"
	ClaimTransient      ClaimCode = "transient"
)

// ClaimResult is the structured outcome of a collect_pin submission.
type ClaimResult struct {
	Success      bool      `json:"success"`
	SlotID       uint64    `json:"slot_id"`
	AmountEarned int64     `json:"amount_earned"`
	TxHash       string    `json:"tx_hash,omitempty"`
	Code         ClaimCode `json:"code"`
	Retryable    bool      `json:"retryable"`
	Error        string    `json:"error,omitempty"`
}

// TrackedPinStatus is the verification lifecycle state of a (cid, pinner)
// pair.
type TrackedPinStatus string

// Tracked pin lifecycle states.
const (
	TrackingStatus      TrackedPinStatus = "tracking"
	VerifiedStatus      TrackedPinStatus = "verified"
	SuspectStatus       TrackedPinStatus = "suspect"
	FlagSubmittedStatus TrackedPinStatus = "flag_submitted"
	SlotFreedStatus     TrackedPinStatus = "slot_freed"
)

// TrackedCID is a cid the operator published and wants audited.
type TrackedCID struct {
	CID       string    `json:"cid"`
	CIDHash   string    `json:"cid_hash"`
	SlotID    uint64    `json:"slot_id"`
	Publisher string    `json:"publisher"`
	Gateway   string    `json:"gateway,omitempty"`
	PinQty    uint32    `json:"pin_qty"`
	CreatedAt time.Time `json:"created_at"`
}

// TrackedPin is a (cid, pinner) pair under verification.
type TrackedPin struct {
	CID                 string           `json:"cid"`
	CIDHash             string           `json:"cid_hash"`
	PinnerAddress       string           `json:"pinner_address"`
	PinnerNodeID        string           `json:"pinner_node_id"`
	PinnerMultiaddr     string           `json:"pinner_multiaddr"`
	SlotID              uint64           `json:"slot_id"`
	ClaimedAt           time.Time        `json:"claimed_at"`
	LastVerifiedAt      time.Time        `json:"last_verified_at"`
	LastCheckedAt       time.Time        `json:"last_checked_at"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
	TotalChecks         int              `json:"total_checks"`
	TotalFailures       int              `json:"total_failures"`
	Status              TrackedPinStatus `json:"status"`
	FlaggedAt           time.Time        `json:"flagged_at"`
	FlagTxHash          string           `json:"flag_tx_hash,omitempty"`
}

// Verification method names, cheapest first.
const (
	MethodDHTProvider = "dht_provider"
	MethodBitswap     = "bitswap"
	MethodRetrieval   = "retrieval"
)

// MethodResult is the outcome of a single verification tier. Passed is nil
// when the tier was inconclusive or errored locally.
type MethodResult struct {
	Method     string `json:"method"`
	Passed     *bool  `json:"passed"`
	Detail     string `json:"detail,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// VerificationResult is the composite outcome of a verification pipeline run.
// Errored means no tier produced a definitive answer; such runs count as
// neither pass nor fail.
type VerificationResult struct {
	CID              string         `json:"cid"`
	PinnerNodeID     string         `json:"pinner_node_id"`
	Passed           bool           `json:"passed"`
	Errored          bool           `json:"errored"`
	MethodUsed       string         `json:"method_used"`
	MethodsAttempted []MethodResult `json:"methods_attempted"`
	DurationMs       int64          `json:"duration_ms"`
	CheckedAt        time.Time      `json:"checked_at"`
}

// CycleReport summarizes one verification cycle.
type CycleReport struct {
	CycleID      uint64    `json:"cycle_id"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
	TotalChecked int       `json:"total_checked"`
	Passed       int       `json:"passed"`
	Failed       int       `json:"failed"`
	Flagged      int       `json:"flagged"`
	Skipped      int       `json:"skipped"`
	Errors       int       `json:"errors"`
	DurationMs   int64     `json:"duration_ms"`
}

// FlagResult is the structured outcome of a flag_pinner submission.
type FlagResult struct {
	Success        bool   `json:"success"`
	PinnerAddress  string `json:"pinner_address"`
	FlagCount      uint32 `json:"flag_count"`
	TxHash         string `json:"tx_hash,omitempty"`
	BountyEarned   int64  `json:"bounty_earned"`
	AlreadyFlagged bool   `json:"already_flagged"`
	Error          string `json:"error,omitempty"`
}

// FlagRecord is the append-only history row for a submitted flag.
type FlagRecord struct {
	PinnerAddress  string    `json:"pinner_address"`
	TxHash         string    `json:"tx_hash"`
	FlagCountAfter uint32    `json:"flag_count_after"`
	BountyEarned   int64     `json:"bounty_earned"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

// PinnerInfo is cached on-chain pinner registry data used by the verifier.
type PinnerInfo struct {
	Address   string    `json:"address"`
	NodeID    string    `json:"node_id"`
	Multiaddr string    `json:"multiaddr"`
	Active    bool      `json:"active"`
	CachedAt  time.Time `json:"cached_at"`
}
