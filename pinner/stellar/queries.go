package stellar

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

// SlotInfo is a slot's current on-chain state as returned by get_slot.
type SlotInfo struct {
	SlotID        uint64   `json:"slot_id"`
	CIDHash       string   `json:"cid_hash"`
	Publisher     string   `json:"publisher"`
	OfferPrice    int64    `json:"offer_price"`
	PinQty        uint32   `json:"pin_qty"`
	PinsRemaining uint32   `json:"pins_remaining"`
	EscrowBalance int64    `json:"escrow_balance"`
	CreatedAt     uint64   `json:"created_at"`
	Claims        []string `json:"claims"`
}

// PinnerData is a pinner's on-chain registry record as returned by
// get_pinner.
type PinnerData struct {
	Address       string `json:"address"`
	NodeID        string `json:"node_id"`
	Multiaddr     string `json:"multiaddr"`
	Active        bool   `json:"active"`
	Flags         uint32 `json:"flags"`
	MinPrice      int64  `json:"min_price"`
	PinsCompleted uint64 `json:"pins_completed"`
	Staked        int64  `json:"staked"`
	JoinedAt      uint64 `json:"joined_at"`
}

// Queries performs read-only contract calls via transaction simulation. No
// signing is required; the source address is only used for fee accounting
// by the simulator.
type Queries struct {
	client     *Client
	contractID string
	source     string
}

// NewQueries builds a read-only query helper bound to one contract.
func NewQueries(client *Client, contractID, sourceAddress string) *Queries {
	return &Queries{client: client, contractID: contractID, source: sourceAddress}
}

func (q *Queries) simulate(ctx context.Context, method string, out interface{}, args ...interface{}) error {
	resp, err := q.client.Simulate(ctx, &SimulateRequest{
		Source:   q.source,
		Contract: q.contractID,
		Method:   method,
		Args:     args,
	})
	if err != nil {
		return err
	}
	if resp.Error != "" {
		return errors.Errorf("%s simulation failed: %s", method, resp.Error)
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return errors.Wrapf(err, "could not decode %s result", method)
	}
	return nil
}

// GetSlot queries a slot's current on-chain state. A missing slot returns
// (nil, nil).
func (q *Queries) GetSlot(ctx context.Context, slotID uint64) (*SlotInfo, error) {
	var slot *SlotInfo
	if err := q.simulate(ctx, "get_slot", &slot, slotID); err != nil {
		return nil, err
	}
	return slot, nil
}

// IsSlotExpired reports whether the contract considers the slot expired.
func (q *Queries) IsSlotExpired(ctx context.Context, slotID uint64) (bool, error) {
	var expired bool
	if err := q.simulate(ctx, "is_slot_expired", &expired, slotID); err != nil {
		return false, err
	}
	return expired, nil
}

// GetPinner queries a pinner's registry record. An unregistered address
// returns (nil, nil).
func (q *Queries) GetPinner(ctx context.Context, address string) (*PinnerData, error) {
	var pinner *PinnerData
	if err := q.simulate(ctx, "get_pinner", &pinner, address); err != nil {
		return nil, err
	}
	return pinner, nil
}

// CurrentEpoch returns the contract's current epoch counter.
func (q *Queries) CurrentEpoch(ctx context.Context) (uint64, error) {
	var epoch uint64
	if err := q.simulate(ctx, "current_epoch", &epoch); err != nil {
		return 0, err
	}
	return epoch, nil
}

// AccountBalance returns the operator's native balance in stroops.
func (q *Queries) AccountBalance(ctx context.Context, address string) (int64, error) {
	acct, err := q.client.GetAccount(ctx, address)
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}
