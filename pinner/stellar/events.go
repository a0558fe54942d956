// Package stellar implements the ledger-facing side of the daemon: the
// JSON-RPC client, contract event polling, read-only contract queries, and
// transaction submission.
package stellar

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/pkg/errors"
)

// Contract event topic names.
const (
	TopicPin    = "PIN"
	TopicPinned = "PINNED"
	TopicUnpin  = "UNPIN"
)

// ContractEvent is one of the three recognized contract event variants.
type ContractEvent interface {
	// Ledger returns the ledger sequence the event was emitted at.
	Ledger() uint64
	contractEvent()
}

// PinEvent announces a new pin offer. It is the only variant carrying the
// raw cid.
type PinEvent struct {
	SlotID         uint64 `json:"slot_id"`
	CID            string `json:"cid"`
	Filename       string `json:"filename"`
	Gateway        string `json:"gateway"`
	OfferPrice     int64  `json:"offer_price"`
	PinQty         uint32 `json:"pin_qty"`
	Publisher      string `json:"publisher"`
	LedgerSequence uint64 `json:"ledger_sequence"`
}

// PinnedEvent reports a successful claim against a slot. Carries only the
// sha256 hash of the cid.
type PinnedEvent struct {
	SlotID         uint64 `json:"slot_id"`
	CIDHash        string `json:"cid_hash"`
	Pinner         string `json:"pinner"`
	Amount         int64  `json:"amount"`
	PinsRemaining  uint32 `json:"pins_remaining"`
	LedgerSequence uint64 `json:"ledger_sequence"`
}

// UnpinEvent reports that a slot was released by its publisher.
type UnpinEvent struct {
	SlotID         uint64 `json:"slot_id"`
	CIDHash        string `json:"cid_hash"`
	LedgerSequence uint64 `json:"ledger_sequence"`
}

func (e *PinEvent) Ledger() uint64    { return e.LedgerSequence }
func (e *PinnedEvent) Ledger() uint64 { return e.LedgerSequence }
func (e *UnpinEvent) Ledger() uint64  { return e.LedgerSequence }

func (*PinEvent) contractEvent()    {}
func (*PinnedEvent) contractEvent() {}
func (*UnpinEvent) contractEvent()  {}

// HashCID returns the lowercase hex sha256 digest of a cid string, the form
// PINNED and UNPIN events carry.
func HashCID(cid string) string {
	sum := sha256.Sum256([]byte(cid))
	return hex.EncodeToString(sum[:])
}

// RawEvent is a contract event as returned by the RPC getEvents method,
// before topic dispatch.
type RawEvent struct {
	ID                       string          `json:"id"`
	Ledger                   uint64          `json:"ledger"`
	ContractID               string          `json:"contractId"`
	Topic                    []string        `json:"topic"`
	Value                    json.RawMessage `json:"value"`
	InSuccessfulContractCall bool            `json:"inSuccessfulContractCall"`
}

// ParseEvent decodes a RawEvent into its typed variant. Unrecognized topics
// return (nil, nil); malformed payloads return an error.
func ParseEvent(raw *RawEvent) (ContractEvent, error) {
	if len(raw.Topic) == 0 {
		return nil, errors.New("event has no topic")
	}
	switch raw.Topic[0] {
	case TopicPin:
		ev := &PinEvent{}
		if err := json.Unmarshal(raw.Value, ev); err != nil {
			return nil, errors.Wrapf(err, "malformed PIN event %s", raw.ID)
		}
		ev.LedgerSequence = raw.Ledger
		return ev, nil
	case TopicPinned:
		ev := &PinnedEvent{}
		if err := json.Unmarshal(raw.Value, ev); err != nil {
			return nil, errors.Wrapf(err, "malformed PINNED event %s", raw.ID)
		}
		ev.LedgerSequence = raw.Ledger
		return ev, nil
	case TopicUnpin:
		ev := &UnpinEvent{}
		if err := json.Unmarshal(raw.Value, ev); err != nil {
			return nil, errors.Wrapf(err, "malformed UNPIN event %s", raw.ID)
		}
		ev.LedgerSequence = raw.Ledger
		return ev, nil
	}
	return nil, nil
}
