package hunter

import (
	"context"

	"github.com/pintheon/pinner/pinner/db/iface"
	"github.com/pintheon/pinner/pinner/types"
)

// ChainFlagger submits the on-chain flag transaction.
type ChainFlagger interface {
	SubmitFlag(ctx context.Context, pinnerAddress string) *types.FlagResult
}

// FlagSubmitter wraps the on-chain flag sender with the local
// duplicate-flag guard and flag-history bookkeeping.
type FlagSubmitter struct {
	store  iface.Database
	sender ChainFlagger
}

// NewFlagSubmitter builds the flag submitter.
func NewFlagSubmitter(store iface.Database, sender ChainFlagger) *FlagSubmitter {
	return &FlagSubmitter{store: store, sender: sender}
}

// HasAlreadyFlagged scans local flag history for the pinner. The contract
// refuses duplicates too; this avoids wasting a transaction.
func (f *FlagSubmitter) HasAlreadyFlagged(ctx context.Context, pinnerAddress string) (bool, error) {
	return f.store.HasFlagged(ctx, pinnerAddress)
}

// Flag submits flag_pinner for the address. A duplicate, locally known or
// refused by the contract, is a non-error outcome with AlreadyFlagged set
// and no new history row. A successful submission appends the flag record.
func (f *FlagSubmitter) Flag(ctx context.Context, pinnerAddress string) *types.FlagResult {
	flagged, err := f.HasAlreadyFlagged(ctx, pinnerAddress)
	if err != nil {
		return &types.FlagResult{Success: false, PinnerAddress: pinnerAddress, Error: err.Error()}
	}
	if flagged {
		return &types.FlagResult{Success: false, PinnerAddress: pinnerAddress, AlreadyFlagged: true}
	}

	result := f.sender.SubmitFlag(ctx, pinnerAddress)
	if !result.Success {
		return result
	}
	if err := f.store.SaveFlag(ctx, &types.FlagRecord{
		PinnerAddress:  pinnerAddress,
		TxHash:         result.TxHash,
		FlagCountAfter: result.FlagCount,
		BountyEarned:   result.BountyEarned,
	}); err != nil {
		log.WithError(err).WithField("pinner", shortID(pinnerAddress)).Error("Could not record flag history")
	}
	return result
}
