package hunter

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/pintheon/pinner/pinner/ipfs"
	"github.com/pintheon/pinner/pinner/types"
)

const findprovsProviderLimit = 20

// Verifier proves or disproves that a remote pinner currently serves a
// cid. DHT presence alone never passes a check; the bitswap possession
// test is always attempted because routing records do not prove current
// possession.
type Verifier struct {
	kubo    *ipfs.Client
	timeout time.Duration
	methods []string
}

// NewVerifier builds the verification pipeline. methods selects the tiers
// to run, in order; dht_provider and bitswap are the usual set, retrieval
// is opt-in for high-value cids.
func NewVerifier(kubo *ipfs.Client, timeout time.Duration, methods []string) *Verifier {
	if len(methods) == 0 {
		methods = []string{types.MethodDHTProvider, types.MethodBitswap}
	}
	return &Verifier{kubo: kubo, timeout: timeout, methods: methods}
}

func (v *Verifier) enabled(method string) bool {
	for _, m := range v.methods {
		if m == method {
			return true
		}
	}
	return false
}

func boolPtr(b bool) *bool { return &b }

// Verify runs the tier pipeline for one (cid, pinner) pair. The composite
// outcome is definitive only when the bitswap tier (or retrieval, when it
// runs) produced an answer; local transport errors yield Errored so that
// callers count them as neither pass nor fail.
func (v *Verifier) Verify(ctx context.Context, cid, pinnerNodeID, pinnerMultiaddr string) *types.VerificationResult {
	start := time.Now()
	result := &types.VerificationResult{
		CID:          cid,
		PinnerNodeID: pinnerNodeID,
		MethodUsed:   "none",
		CheckedAt:    start.UTC(),
	}

	if v.enabled(types.MethodDHTProvider) {
		tier := v.checkDHTProvider(ctx, cid, pinnerNodeID)
		result.MethodsAttempted = append(result.MethodsAttempted, tier)
	}

	bitswap := v.checkBitswap(ctx, cid, pinnerMultiaddr)
	result.MethodsAttempted = append(result.MethodsAttempted, bitswap)
	switch {
	case bitswap.Passed == nil:
		result.Errored = true
	case *bitswap.Passed:
		result.Passed = true
		result.MethodUsed = types.MethodBitswap
	default:
		result.MethodUsed = types.MethodBitswap
	}

	if result.Passed && v.enabled(types.MethodRetrieval) {
		tier := v.checkRetrieval(ctx, cid)
		result.MethodsAttempted = append(result.MethodsAttempted, tier)
		if tier.Passed != nil {
			result.Passed = *tier.Passed
			result.MethodUsed = types.MethodRetrieval
		}
	}

	result.DurationMs = time.Since(start).Milliseconds()
	return result
}

// checkDHTProvider looks for the pinner among the cid's routing providers.
// Absence is inconclusive, the DHT may simply be slow to propagate.
func (v *Verifier) checkDHTProvider(ctx context.Context, cid, pinnerNodeID string) types.MethodResult {
	start := time.Now()
	tierCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	providers, err := v.kubo.FindProviders(tierCtx, cid, findprovsProviderLimit)
	if err != nil {
		return types.MethodResult{
			Method:     types.MethodDHTProvider,
			Passed:     nil,
			Detail:     "provider lookup error: " + err.Error(),
			DurationMs: time.Since(start).Milliseconds(),
		}
	}
	for _, id := range providers {
		if id == pinnerNodeID {
			return types.MethodResult{
				Method:     types.MethodDHTProvider,
				Passed:     boolPtr(true),
				Detail:     "pinner found among providers",
				DurationMs: time.Since(start).Milliseconds(),
			}
		}
	}
	return types.MethodResult{
		Method:     types.MethodDHTProvider,
		Passed:     nil,
		Detail:     fmt.Sprintf("pinner not among %d providers", findprovsProviderLimit),
		DurationMs: time.Since(start).Milliseconds(),
	}
}

// checkBitswap connects to the pinner and requests a block. The local
// node refusing the connect (status error) or the block not arriving
// before the deadline means the pinner is not serving; a transport
// failure talking to our own node is an error, not a verdict.
func (v *Verifier) checkBitswap(ctx context.Context, cid, pinnerMultiaddr string) types.MethodResult {
	start := time.Now()
	tierCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	if err := v.kubo.SwarmConnect(tierCtx, pinnerMultiaddr); err != nil {
		duration := time.Since(start).Milliseconds()
		if ipfs.IsStatusError(err) {
			return types.MethodResult{
				Method:     types.MethodBitswap,
				Passed:     boolPtr(false),
				Detail:     "could not connect to pinner: " + err.Error(),
				DurationMs: duration,
			}
		}
		return types.MethodResult{
			Method:     types.MethodBitswap,
			Passed:     nil,
			Detail:     "local node unreachable: " + err.Error(),
			DurationMs: duration,
		}
	}

	n, err := v.kubo.BlockGet(tierCtx, cid)
	duration := time.Since(start).Milliseconds()
	if err != nil {
		if ipfs.IsStatusError(err) || errors.Is(err, context.DeadlineExceeded) || tierCtx.Err() != nil {
			return types.MethodResult{
				Method:     types.MethodBitswap,
				Passed:     boolPtr(false),
				Detail:     "block not served before deadline",
				DurationMs: duration,
			}
		}
		return types.MethodResult{
			Method:     types.MethodBitswap,
			Passed:     nil,
			Detail:     "block fetch error: " + err.Error(),
			DurationMs: duration,
		}
	}
	if n == 0 {
		return types.MethodResult{
			Method:     types.MethodBitswap,
			Passed:     boolPtr(false),
			Detail:     "empty block returned",
			DurationMs: duration,
		}
	}
	return types.MethodResult{
		Method:     types.MethodBitswap,
		Passed:     boolPtr(true),
		Detail:     fmt.Sprintf("block retrieved (%d bytes)", n),
		DurationMs: duration,
	}
}

// checkRetrieval fetches the first kilobyte of content through the pinner.
func (v *Verifier) checkRetrieval(ctx context.Context, cid string) types.MethodResult {
	start := time.Now()
	tierCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	data, err := v.kubo.Cat(tierCtx, cid, 1024)
	duration := time.Since(start).Milliseconds()
	if err != nil {
		if ipfs.IsStatusError(err) || errors.Is(err, context.DeadlineExceeded) || tierCtx.Err() != nil {
			return types.MethodResult{
				Method:     types.MethodRetrieval,
				Passed:     boolPtr(false),
				Detail:     "retrieval failed: " + err.Error(),
				DurationMs: duration,
			}
		}
		return types.MethodResult{
			Method:     types.MethodRetrieval,
			Passed:     nil,
			Detail:     "retrieval error: " + err.Error(),
			DurationMs: duration,
		}
	}
	if len(data) == 0 {
		return types.MethodResult{
			Method:     types.MethodRetrieval,
			Passed:     boolPtr(false),
			Detail:     "no bytes returned",
			DurationMs: duration,
		}
	}
	return types.MethodResult{
		Method:     types.MethodRetrieval,
		Passed:     boolPtr(true),
		Detail:     fmt.Sprintf("retrieved %d bytes", len(data)),
		DurationMs: duration,
	}
}
