package stellar

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/pintheon/pinner/pinner/types"
)

// Contract error codes surfaced by simulation or submission.
const (
	errAlreadyClaimed = "AlreadyClaimed"
	errSlotExpired    = "SlotExpired"
	errSlotNotActive  = "SlotNotActive"
	errNotPinner      = "NotPinner"
	errPinnerInactive = "PinnerInactive"
	errAlreadyFlagged = "AlreadyFlagged"
)

// Signer produces signatures under the operator identity.
type Signer interface {
	Address() string
	Sign(payload []byte) []byte
}

// TxSender builds, simulates, signs, and submits contract invocations.
type TxSender struct {
	client      *Client
	contractID  string
	passphrase  string
	signer      Signer
	fallbackFee int64
}

// NewTxSender constructs a transaction sender for one contract and signer.
// fallbackFee is the conservative fee estimate used when simulation is
// unavailable.
func NewTxSender(client *Client, contractID, networkPassphrase string, signer Signer, fallbackFee int64) *TxSender {
	return &TxSender{
		client:      client,
		contractID:  contractID,
		passphrase:  networkPassphrase,
		signer:      signer,
		fallbackFee: fallbackFee,
	}
}

// contractError is a non-transport failure reported by the contract itself.
type contractError struct {
	code string
}

func (e *contractError) Error() string {
	return "contract error: " + e.code
}

func contractErrorCode(err error) string {
	var ce *contractError
	if errors.As(err, &ce) {
		return ce.code
	}
	return ""
}

// signingPayload produces the canonical digest the operator signs. The
// network passphrase is mixed in so a signature cannot be replayed on a
// different network.
func (s *TxSender) signingPayload(req *SendRequest) ([]byte, error) {
	canonical, err := json.Marshal(struct {
		Passphrase string        `json:"passphrase"`
		Source     string        `json:"source"`
		Contract   string        `json:"contract"`
		Method     string        `json:"method"`
		Args       []interface{} `json:"args"`
		Fee        int64         `json:"fee"`
	}{s.passphrase, req.Source, req.Contract, req.Method, req.Args, req.Fee})
	if err != nil {
		return nil, errors.Wrap(err, "could not marshal signing payload")
	}
	digest := sha256.Sum256(canonical)
	return digest[:], nil
}

// Invoke runs the full build, simulate, sign, submit sequence for one
// contract method. Contract-level failures are returned as *contractError
// so callers can map error codes; transport failures are returned as-is.
func (s *TxSender) Invoke(ctx context.Context, method string, args ...interface{}) (*SendResponse, error) {
	sim, err := s.client.Simulate(ctx, &SimulateRequest{
		Source:   s.signer.Address(),
		Contract: s.contractID,
		Method:   method,
		Args:     args,
	})
	if err != nil {
		return nil, err
	}
	if sim.Error != "" {
		return nil, &contractError{code: sim.Error}
	}
	req := &SendRequest{
		Source:   s.signer.Address(),
		Contract: s.contractID,
		Method:   method,
		Args:     args,
		Fee:      sim.MinFee,
	}
	payload, err := s.signingPayload(req)
	if err != nil {
		return nil, err
	}
	req.Signature = base64.StdEncoding.EncodeToString(s.signer.Sign(payload))
	resp, err := s.client.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Status != "SUCCESS" {
		return resp, &contractError{code: resp.Error}
	}
	return resp, nil
}

// EstimateFee simulates a method invocation and returns the minimum fee. A
// failed simulation falls back to the conservative configured estimate.
func (s *TxSender) EstimateFee(ctx context.Context, method string, args ...interface{}) int64 {
	sim, err := s.client.Simulate(ctx, &SimulateRequest{
		Source:   s.signer.Address(),
		Contract: s.contractID,
		Method:   method,
		Args:     args,
	})
	if err != nil || sim.Error != "" || sim.MinFee <= 0 {
		return s.fallbackFee
	}
	return sim.MinFee
}

// ClaimSubmitter submits collect_pin transactions and maps contract error
// codes onto offer lifecycle outcomes.
type ClaimSubmitter struct {
	sender *TxSender
}

// NewClaimSubmitter builds a claim submitter over the given sender.
func NewClaimSubmitter(sender *TxSender) *ClaimSubmitter {
	return &ClaimSubmitter{sender: sender}
}

// EstimateClaimFee returns the fee estimate for a collect_pin invocation.
func (c *ClaimSubmitter) EstimateClaimFee(ctx context.Context, slotID uint64) int64 {
	return c.sender.EstimateFee(ctx, "collect_pin", c.sender.signer.Address(), slotID)
}

// SubmitClaim submits collect_pin(caller, slot_id) and returns a structured
// outcome. AmountEarned is parsed from the transaction return value; no
// claim is recorded by callers unless it is observed.
func (c *ClaimSubmitter) SubmitClaim(ctx context.Context, slotID uint64) *types.ClaimResult {
	log.WithField("slotID", slotID).Info("Submitting collect_pin")
	resp, err := c.sender.Invoke(ctx, "collect_pin", c.sender.signer.Address(), slotID)
	if err != nil {
		res := &types.ClaimResult{Success: false, SlotID: slotID, Error: err.Error()}
		if resp != nil {
			res.TxHash = resp.Hash
		}
		switch contractErrorCode(err) {
		case errAlreadyClaimed:
			res.Code = types.ClaimAlreadyClaimed
		case errSlotExpired:
			res.Code = types.ClaimSlotExpired
		case errSlotNotActive:
			res.Code = types.ClaimSlotNotActive
		case errNotPinner, errPinnerInactive:
			res.Code = types.ClaimNotPinner
		default:
			res.Code = types.ClaimTransient
			res.Retryable = true
		}
		return res
	}
	var amount int64
	if len(resp.Result) > 0 {
		if jsonErr := json.Unmarshal(resp.Result, &amount); jsonErr != nil {
			log.WithError(jsonErr).WithField("slotID", slotID).Warn("Could not parse collect_pin return value")
		}
	}
	log.WithFields(logrus.Fields{
		"slotID": slotID,
		"amount": amount,
		"txHash": shortHash(resp.Hash),
	}).Info("collect_pin succeeded")
	return &types.ClaimResult{
		Success:      true,
		SlotID:       slotID,
		AmountEarned: amount,
		TxHash:       resp.Hash,
		Code:         types.ClaimOK,
	}
}

// flagReturn is the decoded return value of flag_pinner.
type flagReturn struct {
	FlagCount uint32 `json:"flag_count"`
	Bounty    int64  `json:"bounty"`
}

// FlagSender submits flag_pinner transactions for the hunter.
type FlagSender struct {
	sender *TxSender
}

// NewFlagSender builds a flag sender over the given transaction sender.
func NewFlagSender(sender *TxSender) *FlagSender {
	return &FlagSender{sender: sender}
}

// SubmitFlag submits flag_pinner(caller, pinner_address). A contract-side
// AlreadyFlagged refusal is reported as a non-error outcome with
// AlreadyFlagged set.
func (f *FlagSender) SubmitFlag(ctx context.Context, pinnerAddress string) *types.FlagResult {
	log.WithField("pinner", shortAddr(pinnerAddress)).Info("Submitting flag_pinner")
	resp, err := f.sender.Invoke(ctx, "flag_pinner", f.sender.signer.Address(), pinnerAddress)
	if err != nil {
		if contractErrorCode(err) == errAlreadyFlagged {
			return &types.FlagResult{
				Success:        false,
				PinnerAddress:  pinnerAddress,
				AlreadyFlagged: true,
			}
		}
		return &types.FlagResult{
			Success:       false,
			PinnerAddress: pinnerAddress,
			Error:         err.Error(),
		}
	}
	ret := flagReturn{}
	if len(resp.Result) > 0 {
		if jsonErr := json.Unmarshal(resp.Result, &ret); jsonErr != nil {
			log.WithError(jsonErr).Warn("Could not parse flag_pinner return value")
		}
	}
	log.WithFields(logrus.Fields{
		"pinner":    shortAddr(pinnerAddress),
		"flagCount": ret.FlagCount,
		"bounty":    ret.Bounty,
		"txHash":    shortHash(resp.Hash),
	}).Info("flag_pinner succeeded")
	return &types.FlagResult{
		Success:       true,
		PinnerAddress: pinnerAddress,
		FlagCount:     ret.FlagCount,
		BountyEarned:  ret.Bounty,
		TxHash:        resp.Hash,
	}
}

func shortHash(h string) string {
	if len(h) > 16 {
		return h[:16]
	}
	return h
}

func shortAddr(a string) string {
	if len(a) > 16 {
		return a[:16]
	}
	return strings.TrimSpace(a)
}
