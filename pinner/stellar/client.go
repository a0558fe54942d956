package stellar

import (
	"context"
	"encoding/json"

	gethRPC "github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "stellar")

// GetEventsRequest is the argument to the ledger_getEvents RPC method.
type GetEventsRequest struct {
	StartLedger uint64   `json:"startLedger,omitempty"`
	Cursor      string   `json:"cursor,omitempty"`
	ContractID  string   `json:"contractId"`
	Topics      []string `json:"topics,omitempty"`
	Limit       int      `json:"limit"`
}

// GetEventsResponse is the result of the ledger_getEvents RPC method.
type GetEventsResponse struct {
	Events       []*RawEvent `json:"events"`
	Cursor       string      `json:"cursor"`
	LatestLedger uint64      `json:"latestLedger"`
}

// SimulateRequest describes a contract invocation to be simulated without
// submission.
type SimulateRequest struct {
	Source   string        `json:"source"`
	Contract string        `json:"contract"`
	Method   string        `json:"method"`
	Args     []interface{} `json:"args"`
}

// SimulateResponse carries the simulation outcome. A non-empty Error means
// the invocation would fail on-chain with that contract error code.
type SimulateResponse struct {
	MinFee int64           `json:"minFee"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error,omitempty"`
}

// SendRequest is a signed contract invocation ready for submission.
type SendRequest struct {
	Source    string        `json:"source"`
	Contract  string        `json:"contract"`
	Method    string        `json:"method"`
	Args      []interface{} `json:"args"`
	Fee       int64         `json:"fee"`
	Signature string        `json:"signature"`
}

// SendResponse is the submission outcome. Status is SUCCESS or FAILED; on
// failure Error carries the contract error code.
type SendResponse struct {
	Hash   string          `json:"hash"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error,omitempty"`
}

// Account is the ledger account record for an address.
type Account struct {
	Address  string `json:"address"`
	Balance  int64  `json:"balance"`
	Sequence uint64 `json:"sequence"`
}

// Client is a thin wrapper over the ledger's JSON-RPC endpoint.
type Client struct {
	rpc *gethRPC.Client
}

// Dial connects to the ledger RPC endpoint at rawURL.
func Dial(ctx context.Context, rawURL string) (*Client, error) {
	rpcClient, err := gethRPC.DialContext(ctx, rawURL)
	if err != nil {
		return nil, errors.Wrapf(err, "could not dial ledger RPC at %s", rawURL)
	}
	return &Client{rpc: rpcClient}, nil
}

// NewClient wraps an existing RPC client. Used by tests with in-process
// servers.
func NewClient(rpcClient *gethRPC.Client) *Client {
	return &Client{rpc: rpcClient}
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.rpc.Close()
}

// GetEvents fetches contract events matching the request.
func (c *Client) GetEvents(ctx context.Context, req *GetEventsRequest) (*GetEventsResponse, error) {
	resp := &GetEventsResponse{}
	if err := c.rpc.CallContext(ctx, resp, "ledger_getEvents", req); err != nil {
		return nil, errors.Wrap(err, "getEvents call failed")
	}
	return resp, nil
}

// GetLatestLedger returns the current ledger sequence.
func (c *Client) GetLatestLedger(ctx context.Context) (uint64, error) {
	var seq uint64
	if err := c.rpc.CallContext(ctx, &seq, "ledger_getLatestLedger"); err != nil {
		return 0, errors.Wrap(err, "getLatestLedger call failed")
	}
	return seq, nil
}

// Simulate runs a contract invocation without submitting it.
func (c *Client) Simulate(ctx context.Context, req *SimulateRequest) (*SimulateResponse, error) {
	resp := &SimulateResponse{}
	if err := c.rpc.CallContext(ctx, resp, "ledger_simulateTransaction", req); err != nil {
		return nil, errors.Wrap(err, "simulateTransaction call failed")
	}
	return resp, nil
}

// Send submits a signed contract invocation.
func (c *Client) Send(ctx context.Context, req *SendRequest) (*SendResponse, error) {
	resp := &SendResponse{}
	if err := c.rpc.CallContext(ctx, resp, "ledger_sendTransaction", req); err != nil {
		return nil, errors.Wrap(err, "sendTransaction call failed")
	}
	return resp, nil
}

// GetAccount fetches the ledger account record for an address.
func (c *Client) GetAccount(ctx context.Context, address string) (*Account, error) {
	acct := &Account{}
	if err := c.rpc.CallContext(ctx, acct, "ledger_getAccount", address); err != nil {
		return nil, errors.Wrapf(err, "getAccount call failed for %s", address)
	}
	return acct, nil
}
