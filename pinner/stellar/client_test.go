package stellar

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"

	"github.com/pintheon/pinner/pinner/types"
	"github.com/pintheon/pinner/testing/assert"
	"github.com/pintheon/pinner/testing/require"
)

const (
	testContractID = "CCPINSERVICE"
	testOperator   = "GOPERATOR"
	testPassphrase = "Test Network ; 2026"
)

// mockLedgerService backs the ledger_* RPC namespace for tests.
type mockLedgerService struct {
	events       []*RawEvent
	cursor       string
	latestLedger uint64

	simFee    int64
	simResult interface{}
	simError  string
	simFail   bool

	sendStatus string
	sendResult interface{}
	sendError  string
	sendHash   string

	account *Account

	eventsCalls []GetEventsRequest
	sendCalls   []SendRequest
}

func (m *mockLedgerService) GetEvents(ctx context.Context, req GetEventsRequest) (*GetEventsResponse, error) {
	m.eventsCalls = append(m.eventsCalls, req)
	return &GetEventsResponse{
		Events:       m.events,
		Cursor:       m.cursor,
		LatestLedger: m.latestLedger,
	}, nil
}

func (m *mockLedgerService) GetLatestLedger(ctx context.Context) (uint64, error) {
	return m.latestLedger, nil
}

func (m *mockLedgerService) SimulateTransaction(ctx context.Context, req SimulateRequest) (*SimulateResponse, error) {
	if m.simFail {
		return nil, errors.New("connection reset")
	}
	resp := &SimulateResponse{MinFee: m.simFee, Error: m.simError}
	if m.simResult != nil {
		raw, err := json.Marshal(m.simResult)
		if err != nil {
			return nil, err
		}
		resp.Result = raw
	}
	return resp, nil
}

func (m *mockLedgerService) SendTransaction(ctx context.Context, req SendRequest) (*SendResponse, error) {
	m.sendCalls = append(m.sendCalls, req)
	status := m.sendStatus
	if status == "" {
		status = "SUCCESS"
	}
	resp := &SendResponse{Hash: m.sendHash, Status: status, Error: m.sendError}
	if m.sendResult != nil {
		raw, err := json.Marshal(m.sendResult)
		if err != nil {
			return nil, err
		}
		resp.Result = raw
	}
	return resp, nil
}

func (m *mockLedgerService) GetAccount(ctx context.Context, address string) (*Account, error) {
	if m.account == nil {
		return nil, errors.New("account not found")
	}
	return m.account, nil
}

func newTestClient(t *testing.T, svc *mockLedgerService) *Client {
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("ledger", svc))
	client := NewClient(rpc.DialInProc(server))
	t.Cleanup(func() {
		client.Close()
		server.Stop()
	})
	return client
}

type testSigner struct{}

func (testSigner) Address() string          { return testOperator }
func (testSigner) Sign(p []byte) []byte     { return []byte("sig") }

func newTestSender(t *testing.T, svc *mockLedgerService) *TxSender {
	return NewTxSender(newTestClient(t, svc), testContractID, testPassphrase, testSigner{}, 100_000)
}

func rawPinEvent(t *testing.T, ledger uint64, id string, ev *PinEvent) *RawEvent {
	value, err := json.Marshal(ev)
	require.NoError(t, err)
	return &RawEvent{
		ID:                       id,
		Ledger:                   ledger,
		ContractID:               testContractID,
		Topic:                    []string{TopicPin, "request"},
		Value:                    value,
		InSuccessfulContractCall: true,
	}
}

func TestPoller_ParsesEventVariants(t *testing.T) {
	pinnedValue, err := json.Marshal(&PinnedEvent{SlotID: 1, CIDHash: HashCID("QmA"), Pinner: "GP1", Amount: 500, PinsRemaining: 2})
	require.NoError(t, err)
	unpinValue, err := json.Marshal(&UnpinEvent{SlotID: 1, CIDHash: HashCID("QmA")})
	require.NoError(t, err)
	svc := &mockLedgerService{
		latestLedger: 120,
		events: []*RawEvent{
			rawPinEvent(t, 100, "100-0", &PinEvent{SlotID: 1, CID: "QmA", Gateway: "http://gw", OfferPrice: 1000, PinQty: 3, Publisher: "GPUB"}),
			{ID: "101-0", Ledger: 101, Topic: []string{TopicPinned, "claim"}, Value: pinnedValue, InSuccessfulContractCall: true},
			{ID: "102-0", Ledger: 102, Topic: []string{TopicUnpin, "request"}, Value: unpinValue, InSuccessfulContractCall: true},
			{ID: "103-0", Ledger: 103, Topic: []string{"JOIN"}, Value: []byte(`{}`), InSuccessfulContractCall: true},
		},
	}
	poller := NewPoller(newTestClient(t, svc), testContractID, 100, time.Minute)

	events, covered, err := poller.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, len(events))
	assert.Equal(t, uint64(103), covered)

	pin, ok := events[0].(*PinEvent)
	require.Equal(t, true, ok)
	assert.Equal(t, uint64(1), pin.SlotID)
	assert.Equal(t, "QmA", pin.CID)
	assert.Equal(t, uint64(100), pin.Ledger())

	pinned, ok := events[1].(*PinnedEvent)
	require.Equal(t, true, ok)
	assert.Equal(t, "GP1", pinned.Pinner)
	assert.Equal(t, uint32(2), pinned.PinsRemaining)

	_, ok = events[2].(*UnpinEvent)
	require.Equal(t, true, ok)
}

func TestPoller_SkipsFailedContractCalls(t *testing.T) {
	ev := rawPinEvent(t, 100, "100-0", &PinEvent{SlotID: 5, CID: "QmB"})
	ev.InSuccessfulContractCall = false
	svc := &mockLedgerService{events: []*RawEvent{ev}, latestLedger: 100}
	poller := NewPoller(newTestClient(t, svc), testContractID, 100, time.Minute)

	events, _, err := poller.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, len(events))
}

func TestPoller_CursorAdvancesAcrossPolls(t *testing.T) {
	svc := &mockLedgerService{
		latestLedger: 100,
		events:       []*RawEvent{rawPinEvent(t, 100, "100-0", &PinEvent{SlotID: 1, CID: "QmA"})},
	}
	poller := NewPoller(newTestClient(t, svc), testContractID, 90, time.Minute)

	_, _, err := poller.Poll(context.Background())
	require.NoError(t, err)
	_, _, err = poller.Poll(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, len(svc.eventsCalls))
	assert.Equal(t, uint64(90), svc.eventsCalls[0].StartLedger)
	assert.Equal(t, "", svc.eventsCalls[0].Cursor)
	assert.Equal(t, "100-0", svc.eventsCalls[1].Cursor)
}

func TestPoller_BackoffBounded(t *testing.T) {
	poller := NewPoller(nil, testContractID, 0, 8*time.Second)
	assert.Equal(t, time.Duration(0), poller.Backoff(time.Second))

	poller.failures = 1
	assert.Equal(t, time.Second, poller.Backoff(time.Second))
	poller.failures = 3
	assert.Equal(t, 4*time.Second, poller.Backoff(time.Second))
	poller.failures = 10
	assert.Equal(t, 8*time.Second, poller.Backoff(time.Second))
}

func TestClaimSubmitter_Success(t *testing.T) {
	svc := &mockLedgerService{simFee: 5000, sendHash: "txabc", sendResult: int64(1_000_000)}
	submitter := NewClaimSubmitter(newTestSender(t, svc))

	res := submitter.SubmitClaim(context.Background(), 7)
	require.Equal(t, true, res.Success)
	assert.Equal(t, types.ClaimOK, res.Code)
	assert.Equal(t, int64(1_000_000), res.AmountEarned)
	assert.Equal(t, "txabc", res.TxHash)

	require.Equal(t, 1, len(svc.sendCalls))
	sent := svc.sendCalls[0]
	assert.Equal(t, "collect_pin", sent.Method)
	assert.Equal(t, int64(5000), sent.Fee)
	assert.NotEqual(t, "", sent.Signature)
}

func TestClaimSubmitter_ErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		simError  string
		want      types.ClaimCode
		retryable bool
	}{
		{name: "already claimed", simError: errAlreadyClaimed, want: types.ClaimAlreadyClaimed},
		{name: "slot expired", simError: errSlotExpired, want: types.ClaimSlotExpired},
		{name: "slot not active", simError: errSlotNotActive, want: types.ClaimSlotNotActive},
		{name: "not pinner", simError: errNotPinner, want: types.ClaimNotPinner},
		{name: "pinner inactive", simError: errPinnerInactive, want: types.ClaimNotPinner},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockLedgerService{simError: tt.simError}
			submitter := NewClaimSubmitter(newTestSender(t, svc))
			res := submitter.SubmitClaim(context.Background(), 1)
			require.Equal(t, false, res.Success)
			assert.Equal(t, tt.want, res.Code)
			assert.Equal(t, tt.retryable, res.Retryable)
			assert.Equal(t, 0, len(svc.sendCalls))
		})
	}
}

func TestClaimSubmitter_TransportErrorIsRetryable(t *testing.T) {
	svc := &mockLedgerService{simFail: true}
	submitter := NewClaimSubmitter(newTestSender(t, svc))

	res := submitter.SubmitClaim(context.Background(), 1)
	require.Equal(t, false, res.Success)
	assert.Equal(t, types.ClaimTransient, res.Code)
	assert.Equal(t, true, res.Retryable)
}

func TestClaimSubmitter_FailedSendMapsContractError(t *testing.T) {
	svc := &mockLedgerService{simFee: 5000, sendStatus: "FAILED", sendError: errAlreadyClaimed, sendHash: "txdead"}
	submitter := NewClaimSubmitter(newTestSender(t, svc))

	res := submitter.SubmitClaim(context.Background(), 3)
	require.Equal(t, false, res.Success)
	assert.Equal(t, types.ClaimAlreadyClaimed, res.Code)
	assert.Equal(t, "txdead", res.TxHash)
}

func TestClaimSubmitter_EstimateClaimFee(t *testing.T) {
	svc := &mockLedgerService{simFee: 7777}
	submitter := NewClaimSubmitter(newTestSender(t, svc))
	assert.Equal(t, int64(7777), submitter.EstimateClaimFee(context.Background(), 1))

	failing := &mockLedgerService{simFail: true}
	submitter = NewClaimSubmitter(newTestSender(t, failing))
	assert.Equal(t, int64(100_000), submitter.EstimateClaimFee(context.Background(), 1))
}

func TestFlagSender_Success(t *testing.T) {
	svc := &mockLedgerService{
		simFee:     5000,
		sendHash:   "txflag",
		sendResult: flagReturn{FlagCount: 1, Bounty: 42},
	}
	sender := NewFlagSender(newTestSender(t, svc))

	res := sender.SubmitFlag(context.Background(), "GP1")
	require.Equal(t, true, res.Success)
	assert.Equal(t, uint32(1), res.FlagCount)
	assert.Equal(t, int64(42), res.BountyEarned)
	assert.Equal(t, "txflag", res.TxHash)
}

func TestFlagSender_AlreadyFlagged(t *testing.T) {
	svc := &mockLedgerService{simError: errAlreadyFlagged}
	sender := NewFlagSender(newTestSender(t, svc))

	res := sender.SubmitFlag(context.Background(), "GP1")
	require.Equal(t, false, res.Success)
	assert.Equal(t, true, res.AlreadyFlagged)
	assert.Equal(t, "", res.Error)
}

func TestQueries_GetSlot(t *testing.T) {
	svc := &mockLedgerService{simResult: &SlotInfo{
		SlotID:        9,
		CIDHash:       HashCID("QmC"),
		Publisher:     "GPUB",
		OfferPrice:    2000,
		PinQty:        3,
		PinsRemaining: 1,
	}}
	queries := NewQueries(newTestClient(t, svc), testContractID, testOperator)

	slot, err := queries.GetSlot(context.Background(), 9)
	require.NoError(t, err)
	require.NotNil(t, slot)
	assert.Equal(t, uint64(9), slot.SlotID)
	assert.Equal(t, uint32(1), slot.PinsRemaining)
}

func TestQueries_GetSlotMissing(t *testing.T) {
	svc := &mockLedgerService{}
	queries := NewQueries(newTestClient(t, svc), testContractID, testOperator)

	slot, err := queries.GetSlot(context.Background(), 404)
	require.NoError(t, err)
	if slot != nil {
		t.Fatalf("expected nil slot, got %+v", slot)
	}
}

func TestQueries_IsSlotExpired(t *testing.T) {
	svc := &mockLedgerService{simResult: true}
	queries := NewQueries(newTestClient(t, svc), testContractID, testOperator)

	expired, err := queries.IsSlotExpired(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, true, expired)
}

func TestQueries_AccountBalance(t *testing.T) {
	svc := &mockLedgerService{account: &Account{Address: testOperator, Balance: 10_000_000}}
	queries := NewQueries(newTestClient(t, svc), testContractID, testOperator)

	balance, err := queries.AccountBalance(context.Background(), testOperator)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000), balance)
}

func TestHashCID(t *testing.T) {
	h := HashCID("QmA")
	assert.Equal(t, 64, len(h))
	assert.Equal(t, h, HashCID("QmA"))
	assert.NotEqual(t, h, HashCID("QmB"))
}
