package stellar

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

const defaultPollLimit = 100

// Poller fetches contract events from the ledger RPC in batches, in ledger
// order. It keeps the RPC pagination cursor in memory; durable cursor
// advancement is the caller's responsibility, after every event in the
// batch has been applied.
type Poller struct {
	client      *Client
	contractID  string
	cursor      string
	startLedger uint64
	limit       int

	failures   int
	maxBackoff time.Duration
}

// NewPoller builds a poller for the given contract. startLedger is the
// first ledger to poll from; zero means resume from the chain tip.
func NewPoller(client *Client, contractID string, startLedger uint64, maxBackoff time.Duration) *Poller {
	return &Poller{
		client:      client,
		contractID:  contractID,
		startLedger: startLedger,
		limit:       defaultPollLimit,
		maxBackoff:  maxBackoff,
	}
}

// Poll fetches the next batch of events. It returns the parsed events in
// ledger order together with the highest ledger sequence the batch covers.
// The pagination cursor only advances on success, so a failed poll is
// retried from the same position.
func (p *Poller) Poll(ctx context.Context) ([]ContractEvent, uint64, error) {
	req := &GetEventsRequest{
		ContractID: p.contractID,
		Topics:     []string{TopicPin, TopicPinned, TopicUnpin},
		Limit:      p.limit,
	}
	if p.cursor != "" {
		req.Cursor = p.cursor
	} else {
		start := p.startLedger
		if start == 0 {
			latest, err := p.client.GetLatestLedger(ctx)
			if err != nil {
				p.failures++
				return nil, 0, errors.Wrap(err, "could not resolve start ledger")
			}
			start = latest
			log.WithField("ledger", start).Info("No cursor, starting from latest ledger")
		}
		req.StartLedger = start
	}

	resp, err := p.client.GetEvents(ctx, req)
	if err != nil {
		p.failures++
		return nil, 0, err
	}
	p.failures = 0

	events := make([]ContractEvent, 0, len(resp.Events))
	var covered uint64
	for _, raw := range resp.Events {
		if raw.Ledger > covered {
			covered = raw.Ledger
		}
		if !raw.InSuccessfulContractCall {
			continue
		}
		parsed, err := ParseEvent(raw)
		if err != nil {
			log.WithError(err).WithField("eventID", raw.ID).Warn("Skipping malformed contract event")
			continue
		}
		if parsed != nil {
			events = append(events, parsed)
		}
	}

	if len(resp.Events) > 0 {
		p.cursor = resp.Events[len(resp.Events)-1].ID
	} else if resp.Cursor != "" {
		p.cursor = resp.Cursor
	}
	if covered == 0 {
		covered = resp.LatestLedger
	}

	if len(events) > 0 {
		log.WithField("count", len(events)).Debug("Polled contract events")
	}
	return events, covered, nil
}

// Backoff returns how long the caller should wait before retrying after the
// most recent failure. It doubles per consecutive failure, bounded by the
// configured maximum, and is zero when the last poll succeeded.
func (p *Poller) Backoff(base time.Duration) time.Duration {
	if p.failures == 0 {
		return 0
	}
	d := base
	for i := 1; i < p.failures; i++ {
		d *= 2
		if d >= p.maxBackoff {
			return p.maxBackoff
		}
	}
	if d > p.maxBackoff {
		return p.maxBackoff
	}
	return d
}
