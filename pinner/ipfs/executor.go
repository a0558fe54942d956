package ipfs

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/pintheon/pinner/pinner/types"
)

// Executor runs the gateway-fetch, add, verify, pin pipeline against the
// local storage node.
type Executor struct {
	kubo       *Client
	fetcher    *GatewayFetcher
	pinTimeout time.Duration
	retries    int
}

// NewExecutor builds the pin pipeline. retries bounds the fetch attempts;
// only transport errors and gateway 5xx responses are retried.
func NewExecutor(kubo *Client, fetcher *GatewayFetcher, pinTimeout time.Duration, retries int) *Executor {
	if retries < 1 {
		retries = 1
	}
	return &Executor{kubo: kubo, fetcher: fetcher, pinTimeout: pinTimeout, retries: retries}
}

func retryableFetchErr(err error) bool {
	if errors.Is(err, ErrContentTooLarge) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	// Transport-level failure.
	return true
}

func failure(cid, msg string, start time.Time) *types.PinResult {
	return &types.PinResult{
		Success:    false,
		CID:        cid,
		Error:      msg,
		DurationMs: time.Since(start).Milliseconds(),
	}
}

// Pin runs the full pipeline for one offer: fetch the bytes from the
// publisher's gateway, add them to the local node with the canonical
// chunking parameters, verify the produced cid equals the offered one,
// then pin. A cid mismatch is fatal and never pins.
func (e *Executor) Pin(ctx context.Context, cid, gateway string) *types.PinResult {
	log.WithFields(logrus.Fields{"cid": cid, "gateway": gateway}).Info("Pinning content")
	start := time.Now()

	var content []byte
	var fetchErr error
	for attempt := 1; attempt <= e.retries; attempt++ {
		fetchCtx, cancel := context.WithTimeout(ctx, e.pinTimeout)
		content, fetchErr = e.fetcher.Fetch(fetchCtx, gateway, cid)
		cancel()
		if fetchErr == nil {
			log.WithFields(logrus.Fields{
				"cid":     cid,
				"size":    humanize.Bytes(uint64(len(content))),
				"attempt": attempt,
			}).Info("Fetched content from gateway")
			break
		}
		if !retryableFetchErr(fetchErr) || attempt == e.retries {
			return failure(cid, fetchErr.Error(), start)
		}
		backoff := time.Duration(attempt) * time.Second
		log.WithError(fetchErr).WithFields(logrus.Fields{
			"cid":     cid,
			"attempt": attempt,
		}).Warn("Gateway fetch failed, retrying")
		select {
		case <-ctx.Done():
			return failure(cid, ctx.Err().Error(), start)
		case <-time.After(backoff):
		}
	}

	addCtx, cancel := context.WithTimeout(ctx, e.pinTimeout)
	added, err := e.kubo.Add(addCtx, bytes.NewReader(content))
	cancel()
	if err != nil {
		return failure(cid, "kubo_add: "+err.Error(), start)
	}
	if added.Hash != cid {
		log.WithFields(logrus.Fields{"expected": cid, "got": added.Hash}).Error("CID mismatch on add")
		return failure(cid, fmt.Sprintf("cid_mismatch: expected %s, got %s", cid, added.Hash), start)
	}
	var bytesPinned int64
	if added.Size != "" {
		if n, err := strconv.ParseInt(added.Size, 10, 64); err == nil {
			bytesPinned = n
		}
	}
	if bytesPinned == 0 {
		bytesPinned = int64(len(content))
	}

	pinCtx, cancel := context.WithTimeout(ctx, e.pinTimeout)
	err = e.kubo.PinAdd(pinCtx, cid)
	cancel()
	if err != nil {
		return failure(cid, "local_pin: "+err.Error(), start)
	}

	confirmCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pinned, err := e.kubo.IsPinned(confirmCtx, cid)
	cancel()
	if err != nil {
		return failure(cid, "pin_confirm: "+err.Error(), start)
	}
	if !pinned {
		return failure(cid, "pin_confirm: cid not in pinned set", start)
	}

	duration := time.Since(start)
	log.WithFields(logrus.Fields{
		"cid":      cid,
		"size":     humanize.Bytes(uint64(bytesPinned)),
		"duration": duration,
	}).Info("Pinned content")
	return &types.PinResult{
		Success:     true,
		CID:         cid,
		BytesPinned: bytesPinned,
		DurationMs:  duration.Milliseconds(),
	}
}

// VerifyPinned reports whether the cid is pinned on the local node.
func (e *Executor) VerifyPinned(ctx context.Context, cid string) bool {
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pinned, err := e.kubo.IsPinned(checkCtx, cid)
	if err != nil {
		log.WithError(err).WithField("cid", cid).Warn("Pin check failed")
		return false
	}
	return pinned
}

// Unpin removes the local pin for a cid. Only called on UNPIN events when
// the operator has opted in; the default is to keep content.
func (e *Executor) Unpin(ctx context.Context, cid string) bool {
	rmCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	removed, err := e.kubo.PinRm(rmCtx, cid)
	if err != nil {
		log.WithError(err).WithField("cid", cid).Warn("Unpin failed")
		return false
	}
	if removed {
		log.WithField("cid", cid).Info("Unpinned content")
	}
	return removed
}
