package kv

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/pintheon/pinner/encoding/bytesutil"
	"github.com/pintheon/pinner/pinner/types"
)

// RecordVerification appends one verifier outcome to the verification log.
func (s *Store) RecordVerification(ctx context.Context, result *types.VerificationResult) error {
	if result.CheckedAt.IsZero() {
		result.CheckedAt = time.Now().UTC()
	}
	enc, err := json.Marshal(result)
	if err != nil {
		return errors.Wrap(err, "could not encode verification result")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(verificationLogBucket)
		seq, err := bkt.NextSequence()
		if err != nil {
			return err
		}
		return bkt.Put(bytesutil.Uint64ToBytesBigEndian(seq), enc)
	})
}

// RecentVerifications returns up to limit verification log entries, newest
// first.
func (s *Store) RecentVerifications(ctx context.Context, limit int) ([]*types.VerificationResult, error) {
	var results []*types.VerificationResult
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(verificationLogBucket).Cursor()
		for k, v := c.Last(); k != nil && len(results) < limit; k, v = c.Prev() {
			result := &types.VerificationResult{}
			if err := json.Unmarshal(v, result); err != nil {
				return errors.Wrap(err, "could not decode verification result")
			}
			results = append(results, result)
		}
		return nil
	})
	return results, err
}

// AppendCycle records a verification cycle summary, assigning its id from
// the bucket sequence.
func (s *Store) AppendCycle(ctx context.Context, report *types.CycleReport) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(verificationCyclesBucket)
		seq, err := bkt.NextSequence()
		if err != nil {
			return err
		}
		report.CycleID = seq
		out, err := json.Marshal(report)
		if err != nil {
			return errors.Wrap(err, "could not encode cycle report")
		}
		return bkt.Put(bytesutil.Uint64ToBytesBigEndian(seq), out)
	})
}

// LastCycle returns the most recent cycle summary, or nil when no cycle
// has completed yet.
func (s *Store) LastCycle(ctx context.Context) (*types.CycleReport, error) {
	var report *types.CycleReport
	err := s.db.View(func(tx *bolt.Tx) error {
		_, v := tx.Bucket(verificationCyclesBucket).Cursor().Last()
		if v == nil {
			return nil
		}
		report = &types.CycleReport{}
		return json.Unmarshal(v, report)
	})
	return report, err
}
