// Package kv implements the durable pinner state store on top of BoltDB.
// Every exported operation is a single bolt transaction, so each either
// succeeds atomically or leaves the store unchanged.
package kv

import (
	"os"
	"path"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

var log = logrus.WithField("prefix", "db")

const databaseFileName = "pinner.db"

// Store is the BoltDB-backed implementation of the pinner database
// interface.
type Store struct {
	db           *bolt.DB
	databasePath string
}

// NewKVStore initializes a new bolt key-value store at the directory path
// specified, creates the buckets based on the schema, and returns an open
// store. Reopening against an existing database is safe; bucket creation
// is idempotent.
func NewKVStore(dirPath string) (*Store, error) {
	if err := os.MkdirAll(dirPath, 0700); err != nil {
		return nil, err
	}
	datafile := path.Join(dirPath, databaseFileName)
	boltDB, err := bolt.Open(datafile, 0600, &bolt.Options{Timeout: 1 * time.Second, InitialMmapSize: 10e6})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, errors.New("cannot obtain database lock, database may be in use by another process")
		}
		return nil, err
	}

	kv := &Store{
		db:           boltDB,
		databasePath: dirPath,
	}

	if err := kv.db.Update(func(tx *bolt.Tx) error {
		return createBuckets(
			tx,
			metadataBucket,
			offersBucket,
			claimsBucket,
			pinsBucket,
			activityBucket,
			trackedCIDsBucket,
			trackedPinsBucket,
			verificationLogBucket,
			verificationCyclesBucket,
			flagHistoryBucket,
			pinnerCacheBucket,
			// Indices buckets.
			cidHashIndexBucket,
		)
	}); err != nil {
		return nil, err
	}
	return kv, nil
}

// ClearDB removes the previously stored database in the data directory.
func (s *Store) ClearDB() error {
	if _, err := os.Stat(s.databasePath); os.IsNotExist(err) {
		return nil
	}
	return os.Remove(path.Join(s.databasePath, databaseFileName))
}

// Close closes the underlying bolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DatabasePath at which this database writes files.
func (s *Store) DatabasePath() string {
	return s.databasePath
}

func createBuckets(tx *bolt.Tx, buckets ...[]byte) error {
	for _, bucket := range buckets {
		if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
			return err
		}
	}
	return nil
}
