// Package storage opens the shared bbolt database and keeps original uploaded files.
package storage

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// OpenBolt opens (or creates) the bbolt file shared by the document repository,
// the version engine and the classification feedback store.
// bbolt allows a single writer at a time, so every Update transaction is an atomic
// read-modify-write of the keys it touches.
func OpenBolt(path string) (*bbolt.DB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}
	return db, nil
}

// EnsureBuckets creates the named top-level buckets if they don't exist
func EnsureBuckets(db *bbolt.DB, names ...string) error {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range names {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("creating buckets: %w", err)
	}
	return nil
}
