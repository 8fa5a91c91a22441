package classify

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/zombor/doc-ledger/internal/storage"
)

const feedbackBucketName = "feedback"

// FeedbackEntry counts how often an account was accepted for a key
type FeedbackEntry struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// FeedbackStore persists accepted accounts per similarity key
type FeedbackStore interface {
	// Increment adds one acceptance of account under every key
	Increment(keys []string, account Account) error

	// Counts returns the acceptances recorded under key, by account code
	Counts(key string) (map[string]FeedbackEntry, error)
}

// BoltFeedback implements FeedbackStore in a bbolt bucket
type BoltFeedback struct {
	db *bbolt.DB
}

// NewBoltFeedback creates the feedback bucket if needed
func NewBoltFeedback(db *bbolt.DB) (*BoltFeedback, error) {
	if err := storage.EnsureBuckets(db, feedbackBucketName); err != nil {
		return nil, err
	}
	return &BoltFeedback{db: db}, nil
}

// Increment implements FeedbackStore. All keys are updated in one transaction.
func (b *BoltFeedback) Increment(keys []string, account Account) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(feedbackBucketName))
		for _, key := range keys {
			entries, err := decodeEntries(bucket.Get([]byte(key)))
			if err != nil {
				return err
			}
			entry := entries[account.Code]
			entry.Count++
			if account.Label != "" {
				entry.Label = account.Label
			}
			entries[account.Code] = entry

			data, err := json.Marshal(entries)
			if err != nil {
				return fmt.Errorf("marshaling feedback: %w", err)
			}
			if err := bucket.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Counts implements FeedbackStore
func (b *BoltFeedback) Counts(key string) (map[string]FeedbackEntry, error) {
	var entries map[string]FeedbackEntry
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		entries, err = decodeEntries(tx.Bucket([]byte(feedbackBucketName)).Get([]byte(key)))
		return err
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func decodeEntries(data []byte) (map[string]FeedbackEntry, error) {
	entries := make(map[string]FeedbackEntry)
	if data == nil {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("unmarshaling feedback: %w", err)
	}
	return entries, nil
}
