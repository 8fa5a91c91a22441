package document

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/zombor/doc-ledger/internal/extraction"
	"github.com/zombor/doc-ledger/internal/storage"
)

const (
	documentsBucketName = "documents"
	recentWindow        = 30 * 24 * time.Hour
	topN                = 5
)

// Repository defines the document store operations
type Repository interface {
	// Add stores a new document with a fresh id and returns it
	Add(doc NewDocument) (*Document, error)

	// Update merges patch into the stored document
	Update(id string, patch Patch) (*Document, error)

	// Get retrieves a document by ID
	Get(id string) (*Document, error)

	// Delete removes a document, reporting whether it existed
	Delete(id string) (bool, error)

	// Search returns matching documents, newest first
	Search(filter Filter) ([]*Document, error)

	// Statistics summarizes all documents
	Statistics() (*Statistics, error)

	// AddTag adds a tag if it is not present yet
	AddTag(id, tag string) (*Document, error)

	// RemoveTag removes a tag if it is present
	RemoveTag(id, tag string) (*Document, error)
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// BoltRepository implements Repository using BoltDB. Every read-modify-write runs
// in a single Update transaction.
type BoltRepository struct {
	db          *bbolt.DB
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewBoltRepository creates a BoltRepository with uuid IDs and the system clock
func NewBoltRepository(db *bbolt.DB) (*BoltRepository, error) {
	return NewBoltRepositoryWithDeps(db, uuidGenerator{}, systemClock{})
}

// NewBoltRepositoryWithDeps creates a BoltRepository with custom dependencies for testing
func NewBoltRepositoryWithDeps(db *bbolt.DB, idGen IDGenerator, timeSrc TimeSource) (*BoltRepository, error) {
	if err := storage.EnsureBuckets(db, documentsBucketName); err != nil {
		return nil, err
	}
	return &BoltRepository{
		db:          db,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}, nil
}

// Add implements Repository
func (b *BoltRepository) Add(input NewDocument) (*Document, error) {
	doc := &Document{
		ID:              b.idGenerator.Generate(),
		Filename:        input.Filename,
		ContentType:     input.ContentType,
		StoredPath:      input.StoredPath,
		ProcessedAt:     b.timeSource.Now(),
		ExtractedData:   input.ExtractedData.Clone(),
		SelectedAccount: input.SelectedAccount,
		Tags:            []string{},
		Revision:        1,
	}

	err := b.db.Update(func(tx *bbolt.Tx) error {
		return putDocument(tx.Bucket([]byte(documentsBucketName)), doc)
	})
	if err != nil {
		return nil, fmt.Errorf("saving document: %w", err)
	}
	return doc, nil
}

// Update implements Repository. When the patch carries extracted data the document
// is marked as edited and the data gets manual confidence.
func (b *BoltRepository) Update(id string, patch Patch) (*Document, error) {
	return b.modify(id, func(doc *Document) {
		if patch.Filename != nil {
			doc.Filename = *patch.Filename
		}
		if patch.SelectedAccount != nil {
			account := *patch.SelectedAccount
			doc.SelectedAccount = &account
		}
		if patch.Tags != nil {
			doc.Tags = uniqueTags(patch.Tags)
		}
		if patch.ExtractedData != nil {
			now := b.timeSource.Now()
			doc.ExtractedData = patch.ExtractedData.Clone()
			doc.ExtractedData.Confidence = extraction.ManualConfidence
			doc.IsEdited = true
			doc.LastEditedAt = &now
		}
	})
}

// Get implements Repository
func (b *BoltRepository) Get(id string) (*Document, error) {
	var doc *Document
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		doc, err = getDocument(tx.Bucket([]byte(documentsBucketName)), id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Delete implements Repository
func (b *BoltRepository) Delete(id string) (bool, error) {
	deleted := false
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(documentsBucketName))
		if bucket.Get([]byte(id)) == nil {
			return nil
		}
		deleted = true
		return bucket.Delete([]byte(id))
	})
	if err != nil {
		return false, fmt.Errorf("deleting document: %w", err)
	}
	return deleted, nil
}

// Search implements Repository. Offset is applied before limit.
func (b *BoltRepository) Search(filter Filter) ([]*Document, error) {
	docs, err := b.list()
	if err != nil {
		return nil, err
	}

	matches := make([]*Document, 0, len(docs))
	for _, doc := range docs {
		if filter.matches(doc) {
			matches = append(matches, doc)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].ProcessedAt.After(matches[j].ProcessedAt)
	})

	if filter.Offset != nil {
		matches = matches[min(max(*filter.Offset, 0), len(matches)):]
	}
	if filter.Limit != nil {
		matches = matches[:min(max(*filter.Limit, 0), len(matches))]
	}
	return matches, nil
}

// Statistics implements Repository. Ties in the top lists keep the order in which
// keys were first seen, walking documents from oldest to newest.
func (b *BoltRepository) Statistics() (*Statistics, error) {
	docs, err := b.list()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].ProcessedAt.Before(docs[j].ProcessedAt)
	})

	since := b.timeSource.Now().Add(-recentWindow)
	accounts, suppliers, tags, months := newCounter(), newCounter(), newCounter(), newCounter()
	stats := &Statistics{Total: len(docs)}
	var amountSum float64
	var amountCount int

	for _, doc := range docs {
		if doc.IsEdited {
			stats.Edited++
		}
		if len(doc.Tags) > 0 {
			stats.Tagged++
		}
		if !doc.ProcessedAt.Before(since) {
			stats.Recent++
		}
		if doc.ExtractedData.Amount != nil {
			amountSum += *doc.ExtractedData.Amount
			amountCount++
		}
		if doc.SelectedAccount != nil && doc.SelectedAccount.Code != "" {
			accounts.add(doc.SelectedAccount.Code)
		}
		if doc.ExtractedData.Supplier != "" {
			suppliers.add(doc.ExtractedData.Supplier)
		}
		for _, tag := range doc.Tags {
			tags.add(tag)
		}
		months.add(doc.ProcessedAt.Format("2006-01"))
	}

	if amountCount > 0 {
		stats.AverageAmount = amountSum / float64(amountCount)
	}
	stats.TopAccounts = accounts.top(topN)
	stats.TopSuppliers = suppliers.top(topN)
	stats.TopTags = tags.top(topN)
	stats.ByMonth = months.byKey()
	return stats, nil
}

// AddTag implements Repository. Adding a present tag returns the document unchanged.
func (b *BoltRepository) AddTag(id, tag string) (*Document, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return nil, fmt.Errorf("%w: tag is required", ErrInvalidInput)
	}
	return b.modifyIf(id, func(doc *Document) bool {
		if containsTag(doc.Tags, tag) {
			return false
		}
		doc.Tags = append(doc.Tags, tag)
		return true
	})
}

// RemoveTag implements Repository. Removing an absent tag returns the document unchanged.
func (b *BoltRepository) RemoveTag(id, tag string) (*Document, error) {
	tag = strings.TrimSpace(tag)
	return b.modifyIf(id, func(doc *Document) bool {
		if !containsTag(doc.Tags, tag) {
			return false
		}
		kept := make([]string, 0, len(doc.Tags)-1)
		for _, t := range doc.Tags {
			if t != tag {
				kept = append(kept, t)
			}
		}
		doc.Tags = kept
		return true
	})
}

func (b *BoltRepository) modify(id string, apply func(doc *Document)) (*Document, error) {
	return b.modifyIf(id, func(doc *Document) bool {
		apply(doc)
		return true
	})
}

// modifyIf loads, changes and stores a document in one transaction. apply reports
// whether it changed anything; unchanged documents are not rewritten.
func (b *BoltRepository) modifyIf(id string, apply func(doc *Document) bool) (*Document, error) {
	var doc *Document
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(documentsBucketName))
		var err error
		doc, err = getDocument(bucket, id)
		if err != nil {
			return err
		}
		if !apply(doc) {
			return nil
		}
		doc.Revision++
		return putDocument(bucket, doc)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (b *BoltRepository) list() ([]*Document, error) {
	docs := make([]*Document, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(documentsBucketName)).ForEach(func(k, v []byte) error {
			doc, err := decodeDocument(v)
			if err != nil {
				return err
			}
			docs = append(docs, doc)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	return docs, nil
}

func getDocument(bucket *bbolt.Bucket, id string) (*Document, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	data := bucket.Get([]byte(id))
	if data == nil {
		return nil, ErrNotFound
	}
	return decodeDocument(data)
}

func putDocument(bucket *bbolt.Bucket, doc *Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling document: %w", err)
	}
	return bucket.Put([]byte(doc.ID), data)
}

func decodeDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshaling document: %w", err)
	}
	if doc.Tags == nil {
		doc.Tags = []string{}
	}
	return &doc, nil
}

func (f Filter) matches(doc *Document) bool {
	data := doc.ExtractedData

	if f.From != nil && doc.ProcessedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && doc.ProcessedAt.After(*f.To) {
		return false
	}
	if f.Supplier != "" && !containsFold(data.Supplier, f.Supplier) {
		return false
	}
	if f.MinAmount != nil && (data.Amount == nil || *data.Amount < *f.MinAmount) {
		return false
	}
	if f.MaxAmount != nil && (data.Amount == nil || *data.Amount > *f.MaxAmount) {
		return false
	}
	if f.AccountCode != "" && (doc.SelectedAccount == nil || doc.SelectedAccount.Code != f.AccountCode) {
		return false
	}
	if f.IsEdited != nil && doc.IsEdited != *f.IsEdited {
		return false
	}
	if len(f.Tags) > 0 && !hasAnyTag(doc.Tags, f.Tags) {
		return false
	}
	if f.Query != "" {
		fields := []string{data.Label, data.Supplier, data.Reference, data.InvoiceNumber, doc.Filename}
		found := false
		for _, field := range fields {
			if containsFold(field, f.Query) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func hasAnyTag(tags, wanted []string) bool {
	for _, w := range wanted {
		if containsTag(tags, w) {
			return true
		}
	}
	return false
}

// uniqueTags trims tags and drops empty and repeated ones, keeping first occurrences
func uniqueTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag != "" && !containsTag(out, tag) {
			out = append(out, tag)
		}
	}
	return out
}

// counter counts keys and remembers the order they were first seen in
type counter struct {
	order  []string
	counts map[string]int
}

func newCounter() *counter {
	return &counter{counts: make(map[string]int)}
}

func (c *counter) add(key string) {
	if _, ok := c.counts[key]; !ok {
		c.order = append(c.order, key)
	}
	c.counts[key]++
}

func (c *counter) top(n int) []Count {
	out := c.entries()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Count > out[j].Count
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func (c *counter) byKey() []Count {
	out := c.entries()
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key < out[j].Key
	})
	return out
}

func (c *counter) entries() []Count {
	out := make([]Count, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, Count{Key: key, Count: c.counts[key]})
	}
	return out
}
