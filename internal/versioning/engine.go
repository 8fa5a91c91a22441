package versioning

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/zombor/doc-ledger/internal/extraction"
	"github.com/zombor/doc-ledger/internal/storage"
)

// versionsBucketName holds one nested bucket per document, keyed by big-endian
// version number so that cursor order is version order
const versionsBucketName = "versions"

// IDGenerator generates unique version IDs
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// Engine owns the version sequence of every document
type Engine struct {
	db          *bbolt.DB
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewEngine creates an Engine with uuid IDs and the system clock
func NewEngine(db *bbolt.DB) (*Engine, error) {
	return NewEngineWithDeps(db, uuidGenerator{}, systemClock{})
}

// NewEngineWithDeps creates an Engine with custom dependencies for testing
func NewEngineWithDeps(db *bbolt.DB, idGen IDGenerator, timeSrc TimeSource) (*Engine, error) {
	if err := storage.EnsureBuckets(db, versionsBucketName); err != nil {
		return nil, err
	}
	return &Engine{
		db:          db,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}, nil
}

// CreateVersion appends a version numbered one past the current latest (1 for the first)
func (e *Engine) CreateVersion(documentID, createdBy, comment string, changes []Change, snapshot extraction.Record) (*Version, error) {
	if documentID == "" {
		return nil, fmt.Errorf("document id is required")
	}

	var version *Version
	err := e.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.Bucket([]byte(versionsBucketName)).CreateBucketIfNotExists([]byte(documentID))
		if err != nil {
			return fmt.Errorf("creating version bucket: %w", err)
		}
		if changes == nil {
			changes = []Change{}
		}
		version = &Version{
			ID:            e.idGenerator.Generate(),
			DocumentID:    documentID,
			VersionNumber: lastVersionNumber(bucket) + 1,
			CreatedAt:     e.timeSource.Now(),
			CreatedBy:     createdBy,
			Comment:       comment,
			Changes:       changes,
			Snapshot:      snapshot.Clone(),
		}
		return putVersion(bucket, version)
	})
	if err != nil {
		return nil, fmt.Errorf("creating version: %w", err)
	}
	return version, nil
}

// GetVersions lists a document's versions sorted by number. Pagination applies only
// when both limit and offset are given.
func (e *Engine) GetVersions(documentID string, direction SortDirection, limit, offset *int) ([]*Version, error) {
	versions := make([]*Version, 0)
	err := e.db.View(func(tx *bbolt.Tx) error {
		bucket := documentBucket(tx, documentID)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			version, err := decodeVersion(v)
			if err != nil {
				return err
			}
			versions = append(versions, version)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}

	if direction == SortDesc {
		for i, j := 0, len(versions)-1; i < j; i, j = i+1, j-1 {
			versions[i], versions[j] = versions[j], versions[i]
		}
	}

	if limit != nil && offset != nil {
		start := clamp(*offset, 0, len(versions))
		end := start + clamp(*limit, 0, len(versions)-start)
		versions = versions[start:end]
	}
	return versions, nil
}

// GetVersion returns one version or ErrNotFound
func (e *Engine) GetVersion(documentID string, versionNumber int) (*Version, error) {
	var version *Version
	err := e.db.View(func(tx *bbolt.Tx) error {
		var err error
		version, err = getVersion(documentBucket(tx, documentID), versionNumber)
		return err
	})
	if err != nil {
		return nil, err
	}
	return version, nil
}

// GetLatestVersion returns the highest numbered version or ErrNotFound
func (e *Engine) GetLatestVersion(documentID string) (*Version, error) {
	var version *Version
	err := e.db.View(func(tx *bbolt.Tx) error {
		var err error
		version, err = latestVersion(documentBucket(tx, documentID))
		return err
	})
	if err != nil {
		return nil, err
	}
	return version, nil
}

// CompareVersions concatenates the changes of every version in (from, to], in version
// order. Both endpoints must exist. A range with from >= to has no changes.
func (e *Engine) CompareVersions(documentID string, from, to int) (*Diff, error) {
	var diff *Diff
	err := e.db.View(func(tx *bbolt.Tx) error {
		bucket := documentBucket(tx, documentID)
		if _, err := getVersion(bucket, from); err != nil {
			return err
		}
		target, err := getVersion(bucket, to)
		if err != nil {
			return err
		}

		diff = &Diff{
			DocumentID:  documentID,
			FromVersion: from,
			ToVersion:   to,
			Changes:     []Change{},
			CreatedAt:   target.CreatedAt,
			CreatedBy:   target.CreatedBy,
		}
		if from >= to {
			return nil
		}

		c := bucket.Cursor()
		for k, v := c.Seek(versionKey(from + 1)); k != nil && keyVersion(k) <= to; k, v = c.Next() {
			version, err := decodeVersion(v)
			if err != nil {
				return err
			}
			diff.Changes = append(diff.Changes, version.Changes...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return diff, nil
}

// RestoreVersion appends a new version whose snapshot is the one of versionNumber.
// Intermediate versions are kept untouched.
func (e *Engine) RestoreVersion(documentID string, versionNumber int, restoredBy, comment string) (*Version, error) {
	var version *Version
	err := e.db.Update(func(tx *bbolt.Tx) error {
		bucket := documentBucket(tx, documentID)
		target, err := getVersion(bucket, versionNumber)
		if err != nil {
			return err
		}
		latest, err := latestVersion(bucket)
		if err != nil {
			return err
		}

		now := e.timeSource.Now()
		if comment == "" {
			comment = fmt.Sprintf("Restored from version %d", versionNumber)
		}
		version = &Version{
			ID:            e.idGenerator.Generate(),
			DocumentID:    documentID,
			VersionNumber: latest.VersionNumber + 1,
			CreatedAt:     now,
			CreatedBy:     restoredBy,
			Comment:       comment,
			Changes: []Change{{
				Field:         RestoreField,
				PreviousValue: latest.VersionNumber,
				NewValue:      versionNumber,
				Timestamp:     now,
			}},
			Snapshot: target.Snapshot.Clone(),
		}
		return putVersion(bucket, version)
	})
	if err != nil {
		return nil, err
	}
	return version, nil
}

// DeleteAllVersions removes a document's history, reporting whether any existed
func (e *Engine) DeleteAllVersions(documentID string) (bool, error) {
	deleted := false
	err := e.db.Update(func(tx *bbolt.Tx) error {
		if documentBucket(tx, documentID) == nil {
			return nil
		}
		deleted = true
		return tx.Bucket([]byte(versionsBucketName)).DeleteBucket([]byte(documentID))
	})
	if err != nil {
		return false, fmt.Errorf("deleting versions: %w", err)
	}
	return deleted, nil
}

func documentBucket(tx *bbolt.Tx, documentID string) *bbolt.Bucket {
	if documentID == "" {
		return nil
	}
	return tx.Bucket([]byte(versionsBucketName)).Bucket([]byte(documentID))
}

func getVersion(bucket *bbolt.Bucket, versionNumber int) (*Version, error) {
	if bucket == nil || versionNumber < 1 {
		return nil, ErrNotFound
	}
	data := bucket.Get(versionKey(versionNumber))
	if data == nil {
		return nil, ErrNotFound
	}
	return decodeVersion(data)
}

func latestVersion(bucket *bbolt.Bucket) (*Version, error) {
	if bucket == nil {
		return nil, ErrNotFound
	}
	_, data := bucket.Cursor().Last()
	if data == nil {
		return nil, ErrNotFound
	}
	return decodeVersion(data)
}

func lastVersionNumber(bucket *bbolt.Bucket) int {
	k, _ := bucket.Cursor().Last()
	if k == nil {
		return 0
	}
	return keyVersion(k)
}

func putVersion(bucket *bbolt.Bucket, version *Version) error {
	data, err := json.Marshal(version)
	if err != nil {
		return fmt.Errorf("marshaling version: %w", err)
	}
	return bucket.Put(versionKey(version.VersionNumber), data)
}

func decodeVersion(data []byte) (*Version, error) {
	var version Version
	if err := json.Unmarshal(data, &version); err != nil {
		return nil, fmt.Errorf("unmarshaling version: %w", err)
	}
	return &version, nil
}

func versionKey(n int) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(n))
	return b
}

func keyVersion(k []byte) int {
	return int(binary.BigEndian.Uint64(k))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
