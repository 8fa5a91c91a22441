package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/zombor/doc-ledger/internal/classify"
	"github.com/zombor/doc-ledger/internal/extraction"
	"github.com/zombor/doc-ledger/internal/scanning"
	"github.com/zombor/doc-ledger/internal/storage"
	"github.com/zombor/doc-ledger/internal/versioning"
)

const (
	// SystemUser authors the versions the pipeline creates on its own
	SystemUser = "system"

	initialVersionComment  = "Initial extraction"
	defaultProducerTimeout = 2 * time.Minute
)

// Versions is the version history the service records edits in
type Versions interface {
	CreateVersion(documentID, createdBy, comment string, changes []versioning.Change, snapshot extraction.Record) (*versioning.Version, error)
	GetVersions(documentID string, direction versioning.SortDirection, limit, offset *int) ([]*versioning.Version, error)
	GetVersion(documentID string, versionNumber int) (*versioning.Version, error)
	GetLatestVersion(documentID string) (*versioning.Version, error)
	CompareVersions(documentID string, from, to int) (*versioning.Diff, error)
	RestoreVersion(documentID string, versionNumber int, restoredBy, comment string) (*versioning.Version, error)
	DeleteAllVersions(documentID string) (bool, error)
}

// Classifier suggests accounts and learns from the accounts users pick
type Classifier interface {
	Classify(record extraction.Record) ([]classify.Suggestion, error)
	RecordFeedback(record extraction.Record, account classify.Account) error
}

// Extraction is the result of running the pipeline on raw text
type Extraction struct {
	Record      extraction.Record     `json:"record"`
	Suggestions []classify.Suggestion `json:"suggestions"`
}

// Processed is a stored document with its account suggestions
type Processed struct {
	Document    *Document             `json:"document"`
	Suggestions []classify.Suggestion `json:"suggestions"`
}

// Restored is the document state after restoring a version
type Restored struct {
	Document *Document           `json:"document"`
	Version  *versioning.Version `json:"version"`
}

// Service handles document operations
type Service struct {
	repo            Repository
	versions        Versions
	classifier      Classifier
	producer        scanning.TextProducer
	files           storage.Files
	idGenerator     IDGenerator
	timeSource      TimeSource
	producerTimeout time.Duration
	locks           documentLocks
}

// NewService creates a new Service with default ID generator and time source
func NewService(repo Repository, versions Versions, classifier Classifier, producer scanning.TextProducer, files storage.Files) *Service {
	return NewServiceWithDeps(repo, versions, classifier, producer, files, uuidGenerator{}, systemClock{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(repo Repository, versions Versions, classifier Classifier, producer scanning.TextProducer, files storage.Files, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		repo:            repo,
		versions:        versions,
		classifier:      classifier,
		producer:        producer,
		files:           files,
		idGenerator:     idGen,
		timeSource:      timeSrc,
		producerTimeout: defaultProducerTimeout,
	}
}

// WithProducerTimeout bounds every text producer call
func (s *Service) WithProducerTimeout(timeout time.Duration) *Service {
	if timeout > 0 {
		s.producerTimeout = timeout
	}
	return s
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	filename = filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	ext := unsafeFilenameChars.ReplaceAllString(filepath.Ext(filename), "")
	if ext != "" {
		ext = "." + ext
	}
	base := strings.TrimSuffix(filename, filepath.Ext(filename))

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = strings.TrimSpace(repeatedSpaces.ReplaceAllString(base, " "))

	// phone cameras produce very long names
	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "document"
	}
	return base + ext
}

// Extract runs extraction and classification on raw text without storing anything
func (s *Service) Extract(text string) (*Extraction, error) {
	record := extraction.Extract(text)
	suggestions, err := s.classifier.Classify(record)
	if err != nil {
		return nil, fmt.Errorf("classifying record: %w", err)
	}
	return &Extraction{Record: record, Suggestions: suggestions}, nil
}

// ProcessDocument reads an uploaded file, extracts its data, stores it and records
// the first version. Corrupt files fail with ErrUnreadableDocument and nothing is stored.
func (s *Service) ProcessDocument(ctx context.Context, filename string, data []byte, contentType, user string) (*Processed, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: file is empty", ErrInvalidInput)
	}
	if user == "" {
		user = SystemUser
	}

	text, err := s.produceText(ctx, data, contentType)
	if err != nil {
		slog.Error("Failed to read document",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		return nil, err
	}

	extracted, err := s.Extract(text)
	if err != nil {
		return nil, err
	}

	storedPath, err := s.files.Save(fmt.Sprintf("%s_%s", s.idGenerator.Generate(), sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	doc, err := s.repo.Add(NewDocument{
		Filename:      filename,
		ContentType:   contentType,
		StoredPath:    storedPath,
		ExtractedData: extracted.Record,
	})
	if err != nil {
		s.removeFile(storedPath)
		return nil, fmt.Errorf("saving document: %w", err)
	}

	if _, err := s.versions.CreateVersion(doc.ID, user, initialVersionComment, []versioning.Change{}, doc.ExtractedData); err != nil {
		// a document without its first version cannot be diffed or restored
		if _, delErr := s.repo.Delete(doc.ID); delErr != nil {
			slog.Warn("Failed to roll back document", "id", doc.ID, "error", delErr)
		}
		s.removeFile(storedPath)
		return nil, fmt.Errorf("creating initial version: %w", err)
	}

	slog.Info("Processed document",
		"id", doc.ID,
		"filename", filename,
		"confidence", doc.ExtractedData.Confidence,
	)
	return &Processed{Document: doc, Suggestions: extracted.Suggestions}, nil
}

func (s *Service) produceText(ctx context.Context, data []byte, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.producerTimeout)
	defer cancel()

	text, err := s.producer.ProduceText(ctx, data, contentType)
	switch {
	case err == nil:
		return text, nil
	case errors.Is(err, scanning.ErrCorruptSource):
		return "", fmt.Errorf("%w: %v", ErrUnreadableDocument, err)
	default:
		return "", fmt.Errorf("producing text: %w", err)
	}
}

// GetDocument retrieves a document by ID
func (s *Service) GetDocument(id string) (*Document, error) {
	doc, err := s.repo.Get(id)
	if err != nil {
		return nil, fmt.Errorf("getting document: %w", err)
	}
	return doc, nil
}

// SearchDocuments returns the documents matching filter
func (s *Service) SearchDocuments(filter Filter) ([]*Document, error) {
	docs, err := s.repo.Search(filter)
	if err != nil {
		return nil, fmt.Errorf("searching documents: %w", err)
	}
	return docs, nil
}

// Statistics summarizes the stored documents
func (s *Service) Statistics() (*Statistics, error) {
	stats, err := s.repo.Statistics()
	if err != nil {
		return nil, fmt.Errorf("computing statistics: %w", err)
	}
	return stats, nil
}

// UpdateDocument applies a patch. Changes to the extracted data are recorded as a
// new version authored by user. Updates of one document run one at a time, so each
// version diffs against the state it replaced.
func (s *Service) UpdateDocument(id string, patch Patch, user, comment string) (*Document, error) {
	if user == "" {
		user = SystemUser
	}
	unlock := s.locks.lock(id)
	defer unlock()

	var changes []versioning.Change
	if patch.ExtractedData != nil {
		current, err := s.repo.Get(id)
		if err != nil {
			return nil, fmt.Errorf("getting document: %w", err)
		}
		next := patch.ExtractedData.Clone()
		next.Confidence = extraction.ManualConfidence
		changes, err = versioning.DiffRecords(current.ExtractedData, next, s.timeSource.Now())
		if err != nil {
			return nil, fmt.Errorf("diffing extracted data: %w", err)
		}
	}

	doc, err := s.repo.Update(id, patch)
	if err != nil {
		return nil, fmt.Errorf("updating document: %w", err)
	}

	if len(changes) > 0 {
		if _, err := s.versions.CreateVersion(id, user, comment, changes, doc.ExtractedData); err != nil {
			return nil, fmt.Errorf("recording version: %w", err)
		}
	}
	return doc, nil
}

// DeleteDocument removes a document with its versions and its stored file
func (s *Service) DeleteDocument(id string) error {
	unlock := s.locks.lock(id)
	defer unlock()

	doc, err := s.repo.Get(id)
	if err != nil {
		return fmt.Errorf("getting document for deletion: %w", err)
	}

	if _, err := s.repo.Delete(id); err != nil {
		return fmt.Errorf("deleting document from database: %w", err)
	}
	if _, err := s.versions.DeleteAllVersions(id); err != nil {
		slog.Warn("Failed to delete versions", "id", id, "error", err)
	}
	s.removeFile(doc.StoredPath)
	return nil
}

func (s *Service) removeFile(path string) {
	if path == "" {
		return
	}
	if err := s.files.Delete(path); err != nil {
		slog.Warn("Failed to delete file", "filename", path, "error", err)
	}
}

// GetDocumentFile retrieves the original file of a document
func (s *Service) GetDocumentFile(id string) ([]byte, string, error) {
	doc, err := s.repo.Get(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting document: %w", err)
	}

	data, err := s.files.Get(doc.StoredPath)
	if err != nil {
		return nil, "", fmt.Errorf("getting document file: %w", err)
	}
	return data, doc.ContentType, nil
}

// SelectAccount assigns an account to a document and feeds the choice back to the classifier
func (s *Service) SelectAccount(id string, account classify.Account) (*Document, error) {
	if strings.TrimSpace(account.Code) == "" {
		return nil, fmt.Errorf("%w: account code is required", ErrInvalidInput)
	}

	doc, err := s.repo.Update(id, Patch{SelectedAccount: &account})
	if err != nil {
		return nil, fmt.Errorf("selecting account: %w", err)
	}
	if err := s.classifier.RecordFeedback(doc.ExtractedData, account); err != nil {
		slog.Warn("Failed to record classification feedback", "id", id, "account", account.Code, "error", err)
	}
	return doc, nil
}

// AddTag tags a document
func (s *Service) AddTag(id, tag string) (*Document, error) {
	doc, err := s.repo.AddTag(id, tag)
	if err != nil {
		return nil, fmt.Errorf("adding tag: %w", err)
	}
	return doc, nil
}

// RemoveTag untags a document
func (s *Service) RemoveTag(id, tag string) (*Document, error) {
	doc, err := s.repo.RemoveTag(id, tag)
	if err != nil {
		return nil, fmt.Errorf("removing tag: %w", err)
	}
	return doc, nil
}

// ListVersions returns the version history of an existing document
func (s *Service) ListVersions(id string, direction versioning.SortDirection, limit, offset *int) ([]*versioning.Version, error) {
	if _, err := s.GetDocument(id); err != nil {
		return nil, err
	}
	versions, err := s.versions.GetVersions(id, direction, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}
	return versions, nil
}

// GetVersion returns one version of a document
func (s *Service) GetVersion(id string, versionNumber int) (*versioning.Version, error) {
	version, err := s.versions.GetVersion(id, versionNumber)
	if err != nil {
		return nil, fmt.Errorf("getting version: %w", err)
	}
	return version, nil
}

// GetLatestVersion returns the newest version of a document
func (s *Service) GetLatestVersion(id string) (*versioning.Version, error) {
	version, err := s.versions.GetLatestVersion(id)
	if err != nil {
		return nil, fmt.Errorf("getting latest version: %w", err)
	}
	return version, nil
}

// CompareVersions returns the changes made between two versions
func (s *Service) CompareVersions(id string, from, to int) (*versioning.Diff, error) {
	diff, err := s.versions.CompareVersions(id, from, to)
	if err != nil {
		return nil, fmt.Errorf("comparing versions: %w", err)
	}
	return diff, nil
}

// RestoreVersion appends a version copying an older one and puts its snapshot back
// on the document
func (s *Service) RestoreVersion(id string, versionNumber int, user, comment string) (*Restored, error) {
	if user == "" {
		user = SystemUser
	}
	unlock := s.locks.lock(id)
	defer unlock()

	if _, err := s.GetDocument(id); err != nil {
		return nil, err
	}

	version, err := s.versions.RestoreVersion(id, versionNumber, user, comment)
	if err != nil {
		return nil, fmt.Errorf("restoring version: %w", err)
	}

	// The new version keeps the restored snapshot as is, confidence included. The
	// document gets manual confidence because a user chose this data.
	snapshot := version.Snapshot.Clone()
	doc, err := s.repo.Update(id, Patch{ExtractedData: &snapshot})
	if err != nil {
		return nil, fmt.Errorf("updating restored document: %w", err)
	}

	slog.Info("Restored document version", "id", id, "from_version", versionNumber, "new_version", version.VersionNumber)
	return &Restored{Document: doc, Version: version}, nil
}
