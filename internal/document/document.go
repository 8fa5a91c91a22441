// Package document stores processed accounting documents and orchestrates the
// upload, extraction, classification and versioning pipeline around them.
package document

import (
	"errors"
	"time"

	"github.com/zombor/doc-ledger/internal/classify"
	"github.com/zombor/doc-ledger/internal/extraction"
)

var (
	// ErrNotFound is returned when no document has the requested id
	ErrNotFound = errors.New("document not found")

	// ErrInvalidInput is returned for requests that fail validation
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnreadableDocument is returned when the uploaded file is corrupt
	ErrUnreadableDocument = errors.New("unreadable document")
)

// Document is a processed document and its extracted data
type Document struct {
	ID              string            `json:"id"`
	Filename        string            `json:"filename"`
	ContentType     string            `json:"content_type,omitempty"`
	StoredPath      string            `json:"stored_path,omitempty"`
	ProcessedAt     time.Time         `json:"processed_at"`
	ExtractedData   extraction.Record `json:"extracted_data"`
	SelectedAccount *classify.Account `json:"selected_account,omitempty"`
	IsEdited        bool              `json:"is_edited"`
	LastEditedAt    *time.Time        `json:"last_edited_at,omitempty"`
	Tags            []string          `json:"tags"`
	Revision        int               `json:"revision"`
}

// NewDocument holds the fields of a document before it is stored
type NewDocument struct {
	Filename        string
	ContentType     string
	StoredPath      string
	ExtractedData   extraction.Record
	SelectedAccount *classify.Account
}

// Patch is a partial update. Nil fields are left unchanged. The edit flag is not
// patchable: it follows ExtractedData.
type Patch struct {
	Filename        *string            `json:"filename,omitempty"`
	ExtractedData   *extraction.Record `json:"extracted_data,omitempty"`
	SelectedAccount *classify.Account  `json:"selected_account,omitempty"`
	Tags            []string           `json:"tags,omitempty"`
}

// Filter selects documents in Search. Every set predicate must match.
type Filter struct {
	From        *time.Time
	To          *time.Time
	Supplier    string
	MinAmount   *float64
	MaxAmount   *float64
	AccountCode string
	IsEdited    *bool
	// Tags matches documents carrying any of the listed tags
	Tags []string
	// Query is matched against label, supplier, reference, invoice number and filename
	Query  string
	Offset *int
	Limit  *int
}

// Count is a key with its number of occurrences
type Count struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Statistics summarizes the stored documents
type Statistics struct {
	Total         int     `json:"total"`
	Edited        int     `json:"edited"`
	Tagged        int     `json:"tagged"`
	Recent        int     `json:"recent"`
	AverageAmount float64 `json:"average_amount"`
	TopAccounts   []Count `json:"top_accounts"`
	TopSuppliers  []Count `json:"top_suppliers"`
	TopTags       []Count `json:"top_tags"`
	ByMonth       []Count `json:"by_month"`
}

// IDGenerator generates unique IDs
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}
