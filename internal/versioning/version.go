// Package versioning keeps an append-only, diffable history of a document's extracted data.
package versioning

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/zombor/doc-ledger/internal/extraction"
)

// ErrNotFound is returned when a document has no matching version
var ErrNotFound = errors.New("version not found")

// RestoreField is the reserved change field recorded by RestoreVersion
const RestoreField = "_restore"

// Change is one field-level modification
type Change struct {
	Field         string    `json:"field"`
	PreviousValue any       `json:"previous_value"`
	NewValue      any       `json:"new_value"`
	Timestamp     time.Time `json:"timestamp"`
}

// Version is an immutable snapshot of a document's extracted data
type Version struct {
	ID            string            `json:"id"`
	DocumentID    string            `json:"document_id"`
	VersionNumber int               `json:"version_number"`
	CreatedAt     time.Time         `json:"created_at"`
	CreatedBy     string            `json:"created_by"`
	Comment       string            `json:"comment,omitempty"`
	Changes       []Change          `json:"changes"`
	Snapshot      extraction.Record `json:"snapshot"`
}

// Diff aggregates the changes between two versions
type Diff struct {
	DocumentID  string    `json:"document_id"`
	FromVersion int       `json:"from_version"`
	ToVersion   int       `json:"to_version"`
	Changes     []Change  `json:"changes"`
	CreatedAt   time.Time `json:"created_at"`
	CreatedBy   string    `json:"created_by"`
}

// SortDirection orders GetVersions results by version number
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// ParseSortDirection accepts "asc" or "desc"; anything else is descending
func ParseSortDirection(s string) SortDirection {
	if SortDirection(s) == SortAsc {
		return SortAsc
	}
	return SortDesc
}

// DiffRecords lists the fields whose values differ between prev and next, by JSON field
// name in alphabetical order. Values are the JSON representations of the fields.
func DiffRecords(prev, next extraction.Record, at time.Time) ([]Change, error) {
	before, err := fieldMap(prev)
	if err != nil {
		return nil, err
	}
	after, err := fieldMap(next)
	if err != nil {
		return nil, err
	}

	fields := make([]string, 0, len(before)+len(after))
	for f := range before {
		fields = append(fields, f)
	}
	for f := range after {
		if _, ok := before[f]; !ok {
			fields = append(fields, f)
		}
	}
	sort.Strings(fields)

	changes := make([]Change, 0)
	for _, f := range fields {
		if reflect.DeepEqual(before[f], after[f]) {
			continue
		}
		changes = append(changes, Change{
			Field:         f,
			PreviousValue: before[f],
			NewValue:      after[f],
			Timestamp:     at,
		})
	}
	return changes, nil
}

func fieldMap(r extraction.Record) (map[string]any, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshaling record: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("unmarshaling record: %w", err)
	}
	// nil and empty line item lists are the same state
	if fields["line_items"] == nil {
		fields["line_items"] = []any{}
	}
	return fields, nil
}
