package document

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/zombor/doc-ledger/internal/classify"
	"github.com/zombor/doc-ledger/internal/extraction"
	"github.com/zombor/doc-ledger/internal/versioning"
)

// Validater is implemented by request bodies and query strings
type Validater interface {
	Validate() map[string]string
}

var validate = newValidator()

// newValidator reports fields by their json or query name
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		for _, key := range []string{"json", "query"} {
			name, _, _ := strings.Cut(field.Tag.Get(key), ",")
			if name != "" && name != "-" {
				return name
			}
		}
		return field.Name
	})
	return v
}

func validateStruct(s any) map[string]string {
	if err := validate.Struct(s); err != nil {
		errs, ok := err.(validator.ValidationErrors)
		if !ok {
			return map[string]string{"request": err.Error()}
		}
		out := make(map[string]string)
		for _, e := range errs {
			out[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
		}
		return out
	}
	return nil
}

type extractRequest struct {
	Text string `json:"text" validate:"required"`
}

func (r *extractRequest) Validate() map[string]string {
	return validateStruct(r)
}

type updateRequest struct {
	Filename        *string            `json:"filename" validate:"omitempty,min=1"`
	ExtractedData   *extraction.Record `json:"extracted_data"`
	SelectedAccount *classify.Account  `json:"selected_account"`
	Tags            []string           `json:"tags" validate:"omitempty,dive,required"`
	User            string             `json:"user"`
	Comment         string             `json:"comment" validate:"max=500"`
}

func (r *updateRequest) Validate() map[string]string {
	errs := validateStruct(r)
	if r.Filename == nil && r.ExtractedData == nil && r.SelectedAccount == nil && r.Tags == nil {
		if errs == nil {
			errs = make(map[string]string)
		}
		errs["request"] = "no fields to update"
	}
	return errs
}

func (r *updateRequest) patch() Patch {
	return Patch{
		Filename:        r.Filename,
		ExtractedData:   r.ExtractedData,
		SelectedAccount: r.SelectedAccount,
		Tags:            r.Tags,
	}
}

type accountRequest struct {
	Code  string `json:"code" validate:"required,max=20"`
	Label string `json:"label"`
}

func (r *accountRequest) Validate() map[string]string {
	return validateStruct(r)
}

type tagRequest struct {
	Tag string `json:"tag" validate:"required,max=64"`
}

func (r *tagRequest) Validate() map[string]string {
	r.Tag = strings.TrimSpace(r.Tag)
	return validateStruct(r)
}

type restoreRequest struct {
	User    string `json:"user"`
	Comment string `json:"comment" validate:"max=500"`
}

func (r *restoreRequest) Validate() map[string]string {
	return validateStruct(r)
}

const (
	dateLayout = "2006-01-02"

	// maxPageSize caps the limit query parameter of list endpoints
	maxPageSize = 100
)

// searchQuery is the query string of GET /api/documents
type searchQuery struct {
	From        string `query:"from" validate:"omitempty,datetime=2006-01-02"`
	To          string `query:"to" validate:"omitempty,datetime=2006-01-02"`
	Supplier    string `query:"supplier"`
	MinAmount   string `query:"min_amount" validate:"omitempty,numeric"`
	MaxAmount   string `query:"max_amount" validate:"omitempty,numeric"`
	AccountCode string `query:"account"`
	Edited      string `query:"edited" validate:"omitempty,boolean"`
	Tags        string `query:"tags"`
	Query       string `query:"q"`
	Offset      string `query:"offset" validate:"omitempty,number"`
	Limit       string `query:"limit" validate:"omitempty,number"`
}

func (q *searchQuery) Validate() map[string]string {
	return validateStruct(q)
}

// filter converts a validated query. The to date includes the whole day.
func (q *searchQuery) filter() Filter {
	f := Filter{
		Supplier:    q.Supplier,
		AccountCode: q.AccountCode,
		Query:       q.Query,
		Offset:      optionalInt(q.Offset),
		Limit:       pageLimit(q.Limit),
		MinAmount:   optionalFloat(q.MinAmount),
		MaxAmount:   optionalFloat(q.MaxAmount),
	}
	if from, err := time.Parse(dateLayout, q.From); err == nil {
		f.From = &from
	}
	if to, err := time.Parse(dateLayout, q.To); err == nil {
		end := to.Add(24*time.Hour - time.Nanosecond)
		f.To = &end
	}
	if edited, err := strconv.ParseBool(q.Edited); err == nil {
		f.IsEdited = &edited
	}
	for _, tag := range strings.Split(q.Tags, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			f.Tags = append(f.Tags, tag)
		}
	}
	return f
}

// versionsQuery is the query string of GET /api/documents/{id}/versions
type versionsQuery struct {
	Sort   string `query:"sort" validate:"omitempty,oneof=asc desc"`
	Offset string `query:"offset" validate:"omitempty,number"`
	Limit  string `query:"limit" validate:"omitempty,number"`
}

func (q *versionsQuery) Validate() map[string]string {
	return validateStruct(q)
}

func (q *versionsQuery) limit() *int {
	return pageLimit(q.Limit)
}

func (q *versionsQuery) direction() versioning.SortDirection {
	return versioning.ParseSortDirection(q.Sort)
}

// compareQuery is the query string of GET /api/documents/{id}/versions/compare
type compareQuery struct {
	From string `query:"from" validate:"required,number"`
	To   string `query:"to" validate:"required,number"`
}

func (q *compareQuery) Validate() map[string]string {
	return validateStruct(q)
}

func optionalInt(s string) *int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}

// pageLimit parses a limit and caps it at maxPageSize
func pageLimit(s string) *int {
	n := optionalInt(s)
	if n != nil && *n > maxPageSize {
		*n = maxPageSize
	}
	return n
}

func optionalFloat(s string) *float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}
