package document

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/zombor/doc-ledger/internal/classify"
	"github.com/zombor/doc-ledger/internal/scanning"
	"github.com/zombor/doc-ledger/internal/versioning"
)

// maxUploadSize covers high-resolution phone photos
const maxUploadSize = int64(50 << 20)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeValidationErrors(w http.ResponseWriter, errs map[string]string) {
	writeJSON(w, http.StatusBadRequest, map[string]map[string]string{"errors": errs})
}

// writeError maps service errors to status codes
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeMessage(w, http.StatusNotFound, "Document not found")
	case errors.Is(err, versioning.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "Version not found")
	case errors.Is(err, ErrInvalidInput):
		writeValidationErrors(w, map[string]string{"request": err.Error()})
	case errors.Is(err, scanning.ErrUnsupportedFormat):
		writeMessage(w, http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, ErrUnreadableDocument):
		writeMessage(w, http.StatusUnprocessableEntity, "The document could not be read. It may be corrupt or password protected.")
	default:
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
	}
}

// decodeAndValidate reads a JSON body into v. It writes the error response itself
// and reports whether the handler should go on.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v Validater, optional bool) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !(optional && errors.Is(err, io.EOF)) {
		writeValidationErrors(w, map[string]string{"body": "invalid JSON body"})
		return false
	}
	if errs := v.Validate(); len(errs) > 0 {
		writeValidationErrors(w, errs)
		return false
	}
	return true
}

// bindQuery copies query parameters into the string fields tagged with query
func bindQuery(values url.Values, dst Validater) {
	v := reflect.ValueOf(dst).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if name := t.Field(i).Tag.Get("query"); name != "" && v.Field(i).Kind() == reflect.String {
			v.Field(i).SetString(strings.TrimSpace(values.Get(name)))
		}
	}
}

func validateQuery(w http.ResponseWriter, r *http.Request, q Validater) bool {
	bindQuery(r.URL.Query(), q)
	if errs := q.Validate(); len(errs) > 0 {
		writeValidationErrors(w, errs)
		return false
	}
	return true
}

func versionParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	n, err := strconv.Atoi(r.PathValue("version"))
	if err != nil || n < 1 {
		writeValidationErrors(w, map[string]string{"version": "must be a positive integer"})
		return 0, false
	}
	return n, true
}

// handleExtract runs the pipeline on raw text without storing anything
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if !decodeAndValidate(w, r, &req, false) {
		return
	}

	result, err := s.service.Extract(req.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// detectContentType falls back to the file extension when the part has no type
func detectContentType(header string, filename string) string {
	contentType := strings.ToLower(strings.TrimSpace(header))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}

// handleUploadDocument handles document upload
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeValidationErrors(w, map[string]string{"file": "file is too large, maximum size is 50MB"})
			return
		}
		writeValidationErrors(w, map[string]string{"body": "error parsing form"})
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeValidationErrors(w, map[string]string{"file": "no file was provided"})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeMessage(w, http.StatusInternalServerError, "Error reading file. Please try again.")
		return
	}

	contentType := detectContentType(header.Header.Get("Content-Type"), header.Filename)
	processed, err := s.service.ProcessDocument(r.Context(), header.Filename, data, contentType, r.FormValue("user"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, processed)
}

// handleSearchDocuments lists documents matching the query string
func (s *Server) handleSearchDocuments(w http.ResponseWriter, r *http.Request) {
	var q searchQuery
	if !validateQuery(w, r, &q) {
		return
	}

	docs, err := s.service.SearchDocuments(q.filter())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Statistics()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.service.GetDocument(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if !decodeAndValidate(w, r, &req, false) {
		return
	}

	doc, err := s.service.UpdateDocument(r.PathValue("id"), req.patch(), req.User, req.Comment)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteDocument(r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetDocumentFile returns the original upload
func (s *Server) handleGetDocumentFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetDocumentFile(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

func (s *Server) handleSelectAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if !decodeAndValidate(w, r, &req, false) {
		return
	}

	doc, err := s.service.SelectAccount(r.PathValue("id"), classify.Account{Code: req.Code, Label: req.Label})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleAddTag(w http.ResponseWriter, r *http.Request) {
	var req tagRequest
	if !decodeAndValidate(w, r, &req, false) {
		return
	}

	doc, err := s.service.AddTag(r.PathValue("id"), req.Tag)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleRemoveTag(w http.ResponseWriter, r *http.Request) {
	doc, err := s.service.RemoveTag(r.PathValue("id"), r.PathValue("tag"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	var q versionsQuery
	if !validateQuery(w, r, &q) {
		return
	}

	versions, err := s.service.ListVersions(r.PathValue("id"), q.direction(), q.limit(), optionalInt(q.Offset))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (s *Server) handleGetLatestVersion(w http.ResponseWriter, r *http.Request) {
	version, err := s.service.GetLatestVersion(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, version)
}

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	n, ok := versionParam(w, r)
	if !ok {
		return
	}

	version, err := s.service.GetVersion(r.PathValue("id"), n)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, version)
}

func (s *Server) handleCompareVersions(w http.ResponseWriter, r *http.Request) {
	var q compareQuery
	if !validateQuery(w, r, &q) {
		return
	}
	from, _ := strconv.Atoi(q.From)
	to, _ := strconv.Atoi(q.To)

	diff, err := s.service.CompareVersions(r.PathValue("id"), from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, diff)
}

func (s *Server) handleRestoreVersion(w http.ResponseWriter, r *http.Request) {
	n, ok := versionParam(w, r)
	if !ok {
		return
	}
	var req restoreRequest
	if !decodeAndValidate(w, r, &req, true) {
		return
	}

	restored, err := s.service.RestoreVersion(r.PathValue("id"), n, req.User, req.Comment)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, restored)
}
