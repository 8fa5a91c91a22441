package document

import (
	"log/slog"
	"net/http"
	"time"
)

// Server handles HTTP requests for documents
type Server struct {
	service *Service
	mux     *http.ServeMux
}

// NewServer creates a new Server with default mux
func NewServer(service *Service) *Server {
	return NewServerWithMux(service, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, mux *http.ServeMux) *Server {
	s := &Server{
		service: service,
		mux:     mux,
	}
	s.registerRoutes()
	return s
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/extract", s.handleExtract)

	s.mux.HandleFunc("GET /api/documents/stats", s.handleStatistics)
	s.mux.HandleFunc("GET /api/documents/{id}/file", s.handleGetDocumentFile)
	s.mux.HandleFunc("PUT /api/documents/{id}/account", s.handleSelectAccount)
	s.mux.HandleFunc("POST /api/documents/{id}/tags", s.handleAddTag)
	s.mux.HandleFunc("DELETE /api/documents/{id}/tags/{tag}", s.handleRemoveTag)

	s.mux.HandleFunc("GET /api/documents/{id}/versions/latest", s.handleGetLatestVersion)
	s.mux.HandleFunc("GET /api/documents/{id}/versions/compare", s.handleCompareVersions)
	s.mux.HandleFunc("POST /api/documents/{id}/versions/{version}/restore", s.handleRestoreVersion)
	s.mux.HandleFunc("GET /api/documents/{id}/versions/{version}", s.handleGetVersion)
	s.mux.HandleFunc("GET /api/documents/{id}/versions", s.handleListVersions)

	s.mux.HandleFunc("GET /api/documents/{id}", s.handleGetDocument)
	s.mux.HandleFunc("PATCH /api/documents/{id}", s.handleUpdateDocument)
	s.mux.HandleFunc("DELETE /api/documents/{id}", s.handleDeleteDocument)
	s.mux.HandleFunc("GET /api/documents", s.handleSearchDocuments)
	s.mux.HandleFunc("POST /api/documents", s.handleUploadDocument)
}

// Handler returns the routes wrapped with request logging
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		s.mux.ServeHTTP(rec, r)
		slog.Info("Handled request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
