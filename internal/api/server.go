package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yangwenmai/softpost/internal/engine"
	"github.com/yangwenmai/softpost/internal/model"
	"github.com/yangwenmai/softpost/internal/scheduler"
	"github.com/yangwenmai/softpost/internal/store"
)

// maxRequestBody is the maximum allowed request body size (1 MB).
const maxRequestBody int64 = 1 << 20

// Store is the persistence the HTTP handlers read and write directly.
type Store interface {
	store.ArtifactRepository
	store.AccountRepository
	store.PostReader
	store.SessionStore
}

// Deps are the collaborators of the API server.
type Deps struct {
	Store     Store
	Generator *engine.Generator
	Scheduler *scheduler.Scheduler
	Service   *scheduler.Service
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
	// CORSOrigin defaults to "*".
	CORSOrigin string
}

// Server holds the HTTP handlers and dependencies.
type Server struct {
	store     Store
	generator *engine.Generator
	scheduler *scheduler.Scheduler
	service   *scheduler.Service
	gatherer  prometheus.Gatherer
	logger    *slog.Logger
	origin    string
	mux       *http.ServeMux
}

// New creates a new API server.
func New(d Deps) *Server {
	srv := &Server{
		store:     d.Store,
		generator: d.Generator,
		scheduler: d.Scheduler,
		service:   d.Service,
		gatherer:  d.Gatherer,
		logger:    d.Logger,
		origin:    d.CORSOrigin,
		mux:       http.NewServeMux(),
	}
	if srv.logger == nil {
		srv.logger = slog.Default()
	}
	if srv.origin == "" {
		srv.origin = "*"
	}
	srv.routes()
	return srv
}

// Handler returns the root http.Handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(limitBody(jsonContent(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/generate", s.handleGenerate)
	s.mux.HandleFunc("GET /api/artifacts", s.handleListArtifacts)
	s.mux.HandleFunc("GET /api/artifacts/{id}", s.handleGetArtifact)
	s.mux.HandleFunc("DELETE /api/artifacts/{id}", s.handleDeleteArtifact)
	s.mux.HandleFunc("POST /api/artifacts/{id}/validate", s.handleValidateArtifact)
	s.mux.HandleFunc("POST /api/artifacts/{id}/rewrite", s.handleRewriteArtifact)
	s.mux.HandleFunc("GET /api/sessions", s.handleListSessions)

	s.mux.HandleFunc("GET /api/scheduled-posts", s.handleListPosts)
	s.mux.HandleFunc("POST /api/scheduled-posts", s.handleSchedule)
	s.mux.HandleFunc("GET /api/scheduled-posts/{id}", s.handleGetPost)
	s.mux.HandleFunc("PATCH /api/scheduled-posts/{id}", s.handleUpdatePost)
	s.mux.HandleFunc("DELETE /api/scheduled-posts/{id}", s.handleDeletePost)
	s.mux.HandleFunc("POST /api/scheduled-posts/{id}/cancel", s.handleCancelPost)
	s.mux.HandleFunc("POST /api/scheduled-posts/{id}/retry", s.handleRetryPost)
	s.mux.HandleFunc("POST /api/scheduled-posts/{id}/execute", s.handleExecutePost)
	s.mux.HandleFunc("GET /api/calendar", s.handleCalendar)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)

	s.mux.HandleFunc("GET /api/accounts", s.handleListAccounts)
	s.mux.HandleFunc("POST /api/accounts", s.handleCreateAccount)
	s.mux.HandleFunc("DELETE /api/accounts/{id}", s.handleDeleteAccount)
	s.mux.HandleFunc("POST /api/accounts/{id}/publish", s.handlePublishNow)

	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeOK(w, http.StatusOK, envelope{"status": "ok"})
	})
	if s.gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// limitBody restricts the request body to maxRequestBody bytes.
func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
		next.ServeHTTP(w, r)
	})
}

func jsonContent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

// envelope is the body of every JSON response.
type envelope map[string]any

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, status int, body envelope) {
	if body == nil {
		body = envelope{}
	}
	body["success"] = true
	writeJSON(w, status, body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{"success": false, "error": msg})
}

// writeFailure maps err onto 400 (field errors), 404 (not found) or 500.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	if ve, ok := model.AsValidation(err); ok {
		writeJSON(w, http.StatusBadRequest, envelope{"success": false, "error": "validation failed", "details": ve})
		return
	}
	if errors.Is(err, model.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

// decodeBody decodes the JSON body into v and writes a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// page reads limit and offset query parameters.
func page(r *http.Request) (limit, offset int, err error) {
	limit, offset = defaultPageSize, 0
	q := r.URL.Query()
	var errs model.ValidationErrors
	if v := q.Get("limit"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n < 1 || n > maxPageSize {
			errs = append(errs, model.FieldError{Field: "limit", Message: "must be between 1 and " + strconv.Itoa(maxPageSize)})
		} else {
			limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n < 0 {
			errs = append(errs, model.FieldError{Field: "offset", Message: "must be a non-negative integer"})
		} else {
			offset = n
		}
	}
	if len(errs) > 0 {
		return 0, 0, errs
	}
	return limit, offset, nil
}
