// Package server exposes invoice extraction, model diagnostics and the review
// queue over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/zombor/invoice-extract/internal/invoice"
	"github.com/zombor/invoice-extract/internal/review"
	"github.com/zombor/invoice-extract/internal/scanning"
)

// DefaultAllowedOrigin is the local frontend dev server
const DefaultAllowedOrigin = "http://localhost:5173"

// Extractor runs the extraction pipeline on one document
type Extractor interface {
	Extract(ctx context.Context, data []byte, mediaType string) (invoice.Result, error)
}

// ReviewStore keeps degraded extractions for manual review
type ReviewStore interface {
	SaveDegraded(filename string, data []byte, mediaType string, degraded *invoice.Degraded) (*review.Review, error)
	GetReview(id string) (*review.Review, error)
	ListReviews() ([]*review.Review, error)
	ListReviewsByKind(kind string) ([]*review.Review, error)
	Summary() (map[string]int, error)
	DeleteReview(id string) error
	GetReviewFile(id string) ([]byte, string, error)
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// Config holds the HTTP layer settings
type Config struct {
	BasicAuth BasicAuth
	// AllowedOrigins lists CORS origins; "*" allows any
	AllowedOrigins []string
	// ModelTimeout bounds each model call; zero leaves only the request context
	ModelTimeout time.Duration
	// Identity is reported by /whoami, its mode also by /health
	Identity scanning.Identity
}

// Server handles HTTP requests for invoice extraction
type Server struct {
	extractor Extractor
	diagnoser scanning.Diagnoser
	reviews   ReviewStore
	config    Config
	mux       *http.ServeMux

	mu         sync.Mutex
	httpServer *http.Server
	closed     bool
}

// NewServer creates a new Server with default mux. diagnoser and reviews may be
// nil, which disables the diagnostic and review endpoints.
func NewServer(extractor Extractor, diagnoser scanning.Diagnoser, reviews ReviewStore, config Config) *Server {
	return NewServerWithMux(extractor, diagnoser, reviews, config, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(extractor Extractor, diagnoser scanning.Diagnoser, reviews ReviewStore, config Config, mux *http.ServeMux) *Server {
	if len(config.AllowedOrigins) == 0 {
		config.AllowedOrigins = []string{DefaultAllowedOrigin}
	}
	s := &Server{
		extractor: extractor,
		diagnoser: diagnoser,
		reviews:   reviews,
		config:    config,
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.config.BasicAuth.Username == "" && s.config.BasicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}

	userOK := subtle.ConstantTimeCompare([]byte(credentials[0]), []byte(s.config.BasicAuth.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(credentials[1]), []byte(s.config.BasicAuth.Password)) == 1
	return userOK && passOK
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.setCORSHeaders(w, r)

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Invoice Extract"`)
			writeError(w, http.StatusUnauthorized, "Unauthorized", "")
			return
		}
		next(w, r)
	}
}

// setCORSHeaders sets CORS headers for allowed origins
func (s *Server) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}

	switch {
	case slices.Contains(s.config.AllowedOrigins, origin):
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Add("Vary", "Origin")
	case slices.Contains(s.config.AllowedOrigins, "*"):
		w.Header().Set("Access-Control-Allow-Origin", "*")
	default:
		return
	}

	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Expose-Headers", reviewIDHeader)
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// registerRoutes registers all API routes on the server's mux
// Routes must be registered from most specific to least specific to avoid conflicts
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("POST /invoices/extract", s.requireAuth(s.handleExtract))
	s.mux.HandleFunc("GET /whoami", s.requireAuth(s.handleWhoAmI))

	if s.diagnoser != nil {
		s.mux.HandleFunc("GET /check-model", s.requireAuth(s.handleCheckModel))
		s.mux.HandleFunc("GET /list-models", s.requireAuth(s.handleListModels))
		s.mux.HandleFunc("GET /ping-model", s.requireAuth(s.handlePingModel))
	}

	if s.reviews != nil {
		s.mux.HandleFunc("GET /api/reviews/summary", s.requireAuth(s.handleReviewSummary))
		s.mux.HandleFunc("GET /api/reviews/{id}/file", s.requireAuth(s.handleGetReviewFile))
		s.mux.HandleFunc("GET /api/reviews/{id}", s.requireAuth(s.handleGetReview))
		s.mux.HandleFunc("DELETE /api/reviews/{id}", s.requireAuth(s.handleDeleteReview))
		s.mux.HandleFunc("GET /api/reviews", s.requireAuth(s.handleListReviews))
	}
}

// Handler returns the mux wrapped in the CORS middleware
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.mux)
}

// Start starts the HTTP server and blocks until it stops. A server stopped by
// Shutdown returns nil.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	slog.Info("Starting server", "address", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.httpServer
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	slog.Info("Shutting down server")
	return srv.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handler().ServeHTTP(w, r)
}
