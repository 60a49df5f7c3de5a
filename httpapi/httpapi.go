// Package httpapi exposes the matching pipeline over HTTP: session
// lifecycle, CV upload, and the async match job API.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/profmatch/idgen"
	"github.com/hazyhaar/profmatch/match"
	"github.com/hazyhaar/profmatch/session"
)

// maxUploadBytes bounds the multipart request body for CV uploads. Slightly
// above the parser's own file limit so the limit error comes from the parser
// with a precise status, not from a truncated read.
const maxUploadBytes = 12 << 20

// Matcher is the slice of the orchestrator the API needs.
type Matcher interface {
	Start(ctx context.Context, sessionID, universityURL string, interestOverrides []string) (string, error)
	Status(ctx context.Context, jobID string) (*match.Job, error)
	Cancel(ctx context.Context, jobID string) bool
}

// ProfileParser turns an uploaded document into a student profile.
type ProfileParser interface {
	Parse(ctx context.Context, filename, mimeType string, data []byte) (*session.StudentProfile, error)
}

// InterestExtractor derives research interests from free text. Optional:
// when nil, uploads without detectable interest sections simply leave the
// profile's interests empty.
type InterestExtractor interface {
	ExtractInterests(ctx context.Context, text string) ([]string, error)
}

// Server wires the HTTP handlers to the pipeline components.
type Server struct {
	sessions  session.Store
	parser    ProfileParser
	extractor InterestExtractor
	matcher   Matcher

	ids        idgen.Generator
	sessionTTL time.Duration
	logger     *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithSessionTTL overrides the session lifetime (default session.DefaultTTL).
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Server) {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
	}
}

// WithIDGenerator overrides the session id generator.
func WithIDGenerator(g idgen.Generator) Option {
	return func(s *Server) { s.ids = g }
}

// WithInterestExtractor attaches an extractor used when an uploaded CV has
// no recognizable interests section.
func WithInterestExtractor(e InterestExtractor) Option {
	return func(s *Server) { s.extractor = e }
}

// New creates a Server.
func New(sessions session.Store, parser ProfileParser, matcher Matcher, opts ...Option) *Server {
	s := &Server{
		sessions:   sessions,
		parser:     parser,
		matcher:    matcher,
		ids:        idgen.Prefixed("sess_", idgen.Default),
		sessionTTL: session.DefaultTTL,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Routes builds the chi router with all endpoints registered.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/sessions", s.handleSessionCreate)
		r.Get("/sessions/{session_id}", s.handleSessionGet)
		r.Delete("/sessions/{session_id}", s.handleSessionDelete)
		r.Post("/sessions/{session_id}/upload", s.handleUpload)

		r.Post("/match", s.handleMatchStart)
		r.Get("/match/{job_id}", s.handleMatchStatus)
		r.Delete("/match/{job_id}", s.handleMatchCancel)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
