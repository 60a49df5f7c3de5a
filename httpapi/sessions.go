package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/profmatch/cvparse"
	"github.com/hazyhaar/profmatch/session"
	"github.com/hazyhaar/profmatch/sources"
)

type sessionCreateRequest struct {
	ResearchInterests []string `json:"research_interests"`
}

type sessionResponse struct {
	SessionID         string             `json:"session_id"`
	CreatedAt         time.Time          `json:"created_at"`
	ExpiresAt         time.Time          `json:"expires_at"`
	ResearchInterests []string           `json:"research_interests,omitempty"`
	Files             []session.FileMeta `json:"files,omitempty"`
	HasProfile        bool               `json:"has_profile"`
}

func toSessionResponse(sess *session.Session) sessionResponse {
	return sessionResponse{
		SessionID:         sess.ID,
		CreatedAt:         sess.CreatedAt,
		ExpiresAt:         sess.ExpiresAt,
		ResearchInterests: sess.Interests,
		Files:             sess.Files,
		HasProfile:        sess.Profile != nil,
	}
}

// handleSessionCreate creates a session. The body is optional; when present
// it may seed the student's stated research interests.
// POST /api/sessions
func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	var req sessionCreateRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	sess := session.New(s.ids(), s.sessionTTL)
	sess.Interests = trimBlank(req.ResearchInterests)

	if err := s.sessions.Put(r.Context(), sess); err != nil {
		s.logger.Error("session create failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	s.logger.Info("session created", "session_id", sess.ID)
	writeJSON(w, http.StatusCreated, toSessionResponse(sess))
}

// GET /api/sessions/{session_id}
func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

// DELETE /api/sessions/{session_id}
func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")
	if err := s.sessions.Delete(r.Context(), id); err != nil {
		s.logger.Error("session delete failed", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUpload attaches a CV to the session: the file is parsed into a
// student profile, and when the document carries no recognizable interests
// section the extractor derives them from the raw text.
// POST /api/sessions/{session_id}/upload, multipart field "file".
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field 'file' required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	profile, err := s.parser.Parse(r.Context(), header.Filename, header.Header.Get("Content-Type"), data)
	switch {
	case errors.Is(err, cvparse.ErrUnsupportedFormat):
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
		return
	case errors.Is(err, cvparse.ErrParse):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case errors.Is(err, sources.ErrSourceUnavailable):
		writeError(w, http.StatusBadGateway, "document parsing unavailable")
		return
	case err != nil:
		s.logger.Error("cv parse failed", "session_id", sess.ID, "filename", header.Filename, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to parse document")
		return
	}

	if len(profile.Interests) == 0 && s.extractor != nil {
		interests, err := s.extractor.ExtractInterests(r.Context(), profile.RawText)
		if err != nil {
			// Best-effort: the match request can still supply interests.
			s.logger.Warn("interest extraction failed", "session_id", sess.ID, "error", err)
		} else {
			profile.Interests = interests
		}
	}

	sess.Profile = profile
	sess.Files = append(sess.Files, session.FileMeta{
		Filename:   header.Filename,
		MimeType:   header.Header.Get("Content-Type"),
		SizeBytes:  int64(len(data)),
		UploadedAt: time.Now().UTC(),
	})

	if err := s.sessions.Put(r.Context(), sess); err != nil {
		s.logger.Error("session update failed", "session_id", sess.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store profile")
		return
	}

	s.logger.Info("cv uploaded", "session_id", sess.ID,
		"filename", header.Filename, "interests", len(profile.Interests))
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"filename":   header.Filename,
		"profile": map[string]any{
			"interests":  profile.Interests,
			"education":  profile.Education,
			"skills":     profile.Skills,
			"text_bytes": len(profile.RawText),
		},
	})
}

// loadSession fetches the session from the URL parameter and writes the
// error response itself on failure.
func (s *Server) loadSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := chi.URLParam(r, "session_id")
	sess, err := s.sessions.Get(r.Context(), id)
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	case errors.Is(err, session.ErrExpired):
		writeError(w, http.StatusGone, "session expired")
		return nil, false
	case err != nil:
		s.logger.Error("session load failed", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return nil, false
	}
	return sess, true
}

func trimBlank(list []string) []string {
	var out []string
	for _, v := range list {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
