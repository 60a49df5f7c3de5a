package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/profmatch/match"
	"github.com/hazyhaar/profmatch/session"
)

type matchStartRequest struct {
	SessionID         string   `json:"session_id"`
	UniversityURL     string   `json:"university_url"`
	ResearchInterests []string `json:"research_interests"`
}

// handleMatchStart launches an async match job and returns its id.
// POST /api/match
func (s *Server) handleMatchStart(w http.ResponseWriter, r *http.Request) {
	var req matchStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id required")
		return
	}

	jobID, err := s.matcher.Start(r.Context(), req.SessionID, req.UniversityURL, trimBlank(req.ResearchInterests))
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
		return
	case errors.Is(err, session.ErrExpired):
		writeError(w, http.StatusGone, "session expired")
		return
	case errors.Is(err, match.ErrEmptyUniversityURL):
		writeError(w, http.StatusBadRequest, "university_url required")
		return
	case errors.Is(err, match.ErrNoInterests):
		writeError(w, http.StatusBadRequest, "no research interests: supply them in the request, the session, or an uploaded CV")
		return
	case err != nil:
		s.logger.Error("match start failed", "session_id", req.SessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start match")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": string(match.StatusPending),
	})
}

// handleMatchStatus returns the job snapshot, including results once done.
// GET /api/match/{job_id}
func (s *Server) handleMatchStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.matcher.Status(r.Context(), jobID)
	switch {
	case errors.Is(err, match.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
		return
	case err != nil:
		s.logger.Error("job status failed", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleMatchCancel requests cooperative cancellation. Finished jobs return
// 409; unknown jobs 404.
// DELETE /api/match/{job_id}
func (s *Server) handleMatchCancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if s.matcher.Cancel(r.Context(), jobID) {
		writeJSON(w, http.StatusOK, map[string]string{
			"job_id":     jobID,
			"status":     string(match.StatusFailed),
			"error_kind": string(match.ErrKindCancelled),
		})
		return
	}

	// Cancel refused: distinguish unknown from already-finished.
	job, err := s.matcher.Status(r.Context(), jobID)
	switch {
	case errors.Is(err, match.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case err != nil:
		s.logger.Error("job status failed", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load job")
	default:
		writeError(w, http.StatusConflict, "job already "+string(job.Status))
	}
}
