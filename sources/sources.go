// Package sources provides typed clients for the three external capabilities
// profmatch depends on: faculty discovery, scholar enrichment, and CV
// parsing. Each client wraps the connectivity router under one service name,
// so a capability can be served by an MCP server, an HTTP endpoint, or the
// bundled local fallback without the caller knowing which.
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hazyhaar/profmatch/session"
)

// Service names in the routes table.
const (
	ServiceDiscover = "faculty_discover"
	ServiceScholar  = "scholar_enrich"
	ServiceCVParse  = "cv_parse"
)

// Caller dispatches a service call; *connectivity.Router satisfies it.
type Caller interface {
	Call(ctx context.Context, service string, payload []byte) ([]byte, error)
}

// Discovery finds faculty candidates for a university.
type Discovery struct {
	caller Caller
	logger *slog.Logger
}

// NewDiscovery creates a Discovery client over the given caller.
func NewDiscovery(c Caller, logger *slog.Logger) *Discovery {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discovery{caller: c, logger: logger}
}

type discoverRequest struct {
	UniversityURL string `json:"university_url"`
}

// discoverResponse tolerates both envelope styles the discovery backends
// produce: a bare array or an object with a "faculty" key.
type discoverResponse struct {
	Faculty []FacultyCandidate `json:"faculty"`
}

// Discover returns faculty candidates for the university. Candidates with
// no ProfessorID get a slug of their name; candidates with no name are
// dropped. The result can legitimately be empty.
func (d *Discovery) Discover(ctx context.Context, universityURL string) ([]FacultyCandidate, error) {
	payload, err := json.Marshal(discoverRequest{UniversityURL: universityURL})
	if err != nil {
		return nil, fmt.Errorf("sources: marshal discover request: %w", err)
	}

	resp, err := d.caller.Call(ctx, ServiceDiscover, payload)
	if err != nil {
		return nil, mapErr(err)
	}

	candidates, err := decodeCandidates(resp)
	if err != nil {
		return nil, fmt.Errorf("sources: decode discover response: %w", err)
	}

	out := candidates[:0]
	for _, c := range candidates {
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" {
			continue
		}
		if c.ProfessorID == "" {
			c.ProfessorID = Slug(c.Name)
		}
		out = append(out, c)
	}

	d.logger.DebugContext(ctx, "discovery complete",
		"university_url", universityURL, "candidates", len(out))
	return out, nil
}

func decodeCandidates(data []byte) ([]FacultyCandidate, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var list []FacultyCandidate
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var env discoverResponse
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return env.Faculty, nil
}

// Scholar fetches publication and citation data for one professor.
type Scholar struct {
	caller Caller
	logger *slog.Logger
}

// NewScholar creates a Scholar client over the given caller.
func NewScholar(c Caller, logger *slog.Logger) *Scholar {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scholar{caller: c, logger: logger}
}

type enrichRequest struct {
	ProfessorName string `json:"professor_name"`
	University    string `json:"university"`
}

// Enrich returns scholarly data for the candidate. ErrNotFound means the
// professor has no scholar record; callers treat that as a soft failure.
func (s *Scholar) Enrich(ctx context.Context, universityID string, candidate FacultyCandidate) (*EnrichedProfile, error) {
	payload, err := json.Marshal(enrichRequest{
		ProfessorName: candidate.Name,
		University:    universityID,
	})
	if err != nil {
		return nil, fmt.Errorf("sources: marshal enrich request: %w", err)
	}

	resp, err := s.caller.Call(ctx, ServiceScholar, payload)
	if err != nil {
		return nil, mapErr(err)
	}

	var profile EnrichedProfile
	if err := json.Unmarshal(resp, &profile); err != nil {
		return nil, fmt.Errorf("sources: decode enrich response: %w", err)
	}

	// The upstream echo may be partial; the candidate we already hold is
	// authoritative for identity fields.
	profile.Candidate = candidate
	return &profile, nil
}

// Documents parses uploaded CV files into student profiles.
type Documents struct {
	caller Caller
	logger *slog.Logger
}

// NewDocuments creates a Documents client over the given caller.
func NewDocuments(c Caller, logger *slog.Logger) *Documents {
	if logger == nil {
		logger = slog.Default()
	}
	return &Documents{caller: c, logger: logger}
}

type parseRequest struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type,omitempty"`
	Data     []byte `json:"data"` // base64 via encoding/json
}

// Parse extracts a StudentProfile from an uploaded document.
func (d *Documents) Parse(ctx context.Context, filename, mimeType string, data []byte) (*session.StudentProfile, error) {
	payload, err := json.Marshal(parseRequest{
		Filename: filename,
		MimeType: mimeType,
		Data:     data,
	})
	if err != nil {
		return nil, fmt.Errorf("sources: marshal parse request: %w", err)
	}

	resp, err := d.caller.Call(ctx, ServiceCVParse, payload)
	if err != nil {
		return nil, mapErr(err)
	}

	var profile session.StudentProfile
	if err := json.Unmarshal(resp, &profile); err != nil {
		return nil, fmt.Errorf("sources: decode parse response: %w", err)
	}
	if strings.TrimSpace(profile.RawText) == "" {
		return nil, fmt.Errorf("sources: parse response has no text for %s", filename)
	}
	return &profile, nil
}
