package sources

import (
	"net/url"
	"strings"
)

// FacultyCandidate is one professor found by the discovery capability.
// ProfessorID is stable within a university (slug of the name when the
// upstream source provides no identifier).
type FacultyCandidate struct {
	ProfessorID string `json:"professor_id"`
	Name        string `json:"name"`
	Title       string `json:"title,omitempty"`
	Department  string `json:"department,omitempty"`
	ProfileURL  string `json:"profile_url,omitempty"`
	Email       string `json:"email,omitempty"`
}

// Publication is one publication record from the scholar capability.
type Publication struct {
	Title   string `json:"title"`
	Year    int    `json:"year,omitempty"`
	Venue   string `json:"venue,omitempty"`
	CitedBy int    `json:"cited_by,omitempty"`
}

// EnrichedProfile is a FacultyCandidate augmented with scholarly data.
type EnrichedProfile struct {
	Candidate         FacultyCandidate `json:"candidate"`
	ResearchInterests []string         `json:"research_interests,omitempty"`
	Publications      []Publication    `json:"publications,omitempty"`
	CitationCount     int              `json:"citation_count,omitempty"`
	HIndex            int              `json:"h_index,omitempty"`
	Affiliation       string           `json:"affiliation,omitempty"`
}

// UniversityID derives a stable cache/university key from a university URL:
// the lowercased host without a leading "www.". Falls back to the raw input
// when parsing fails.
func UniversityID(universityURL string) string {
	u, err := url.Parse(universityURL)
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimSpace(universityURL))
	}
	host := strings.ToLower(u.Host)
	return strings.TrimPrefix(host, "www.")
}

// Slug converts a display name into a stable identifier:
// "Dr. Jane O'Brien" → "dr-jane-o-brien".
func Slug(name string) string {
	var sb strings.Builder
	prevDash := true // suppress a leading dash
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
			prevDash = false
		default:
			if !prevDash {
				sb.WriteByte('-')
				prevDash = true
			}
		}
	}
	return strings.TrimRight(sb.String(), "-")
}
