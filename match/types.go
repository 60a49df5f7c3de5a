package match

import (
	"time"

	"github.com/hazyhaar/profmatch/sources"
)

// Status is the lifecycle stage of a match job. Transitions are monotonic:
//
//	pending → discovering → enriching → scoring → done
//
// and any non-terminal status may move to failed. A cancelled job is a
// failed job with ErrKindCancelled, not a status of its own. The job store
// enforces the transitions with guarded UPDATEs, so a stale pipeline
// goroutine can never resurrect a finished job.
type Status string

const (
	StatusPending     Status = "pending"
	StatusDiscovering Status = "discovering"
	StatusEnriching   Status = "enriching"
	StatusScoring     Status = "scoring"
	StatusDone        Status = "done"
	StatusFailed      Status = "failed"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Progress holds per-stage counters exposed through Status polling.
type Progress struct {
	CandidatesFound int `json:"candidates_found"`
	EnrichAttempted int `json:"enrich_attempted"`
	EnrichSucceeded int `json:"enrich_succeeded"`
	EnrichFailed    int `json:"enrich_failed"`
}

// Result is one ranked professor in the final output. Score is in [0,1].
type Result struct {
	Professor            sources.EnrichedProfile `json:"professor"`
	Score                float64                 `json:"score"`
	AlignmentReasons     []string                `json:"alignment_reasons,omitempty"`
	SharedKeywords       []string                `json:"shared_keywords,omitempty"`
	RelevantPublications []string                `json:"relevant_publications,omitempty"`
	Recommendation       string                  `json:"recommendation,omitempty"`
}

// CandidateFailure records one professor whose enrichment failed. The job
// still completes as long as at least one candidate survives.
type CandidateFailure struct {
	ProfessorID string `json:"professor_id"`
	Name        string `json:"name"`
	Reason      string `json:"reason"`
}

// Job is a snapshot of one match run.
type Job struct {
	ID            string             `json:"id"`
	SessionID     string             `json:"session_id"`
	UniversityURL string             `json:"university_url"`
	UniversityID  string             `json:"university_id"`
	Status        Status             `json:"status"`
	Progress      Progress           `json:"progress"`
	ErrorKind     ErrorKind          `json:"error_kind,omitempty"`
	ErrorMessage  string             `json:"error_message,omitempty"`
	Results       []Result           `json:"results,omitempty"`
	Failures      []CandidateFailure `json:"failures,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}
