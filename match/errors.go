package match

import "errors"

// ErrorKind classifies why a job failed. It is stored on the job row and
// returned verbatim through the status API.
type ErrorKind string

const (
	ErrKindNone                  ErrorKind = ""
	ErrKindSessionNotFound       ErrorKind = "session_not_found"
	ErrKindSessionExpired        ErrorKind = "session_expired"
	ErrKindDiscoveryFailed       ErrorKind = "discovery_failed"
	ErrKindEnrichmentFailed      ErrorKind = "enrichment_failed"
	ErrKindMissingStudentProfile ErrorKind = "missing_student_profile"
	ErrKindScoringFailed         ErrorKind = "scoring_failed"
	ErrKindCancelled             ErrorKind = "cancelled"
	ErrKindInternal              ErrorKind = "internal"
)

var (
	// ErrJobNotFound is returned when no job exists for the given id.
	ErrJobNotFound = errors.New("match: job not found")

	// ErrNoInterests is returned by Start when neither the request, the
	// session, nor the parsed profile provides research interests.
	ErrNoInterests = errors.New("match: no research interests available")

	// ErrEmptyUniversityURL is returned by Start for a blank university URL.
	ErrEmptyUniversityURL = errors.New("match: university url required")
)
