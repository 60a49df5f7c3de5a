// Package session stores per-student working state: uploaded file metadata,
// extracted CV text, stated research interests, and the parsed student
// profile that the scoring stage consumes.
//
// Two implementations exist behind the Store interface: a Redis-backed store
// for deployments with a Redis instance, and an in-memory store used as an
// automatic fallback when Redis is unreachable at startup.
package session

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL is how long a session lives without being rewritten.
const DefaultTTL = 24 * time.Hour

var (
	// ErrNotFound is returned when no session exists for the given id.
	ErrNotFound = errors.New("session: not found")

	// ErrExpired is returned when a session exists but its TTL has elapsed.
	ErrExpired = errors.New("session: expired")
)

// FileMeta records an uploaded document attached to a session.
type FileMeta struct {
	Filename   string    `json:"filename"`
	MimeType   string    `json:"mime_type"`
	SizeBytes  int64     `json:"size_bytes"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// StudentProfile is the structured view of a student's background used to
// build the scoring prompt. RawText always holds the full extracted document
// text; the other fields are best-effort.
type StudentProfile struct {
	RawText   string   `json:"raw_text"`
	Interests []string `json:"interests,omitempty"`
	Education []string `json:"education,omitempty"`
	Skills    []string `json:"skills,omitempty"`
}

// Session is the unit of student state. Interests holds the student's stated
// research interests; Profile is populated by the upload flow.
type Session struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
	Interests []string        `json:"interests,omitempty"`
	Files     []FileMeta      `json:"files,omitempty"`
	Profile   *StudentProfile `json:"profile,omitempty"`
}

// Expired reports whether the session's TTL has elapsed at time now.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// New creates a session with the given id and TTL. A ttl of zero means
// DefaultTTL.
func New(id string, ttl time.Duration) *Session {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := time.Now().UTC()
	return &Session{
		ID:        id,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// Store persists sessions. Get returns ErrNotFound for unknown ids and
// ErrExpired for sessions whose TTL elapsed. Put replaces the session
// wholesale and resets its storage TTL. Delete is idempotent.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Put(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
}
