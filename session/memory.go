package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// MemoryStore is the fallback Store used when Redis is unreachable.
// Sessions are kept as JSON blobs under a mutex; a Janitor loop purges
// expired entries.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string][]byte
	ttl    time.Duration
	logger *slog.Logger
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryTTL overrides the session TTL (default DefaultTTL).
func WithMemoryTTL(ttl time.Duration) MemoryOption {
	return func(ms *MemoryStore) { ms.ttl = ttl }
}

// WithMemoryLogger sets a custom logger.
func WithMemoryLogger(l *slog.Logger) MemoryOption {
	return func(ms *MemoryStore) { ms.logger = l }
}

// NewMemoryStore creates an empty in-memory store. Run Janitor in a goroutine
// to purge expired sessions.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	ms := &MemoryStore{
		data:   make(map[string][]byte),
		ttl:    DefaultTTL,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(ms)
	}
	return ms
}

// Get fetches a session. Expired sessions stay visible as ErrExpired until
// the janitor sweeps them.
func (ms *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	ms.mu.RLock()
	data, ok := ms.data[id]
	ms.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("session: unmarshal %s: %w", id, err)
	}
	if s.Expired(time.Now().UTC()) {
		return nil, ErrExpired
	}
	return &s, nil
}

// Put writes the session and resets its expiry. Sessions are stored as
// serialized JSON so callers can't mutate stored state through retained
// pointers.
func (ms *MemoryStore) Put(ctx context.Context, s *Session) error {
	s.ExpiresAt = time.Now().UTC().Add(ms.ttl)

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session: marshal %s: %w", s.ID, err)
	}

	ms.mu.Lock()
	ms.data[s.ID] = data
	ms.mu.Unlock()
	return nil
}

// Delete removes the session. Deleting a missing session is not an error.
func (ms *MemoryStore) Delete(ctx context.Context, id string) error {
	ms.mu.Lock()
	delete(ms.data, id)
	ms.mu.Unlock()
	return nil
}

// Janitor purges sessions whose expiry (plus a grace window for ErrExpired
// visibility) has passed. It blocks until ctx is cancelled.
func (ms *MemoryStore) Janitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := ms.sweep(time.Now().UTC())
			if n > 0 {
				ms.logger.Debug("session janitor swept", "purged", n)
			}
		}
	}
}

// sweep removes sessions expired before now minus the grace window and
// returns how many were purged.
func (ms *MemoryStore) sweep(now time.Time) int {
	cutoff := now.Add(-expiryGrace)

	ms.mu.Lock()
	defer ms.mu.Unlock()

	purged := 0
	for id, data := range ms.data {
		var s Session
		if err := json.Unmarshal(data, &s); err != nil {
			delete(ms.data, id)
			purged++
			continue
		}
		if s.ExpiresAt.Before(cutoff) {
			delete(ms.data, id)
			purged++
		}
	}
	return purged
}
