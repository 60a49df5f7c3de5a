// Package profcache caches enriched professor profiles in SQLite so repeat
// match runs against the same university skip the expensive enrichment calls.
//
// Entries are keyed (university_id, professor_id) and replaced wholesale on
// write. Staleness is enforced on read and by a periodic reaper; concurrent
// duplicate writes are benign since both writers hold equivalent data and the
// last write wins.
package profcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultTTL is how long a cached profile is considered fresh.
const DefaultTTL = 7 * 24 * time.Hour

// ErrMiss is returned by Get when no fresh entry exists, whether the entry
// is absent or stale.
var ErrMiss = errors.New("profcache: miss")

// Schema defines the professor profile cache table.
const Schema = `
CREATE TABLE IF NOT EXISTS professor_cache (
    university_id TEXT NOT NULL,
    professor_id  TEXT NOT NULL,
    profile       TEXT NOT NULL,
    cached_at     INTEGER NOT NULL,
    PRIMARY KEY (university_id, professor_id)
);

CREATE INDEX IF NOT EXISTS idx_professor_cache_age ON professor_cache(cached_at);
`

// Cache is a TTL cache over a SQLite table.
type Cache struct {
	db     *sql.DB
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides the freshness window (default DefaultTTL).
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(c *Cache) { c.now = fn }
}

// New creates the cache table if needed and returns a Cache over db.
func New(db *sql.DB, opts ...Option) (*Cache, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("profcache: create schema: %w", err)
	}
	c := &Cache{
		db:     db,
		ttl:    DefaultTTL,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Get returns the cached profile JSON for (universityID, professorID), or
// ErrMiss when no entry exists or the entry is older than the TTL.
func (c *Cache) Get(ctx context.Context, universityID, professorID string) (json.RawMessage, error) {
	cutoff := c.now().Add(-c.ttl).Unix()

	var profile string
	err := c.db.QueryRowContext(ctx, `
		SELECT profile FROM professor_cache
		WHERE university_id = ? AND professor_id = ? AND cached_at > ?`,
		universityID, professorID, cutoff).Scan(&profile)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("profcache: get %s/%s: %w", universityID, professorID, err)
	}
	return json.RawMessage(profile), nil
}

// Put stores the profile JSON, replacing any existing entry for the key.
func (c *Cache) Put(ctx context.Context, universityID, professorID string, profile json.RawMessage) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO professor_cache (university_id, professor_id, profile, cached_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(university_id, professor_id) DO UPDATE SET
			profile = excluded.profile,
			cached_at = excluded.cached_at`,
		universityID, professorID, string(profile), c.now().Unix())
	if err != nil {
		return fmt.Errorf("profcache: put %s/%s: %w", universityID, professorID, err)
	}
	return nil
}

// DeleteExpired removes entries older than the TTL and returns how many
// rows were deleted.
func (c *Cache) DeleteExpired(ctx context.Context) (int64, error) {
	cutoff := c.now().Add(-c.ttl).Unix()
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM professor_cache WHERE cached_at <= ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("profcache: delete expired: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Reaper runs DeleteExpired on a fixed interval until ctx is cancelled.
func (c *Cache) Reaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := c.DeleteExpired(ctx)
			if err != nil {
				c.logger.Warn("cache reaper failed", "error", err)
				continue
			}
			if n > 0 {
				c.logger.Debug("cache reaper purged entries", "purged", n)
			}
		}
	}
}
