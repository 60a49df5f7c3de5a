package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// expiryGrace keeps expired sessions in Redis briefly past their TTL so Get
// can distinguish ErrExpired from ErrNotFound.
const expiryGrace = time.Hour

// RedisStore persists sessions as JSON under key "session:<id>" with a
// server-side TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisTTL overrides the session TTL (default DefaultTTL).
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(rs *RedisStore) { rs.ttl = ttl }
}

// WithRedisLogger sets a custom logger.
func WithRedisLogger(l *slog.Logger) RedisOption {
	return func(rs *RedisStore) { rs.logger = l }
}

// NewRedisStore wraps an existing Redis client. The caller owns the client's
// lifecycle; use client.Ping at startup to decide between this store and the
// in-memory fallback.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	rs := &RedisStore{
		client: client,
		ttl:    DefaultTTL,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(rs)
	}
	return rs
}

func sessionKey(id string) string {
	return "session:" + id
}

// Get fetches and unmarshals a session.
func (rs *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := rs.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: redis get: %w", err)
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

// Put writes the session and resets both its logical expiry and the Redis
// key TTL.
func (rs *RedisStore) Put(ctx context.Context, s *Session) error {
	s.ExpiresAt = time.Now().UTC().Add(rs.ttl)

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session: marshal %s: %w", s.ID, err)
	}
	if err := rs.client.Set(ctx, sessionKey(s.ID), data, rs.ttl+expiryGrace).Err(); err != nil {
		return fmt.Errorf("session: redis set: %w", err)
	}
	return nil
}

// Delete removes the session. Deleting a missing session is not an error.
func (rs *RedisStore) Delete(ctx context.Context, id string) error {
	if err := rs.client.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("session: redis del: %w", err)
	}
	return nil
}
