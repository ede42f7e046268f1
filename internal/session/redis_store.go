// Package session keeps short-lived editing-session and token state: the
// last version-capture time per (editing session, document) and revoked
// access-token ids.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// CaptureTTL bounds how long an idle editing session keeps its capture timestamp.
const CaptureTTL = 24 * time.Hour

type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "quire:"}
}

func (s *RedisStore) captureKey(sessionID, documentID string) string {
	return s.prefix + "capture:" + sessionID + ":" + documentID
}

func (s *RedisStore) revokedKey(tokenID string) string {
	return s.prefix + "revoked:" + tokenID
}

// LastCapture returns when the session last captured a version of the document.
func (s *RedisStore) LastCapture(ctx context.Context, sessionID, documentID string) (time.Time, bool, error) {
	raw, err := s.client.Get(ctx, s.captureKey(sessionID, documentID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read capture time: %w", err)
	}
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse capture time %q: %w", raw, err)
	}
	return time.Unix(0, nanos).UTC(), true, nil
}

func (s *RedisStore) MarkCaptured(ctx context.Context, sessionID, documentID string, at time.Time) error {
	value := strconv.FormatInt(at.UnixNano(), 10)
	if err := s.client.Set(ctx, s.captureKey(sessionID, documentID), value, CaptureTTL).Err(); err != nil {
		return fmt.Errorf("save capture time: %w", err)
	}
	return nil
}

// RevokeToken denylists a token id until the token would have expired anyway.
func (s *RedisStore) RevokeToken(ctx context.Context, tokenID string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, s.revokedKey(tokenID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (s *RedisStore) IsTokenRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.revokedKey(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
