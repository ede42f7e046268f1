package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the single-process fallback used when no Redis URL is configured.
type MemoryStore struct {
	mu       sync.Mutex
	captures map[string]time.Time
	revoked  map[string]time.Time
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		captures: make(map[string]time.Time),
		revoked:  make(map[string]time.Time),
		now:      time.Now,
	}
}

func (s *MemoryStore) LastCapture(_ context.Context, sessionID, documentID string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.captures[sessionID+":"+documentID]
	return at, ok, nil
}

func (s *MemoryStore) MarkCaptured(_ context.Context, sessionID, documentID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captures[sessionID+":"+documentID] = at
	return nil
}

func (s *MemoryStore) RevokeToken(_ context.Context, tokenID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[tokenID] = expiresAt
	return nil
}

func (s *MemoryStore) IsTokenRevoked(_ context.Context, tokenID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiresAt, ok := s.revoked[tokenID]
	if !ok {
		return false, nil
	}
	if s.now().After(expiresAt) {
		delete(s.revoked, tokenID)
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
