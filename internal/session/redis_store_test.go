package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	store, _ := setupTestRedis(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	if _, err := NewRedisStore("not-a-url://"); err == nil {
		t.Fatal("expected error for invalid url")
	}
}

func TestCaptureTimestampRoundTrip(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	if _, ok, err := store.LastCapture(ctx, "sess-1", "doc-1"); err != nil || ok {
		t.Fatalf("LastCapture on empty store = ok %v, err %v", ok, err)
	}

	at := time.Date(2026, 3, 1, 12, 0, 0, 123, time.UTC)
	if err := store.MarkCaptured(ctx, "sess-1", "doc-1", at); err != nil {
		t.Fatalf("MarkCaptured failed: %v", err)
	}

	got, ok, err := store.LastCapture(ctx, "sess-1", "doc-1")
	if err != nil || !ok {
		t.Fatalf("LastCapture = ok %v, err %v", ok, err)
	}
	if !got.Equal(at) {
		t.Errorf("expected %v, got %v", at, got)
	}

	if _, ok, _ := store.LastCapture(ctx, "sess-2", "doc-1"); ok {
		t.Error("capture timestamps must be scoped to the editing session")
	}
}

func TestCaptureTimestampExpires(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.MarkCaptured(ctx, "sess-1", "doc-1", time.Now()); err != nil {
		t.Fatalf("MarkCaptured failed: %v", err)
	}
	s.FastForward(CaptureTTL + time.Second)

	if _, ok, _ := store.LastCapture(ctx, "sess-1", "doc-1"); ok {
		t.Error("expected capture timestamp to expire")
	}
}

func TestRevokeToken(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.RevokeToken(ctx, "jti-1", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("RevokeToken failed: %v", err)
	}
	revoked, err := store.IsTokenRevoked(ctx, "jti-1")
	if err != nil || !revoked {
		t.Fatalf("IsTokenRevoked = %v, %v", revoked, err)
	}

	s.FastForward(2 * time.Minute)
	if revoked, _ := store.IsTokenRevoked(ctx, "jti-1"); revoked {
		t.Error("expected revocation to lapse with the token")
	}
}

func TestRevokeExpiredTokenIsNoop(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()
	if err := store.RevokeToken(ctx, "old", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("RevokeToken failed: %v", err)
	}
	if revoked, _ := store.IsTokenRevoked(ctx, "old"); revoked {
		t.Error("already-expired token should not be stored")
	}
}

func TestMemoryStoreMatchesRedisSemantics(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	at := time.Now()

	if err := store.MarkCaptured(ctx, "s", "d", at); err != nil {
		t.Fatal(err)
	}
	got, ok, _ := store.LastCapture(ctx, "s", "d")
	if !ok || !got.Equal(at) {
		t.Fatalf("LastCapture = %v, %v", got, ok)
	}

	base := time.Now()
	store.now = func() time.Time { return base }
	_ = store.RevokeToken(ctx, "jti", base.Add(time.Minute))
	if revoked, _ := store.IsTokenRevoked(ctx, "jti"); !revoked {
		t.Fatal("expected token to be revoked")
	}
	store.now = func() time.Time { return base.Add(2 * time.Minute) }
	if revoked, _ := store.IsTokenRevoked(ctx, "jti"); revoked {
		t.Fatal("expected revocation to lapse")
	}
}
