package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, s
}

func TestSaveAndLookupRefreshSession(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	err := store.SaveRefreshSession(ctx, "hash-1", "user-123", "alice@example.com", time.Now().Add(24*time.Hour))
	if err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	user, err := store.LookupRefreshSession(ctx, "hash-1")
	if err != nil {
		t.Fatalf("LookupRefreshSession failed: %v", err)
	}
	if user.ID != "user-123" || user.Email != "alice@example.com" {
		t.Fatalf("unexpected user: %+v", user)
	}
}

func TestLookupExpiredSession(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	err := store.SaveRefreshSession(ctx, "expired", "user-456", "bob@example.com", time.Now().Add(time.Millisecond))
	if err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	s.FastForward(2 * time.Millisecond)

	if _, err := store.LookupRefreshSession(ctx, "expired"); err == nil {
		t.Fatal("expected lookup of expired token to fail")
	}
}

func TestRevokeRefreshSession(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	_ = store.SaveRefreshSession(ctx, "hash-2", "user-789", "carol@example.com", time.Now().Add(time.Hour))
	if err := store.RevokeRefreshSession(ctx, "hash-2"); err != nil {
		t.Fatalf("RevokeRefreshSession failed: %v", err)
	}
	if _, err := store.LookupRefreshSession(ctx, "hash-2"); err == nil {
		t.Fatal("expected lookup of revoked token to fail")
	}
}
