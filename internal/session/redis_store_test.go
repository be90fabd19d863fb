package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"bloodlink/api/internal/store"
	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rs, err := NewRedisStore(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = rs.Close() })
	return rs, mr
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	if _, err := NewRedisStore(context.Background(), "not-a-url"); err == nil {
		t.Fatal("expected parse error for bad redis url")
	}
}

func TestSaveAndLookupRefreshSession(t *testing.T) {
	rs, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := rs.SaveRefreshSession(ctx, "hash-1", "usr_1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	user, err := rs.LookupRefreshSession(ctx, "hash-1")
	if err != nil {
		t.Fatalf("LookupRefreshSession failed: %v", err)
	}
	if user.ID != "usr_1" {
		t.Fatalf("expected usr_1, got %s", user.ID)
	}
}

func TestRefreshSessionExpires(t *testing.T) {
	rs, mr := setupTestRedis(t)
	ctx := context.Background()

	if err := rs.SaveRefreshSession(ctx, "hash-2", "usr_2", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	if _, err := rs.LookupRefreshSession(ctx, "hash-2"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestSaveAlreadyExpiredSessionIsSkipped(t *testing.T) {
	rs, mr := setupTestRedis(t)
	ctx := context.Background()

	if err := rs.SaveRefreshSession(ctx, "hash-old", "usr_3", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	if mr.Exists(refreshPrefix + "hash-old") {
		t.Fatal("expected expired session not to be stored")
	}
}

func TestRevokeRefreshSessionIsolation(t *testing.T) {
	rs, _ := setupTestRedis(t)
	ctx := context.Background()
	expiresAt := time.Now().Add(time.Hour)

	_ = rs.SaveRefreshSession(ctx, "token-1", "usr_1", expiresAt)
	_ = rs.SaveRefreshSession(ctx, "token-2", "usr_2", expiresAt)

	if err := rs.RevokeRefreshSession(ctx, "token-1"); err != nil {
		t.Fatalf("RevokeRefreshSession failed: %v", err)
	}
	if err := rs.RevokeRefreshSession(ctx, "missing"); err != nil {
		t.Fatalf("expected revoking a missing session to succeed, got %v", err)
	}
	if _, err := rs.LookupRefreshSession(ctx, "token-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected token-1 to be revoked, got %v", err)
	}
	user, err := rs.LookupRefreshSession(ctx, "token-2")
	if err != nil || user.ID != "usr_2" {
		t.Fatalf("expected token-2 to survive, got %+v err=%v", user, err)
	}
}

func TestAccessTokenRevocation(t *testing.T) {
	rs, mr := setupTestRedis(t)
	ctx := context.Background()

	revoked, err := rs.IsAccessTokenRevoked(ctx, "jti-1")
	if err != nil || revoked {
		t.Fatalf("expected fresh jti to be valid, got revoked=%v err=%v", revoked, err)
	}
	if err := rs.RevokeAccessToken(ctx, "jti-1", time.Now().Add(15*time.Minute)); err != nil {
		t.Fatalf("RevokeAccessToken failed: %v", err)
	}
	revoked, _ = rs.IsAccessTokenRevoked(ctx, "jti-1")
	if !revoked {
		t.Fatal("expected jti-1 to be revoked")
	}

	mr.FastForward(16 * time.Minute)
	revoked, _ = rs.IsAccessTokenRevoked(ctx, "jti-1")
	if revoked {
		t.Fatal("expected denylist entry to lapse with the token")
	}
}
