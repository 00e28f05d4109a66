package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"callcrm/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

func newTestManager(t *testing.T, ttl time.Duration) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewManager(rdb, "test-secret", ttl), s
}

func TestManager_CreateAndValidate(t *testing.T) {
	m, _ := newTestManager(t, time.Hour)
	ctx := context.Background()

	token, created, err := m.Create(ctx, 42, model.RoleCCAgent)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	sess, err := m.Validate(ctx, token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if sess.ID != created.ID || sess.UserID != 42 || sess.Role != model.RoleCCAgent {
		t.Fatalf("unexpected session %+v", sess)
	}
}

func TestManager_SlidingExpiry(t *testing.T) {
	m, mr := newTestManager(t, time.Hour)
	ctx := context.Background()

	token, _, err := m.Create(ctx, 1, model.RoleCROAgent)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	mr.FastForward(50 * time.Minute)
	if _, err := m.Validate(ctx, token); err != nil {
		t.Fatalf("validate before expiry: %v", err)
	}
	mr.FastForward(50 * time.Minute)
	if _, err := m.Validate(ctx, token); err != nil {
		t.Fatalf("validate should have been refreshed: %v", err)
	}

	mr.FastForward(61 * time.Minute)
	if _, err := m.Validate(ctx, token); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestManager_Revoke(t *testing.T) {
	m, _ := newTestManager(t, time.Hour)
	ctx := context.Background()

	t1, s1, _ := m.Create(ctx, 7, model.RoleSuperAdmin)
	t2, _, _ := m.Create(ctx, 7, model.RoleSuperAdmin)
	t3, _, _ := m.Create(ctx, 8, model.RoleCCAgent)

	if err := m.Revoke(ctx, s1); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := m.Validate(ctx, t1); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected revoked session, got %v", err)
	}
	if _, err := m.Validate(ctx, t2); err != nil {
		t.Fatalf("other session should survive: %v", err)
	}

	if err := m.RevokeUser(ctx, 7); err != nil {
		t.Fatalf("revoke user: %v", err)
	}
	if _, err := m.Validate(ctx, t2); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected all user sessions revoked, got %v", err)
	}
	if _, err := m.Validate(ctx, t3); err != nil {
		t.Fatalf("other user's session should survive: %v", err)
	}
}

func TestManager_RejectsBadTokens(t *testing.T) {
	m, _ := newTestManager(t, time.Hour)
	ctx := context.Background()

	if _, err := m.Validate(ctx, ""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("empty token: %v", err)
	}
	if _, err := m.Validate(ctx, "not.a.jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage token: %v", err)
	}

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{ID: "abc", Subject: "1"})
	signed, err := forged.SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.Validate(ctx, signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("forged token: %v", err)
	}

	valid := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{ID: "missing", Subject: "1"})
	signed, err = valid.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.Validate(ctx, signed); !errors.Is(err, ErrExpired) {
		t.Fatalf("unknown session id: %v", err)
	}
}
