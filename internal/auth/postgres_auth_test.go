package auth

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// testAPIKey is the raw API key used in tests. Must start with "agk_" and be >= 8 chars.
const testAPIKey = "agk_test_valid_key_1234567890abcdef"

// testHash returns a bcrypt hash of testAPIKey using MinCost (fast for tests).
func testHash(t *testing.T) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testAPIKey), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to generate bcrypt hash: %v", err)
	}
	return string(hash)
}

// mockStore implements KeyStore for testing.
type mockStore struct {
	row       atomic.Pointer[keyRow]
	err       atomic.Pointer[error]
	callCount atomic.Int32
}

func newMockStore(row *keyRow, err error) *mockStore {
	m := &mockStore{}
	m.row.Store(row)
	if err != nil {
		m.err.Store(&err)
	}
	return m
}

func (m *mockStore) LookupByPrefix(_ context.Context, _ string) (*keyRow, error) {
	m.callCount.Add(1)
	if e := m.err.Load(); e != nil {
		return nil, *e
	}
	return m.row.Load(), nil
}

func TestPostgresAuth_CacheMiss_ValidKey(t *testing.T) {
	store := newMockStore(&keyRow{ID: "key_abc", Name: "ci", KeyHash: testHash(t), Operator: true}, nil)
	auth := newPostgresAuthenticatorWithStore(store, NewAuthCache(time.Minute), zap.NewNop())

	p, err := auth.Authenticate(context.Background(), "Bearer "+testAPIKey)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if p.KeyID != "key_abc" || p.Name != "ci" || !p.Operator {
		t.Errorf("unexpected principal: %+v", p)
	}
	if store.callCount.Load() != 1 {
		t.Errorf("expected 1 DB call, got %d", store.callCount.Load())
	}
}

func TestPostgresAuth_CacheHit_NoDBCall(t *testing.T) {
	store := newMockStore(&keyRow{ID: "key_abc", KeyHash: testHash(t)}, nil)
	auth := newPostgresAuthenticatorWithStore(store, NewAuthCache(time.Minute), zap.NewNop())

	if _, err := auth.Authenticate(context.Background(), testAPIKey); err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	if _, err := auth.Authenticate(context.Background(), testAPIKey); err != nil {
		t.Fatalf("second call failed: %v", err)
	}
	if store.callCount.Load() != 1 {
		t.Errorf("expected still 1 DB call (cache hit), got %d", store.callCount.Load())
	}
}

func TestPostgresAuth_InvalidKey(t *testing.T) {
	store := newMockStore(&keyRow{ID: "key_abc", KeyHash: testHash(t)}, nil)
	auth := newPostgresAuthenticatorWithStore(store, NewAuthCache(time.Minute), zap.NewNop())

	_, err := auth.Authenticate(context.Background(), "Bearer agk_wrong_key_doesnt_match_hash_at_all")
	if !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("expected ErrInvalidAPIKey, got: %v", err)
	}
}

func TestPostgresAuth_KeyNotFound(t *testing.T) {
	// The real sqlKeyStore converts sql.ErrNoRows to ErrInvalidAPIKey.
	store := newMockStore(nil, ErrInvalidAPIKey)
	auth := newPostgresAuthenticatorWithStore(store, NewAuthCache(time.Minute), zap.NewNop())

	_, err := auth.Authenticate(context.Background(), testAPIKey)
	if !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("expected ErrInvalidAPIKey, got: %v", err)
	}
}

func TestPostgresAuth_DBDown_ReturnsUnavailable(t *testing.T) {
	store := newMockStore(nil, errors.New("connection refused"))
	auth := newPostgresAuthenticatorWithStore(store, NewAuthCache(time.Minute), zap.NewNop())

	_, err := auth.Authenticate(context.Background(), testAPIKey)
	if !errors.Is(err, ErrAuthUnavailable) {
		t.Errorf("expected ErrAuthUnavailable, got: %v", err)
	}
}

func TestPostgresAuth_MissingAPIKey(t *testing.T) {
	store := newMockStore(nil, nil)
	auth := newPostgresAuthenticatorWithStore(store, NewAuthCache(time.Minute), zap.NewNop())

	if _, err := auth.Authenticate(context.Background(), ""); err != ErrMissingAPIKey {
		t.Errorf("expected ErrMissingAPIKey, got: %v", err)
	}
	if store.callCount.Load() != 0 {
		t.Error("DB should not be called when API key is missing")
	}
}

func TestPostgresAuth_StaleHit_ServesStaleThenEvictsRevokedKey(t *testing.T) {
	store := newMockStore(&keyRow{ID: "key_stale", KeyHash: testHash(t)}, nil)
	auth := newPostgresAuthenticatorWithStore(store, NewAuthCache(time.Millisecond), zap.NewNop())

	if _, err := auth.Authenticate(context.Background(), testAPIKey); err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	// Key revoked in the database after it was cached.
	revoked := error(ErrInvalidAPIKey)
	store.err.Store(&revoked)

	p, err := auth.Authenticate(context.Background(), testAPIKey)
	if err != nil {
		t.Fatalf("stale hit should still succeed, got: %v", err)
	}
	if p.KeyID != "key_stale" {
		t.Errorf("expected stale principal key_stale, got %s", p.KeyID)
	}

	deadline := time.Now().Add(2 * time.Second)
	for auth.cache.Get(testAPIKey).Hit {
		if time.Now().After(deadline) {
			t.Fatal("revoked key was never evicted")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := auth.Authenticate(context.Background(), testAPIKey); !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("expected ErrInvalidAPIKey after eviction, got: %v", err)
	}
}
