package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// KeyStore abstracts DB queries for testability.
type KeyStore interface {
	LookupByPrefix(ctx context.Context, prefix string) (*keyRow, error)
}

type keyRow struct {
	ID       string
	Name     string
	KeyHash  string
	Operator bool
}

// sqlKeyStore is the real implementation using *sql.DB.
type sqlKeyStore struct {
	db *sql.DB
}

func (s *sqlKeyStore) LookupByPrefix(ctx context.Context, prefix string) (*keyRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, key_hash, operator
		FROM api_keys
		WHERE key_prefix = $1 AND revoked_at IS NULL
	`, prefix)

	var r keyRow
	if err := row.Scan(&r.ID, &r.Name, &r.KeyHash, &r.Operator); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidAPIKey
		}
		return nil, fmt.Errorf("sqlKeyStore.LookupByPrefix: %w", err)
	}
	return &r, nil
}

// PostgresAuthenticator validates API keys against the api_keys table.
type PostgresAuthenticator struct {
	store  KeyStore
	cache  *AuthCache
	logger *zap.Logger
}

// PostgresAuthConfig configures the PostgresAuthenticator.
type PostgresAuthConfig struct {
	DB       *sql.DB
	CacheTTL time.Duration
	Logger   *zap.Logger
}

// NewPostgresAuthenticator creates a new PostgresAuthenticator.
func NewPostgresAuthenticator(cfg PostgresAuthConfig) *PostgresAuthenticator {
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = 30 * time.Second
	}
	return newPostgresAuthenticatorWithStore(&sqlKeyStore{db: cfg.DB}, NewAuthCache(ttl), cfg.Logger)
}

func newPostgresAuthenticatorWithStore(store KeyStore, cache *AuthCache, logger *zap.Logger) *PostgresAuthenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresAuthenticator{
		store:  store,
		cache:  cache,
		logger: logger,
	}
}

func (a *PostgresAuthenticator) Authenticate(ctx context.Context, token string) (*Principal, error) {
	token, err := ParseBearer(token)
	if err != nil {
		return nil, err
	}

	cacheResult := a.cache.Get(token)
	if cacheResult.Hit {
		if cacheResult.NeedsRefresh {
			go a.backgroundRefresh(token)
		}
		return cacheResult.Principal, nil
	}

	p, err := a.lookupAndVerify(ctx, token)
	if err != nil {
		return a.handleLookupError(err)
	}

	a.cache.Set(token, p)
	return p, nil
}

// backgroundRefresh re-validates a stale key. A key that no longer verifies
// is evicted; a backend error keeps serving the stale entry.
func (a *PostgresAuthenticator) backgroundRefresh(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p, err := a.lookupAndVerify(ctx, token)
	switch {
	case errors.Is(err, ErrInvalidAPIKey):
		a.cache.Delete(token)
	case err != nil:
		a.logger.Warn("background auth refresh failed",
			zap.String("key_prefix", token[:8]),
			zap.Error(err),
		)
		if prev := a.cache.Get(token); prev.Principal != nil {
			a.cache.Set(token, prev.Principal)
		}
	default:
		a.cache.Set(token, p)
	}
}

func (a *PostgresAuthenticator) lookupAndVerify(ctx context.Context, token string) (*Principal, error) {
	row, err := a.store.LookupByPrefix(ctx, token[:8])
	if err != nil {
		if errors.Is(err, ErrInvalidAPIKey) {
			return nil, ErrInvalidAPIKey
		}
		return nil, fmt.Errorf("lookupAndVerify: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(row.KeyHash), []byte(token)); err != nil {
		return nil, ErrInvalidAPIKey
	}

	return &Principal{
		KeyID:    row.ID,
		Name:     row.Name,
		Operator: row.Operator,
	}, nil
}

func (a *PostgresAuthenticator) handleLookupError(err error) (*Principal, error) {
	if errors.Is(err, ErrInvalidAPIKey) {
		return nil, ErrInvalidAPIKey
	}
	a.logger.Error("auth lookup failed", zap.Error(err))
	return nil, fmt.Errorf("%w: %v", ErrAuthUnavailable, err)
}
