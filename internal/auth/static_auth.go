package auth

import (
	"context"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// StaticAuthenticator checks every token against one configured bcrypt hash.
// With an empty hash it accepts any agk_ key, which is only meant for local
// development.
type StaticAuthenticator struct {
	hash  []byte
	cache *AuthCache
}

func NewStaticAuthenticator(hash string) *StaticAuthenticator {
	return &StaticAuthenticator{
		hash:  []byte(hash),
		cache: NewAuthCache(5 * time.Minute),
	}
}

func (a *StaticAuthenticator) Authenticate(_ context.Context, token string) (*Principal, error) {
	token, err := ParseBearer(token)
	if err != nil {
		return nil, err
	}
	if res := a.cache.Get(token); res.Hit && !res.NeedsRefresh {
		return res.Principal, nil
	}
	if len(a.hash) > 0 {
		if err := bcrypt.CompareHashAndPassword(a.hash, []byte(token)); err != nil {
			a.cache.Delete(token)
			return nil, ErrInvalidAPIKey
		}
	}
	p := &Principal{
		KeyID:    token[:8],
		Name:     "static",
		Operator: true,
	}
	a.cache.Set(token, p)
	return p, nil
}
