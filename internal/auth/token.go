package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/suPer8Hu/neko-client/internal/store"
)

const DefaultTokenKey = "neko-auth-token"

// TokenStore keeps the bearer token in a KV under one key.
type TokenStore struct {
	kv  store.KV
	key string
}

func NewTokenStore(kv store.KV, key string) *TokenStore {
	if key == "" {
		key = DefaultTokenKey
	}
	return &TokenStore{kv: kv, key: key}
}

// Token returns the stored token, or "" when there is none.
func (s *TokenStore) Token(ctx context.Context) (string, error) {
	tok, _, err := s.kv.Get(ctx, s.key)
	return tok, err
}

func (s *TokenStore) Set(ctx context.Context, token string) error {
	return s.kv.Set(ctx, s.key, token)
}

func (s *TokenStore) Clear(ctx context.Context) error {
	return s.kv.Delete(ctx, s.key)
}

// Claims decodes the stored token without verifying its signature; the
// client has no key and only reads subject and expiry for display.
func (s *TokenStore) Claims(ctx context.Context) (*jwt.RegisteredClaims, error) {
	tok, err := s.Token(ctx)
	if err != nil {
		return nil, err
	}
	if tok == "" {
		return nil, ErrNoToken
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return nil, errors.Wrap(err, "decode token")
	}
	return claims, nil
}

// Valid reports whether a token is stored and not past its expiry.
func (s *TokenStore) Valid(ctx context.Context) bool {
	claims, err := s.Claims(ctx)
	if err != nil {
		return false
	}
	return claims.ExpiresAt == nil || claims.ExpiresAt.After(time.Now())
}
