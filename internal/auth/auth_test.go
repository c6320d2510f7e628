package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/neko-client/internal/store"
)

func TestJWTRoundTrip(t *testing.T) {
	tok, err := SignJWT("user-1", "secret", time.Hour)
	require.NoError(t, err)

	sub, err := ParseJWT(tok, "secret")
	require.NoError(t, err)
	assert.Equal(t, "user-1", sub)

	_, err = ParseJWT(tok, "other-secret")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTExpired(t *testing.T) {
	tok, err := SignJWT("user-1", "secret", -time.Minute)
	require.NoError(t, err)
	_, err = ParseJWT(tok, "secret")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPassword(t *testing.T) {
	h, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.True(t, CheckPassword(h, "hunter2"))
	assert.False(t, CheckPassword(h, "hunter3"))
}

func TestTokenStore(t *testing.T) {
	ctx := context.Background()
	s := NewTokenStore(store.NewMemory(), "")

	tok, err := s.Token(ctx)
	require.NoError(t, err)
	assert.Empty(t, tok)
	assert.False(t, s.Valid(ctx))
	_, err = s.Claims(ctx)
	assert.ErrorIs(t, err, ErrNoToken)

	signed, err := SignJWT("u42", "k", time.Hour)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, signed))

	claims, err := s.Claims(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u42", claims.Subject)
	assert.True(t, s.Valid(ctx))

	require.NoError(t, s.Clear(ctx))
	assert.False(t, s.Valid(ctx))
}

func TestTokenStoreExpired(t *testing.T) {
	ctx := context.Background()
	s := NewTokenStore(store.NewMemory(), "tok")
	signed, err := SignJWT("u42", "k", -time.Hour)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, signed))
	assert.False(t, s.Valid(ctx))
}

func TestTokenStoreGarbage(t *testing.T) {
	ctx := context.Background()
	s := NewTokenStore(store.NewMemory(), "tok")
	require.NoError(t, s.Set(ctx, "not-a-jwt"))
	_, err := s.Claims(ctx)
	assert.Error(t, err)
	assert.False(t, s.Valid(ctx))
}
