package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(ttl time.Duration) *StreamTokenService {
	return NewStreamTokenService("test-secret", "lumabook", "lumabook-stream", ttl)
}

func TestStreamTokenRoundTrip(t *testing.T) {
	svc := newTestService(5 * time.Minute)

	token, expiresAt, err := svc.Mint("user-42")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), expiresAt, 5*time.Second)

	userID, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", userID)
}

func TestStreamTokenExpired(t *testing.T) {
	svc := newTestService(-time.Minute)

	token, _, err := svc.Mint("user-42")
	require.NoError(t, err)

	_, err = svc.Verify(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestStreamTokenWrongSecret(t *testing.T) {
	token, _, err := newTestService(time.Minute).Mint("user-42")
	require.NoError(t, err)

	other := NewStreamTokenService("different-secret", "lumabook", "lumabook-stream", time.Minute)
	_, err = other.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestStreamTokenWrongAudience(t *testing.T) {
	token, _, err := NewStreamTokenService("test-secret", "lumabook", "other-audience", time.Minute).Mint("user-42")
	require.NoError(t, err)

	_, err = newTestService(time.Minute).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestStreamTokenWrongScope(t *testing.T) {
	// A token signed with the right secret but the wrong scope claim must
	// not open a stream.
	claims := StreamTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-42",
			Issuer:    "lumabook",
			Audience:  jwt.ClaimStrings{"lumabook-stream"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
		Scope: "api",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = newTestService(time.Minute).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestStreamTokenGarbage(t *testing.T) {
	_, err := newTestService(time.Minute).Verify("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
