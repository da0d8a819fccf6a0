// Package auth implements the short-lived stream token scheme. Tokens are
// minted by an authenticated caller holding primary credentials and accepted
// only by the streaming transport; they are never a general bearer credential.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// ScopeStream is the only scope stream tokens carry. Verify rejects anything
// else outright.
const ScopeStream = "stream"

var (
	// ErrTokenExpired is returned when the token has expired.
	ErrTokenExpired = errors.New("stream token expired")

	// ErrInvalidToken is returned when the token is invalid for any reason.
	ErrInvalidToken = errors.New("invalid stream token")
)

// StreamTokenClaims are the signed claims of a stream token.
type StreamTokenClaims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

// StreamTokenService mints and verifies stream tokens. Lifetime is minutes,
// not hours.
type StreamTokenService struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
}

func NewStreamTokenService(secret, issuer, audience string, ttl time.Duration) *StreamTokenService {
	return &StreamTokenService{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
	}
}

// Mint creates a signed token scoped to streaming for the given user.
func (s *StreamTokenService) Mint(userID string) (token string, expiresAt time.Time, err error) {
	now := time.Now()
	expiresAt = now.Add(s.ttl)

	claims := StreamTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.New().String(),
		},
		Scope: ScopeStream,
	}

	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Verify checks signature, issuer, audience, scope and expiry, and returns
// the token's subject user id.
func (s *StreamTokenService) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &StreamTokenClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(*StreamTokenClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	if claims.Scope != ScopeStream {
		return "", ErrInvalidToken
	}
	if claims.Issuer != s.issuer {
		return "", ErrInvalidToken
	}
	if !claims.VerifyAudience(s.audience, true) {
		return "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
