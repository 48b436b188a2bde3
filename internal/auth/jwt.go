// Package auth provides bearer token validation for the API.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when a token fails validation.
var ErrInvalidToken = errors.New("invalid token")

// Claims represents the JWT claims for access tokens. The subject is
// the actor identifier attributed on audit entries.
type Claims struct {
	jwt.RegisteredClaims
}

// JWTValidator validates HMAC-signed JWT access tokens. Token issuance
// belongs to the external identity provider; this side only verifies.
type JWTValidator struct {
	secret []byte
	issuer string
}

// NewJWTValidator creates a new JWT validator.
func NewJWTValidator(secret []byte, issuer string) *JWTValidator {
	return &JWTValidator{
		secret: secret,
		issuer: issuer,
	}
}

// ValidateToken validates a JWT token and returns the actor (subject).
func (v *JWTValidator) ValidateToken(_ context.Context, tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}

	if v.issuer != "" && claims.Issuer != v.issuer {
		return "", fmt.Errorf("%w: unexpected issuer", ErrInvalidToken)
	}

	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return claims.Subject, nil
}

// GenerateToken creates a signed token for the given actor. Used by
// operational tooling and tests; production tokens come from the
// identity provider.
func (v *JWTValidator) GenerateToken(actor string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   actor,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
