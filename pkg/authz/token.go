package authz

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the JWT claims expected on administrative requests.
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
}

// TokenValidator validates HS256 bearer tokens and extracts claims.
type TokenValidator struct {
	secret []byte
}

// NewTokenValidator creates a validator for the shared signing secret.
func NewTokenValidator(secret []byte) *TokenValidator {
	if len(secret) == 0 {
		return nil
	}
	return &TokenValidator{secret: secret}
}

// Validate parses and validates a token string.
func (v *TokenValidator) Validate(tokenStr string) (*Claims, error) {
	if v == nil {
		return nil, fmt.Errorf("validator uninitialized")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// Issue signs a token for subject carrying the given roles. Used by the
// operator tooling and by tests.
func (v *TokenValidator) Issue(subject string, roles []string, ttl time.Duration) (string, error) {
	if v == nil {
		return "", fmt.Errorf("validator uninitialized")
	}
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Roles: roles,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
