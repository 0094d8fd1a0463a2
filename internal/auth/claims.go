package auth

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/hay-kot/dockhand/internal/core/session"
)

// tokenClaims is the access token payload. The API signs the user id into
// "sub"; older tokens carry it as "id".
type tokenClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"id,omitempty"`
}

// DecodeClaims decodes an access token without verifying its signature.
// The client holds no signing key; the API verifies every request. Returns
// nil for empty or malformed tokens.
func DecodeClaims(token string) *session.Claims {
	if token == "" {
		return nil
	}

	var c tokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
		return nil
	}

	claims := &session.Claims{Subject: c.Subject}
	if claims.Subject == "" {
		claims.Subject = c.UserID
	}
	if c.ExpiresAt != nil {
		claims.ExpiresAt = c.ExpiresAt.Time
	}
	if c.IssuedAt != nil {
		claims.IssuedAt = c.IssuedAt.Time
	}

	return claims
}
