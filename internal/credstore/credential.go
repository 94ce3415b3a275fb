// Package credstore holds the session's credential record and anti-forgery
// token, and persists them to a local key-value backend.
package credstore

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credential holds the tokens of one authenticated session.
//
// A Credential is a value: the Store hands out copies, so a caller can never
// observe a new access token paired with an old refresh token.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// CanRefresh reports whether a refresh may be attempted with this credential.
func (c Credential) CanRefresh() bool {
	return c.RefreshToken != ""
}

// Expired reports whether the advisory expiry has passed. The server remains
// the authority; a false result does not mean the token will be accepted.
func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// ExpiryFromJWT reads the exp claim of a JWT access token without verifying
// its signature. It returns false when the token is not a JWT or has no exp.
func ExpiryFromJWT(token string) (time.Time, bool) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
