package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoExpiry is returned when a token carries no readable exp claim.
var ErrNoExpiry = errors.New("token has no readable expiry")

// Claims are the payload fields read from access tokens.
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

// Subject returns the user id claim, falling back to sub.
func (c Claims) Subject() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.RegisteredClaims.Subject
}

// Parse reads the claims of tok without verifying its signature.
func Parse(tok string) (Claims, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(tok, &claims); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrNoExpiry, err)
	}
	return claims, nil
}

// Expiry returns the exp instant of tok.
func Expiry(tok string) (time.Time, error) {
	claims, err := Parse(tok)
	if err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, ErrNoExpiry
	}
	return claims.ExpiresAt.Time, nil
}

// ExpiringSoon reports whether tok expires within threshold of now. Tokens
// without a readable expiry are treated as expiring.
func ExpiringSoon(tok string, now time.Time, threshold time.Duration) bool {
	exp, err := Expiry(tok)
	if err != nil {
		return true
	}
	return exp.Sub(now) < threshold
}
