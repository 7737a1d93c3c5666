package token

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func mint(t *testing.T, userID string, exp time.Time) string {
	t.Helper()
	claims := Claims{UserID: userID}
	if !exp.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(exp)
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	return tok
}

func TestExpiryReadsUnverifiedClaim(t *testing.T) {
	exp := time.Unix(1_900_000_000, 0)
	got, err := Expiry(mint(t, "u1", exp))
	if err != nil {
		t.Fatalf("expiry failed: %v", err)
	}
	if !got.Equal(exp) {
		t.Fatalf("expected %v, got %v", exp, got)
	}
}

func TestExpiryMissingClaim(t *testing.T) {
	if _, err := Expiry(mint(t, "u1", time.Time{})); !errors.Is(err, ErrNoExpiry) {
		t.Fatalf("expected ErrNoExpiry, got %v", err)
	}
	if _, err := Expiry("not-a-jwt"); !errors.Is(err, ErrNoExpiry) {
		t.Fatalf("expected ErrNoExpiry for garbage, got %v", err)
	}
}

func TestExpiringSoon(t *testing.T) {
	now := time.Now()
	threshold := 10 * time.Minute

	if ExpiringSoon(mint(t, "u1", now.Add(time.Hour)), now, threshold) {
		t.Fatalf("token valid for an hour is not expiring soon")
	}
	if !ExpiringSoon(mint(t, "u1", now.Add(9*time.Minute)), now, threshold) {
		t.Fatalf("token inside threshold must be expiring soon")
	}
	if !ExpiringSoon(mint(t, "u1", now.Add(-time.Minute)), now, threshold) {
		t.Fatalf("expired token must be expiring soon")
	}
	if !ExpiringSoon("garbage", now, threshold) {
		t.Fatalf("unreadable token must be treated as expiring")
	}
}

func TestClaimsSubjectFallsBackToSub(t *testing.T) {
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "s1"}}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	parsed, err := Parse(tok)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if parsed.Subject() != "s1" {
		t.Fatalf("expected sub fallback, got %q", parsed.Subject())
	}
}
