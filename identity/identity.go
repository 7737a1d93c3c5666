package identity

import (
	"context"
	"errors"
	"time"
)

// Cookie names used by the session layer.
const (
	CookieUserID       = "session_userid"
	CookieAccessToken  = "session_access_token"
	CookieRefreshToken = "session_refresh_token"
)

// Lifetimes of the stored values.
const (
	UserIDTTL       = 7 * 24 * time.Hour
	AccessTokenTTL  = 60 * time.Minute
	RefreshTokenTTL = 7 * 24 * time.Hour
)

// ErrUnavailable is returned when the backing store cannot be reached.
var ErrUnavailable = errors.New("identity store unavailable")

// Credentials is the identity written after a login or refresh. Empty fields
// are left untouched by Persist.
type Credentials struct {
	UserID       string
	AccessToken  string
	RefreshToken string
}

// Source reads the durable identity. Each accessor reports the value, whether
// it is present, and any error reaching the store.
type Source interface {
	UserID(ctx context.Context) (string, bool, error)
	AccessToken(ctx context.Context) (string, bool, error)
	RefreshToken(ctx context.Context) (string, bool, error)
}

// Persister writes and clears the durable identity.
type Persister interface {
	Persist(ctx context.Context, c Credentials) error
	Clear(ctx context.Context) error
}

// Store is a Source that can also be written.
type Store interface {
	Source
	Persister
}
