package identity

import (
	"context"
	"errors"
	"net/http"
	"net/url"
)

// SessionCookies renders c as the Set-Cookie values a login handler issues.
func SessionCookies(c Credentials, secure bool) []*http.Cookie {
	var out []*http.Cookie
	add := func(name, value string, ttl int) {
		if value == "" {
			return
		}
		out = append(out, &http.Cookie{
			Name:     name,
			Value:    value,
			Path:     "/",
			MaxAge:   ttl,
			HttpOnly: true,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
	add(CookieUserID, c.UserID, int(UserIDTTL.Seconds()))
	add(CookieAccessToken, c.AccessToken, int(AccessTokenTTL.Seconds()))
	add(CookieRefreshToken, c.RefreshToken, int(RefreshTokenTTL.Seconds()))
	return out
}

// ClearedCookies returns cookies that delete the session triple.
func ClearedCookies(secure bool) []*http.Cookie {
	names := []string{CookieUserID, CookieAccessToken, CookieRefreshToken}
	out := make([]*http.Cookie, 0, len(names))
	for _, name := range names {
		out = append(out, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   secure,
		})
	}
	return out
}

// CookieStore keeps the identity in a cookie jar scoped to a base URL.
type CookieStore struct {
	jar    http.CookieJar
	base   *url.URL
	secure bool
}

// NewCookieStore returns a store over jar for base. secure marks the cookies
// Secure; a jar only returns those for https URLs.
func NewCookieStore(jar http.CookieJar, base *url.URL, secure bool) (*CookieStore, error) {
	if jar == nil || base == nil {
		return nil, errors.New("cookie store requires a jar and a base url")
	}
	return &CookieStore{jar: jar, base: base, secure: secure}, nil
}

// Jar returns the underlying cookie jar, for HTTP clients that share it.
func (s *CookieStore) Jar() http.CookieJar {
	return s.jar
}

func (s *CookieStore) lookup(name string) (string, bool, error) {
	for _, c := range s.jar.Cookies(s.base) {
		if c.Name == name && c.Value != "" {
			return c.Value, true, nil
		}
	}
	return "", false, nil
}

func (s *CookieStore) UserID(context.Context) (string, bool, error) {
	return s.lookup(CookieUserID)
}

func (s *CookieStore) AccessToken(context.Context) (string, bool, error) {
	return s.lookup(CookieAccessToken)
}

func (s *CookieStore) RefreshToken(context.Context) (string, bool, error) {
	return s.lookup(CookieRefreshToken)
}

func (s *CookieStore) Persist(_ context.Context, c Credentials) error {
	s.jar.SetCookies(s.base, SessionCookies(c, s.secure))
	return nil
}

func (s *CookieStore) Clear(context.Context) error {
	s.jar.SetCookies(s.base, ClearedCookies(s.secure))
	return nil
}
