package authapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/William-g7/Airnest-sub001/token"
)

type backend struct {
	csrfCalls atomic.Int32
	login     http.HandlerFunc
	refresh   http.HandlerFunc
	logout    http.HandlerFunc
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case PathCSRF:
		b.csrfCalls.Add(1)
		http.SetCookie(w, &http.Cookie{Name: CSRFCookie, Value: "csrf-1", Path: "/"})
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Header.Get(CSRFHeader) != "csrf-1" {
		http.Error(w, `{"detail":"CSRF Failed"}`, http.StatusForbidden)
		return
	}
	switch r.URL.Path {
	case PathLogin:
		b.login(w, r)
	case PathRefresh:
		b.refresh(w, r)
	case PathLogout:
		b.logout(w, r)
	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, b *backend) *Client {
	t.Helper()
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	c, err := New(Config{BaseURL: srv.URL, Locale: "fr"}, WithHTTPClient(&http.Client{Jar: jar}))
	require.NoError(t, err)
	return c
}

func TestLoginExtractsUserID(t *testing.T) {
	cases := []struct {
		name string
		body map[string]any
		want string
	}{
		{"user_pk", map[string]any{"access": "a", "refresh": "r", "user_pk": 42}, "42"},
		{"user_id", map[string]any{"access": "a", "refresh": "r", "user_id": "u-7"}, "u-7"},
		{"nested", map[string]any{"access": "a", "refresh": "r", "user": map[string]any{"pk": "p9", "email_verified": true}}, "p9"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := &backend{login: func(w http.ResponseWriter, r *http.Request) {
				var in map[string]string
				require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
				assert.Equal(t, "alice@example.com", in["email"])
				assert.Equal(t, "fr", r.Header.Get("Accept-Language"))
				assert.NotEmpty(t, r.Header.Get("Origin"))
				writeJSON(w, http.StatusOK, tc.body)
			}}
			res, err := newTestClient(t, b).Login(context.Background(), "alice@example.com", "pw")
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.UserID)
			assert.Equal(t, "a", res.AccessToken)
			assert.Equal(t, "r", res.RefreshToken)
		})
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	b := &backend{login: func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"non_field_errors": []string{"Unable to log in with provided credentials."}})
	}}
	_, err := newTestClient(t, b).Login(context.Background(), "a@b.c", "bad")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "Unable to log in with provided credentials.", apiErr.Message)
}

func TestLoginMissingUserID(t *testing.T) {
	b := &backend{login: func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"access": "a", "refresh": "r"})
	}}
	_, err := newTestClient(t, b).Login(context.Background(), "a@b.c", "pw")
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestLoginEmailNotVerified(t *testing.T) {
	b := &backend{login: func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"access": "a", "refresh": "r", "user": map[string]any{"pk": 1, "email_verified": false}})
	}}
	_, err := newTestClient(t, b).Login(context.Background(), "a@b.c", "pw")
	assert.ErrorIs(t, err, ErrEmailNotVerified)
}

func TestRefreshClassification(t *testing.T) {
	cases := []struct {
		status   int
		rejected bool
	}{
		{http.StatusUnauthorized, true},
		{http.StatusBadRequest, true},
		{http.StatusForbidden, true},
		{http.StatusInternalServerError, false},
		{http.StatusBadGateway, false},
	}
	for _, tc := range cases {
		b := &backend{refresh: func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, tc.status, map[string]any{"detail": "Token is invalid or expired", "code": "token_not_valid"})
		}}
		_, err := newTestClient(t, b).Refresh(context.Background(), "rt")
		require.Error(t, err)
		assert.Equal(t, tc.rejected, errors.Is(err, token.ErrRejected), "status %d", tc.status)
		assert.Equal(t, !tc.rejected, errors.Is(err, ErrTransient), "status %d", tc.status)
	}
}

func TestRefreshSuccess(t *testing.T) {
	b := &backend{refresh: func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "rt", in["refresh"])
		writeJSON(w, http.StatusOK, map[string]any{"access": "a2", "refresh": "rt2"})
	}}
	c := newTestClient(t, b)
	got, err := c.Refresh(context.Background(), "rt")
	require.NoError(t, err)
	assert.Equal(t, token.Tokens{Access: "a2", Refresh: "rt2"}, got)

	_, err = c.Refresh(context.Background(), "rt")
	require.NoError(t, err)
	assert.Equal(t, int32(1), b.csrfCalls.Load(), "csrf token should be reused from the jar")
}

func TestRefreshNetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(Config{BaseURL: url})
	require.NoError(t, err)
	_, err = c.Refresh(context.Background(), "rt")
	require.ErrorIs(t, err, ErrTransient)
	assert.False(t, errors.Is(err, token.ErrRejected))
}

func TestLogout(t *testing.T) {
	var called atomic.Bool
	b := &backend{logout: func(w http.ResponseWriter, _ *http.Request) {
		called.Store(true)
		w.WriteHeader(http.StatusOK)
	}}
	require.NoError(t, newTestClient(t, b).Logout(context.Background(), "rt"))
	assert.True(t, called.Load())
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	_, err := New(Config{BaseURL: "not a url"})
	assert.Error(t, err)
}

func TestErrorMessagePriority(t *testing.T) {
	assert.Equal(t, "bad email", errorMessage([]byte(`{"detail":"d","email":["bad email"]}`)))
	assert.Equal(t, "d", errorMessage([]byte(`{"detail":"d","password":["p"]}`)))
	assert.Equal(t, "x", errorMessage([]byte(`{"zeta":["y"],"alpha":"x"}`)))
	assert.Equal(t, "", errorMessage([]byte(`not json`)))
}
