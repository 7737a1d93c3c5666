package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/William-g7/Airnest-sub001/token"
)

// Endpoint paths.
const (
	PathCSRF    = "/api/csrf/"
	PathLogin   = "/api/auth/login/"
	PathRefresh = "/api/auth/token/refresh/"
	PathLogout  = "/api/auth/logout/"

	CSRFCookie = "csrftoken"
	CSRFHeader = "X-CSRFToken"
)

const maxBodyBytes = 1 << 20

// Config configures a Client.
type Config struct {
	BaseURL string
	// Origin is sent on unsafe requests. Defaults to the base URL's origin.
	Origin  string
	Timeout time.Duration
	// Locale is sent as Accept-Language.
	Locale string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its Jar, when set, is used for the
// CSRF cookie.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// Client talks to the backend auth endpoints.
type Client struct {
	base   *url.URL
	origin string
	locale string
	http   *http.Client
	log    *slog.Logger

	mu   sync.Mutex
	csrf string
}

// New builds a client for cfg.BaseURL.
func New(cfg Config, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("authapi: invalid base url %q", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		base:   base,
		origin: cfg.Origin,
		locale: cfg.Locale,
		http:   &http.Client{Timeout: timeout},
		log:    slog.New(slog.DiscardHandler),
	}
	if c.origin == "" {
		c.origin = base.Scheme + "://" + base.Host
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// LoginResult is a successful login.
type LoginResult struct {
	UserID       string
	AccessToken  string
	RefreshToken string
}

type loginResponse struct {
	Access  string          `json:"access"`
	Refresh string          `json:"refresh"`
	UserID  json.RawMessage `json:"user_id"`
	UserPK  json.RawMessage `json:"user_pk"`
	User    *struct {
		ID            json.RawMessage `json:"id"`
		PK            json.RawMessage `json:"pk"`
		EmailVerified *bool           `json:"email_verified"`
	} `json:"user"`
}

// idString accepts numeric and string ids.
func idString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func (r loginResponse) userID() string {
	for _, raw := range []json.RawMessage{r.UserID, r.UserPK} {
		if id := idString(raw); id != "" {
			return id
		}
	}
	if r.User != nil {
		if id := idString(r.User.ID); id != "" {
			return id
		}
		return idString(r.User.PK)
	}
	return ""
}

// CSRF fetches a CSRF token, seeding the csrftoken cookie.
func (c *Client) CSRF(ctx context.Context) (string, error) {
	if tok := c.csrfFromJar(); tok != "" {
		return tok, nil
	}
	c.mu.Lock()
	cached := c.csrf
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	tok, err := c.fetchCSRF(ctx)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.csrf = tok
	c.mu.Unlock()
	return tok, nil
}

func (c *Client) fetchCSRF(ctx context.Context) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, PathCSRF, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w: %v", ErrCSRF, ErrTransient, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))

	if resp.StatusCode/100 != 2 {
		return "", &APIError{Op: "csrf", Status: resp.StatusCode, Message: errorMessage(body), Err: ErrCSRF}
	}
	for _, ck := range resp.Cookies() {
		if ck.Name == CSRFCookie && ck.Value != "" {
			return ck.Value, nil
		}
	}
	if tok := c.csrfFromJar(); tok != "" {
		return tok, nil
	}
	var payload struct {
		CSRFToken string `json:"csrfToken"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.CSRFToken != "" {
		return payload.CSRFToken, nil
	}
	return "", ErrCSRF
}

func (c *Client) csrfFromJar() string {
	if c.http.Jar == nil {
		return ""
	}
	for _, ck := range c.http.Jar.Cookies(c.base) {
		if ck.Name == CSRFCookie && ck.Value != "" {
			return ck.Value
		}
	}
	return ""
}

// Login exchanges credentials for tokens.
func (c *Client) Login(ctx context.Context, email, password string) (LoginResult, error) {
	status, body, err := c.postJSON(ctx, PathLogin, map[string]string{"email": email, "password": password})
	if err != nil {
		return LoginResult{}, err
	}

	switch {
	case status == http.StatusBadRequest || status == http.StatusUnauthorized:
		return LoginResult{}, &APIError{Op: "login", Status: status, Message: errorMessage(body), Err: ErrInvalidCredentials}
	case status >= 500:
		return LoginResult{}, &APIError{Op: "login", Status: status, Message: errorMessage(body), Err: ErrTransient}
	case status/100 != 2:
		return LoginResult{}, &APIError{Op: "login", Status: status, Message: errorMessage(body), Err: ErrInvalidCredentials}
	}

	var resp loginResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return LoginResult{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if resp.Access == "" {
		return LoginResult{}, &APIError{Op: "login", Status: status, Err: ErrInvalidCredentials}
	}
	uid := resp.userID()
	if uid == "" {
		return LoginResult{}, fmt.Errorf("%w: missing user id", ErrMalformedResponse)
	}
	if resp.User != nil && resp.User.EmailVerified != nil && !*resp.User.EmailVerified {
		return LoginResult{}, ErrEmailNotVerified
	}
	return LoginResult{UserID: uid, AccessToken: resp.Access, RefreshToken: resp.Refresh}, nil
}

// Refresh exchanges a refresh token. 400, 401 and 403 wrap token.ErrRejected;
// network failures and 5xx wrap ErrTransient.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (token.Tokens, error) {
	status, body, err := c.postJSON(ctx, PathRefresh, map[string]string{"refresh": refreshToken})
	if err != nil {
		return token.Tokens{}, err
	}

	switch {
	case status == http.StatusBadRequest || status == http.StatusUnauthorized || status == http.StatusForbidden:
		return token.Tokens{}, &APIError{Op: "refresh", Status: status, Message: errorMessage(body), Err: token.ErrRejected}
	case status/100 != 2:
		return token.Tokens{}, &APIError{Op: "refresh", Status: status, Message: errorMessage(body), Err: ErrTransient}
	}

	var resp struct {
		Access  string `json:"access"`
		Refresh string `json:"refresh"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return token.Tokens{}, fmt.Errorf("%w: %w: %v", ErrTransient, ErrMalformedResponse, err)
	}
	if resp.Access == "" {
		return token.Tokens{}, fmt.Errorf("%w: %w: missing access token", ErrTransient, ErrMalformedResponse)
	}
	return token.Tokens{Access: resp.Access, Refresh: resp.Refresh}, nil
}

// Logout tells the server to end the session. Failures are reported but
// callers treat logout as best-effort.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	var payload any
	if refreshToken != "" {
		payload = map[string]string{"refresh": refreshToken}
	}
	status, body, err := c.postJSON(ctx, PathLogout, payload)
	if err != nil {
		return err
	}
	if status/100 != 2 {
		return &APIError{Op: "logout", Status: status, Message: errorMessage(body), Err: ErrTransient}
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.locale != "" {
		req.Header.Set("Accept-Language", c.locale)
	}
	return req, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(b)
	}

	csrf, err := c.CSRF(ctx)
	if err != nil {
		c.log.Warn("authapi csrf unavailable, sending without token", "path", path, "err", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return 0, nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Origin", c.origin)
	if csrf != "" {
		req.Header.Set(CSRFHeader, csrf)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return 0, nil, err
		}
		return 0, nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	c.log.Debug("authapi request", "path", path, "status", resp.StatusCode, "took", time.Since(start))
	return resp.StatusCode, data, nil
}
