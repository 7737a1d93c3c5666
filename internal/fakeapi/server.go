package fakeapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/William-g7/Airnest-sub001/authapi"
	"github.com/William-g7/Airnest-sub001/identity"
)

const (
	defaultAccessTTL  = 60 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// User is an account known to the server. Password is plain text on the way
// in and stored only as an argon2id hash.
type User struct {
	ID            string
	Email         string
	Password      string
	EmailVerified bool
}

type account struct {
	User
	hash string
}

// Options configures a Server.
type Options struct {
	Signer     SignerConfig
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// RequireCSRF rejects unsafe requests without a token issued by the
	// CSRF endpoint.
	RequireCSRF   bool
	SecureCookies bool
	// HashParams tunes password hashing. Zero fields take cheap defaults.
	HashParams HashParams
	// Throttle enables the failed-login limit when Throttle.Redis is set.
	Throttle ThrottleConfig
	Logger   *slog.Logger
	Now      func() time.Time
}

// Server is an in-process auth backend speaking the authapi wire format.
type Server struct {
	signer      *Signer
	accessTTL   time.Duration
	refreshTTL  time.Duration
	requireCSRF bool
	secure      bool
	hashParams  HashParams
	throttle    *throttle
	log         *slog.Logger
	now         func() time.Time

	mu      sync.Mutex
	users   map[string]account
	active  map[string]string // refresh jti -> user id
	csrf    map[string]struct{}
	refresh atomic.Uint64
	logins  atomic.Uint64

	unavailable atomic.Bool
	rejectAll   atomic.Bool
}

// New builds a server with no users.
func New(opts Options) (*Server, error) {
	signer, err := NewSigner(opts.Signer)
	if err != nil {
		return nil, err
	}
	s := &Server{
		signer:      signer,
		accessTTL:   opts.AccessTTL,
		refreshTTL:  opts.RefreshTTL,
		requireCSRF: opts.RequireCSRF,
		secure:      opts.SecureCookies,
		hashParams:  opts.HashParams.withDefaults(),
		throttle:    newThrottle(opts.Throttle),
		log:         opts.Logger,
		now:         opts.Now,
		users:       make(map[string]account),
		active:      make(map[string]string),
		csrf:        make(map[string]struct{}),
	}
	if s.accessTTL <= 0 {
		s.accessTTL = defaultAccessTTL
	}
	if s.refreshTTL <= 0 {
		s.refreshTTL = defaultRefreshTTL
	}
	if s.log == nil {
		s.log = slog.New(slog.DiscardHandler)
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// AddUser registers u, keyed by email.
func (s *Server) AddUser(u User) error {
	hash, err := hashPassword(s.hashParams, u.Password)
	if err != nil {
		return err
	}
	u.Password = ""
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[strings.ToLower(u.Email)] = account{User: u, hash: hash}
	return nil
}

// RevokeAll invalidates every issued refresh token.
func (s *Server) RevokeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.active)
}

// SetUnavailable makes the refresh endpoint answer 503.
func (s *Server) SetUnavailable(v bool) {
	s.unavailable.Store(v)
}

// SetRejectRefresh makes the refresh endpoint refuse every token.
func (s *Server) SetRejectRefresh(v bool) {
	s.rejectAll.Store(v)
}

// RefreshCalls counts refresh requests served.
func (s *Server) RefreshCalls() uint64 {
	return s.refresh.Load()
}

// LoginCalls counts login requests served.
func (s *Server) LoginCalls() uint64 {
	return s.logins.Load()
}

// Handler routes the authapi endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+authapi.PathCSRF, s.handleCSRF)
	mux.HandleFunc("POST "+authapi.PathLogin, s.guardCSRF(s.handleLogin))
	mux.HandleFunc("POST "+authapi.PathRefresh, s.guardCSRF(s.handleRefresh))
	mux.HandleFunc("POST "+authapi.PathLogout, s.guardCSRF(s.handleLogout))
	return mux
}

// Mint issues a token pair for userID outside of the login flow.
func (s *Server) Mint(userID string) (access, refresh string, err error) {
	return s.issue(userID)
}

// MintWithTTL issues a token pair whose access token expires after ttl.
func (s *Server) MintWithTTL(userID string, ttl time.Duration) (access, refresh string, err error) {
	now := s.now()
	access, _, err = s.signer.mint(tokenTypeAccess, userID, now, now.Add(ttl))
	if err != nil {
		return "", "", err
	}
	refresh, jti, err := s.signer.mint(tokenTypeRefresh, userID, now, now.Add(s.refreshTTL))
	if err != nil {
		return "", "", err
	}
	s.mu.Lock()
	s.active[jti] = userID
	s.mu.Unlock()
	return access, refresh, nil
}

func (s *Server) issue(userID string) (string, string, error) {
	return s.MintWithTTL(userID, s.accessTTL)
}

func (s *Server) handleCSRF(w http.ResponseWriter, _ *http.Request) {
	tok := ulid.Make().String()
	s.mu.Lock()
	s.csrf[tok] = struct{}{}
	s.mu.Unlock()
	http.SetCookie(w, &http.Cookie{
		Name:     authapi.CSRFCookie,
		Value:    tok,
		Path:     "/",
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"csrfToken": tok})
}

func (s *Server) guardCSRF(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.requireCSRF {
			tok := r.Header.Get(authapi.CSRFHeader)
			s.mu.Lock()
			_, ok := s.csrf[tok]
			s.mu.Unlock()
			if !ok {
				writeJSON(w, http.StatusForbidden, map[string]string{"detail": "CSRF Failed: CSRF token missing or incorrect."})
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.logins.Add(1)
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decode(r, &req); err != nil || req.Email == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"non_field_errors": {"Must include \"email\" and \"password\"."}})
		return
	}

	ctx := r.Context()
	if wait, err := s.throttle.check(ctx, req.Email); err != nil {
		if errors.Is(err, errThrottled) {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"detail": fmt.Sprintf("Request was throttled. Expected available in %d seconds.", int(wait.Seconds())),
			})
			return
		}
		s.log.Warn("fakeapi throttle check failed", "err", err)
	}

	s.mu.Lock()
	u, ok := s.users[strings.ToLower(req.Email)]
	s.mu.Unlock()
	match := false
	if ok {
		var err error
		if match, err = verifyPassword(req.Password, u.hash); err != nil {
			s.log.Error("fakeapi stored hash unreadable", "email", u.Email, "err", err)
		}
	}
	if !match {
		if err := s.throttle.fail(ctx, req.Email); err != nil {
			s.log.Warn("fakeapi throttle update failed", "err", err)
		}
		writeJSON(w, http.StatusBadRequest, map[string][]string{"non_field_errors": {"Unable to log in with provided credentials."}})
		return
	}
	if err := s.throttle.reset(ctx, req.Email); err != nil {
		s.log.Warn("fakeapi throttle reset failed", "err", err)
	}

	access, refresh, err := s.issue(u.ID)
	if err != nil {
		s.log.Error("fakeapi mint failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "token minting failed"})
		return
	}
	if u.EmailVerified {
		for _, ck := range identity.SessionCookies(identity.Credentials{UserID: u.ID, AccessToken: access, RefreshToken: refresh}, s.secure) {
			http.SetCookie(w, ck)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access":  access,
		"refresh": refresh,
		"user": map[string]any{
			"pk":             u.ID,
			"email":          u.Email,
			"email_verified": u.EmailVerified,
		},
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refresh.Add(1)
	if s.unavailable.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "Service temporarily unavailable."})
		return
	}
	var req struct {
		Refresh string `json:"refresh"`
	}
	if err := decode(r, &req); err != nil || req.Refresh == "" {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"refresh": {"This field is required."}})
		return
	}

	userID, err := s.consume(req.Refresh)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Token is invalid or expired", "code": "token_not_valid"})
		return
	}
	access, refresh, err := s.issue(userID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "token minting failed"})
		return
	}
	for _, ck := range identity.SessionCookies(identity.Credentials{AccessToken: access, RefreshToken: refresh}, s.secure) {
		http.SetCookie(w, ck)
	}
	writeJSON(w, http.StatusOK, map[string]string{"access": access, "refresh": refresh})
}

// consume validates a refresh token and revokes it; rotation issues a new one.
func (s *Server) consume(raw string) (string, error) {
	if s.rejectAll.Load() {
		return "", errors.New("refresh rejected")
	}
	c, err := s.signer.parse(raw, s.now())
	if err != nil {
		return "", err
	}
	if c.TokenType != tokenTypeRefresh {
		return "", errors.New("not a refresh token")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.active[c.ID]
	if !ok {
		return "", errors.New("refresh token revoked")
	}
	delete(s.active, c.ID)
	return userID, nil
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Refresh string `json:"refresh"`
	}
	_ = decode(r, &req)
	if req.Refresh != "" {
		if c, err := s.signer.parse(req.Refresh, s.now()); err == nil {
			s.mu.Lock()
			delete(s.active, c.ID)
			s.mu.Unlock()
		}
	}
	for _, ck := range identity.ClearedCookies(s.secure) {
		http.SetCookie(w, ck)
	}
	writeJSON(w, http.StatusOK, map[string]string{"detail": "Successfully logged out."})
}

func decode(r *http.Request, v any) error {
	if r.Body == nil {
		return io.EOF
	}
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
