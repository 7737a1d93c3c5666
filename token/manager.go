package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/William-g7/Airnest-sub001/identity"
)

const (
	defaultExpiryThreshold = 10 * time.Minute
	defaultCheckInterval   = 5 * time.Minute
)

var (
	// ErrRejected marks a refresh the server refused. Refreshers wrap it for
	// invalid or expired refresh tokens.
	ErrRejected = errors.New("refresh rejected")
	// ErrNoRefreshToken is returned when a refresh is needed but no refresh
	// token is stored. It wraps ErrRejected.
	ErrNoRefreshToken = fmt.Errorf("%w: no refresh token", ErrRejected)
	// ErrSoftFailuresExhausted wraps ErrRejected once MaxSoftFailures
	// consecutive soft failures have occurred.
	ErrSoftFailuresExhausted = fmt.Errorf("%w: transient failures exhausted", ErrRejected)
)

// Tokens is a refresh result. Refresh may be empty when the server does not
// rotate refresh tokens.
type Tokens struct {
	Access  string
	Refresh string
}

// Refresher exchanges a refresh token for new tokens.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Tokens, error)
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context, refreshToken string) (Tokens, error)

func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	return f(ctx, refreshToken)
}

// State is the manager's lifecycle state.
type State int

const (
	Idle State = iota
	Monitoring
	Refreshing
)

func (s State) String() string {
	switch s {
	case Monitoring:
		return "monitoring"
	case Refreshing:
		return "refreshing"
	default:
		return "idle"
	}
}

// Outcome classifies one check.
type Outcome int

const (
	OutcomeFresh Outcome = iota
	OutcomeRefreshed
	OutcomeSoftFailure
	OutcomeRejected
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRefreshed:
		return "refreshed"
	case OutcomeSoftFailure:
		return "soft_failure"
	case OutcomeRejected:
		return "rejected"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "fresh"
	}
}

// Config holds the manager's timing policy.
type Config struct {
	ExpiryThreshold time.Duration
	CheckInterval   time.Duration
	// MaxSoftFailures escalates consecutive transient failures to a
	// rejection. Zero retries forever.
	MaxSoftFailures int
}

// Options wires a Manager.
type Options struct {
	Config
	Identity  identity.Store
	Refresher Refresher
	Logger    *slog.Logger
	Now       func() time.Time

	// OnRefreshed fires after new tokens are persisted.
	OnRefreshed func(userID string)
	// OnRejected fires once per hard failure, after the identity is cleared.
	OnRejected func(err error)
	// Observe receives every refresh attempt with its duration.
	Observe func(o Outcome, took time.Duration)
}

// Manager runs the token lifecycle for one tab.
type Manager struct {
	cfg       Config
	identity  identity.Store
	refresher Refresher
	log       *slog.Logger
	now       func() time.Time

	onRefreshed func(string)
	onRejected  func(error)
	observe     func(Outcome, time.Duration)

	group singleflight.Group

	// writeMu serializes identity writes with Stop and reject, so a halted
	// generation never writes after the caller clears the identity.
	writeMu sync.Mutex
	written identity.Credentials

	mu        sync.Mutex
	state     State
	softFails int
	gen       uint64
	stop      chan struct{}
	wg        sync.WaitGroup
}

// NewManager validates opts and returns an idle manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Identity == nil {
		return nil, errors.New("token manager requires an identity store")
	}
	if opts.Refresher == nil {
		return nil, errors.New("token manager requires a refresher")
	}
	cfg := opts.Config
	if cfg.ExpiryThreshold == 0 {
		cfg.ExpiryThreshold = defaultExpiryThreshold
	}
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = defaultCheckInterval
	}
	if cfg.ExpiryThreshold < 0 || cfg.CheckInterval < 0 || cfg.MaxSoftFailures < 0 {
		return nil, errors.New("invalid token manager timing configuration")
	}

	m := &Manager{
		cfg:         cfg,
		identity:    opts.Identity,
		refresher:   opts.Refresher,
		log:         opts.Logger,
		now:         opts.Now,
		onRefreshed: opts.OnRefreshed,
		onRejected:  opts.OnRejected,
		observe:     opts.Observe,
	}
	if m.log == nil {
		m.log = slog.New(slog.DiscardHandler)
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m, nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start enters Monitoring. It is a no-op when already monitoring.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Idle {
		return
	}
	m.state = Monitoring
	m.softFails = 0
	m.gen++
	m.stop = make(chan struct{})
	m.wg.Add(1)
	go m.run(m.stop, m.gen)
	m.log.Debug("token monitoring started", "interval", m.cfg.CheckInterval)
}

// Stop returns to Idle and stops the ticker. It returns after any identity
// write of the halted generation has finished; refreshes still in flight
// are discarded. Stop does not clear the identity; logout does that.
func (m *Manager) Stop() {
	m.mu.Lock()
	stopped := m.haltLocked()
	m.mu.Unlock()
	m.writeMu.Lock()
	m.writeMu.Unlock()
	if stopped {
		m.wg.Wait()
	}
}

// Revoke stops the manager and clears the identity if it still holds the
// tokens this manager wrote last. It is used when another tab ended the
// session: a refresh that landed after that tab cleared the identity must
// not outlive the session. It reports whether the identity was cleared.
func (m *Manager) Revoke(ctx context.Context) bool {
	m.Stop()

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	written := m.written
	m.written = identity.Credentials{}
	if written.RefreshToken == "" {
		return false
	}
	current, _, err := m.identity.RefreshToken(ctx)
	if err != nil || current != written.RefreshToken {
		return false
	}
	if err := m.identity.Clear(ctx); err != nil {
		m.log.Warn("token revoke could not clear identity", "err", err)
		return false
	}
	m.log.Info("cleared tokens refreshed after the session ended", "user_id", written.UserID)
	return true
}

func (m *Manager) haltLocked() bool {
	if m.state == Idle {
		return false
	}
	m.state = Idle
	m.gen++
	close(m.stop)
	m.stop = nil
	return true
}

// Foreground re-checks freshness immediately when monitoring. It is called
// when the tab becomes visible again.
func (m *Manager) Foreground(ctx context.Context) Outcome {
	if m.State() == Idle {
		return OutcomeSkipped
	}
	return m.CheckNow(ctx)
}

func (m *Manager) run(stop <-chan struct{}, gen uint64) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CheckInterval)
			m.check(ctx, gen, true)
			cancel()
		}
	}
}

// CheckNow runs one freshness check. Concurrent calls share one attempt.
func (m *Manager) CheckNow(ctx context.Context) Outcome {
	m.mu.Lock()
	gen := m.gen
	m.mu.Unlock()
	return m.check(ctx, gen, false)
}

func (m *Manager) check(ctx context.Context, gen uint64, fromTicker bool) Outcome {
	v, _, _ := m.group.Do("check", func() (any, error) {
		return m.checkOnce(ctx, gen, fromTicker), nil
	})
	return v.(Outcome)
}

func (m *Manager) checkOnce(ctx context.Context, gen uint64, fromTicker bool) Outcome {
	access, _, err := m.identity.AccessToken(ctx)
	if err != nil {
		m.log.Warn("token check could not read access token", "err", err)
		return m.soft(gen, err)
	}
	if access != "" && !ExpiringSoon(access, m.now(), m.cfg.ExpiryThreshold) {
		return OutcomeFresh
	}

	refresh, _, err := m.identity.RefreshToken(ctx)
	if err != nil {
		m.log.Warn("token check could not read refresh token", "err", err)
		return m.soft(gen, err)
	}
	if refresh == "" {
		return m.reject(ctx, gen, ErrNoRefreshToken)
	}

	if !m.enterRefreshing(gen) {
		return OutcomeSkipped
	}
	start := m.now()
	tokens, err := m.refresher.Refresh(ctx, refresh)
	took := m.now().Sub(start)

	switch {
	case err == nil && tokens.Access == "":
		err = errors.New("refresh returned no access token")
		fallthrough
	case err != nil && !errors.Is(err, ErrRejected):
		m.leaveRefreshing(gen)
		m.record(OutcomeSoftFailure, took)
		m.log.Warn("token refresh failed, retrying on next check", "err", err)
		return m.soft(gen, err)
	case err != nil:
		m.record(OutcomeRejected, took)
		return m.reject(ctx, gen, err)
	}

	userID := ""
	if claims, perr := Parse(tokens.Access); perr == nil {
		userID = claims.Subject()
	}
	if userID == "" {
		userID, _, _ = m.identity.UserID(ctx)
	}
	if tokens.Refresh == "" {
		tokens.Refresh = refresh
	}
	creds := identity.Credentials{
		UserID:       userID,
		AccessToken:  tokens.Access,
		RefreshToken: tokens.Refresh,
	}
	m.writeMu.Lock()
	if !m.current(gen) {
		m.writeMu.Unlock()
		m.log.Debug("token refresh discarded, monitoring stopped", "user_id", userID)
		return OutcomeSkipped
	}
	if err := m.identity.Persist(ctx, creds); err != nil {
		m.writeMu.Unlock()
		m.leaveRefreshing(gen)
		m.record(OutcomeSoftFailure, took)
		m.log.Warn("token refresh could not persist tokens", "err", err)
		return m.soft(gen, err)
	}
	m.written = creds
	m.writeMu.Unlock()

	if !m.leaveRefreshing(gen) {
		return OutcomeSkipped
	}
	m.mu.Lock()
	m.softFails = 0
	m.mu.Unlock()
	m.record(OutcomeRefreshed, took)
	m.log.Info("token refreshed", "user_id", userID, "scheduled", fromTicker)
	if m.onRefreshed != nil {
		m.onRefreshed(userID)
	}
	return OutcomeRefreshed
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen == gen && m.state != Idle
}

func (m *Manager) enterRefreshing(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen || m.state == Idle {
		return false
	}
	m.state = Refreshing
	return true
}

func (m *Manager) leaveRefreshing(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen || m.state == Idle {
		return false
	}
	m.state = Monitoring
	return true
}

func (m *Manager) soft(gen uint64, cause error) Outcome {
	m.mu.Lock()
	if m.gen != gen || m.state == Idle {
		m.mu.Unlock()
		return OutcomeSkipped
	}
	m.softFails++
	exhausted := m.cfg.MaxSoftFailures > 0 && m.softFails >= m.cfg.MaxSoftFailures
	m.mu.Unlock()

	if exhausted {
		return m.reject(context.Background(), gen, fmt.Errorf("%w: %v", ErrSoftFailuresExhausted, cause))
	}
	return OutcomeSoftFailure
}

func (m *Manager) reject(ctx context.Context, gen uint64, cause error) Outcome {
	m.mu.Lock()
	if m.gen != gen || m.state == Idle {
		m.mu.Unlock()
		return OutcomeSkipped
	}
	m.haltLocked()
	m.mu.Unlock()

	m.writeMu.Lock()
	m.written = identity.Credentials{}
	err := m.identity.Clear(ctx)
	m.writeMu.Unlock()
	if err != nil {
		m.log.Warn("token rejection could not clear identity", "err", err)
	}
	m.log.Info("token refresh rejected", "err", cause)
	if m.onRejected != nil {
		m.onRejected(cause)
	}
	return OutcomeRejected
}

func (m *Manager) record(o Outcome, took time.Duration) {
	if m.observe != nil {
		m.observe(o, took)
	}
}
