package token

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/William-g7/Airnest-sub001/identity"
)

type scriptedRefresher struct {
	mu    sync.Mutex
	calls int
	delay time.Duration
	next  func(call int) (Tokens, error)
}

func (r *scriptedRefresher) Refresh(ctx context.Context, _ string) (Tokens, error) {
	r.mu.Lock()
	r.calls++
	call := r.calls
	r.mu.Unlock()
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	return r.next(call)
}

func (r *scriptedRefresher) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func newManager(t *testing.T, store identity.Store, r Refresher, mutate func(*Options)) *Manager {
	t.Helper()
	opts := Options{
		Config:    Config{ExpiryThreshold: 10 * time.Minute, CheckInterval: time.Hour},
		Identity:  store,
		Refresher: r,
	}
	if mutate != nil {
		mutate(&opts)
	}
	m, err := NewManager(opts)
	if err != nil {
		t.Fatalf("new manager failed: %v", err)
	}
	return m
}

func TestFreshTokenIsNotRefreshed(t *testing.T) {
	store := identity.NewMemory(identity.Credentials{
		UserID: "u1", AccessToken: mint(t, "u1", time.Now().Add(time.Hour)), RefreshToken: "rt",
	})
	r := &scriptedRefresher{next: func(int) (Tokens, error) { return Tokens{}, nil }}
	m := newManager(t, store, r, nil)
	m.Start()
	defer m.Stop()

	if got := m.CheckNow(context.Background()); got != OutcomeFresh {
		t.Fatalf("expected fresh, got %v", got)
	}
	if r.Calls() != 0 {
		t.Fatalf("unexpected refresh")
	}
}

func TestExpiringTokenIsRefreshedAndPersisted(t *testing.T) {
	store := identity.NewMemory(identity.Credentials{
		UserID: "u1", AccessToken: mint(t, "u1", time.Now().Add(time.Minute)), RefreshToken: "rt-old",
	})
	fresh := mint(t, "u1", time.Now().Add(time.Hour))
	r := &scriptedRefresher{next: func(int) (Tokens, error) { return Tokens{Access: fresh}, nil }}

	var refreshed atomic.Value
	m := newManager(t, store, r, func(o *Options) {
		o.OnRefreshed = func(uid string) { refreshed.Store(uid) }
	})
	m.Start()
	defer m.Stop()

	if got := m.CheckNow(context.Background()); got != OutcomeRefreshed {
		t.Fatalf("expected refreshed, got %v", got)
	}
	c := store.Credentials()
	if c.AccessToken != fresh || c.RefreshToken != "rt-old" || c.UserID != "u1" {
		t.Fatalf("unexpected persisted credentials %+v", c)
	}
	if refreshed.Load() != "u1" {
		t.Fatalf("expected OnRefreshed with u1, got %v", refreshed.Load())
	}
	if m.State() != Monitoring {
		t.Fatalf("expected monitoring after refresh, got %v", m.State())
	}
}

func TestRejectedRefreshClearsAndGoesIdleOnce(t *testing.T) {
	store := identity.NewMemory(identity.Credentials{
		UserID: "u1", AccessToken: mint(t, "u1", time.Now().Add(time.Minute)), RefreshToken: "rt",
	})
	r := &scriptedRefresher{
		delay: 20 * time.Millisecond,
		next: func(int) (Tokens, error) {
			return Tokens{}, fmt.Errorf("%w: token_not_valid", ErrRejected)
		},
	}
	var rejected atomic.Int32
	m := newManager(t, store, r, func(o *Options) {
		o.OnRejected = func(err error) {
			if !errors.Is(err, ErrRejected) {
				t.Errorf("unexpected rejection cause %v", err)
			}
			rejected.Add(1)
		}
	})
	m.Start()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.CheckNow(context.Background())
		}()
	}
	wg.Wait()

	if rejected.Load() != 1 {
		t.Fatalf("expected exactly one rejection, got %d", rejected.Load())
	}
	if m.State() != Idle {
		t.Fatalf("expected idle, got %v", m.State())
	}
	if c := store.Credentials(); c != (identity.Credentials{}) {
		t.Fatalf("expected identity cleared, got %+v", c)
	}
	if got := m.CheckNow(context.Background()); got == OutcomeRejected {
		t.Fatalf("idle manager must not reject again")
	}
}

func TestSoftFailureKeepsMonitoring(t *testing.T) {
	store := identity.NewMemory(identity.Credentials{
		UserID: "u1", AccessToken: mint(t, "u1", time.Now().Add(time.Minute)), RefreshToken: "rt",
	})
	fresh := mint(t, "u1", time.Now().Add(time.Hour))
	r := &scriptedRefresher{next: func(call int) (Tokens, error) {
		if call == 1 {
			return Tokens{}, errors.New("dial tcp: connection refused")
		}
		return Tokens{Access: fresh, Refresh: "rt-new"}, nil
	}}
	var rejected atomic.Int32
	m := newManager(t, store, r, func(o *Options) {
		o.OnRejected = func(error) { rejected.Add(1) }
	})
	m.Start()
	defer m.Stop()

	if got := m.CheckNow(context.Background()); got != OutcomeSoftFailure {
		t.Fatalf("expected soft failure, got %v", got)
	}
	if m.State() != Monitoring || rejected.Load() != 0 {
		t.Fatalf("soft failure must not log out")
	}
	if got := m.CheckNow(context.Background()); got != OutcomeRefreshed {
		t.Fatalf("expected retry to refresh, got %v", got)
	}
	if store.Credentials().RefreshToken != "rt-new" {
		t.Fatalf("expected rotated refresh token")
	}
}

func TestSoftFailuresEscalate(t *testing.T) {
	store := identity.NewMemory(identity.Credentials{
		UserID: "u1", AccessToken: mint(t, "u1", time.Now().Add(time.Minute)), RefreshToken: "rt",
	})
	r := &scriptedRefresher{next: func(int) (Tokens, error) { return Tokens{}, errors.New("timeout") }}
	var cause atomic.Value
	m := newManager(t, store, r, func(o *Options) {
		o.MaxSoftFailures = 2
		o.OnRejected = func(err error) { cause.Store(err) }
	})
	m.Start()

	if got := m.CheckNow(context.Background()); got != OutcomeSoftFailure {
		t.Fatalf("expected first soft failure, got %v", got)
	}
	if got := m.CheckNow(context.Background()); got != OutcomeRejected {
		t.Fatalf("expected escalation, got %v", got)
	}
	err, _ := cause.Load().(error)
	if !errors.Is(err, ErrSoftFailuresExhausted) || !errors.Is(err, ErrRejected) {
		t.Fatalf("unexpected escalation cause %v", err)
	}
}

func TestMissingRefreshTokenIsRejected(t *testing.T) {
	store := identity.NewMemory(identity.Credentials{UserID: "u1"})
	r := &scriptedRefresher{next: func(int) (Tokens, error) { return Tokens{}, nil }}
	m := newManager(t, store, r, nil)
	m.Start()

	if got := m.CheckNow(context.Background()); got != OutcomeRejected {
		t.Fatalf("expected rejection, got %v", got)
	}
	if r.Calls() != 0 {
		t.Fatalf("refresher must not be called without a refresh token")
	}
}

func TestTickerRefreshesWithinInterval(t *testing.T) {
	store := identity.NewMemory(identity.Credentials{
		UserID: "u1", AccessToken: mint(t, "u1", time.Now().Add(time.Minute)), RefreshToken: "rt",
	})
	fresh := mint(t, "u1", time.Now().Add(time.Hour))
	done := make(chan string, 1)
	r := &scriptedRefresher{next: func(int) (Tokens, error) { return Tokens{Access: fresh}, nil }}
	m := newManager(t, store, r, func(o *Options) {
		o.CheckInterval = 20 * time.Millisecond
		o.OnRefreshed = func(uid string) {
			select {
			case done <- uid:
			default:
			}
		}
	})
	m.Start()
	defer m.Stop()

	select {
	case uid := <-done:
		if uid != "u1" {
			t.Fatalf("unexpected user %q", uid)
		}
	case <-time.After(time.Second):
		t.Fatalf("ticker did not refresh")
	}
}

func TestStopAndForeground(t *testing.T) {
	store := identity.NewMemory(identity.Credentials{
		UserID: "u1", AccessToken: mint(t, "u1", time.Now().Add(time.Minute)), RefreshToken: "rt",
	})
	fresh := mint(t, "u1", time.Now().Add(time.Hour))
	r := &scriptedRefresher{next: func(int) (Tokens, error) { return Tokens{Access: fresh}, nil }}
	m := newManager(t, store, r, nil)

	if got := m.Foreground(context.Background()); got != OutcomeSkipped {
		t.Fatalf("idle foreground must skip, got %v", got)
	}
	m.Start()
	m.Start()
	if got := m.Foreground(context.Background()); got != OutcomeRefreshed {
		t.Fatalf("foreground must check immediately, got %v", got)
	}
	m.Stop()
	m.Stop()
	if m.State() != Idle {
		t.Fatalf("expected idle after stop")
	}
}

func TestNewManagerValidates(t *testing.T) {
	if _, err := NewManager(Options{Refresher: RefresherFunc(nil)}); err == nil {
		t.Fatalf("expected missing identity error")
	}
	_, err := NewManager(Options{
		Identity:  identity.NewMemory(identity.Credentials{}),
		Refresher: RefresherFunc(func(context.Context, string) (Tokens, error) { return Tokens{}, nil }),
		Config:    Config{CheckInterval: -time.Second},
	})
	if err == nil {
		t.Fatalf("expected timing validation error")
	}
}

func TestStopDiscardsRefreshInFlight(t *testing.T) {
	store := identity.NewMemory(identity.Credentials{
		UserID: "u1", AccessToken: mint(t, "u1", time.Now().Add(time.Minute)), RefreshToken: "rt1",
	})
	fresh := mint(t, "u1", time.Now().Add(time.Hour))
	entered := make(chan struct{})
	release := make(chan struct{})
	r := RefresherFunc(func(context.Context, string) (Tokens, error) {
		close(entered)
		<-release
		return Tokens{Access: fresh, Refresh: "rt2"}, nil
	})
	var refreshed atomic.Int32
	m := newManager(t, store, r, func(o *Options) {
		o.OnRefreshed = func(string) { refreshed.Add(1) }
	})
	m.Start()

	done := make(chan Outcome, 1)
	go func() { done <- m.CheckNow(context.Background()) }()
	<-entered

	m.Stop()
	if err := store.Clear(context.Background()); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	close(release)

	if got := <-done; got != OutcomeSkipped {
		t.Fatalf("expected skipped, got %v", got)
	}
	if creds := store.Credentials(); creds != (identity.Credentials{}) {
		t.Fatalf("identity written after stop and clear: %+v", creds)
	}
	if refreshed.Load() != 0 {
		t.Fatalf("refresh callback fired for a halted generation")
	}
	if m.State() != Idle {
		t.Fatalf("expected idle, got %v", m.State())
	}
}

func TestRevokeClearsOwnLateWrite(t *testing.T) {
	store := identity.NewMemory(identity.Credentials{
		UserID: "u1", AccessToken: mint(t, "u1", time.Now().Add(time.Minute)), RefreshToken: "rt1",
	})
	fresh := mint(t, "u1", time.Now().Add(time.Hour))
	r := &scriptedRefresher{next: func(int) (Tokens, error) { return Tokens{Access: fresh, Refresh: "rt2"}, nil }}
	m := newManager(t, store, r, nil)
	m.Start()

	if got := m.CheckNow(context.Background()); got != OutcomeRefreshed {
		t.Fatalf("expected refreshed, got %v", got)
	}
	if !m.Revoke(context.Background()) {
		t.Fatalf("revoke should clear the tokens this manager wrote")
	}
	if creds := store.Credentials(); creds != (identity.Credentials{}) {
		t.Fatalf("identity not cleared: %+v", creds)
	}
	if m.State() != Idle {
		t.Fatalf("expected idle after revoke")
	}
	if m.Revoke(context.Background()) {
		t.Fatalf("second revoke must be a no-op")
	}
}

func TestRevokeKeepsNewerLogin(t *testing.T) {
	store := identity.NewMemory(identity.Credentials{
		UserID: "u1", AccessToken: mint(t, "u1", time.Now().Add(time.Minute)), RefreshToken: "rt1",
	})
	fresh := mint(t, "u1", time.Now().Add(time.Hour))
	r := &scriptedRefresher{next: func(int) (Tokens, error) { return Tokens{Access: fresh, Refresh: "rt2"}, nil }}
	m := newManager(t, store, r, nil)
	m.Start()
	if got := m.CheckNow(context.Background()); got != OutcomeRefreshed {
		t.Fatalf("expected refreshed, got %v", got)
	}

	newer := identity.Credentials{UserID: "u2", AccessToken: fresh, RefreshToken: "rt-u2"}
	if err := store.Persist(context.Background(), newer); err != nil {
		t.Fatalf("persist failed: %v", err)
	}
	if m.Revoke(context.Background()) {
		t.Fatalf("revoke must not clear another session's tokens")
	}
	if got := store.Credentials(); got != newer {
		t.Fatalf("newer login lost: %+v", got)
	}
}
