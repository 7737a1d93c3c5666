package authsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/William-g7/Airnest-sub001/authapi"
	"github.com/William-g7/Airnest-sub001/channel"
	"github.com/William-g7/Airnest-sub001/guard"
	"github.com/William-g7/Airnest-sub001/identity"
	"github.com/William-g7/Airnest-sub001/notify"
	"github.com/William-g7/Airnest-sub001/session"
	"github.com/William-g7/Airnest-sub001/token"
)

// Client is one tab: a session store, a cross-tab channel and a token
// manager kept consistent with each other. All methods are safe for
// concurrent use.
type Client struct {
	cfg     Config
	log     *slog.Logger
	metrics *Metrics
	now     func() time.Time

	store      *session.Store
	channel    *channel.Channel
	tokens     *token.Manager
	identity   identity.Store
	cache      *identity.LocalCache
	api        LoginAPI
	guard      *guard.Redirector
	notify     *notify.Service
	dispatcher *notify.Dispatcher

	visible atomic.Bool
	path    atomic.Value

	mu        sync.Mutex
	started   bool
	closed    bool
	handlerID channel.HandlerID
	wake      chan struct{}
	stop      chan struct{}
	bg        sync.WaitGroup
	closeOnce sync.Once
}

// Start opens the channel, resolves the initial session and starts the
// timers. It is idempotent.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.wake = make(chan struct{}, 1)
	c.stop = make(chan struct{})
	c.mu.Unlock()

	if !c.channel.Init(ctx) {
		c.log.Warn("no cross-tab transport available, this tab will not sync")
	}
	id := c.channel.AddMessageHandler(c.onMessage)
	c.mu.Lock()
	c.handlerID = id
	c.mu.Unlock()

	state := c.store.CheckAuth(ctx)
	c.reconcile(state)
	c.enforce(state)

	c.spawn(c.recheckLoop)
	c.log.Info("tab client started",
		"tab_id", c.channel.TabID(),
		"transport", c.channel.Active().String(),
		"authenticated", state.IsAuthenticated,
	)
	return nil
}

// TabID returns this tab's origin id.
func (c *Client) TabID() string {
	return c.channel.TabID()
}

// State returns the current session state.
func (c *Client) State() session.State {
	return c.store.Snapshot()
}

// Subscribe forwards every session transition to fn. fn runs synchronously
// and must not call back into the Client.
func (c *Client) Subscribe(fn func(session.State)) (cancel func()) {
	return c.store.Subscribe(fn)
}

// TokenState reports the token manager's lifecycle state.
func (c *Client) TokenState() token.State {
	return c.tokens.State()
}

// Transport reports which channel transport is active.
func (c *Client) Transport() channel.TransportKind {
	return c.channel.Active()
}

// Metrics returns the client's counters.
func (c *Client) Metrics() *Metrics {
	return c.metrics
}

// MetricsSnapshot copies the counters for exporters.
func (c *Client) MetricsSnapshot() MetricsSnapshot {
	return c.metrics.Snapshot()
}

// NotifyDropped reports notifications dropped by a full dispatcher.
func (c *Client) NotifyDropped() uint64 {
	return c.dispatcher.Dropped()
}

// Notifications exposes the notification service, e.g. to change locale.
func (c *Client) Notifications() *notify.Service {
	return c.notify
}

// Login signs in through the backend, persists the identity and tells every
// other tab.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	if err := c.usable(); err != nil {
		return "", err
	}
	if c.api == nil {
		return "", ErrNoLoginAPI
	}

	res, err := c.api.Login(ctx, email, password)
	if err != nil {
		c.metrics.Inc(MetricLoginFailure)
		c.log.Info("login failed", "err", err)
		msg := ""
		var apiErr *authapi.APIError
		if errors.As(err, &apiErr) {
			msg = apiErr.Message
		}
		c.notify.NotifyMessage(ctx, notify.AuthLoginError, msg)
		return "", err
	}

	if err := c.identity.Persist(ctx, identity.Credentials{
		UserID:       res.UserID,
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
	}); err != nil {
		c.metrics.Inc(MetricLoginFailure)
		c.notify.Notify(ctx, notify.AuthLoginError)
		return "", fmt.Errorf("%w: %v", identity.ErrUnavailable, err)
	}
	if err := c.cache.Set(ctx, res.UserID); err != nil {
		c.log.Warn("could not cache user id", "err", err)
	}

	state := c.store.SetAuthenticated(res.UserID)
	c.channel.SendLoginEvent(ctx, res.UserID)
	c.tokens.Start()
	c.metrics.Inc(MetricLoginSuccess)
	c.notify.Notify(ctx, notify.AuthLoginSuccess)
	c.log.Info("login succeeded", "user_id", res.UserID)
	c.enforce(state)
	return res.UserID, nil
}

// Logout clears the identity locally and on the backend and signs out every
// other tab. The backend call is best-effort.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.usable(); err != nil {
		return err
	}

	refresh, _, err := c.identity.RefreshToken(ctx)
	if err != nil {
		c.log.Warn("could not read refresh token for logout", "err", err)
	}
	c.tokens.Stop()
	if err := c.identity.Clear(ctx); err != nil {
		c.log.Warn("could not clear identity", "err", err)
	}
	if err := c.cache.Clear(ctx); err != nil {
		c.log.Warn("could not clear cached user id", "err", err)
	}
	if c.api != nil && refresh != "" {
		if err := c.api.Logout(ctx, refresh); err != nil {
			c.log.Info("backend logout failed, continuing", "err", err)
		}
	}

	state := c.store.Reset()
	c.channel.SendLogoutEvent(ctx, channel.LocalAction(channel.ReasonLogout))
	c.metrics.Inc(MetricLogout)
	c.notify.Notify(ctx, notify.AuthLogoutSuccess)
	c.log.Info("logged out")
	c.enforce(state)
	return nil
}

// CheckAuth re-derives the session from the durable identity.
func (c *Client) CheckAuth(ctx context.Context) session.State {
	state := c.store.CheckAuth(ctx)
	c.reconcile(state)
	c.enforce(state)
	return state
}

// SetVisible records tab visibility. Becoming visible re-checks token
// freshness and the session immediately; hidden tabs skip the periodic
// session re-check.
func (c *Client) SetVisible(ctx context.Context, visible bool) {
	was := c.visible.Swap(visible)
	if !visible || was {
		return
	}
	if c.usable() != nil {
		return
	}
	c.tokens.Foreground(ctx)
	c.CheckAuth(ctx)
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Navigate records the tab's current path and re-checks the session, the way
// a route change does.
func (c *Client) Navigate(ctx context.Context, path string) session.State {
	c.path.Store(path)
	c.guard.Settle()
	if locale := guard.Locale(path); locale != "" {
		c.notify.SetLocale(notify.ResolveLocale(path, ""))
	}
	return c.CheckAuth(ctx)
}

// CheckProtected reports whether path requires a session.
func (c *Client) CheckProtected(path string) bool {
	return c.guard.Matcher().Protected(path)
}

// Close stops every timer, leaves the channel and drains notifications. It
// is idempotent and must not be called from a Subscribe callback.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		started := c.started
		stop := c.stop
		id := c.handlerID
		c.mu.Unlock()

		if started {
			close(stop)
		}
		c.tokens.Stop()
		if started {
			c.channel.RemoveMessageHandler(id)
		}
		c.channel.Cleanup()
		c.bg.Wait()
		c.guard.Close()
		c.notify.Close()
		c.log.Debug("tab client closed", "tab_id", c.channel.TabID())
	})
	return nil
}

func (c *Client) usable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if !c.started {
		return ErrNotStarted
	}
	return nil
}

// spawn runs fn on a tracked goroutine unless the client is closed.
func (c *Client) spawn(fn func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.bg.Add(1)
	c.mu.Unlock()
	go func() {
		defer c.bg.Done()
		fn()
	}()
}

func (c *Client) recheckLoop() {
	ticker := time.NewTicker(c.cfg.Session.RecheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-c.wake:
			ticker.Reset(c.cfg.Session.RecheckInterval)
		case <-ticker.C:
			if !c.visible.Load() {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Session.RecheckInterval)
			c.CheckAuth(ctx)
			cancel()
		}
	}
}

// reconcile runs the token manager exactly while the session is
// authenticated.
func (c *Client) reconcile(state session.State) {
	if state.Loading {
		return
	}
	if state.IsAuthenticated {
		c.tokens.Start()
		return
	}
	c.tokens.Stop()
}

// enforce redirects away from protected routes when signed out.
func (c *Client) enforce(state session.State) {
	path, _ := c.path.Load().(string)
	if path == "" {
		return
	}
	c.guard.Evaluate(state, path)
}

func (c *Client) redirectTo(fn func(string)) func(string) {
	return func(from string) {
		c.metrics.Inc(MetricRedirect)
		c.notify.Notify(context.Background(), notify.AuthRequired)
		if fn != nil {
			fn(from)
		}
	}
}

func (c *Client) onMessage(msg channel.Message) {
	ctx := context.Background()
	switch ev := msg.Event.(type) {
	case channel.Login:
		state := c.store.Apply(session.Authenticated(ev.UserID))
		c.reconcile(state)
		c.log.Debug("login from another tab", "user_id", ev.UserID, "origin", msg.Origin)
	case channel.StateChange:
		snap := ev.State()
		state := c.store.Apply(session.State{IsAuthenticated: snap.IsAuthenticated, UserID: snap.UserID})
		c.reconcile(state)
		c.enforce(state)
	case channel.Logout:
		c.tokens.Revoke(ctx)
		state := c.store.Reset()
		c.metrics.Inc(MetricRemoteLogout)
		c.notify.Notify(ctx, notify.AuthLogoutAnotherTab)
		c.log.Info("logged out by another tab", "reason", channel.BaseReason(ev.Reason), "origin", msg.Origin)
		c.enforce(state)
	case channel.Expired:
		c.tokens.Revoke(ctx)
		state := c.store.Reset()
		c.metrics.Inc(MetricSessionExpired)
		c.notify.Notify(ctx, notify.AuthSessionExpired)
		c.log.Info("session expired in another tab", "origin", msg.Origin)
		c.enforce(state)
	case channel.Refresh:
		// A signed-out tab stays signed out; it would otherwise read back a
		// refresh that raced another tab's logout.
		if !c.store.Snapshot().IsAuthenticated {
			return
		}
		c.spawn(func() {
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Token.CheckInterval)
			defer cancel()
			state := c.store.CheckAuth(ctx)
			c.reconcile(state)
			if state.IsAuthenticated {
				c.tokens.CheckNow(ctx)
			}
		})
	}
}

func (c *Client) onRefreshed(userID string) {
	c.channel.SendRefreshEvent(context.Background(), userID)
}

// onRefreshRejected runs once per hard failure. The manager is already idle
// and the identity already cleared.
func (c *Client) onRefreshRejected(err error) {
	ctx := context.Background()
	if cerr := c.cache.Clear(ctx); cerr != nil {
		c.log.Warn("could not clear cached user id", "err", cerr)
	}
	state := c.store.Reset()
	c.channel.SendSessionExpiredEvent(ctx)
	c.metrics.Inc(MetricRefreshRejected)
	c.metrics.Inc(MetricSessionExpired)
	c.notify.Notify(ctx, notify.AuthSessionExpired)
	c.log.Info("session expired", "err", err)
	c.enforce(state)
}

func (c *Client) observeRefresh(o token.Outcome, took time.Duration) {
	switch o {
	case token.OutcomeRefreshed:
		c.metrics.Inc(MetricRefreshSuccess)
	case token.OutcomeSoftFailure:
		c.metrics.Inc(MetricRefreshSoftFailure)
	}
	c.metrics.Observe(MetricRefreshLatency, took)
}

func (c *Client) channelHooks() channel.Hooks {
	return channel.Hooks{
		Published:         func(channel.Type) { c.metrics.Inc(MetricEventPublished) },
		Received:          func(channel.Type) { c.metrics.Inc(MetricEventReceived) },
		Dropped:           func(error) { c.metrics.Inc(MetricEventDropped) },
		HandlerPanic:      func() { c.metrics.Inc(MetricHandlerPanic) },
		FallbackActivated: func() { c.metrics.Inc(MetricFallbackActivated) },
	}
}
