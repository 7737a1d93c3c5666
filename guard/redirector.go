package guard

import (
	"log/slog"
	"sync"
	"time"

	"github.com/William-g7/Airnest-sub001/session"
)

const (
	defaultMinInterval = time.Second
	defaultSettleDelay = 200 * time.Millisecond
)

// Options configures a Redirector.
type Options struct {
	Matcher *Matcher
	// Redirect performs the navigation. It is called synchronously.
	Redirect func(from string)
	// MinInterval is the minimum spacing between redirects.
	MinInterval time.Duration
	// SettleDelay clears the in-flight flag after a redirect. Zero uses the
	// default; negative leaves it to Settle.
	SettleDelay  time.Duration
	OnSuppressed func(from string)
	Logger       *slog.Logger
	Now          func() time.Time
}

// Redirector sends unauthenticated tabs away from protected routes.
type Redirector struct {
	matcher      *Matcher
	redirect     func(string)
	minInterval  time.Duration
	settleDelay  time.Duration
	onSuppressed func(string)
	log          *slog.Logger
	now          func() time.Time

	mu          sync.Mutex
	inFlight    bool
	last        time.Time
	settleTimer *time.Timer
}

// NewRedirector returns a Redirector with defaults applied.
func NewRedirector(opts Options) *Redirector {
	r := &Redirector{
		matcher:      opts.Matcher,
		redirect:     opts.Redirect,
		minInterval:  opts.MinInterval,
		settleDelay:  opts.SettleDelay,
		onSuppressed: opts.OnSuppressed,
		log:          opts.Logger,
		now:          opts.Now,
	}
	if r.matcher == nil {
		r.matcher = NewMatcher()
	}
	if r.minInterval <= 0 {
		r.minInterval = defaultMinInterval
	}
	if r.settleDelay == 0 {
		r.settleDelay = defaultSettleDelay
	}
	if r.log == nil {
		r.log = slog.New(slog.DiscardHandler)
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Matcher returns the path matcher.
func (r *Redirector) Matcher() *Matcher {
	return r.matcher
}

// Evaluate checks path against state and redirects when an unauthenticated
// tab is on a protected route. It reports whether a redirect fired.
func (r *Redirector) Evaluate(state session.State, path string) bool {
	if state.Loading || state.IsAuthenticated || !r.matcher.Protected(path) {
		return false
	}

	r.mu.Lock()
	now := r.now()
	if r.inFlight || (!r.last.IsZero() && now.Sub(r.last) < r.minInterval) {
		r.mu.Unlock()
		r.log.Debug("redirect suppressed", "path", path)
		if r.onSuppressed != nil {
			r.onSuppressed(path)
		}
		return false
	}
	r.inFlight = true
	r.last = now
	if r.settleDelay > 0 {
		if r.settleTimer != nil {
			r.settleTimer.Stop()
		}
		r.settleTimer = time.AfterFunc(r.settleDelay, r.Settle)
	}
	r.mu.Unlock()

	r.log.Info("unauthenticated access to protected route, redirecting", "path", path)
	if r.redirect != nil {
		r.redirect(path)
	}
	return true
}

// Settle marks the in-flight redirect as complete. The MinInterval spacing
// still applies.
func (r *Redirector) Settle() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inFlight = false
}

// Close stops the settle timer.
func (r *Redirector) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settleTimer != nil {
		r.settleTimer.Stop()
		r.settleTimer = nil
	}
}
