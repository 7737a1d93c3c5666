package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/text/language"
)

const defaultCooldown = 2 * time.Second

// Options configures a Service.
type Options struct {
	Catalog    *Catalog
	Dispatcher *Dispatcher
	// Cooldown suppresses the same kind repeated within the window.
	Cooldown time.Duration
	Locale   language.Tag
	Logger   *slog.Logger
	Now      func() time.Time
	// OnSuppressed fires for every notification dropped by the cooldown.
	OnSuppressed func(Kind)
}

// Service renders and dispatches notifications.
type Service struct {
	catalog      *Catalog
	dispatcher   *Dispatcher
	cooldown     time.Duration
	log          *slog.Logger
	now          func() time.Time
	onSuppressed func(Kind)

	mu       sync.Mutex
	locale   language.Tag
	lastKind Kind
	lastAt   time.Time
}

// NewService returns a Service. Without a dispatcher notifications are
// rendered and dropped.
func NewService(opts Options) *Service {
	s := &Service{
		catalog:      opts.Catalog,
		dispatcher:   opts.Dispatcher,
		cooldown:     opts.Cooldown,
		log:          opts.Logger,
		now:          opts.Now,
		onSuppressed: opts.OnSuppressed,
		locale:       opts.Locale,
	}
	if s.catalog == nil {
		s.catalog = NewCatalog()
	}
	if s.cooldown == 0 {
		s.cooldown = defaultCooldown
	}
	if s.log == nil {
		s.log = slog.New(slog.DiscardHandler)
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.locale == language.Und {
		s.locale = language.English
	}
	return s
}

// SetLocale changes the locale used for rendering.
func (s *Service) SetLocale(tag language.Tag) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locale = tag
}

// Locale returns the current rendering locale.
func (s *Service) Locale() language.Tag {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locale
}

// Notify shows kind with its template text. It reports whether the
// notification was dispatched.
func (s *Service) Notify(ctx context.Context, kind Kind) bool {
	return s.NotifyMessage(ctx, kind, "")
}

// NotifyMessage shows kind with custom text replacing the template.
func (s *Service) NotifyMessage(ctx context.Context, kind Kind, message string) bool {
	now := s.now()

	n, err := s.catalog.Render(kind, s.Locale(), message)
	if err != nil {
		s.log.Error("notification has no template", "kind", string(kind), "err", err)
		return false
	}
	n.Timestamp = now

	s.mu.Lock()
	if kind == s.lastKind && !s.lastAt.IsZero() && now.Sub(s.lastAt) < s.cooldown {
		s.mu.Unlock()
		s.log.Debug("notification suppressed by cooldown", "kind", string(kind))
		if s.onSuppressed != nil {
			s.onSuppressed(kind)
		}
		return false
	}
	s.lastKind = kind
	s.lastAt = now
	s.mu.Unlock()

	s.dispatcher.Emit(ctx, n)
	return true
}

// Close stops the dispatcher after draining it.
func (s *Service) Close() {
	s.dispatcher.Close()
}
