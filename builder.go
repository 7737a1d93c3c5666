package authsync

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/text/language"

	"github.com/William-g7/Airnest-sub001/authapi"
	"github.com/William-g7/Airnest-sub001/channel"
	"github.com/William-g7/Airnest-sub001/guard"
	"github.com/William-g7/Airnest-sub001/identity"
	"github.com/William-g7/Airnest-sub001/notify"
	"github.com/William-g7/Airnest-sub001/session"
	"github.com/William-g7/Airnest-sub001/storage"
	"github.com/William-g7/Airnest-sub001/token"
)

// LoginAPI is the backend used by Login and Logout. *authapi.Client
// implements it, and also token.Refresher.
type LoginAPI interface {
	Login(ctx context.Context, email, password string) (authapi.LoginResult, error)
	Logout(ctx context.Context, refreshToken string) error
}

// Builder assembles one tab client. A Builder is single-use.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	bus    *channel.Bus

	storage   storage.Storage
	identity  identity.Store
	jar       http.CookieJar
	api       LoginAPI
	refresher token.Refresher
	sink      notify.Sink
	catalog   *notify.Catalog
	redirect  func(from string)
	log       *slog.Logger
	tabID     string
	now       func() time.Time

	built bool
}

// New returns a Builder over DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis uses client for the Pub/Sub channel, the shared storage and, when
// no identity store is given, the identity keys.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithBus joins an in-process bus. It takes precedence over Redis for the
// channel only.
func (b *Builder) WithBus(bus *channel.Bus) *Builder {
	b.bus = bus
	return b
}

// WithStorage sets the shared origin storage used by the fallback relay and
// the user id cache.
func (b *Builder) WithStorage(s storage.Storage) *Builder {
	b.storage = s
	return b
}

func (b *Builder) WithIdentity(s identity.Store) *Builder {
	b.identity = s
	return b
}

// WithCookieJar shares jar between the backend client and the cookie
// identity store. Tabs of one browser share one jar.
func (b *Builder) WithCookieJar(jar http.CookieJar) *Builder {
	b.jar = jar
	return b
}

func (b *Builder) WithLoginAPI(api LoginAPI) *Builder {
	b.api = api
	return b
}

// WithRefresher overrides the refresher. Without it the login API is used
// when it implements token.Refresher.
func (b *Builder) WithRefresher(r token.Refresher) *Builder {
	b.refresher = r
	return b
}

func (b *Builder) WithNotifySink(s notify.Sink) *Builder {
	b.sink = s
	return b
}

func (b *Builder) WithCatalog(c *notify.Catalog) *Builder {
	b.catalog = c
	return b
}

// WithRedirect sets the navigation callback fired by the route guard.
func (b *Builder) WithRedirect(fn func(from string)) *Builder {
	b.redirect = fn
	return b
}

func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.log = l
	return b
}

// WithTabID fixes the tab id instead of generating one.
func (b *Builder) WithTabID(id string) *Builder {
	b.tabID = id
	return b
}

func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and wires the client. The client is not
// started.
func (b *Builder) Build() (*Client, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}
	b.built = true

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	log := b.log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	now := b.now
	if now == nil {
		now = time.Now
	}
	metrics := NewMetrics(cfg.Metrics)

	locale := language.English
	if cfg.Notify.Locale != "" {
		locale = language.Make(cfg.Notify.Locale)
	}

	if err := b.wireBackend(cfg, locale, log); err != nil {
		return nil, err
	}

	shared := b.storage
	if shared == nil {
		if b.redis != nil {
			shared = storage.NewRedis(b.redis, cfg.Storage.RedisPrefix)
		} else {
			log.Warn("no shared storage configured, user id cache is tab-local")
			shared = storage.NewMemory(0)
		}
	}

	c := &Client{
		cfg:      cfg,
		log:      log,
		metrics:  metrics,
		identity: b.identity,
		api:      b.api,
		now:      now,
	}

	var primary channel.Opener
	switch {
	case b.bus != nil:
		primary = b.bus.Opener()
	case b.redis != nil:
		primary = channel.RedisOpener(b.redis, cfg.Channel.RedisPrefix)
	case cfg.Channel.RelayURL != "":
		primary = channel.RelayOpener(cfg.Channel.RelayURL, nil)
	}
	var fallback channel.Opener
	if !cfg.Channel.DisableFallback {
		fallback = channel.StorageOpener(shared)
	}
	c.channel = channel.New(channel.Options{
		TabID:    b.tabID,
		Primary:  primary,
		Fallback: fallback,
		Logger:   log.With("component", "channel"),
		Hooks:    c.channelHooks(),
		Now:      now,
	})

	c.cache = identity.NewLocalCache(shared, c.channel.TabID())
	c.store = session.NewStore(identity.WithFallback(b.identity, c.cache), log.With("component", "session"))

	refresher := b.refresher
	if refresher == nil {
		if r, ok := b.api.(token.Refresher); ok {
			refresher = r
		}
	}
	if refresher == nil {
		return nil, ErrMissingRefresher
	}
	tokens, err := token.NewManager(token.Options{
		Config: token.Config{
			ExpiryThreshold: cfg.Token.ExpiryThreshold,
			CheckInterval:   cfg.Token.CheckInterval,
			MaxSoftFailures: cfg.Token.MaxSoftFailures,
		},
		Identity:    b.identity,
		Refresher:   refresher,
		Logger:      log.With("component", "token"),
		Now:         now,
		OnRefreshed: c.onRefreshed,
		OnRejected:  c.onRefreshRejected,
		Observe:     c.observeRefresh,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	c.tokens = tokens

	c.guard = guard.NewRedirector(guard.Options{
		Matcher:     guard.NewMatcher(cfg.Guard.ProtectedPaths...),
		Redirect:    c.redirectTo(b.redirect),
		MinInterval: cfg.Guard.MinInterval,
		SettleDelay: settleDelay(cfg.Guard.SettleDelay),
		OnSuppressed: func(string) {
			metrics.Inc(MetricRedirectSuppressed)
		},
		Logger: log.With("component", "guard"),
		Now:    now,
	})

	sink := b.sink
	if sink == nil {
		sink = notify.LogSink{Logger: log.With("component", "notify")}
	}
	c.dispatcher = notify.NewDispatcher(notify.DispatcherConfig{
		BufferSize: cfg.Notify.BufferSize,
		DropIfFull: cfg.Notify.DropIfFull,
	}, sink)
	c.notify = notify.NewService(notify.Options{
		Catalog:    b.catalog,
		Dispatcher: c.dispatcher,
		Cooldown:   cooldown(cfg.Notify.Cooldown),
		Locale:     locale,
		Logger:     log.With("component", "notify"),
		Now:        now,
		OnSuppressed: func(notify.Kind) {
			metrics.Inc(MetricNotificationSuppressed)
		},
	})

	c.visible.Store(true)
	c.path.Store("")
	return c, nil
}

// wireBackend derives the identity store and the login API from the
// configuration when they were not supplied.
func (b *Builder) wireBackend(cfg Config, locale language.Tag, log *slog.Logger) error {
	if cfg.API.BaseURL != "" && (b.api == nil || b.identity == nil) {
		base, err := url.Parse(cfg.API.BaseURL)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		jar := b.jar
		if jar == nil {
			log.Warn("no cookie jar configured, identity is not shared with other tabs", "base_url", cfg.API.BaseURL)
			if jar, err = cookiejar.New(nil); err != nil {
				return err
			}
		}
		if b.api == nil {
			api, err := authapi.New(authapi.Config{
				BaseURL: cfg.API.BaseURL,
				Origin:  cfg.API.Origin,
				Timeout: cfg.API.Timeout,
				Locale:  locale.String(),
			}, authapi.WithHTTPClient(&http.Client{Jar: jar, Timeout: cfg.API.Timeout}),
				authapi.WithLogger(log.With("component", "authapi")))
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
			}
			b.api = api
		}
		if b.identity == nil {
			store, err := identity.NewCookieStore(jar, base, cfg.API.SecureCookies)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
			}
			b.identity = store
		}
	}
	if b.identity == nil && b.redis != nil {
		b.identity = identity.NewRedisStore(b.redis, cfg.Session.IdentityPrefix)
	}
	if b.identity == nil {
		return ErrMissingIdentity
	}
	return nil
}

// settleDelay maps a zero config value to manual settling.
func settleDelay(d time.Duration) time.Duration {
	if d == 0 {
		return -1
	}
	return d
}

// cooldown maps a zero config value to the smallest positive window, which
// disables suppression in practice.
func cooldown(d time.Duration) time.Duration {
	if d == 0 {
		return time.Nanosecond
	}
	return d
}
