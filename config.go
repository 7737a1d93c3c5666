package authsync

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by LoadEnv.
const EnvPrefix = "AUTHSYNC_"

// Config holds every tunable of a tab client. The zero value is not usable;
// start from DefaultConfig.
type Config struct {
	Channel ChannelConfig `yaml:"channel" envPrefix:"CHANNEL_"`
	Token   TokenConfig   `yaml:"token" envPrefix:"TOKEN_"`
	Session SessionConfig `yaml:"session" envPrefix:"SESSION_"`
	Guard   GuardConfig   `yaml:"guard" envPrefix:"GUARD_"`
	Notify  NotifyConfig  `yaml:"notify" envPrefix:"NOTIFY_"`
	Storage StorageConfig `yaml:"storage" envPrefix:"STORAGE_"`
	API     APIConfig     `yaml:"api" envPrefix:"API_"`
	Metrics MetricsConfig `yaml:"metrics" envPrefix:"METRICS_"`
}

/*
====================================
CHANNEL CONFIG
====================================
*/

// ChannelConfig selects how tab clients reach each other.
type ChannelConfig struct {
	// RedisPrefix namespaces the Pub/Sub channel when a Redis client is
	// supplied to the builder.
	RedisPrefix string `yaml:"redis_prefix" env:"REDIS_PREFIX"`
	// RelayURL is a WebSocket relay used as the primary transport when no
	// bus or Redis client is supplied.
	RelayURL string `yaml:"relay_url" env:"RELAY_URL"`
	// DisableFallback turns off the shared-storage relay.
	DisableFallback bool `yaml:"disable_fallback" env:"DISABLE_FALLBACK"`
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig is the proactive refresh policy.
type TokenConfig struct {
	ExpiryThreshold time.Duration `yaml:"expiry_threshold" env:"EXPIRY_THRESHOLD"`
	CheckInterval   time.Duration `yaml:"check_interval" env:"CHECK_INTERVAL"`
	// MaxSoftFailures escalates consecutive network failures to an expiry.
	// Zero retries forever.
	MaxSoftFailures int `yaml:"max_soft_failures" env:"MAX_SOFT_FAILURES"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls periodic verification of the session.
type SessionConfig struct {
	// RecheckInterval is the full CheckAuth period while visible.
	RecheckInterval time.Duration `yaml:"recheck_interval" env:"RECHECK_INTERVAL"`
	// IdentityPrefix namespaces the Redis identity keys.
	IdentityPrefix string `yaml:"identity_prefix" env:"IDENTITY_PREFIX"`
}

/*
====================================
GUARD CONFIG
====================================
*/

// GuardConfig controls protected-route redirects.
type GuardConfig struct {
	ProtectedPaths []string      `yaml:"protected_paths" env:"PROTECTED_PATHS" envSeparator:","`
	LoginPath      string        `yaml:"login_path" env:"LOGIN_PATH"`
	MinInterval    time.Duration `yaml:"min_interval" env:"MIN_INTERVAL"`
	SettleDelay    time.Duration `yaml:"settle_delay" env:"SETTLE_DELAY"`
}

/*
====================================
NOTIFY CONFIG
====================================
*/

// NotifyConfig controls user-visible notifications.
type NotifyConfig struct {
	Cooldown   time.Duration `yaml:"cooldown" env:"COOLDOWN"`
	Locale     string        `yaml:"locale" env:"LOCALE"`
	BufferSize int           `yaml:"buffer_size" env:"BUFFER_SIZE"`
	DropIfFull bool          `yaml:"drop_if_full" env:"DROP_IF_FULL"`
}

/*
====================================
STORAGE CONFIG
====================================
*/

// StorageConfig controls the shared origin storage.
type StorageConfig struct {
	RedisPrefix string `yaml:"redis_prefix" env:"REDIS_PREFIX"`
}

/*
====================================
API CONFIG
====================================
*/

// APIConfig points at the authentication backend.
type APIConfig struct {
	BaseURL       string        `yaml:"base_url" env:"BASE_URL"`
	Origin        string        `yaml:"origin" env:"ORIGIN"`
	Timeout       time.Duration `yaml:"timeout" env:"TIMEOUT"`
	SecureCookies bool          `yaml:"secure_cookies" env:"SECURE_COOKIES"`
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled" env:"ENABLED"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms" env:"ENABLE_LATENCY_HISTOGRAMS"`
}

// DefaultConfig returns the stock timings: 10m expiry threshold, 5m token
// check, 30s session recheck, 1s redirect spacing and 2s notification
// cooldown.
func DefaultConfig() Config {
	return Config{
		Channel: ChannelConfig{
			RedisPrefix: "authsync",
		},
		Token: TokenConfig{
			ExpiryThreshold: 10 * time.Minute,
			CheckInterval:   5 * time.Minute,
			MaxSoftFailures: 0,
		},
		Session: SessionConfig{
			RecheckInterval: 30 * time.Second,
			IdentityPrefix:  "authsync:identity",
		},
		Guard: GuardConfig{
			LoginPath:   "/login",
			MinInterval: time.Second,
			SettleDelay: 200 * time.Millisecond,
		},
		Notify: NotifyConfig{
			Cooldown:   2 * time.Second,
			Locale:     "en",
			BufferSize: 64,
		},
		Storage: StorageConfig{
			RedisPrefix: "authsync:storage",
		},
		API: APIConfig{
			Timeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Guard.ProtectedPaths = append([]string(nil), cfg.Guard.ProtectedPaths...)
	return out
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Token.ExpiryThreshold <= 0 {
		return errors.New("Token ExpiryThreshold must be > 0")
	}
	if c.Token.CheckInterval <= 0 {
		return errors.New("Token CheckInterval must be > 0")
	}
	if c.Token.CheckInterval > c.Token.ExpiryThreshold {
		return errors.New("Token CheckInterval must not exceed ExpiryThreshold")
	}
	if c.Token.MaxSoftFailures < 0 {
		return errors.New("Token MaxSoftFailures must be >= 0")
	}
	if c.Session.RecheckInterval <= 0 {
		return errors.New("Session RecheckInterval must be > 0")
	}
	if c.Guard.MinInterval <= 0 {
		return errors.New("Guard MinInterval must be > 0")
	}
	if c.Guard.SettleDelay < 0 {
		return errors.New("Guard SettleDelay must be >= 0")
	}
	if !strings.HasPrefix(c.Guard.LoginPath, "/") {
		return errors.New("Guard LoginPath must start with /")
	}
	for _, p := range c.Guard.ProtectedPaths {
		if strings.TrimSpace(p) == "" {
			return errors.New("Guard ProtectedPaths must not contain empty entries")
		}
	}
	if c.Notify.Cooldown < 0 {
		return errors.New("Notify Cooldown must be >= 0")
	}
	if c.Notify.BufferSize <= 0 {
		return errors.New("Notify BufferSize must be > 0")
	}
	if c.Notify.Locale != "" {
		if _, err := language.Parse(c.Notify.Locale); err != nil {
			return fmt.Errorf("Notify Locale is invalid: %v", err)
		}
	}
	if c.API.BaseURL != "" {
		u, err := url.Parse(c.API.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.New("API BaseURL must be an absolute URL")
		}
	}
	if c.API.Timeout < 0 {
		return errors.New("API Timeout must be >= 0")
	}
	if c.Channel.RelayURL != "" {
		u, err := url.Parse(c.Channel.RelayURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss" && u.Scheme != "http" && u.Scheme != "https") {
			return errors.New("Channel RelayURL must be a ws, wss, http or https URL")
		}
	}
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}
	return nil
}

// LoadConfig reads a YAML file over DefaultConfig. ${VAR} references in the
// file are expanded from the environment before parsing.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrConfigLoad, err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrConfigLoad, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// LoadEnv overlays AUTHSYNC_* environment variables on cfg. dotenv files are
// loaded first when given; missing files are ignored. Variables already set
// in the process environment win over dotenv values.
func LoadEnv(cfg Config, dotenv ...string) (Config, error) {
	for _, f := range dotenv {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("%w: %v", ErrConfigLoad, err)
		}
	}
	out := cloneConfig(cfg)
	if err := env.ParseWithOptions(&out, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrConfigLoad, err)
	}
	if err := out.Validate(); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return out, nil
}
