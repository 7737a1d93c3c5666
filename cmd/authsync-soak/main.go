package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"sort"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	authsync "github.com/William-g7/Airnest-sub001"
	"github.com/William-g7/Airnest-sub001/channel"
	"github.com/William-g7/Airnest-sub001/internal/fakeapi"
	authprom "github.com/William-g7/Airnest-sub001/metrics/export/prometheus"
	"github.com/William-g7/Airnest-sub001/session"
	"github.com/William-g7/Airnest-sub001/storage"
)

const (
	soakEmail    = "soak@example.com"
	soakPassword = "soak-password"
)

func main() {
	var (
		tabs        = flag.Int("tabs", 8, "number of tabs sharing one origin")
		ops         = flag.Int("ops", 200, "login/logout cycles")
		medium      = flag.String("medium", "memory", "broadcast medium: memory, redis or miniredis")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env is used")
		timeout     = flag.Duration("timeout", 5*time.Second, "per-cycle convergence timeout")
		metricsAddr = flag.String("metrics-addr", "", "serve tab 0 metrics on this address while running")
		verbose     = flag.Bool("v", false, "log client activity to stderr")
	)
	flag.Parse()

	if *tabs < 2 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "tabs must be >= 2 and ops must be > 0")
		os.Exit(2)
	}

	log := slog.New(slog.DiscardHandler)
	if *verbose {
		log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	backend, err := newBackend()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start backend: %v\n", err)
		os.Exit(1)
	}
	srv := httptest.NewServer(backend.Handler())
	defer srv.Close()

	jar, err := cookiejar.New(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cookie jar: %v\n", err)
		os.Exit(1)
	}

	wire, cleanup, err := openMedium(*medium, *redisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	cfg := authsync.DefaultConfig()
	cfg.API.BaseURL = srv.URL
	cfg.Notify.Cooldown = 0

	ctx := context.Background()
	clients := make([]*authsync.Client, *tabs)
	for i := range clients {
		b := authsync.New().
			WithConfig(cfg).
			WithCookieJar(jar).
			WithLogger(log.With("tab", i)).
			WithTabID(fmt.Sprintf("soak-%d", i))
		c, err := wire(b).Build()
		if err != nil {
			fmt.Fprintf(os.Stderr, "build tab %d: %v\n", i, err)
			os.Exit(1)
		}
		if err := c.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "start tab %d: %v\n", i, err)
			os.Exit(1)
		}
		defer c.Close()
		clients[i] = c
	}
	fmt.Printf("opened %d tabs on %s (transport %s)\n", *tabs, *medium, clients[0].Transport())

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", authprom.NewCollector(clients[0]).Handler())
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
			}
		}()
		fmt.Printf("serving metrics on http://%s/metrics\n", *metricsAddr)
	}

	login, logout := runCycles(ctx, clients, *ops, *timeout)

	fmt.Println("---- results ----")
	printStats("login", login)
	printStats("logout", logout)
	snap := clients[0].MetricsSnapshot()
	fmt.Printf("tab0: published=%d received=%d dropped=%d refresh_calls=%d\n",
		snap.Counters[authsync.MetricEventPublished],
		snap.Counters[authsync.MetricEventReceived],
		snap.Counters[authsync.MetricEventDropped],
		backend.RefreshCalls(),
	)
}

func newBackend() (*fakeapi.Server, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	s, err := fakeapi.New(fakeapi.Options{
		Signer: fakeapi.SignerConfig{
			Method:     fakeapi.MethodEd25519,
			PrivateKey: priv,
			PublicKey:  priv.Public().(ed25519.PublicKey),
			Issuer:     "authsync-soak",
		},
		RequireCSRF: true,
	})
	if err != nil {
		return nil, err
	}
	if err := s.AddUser(fakeapi.User{ID: "1", Email: soakEmail, Password: soakPassword, EmailVerified: true}); err != nil {
		return nil, err
	}
	return s, nil
}

// openMedium returns a builder option joining every tab to one broadcast
// medium and one shared storage.
func openMedium(medium, addr string) (func(*authsync.Builder) *authsync.Builder, func(), error) {
	switch medium {
	case "memory":
		bus := channel.NewBus(0)
		shared := storage.NewMemory(0)
		return func(b *authsync.Builder) *authsync.Builder {
			return b.WithBus(bus).WithStorage(shared)
		}, func() { _ = shared.Close() }, nil
	case "redis", "miniredis":
		cleanup := func() {}
		if medium == "miniredis" {
			mr, err := miniredis.Run()
			if err != nil {
				return nil, nil, fmt.Errorf("failed to start miniredis: %w", err)
			}
			addr = mr.Addr()
			cleanup = mr.Close
		} else if addr == "" {
			addr = os.Getenv("REDIS_ADDR")
		}
		if addr == "" {
			return nil, nil, fmt.Errorf("redis medium needs -redis-addr or REDIS_ADDR")
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		wire := func(b *authsync.Builder) *authsync.Builder {
			return b.WithRedis(client)
		}
		return wire, func() {
			_ = client.Close()
			cleanup()
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown medium %q", medium)
	}
}

// runCycles logs in and out from rotating tabs and measures how long the
// remaining tabs take to converge.
func runCycles(ctx context.Context, clients []*authsync.Client, ops int, timeout time.Duration) (phaseStats, phaseStats) {
	var (
		loginSamples, logoutSamples   []time.Duration
		loginFailures, logoutFailures int64
		loginTotal, logoutTotal       time.Duration
	)
	for i := 0; i < ops; i++ {
		origin := clients[i%len(clients)]

		t0 := time.Now()
		_, err := origin.Login(ctx, soakEmail, soakPassword)
		if err == nil {
			err = converge(clients, timeout, func(s session.State) bool { return s.IsAuthenticated })
		}
		d := time.Since(t0)
		loginTotal += d
		if err != nil {
			loginFailures++
		} else {
			loginSamples = append(loginSamples, d)
		}

		t0 = time.Now()
		err = origin.Logout(ctx)
		if err == nil {
			err = converge(clients, timeout, func(s session.State) bool { return !s.IsAuthenticated })
		}
		d = time.Since(t0)
		logoutTotal += d
		if err != nil {
			logoutFailures++
		} else {
			logoutSamples = append(logoutSamples, d)
		}
	}
	return computeStats(loginTotal, loginSamples, loginFailures),
		computeStats(logoutTotal, logoutSamples, logoutFailures)
}

func converge(clients []*authsync.Client, timeout time.Duration, done func(session.State) bool) error {
	deadline := time.Now().Add(timeout)
	for {
		ready := 0
		for _, c := range clients {
			if done(c.State()) {
				ready++
			}
		}
		if ready == len(clients) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%d of %d tabs converged", ready, len(clients))
		}
		time.Sleep(100 * time.Microsecond)
	}
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: cycles=%d failures=%d total=%s cycles/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
