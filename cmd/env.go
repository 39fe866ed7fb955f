package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/verifier/internal/config"
	"github.com/sells-group/verifier/internal/llm"
	"github.com/sells-group/verifier/internal/metrics"
	"github.com/sells-group/verifier/internal/ratelimit"
	"github.com/sells-group/verifier/internal/resilience"
	"github.com/sells-group/verifier/internal/resolve"
	"github.com/sells-group/verifier/internal/scrape"
	"github.com/sells-group/verifier/internal/store"
	"github.com/sells-group/verifier/internal/verify"
	anthropicpkg "github.com/sells-group/verifier/pkg/anthropic"
)

// verifierEnv holds the store, engine, and metrics needed by the verify,
// batch, and serve commands.
type verifierEnv struct {
	Store    store.Store
	Engine   *verify.Engine
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry

	redis *redis.Client
}

// Close releases resources held by the environment.
func (e *verifierEnv) Close() {
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured store backend.
func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	switch c.Store.Driver {
	case "sqlite":
		dsn := c.Store.DatabaseURL
		if dsn == "" {
			dsn = "verifier.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, c.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: c.Store.MaxConns,
			MinConns: c.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}

// initGate builds the rate gate in front of model calls. The returned
// client is non-nil only for the redis backend.
func initGate(ctx context.Context, c *config.Config) (ratelimit.Gate, *redis.Client, error) {
	switch c.RateLimit.Backend {
	case ratelimit.BackendNone:
		return ratelimit.Unlimited{}, nil, nil
	case ratelimit.BackendRedis:
		client, err := ratelimit.Dial(ctx, c.Redis.URL)
		if err != nil {
			return nil, nil, err
		}
		gate := ratelimit.NewRedis(ratelimit.NewRedisCounter(client), c.RateLimit.KeyPrefix, c.RateLimit.RequestsPerMinute)
		return gate, client, nil
	default:
		return ratelimit.NewLocal(c.RateLimit.RequestsPerMinute, c.RateLimit.Burst), nil, nil
	}
}

// newEngine assembles the resolver, retry controller, and engine on top of
// already-built collaborators.
func newEngine(c *config.Config, st store.Store, gen llm.Generator, gate ratelimit.Gate, fetcher scrape.Fetcher, m *metrics.Metrics) *verify.Engine {
	resolver := resolve.New(st, fetcher, resolve.Config{
		MaxContentLength:       c.Verify.MaxContentLength,
		MaxWebContentLength:    c.Verify.MaxWebContentLength,
		DocumentFallbackLength: c.Verify.DocumentFallbackLength,
	}, resolve.WithObserver(m.ObserveSource))

	controller := verify.NewController(gen, gate, verify.ControllerConfig{
		MaxAttempts: c.Verify.MaxAttempts,
		Backoff:     time.Duration(c.Verify.BackoffMs) * time.Millisecond,
	}, m)

	return verify.NewEngine(st, resolver, controller, m)
}

func newFetcher(c *config.Config) *scrape.PageFetcher {
	return scrape.NewPageFetcher(scrape.Options{
		UserAgent:    c.Scrape.UserAgent,
		Timeout:      time.Duration(c.Scrape.TimeoutSecs) * time.Second,
		MaxRedirects: c.Scrape.MaxRedirects,
		Retries:      c.Scrape.Retries,
	})
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// initVerifier validates the config for mode, opens and migrates the store,
// and wires the engine. Callers should defer env.Close().
func initVerifier(ctx context.Context, mode string) (*verifierEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	gate, redisClient, err := initGate(ctx, cfg)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "init rate gate")
	}

	reg := newRegistry()
	m := metrics.New(reg)

	breakerCfg := resilience.NewCircuitConfig("anthropic", cfg.Circuit.FailureThreshold, cfg.Circuit.ResetTimeoutSecs)
	breakerCfg.OnStateChange = m.CircuitObserver("anthropic")
	breaker := resilience.NewCircuitBreaker(breakerCfg)

	client := anthropicpkg.NewClient(cfg.Anthropic.Key, anthropicpkg.Options{
		BaseURL:    cfg.Anthropic.BaseURL,
		Timeout:    time.Duration(cfg.Anthropic.TimeoutSecs) * time.Second,
		MaxRetries: cfg.Anthropic.MaxRetries,
	})
	gen := llm.NewAnthropic(client, llm.AnthropicConfig{
		Model:     cfg.Anthropic.Model,
		MaxTokens: int64(cfg.Anthropic.MaxTokens),
	}, breaker)

	zap.L().Info("verifier initialized",
		zap.String("store", cfg.Store.Driver),
		zap.String("model", cfg.Anthropic.Model),
		zap.String("rate_limit", cfg.RateLimit.Backend),
		zap.Int("max_attempts", cfg.Verify.MaxAttempts),
	)

	return &verifierEnv{
		Store:    st,
		Engine:   newEngine(cfg, st, gen, gate, newFetcher(cfg), m),
		Metrics:  m,
		Registry: reg,
		redis:    redisClient,
	}, nil
}
