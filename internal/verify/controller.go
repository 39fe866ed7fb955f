// Package verify runs independent verification of AI-generated answers:
// sources are resolved, a second model call compares claim against content,
// and the output is reduced to a bounded trust score.
package verify

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/verifier/internal/llm"
	"github.com/sells-group/verifier/internal/metrics"
	"github.com/sells-group/verifier/internal/model"
	"github.com/sells-group/verifier/internal/parse"
	"github.com/sells-group/verifier/internal/prompt"
	"github.com/sells-group/verifier/internal/ratelimit"
	"github.com/sells-group/verifier/internal/resilience"
	"github.com/sells-group/verifier/internal/trust"
)

// ErrZeroScore marks an attempt whose output parsed to a score of zero.
var ErrZeroScore = eris.New("verify: model output produced a zero trust score")

// Controller defaults.
const (
	DefaultMaxAttempts = 3
	DefaultBackoff     = time.Second
)

// ControllerConfig configures the retry controller.
type ControllerConfig struct {
	MaxAttempts int
	// Backoff is multiplied by the attempt number between failed attempts.
	Backoff time.Duration
}

// Controller drives the model through up to MaxAttempts attempts, switching
// to a shorter prompt each time.
type Controller struct {
	gen     llm.Generator
	gate    ratelimit.Gate
	cfg     ControllerConfig
	metrics *metrics.Metrics
}

// NewController creates a Controller. gate and m may be nil.
func NewController(gen llm.Generator, gate ratelimit.Gate, cfg ControllerConfig, m *metrics.Metrics) *Controller {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Backoff < 0 {
		cfg.Backoff = 0
	} else if cfg.Backoff == 0 {
		cfg.Backoff = DefaultBackoff
	}
	if gate == nil {
		gate = ratelimit.Unlimited{}
	}
	return &Controller{gen: gen, gate: gate, cfg: cfg, metrics: m}
}

// Run returns the first attempt that yields a nonzero trust score. When
// every attempt fails it returns the fallback result together with the last
// error; the result is always usable.
func (c *Controller) Run(ctx context.Context, claim string, sources []model.VerifiedSource) (model.VerificationResult, error) {
	attempts := 0
	cfg := resilience.RetryConfig{
		MaxAttempts: c.cfg.MaxAttempts,
		Backoff:     resilience.LinearBackoff(c.cfg.Backoff),
		ShouldRetry: resilience.RetryAlways,
		OnRetry:     resilience.RetryLogger("llm", "verify"),
	}

	res, err := resilience.DoAttempt(ctx, cfg, func(ctx context.Context, attempt int) (model.VerificationResult, error) {
		attempts = attempt
		return c.attempt(ctx, claim, sources, attempt)
	})
	if err == nil {
		return res, nil
	}

	zap.L().Warn("verify: attempts exhausted, using fallback",
		zap.Int("attempts", attempts),
		zap.Int("verified_sources", model.CountVerified(sources)),
		zap.Error(err),
	)
	fb := trust.Fallback(sources)
	fb.Attempts = attempts
	return fb, eris.Wrapf(err, "verify: no usable result after %d attempt(s)", attempts)
}

func (c *Controller) attempt(ctx context.Context, claim string, sources []model.VerifiedSource, attempt int) (model.VerificationResult, error) {
	var zero model.VerificationResult
	if err := c.gate.Wait(ctx); err != nil {
		return zero, err
	}

	p := prompt.Build(claim, sources, attempt)
	text, err := c.gen.Generate(ctx, []model.Message{{Role: "user", Content: p.User}}, p.System)
	c.metrics.ObserveLLMCall(err)
	if err != nil {
		return zero, eris.Wrapf(err, "verify: attempt %d", attempt)
	}

	res := parse.Parse(text, sources)
	res.Attempts = attempt
	c.metrics.ObserveStrategy(res.Strategy)
	zap.L().Debug("verify: parsed model output",
		zap.Int("attempt", attempt),
		zap.String("strategy", res.Strategy),
		zap.Int("trust_score", res.TrustScore),
	)
	if res.TrustScore <= 0 {
		return zero, eris.Wrapf(ErrZeroScore, "attempt %d (strategy %s)", attempt, res.Strategy)
	}
	return res, nil
}
