// Package metrics exposes Prometheus instrumentation for verification runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sells-group/verifier/internal/model"
	"github.com/sells-group/verifier/internal/resilience"
)

const namespace = "verifier"

// Run outcomes.
const (
	OutcomeCached   = "cached"
	OutcomeVerified = "verified"
	OutcomeFallback = "fallback"
	OutcomeFailure  = "failure"
)

// Metrics holds the verifier's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	runs          *prometheus.CounterVec
	strategies    *prometheus.CounterVec
	sources       *prometheus.CounterVec
	trustScores   prometheus.Histogram
	attempts      prometheus.Histogram
	duration      prometheus.Histogram
	llmCalls      *prometheus.CounterVec
	circuitStates *prometheus.GaugeVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Verification runs by outcome.",
		}, []string{"outcome"}),
		strategies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_strategy_total",
			Help:      "Parsed model outputs by the strategy that recovered them.",
		}, []string{"strategy"}),
		sources: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sources_resolved_total",
			Help:      "Resolved sources by type and verification status.",
		}, []string{"source_type", "status"}),
		trustScores: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "trust_score",
			Help:      "Distribution of final trust scores.",
			Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}),
		attempts: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attempts",
			Help:      "Model attempts used per verification run.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of verification runs.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
		}),
		llmCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "Language-model calls by status.",
		}, []string{"status"}),
		circuitStates: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_state",
			Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open).",
		}, []string{"service"}),
	}
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(outcome string, res model.VerificationResult, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
	if outcome == OutcomeCached {
		return
	}
	m.trustScores.Observe(float64(res.TrustScore))
	m.duration.Observe(elapsed.Seconds())
	if res.Attempts > 0 {
		m.attempts.Observe(float64(res.Attempts))
	}
}

// ObserveStrategy records which parser strategy produced a result.
func (m *Metrics) ObserveStrategy(strategy string) {
	if m == nil || strategy == "" {
		return
	}
	m.strategies.WithLabelValues(strategy).Inc()
}

// ObserveSource records one source resolution.
func (m *Metrics) ObserveSource(sourceType model.SourceType, status model.VerificationStatus) {
	if m == nil {
		return
	}
	m.sources.WithLabelValues(string(sourceType), string(status)).Inc()
}

// ObserveLLMCall records a model call as "ok" or "error".
func (m *Metrics) ObserveLLMCall(err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.llmCalls.WithLabelValues(status).Inc()
}

// CircuitObserver returns an OnStateChange hook that tracks the breaker
// state for service.
func (m *Metrics) CircuitObserver(service string) func(from, to resilience.CircuitState) {
	return func(_, to resilience.CircuitState) {
		if m == nil {
			return
		}
		m.circuitStates.WithLabelValues(service).Set(float64(to))
	}
}
