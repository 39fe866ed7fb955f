package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/sells-group/verifier/internal/model"
	"github.com/sells-group/verifier/internal/resilience"
)

func TestMetrics_Observe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRun(OutcomeVerified, model.VerificationResult{TrustScore: 85, Attempts: 1}, time.Second)
	m.ObserveRun(OutcomeFallback, model.VerificationResult{TrustScore: 30, Attempts: 3}, 2*time.Second)
	m.ObserveRun(OutcomeCached, model.VerificationResult{TrustScore: 85}, 0)
	m.ObserveStrategy("direct")
	m.ObserveStrategy("")
	m.ObserveSource(model.SourceInternet, model.StatusUnverified)
	m.ObserveLLMCall(nil)
	m.ObserveLLMCall(errors.New("boom"))
	m.CircuitObserver("anthropic")(resilience.CircuitClosed, resilience.CircuitOpen)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues(OutcomeVerified)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues(OutcomeCached)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.strategies.WithLabelValues("direct")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sources.WithLabelValues("internet", "unverified")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.llmCalls.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.circuitStates.WithLabelValues("anthropic")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.trustScores))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveRun(OutcomeFailure, model.VerificationResult{}, time.Second)
	m.ObserveStrategy("direct")
	m.ObserveSource(model.SourceOther, model.StatusUnverified)
	m.ObserveLLMCall(nil)
	m.CircuitObserver("x")(resilience.CircuitClosed, resilience.CircuitOpen)
}
