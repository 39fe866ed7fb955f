package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/verifier/internal/config"
	"github.com/sells-group/verifier/internal/llm"
	"github.com/sells-group/verifier/internal/metrics"
	"github.com/sells-group/verifier/internal/model"
	"github.com/sells-group/verifier/internal/ratelimit"
	"github.com/sells-group/verifier/internal/store"
	anthropicpkg "github.com/sells-group/verifier/pkg/anthropic"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	c := &config.Config{}
	c.Store.Driver = "sqlite"
	c.Store.DatabaseURL = filepath.Join(t.TempDir(), "verifier.db")
	c.Anthropic.Model = "claude-haiku-4-5-20251001"
	c.Anthropic.MaxTokens = 2048
	c.Verify.MaxAttempts = 3
	c.Verify.BackoffMs = -1
	c.Verify.MaxContentLength = 3000
	c.Verify.MaxWebContentLength = 3000
	c.Verify.DocumentFallbackLength = 2000
	c.Scrape.TimeoutSecs = 2
	c.RateLimit.Backend = ratelimit.BackendNone
	return c
}

// modelServer answers every Messages API call with text.
func modelServer(t *testing.T, text string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"id":          "msg_env_001",
			"type":        "message",
			"role":        "assistant",
			"content":     []map[string]any{{"type": "text", "text": text}},
			"model":       "claude-haiku-4-5-20251001",
			"stop_reason": "end_turn",
			"usage":       map[string]any{"input_tokens": 900, "output_tokens": 60},
		})
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestInitStore(t *testing.T) {
	ctx := context.Background()
	c := testConfig(t)

	st, err := initStore(ctx, c)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	c.Store.Driver = "mysql"
	_, err = initStore(ctx, c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestInitGate(t *testing.T) {
	ctx := context.Background()
	c := testConfig(t)

	gate, client, err := initGate(ctx, c)
	require.NoError(t, err)
	assert.IsType(t, ratelimit.Unlimited{}, gate)
	assert.Nil(t, client)

	c.RateLimit.Backend = ratelimit.BackendLocal
	c.RateLimit.RequestsPerMinute = 60
	c.RateLimit.Burst = 2
	gate, _, err = initGate(ctx, c)
	require.NoError(t, err)
	assert.IsType(t, &ratelimit.LocalGate{}, gate)

	c.RateLimit.Backend = ratelimit.BackendRedis
	c.Redis.URL = "redis://127.0.0.1:1/0"
	_, _, err = initGate(ctx, c)
	assert.Error(t, err)
}

func TestNewEngine_EndToEnd(t *testing.T) {
	ctx := context.Background()
	c := testConfig(t)

	st, err := initStore(ctx, c)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	sqlite := st.(*store.SQLiteStore)
	res, err := sqlite.DB().Exec(`INSERT INTO course_materials (course_id, title, content) VALUES (?, ?, ?)`, 5, "Lecture 1", nil)
	require.NoError(t, err)
	materialID, err := res.LastInsertId()
	require.NoError(t, err)
	_, err = sqlite.DB().Exec(`INSERT INTO material_chunks (material_id, course_id, chunk_index, content) VALUES (?, ?, ?, ?)`,
		materialID, 5, 0, "Photosynthesis converts light energy into chemical energy stored in glucose.")
	require.NoError(t, err)

	ts := modelServer(t, "```json\n{\"trust_score\": 88, \"reasoning\": \"Matches the lecture.\", \"hallucinations_detected\": []}\n```")
	gen := llm.NewAnthropic(anthropicpkg.NewClient("test-key", anthropicpkg.Options{BaseURL: ts.URL}), llm.AnthropicConfig{Model: c.Anthropic.Model}, nil)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	eng := newEngine(c, st, gen, ratelimit.Unlimited{}, newFetcher(c), m)

	req := model.VerificationRequest{
		MessageID: 77,
		CourseID:  5,
		Answer:    "Photosynthesis turns light energy into chemical energy [Source 1].",
		Sources: []model.ClaimedSource{
			{SourceType: model.SourceCourseMaterial, SourceID: model.Int64Ptr(materialID), SourceName: "Lecture 1"},
		},
	}
	got := eng.Verify(ctx, req)
	assert.Equal(t, 88, got.TrustScore)
	assert.Equal(t, model.TrustHigh, got.TrustLevel)
	assert.Equal(t, "markdown", got.Strategy)
	assert.Contains(t, got.EvidenceSummary, "Verified 1/1 sources")

	stored, err := eng.Lookup(ctx, 77)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 88, stored.Result.TrustScore)

	assert.Equal(t, 1, testutil.CollectAndCount(reg, "verifier_sources_resolved_total"))
}
