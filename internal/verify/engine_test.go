package verify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/verifier/internal/metrics"
	"github.com/sells-group/verifier/internal/model"
	"github.com/sells-group/verifier/internal/resolve"
	"github.com/sells-group/verifier/internal/scrape"
	"github.com/sells-group/verifier/internal/store"
)

type mockStore struct{ mock.Mock }

func (m *mockStore) GetVerification(ctx context.Context, messageID int64) (*model.StoredVerification, error) {
	args := m.Called(ctx, messageID)
	sv, _ := args.Get(0).(*model.StoredVerification)
	return sv, args.Error(1)
}

func (m *mockStore) UpsertVerification(ctx context.Context, messageID int64, res model.VerificationResult) error {
	return m.Called(ctx, messageID, res).Error(0)
}

func (m *mockStore) InsertAudit(ctx context.Context, entry model.AuditEntry) error {
	return m.Called(ctx, entry).Error(0)
}

type mockResolver struct{ mock.Mock }

func (m *mockResolver) Resolve(ctx context.Context, claims []model.ClaimedSource, courseID int64, claimText string) []model.VerifiedSource {
	args := m.Called(ctx, claims, courseID, claimText)
	out, _ := args.Get(0).([]model.VerifiedSource)
	return out
}

func request() model.VerificationRequest {
	return model.VerificationRequest{
		MessageID: 42,
		CourseID:  7,
		Answer:    "Mitochondria produce 36 ATP per glucose. They are the powerhouse of the cell.",
		Sources: []model.ClaimedSource{
			{SourceType: model.SourceCourseMaterial, SourceID: model.Int64Ptr(5), SourceName: "Lecture 4"},
		},
	}
}

func TestEngine_ReturnsCachedResult(t *testing.T) {
	cached := model.VerificationResult{TrustScore: 91, TrustLevel: model.TrustHighest, Reasoning: "stored"}
	st := &mockStore{}
	st.On("GetVerification", mock.Anything, int64(42)).Return(&model.StoredVerification{MessageID: 42, Result: cached}, nil)
	res := &mockResolver{}
	gen := &mockGenerator{}

	e := NewEngine(st, res, fastController(gen, &countingGate{}), nil)
	got := e.Verify(context.Background(), request())

	assert.Equal(t, cached, got)
	res.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
	st.AssertNotCalled(t, "UpsertVerification", mock.Anything, mock.Anything, mock.Anything)
}

func TestEngine_VerifiesAndPersists(t *testing.T) {
	sources := oneVerified()
	st := &mockStore{}
	st.On("GetVerification", mock.Anything, int64(42)).Return(nil, nil)
	st.On("UpsertVerification", mock.Anything, int64(42), mock.MatchedBy(func(r model.VerificationResult) bool {
		return r.TrustScore == 85
	})).Return(nil)
	var audit model.AuditEntry
	st.On("InsertAudit", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { audit = args.Get(1).(model.AuditEntry) }).
		Return(nil)

	res := &mockResolver{}
	res.On("Resolve", mock.Anything, request().Sources, int64(7), "Mitochondria produce 36 ATP per glucose.").Return(sources)

	gen := &mockGenerator{}
	gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return(`{"trust_score": 85}`, nil)

	reg := prometheus.NewRegistry()
	e := NewEngine(st, res, fastController(gen, &countingGate{}), metrics.New(reg))
	got := e.Verify(context.Background(), request())

	assert.Equal(t, 85, got.TrustScore)
	assert.Equal(t, "Verified 1/2 sources independently. No hallucinations detected", got.EvidenceSummary)
	st.AssertExpectations(t)
	res.AssertExpectations(t)

	assert.Equal(t, AgentType, audit.AgentType)
	assert.Equal(t, ActionType, audit.ActionType)
	assert.InDelta(t, 0.85, audit.Confidence, 1e-9)
	assert.Nil(t, audit.Error)
	var in map[string]any
	require.NoError(t, json.Unmarshal(audit.Input, &in))
	assert.EqualValues(t, 42, in["message_id"])
	var out model.VerificationResult
	require.NoError(t, json.Unmarshal(audit.Output, &out))
	assert.Equal(t, 85, out.TrustScore)
}

func TestEngine_PersistenceFailuresDoNotFail(t *testing.T) {
	st := &mockStore{}
	st.On("GetVerification", mock.Anything, int64(42)).Return(nil, errors.New("db down"))
	st.On("UpsertVerification", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("db down"))
	st.On("InsertAudit", mock.Anything, mock.Anything).Return(errors.New("db down"))
	res := &mockResolver{}
	res.On("Resolve", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(oneVerified())
	gen := &mockGenerator{}
	gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return(`{"trust_score": 75}`, nil)

	got := NewEngine(st, res, fastController(gen, &countingGate{}), nil).Verify(context.Background(), request())
	assert.Equal(t, 75, got.TrustScore)
}

func TestEngine_InvalidRequest(t *testing.T) {
	st := &mockStore{}
	e := NewEngine(st, &mockResolver{}, fastController(&mockGenerator{}, &countingGate{}), nil)

	got := e.Verify(context.Background(), model.VerificationRequest{MessageID: 0, CourseID: 7, Answer: "x"})
	assert.Equal(t, 0, got.TrustScore)
	assert.Equal(t, model.TrustLow, got.TrustLevel)
	assert.Contains(t, got.Reasoning, "invalid request")
	assert.Contains(t, got.Recommendations, "professor")
	st.AssertNotCalled(t, "GetVerification", mock.Anything, mock.Anything)
}

func TestEngine_PanicBecomesFailureResult(t *testing.T) {
	st := &mockStore{}
	st.On("GetVerification", mock.Anything, int64(42)).Return(nil, nil)
	res := &mockResolver{}
	res.On("Resolve", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(oneVerified())
	gen := &mockGenerator{}
	gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		panic("nil map write")
	})

	got := NewEngine(st, res, fastController(gen, &countingGate{}), nil).Verify(context.Background(), request())
	assert.Equal(t, 0, got.TrustScore)
	assert.Equal(t, "failure", got.Strategy)
	assert.Contains(t, got.Reasoning, "nil map write")
	assert.Equal(t, "Verified 1/2 sources independently. No hallucinations detected", got.EvidenceSummary)
}

// One course-material claim backed by two chunks and one internet claim to
// a page that answers 403; the model fails every attempt.
func TestEngine_EndToEnd_ChunksAndBlockedPage(t *testing.T) {
	ctx := context.Background()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "e2e.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	r, err := st.DB().Exec(`INSERT INTO course_materials (course_id, title) VALUES (7, 'Lecture 4')`)
	require.NoError(t, err)
	materialID, err := r.LastInsertId()
	require.NoError(t, err)
	for i, c := range []string{
		"Glycolysis splits glucose into two pyruvate molecules.",
		"Oxidative phosphorylation brings the total to about 36 ATP per glucose.",
	} {
		_, err := st.DB().Exec(`INSERT INTO material_chunks (material_id, course_id, chunk_index, content) VALUES (?, 7, ?, ?)`,
			materialID, i, c)
		require.NoError(t, err)
	}

	blocked := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer blocked.Close()

	fetcher := scrape.NewPageFetcher(scrape.Options{Timeout: 2 * time.Second})
	resolver := resolve.New(st, fetcher, resolve.Config{})

	gen := &mockGenerator{}
	gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("model unavailable"))

	var statuses []model.VerificationStatus
	observed := resolve.New(st, fetcher, resolve.Config{}, resolve.WithObserver(func(_ model.SourceType, s model.VerificationStatus) {
		statuses = append(statuses, s)
	}))
	e := NewEngine(st, observed, fastController(gen, &countingGate{}), nil)

	req := model.VerificationRequest{
		MessageID: 42,
		CourseID:  7,
		Answer:    "Cells make about 36 ATP per glucose according to the lecture.",
		Sources: []model.ClaimedSource{
			{SourceType: model.SourceCourseMaterial, SourceID: &materialID, SourceName: "Lecture 4"},
			{SourceType: model.SourceInternet, SourceURL: model.StringPtr(blocked.URL), SourceName: "Blocked site"},
		},
	}

	resolved := resolver.Resolve(ctx, req.Sources, req.CourseID, req.Answer)
	require.Len(t, resolved, 2)
	assert.Equal(t, model.StatusVerified, resolved[0].Status)
	assert.Contains(t, resolved[0].Content(), "36 ATP")
	assert.Equal(t, model.StatusUnverified, resolved[1].Status)
	assert.Contains(t, *resolved[1].Error, "bot-blocked")

	got := e.Verify(ctx, req)
	assert.Equal(t, []model.VerificationStatus{model.StatusVerified, model.StatusUnverified}, statuses)
	assert.Equal(t, 60, got.TrustScore)
	assert.Equal(t, model.TrustMedium, got.TrustLevel)
	assert.Contains(t, got.Reasoning, "1 source(s) verified")
	gen.AssertNumberOfCalls(t, "Generate", 3)

	stored, err := st.GetVerification(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 60, stored.Result.TrustScore)

	var auditErr string
	require.NoError(t, st.DB().QueryRow(`SELECT error_message FROM agent_audit_log WHERE agent_type = ?`, AgentType).Scan(&auditErr))
	assert.Contains(t, auditErr, "model unavailable")

	// A second run for the same message is served from the store.
	again := e.Verify(ctx, req)
	assert.Equal(t, 60, again.TrustScore)
	gen.AssertNumberOfCalls(t, "Generate", 3)
}
