package parse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/verifier/internal/model"
)

func verifiedSources(n int) []model.VerifiedSource {
	out := make([]model.VerifiedSource, 0, n+1)
	for i := 0; i < n; i++ {
		out = append(out, model.VerifiedSource{Status: model.StatusVerified, ActualContent: model.StringPtr("text")})
	}
	return append(out, model.VerifiedSource{Status: model.StatusUnverified})
}

const fullJSON = `{"trust_score": 85, "trust_level": "highest", "reasoning": "Claims match the lecture.",
"verification_details": [{"source": "Lecture 4", "claimed_content": "36 ATP", "actual_content": "about 36 ATP",
"match_quality": "paraphrase", "evidence": "slide 12"}], "hallucinations_detected": [], "recommendations": "None."}`

func TestParse_Direct(t *testing.T) {
	res := Parse("  "+fullJSON+"\n", verifiedSources(1))

	assert.Equal(t, StrategyDirect, res.Strategy)
	assert.Equal(t, 85, res.TrustScore)
	assert.Equal(t, model.TrustHigh, res.TrustLevel, "model-provided level is ignored")
	assert.Equal(t, "Claims match the lecture.", res.Reasoning)
	require.Len(t, res.VerificationDetails, 1)
	assert.Equal(t, model.MatchParaphrase, res.VerificationDetails[0].MatchQuality)
	assert.Equal(t, "Verified 1/2 sources independently. No hallucinations detected", res.EvidenceSummary)
}

func TestParse_Markdown(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"json fence", "Here you go:\n```json\n" + fullJSON + "\n```\nThanks"},
		{"bare fence", "```\n" + fullJSON + "\n```"},
		{"inline json fence", "```json" + fullJSON + "```"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Parse(tt.text, verifiedSources(1))
			assert.Equal(t, StrategyMarkdown, res.Strategy)
			assert.Equal(t, 85, res.TrustScore)
		})
	}
}

func TestParse_Brace(t *testing.T) {
	res := Parse(`Some preamble {"trust_score": 42} trailing text`, verifiedSources(1))
	assert.Equal(t, StrategyBrace, res.Strategy)
	assert.Equal(t, 42, res.TrustScore)
	assert.Equal(t, model.TrustLower, res.TrustLevel)
	assert.Equal(t, []model.VerificationDetail{}, res.VerificationDetails)
	assert.Equal(t, []string{}, res.HallucinationsDetected)
}

func TestParse_BraceIgnoresBracesInStrings(t *testing.T) {
	text := `Result: {"reasoning": "set {a, b} and \"quoted } brace\"", "trust_score": 73} done {}`
	res := Parse(text, verifiedSources(1))
	assert.Equal(t, StrategyBrace, res.Strategy)
	assert.Equal(t, 73, res.TrustScore)
	assert.Equal(t, `set {a, b} and "quoted } brace"`, res.Reasoning)
}

func TestParse_Fields(t *testing.T) {
	res := Parse("blah trust_score: 77 blah", verifiedSources(1))
	assert.Equal(t, StrategyFields, res.Strategy)
	assert.Equal(t, 77, res.TrustScore)
	assert.Equal(t, model.TrustHigh, res.TrustLevel)
}

func TestParse_FieldsFromTruncatedJSON(t *testing.T) {
	text := `{"trust_score": 64, "trust_level": "medium", "reasoning": "Mostly \"supported\".", "verification_details": [{"source": "Lec`
	res := Parse(text, verifiedSources(1))
	assert.Equal(t, StrategyFields, res.Strategy)
	assert.Equal(t, 64, res.TrustScore)
	assert.Equal(t, model.TrustMedium, res.TrustLevel)
	assert.Equal(t, `Mostly "supported".`, res.Reasoning)
}

func TestParse_Heuristic(t *testing.T) {
	text := "The claims were verified. The figure matches the slide and is consistent with the notes."

	res := Parse(text, verifiedSources(1))
	assert.Equal(t, StrategyHeuristic, res.Strategy)
	assert.Equal(t, 80, res.TrustScore)

	res = Parse(text, verifiedSources(0))
	assert.Equal(t, 40, res.TrustScore)
	assert.Equal(t, model.TrustLower, res.TrustLevel)
}

func TestHeuristic_Bounds(t *testing.T) {
	allPositive := "verified confirmed accurate correct found in source matches consistent present in located in"
	allNegative := "not found missing absent incorrect fabricated hallucination discrepancy contradiction mismatch"

	assert.Equal(t, 90, Parse(allPositive, verifiedSources(1)).TrustScore)
	assert.Equal(t, 20, Parse(allNegative, verifiedSources(1)).TrustScore)
	assert.Equal(t, 20, Parse(allNegative, verifiedSources(0)).TrustScore)
	assert.Equal(t, 50, Parse("no signal either way", verifiedSources(1)).TrustScore)
}

func TestHeuristic_WordBoundaries(t *testing.T) {
	// "unverified" and "incorrect" must not count as positive.
	res := Parse("The source is unverified and the statement incorrect.", verifiedSources(1))
	assert.Equal(t, 40, res.TrustScore)
}

func TestHeuristic_PluralIndicators(t *testing.T) {
	text := "Two claims were verified, but the answer contains hallucinations, discrepancies and mismatches."

	res := Parse(text, verifiedSources(1))
	assert.Equal(t, StrategyHeuristic, res.Strategy)
	assert.Equal(t, 30, res.TrustScore)

	assert.Equal(t, 40, Parse("Several contradictions.", verifiedSources(1)).TrustScore)
}

func TestParse_ScoreNormalization(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{`{"trust_score": "85"}`, 85},
		{`{"trust_score": 84.6}`, 85},
		{`{"trust_score": 140}`, 100},
		{`{"trust_score": -3}`, 0},
		{`{"reasoning": "no score"}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			res := Parse(tt.text, verifiedSources(1))
			assert.Equal(t, StrategyDirect, res.Strategy)
			assert.Equal(t, tt.want, res.TrustScore)
		})
	}
}

func TestParse_SanitizesAndClamps(t *testing.T) {
	long := strings.Repeat("x", 500)
	text := `{"trust_score": 55, "reasoning": "<script>alert(1)</script>Looks <b>fine</b> & sound",
"hallucinations_detected": ["<i>invented</i> statistic", ""],
"verification_details": [{"source": "S", "claimed_content": "` + long + `", "actual_content": "` + long + `",
"match_quality": "Bogus", "evidence": "` + long + `"}]}`

	res := Parse(text, verifiedSources(1))
	assert.Equal(t, "Looks fine & sound", res.Reasoning)
	assert.Equal(t, []string{"invented statistic"}, res.HallucinationsDetected)
	assert.Equal(t, "Verified 1/2 sources independently. ⚠ 1 hallucination(s) detected", res.EvidenceSummary)
	require.Len(t, res.VerificationDetails, 1)
	d := res.VerificationDetails[0]
	assert.Len(t, d.ClaimedContent, model.MaxClaimedContentLen)
	assert.Len(t, d.ActualContent, model.MaxActualContentLen)
	assert.Len(t, d.Evidence, model.MaxEvidenceLen)
	assert.Equal(t, model.MatchMissing, d.MatchQuality)
}

func TestParse_HallucinationObjects(t *testing.T) {
	res := Parse(`{"trust_score": 30, "hallucinations_detected": [{"claim": "x"}]}`, verifiedSources(1))
	assert.Equal(t, []string{`{"claim": "x"}`}, res.HallucinationsDetected)
}

func TestBalancedObject(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{`x {"a": {"b": 1}} y`, `{"a": {"b": 1}}`, true},
		{`{"a": "\\"}`, `{"a": "\\"}`, true},
		{`{"a": "}"`, "", false},
		{`no braces`, "", false},
	}
	for _, tt := range tests {
		got, ok := balancedObject(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
