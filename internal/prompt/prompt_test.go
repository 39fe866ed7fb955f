package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/verifier/internal/model"
)

func TestKeyClaims(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		want   string
	}{
		{
			name:   "digits and percent",
			answer: "Cells are small. About 70% of a cell is water. Mitochondria make 36 ATP.",
			want:   "About 70% of a cell is water. Mitochondria make 36 ATP.",
		},
		{
			name:   "evidentiary phrasing",
			answer: "Hello there. According to the lecture, enzymes lower activation energy! Nice.",
			want:   "According to the lecture, enzymes lower activation energy!",
		},
		{
			name:   "source marker",
			answer: "Photosynthesis stores energy [Source 1]. It is neat.",
			want:   "Photosynthesis stores energy [Source 1].",
		},
		{
			name:   "decimal stays in one sentence",
			answer: "The interest rate rose to 3.5% in 2023. It is nice.",
			want:   "The interest rate rose to 3.5% in 2023.",
		},
		{
			name:   "line breaks end sentences",
			answer: "Intro line\nRevenue grew 12.4 percent\nThanks",
			want:   "Revenue grew 12.4 percent",
		},
		{
			name:   "no qualifying sentence",
			answer: "Enzymes are proteins. They speed up reactions.",
			want:   "Enzymes are proteins. They speed up reactions.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KeyClaims(tt.answer))
		})
	}
}

func TestKeyClaims_FallbackTruncates(t *testing.T) {
	answer := strings.Repeat("é", 800)
	got := KeyClaims(answer)
	assert.Equal(t, 500, len([]rune(got)))
}

func sampleSources() []model.VerifiedSource {
	content := "Mitochondria produce 36 ATP."
	errMsg := "access forbidden by https://blocked.example (HTTP 403, bot-blocked)"
	return []model.VerifiedSource{
		{
			Claimed:       model.ClaimedSource{SourceType: model.SourceCourseMaterial, SourceName: "Lecture 4", PageNumber: model.StringPtr("12")},
			ActualContent: &content,
			Status:        model.StatusVerified,
		},
		{
			Claimed: model.ClaimedSource{SourceType: model.SourceInternet, SourceURL: model.StringPtr("https://blocked.example")},
			Status:  model.StatusUnverified,
			Error:   &errMsg,
		},
	}
}

func TestBuild_DegradesAcrossAttempts(t *testing.T) {
	claim := "Mitochondria produce 36 ATP."
	p1 := Build(claim, sampleSources(), 1)
	p2 := Build(claim, sampleSources(), 2)
	p3 := Build(claim, sampleSources(), 3)

	assert.Contains(t, p1.System, "90-100")
	assert.Contains(t, p1.System, "formatting")
	assert.NotContains(t, p2.System, "90-100")
	assert.Contains(t, p2.System, "trust_score")
	assert.Contains(t, p3.System, "trust_score")

	assert.Greater(t, len(p1.System), len(p2.System))
	assert.Greater(t, len(p2.System), len(p3.System))
	assert.Equal(t, p3, Build(claim, sampleSources(), 7))
}

func TestBuild_SourceSection(t *testing.T) {
	p := Build("claim", sampleSources(), 1)

	assert.Contains(t, p.User, "[Source 1] Lecture 4 (course_material)")
	assert.Contains(t, p.User, "Verification status: verified")
	assert.Contains(t, p.User, "Claimed page: 12")
	assert.Contains(t, p.User, "Mitochondria produce 36 ATP.")
	assert.Contains(t, p.User, "[Source 2] https://blocked.example (internet)")
	assert.Contains(t, p.User, "bot-blocked")
	assert.Contains(t, p.User, "Actual content: (unavailable)")
}

func TestBuild_NoSources(t *testing.T) {
	p := Build("claim", nil, 1)
	assert.Contains(t, p.User, "cited no sources")
}
