// Package trust turns raw trust scores into verification results. Every code
// path that produces a VerificationResult goes through Assemble so that the
// trust level band and the evidence summary are always derived the same way.
package trust

import (
	"fmt"

	"github.com/sells-group/verifier/internal/model"
)

// Band thresholds, inclusive lower bounds.
const (
	HighestMin = 90
	HighMin    = 70
	MediumMin  = 50
	LowerMin   = 30
)

// Fallback scores used when no usable model output was obtained.
const (
	FallbackScoreWithEvidence = 60
	FallbackScoreNoEvidence   = 30
)

// Band maps a trust score to its trust level. Model-provided levels are
// never used.
func Band(score int) model.TrustLevel {
	switch {
	case score >= HighestMin:
		return model.TrustHighest
	case score >= HighMin:
		return model.TrustHigh
	case score >= MediumMin:
		return model.TrustMedium
	case score >= LowerMin:
		return model.TrustLower
	default:
		return model.TrustLow
	}
}

// Clamp bounds a score to [0, 100].
func Clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// EvidenceSummary describes how many sources were verified and whether any
// hallucinations were reported.
func EvidenceSummary(sources []model.VerifiedSource, hallucinations []string) string {
	s := fmt.Sprintf("Verified %d/%d sources independently. ", model.CountVerified(sources), len(sources))
	if n := len(hallucinations); n > 0 {
		return s + fmt.Sprintf("⚠ %d hallucination(s) detected", n)
	}
	return s + "No hallucinations detected"
}

// Assemble builds a result from a raw score. A nil score is treated as 0.
// The trust level and evidence summary are always recomputed.
func Assemble(score *int, sources []model.VerifiedSource, hallucinations []string) model.VerificationResult {
	s := 0
	if score != nil {
		s = Clamp(*score)
	}
	if hallucinations == nil {
		hallucinations = []string{}
	}
	return model.VerificationResult{
		TrustScore:             s,
		TrustLevel:             Band(s),
		VerificationDetails:    []model.VerificationDetail{},
		HallucinationsDetected: hallucinations,
		EvidenceSummary:        EvidenceSummary(sources, hallucinations),
	}
}

// Fallback returns the result used when every attempt failed to produce a
// usable score.
func Fallback(sources []model.VerifiedSource) model.VerificationResult {
	verified := model.CountVerified(sources)
	score := FallbackScoreNoEvidence
	if verified > 0 {
		score = FallbackScoreWithEvidence
	}
	res := Assemble(&score, sources, nil)
	res.Reasoning = fmt.Sprintf(
		"Automated comparison was unavailable. %d source(s) verified out of %d claimed; the score reflects source availability only.",
		verified, len(sources),
	)
	if verified > 0 {
		res.Recommendations = "Spot-check the answer against the verified course sources."
	} else {
		res.Recommendations = "No source could be verified. Ask your professor to review this answer."
	}
	res.Strategy = "fallback"
	return res
}

// Failure returns the low-trust result used when verification itself broke.
func Failure(sources []model.VerifiedSource, cause string) model.VerificationResult {
	score := 0
	res := Assemble(&score, sources, nil)
	res.Reasoning = "Verification could not be completed: " + cause
	res.Recommendations = "Manual review recommended. Ask your professor to confirm this answer."
	res.Strategy = "failure"
	return res
}
