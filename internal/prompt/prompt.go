// Package prompt builds the comparison prompts sent to the language model.
// Prompts get shorter with each attempt so that a model which failed on the
// full rubric still has a chance to return something parseable.
package prompt

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sells-group/verifier/internal/model"
)

// Prompt is a system/user prompt pair.
type Prompt struct {
	System string
	User   string
}

// keyClaimFallbackLen is how much of the answer is used when no sentence
// qualifies as a key claim.
const keyClaimFallbackLen = 500

var (
	sentenceRe      = regexp.MustCompile(`(?m)[^\n]+?(?:[.!?]+(?:\s|$)|$)`)
	sourceMarkerRe  = regexp.MustCompile(`(?i)\[source|\[\d+\]|\(p\.|source:`)
	evidenceRe      = regexp.MustCompile(`(?i)according to|based on|shows that|indicates`)
)

// KeyClaims reduces an answer to the sentences that make checkable claims:
// those with a number, a percentage, a source marker, or evidentiary
// phrasing. If none qualify the first 500 characters are returned.
func KeyClaims(answer string) string {
	var keep []string
	for _, s := range sentenceRe.FindAllString(answer, -1) {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if strings.ContainsAny(s, "0123456789%") || sourceMarkerRe.MatchString(s) || evidenceRe.MatchString(s) {
			keep = append(keep, s)
		}
	}
	if len(keep) > 0 {
		return strings.Join(keep, " ")
	}
	r := []rune(strings.TrimSpace(answer))
	if len(r) > keyClaimFallbackLen {
		r = r[:keyClaimFallbackLen]
	}
	return string(r)
}

const jsonShape = `{
  "trust_score": <integer 0-100>,
  "trust_level": "highest|high|medium|lower|low",
  "reasoning": "<string>",
  "verification_details": [
    {"source": "<string>", "claimed_content": "<string>", "actual_content": "<string>",
     "match_quality": "exact|paraphrase|partial|mismatch|missing", "evidence": "<string>"}
  ],
  "hallucinations_detected": ["<string>"],
  "recommendations": "<string>"
}`

const fullSystem = `You are an independent fact-checker for an AI teaching assistant. You compare the claims in an answer against the ACTUAL content of the sources it cites. The source content below was fetched independently; the answer's own description of its sources is not evidence.

Score the answer with this rubric:
- 90-100: every claim is directly supported by verified source content.
- 70-89: claims are supported, with minor paraphrase or omissions.
- 50-69: claims are partially supported, or some sources could not be verified.
- 30-49: significant claims are unsupported or contradict the sources.
- 0-29: claims are fabricated or contradict the sources outright.

Source content was extracted from PDFs, slides and web pages. Expect broken line wraps, hyphenation, stray page numbers, headers and OCR noise. Do not penalize formatting differences; judge meaning only. A claim that cites a source that could not be verified is unsupported, not false.

List every claim that has no support in any source under "hallucinations_detected".

Respond with ONLY a JSON object, no prose and no markdown, in exactly this shape:
` + jsonShape

const compactSystem = `Compare the answer's claims with the source content and rate how well the sources support them. Respond with ONLY this JSON object:
` + jsonShape

const minimalSystem = `Rate 0-100 how well the sources support the answer. Reply with JSON only: {"trust_score": <0-100>, "reasoning": "<one sentence>"}`

// Build assembles the prompt for the given 1-based attempt. Attempt 1 uses
// the full rubric, attempt 2 a compact instruction and later attempts the
// minimal one.
func Build(claim string, sources []model.VerifiedSource, attempt int) Prompt {
	switch {
	case attempt <= 1:
		return Prompt{System: fullSystem, User: fullUser(claim, sources)}
	case attempt == 2:
		return Prompt{System: compactSystem, User: fullUser(claim, sources)}
	default:
		return Prompt{System: minimalSystem, User: minimalUser(claim, sources)}
	}
}

func fullUser(claim string, sources []model.VerifiedSource) string {
	var b strings.Builder
	b.WriteString("ANSWER CLAIMS:\n")
	b.WriteString(claim)
	b.WriteString("\n\nSOURCES:\n")
	if len(sources) == 0 {
		b.WriteString("(the answer cited no sources)\n")
	}
	for i, s := range sources {
		fmt.Fprintf(&b, "\n[Source %d] %s (%s)\n", i+1, s.Claimed.Label(), s.Claimed.SourceType)
		fmt.Fprintf(&b, "Verification status: %s\n", s.Status)
		if s.Claimed.PageNumber != nil && *s.Claimed.PageNumber != "" {
			fmt.Fprintf(&b, "Claimed page: %s\n", *s.Claimed.PageNumber)
		}
		if s.Error != nil {
			fmt.Fprintf(&b, "Note: %s\n", *s.Error)
		}
		if content := s.Content(); content != "" {
			b.WriteString("Actual content:\n")
			b.WriteString(content)
			b.WriteString("\n")
		} else {
			b.WriteString("Actual content: (unavailable)\n")
		}
	}
	return b.String()
}

func minimalUser(claim string, sources []model.VerifiedSource) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Answer: %s\n", claim)
	for i, s := range sources {
		content := s.Content()
		if content == "" {
			content = "(unavailable)"
		}
		fmt.Fprintf(&b, "Source %d: %s\n", i+1, content)
	}
	return b.String()
}
