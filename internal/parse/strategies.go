package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/verifier/internal/model"
)

// direct parses text that is already a JSON object.
func direct(text string, _ []model.VerifiedSource) (*Raw, error) {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "{") {
		return nil, ErrNoMatch
	}
	return decodeJSON(t)
}

var fencePatterns = []*regexp.Regexp{
	regexp.MustCompile("(?s)```json\\s*\\n(.*?)\\n\\s*```"),
	regexp.MustCompile("(?s)```\\s*\\n(.*?)\\n\\s*```"),
	regexp.MustCompile("(?s)```json(.*?)```"),
}

// markdown parses the body of the first fenced code block that decodes.
func markdown(text string, _ []model.VerifiedSource) (*Raw, error) {
	for _, re := range fencePatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if raw, err := decodeJSON(strings.TrimSpace(m[1])); err == nil {
			return raw, nil
		}
	}
	return nil, ErrNoMatch
}

// brace parses the first balanced {...} span in text.
func brace(text string, _ []model.VerifiedSource) (*Raw, error) {
	span, ok := balancedObject(text)
	if !ok {
		return nil, ErrNoMatch
	}
	return decodeJSON(span)
}

type scanState int

const (
	scanNormal scanState = iota
	scanString
	scanEscape
)

// balancedObject returns the span from the first '{' to its matching '}'.
// Braces inside JSON strings are ignored, including after escaped quotes.
func balancedObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	state := scanNormal
	for i := start; i < len(text); i++ {
		c := text[i]
		switch state {
		case scanEscape:
			state = scanString
		case scanString:
			switch c {
			case '\\':
				state = scanEscape
			case '"':
				state = scanNormal
			}
		case scanNormal:
			switch c {
			case '"':
				state = scanString
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					return text[start : i+1], true
				}
			}
		}
	}
	return "", false
}

var (
	scoreFieldRe     = regexp.MustCompile(`(?i)"?trust_score"?\s*[:=]\s*"?(-?\d+(?:\.\d+)?)`)
	levelFieldRe     = regexp.MustCompile(`(?i)"?trust_level"?\s*[:=]\s*"?(highest|high|medium|lower|low)\b`)
	reasoningFieldRe = regexp.MustCompile(`(?s)"?reasoning"?\s*[:=]\s*"((?:[^"\\]|\\.)*)"`)
)

// fields pulls individual fields out of malformed or truncated JSON. It
// requires trust_score.
func fields(text string, _ []model.VerifiedSource) (*Raw, error) {
	m := scoreFieldRe.FindStringSubmatch(text)
	if m == nil {
		return nil, ErrNoMatch
	}
	score, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil, ErrNoMatch
	}
	raw := &Raw{Score: &score}
	if lm := levelFieldRe.FindStringSubmatch(text); lm != nil {
		raw.Level = strings.ToLower(lm[1])
	}
	if rm := reasoningFieldRe.FindStringSubmatch(text); rm != nil {
		if s, err := strconv.Unquote(`"` + rm[1] + `"`); err == nil {
			raw.Reasoning = s
		} else {
			raw.Reasoning = rm[1]
		}
	}
	return raw, nil
}

// Heuristic scoring bounds.
const (
	heuristicNeutral    = 50
	heuristicStep       = 10
	heuristicMin        = 20
	heuristicMax        = 90
	heuristicUnverified = 40
)

var (
	positiveIndicators = wordPatterns("verified", "confirmed", "accurate", "correct", "found in source",
		"matches", "consistent", "present in", "located in")
	negativeIndicators = wordPatterns("not found", "missing", "absent", "incorrect", "fabricated",
		"hallucination", "discrepancy", "contradiction", "mismatch")
)

// wordPatterns anchors each phrase at a word start and accepts its plural,
// so "unverified" never counts as "verified" but "discrepancies" counts as
// "discrepancy".
func wordPatterns(words ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(words))
	for i, w := range words {
		stem, suffix := regexp.QuoteMeta(w), `(?:s|es)?`
		if strings.HasSuffix(w, "y") {
			stem, suffix = regexp.QuoteMeta(strings.TrimSuffix(w, "y")), `(?:y|ies)`
		}
		out[i] = regexp.MustCompile(`\b` + stem + suffix + `\b`)
	}
	return out
}

func countIndicators(text string, patterns []*regexp.Regexp) int {
	n := 0
	for _, re := range patterns {
		if re.MatchString(text) {
			n++
		}
	}
	return n
}

// heuristic scores free text by counting positive and negative indicator
// phrases. It always succeeds.
func heuristic(text string, sources []model.VerifiedSource) (*Raw, error) {
	lower := strings.ToLower(text)
	pos := countIndicators(lower, positiveIndicators)
	neg := countIndicators(lower, negativeIndicators)

	score := min(max(heuristicNeutral+heuristicStep*(pos-neg), heuristicMin), heuristicMax)
	if model.CountVerified(sources) == 0 {
		score = min(score, heuristicUnverified)
	}

	f := float64(score)
	return &Raw{
		Score: &f,
		Reasoning: fmt.Sprintf(
			"Model output was not structured; score estimated from %d positive and %d negative indicators.", pos, neg),
		Recommendations: "Review this answer against the cited sources.",
	}, nil
}
