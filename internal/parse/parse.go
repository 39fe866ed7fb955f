// Package parse recovers a verification result from unreliable model output.
// Strategies run in a fixed order and the first one that succeeds wins; the
// last strategy never fails, so Parse always produces a result.
package parse

import (
	"encoding/json"
	"fmt"
	"html"
	"math"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rotisserie/eris"

	"github.com/sells-group/verifier/internal/model"
	"github.com/sells-group/verifier/internal/trust"
)

// Strategy names, in cascade order.
const (
	StrategyDirect    = "direct"
	StrategyMarkdown  = "markdown"
	StrategyBrace     = "brace"
	StrategyFields    = "fields"
	StrategyHeuristic = "heuristic"
)

// ErrNoMatch is returned by a strategy that found nothing to work with.
var ErrNoMatch = eris.New("parse: no match")

// Raw holds the fields a strategy recovered, before normalization.
type Raw struct {
	Score           *float64
	Level           string
	Reasoning       string
	Details         []model.VerificationDetail
	Hallucinations  []string
	Recommendations string
}

// StrategyFunc extracts a Raw from model text.
type StrategyFunc func(text string, sources []model.VerifiedSource) (*Raw, error)

// Strategy is a named StrategyFunc.
type Strategy struct {
	Name string
	Fn   StrategyFunc
}

// Strategies returns the cascade in order. The heuristic is always last.
func Strategies() []Strategy {
	return []Strategy{
		{StrategyDirect, direct},
		{StrategyMarkdown, markdown},
		{StrategyBrace, brace},
		{StrategyFields, fields},
		{StrategyHeuristic, heuristic},
	}
}

// Parse runs the structured strategies over text and builds the result from
// the first that succeeds, falling back to the heuristic.
func Parse(text string, sources []model.VerifiedSource) model.VerificationResult {
	strategies := Strategies()
	for _, s := range strategies[:len(strategies)-1] {
		raw, err := s.Fn(text, sources)
		if err != nil || raw == nil {
			continue
		}
		res := build(raw, sources)
		res.Strategy = s.Name
		return res
	}
	raw, _ := heuristic(text, sources)
	res := build(raw, sources)
	res.Strategy = StrategyHeuristic
	return res
}

var sanitizer = bluemonday.StrictPolicy()

// clean strips markup from model-supplied free text.
func clean(s string) string {
	return strings.TrimSpace(html.UnescapeString(sanitizer.Sanitize(s)))
}

// build is the single normalization step every strategy goes through. The
// trust level and evidence summary always come from trust.Assemble.
func build(raw *Raw, sources []model.VerifiedSource) model.VerificationResult {
	var score *int
	if raw.Score != nil && !math.IsNaN(*raw.Score) && !math.IsInf(*raw.Score, 0) {
		s := trust.Clamp(int(math.Round(*raw.Score)))
		score = &s
	}

	hallucinations := make([]string, 0, len(raw.Hallucinations))
	for _, h := range raw.Hallucinations {
		if h = clean(h); h != "" {
			hallucinations = append(hallucinations, h)
		}
	}

	res := trust.Assemble(score, sources, hallucinations)
	res.Reasoning = clean(raw.Reasoning)
	res.Recommendations = clean(raw.Recommendations)
	for _, d := range raw.Details {
		d.Source = clean(d.Source)
		d.ClaimedContent = clean(d.ClaimedContent)
		d.ActualContent = clean(d.ActualContent)
		d.Evidence = clean(d.Evidence)
		d.MatchQuality = model.MatchQuality(strings.ToLower(strings.TrimSpace(string(d.MatchQuality))))
		res.VerificationDetails = append(res.VerificationDetails, d.Clamp())
	}
	return res
}

// wireResult is the JSON shape requested from the model. Fields are lenient
// because models drift from the requested types.
type wireResult struct {
	TrustScore             *flexNumber     `json:"trust_score"`
	TrustLevel             flexString      `json:"trust_level"`
	Reasoning              flexString      `json:"reasoning"`
	VerificationDetails    []wireDetail    `json:"verification_details"`
	HallucinationsDetected json.RawMessage `json:"hallucinations_detected"`
	Recommendations        flexString      `json:"recommendations"`
}

type wireDetail struct {
	Source         flexString `json:"source"`
	ClaimedContent flexString `json:"claimed_content"`
	ActualContent  flexString `json:"actual_content"`
	MatchQuality   flexString `json:"match_quality"`
	Evidence       flexString `json:"evidence"`
}

// flexNumber accepts 85, 85.4 and "85".
type flexNumber float64

func (n *flexNumber) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	if s == "" || s == "null" {
		return eris.New("parse: empty trust_score")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return eris.Wrap(err, "parse: trust_score")
	}
	*n = flexNumber(f)
	return nil
}

// flexString accepts any JSON scalar and renders it as text.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch v := v.(type) {
	case nil:
		*f = ""
	case map[string]any, []any:
		*f = flexString(b)
	default:
		*f = flexString(fmt.Sprint(v))
	}
	return nil
}

func decodeJSON(body string) (*Raw, error) {
	var w wireResult
	if err := json.Unmarshal([]byte(body), &w); err != nil {
		return nil, eris.Wrap(err, "parse: decode json")
	}
	raw := &Raw{
		Level:           string(w.TrustLevel),
		Reasoning:       string(w.Reasoning),
		Recommendations: string(w.Recommendations),
		Hallucinations:  decodeHallucinations(w.HallucinationsDetected),
	}
	if w.TrustScore != nil {
		f := float64(*w.TrustScore)
		raw.Score = &f
	}
	for _, d := range w.VerificationDetails {
		raw.Details = append(raw.Details, model.VerificationDetail{
			Source:         string(d.Source),
			ClaimedContent: string(d.ClaimedContent),
			ActualContent:  string(d.ActualContent),
			MatchQuality:   model.MatchQuality(d.MatchQuality),
			Evidence:       string(d.Evidence),
		})
	}
	return raw, nil
}

// decodeHallucinations accepts a list of strings or objects, or a single
// string.
func decodeHallucinations(b json.RawMessage) []string {
	if len(b) == 0 {
		return nil
	}
	var list []flexString
	if err := json.Unmarshal(b, &list); err == nil {
		out := make([]string, 0, len(list))
		for _, s := range list {
			out = append(out, string(s))
		}
		return out
	}
	var one string
	if err := json.Unmarshal(b, &one); err == nil && one != "" {
		return []string{one}
	}
	return nil
}
