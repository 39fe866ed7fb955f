// Package relevance selects the part of a source document most likely to
// support or refute a claim, within a character budget.
package relevance

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// TruncatedMarker is appended whenever content was cut.
const TruncatedMarker = "\n[... content truncated]"

const (
	// windowRadius is the number of characters kept on each side of a term hit.
	windowRadius = 200
	maxWordTerms = 5
	minWordLen   = 5
	// Overlap probe taken from the interior of each window.
	probeStart = 10
	probeEnd   = 30
	ellipsis   = "..."
)

var numberRe = regexp.MustCompile(`\d+(?:[.,]\d+)*%?`)

var stopWords = map[string]bool{
	"about": true, "above": true, "after": true, "again": true, "against": true,
	"being": true, "below": true, "between": true, "could": true, "doing": true,
	"during": true, "every": true, "having": true, "other": true, "should": true,
	"their": true, "there": true, "these": true, "those": true, "through": true,
	"under": true, "until": true, "where": true, "which": true, "while": true,
	"would": true, "because": true, "before": true, "according": true, "based": true,
	"shows": true, "indicates": true, "source": true,
}

// SearchTerms derives the terms used to locate relevant content: every
// numeric or percentage token in the claim plus up to five distinct
// lowercase words longer than four characters that are not stop words.
func SearchTerms(claim string) []string {
	claim = norm.NFKC.String(claim)

	var terms []string
	seen := make(map[string]bool)
	for _, n := range numberRe.FindAllString(claim, -1) {
		if !seen[n] {
			seen[n] = true
			terms = append(terms, n)
		}
	}

	words := strings.FieldsFunc(strings.ToLower(claim), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	added := 0
	for _, w := range words {
		if added >= maxWordTerms {
			break
		}
		w = strings.Trim(w, "-")
		if len([]rune(w)) < minWordLen || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, w)
		added++
	}
	return terms
}

// Extract returns the windows of content around occurrences of the claim's
// search terms, concatenated in document order until maxLength is reached.
// Falls back to SmartTruncate when no terms can be derived or none occur.
func Extract(content, claim string, maxLength int) string {
	if maxLength <= 0 {
		return ""
	}
	terms := SearchTerms(claim)
	if len(terms) == 0 {
		return SmartTruncate(content, maxLength)
	}

	text := []rune(content)
	lower := lowerRunes(text)

	type hit struct{ pos, n int }
	var hits []hit
	for _, t := range terms {
		needle := lowerRunes([]rune(t))
		for _, p := range indexAll(lower, needle) {
			hits = append(hits, hit{pos: p, n: len(needle)})
		}
	}
	if len(hits) == 0 {
		return SmartTruncate(content, maxLength)
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	var accepted []string
	var b strings.Builder
	total := 0
	for _, h := range hits {
		if total >= maxLength {
			break
		}
		start := max(0, h.pos-windowRadius)
		end := min(len(text), h.pos+h.n+windowRadius)
		window := string(text[start:end])

		if overlaps(window, accepted) {
			continue
		}
		accepted = append(accepted, window)

		piece := window
		if start > 0 {
			piece = ellipsis + piece
		}
		if end < len(text) {
			piece += ellipsis
		}
		if b.Len() > 0 {
			b.WriteString("\n")
			total++
		}
		b.WriteString(piece)
		total += len([]rune(piece))
	}

	out := b.String()
	if len([]rune(out)) > maxLength {
		return SmartTruncate(out, maxLength)
	}
	return out
}

// SmartTruncate cuts content to maxLength characters, preferring a sentence
// boundary in the last 20% of the window, and appends TruncatedMarker when
// anything was removed.
func SmartTruncate(content string, maxLength int) string {
	r := []rune(content)
	if len(r) <= maxLength {
		return content
	}
	if maxLength <= 0 {
		return TruncatedMarker
	}

	cut := r[:maxLength]
	if b := lastBoundary(cut); b > 0 && b >= maxLength*4/5 {
		cut = cut[:b]
	}
	return strings.TrimRight(string(cut), " ") + TruncatedMarker
}

// lastBoundary returns the index just past the last sentence terminator
// (". ", "! ", "? ") or newline in r, or -1.
func lastBoundary(r []rune) int {
	for i := len(r) - 1; i >= 0; i-- {
		switch r[i] {
		case '\n':
			return i + 1
		case '.', '!', '?':
			if i+1 < len(r) && r[i+1] == ' ' {
				return i + 1
			}
		}
	}
	return -1
}

// overlaps is a cheap containment probe: a window is a duplicate when a
// short slice from its interior already appears in an accepted window.
func overlaps(window string, accepted []string) bool {
	r := []rune(window)
	lo, hi := probeStart, probeEnd
	if hi > len(r) {
		lo, hi = 0, len(r)
	}
	probe := string(r[lo:hi])
	if probe == "" {
		return false
	}
	for _, a := range accepted {
		if strings.Contains(a, probe) {
			return true
		}
	}
	return false
}

// lowerRunes lowercases rune by rune so offsets line up with the original.
func lowerRunes(r []rune) []rune {
	out := make([]rune, len(r))
	for i, c := range r {
		out[i] = unicode.ToLower(c)
	}
	return out
}

func indexAll(haystack, needle []rune) []int {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return nil
	}
	var out []int
outer:
	for i := 0; i <= len(haystack)-len(needle); i++ {
		for j := range needle {
			if haystack[i+j] != needle[j] {
				continue outer
			}
		}
		out = append(out, i)
	}
	return out
}
