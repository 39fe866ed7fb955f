package model

import (
	"encoding/json"
	"time"
	"unicode/utf8"
)

// TrustLevel is the banded form of a trust score.
type TrustLevel string

const (
	TrustHighest TrustLevel = "highest"
	TrustHigh    TrustLevel = "high"
	TrustMedium  TrustLevel = "medium"
	TrustLower   TrustLevel = "lower"
	TrustLow     TrustLevel = "low"
)

// MatchQuality describes how closely a claim matched its source.
type MatchQuality string

const (
	MatchExact      MatchQuality = "exact"
	MatchParaphrase MatchQuality = "paraphrase"
	MatchPartial    MatchQuality = "partial"
	MatchMismatch   MatchQuality = "mismatch"
	MatchMissing    MatchQuality = "missing"
)

// Valid reports whether q is one of the known match qualities.
func (q MatchQuality) Valid() bool {
	switch q {
	case MatchExact, MatchParaphrase, MatchPartial, MatchMismatch, MatchMissing:
		return true
	default:
		return false
	}
}

// Length caps for VerificationDetail fields.
const (
	MaxClaimedContentLen = 200
	MaxActualContentLen  = 300
	MaxEvidenceLen       = 200
)

// VerificationDetail compares one claim against one source.
type VerificationDetail struct {
	Source         string       `json:"source"`
	ClaimedContent string       `json:"claimed_content"`
	ActualContent  string       `json:"actual_content"`
	MatchQuality   MatchQuality `json:"match_quality"`
	Evidence       string       `json:"evidence"`
}

// Clamp enforces the field length caps and maps unknown match qualities
// to missing.
func (d VerificationDetail) Clamp() VerificationDetail {
	d.ClaimedContent = truncateRunes(d.ClaimedContent, MaxClaimedContentLen)
	d.ActualContent = truncateRunes(d.ActualContent, MaxActualContentLen)
	d.Evidence = truncateRunes(d.Evidence, MaxEvidenceLen)
	if !d.MatchQuality.Valid() {
		d.MatchQuality = MatchMissing
	}
	return d
}

// VerificationResult is the output of one verification run.
type VerificationResult struct {
	TrustScore             int                  `json:"trust_score"`
	TrustLevel             TrustLevel           `json:"trust_level"`
	Reasoning              string               `json:"reasoning"`
	VerificationDetails    []VerificationDetail `json:"verification_details"`
	HallucinationsDetected []string             `json:"hallucinations_detected"`
	Recommendations        string               `json:"recommendations"`
	EvidenceSummary        string               `json:"evidence_summary"`

	// Diagnostics, not persisted.
	Strategy string `json:"strategy,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
}

// VerificationRequest is the input to one verification run.
type VerificationRequest struct {
	MessageID int64           `json:"message_id" yaml:"message_id" validate:"required,gt=0"`
	CourseID  int64           `json:"course_id" yaml:"course_id" validate:"required,gt=0"`
	Answer    string          `json:"answer" yaml:"answer" validate:"required"`
	Sources   []ClaimedSource `json:"sources" yaml:"sources"`
}

// StoredVerification is a persisted trust-score row.
type StoredVerification struct {
	MessageID  int64              `json:"message_id"`
	Result     VerificationResult `json:"result"`
	VerifiedAt time.Time          `json:"verification_timestamp"`
}

// Message is a single chat message sent to the language model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AuditEntry is one append-only row in the agent audit log.
type AuditEntry struct {
	ID            string          `json:"id"`
	AgentType     string          `json:"agent_type"`
	ActionType    string          `json:"action_type"`
	Input         json.RawMessage `json:"input_data"`
	Output        json.RawMessage `json:"output_data"`
	Confidence    float64         `json:"confidence_score"`
	ExecutionTime time.Duration   `json:"execution_time_ms"`
	Error         *string         `json:"error_message,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
