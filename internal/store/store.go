// Package store persists verification results and reads the course content
// that sources are checked against.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/verifier/internal/model"
)

// Store defines the persistence interface for the verification engine.
type Store interface {
	// Source content
	ListChunks(ctx context.Context, materialID, courseID int64) ([]model.Chunk, error)
	GetDocument(ctx context.Context, materialID, courseID int64) (*model.Document, error)
	AddMaterial(ctx context.Context, m model.Material) (int64, error)

	// Trust scores, one row per message
	GetVerification(ctx context.Context, messageID int64) (*model.StoredVerification, error)
	UpsertVerification(ctx context.Context, messageID int64, result model.VerificationResult) error

	// Audit log, append-only
	InsertAudit(ctx context.Context, entry model.AuditEntry) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// chunkColumns are the material_chunks columns written by AddMaterial.
var chunkColumns = []string{"material_id", "course_id", "page_number", "chunk_index", "content"}

func chunkRows(materialID int64, m model.Material) [][]any {
	rows := make([][]any, 0, len(m.Chunks))
	for i, c := range m.Chunks {
		rows = append(rows, []any{materialID, m.CourseID, c.PageNumber, i, c.Content})
	}
	return rows
}

// Table names.
const (
	TableChunks      = "material_chunks"
	TableMaterials   = "course_materials"
	TableTrustScores = "message_trust_scores"
	TableAudit       = "agent_audit_log"
)

// detailsDoc is the JSON stored in source_verification_details. The column
// holds the per-source comparisons plus the free-text fields that have no
// column of their own.
type detailsDoc struct {
	Details         []model.VerificationDetail `json:"verification_details"`
	Recommendations string                     `json:"recommendations"`
	EvidenceSummary string                     `json:"evidence_summary"`
}

func encodeDetails(res model.VerificationResult) ([]byte, error) {
	details := res.VerificationDetails
	if details == nil {
		details = []model.VerificationDetail{}
	}
	b, err := json.Marshal(detailsDoc{
		Details:         details,
		Recommendations: res.Recommendations,
		EvidenceSummary: res.EvidenceSummary,
	})
	return b, eris.Wrap(err, "store: marshal verification details")
}

func decodeStored(messageID int64, score int, level, reasoning string, details []byte, conflicts []string, at time.Time) (*model.StoredVerification, error) {
	var doc detailsDoc
	if len(details) > 0 {
		if err := json.Unmarshal(details, &doc); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal verification details")
		}
	}
	if doc.Details == nil {
		doc.Details = []model.VerificationDetail{}
	}
	if conflicts == nil {
		conflicts = []string{}
	}
	return &model.StoredVerification{
		MessageID: messageID,
		Result: model.VerificationResult{
			TrustScore:             score,
			TrustLevel:             model.TrustLevel(level),
			Reasoning:              reasoning,
			VerificationDetails:    doc.Details,
			HallucinationsDetected: conflicts,
			Recommendations:        doc.Recommendations,
			EvidenceSummary:        doc.EvidenceSummary,
		},
		VerifiedAt: at,
	}, nil
}

func hallucinations(res model.VerificationResult) []string {
	if res.HallucinationsDetected == nil {
		return []string{}
	}
	return res.HallucinationsDetected
}
