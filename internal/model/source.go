package model

// SourceType identifies where a claimed source supposedly came from.
type SourceType string

const (
	SourceCourseMaterial SourceType = "course_material"
	SourceInternet       SourceType = "internet"
	SourceProfessorNote  SourceType = "professor_note"
	SourceTextbook       SourceType = "textbook"
	SourceOther          SourceType = "other"
)

// AllSourceTypes returns all defined source types.
func AllSourceTypes() []SourceType {
	return []SourceType{
		SourceCourseMaterial,
		SourceInternet,
		SourceProfessorNote,
		SourceTextbook,
		SourceOther,
	}
}

// VerificationStatus records how much of a claimed source could be confirmed.
type VerificationStatus string

const (
	StatusVerified          VerificationStatus = "verified"
	StatusPartiallyVerified VerificationStatus = "partially_verified"
	StatusUnverified        VerificationStatus = "unverified"
)

// ClaimedSource is a citation produced by the answering agent. It is never
// trusted as evidence on its own.
type ClaimedSource struct {
	SourceType     SourceType `json:"source_type" yaml:"source_type"`
	SourceID       *int64     `json:"source_id,omitempty" yaml:"source_id,omitempty"`
	SourceName     string     `json:"source_name" yaml:"source_name"`
	SourceURL      *string    `json:"source_url,omitempty" yaml:"source_url,omitempty"`
	SourceExcerpt  *string    `json:"source_excerpt,omitempty" yaml:"source_excerpt,omitempty"`
	PageNumber     *string    `json:"page_number,omitempty" yaml:"page_number,omitempty"`
	RelevanceScore float64    `json:"relevance_score" yaml:"relevance_score"`
}

// Label returns a human-readable name for the source, used in prompts and
// verification details.
func (c ClaimedSource) Label() string {
	if c.SourceName != "" {
		return c.SourceName
	}
	if c.SourceURL != nil && *c.SourceURL != "" {
		return *c.SourceURL
	}
	return string(c.SourceType)
}

// VerifiedSource pairs a claim with the content that was independently
// fetched for it. Created once per claim and not mutated afterwards.
type VerifiedSource struct {
	Claimed       ClaimedSource      `json:"claimed"`
	ActualContent *string            `json:"actual_content,omitempty"`
	Status        VerificationStatus `json:"verification_status"`
	Error         *string            `json:"error,omitempty"`
	Metadata      map[string]any     `json:"metadata,omitempty"`
}

// IsVerified reports whether the source content was fully confirmed.
func (v VerifiedSource) IsVerified() bool {
	return v.Status == StatusVerified
}

// Content returns the fetched content or an empty string.
func (v VerifiedSource) Content() string {
	if v.ActualContent == nil {
		return ""
	}
	return *v.ActualContent
}

// CountVerified returns how many sources have status verified.
func CountVerified(sources []VerifiedSource) int {
	n := 0
	for _, s := range sources {
		if s.IsVerified() {
			n++
		}
	}
	return n
}

// Chunk is a page-level slice of an uploaded course material.
type Chunk struct {
	ID         int64   `json:"id"`
	MaterialID int64   `json:"material_id"`
	CourseID   int64   `json:"course_id"`
	PageNumber *string `json:"page_number,omitempty"`
	ChunkIndex int     `json:"chunk_index"`
	Content    string  `json:"content"`
}

// Document is the whole-document text of a course material, used when
// chunk extraction has not run yet.
type Document struct {
	MaterialID int64  `json:"material_id"`
	CourseID   int64  `json:"course_id"`
	Title      string `json:"title"`
	Content    string `json:"content"`
}

// Material is course content loaded into the store so that course sources
// can be resolved against it.
type Material struct {
	CourseID int64           `json:"course_id" yaml:"course_id" validate:"required,gt=0"`
	Title    string          `json:"title" yaml:"title"`
	Content  *string         `json:"content,omitempty" yaml:"content,omitempty"`
	Chunks   []MaterialChunk `json:"chunks" yaml:"chunks" validate:"dive"`
}

// MaterialChunk is one extracted piece of a Material, stored in order.
type MaterialChunk struct {
	PageNumber *string `json:"page_number,omitempty" yaml:"page_number,omitempty"`
	Content    string  `json:"content" yaml:"content" validate:"required"`
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

// Int64Ptr returns a pointer to n.
func Int64Ptr(n int64) *int64 {
	return &n
}
