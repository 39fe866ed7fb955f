// Package resolve fetches the real content behind each claimed source. A
// claim is never taken as evidence of itself: course materials are read from
// the store and web pages are fetched live.
package resolve

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sells-group/verifier/internal/model"
	"github.com/sells-group/verifier/internal/relevance"
	"github.com/sells-group/verifier/internal/scrape"
)

// Error messages recorded on sources that could not be fully verified.
const (
	ErrDocumentFallback = "chunk-level content not yet extracted; used whole-document fallback"
	ErrTextTooShort     = "content extraction failed: page text too short"
)

// Resolution methods recorded in VerifiedSource metadata.
const (
	MethodChunks   = "chunks"
	MethodDocument = "document"
	MethodWeb      = "web"
)

// Defaults for Config.
const (
	DefaultMaxContentLength       = 3000
	DefaultMaxWebContentLength    = 3000
	DefaultDocumentFallbackLength = 2000
)

// SourceReader reads course content. store.Store satisfies it.
type SourceReader interface {
	ListChunks(ctx context.Context, materialID, courseID int64) ([]model.Chunk, error)
	GetDocument(ctx context.Context, materialID, courseID int64) (*model.Document, error)
}

// Config bounds how much content is kept per source.
type Config struct {
	MaxContentLength       int
	MaxWebContentLength    int
	DocumentFallbackLength int
}

// StatusObserver is notified of every resolution outcome.
type StatusObserver func(sourceType model.SourceType, status model.VerificationStatus)

// Resolver turns claimed sources into verified sources.
type Resolver struct {
	reader   SourceReader
	fetcher  scrape.Fetcher
	cfg      Config
	observer StatusObserver
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithObserver registers a callback for resolution outcomes.
func WithObserver(fn StatusObserver) Option {
	return func(r *Resolver) { r.observer = fn }
}

// New creates a Resolver. Zero config values take the defaults.
func New(reader SourceReader, fetcher scrape.Fetcher, cfg Config, opts ...Option) *Resolver {
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = DefaultMaxContentLength
	}
	if cfg.MaxWebContentLength <= 0 {
		cfg.MaxWebContentLength = DefaultMaxWebContentLength
	}
	if cfg.DocumentFallbackLength <= 0 {
		cfg.DocumentFallbackLength = DefaultDocumentFallbackLength
	}
	r := &Resolver{reader: reader, fetcher: fetcher, cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns one VerifiedSource per claim, in order. It never fails:
// every problem is recorded on the source itself. claimText is used to pick
// relevant content when a claim carries no excerpt of its own.
func (r *Resolver) Resolve(ctx context.Context, claims []model.ClaimedSource, courseID int64, claimText string) []model.VerifiedSource {
	out := make([]model.VerifiedSource, 0, len(claims))
	for i, c := range claims {
		vs := r.resolveOne(ctx, c, courseID, claimText)
		zap.L().Debug("resolved source",
			zap.Int("index", i),
			zap.String("source_type", string(c.SourceType)),
			zap.String("status", string(vs.Status)),
		)
		if r.observer != nil {
			r.observer(c.SourceType, vs.Status)
		}
		out = append(out, vs)
	}
	return out
}

func (r *Resolver) resolveOne(ctx context.Context, c model.ClaimedSource, courseID int64, claimText string) model.VerifiedSource {
	if c.SourceExcerpt != nil && *c.SourceExcerpt != "" {
		claimText = *c.SourceExcerpt
	}

	switch c.SourceType {
	case model.SourceCourseMaterial:
		if c.SourceID == nil {
			return unverified(c, "course material claim has no source_id")
		}
		return r.resolveMaterial(ctx, c, *c.SourceID, courseID, claimText)
	case model.SourceInternet:
		if c.SourceURL == nil || *c.SourceURL == "" {
			return unverified(c, "internet claim has no source_url")
		}
		return r.resolveWeb(ctx, c, *c.SourceURL, claimText)
	case model.SourceProfessorNote, model.SourceTextbook, model.SourceOther:
		return unverified(c, fmt.Sprintf("source type %q cannot be independently verified", c.SourceType))
	default:
		return unverified(c, fmt.Sprintf("unsupported source type %q", c.SourceType))
	}
}

// resolveMaterial reads every chunk of the material. Chunks are not filtered
// by the claimed page because extracted page numbers are unreliable.
func (r *Resolver) resolveMaterial(ctx context.Context, c model.ClaimedSource, materialID, courseID int64, claimText string) model.VerifiedSource {
	chunks, err := r.reader.ListChunks(ctx, materialID, courseID)
	if err != nil {
		zap.L().Warn("resolve: list chunks failed", zap.Int64("material_id", materialID), zap.Error(err))
		return unverified(c, "failed to read course material: "+err.Error())
	}

	if len(chunks) > 0 {
		joined := joinChunks(chunks)
		content := relevance.Extract(joined, claimText, r.cfg.MaxContentLength)
		meta := map[string]any{
			"chunk_count": len(chunks),
			"method":      MethodChunks,
		}
		if c.PageNumber != nil {
			meta["page_hint"] = *c.PageNumber
		}
		return model.VerifiedSource{
			Claimed:       c,
			ActualContent: &content,
			Status:        model.StatusVerified,
			Metadata:      meta,
		}
	}

	doc, err := r.reader.GetDocument(ctx, materialID, courseID)
	if err != nil {
		zap.L().Warn("resolve: get document failed", zap.Int64("material_id", materialID), zap.Error(err))
		return unverified(c, "failed to read course material: "+err.Error())
	}
	if doc == nil {
		return unverified(c, fmt.Sprintf("course material %d not found in course %d", materialID, courseID))
	}

	content := relevance.SmartTruncate(doc.Content, r.cfg.DocumentFallbackLength)
	msg := ErrDocumentFallback
	return model.VerifiedSource{
		Claimed:       c,
		ActualContent: &content,
		Status:        model.StatusPartiallyVerified,
		Error:         &msg,
		Metadata: map[string]any{
			"method": MethodDocument,
			"title":  doc.Title,
		},
	}
}

func (r *Resolver) resolveWeb(ctx context.Context, c model.ClaimedSource, url, claimText string) model.VerifiedSource {
	page, err := r.fetcher.Fetch(ctx, url)
	if err != nil {
		var fe *scrape.FetchError
		if errors.As(err, &fe) {
			return unverifiedWith(c, fe.Describe(), map[string]any{
				"method":     MethodWeb,
				"error_kind": string(fe.Kind),
			})
		}
		return unverified(c, fmt.Sprintf("failed to fetch %s: %v", url, err))
	}

	meta := map[string]any{
		"method":      MethodWeb,
		"final_url":   page.FinalURL,
		"status_code": page.StatusCode,
		"extraction":  page.Method,
	}
	if page.Title != "" {
		meta["title"] = page.Title
	}

	if len([]rune(page.Text)) < scrape.MinTextLength {
		content := page.Text
		msg := ErrTextTooShort
		return model.VerifiedSource{
			Claimed:       c,
			ActualContent: &content,
			Status:        model.StatusPartiallyVerified,
			Error:         &msg,
			Metadata:      meta,
		}
	}

	content := relevance.Extract(page.Text, claimText, r.cfg.MaxWebContentLength)
	return model.VerifiedSource{
		Claimed:       c,
		ActualContent: &content,
		Status:        model.StatusVerified,
		Metadata:      meta,
	}
}

func joinChunks(chunks []model.Chunk) string {
	n := 0
	for _, ch := range chunks {
		n += len(ch.Content) + 2
	}
	buf := make([]byte, 0, n)
	for i, ch := range chunks {
		if i > 0 {
			buf = append(buf, "\n\n"...)
		}
		buf = append(buf, ch.Content...)
	}
	return string(buf)
}

func unverified(c model.ClaimedSource, msg string) model.VerifiedSource {
	return unverifiedWith(c, msg, nil)
}

func unverifiedWith(c model.ClaimedSource, msg string, meta map[string]any) model.VerifiedSource {
	return model.VerifiedSource{
		Claimed:  c,
		Status:   model.StatusUnverified,
		Error:    &msg,
		Metadata: meta,
	}
}
