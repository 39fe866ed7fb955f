package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/verifier/internal/metrics"
	"github.com/sells-group/verifier/internal/model"
	"github.com/sells-group/verifier/internal/prompt"
	"github.com/sells-group/verifier/internal/trust"
)

// Audit log labels.
const (
	AgentType  = "verification"
	ActionType = "verify_response"
)

// ResultStore persists verification results and the audit trail.
// store.Store satisfies it.
type ResultStore interface {
	GetVerification(ctx context.Context, messageID int64) (*model.StoredVerification, error)
	UpsertVerification(ctx context.Context, messageID int64, result model.VerificationResult) error
	InsertAudit(ctx context.Context, entry model.AuditEntry) error
}

// SourceResolver resolves claimed sources. *resolve.Resolver satisfies it.
type SourceResolver interface {
	Resolve(ctx context.Context, claims []model.ClaimedSource, courseID int64, claimText string) []model.VerifiedSource
}

// Engine is the verification entry point.
type Engine struct {
	store      ResultStore
	resolver   SourceResolver
	controller *Controller
	metrics    *metrics.Metrics
	validate   *validator.Validate
}

// NewEngine creates an Engine. m may be nil.
func NewEngine(store ResultStore, resolver SourceResolver, controller *Controller, m *metrics.Metrics) *Engine {
	return &Engine{
		store:      store,
		resolver:   resolver,
		controller: controller,
		metrics:    m,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Verify returns the trust assessment for one answered message. A stored
// result for the message is returned unchanged. Verify never fails: every
// error ends in a low-trust result that recommends manual review.
func (e *Engine) Verify(ctx context.Context, req model.VerificationRequest) (res model.VerificationResult) {
	start := time.Now()
	log := zap.L().With(zap.Int64("message_id", req.MessageID), zap.Int64("course_id", req.CourseID))

	var sources []model.VerifiedSource
	defer func() {
		if r := recover(); r != nil {
			log.Error("verify: panic during verification", zap.Any("panic", r), zap.Stack("stack"))
			res = trust.Failure(sources, fmt.Sprint(r))
			e.metrics.ObserveRun(metrics.OutcomeFailure, res, time.Since(start))
		}
	}()

	if err := e.validate.Struct(req); err != nil {
		log.Warn("verify: invalid request", zap.Error(err))
		res = trust.Failure(nil, "invalid request: "+err.Error())
		e.metrics.ObserveRun(metrics.OutcomeFailure, res, time.Since(start))
		return res
	}

	cached, err := e.store.GetVerification(ctx, req.MessageID)
	if err != nil {
		log.Warn("verify: cache lookup failed, verifying anyway", zap.Error(err))
	} else if cached != nil {
		log.Debug("verify: returning stored result")
		e.metrics.ObserveRun(metrics.OutcomeCached, cached.Result, time.Since(start))
		return cached.Result
	}

	claim := prompt.KeyClaims(req.Answer)
	sources = e.resolver.Resolve(ctx, req.Sources, req.CourseID, claim)

	res, runErr := e.controller.Run(ctx, claim, sources)
	outcome := metrics.OutcomeVerified
	if runErr != nil {
		outcome = metrics.OutcomeFallback
	}

	elapsed := time.Since(start)
	e.persist(ctx, log, req, claim, sources, res, runErr, elapsed)
	e.metrics.ObserveRun(outcome, res, elapsed)

	log.Info("verification complete",
		zap.Int("trust_score", res.TrustScore),
		zap.String("trust_level", string(res.TrustLevel)),
		zap.String("strategy", res.Strategy),
		zap.Int("attempts", res.Attempts),
		zap.Int("verified_sources", model.CountVerified(sources)),
		zap.Int("claimed_sources", len(sources)),
		zap.Duration("elapsed", elapsed),
	)
	return res
}

// Lookup returns the stored result for a message, or nil.
func (e *Engine) Lookup(ctx context.Context, messageID int64) (*model.StoredVerification, error) {
	sv, err := e.store.GetVerification(ctx, messageID)
	return sv, eris.Wrapf(err, "verify: lookup %d", messageID)
}

type auditInput struct {
	MessageID int64                  `json:"message_id"`
	CourseID  int64                  `json:"course_id"`
	Claim     string                 `json:"key_claims"`
	Sources   []model.VerifiedSource `json:"sources"`
}

// persist writes the result and the audit row. Failures are logged only.
func (e *Engine) persist(ctx context.Context, log *zap.Logger, req model.VerificationRequest, claim string, sources []model.VerifiedSource,
	res model.VerificationResult, runErr error, elapsed time.Duration) {
	if err := e.store.UpsertVerification(ctx, req.MessageID, res); err != nil {
		log.Error("verify: persist result failed", zap.Error(err))
	}

	input, err := json.Marshal(auditInput{
		MessageID: req.MessageID,
		CourseID:  req.CourseID,
		Claim:     claim,
		Sources:   sources,
	})
	if err != nil {
		log.Warn("verify: marshal audit input", zap.Error(err))
	}
	output, err := json.Marshal(res)
	if err != nil {
		log.Warn("verify: marshal audit output", zap.Error(err))
	}

	entry := model.AuditEntry{
		AgentType:     AgentType,
		ActionType:    ActionType,
		Input:         input,
		Output:        output,
		Confidence:    float64(res.TrustScore) / 100,
		ExecutionTime: elapsed,
	}
	if runErr != nil {
		msg := runErr.Error()
		entry.Error = &msg
	}
	if err := e.store.InsertAudit(ctx, entry); err != nil {
		log.Error("verify: insert audit failed", zap.Error(err))
	}
}
