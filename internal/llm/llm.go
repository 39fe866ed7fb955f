// Package llm is the single-shot "generate text from messages" collaborator
// used by the verification controller.
package llm

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/verifier/internal/model"
	"github.com/sells-group/verifier/internal/resilience"
	"github.com/sells-group/verifier/pkg/anthropic"
)

// Generator produces a completion for a conversation.
type Generator interface {
	Generate(ctx context.Context, messages []model.Message, systemPrompt string) (string, error)
}

// ErrEmptyResponse is returned when the provider answered with no text.
var ErrEmptyResponse = eris.New("llm: empty response")

// AnthropicConfig configures AnthropicGenerator.
type AnthropicConfig struct {
	Model     string
	MaxTokens int64
}

// AnthropicGenerator adapts an anthropic.Client to Generator. Provider
// failures count against a circuit breaker so an outage fails fast.
type AnthropicGenerator struct {
	client  anthropic.Client
	cfg     AnthropicConfig
	breaker *resilience.CircuitBreaker
}

var _ Generator = (*AnthropicGenerator)(nil)

// NewAnthropic creates an AnthropicGenerator. breaker may be nil.
func NewAnthropic(client anthropic.Client, cfg AnthropicConfig, breaker *resilience.CircuitBreaker) *AnthropicGenerator {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	return &AnthropicGenerator{client: client, cfg: cfg, breaker: breaker}
}

func (g *AnthropicGenerator) Generate(ctx context.Context, messages []model.Message, systemPrompt string) (string, error) {
	req := anthropic.MessageRequest{
		Model:       g.cfg.Model,
		MaxTokens:   g.cfg.MaxTokens,
		System:      systemPrompt,
		Messages:    make([]anthropic.Message, 0, len(messages)),
		Temperature: new(float64),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, anthropic.Message{Role: m.Role, Content: m.Content})
	}

	call := func(ctx context.Context) (*anthropic.MessageResponse, error) {
		resp, err := g.client.CreateMessage(ctx, req)
		if err != nil {
			if status := anthropic.StatusCode(err); resilience.IsTransientHTTPStatus(status) {
				return nil, resilience.NewTransientError(err, status)
			}
			return nil, err
		}
		return resp, nil
	}

	start := time.Now()
	var (
		resp *anthropic.MessageResponse
		err  error
	)
	if g.breaker != nil {
		resp, err = resilience.ExecuteVal(ctx, g.breaker, call)
	} else {
		resp, err = call(ctx)
	}
	if err != nil {
		return "", eris.Wrap(err, "llm: generate")
	}

	resp.Usage.LogCost(g.cfg.Model, "verification")
	zap.L().Debug("llm: generated",
		zap.String("stop_reason", resp.StopReason),
		zap.Duration("elapsed", time.Since(start)),
	)

	text := resp.Text()
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
