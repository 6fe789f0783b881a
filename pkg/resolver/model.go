package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ribeiromatosdavi25-ai/Companion-Core/pkg/contracts"
	"github.com/ribeiromatosdavi25-ai/Companion-Core/pkg/llm"
)

const systemPrompt = `You are a concise assistant. Never claim access to the user's private data or past conversations.
Reply with a single JSON object and nothing else, matching this JSON Schema:
%s
Use status "REFUSE" for requests you must not answer and "NOOP" when there is nothing to say.
Answer in the language with tag %q.`

// DefaultModelTokenCeiling caps generation when no ceiling is configured.
const DefaultModelTokenCeiling = 2048

// Model answers open-ended questions through an LLM backend whose output
// must satisfy the structured output schema.
type Model struct {
	client      llm.Client
	validator   *llm.OutputValidator
	ceiling     int
	temperature float64
	logger      *slog.Logger
}

// NewModel builds the resolver. A nil client yields a disabled resolver
// that always misses.
func NewModel(client llm.Client, ceiling int, temperature float64, logger *slog.Logger) (*Model, error) {
	validator, err := llm.NewOutputValidator()
	if err != nil {
		return nil, err
	}
	if ceiling <= 0 {
		ceiling = DefaultModelTokenCeiling
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Model{
		client:      client,
		validator:   validator,
		ceiling:     ceiling,
		temperature: temperature,
		logger:      logger.With("component", "resolver.model"),
	}, nil
}

func (m *Model) Name() string { return "model" }

// Enabled reports whether a backend is configured.
func (m *Model) Enabled() bool { return m.client != nil }

// Resolve generates with the full token ceiling.
func (m *Model) Resolve(ctx context.Context, req contracts.NormalizedRequest) (contracts.Result, error) {
	return m.ResolveWithin(ctx, req, m.ceiling)
}

// ResolveWithin generates with at most maxTokens, clamped to the ceiling.
func (m *Model) ResolveWithin(ctx context.Context, req contracts.NormalizedRequest, maxTokens int) (contracts.Result, error) {
	if m.client == nil {
		return contracts.Miss, nil
	}

	resp, err := m.client.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: fmt.Sprintf(systemPrompt, llm.OutputSchema, req.Language)},
		{Role: llm.RoleUser, Content: req.Text},
	}, &llm.SamplingOptions{
		Temperature: m.temperature,
		MaxTokens:   m.TokenBudget(maxTokens),
	})
	if err != nil {
		m.logger.Warn("model call failed", "trace_id", req.TraceID, "error", err)
		return contracts.Miss, fmt.Errorf("%w: %w", ErrDependency, err)
	}

	out, err := m.validator.Parse(resp.Content)
	if err != nil {
		m.logger.Warn("model output rejected", "trace_id", req.TraceID, "error", err)
		return contracts.Miss, fmt.Errorf("%w: %w", ErrDependency, err)
	}
	if !out.Answerable() {
		m.logger.Debug("model declined", "trace_id", req.TraceID, "status", out.Status)
		return contracts.Miss, nil
	}

	return contracts.Hit(contracts.Answer{
		Text:            out.Answer,
		Confidence:      out.Confidence,
		Source:          "model." + m.client.Model(),
		TimestampMs:     time.Now().UnixMilli(),
		NeedsEscalation: out.NeedsEscalation,
	}), nil
}

// TokenBudget clamps a requested budget to the configured ceiling. A
// non-positive request gets the whole ceiling.
func (m *Model) TokenBudget(requested int) int {
	if requested <= 0 || requested > m.ceiling {
		return m.ceiling
	}
	return requested
}
