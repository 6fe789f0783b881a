// Package gateway is the request pipeline: admission, normalization,
// routing, dispatch under breakers and quotas, and response assembly.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ribeiromatosdavi25-ai/Companion-Core/pkg/config"
	"github.com/ribeiromatosdavi25-ai/Companion-Core/pkg/contracts"
	"github.com/ribeiromatosdavi25-ai/Companion-Core/pkg/fallback"
	"github.com/ribeiromatosdavi25-ai/Companion-Core/pkg/intent"
	"github.com/ribeiromatosdavi25-ai/Companion-Core/pkg/limiter"
	"github.com/ribeiromatosdavi25-ai/Companion-Core/pkg/llm"
	"github.com/ribeiromatosdavi25-ai/Companion-Core/pkg/observability"
	"github.com/ribeiromatosdavi25-ai/Companion-Core/pkg/resiliency"
	"github.com/ribeiromatosdavi25-ai/Companion-Core/pkg/resolver"
	"github.com/ribeiromatosdavi25-ai/Companion-Core/pkg/router"
	"github.com/ribeiromatosdavi25-ai/Companion-Core/pkg/session"
	"github.com/ribeiromatosdavi25-ai/Companion-Core/pkg/weather"
)

const modelQuotaReason = "limiter.model_quota"

// Gateway owns all per-process pipeline state.
type Gateway struct {
	normalizer *intent.Normalizer
	router     *router.ContractRouter
	sessions   *session.Store

	sessionLimiter *limiter.SlidingWindow
	modelLimiter   *limiter.SlidingWindow

	offline  resolver.Resolver
	cache    *resolver.SafeCache
	external resolver.Resolver
	model    *resolver.Model

	externalBreaker *resiliency.CircuitBreaker
	modelBreaker    *resiliency.CircuitBreaker

	devGate    *DevGate
	telemetry  *observability.Provider
	logger     *slog.Logger
	now        func() time.Time
	started    time.Time
	weatherTTL time.Duration
	maxTokens  int
}

type settings struct {
	now       func() time.Time
	logger    *slog.Logger
	telemetry *observability.Provider
	provider  weather.Provider
	llmClient llm.Client
	llmSet    bool
}

// Option customizes New.
type Option func(*settings)

// WithClock drives every component from one clock.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

func WithTelemetry(p *observability.Provider) Option {
	return func(s *settings) { s.telemetry = p }
}

// WithWeatherProvider replaces the wttr.in client.
func WithWeatherProvider(p weather.Provider) Option {
	return func(s *settings) { s.provider = p }
}

// WithLLMClient replaces the configured model backend. A nil client
// disables the model path.
func WithLLMClient(c llm.Client) Option {
	return func(s *settings) {
		s.llmClient = c
		s.llmSet = true
	}
}

// New wires the pipeline from configuration.
func New(cfg *config.Config, opts ...Option) (*Gateway, error) {
	s := settings{now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(&s)
	}
	if s.telemetry == nil {
		p, err := observability.New(context.Background(), &observability.Config{Enabled: false})
		if err != nil {
			return nil, err
		}
		s.telemetry = p
	}
	if s.provider == nil {
		s.provider = weather.NewWttrClient(cfg.Weather.BaseURL, nil)
	}
	if !s.llmSet && cfg.ModelEnabled() {
		s.llmClient = llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
		})
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	model, err := resolver.NewModel(s.llmClient, cfg.LLM.MaxTokens, cfg.LLM.Temperature, s.logger)
	if err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}

	g := &Gateway{
		normalizer: intent.NewNormalizer().WithClock(s.now),
		router:     router.NewContractRouter().WithClock(s.now),
		sessions:   session.NewStore(cfg.Sessions.Capacity).WithClock(s.now),

		sessionLimiter: limiter.NewSlidingWindow(limiter.Policy{
			Max: cfg.Limits.SessionMax, Window: cfg.Limits.SessionWindow,
		}, cfg.Limits.Capacity).WithClock(s.now),
		modelLimiter: limiter.NewSlidingWindow(limiter.Policy{
			Max: cfg.Limits.ModelMax, Window: cfg.Limits.ModelWindow,
		}, cfg.Limits.Capacity).WithClock(s.now),

		offline: resolver.NewOffline(loc, cfg.Budgets.Offline, s.logger).WithClock(s.now),
		cache:   resolver.NewSafeCache(cfg.Cache.Capacity, cfg.Weather.DefaultLocation, cfg.Budgets.Cache, s.logger).WithClock(s.now),
		external: resolver.NewExternal(s.provider, resolver.ExternalConfig{
			DefaultLocation: cfg.Weather.DefaultLocation,
			Timeout:         cfg.Budgets.ExternalTimeout,
			Budget:          cfg.Budgets.External,
			RatePerSecond:   cfg.Weather.RatePerSecond,
			Burst:           cfg.Weather.Burst,
		}, s.logger).WithClock(s.now),
		model: model,

		externalBreaker: resiliency.NewCircuitBreaker("external", cfg.Breakers.ExternalThreshold, cfg.Breakers.ExternalReset).WithClock(s.now),
		modelBreaker:    resiliency.NewCircuitBreaker("model", cfg.Breakers.ModelThreshold, cfg.Breakers.ModelReset).WithClock(s.now),

		devGate:    NewDevGate(cfg.DevToken),
		telemetry:  s.telemetry,
		logger:     s.logger.With("component", "gateway"),
		now:        s.now,
		started:    s.now(),
		weatherTTL: cfg.Cache.WeatherTTL,
		maxTokens:  cfg.LLM.MaxTokens,
	}
	return g, nil
}

// Handle runs one query through the pipeline. A non-nil error is an
// internal fault; every expected outcome, including rate limiting, is a
// Response.
func (g *Gateway) Handle(ctx context.Context, q Query) (resp Response, err error) {
	ctx, done := g.telemetry.TrackOperation(ctx, "gateway.query")
	defer func() {
		if r := recover(); r != nil {
			g.logger.ErrorContext(ctx, "pipeline panic", "panic", r)
			resp, err = Response{}, fmt.Errorf("gateway: panic: %v", r)
		}
		done(err,
			attribute.String("status", string(resp.Status)),
			attribute.String("path", string(resp.Path)),
		)
	}()
	return g.handle(ctx, q)
}

func (g *Gateway) handle(ctx context.Context, q Query) (Response, error) {
	start := g.now()
	sessionID := session.ResolveID(q.SessionID)

	if !g.sessionLimiter.Allow(sessionID) {
		g.logger.InfoContext(ctx, "session rate limited", "session_id", sessionID)
		return Response{
			Status:     StatusRateLimited,
			Answer:     rateLimitedMessage,
			RetryAfter: g.sessionLimiter.RetryAfter(sessionID),
			LatencyMs:  g.since(start),
		}, nil
	}

	req := g.normalizer.NormalizeLocalized(q.Message, q.AcceptLanguage)
	sessionStart, lastTurn := g.sessions.Begin(sessionID)
	elevated := g.devGate.Elevated(q.DevMode)

	contract := g.router.Route(req, sessionStart, lastTurn, router.Options{
		ElevatedAccess: elevated,
		MaxTokens:      g.maxTokens,
	})

	out := g.dispatch(ctx, req, sessionID, contract)
	g.sessions.Touch(sessionID, g.now())

	resp := Response{
		Path:     out.contract.Path,
		TraceID:  req.TraceID,
		DevMode:  elevated,
		Contract: out.contract,
	}
	if a, ok := out.result.Answer(); ok {
		resp.Status = StatusResolved
		resp.Answer = a.Text
		resp.Confidence = a.Confidence
		resp.Source = a.Source
	} else {
		entry, err := fallback.Get(out.fallback)
		if err != nil {
			return Response{}, fmt.Errorf("gateway: assemble %s: %w", req.TraceID, err)
		}
		resp.Status = StatusFallback
		resp.FallbackID = out.fallback
		resp.Answer = entry.Message
		resp.SuggestAction = entry.SuggestAction
	}
	resp.LatencyMs = g.since(start)

	g.logger.InfoContext(ctx, "query handled",
		"trace_id", req.TraceID,
		"session_id", sessionID,
		"path", resp.Path,
		"status", resp.Status,
		"reason", out.contract.Trace.DecisionReason,
		"latency_ms", resp.LatencyMs,
	)
	return resp, nil
}

type outcome struct {
	contract contracts.ExecutionContract
	result   contracts.Result
	fallback contracts.FallbackID
}

func (g *Gateway) dispatch(ctx context.Context, req contracts.NormalizedRequest, sessionID string, contract contracts.ExecutionContract) outcome {
	out := outcome{contract: contract, result: contracts.Miss, fallback: contract.FallbackID}

	switch contract.Path {
	case contracts.PathOffline:
		out.result = g.run(ctx, g.offline, req)

	case contracts.PathSafeCache:
		out.result = g.run(ctx, g.cache, req)
		if out.result.IsMiss() {
			out.result, out.fallback = g.escalateExternal(ctx, req, out.fallback)
		}

	case contracts.PathExternalAPI:
		out.result, out.fallback = g.escalateExternal(ctx, req, out.fallback)

	case contracts.PathModel:
		out = g.dispatchModel(ctx, req, sessionID, out)

	case contracts.PathDeny:
	}
	return out
}

// escalateExternal calls the weather provider through its breaker. A
// rejected call switches the fallback to EXTERNAL_DOWN.
func (g *Gateway) escalateExternal(ctx context.Context, req contracts.NormalizedRequest, fb contracts.FallbackID) (contracts.Result, contracts.FallbackID) {
	if !g.externalBreaker.Allow() {
		g.telemetry.RecordOutcome(ctx, g.external.Name(), observability.OutcomeRejected)
		return contracts.Miss, contracts.FallbackExternalDown
	}
	res, err := g.external.Resolve(ctx, req)
	settle(g.externalBreaker, res, err)
	g.record(ctx, g.external.Name(), res, err)

	if a, ok := res.Answer(); ok {
		if key := g.cache.TopicKey(req); key != "" {
			g.cache.Set(key, a.Text, a.Confidence, g.weatherTTL)
		}
	}
	return res, fb
}

// dispatchModel runs the model under its quota and breaker. Model answers
// are never cached: they depend on the utterance and language, and the
// cache only holds topic-scoped answers.
func (g *Gateway) dispatchModel(ctx context.Context, req contracts.NormalizedRequest, sessionID string, out outcome) outcome {
	if !g.model.Enabled() {
		return out
	}
	if !g.modelLimiter.Allow(sessionID) {
		out.contract = out.contract.Deny(contracts.FallbackPublicSafe, modelQuotaReason)
		out.fallback = out.contract.FallbackID
		return out
	}
	if !g.modelBreaker.Allow() {
		g.telemetry.RecordOutcome(ctx, g.model.Name(), observability.OutcomeRejected)
		return out
	}

	res, err := g.model.ResolveWithin(ctx, req, out.contract.MaxTokens)
	settle(g.modelBreaker, res, err)
	g.record(ctx, g.model.Name(), res, err)
	out.result = res
	return out
}

// run calls a resolver that sits behind no breaker.
func (g *Gateway) run(ctx context.Context, r resolver.Resolver, req contracts.NormalizedRequest) contracts.Result {
	res, err := r.Resolve(ctx, req)
	g.record(ctx, r.Name(), res, err)
	if err != nil {
		g.logger.WarnContext(ctx, "resolver fault", "resolver", r.Name(), "trace_id", req.TraceID, "error", err)
		return contracts.Miss
	}
	return res
}

func (g *Gateway) record(ctx context.Context, name string, res contracts.Result, err error) {
	switch {
	case err != nil:
		g.telemetry.RecordOutcome(ctx, name, observability.OutcomeError)
	case res.IsMiss():
		g.telemetry.RecordOutcome(ctx, name, observability.OutcomeMiss)
	default:
		g.telemetry.RecordOutcome(ctx, name, observability.OutcomeHit)
	}
}

// settle reports a breaker-admitted call back to its breaker.
func settle(cb *resiliency.CircuitBreaker, res contracts.Result, err error) {
	switch {
	case err != nil:
		cb.RecordFailure()
	case res.IsMiss():
		cb.ReleaseTrial()
	default:
		cb.RecordSuccess()
	}
}

func (g *Gateway) since(start time.Time) int64 {
	return g.now().Sub(start).Milliseconds()
}

func breakerHealth(cb *resiliency.CircuitBreaker) string {
	if cb.IsOpen() {
		return resiliency.StateOpen
	}
	return resiliency.StateClosed
}

// HealthReport is the liveness summary served on /health.
type HealthReport struct {
	Status   string            `json:"status"`
	Breakers map[string]string `json:"breakers"`
	UptimeS  int64             `json:"uptime_s"`
}

// Health reports each breaker as OPEN while it fails fast and CLOSED
// otherwise, including a breaker whose reset window has elapsed.
func (g *Gateway) Health() HealthReport {
	return HealthReport{
		Status: "ok",
		Breakers: map[string]string{
			"external": breakerHealth(g.externalBreaker),
			"model":    breakerHealth(g.modelBreaker),
		},
		UptimeS: int64(g.now().Sub(g.started) / time.Second),
	}
}
