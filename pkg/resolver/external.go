package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/ribeiromatosdavi25-ai/Companion-Core/pkg/contracts"
	"github.com/ribeiromatosdavi25-ai/Companion-Core/pkg/weather"
)

const sourceExternalWeather = "external.wttr.in"

// ExternalConfig tunes the External resolver. Zero values take defaults;
// a zero RatePerSecond disables the outbound throttle.
type ExternalConfig struct {
	DefaultLocation string
	Timeout         time.Duration
	Budget          time.Duration
	RatePerSecond   float64
	Burst           int
}

// External answers weather questions from a live provider.
type External struct {
	provider        weather.Provider
	defaultLocation string
	timeout         time.Duration
	budget          time.Duration
	throttle        *rate.Limiter
	group           singleflight.Group
	now             func() time.Time
	logger          *slog.Logger
}

func NewExternal(provider weather.Provider, cfg ExternalConfig, logger *slog.Logger) *External {
	if cfg.DefaultLocation == "" {
		cfg.DefaultLocation = weather.DefaultLocation
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = ExternalTimeout
	}
	if cfg.Budget <= 0 {
		cfg.Budget = ExternalBudget
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &External{
		provider:        provider,
		defaultLocation: cfg.DefaultLocation,
		timeout:         cfg.Timeout,
		budget:          cfg.Budget,
		now:             time.Now,
		logger:          logger.With("component", "resolver.external"),
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		e.throttle = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return e
}

// WithClock overrides the clock used for budget accounting.
func (e *External) WithClock(now func() time.Time) *External {
	e.now = now
	return e
}

func (e *External) Name() string { return "external" }

// Location is the place a weather request refers to.
func (e *External) Location(req contracts.NormalizedRequest) string {
	return weather.ExtractLocation(req.Text, e.defaultLocation)
}

func (e *External) Resolve(ctx context.Context, req contracts.NormalizedRequest) (contracts.Result, error) {
	if !req.HasHint(contracts.HintWeather) {
		return contracts.Miss, nil
	}
	location := e.Location(req)

	if e.throttle != nil && !e.throttle.Allow() {
		e.logger.Debug("outbound throttle exhausted", "location", location)
		return contracts.Miss, nil
	}

	start := e.now()
	v, err, shared := e.group.Do(weather.TopicKey(location), func() (any, error) {
		// The flight is shared, so it must outlive the first caller's ctx.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
		defer cancel()
		return e.provider.Current(fctx, location)
	})
	if err != nil {
		e.logger.Warn("weather lookup failed", "location", location, "error", err)
		return contracts.Miss, fmt.Errorf("%w: %w", ErrDependency, err)
	}
	report := v.(weather.Report)

	if end := e.now(); overBudget(start, end, e.budget) {
		e.logger.Warn("external answer discarded", "location", location, "elapsed", end.Sub(start), "budget", e.budget)
		return contracts.Miss, ErrBudgetExceeded
	}

	e.logger.Debug("weather resolved", "location", report.Location, "shared", shared)
	return contracts.Hit(contracts.Answer{
		Text:        fmt.Sprintf("Current weather in %s: %s, %d°C", report.Location, report.Condition, report.TempC),
		Confidence:  0.95,
		Source:      sourceExternalWeather,
		TimestampMs: e.now().UnixMilli(),
	}), nil
}
