package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ribeiromatosdavi25-ai/Companion-Core/pkg/contracts"
)

const sourceSystemClock = "offline.system_clock"

// Offline answers from local state only. Today that is the clock.
type Offline struct {
	loc    *time.Location
	budget time.Duration
	now    func() time.Time
	logger *slog.Logger
}

func NewOffline(loc *time.Location, budget time.Duration, logger *slog.Logger) *Offline {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Offline{
		loc:    loc,
		budget: budget,
		now:    time.Now,
		logger: logger.With("component", "resolver.offline"),
	}
}

// WithClock overrides the clock. Intended for tests.
func (o *Offline) WithClock(now func() time.Time) *Offline {
	o.now = now
	return o
}

func (o *Offline) Name() string { return "offline" }

func (o *Offline) Resolve(_ context.Context, req contracts.NormalizedRequest) (contracts.Result, error) {
	start := o.now()
	if !req.HasHint(contracts.HintTime) {
		return contracts.Miss, nil
	}

	at := start.In(o.loc)
	answer := contracts.Answer{
		Text:        fmt.Sprintf("Current time: %s on %s", at.Format("15:04:05"), at.Format("Monday, 2 January 2006")),
		Confidence:  1.0,
		Source:      sourceSystemClock,
		TimestampMs: at.UnixMilli(),
	}

	if end := o.now(); overBudget(start, end, o.budget) {
		o.logger.Warn("offline answer discarded", "elapsed", end.Sub(start), "budget", o.budget)
		return contracts.Miss, nil
	}
	return contracts.Hit(answer), nil
}
