// Package resolver contains the answer sources the gateway dispatches to.
//
// Every resolver returns a meaningful Result: Miss whenever it cannot
// answer. The error return is reserved for dependency faults (network,
// provider, budget overrun) so callers can feed circuit breakers; "no
// answer" is never an error.
package resolver

import (
	"context"
	"errors"
	"time"

	"github.com/ribeiromatosdavi25-ai/Companion-Core/pkg/contracts"
)

var (
	// ErrBudgetExceeded marks a result discarded for arriving after its
	// latency budget.
	ErrBudgetExceeded = errors.New("resolver budget exceeded")
	// ErrDependency wraps failures of the dependency behind a resolver.
	ErrDependency = errors.New("resolver dependency failed")
)

// Default latency budgets.
const (
	OfflineBudget  = 80 * time.Millisecond
	CacheBudget    = 80 * time.Millisecond
	ExternalBudget = 350 * time.Millisecond
	// ExternalTimeout is the hard network deadline inside ExternalBudget.
	ExternalTimeout = 250 * time.Millisecond
)

type Resolver interface {
	Name() string
	Resolve(ctx context.Context, req contracts.NormalizedRequest) (contracts.Result, error)
}

// overBudget reports whether work started at start has run past budget.
// A zero budget disables the check.
func overBudget(start, now time.Time, budget time.Duration) bool {
	return budget > 0 && now.Sub(start) > budget
}
