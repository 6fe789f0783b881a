// Package router decides, once per request, which resolution path may run
// and what the caller sees if it fails.
package router

import (
	"fmt"
	"strings"
	"time"

	"github.com/ribeiromatosdavi25-ai/Companion-Core/pkg/contracts"
)

// DefaultMaxTokens is the generation budget handed to the MODEL path when
// the caller does not supply one.
const DefaultMaxTokens = 2048

// Options are per-request routing inputs supplied by the caller.
type Options struct {
	// ElevatedAccess lets weather requests bypass the cache and go straight
	// to the external provider. The caller validates it before routing.
	ElevatedAccess bool
	// MaxTokens overrides DefaultMaxTokens for the MODEL path.
	MaxTokens int
}

// ContractRouter maps a normalized request to an ExecutionContract.
type ContractRouter struct {
	now func() time.Time
}

// NewContractRouter creates a router on the wall clock.
func NewContractRouter() *ContractRouter {
	return &ContractRouter{now: time.Now}
}

// WithClock overrides the clock used for the time anchor.
func (r *ContractRouter) WithClock(now func() time.Time) *ContractRouter {
	r.now = now
	return r
}

// Route builds the contract. Apart from the embedded time anchor the result
// is a pure function of its inputs.
func (r *ContractRouter) Route(req contracts.NormalizedRequest, sessionStart time.Time, lastTurn *time.Time, opts Options) contracts.ExecutionContract {
	now := r.now()
	path, elevated := determinePath(req, opts)
	risk := computeRisk(req)

	maxTokens := 0
	if path == contracts.PathModel {
		maxTokens = opts.MaxTokens
		if maxTokens <= 0 {
			maxTokens = DefaultMaxTokens
		}
	}

	var lastTurnDelta int64
	if lastTurn != nil {
		lastTurnDelta = deltaSeconds(now, *lastTurn)
	}

	return contracts.ExecutionContract{
		ContractVersion: contracts.ContractVersion,
		TimeAnchor: contracts.TimeAnchor{
			NowISO:         now.UTC().Format(time.RFC3339Nano),
			SessionAgeS:    deltaSeconds(now, sessionStart),
			LastTurnDeltaS: lastTurnDelta,
		},
		Path:         path,
		RiskScore:    risk,
		MaxTokens:    maxTokens,
		AllowedTools: []string{},
		ConfinedAccess: contracts.ConfinedAccess{
			Allowed:     false,
			AllowedRPCs: []string{},
		},
		FallbackID: SelectFallback(path, risk),
		Trace: contracts.ContractTrace{
			DecisionReason: explain(path, req, elevated),
		},
	}
}

// determinePath applies the decision order. Private data wins over every
// other hint, so a mixed "remember the weather" request is still denied.
func determinePath(req contracts.NormalizedRequest, opts Options) (contracts.ExecutionPath, bool) {
	switch {
	case requiresPrivateData(req):
		return contracts.PathDeny, false
	case req.HasHint(contracts.HintTime):
		return contracts.PathOffline, false
	case req.HasHint(contracts.HintWeather):
		if opts.ElevatedAccess {
			return contracts.PathExternalAPI, true
		}
		return contracts.PathSafeCache, false
	default:
		return contracts.PathModel, false
	}
}

func requiresPrivateData(req contracts.NormalizedRequest) bool {
	return req.HasHint(contracts.HintMemory)
}

// computeRisk is binary today; the field is continuous so graded policies
// can slot in without a schema change.
func computeRisk(req contracts.NormalizedRequest) float64 {
	if requiresPrivateData(req) {
		return 1.0
	}
	return 0.0
}

// SelectFallback picks the canned response for a path and risk score.
func SelectFallback(path contracts.ExecutionPath, risk float64) contracts.FallbackID {
	switch {
	case risk >= contracts.PrivateRiskThreshold:
		return contracts.FallbackDenyPrivate
	case path == contracts.PathSafeCache:
		return contracts.FallbackStaleCache
	default:
		return contracts.FallbackPublicSafe
	}
}

// explain renders the audit string router.<path>.<primary hint>[.elevated].
func explain(path contracts.ExecutionPath, req contracts.NormalizedRequest, elevated bool) string {
	hint := string(req.PrimaryHint())
	if hint == "" {
		hint = "default"
	}
	reason := fmt.Sprintf("router.%s.%s", strings.ToLower(string(path)), hint)
	if elevated {
		reason += ".elevated"
	}
	return reason
}

func deltaSeconds(now, then time.Time) int64 {
	if then.IsZero() || then.After(now) {
		return 0
	}
	return int64(now.Sub(then) / time.Second)
}
