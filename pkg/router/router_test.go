package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ribeiromatosdavi25-ai/Companion-Core/pkg/contracts"
	"github.com/ribeiromatosdavi25-ai/Companion-Core/pkg/intent"
)

var routerNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newTestRouter() *ContractRouter {
	return NewContractRouter().WithClock(func() time.Time { return routerNow })
}

func route(t *testing.T, text string, opts Options) contracts.ExecutionContract {
	t.Helper()
	req := intent.NewNormalizer().Normalize(text)
	return newTestRouter().Route(req, routerNow.Add(-time.Minute), nil, opts)
}

func TestRoute_Paths(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		opts     Options
		path     contracts.ExecutionPath
		fallback contracts.FallbackID
		reason   string
	}{
		{"time is offline", "what time is it?", Options{}, contracts.PathOffline, contracts.FallbackPublicSafe, "router.offline.time"},
		{"weather is cached", "what's the weather?", Options{}, contracts.PathSafeCache, contracts.FallbackStaleCache, "router.safe_cache.weather"},
		{"elevated weather is external", "what's the weather?", Options{ElevatedAccess: true}, contracts.PathExternalAPI, contracts.FallbackPublicSafe, "router.external_api.weather.elevated"},
		{"memory is denied", "what do you remember about me?", Options{}, contracts.PathDeny, contracts.FallbackDenyPrivate, "router.deny.memory"},
		{"memory beats time", "recall what time we met", Options{}, contracts.PathDeny, contracts.FallbackDenyPrivate, "router.deny.time"},
		{"memory beats elevated weather", "remember the weather", Options{ElevatedAccess: true}, contracts.PathDeny, contracts.FallbackDenyPrivate, "router.deny.weather"},
		{"time beats weather", "what time does the forecast update", Options{}, contracts.PathOffline, contracts.FallbackPublicSafe, "router.offline.weather"},
		{"elevated has no effect on time", "what time is it", Options{ElevatedAccess: true}, contracts.PathOffline, contracts.FallbackPublicSafe, "router.offline.time"},
		{"anything else is model", "tell me a joke", Options{}, contracts.PathModel, contracts.FallbackPublicSafe, "router.model.default"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := route(t, tt.text, tt.opts)
			assert.Equal(t, tt.path, c.Path)
			assert.Equal(t, tt.fallback, c.FallbackID)
			assert.Equal(t, tt.reason, c.Trace.DecisionReason)
		})
	}
}

func TestRoute_RiskAndTokens(t *testing.T) {
	deny := route(t, "what do you remember about me?", Options{})
	assert.Equal(t, 1.0, deny.RiskScore)
	assert.Equal(t, 0, deny.MaxTokens)

	model := route(t, "write a haiku", Options{})
	assert.Equal(t, 0.0, model.RiskScore)
	assert.Equal(t, DefaultMaxTokens, model.MaxTokens)

	custom := route(t, "write a haiku", Options{MaxTokens: 256})
	assert.Equal(t, 256, custom.MaxTokens)

	offline := route(t, "what time is it", Options{MaxTokens: 256})
	assert.Equal(t, 0, offline.MaxTokens)
}

func TestRoute_ContractShape(t *testing.T) {
	c := route(t, "hello", Options{})
	assert.Equal(t, contracts.ContractVersion, c.ContractVersion)
	assert.NotNil(t, c.AllowedTools)
	assert.Empty(t, c.AllowedTools)
	assert.False(t, c.ConfinedAccess.Allowed)
	assert.Empty(t, c.ConfinedAccess.AllowedRPCs)
}

func TestRoute_TimeAnchor(t *testing.T) {
	req := intent.NewNormalizer().Normalize("hello")
	start := routerNow.Add(-90 * time.Second)
	last := routerNow.Add(-12 * time.Second)

	c := newTestRouter().Route(req, start, &last, Options{})
	assert.Equal(t, int64(90), c.TimeAnchor.SessionAgeS)
	assert.Equal(t, int64(12), c.TimeAnchor.LastTurnDeltaS)
	assert.Equal(t, "2026-05-04T10:00:00Z", c.TimeAnchor.NowISO)

	first := newTestRouter().Route(req, routerNow, nil, Options{})
	assert.Equal(t, int64(0), first.TimeAnchor.SessionAgeS)
	assert.Equal(t, int64(0), first.TimeAnchor.LastTurnDeltaS)
}

func TestRoute_Deterministic(t *testing.T) {
	req := intent.NewNormalizer().Normalize("what's the weather in Lisbon?")
	r := newTestRouter()
	a := r.Route(req, routerNow, nil, Options{})
	b := r.Route(req, routerNow, nil, Options{})
	require.Equal(t, a, b)
}

func TestSelectFallback(t *testing.T) {
	assert.Equal(t, contracts.FallbackDenyPrivate, SelectFallback(contracts.PathModel, 0.8))
	assert.Equal(t, contracts.FallbackDenyPrivate, SelectFallback(contracts.PathSafeCache, 0.95))
	assert.Equal(t, contracts.FallbackStaleCache, SelectFallback(contracts.PathSafeCache, 0.79))
	assert.Equal(t, contracts.FallbackPublicSafe, SelectFallback(contracts.PathExternalAPI, 0))
}
