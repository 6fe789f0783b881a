// Package fallback holds the canned responses returned when no resolver
// produced an answer or a request was denied.
package fallback

import (
	"errors"
	"fmt"

	"github.com/ribeiromatosdavi25-ai/Companion-Core/pkg/contracts"
)

// ErrUnknownFallback is returned for ids missing from the registry.
var ErrUnknownFallback = errors.New("unknown fallback id")

// Entry is the user-facing text for a fallback.
type Entry struct {
	Message       string `json:"message"`
	SuggestAction string `json:"suggest_action"`
}

var registry = map[contracts.FallbackID]Entry{
	contracts.FallbackPublicSafe: {
		Message:       "I can provide general information on this topic.",
		SuggestAction: "Try rephrasing your question.",
	},
	contracts.FallbackStaleCache: {
		Message:       "Showing cached information (may be outdated).",
		SuggestAction: "Refresh for latest data.",
	},
	contracts.FallbackExternalDown: {
		Message:       "External service temporarily unavailable.",
		SuggestAction: "Try again in a few moments.",
	},
	contracts.FallbackDenyPrivate: {
		Message:       "I cannot access private information.",
		SuggestAction: "Ask about general topics instead.",
	},
}

// Get looks up an entry.
func Get(id contracts.FallbackID) (Entry, error) {
	e, ok := registry[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q", ErrUnknownFallback, id)
	}
	return e, nil
}

// IDs lists every registered fallback.
func IDs() []contracts.FallbackID {
	return []contracts.FallbackID{
		contracts.FallbackPublicSafe,
		contracts.FallbackStaleCache,
		contracts.FallbackExternalDown,
		contracts.FallbackDenyPrivate,
	}
}
