// Package contracts defines the records that flow through the resolution
// pipeline: the normalized request, the execution contract the router emits
// for it, and the result a resolver hands back.
package contracts

// IntentHint is a coarse category describing what a request is about.
type IntentHint string

// Intent hint constants, listed in detection priority order.
const (
	HintWeather IntentHint = "weather"
	HintTime    IntentHint = "time"
	HintMemory  IntentHint = "memory"
)

// NormalizedRequest is the canonical, immutable form of one inbound message.
type NormalizedRequest struct {
	RequestHash string       `json:"request_hash"` // hex SHA-256 of the canonical text
	TraceID     string       `json:"trace_id"`
	Text        string       `json:"text"`
	Language    string       `json:"language"`
	IntentHints []IntentHint `json:"intent_hints"` // first entry is primary
	TimestampMs int64        `json:"timestamp_ms"`
}

// HasHint reports whether the request carries the given hint.
func (r NormalizedRequest) HasHint(h IntentHint) bool {
	for _, hint := range r.IntentHints {
		if hint == h {
			return true
		}
	}
	return false
}

// PrimaryHint returns the first detected hint, or "" when nothing matched.
func (r NormalizedRequest) PrimaryHint() IntentHint {
	if len(r.IntentHints) == 0 {
		return ""
	}
	return r.IntentHints[0]
}
