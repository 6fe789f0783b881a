package gateway

import (
	"encoding/json"
	"time"

	"github.com/ribeiromatosdavi25-ai/Companion-Core/pkg/contracts"
)

// Query is one inbound user message.
type Query struct {
	Message   string   `json:"message"`
	SessionID string   `json:"session_id,omitempty"`
	DevMode   *DevMode `json:"dev_mode,omitempty"`
	// AcceptLanguage carries the transport's language preference.
	AcceptLanguage string `json:"-"`
}

type Status string

const (
	StatusResolved    Status = "resolved"
	StatusFallback    Status = "fallback"
	StatusRateLimited Status = "rate_limited"
)

// rateLimitedMessage is shown when the session quota is exhausted.
const rateLimitedMessage = "Too many requests. Please slow down."

// Response is the outcome of a query. Which fields are meaningful depends
// on Status; MarshalJSON emits only those.
type Response struct {
	Status        Status
	Path          contracts.ExecutionPath
	Answer        string
	Confidence    float64
	Source        string
	FallbackID    contracts.FallbackID
	SuggestAction string
	LatencyMs     int64
	TraceID       string
	DevMode       bool
	RetryAfter    time.Duration
	// Contract is the contract the pipeline executed. Not serialized.
	Contract contracts.ExecutionContract
}

func (r Response) MarshalJSON() ([]byte, error) {
	switch r.Status {
	case StatusResolved:
		return json.Marshal(struct {
			Status     Status                  `json:"status"`
			Path       contracts.ExecutionPath `json:"path"`
			Answer     string                  `json:"answer"`
			Confidence float64                 `json:"confidence"`
			Source     string                  `json:"source"`
			LatencyMs  int64                   `json:"latency_ms"`
			TraceID    string                  `json:"trace_id"`
			DevMode    bool                    `json:"dev_mode,omitempty"`
		}{r.Status, r.Path, r.Answer, r.Confidence, r.Source, r.LatencyMs, r.TraceID, r.DevMode})
	case StatusFallback:
		return json.Marshal(struct {
			Status        Status                  `json:"status"`
			Path          contracts.ExecutionPath `json:"path"`
			FallbackID    contracts.FallbackID    `json:"fallback_id"`
			Answer        string                  `json:"answer"`
			SuggestAction string                  `json:"suggest_action"`
			LatencyMs     int64                   `json:"latency_ms"`
			TraceID       string                  `json:"trace_id"`
			DevMode       bool                    `json:"dev_mode,omitempty"`
		}{r.Status, r.Path, r.FallbackID, r.Answer, r.SuggestAction, r.LatencyMs, r.TraceID, r.DevMode})
	default:
		return json.Marshal(struct {
			Status      Status `json:"status"`
			Answer      string `json:"answer"`
			Message     string `json:"message"`
			RetryAfterS int64  `json:"retry_after_s"`
			LatencyMs   int64  `json:"latency_ms"`
		}{r.Status, r.Answer, r.Answer, RetryAfterSeconds(r.RetryAfter), r.LatencyMs})
	}
}

// RetryAfterSeconds rounds d up to whole seconds, minimum 1.
func RetryAfterSeconds(d time.Duration) int64 {
	s := int64((d + time.Second - 1) / time.Second)
	if s < 1 {
		return 1
	}
	return s
}
