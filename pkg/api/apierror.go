// Package api is the HTTP transport for the gateway. Transport-level
// failures are RFC 7807 problem documents; pipeline outcomes, including
// session rate limiting, keep the gateway's own response shapes.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

const problemTypeBase = "https://companion.local/errors/"

// ProblemDetail is an RFC 7807 problem document.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func (p *ProblemDetail) Error() string {
	return p.Title + ": " + p.Detail
}

// problemType maps a status to a stable slug, e.g. 413 -> .../payload-too-large.
func problemType(status int) string {
	slug := strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "-"))
	if slug == "" {
		slug = strconv.Itoa(status)
	}
	return problemTypeBase + slug
}

// WriteError writes a problem document for status.
func WriteError(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	p := ProblemDetail{
		Type:   problemType(status),
		Title:  title,
		Status: status,
		Detail: detail,
	}
	if r != nil {
		p.Instance = r.URL.Path
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(p)
}

func WriteBadRequest(w http.ResponseWriter, r *http.Request, detail string) {
	WriteError(w, r, http.StatusBadRequest, "Bad Request", detail)
}

// WriteTooManyRequests rejects a client over its throttle.
func WriteTooManyRequests(w http.ResponseWriter, r *http.Request, retryAfterSecs int64) {
	w.Header().Set("Retry-After", strconv.FormatInt(retryAfterSecs, 10))
	WriteError(w, r, http.StatusTooManyRequests, "Too Many Requests", "Client request rate exceeded")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeInternal answers an internal fault. err is logged, never sent.
func writeInternal(w http.ResponseWriter, logger *slog.Logger, err error, latencyMs int64) {
	logger.Error("pipeline fault", "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"status":     "error",
		"answer":     "Internal error",
		"message":    "Internal error",
		"latency_ms": latencyMs,
	})
}
