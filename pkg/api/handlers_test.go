package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ribeiromatosdavi25-ai/Companion-Core/pkg/config"
	"github.com/ribeiromatosdavi25-ai/Companion-Core/pkg/gateway"
	"github.com/ribeiromatosdavi25-ai/Companion-Core/pkg/weather"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type sunnyProvider struct{}

func (sunnyProvider) Current(_ context.Context, location string) (weather.Report, error) {
	return weather.Report{Location: location, Condition: "Sunny", TempC: 18}, nil
}

func newTestServer(t *testing.T, throttle *ClientThrottle) http.Handler {
	t.Helper()
	cfg := config.Default()
	cfg.TimeZone = "UTC"
	at := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	gw, err := gateway.New(cfg,
		gateway.WithClock(func() time.Time { return at }),
		gateway.WithLogger(quiet),
		gateway.WithWeatherProvider(sunnyProvider{}),
		gateway.WithLLMClient(nil),
	)
	require.NoError(t, err)
	return NewServer(gw, throttle, quiet).Routes()
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	return m
}

func TestQuery_TimeResolvesOffline(t *testing.T) {
	h := newTestServer(t, nil)
	rec := post(t, h, `{"message":"what time is it?"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "resolved", body["status"])
	assert.Equal(t, "OFFLINE", body["path"])
	assert.Equal(t, "offline.system_clock", body["source"])
	assert.Equal(t, 1.0, body["confidence"])
	assert.NotEmpty(t, body["trace_id"])
}

func TestQuery_MemoryIsDenied(t *testing.T) {
	h := newTestServer(t, nil)
	rec := post(t, h, `{"message":"what do you remember about me?"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "fallback", body["status"])
	assert.Equal(t, "DENY", body["path"])
	assert.Equal(t, "FALLBACK_DENY_PRIVATE", body["fallback_id"])
	assert.Equal(t, "Ask about general topics instead.", body["suggest_action"])
}

func TestQuery_DevModeElevates(t *testing.T) {
	cfg := config.Default()
	cfg.DevToken = "tok"
	gw, err := gateway.New(cfg,
		gateway.WithLogger(quiet),
		gateway.WithWeatherProvider(sunnyProvider{}),
		gateway.WithLLMClient(nil),
	)
	require.NoError(t, err)
	h := NewServer(gw, nil, quiet).Routes()

	rec := post(t, h, `{"message":"weather in Porto","dev_mode":{"token":"tok","allow_external":true}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "EXTERNAL_API", body["path"])
	assert.Equal(t, true, body["dev_mode"])
	assert.Equal(t, "Current weather in Porto: Sunny, 18°C", body["answer"])
}

func TestQuery_SixtyFirstCallIsRateLimited(t *testing.T) {
	h := newTestServer(t, nil)
	for i := 0; i < 60; i++ {
		rec := post(t, h, `{"message":"what time is it?","session_id":"flood"}`)
		require.Equal(t, http.StatusOK, rec.Code, "call %d", i+1)
	}

	rec := post(t, h, `{"message":"what time is it?","session_id":"flood"}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	body := decodeBody(t, rec)
	assert.Equal(t, "rate_limited", body["status"])
	assert.Equal(t, float64(60), body["retry_after_s"])
	assert.Equal(t, "Too many requests. Please slow down.", body["answer"])
	assert.Equal(t, body["answer"], body["message"])
}

func TestQuery_BadRequests(t *testing.T) {
	h := newTestServer(t, nil)

	tests := map[string]string{
		"malformed json": `{"message":`,
		"wrong type":     `{"message":42}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			rec := post(t, h, body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
			problem := decodeBody(t, rec)
			assert.Equal(t, float64(400), problem["status"])
			assert.Equal(t, "/api/query", problem["instance"])
			assert.Equal(t, "https://companion.local/errors/bad-request", problem["type"])
		})
	}
}

func TestQuery_EmptyMessageFallsBack(t *testing.T) {
	h := newTestServer(t, nil)

	for _, body := range []string{`{"message":"   "}`, `{}`} {
		rec := post(t, h, body)
		require.Equal(t, http.StatusOK, rec.Code, body)
		got := decodeBody(t, rec)
		assert.Equal(t, "fallback", got["status"], body)
		assert.Equal(t, "MODEL", got["path"], body)
		assert.Equal(t, "FALLBACK_PUBLIC_SAFE", got["fallback_id"], body)
	}
}

func TestQuery_BodyTooLarge(t *testing.T) {
	h := newTestServer(t, nil)
	big := `{"message":"` + strings.Repeat("a", MaxBodyBytes) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/query", bytes.NewBufferString(big))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "https://companion.local/errors/request-entity-too-large", decodeBody(t, rec)["type"])
}

type brokenPipeline struct{}

func (brokenPipeline) Handle(context.Context, gateway.Query) (gateway.Response, error) {
	return gateway.Response{}, errors.New("secret database password leaked in error")
}

func (brokenPipeline) Health() gateway.HealthReport { return gateway.HealthReport{Status: "ok"} }

func TestQuery_InternalFaultHidesDetail(t *testing.T) {
	h := NewServer(brokenPipeline{}, nil, quiet).Routes()
	rec := post(t, h, `{"message":"hi"}`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "Internal error", body["answer"])
	assert.NotContains(t, rec.Body.String(), "secret")
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, map[string]any{"external": "CLOSED", "model": "CLOSED"}, body["breakers"])
	assert.Contains(t, body, "uptime_s")
}

func TestClientThrottle(t *testing.T) {
	h := newTestServer(t, NewClientThrottle(0.001, 2, 16))

	for i := 0; i < 2; i++ {
		rec := post(t, h, `{"message":"what time is it?"}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := post(t, h, `{"message":"what time is it?"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Another client is unaffected; RealIP honours X-Real-IP.
	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(`{"message":"what time is it?"}`))
	req.Header.Set("X-Real-IP", "203.0.113.9")
	other := httptest.NewRecorder()
	h.ServeHTTP(other, req)
	assert.Equal(t, http.StatusOK, other.Code)

	// Health is never throttled.
	health := httptest.NewRecorder()
	h.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, health.Code)
}

func TestUnknownRoute(t *testing.T) {
	h := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}
