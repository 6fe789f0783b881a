package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ribeiromatosdavi25-ai/Companion-Core/pkg/config"
	"github.com/ribeiromatosdavi25-ai/Companion-Core/pkg/gateway"
)

func isolateEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"COMPANION_CONFIG", "OPENAI_API_KEY", "LLM_SERVICE_URL", "COMPANION_DEV_TOKEN", "OTEL_ENABLED"} {
		t.Setenv(k, "")
	}
	t.Setenv("LOG_LEVEL", "ERROR")
}

func stubServer(t *testing.T) *bool {
	t.Helper()
	original := startServer
	t.Cleanup(func() { startServer = original })
	called := false
	startServer = func(context.Context, *config.Config, *slog.Logger) error {
		called = true
		return nil
	}
	return &called
}

func TestRun_Help(t *testing.T) {
	var stdout, stderr bytes.Buffer
	exitCode := Run([]string{"companion", "--help"}, &stdout, &stderr)

	assert.Equal(t, 0, exitCode)
	assert.Contains(t, stdout.String(), "companion")
	assert.Contains(t, stdout.String(), "ask")
}

func TestRun_DefaultsToServer(t *testing.T) {
	isolateEnv(t)
	called := stubServer(t)

	var stdout, stderr bytes.Buffer
	exitCode := Run([]string{"companion"}, &stdout, &stderr)

	assert.Equal(t, 0, exitCode)
	assert.True(t, *called, "expected runServer to be called")
}

func TestRun_Serve(t *testing.T) {
	isolateEnv(t)
	called := stubServer(t)

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, Run([]string{"companion", "serve"}, &stdout, &stderr))
	assert.True(t, *called)
}

func TestRun_ServeRejectsBadConfig(t *testing.T) {
	isolateEnv(t)
	called := stubServer(t)
	t.Setenv("COMPANION_SESSION_LIMIT", "lots")

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 1, Run([]string{"companion", "serve"}, &stdout, &stderr))
	assert.False(t, *called)
	assert.Contains(t, stderr.String(), "COMPANION_SESSION_LIMIT")
}

func TestRun_Unknown(t *testing.T) {
	var stdout, stderr bytes.Buffer
	exitCode := Run([]string{"companion", "unknown-command"}, &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "unknown command")
}

func TestRun_Version(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, Run([]string{"companion", "version"}, &stdout, &stderr))
	assert.Equal(t, "companion dev\n", stdout.String())
}

func TestRun_AskResolvesOffline(t *testing.T) {
	isolateEnv(t)
	t.Setenv("COMPANION_TIME_ZONE", "UTC")

	var stdout, stderr bytes.Buffer
	exitCode := Run([]string{"companion", "ask", "what", "time", "is", "it?"}, &stdout, &stderr)
	require.Equal(t, 0, exitCode, stderr.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &body))
	assert.Equal(t, "resolved", body["status"])
	assert.Equal(t, "OFFLINE", body["path"])
	assert.Equal(t, "offline.system_clock", body["source"])
}

func TestRun_AskDeniesMemory(t *testing.T) {
	isolateEnv(t)

	var stdout, stderr bytes.Buffer
	require.Equal(t, 0, Run([]string{"companion", "ask", "do you remember me?"}, &stdout, &stderr))

	var body map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &body))
	assert.Equal(t, "fallback", body["status"])
	assert.Equal(t, "FALLBACK_DENY_PRIVATE", body["fallback_id"])
}

func TestRun_AskRequiresMessage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 1, Run([]string{"companion", "ask"}, &stdout, &stderr))
}

func TestRun_Health(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(gateway.HealthReport{
			Status:   "ok",
			Breakers: map[string]string{"external": "OPEN"},
			UptimeS:  42,
		})
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	exitCode := Run([]string{"companion", "health", "--url", srv.URL + "/health"}, &stdout, &stderr)

	assert.Equal(t, 0, exitCode)
	assert.Contains(t, stdout.String(), "status=ok uptime=42s")
	assert.Contains(t, stdout.String(), "breaker external=OPEN")
}

func TestRun_Health_Fail(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	var stdout, stderr bytes.Buffer
	exitCode := Run([]string{"companion", "health", "--url", url + "/health"}, &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stdout.String(), "Health check failed")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Default()
	cfg.LogFormat = "text"
	cfg.LogLevel = "warn"

	logger := newLogger(cfg, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "k=v")

	buf.Reset()
	cfg.LogFormat = "json"
	newLogger(cfg, &buf).Warn("shown")
	assert.True(t, json.Valid(buf.Bytes()))
}

func TestTelemetryConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Telemetry.Enabled = true
	cfg.Telemetry.Endpoint = "collector:4317"
	cfg.Telemetry.Environment = "staging"
	cfg.Telemetry.SampleRate = 0.25

	tc := telemetryConfig(cfg)
	assert.True(t, tc.Enabled)
	assert.Equal(t, "collector:4317", tc.OTLPEndpoint)
	assert.Equal(t, "staging", tc.Environment)
	assert.Equal(t, 0.25, tc.SampleRate)
	assert.Equal(t, "companion-gateway", tc.ServiceName)
}
