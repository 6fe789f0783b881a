package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ribeiromatosdavi25-ai/Companion-Core/pkg/api"
	"github.com/ribeiromatosdavi25-ai/Companion-Core/pkg/config"
	"github.com/ribeiromatosdavi25-ai/Companion-Core/pkg/gateway"
	"github.com/ribeiromatosdavi25-ai/Companion-Core/pkg/observability"
)

const shutdownTimeout = 10 * time.Second

func notifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// newLogger builds the process logger from LOG_FORMAT and LOG_LEVEL.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func telemetryConfig(cfg *config.Config) *observability.Config {
	tc := observability.DefaultConfig()
	tc.ServiceVersion = version
	tc.Enabled = cfg.Telemetry.Enabled
	tc.Insecure = cfg.Telemetry.Insecure
	tc.SampleRate = cfg.Telemetry.SampleRate
	if cfg.Telemetry.Endpoint != "" {
		tc.OTLPEndpoint = cfg.Telemetry.Endpoint
	}
	if cfg.Telemetry.Environment != "" {
		tc.Environment = cfg.Telemetry.Environment
	}
	return tc
}

// runServer serves the API until ctx is cancelled, then drains in-flight
// requests and flushes telemetry.
func runServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	telemetry, err := observability.New(ctx, telemetryConfig(cfg))
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	gw, err := gateway.New(cfg,
		gateway.WithLogger(logger),
		gateway.WithTelemetry(telemetry),
	)
	if err != nil {
		return err
	}

	var throttle *api.ClientThrottle
	if cfg.Client.RatePerSecond > 0 {
		throttle = api.NewClientThrottle(cfg.Client.RatePerSecond, cfg.Client.Burst, cfg.Client.Capacity)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewServer(gw, throttle, logger).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("gateway listening",
			"addr", srv.Addr,
			"model_enabled", cfg.ModelEnabled(),
			"dev_gate", cfg.DevToken != "",
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(srv.Shutdown(shutdownCtx), telemetry.Shutdown(shutdownCtx))
	})
	return g.Wait()
}
