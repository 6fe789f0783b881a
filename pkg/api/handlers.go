package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ribeiromatosdavi25-ai/Companion-Core/pkg/gateway"
)

// MaxBodyBytes caps a query body.
const MaxBodyBytes = 1 << 20

// Pipeline is the gateway surface the transport needs.
type Pipeline interface {
	Handle(ctx context.Context, q gateway.Query) (gateway.Response, error)
	Health() gateway.HealthReport
}

// Server exposes a Pipeline over HTTP.
type Server struct {
	pipeline Pipeline
	throttle *ClientThrottle
	logger   *slog.Logger
}

// NewServer builds the transport. A nil throttle disables per-IP limiting.
func NewServer(p Pipeline, throttle *ClientThrottle, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		pipeline: p,
		throttle: throttle,
		logger:   logger.With("component", "api"),
	}
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))

	r.Get("/health", s.handleHealth)
	r.Group(func(r chi.Router) {
		if s.throttle != nil {
			r.Use(s.throttle.Middleware)
		}
		r.Post("/api/query", s.handleQuery)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, http.StatusNotFound, "Not Found", "No such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, http.StatusMethodNotAllowed, "Method Not Allowed", "The HTTP method is not supported for this endpoint")
	})
	return r
}

type queryRequest struct {
	Message   string           `json:"message"`
	SessionID string           `json:"session_id"`
	DevMode   *gateway.DevMode `json:"dev_mode"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)

	var body queryRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, r, http.StatusRequestEntityTooLarge, "Payload Too Large",
				fmt.Sprintf("Request body exceeds %d bytes", MaxBodyBytes))
			return
		}
		WriteBadRequest(w, r, "Request body must be a JSON object")
		return
	}

	resp, err := s.pipeline.Handle(r.Context(), gateway.Query{
		Message:        body.Message,
		SessionID:      body.SessionID,
		DevMode:        body.DevMode,
		AcceptLanguage: r.Header.Get("Accept-Language"),
	})
	if err != nil {
		writeInternal(w, s.logger, err, time.Since(start).Milliseconds())
		return
	}

	if resp.Status == gateway.StatusRateLimited {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", gateway.RetryAfterSeconds(resp.RetryAfter)))
		writeJSON(w, http.StatusTooManyRequests, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.pipeline.Health())
}
