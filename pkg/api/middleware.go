package api

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// ClientThrottle manages per-IP token buckets. It is flood protection in
// front of the pipeline, separate from the per-session quota. The visitor
// table is an LRU, so idle clients age out without a sweeper goroutine.
type ClientThrottle struct {
	mu       sync.Mutex
	visitors *lru.Cache[string, *rate.Limiter]
	rps      rate.Limit
	burst    int
}

// NewClientThrottle creates a throttle tracking up to capacity clients.
func NewClientThrottle(rps float64, burst, capacity int) *ClientThrottle {
	if capacity <= 0 {
		capacity = 10000
	}
	if burst < 1 {
		burst = 1
	}
	visitors, _ := lru.New[string, *rate.Limiter](capacity)
	return &ClientThrottle{
		visitors: visitors,
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (t *ClientThrottle) visitor(ip string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	if l, ok := t.visitors.Get(ip); ok {
		return l
	}
	l := rate.NewLimiter(t.rps, t.burst)
	t.visitors.Add(ip, l)
	return l
}

// Middleware returns a Handler that enforces the per-IP limit.
func (t *ClientThrottle) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := t.visitor(clientIP(r))

		res := l.Reserve()
		if !res.OK() {
			WriteTooManyRequests(w, r, 1)
			return
		}
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			WriteTooManyRequests(w, r, int64((delay+time.Second-1)/time.Second))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP extracts the host part of RemoteAddr. RealIP runs earlier, so
// proxied addresses are already substituted.
func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = strings.TrimSuffix(strings.TrimPrefix(r.RemoteAddr, "["), "]")
	}
	return ip
}

// requestLogger logs one line per request via slog.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"remote", clientIP(r),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}
