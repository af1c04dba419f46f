package rest

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/strataline/callflow-backend/internal/infrastructure/cache"
	"github.com/strataline/callflow-backend/internal/metrics"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack keeps websocket upgrades working behind the middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

// loggingMiddleware logs one line per request.
func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			logger.InfoContext(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_addr", clientIP(r),
			)
		})
	}
}

// metricsMiddleware records request counts and latency per handler.
func metricsMiddleware(m *metrics.Metrics, handler string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			m.HTTPRequests.WithLabelValues(r.Method, handler, strconv.Itoa(rec.status)).Inc()
			m.HTTPDuration.WithLabelValues(r.Method, handler).Observe(time.Since(start).Seconds())
		})
	}
}

// rateLimitMiddleware bounds webhook ingress per client IP. Limiter errors
// fail open: dropping valid events costs more than letting a burst through.
func rateLimitMiddleware(limiter cache.RateLimiter, limit int, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, err := limiter.Allow(r.Context(), clientIP(r), limit, time.Second)
			if err != nil {
				logger.WarnContext(r.Context(), "rate limiter unavailable, allowing request", "error", err)
				allowed = true
			}
			if !allowed {
				w.Header().Set("Retry-After", "1")
				writeJSON(w, http.StatusTooManyRequests, errorBody{Error: errorDetail{
					Code:    "RATE_LIMITED",
					Message: "too many requests",
				}})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// localRateLimiter is the single-node fallback used when redis is not
// configured. Token buckets are kept per client key.
type localRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	burst    int
}

func newLocalRateLimiter(burst int) *localRateLimiter {
	return &localRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		burst:    burst,
	}
}

func (l *localRateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		perSecond := float64(limit) / window.Seconds()
		lim = rate.NewLimiter(rate.Limit(perSecond), l.burst)
		l.limiters[key] = lim
	}
	l.mu.Unlock()

	return lim.Allow(), nil
}
