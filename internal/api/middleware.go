package api

import (
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/streamtts/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const requestIDHeader = "X-Request-ID"

// requestID makes sure every request carries an X-Request-ID, generating a
// UUID when the caller sent none, and echoes it on the response. It runs
// before chi's RequestID so the same value lands in the request context.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// logRequests logs each completed request and records its metrics under
// the matched route pattern.
func logRequests(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				route := r.URL.Path
				if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
					route = rc.RoutePattern()
				}
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				elapsed := time.Since(start)
				metrics.RecordHTTPRequest(r.Method, route, status, elapsed)

				logFn := logger.Debug
				if status >= http.StatusInternalServerError {
					logFn = logger.Warn
				}
				logFn("Request completed",
					"method", r.Method,
					"path", r.URL.Path,
					"status", status,
					"latency", elapsed,
					"request_id", middleware.GetReqID(r.Context()),
					"remote_addr", r.RemoteAddr)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// limit rejects requests beyond the limiter's rate with 429.
func limit(l *rate.Limiter, logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow() {
				logger.Warn("Rate limit exceeded", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
				metrics.RecordError("rate_limited", "api")
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
