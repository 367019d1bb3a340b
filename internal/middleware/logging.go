package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/better-wallet/custody-wallets/internal/logger"
)

// RequestObserver receives one call per completed request. route is the
// matched mux pattern, or "unmatched".
type RequestObserver interface {
	ObserveRequest(route string, status int)
}

// Logging logs each request once it completes and reports it to obs.
// It must run inside RequestID so the log line carries the request ID.
func Logging(obs RequestObserver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := NewStatusRecorder(w)

			next.ServeHTTP(rec, r)

			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			if obs != nil {
				obs.ObserveRequest(route, rec.StatusCode)
			}

			level := slog.LevelInfo
			switch {
			case rec.StatusCode >= 500:
				level = slog.LevelError
			case rec.StatusCode >= 400:
				level = slog.LevelWarn
			}
			ctx := r.Context()
			logger.FromContext(ctx).Log(ctx, level, "request completed",
				"method", r.Method,
				"route", route,
				"status", rec.StatusCode,
				"bytes", rec.Bytes,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			logger.Debug(ctx, "request headers", "headers", RedactHeaders(r.Header))
		})
	}
}

// Chain applies middlewares so the first one listed is outermost.
func Chain(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
