package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/logger"
)

// AccessLog writes one line per request. Health checks log at debug.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := record(w)
		next.ServeHTTP(rec, r)

		level := slog.LevelInfo
		switch {
		case rec.Status() >= http.StatusInternalServerError:
			level = slog.LevelError
		case r.URL.Path == "/health/live" || r.URL.Path == "/health/ready":
			level = slog.LevelDebug
		}
		logger.FromContext(r.Context()).Log(r.Context(), level, "http request",
			"method", r.Method,
			"route", Route(r.URL.Path),
			"status", rec.Status(),
			"bytes", rec.bytes,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
