package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/metrics"
)

// collectionRoutes are the path prefixes whose next segment names a
// collection.
var collectionRoutes = map[string]string{
	"search":           "/search/{collection}",
	"write":            "/write/{collection}",
	"postings":         "/postings/{collection}",
	"cache/invalidate": "/cache/invalidate/{collection}",
}

// Metrics counts and times requests by method, route and status. A nil m
// disables it.
func Metrics(m *metrics.Metrics) Middleware {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			m.HTTPRequestsInFlight.Inc()
			defer m.HTTPRequestsInFlight.Dec()

			rec := record(w)
			next.ServeHTTP(rec, r)

			route := Route(r.URL.Path)
			m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.Status())).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// Route maps a request path to its route template so every collection
// shares one label set: /search/www becomes /search/{collection}.
func Route(path string) string {
	trimmed := strings.Trim(path, "/")
	for prefix, route := range collectionRoutes {
		rest, ok := strings.CutPrefix(trimmed, prefix+"/")
		if ok && rest != "" {
			return route
		}
	}
	return path
}
