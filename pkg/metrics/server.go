package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"
)

// Mux routes /metrics and the extra routes, and answers / with the list of
// what it serves.
func Mux(extra map[string]http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", Handler())
	routes := append([]string{"/metrics"}, slices.Sorted(maps.Keys(extra))...)
	for path, h := range extra {
		mux.Handle(path, h)
	}
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, strings.Join(routes, "\n"))
	})
	return mux
}

// StartServer serves Mux(extra) on its own port in the background, keeping
// scrapes and health checks off the query listener. The returned func shuts it
// down.
func StartServer(port int, extra map[string]http.Handler) (shutdown func(context.Context) error) {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           Mux(extra),
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	log := slog.Default().With("component", "metrics-server", "addr", server.Addr)
	go func() {
		log.Info("metrics server listening", "routes", len(extra)+1)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", "error", err)
		}
	}()
	return server.Shutdown
}
