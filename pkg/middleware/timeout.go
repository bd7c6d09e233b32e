package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/logger"
)

// Timeout puts a deadline on the request context. If the handler has not
// started its response by then the client gets 504 and anything the
// handler writes afterwards is dropped. A non-positive timeout disables it.
func Timeout(timeout time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			gw := &guardedWriter{ResponseWriter: w}
			done := make(chan struct{})
			go func() {
				defer close(done)
				next.ServeHTTP(gw, r.WithContext(ctx))
			}()

			select {
			case <-done:
				return
			case <-ctx.Done():
			}
			if !gw.expire() {
				<-done
				return
			}
			logger.FromContext(ctx).Warn("request timed out",
				"method", r.Method,
				"route", Route(r.URL.Path),
				"timeout", timeout,
			)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusGatewayTimeout)
			json.NewEncoder(w).Encode(map[string]string{
				"error":      "request timeout",
				"request_id": logger.RequestID(ctx),
			})
		})
	}
}

// guardedWriter lets exactly one of the handler and the timeout own the
// response.
type guardedWriter struct {
	http.ResponseWriter
	mu      sync.Mutex
	started bool
	expired bool
}

// expire claims the response for the timeout. It reports false when the
// handler already started writing.
func (gw *guardedWriter) expire() bool {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if gw.started {
		return false
	}
	gw.expired = true
	return true
}

func (gw *guardedWriter) WriteHeader(code int) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if gw.expired {
		return
	}
	gw.started = true
	gw.ResponseWriter.WriteHeader(code)
}

func (gw *guardedWriter) Write(b []byte) (int, error) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if gw.expired {
		return 0, http.ErrHandlerTimeout
	}
	gw.started = true
	return gw.ResponseWriter.Write(b)
}
