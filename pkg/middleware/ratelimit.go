package middleware

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/logger"
)

// ClientKeyHeader identifies a client for rate limiting. Requests without
// it are limited by remote address.
const ClientKeyHeader = "X-Client-Key"

const maxTrackedClients = 10000

// RateLimiter hands out one token bucket per client. The least recently
// seen clients are forgotten once maxTrackedClients is reached.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	clients *lru.Cache[string, *rate.Limiter]
}

// NewRateLimiter allows perSecond sustained requests per client with
// bursts of burst. It returns nil when perSecond is not positive.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = int(math.Ceil(perSecond))
	}
	clients, _ := lru.New[string, *rate.Limiter](maxTrackedClients)
	return &RateLimiter{limit: rate.Limit(perSecond), burst: burst, clients: clients}
}

func (rl *RateLimiter) limiter(client string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if l, ok := rl.clients.Get(client); ok {
		return l
	}
	l := rate.NewLimiter(rl.limit, rl.burst)
	rl.clients.Add(client, l)
	return l
}

// Allow consumes a token for client.
func (rl *RateLimiter) Allow(client string) bool {
	return rl.limiter(client).Allow()
}

// Middleware answers 429 once a client's bucket is empty. A nil limiter
// lets everything through.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientKey(r)
		if rl.Allow(client) {
			next.ServeHTTP(w, r)
			return
		}
		logger.FromContext(r.Context()).Warn("rate limit exceeded", "client", client, "route", Route(r.URL.Path))
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(1/float64(rl.limit)))))
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
	})
}

func clientKey(r *http.Request) string {
	if key := r.Header.Get(ClientKeyHeader); key != "" {
		return "key:" + key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}
