package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned while the breaker rejects calls.
var ErrBreakerOpen = errors.New("breaker is open")

// Breaker rejects calls for Cooldown after Threshold consecutive failures,
// then lets a single trial call through. A successful trial closes it again.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	logger    *slog.Logger

	mu       sync.Mutex
	failures int
	openedAt time.Time
	trialing bool
}

func NewBreaker(name string, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 10 * time.Second
	}
	return &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		logger:    slog.Default().With("component", "breaker", "name", name),
	}
}

// Do runs fn unless the breaker is open. Permanent errors do not count as
// failures of the remote side.
func (b *Breaker) Do(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	var perm *permanentError
	b.record(err == nil || errors.As(err, &perm))
	return err
}

// Open reports whether calls are currently being rejected.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures >= b.threshold && time.Since(b.openedAt) < b.cooldown
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures < b.threshold {
		return nil
	}
	if wait := b.cooldown - time.Since(b.openedAt); wait > 0 {
		return fmt.Errorf("%w: %s (retry in %v)", ErrBreakerOpen, b.name, wait.Round(time.Millisecond))
	}
	if b.trialing {
		return fmt.Errorf("%w: %s (trial in flight)", ErrBreakerOpen, b.name)
	}
	b.trialing = true
	return nil
}

func (b *Breaker) record(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	wasOpen := b.failures >= b.threshold
	b.trialing = false
	if ok {
		if wasOpen {
			b.logger.Info("breaker closed")
		}
		b.failures = 0
		return
	}
	b.failures++
	if b.failures >= b.threshold {
		b.openedAt = time.Now()
		if !wasOpen {
			b.logger.Warn("breaker opened", "consecutive_failures", b.failures)
		}
	}
}
