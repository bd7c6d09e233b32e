package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestRetryEventuallySucceeds(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "op", RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}, func() error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnPermanent(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "op", RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond}, func() error {
		calls++
		return Permanent(errBoom)
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, calls)
}

func TestRetryExhausted(t *testing.T) {
	err := Retry(context.Background(), "op", RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond}, func() error {
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)
}

func TestBreakerOpensAndRecovers(t *testing.T) {
	b := NewBreaker("remote", 2, 20*time.Millisecond)
	fail := func() error { return errBoom }

	assert.ErrorIs(t, b.Do(fail), errBoom)
	assert.ErrorIs(t, b.Do(fail), errBoom)
	assert.True(t, b.Open())
	assert.ErrorIs(t, b.Do(func() error { return nil }), ErrBreakerOpen)

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, b.Do(func() error { return nil }))
	assert.False(t, b.Open())
}

func TestBreakerIgnoresPermanent(t *testing.T) {
	b := NewBreaker("remote", 1, time.Minute)
	_ = b.Do(func() error { return Permanent(errBoom) })
	assert.False(t, b.Open())
}
