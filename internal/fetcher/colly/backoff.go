package collyfetcher

import (
	"context"
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// Backoff decides how long to wait before retry number attempt (1-based).
type Backoff interface {
	Delay(attempt int) time.Duration
}

// ImmediateRetry retries without any delay or jitter.
type ImmediateRetry struct{}

// Delay always returns zero.
func (ImmediateRetry) Delay(int) time.Duration { return 0 }

// ExponentialBackoff doubles the delay per retry, capped at max, with jitter.
type ExponentialBackoff struct {
	base time.Duration
	max  time.Duration
}

// NewExponentialBackoff builds a jittered exponential backoff.
func NewExponentialBackoff(base, maxDelay time.Duration) *ExponentialBackoff {
	if maxDelay < base {
		maxDelay = base
	}
	return &ExponentialBackoff{base: base, max: maxDelay}
}

// Delay returns a value in [d/2, d) where d = base * 2^(attempt-1), capped at max.
func (b *ExponentialBackoff) Delay(attempt int) time.Duration {
	if b.base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(b.base) * math.Pow(2, float64(attempt-1))
	if delay > float64(b.max) {
		delay = float64(b.max)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

func sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
