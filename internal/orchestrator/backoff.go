package orchestrator

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"time"
)

// ExponentialBackoff computes jittered delays between job attempts.
// A zero base delay disables waiting.
type ExponentialBackoff struct {
	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewExponentialBackoff builds a backoff; maxDelay below baseDelay is raised to it.
func NewExponentialBackoff(baseDelay, maxDelay time.Duration) *ExponentialBackoff {
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	return &ExponentialBackoff{baseDelay: baseDelay, maxDelay: maxDelay}
}

// Backoff returns the wait after the given failed attempt (1-based).
func (b *ExponentialBackoff) Backoff(attempt int) time.Duration {
	if b == nil || b.baseDelay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(b.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(b.maxDelay) {
		delay = float64(b.maxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

// Wait sleeps for Backoff(attempt) or until ctx is done.
func (b *ExponentialBackoff) Wait(ctx context.Context, attempt int) error {
	delay := b.Backoff(attempt)
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff wait: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
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
