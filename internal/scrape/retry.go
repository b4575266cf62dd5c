package scrape

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// Backoff is the bounded retry-with-backoff policy shared by the page fetch
// loop and the webhook dispatcher.
type Backoff struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// NewBackoff builds a policy with sane defaults for zero-valued fields.
func NewBackoff(maxAttempts int, base, maxDelay time.Duration) Backoff {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	return Backoff{MaxAttempts: maxAttempts, BaseDelay: base, MaxDelay: maxDelay}
}

// Delay returns the jittered wait before retrying after the given attempt
// (1-based). The curve doubles each attempt and is capped at MaxDelay.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(b.BaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
