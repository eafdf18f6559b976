// Package ratelimit paces topic visits so consecutive fetches are at least a
// minimum gap apart.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/topicstreams/internal/metrics"
)

// Limiter is a single-token bucket refilled once per gap.
type Limiter struct {
	limiter *rate.Limiter
}

// New returns a Limiter enforcing minGap between Wait returns. A
// non-positive gap yields nil, which the scheduler treats as "no pacing".
func New(minGap time.Duration) *Limiter {
	if minGap <= 0 {
		return nil
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Every(minGap), 1)}
}

// Wait blocks until the next visit may start or ctx ends. A nil Limiter
// never blocks.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pacer wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObservePacerDelay(waited)
	}
	return nil
}
