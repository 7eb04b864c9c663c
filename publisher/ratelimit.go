package publisher

import (
	"context"

	"go.uber.org/ratelimit"
)

type RateLimiter struct {
	rl        ratelimit.Limiter
	unlimited bool
}

// NewRateLimiter returns a limiter allowing perSecond appends per second, or an unlimited one when perSecond is 0
func NewRateLimiter(perSecond int) *RateLimiter {
	if perSecond <= 0 {
		return &RateLimiter{rl: ratelimit.NewUnlimited(), unlimited: true}
	}
	return &RateLimiter{rl: ratelimit.New(perSecond)}
}

// Wait blocks until the rate limit allows the next append or ctx is done.
// The slot of an interrupted wait is still taken in the background.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.unlimited {
		return nil
	}

	taken := make(chan struct{})
	go func() {
		r.rl.Take()
		close(taken)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-taken:
		return nil
	}
}
