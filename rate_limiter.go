package nettools

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket Stage. Every attempt, retries included,
// consumes one token; an attempt waits until a token is available.
type RateLimiter struct {
	limiter    *rate.Limiter
	maxTokens  int
	refillRate time.Duration
}

// NewRateLimiter creates a bucket holding up to maxTokens that regains one
// token every refillRate.
func NewRateLimiter(maxTokens int, refillRate time.Duration) *RateLimiter {
	limit := rate.Inf
	if refillRate > 0 {
		limit = rate.Every(refillRate)
	}
	return &RateLimiter{
		limiter:    rate.NewLimiter(limit, maxTokens),
		maxTokens:  maxTokens,
		refillRate: refillRate,
	}
}

// Allow consumes a token without waiting and reports whether one was available.
func (rl *RateLimiter) Allow() bool {
	return rl.limiter.Allow()
}

// Tokens reports the number of tokens currently available.
func (rl *RateLimiter) Tokens() float64 {
	return rl.limiter.Tokens()
}

// Name implements Stage.
func (rl *RateLimiter) Name() string {
	return "rate-limit"
}

// Wrap implements Stage. A context that ends, or whose deadline cannot be
// met, before a token frees up fails the attempt without sending it.
func (rl *RateLimiter) Wrap(next Sender) Sender {
	return SenderFunc(func(ctx context.Context, req *Request) (*Response, error) {
		if err := rl.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		return next.Send(ctx, req)
	})
}

func (rl *RateLimiter) validate() []string {
	var problems []string
	if rl.maxTokens <= 0 {
		problems = append(problems, "rate limiter maxTokens must be positive")
	}
	if rl.refillRate <= 0 {
		problems = append(problems, "rate limiter refillRate must be positive")
	}
	return problems
}
