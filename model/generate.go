package model

import (
	"context"
	"errors"

	"golang.org/x/time/rate"
)

var ErrEmptyGeneration = errors.New("empty generation")

// Generator produces text from a system instruction and a prompt.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// RateLimited blocks each call until the limiter admits it.
type RateLimited struct {
	inner   Generator
	limiter *rate.Limiter
}

// NewRateLimited admits perSecond calls per second with the given burst. A
// non-positive perSecond disables limiting.
func NewRateLimited(inner Generator, perSecond float64, burst int) *RateLimited {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{inner: inner, limiter: rate.NewLimiter(limit, burst)}
}

func (r *RateLimited) Generate(ctx context.Context, system, prompt string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return r.inner.Generate(ctx, system, prompt)
}
