package llm

import (
	"context"

	"post_worker/core/port/out"
	"post_worker/pkg/apperr"
)

// Waiter blocks until a call for key may proceed.
type Waiter interface {
	Wait(ctx context.Context, key string) error
}

// ThrottledGenerator paces generation calls through a shared limiter so
// several workers on one API key stay under the provider quota.
type ThrottledGenerator struct {
	next    out.TextGenerator
	limiter Waiter
	key     string
}

func NewThrottledGenerator(next out.TextGenerator, limiter Waiter, key string) *ThrottledGenerator {
	return &ThrottledGenerator{next: next, limiter: limiter, key: key}
}

func (g *ThrottledGenerator) Generate(ctx context.Context, req out.GenerationRequest) (string, error) {
	if err := g.limiter.Wait(ctx, g.key); err != nil {
		return "", apperr.TransportError(serviceName, err)
	}
	return g.next.Generate(ctx, req)
}
