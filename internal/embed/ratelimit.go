package embed

import (
	"context"

	"golang.org/x/time/rate"

	rerrors "github.com/Aman-CERP/amanrecall/internal/errors"
)

// RateLimitedEmbedder throttles provider calls client-side so hosted
// providers see a steady request rate instead of 429s.
type RateLimitedEmbedder struct {
	inner   Embedder
	limiter *rate.Limiter
}

var _ Embedder = (*RateLimitedEmbedder)(nil)

// NewRateLimitedEmbedder allows rps requests per second with the given
// burst. rps <= 0 returns inner unchanged.
func NewRateLimitedEmbedder(inner Embedder, rps float64, burst int) Embedder {
	if rps <= 0 {
		return inner
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedEmbedder{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (r *RateLimitedEmbedder) wait(ctx context.Context) error {
	if err := r.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Wait fails early when the deadline is shorter than the queue.
		return rerrors.New(rerrors.ErrCodeRateLimited, "embedding rate limit would exceed deadline", err)
	}
	return nil
}

// Embed waits for a token, then embeds.
func (r *RateLimitedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Embed(ctx, text)
}

// EmbedBatch waits for a single token per batch call.
func (r *RateLimitedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.EmbedBatch(ctx, texts)
}

// Dimensions returns the embedding dimension (passthrough to inner).
func (r *RateLimitedEmbedder) Dimensions() int {
	return r.inner.Dimensions()
}

// ModelName returns the model identifier (passthrough to inner).
func (r *RateLimitedEmbedder) ModelName() string {
	return r.inner.ModelName()
}

// Close closes the inner embedder.
func (r *RateLimitedEmbedder) Close() error {
	return r.inner.Close()
}
