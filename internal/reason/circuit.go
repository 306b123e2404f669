package reason

import (
	"context"
	stderrors "errors"

	rerrors "github.com/Aman-CERP/amanrecall/internal/errors"
)

// CircuitReasoner stops calling a failing provider for a while, so a
// provider outage costs one timeout per search instead of one per round.
type CircuitReasoner struct {
	inner   Reasoner
	breaker *rerrors.CircuitBreaker
}

var _ Reasoner = (*CircuitReasoner)(nil)

// NewCircuitReasoner wraps inner with breaker.
func NewCircuitReasoner(inner Reasoner, breaker *rerrors.CircuitBreaker) *CircuitReasoner {
	return &CircuitReasoner{inner: inner, breaker: breaker}
}

// Complete runs inner.Complete through the breaker. Caller cancellation
// does not count as a provider failure.
func (c *CircuitReasoner) Complete(ctx context.Context, req Request) (string, error) {
	var cancelled error
	out, err := rerrors.CircuitExecute(c.breaker, func() (string, error) {
		s, err := c.inner.Complete(ctx, req)
		if err != nil && stderrors.Is(err, context.Canceled) {
			cancelled = err
			return s, nil
		}
		return s, err
	})
	if cancelled != nil {
		return "", cancelled
	}
	return out, err
}

// ModelName returns the wrapped model identifier.
func (c *CircuitReasoner) ModelName() string {
	return c.inner.ModelName()
}

// Breaker exposes the breaker for status reporting.
func (c *CircuitReasoner) Breaker() *rerrors.CircuitBreaker {
	return c.breaker
}
