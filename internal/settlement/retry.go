package settlement

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/obsidianex/darkpool/pkg/metrics"
)

// RetryPolicy bounds retries against the external service
type RetryPolicy struct {
	MaxRetries     int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	AttemptTimeout time.Duration
}

// callWithRetry executes op with the breaker and retry policy applied. Each
// attempt races the external call against the attempt timeout. Only
// retryable categories consume retry budget; a rejected (open) breaker fails
// immediately with a service_unavailable classification.
func (c *Client) callWithRetry(ctx context.Context, name string, op func(ctx context.Context) error) error {
	delay := c.retry.InitialDelay

	for attempt := 0; ; attempt++ {
		if !c.breaker.Allow() {
			return &ClassifiedError{Category: CategoryServiceUnavailable, Err: ErrCircuitOpen}
		}

		attemptCtx := ctx
		cancel := func() {}
		if c.retry.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, c.retry.AttemptTimeout)
		}
		err := op(attemptCtx)
		cancel()

		if err == nil {
			c.breaker.RecordSuccess()
			return nil
		}
		c.breaker.RecordFailure()

		classified := Classify(err)
		if !classified.Category.Retryable() || attempt >= c.retry.MaxRetries {
			return classified
		}

		metrics.SettlementRetries.Inc()
		c.logger.Warn("retrying settlement call",
			zap.String("call", name),
			zap.Int("attempt", attempt+1),
			zap.String("category", string(classified.Category)),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Classify(ctx.Err())
		}

		delay = time.Duration(float64(delay) * c.retry.Multiplier)
		if delay > c.retry.MaxDelay {
			delay = c.retry.MaxDelay
		}
	}
}
