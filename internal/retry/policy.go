package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"

	"bluefinAgent/internal/ports"
)

// Policy is an explicit, testable retry policy for exchange calls: bounded
// attempts, exponential backoff with jitter, a total time budget, and a
// predicate deciding which errors are worth retrying.
type Policy struct {
	MaxAttempts int
	Budget      time.Duration
	MinDelay    time.Duration
	MaxDelay    time.Duration
	Retryable   func(error) bool
	Logger      ports.Logger
}

// Default returns the policy used for exchange connectivity: 3 attempts
// within a 30 second budget, retrying only transport-level failures.
func Default(log ports.Logger) Policy {
	return Policy{
		MaxAttempts: 3,
		Budget:      30 * time.Second,
		MinDelay:    500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Retryable:   IsTransient,
		Logger:      log,
	}
}

// IsTransient reports whether the error is a connectivity failure that a
// retry might cure. Auth errors, validation errors and order rejections are
// permanent.
func IsTransient(err error) bool {
	switch {
	case errors.Is(err, ports.ErrTimeout),
		errors.Is(err, ports.ErrConnectionFailed),
		errors.Is(err, ports.ErrExchangeUnavailable),
		errors.Is(err, ports.ErrRateLimited):
		return true
	}
	return false
}

// Do runs fn until it succeeds, the attempts are exhausted, the budget is
// spent, or a non-retryable error occurs. The last error is returned wrapped
// with the operation name.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	// Fresh backoff state per invocation; the policy itself stays immutable.
	b := &backoff.Backoff{
		Min:    p.MinDelay,
		Max:    p.MaxDelay,
		Factor: 2,
		Jitter: true,
	}

	deadline := time.Time{}
	if p.Budget > 0 {
		deadline = time.Now().Add(p.Budget)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", op, ports.ErrContextCanceled)
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return fmt.Errorf("%s: %w", op, lastErr)
		}
		if attempt == attempts {
			break
		}

		delay := b.Duration()
		if !deadline.IsZero() && time.Now().Add(delay).After(deadline) {
			if p.Logger != nil {
				p.Logger.Warn(ctx, op+": retry budget exhausted", map[string]interface{}{"attempt": attempt})
			}
			break
		}
		if p.Logger != nil {
			p.Logger.Warn(ctx, op+": transient failure, retrying", map[string]interface{}{
				"attempt": attempt,
				"delay":   delay.String(),
				"error":   lastErr.Error(),
			})
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ports.ErrContextCanceled)
		}
	}

	return fmt.Errorf("%s: attempts exhausted: %w", op, lastErr)
}
