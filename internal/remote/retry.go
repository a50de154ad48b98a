package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/TheMichaelB/dvcsync/internal/events"
	"github.com/TheMichaelB/dvcsync/internal/models"
)

// Retrier runs provider calls with exponential backoff.
type Retrier struct {
	maxRetries int
	retryDelay time.Duration
	logger     *events.Logger
}

// NewRetrier creates a retrier making at most maxRetries extra attempts.
func NewRetrier(maxRetries int, retryDelay time.Duration, logger *events.Logger) *Retrier {
	return &Retrier{
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// Do executes fn until it succeeds, fails permanently, or runs out of
// attempts.
func (r *Retrier) Do(ctx context.Context, fn func() error) error {
	var lastErr error
	delay := r.retryDelay

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			r.logger.WithFields(map[string]interface{}{
				"attempt": attempt,
				"delay":   delay,
			}).Debug("Retrying request")

			select {
			case <-time.After(delay):
				delay *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if !isRetryableError(err) {
			return err
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// isRetryableError treats missing objects, configuration problems and
// cancellation as permanent.
func isRetryableError(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case models.IsNotFound(err), models.IsConfigError(err):
		return false
	default:
		return true
	}
}
