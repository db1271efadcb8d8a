package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry behavior.
var (
	wnRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wn_retries_total",
		Help: "Total number of retry attempts by operation",
	}, []string{"operation"})

	wnRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wn_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by operation",
	}, []string{"operation"})
)

// retry executes fn up to cfg.MaxRetries times with a fixed delay
// between attempts. The delay is constant: no exponential backoff, no
// jitter. Only errors marked retryable are attempted again; the last
// error is returned once attempts are exhausted.
//
// A 401/403 (errStaleToken) triggers exactly one token refresh and an
// immediate re-issue that consumes no retry attempt and sleeps no
// delay. A second rejection within the same call is terminal.
func (c *Client) retry(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	refreshed := false

	for attempt := 1; attempt <= c.config.MaxRetries; {
		err := fn()
		if err == nil {
			if attempt > 1 {
				c.logger.Info().
					Str("operation", operation).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if errors.Is(err, errStaleToken) {
			if refreshed {
				return err
			}
			refreshed = true
			c.invalidateToken()
			c.logger.Warn().
				Str("operation", operation).
				Msg("Bearer token rejected, forcing refresh")
			continue
		}

		if !isRetryable(err) {
			return err
		}

		if attempt >= c.config.MaxRetries {
			break
		}

		wnRetriesTotal.WithLabelValues(operation).Inc()
		c.logger.Info().
			Str("operation", operation).
			Int("attempt", attempt).
			Dur("delay", c.config.RetryDelay).
			Err(err).
			Msg("Retrying after delay")

		select {
		case <-ctx.Done():
			c.logger.Warn().
				Str("operation", operation).
				Int("attempt", attempt).
				Msg("Context cancelled during retry delay")
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case <-time.After(c.config.RetryDelay):
		}
		attempt++
	}

	wnRetryExhaustedTotal.WithLabelValues(operation).Inc()
	c.logger.Warn().
		Str("operation", operation).
		Int("max_retries", c.config.MaxRetries).
		Err(lastErr).
		Msg("Retry attempts exhausted")

	return lastErr
}
