/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package content

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/skuld_calendar/internal/telemetry"
)

// defaultBackoff is the wait before each retry, in order.
var defaultBackoff = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// maxRetryAfterWait caps how far a server's Retry-After hint can stretch
// one backoff pause.
const maxRetryAfterWait = 30 * time.Second

// RetryingProvider wraps a Provider with a bounded retry loop. Only failures
// the provider marked retryable get another attempt; a malformed reply fails
// immediately so the caller can move on to the fallback.
type RetryingProvider struct {
	inner   Provider
	backoff []time.Duration
	logger  zerolog.Logger
}

// NewRetryingProvider wraps inner with up to len(backoff) retries. A nil
// backoff means the default 1s, 2s, 4s schedule.
func NewRetryingProvider(inner Provider, backoff []time.Duration, logger zerolog.Logger) *RetryingProvider {
	if backoff == nil {
		backoff = defaultBackoff
	}
	return &RetryingProvider{
		inner:   inner,
		backoff: backoff,
		logger:  logger.With().Str("component", "content_retry").Logger(),
	}
}

// Obtain calls the inner provider, retrying retryable failures after the
// configured backoff. A rate limit's Retry-After hint stretches the pause
// when it exceeds the scheduled delay. The loop is bounded at one initial
// attempt plus one retry per backoff entry.
func (rp *RetryingProvider) Obtain(ctx context.Context, description string, count int) ([]Item, error) {
	var lastErr error
	for attempt := 0; attempt <= len(rp.backoff); attempt++ {
		if attempt > 0 {
			delay := rp.backoff[attempt-1]
			var perr *Error
			if errors.As(lastErr, &perr) && perr.RetryAfter > delay {
				delay = min(perr.RetryAfter, maxRetryAfterWait)
			}
			rp.logger.Warn().
				Err(lastErr).
				Int("attempt", attempt).
				Dur("backoff", delay).
				Msg("retrying content provider")
			telemetry.ProviderRetriesTotal.Inc()
			select {
			case <-ctx.Done():
				return nil, newError(KindTimeout, ctx.Err())
			case <-time.After(delay):
			}
		}

		items, err := rp.inner.Obtain(ctx, description, count)
		if err == nil {
			return items, nil
		}
		lastErr = err

		var perr *Error
		if !errors.As(err, &perr) || !perr.Retryable() {
			return nil, err
		}
	}
	return nil, lastErr
}
