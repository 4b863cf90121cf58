/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package content

import (
	"context"
	"fmt"
	"time"
)

// ErrorKind classifies provider failures. The kind decides whether a retry
// can help: rate limits, timeouts and transient upstream trouble are worth
// another attempt, a malformed reply is not.
type ErrorKind string

const (
	KindRateLimited ErrorKind = "rate_limited"
	KindTimeout     ErrorKind = "timeout"
	KindTransient   ErrorKind = "transient"
	KindMalformed   ErrorKind = "malformed"
	KindOther       ErrorKind = "other"
)

// Error wraps a provider failure with its classification.
type Error struct {
	Kind ErrorKind
	Err  error

	// RetryAfter carries the server's Retry-After hint on a rate limit;
	// zero means none was given.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("content provider: %s", e.Kind)
	}
	return fmt.Sprintf("content provider: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether another attempt against the provider could
// plausibly succeed.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindTimeout, KindTransient:
		return true
	default:
		return false
	}
}

func newError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Provider produces count items for a free-form description. Implementations
// must return either exactly the items they could produce or a classified
// error, never both.
type Provider interface {
	Obtain(ctx context.Context, description string, count int) ([]Item, error)
}
