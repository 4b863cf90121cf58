/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package content

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/friendsincode/skuld_calendar/internal/telemetry"
)

// Source names where a resolved item set came from.
type Source string

const (
	SourceCache    Source = "cache"
	SourceProvider Source = "provider"
	SourceFallback Source = "fallback"
	// SourceMixed means the provider under-delivered and the fallback
	// topped the set up to the requested count.
	SourceMixed Source = "mixed"
)

// Resolver turns a description into exactly count items. Lookup order is
// cache, then provider, then local fallback; an under-delivering provider is
// topped up rather than retried, since a short reply is still useful work.
type Resolver struct {
	cache    *Cache
	provider Provider
	fallback *Generator
	group    singleflight.Group
	logger   zerolog.Logger
}

// NewResolver assembles the resolution chain. provider may be nil when no
// endpoint is configured, in which case everything comes from the fallback.
func NewResolver(cache *Cache, provider Provider, fallback *Generator, logger zerolog.Logger) *Resolver {
	return &Resolver{
		cache:    cache,
		provider: provider,
		fallback: fallback,
		logger:   logger.With().Str("component", "content_resolver").Logger(),
	}
}

// Resolve returns exactly count items and the source they came from. It
// never fails: when the provider chain is exhausted the fallback generator
// serves, and the fallback always produces.
func (r *Resolver) Resolve(ctx context.Context, description string, count int) ([]Item, Source) {
	if count <= 0 {
		return nil, SourceFallback
	}

	if items, ok := r.cache.Get(description, count); ok {
		if len(items) >= count {
			return items[:count], SourceCache
		}
		// A short cached reply still saves the provider round trip.
		return r.topUp(items, description, count), SourceMixed
	}

	if r.provider == nil {
		telemetry.ProviderFallbacksTotal.Inc()
		return r.fallback.Generate(description, count), SourceFallback
	}

	// Concurrent identical requests collapse into one provider call; the
	// losers share the winner's reply.
	v, err, _ := r.group.Do(Key(description, count), func() (any, error) {
		items, obtainErr := r.provider.Obtain(ctx, description, count)
		if obtainErr != nil {
			return nil, obtainErr
		}
		// Cache what the provider actually sent, even when short. Failures
		// are never cached.
		r.cache.Put(description, count, items)
		return items, nil
	})
	if err != nil {
		r.logger.Warn().
			Err(err).
			Str("description", description).
			Int("count", count).
			Msg("provider exhausted, serving fallback content")
		telemetry.ProviderFallbacksTotal.Inc()
		return r.fallback.Generate(description, count), SourceFallback
	}

	items := v.([]Item)
	if len(items) >= count {
		return append([]Item(nil), items[:count]...), SourceProvider
	}
	return r.topUp(items, description, count), SourceMixed
}

// topUp extends a short item set to count using the fallback generator.
func (r *Resolver) topUp(items []Item, description string, count int) []Item {
	short := count - len(items)
	r.logger.Debug().
		Int("have", len(items)).
		Int("need", count).
		Msg("topping up under-delivered content")
	out := make([]Item, 0, count)
	out = append(out, items...)
	out = append(out, r.fallback.Generate(description, short)...)
	return out
}
