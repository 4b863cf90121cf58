/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package content

import (
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/friendsincode/skuld_calendar/internal/telemetry"
)

// DefaultCacheTTL bounds how long a provider reply stays reusable. Content
// for the same description goes stale quickly once users expect variety.
const DefaultCacheTTL = 5 * time.Minute

// Cache memoizes provider replies in memory. Only successful replies are
// stored; failures must not poison later requests.
type Cache struct {
	store *gocache.Cache
}

// NewCache builds a cache whose entries expire after ttl.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{store: gocache.New(ttl, 2*ttl)}
}

// Key derives the lookup key for a description and count. Case and
// surrounding whitespace do not change the meaning of a description, so they
// do not change the key either.
func Key(description string, count int) string {
	return strings.ToLower(strings.TrimSpace(description)) + "|" + strconv.Itoa(count)
}

// Get returns a cached reply, or ok=false on a miss.
func (c *Cache) Get(description string, count int) ([]Item, bool) {
	v, found := c.store.Get(Key(description, count))
	if !found {
		telemetry.ContentCacheMissesTotal.Inc()
		return nil, false
	}
	items, ok := v.([]Item)
	if !ok {
		telemetry.ContentCacheMissesTotal.Inc()
		return nil, false
	}
	telemetry.ContentCacheHitsTotal.Inc()
	return append([]Item(nil), items...), true
}

// Put stores a provider reply. The slice is copied so later mutation by the
// caller cannot corrupt the cached value.
func (c *Cache) Put(description string, count int, items []Item) {
	c.store.Set(Key(description, count), append([]Item(nil), items...), gocache.DefaultExpiration)
}
