/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based caching layer for frequently read data.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Default TTL values for different cache types
const (
	DefaultFillTTL         = 5 * time.Minute
	DefaultHistoryTTL      = 1 * time.Minute
	DefaultEventListTTL    = 1 * time.Minute
	DefaultScheduleListTTL = 5 * time.Minute
)

// Key prefixes for Redis cache
const (
	KeyFillHistory  = "skuld:cache:fills"
	KeyFill         = "skuld:cache:fill:"   // + request_id
	KeyEventList    = "skuld:cache:events:" // + tag
	KeyScheduleList = "skuld:cache:schedules"
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// TTL overrides
	FillTTL         time.Duration
	HistoryTTL      time.Duration
	EventListTTL    time.Duration
	ScheduleListTTL time.Duration

	// Fallback behavior
	DisableOnError bool // If true, disable caching on Redis errors
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:       "localhost:6379",
		FillTTL:         DefaultFillTTL,
		HistoryTTL:      DefaultHistoryTTL,
		EventListTTL:    DefaultEventListTTL,
		ScheduleListTTL: DefaultScheduleListTTL,
		DisableOnError:  true,
	}
}

// Cache provides Redis-backed caching with graceful fallback. Every getter
// treats an unavailable Redis as a miss, so callers never need to care
// whether the cache is up.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // Circuit breaker state
}

// New creates a new cache instance.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		return &Cache{
			logger:   logger.With().Str("component", "cache").Logger(),
			config:   cfg,
			disabled: true,
		}, nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")

	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

// Ping verifies Redis connectivity. A successful ping re-enables a cache
// the circuit breaker disabled, so a Redis outage heals without a restart.
func (c *Cache) Ping(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("cache not configured")
	}
	if err := c.client.Ping(ctx).Err(); err != nil {
		c.handleError(err, "ping")
		return err
	}

	c.mu.Lock()
	if c.disabled {
		c.logger.Info().Msg("Redis reachable again, re-enabling cache")
	}
	c.disabled = false
	c.mu.Unlock()
	return nil
}

// handleError handles Redis errors with circuit breaker logic.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || err == redis.Nil {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

// get retrieves a value from cache and unmarshals it.
func (c *Cache) get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false, nil
	}

	return true, nil
}

// set stores a value in cache with TTL.
func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}

	return nil
}

// delete removes a key from cache.
func (c *Cache) delete(ctx context.Context, key string) error {
	if !c.IsAvailable() {
		return nil
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}

	return nil
}

// deletePattern deletes all keys matching a pattern using SCAN.
func (c *Cache) deletePattern(ctx context.Context, pattern string) error {
	if !c.IsAvailable() {
		return nil
	}

	var cursor uint64
	for {
		keys, nextCursor, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.handleError(err, "scan")
			return err
		}

		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.handleError(err, "delete_batch")
				return err
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return nil
}

// Fill request caching

// CachedFillSummary is the fill history row kept in cache.
type CachedFillSummary struct {
	ID              string    `json:"id"`
	Description     string    `json:"description"`
	State           string    `json:"state"`
	RequestedCount  int       `json:"requested_count"`
	SuccessfulCount int       `json:"successful_count"`
	FailedCount     int       `json:"failed_count"`
	CreatedAt       time.Time `json:"created_at"`
}

// CachedFillDetail is a fill request with its events, kept in cache.
type CachedFillDetail struct {
	Summary CachedFillSummary `json:"summary"`
	Events  []CachedEvent     `json:"events"`
}

// CachedEvent is a calendar event kept in cache. The same shape serves
// store listings (timezone and tag set) and fill outcomes (status and
// error set).
type CachedEvent struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	Timezone    string    `json:"timezone,omitempty"`
	Tag         string    `json:"tag,omitempty"`
	Status      string    `json:"status,omitempty"`
	Error       string    `json:"error,omitempty"`
	Placeholder bool      `json:"placeholder,omitempty"`
}

// GetFillHistory retrieves the cached fill history list.
func (c *Cache) GetFillHistory(ctx context.Context) ([]CachedFillSummary, bool) {
	var fills []CachedFillSummary
	found, err := c.get(ctx, KeyFillHistory, &fills)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Int("count", len(fills)).Msg("fill history cache hit")
	return fills, true
}

// SetFillHistory caches the fill history list.
func (c *Cache) SetFillHistory(ctx context.Context, fills []CachedFillSummary) error {
	return c.set(ctx, KeyFillHistory, fills, c.config.HistoryTTL)
}

// InvalidateFillHistory removes the fill history list from cache.
func (c *Cache) InvalidateFillHistory(ctx context.Context) error {
	return c.delete(ctx, KeyFillHistory)
}

// GetFill retrieves a cached fill request with its events.
func (c *Cache) GetFill(ctx context.Context, requestID string) (*CachedFillDetail, bool) {
	var detail CachedFillDetail
	found, err := c.get(ctx, KeyFill+requestID, &detail)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Str("request_id", requestID).Msg("fill detail cache hit")
	return &detail, true
}

// SetFill caches a fill request with its events.
func (c *Cache) SetFill(ctx context.Context, detail *CachedFillDetail) error {
	return c.set(ctx, KeyFill+detail.Summary.ID, detail, c.config.FillTTL)
}

// InvalidateFill removes one fill request and the history list from cache.
func (c *Cache) InvalidateFill(ctx context.Context, requestID string) error {
	if err := c.delete(ctx, KeyFill+requestID); err != nil {
		return err
	}
	return c.InvalidateFillHistory(ctx)
}

// Calendar event caching

// GetEventList retrieves cached calendar events for a tag.
func (c *Cache) GetEventList(ctx context.Context, tag string) ([]CachedEvent, bool) {
	var eventList []CachedEvent
	found, err := c.get(ctx, KeyEventList+tag, &eventList)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Str("tag", tag).Int("count", len(eventList)).Msg("event list cache hit")
	return eventList, true
}

// SetEventList caches calendar events for a tag.
func (c *Cache) SetEventList(ctx context.Context, tag string, eventList []CachedEvent) error {
	return c.set(ctx, KeyEventList+tag, eventList, c.config.EventListTTL)
}

// InvalidateEventList removes the event list for a tag from cache.
func (c *Cache) InvalidateEventList(ctx context.Context, tag string) error {
	return c.delete(ctx, KeyEventList+tag)
}

// Schedule caching

// CachedSchedule is a recurring fill schedule kept in cache.
type CachedSchedule struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	CronExpr    string     `json:"cron_expr"`
	Description string     `json:"description"`
	Count       int        `json:"count"`
	DaysAhead   int        `json:"days_ahead"`
	Enabled     bool       `json:"enabled"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
}

// GetScheduleList retrieves the cached schedule list.
func (c *Cache) GetScheduleList(ctx context.Context) ([]CachedSchedule, bool) {
	var schedules []CachedSchedule
	found, err := c.get(ctx, KeyScheduleList, &schedules)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Int("count", len(schedules)).Msg("schedule list cache hit")
	return schedules, true
}

// SetScheduleList caches the schedule list.
func (c *Cache) SetScheduleList(ctx context.Context, schedules []CachedSchedule) error {
	return c.set(ctx, KeyScheduleList, schedules, c.config.ScheduleListTTL)
}

// InvalidateScheduleList removes the schedule list from cache.
func (c *Cache) InvalidateScheduleList(ctx context.Context) error {
	return c.delete(ctx, KeyScheduleList)
}

// FlushAll removes all cached data (use sparingly).
func (c *Cache) FlushAll(ctx context.Context) error {
	c.logger.Warn().Msg("flushing all cache data")
	return c.deletePattern(ctx, "skuld:cache:*")
}
