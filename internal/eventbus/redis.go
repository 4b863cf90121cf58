/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/skuld_calendar/internal/events"
)

const redisChannelPrefix = "skuld:events:"

// RedisBus bridges the in-process event bus over Redis pub/sub. Used when
// NATS is not configured but a Redis instance is already present for the
// entity cache. Local delivery always goes through the embedded in-memory
// bus; Redis only adds the cross-instance leg.
type RedisBus struct {
	local  *events.Bus
	client *redis.Client
	pubsub *redis.PubSub
	logger zerolog.Logger
	nodeID string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Circuit breaker state. After maxFails consecutive publish failures
	// the remote leg is suspended and retried on an interval.
	mu        sync.Mutex
	suspended bool
	failCount int
	maxFails  int
	retryWait time.Duration
}

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Circuit breaker
	MaxFailures   int
	CheckInterval time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		PoolSize:      10,
		MinIdleConns:  2,
		DialTimeout:   5 * time.Second,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
		MaxFailures:   5,
		CheckInterval: 30 * time.Second,
	}
}

// NewRedisBus connects to Redis and starts forwarding remote events into
// the local bus. An unreachable Redis degrades to local-only delivery.
func NewRedisBus(cfg RedisConfig, nodeID string, logger zerolog.Logger) *RedisBus {
	ctx, cancel := context.WithCancel(context.Background())

	rb := &RedisBus{
		local:     events.NewBus(),
		logger:    logger,
		nodeID:    nodeID,
		ctx:       ctx,
		cancel:    cancel,
		maxFails:  cfg.MaxFailures,
		retryWait: cfg.CheckInterval,
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.Addr).Msg("Redis connection failed, continuing with in-memory event bus")
		_ = client.Close()
		return rb
	}

	rb.client = client
	rb.pubsub = client.PSubscribe(ctx, redisChannelPrefix+"*")

	rb.wg.Add(2)
	go rb.receiveLoop()
	go rb.retryLoop()

	logger.Info().Str("addr", cfg.Addr).Str("node_id", nodeID).Msg("Redis event bridge initialized")

	return rb
}

// receiveLoop forwards events from other instances into the local bus.
func (rb *RedisBus) receiveLoop() {
	defer rb.wg.Done()

	ch := rb.pubsub.Channel()

	for {
		select {
		case <-rb.ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				rb.logger.Warn().Msg("Redis pub/sub channel closed")
				return
			}

			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				rb.logger.Error().Err(err).Str("channel", msg.Channel).Msg("failed to unmarshal Redis event")
				continue
			}

			if env.NodeID == rb.nodeID {
				continue
			}

			eventType := env.EventType
			if eventType == "" {
				eventType = events.EventType(strings.TrimPrefix(msg.Channel, redisChannelPrefix))
			}

			rb.local.Publish(eventType, env.Payload)
		}
	}
}

// retryLoop re-enables the remote leg after the circuit breaker trips.
func (rb *RedisBus) retryLoop() {
	defer rb.wg.Done()

	ticker := time.NewTicker(rb.retryWait)
	defer ticker.Stop()

	for {
		select {
		case <-rb.ctx.Done():
			return

		case <-ticker.C:
			rb.mu.Lock()
			suspended := rb.suspended
			rb.mu.Unlock()
			if !suspended {
				continue
			}

			pingCtx, cancel := context.WithTimeout(rb.ctx, 5*time.Second)
			err := rb.client.Ping(pingCtx).Err()
			cancel()
			if err != nil {
				continue
			}

			rb.mu.Lock()
			rb.suspended = false
			rb.failCount = 0
			rb.mu.Unlock()
			rb.logger.Info().Msg("Redis reachable again, resuming cross-instance events")
		}
	}
}

// Subscribe registers a subscriber for an event type.
func (rb *RedisBus) Subscribe(eventType events.EventType) events.Subscriber {
	return rb.local.Subscribe(eventType)
}

// SubscribeMany registers one subscriber channel for several event types.
func (rb *RedisBus) SubscribeMany(eventTypes ...events.EventType) events.Subscriber {
	return rb.local.SubscribeMany(eventTypes...)
}

// Publish delivers locally, then mirrors the event to other instances.
func (rb *RedisBus) Publish(eventType events.EventType, payload events.Payload) {
	rb.local.Publish(eventType, payload)

	if rb.client == nil {
		return
	}

	rb.mu.Lock()
	suspended := rb.suspended
	rb.mu.Unlock()
	if suspended {
		return
	}

	data, err := json.Marshal(envelope{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    rb.nodeID,
		MessageID: uuid.NewString(),
	})
	if err != nil {
		rb.logger.Error().Err(err).Msg("failed to marshal Redis event")
		return
	}

	ctx, cancel := context.WithTimeout(rb.ctx, 2*time.Second)
	defer cancel()

	if err := rb.client.Publish(ctx, redisChannelPrefix+string(eventType), data).Err(); err != nil {
		rb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to publish to Redis")
		rb.recordFailure()
		return
	}

	rb.mu.Lock()
	rb.failCount = 0
	rb.mu.Unlock()
}

// Ping verifies Redis connectivity for the remote leg.
func (rb *RedisBus) Ping(ctx context.Context) error {
	if rb.client == nil {
		return fmt.Errorf("redis bridge not connected")
	}
	return rb.client.Ping(ctx).Err()
}

// Unsubscribe removes the subscriber.
func (rb *RedisBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	rb.local.Unsubscribe(eventType, sub)
}

// UnsubscribeMany removes a subscriber registered via SubscribeMany.
func (rb *RedisBus) UnsubscribeMany(sub events.Subscriber, eventTypes ...events.EventType) {
	rb.local.UnsubscribeMany(sub, eventTypes...)
}

// Close stops the receive loop and closes the Redis connection.
func (rb *RedisBus) Close() error {
	rb.cancel()

	if rb.pubsub != nil {
		if err := rb.pubsub.Close(); err != nil {
			rb.logger.Warn().Err(err).Msg("failed to close Redis pub/sub")
		}
	}

	rb.wg.Wait()

	if rb.client != nil {
		if err := rb.client.Close(); err != nil {
			return fmt.Errorf("close redis client: %w", err)
		}
	}

	return nil
}

func (rb *RedisBus) recordFailure() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.failCount++
	if rb.failCount >= rb.maxFails && !rb.suspended {
		rb.suspended = true
		rb.logger.Warn().Int("fail_count", rb.failCount).Msg("Redis failure threshold reached, suspending cross-instance events")
	}
}
