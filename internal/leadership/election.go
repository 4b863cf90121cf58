/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package leadership elects one scheduler leader across instances using a
// Redis lease. Followers keep campaigning and take over when the lease
// lapses.
package leadership

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/skuld_calendar/internal/telemetry"
)

const (
	defaultKey           = "skuld:leader:scheduler"
	defaultLeaseDuration = 15 * time.Second
	defaultRetryInterval = 2 * time.Second
)

// releaseScript deletes the lease only while we still own it.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

// Config sizes the election lease.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Key is the Redis key holding the lease.
	Key string

	// LeaseDuration is how long a lease lives without renewal.
	LeaseDuration time.Duration

	// RetryInterval is how often instances campaign or renew.
	RetryInterval time.Duration

	// InstanceID identifies this instance in the lease value.
	InstanceID string
}

// Election campaigns for the scheduler lease. IsLeader flips as the lease
// is won and lost; Changes delivers transitions to one listener.
type Election struct {
	client     *redis.Client
	logger     zerolog.Logger
	cfg        Config
	instanceID string

	leader   atomic.Bool
	changeCh chan bool
	cancel   context.CancelFunc
}

// New connects to Redis and prepares an election. The campaign does not
// start until Start is called.
func New(cfg Config, logger zerolog.Logger) (*Election, error) {
	if cfg.Key == "" {
		cfg.Key = defaultKey
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = defaultLeaseDuration
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis for leader election: %w", err)
	}

	return &Election{
		client:     client,
		logger:     logger.With().Str("component", "leader_election").Logger(),
		cfg:        cfg,
		instanceID: cfg.InstanceID,
		changeCh:   make(chan bool, 1),
	}, nil
}

// Start begins campaigning until ctx ends or Stop is called.
func (e *Election) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)

	e.logger.Info().
		Str("instance_id", e.instanceID).
		Dur("lease", e.cfg.LeaseDuration).
		Msg("leader election started")

	go e.campaign(ctx)
}

// Stop ends the campaign, releases a held lease, and closes the Redis
// connection.
func (e *Election) Stop() error {
	if e.cancel != nil {
		e.cancel()
	}

	if e.leader.Load() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.client.Eval(ctx, releaseScript, []string{e.cfg.Key}, e.instanceID).Err(); err != nil {
			e.logger.Error().Err(err).Msg("failed to release leader lease")
		}
	}

	return e.client.Close()
}

// IsLeader reports whether this instance currently holds the lease.
func (e *Election) IsLeader() bool { return e.leader.Load() }

// Changes delivers leadership transitions. The channel holds one pending
// transition; an unread value is replaced by the next one, so the reader
// always observes the latest state.
func (e *Election) Changes() <-chan bool { return e.changeCh }

// Leader returns the instance id holding the lease, or "" when vacant.
func (e *Election) Leader(ctx context.Context) (string, error) {
	id, err := e.client.Get(ctx, e.cfg.Key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read leader lease: %w", err)
	}
	return id, nil
}

func (e *Election) campaign(ctx context.Context) {
	e.tick(ctx)

	ticker := time.NewTicker(e.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Election) tick(ctx context.Context) {
	held, err := e.acquireOrRenew(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("leader campaign attempt failed")
		e.setLeader(false)
		return
	}
	e.setLeader(held)
}

// acquireOrRenew takes the lease when vacant, or extends it when this
// instance already owns it.
func (e *Election) acquireOrRenew(ctx context.Context) (bool, error) {
	won, err := e.client.SetNX(ctx, e.cfg.Key, e.instanceID, e.cfg.LeaseDuration).Result()
	if err != nil {
		return false, fmt.Errorf("take lease: %w", err)
	}
	if won {
		return true, nil
	}

	holder, err := e.client.Get(ctx, e.cfg.Key).Result()
	if err == redis.Nil {
		// Lease lapsed between the two calls; the next tick retries.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read lease holder: %w", err)
	}
	if holder != e.instanceID {
		return false, nil
	}

	if err := e.client.Expire(ctx, e.cfg.Key, e.cfg.LeaseDuration).Err(); err != nil {
		return false, fmt.Errorf("renew lease: %w", err)
	}
	return true, nil
}

func (e *Election) setLeader(held bool) {
	if !e.leader.CompareAndSwap(!held, held) {
		return
	}

	if held {
		e.logger.Info().Str("instance_id", e.instanceID).Msg("acquired scheduler leadership")
		telemetry.LeaderStatus.Set(1)
		telemetry.LeaderTransitionsTotal.WithLabelValues("acquired").Inc()
	} else {
		e.logger.Warn().Str("instance_id", e.instanceID).Msg("lost scheduler leadership")
		telemetry.LeaderStatus.Set(0)
		telemetry.LeaderTransitionsTotal.WithLabelValues("lost").Inc()
	}

	// Replace a stale unread transition with the current state.
	select {
	case <-e.changeCh:
	default:
	}
	e.changeCh <- held
}
