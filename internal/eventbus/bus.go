/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/skuld_calendar/internal/events"
)

// Bus is the pubsub surface shared by the in-process bus and the
// cross-instance bridges.
type Bus interface {
	Subscribe(eventType events.EventType) events.Subscriber
	SubscribeMany(eventTypes ...events.EventType) events.Subscriber
	Publish(eventType events.EventType, payload events.Payload)
	Unsubscribe(eventType events.EventType, sub events.Subscriber)
	UnsubscribeMany(sub events.Subscriber, eventTypes ...events.EventType)

	// Ping verifies the bridge's broker connection; the in-memory bus
	// always reports healthy.
	Ping(ctx context.Context) error
	Close() error
}

// Options selects the bridge backing the process bus.
type Options struct {
	NATSURL       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	InstanceID    string
}

// New builds the event bus for this process. NATS wins when configured,
// then Redis, then the plain in-memory bus. Bridge construction never
// fails hard: an unreachable broker degrades to local-only delivery.
func New(opts Options, logger zerolog.Logger) Bus {
	nodeID := opts.InstanceID
	if nodeID == "" {
		nodeID = generateNodeID()
	}

	if opts.NATSURL != "" {
		return NewNATSBus(opts.NATSURL, nodeID, logger)
	}

	if opts.RedisAddr != "" {
		cfg := DefaultRedisConfig()
		cfg.Addr = opts.RedisAddr
		cfg.Password = opts.RedisPassword
		cfg.DB = opts.RedisDB
		return NewRedisBus(cfg, nodeID, logger)
	}

	return NewLocal()
}

// Local adapts the in-memory bus to the Bus interface.
type Local struct {
	*events.Bus
}

// NewLocal creates a process-local bus with no cross-instance delivery.
func NewLocal() *Local {
	return &Local{Bus: events.NewBus()}
}

// Ping always succeeds; local delivery has no broker to lose.
func (l *Local) Ping(ctx context.Context) error { return nil }

// Close is a no-op for the local bus.
func (l *Local) Close() error { return nil }

// envelope is the wire format shared by the NATS and Redis bridges.
type envelope struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

func generateNodeID() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "skuld"
	}
	return fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8])
}
