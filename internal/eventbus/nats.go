package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/skuld_calendar/internal/events"
)

const natsSubjectPrefix = "skuld.events."

// NATSBus bridges the in-process event bus over NATS so multiple
// instances see each other's fill activity. Local delivery always goes
// through the embedded in-memory bus; the bridge only adds the remote leg.
type NATSBus struct {
	local  *events.Bus
	conn   *nats.Conn
	sub    *nats.Subscription
	logger zerolog.Logger
	nodeID string
}

// NewNATSBus connects to NATS and starts forwarding remote events into the
// local bus. A failed connection degrades to local-only delivery rather
// than blocking startup.
func NewNATSBus(natsURL, nodeID string, logger zerolog.Logger) *NATSBus {
	nb := &NATSBus{
		local:  events.NewBus(),
		logger: logger,
		nodeID: nodeID,
	}

	conn, err := nats.Connect(natsURL,
		nats.Name("skuld-calendar"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected, events stay local until reconnect")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		logger.Warn().Err(err).Str("url", natsURL).Msg("NATS connection failed, continuing with in-memory event bus")
		return nb
	}

	nb.conn = conn

	sub, err := conn.Subscribe(natsSubjectPrefix+">", nb.handleRemote)
	if err != nil {
		logger.Warn().Err(err).Msg("NATS subscribe failed, continuing with in-memory event bus")
		conn.Close()
		nb.conn = nil
		return nb
	}

	nb.sub = sub
	logger.Info().Str("url", natsURL).Str("node_id", nodeID).Msg("NATS event bridge initialized")

	return nb
}

// handleRemote forwards an event from another instance into the local bus.
func (nb *NATSBus) handleRemote(msg *nats.Msg) {
	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		nb.logger.Error().Err(err).Str("subject", msg.Subject).Msg("failed to unmarshal NATS event")
		return
	}

	// Our own publishes already went through the local bus.
	if env.NodeID == nb.nodeID {
		return
	}

	nb.local.Publish(env.EventType, env.Payload)
}

// Subscribe registers a subscriber for an event type.
func (nb *NATSBus) Subscribe(eventType events.EventType) events.Subscriber {
	return nb.local.Subscribe(eventType)
}

// SubscribeMany registers one subscriber channel for several event types.
func (nb *NATSBus) SubscribeMany(eventTypes ...events.EventType) events.Subscriber {
	return nb.local.SubscribeMany(eventTypes...)
}

// Publish delivers locally, then mirrors the event to other instances.
func (nb *NATSBus) Publish(eventType events.EventType, payload events.Payload) {
	nb.local.Publish(eventType, payload)

	if nb.conn == nil || !nb.conn.IsConnected() {
		return
	}

	data, err := json.Marshal(envelope{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nb.nodeID,
		MessageID: uuid.NewString(),
	})
	if err != nil {
		nb.logger.Error().Err(err).Msg("failed to marshal NATS event")
		return
	}

	subject := natsSubjectPrefix + string(eventType)
	if err := nb.conn.Publish(subject, data); err != nil {
		nb.logger.Error().Err(err).Str("subject", subject).Msg("failed to publish to NATS")
	}
}

// Ping verifies the NATS connection with a flush round trip.
func (nb *NATSBus) Ping(ctx context.Context) error {
	if nb.conn == nil {
		return fmt.Errorf("nats bridge not connected")
	}
	if !nb.conn.IsConnected() {
		return fmt.Errorf("nats connection status %s", nb.conn.Status())
	}
	return nb.conn.FlushWithContext(ctx)
}

// Unsubscribe removes the subscriber.
func (nb *NATSBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	nb.local.Unsubscribe(eventType, sub)
}

// UnsubscribeMany removes a subscriber registered via SubscribeMany.
func (nb *NATSBus) UnsubscribeMany(sub events.Subscriber, eventTypes ...events.EventType) {
	nb.local.UnsubscribeMany(sub, eventTypes...)
}

// Close drains the NATS connection.
func (nb *NATSBus) Close() error {
	if nb.conn == nil {
		return nil
	}

	if nb.sub != nil {
		if err := nb.sub.Unsubscribe(); err != nil {
			nb.logger.Warn().Err(err).Msg("failed to unsubscribe from NATS")
		}
	}

	if err := nb.conn.Drain(); err != nil {
		nb.conn.Close()
		return fmt.Errorf("drain nats connection: %w", err)
	}

	return nil
}
