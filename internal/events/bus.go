/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	// Fill lifecycle events
	EventFillStarted    EventType = "fill.started"
	EventFillCompleted  EventType = "fill.completed"
	EventFillRejected   EventType = "fill.rejected"
	EventFillEventOK    EventType = "fill.event.created"
	EventFillEventFail  EventType = "fill.event.failed"
	EventGroupCompleted EventType = "fill.group.completed"

	// Collaborator health events
	EventProviderDegraded    EventType = "provider.degraded"
	EventCollaboratorDown    EventType = "collaborator.unhealthy"
	EventCollaboratorRecover EventType = "collaborator.recovered"
	EventScheduleTriggered   EventType = "schedule.triggered"

	// Cache invalidation events
	EventFillRequestUpdated EventType = "cache.fill_request_updated"
	EventCalendarChanged    EventType = "cache.calendar_changed"
	EventScheduleUpdated    EventType = "cache.schedule_updated"
	EventScheduleDeleted    EventType = "cache.schedule_deleted"
	EventTemplatesReloaded  EventType = "cache.templates_reloaded"

	// Audit events (for operations that need explicit audit logging)
	EventAuditFillPurge      EventType = "audit.fill.purge"
	EventAuditScheduleCreate EventType = "audit.schedule.create"
	EventAuditScheduleDelete EventType = "audit.schedule.delete"
)

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Bus implements a simple in-process pubsub.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 8)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// SubscribeMany registers one subscriber channel for several event types.
// Useful for streaming consumers that fan in a whole event family.
func (b *Bus) SubscribeMany(eventTypes ...EventType) Subscriber {
	ch := make(Subscriber, 16)
	b.mu.Lock()
	for _, eventType := range eventTypes {
		b.subs[eventType] = append(b.subs[eventType], ch)
	}
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers. Slow subscribers are skipped rather
// than blocking the publisher. The delivered payload carries the event type
// under the "event" key so fan-in subscribers can tell arrivals apart.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs[eventType]...)
	b.mu.RUnlock()
	if len(subs) == 0 {
		return
	}

	stamped := make(Payload, len(payload)+1)
	for k, v := range payload {
		stamped[k] = v
	}
	stamped["event"] = string(eventType)

	for _, sub := range subs {
		select {
		case sub <- stamped:
		default:
		}
	}
}

// Unsubscribe removes the subscriber.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(eventType, sub)
	close(sub)
}

// UnsubscribeMany removes a subscriber registered via SubscribeMany.
func (b *Bus) UnsubscribeMany(sub Subscriber, eventTypes ...EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, eventType := range eventTypes {
		b.removeLocked(eventType, sub)
	}
	close(sub)
}

func (b *Bus) removeLocked(eventType EventType, sub Subscriber) {
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	b.subs[eventType] = subs
}
