/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package calstore abstracts the calendar backend that fill runs write into.
// The service ships a local database-backed store and a client for a remote
// calendar HTTP service; the orchestrator only sees the Store interface.
package calstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an external id does not resolve to an event.
var ErrNotFound = errors.New("calendar event not found")

// EventSpec describes one calendar entry to create.
type EventSpec struct {
	Title       string
	Description string
	StartsAt    time.Time
	EndsAt      time.Time
	Timezone    string
	Tag         string
}

// StoredEvent is a calendar entry as the backend reports it. ExternalID is
// the backend's handle; callers must treat it as opaque.
type StoredEvent struct {
	ExternalID  string
	Title       string
	Description string
	StartsAt    time.Time
	EndsAt      time.Time
	Timezone    string
	Tag         string
}

// Store is the calendar backend contract. Create returns the backend's
// external id for the new entry; List filters by tag when tag is non-empty;
// Delete removes by external id and reports ErrNotFound for unknown ids.
type Store interface {
	Create(ctx context.Context, spec EventSpec) (string, error)
	List(ctx context.Context, tag string) ([]StoredEvent, error)
	Delete(ctx context.Context, externalID string) error
}
