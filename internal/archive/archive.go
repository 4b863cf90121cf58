/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package archive writes a durable copy of every completed fill run to
// object storage: a JSON accounting document plus an iCalendar file of the
// events that were actually created.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/skuld_calendar/internal/eventbus"
	"github.com/friendsincode/skuld_calendar/internal/events"
	"github.com/friendsincode/skuld_calendar/internal/models"
	"github.com/friendsincode/skuld_calendar/internal/storage"
	"github.com/friendsincode/skuld_calendar/internal/telemetry"
)

// Service archives fill runs.
type Service struct {
	db      *gorm.DB
	objects storage.ObjectStore
	backend string
	logger  zerolog.Logger
}

// NewService creates the archiver. backend names the object store flavor for
// metrics ("local" or "s3").
func NewService(db *gorm.DB, objects storage.ObjectStore, backend string, logger zerolog.Logger) *Service {
	return &Service{
		db:      db,
		objects: objects,
		backend: backend,
		logger:  logger.With().Str("component", "archive").Logger(),
	}
}

// JSONKey returns the object key of a fill's JSON document.
func JSONKey(requestID string) string { return "fills/" + requestID + ".json" }

// ICSKey returns the object key of a fill's iCalendar file.
func ICSKey(requestID string) string { return "fills/" + requestID + ".ics" }

// document is the JSON shape written per archived fill.
type document struct {
	RequestID       string          `json:"request_id"`
	Description     string          `json:"description"`
	State           string          `json:"state"`
	Timezone        string          `json:"timezone"`
	StartDate       string          `json:"start_date"`
	EndDate         string          `json:"end_date"`
	RequestedCount  int             `json:"requested_count"`
	SuccessfulCount int             `json:"successful_count"`
	FailedCount     int             `json:"failed_count"`
	DurationMS      int64           `json:"duration_ms"`
	ArchivedAt      time.Time       `json:"archived_at"`
	Events          []documentEvent `json:"events"`
}

type documentEvent struct {
	Title       string    `json:"title"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	Status      string    `json:"status"`
	ExternalID  string    `json:"external_id,omitempty"`
	FailReason  string    `json:"fail_reason,omitempty"`
	Placeholder bool      `json:"placeholder,omitempty"`
}

// ArchiveFill loads the recorded run and writes both artifacts. The JSON
// document carries every outcome; the calendar file only the events that
// exist in the external store.
func (s *Service) ArchiveFill(ctx context.Context, requestID string) error {
	var req models.FillRequest
	err := s.db.WithContext(ctx).
		Preload("Events", func(db *gorm.DB) *gorm.DB { return db.Order("starts_at") }).
		First(&req, "id = ?", requestID).Error
	if err != nil {
		return fmt.Errorf("load fill request %s: %w", requestID, err)
	}

	doc := document{
		RequestID:       req.ID,
		Description:     req.Description,
		State:           string(req.State),
		Timezone:        req.Timezone,
		StartDate:       req.StartDate.Format("2006-01-02"),
		EndDate:         req.EndDate.Format("2006-01-02"),
		RequestedCount:  req.RequestedCount,
		SuccessfulCount: req.SuccessfulCount,
		FailedCount:     req.FailedCount,
		DurationMS:      req.DurationMS,
		ArchivedAt:      time.Now().UTC(),
		Events:          make([]documentEvent, 0, len(req.Events)),
	}
	var created []ICSEvent
	for _, ev := range req.Events {
		doc.Events = append(doc.Events, documentEvent{
			Title:       ev.Title,
			StartsAt:    ev.StartsAt,
			EndsAt:      ev.EndsAt,
			Status:      string(ev.Status),
			ExternalID:  ev.ExternalID,
			FailReason:  ev.FailReason,
			Placeholder: ev.Placeholder,
		})
		if ev.Status == models.EventStatusCreated {
			created = append(created, ICSEvent{
				UID:   ev.ID,
				Title: ev.Title,
				Start: ev.StartsAt,
				End:   ev.EndsAt,
			})
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode fill document: %w", err)
	}
	if err := s.put(ctx, JSONKey(requestID), data); err != nil {
		return err
	}

	ics := BuildCalendar(fmt.Sprintf("Skuld fill: %s", req.Description), created)
	if err := s.put(ctx, ICSKey(requestID), ics); err != nil {
		return err
	}

	s.logger.Info().
		Str("request_id", requestID).
		Int("events", len(doc.Events)).
		Int("calendar_entries", len(created)).
		Msg("fill archived")
	return nil
}

func (s *Service) put(ctx context.Context, key string, data []byte) error {
	err := s.objects.Put(ctx, key, data)
	result := "ok"
	if err != nil {
		result = "error"
	}
	telemetry.ArchiveWritesTotal.WithLabelValues(s.backend, result).Inc()
	if err != nil {
		return fmt.Errorf("archive %s: %w", key, err)
	}
	return nil
}

// Run archives fills as they complete, until ctx is canceled. Failures are
// logged and skipped; the run that produced them is already persisted, so a
// later manual archive can recover.
func (s *Service) Run(ctx context.Context, bus eventbus.Bus) {
	sub := bus.Subscribe(events.EventFillCompleted)
	defer bus.Unsubscribe(events.EventFillCompleted, sub)

	s.logger.Debug().Msg("archive worker started")
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub:
			if !ok {
				return
			}
			requestID, _ := payload["request_id"].(string)
			if requestID == "" {
				continue
			}
			if err := s.ArchiveFill(ctx, requestID); err != nil {
				s.logger.Error().Err(err).Str("request_id", requestID).Msg("archiving fill failed")
			}
		}
	}
}
