/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package calstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/skuld_calendar/internal/models"
	"github.com/friendsincode/skuld_calendar/internal/telemetry"
)

// LocalStore keeps calendar events in the service's own database. It is the
// default backend and the one the test suite runs against.
type LocalStore struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewLocalStore creates a database-backed calendar store.
func NewLocalStore(db *gorm.DB, logger zerolog.Logger) *LocalStore {
	return &LocalStore{
		db:     db,
		logger: logger.With().Str("component", "calstore").Logger(),
	}
}

// Create inserts one calendar event and returns its id.
func (s *LocalStore) Create(ctx context.Context, spec EventSpec) (string, error) {
	if err := validateSpec(spec); err != nil {
		countOp("create", "invalid")
		return "", err
	}

	row := models.CalendarEvent{
		ID:          uuid.NewString(),
		Title:       spec.Title,
		Description: spec.Description,
		StartsAt:    spec.StartsAt.UTC(),
		EndsAt:      spec.EndsAt.UTC(),
		Timezone:    spec.Timezone,
		Tag:         spec.Tag,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		countOp("create", "error")
		return "", fmt.Errorf("create calendar event: %w", err)
	}
	countOp("create", "ok")
	return row.ID, nil
}

// List returns events ordered by start time, filtered by tag when given.
func (s *LocalStore) List(ctx context.Context, tag string) ([]StoredEvent, error) {
	q := s.db.WithContext(ctx).Model(&models.CalendarEvent{}).Order("starts_at")
	if tag != "" {
		q = q.Where("tag = ?", tag)
	}

	var rows []models.CalendarEvent
	if err := q.Find(&rows).Error; err != nil {
		countOp("list", "error")
		return nil, fmt.Errorf("list calendar events: %w", err)
	}
	countOp("list", "ok")

	events := make([]StoredEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, StoredEvent{
			ExternalID:  row.ID,
			Title:       row.Title,
			Description: row.Description,
			StartsAt:    row.StartsAt,
			EndsAt:      row.EndsAt,
			Timezone:    row.Timezone,
			Tag:         row.Tag,
		})
	}
	return events, nil
}

// Delete removes an event by id.
func (s *LocalStore) Delete(ctx context.Context, externalID string) error {
	res := s.db.WithContext(ctx).Where("id = ?", externalID).Delete(&models.CalendarEvent{})
	if res.Error != nil {
		countOp("delete", "error")
		return fmt.Errorf("delete calendar event: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		countOp("delete", "not_found")
		return ErrNotFound
	}
	countOp("delete", "ok")
	return nil
}

func validateSpec(spec EventSpec) error {
	if strings.TrimSpace(spec.Title) == "" {
		return fmt.Errorf("calendar event needs a title")
	}
	if !spec.EndsAt.After(spec.StartsAt) {
		return fmt.Errorf("calendar event interval is inverted or empty")
	}
	return nil
}

func countOp(operation, result string) {
	telemetry.StoreOperationsTotal.WithLabelValues(operation, result).Inc()
}
