/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/friendsincode/skuld_calendar/internal/models"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&models.FillRequest{},
		&models.FillEvent{},
		&models.CalendarEvent{},
		&models.FillSchedule{},
	); err != nil {
		return err
	}

	if err := applyPostgresIntervalGuard(database); err != nil {
		return err
	}

	return nil
}

// applyPostgresIntervalGuard rejects calendar events whose end does not come
// after their start. Overlap between events is deliberately not enforced here:
// events from separate fill runs may legitimately touch, and the allocator
// already keeps each run internally non-overlapping.
func applyPostgresIntervalGuard(database *gorm.DB) error {
	if database.Dialector.Name() != "postgres" {
		return nil
	}

	stmt := `
CREATE OR REPLACE FUNCTION prevent_inverted_calendar_event()
RETURNS trigger
LANGUAGE plpgsql
AS $$
BEGIN
  IF NEW.ends_at <= NEW.starts_at THEN
    RAISE EXCEPTION 'calendar event end must be after start'
      USING ERRCODE = '23514';
  END IF;

  RETURN NEW;
END;
$$;

DROP TRIGGER IF EXISTS trg_prevent_inverted_calendar_event ON calendar_events;

CREATE TRIGGER trg_prevent_inverted_calendar_event
BEFORE INSERT OR UPDATE OF starts_at, ends_at
ON calendar_events
FOR EACH ROW
EXECUTE FUNCTION prevent_inverted_calendar_event();
`
	if err := database.Exec(stmt).Error; err != nil {
		return fmt.Errorf("apply postgres interval guard: %w", err)
	}

	return nil
}
