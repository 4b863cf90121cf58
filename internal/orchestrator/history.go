/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/skuld_calendar/internal/events"
	"github.com/friendsincode/skuld_calendar/internal/models"
)

// persistRun records a completed fill and its per-event outcomes. History is
// bookkeeping: a write failure here is logged but never fails the request,
// since the external side effects already happened.
func (o *Orchestrator) persistRun(ctx context.Context, requestID string, req Request, timezone string, rangeStart, rangeEnd time.Time, summary *Summary) {
	row := models.FillRequest{
		ID:                requestID,
		Description:       req.Description,
		StartDate:         rangeStart,
		EndDate:           rangeEnd,
		Count:             req.Count,
		Timezone:          timezone,
		EarliestStartHour: req.EarliestStartHour,
		State:             models.FillStateDone,
		RequestedCount:    summary.RequestedCount,
		SuccessfulCount:   summary.SuccessfulCount,
		FailedCount:       summary.FailedCount,
		DurationMS:        summary.Elapsed.Milliseconds(),
	}

	rows := make([]models.FillEvent, 0, len(summary.Events))
	for _, ev := range summary.Events {
		rows = append(rows, models.FillEvent{
			ID:            uuid.NewString(),
			FillRequestID: requestID,
			Title:         ev.Title,
			StartsAt:      ev.Start.UTC(),
			EndsAt:        ev.End.UTC(),
			Status:        ev.Status,
			ExternalID:    ev.ID,
			FailReason:    ev.Error,
			Placeholder:   ev.Placeholder,
		})
	}

	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		o.logger.Error().Err(err).Str("request_id", requestID).Msg("persisting fill history failed")
	}
}

// recordRejection keeps rejected requests in history for auditability. No
// external collaborator is touched on this path.
func (o *Orchestrator) recordRejection(ctx context.Context, requestID string, req Request, rejection *RejectionError) {
	row := models.FillRequest{
		ID:                requestID,
		Description:       req.Description,
		StartDate:         req.StartDate,
		EndDate:           req.EndDate,
		Count:             req.Count,
		Timezone:          req.Timezone,
		EarliestStartHour: req.EarliestStartHour,
		State:             models.FillStateRejected,
		RequestedCount:    req.Count,
	}
	if err := o.db.WithContext(ctx).Create(&row).Error; err != nil {
		o.logger.Error().Err(err).Str("request_id", requestID).Msg("persisting rejection failed")
	}

	if o.cache != nil {
		if err := o.cache.InvalidateFillHistory(ctx); err != nil {
			o.logger.Debug().Err(err).Msg("history cache invalidation failed")
		}
	}
}

// invalidateCaches drops cached views a completed fill made stale and tells
// other instances to do the same.
func (o *Orchestrator) invalidateCaches(ctx context.Context, requestID string) {
	if o.cache != nil {
		if err := o.cache.InvalidateFill(ctx, requestID); err != nil {
			o.logger.Debug().Err(err).Msg("fill cache invalidation failed")
		}
		if err := o.cache.InvalidateEventList(ctx, o.opts.OwnerTag); err != nil {
			o.logger.Debug().Err(err).Msg("event list cache invalidation failed")
		}
	}

	o.bus.Publish(events.EventFillRequestUpdated, events.Payload{"request_id": requestID})
	o.bus.Publish(events.EventCalendarChanged, events.Payload{"tag": o.opts.OwnerTag})
}
