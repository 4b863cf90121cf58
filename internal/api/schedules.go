/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/skuld_calendar/internal/cache"
	"github.com/friendsincode/skuld_calendar/internal/events"
	"github.com/friendsincode/skuld_calendar/internal/models"
)

type scheduleRequest struct {
	Name              string `json:"name"`
	CronExpr          string `json:"cron_expr"`
	Description       string `json:"description"`
	Count             int    `json:"count"`
	DaysAhead         int    `json:"days_ahead"`
	Timezone          string `json:"timezone"`
	EarliestStartHour *int   `json:"earliest_start_hour"`
	Enabled           *bool  `json:"enabled"`
}

type scheduleResponse struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	CronExpr          string     `json:"cron_expr"`
	Description       string     `json:"description"`
	Count             int        `json:"count"`
	DaysAhead         int        `json:"days_ahead"`
	Timezone          string     `json:"timezone,omitempty"`
	EarliestStartHour int        `json:"earliest_start_hour"`
	Enabled           bool       `json:"enabled"`
	LastRunAt         *time.Time `json:"last_run_at,omitempty"`
	LastRequestID     string     `json:"last_request_id,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// handleSchedulesList returns all recurring fill schedules.
func (a *API) handleSchedulesList(w http.ResponseWriter, r *http.Request) {
	if a.cache != nil {
		if cached, ok := a.cache.GetScheduleList(r.Context()); ok {
			writeJSON(w, http.StatusOK, map[string]any{"schedules": cached})
			return
		}
	}

	var rows []models.FillSchedule
	if err := a.db.WithContext(r.Context()).Order("name").Find(&rows).Error; err != nil {
		a.logger.Error().Err(err).Msg("failed to list schedules")
		writeError(w, http.StatusInternalServerError, "failed to list schedules")
		return
	}

	list := make([]cache.CachedSchedule, 0, len(rows))
	for _, row := range rows {
		list = append(list, cache.CachedSchedule{
			ID:          row.ID,
			Name:        row.Name,
			CronExpr:    row.CronExpr,
			Description: row.Description,
			Count:       row.Count,
			DaysAhead:   row.DaysAhead,
			Enabled:     row.Enabled,
			LastRunAt:   row.LastRunAt,
		})
	}

	if a.cache != nil {
		_ = a.cache.SetScheduleList(r.Context(), list)
	}

	writeJSON(w, http.StatusOK, map[string]any{"schedules": list})
}

// handleSchedulesCreate registers a new recurring fill schedule.
func (a *API) handleSchedulesCreate(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if reason := a.validateSchedule(&req); reason != "" {
		writeError(w, http.StatusBadRequest, reason)
		return
	}

	var existing models.FillSchedule
	if err := a.db.WithContext(r.Context()).First(&existing, "name = ?", req.Name).Error; err == nil {
		writeError(w, http.StatusConflict, "schedule name already exists")
		return
	}

	row := models.FillSchedule{
		ID:                uuid.NewString(),
		Name:              req.Name,
		CronExpr:          req.CronExpr,
		Description:       req.Description,
		Count:             req.Count,
		DaysAhead:         req.DaysAhead,
		Timezone:          req.Timezone,
		EarliestStartHour: -1,
		Enabled:           true,
	}
	if req.EarliestStartHour != nil {
		row.EarliestStartHour = *req.EarliestStartHour
	}
	if req.Enabled != nil {
		row.Enabled = *req.Enabled
	}

	if err := a.db.WithContext(r.Context()).Create(&row).Error; err != nil {
		a.logger.Error().Err(err).Str("name", req.Name).Msg("failed to create schedule")
		writeError(w, http.StatusInternalServerError, "failed to create schedule")
		return
	}

	a.scheduleChanged(r, events.EventAuditScheduleCreate, &row)
	writeJSON(w, http.StatusCreated, scheduleOf(row))
}

// handleSchedulesGet returns one schedule.
func (a *API) handleSchedulesGet(w http.ResponseWriter, r *http.Request) {
	row, ok := a.loadSchedule(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, scheduleOf(*row))
}

// handleSchedulesUpdate replaces a schedule's template and cadence.
func (a *API) handleSchedulesUpdate(w http.ResponseWriter, r *http.Request) {
	row, ok := a.loadSchedule(w, r)
	if !ok {
		return
	}

	var req scheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if reason := a.validateSchedule(&req); reason != "" {
		writeError(w, http.StatusBadRequest, reason)
		return
	}

	if req.Name != row.Name {
		var existing models.FillSchedule
		if err := a.db.WithContext(r.Context()).First(&existing, "name = ?", req.Name).Error; err == nil {
			writeError(w, http.StatusConflict, "schedule name already exists")
			return
		}
	}

	row.Name = req.Name
	row.CronExpr = req.CronExpr
	row.Description = req.Description
	row.Count = req.Count
	row.DaysAhead = req.DaysAhead
	row.Timezone = req.Timezone
	if req.EarliestStartHour != nil {
		row.EarliestStartHour = *req.EarliestStartHour
	}
	if req.Enabled != nil {
		row.Enabled = *req.Enabled
	}

	if err := a.db.WithContext(r.Context()).Save(row).Error; err != nil {
		a.logger.Error().Err(err).Str("schedule_id", row.ID).Msg("failed to update schedule")
		writeError(w, http.StatusInternalServerError, "failed to update schedule")
		return
	}

	a.scheduleChanged(r, "", row)
	writeJSON(w, http.StatusOK, scheduleOf(*row))
}

// handleSchedulesDelete removes a schedule.
func (a *API) handleSchedulesDelete(w http.ResponseWriter, r *http.Request) {
	row, ok := a.loadSchedule(w, r)
	if !ok {
		return
	}

	if err := a.db.WithContext(r.Context()).Delete(&models.FillSchedule{}, "id = ?", row.ID).Error; err != nil {
		a.logger.Error().Err(err).Str("schedule_id", row.ID).Msg("failed to delete schedule")
		writeError(w, http.StatusInternalServerError, "failed to delete schedule")
		return
	}

	if a.cache != nil {
		_ = a.cache.InvalidateScheduleList(r.Context())
	}
	a.bus.Publish(events.EventScheduleDeleted, events.Payload{"schedule_id": row.ID})
	a.bus.Publish(events.EventAuditScheduleDelete, events.Payload{
		"schedule_id": row.ID,
		"name":        row.Name,
		"ip_address":  r.RemoteAddr,
	})

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// loadSchedule fetches the routed schedule, writing the HTTP error itself
// when that fails.
func (a *API) loadSchedule(w http.ResponseWriter, r *http.Request) (*models.FillSchedule, bool) {
	id := chi.URLParam(r, "scheduleID")

	var row models.FillSchedule
	err := a.db.WithContext(r.Context()).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "schedule not found")
		return nil, false
	}
	if err != nil {
		a.logger.Error().Err(err).Str("schedule_id", id).Msg("failed to load schedule")
		writeError(w, http.StatusInternalServerError, "failed to load schedule")
		return nil, false
	}
	return &row, true
}

// scheduleChanged invalidates caches and notifies the cron runner. A
// non-empty audit event is published alongside.
func (a *API) scheduleChanged(r *http.Request, auditEvent events.EventType, row *models.FillSchedule) {
	if a.cache != nil {
		_ = a.cache.InvalidateScheduleList(r.Context())
	}
	a.bus.Publish(events.EventScheduleUpdated, events.Payload{"schedule_id": row.ID})
	if auditEvent != "" {
		a.bus.Publish(auditEvent, events.Payload{
			"schedule_id": row.ID,
			"name":        row.Name,
			"ip_address":  r.RemoteAddr,
		})
	}
}

// validateSchedule screens a create or update body.
func (a *API) validateSchedule(req *scheduleRequest) string {
	if req.Name == "" {
		return "name is required"
	}
	if req.CronExpr == "" {
		return "cron_expr is required"
	}
	if err := a.scheduler.ValidateCronExpr(req.CronExpr); err != nil {
		return fmt.Sprintf("invalid cron_expr: %v", err)
	}
	if req.Description == "" {
		return "description is required"
	}
	if req.Count < 1 || req.Count > a.orch.MaxEvents() {
		return fmt.Sprintf("count must be between 1 and %d", a.orch.MaxEvents())
	}
	if req.DaysAhead < 0 {
		return "days_ahead must not be negative"
	}
	if req.Timezone != "" {
		if _, err := time.LoadLocation(req.Timezone); err != nil {
			return fmt.Sprintf("unknown timezone %q", req.Timezone)
		}
	}
	if req.EarliestStartHour != nil && (*req.EarliestStartHour < 0 || *req.EarliestStartHour > 23) {
		return "earliest_start_hour must be within 0-23"
	}
	return ""
}

func scheduleOf(row models.FillSchedule) scheduleResponse {
	return scheduleResponse{
		ID:                row.ID,
		Name:              row.Name,
		CronExpr:          row.CronExpr,
		Description:       row.Description,
		Count:             row.Count,
		DaysAhead:         row.DaysAhead,
		Timezone:          row.Timezone,
		EarliestStartHour: row.EarliestStartHour,
		Enabled:           row.Enabled,
		LastRunAt:         row.LastRunAt,
		LastRequestID:     row.LastRequestID,
		CreatedAt:         row.CreatedAt,
	}
}
