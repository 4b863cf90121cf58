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
	"gorm.io/gorm"

	"github.com/friendsincode/skuld_calendar/internal/archive"
	"github.com/friendsincode/skuld_calendar/internal/cache"
	"github.com/friendsincode/skuld_calendar/internal/models"
	"github.com/friendsincode/skuld_calendar/internal/orchestrator"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

type fillCreateRequest struct {
	StartDate         string `json:"start_date"`
	EndDate           string `json:"end_date"`
	Count             int    `json:"count"`
	Description       string `json:"description"`
	Timezone          string `json:"timezone"`
	EarliestStartHour *int   `json:"earliest_start_hour"`
}

type fillSummaryResponse struct {
	RequestID       string              `json:"request_id"`
	RequestedCount  int                 `json:"requested_count"`
	SuccessfulCount int                 `json:"successful_count"`
	FailedCount     int                 `json:"failed_count"`
	ContentSource   string              `json:"content_source"`
	DurationMS      int64               `json:"duration_ms"`
	Events          []cache.CachedEvent `json:"events"`
}

// handleFillCreate runs one fill synchronously and returns the summary.
func (a *API) handleFillCreate(w http.ResponseWriter, r *http.Request) {
	var req fillCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	start, err := parseDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "start_date must be YYYY-MM-DD")
		return
	}
	end, err := parseDate(req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "end_date must be YYYY-MM-DD")
		return
	}

	earliest := -1
	if req.EarliestStartHour != nil {
		earliest = *req.EarliestStartHour
	}

	summary, err := a.orch.CreateEvents(r.Context(), orchestrator.Request{
		StartDate:         start,
		EndDate:           end,
		Count:             req.Count,
		Description:       req.Description,
		Timezone:          req.Timezone,
		EarliestStartHour: earliest,
	})
	if err != nil {
		var rejection *orchestrator.RejectionError
		if errors.As(err, &rejection) {
			writeError(w, http.StatusBadRequest, rejection.Reason)
			return
		}
		a.logger.Error().Err(err).Msg("fill request failed")
		writeError(w, http.StatusInternalServerError, "fill request failed")
		return
	}

	resp := fillSummaryResponse{
		RequestID:       summary.RequestID,
		RequestedCount:  summary.RequestedCount,
		SuccessfulCount: summary.SuccessfulCount,
		FailedCount:     summary.FailedCount,
		ContentSource:   string(summary.ContentSource),
		DurationMS:      summary.Elapsed.Milliseconds(),
		Events:          make([]cache.CachedEvent, 0, len(summary.Events)),
	}
	for _, ev := range summary.Events {
		resp.Events = append(resp.Events, cache.CachedEvent{
			ID:          ev.ID,
			Title:       ev.Title,
			StartsAt:    ev.Start,
			EndsAt:      ev.End,
			Status:      string(ev.Status),
			Error:       ev.Error,
			Placeholder: ev.Placeholder,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleFillList returns recent fill requests, newest first. Responses at
// the default limit are served from and refreshed into the entity cache.
func (a *API) handleFillList(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultHistoryLimit)
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	cacheable := limit == defaultHistoryLimit
	if cacheable && a.cache != nil {
		if fills, ok := a.cache.GetFillHistory(r.Context()); ok {
			writeJSON(w, http.StatusOK, map[string]any{"fills": fills})
			return
		}
	}

	var rows []models.FillRequest
	if err := a.db.WithContext(r.Context()).Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		a.logger.Error().Err(err).Msg("failed to list fill requests")
		writeError(w, http.StatusInternalServerError, "failed to list fill requests")
		return
	}

	fills := make([]cache.CachedFillSummary, 0, len(rows))
	for _, row := range rows {
		fills = append(fills, summaryOf(row))
	}

	if cacheable && a.cache != nil {
		_ = a.cache.SetFillHistory(r.Context(), fills)
	}

	writeJSON(w, http.StatusOK, map[string]any{"fills": fills})
}

// handleFillGet returns one stored request with its event outcomes.
func (a *API) handleFillGet(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")

	if a.cache != nil {
		if detail, ok := a.cache.GetFill(r.Context(), requestID); ok {
			writeJSON(w, http.StatusOK, detail)
			return
		}
	}

	row, ok := a.loadFill(w, r, requestID)
	if !ok {
		return
	}

	detail := &cache.CachedFillDetail{
		Summary: summaryOf(*row),
		Events:  make([]cache.CachedEvent, 0, len(row.Events)),
	}
	for _, ev := range row.Events {
		detail.Events = append(detail.Events, cache.CachedEvent{
			ID:          ev.ExternalID,
			Title:       ev.Title,
			StartsAt:    ev.StartsAt,
			EndsAt:      ev.EndsAt,
			Status:      string(ev.Status),
			Error:       ev.FailReason,
			Placeholder: ev.Placeholder,
		})
	}

	if a.cache != nil {
		_ = a.cache.SetFill(r.Context(), detail)
	}

	writeJSON(w, http.StatusOK, detail)
}

// handleFillExport renders the request's created events as an iCalendar
// attachment.
func (a *API) handleFillExport(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")

	row, ok := a.loadFill(w, r, requestID)
	if !ok {
		return
	}

	var created []archive.ICSEvent
	for _, ev := range row.Events {
		if ev.Status != models.EventStatusCreated {
			continue
		}
		created = append(created, archive.ICSEvent{
			UID:   ev.ID,
			Title: ev.Title,
			Start: ev.StartsAt,
			End:   ev.EndsAt,
		})
	}

	ics := archive.BuildCalendar(fmt.Sprintf("Skuld fill: %s", row.Description), created)

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "fill-"+shortID(requestID)+".ics"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(ics)
}

// loadFill fetches one history row with its events, writing the HTTP error
// itself when that fails.
func (a *API) loadFill(w http.ResponseWriter, r *http.Request, requestID string) (*models.FillRequest, bool) {
	var row models.FillRequest
	err := a.db.WithContext(r.Context()).
		Preload("Events", func(db *gorm.DB) *gorm.DB { return db.Order("starts_at") }).
		First(&row, "id = ?", requestID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "fill request not found")
		return nil, false
	}
	if err != nil {
		a.logger.Error().Err(err).Str("request_id", requestID).Msg("failed to load fill request")
		writeError(w, http.StatusInternalServerError, "failed to load fill request")
		return nil, false
	}
	return &row, true
}

func summaryOf(row models.FillRequest) cache.CachedFillSummary {
	return cache.CachedFillSummary{
		ID:              row.ID,
		Description:     row.Description,
		State:           string(row.State),
		RequestedCount:  row.RequestedCount,
		SuccessfulCount: row.SuccessfulCount,
		FailedCount:     row.FailedCount,
		CreatedAt:       row.CreatedAt,
	}
}

func parseDate(raw string) (time.Time, error) {
	return time.Parse("2006-01-02", raw)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
