/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the HTTP surface: fill runs and their history, owned
// calendar events, recurring schedules, logs and the per-request progress
// stream.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/skuld_calendar/internal/cache"
	"github.com/friendsincode/skuld_calendar/internal/calstore"
	"github.com/friendsincode/skuld_calendar/internal/eventbus"
	"github.com/friendsincode/skuld_calendar/internal/logbuffer"
	"github.com/friendsincode/skuld_calendar/internal/orchestrator"
	"github.com/friendsincode/skuld_calendar/internal/scheduler"
	"github.com/friendsincode/skuld_calendar/internal/version"
)

// API exposes HTTP handlers.
type API struct {
	db        *gorm.DB
	orch      *orchestrator.Orchestrator
	store     calstore.Store
	scheduler *scheduler.Service
	cache     *cache.Cache
	bus       eventbus.Bus
	logBuffer *logbuffer.Buffer
	logger    zerolog.Logger
}

// New creates the API router wrapper. entityCache may be nil when Redis is
// not configured; schedulerSvc only validates cron expressions here.
func New(db *gorm.DB, orch *orchestrator.Orchestrator, store calstore.Store, schedulerSvc *scheduler.Service, entityCache *cache.Cache, bus eventbus.Bus, logBuf *logbuffer.Buffer, logger zerolog.Logger) *API {
	return &API{
		db:        db,
		orch:      orch,
		store:     store,
		scheduler: schedulerSvc,
		cache:     entityCache,
		bus:       bus,
		logBuffer: logBuf,
		logger:    logger,
	}
}

// Routes mounts all versioned endpoints.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/fill", func(r chi.Router) {
			r.Post("/", a.handleFillCreate)
			r.Get("/", a.handleFillList)
			r.Route("/{requestID}", func(r chi.Router) {
				r.Get("/", a.handleFillGet)
				r.Get("/export", a.handleFillExport)
				r.Get("/ws", a.handleFillProgress)
			})
		})

		r.Route("/events", func(r chi.Router) {
			r.Get("/", a.handleEventsList)
			r.Delete("/{externalID}", a.handleEventsDelete)
		})

		r.Route("/schedules", func(r chi.Router) {
			r.Get("/", a.handleSchedulesList)
			r.Post("/", a.handleSchedulesCreate)
			r.Route("/{scheduleID}", func(r chi.Router) {
				r.Get("/", a.handleSchedulesGet)
				r.Put("/", a.handleSchedulesUpdate)
				r.Delete("/", a.handleSchedulesDelete)
			})
		})

		r.Get("/logs", a.handleLogs)
		r.Get("/version", a.handleVersion)
	})
}

// handleLogs returns recent in-memory log entries, optionally filtered by
// level.
func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	if limit > 1000 {
		limit = 1000
	}
	entries := a.logBuffer.Recent(limit, r.URL.Query().Get("level"))
	writeJSON(w, http.StatusOK, map[string]any{
		"logs":  entries,
		"count": len(entries),
	})
}

func (a *API) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": version.Version})
}

func decodeJSON(r *http.Request, dest any) error {
	defer r.Body.Close()
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20)).Decode(dest)
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 1 {
		return def
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
