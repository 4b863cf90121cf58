/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/skuld_calendar/internal/cache"
	"github.com/friendsincode/skuld_calendar/internal/calstore"
	"github.com/friendsincode/skuld_calendar/internal/events"
)

// handleEventsList returns calendar events carrying the requested tag. The
// owner tag is the default, so a bare call lists exactly the events this
// service manages.
func (a *API) handleEventsList(w http.ResponseWriter, r *http.Request) {
	tag := r.URL.Query().Get("tag")
	if tag == "" {
		tag = a.orch.OwnerTag()
	}

	if a.cache != nil {
		if cached, ok := a.cache.GetEventList(r.Context(), tag); ok {
			writeJSON(w, http.StatusOK, map[string]any{"events": cached, "tag": tag})
			return
		}
	}

	stored, err := a.store.List(r.Context(), tag)
	if err != nil {
		a.logger.Error().Err(err).Str("tag", tag).Msg("calendar listing failed")
		writeError(w, http.StatusBadGateway, "calendar store unavailable")
		return
	}

	eventList := make([]cache.CachedEvent, 0, len(stored))
	for _, ev := range stored {
		eventList = append(eventList, cache.CachedEvent{
			ID:       ev.ExternalID,
			Title:    ev.Title,
			StartsAt: ev.StartsAt,
			EndsAt:   ev.EndsAt,
			Timezone: ev.Timezone,
			Tag:      ev.Tag,
		})
	}

	if a.cache != nil {
		_ = a.cache.SetEventList(r.Context(), tag, eventList)
	}

	writeJSON(w, http.StatusOK, map[string]any{"events": eventList, "tag": tag})
}

// handleEventsDelete removes one event from the calendar backend.
func (a *API) handleEventsDelete(w http.ResponseWriter, r *http.Request) {
	externalID := chi.URLParam(r, "externalID")

	if err := a.store.Delete(r.Context(), externalID); err != nil {
		if errors.Is(err, calstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		a.logger.Error().Err(err).Str("external_id", externalID).Msg("calendar delete failed")
		writeError(w, http.StatusBadGateway, "calendar store unavailable")
		return
	}

	tag := a.orch.OwnerTag()
	if a.cache != nil {
		_ = a.cache.InvalidateEventList(r.Context(), tag)
	}
	a.bus.Publish(events.EventCalendarChanged, events.Payload{"tag": tag})

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
