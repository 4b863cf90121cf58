/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
	ws "nhooyr.io/websocket"

	"github.com/friendsincode/skuld_calendar/internal/events"
	"github.com/friendsincode/skuld_calendar/internal/models"
	"github.com/friendsincode/skuld_calendar/internal/telemetry"
)

// progressEventTypes is the event family streamed to fill watchers.
var progressEventTypes = []events.EventType{
	events.EventFillEventOK,
	events.EventFillEventFail,
	events.EventGroupCompleted,
	events.EventFillCompleted,
	events.EventFillRejected,
}

// handleFillProgress streams per-event progress for a fill over a
// websocket. A fill that finished before the watcher connected gets a
// single closing frame instead of a stream.
func (a *API) handleFillProgress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := chi.URLParam(r, "requestID")

	var row models.FillRequest
	err := a.db.WithContext(ctx).First(&row, "id = ?", requestID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "fill request not found")
		return
	}
	if err != nil {
		a.logger.Error().Err(err).Str("request_id", requestID).Msg("failed to load fill request")
		writeError(w, http.StatusInternalServerError, "failed to load fill request")
		return
	}

	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	if done, eventType := fillOutcome(row); done {
		payload := events.Payload{
			"request_id": row.ID,
			"requested":  row.RequestedCount,
			"successful": row.SuccessfulCount,
			"failed":     row.FailedCount,
		}
		if err := a.writeEvent(ctx, conn, eventType, payload); err == nil {
			conn.Close(ws.StatusNormalClosure, "fill finished")
		}
		return
	}

	sub := a.bus.SubscribeMany(progressEventTypes...)
	defer a.bus.UnsubscribeMany(sub, progressEventTypes...)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "context cancelled")
			return
		case <-ticker.C:
			if err := conn.Write(ctx, ws.MessageText, []byte(`{"type":"ping"}`)); err != nil {
				a.logger.Error().Err(err).Msg("websocket ping failed")
				return
			}
		case payload, ok := <-sub:
			if !ok {
				conn.Close(ws.StatusNormalClosure, "bus closed")
				return
			}
			if id, _ := payload["request_id"].(string); id != requestID {
				continue
			}
			eventType, _ := payload["event"].(string)
			if err := a.writeEvent(ctx, conn, events.EventType(eventType), payload); err != nil {
				a.logger.Error().Err(err).Msg("websocket write failed")
				return
			}
			if eventType == string(events.EventFillCompleted) || eventType == string(events.EventFillRejected) {
				conn.Close(ws.StatusNormalClosure, "fill finished")
				return
			}
		}
	}
}

// fillOutcome maps a terminal request state to its closing event type.
func fillOutcome(row models.FillRequest) (bool, events.EventType) {
	switch row.State {
	case models.FillStateDone:
		return true, events.EventFillCompleted
	case models.FillStateRejected:
		return true, events.EventFillRejected
	}
	return false, ""
}

func (a *API) writeEvent(ctx context.Context, conn *ws.Conn, eventType events.EventType, payload events.Payload) error {
	data := map[string]any{
		"type":    eventType,
		"payload": payload,
	}
	bytes, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return conn.Write(ctx, ws.MessageText, bytes)
}
