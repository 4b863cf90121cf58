/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/skuld_calendar/internal/eventbus"
	"github.com/friendsincode/skuld_calendar/internal/events"
	"github.com/friendsincode/skuld_calendar/internal/models"
	"github.com/friendsincode/skuld_calendar/internal/telemetry"
)

// EventFillCompleted is the event name carried in webhook payloads.
const EventFillCompleted = "fill_completed"

// Payload is the JSON body delivered to webhook endpoints.
type Payload struct {
	Event       string    `json:"event"`
	Timestamp   time.Time `json:"timestamp"`
	RequestID   string    `json:"request_id"`
	Description string    `json:"description,omitempty"`
	Requested   int       `json:"requested"`
	Successful  int       `json:"successful"`
	Failed      int       `json:"failed"`
	DurationMS  int64     `json:"duration_ms"`
}

// Service posts a notification to every configured URL when a fill run
// completes. Endpoints and the optional signing secret come from
// configuration; there is no per-endpoint subscription model.
type Service struct {
	db     *gorm.DB
	bus    eventbus.Bus
	urls   []string
	secret string
	logger zerolog.Logger
	client *http.Client
}

// NewService creates the webhook notifier.
func NewService(db *gorm.DB, bus eventbus.Bus, urls []string, secret string, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		urls:   urls,
		secret: secret,
		logger: logger.With().Str("component", "webhooks").Logger(),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Run listens for fill completions until ctx ends. It is a no-op when no
// URLs are configured.
func (s *Service) Run(ctx context.Context) {
	if len(s.urls) == 0 {
		s.logger.Debug().Msg("no webhook URLs configured")
		return
	}

	completed := s.bus.Subscribe(events.EventFillCompleted)
	defer s.bus.Unsubscribe(events.EventFillCompleted, completed)

	s.logger.Info().Int("endpoints", len(s.urls)).Msg("webhook service started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("webhook service stopping")
			return

		case payload := <-completed:
			s.handleCompletion(ctx, payload)
		}
	}
}

// handleCompletion builds the outbound payload and fans it out.
func (s *Service) handleCompletion(ctx context.Context, payload events.Payload) {
	requestID, ok := payload["request_id"].(string)
	if !ok || requestID == "" {
		return
	}

	out := Payload{
		Event:      EventFillCompleted,
		Timestamp:  time.Now().UTC(),
		RequestID:  requestID,
		Requested:  intField(payload, "requested"),
		Successful: intField(payload, "successful"),
		Failed:     intField(payload, "failed"),
		DurationMS: int64(intField(payload, "duration_ms")),
	}

	// The bus payload stays lean; the description comes from the history row.
	var req models.FillRequest
	if err := s.db.WithContext(ctx).First(&req, "id = ?", requestID).Error; err == nil {
		out.Description = req.Description
	}

	body, err := json.Marshal(out)
	if err != nil {
		s.logger.Error().Err(err).Str("request_id", requestID).Msg("failed to marshal webhook payload")
		return
	}

	for _, url := range s.urls {
		go s.send(ctx, url, body)
	}
}

// send delivers one webhook request.
func (s *Service) send(ctx context.Context, url string, body []byte) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		s.logger.Error().Err(err).Str("url", url).Msg("failed to create webhook request")
		telemetry.WebhookDeliveriesTotal.WithLabelValues("error").Inc()
		return
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Skuld-Calendar-Webhook/1.0")
	req.Header.Set("X-Skuld-Event", EventFillCompleted)
	req.Header.Set("X-Skuld-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))

	if s.secret != "" {
		req.Header.Set("X-Skuld-Signature", signPayload(body, s.secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error().Err(err).Str("url", url).Msg("webhook delivery failed")
		telemetry.WebhookDeliveriesTotal.WithLabelValues("error").Inc()
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		s.logger.Debug().Str("url", url).Int("status", resp.StatusCode).Msg("webhook delivered")
		telemetry.WebhookDeliveriesTotal.WithLabelValues("ok").Inc()
	} else {
		s.logger.Warn().Str("url", url).Int("status", resp.StatusCode).Msg("webhook returned error status")
		telemetry.WebhookDeliveriesTotal.WithLabelValues("rejected").Inc()
	}
}

// signPayload creates an HMAC-SHA256 signature over the request body.
func signPayload(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// intField reads a numeric payload field. Events that crossed a broker have
// been through JSON, which turns every number into a float64.
func intField(payload events.Payload, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
