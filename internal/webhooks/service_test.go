/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/skuld_calendar/internal/eventbus"
	"github.com/friendsincode/skuld_calendar/internal/events"
	"github.com/friendsincode/skuld_calendar/internal/models"
)

type delivery struct {
	body   []byte
	header http.Header
}

func newWebhookDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := db.AutoMigrate(&models.FillRequest{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestHandleCompletionDeliversSignedPayload(t *testing.T) {
	db := newWebhookDB(t)
	if err := db.Create(&models.FillRequest{ID: "req-1", Description: "study sessions"}).Error; err != nil {
		t.Fatalf("seed request: %v", err)
	}

	got := make(chan delivery, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- delivery{body: body, header: r.Header.Clone()}
	}))
	defer srv.Close()

	svc := NewService(db, eventbus.NewLocal(), []string{srv.URL}, "topsecret", zerolog.Nop())
	// Numeric fields arrive as float64 after a JSON hop through a broker.
	svc.handleCompletion(context.Background(), events.Payload{
		"request_id":  "req-1",
		"requested":   float64(5),
		"successful":  float64(4),
		"failed":      float64(1),
		"duration_ms": float64(1200),
	})

	var d delivery
	select {
	case d = <-got:
	case <-time.After(3 * time.Second):
		t.Fatal("webhook was not delivered")
	}

	var p Payload
	if err := json.Unmarshal(d.body, &p); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if p.Event != EventFillCompleted {
		t.Fatalf("event = %q, want %q", p.Event, EventFillCompleted)
	}
	if p.RequestID != "req-1" || p.Requested != 5 || p.Successful != 4 || p.Failed != 1 {
		t.Fatalf("unexpected payload: %+v", p)
	}
	if p.Description != "study sessions" {
		t.Fatalf("description = %q, want %q", p.Description, "study sessions")
	}
	if p.DurationMS != 1200 {
		t.Fatalf("duration_ms = %d, want 1200", p.DurationMS)
	}

	if got := d.header.Get("X-Skuld-Event"); got != EventFillCompleted {
		t.Fatalf("X-Skuld-Event = %q, want %q", got, EventFillCompleted)
	}
	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write(d.body)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if sig := d.header.Get("X-Skuld-Signature"); sig != want {
		t.Fatalf("signature = %q, want %q", sig, want)
	}
}

func TestHandleCompletionWithoutSecretOmitsSignature(t *testing.T) {
	db := newWebhookDB(t)

	got := make(chan delivery, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- delivery{body: body, header: r.Header.Clone()}
	}))
	defer srv.Close()

	svc := NewService(db, eventbus.NewLocal(), []string{srv.URL}, "", zerolog.Nop())
	svc.handleCompletion(context.Background(), events.Payload{
		"request_id": "req-2",
		"requested":  3,
		"successful": 3,
		"failed":     0,
	})

	select {
	case d := <-got:
		if sig := d.header.Get("X-Skuld-Signature"); sig != "" {
			t.Fatalf("unexpected signature header %q", sig)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("webhook was not delivered")
	}
}

func TestHandleCompletionIgnoresMalformedPayload(t *testing.T) {
	db := newWebhookDB(t)

	hits := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits <- struct{}{}
	}))
	defer srv.Close()

	svc := NewService(db, eventbus.NewLocal(), []string{srv.URL}, "", zerolog.Nop())
	svc.handleCompletion(context.Background(), events.Payload{"requested": 3})

	select {
	case <-hits:
		t.Fatal("payload without request_id must not be delivered")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRunDeliversOnBusEvent(t *testing.T) {
	db := newWebhookDB(t)

	got := make(chan delivery, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- delivery{body: body, header: r.Header.Clone()}
	}))
	defer srv.Close()

	bus := eventbus.NewLocal()
	svc := NewService(db, bus, []string{srv.URL}, "", zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	// Publish until the delivery lands; Run subscribes asynchronously.
	deadline := time.After(3 * time.Second)
	for {
		bus.Publish(events.EventFillCompleted, events.Payload{
			"request_id": "req-3",
			"requested":  1,
			"successful": 1,
			"failed":     0,
		})
		select {
		case d := <-got:
			var p Payload
			if err := json.Unmarshal(d.body, &p); err != nil {
				t.Fatalf("decode payload: %v", err)
			}
			if p.RequestID != "req-3" {
				t.Fatalf("request_id = %q, want %q", p.RequestID, "req-3")
			}
			return
		case <-deadline:
			t.Fatal("fill completion never reached the webhook endpoint")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestIntFieldHandlesNumericKinds(t *testing.T) {
	payload := events.Payload{"a": 7, "b": int64(8), "c": float64(9), "d": "ten"}
	if got := intField(payload, "a"); got != 7 {
		t.Fatalf("int = %d, want 7", got)
	}
	if got := intField(payload, "b"); got != 8 {
		t.Fatalf("int64 = %d, want 8", got)
	}
	if got := intField(payload, "c"); got != 9 {
		t.Fatalf("float64 = %d, want 9", got)
	}
	if got := intField(payload, "d"); got != 0 {
		t.Fatalf("string = %d, want 0", got)
	}
	if got := intField(payload, "missing"); got != 0 {
		t.Fatalf("missing = %d, want 0", got)
	}
}
