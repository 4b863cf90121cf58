/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/skuld_calendar/internal/calstore"
	"github.com/friendsincode/skuld_calendar/internal/content"
	"github.com/friendsincode/skuld_calendar/internal/eventbus"
	"github.com/friendsincode/skuld_calendar/internal/events"
	"github.com/friendsincode/skuld_calendar/internal/models"
	"github.com/friendsincode/skuld_calendar/internal/orchestrator"
)

type fakeProvider struct{}

func (fakeProvider) Obtain(ctx context.Context, description string, count int) ([]content.Item, error) {
	items := make([]content.Item, count)
	for i := range items {
		items[i] = content.Item{Title: fmt.Sprintf("Session %d", i+1), DurationMinutes: 45}
	}
	return items, nil
}

func openSchedulerTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.FillRequest{}, &models.FillEvent{}, &models.CalendarEvent{}, &models.FillSchedule{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newSchedulerService(t *testing.T, db *gorm.DB, bus eventbus.Bus) *Service {
	t.Helper()
	resolver := content.NewResolver(
		content.NewCache(time.Minute),
		fakeProvider{},
		content.NewGenerator(zerolog.Nop()),
		zerolog.Nop(),
	)
	opts := orchestrator.DefaultOptions()
	opts.Cooldown = time.Millisecond
	opts.Slots.StartJitterMinutes = 0
	orch := orchestrator.New(db, resolver, calstore.NewLocalStore(db, zerolog.Nop()), bus, nil, opts, zerolog.Nop())
	return NewService(db, orch, bus, nil, zerolog.Nop())
}

func TestTriggerRunsScheduledFill(t *testing.T) {
	db := openSchedulerTestDB(t)
	bus := eventbus.NewLocal()
	svc := newSchedulerService(t, db, bus)

	sched := models.FillSchedule{
		ID:                "sched-1",
		Name:              "weekly gym",
		CronExpr:          "0 7 * * 1",
		Description:       "gym",
		Count:             3,
		DaysAhead:         7,
		EarliestStartHour: -1,
		Enabled:           true,
	}
	if err := db.Create(&sched).Error; err != nil {
		t.Fatalf("seed schedule: %v", err)
	}

	triggered := bus.Subscribe(events.EventScheduleTriggered)
	defer bus.Unsubscribe(events.EventScheduleTriggered, triggered)

	svc.trigger(context.Background(), "sched-1")

	select {
	case payload := <-triggered:
		if payload["schedule_id"] != "sched-1" {
			t.Fatalf("schedule_id = %v, want sched-1", payload["schedule_id"])
		}
		if payload["request_id"] == "" || payload["request_id"] == nil {
			t.Fatal("trigger event carries no request_id")
		}
	case <-time.After(time.Second):
		t.Fatal("no schedule.triggered event published")
	}

	var req models.FillRequest
	if err := db.First(&req).Error; err != nil {
		t.Fatalf("fill request row: %v", err)
	}
	if req.Description != "gym" {
		t.Fatalf("description = %q, want %q", req.Description, "gym")
	}
	if req.RequestedCount != 3 {
		t.Fatalf("requested = %d, want 3", req.RequestedCount)
	}

	var after models.FillSchedule
	if err := db.First(&after, "id = ?", "sched-1").Error; err != nil {
		t.Fatalf("reload schedule: %v", err)
	}
	if after.LastRunAt == nil {
		t.Fatal("LastRunAt was not stamped")
	}
	if after.LastRequestID != req.ID {
		t.Fatalf("LastRequestID = %q, want %q", after.LastRequestID, req.ID)
	}
}

func TestTriggerSkipsDisabledSchedule(t *testing.T) {
	db := openSchedulerTestDB(t)
	svc := newSchedulerService(t, db, eventbus.NewLocal())

	sched := models.FillSchedule{
		ID:          "sched-off",
		Name:        "paused",
		CronExpr:    "@daily",
		Description: "reading",
		Count:       2,
		DaysAhead:   3,
		Enabled:     false,
	}
	if err := db.Create(&sched).Error; err != nil {
		t.Fatalf("seed schedule: %v", err)
	}

	svc.trigger(context.Background(), "sched-off")

	var count int64
	if err := db.Model(&models.FillRequest{}).Count(&count).Error; err != nil {
		t.Fatalf("count requests: %v", err)
	}
	if count != 0 {
		t.Fatalf("disabled schedule produced %d fill requests", count)
	}
}

func TestTriggerSkipsOverlappingRun(t *testing.T) {
	db := openSchedulerTestDB(t)
	svc := newSchedulerService(t, db, eventbus.NewLocal())

	sched := models.FillSchedule{
		ID:          "sched-busy",
		Name:        "busy",
		CronExpr:    "@hourly",
		Description: "gym",
		Count:       1,
		DaysAhead:   1,
		Enabled:     true,
	}
	if err := db.Create(&sched).Error; err != nil {
		t.Fatalf("seed schedule: %v", err)
	}

	svc.mu.Lock()
	svc.inFlight["sched-busy"] = true
	svc.mu.Unlock()

	svc.trigger(context.Background(), "sched-busy")

	var count int64
	if err := db.Model(&models.FillRequest{}).Count(&count).Error; err != nil {
		t.Fatalf("count requests: %v", err)
	}
	if count != 0 {
		t.Fatalf("overlapping trigger produced %d fill requests", count)
	}
}

func TestReloadRegistersOnlyValidEnabledSchedules(t *testing.T) {
	db := openSchedulerTestDB(t)
	svc := newSchedulerService(t, db, eventbus.NewLocal())

	rows := []models.FillSchedule{
		{ID: "s1", Name: "good", CronExpr: "0 7 * * *", Description: "gym", Count: 1, DaysAhead: 1, Enabled: true},
		{ID: "s2", Name: "bad cron", CronExpr: "not a cron", Description: "gym", Count: 1, DaysAhead: 1, Enabled: true},
		{ID: "s3", Name: "disabled", CronExpr: "@daily", Description: "gym", Count: 1, DaysAhead: 1, Enabled: false},
		{ID: "s4", Name: "zoned", CronExpr: "30 6 * * 1-5", Description: "gym", Count: 1, DaysAhead: 1, Timezone: "Europe/Oslo", Enabled: true},
	}
	for i := range rows {
		if err := db.Create(&rows[i]).Error; err != nil {
			t.Fatalf("seed schedule %s: %v", rows[i].ID, err)
		}
	}

	svc.reload(context.Background())
	defer svc.stop()

	svc.mu.Lock()
	entries := len(svc.c.Entries())
	svc.mu.Unlock()
	if entries != 2 {
		t.Fatalf("registered %d cron entries, want 2", entries)
	}
}

func TestValidateCronExpr(t *testing.T) {
	svc := newSchedulerService(t, openSchedulerTestDB(t), eventbus.NewLocal())

	for _, good := range []string{"0 7 * * *", "@daily", "*/15 * * * *", "30 6 * * 1-5"} {
		if err := svc.ValidateCronExpr(good); err != nil {
			t.Fatalf("ValidateCronExpr(%q) = %v, want nil", good, err)
		}
	}
	for _, bad := range []string{"", "not a cron", "61 * * * *", "* * * *"} {
		if err := svc.ValidateCronExpr(bad); err == nil {
			t.Fatalf("ValidateCronExpr(%q) accepted invalid spec", bad)
		}
	}
}

func TestBuildRequestAnchorsRangeAtTriggerDay(t *testing.T) {
	svc := newSchedulerService(t, openSchedulerTestDB(t), eventbus.NewLocal())

	sched := models.FillSchedule{
		Description:       "deep work",
		Count:             4,
		DaysAhead:         14,
		Timezone:          "Europe/Oslo",
		EarliestStartHour: 9,
	}
	req := svc.buildRequest(sched)

	if req.Description != "deep work" || req.Count != 4 {
		t.Fatalf("template not carried over: %+v", req)
	}
	if req.Timezone != "Europe/Oslo" {
		t.Fatalf("timezone = %q, want Europe/Oslo", req.Timezone)
	}
	if req.EarliestStartHour != 9 {
		t.Fatalf("earliest start hour = %d, want 9", req.EarliestStartHour)
	}
	if got := req.EndDate.Sub(req.StartDate); got < 13*24*time.Hour || got > 15*24*time.Hour {
		t.Fatalf("range width = %v, want about 14 days", got)
	}

	// Negative DaysAhead clamps to a single day.
	req = svc.buildRequest(models.FillSchedule{Description: "x", Count: 1, DaysAhead: -3})
	if !req.EndDate.Equal(req.StartDate) {
		t.Fatalf("clamped range should be zero width, got %v", req.EndDate.Sub(req.StartDate))
	}
}
