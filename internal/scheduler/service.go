/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scheduler runs recurring fill schedules. Each enabled schedule is
// a cron entry; a trigger replays the stored request template against a
// date range anchored at the trigger day.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/skuld_calendar/internal/cache"
	"github.com/friendsincode/skuld_calendar/internal/eventbus"
	"github.com/friendsincode/skuld_calendar/internal/events"
	"github.com/friendsincode/skuld_calendar/internal/models"
	"github.com/friendsincode/skuld_calendar/internal/orchestrator"
	"github.com/friendsincode/skuld_calendar/internal/telemetry"
)

// Service owns the cron runner and reloads it whenever schedules change.
type Service struct {
	db     *gorm.DB
	orch   *orchestrator.Orchestrator
	bus    eventbus.Bus
	cache  *cache.Cache
	logger zerolog.Logger

	parser cron.Parser

	mu       sync.Mutex
	c        *cron.Cron
	inFlight map[string]bool
}

// NewService creates the recurring fill scheduler. entityCache may be nil.
func NewService(db *gorm.DB, orch *orchestrator.Orchestrator, bus eventbus.Bus, entityCache *cache.Cache, logger zerolog.Logger) *Service {
	return &Service{
		db:       db,
		orch:     orch,
		bus:      bus,
		cache:    entityCache,
		logger:   logger.With().Str("component", "scheduler").Logger(),
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		inFlight: make(map[string]bool),
	}
}

// ValidateCronExpr reports whether spec parses with the service's cron
// dialect (standard five fields plus descriptors like @daily).
func (s *Service) ValidateCronExpr(spec string) error {
	_, err := s.parser.Parse(spec)
	return err
}

// Run loads schedules, starts cron and keeps the entry set in sync with
// schedule changes until ctx ends.
func (s *Service) Run(ctx context.Context) {
	s.reload(ctx)

	changes := s.bus.SubscribeMany(events.EventScheduleUpdated, events.EventScheduleDeleted)
	defer s.bus.UnsubscribeMany(changes, events.EventScheduleUpdated, events.EventScheduleDeleted)

	for {
		select {
		case <-ctx.Done():
			s.stop()
			s.logger.Info().Msg("scheduler stopped")
			return

		case <-changes:
			s.logger.Debug().Msg("schedule change observed, reloading cron entries")
			s.reload(ctx)
		}
	}
}

// reload replaces the running cron with one built from the current
// enabled schedules.
func (s *Service) reload(ctx context.Context) {
	var schedules []models.FillSchedule
	if err := s.db.WithContext(ctx).Where("enabled = ?", true).Find(&schedules).Error; err != nil {
		s.logger.Error().Err(err).Msg("failed to load schedules, keeping previous cron entries")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.c != nil {
		<-s.c.Stop().Done()
	}
	s.c = cron.New(cron.WithParser(s.parser))

	registered := 0
	for _, sched := range schedules {
		id := sched.ID
		spec := sched.CronExpr
		if sched.Timezone != "" {
			// robfig/cron resolves per-entry zones from this prefix.
			spec = fmt.Sprintf("CRON_TZ=%s %s", sched.Timezone, sched.CronExpr)
		}
		if _, err := s.c.AddFunc(spec, func() { s.trigger(ctx, id) }); err != nil {
			s.logger.Error().Err(err).Str("schedule_id", id).Str("cron", sched.CronExpr).Msg("rejected cron expression")
			continue
		}
		registered++
	}

	s.c.Start()
	s.logger.Info().Int("schedules", registered).Msg("cron entries registered")
}

func (s *Service) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		<-s.c.Stop().Done()
		s.c = nil
	}
}

// trigger runs one schedule. The row is re-read so edits made after cron
// registration still apply, and overlapping triggers of the same schedule
// are skipped.
func (s *Service) trigger(ctx context.Context, scheduleID string) {
	s.mu.Lock()
	if s.inFlight[scheduleID] {
		s.mu.Unlock()
		s.logger.Warn().Str("schedule_id", scheduleID).Msg("previous run still in flight, skipping trigger")
		telemetry.ScheduleRunsTotal.WithLabelValues("skipped").Inc()
		return
	}
	s.inFlight[scheduleID] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inFlight, scheduleID)
		s.mu.Unlock()
	}()

	var sched models.FillSchedule
	if err := s.db.WithContext(ctx).First(&sched, "id = ?", scheduleID).Error; err != nil {
		s.logger.Warn().Err(err).Str("schedule_id", scheduleID).Msg("schedule disappeared before trigger")
		telemetry.ScheduleRunsTotal.WithLabelValues("error").Inc()
		return
	}
	if !sched.Enabled {
		return
	}

	logger := s.logger.With().Str("schedule_id", sched.ID).Str("name", sched.Name).Logger()
	logger.Info().Int("count", sched.Count).Int("days_ahead", sched.DaysAhead).Msg("schedule triggered")

	summary, err := s.orch.CreateEvents(ctx, s.buildRequest(sched))
	if err != nil {
		result := "error"
		if orchestrator.IsRejection(err) {
			result = "rejected"
		}
		telemetry.ScheduleRunsTotal.WithLabelValues(result).Inc()
		logger.Error().Err(err).Msg("scheduled fill failed")
		s.recordRun(ctx, sched.ID, "")
		return
	}

	telemetry.ScheduleRunsTotal.WithLabelValues("ok").Inc()
	s.bus.Publish(events.EventScheduleTriggered, events.Payload{
		"schedule_id": sched.ID,
		"name":        sched.Name,
		"request_id":  summary.RequestID,
		"successful":  summary.SuccessfulCount,
		"failed":      summary.FailedCount,
	})
	logger.Info().
		Str("request_id", summary.RequestID).
		Int("successful", summary.SuccessfulCount).
		Int("failed", summary.FailedCount).
		Msg("scheduled fill completed")

	s.recordRun(ctx, sched.ID, summary.RequestID)
}

// buildRequest turns the stored template into a fill request anchored at
// the trigger day in the schedule's timezone.
func (s *Service) buildRequest(sched models.FillSchedule) orchestrator.Request {
	loc := time.UTC
	if sched.Timezone != "" {
		if parsed, err := time.LoadLocation(sched.Timezone); err == nil {
			loc = parsed
		}
	}

	days := sched.DaysAhead
	if days < 0 {
		days = 0
	}
	now := time.Now().In(loc)

	return orchestrator.Request{
		StartDate:         now,
		EndDate:           now.AddDate(0, 0, days),
		Count:             sched.Count,
		Description:       sched.Description,
		Timezone:          sched.Timezone,
		EarliestStartHour: sched.EarliestStartHour,
	}
}

// recordRun stamps the schedule row with the trigger outcome.
func (s *Service) recordRun(ctx context.Context, scheduleID, requestID string) {
	now := time.Now()
	updates := map[string]any{"last_run_at": now}
	if requestID != "" {
		updates["last_request_id"] = requestID
	}
	if err := s.db.WithContext(ctx).Model(&models.FillSchedule{}).Where("id = ?", scheduleID).Updates(updates).Error; err != nil {
		s.logger.Warn().Err(err).Str("schedule_id", scheduleID).Msg("failed to record schedule run")
	}

	if s.cache != nil {
		if err := s.cache.InvalidateScheduleList(ctx); err != nil {
			s.logger.Debug().Err(err).Msg("schedule list cache invalidation failed")
		}
	}
}
