/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package orchestrator coordinates one fill request end to end: validate,
// resolve content, allocate slots, execute batched calendar writes, and
// summarize. Only invalid input fails a request; every downstream failure
// degrades into per-event outcomes.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/skuld_calendar/internal/batch"
	"github.com/friendsincode/skuld_calendar/internal/cache"
	"github.com/friendsincode/skuld_calendar/internal/calstore"
	"github.com/friendsincode/skuld_calendar/internal/content"
	"github.com/friendsincode/skuld_calendar/internal/eventbus"
	"github.com/friendsincode/skuld_calendar/internal/events"
	"github.com/friendsincode/skuld_calendar/internal/models"
	"github.com/friendsincode/skuld_calendar/internal/slots"
	"github.com/friendsincode/skuld_calendar/internal/telemetry"
)

// State tracks a fill request through the pipeline.
type State string

const (
	StateValidating  State = "validating_input"
	StateResolving   State = "resolving_content"
	StateAllocating  State = "allocating_slots"
	StateExecuting   State = "executing_batches"
	StateSummarizing State = "summarizing"
	StateDone        State = "done"
	StateRejected    State = "rejected"
)

// Request is one fill operation's input.
type Request struct {
	StartDate   time.Time
	EndDate     time.Time
	Count       int
	Description string

	// Timezone is an IANA zone name; empty means UTC.
	Timezone string

	// EarliestStartHour bounds the first possible start each day; negative
	// means the configured working window start.
	EarliestStartHour int

	// Seed fixes the placement jitter; zero derives from the clock.
	Seed int64
}

// SummaryEvent is one entry in the reply. Failed entries keep their position
// so the caller always sees as many entries as were requested.
type SummaryEvent struct {
	ID          string
	Title       string
	Start       time.Time
	End         time.Time
	Status      models.EventStatus
	Error       string
	Placeholder bool
}

// Summary is the final accounting for a fill run. SuccessfulCount plus
// FailedCount always equals RequestedCount.
type Summary struct {
	RequestID       string
	RequestedCount  int
	SuccessfulCount int
	FailedCount     int
	Events          []SummaryEvent
	ContentSource   content.Source
	Elapsed         time.Duration
}

// RejectionError marks input the pipeline refused before any external call.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string { return "fill request rejected: " + e.Reason }

// IsRejection reports whether err is an input rejection.
func IsRejection(err error) bool {
	var r *RejectionError
	return errors.As(err, &r)
}

// Options sizes a fill run.
type Options struct {
	Slots     slots.Config
	GroupSize int
	Cooldown  time.Duration
	MaxEvents int
	OwnerTag  string
}

// DefaultOptions mirrors the stock configuration.
func DefaultOptions() Options {
	return Options{
		Slots:     slots.DefaultConfig(),
		GroupSize: batch.DefaultGroupSize,
		Cooldown:  batch.DefaultCooldown,
		MaxEvents: 30,
		OwnerTag:  "skuld",
	}
}

// Orchestrator drives fill requests. One instance serves the whole process;
// per-request state lives on the stack of CreateEvents.
type Orchestrator struct {
	db        *gorm.DB
	resolver  *content.Resolver
	store     calstore.Store
	bus       eventbus.Bus
	cache     *cache.Cache
	allocator *slots.Allocator
	opts      Options
	logger    zerolog.Logger
}

// New assembles the orchestrator. entityCache may be nil when Redis is not
// configured.
func New(db *gorm.DB, resolver *content.Resolver, store calstore.Store, bus eventbus.Bus, entityCache *cache.Cache, opts Options, logger zerolog.Logger) *Orchestrator {
	if opts.GroupSize <= 0 {
		opts.GroupSize = batch.DefaultGroupSize
	}
	if opts.Cooldown < 0 {
		opts.Cooldown = batch.DefaultCooldown
	}
	if opts.MaxEvents <= 0 {
		opts.MaxEvents = 30
	}
	if opts.OwnerTag == "" {
		opts.OwnerTag = "skuld"
	}
	return &Orchestrator{
		db:        db,
		resolver:  resolver,
		store:     store,
		bus:       bus,
		cache:     entityCache,
		allocator: slots.New(opts.Slots, logger),
		opts:      opts,
		logger:    logger.With().Str("component", "orchestrator").Logger(),
	}
}

// OwnerTag returns the tag stamped on events this service creates.
func (o *Orchestrator) OwnerTag() string { return o.opts.OwnerTag }

// MaxEvents is the per-request event ceiling, exposed so callers can
// validate before submitting.
func (o *Orchestrator) MaxEvents() int { return o.opts.MaxEvents }

// CreateEvents runs the full pipeline for one request and returns the
// summary. The only error return is a *RejectionError for invalid input or
// an internal fault; degraded providers, unplaceable slots and store write
// failures all land in the summary instead.
func (o *Orchestrator) CreateEvents(ctx context.Context, req Request) (*Summary, error) {
	ctx, span := telemetry.StartSpan(ctx, "orchestrator", "CreateEvents")
	defer span.End()

	requestID := uuid.NewString()
	started := time.Now()
	logger := o.logger.With().Str("request_id", requestID).Logger()
	telemetry.AddSpanAttributes(span, map[string]any{
		"fill.request_id": requestID,
		"fill.count":      req.Count,
	})

	state := StateValidating
	advance := func(next State) {
		state = next
		logger.Debug().Str("state", string(state)).Msg("fill state change")
	}

	loc, rejection := o.validate(req)
	if rejection != nil {
		advance(StateRejected)
		telemetry.FillRequestsTotal.WithLabelValues("rejected").Inc()
		telemetry.RecordError(span, rejection)
		o.recordRejection(ctx, requestID, req, rejection)
		o.bus.Publish(events.EventFillRejected, events.Payload{
			"request_id": requestID,
			"reason":     rejection.Reason,
		})
		logger.Warn().Str("reason", rejection.Reason).Msg("fill request rejected")
		return nil, rejection
	}

	timezone := loc.String()
	rangeStart := midnightIn(req.StartDate, loc)
	rangeEnd := midnightIn(req.EndDate, loc)

	o.bus.Publish(events.EventFillStarted, events.Payload{
		"request_id":  requestID,
		"description": req.Description,
		"count":       req.Count,
		"start_date":  rangeStart.Format("2006-01-02"),
		"end_date":    rangeEnd.Format("2006-01-02"),
	})
	logger.Info().
		Int("count", req.Count).
		Str("timezone", timezone).
		Msg("fill request accepted")

	advance(StateResolving)
	items, source := o.resolver.Resolve(ctx, req.Description, req.Count)
	if source == content.SourceFallback || source == content.SourceMixed {
		o.bus.Publish(events.EventProviderDegraded, events.Payload{
			"request_id": requestID,
			"source":     string(source),
		})
	}
	telemetry.AddSpanAttributes(span, map[string]any{"fill.content_source": string(source)})

	advance(StateAllocating)
	result, err := o.allocator.Allocate(slots.Request{
		RangeStart:        rangeStart,
		RangeEnd:          rangeEnd,
		Durations:         durationsOf(items),
		EarliestStartHour: req.EarliestStartHour,
		Existing:          o.existingIntervals(ctx),
		Seed:              req.Seed,
	})
	if err != nil {
		// Validation already screened the inputs, so this is an internal
		// fault, not a rejection.
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("allocate slots: %w", err)
	}
	for _, p := range result.Placed {
		telemetry.SlotPlacementAttempts.Observe(float64(p.Attempts))
	}
	for _, s := range result.Skipped {
		telemetry.SlotsSkippedTotal.Inc()
		logger.Warn().Int("index", s.Index).Str("reason", s.Reason).Msg("slot skipped")
	}

	advance(StateExecuting)
	pairings := o.pair(items, result, rangeEnd, loc)
	tasks := o.buildTasks(pairings, timezone)

	exec := batch.NewExecutor(batch.Config{GroupSize: o.opts.GroupSize, Cooldown: o.opts.Cooldown}, logger)
	exec.OnGroupDone = func(group, groups int, outcomes []batch.Outcome) {
		o.reportGroup(requestID, group, groups, pairings, outcomes)
	}
	outcomes := exec.Execute(ctx, tasks)

	advance(StateSummarizing)
	summary := summarize(requestID, pairings, outcomes, source, started)
	o.persistRun(ctx, requestID, req, timezone, rangeStart, rangeEnd, summary)
	o.invalidateCaches(ctx, requestID)

	telemetry.FillRequestsTotal.WithLabelValues("done").Inc()
	telemetry.FillDuration.Observe(summary.Elapsed.Seconds())
	telemetry.FillEventsTotal.WithLabelValues(string(models.EventStatusCreated)).Add(float64(summary.SuccessfulCount))
	telemetry.FillEventsTotal.WithLabelValues(string(models.EventStatusFailed)).Add(float64(summary.FailedCount))

	o.bus.Publish(events.EventFillCompleted, events.Payload{
		"request_id":  requestID,
		"requested":   summary.RequestedCount,
		"successful":  summary.SuccessfulCount,
		"failed":      summary.FailedCount,
		"duration_ms": summary.Elapsed.Milliseconds(),
	})

	advance(StateDone)
	logger.Info().
		Int("requested", summary.RequestedCount).
		Int("successful", summary.SuccessfulCount).
		Int("failed", summary.FailedCount).
		Str("content_source", string(source)).
		Dur("elapsed", summary.Elapsed).
		Msg("fill request completed")
	return summary, nil
}

// validate screens the request before any external call. It returns the
// resolved timezone on success so later phases do not re-parse it.
func (o *Orchestrator) validate(req Request) (*time.Location, *RejectionError) {
	if req.StartDate.IsZero() || req.EndDate.IsZero() {
		return nil, &RejectionError{Reason: "start_date and end_date are required"}
	}
	if req.EndDate.Before(req.StartDate) {
		return nil, &RejectionError{Reason: "end_date precedes start_date"}
	}
	if strings.TrimSpace(req.Description) == "" {
		return nil, &RejectionError{Reason: "description is required"}
	}
	if req.Count < 1 || req.Count > o.opts.MaxEvents {
		return nil, &RejectionError{Reason: fmt.Sprintf("count must be between 1 and %d", o.opts.MaxEvents)}
	}
	if req.EarliestStartHour > 23 {
		return nil, &RejectionError{Reason: "earliest_start_hour must be within 0-23"}
	}

	if req.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(req.Timezone)
	if err != nil {
		return nil, &RejectionError{Reason: fmt.Sprintf("unknown timezone %q", req.Timezone)}
	}
	return loc, nil
}

// existingIntervals seeds conflict awareness from events this service
// already owns. A store listing failure degrades to an empty set rather
// than failing the run.
func (o *Orchestrator) existingIntervals(ctx context.Context) *slots.ScheduledSet {
	stored, err := o.store.List(ctx, o.opts.OwnerTag)
	if err != nil {
		o.logger.Warn().Err(err).Msg("listing existing events failed, allocating without conflict awareness")
		return slots.NewScheduledSet()
	}
	intervals := make([]slots.Interval, 0, len(stored))
	for _, ev := range stored {
		intervals = append(intervals, slots.Interval{Start: ev.StartsAt, End: ev.EndsAt})
	}
	return slots.NewScheduledSet(intervals...)
}

// reportGroup publishes per-event and per-group progress after each batch
// group finishes.
func (o *Orchestrator) reportGroup(requestID string, group, groups int, pairings []pairing, outcomes []batch.Outcome) {
	created, failed := 0, 0
	for _, out := range outcomes {
		payload := events.Payload{
			"request_id": requestID,
			"index":      out.Index,
			"title":      pairings[out.Index].item.Title,
		}
		if out.Status == batch.StatusCreated {
			created++
			payload["external_id"] = out.ExternalID
			o.bus.Publish(events.EventFillEventOK, payload)
		} else {
			failed++
			if out.Err != nil {
				payload["error"] = out.Err.Error()
			}
			o.bus.Publish(events.EventFillEventFail, payload)
		}
	}
	o.bus.Publish(events.EventGroupCompleted, events.Payload{
		"request_id": requestID,
		"group":      group,
		"groups":     groups,
		"created":    created,
		"failed":     failed,
	})
}

// summarize folds batch outcomes into the public summary. The executor
// leaves no outcome pending, so the counts always add up to the request.
func summarize(requestID string, pairings []pairing, outcomes []batch.Outcome, source content.Source, started time.Time) *Summary {
	s := &Summary{
		RequestID:      requestID,
		RequestedCount: len(pairings),
		Events:         make([]SummaryEvent, len(pairings)),
		ContentSource:  source,
	}
	for i, out := range outcomes {
		ev := SummaryEvent{
			Title:       pairings[i].item.Title,
			Start:       pairings[i].interval.Start,
			End:         pairings[i].interval.End,
			Placeholder: pairings[i].placeholder,
		}
		if out.Status == batch.StatusCreated {
			ev.ID = out.ExternalID
			ev.Status = models.EventStatusCreated
			s.SuccessfulCount++
		} else {
			ev.Status = models.EventStatusFailed
			if out.Err != nil {
				ev.Error = out.Err.Error()
			}
			s.FailedCount++
		}
		s.Events[i] = ev
	}
	s.Elapsed = time.Since(started)
	return s
}

func durationsOf(items []content.Item) []time.Duration {
	durations := make([]time.Duration, len(items))
	for i, it := range items {
		durations[i] = it.Duration()
	}
	return durations
}

// midnightIn rebuilds t's calendar date at midnight in loc. Dates keep
// their day identity across timezones this way.
func midnightIn(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
