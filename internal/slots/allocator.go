/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package slots computes non-overlapping calendar intervals for a batch of
// entries inside a date range, honoring a daily working window that may
// wrap past midnight.
package slots

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

// Placement starts are rejected outside [now, now + maxFutureHorizon] to
// stop arithmetic errors compounding into nonsensical dates.
const maxFutureHorizon = 365 * 24 * time.Hour

// Config controls placement behavior.
type Config struct {
	WindowStartHour    int // hour of day the working window opens (0-23)
	WindowEndHour      int // hour the window closes; <= start means it runs past midnight
	BufferMinutes      int // minimum gap inserted when resolving conflicts
	StartJitterMinutes int // random spread applied after the earliest start hour
	MaxAttempts        int // conflict advancement attempts before a slot is skipped
}

// DefaultConfig returns the stock placement configuration: an 8 AM window
// closing at 1 AM the next day, 15 minute buffers and up to two hours of
// start jitter.
func DefaultConfig() Config {
	return Config{
		WindowStartHour:    8,
		WindowEndHour:      1,
		BufferMinutes:      15,
		StartJitterMinutes: 120,
		MaxAttempts:        20,
	}
}

// Allocator places intervals for one request at a time.
type Allocator struct {
	cfg    Config
	logger zerolog.Logger
}

// New creates an allocator.
func New(cfg Config, logger zerolog.Logger) *Allocator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	return &Allocator{
		cfg:    cfg,
		logger: logger.With().Str("component", "slot_allocator").Logger(),
	}
}

// Request describes one allocation run.
type Request struct {
	RangeStart time.Time // first day of the inclusive range, any time of day
	RangeEnd   time.Time // last day of the inclusive range

	// Durations carries one entry per event to place; the slice length is
	// the event count.
	Durations []time.Duration

	// EarliestStartHour overrides the window start hour for initial
	// placement; negative means use the window start hour.
	EarliestStartHour int

	// Existing holds intervals already committed before this run. Placed
	// intervals are appended to it as the run progresses, so each
	// placement observes all prior ones.
	Existing *ScheduledSet

	// Seed fixes the jitter sequence; zero derives a seed from the clock.
	Seed int64

	// Now anchors the validity guard; zero means time.Now().
	Now time.Time
}

// Placement is one successfully allocated slot.
type Placement struct {
	Index    int
	Interval Interval
	Attempts int
}

// Skip records an event that could not be placed, with the reason. Skips
// are surfaced to the caller rather than silently dropped.
type Skip struct {
	Index  int
	Reason string
}

// Result is the outcome of one allocation run.
type Result struct {
	Placed  []Placement
	Skipped []Skip
}

// Allocate places one interval per duration, spreading events across the
// inclusive day span by linear interpolation with a small randomized
// single-day jitter. Events within the run never overlap each other or the
// pre-existing intervals, and never land outside the day span: a candidate
// pushed past the final day by conflict advancement is skipped instead.
func (a *Allocator) Allocate(req Request) (Result, error) {
	if len(req.Durations) == 0 {
		return Result{}, fmt.Errorf("no durations provided")
	}
	if req.RangeEnd.Before(req.RangeStart) {
		return Result{}, fmt.Errorf("range end %s precedes range start %s", req.RangeEnd.Format(time.RFC3339), req.RangeStart.Format(time.RFC3339))
	}
	for i, d := range req.Durations {
		if d <= 0 {
			return Result{}, fmt.Errorf("duration %d must be positive, got %s", i, d)
		}
	}

	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}

	seed := req.Seed
	if seed == 0 {
		seed = now.UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	loc := req.RangeStart.Location()
	startDay := dayOf(req.RangeStart)
	totalDays := daysBetween(startDay, dayOf(req.RangeEnd)) + 1

	earliest := req.EarliestStartHour
	if earliest < 0 {
		earliest = a.cfg.WindowStartHour
	}

	set := req.Existing
	if set == nil {
		set = NewScheduledSet()
	}

	count := len(req.Durations)
	var res Result
	for i, duration := range req.Durations {
		placement, skip := a.placeOne(i, count, duration, startDay, totalDays, earliest, loc, now, rng, set)
		if skip != nil {
			a.logger.Debug().Int("index", skip.Index).Str("reason", skip.Reason).Msg("slot skipped")
			res.Skipped = append(res.Skipped, *skip)
			continue
		}
		set.Add(placement.Interval)
		res.Placed = append(res.Placed, placement)
	}

	return res, nil
}

// placeOne computes a candidate interval for event index and resolves
// conflicts against the committed set.
func (a *Allocator) placeOne(index, count int, duration time.Duration, startDay time.Time, totalDays, earliestHour int, loc *time.Location, now time.Time, rng *rand.Rand, existing *ScheduledSet) (Placement, *Skip) {
	if duration > a.usableWindow(earliestHour) {
		return Placement{}, &Skip{Index: index, Reason: fmt.Sprintf("duration %s exceeds the daily working window", duration)}
	}

	lastDay := startDay.AddDate(0, 0, totalDays-1)
	offset := targetDayOffset(index, count, totalDays, rng)
	day := startDay.AddDate(0, 0, offset)

	jitter := 0
	if a.cfg.StartJitterMinutes > 0 {
		jitter = rng.Intn(a.cfg.StartJitterMinutes + 1)
	}
	start := at(day, earliestHour, loc).Add(time.Duration(jitter) * time.Minute)
	start, end := a.fitWindow(start, duration, earliestHour, loc)

	buffer := time.Duration(a.cfg.BufferMinutes) * time.Minute
	attempts := 0
	for {
		attempts++
		if attempts > a.cfg.MaxAttempts {
			return Placement{}, &Skip{Index: index, Reason: fmt.Sprintf("no free slot after %d attempts", a.cfg.MaxAttempts)}
		}

		if start.Before(now) {
			return Placement{}, &Skip{Index: index, Reason: "computed start is in the past"}
		}
		if start.After(now.Add(maxFutureHorizon)) {
			return Placement{}, &Skip{Index: index, Reason: "computed start is more than a year ahead"}
		}
		if a.owningDay(start).After(lastDay) {
			return Placement{}, &Skip{Index: index, Reason: "no free slot left inside the range"}
		}

		conflict, found := existing.firstConflict(Interval{Start: start, End: end})
		if !found {
			break
		}

		start = conflict.End.Add(buffer)
		start, end = a.fitWindow(start, duration, earliestHour, loc)
	}

	return Placement{Index: index, Interval: Interval{Start: start, End: end}, Attempts: attempts}, nil
}

// targetDayOffset spreads event index across the day span by linear
// interpolation, with a ~30% chance of shifting one day either way. The
// result always stays within [0, totalDays-1].
func targetDayOffset(index, count, totalDays int, rng *rand.Rand) int {
	span := max(1, totalDays-1)
	divisor := max(1, count-1)
	offset := index * span / divisor

	if rng.Float64() < 0.3 {
		if rng.Intn(2) == 0 {
			offset--
		} else {
			offset++
		}
	}

	return min(max(offset, 0), totalDays-1)
}

// fitWindow moves a candidate start until start and end both sit inside a
// single day's working window. A candidate whose end crosses the window
// close is pushed to the next day's earliest start hour.
func (a *Allocator) fitWindow(start time.Time, duration time.Duration, earliestHour int, loc *time.Location) (time.Time, time.Time) {
	for {
		day := a.owningDay(start)

		// Starts in the dead zone between the window close and the day's
		// earliest start are lifted to the earliest start.
		earliestToday := at(day, earliestHour, loc)
		if start.Before(earliestToday) {
			start = earliestToday
		}

		end := start.Add(duration)
		if !end.After(a.windowEnd(day, loc)) {
			return start, end
		}

		start = at(day.AddDate(0, 0, 1), earliestHour, loc)
	}
}

// owningDay maps an instant to the calendar day whose working window
// contains it. Early-morning times inside a wrapped window belong to the
// previous day.
func (a *Allocator) owningDay(t time.Time) time.Time {
	day := dayOf(t)
	if a.windowWraps() && t.Hour() < a.cfg.WindowEndHour {
		return day.AddDate(0, 0, -1)
	}
	return day
}

// windowEnd returns the moment day's working window closes.
func (a *Allocator) windowEnd(day time.Time, loc *time.Location) time.Time {
	if a.windowWraps() {
		return at(day.AddDate(0, 0, 1), a.cfg.WindowEndHour, loc)
	}
	return at(day, a.cfg.WindowEndHour, loc)
}

func (a *Allocator) windowWraps() bool {
	return a.cfg.WindowEndHour <= a.cfg.WindowStartHour
}

// usableWindow returns how much time a single day offers from the earliest
// start hour to the window close.
func (a *Allocator) usableWindow(earliestHour int) time.Duration {
	if a.windowWraps() {
		return time.Duration(24-earliestHour+a.cfg.WindowEndHour) * time.Hour
	}
	return time.Duration(a.cfg.WindowEndHour-earliestHour) * time.Hour
}

// at builds the wall-clock instant for hour on day in loc.
func at(day time.Time, hour int, loc *time.Location) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, loc)
}

// dayOf truncates t to midnight in its own location.
func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// daysBetween counts calendar days from a to b, ignoring DST shifts.
func daysBetween(a, b time.Time) int {
	ua := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua) / (24 * time.Hour))
}
