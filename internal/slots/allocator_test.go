/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package slots

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testAllocator(cfg Config) *Allocator {
	return New(cfg, zerolog.Nop())
}

func durations(n int, d time.Duration) []time.Duration {
	out := make([]time.Duration, n)
	for i := range out {
		out[i] = d
	}
	return out
}

func TestAllocateSpreadsAcrossRange(t *testing.T) {
	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	alloc := testAllocator(DefaultConfig())

	res, err := alloc.Allocate(Request{
		RangeStart:        base,
		RangeEnd:          base.AddDate(0, 0, 7),
		Durations:         durations(5, time.Hour),
		EarliestStartHour: -1,
		Seed:              42,
		Now:               base.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	if len(res.Placed) != 5 || len(res.Skipped) != 0 {
		t.Fatalf("expected 5 placements and no skips, got %d/%d", len(res.Placed), len(res.Skipped))
	}

	rangeEnd := base.AddDate(0, 0, 8) // exclusive bound after the last day's window
	for _, p := range res.Placed {
		if p.Interval.Start.Before(base) {
			t.Errorf("placement %d starts before the range: %s", p.Index, p.Interval.Start)
		}
		if p.Interval.Start.After(rangeEnd) {
			t.Errorf("placement %d starts after the range: %s", p.Index, p.Interval.Start)
		}
		if got := p.Interval.Duration(); got != time.Hour {
			t.Errorf("placement %d has duration %s, want 1h", p.Index, got)
		}
	}
}

func TestAllocateNoPairwiseOverlap(t *testing.T) {
	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	alloc := testAllocator(DefaultConfig())

	res, err := alloc.Allocate(Request{
		RangeStart:        base,
		RangeEnd:          base,
		Durations:         durations(10, 45*time.Minute),
		EarliestStartHour: -1,
		Seed:              7,
		Now:               base.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	placed := res.Placed
	for i := 0; i < len(placed); i++ {
		for j := i + 1; j < len(placed); j++ {
			if placed[i].Interval.Overlaps(placed[j].Interval) {
				t.Errorf("placements %d and %d overlap: %v vs %v", placed[i].Index, placed[j].Index, placed[i].Interval, placed[j].Interval)
			}
		}
	}

	if len(res.Placed)+len(res.Skipped) != 10 {
		t.Fatalf("placements and skips must cover all 10 events, got %d+%d", len(res.Placed), len(res.Skipped))
	}
}

func TestAllocateSingleDayBoundary(t *testing.T) {
	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	alloc := testAllocator(DefaultConfig())

	res, err := alloc.Allocate(Request{
		RangeStart:        base,
		RangeEnd:          base,
		Durations:         durations(1, time.Hour),
		EarliestStartHour: -1,
		Seed:              3,
		Now:               base.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if len(res.Placed) != 1 {
		t.Fatalf("expected exactly one placement, got %d", len(res.Placed))
	}

	p := res.Placed[0]
	dayStart := base.Add(8 * time.Hour)           // window opens 8 AM
	dayEnd := base.AddDate(0, 0, 1).Add(time.Hour) // wraps to 1 AM next day
	if p.Interval.Start.Before(dayStart) || p.Interval.End.After(dayEnd) {
		t.Errorf("interval %v outside the working window [%s, %s]", p.Interval, dayStart, dayEnd)
	}
}

func TestAllocateRejectsInvertedRange(t *testing.T) {
	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	alloc := testAllocator(DefaultConfig())

	_, err := alloc.Allocate(Request{
		RangeStart:        base,
		RangeEnd:          base.AddDate(0, 0, -1),
		Durations:         durations(1, time.Hour),
		EarliestStartHour: -1,
	})
	if err == nil {
		t.Fatal("expected an error for an inverted range")
	}
}

func TestAllocateAdvancesPastConflicts(t *testing.T) {
	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	cfg := DefaultConfig()
	cfg.StartJitterMinutes = 0 // make the initial candidate deterministic
	alloc := testAllocator(cfg)

	// Block the whole morning from the window open onward.
	busy := Interval{Start: base.Add(8 * time.Hour), End: base.Add(11 * time.Hour)}

	res, err := alloc.Allocate(Request{
		RangeStart:        base,
		RangeEnd:          base,
		Durations:         durations(1, time.Hour),
		EarliestStartHour: -1,
		Existing:          NewScheduledSet(busy),
		Seed:              9,
		Now:               base.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if len(res.Placed) != 1 {
		t.Fatalf("expected one placement, got %d skips=%v", len(res.Placed), res.Skipped)
	}

	p := res.Placed[0]
	wantStart := busy.End.Add(15 * time.Minute)
	if !p.Interval.Start.Equal(wantStart) {
		t.Errorf("expected start %s after the conflict plus buffer, got %s", wantStart, p.Interval.Start)
	}
	if p.Attempts < 2 {
		t.Errorf("expected at least two attempts, got %d", p.Attempts)
	}
}

func TestAllocateSkipsWhenSaturated(t *testing.T) {
	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	cfg := DefaultConfig()
	cfg.MaxAttempts = 3
	cfg.StartJitterMinutes = 0
	alloc := testAllocator(cfg)

	// A chain of back-to-back busy hours, so every advancement lands on
	// the next conflict until attempts run out.
	busy := make([]Interval, 8)
	for k := range busy {
		busy[k] = Interval{
			Start: base.Add(time.Duration(8+k) * time.Hour),
			End:   base.Add(time.Duration(9+k) * time.Hour),
		}
	}

	res, err := alloc.Allocate(Request{
		RangeStart:        base,
		RangeEnd:          base,
		Durations:         durations(2, time.Hour),
		EarliestStartHour: -1,
		Existing:          NewScheduledSet(busy...),
		Seed:              9,
		Now:               base.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	if len(res.Skipped) != 2 {
		t.Fatalf("expected both events skipped when the calendar is saturated, got %d skips", len(res.Skipped))
	}
	if len(res.Placed)+len(res.Skipped) != 2 {
		t.Fatalf("placements and skips must cover both events, got %d+%d", len(res.Placed), len(res.Skipped))
	}
	for _, s := range res.Skipped {
		if s.Reason == "" {
			t.Errorf("skip %d carries no reason", s.Index)
		}
	}
}

func TestAllocateSkipsWhenRangeExhausted(t *testing.T) {
	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	cfg := Config{
		WindowStartHour:    9,
		WindowEndHour:      11,
		BufferMinutes:      15,
		StartJitterMinutes: 0,
		MaxAttempts:        20,
	}
	alloc := testAllocator(cfg)

	// One event already fills most of the two hour window; the advanced
	// candidate would end past the close and the range has no next day.
	busy := Interval{Start: base.Add(9 * time.Hour), End: base.Add(10*time.Hour + 30*time.Minute)}

	res, err := alloc.Allocate(Request{
		RangeStart:        base,
		RangeEnd:          base,
		Durations:         durations(1, time.Hour),
		EarliestStartHour: -1,
		Existing:          NewScheduledSet(busy),
		Seed:              4,
		Now:               base.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	if len(res.Placed) != 0 || len(res.Skipped) != 1 {
		t.Fatalf("expected a single skip, got %d placements %d skips", len(res.Placed), len(res.Skipped))
	}
	if got := res.Skipped[0].Reason; got != "no free slot left inside the range" {
		t.Errorf("skip reason = %q", got)
	}
}

func TestAllocateWrappedWindowPushesPastClose(t *testing.T) {
	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	cfg := DefaultConfig() // window 8 AM to 1 AM next day
	alloc := testAllocator(cfg)

	res, err := alloc.Allocate(Request{
		RangeStart:        base,
		RangeEnd:          base.AddDate(0, 0, 1),
		Durations:         durations(3, time.Hour),
		EarliestStartHour: 23, // starts land near midnight
		Seed:              11,
		Now:               base.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	for _, p := range res.Placed {
		h := p.Interval.Start.Hour()
		// With an 11 PM earliest start and up to 2h jitter, a valid start is
		// 11 PM, midnight exactly, or pushed to 11 PM the next day; the end
		// must never land in the closed 1 AM - 11 PM gap.
		if h != 23 && h != 0 {
			t.Errorf("placement %d starts at hour %d, outside the wrapped window", p.Index, h)
		}
		endHour := p.Interval.End.Hour()
		endsAtBoundary := endHour == 1 && p.Interval.End.Minute() == 0
		if endHour > 1 && endHour < 23 && !endsAtBoundary {
			t.Errorf("placement %d ends at %s, past the wrap boundary", p.Index, p.Interval.End)
		}
	}
}

func TestAllocateGuardsAgainstPastStarts(t *testing.T) {
	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	alloc := testAllocator(DefaultConfig())

	res, err := alloc.Allocate(Request{
		RangeStart:        base,
		RangeEnd:          base,
		Durations:         durations(1, time.Hour),
		EarliestStartHour: -1,
		Seed:              5,
		Now:               base.AddDate(0, 0, 10), // the whole range is behind us
	})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if len(res.Placed) != 0 || len(res.Skipped) != 1 {
		t.Fatalf("expected a single skip, got %d placements %d skips", len(res.Placed), len(res.Skipped))
	}
}

func TestAllocateGuardsAgainstFarFuture(t *testing.T) {
	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	alloc := testAllocator(DefaultConfig())

	res, err := alloc.Allocate(Request{
		RangeStart:        base.AddDate(2, 0, 0),
		RangeEnd:          base.AddDate(2, 0, 0),
		Durations:         durations(1, time.Hour),
		EarliestStartHour: -1,
		Seed:              5,
		Now:               base,
	})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if len(res.Skipped) != 1 {
		t.Fatalf("expected the far-future start to be skipped, got %v", res)
	}
}

func TestAllocateDeterministicWithSeed(t *testing.T) {
	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	alloc := testAllocator(DefaultConfig())

	req := Request{
		RangeStart:        base,
		RangeEnd:          base.AddDate(0, 0, 13),
		Durations:         durations(6, 90*time.Minute),
		EarliestStartHour: -1,
		Seed:              1234,
		Now:               base.Add(-time.Hour),
	}

	first, err := alloc.Allocate(req)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	req.Existing = nil
	second, err := alloc.Allocate(req)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	if len(first.Placed) != len(second.Placed) {
		t.Fatalf("placement counts differ: %d vs %d", len(first.Placed), len(second.Placed))
	}
	for i := range first.Placed {
		a, b := first.Placed[i].Interval, second.Placed[i].Interval
		if !a.Start.Equal(b.Start) || !a.End.Equal(b.End) {
			t.Errorf("placement %d differs between runs: %v vs %v", i, a, b)
		}
	}
}
