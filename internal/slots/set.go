/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package slots

import "time"

// Interval is a concrete [Start, End) span assigned to one calendar entry.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether two intervals share any instant.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// Duration returns the interval length.
func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// ScheduledSet is the ordered collection of intervals already committed for
// the current request. It only serves overlap checks during allocation; it
// is not a persistent store.
type ScheduledSet struct {
	intervals []Interval
}

// NewScheduledSet creates a set seeded with any pre-existing intervals.
func NewScheduledSet(existing ...Interval) *ScheduledSet {
	set := &ScheduledSet{}
	set.intervals = append(set.intervals, existing...)
	return set
}

// Add commits an interval to the set.
func (s *ScheduledSet) Add(iv Interval) {
	s.intervals = append(s.intervals, iv)
}

// Len returns the number of committed intervals.
func (s *ScheduledSet) Len() int {
	return len(s.intervals)
}

// Intervals returns a copy of the committed intervals.
func (s *ScheduledSet) Intervals() []Interval {
	out := make([]Interval, len(s.intervals))
	copy(out, s.intervals)
	return out
}

// firstConflict returns the committed interval overlapping candidate, if any.
func (s *ScheduledSet) firstConflict(candidate Interval) (Interval, bool) {
	for _, iv := range s.intervals {
		if iv.Overlaps(candidate) {
			return iv, true
		}
	}
	return Interval{}, false
}
