/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/friendsincode/skuld_calendar/internal/batch"
	"github.com/friendsincode/skuld_calendar/internal/calstore"
	"github.com/friendsincode/skuld_calendar/internal/content"
	"github.com/friendsincode/skuld_calendar/internal/slots"
	"github.com/friendsincode/skuld_calendar/internal/telemetry"
)

// storeCallTimeout bounds a single calendar write once it has been
// dispatched; the write runs to completion even if the fill is cancelled.
const storeCallTimeout = 30 * time.Second

// pairing binds one content item to the interval it will occupy. A skipped
// slot gets a placeholder interval so the batch keeps its full size and the
// summary stays count-complete.
type pairing struct {
	item        content.Item
	interval    slots.Interval
	placeholder bool
	skipReason  string
}

// pair matches items to placements by index. Placeholder intervals stack on
// the day after the range end, so they cannot shadow a real placement; they
// exist only for reporting and are never written to the store.
func (o *Orchestrator) pair(items []content.Item, result slots.Result, rangeEnd time.Time, loc *time.Location) []pairing {
	placed := make(map[int]slots.Placement, len(result.Placed))
	for _, p := range result.Placed {
		placed[p.Index] = p
	}
	skips := make(map[int]slots.Skip, len(result.Skipped))
	for _, s := range result.Skipped {
		skips[s.Index] = s
	}

	y, m, d := rangeEnd.Date()
	cursor := time.Date(y, m, d+1, o.opts.Slots.WindowStartHour, 0, 0, 0, loc)
	buffer := time.Duration(o.opts.Slots.BufferMinutes) * time.Minute

	out := make([]pairing, len(items))
	placeholders := 0
	for i, item := range items {
		if p, ok := placed[i]; ok {
			out[i] = pairing{item: item, interval: p.Interval}
			continue
		}

		reason := "slot could not be placed"
		if s, ok := skips[i]; ok {
			reason = s.Reason
		}
		iv := slots.Interval{Start: cursor, End: cursor.Add(item.Duration())}
		cursor = iv.End.Add(buffer)
		out[i] = pairing{item: item, interval: iv, placeholder: true, skipReason: reason}
		placeholders++
	}
	if placeholders > 0 {
		telemetry.FillPlaceholdersTotal.Add(float64(placeholders))
	}
	return out
}

// buildTasks turns pairings into batch tasks. Placeholder pairings produce a
// task that fails immediately with the skip reason instead of touching the
// store; keeping them in the batch preserves group sizing and the one
// outcome per requested event contract.
func (o *Orchestrator) buildTasks(pairings []pairing, timezone string) []batch.Task {
	tasks := make([]batch.Task, len(pairings))
	for i, pr := range pairings {
		if pr.placeholder {
			reason := pr.skipReason
			tasks[i] = batch.Task{
				Index: i,
				Label: pr.item.Title,
				Run: func(ctx context.Context) (string, error) {
					return "", fmt.Errorf("slot unplaceable: %s", reason)
				},
			}
			continue
		}

		spec := calstore.EventSpec{
			Title:       pr.item.Title,
			Description: pr.item.Description,
			StartsAt:    pr.interval.Start,
			EndsAt:      pr.interval.End,
			Timezone:    timezone,
			Tag:         o.opts.OwnerTag,
		}
		tasks[i] = batch.Task{
			Index: i,
			Label: pr.item.Title,
			Run: func(ctx context.Context) (string, error) {
				// A store write that already started should finish and be
				// recorded even when the fill is cancelled mid-group.
				callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeCallTimeout)
				defer cancel()
				return o.store.Create(callCtx, spec)
			},
		}
	}
	return tasks
}
