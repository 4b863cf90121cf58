/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package batch runs calendar writes in fixed-size concurrent groups with a
// cooldown between groups, so bursts against the backend stay bounded.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/skuld_calendar/internal/telemetry"
)

const (
	DefaultGroupSize = 3
	DefaultCooldown  = 2 * time.Second
)

// Status is a task's lifecycle state. Tasks start Pending and end Created or
// Failed; there is no retry state because the executor never retries.
type Status string

const (
	StatusPending Status = "pending"
	StatusCreated Status = "created"
	StatusFailed  Status = "failed"
)

// Task is one unit of work, usually a single calendar event write. Run
// returns the backend's external id on success.
type Task struct {
	Index int
	Label string
	Run   func(ctx context.Context) (string, error)
}

// Outcome is the terminal result for one task.
type Outcome struct {
	Index      int
	Status     Status
	ExternalID string
	Err        error
}

// Config sizes the batching behavior.
type Config struct {
	GroupSize int
	Cooldown  time.Duration
}

// DefaultConfig returns groups of three with a two second cooldown.
func DefaultConfig() Config {
	return Config{GroupSize: DefaultGroupSize, Cooldown: DefaultCooldown}
}

// Executor partitions tasks into groups and runs each group concurrently.
// One task failing never cancels its siblings, and a group going down
// never stops the groups after it.
type Executor struct {
	cfg    Config
	logger zerolog.Logger

	// OnGroupDone, when set before Execute, is called after each group with
	// that group's outcomes. Used for progress reporting.
	OnGroupDone func(group, groups int, outcomes []Outcome)

	// dispatch runs one task; swapped in tests to simulate dispatch
	// machinery breaking.
	dispatch func(ctx context.Context, task Task) Outcome
}

// NewExecutor builds an executor. Zero config fields fall back to defaults.
func NewExecutor(cfg Config, logger zerolog.Logger) *Executor {
	if cfg.GroupSize <= 0 {
		cfg.GroupSize = DefaultGroupSize
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = DefaultCooldown
	}
	e := &Executor{
		cfg:    cfg,
		logger: logger.With().Str("component", "batch").Logger(),
	}
	e.dispatch = e.runTask
	return e
}

// Execute runs all tasks and returns one outcome per task, in task order.
// The cooldown sits between groups, never after the last one. Cancellation
// between groups fails the remaining tasks; outcomes of groups already
// dispatched are kept.
func (e *Executor) Execute(ctx context.Context, tasks []Task) []Outcome {
	outcomes := make([]Outcome, len(tasks))
	for i := range outcomes {
		outcomes[i] = Outcome{Index: tasks[i].Index, Status: StatusPending}
	}

	spans := partition(len(tasks), e.cfg.GroupSize)
	for g, sp := range spans {
		if g > 0 {
			select {
			case <-ctx.Done():
				e.failFrom(tasks, outcomes, sp.start, ctx.Err())
				return outcomes
			case <-time.After(e.cfg.Cooldown):
			}
		}

		e.runGroup(ctx, tasks, outcomes, sp)
		telemetry.BatchGroupsTotal.Inc()
		e.logger.Debug().
			Int("group", g+1).
			Int("groups", len(spans)).
			Int("size", sp.end-sp.start).
			Msg("batch group finished")

		if e.OnGroupDone != nil {
			e.OnGroupDone(g+1, len(spans), append([]Outcome(nil), outcomes[sp.start:sp.end]...))
		}
	}
	return outcomes
}

// runGroup dispatches one group's tasks concurrently and waits for all of
// them. Every panic path records an outcome, so a finished group never
// leaves a task Pending.
func (e *Executor) runGroup(ctx context.Context, tasks []Task, outcomes []Outcome, sp span) {
	defer func() {
		if r := recover(); r != nil {
			telemetry.BatchDispatchFailuresTotal.Inc()
			e.logger.Error().Interface("panic", r).Msg("batch group dispatch failed")
			for i := sp.start; i < sp.end; i++ {
				if outcomes[i].Status == StatusPending {
					outcomes[i] = Outcome{
						Index:  tasks[i].Index,
						Status: StatusFailed,
						Err:    fmt.Errorf("group dispatch failed: %v", r),
					}
				}
			}
		}
	}()

	var wg sync.WaitGroup
	for i := sp.start; i < sp.end; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					telemetry.BatchDispatchFailuresTotal.Inc()
					e.logger.Error().
						Interface("panic", r).
						Int("task", tasks[i].Index).
						Msg("batch task dispatch failed")
					outcomes[i] = Outcome{
						Index:  tasks[i].Index,
						Status: StatusFailed,
						Err:    fmt.Errorf("dispatch failed: %v", r),
					}
				}
			}()
			outcomes[i] = e.dispatch(ctx, tasks[i])
		}(i)
	}
	wg.Wait()
}

// runTask executes one task and classifies the result. A panic inside the
// task body fails only that task.
func (e *Executor) runTask(ctx context.Context, task Task) (out Outcome) {
	out = Outcome{Index: task.Index, Status: StatusFailed}
	defer func() {
		if r := recover(); r != nil {
			out.Status = StatusFailed
			out.Err = fmt.Errorf("task panicked: %v", r)
		}
	}()

	start := time.Now()
	externalID, err := task.Run(ctx)
	telemetry.BatchTaskDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		e.logger.Warn().Err(err).Str("task", task.Label).Msg("batch task failed")
		out.Err = err
		return out
	}
	out.Status = StatusCreated
	out.ExternalID = externalID
	return out
}

// failFrom marks every task from index start on as Failed with reason err.
func (e *Executor) failFrom(tasks []Task, outcomes []Outcome, start int, err error) {
	for i := start; i < len(tasks); i++ {
		outcomes[i] = Outcome{
			Index:  tasks[i].Index,
			Status: StatusFailed,
			Err:    fmt.Errorf("run canceled before dispatch: %w", err),
		}
	}
}

type span struct{ start, end int }

// partition splits n tasks into contiguous spans of at most size.
func partition(n, size int) []span {
	spans := make([]span, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		spans = append(spans, span{start: start, end: min(start+size, n)})
	}
	return spans
}
