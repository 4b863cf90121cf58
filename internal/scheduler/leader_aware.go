/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/skuld_calendar/internal/leadership"
)

// LeaderAware runs the scheduler only while this instance holds the leader
// lease, so exactly one replica fires recurring fills.
type LeaderAware struct {
	svc      *Service
	election *leadership.Election
	logger   zerolog.Logger

	mu      sync.Mutex
	stopRun context.CancelFunc
	wg      sync.WaitGroup
}

// NewLeaderAware wraps svc so it only runs on the elected leader.
func NewLeaderAware(svc *Service, election *leadership.Election, logger zerolog.Logger) *LeaderAware {
	return &LeaderAware{
		svc:      svc,
		election: election,
		logger:   logger.With().Str("component", "leader_aware_scheduler").Logger(),
	}
}

// Start campaigns for leadership and follows transitions until ctx ends,
// starting and stopping the wrapped scheduler as the lease moves.
func (la *LeaderAware) Start(ctx context.Context) {
	la.election.Start(ctx)

	if la.election.IsLeader() {
		la.startScheduler(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			la.stopScheduler()
			return
		case isLeader := <-la.election.Changes():
			if isLeader {
				la.logger.Info().Msg("became leader, starting scheduler")
				la.startScheduler(ctx)
			} else {
				la.logger.Warn().Msg("lost leadership, stopping scheduler")
				la.stopScheduler()
			}
		}
	}
}

// Stop halts the running scheduler and resigns the lease.
func (la *LeaderAware) Stop() error {
	la.stopScheduler()
	return la.election.Stop()
}

// IsLeader reports whether this instance holds the lease.
func (la *LeaderAware) IsLeader() bool { return la.election.IsLeader() }

func (la *LeaderAware) startScheduler(ctx context.Context) {
	la.mu.Lock()
	defer la.mu.Unlock()

	if la.stopRun != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	la.stopRun = cancel

	la.wg.Add(1)
	go func() {
		defer la.wg.Done()
		la.svc.Run(runCtx)
	}()
}

func (la *LeaderAware) stopScheduler() {
	la.mu.Lock()
	defer la.mu.Unlock()

	if la.stopRun == nil {
		return
	}
	la.stopRun()
	la.wg.Wait()
	la.stopRun = nil
}
