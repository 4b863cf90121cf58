/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package health sweeps external collaborators on an interval and reports
// their reachability through metrics, the event bus and a snapshot the API
// can serve.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/skuld_calendar/internal/eventbus"
	"github.com/friendsincode/skuld_calendar/internal/events"
	"github.com/friendsincode/skuld_calendar/internal/telemetry"
)

// Probe reports whether one collaborator is reachable.
type Probe func(ctx context.Context) error

// Status is the last observed state of one collaborator.
type Status struct {
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

type probeEntry struct {
	name  string
	probe Probe
}

// Checker runs registered probes on an interval.
type Checker struct {
	interval time.Duration
	timeout  time.Duration
	bus      eventbus.Bus
	logger   zerolog.Logger
	probes   []probeEntry

	mu     sync.RWMutex
	status map[string]Status
}

// NewChecker creates a checker sweeping every interval.
func NewChecker(interval time.Duration, bus eventbus.Bus, logger zerolog.Logger) *Checker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Checker{
		interval: interval,
		timeout:  10 * time.Second,
		bus:      bus,
		logger:   logger.With().Str("component", "health").Logger(),
		status:   make(map[string]Status),
	}
}

// Register adds a named collaborator probe. Register everything before
// calling Run; the probe list is not guarded.
func (c *Checker) Register(name string, probe Probe) {
	c.probes = append(c.probes, probeEntry{name: name, probe: probe})
}

// Run sweeps immediately, then on every tick until ctx ends.
func (c *Checker) Run(ctx context.Context) {
	c.logger.Debug().Int("probes", len(c.probes)).Dur("interval", c.interval).Msg("health checker started")
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			c.logger.Debug().Msg("health checker stopped")
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

func (c *Checker) sweep(ctx context.Context) {
	for _, entry := range c.probes {
		probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := entry.probe(probeCtx)
		cancel()
		c.record(entry.name, err)
	}
}

// record updates the gauge and publishes a bus event on every transition.
// The first observation only publishes when it is already unhealthy.
func (c *Checker) record(name string, err error) {
	healthy := err == nil
	value := 0.0
	if healthy {
		value = 1
	}
	telemetry.CollaboratorUp.WithLabelValues(name).Set(value)

	now := Status{Healthy: healthy, CheckedAt: time.Now()}
	if err != nil {
		now.Error = err.Error()
	}

	c.mu.Lock()
	prev, seen := c.status[name]
	c.status[name] = now
	c.mu.Unlock()

	switch {
	case !healthy && (!seen || prev.Healthy):
		c.logger.Warn().Err(err).Str("collaborator", name).Msg("collaborator unhealthy")
		c.bus.Publish(events.EventCollaboratorDown, events.Payload{
			"collaborator": name,
			"error":        err.Error(),
		})
	case healthy && seen && !prev.Healthy:
		c.logger.Info().Str("collaborator", name).Msg("collaborator recovered")
		c.bus.Publish(events.EventCollaboratorRecover, events.Payload{
			"collaborator": name,
		})
	}
}

// Snapshot returns the latest status per collaborator.
func (c *Checker) Snapshot() map[string]Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Status, len(c.status))
	for name, st := range c.status {
		out[name] = st
	}
	return out
}
