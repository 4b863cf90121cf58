/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/skuld_calendar/internal/calstore"
	"github.com/friendsincode/skuld_calendar/internal/config"
	"github.com/friendsincode/skuld_calendar/internal/content"
	"github.com/friendsincode/skuld_calendar/internal/db"
	"github.com/friendsincode/skuld_calendar/internal/eventbus"
	"github.com/friendsincode/skuld_calendar/internal/orchestrator"
	"github.com/friendsincode/skuld_calendar/internal/slots"
)

// Output types (duplicated from the HTTP layer so the CLI does not import it).

type fillOutput struct {
	RequestID       string            `json:"request_id"`
	RequestedCount  int               `json:"requested_count"`
	SuccessfulCount int               `json:"successful_count"`
	FailedCount     int               `json:"failed_count"`
	ContentSource   string            `json:"content_source"`
	DurationMS      int64             `json:"duration_ms"`
	Events          []fillOutputEvent `json:"events"`
}

type fillOutputEvent struct {
	ID          string    `json:"id,omitempty"`
	Title       string    `json:"title"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	Placeholder bool      `json:"placeholder,omitempty"`
}

// Fill flags
var (
	fillDescription string
	fillCount       int
	fillStart       string
	fillEnd         string
	fillTimezone    string
	fillStartHour   int
	fillSeed        int64
)

var fillCmd = &cobra.Command{
	Use:   "fill",
	Short: "Run one fill request from the command line",
	Long: `Run a single fill request without going through the HTTP API and print
the resulting summary as JSON.

The command uses the same configuration as the server: the content provider
and calendar store backends come from the environment, and events carry the
configured owner tag.

Examples:
  skuldcal fill --description "gym workout" --count 5 --start 2026-09-01 --end 2026-09-07
  skuldcal fill --description "study session" --count 3 --start 2026-09-01 --end 2026-09-03 --timezone Europe/Berlin --start-hour 17`,
	RunE: runFill,
}

func init() {
	rootCmd.AddCommand(fillCmd)

	fillCmd.Flags().StringVar(&fillDescription, "description", "", "What kind of events to create (required)")
	fillCmd.Flags().IntVar(&fillCount, "count", 5, "Number of events to create")
	fillCmd.Flags().StringVar(&fillStart, "start", "", "First day of the range, YYYY-MM-DD (required)")
	fillCmd.Flags().StringVar(&fillEnd, "end", "", "Last day of the range, YYYY-MM-DD (required)")
	fillCmd.Flags().StringVar(&fillTimezone, "timezone", "", "IANA timezone for the range (default UTC)")
	fillCmd.Flags().IntVar(&fillStartHour, "start-hour", -1, "Earliest start hour per day, 0-23 (default: configured window start)")
	fillCmd.Flags().Int64Var(&fillSeed, "seed", 0, "Fix the placement jitter for reproducible runs (0 = random)")
}

func runFill(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	if fillDescription == "" {
		return fmt.Errorf("--description is required")
	}
	if fillStart == "" || fillEnd == "" {
		return fmt.Errorf("--start and --end are required")
	}

	start, err := time.Parse("2006-01-02", fillStart)
	if err != nil {
		return fmt.Errorf("parse --start: %w", err)
	}
	end, err := time.Parse("2006-01-02", fillEnd)
	if err != nil {
		return fmt.Errorf("parse --end: %w", err)
	}

	database, err := initDatabase()
	if err != nil {
		return err
	}
	defer db.Close(database)

	bus := eventbus.NewLocal()
	defer bus.Close()

	generator := content.NewGenerator(logger)
	if cfg.TemplatesPath != "" {
		if templates, err := content.LoadTemplates(cfg.TemplatesPath); err != nil {
			logger.Warn().Err(err).Str("path", cfg.TemplatesPath).Msg("template load failed, using built-in fallback templates")
		} else {
			generator.SetTemplates(templates)
		}
	}

	var provider content.Provider
	if cfg.ProviderURL != "" {
		remote := content.NewRemoteProvider(content.RemoteConfig{
			URL:            cfg.ProviderURL,
			Token:          cfg.ProviderToken,
			RatePerMinute:  cfg.ProviderRatePerMinute,
			TimeoutBase:    cfg.ProviderTimeoutBase,
			TimeoutPerItem: cfg.ProviderTimeoutPerItem,
			TimeoutCap:     cfg.ProviderTimeoutCap,
		}, logger)
		provider = content.NewRetryingProvider(remote, cfg.ProviderBackoff, logger)
	}
	resolver := content.NewResolver(content.NewCache(cfg.ContentCacheTTL), provider, generator, logger)

	var store calstore.Store
	if cfg.StoreBackend == config.StoreRemote {
		store = calstore.NewRemoteStore(cfg.StoreURL, cfg.StoreToken, logger)
	} else {
		store = calstore.NewLocalStore(database, logger)
	}

	slotsCfg := slots.DefaultConfig()
	slotsCfg.WindowStartHour = cfg.WorkingHoursStart
	slotsCfg.WindowEndHour = cfg.WorkingHoursEnd
	slotsCfg.BufferMinutes = cfg.BufferMinutes
	slotsCfg.StartJitterMinutes = cfg.StartJitterMinutes

	orch := orchestrator.New(database, resolver, store, bus, nil, orchestrator.Options{
		Slots:     slotsCfg,
		GroupSize: cfg.BatchGroupSize,
		Cooldown:  cfg.BatchCooldown,
		MaxEvents: cfg.MaxEventsPerRequest,
		OwnerTag:  cfg.OwnerTag,
	}, logger)

	summary, err := orch.CreateEvents(cmd.Context(), orchestrator.Request{
		StartDate:         start,
		EndDate:           end,
		Count:             fillCount,
		Description:       fillDescription,
		Timezone:          fillTimezone,
		EarliestStartHour: fillStartHour,
		Seed:              fillSeed,
	})
	if err != nil {
		return fmt.Errorf("fill: %w", err)
	}

	out := fillOutput{
		RequestID:       summary.RequestID,
		RequestedCount:  summary.RequestedCount,
		SuccessfulCount: summary.SuccessfulCount,
		FailedCount:     summary.FailedCount,
		ContentSource:   string(summary.ContentSource),
		DurationMS:      summary.Elapsed.Milliseconds(),
		Events:          make([]fillOutputEvent, 0, len(summary.Events)),
	}
	for _, ev := range summary.Events {
		out.Events = append(out.Events, fillOutputEvent{
			ID:          ev.ID,
			Title:       ev.Title,
			StartsAt:    ev.Start,
			EndsAt:      ev.End,
			Status:      string(ev.Status),
			Error:       ev.Error,
			Placeholder: ev.Placeholder,
		})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
