/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/skuld_calendar/internal/calstore"
	"github.com/friendsincode/skuld_calendar/internal/config"
	"github.com/friendsincode/skuld_calendar/internal/db"
	"github.com/friendsincode/skuld_calendar/internal/eventbus"
	"github.com/friendsincode/skuld_calendar/internal/events"
)

// Purge flags
var (
	purgeTag    string
	purgeForce  bool
	purgeDryRun bool
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete all calendar events owned by a tag",
	Long: `Delete every calendar event carrying the given owner tag from the
configured store. Events created by other tools are never touched.

WARNING: This action is irreversible.

Examples:
  # Show what would be deleted
  skuldcal purge --dry-run

  # Purge without confirmation
  skuldcal purge --force

  # Purge events created under a different tag
  skuldcal purge --tag staging --force`,
	RunE: runPurge,
}

func init() {
	purgeCmd.Flags().StringVar(&purgeTag, "tag", "", "Owner tag to purge (default: configured owner tag)")
	purgeCmd.Flags().BoolVarP(&purgeForce, "force", "f", false, "Skip confirmation prompt")
	purgeCmd.Flags().BoolVar(&purgeDryRun, "dry-run", false, "List matching events without deleting them")
	rootCmd.AddCommand(purgeCmd)
}

func runPurge(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	tag := purgeTag
	if tag == "" {
		tag = cfg.OwnerTag
	}

	var store calstore.Store
	if cfg.StoreBackend == config.StoreRemote {
		store = calstore.NewRemoteStore(cfg.StoreURL, cfg.StoreToken, logger)
	} else {
		database, err := initDatabase()
		if err != nil {
			return err
		}
		defer db.Close(database)
		store = calstore.NewLocalStore(database, logger)
	}

	ctx := cmd.Context()
	owned, err := store.List(ctx, tag)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}

	if len(owned) == 0 {
		fmt.Printf("no events owned by %q\n", tag)
		return nil
	}

	if purgeDryRun {
		fmt.Printf("would delete %d event(s) owned by %q:\n", len(owned), tag)
		for _, ev := range owned {
			fmt.Printf("  %s  %s  %s\n", ev.ExternalID, ev.StartsAt.Format(time.RFC3339), ev.Title)
		}
		return nil
	}

	// Confirmation prompt
	if !purgeForce {
		fmt.Printf("This will delete %d calendar event(s) owned by %q.\n", len(owned), tag)
		fmt.Println("This action CANNOT be undone!")
		fmt.Print("Type 'yes' to confirm purge: ")

		reader := bufio.NewReader(os.Stdin)
		response, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		if strings.TrimSpace(strings.ToLower(response)) != "yes" {
			fmt.Println("Purge cancelled.")
			return nil
		}
	}

	// Bridged bus so running instances observe the purge when NATS or
	// Redis is configured.
	bus := eventbus.New(eventbus.Options{
		NATSURL:       cfg.NATSURL,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
		InstanceID:    cfg.InstanceID,
	}, logger)
	defer bus.Close()

	deleted := 0
	for _, ev := range owned {
		if err := store.Delete(ctx, ev.ExternalID); err != nil {
			logger.Warn().Err(err).Str("event_id", ev.ExternalID).Msg("delete failed")
			continue
		}
		deleted++
	}

	bus.Publish(events.EventAuditFillPurge, events.Payload{
		"tag":     tag,
		"deleted": deleted,
	})
	bus.Publish(events.EventCalendarChanged, events.Payload{"tag": tag})

	logger.Info().Str("tag", tag).Int("deleted", deleted).Int("matched", len(owned)).Msg("purge complete")
	fmt.Printf("deleted %d of %d event(s) owned by %q\n", deleted, len(owned), tag)
	return nil
}
