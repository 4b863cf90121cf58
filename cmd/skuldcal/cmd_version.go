/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/skuld_calendar/internal/version"
)

var versionCheck bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the Skuld Calendar version",
	RunE:  runVersion,
}

func init() {
	versionCmd.Flags().BoolVar(&versionCheck, "check", false, "Check GitHub for a newer release")
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) error {
	fmt.Printf("skuldcal %s\n", version.Version)
	if !versionCheck {
		return nil
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	release, err := version.Latest(ctx)
	if err != nil {
		return fmt.Errorf("check latest release: %w", err)
	}
	if release.UpdateAvailable {
		fmt.Printf("update available: %s (%s)\n", release.Version, release.URL)
	} else {
		fmt.Println("up to date")
	}
	return nil
}
