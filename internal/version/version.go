/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version provides build version information and a release check.
package version

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Version is the current version of Skuld Calendar.
// This is set at build time via ldflags:
//
//	-X github.com/friendsincode/skuld_calendar/internal/version.Version=X.Y.Z
var Version = "0.4.2"

// GitHubRepo is the repository checked for newer releases.
const GitHubRepo = "friendsincode/skuld_calendar"

// Release describes the latest published release.
type Release struct {
	Version         string    `json:"version"`
	URL             string    `json:"url"`
	UpdateAvailable bool      `json:"update_available"`
	CheckedAt       time.Time `json:"checked_at"`
}

type githubRelease struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

// Latest fetches the newest release from GitHub and compares it with the
// running build. Network failures are returned to the caller; this is a
// one-shot check, not a background loop.
func Latest(ctx context.Context) (*Release, error) {
	url := fmt.Sprintf("https://api.github.com/repos/%s/releases/latest", GitHubRepo)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "Skuld-Calendar/"+Version)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from GitHub", resp.StatusCode)
	}

	var release githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("decode release: %w", err)
	}

	latest := strings.TrimPrefix(release.TagName, "v")
	return &Release{
		Version:         latest,
		URL:             release.HTMLURL,
		UpdateAvailable: Compare(Version, latest) < 0,
		CheckedAt:       time.Now(),
	}, nil
}

// Compare compares two semver strings. Returns -1 if a < b, 0 if equal, 1 if a > b.
func Compare(a, b string) int {
	ap := parse(a)
	bp := parse(b)
	for i := 0; i < 3; i++ {
		if ap[i] < bp[i] {
			return -1
		}
		if ap[i] > bp[i] {
			return 1
		}
	}
	return 0
}

func parse(v string) [3]int {
	v = strings.TrimPrefix(v, "v")
	parts := strings.Split(v, ".")

	var result [3]int
	for i := 0; i < len(parts) && i < 3; i++ {
		fmt.Sscanf(parts[i], "%d", &result[i])
	}
	return result
}
