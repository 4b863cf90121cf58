/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package content obtains calendar entry payloads: from a remote provider
// with caching and retry, or from a deterministic local generator when the
// provider is unavailable.
package content

import "time"

// Item is one calendar entry's substantive payload, independent of when it
// gets scheduled. Items are immutable once produced.
type Item struct {
	Title           string `json:"title" yaml:"title"`
	DurationMinutes int    `json:"durationMinutes" yaml:"durationMinutes"`
	Description     string `json:"description" yaml:"description"`
}

// Duration returns the item length as a time.Duration.
func (it Item) Duration() time.Duration {
	return time.Duration(it.DurationMinutes) * time.Minute
}
