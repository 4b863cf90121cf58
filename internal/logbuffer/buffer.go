/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package logbuffer keeps a bounded in-memory ring of recent log lines so the
// API can serve them without touching disk.
package logbuffer

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// Entry is one captured log line.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Component string    `json:"component,omitempty"`
	Message   string    `json:"message"`
}

// Buffer is a concurrency-safe ring of log entries. It implements io.Writer
// so it can be attached to zerolog as an additional sink.
type Buffer struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
	head     int
	count    int
}

// New creates a buffer holding up to capacity entries.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 2000
	}
	return &Buffer{
		entries:  make([]Entry, capacity),
		capacity: capacity,
	}
}

// Write parses a zerolog JSON line and records it. Lines that do not parse
// are kept as raw messages rather than dropped.
func (b *Buffer) Write(p []byte) (int, error) {
	entry := Entry{Timestamp: time.Now()}

	var fields map[string]any
	if err := json.Unmarshal(p, &fields); err == nil {
		if v, ok := fields["level"].(string); ok {
			entry.Level = v
		}
		if v, ok := fields["component"].(string); ok {
			entry.Component = v
		}
		if v, ok := fields["message"].(string); ok {
			entry.Message = v
		}
		if v, ok := fields["time"].(float64); ok {
			entry.Timestamp = time.Unix(int64(v), 0)
		}
	} else {
		entry.Message = strings.TrimSpace(string(p))
	}

	b.mu.Lock()
	b.entries[b.head] = entry
	b.head = (b.head + 1) % b.capacity
	if b.count < b.capacity {
		b.count++
	}
	b.mu.Unlock()

	return len(p), nil
}

// Recent returns up to limit entries in chronological order, optionally
// filtered by level. limit <= 0 returns everything buffered.
func (b *Buffer) Recent(limit int, level string) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	start := 0
	if b.count == b.capacity {
		start = b.head
	}

	all := make([]Entry, 0, b.count)
	for i := 0; i < b.count; i++ {
		e := b.entries[(start+i)%b.capacity]
		if level != "" && e.Level != level {
			continue
		}
		all = append(all, e)
	}

	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all
}

// Len reports how many entries are currently buffered.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}
