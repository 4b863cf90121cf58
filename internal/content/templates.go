/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package content

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// reloadDebounce coalesces the event bursts editors produce on save.
const reloadDebounce = 200 * time.Millisecond

// TemplateFile is the on-disk shape of a fallback template override.
type TemplateFile struct {
	Professional []Item `yaml:"professional"`
	Academic     []Item `yaml:"academic"`
	Personal     []Item `yaml:"personal"`
	Generic      []Item `yaml:"generic"`
}

// DefaultTemplates returns the built-in fallback table. Every category has at
// least three entries so small fills never repeat a title.
func DefaultTemplates() map[Category][]Item {
	return map[Category][]Item{
		CategoryProfessional: {
			{Title: "Team Sync", DurationMinutes: 30, Description: "Regular team alignment and status review."},
			{Title: "Project Review", DurationMinutes: 60, Description: "Walk through current project state and blockers."},
			{Title: "Planning Session", DurationMinutes: 45, Description: "Plan upcoming work and assign priorities."},
			{Title: "Client Check-in", DurationMinutes: 30, Description: "Touch base with the client on progress."},
			{Title: "Focus Block", DurationMinutes: 90, Description: "Protected time for concentrated work."},
		},
		CategoryAcademic: {
			{Title: "Study Session", DurationMinutes: 90, Description: "Dedicated study time for current material."},
			{Title: "Reading Block", DurationMinutes: 60, Description: "Catch up on assigned reading."},
			{Title: "Practice Problems", DurationMinutes: 60, Description: "Work through exercises and past papers."},
			{Title: "Revision", DurationMinutes: 45, Description: "Review notes and consolidate understanding."},
		},
		CategoryPersonal: {
			{Title: "Workout", DurationMinutes: 60, Description: "Exercise session."},
			{Title: "Errands", DurationMinutes: 45, Description: "Handle outstanding errands."},
			{Title: "Personal Time", DurationMinutes: 60, Description: "Unstructured personal time."},
			{Title: "Catch Up", DurationMinutes: 30, Description: "Catch up with friends or family."},
		},
		CategoryGeneric: {
			{Title: "Scheduled Block", DurationMinutes: 60, Description: "Reserved time slot."},
			{Title: "Planned Activity", DurationMinutes: 45, Description: "Time set aside for planned activity."},
			{Title: "Open Slot", DurationMinutes: 30, Description: "Flexible reserved time."},
		},
	}
}

// LoadTemplates reads a YAML override file and merges it over the defaults,
// so a file that only customizes one category keeps the rest working.
func LoadTemplates(path string) (map[Category][]Item, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}

	var file TemplateFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	merged := DefaultTemplates()
	for category, list := range map[Category][]Item{
		CategoryProfessional: file.Professional,
		CategoryAcademic:     file.Academic,
		CategoryPersonal:     file.Personal,
		CategoryGeneric:      file.Generic,
	} {
		cleaned := normalizeItems(list)
		if len(cleaned) > 0 {
			merged[category] = cleaned
		}
	}
	return merged, nil
}

// Watch reloads templates whenever the file at path changes. The watch is on
// the parent directory so atomic save strategies (write temp, rename over)
// still produce events for us. Reload failures keep the previous table.
func (g *Generator) Watch(ctx context.Context, path string, onReload func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("template watcher: %w", err)
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		var pending <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !strings.EqualFold(filepath.Base(ev.Name), base) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				pending = time.After(reloadDebounce)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				g.logger.Warn().Err(err).Msg("template watch error")
			case <-pending:
				pending = nil
				templates, err := LoadTemplates(path)
				if err != nil {
					g.logger.Warn().Err(err).Str("path", path).Msg("template reload failed, keeping previous set")
					continue
				}
				g.SetTemplates(templates)
				g.logger.Info().Str("path", path).Msg("fallback templates reloaded")
				if onReload != nil {
					onReload()
				}
			}
		}
	}()
	return nil
}
