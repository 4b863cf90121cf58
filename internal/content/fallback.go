/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package content

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Category groups fallback templates by the flavor of a description.
type Category string

const (
	CategoryProfessional Category = "professional"
	CategoryAcademic     Category = "academic"
	CategoryPersonal     Category = "personal"
	CategoryGeneric      Category = "generic"
)

// rule maps trigger keywords to a category. Rules are evaluated in order and
// the first keyword hit wins, so earlier rules take precedence when a
// description matches several.
type rule struct {
	keywords []string
	category Category
}

var classificationRules = []rule{
	{
		keywords: []string{"work", "meeting", "standup", "client", "project", "sprint", "review", "deadline", "interview", "presentation"},
		category: CategoryProfessional,
	},
	{
		keywords: []string{"study", "class", "course", "exam", "lecture", "homework", "research", "thesis", "seminar"},
		category: CategoryAcademic,
	},
	{
		keywords: []string{"gym", "workout", "run", "family", "friend", "hobby", "errand", "appointment", "birthday", "dinner"},
		category: CategoryPersonal,
	},
}

// Classify picks the template category for a description. Matching is
// case-insensitive substring search; no hit means generic.
func Classify(description string) Category {
	desc := strings.ToLower(description)
	for _, r := range classificationRules {
		for _, kw := range r.keywords {
			if strings.Contains(desc, kw) {
				return r.category
			}
		}
	}
	return CategoryGeneric
}

// Generator produces deterministic items from local templates when the
// provider cannot serve. Same description and count always yield the same
// items, which keeps degraded runs reproducible.
type Generator struct {
	mu        sync.RWMutex
	templates map[Category][]Item
	logger    zerolog.Logger
}

// NewGenerator builds a generator seeded with the built-in templates.
func NewGenerator(logger zerolog.Logger) *Generator {
	return &Generator{
		templates: DefaultTemplates(),
		logger:    logger.With().Str("component", "content_fallback").Logger(),
	}
}

// Generate produces exactly count items for the description's category,
// cycling through the template list and numbering repeats from the second
// pass on so titles stay distinct.
func (g *Generator) Generate(description string, count int) []Item {
	category := Classify(description)

	g.mu.RLock()
	list := g.templates[category]
	if len(list) == 0 {
		list = g.templates[CategoryGeneric]
	}
	list = append([]Item(nil), list...)
	g.mu.RUnlock()

	if len(list) == 0 || count <= 0 {
		return nil
	}

	out := make([]Item, 0, count)
	for i := 0; i < count; i++ {
		item := list[i%len(list)]
		if pass := i / len(list); pass > 0 {
			item.Title = fmt.Sprintf("%s (%d)", item.Title, pass+1)
		}
		out = append(out, item)
	}
	return out
}

// SetTemplates replaces the template table, used by hot reload. Categories
// missing from t keep nothing; the loader is responsible for filling gaps
// from the defaults.
func (g *Generator) SetTemplates(t map[Category][]Item) {
	g.mu.Lock()
	g.templates = t
	g.mu.Unlock()
}
