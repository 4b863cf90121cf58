package calstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/skuld_calendar/internal/models"
)

func openCalstoreTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.CalendarEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func testSpec(title string, start time.Time, tag string) EventSpec {
	return EventSpec{
		Title:       title,
		Description: "test event",
		StartsAt:    start,
		EndsAt:      start.Add(time.Hour),
		Timezone:    "UTC",
		Tag:         tag,
	}
}

func TestLocalStoreRoundTrip(t *testing.T) {
	store := NewLocalStore(openCalstoreTestDB(t), zerolog.Nop())
	ctx := context.Background()
	start := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)

	id, err := store.Create(ctx, testSpec("Morning Sync", start, "fill-abc"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id == "" {
		t.Fatal("create returned an empty external id")
	}

	events, err := store.List(ctx, "fill-abc")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("listed %d events, want 1", len(events))
	}
	got := events[0]
	if got.ExternalID != id {
		t.Errorf("external id = %q, want %q", got.ExternalID, id)
	}
	if got.Title != "Morning Sync" {
		t.Errorf("title = %q, want %q", got.Title, "Morning Sync")
	}
	if !got.StartsAt.Equal(start) || !got.EndsAt.Equal(start.Add(time.Hour)) {
		t.Errorf("interval = [%v, %v], want [%v, %v]", got.StartsAt, got.EndsAt, start, start.Add(time.Hour))
	}
}

func TestLocalStoreListFiltersByTag(t *testing.T) {
	store := NewLocalStore(openCalstoreTestDB(t), zerolog.Nop())
	ctx := context.Background()
	start := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)

	if _, err := store.Create(ctx, testSpec("Tagged A", start, "run-a")); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Create(ctx, testSpec("Tagged B", start.Add(2*time.Hour), "run-b")); err != nil {
		t.Fatal(err)
	}

	onlyA, err := store.List(ctx, "run-a")
	if err != nil {
		t.Fatalf("list run-a: %v", err)
	}
	if len(onlyA) != 1 || onlyA[0].Title != "Tagged A" {
		t.Errorf("tag filter leaked events: %+v", onlyA)
	}

	all, err := store.List(ctx, "")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("unfiltered list returned %d events, want 2", len(all))
	}
}

func TestLocalStoreListOrdersByStart(t *testing.T) {
	store := NewLocalStore(openCalstoreTestDB(t), zerolog.Nop())
	ctx := context.Background()
	base := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)

	// Insert out of order.
	for _, offset := range []time.Duration{48 * time.Hour, 0, 24 * time.Hour} {
		if _, err := store.Create(ctx, testSpec("Event", base.Add(offset), "ordered")); err != nil {
			t.Fatal(err)
		}
	}

	events, err := store.List(ctx, "ordered")
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(events); i++ {
		if events[i].StartsAt.Before(events[i-1].StartsAt) {
			t.Errorf("events out of order at %d: %v before %v", i, events[i].StartsAt, events[i-1].StartsAt)
		}
	}
}

func TestLocalStoreDelete(t *testing.T) {
	store := NewLocalStore(openCalstoreTestDB(t), zerolog.Nop())
	ctx := context.Background()
	start := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)

	id, err := store.Create(ctx, testSpec("Doomed", start, "purge-me"))
	if err != nil {
		t.Fatal(err)
	}

	if err := store.Delete(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	events, err := store.List(ctx, "purge-me")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Errorf("event survived deletion: %+v", events)
	}

	if err := store.Delete(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
}

func TestLocalStoreRejectsInvalidSpec(t *testing.T) {
	store := NewLocalStore(openCalstoreTestDB(t), zerolog.Nop())
	ctx := context.Background()
	start := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		spec EventSpec
	}{
		{"empty title", EventSpec{Title: "  ", StartsAt: start, EndsAt: start.Add(time.Hour)}},
		{"inverted interval", EventSpec{Title: "Backwards", StartsAt: start, EndsAt: start.Add(-time.Hour)}},
		{"zero length", EventSpec{Title: "Empty", StartsAt: start, EndsAt: start}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := store.Create(ctx, tt.spec); err == nil {
				t.Error("expected create to reject the event")
			}
		})
	}
}
