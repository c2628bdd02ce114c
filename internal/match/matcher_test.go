package match

import (
	"testing"
	"time"

	"github.com/beekhof/ics-sync/internal/ics"
	"github.com/beekhof/ics-sync/internal/store"
)

func TestTokenize(t *testing.T) {
	tokens := Tokenize("Træning: U15 Fodbold (hal 2)!")

	got := map[string]bool{}
	for _, tok := range tokens {
		got[tok] = true
	}
	if !got["traening"] && !got["træning"] {
		// Diacritic folding turns æ's combining forms into base letters;
		// either spelling of the folded token is acceptable as long as
		// both inputs fold the same way.
		t.Errorf("Expected a folded 'træning' token, got %v", tokens)
	}
	if !got["fodbold"] {
		t.Errorf("Expected token 'fodbold', got %v", tokens)
	}
	if got["u15"] == false {
		t.Errorf("Expected token 'u15', got %v", tokens)
	}
	for _, tok := range tokens {
		if len([]rune(tok)) <= 2 {
			t.Errorf("Token %q shorter than 3 runes should have been dropped", tok)
		}
	}
}

func TestTokenOverlap(t *testing.T) {
	if got := TokenOverlap("Training Session", "Training Session"); got != 1.0 {
		t.Errorf("Identical titles should overlap 1.0, got %f", got)
	}
	if got := TokenOverlap("Training", "Board Meeting"); got != 0.0 {
		t.Errorf("Disjoint titles should overlap 0.0, got %f", got)
	}
	// {training} vs {training, session}: 1 shared of 2 total.
	if got := TokenOverlap("Training", "Training Session"); got != 0.5 {
		t.Errorf("Expected overlap 0.5, got %f", got)
	}
}

func storedEvent(id, uid, title, location, date, clock string) *store.ExternalEvent {
	return &store.ExternalEvent{
		ID:          id,
		ProviderUID: uid,
		Title:       title,
		Location:    location,
		StartDate:   date,
		StartTime:   clock,
	}
}

func fetchedEvent(uid, title, location string, start time.Time) ics.ParsedEvent {
	return ics.ParsedEvent{
		UID:       uid,
		Title:     title,
		Location:  location,
		Start:     start,
		StartDate: start.Format("2006-01-02"),
		StartTime: start.Format("15:04:05"),
	}
}

func TestMatch_UIDTierWinsOverContent(t *testing.T) {
	m := NewMatcher(time.UTC, DefaultOptions())
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	// Same UID, completely different title and time: UID tier still wins.
	candidate := storedEvent("row1", "uid-1", "Something Else Entirely", "", "2024-06-01", "08:00:00")
	got := m.Match(fetchedEvent("uid-1", "Training", "", start), []*store.ExternalEvent{candidate})
	if got == nil || got.ID != "row1" {
		t.Fatalf("Expected UID match on row1, got %v", got)
	}
}

func TestMatch_ExactContentTier(t *testing.T) {
	m := NewMatcher(time.UTC, DefaultOptions())
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	candidate := storedEvent("row1", "old-uid", "Training", "", "2024-03-01", "10:00:00")
	got := m.Match(fetchedEvent("rotated-uid", "Training", "", start), []*store.ExternalEvent{candidate})
	if got == nil || got.ID != "row1" {
		t.Fatalf("Expected exact content match on row1, got %v", got)
	}
}

func TestMatch_FuzzyTier(t *testing.T) {
	m := NewMatcher(time.UTC, DefaultOptions())
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	// Title shifted slightly, start shifted 5 minutes: fuzzy should hit.
	candidate := storedEvent("row1", "old-uid", "Training Session Hall", "Main Hall", "2024-03-01", "10:05:00")
	got := m.Match(fetchedEvent("new-uid", "Training Session", "Main Hall", start), []*store.ExternalEvent{candidate})
	if got == nil || got.ID != "row1" {
		t.Fatalf("Expected fuzzy match on row1, got %v", got)
	}
}

func TestMatch_FuzzyRejectsOutsideTimeWindow(t *testing.T) {
	m := NewMatcher(time.UTC, DefaultOptions())
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	candidate := storedEvent("row1", "old-uid", "Training Session", "", "2024-03-01", "12:00:00")
	if got := m.Match(fetchedEvent("new-uid", "Training Session Hall", "", start), []*store.ExternalEvent{candidate}); got != nil {
		t.Fatalf("Expected no match outside the time window, got %v", got)
	}
}

func TestMatch_TitleFloorNotCompensatedByLocation(t *testing.T) {
	m := NewMatcher(time.UTC, DefaultOptions())
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	// Identical location, unrelated title. The composite score could clear
	// the threshold on location alone; the title floor must reject it.
	candidate := storedEvent("row1", "old-uid", "Board Meeting", "Club House Road 1", "2024-03-01", "10:00:00")
	if got := m.Match(fetchedEvent("new-uid", "Junior Training", "Club House Road 1", start), []*store.ExternalEvent{candidate}); got != nil {
		t.Fatalf("Expected title floor to reject the match, got %v", got)
	}
}

func TestMatch_NoMatchMeansNew(t *testing.T) {
	m := NewMatcher(time.UTC, DefaultOptions())
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	if got := m.Match(fetchedEvent("new-uid", "Training", "", start), nil); got != nil {
		t.Fatalf("Expected nil with no candidates, got %v", got)
	}
}
