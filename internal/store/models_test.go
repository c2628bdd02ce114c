package store

import (
	"testing"
	"time"
)

func TestStartAt(t *testing.T) {
	e := &ExternalEvent{StartDate: "2024-03-01", StartTime: "11:00:00"}

	got, err := e.StartAt(time.UTC)
	if err != nil {
		t.Fatalf("StartAt() returned an error: %v", err)
	}
	want := time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestEffectiveEndAt(t *testing.T) {
	tests := []struct {
		name  string
		event ExternalEvent
		want  time.Time
	}{
		{
			"timed with end",
			ExternalEvent{StartDate: "2024-03-01", StartTime: "11:00:00", EndDate: "2024-03-01", EndTime: "12:30:00"},
			time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC),
		},
		{
			"timed without end falls back to start",
			ExternalEvent{StartDate: "2024-03-01", StartTime: "11:00:00"},
			time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC),
		},
		{
			// DTEND on all-day events names the first day after the event,
			// so a one-day event ends at 23:59:59 of its start day, not a
			// day later.
			"one-day all-day with exclusive end",
			ExternalEvent{StartDate: "2024-03-02", EndDate: "2024-03-03", AllDay: true},
			time.Date(2024, 3, 2, 23, 59, 59, 0, time.UTC),
		},
		{
			"multi-day all-day with exclusive end",
			ExternalEvent{StartDate: "2024-03-02", EndDate: "2024-03-05", AllDay: true},
			time.Date(2024, 3, 4, 23, 59, 59, 0, time.UTC),
		},
		{
			"all-day without distinct end",
			ExternalEvent{StartDate: "2024-03-02", EndDate: "2024-03-02", AllDay: true},
			time.Date(2024, 3, 2, 23, 59, 59, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.event.EffectiveEndAt(time.UTC)
			if err != nil {
				t.Fatalf("EffectiveEndAt() returned an error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestEffectiveEndAt_BadTimestamp(t *testing.T) {
	e := &ExternalEvent{StartDate: "not-a-date", StartTime: "11:00:00"}
	if _, err := e.EffectiveEndAt(time.UTC); err == nil {
		t.Fatal("Expected an error for an unparseable stored date")
	}
}
