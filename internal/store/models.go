package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProviderICS is the provider identifier for events sourced from ICS feeds.
// The schema allows other providers but this service only writes this one.
const ProviderICS = "ics"

// Soft-delete reasons recorded on ExternalEvent.DeletedReason.
const (
	ReasonUserDelete      = "user-delete"
	ReasonMissingFromFeed = "missing-from-feed"
	ReasonCancelled       = "cancelled"
)

// Audit actions recorded on SyncLogEntry.Action.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
)

// ExternalCalendar is a user-owned subscription to one ICS feed URL.
// Calendars are disabled rather than deleted to retain history.
type ExternalCalendar struct {
	ID             string     `gorm:"type:uuid;primaryKey" json:"id"`
	UserID         string     `gorm:"type:uuid;not null;index" json:"user_id"`
	Name           string     `gorm:"size:200" json:"name"`
	FeedURL        string     `gorm:"size:2048;not null" json:"feed_url"`
	Enabled        bool       `gorm:"default:true" json:"enabled"`
	LastFetchedAt  *time.Time `json:"last_fetched_at,omitempty"`
	LastEventCount int        `json:"last_event_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *ExternalCalendar) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// ExternalEvent is the stored representation of one feed-sourced event.
// Rows are soft-deleted (Deleted + DeletedReason) and never physically
// removed by the sync engine.
type ExternalEvent struct {
	ID          string `gorm:"type:uuid;primaryKey" json:"id"`
	CalendarID  string `gorm:"type:uuid;not null;index" json:"calendar_id"`
	Provider    string `gorm:"size:32;not null;default:ics" json:"provider"`
	ProviderUID string `gorm:"size:512;index" json:"provider_uid"`

	Title       string `gorm:"size:512;not null" json:"title"`
	Description string `gorm:"size:4000" json:"description"`
	Location    string `gorm:"size:512" json:"location"`

	// Wall-clock date/time in the service's configured timezone.
	StartDate string `gorm:"size:10;not null" json:"start_date"` // 2006-01-02
	StartTime string `gorm:"size:8;not null" json:"start_time"`  // 15:04:05
	EndDate   string `gorm:"size:10" json:"end_date"`
	EndTime   string `gorm:"size:8" json:"end_time"`
	AllDay    bool   `json:"all_day"`

	LastModified *time.Time `json:"last_modified,omitempty"`

	// RawPayload is an opaque JSON blob carrying feed details the schema
	// does not model (categories, source timezone, cancellation status).
	RawPayload string `gorm:"type:jsonb" json:"raw_payload,omitempty"`

	// MissCount is the number of consecutive syncs in which this event
	// failed to match anything in the feed. Reset to zero on every match.
	MissCount     int    `gorm:"default:0" json:"miss_count"`
	Deleted       bool   `gorm:"default:false;index" json:"deleted"`
	DeletedReason string `gorm:"size:64" json:"deleted_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (e *ExternalEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Provider == "" {
		e.Provider = ProviderICS
	}
	return nil
}

// StartAt interprets the stored wall-clock start in loc.
func (e *ExternalEvent) StartAt(loc *time.Location) (time.Time, error) {
	return parseWallClock(e.StartDate, e.StartTime, loc)
}

// EffectiveEndAt returns the moment after which the event counts as past.
// All-day events run to the end of their last covered day; events with no
// end fall back to start.
func (e *ExternalEvent) EffectiveEndAt(loc *time.Location) (time.Time, error) {
	date, clock := e.EndDate, e.EndTime
	if date == "" {
		date, clock = e.StartDate, e.StartTime
	}
	if e.AllDay {
		end, err := parseWallClock(date, "23:59:59", loc)
		if err != nil {
			return time.Time{}, err
		}
		// An all-day DTEND names the first day after the event (RFC 5545
		// exclusive end), so the last covered day is one back.
		if e.EndDate != "" && e.EndDate > e.StartDate {
			end = end.AddDate(0, 0, -1)
		}
		return end, nil
	}
	return parseWallClock(date, clock, loc)
}

func parseWallClock(date, clock string, loc *time.Location) (time.Time, error) {
	if clock == "" {
		clock = "00:00:00"
	}
	t, err := time.ParseInLocation("2006-01-02 15:04:05", date+" "+clock, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad stored timestamp %q %q: %w", date, clock, err)
	}
	return t, nil
}

// EventLocalMeta is the per-user annotation layer over an ExternalEvent.
// When ManuallySetCategory is true no automated process may change
// CategoryID; only explicit user action clears the flag.
type EventLocalMeta struct {
	ID                  string `gorm:"type:uuid;primaryKey" json:"id"`
	EventID             string `gorm:"type:uuid;not null;uniqueIndex:idx_meta_event_user" json:"event_id"`
	UserID              string `gorm:"type:uuid;not null;uniqueIndex:idx_meta_event_user" json:"user_id"`
	CategoryID          string `gorm:"type:uuid" json:"category_id"`
	ManuallySetCategory bool   `gorm:"default:false" json:"manually_set_category"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (m *EventLocalMeta) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// Category is an activity category events are classified into. The
// canonical "Unknown" category has a nil UserID and is shared system-wide.
type Category struct {
	ID     string  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID *string `gorm:"type:uuid;index" json:"user_id,omitempty"`
	Name   string  `gorm:"size:200;not null" json:"name"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Category) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// CategoryMapping associates an external category string, as it appeared in
// a feed, with an internal category for one user. Created lazily on first
// resolution and reused afterwards.
type CategoryMapping struct {
	ID           string `gorm:"type:uuid;primaryKey" json:"id"`
	UserID       string `gorm:"type:uuid;not null;uniqueIndex:idx_mapping_user_name" json:"user_id"`
	ExternalName string `gorm:"size:200;not null;uniqueIndex:idx_mapping_user_name" json:"external_name"`
	CategoryID   string `gorm:"type:uuid;not null" json:"category_id"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (m *CategoryMapping) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// SyncLogEntry is an append-only audit record for one sync mutation.
type SyncLogEntry struct {
	ID         string `gorm:"type:uuid;primaryKey" json:"id"`
	EventID    string `gorm:"type:uuid;index" json:"event_id"`
	CalendarID string `gorm:"type:uuid;not null;index" json:"calendar_id"`
	UserID     string `gorm:"type:uuid;not null" json:"user_id"`
	Action     string `gorm:"size:16;not null" json:"action"`
	Detail     string `gorm:"type:jsonb" json:"detail,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (l *SyncLogEntry) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}
