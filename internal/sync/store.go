package sync

import (
	"context"
	"errors"
	"time"

	"github.com/beekhof/ics-sync/internal/store"
)

// ErrCalendarNotFound is returned when the target calendar does not exist
// or is not owned by the caller.
var ErrCalendarNotFound = errors.New("calendar not found")

// Store is the persistence collaborator the sync engine runs against. The
// gorm implementation lives in internal/store; tests substitute in-memory
// fakes.
type Store interface {
	CalendarByID(ctx context.Context, calendarID, userID string) (*store.ExternalCalendar, error)
	EnabledCalendars(ctx context.Context) ([]store.ExternalCalendar, error)
	TouchCalendar(ctx context.Context, calendarID string, fetchedAt time.Time, eventCount int) error

	EventsByCalendar(ctx context.Context, calendarID string) ([]*store.ExternalEvent, error)
	InsertEvent(ctx context.Context, event *store.ExternalEvent) error
	UpdateEvent(ctx context.Context, event *store.ExternalEvent) error
	// IncrementMissCount bumps one row's miss count without refreshing its
	// updated-at timestamp, so the grace clock keeps measuring from the
	// last real content update.
	IncrementMissCount(ctx context.Context, eventID string) error

	MetaByEvent(ctx context.Context, eventID, userID string) (*store.EventLocalMeta, error)
	UpsertMeta(ctx context.Context, meta *store.EventLocalMeta) error

	CategoriesForUser(ctx context.Context, userID string) ([]store.Category, error)
	MappingsForUser(ctx context.Context, userID string) ([]store.CategoryMapping, error)
	InsertMapping(ctx context.Context, mapping *store.CategoryMapping) error
	EnsureUnknownCategory(ctx context.Context) (*store.Category, error)

	AppendSyncLog(ctx context.Context, entry *store.SyncLogEntry) error
}
