package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB is the gorm-backed persistence collaborator for the sync engine.
type DB struct {
	db *gorm.DB
}

// Open connects to Postgres and migrates the sync schema.
func Open(dsn string) (*DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(
		&ExternalCalendar{},
		&ExternalEvent{},
		&EventLocalMeta{},
		&Category{},
		&CategoryMapping{},
		&SyncLogEntry{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &DB{db: db}, nil
}

// CalendarByID loads one calendar owned by userID. Returns nil, nil when
// absent or owned by someone else.
func (s *DB) CalendarByID(ctx context.Context, calendarID, userID string) (*ExternalCalendar, error) {
	var cal ExternalCalendar
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", calendarID, userID).
		First(&cal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading calendar: %w", err)
	}
	return &cal, nil
}

// EnabledCalendars lists every calendar with syncing switched on.
func (s *DB) EnabledCalendars(ctx context.Context) ([]ExternalCalendar, error) {
	var calendars []ExternalCalendar
	if err := s.db.WithContext(ctx).Where("enabled = ?", true).Find(&calendars).Error; err != nil {
		return nil, fmt.Errorf("listing enabled calendars: %w", err)
	}
	return calendars, nil
}

// TouchCalendar records the outcome of a fetch on the calendar row.
func (s *DB) TouchCalendar(ctx context.Context, calendarID string, fetchedAt time.Time, eventCount int) error {
	return s.db.WithContext(ctx).
		Model(&ExternalCalendar{}).
		Where("id = ?", calendarID).
		Updates(map[string]any{
			"last_fetched_at":  fetchedAt,
			"last_event_count": eventCount,
		}).Error
}

// EventsByCalendar loads all stored rows for a calendar, soft-deleted ones
// included; the planner needs them for restore decisions.
func (s *DB) EventsByCalendar(ctx context.Context, calendarID string) ([]*ExternalEvent, error) {
	var events []*ExternalEvent
	if err := s.db.WithContext(ctx).
		Where("calendar_id = ?", calendarID).
		Order("start_date ASC, start_time ASC").
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("loading events: %w", err)
	}
	return events, nil
}

func (s *DB) InsertEvent(ctx context.Context, event *ExternalEvent) error {
	return s.db.WithContext(ctx).Create(event).Error
}

func (s *DB) UpdateEvent(ctx context.Context, event *ExternalEvent) error {
	return s.db.WithContext(ctx).Save(event).Error
}

// IncrementMissCount bumps miss_count in place. UpdateColumn skips the
// updated_at refresh so the grace clock still measures from the last real
// content update.
func (s *DB) IncrementMissCount(ctx context.Context, eventID string) error {
	return s.db.WithContext(ctx).
		Model(&ExternalEvent{}).
		Where("id = ?", eventID).
		UpdateColumn("miss_count", gorm.Expr("miss_count + 1")).Error
}

// MetaByEvent loads the per-user metadata row for one event, or nil, nil
// when none exists.
func (s *DB) MetaByEvent(ctx context.Context, eventID, userID string) (*EventLocalMeta, error) {
	var meta EventLocalMeta
	err := s.db.WithContext(ctx).
		Where("event_id = ? AND user_id = ?", eventID, userID).
		First(&meta).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading event metadata: %w", err)
	}
	return &meta, nil
}

func (s *DB) UpsertMeta(ctx context.Context, meta *EventLocalMeta) error {
	if meta.ID == "" {
		return s.db.WithContext(ctx).Create(meta).Error
	}
	return s.db.WithContext(ctx).Save(meta).Error
}

// CategoriesForUser lists the user's categories plus system-wide ones
// (the canonical Unknown has no owner).
func (s *DB) CategoriesForUser(ctx context.Context, userID string) ([]Category, error) {
	var categories []Category
	if err := s.db.WithContext(ctx).
		Where("user_id = ? OR user_id IS NULL", userID).
		Order("name ASC").
		Find(&categories).Error; err != nil {
		return nil, fmt.Errorf("loading categories: %w", err)
	}
	return categories, nil
}

func (s *DB) MappingsForUser(ctx context.Context, userID string) ([]CategoryMapping, error) {
	var mappings []CategoryMapping
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Find(&mappings).Error; err != nil {
		return nil, fmt.Errorf("loading category mappings: %w", err)
	}
	return mappings, nil
}

func (s *DB) InsertMapping(ctx context.Context, mapping *CategoryMapping) error {
	return s.db.WithContext(ctx).Create(mapping).Error
}

// EnsureUnknownCategory returns the canonical system-wide Unknown
// category, creating it once. Lookup is case-insensitive by name prefix so
// pre-existing variants are reused rather than duplicated.
func (s *DB) EnsureUnknownCategory(ctx context.Context) (*Category, error) {
	var cat Category
	err := s.db.WithContext(ctx).
		Where("user_id IS NULL AND LOWER(name) LIKE ?", "unknown%").
		Order("created_at ASC").
		First(&cat).Error
	if err == nil {
		return &cat, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("looking up unknown category: %w", err)
	}

	cat = Category{Name: "Unknown"}
	if err := s.db.WithContext(ctx).Create(&cat).Error; err != nil {
		return nil, fmt.Errorf("creating unknown category: %w", err)
	}
	return &cat, nil
}

func (s *DB) AppendSyncLog(ctx context.Context, entry *SyncLogEntry) error {
	return s.db.WithContext(ctx).Create(entry).Error
}
