package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	gosync "sync"
	"time"

	"github.com/beekhof/ics-sync/internal/category"
	"github.com/beekhof/ics-sync/internal/ics"
)

// ErrCalendarDisabled is returned when the target calendar exists but
// syncing is switched off for it.
var ErrCalendarDisabled = errors.New("calendar is disabled")

// FeedFetcher retrieves raw ICS text for a feed URL.
type FeedFetcher interface {
	Fetch(ctx context.Context, feedURL string) (string, error)
}

// Service is the sync orchestrator: it loads the calendar, fetches and
// parses the feed, computes the plan, executes it, and returns the summary.
// Fatal steps (calendar load, fetch, parse) abort before any mutation.
type Service struct {
	store    Store
	fetcher  FeedFetcher
	parser   *ics.Parser
	executor *Executor
	opts     Options
	loc      *time.Location

	// now is swappable for tests.
	now func() time.Time

	// Concurrent triggers for the same calendar (manual refresh plus the
	// cron job) serialize on a per-calendar mutex. In-process only; a
	// single synchronizing instance per deployment is assumed.
	locksMu gosync.Mutex
	locks   map[string]*gosync.Mutex
}

// NewService wires the orchestrator. A nil resolver selects the default
// keyword taxonomy.
func NewService(st Store, fetcher FeedFetcher, loc *time.Location, resolver *category.Resolver, opts Options) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		store:    st,
		fetcher:  fetcher,
		parser:   ics.NewParser(loc),
		executor: NewExecutor(st, resolver, loc),
		opts:     opts,
		loc:      loc,
		now:      func() time.Time { return time.Now().In(loc) },
		locks:    map[string]*gosync.Mutex{},
	}
}

// SyncCalendar runs one full sync pass for the calendar owned by userID.
func (s *Service) SyncCalendar(ctx context.Context, userID, calendarID string) (*Stats, error) {
	lock := s.calendarLock(calendarID)
	lock.Lock()
	defer lock.Unlock()

	cal, err := s.store.CalendarByID(ctx, calendarID, userID)
	if err != nil {
		return nil, err
	}
	if cal == nil {
		return nil, ErrCalendarNotFound
	}
	if !cal.Enabled {
		return nil, ErrCalendarDisabled
	}

	icsText, err := s.fetcher.Fetch(ctx, cal.FeedURL)
	if err != nil {
		return nil, err
	}

	fetched, err := s.parser.Parse(icsText)
	if err != nil {
		return nil, err
	}

	stored, err := s.store.EventsByCalendar(ctx, cal.ID)
	if err != nil {
		return nil, fmt.Errorf("loading stored events: %w", err)
	}

	now := s.now()
	plan := ComputeSyncOps(fetched, stored, now, s.loc, s.opts)

	stats, err := s.executor.Execute(ctx, cal, plan)
	if err != nil {
		return nil, err
	}
	stats.EventCount = len(fetched)
	stats.Message = fmt.Sprintf("Synced %d events: %d created, %d updated, %d restored, %d soft-deleted, %d cancelled, %d failed",
		stats.EventCount, stats.EventsCreated, stats.EventsUpdated, stats.EventsRestored,
		stats.EventsSoftDeleted, stats.EventsImmediatelyDeleted, stats.EventsFailed)

	if err := s.store.TouchCalendar(ctx, cal.ID, now, len(fetched)); err != nil {
		log.Printf("Warning: updating calendar %s bookkeeping: %v", cal.ID, err)
	}

	return stats, nil
}

// SyncAllEnabled syncs every enabled calendar, continuing past individual
// failures. Used by the cron refresh.
func (s *Service) SyncAllEnabled(ctx context.Context) {
	calendars, err := s.store.EnabledCalendars(ctx)
	if err != nil {
		log.Printf("Warning: listing calendars for scheduled sync: %v", err)
		return
	}

	for _, cal := range calendars {
		stats, err := s.SyncCalendar(ctx, cal.UserID, cal.ID)
		if err != nil {
			log.Printf("Warning: scheduled sync of calendar %s failed: %v", cal.ID, err)
			continue
		}
		log.Printf("Scheduled sync of calendar %s: %s", cal.ID, stats.Message)
	}
}

func (s *Service) calendarLock(calendarID string) *gosync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock, ok := s.locks[calendarID]
	if !ok {
		lock = &gosync.Mutex{}
		s.locks[calendarID] = lock
	}
	return lock
}
