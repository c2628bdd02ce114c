package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/beekhof/ics-sync/internal/category"
	"github.com/beekhof/ics-sync/internal/ics"
	"github.com/beekhof/ics-sync/internal/store"
)

// FailedEvent records one row whose mutation failed during execution.
type FailedEvent struct {
	Title string `json:"title"`
	Error string `json:"error"`
}

// Stats is the structured summary of one sync invocation. Field names
// match the HTTP response contract.
type Stats struct {
	EventCount               int           `json:"eventCount"`
	EventsCreated            int           `json:"eventsCreated"`
	EventsUpdated            int           `json:"eventsUpdated"`
	EventsRestored           int           `json:"eventsRestored"`
	EventsSoftDeleted        int           `json:"eventsSoftDeleted"`
	EventsImmediatelyDeleted int           `json:"eventsImmediatelyDeleted"`
	MetadataCreated          int           `json:"metadataCreated"`
	MetadataUpdated          int           `json:"metadataUpdated"`
	MetadataPreserved        int           `json:"metadataPreserved"`
	EventsFailed             int           `json:"eventsFailed"`
	FailedEvents             []FailedEvent `json:"failedEvents"`
	Message                  string        `json:"message"`
}

// rawPayload is the opaque feed detail stored on every event row.
type rawPayload struct {
	Categories []string `json:"categories,omitempty"`
	Timezone   string   `json:"timezone,omitempty"`
	Cancelled  bool     `json:"cancelled,omitempty"`
}

// Executor applies a Plan row by row. There is no plan-wide transaction:
// one row failing is counted and recorded, and the rest keep going.
type Executor struct {
	store    Store
	resolver *category.Resolver
	loc      *time.Location
}

// NewExecutor creates an Executor.
func NewExecutor(st Store, resolver *category.Resolver, loc *time.Location) *Executor {
	if loc == nil {
		loc = time.UTC
	}
	if resolver == nil {
		resolver = category.NewResolver(nil)
	}
	return &Executor{store: st, resolver: resolver, loc: loc}
}

// categoryContext is the per-invocation classification state: the user's
// categories and mappings plus the canonical Unknown id, loaded once.
type categoryContext struct {
	available []store.Category
	mappings  []store.CategoryMapping
	unknownID string
	userID    string
}

// Execute applies plan for cal and returns per-action counts and the
// failure list. Prerequisite reads (categories, mappings, Unknown) happen
// before any mutation; a failure there aborts with no state change.
func (e *Executor) Execute(ctx context.Context, cal *store.ExternalCalendar, plan Plan) (*Stats, error) {
	cats, err := e.loadCategoryContext(ctx, cal.UserID)
	if err != nil {
		return nil, err
	}

	stats := &Stats{FailedEvents: []FailedEvent{}}

	// Rows whose metadata the plan already settled; the reconciliation
	// sweep skips them so their stats are counted once.
	handled := map[string]bool{}

	for _, event := range plan.Creates {
		if err := e.applyCreate(ctx, cal, event, cats, stats, handled); err != nil {
			e.recordFailure(stats, event.Title, err)
			continue
		}
		stats.EventsCreated++
	}

	for _, op := range plan.Updates {
		if err := e.applyUpdate(ctx, cal, op, false, cats, stats, handled); err != nil {
			e.recordFailure(stats, op.Event.Title, err)
			continue
		}
		stats.EventsUpdated++
	}

	for _, op := range plan.Restores {
		if err := e.applyUpdate(ctx, cal, op, true, cats, stats, handled); err != nil {
			e.recordFailure(stats, op.Event.Title, err)
			continue
		}
		stats.EventsRestored++
	}

	for _, op := range plan.SoftDeletes {
		if err := e.applyDelete(ctx, cal, op, false); err != nil {
			e.recordFailure(stats, op.Row.Title, err)
			continue
		}
		stats.EventsSoftDeleted++
	}

	for _, op := range plan.ImmediateDeletes {
		if err := e.applyDelete(ctx, cal, op, true); err != nil {
			e.recordFailure(stats, op.Row.Title, err)
			continue
		}
		stats.EventsImmediatelyDeleted++
	}

	for _, row := range plan.Misses {
		if err := e.store.IncrementMissCount(ctx, row.ID); err != nil {
			e.recordFailure(stats, row.Title, err)
		}
	}

	if err := e.reconcileMetadata(ctx, cal, cats, stats, handled); err != nil {
		// The sweep is best-effort backfill; its failure does not undo
		// the applied plan.
		log.Printf("Warning: metadata reconciliation for calendar %s failed: %v", cal.ID, err)
	}

	return stats, nil
}

func (e *Executor) loadCategoryContext(ctx context.Context, userID string) (*categoryContext, error) {
	available, err := e.store.CategoriesForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading categories: %w", err)
	}
	mappings, err := e.store.MappingsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading category mappings: %w", err)
	}
	unknown, err := e.store.EnsureUnknownCategory(ctx)
	if err != nil {
		return nil, fmt.Errorf("ensuring unknown category: %w", err)
	}
	return &categoryContext{
		available: available,
		mappings:  mappings,
		unknownID: unknown.ID,
		userID:    userID,
	}, nil
}

func (e *Executor) applyCreate(ctx context.Context, cal *store.ExternalCalendar, event ics.ParsedEvent, cats *categoryContext, stats *Stats, handled map[string]bool) error {
	row := &store.ExternalEvent{
		CalendarID:  cal.ID,
		Provider:    store.ProviderICS,
		ProviderUID: event.UID,
	}
	fillEventRow(row, event)

	if err := e.store.InsertEvent(ctx, row); err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	handled[row.ID] = true

	// Creation never marks the category as manually set.
	categoryID := e.resolveCategory(ctx, event.Title, event.Categories, cats)
	if err := e.store.UpsertMeta(ctx, &store.EventLocalMeta{
		EventID:             row.ID,
		UserID:              cal.UserID,
		CategoryID:          categoryID,
		ManuallySetCategory: false,
	}); err != nil {
		return fmt.Errorf("inserting event metadata: %w", err)
	}
	stats.MetadataCreated++

	e.appendLog(ctx, cal, row.ID, store.ActionCreated, map[string]any{"title": row.Title})
	return nil
}

func (e *Executor) applyUpdate(ctx context.Context, cal *store.ExternalCalendar, op UpdateOp, restore bool, cats *categoryContext, stats *Stats, handled map[string]bool) error {
	row := op.Row
	fillEventRow(row, op.Event)
	row.MissCount = 0
	if !op.Event.SyntheticUID {
		// The feed-provided UID becomes the best-known identifier, even
		// when the match came from a lower tier.
		row.ProviderUID = op.Event.UID
	}
	if restore {
		row.Deleted = false
		row.DeletedReason = ""
	}

	if err := e.store.UpdateEvent(ctx, row); err != nil {
		return fmt.Errorf("updating event: %w", err)
	}
	handled[row.ID] = true

	e.touchMetadata(ctx, cal, row.ID, op.Event.Title, op.Event.Categories, cats, stats)

	e.appendLog(ctx, cal, row.ID, store.ActionUpdated, map[string]any{
		"title":    row.Title,
		"reason":   op.Reason,
		"restored": restore,
	})
	return nil
}

func (e *Executor) applyDelete(ctx context.Context, cal *store.ExternalCalendar, op DeleteOp, cancelled bool) error {
	row := op.Row
	row.Deleted = true
	row.DeletedReason = op.Reason

	if err := e.store.UpdateEvent(ctx, row); err != nil {
		return fmt.Errorf("soft-deleting event: %w", err)
	}

	e.appendLog(ctx, cal, row.ID, store.ActionDeleted, map[string]any{
		"title":     row.Title,
		"reason":    op.Reason,
		"cancelled": cancelled,
	})
	return nil
}

// touchMetadata applies the update-time category rules: create missing
// metadata, never touch manually set rows, and only re-resolve rows still
// pointing at Unknown.
func (e *Executor) touchMetadata(ctx context.Context, cal *store.ExternalCalendar, eventID, title string, explicit []string, cats *categoryContext, stats *Stats) {
	meta, err := e.store.MetaByEvent(ctx, eventID, cal.UserID)
	if err != nil {
		log.Printf("Warning: loading metadata for event %s: %v", eventID, err)
		return
	}

	if meta == nil {
		categoryID := e.resolveCategory(ctx, title, explicit, cats)
		if err := e.store.UpsertMeta(ctx, &store.EventLocalMeta{
			EventID:    eventID,
			UserID:     cal.UserID,
			CategoryID: categoryID,
		}); err != nil {
			log.Printf("Warning: inserting metadata for event %s: %v", eventID, err)
			return
		}
		stats.MetadataCreated++
		return
	}

	if meta.ManuallySetCategory || meta.CategoryID != cats.unknownID {
		// A manual choice is permanent, and an already-resolved category
		// is left alone to avoid redundant work and accidental
		// downgrades.
		stats.MetadataPreserved++
		return
	}

	categoryID := e.resolveCategory(ctx, title, explicit, cats)
	if categoryID == meta.CategoryID {
		stats.MetadataPreserved++
		return
	}
	meta.CategoryID = categoryID
	if err := e.store.UpsertMeta(ctx, meta); err != nil {
		log.Printf("Warning: updating metadata for event %s: %v", eventID, err)
		return
	}
	stats.MetadataUpdated++
}

// reconcileMetadata sweeps all active events of the calendar whose
// metadata is missing or still Unknown and re-attempts resolution. This
// covers rows created before a mapping existed.
func (e *Executor) reconcileMetadata(ctx context.Context, cal *store.ExternalCalendar, cats *categoryContext, stats *Stats, handled map[string]bool) error {
	rows, err := e.store.EventsByCalendar(ctx, cal.ID)
	if err != nil {
		return err
	}

	for _, row := range rows {
		if row.Deleted || handled[row.ID] {
			continue
		}
		var payload rawPayload
		if row.RawPayload != "" {
			if err := json.Unmarshal([]byte(row.RawPayload), &payload); err != nil {
				payload = rawPayload{}
			}
		}
		e.touchMetadata(ctx, cal, row.ID, row.Title, payload.Categories, cats, stats)
	}
	return nil
}

// resolveCategory runs the resolver and persists any new mapping it
// proposes. Resolution failures degrade to Unknown instead of failing the
// row.
func (e *Executor) resolveCategory(ctx context.Context, title string, explicit []string, cats *categoryContext) string {
	res := e.resolver.Resolve(title, explicit, cats.available, cats.mappings, cats.unknownID)

	if res.NewMapping != nil {
		res.NewMapping.UserID = cats.userID
		if err := e.store.InsertMapping(ctx, res.NewMapping); err != nil {
			log.Printf("Warning: persisting category mapping %q: %v", res.NewMapping.ExternalName, err)
		} else {
			cats.mappings = append(cats.mappings, *res.NewMapping)
		}
	}

	if res.CategoryID == "" {
		return cats.unknownID
	}
	return res.CategoryID
}

func (e *Executor) appendLog(ctx context.Context, cal *store.ExternalCalendar, eventID, action string, detail map[string]any) {
	payload, err := json.Marshal(detail)
	if err != nil {
		payload = []byte("{}")
	}
	entry := &store.SyncLogEntry{
		EventID:    eventID,
		CalendarID: cal.ID,
		UserID:     cal.UserID,
		Action:     action,
		Detail:     string(payload),
	}
	if err := e.store.AppendSyncLog(ctx, entry); err != nil {
		// The audit log is append-only best effort; losing one entry must
		// not fail the row it describes.
		log.Printf("Warning: appending sync log for event %s: %v", eventID, err)
	}
}

func (e *Executor) recordFailure(stats *Stats, title string, err error) {
	log.Printf("Warning: sync row failed (%s): %v", title, err)
	stats.EventsFailed++
	stats.FailedEvents = append(stats.FailedEvents, FailedEvent{Title: title, Error: err.Error()})
}

// fillEventRow copies the fetched event's content fields onto a stored row.
func fillEventRow(row *store.ExternalEvent, event ics.ParsedEvent) {
	row.Title = event.Title
	row.Description = event.Description
	row.Location = event.Location
	row.StartDate = event.StartDate
	row.StartTime = event.StartTime
	row.EndDate = event.EndDate
	row.EndTime = event.EndTime
	row.AllDay = event.AllDay
	row.LastModified = event.LastModified

	payload, err := json.Marshal(rawPayload{
		Categories: event.Categories,
		Timezone:   event.SourceTZ,
		Cancelled:  event.Cancelled,
	})
	if err == nil {
		row.RawPayload = string(payload)
	}
}
