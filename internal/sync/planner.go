package sync

import (
	"time"

	"github.com/beekhof/ics-sync/internal/ics"
	"github.com/beekhof/ics-sync/internal/match"
	"github.com/beekhof/ics-sync/internal/store"
)

// ComputeSyncOps partitions a fetched event list against the stored rows of
// one calendar into a Plan. Pure: now and the timezone are parameters, and
// nothing is mutated.
//
// Each stored row can be claimed by at most one fetched event per pass,
// first-claimed-wins in feed order. Unclaimed active rows are soft-deleted
// only once the grace period elapses or the miss-count threshold is
// reached, and never when their effective end already lies in the past.
func ComputeSyncOps(fetched []ics.ParsedEvent, stored []*store.ExternalEvent, now time.Time, loc *time.Location, opts Options) Plan {
	if loc == nil {
		loc = time.UTC
	}
	matcher := match.NewMatcher(loc, opts.Match)

	var plan Plan
	claimed := make(map[string]bool, len(stored))

	candidates := func() []*store.ExternalEvent {
		remaining := make([]*store.ExternalEvent, 0, len(stored))
		for _, row := range stored {
			if !claimed[row.ID] {
				remaining = append(remaining, row)
			}
		}
		return remaining
	}

	for _, event := range fetched {
		row := matcher.Match(event, candidates())
		cancelled := opts.RespectCancellation && event.Cancelled

		if row == nil {
			if cancelled {
				// Never create a row for an event that arrives already
				// cancelled.
				plan.SkippedCancelled++
				continue
			}
			plan.Creates = append(plan.Creates, event)
			continue
		}

		claimed[row.ID] = true

		if cancelled {
			if row.Deleted {
				// The row is already gone; a cancelled event lingering in
				// the feed must not re-delete it on every pass, and a
				// user-delete reason must not be overwritten.
				continue
			}
			if end, err := row.EffectiveEndAt(loc); err == nil && end.Before(now) {
				// Historical completed events are never retroactively
				// deleted by a late cancellation.
				continue
			}
			plan.ImmediateDeletes = append(plan.ImmediateDeletes, DeleteOp{Row: row, Reason: store.ReasonCancelled})
			continue
		}

		if row.Deleted {
			if row.DeletedReason == store.ReasonUserDelete {
				// User-initiated deletes are never auto-restored, even
				// when the event reappears in the feed.
				continue
			}
			plan.Restores = append(plan.Restores, UpdateOp{Row: row, Event: event, Reason: "reappeared-in-feed"})
			continue
		}

		plan.Updates = append(plan.Updates, UpdateOp{Row: row, Event: event, Reason: "feed-refresh"})
	}

	for _, row := range stored {
		if claimed[row.ID] || row.Deleted {
			continue
		}
		if end, err := row.EffectiveEndAt(loc); err == nil && end.Before(now) {
			// The feed only carries upcoming events; a past row being
			// absent is expected, not a deletion signal.
			continue
		}

		hoursSinceUpdate := now.Sub(row.UpdatedAt).Hours()
		// The current pass counts as a miss, so a row reaches the
		// threshold on its MaxMissCount'th consecutive absence.
		if hoursSinceUpdate >= float64(opts.GraceHours) || row.MissCount+1 >= opts.MaxMissCount {
			plan.SoftDeletes = append(plan.SoftDeletes, DeleteOp{Row: row, Reason: store.ReasonMissingFromFeed})
			continue
		}
		plan.Misses = append(plan.Misses, row)
	}

	return plan
}
