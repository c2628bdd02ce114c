package sync

import (
	"github.com/beekhof/ics-sync/internal/ics"
	"github.com/beekhof/ics-sync/internal/match"
	"github.com/beekhof/ics-sync/internal/store"
)

// Options tunes one sync pass.
type Options struct {
	// GraceHours is how long a row may stay absent from the feed before it
	// is soft-deleted, counted from its last update.
	GraceHours int
	// MaxMissCount soft-deletes a row once it has been absent from this
	// many consecutive passes, even inside the grace window.
	MaxMissCount int
	// RespectCancellation makes STATUS:CANCELLED / METHOD:CANCEL events
	// delete their stored rows instead of updating them.
	RespectCancellation bool
	// Match tunes the fuzzy matcher.
	Match match.Options
}

// DefaultOptions returns the shipped sync tuning.
func DefaultOptions() Options {
	return Options{
		GraceHours:          6,
		MaxMissCount:        3,
		RespectCancellation: true,
		Match:               match.DefaultOptions(),
	}
}

// UpdateOp refreshes one stored row from a fetched event. Also used for
// restores, which additionally clear the deleted flag.
type UpdateOp struct {
	Row    *store.ExternalEvent
	Event  ics.ParsedEvent
	Reason string
}

// DeleteOp soft-deletes one stored row.
type DeleteOp struct {
	Row    *store.ExternalEvent
	Reason string
}

// Plan is the partitioned outcome of one planning pass. It is computed
// fresh on every sync and never persisted.
type Plan struct {
	Creates          []ics.ParsedEvent
	Updates          []UpdateOp
	Restores         []UpdateOp
	SoftDeletes      []DeleteOp
	ImmediateDeletes []DeleteOp

	// Misses are active rows absent from this pass but still inside the
	// grace window; the executor increments their miss counts.
	Misses []*store.ExternalEvent

	// SkippedCancelled counts fetched events that arrived already
	// cancelled with no stored counterpart; no row is ever created for
	// them.
	SkippedCancelled int
}
