package match

import (
	"time"

	"github.com/beekhof/ics-sync/internal/ics"
	"github.com/beekhof/ics-sync/internal/store"
)

const (
	titleWeight    = 0.7
	locationWeight = 0.3
)

// Options tunes the fuzzy tier of the matcher.
type Options struct {
	// TimeTolerance restricts fuzzy candidates to starts within this
	// window of the fetched event's start.
	TimeTolerance time.Duration
	// FuzzyThreshold is the minimum composite score to accept.
	FuzzyThreshold float64
	// TitleOverlapFloor must be cleared by the title overlap alone, so a
	// strong location match cannot compensate for an unrelated title.
	TitleOverlapFloor float64
}

// DefaultOptions returns the tuning the sync engine ships with.
func DefaultOptions() Options {
	return Options{
		TimeTolerance:     15 * time.Minute,
		FuzzyThreshold:    0.65,
		TitleOverlapFloor: 0.6,
	}
}

// Matcher decides whether a fetched event and a stored row represent the
// same real-world event. Stored wall-clock timestamps are interpreted in
// Location.
type Matcher struct {
	Location *time.Location
	Options  Options
}

// NewMatcher creates a Matcher for the given timezone.
func NewMatcher(loc *time.Location, opts Options) *Matcher {
	if loc == nil {
		loc = time.UTC
	}
	if opts.TimeTolerance <= 0 {
		opts.TimeTolerance = DefaultOptions().TimeTolerance
	}
	if opts.FuzzyThreshold <= 0 {
		opts.FuzzyThreshold = DefaultOptions().FuzzyThreshold
	}
	if opts.TitleOverlapFloor <= 0 {
		opts.TitleOverlapFloor = DefaultOptions().TitleOverlapFloor
	}
	return &Matcher{Location: loc, Options: opts}
}

// Match returns the stored candidate representing the same event as
// fetched, or nil when no tier produces a match. Tiers short-circuit in
// order of confidence: provider UID, exact content, windowed fuzzy.
func (m *Matcher) Match(fetched ics.ParsedEvent, candidates []*store.ExternalEvent) *store.ExternalEvent {
	// Tier 1: provider UID. Feeds rotate UIDs across exports, so a miss
	// here says nothing; a hit is authoritative even when content differs.
	for _, candidate := range candidates {
		if candidate.ProviderUID != "" && candidate.ProviderUID == fetched.UID {
			return candidate
		}
	}

	// Tier 2: exact title + normalized start date-time.
	for _, candidate := range candidates {
		if candidate.Title == fetched.Title &&
			candidate.StartDate == fetched.StartDate &&
			candidate.StartTime == fetched.StartTime {
			return candidate
		}
	}

	// Tier 3: token-overlap fuzzy match within the time window.
	var best *store.ExternalEvent
	bestScore := 0.0
	for _, candidate := range candidates {
		candidateStart, err := candidate.StartAt(m.Location)
		if err != nil {
			continue
		}
		delta := fetched.Start.Sub(candidateStart)
		if delta < 0 {
			delta = -delta
		}
		if delta > m.Options.TimeTolerance {
			continue
		}

		titleOverlap := TokenOverlap(fetched.Title, candidate.Title)
		if titleOverlap < m.Options.TitleOverlapFloor {
			continue
		}

		score := titleWeight*titleOverlap + locationWeight*TokenOverlap(fetched.Location, candidate.Location)
		if score >= m.Options.FuzzyThreshold && score > bestScore {
			best = candidate
			bestScore = score
		}
	}

	return best
}
