// Package category classifies feed events into user activity categories.
//
// Resolution consults persisted external-name mappings first, then the
// user's category names, then a keyword heuristic table, and finally falls
// back to the canonical Unknown category. The resolver itself is pure: it
// reports a mapping worth persisting instead of writing it, and it is never
// consulted for metadata rows whose category was set manually.
package category

import (
	"regexp"
	"strings"

	"github.com/beekhof/ics-sync/internal/store"
)

// UnknownCategoryName is the name of the canonical fallback category.
// Lookups match it case-insensitively by prefix so pre-existing variants
// ("unknown", "Unknown activity") are reused instead of duplicated.
const UnknownCategoryName = "Unknown"

// KeywordRule maps title keywords to one category name. Higher priority
// wins; ties go to the earlier rule in the table.
type KeywordRule struct {
	Category string
	Keywords []string
	Priority int
}

// DefaultKeywordRules is the taxonomy the service ships with. It is data,
// not behavior: tests and deployments may inject alternate tables.
func DefaultKeywordRules() []KeywordRule {
	return []KeywordRule{
		{Category: "Træning", Keywords: []string{"træning", "traening", "training", "practice"}, Priority: 10},
		{Category: "Kamp", Keywords: []string{"kamp", "match", "game", "turnering", "tournament"}, Priority: 9},
		{Category: "Møde", Keywords: []string{"møde", "moede", "meeting"}, Priority: 8},
		{Category: "Fitness", Keywords: []string{"fitness", "gym", "styrke", "workout"}, Priority: 7},
		{Category: "Løb", Keywords: []string{"løb", "loeb", "run", "løbetur"}, Priority: 7},
		{Category: "Social", Keywords: []string{"fest", "social", "hygge"}, Priority: 5},
	}
}

// Resolution is the outcome of one resolve call. NewMapping, when non-nil,
// is an external-name association the caller should persist for reuse.
type Resolution struct {
	CategoryID string
	NewMapping *store.CategoryMapping
}

// Resolver maps event titles and explicit feed categories to category ids.
type Resolver struct {
	rules []KeywordRule
}

// NewResolver creates a Resolver with the given keyword table. A nil table
// selects DefaultKeywordRules.
func NewResolver(rules []KeywordRule) *Resolver {
	if rules == nil {
		rules = DefaultKeywordRules()
	}
	return &Resolver{rules: rules}
}

// Resolve picks a category id for an event. unknownID is the canonical
// Unknown category used when nothing else applies.
func (r *Resolver) Resolve(title string, explicit []string, available []store.Category, mappings []store.CategoryMapping, unknownID string) Resolution {
	// 1. A persisted mapping for any explicit feed category wins.
	for _, name := range explicit {
		for _, m := range mappings {
			if strings.EqualFold(strings.TrimSpace(m.ExternalName), strings.TrimSpace(name)) {
				return Resolution{CategoryID: m.CategoryID}
			}
		}
	}

	// 2. Exact name match between a feed category and a user category;
	// persist the association for future syncs.
	for _, name := range explicit {
		trimmed := strings.TrimSpace(name)
		for i := range available {
			if strings.EqualFold(strings.TrimSpace(available[i].Name), trimmed) {
				return Resolution{
					CategoryID: available[i].ID,
					NewMapping: &store.CategoryMapping{ExternalName: trimmed, CategoryID: available[i].ID},
				}
			}
		}
	}

	// 3. Partial match, substring in either direction.
	for _, name := range explicit {
		trimmed := strings.ToLower(strings.TrimSpace(name))
		if trimmed == "" {
			continue
		}
		for i := range available {
			catName := strings.ToLower(strings.TrimSpace(available[i].Name))
			if catName == "" {
				continue
			}
			if strings.Contains(catName, trimmed) || strings.Contains(trimmed, catName) {
				return Resolution{
					CategoryID: available[i].ID,
					NewMapping: &store.CategoryMapping{ExternalName: strings.TrimSpace(name), CategoryID: available[i].ID},
				}
			}
		}
	}

	// 4. Keyword heuristics against the title.
	if id := r.matchKeywords(title, available); id != "" {
		return Resolution{CategoryID: id}
	}

	// 5. A category's own name appearing in the title.
	lowerTitle := strings.ToLower(title)
	for i := range available {
		catName := strings.ToLower(strings.TrimSpace(available[i].Name))
		if catName != "" && strings.Contains(lowerTitle, catName) {
			return Resolution{CategoryID: available[i].ID}
		}
	}

	// 6. Canonical Unknown.
	return Resolution{CategoryID: unknownID}
}

// matchKeywords scores every keyword of every rule against the title. A
// word-boundary hit scores priority*10+5, a plain substring hit
// priority*10; the highest score wins and ties keep table order.
func (r *Resolver) matchKeywords(title string, available []store.Category) string {
	lowerTitle := strings.ToLower(title)

	bestScore := 0
	bestID := ""
	for _, rule := range r.rules {
		categoryID := findCategoryByName(available, rule.Category)
		if categoryID == "" {
			continue
		}
		for _, keyword := range rule.Keywords {
			kw := strings.ToLower(keyword)
			score := 0
			if wordBoundaryMatch(lowerTitle, kw) {
				score = rule.Priority*10 + 5
			} else if strings.Contains(lowerTitle, kw) {
				score = rule.Priority * 10
			}
			if score > bestScore {
				bestScore = score
				bestID = categoryID
			}
		}
	}
	return bestID
}

func wordBoundaryMatch(title, keyword string) bool {
	re, err := regexp.Compile(`\b` + regexp.QuoteMeta(keyword) + `\b`)
	if err != nil {
		return false
	}
	return re.MatchString(title)
}

func findCategoryByName(available []store.Category, name string) string {
	for i := range available {
		if strings.EqualFold(strings.TrimSpace(available[i].Name), name) {
			return available[i].ID
		}
	}
	return ""
}

// IsUnknownName reports whether a category name denotes the canonical
// Unknown category.
func IsUnknownName(name string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(name)), strings.ToLower(UnknownCategoryName))
}
