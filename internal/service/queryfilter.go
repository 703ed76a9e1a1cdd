package service

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// QueryFilters is the structural part of a search request, either passed
// explicitly by the caller or extracted from the query text.
type QueryFilters struct {
	SceneCategory string
	TakenAfter    *time.Time
	TakenBefore   *time.Time
}

// categoryKeywords maps query words to scene categories. Extraction only
// fires on whole-word matches so "foodie restaurant" still searches
// semantically for "foodie restaurant".
var categoryKeywords = map[string]string{
	"food":        "food",
	"meal":        "food",
	"restaurant":  "food",
	"document":    "document",
	"documents":   "document",
	"receipt":     "document",
	"receipts":    "document",
	"paper":       "document",
	"people":      "people",
	"person":      "people",
	"faces":       "people",
	"screenshot":  "screenshot",
	"screenshots": "screenshot",
	"nature":      "nature",
	"landscape":   "nature",
	"animal":      "animal",
	"animals":     "animal",
	"pet":         "animal",
	"pets":        "animal",
}

var yearPattern = regexp.MustCompile(`\b(?:in|from)\s+(20\d{2})\b`)

// ExtractFilters pulls temporal expressions and category keywords out of a
// free-text query. Matched phrases are removed from the returned residual
// query so they don't pollute the semantic search. Filters already set on
// the input are never overwritten by extraction.
//
// Parameters:
//   - query: raw user query text.
//   - explicit: filters passed by the caller, may be zero-valued.
//   - now: reference time for relative expressions.
//
// Returns:
//   - QueryFilters: merged explicit plus extracted filters.
//   - string: residual query text with filter phrases removed.
func ExtractFilters(query string, explicit QueryFilters, now time.Time) (QueryFilters, string) {
	filters := explicit
	residual := query
	lowered := strings.ToLower(query)

	if filters.TakenAfter == nil && filters.TakenBefore == nil {
		if after, before, phrase, ok := extractDateRange(lowered, now); ok {
			filters.TakenAfter = after
			filters.TakenBefore = before
			residual = removePhrase(residual, phrase)
		}
	}

	if filters.SceneCategory == "" {
		for _, word := range strings.Fields(strings.ToLower(residual)) {
			if category, ok := categoryKeywords[strings.Trim(word, ".,!?")]; ok {
				filters.SceneCategory = category
				break
			}
		}
	}

	residual = strings.Join(strings.Fields(residual), " ")
	if residual == "" {
		// A purely structural query like "last month" still needs text for
		// the embedding call.
		residual = strings.Join(strings.Fields(query), " ")
	}
	return filters, residual
}

// extractDateRange matches the supported relative and absolute temporal
// expressions, longest phrase first.
func extractDateRange(lowered string, now time.Time) (*time.Time, *time.Time, string, bool) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	relative := []struct {
		phrase string
		after  time.Time
		before time.Time
	}{
		{"last month", monthStart(today.AddDate(0, -1, 0)), monthStart(today)},
		{"this month", monthStart(today), monthStart(today).AddDate(0, 1, 0)},
		{"last week", weekStart(today).AddDate(0, 0, -7), weekStart(today)},
		{"this week", weekStart(today), weekStart(today).AddDate(0, 0, 7)},
		{"last year", yearStart(today.AddDate(-1, 0, 0)), yearStart(today)},
		{"this year", yearStart(today), yearStart(today).AddDate(1, 0, 0)},
		{"yesterday", today.AddDate(0, 0, -1), today},
		{"today", today, today.AddDate(0, 0, 1)},
	}
	for _, r := range relative {
		if strings.Contains(lowered, r.phrase) {
			after, before := r.after, r.before
			return &after, &before, r.phrase, true
		}
	}

	if m := yearPattern.FindStringSubmatch(lowered); m != nil {
		year, err := strconv.Atoi(m[1])
		if err == nil {
			after := time.Date(year, time.January, 1, 0, 0, 0, 0, now.Location())
			before := after.AddDate(1, 0, 0)
			return &after, &before, m[0], true
		}
	}

	return nil, nil, "", false
}

// removePhrase deletes a phrase from the query case-insensitively.
func removePhrase(query, phrase string) string {
	idx := strings.Index(strings.ToLower(query), phrase)
	if idx < 0 {
		return query
	}
	return query[:idx] + query[idx+len(phrase):]
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

func weekStart(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7 // Monday-based week
	return t.AddDate(0, 0, -offset)
}

func yearStart(t time.Time) time.Time {
	return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, t.Location())
}
