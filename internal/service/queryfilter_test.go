package service

import (
	"testing"
	"time"
)

// Fixed reference: Tuesday 2025-06-10.
var refNow = time.Date(2025, time.June, 10, 15, 30, 0, 0, time.UTC)

func TestExtractFiltersTemporal(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantAfter  time.Time
		wantBefore time.Time
		wantText   string
	}{
		{
			name:       "last month",
			query:      "pizza last month",
			wantAfter:  time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
			wantBefore: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
			wantText:   "pizza",
		},
		{
			name:       "yesterday",
			query:      "sunset yesterday",
			wantAfter:  time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC),
			wantBefore: time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC),
			wantText:   "sunset",
		},
		{
			name:       "explicit year",
			query:      "ski trip in 2023",
			wantAfter:  time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
			wantBefore: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			wantText:   "ski trip",
		},
		{
			name:       "last week monday based",
			query:      "beach last week",
			wantAfter:  time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
			wantBefore: time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC),
			wantText:   "beach",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filters, residual := ExtractFilters(tt.query, QueryFilters{}, refNow)
			if filters.TakenAfter == nil || !filters.TakenAfter.Equal(tt.wantAfter) {
				t.Errorf("TakenAfter = %v, want %v", filters.TakenAfter, tt.wantAfter)
			}
			if filters.TakenBefore == nil || !filters.TakenBefore.Equal(tt.wantBefore) {
				t.Errorf("TakenBefore = %v, want %v", filters.TakenBefore, tt.wantBefore)
			}
			if residual != tt.wantText {
				t.Errorf("residual = %q, want %q", residual, tt.wantText)
			}
		})
	}
}

func TestExtractFiltersCategory(t *testing.T) {
	filters, residual := ExtractFilters("receipts from the trip", QueryFilters{}, refNow)
	if filters.SceneCategory != "document" {
		t.Errorf("SceneCategory = %q, want document", filters.SceneCategory)
	}
	if residual != "receipts from the trip" {
		t.Errorf("category words stay in the residual, got %q", residual)
	}
}

func TestExtractFiltersNoMatch(t *testing.T) {
	filters, residual := ExtractFilters("golden retriever on a couch", QueryFilters{}, refNow)
	if filters.SceneCategory != "" || filters.TakenAfter != nil || filters.TakenBefore != nil {
		t.Errorf("expected no extracted filters, got %+v", filters)
	}
	if residual != "golden retriever on a couch" {
		t.Errorf("residual = %q", residual)
	}
}

func TestExtractFiltersExplicitWins(t *testing.T) {
	after := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	explicit := QueryFilters{SceneCategory: "nature", TakenAfter: &after}

	filters, _ := ExtractFilters("food last month", explicit, refNow)
	if filters.SceneCategory != "nature" {
		t.Errorf("explicit category overwritten: %q", filters.SceneCategory)
	}
	if !filters.TakenAfter.Equal(after) {
		t.Errorf("explicit date overwritten: %v", filters.TakenAfter)
	}
}

func TestExtractFiltersPurelyTemporal(t *testing.T) {
	_, residual := ExtractFilters("last month", QueryFilters{}, refNow)
	if residual == "" {
		t.Error("purely temporal query must keep text for the embedding call")
	}
}
