package pipeline

import (
	"strings"

	"github.com/jkwok/photosense/internal/domain"
)

// mergePolicy decides how a tier's value lands on a field that may already
// hold data from an earlier tier.
type mergePolicy int

const (
	// overwriteAlways replaces the field whenever the new value is non-empty.
	// Empty new values never erase filled fields under any policy.
	overwriteAlways mergePolicy = iota
	// overwriteIfHigherConfidence replaces only when the incoming result's
	// confidence exceeds the stored record's confidence.
	overwriteIfHigherConfidence
	// fillIfEmpty writes only into empty fields.
	fillIfEmpty
)

// analysisFieldPolicies is the per-field merge table. New tiers pick their
// confidence; the table stays fixed.
var analysisFieldPolicies = map[string]mergePolicy{
	"description":       overwriteIfHigherConfidence,
	"short_description": overwriteIfHigherConfidence,
	"extracted_text":    overwriteAlways,
	"objects":           overwriteIfHigherConfidence,
	"scene_category":    overwriteIfHigherConfidence,
	"scene_subcategory": overwriteIfHigherConfidence,
	"tags":              overwriteAlways,
	"structured_data":   fillIfEmpty,
}

// AnalysisUpdate carries one tier's output into the merge. Zero-valued
// fields are treated as "no result", never as an instruction to clear.
type AnalysisUpdate struct {
	Description      string
	ShortDescription string
	ExtractedText    string
	Objects          []string
	SceneCategory    string
	SceneSubcategory string
	Tags             domain.TagMap
	StructuredData   domain.JSONMap

	Model      string
	Confidence float64
}

// mergeAnalysis applies an update to a record under the field policy table
// and reports whether anything changed. The record's confidence and model
// advance only when the update's confidence is at least the stored one, so
// a late fast-tier completion cannot masquerade as a deep result.
func mergeAnalysis(record *domain.AnalysisRecord, update *AnalysisUpdate) bool {
	higher := update.Confidence > record.Confidence
	changed := false

	if shouldWrite("description", record.Description == "", higher) && update.Description != "" {
		record.Description = update.Description
		changed = true
	}
	if shouldWrite("short_description", record.ShortDescription == "", higher) && update.ShortDescription != "" {
		record.ShortDescription = update.ShortDescription
		changed = true
	}
	if shouldWrite("extracted_text", record.ExtractedText == "", higher) && update.ExtractedText != "" {
		record.ExtractedText = update.ExtractedText
		changed = true
	}
	if shouldWrite("objects", len(record.Objects) == 0, higher) && len(update.Objects) > 0 {
		record.Objects = domain.StringArray(update.Objects)
		changed = true
	}
	if shouldWrite("scene_category", record.SceneCategory == "", higher) && update.SceneCategory != "" {
		record.SceneCategory = update.SceneCategory
		changed = true
	}
	if shouldWrite("scene_subcategory", record.SceneSubcategory == "", higher) && update.SceneSubcategory != "" {
		record.SceneSubcategory = update.SceneSubcategory
		changed = true
	}
	if shouldWrite("tags", len(record.Tags) == 0, higher) && len(update.Tags) > 0 {
		record.Tags = update.Tags
		changed = true
	}
	if shouldWrite("structured_data", len(record.StructuredData) == 0, higher) && len(update.StructuredData) > 0 {
		record.StructuredData = update.StructuredData
		changed = true
	}

	if changed && update.Confidence >= record.Confidence {
		record.Confidence = update.Confidence
		if update.Model != "" {
			record.Model = update.Model
		}
	}
	if changed {
		record.SearchText = buildSearchText(record)
	}
	return changed
}

// shouldWrite evaluates one field's policy.
func shouldWrite(field string, empty, higherConfidence bool) bool {
	if empty {
		return true
	}
	switch analysisFieldPolicies[field] {
	case overwriteAlways:
		return true
	case overwriteIfHigherConfidence:
		return higherConfidence
	case fillIfEmpty:
		return false
	}
	return false
}

// buildSearchText derives the lexical index field: description, extracted
// text, and tags concatenated and lowercased.
func buildSearchText(record *domain.AnalysisRecord) string {
	parts := make([]string, 0, 4)
	if record.Description != "" {
		parts = append(parts, record.Description)
	}
	if record.ShortDescription != "" {
		parts = append(parts, record.ShortDescription)
	}
	if record.ExtractedText != "" {
		parts = append(parts, record.ExtractedText)
	}
	if len(record.Tags) > 0 {
		parts = append(parts, strings.Join(record.Tags.Keys(), " "))
	}
	return strings.ToLower(strings.Join(parts, " "))
}
