package pipeline

import (
	"strings"
	"testing"

	"github.com/jkwok/photosense/internal/domain"
)

func TestMergeFastIntoEmptyRecord(t *testing.T) {
	record := &domain.AnalysisRecord{}

	changed := mergeAnalysis(record, &AnalysisUpdate{
		ShortDescription: "a dog on a beach",
		SceneCategory:    "animal",
		Model:            "fast-v1",
		Confidence:       0.5,
	})

	if !changed {
		t.Fatal("merge into empty record must report a change")
	}
	if record.ShortDescription != "a dog on a beach" || record.SceneCategory != "animal" {
		t.Errorf("record = %+v", record)
	}
	if record.Confidence != 0.5 || record.Model != "fast-v1" {
		t.Errorf("confidence/model not advanced: %+v", record)
	}
}

func TestMergeDeepOverwritesFast(t *testing.T) {
	record := &domain.AnalysisRecord{
		ShortDescription: "a dog",
		SceneCategory:    "other",
		Confidence:       0.5,
		Model:            "fast-v1",
	}

	mergeAnalysis(record, &AnalysisUpdate{
		Description:      "a golden retriever running on a sandy beach at sunset",
		ShortDescription: "golden retriever on a beach",
		SceneCategory:    "animal",
		ExtractedText:    "",
		Tags:             domain.TagMap{"dog": 0.95, "beach": 0.9},
		Model:            "deep-v1",
		Confidence:       0.9,
	})

	if record.ShortDescription != "golden retriever on a beach" {
		t.Error("deep result must overwrite the fast field")
	}
	if record.SceneCategory != "animal" {
		t.Error("deep scene category must win")
	}
	if record.Model != "deep-v1" || record.Confidence != 0.9 {
		t.Errorf("model/confidence = %s/%v", record.Model, record.Confidence)
	}
}

func TestMergeLateFastCannotDowngradeDeep(t *testing.T) {
	record := &domain.AnalysisRecord{
		Description:   "a golden retriever running on a sandy beach at sunset",
		SceneCategory: "animal",
		Confidence:    0.9,
		Model:         "deep-v1",
	}

	mergeAnalysis(record, &AnalysisUpdate{
		ShortDescription: "a dog",
		SceneCategory:    "other",
		Model:            "fast-v1",
		Confidence:       0.5,
	})

	if record.SceneCategory != "animal" {
		t.Error("lower-confidence result downgraded a deep field")
	}
	if record.Model != "deep-v1" || record.Confidence != 0.9 {
		t.Errorf("model/confidence regressed: %s/%v", record.Model, record.Confidence)
	}
	// The empty short description still fills.
	if record.ShortDescription != "a dog" {
		t.Error("fill-into-empty must still apply for low-confidence updates")
	}
}

func TestMergeEmptyValuesNeverErase(t *testing.T) {
	record := &domain.AnalysisRecord{
		Description:   "full description",
		ExtractedText: "RECEIPT TOTAL 14.50",
		Confidence:    0.7,
	}

	mergeAnalysis(record, &AnalysisUpdate{
		Description:   "better description",
		ExtractedText: "", // OCR came back empty this round
		Confidence:    0.9,
	})

	if record.ExtractedText != "RECEIPT TOTAL 14.50" {
		t.Error("empty update value erased a filled field")
	}
	if record.Description != "better description" {
		t.Error("non-empty higher-confidence value should have replaced")
	}
}

func TestMergeRebuildsSearchText(t *testing.T) {
	record := &domain.AnalysisRecord{}

	mergeAnalysis(record, &AnalysisUpdate{
		Description:   "A Pizza Margherita on a wooden table",
		ExtractedText: "MARIO'S PIZZERIA",
		Tags:          domain.TagMap{"pizza": 0.9},
		Confidence:    0.9,
	})

	for _, want := range []string{"pizza margherita", "mario's pizzeria", "pizza"} {
		if !strings.Contains(record.SearchText, want) {
			t.Errorf("search text missing %q: %q", want, record.SearchText)
		}
	}
	if record.SearchText != strings.ToLower(record.SearchText) {
		t.Error("search text must be lowercased")
	}
}

func TestMergeStructuredDataFillOnly(t *testing.T) {
	record := &domain.AnalysisRecord{
		StructuredData: domain.JSONMap{"total": "14.50"},
		Confidence:     0.5,
	}

	mergeAnalysis(record, &AnalysisUpdate{
		StructuredData: domain.JSONMap{"total": "99.99"},
		Confidence:     0.9,
	})

	if record.StructuredData["total"] != "14.50" {
		t.Error("fill-if-empty field was overwritten")
	}
}
