package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/jkwok/photosense/internal/domain"
	"github.com/jkwok/photosense/internal/logger"
)

// fastConfidence is the confidence recorded for fast tier output, low
// enough that the deep tier always overwrites it.
const fastConfidence = 0.5

// runFast performs the cheap classification pass: a short description,
// scene category, and the food/document quick flags.
func (c *Coordinator) runFast(ctx context.Context, job *domain.Job) (domain.JobStatus, error) {
	photo, err := c.photos.GetByID(ctx, job.PhotoID)
	if err != nil {
		return "", fmt.Errorf("failed to load photo: %w", err)
	}
	if photo.Corrupt {
		return domain.JobStatusSkipped, nil
	}

	data, err := c.download(ctx, photo.StorageKey)
	if err != nil {
		return "", err
	}

	started := time.Now()
	result, err := c.vlm.ClassifyImageWith(ctx, c.vlm.FastModel(), data, formatFromKey(photo.StorageKey))
	if err != nil {
		return "", fmt.Errorf("fast classification failed: %w", err)
	}

	record, err := c.analyses.GetOrCreate(ctx, photo.ID)
	if err != nil {
		return "", fmt.Errorf("failed to load analysis record: %w", err)
	}

	changed := mergeAnalysis(record, &AnalysisUpdate{
		ShortDescription: result.ShortDescription,
		SceneCategory:    result.SceneCategory,
		SceneSubcategory: result.SceneSubcategory,
		Model:            c.vlm.FastModel(),
		Confidence:       fastConfidence,
	})

	deleted, err := c.photos.IsDeleted(ctx, photo.ID)
	if err != nil {
		return "", fmt.Errorf("failed to check photo: %w", err)
	}
	if deleted {
		return domain.JobStatusSkipped, nil
	}

	if changed {
		record.ProcessingTimeMs = time.Since(started).Milliseconds()
		if err := c.analyses.Save(ctx, record); err != nil {
			return "", fmt.Errorf("failed to save analysis: %w", err)
		}
	}
	if err := c.photos.UpdateFields(ctx, photo.ID, map[string]interface{}{
		"is_food":     result.IsFood,
		"is_document": result.IsDocument,
	}); err != nil {
		return "", fmt.Errorf("failed to save quick flags: %w", err)
	}

	logger.CtxInfo(ctx, "Fast tier completed: photo_id=%s, scene=%s, food=%t, document=%t",
		photo.ID, result.SceneCategory, result.IsFood, result.IsDocument)
	return domain.JobStatusCompleted, nil
}
