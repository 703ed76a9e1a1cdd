package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jkwok/photosense/internal/domain"
	"github.com/jkwok/photosense/internal/logger"
)

// runReanalyze rebuilds a photo's analysis from scratch with one model for
// every pass. The old record is swapped out atomically, so readers never
// observe a half-rebuilt analysis, and the stale byte-identical cache entry
// is dropped rather than reused.
func (c *Coordinator) runReanalyze(ctx context.Context, job *domain.Job) (domain.JobStatus, error) {
	photo, err := c.photos.GetByID(ctx, job.PhotoID)
	if err != nil {
		return "", fmt.Errorf("failed to load photo: %w", err)
	}
	if photo.Corrupt {
		return "", permanent(fmt.Errorf("photo %s is corrupt", photo.ID))
	}

	model := job.Model
	if model == "" {
		model = c.vlm.DeepModel()
	}

	if c.cache != nil && photo.ContentHash != "" {
		if err := c.cache.InvalidateAnalysis(ctx, photo.ContentHash); err != nil {
			logger.CtxWarn(ctx, "Failed to invalidate analysis cache: photo_id=%s, error=%v", photo.ID, err)
		}
	}

	data, err := c.download(ctx, photo.StorageKey)
	if err != nil {
		return "", err
	}
	format := formatFromKey(photo.StorageKey)

	started := time.Now()
	fast, err := c.vlm.ClassifyImageWith(ctx, model, data, format)
	if err != nil {
		return "", fmt.Errorf("reanalyze classification failed: %w", err)
	}
	deep, confidence, err := c.deepPass(ctx, model, photo, data)
	if err != nil {
		return "", err
	}

	record := &domain.AnalysisRecord{
		ID:      uuid.New().String(),
		PhotoID: photo.ID,
	}
	mergeAnalysis(record, &AnalysisUpdate{
		Description:      deep.Description,
		ShortDescription: fast.ShortDescription,
		ExtractedText:    deep.ExtractedText,
		Objects:          deep.Objects,
		SceneCategory:    fast.SceneCategory,
		SceneSubcategory: fast.SceneSubcategory,
		Tags:             deep.Tags,
		Model:            model,
		Confidence:       confidence,
	})
	record.ProcessingTimeMs = time.Since(started).Milliseconds()

	embedding, err := c.embedder.EmbedPassage(ctx, record.SearchText)
	if err != nil {
		return "", fmt.Errorf("failed to embed analysis text: %w", err)
	}
	record.EmbeddingModel = c.embedder.GetModel()
	record.VectorPointID = photo.ID

	deleted, err := c.photos.IsDeleted(ctx, photo.ID)
	if err != nil {
		return "", fmt.Errorf("failed to check photo: %w", err)
	}
	if deleted {
		return domain.JobStatusSkipped, nil
	}

	if err := c.analyses.Replace(ctx, record); err != nil {
		return "", fmt.Errorf("failed to replace analysis: %w", err)
	}
	if err := c.indexVector(ctx, photo, record, embedding); err != nil {
		return "", err
	}

	now := time.Now()
	if err := c.photos.UpdateFields(ctx, photo.ID, map[string]interface{}{
		"is_food":              fast.IsFood,
		"is_document":          fast.IsDocument,
		"has_text":             record.ExtractedText != "",
		"analysis_started_at":  &started,
		"analyzed_at":          &now,
		"analysis_duration_ms": now.Sub(started).Milliseconds(),
	}); err != nil {
		return "", fmt.Errorf("failed to stamp reanalysis: %w", err)
	}

	c.storeCachedAnalysis(ctx, photo.ContentHash, &cachedAnalysis{
		Result:         deep,
		Confidence:     confidence,
		Model:          model,
		Embedding:      embedding,
		EmbeddingModel: record.EmbeddingModel,
	})

	logger.CtxInfo(ctx, "Photo reanalyzed: photo_id=%s, model=%s, confidence=%.2f", photo.ID, model, confidence)
	return domain.JobStatusCompleted, nil
}
