package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/jkwok/photosense/internal/domain"
	"github.com/jkwok/photosense/internal/logger"
	"github.com/jkwok/photosense/internal/repository"
	"github.com/jkwok/photosense/internal/service"
)

const (
	// deepConfidence is recorded for a full deep pass.
	deepConfidence = 0.9
	// deepPartialConfidence is recorded when the OCR portion failed but
	// the rest of the pass succeeded. The result stays usable; a later
	// reanalysis can still overwrite it.
	deepPartialConfidence = 0.7
)

// cachedAnalysis is the byte-identical reuse unit, keyed by content hash.
// Two uploads of the same file skip the model and embedding calls entirely.
type cachedAnalysis struct {
	Result         *service.DeepResult `json:"result"`
	Confidence     float64             `json:"confidence"`
	Model          string              `json:"model"`
	Embedding      []float32           `json:"embedding"`
	EmbeddingModel string              `json:"embedding_model"`
}

// runDeep performs the full understanding pass: long description, objects,
// weighted tags, OCR, then a passage embedding indexed into the vector
// store. Completion stamps the photo's analyzed_at.
func (c *Coordinator) runDeep(ctx context.Context, job *domain.Job) (domain.JobStatus, error) {
	photo, err := c.photos.GetByID(ctx, job.PhotoID)
	if err != nil {
		return "", fmt.Errorf("failed to load photo: %w", err)
	}
	if photo.Corrupt {
		return domain.JobStatusSkipped, nil
	}

	started := time.Now()
	cached := c.lookupCachedAnalysis(ctx, photo.ContentHash)

	var (
		result     *service.DeepResult
		confidence float64
		model      = c.vlm.DeepModel()
	)
	if cached != nil {
		result = cached.Result
		confidence = cached.Confidence
		model = cached.Model
		logger.CtxInfo(ctx, "Deep tier cache hit: photo_id=%s, content_hash=%s", photo.ID, photo.ContentHash)
	} else {
		data, err := c.download(ctx, photo.StorageKey)
		if err != nil {
			return "", err
		}
		result, confidence, err = c.deepPass(ctx, model, photo, data)
		if err != nil {
			return "", err
		}
	}

	record, err := c.analyses.GetOrCreate(ctx, photo.ID)
	if err != nil {
		return "", fmt.Errorf("failed to load analysis record: %w", err)
	}
	mergeAnalysis(record, &AnalysisUpdate{
		Description:   result.Description,
		ExtractedText: result.ExtractedText,
		Objects:       result.Objects,
		Tags:          result.Tags,
		Model:         model,
		Confidence:    confidence,
	})
	record.ProcessingTimeMs = time.Since(started).Milliseconds()

	var embedding []float32
	if cached != nil && len(cached.Embedding) > 0 {
		embedding = cached.Embedding
		record.EmbeddingModel = cached.EmbeddingModel
	} else {
		embedding, err = c.embedder.EmbedPassage(ctx, record.SearchText)
		if err != nil {
			return "", fmt.Errorf("failed to embed analysis text: %w", err)
		}
		record.EmbeddingModel = c.embedder.GetModel()
	}
	record.VectorPointID = photo.ID

	deleted, err := c.photos.IsDeleted(ctx, photo.ID)
	if err != nil {
		return "", fmt.Errorf("failed to check photo: %w", err)
	}
	if deleted {
		return domain.JobStatusSkipped, nil
	}

	if err := c.analyses.Save(ctx, record); err != nil {
		return "", fmt.Errorf("failed to save analysis: %w", err)
	}
	if err := c.indexVector(ctx, photo, record, embedding); err != nil {
		return "", err
	}

	now := time.Now()
	fields := map[string]interface{}{
		"has_text":    record.ExtractedText != "",
		"analyzed_at": &now,
	}
	if photo.AnalysisStartedAt != nil {
		fields["analysis_duration_ms"] = now.Sub(*photo.AnalysisStartedAt).Milliseconds()
	}
	if err := c.photos.UpdateFields(ctx, photo.ID, fields); err != nil {
		return "", fmt.Errorf("failed to stamp analysis completion: %w", err)
	}

	if cached == nil {
		c.storeCachedAnalysis(ctx, photo.ContentHash, &cachedAnalysis{
			Result:         result,
			Confidence:     confidence,
			Model:          model,
			Embedding:      embedding,
			EmbeddingModel: record.EmbeddingModel,
		})
	}

	logger.CtxInfo(ctx, "Deep tier completed: photo_id=%s, confidence=%.2f, text_len=%d, tags=%d",
		photo.ID, confidence, len(record.ExtractedText), len(record.Tags))
	return domain.JobStatusCompleted, nil
}

// deepPass runs the model calls for the deep tier. When the combined pass
// reads no text off a photo the quick flags say should have some, a
// dedicated OCR pass gets a second chance; if that also fails, the pass
// still succeeds at reduced confidence rather than discarding the
// description and tags.
func (c *Coordinator) deepPass(ctx context.Context, model string, photo *domain.Photo, data []byte) (*service.DeepResult, float64, error) {
	format := formatFromKey(photo.StorageKey)
	result, err := c.vlm.AnalyzeImageWith(ctx, model, data, format)
	if err != nil {
		return nil, 0, fmt.Errorf("deep analysis failed: %w", err)
	}

	confidence := deepConfidence
	if result.ExtractedText == "" && (photo.IsDocument || photo.HasText) {
		text, ocrErr := c.vlm.ExtractText(ctx, data, format)
		switch {
		case ocrErr != nil:
			logger.CtxWarn(ctx, "OCR pass failed, keeping partial result: photo_id=%s, error=%v", photo.ID, ocrErr)
			confidence = deepPartialConfidence
		case text != "":
			result.ExtractedText = text
		}
	}
	return result, confidence, nil
}

// indexVector upserts the photo's embedding with its filterable payload.
func (c *Coordinator) indexVector(ctx context.Context, photo *domain.Photo, record *domain.AnalysisRecord, embedding []float32) error {
	var takenAt int64
	if photo.TakenAt != nil {
		takenAt = photo.TakenAt.Unix()
	}
	payload := &repository.PhotoPayload{
		PhotoID:       photo.ID,
		OwnerID:       photo.OwnerID,
		SceneCategory: record.SceneCategory,
		HasText:       record.ExtractedText != "",
		HasFaces:      photo.HasFaces,
		Tags:          record.Tags.Keys(),
		TakenAtUnix:   takenAt,
	}
	if err := c.vectors.Upsert(ctx, record.VectorPointID, embedding, payload); err != nil {
		return fmt.Errorf("failed to index vector: %w", err)
	}
	return nil
}

func (c *Coordinator) lookupCachedAnalysis(ctx context.Context, hash string) *cachedAnalysis {
	if c.cache == nil || hash == "" {
		return nil
	}
	var cached cachedAnalysis
	hit, err := c.cache.GetAnalysis(ctx, hash, &cached)
	if err != nil {
		logger.CtxWarn(ctx, "Analysis cache read failed: content_hash=%s, error=%v", hash, err)
		return nil
	}
	if !hit || cached.Result == nil {
		return nil
	}
	return &cached
}

func (c *Coordinator) storeCachedAnalysis(ctx context.Context, hash string, cached *cachedAnalysis) {
	if c.cache == nil || hash == "" {
		return
	}
	if err := c.cache.SetAnalysis(ctx, hash, cached); err != nil {
		logger.CtxWarn(ctx, "Analysis cache write failed: content_hash=%s, error=%v", hash, err)
	}
}
