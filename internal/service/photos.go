package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkwok/photosense/internal/cache"
	"github.com/jkwok/photosense/internal/domain"
	"github.com/jkwok/photosense/internal/logger"
	"github.com/jkwok/photosense/internal/repository"
	"github.com/jkwok/photosense/internal/storage"
)

// AnalysisEnqueuer schedules a photo's first pipeline tier after upload.
type AnalysisEnqueuer interface {
	EnqueuePhoto(ctx context.Context, photoID string) (*domain.Job, error)
}

// VectorRemover drops a photo's point from the vector index.
type VectorRemover interface {
	Delete(ctx context.Context, pointID string) error
}

// PhotoService handles photo lifecycle: upload, metadata reads and edits,
// and deletion. Enrichment itself belongs to the pipeline.
type PhotoService struct {
	photos   *repository.PhotoRepository
	analyses *repository.AnalysisRepository
	faces    *repository.FaceRepository
	jobs     *repository.JobRepository
	vectors  VectorRemover
	store    storage.ObjectStorage
	cache    *cache.Cache
	enqueuer AnalysisEnqueuer
	logger   *logger.Logger
}

// NewPhotoService creates a new photo service. vectors, photoCache, and
// enqueuer may be nil; the corresponding steps are skipped.
func NewPhotoService(
	photos *repository.PhotoRepository,
	analyses *repository.AnalysisRepository,
	faces *repository.FaceRepository,
	jobs *repository.JobRepository,
	vectors VectorRemover,
	store storage.ObjectStorage,
	photoCache *cache.Cache,
	enqueuer AnalysisEnqueuer,
	log *logger.Logger,
) *PhotoService {
	return &PhotoService{
		photos:   photos,
		analyses: analyses,
		faces:    faces,
		jobs:     jobs,
		vectors:  vectors,
		store:    store,
		cache:    photoCache,
		enqueuer: enqueuer,
		logger:   log,
	}
}

// UploadInput carries one photo upload.
type UploadInput struct {
	OwnerID  string
	Filename string
	Data     []byte
}

// UploadResult is the created photo plus a duplicate hint. Duplicate is
// advisory only: the upload is stored either way.
type UploadResult struct {
	Photo     *domain.Photo `json:"photo"`
	Job       *domain.Job   `json:"job,omitempty"`
	Duplicate bool          `json:"duplicate,omitempty"`
}

// Upload stores the original bytes, creates the photo row, and enqueues the
// instant tier.
func (s *PhotoService) Upload(ctx context.Context, in *UploadInput) (*UploadResult, error) {
	if len(in.Data) == 0 {
		return nil, errors.New("empty upload")
	}
	if in.OwnerID == "" {
		return nil, errors.New("owner is required")
	}

	sum := sha256.Sum256(in.Data)
	hash := hex.EncodeToString(sum[:])
	duplicate, err := s.photos.ExistsByContentHash(ctx, in.OwnerID, hash)
	if err != nil {
		logger.CtxWarn(ctx, "Duplicate check failed: owner_id=%s, error=%v", in.OwnerID, err)
	}

	photoID := uuid.New().String()
	key := storage.PhotoKey(in.OwnerID, photoID, in.Filename)
	if err := s.store.Upload(ctx, key, bytes.NewReader(in.Data), int64(len(in.Data)), storage.ContentTypeForKey(key)); err != nil {
		return nil, fmt.Errorf("failed to store photo: %w", err)
	}

	photo := &domain.Photo{
		ID:            photoID,
		OwnerID:       in.OwnerID,
		StorageKey:    key,
		ContentHash:   hash,
		UploadedAt:    time.Now(),
		FaceDetection: domain.FaceDetectionPending,
	}
	if err := s.photos.Create(ctx, photo); err != nil {
		return nil, fmt.Errorf("failed to create photo: %w", err)
	}

	var job *domain.Job
	if s.enqueuer != nil {
		job, err = s.enqueuer.EnqueuePhoto(ctx, photoID)
		if err != nil {
			return nil, fmt.Errorf("failed to enqueue analysis: %w", err)
		}
	}

	logger.CtxInfo(ctx, "Photo uploaded: photo_id=%s, owner_id=%s, bytes=%d, duplicate=%t",
		photoID, in.OwnerID, len(in.Data), duplicate)
	return &UploadResult{Photo: photo, Job: job, Duplicate: duplicate}, nil
}

// PhotoDetail is a photo with its enrichment embedded. AnalysisElapsedMs is
// derived while analysis is still running so clients can show progress
// without their own clock.
type PhotoDetail struct {
	Photo             *domain.Photo          `json:"photo"`
	Analysis          *domain.AnalysisRecord `json:"analysis,omitempty"`
	AnalysisElapsedMs *int64                 `json:"analysis_elapsed_ms,omitempty"`
}

// Get returns a photo with its analysis record. Soft-deleted photos read as
// not found.
func (s *PhotoService) Get(ctx context.Context, id string) (*PhotoDetail, error) {
	photo, err := s.loadLive(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &PhotoDetail{Photo: photo}
	record, err := s.analyses.GetByPhotoID(ctx, id)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load analysis: %w", err)
	}
	detail.Analysis = record

	if photo.AnalysisStartedAt != nil && photo.AnalyzedAt == nil {
		elapsed := time.Since(*photo.AnalysisStartedAt).Milliseconds()
		detail.AnalysisElapsedMs = &elapsed
	}
	return detail, nil
}

// List returns an owner's photos, newest first.
func (s *PhotoService) List(ctx context.Context, ownerID string, limit, offset int) ([]domain.Photo, int64, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.photos.ListByOwner(ctx, ownerID, limit, offset)
}

// PhotoPatch carries the user-editable metadata fields. Nil means leave
// untouched.
type PhotoPatch struct {
	TakenAt      *time.Time `json:"taken_at,omitempty"`
	Latitude     *float64   `json:"latitude,omitempty"`
	Longitude    *float64   `json:"longitude,omitempty"`
	LocationName *string    `json:"location_name,omitempty"`
}

// UpdateMetadata applies a partial metadata edit and returns the updated photo.
func (s *PhotoService) UpdateMetadata(ctx context.Context, id string, patch *PhotoPatch) (*domain.Photo, error) {
	if _, err := s.loadLive(ctx, id); err != nil {
		return nil, err
	}

	fields := map[string]interface{}{}
	if patch.TakenAt != nil {
		fields["taken_at"] = patch.TakenAt
	}
	if patch.Latitude != nil {
		fields["latitude"] = patch.Latitude
	}
	if patch.Longitude != nil {
		fields["longitude"] = patch.Longitude
	}
	if patch.LocationName != nil {
		fields["location_name"] = *patch.LocationName
	}
	if len(fields) > 0 {
		if err := s.photos.UpdateFields(ctx, id, fields); err != nil {
			return nil, fmt.Errorf("failed to update photo: %w", err)
		}
	}
	return s.photos.GetByID(ctx, id)
}

// Delete tombstones a photo and tears down its derived state. The tombstone
// lands first, so any tier still in flight drops its output instead of
// resurrecting the photo.
func (s *PhotoService) Delete(ctx context.Context, id string) error {
	photo, err := s.photos.GetByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrPhotoNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load photo: %w", err)
	}
	if photo.IsDeleted() {
		return nil
	}

	if err := s.photos.SoftDelete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete photo: %w", err)
	}
	if err := s.jobs.CancelByPhoto(ctx, id); err != nil {
		logger.CtxWarn(ctx, "Failed to cancel jobs: photo_id=%s, error=%v", id, err)
	}

	if record, err := s.analyses.GetByPhotoID(ctx, id); err == nil && record != nil {
		if s.vectors != nil && record.VectorPointID != "" {
			if err := s.vectors.Delete(ctx, record.VectorPointID); err != nil {
				logger.CtxWarn(ctx, "Failed to remove vector point: photo_id=%s, error=%v", id, err)
			}
		}
	}
	if s.cache != nil && photo.ContentHash != "" {
		if err := s.cache.InvalidateAnalysis(ctx, photo.ContentHash); err != nil {
			logger.CtxWarn(ctx, "Failed to invalidate analysis cache: photo_id=%s, error=%v", id, err)
		}
	}

	// Unlink faces one by one so persons with no remaining faces go away.
	if faces, err := s.faces.ListByPhoto(ctx, id); err == nil {
		for _, face := range faces {
			if err := s.faces.UnlinkAndCleanup(ctx, face.ID); err != nil {
				logger.CtxWarn(ctx, "Failed to remove face: face_id=%s, error=%v", face.ID, err)
			}
			if face.CropKey != "" {
				if err := s.store.Delete(ctx, face.CropKey); err != nil {
					logger.CtxWarn(ctx, "Failed to delete face crop: key=%s, error=%v", face.CropKey, err)
				}
			}
		}
	}

	for _, key := range []string{photo.StorageKey, photo.ThumbnailKey} {
		if key == "" {
			continue
		}
		if err := s.store.Delete(ctx, key); err != nil {
			logger.CtxWarn(ctx, "Failed to delete object: key=%s, error=%v", key, err)
		}
	}

	logger.CtxInfo(ctx, "Photo deleted: photo_id=%s, owner_id=%s", id, photo.OwnerID)
	return nil
}

func (s *PhotoService) loadLive(ctx context.Context, id string) (*domain.Photo, error) {
	photo, err := s.photos.GetByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPhotoNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load photo: %w", err)
	}
	if photo.IsDeleted() {
		return nil, ErrPhotoNotFound
	}
	return photo, nil
}
