package repository

import (
	"context"
	"time"

	"github.com/jkwok/photosense/internal/domain"
	"gorm.io/gorm"
)

// PhotoRepository handles photo data operations.
type PhotoRepository struct {
	db *gorm.DB
}

// NewPhotoRepository creates a new PhotoRepository.
func NewPhotoRepository(db *gorm.DB) *PhotoRepository {
	return &PhotoRepository{db: db}
}

// Create inserts a new photo record.
func (r *PhotoRepository) Create(ctx context.Context, photo *domain.Photo) error {
	return r.db.WithContext(ctx).Create(photo).Error
}

// GetByID retrieves a photo by its ID, including soft-deleted rows.
// Callers that must exclude deleted photos check IsDeleted themselves;
// pipeline workers rely on seeing the tombstone to abandon in-flight work.
func (r *PhotoRepository) GetByID(ctx context.Context, id string) (*domain.Photo, error) {
	var photo domain.Photo
	if err := r.db.WithContext(ctx).First(&photo, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &photo, nil
}

// Update updates an existing photo record.
func (r *PhotoRepository) Update(ctx context.Context, photo *domain.Photo) error {
	return r.db.WithContext(ctx).Save(photo).Error
}

// UpdateFields applies a partial update to a photo.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: photo ID.
//   - fields: column -> value map to apply.
// Returns:
//   - error: non-nil if the update fails.
func (r *PhotoRepository) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&domain.Photo{}).Where("id = ?", id).Updates(fields).Error
}

// SetFaceDetectionStatus transitions the photo's face tier status.
func (r *PhotoRepository) SetFaceDetectionStatus(ctx context.Context, id string, status domain.FaceDetectionStatus) error {
	return r.UpdateFields(ctx, id, map[string]interface{}{"face_detection": status})
}

// PhotoHash pairs a photo with its perceptual hash for duplicate scans.
type PhotoHash struct {
	ID             string
	PerceptualHash string
}

// PerceptualHashes returns id and hash pairs for an owner's live photos
// that carry a perceptual hash, excluding the given photo.
func (r *PhotoRepository) PerceptualHashes(ctx context.Context, ownerID, excludeID string) ([]PhotoHash, error) {
	var hashes []PhotoHash
	err := r.db.WithContext(ctx).Model(&domain.Photo{}).
		Select("id, perceptual_hash").
		Where("owner_id = ? AND id <> ? AND perceptual_hash <> '' AND deleted_at IS NULL", ownerID, excludeID).
		Scan(&hashes).Error
	return hashes, err
}

// SoftDelete marks a photo deleted, excluding it from pipelines and search.
func (r *PhotoRepository) SoftDelete(ctx context.Context, id string) error {
	now := time.Now()
	return r.UpdateFields(ctx, id, map[string]interface{}{"deleted_at": &now})
}

// IsDeleted reports whether the photo is soft-deleted or missing entirely.
// Workers call this immediately before committing tier output: the delete wins.
func (r *PhotoRepository) IsDeleted(ctx context.Context, id string) (bool, error) {
	var photo domain.Photo
	err := r.db.WithContext(ctx).Select("id", "deleted_at").First(&photo, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return photo.IsDeleted(), nil
}

// GetByIDs retrieves photos by a list of IDs, excluding soft-deleted rows.
func (r *PhotoRepository) GetByIDs(ctx context.Context, ids []string) ([]domain.Photo, error) {
	if len(ids) == 0 {
		return []domain.Photo{}, nil
	}
	var photos []domain.Photo
	if err := r.db.WithContext(ctx).
		Where("id IN ? AND deleted_at IS NULL", ids).
		Find(&photos).Error; err != nil {
		return nil, err
	}
	return photos, nil
}

// ListByOwner returns an owner's live photos, newest upload first.
func (r *PhotoRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]domain.Photo, int64, error) {
	query := r.db.WithContext(ctx).Model(&domain.Photo{}).
		Where("owner_id = ? AND deleted_at IS NULL", ownerID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var photos []domain.Photo
	if err := query.Order("uploaded_at DESC").Limit(limit).Offset(offset).Find(&photos).Error; err != nil {
		return nil, 0, err
	}
	return photos, total, nil
}

// ExistsByContentHash checks whether an owner already has a live photo with
// the given content hash. Used for upload dedup hints, never enforcement.
func (r *PhotoRepository) ExistsByContentHash(ctx context.Context, ownerID, hash string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Photo{}).
		Where("owner_id = ? AND content_hash = ? AND deleted_at IS NULL", ownerID, hash).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
