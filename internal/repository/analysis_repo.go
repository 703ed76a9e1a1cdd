package repository

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jkwok/photosense/internal/domain"
	"gorm.io/gorm"
)

// AnalysisRepository handles enrichment records and the lexical index.
type AnalysisRepository struct {
	db *gorm.DB
}

// NewAnalysisRepository creates a new AnalysisRepository.
func NewAnalysisRepository(db *gorm.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

// GetByPhotoID retrieves the analysis record for a photo.
func (r *AnalysisRepository) GetByPhotoID(ctx context.Context, photoID string) (*domain.AnalysisRecord, error) {
	var record domain.AnalysisRecord
	if err := r.db.WithContext(ctx).First(&record, "photo_id = ?", photoID).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// GetOrCreate returns the photo's record, creating an empty one on first use.
// The record is created lazily on the first tier write and never duplicated;
// the unique index on photo_id backs that invariant.
func (r *AnalysisRepository) GetOrCreate(ctx context.Context, photoID string) (*domain.AnalysisRecord, error) {
	record, err := r.GetByPhotoID(ctx, photoID)
	if err == nil {
		return record, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	record = &domain.AnalysisRecord{
		ID:        uuid.New().String(),
		PhotoID:   photoID,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		// Lost a race with a concurrent first write; fetch the winner.
		if existing, getErr := r.GetByPhotoID(ctx, photoID); getErr == nil {
			return existing, nil
		}
		return nil, err
	}
	return record, nil
}

// Save persists the record.
func (r *AnalysisRepository) Save(ctx context.Context, record *domain.AnalysisRecord) error {
	record.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Save(record).Error
}

// Replace atomically swaps a photo's record for a freshly built one,
// preserving the row identity. Used by reanalyze only.
func (r *AnalysisRepository) Replace(ctx context.Context, record *domain.AnalysisRecord) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing domain.AnalysisRecord
		err := tx.First(&existing, "photo_id = ?", record.PhotoID).Error
		if err == nil {
			record.ID = existing.ID
			record.CreatedAt = existing.CreatedAt
		} else if err != gorm.ErrRecordNotFound {
			return err
		} else if record.ID == "" {
			record.ID = uuid.New().String()
			record.CreatedAt = time.Now()
		}
		record.UpdatedAt = time.Now()
		return tx.Save(record).Error
	})
}

// LexicalFilters narrow a lexical candidate query.
type LexicalFilters struct {
	OwnerID       string
	SceneCategory string
	TakenAfter    *time.Time
	TakenBefore   *time.Time
}

// LexicalCandidate pairs a matching record with its photo for zone scoring.
type LexicalCandidate struct {
	Photo  domain.Photo
	Record domain.AnalysisRecord
}

// LexicalCandidates returns records whose derived lexical field matches any
// of the given terms, joined with live photos that satisfy the filters.
// Zone-weighted scoring happens in the search service; the repository only
// narrows the candidate set.
func (r *AnalysisRepository) LexicalCandidates(ctx context.Context, terms []string, filters LexicalFilters, limit int) ([]LexicalCandidate, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}

	photoScope := r.db.WithContext(ctx).Model(&domain.Photo{}).
		Select("id").
		Where("deleted_at IS NULL")
	if filters.OwnerID != "" {
		photoScope = photoScope.Where("owner_id = ?", filters.OwnerID)
	}
	if filters.TakenAfter != nil {
		photoScope = photoScope.Where("taken_at >= ?", *filters.TakenAfter)
	}
	if filters.TakenBefore != nil {
		photoScope = photoScope.Where("taken_at < ?", *filters.TakenBefore)
	}

	query := r.db.WithContext(ctx).
		Where("photo_id IN (?)", photoScope)
	if filters.SceneCategory != "" {
		query = query.Where("scene_category = ?", filters.SceneCategory)
	}

	var clauses []string
	var args []interface{}
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		clauses = append(clauses, "search_text LIKE ?")
		args = append(args, "%"+term+"%")
	}
	if len(clauses) == 0 {
		return nil, nil
	}
	query = query.Where(strings.Join(clauses, " OR "), args...)

	var records []domain.AnalysisRecord
	if err := query.Limit(limit).Find(&records).Error; err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.PhotoID)
	}
	var photos []domain.Photo
	if len(ids) > 0 {
		if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&photos).Error; err != nil {
			return nil, err
		}
	}
	photoByID := make(map[string]domain.Photo, len(photos))
	for _, p := range photos {
		photoByID[p.ID] = p
	}

	candidates := make([]LexicalCandidate, 0, len(records))
	for _, rec := range records {
		candidates = append(candidates, LexicalCandidate{
			Photo:  photoByID[rec.PhotoID],
			Record: rec,
		})
	}
	return candidates, nil
}

// GetByPhotoIDs batch-fetches analysis records for result hydration.
func (r *AnalysisRepository) GetByPhotoIDs(ctx context.Context, photoIDs []string) ([]domain.AnalysisRecord, error) {
	if len(photoIDs) == 0 {
		return nil, nil
	}
	var records []domain.AnalysisRecord
	err := r.db.WithContext(ctx).Where("photo_id IN ?", photoIDs).Find(&records).Error
	return records, err
}

// Delete removes a photo's analysis record.
func (r *AnalysisRepository) Delete(ctx context.Context, photoID string) error {
	return r.db.WithContext(ctx).Delete(&domain.AnalysisRecord{}, "photo_id = ?", photoID).Error
}
