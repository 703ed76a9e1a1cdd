package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/jkwok/photosense/internal/domain"
)

// SearchHistoryRepository records executed searches for later inspection.
type SearchHistoryRepository struct {
	db *gorm.DB
}

// NewSearchHistoryRepository creates a new search history repository instance
func NewSearchHistoryRepository(db *gorm.DB) *SearchHistoryRepository {
	return &SearchHistoryRepository{db: db}
}

// Record stores a single executed query. Called fire-and-forget from the
// search path, failures are logged by the caller and never surfaced.
func (r *SearchHistoryRepository) Record(ctx context.Context, query *domain.SearchQuery) error {
	return r.db.WithContext(ctx).Create(query).Error
}

// Recent returns the latest queries for an owner, newest first.
func (r *SearchHistoryRepository) Recent(ctx context.Context, ownerID string, limit int) ([]domain.SearchQuery, error) {
	var queries []domain.SearchQuery
	q := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if ownerID != "" {
		q = q.Where("owner_id = ?", ownerID)
	}
	err := q.Find(&queries).Error
	return queries, err
}
