package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/jkwok/photosense/internal/domain"
)

// ErrJobExists is returned by EnqueueDedup when a live job for the same
// photo and tier already exists.
var ErrJobExists = errors.New("job already pending or processing for photo and tier")

// JobRepository persists pipeline jobs.
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new job repository instance
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// EnqueueDedup inserts a job unless a pending or processing job for the same
// (photo, tier) pair already exists. On conflict the existing job is returned
// alongside ErrJobExists so callers can report it.
func (r *JobRepository) EnqueueDedup(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	var existing *domain.Job
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var live domain.Job
		err := tx.Where("photo_id = ? AND tier = ? AND status IN ?",
			job.PhotoID, job.Tier,
			[]domain.JobStatus{domain.JobStatusPending, domain.JobStatusProcessing}).
			First(&live).Error
		if err == nil {
			existing = &live
			return ErrJobExists
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return tx.Create(job).Error
	})
	if errors.Is(err, ErrJobExists) {
		return existing, ErrJobExists
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// GetByID fetches a job, nil when absent.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	var job domain.Job
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// NextPending claims the oldest runnable pending job by flipping it to
// processing. A job is runnable once its run_at backoff (if any) has
// elapsed and no job for the same photo is already processing, so two
// worker processes never run tiers for one photo at the same time. The
// claim update re-checks both conditions against the database, making it
// safe across processes sharing the queue table.
func (r *JobRepository) NextPending(ctx context.Context) (*domain.Job, error) {
	for {
		now := time.Now()
		busy := r.db.Model(&domain.Job{}).
			Select("photo_id").
			Where("status = ?", domain.JobStatusProcessing)

		var job domain.Job
		err := r.db.WithContext(ctx).
			Where("status = ? AND (run_at IS NULL OR run_at <= ?)", domain.JobStatusPending, now).
			Where("photo_id NOT IN (?)", busy).
			Order("created_at ASC").
			First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		res := r.db.WithContext(ctx).Model(&domain.Job{}).
			Where("id = ? AND status = ?", job.ID, domain.JobStatusPending).
			Where("photo_id NOT IN (?)", busy).
			Updates(map[string]interface{}{
				"status":     domain.JobStatusProcessing,
				"started_at": now,
				"run_at":     nil,
				"attempts":   gorm.Expr("attempts + 1"),
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			// Lost the race, try the next row.
			continue
		}
		job.Status = domain.JobStatusProcessing
		job.StartedAt = &now
		job.RunAt = nil
		job.Attempts++
		return &job, nil
	}
}

// MarkCompleted finishes a job with the given terminal status.
func (r *JobRepository) MarkCompleted(ctx context.Context, id string, status domain.JobStatus) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      status,
			"finished_at": now,
		}).Error
}

// MarkFailed records the failure reason and either requeues the job for
// another attempt or parks it as failed when attempts are exhausted. A
// positive backoff is stored as run_at, so the retry waits in the queue
// instead of occupying a worker.
func (r *JobRepository) MarkFailed(ctx context.Context, id string, lastError string, retry bool, backoff time.Duration) error {
	updates := map[string]interface{}{
		"last_error": lastError,
	}
	if retry {
		updates["status"] = domain.JobStatusPending
		updates["started_at"] = nil
		if backoff > 0 {
			updates["run_at"] = time.Now().Add(backoff)
		}
	} else {
		updates["status"] = domain.JobStatusFailed
		updates["finished_at"] = time.Now()
	}
	return r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// Requeue returns a claimed job to the queue without consuming an attempt.
// Used when a worker claims a job but cannot take the photo lock.
func (r *JobRepository) Requeue(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     domain.JobStatusPending,
			"started_at": nil,
			"attempts":   gorm.Expr("attempts - 1"),
		}).Error
}

// LiveCountByPhoto returns the number of pending plus processing jobs for
// one photo. Reanalyze refuses to start while this is non-zero.
func (r *JobRepository) LiveCountByPhoto(ctx context.Context, photoID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("photo_id = ? AND status IN ?", photoID,
			[]domain.JobStatus{domain.JobStatusPending, domain.JobStatusProcessing}).
		Count(&count).Error
	return count, err
}

// CancelByPhoto flips every live job of a deleted photo to skipped so workers
// stop picking them up.
func (r *JobRepository) CancelByPhoto(ctx context.Context, photoID string) error {
	return r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("photo_id = ? AND status IN ?", photoID,
			[]domain.JobStatus{domain.JobStatusPending, domain.JobStatusProcessing}).
		Updates(map[string]interface{}{
			"status":      domain.JobStatusSkipped,
			"finished_at": time.Now(),
		}).Error
}

// ListByPhoto returns a photo's jobs newest first.
func (r *JobRepository) ListByPhoto(ctx context.Context, photoID string) ([]domain.Job, error) {
	var jobs []domain.Job
	err := r.db.WithContext(ctx).
		Where("photo_id = ?", photoID).
		Order("created_at DESC").
		Find(&jobs).Error
	return jobs, err
}

// LiveCount returns the number of pending plus processing jobs. Exposed on
// the health endpoint.
func (r *JobRepository) LiveCount(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("status IN ?", []domain.JobStatus{domain.JobStatusPending, domain.JobStatusProcessing}).
		Count(&count).Error
	return count, err
}
