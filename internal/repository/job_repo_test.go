package repository

import (
	"context"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/jkwok/photosense/internal/domain"
)

func repoTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedJob(t *testing.T, db *gorm.DB, id, photoID string, tier domain.Tier, status domain.JobStatus, createdAt time.Time) *domain.Job {
	t.Helper()
	job := &domain.Job{
		ID:        id,
		PhotoID:   photoID,
		Tier:      tier,
		Status:    status,
		CreatedAt: createdAt,
	}
	if err := db.Create(job).Error; err != nil {
		t.Fatalf("seed job %s: %v", id, err)
	}
	return job
}

// Two processes sharing the queue must never run tiers for one photo at
// the same time: a pending job stays unclaimable while another job for
// its photo is processing, even when it is the oldest row.
func TestNextPendingSkipsBusyPhoto(t *testing.T) {
	db := repoTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()
	base := time.Now().Add(-time.Minute)

	seedJob(t, db, "j-busy", "photo-a", domain.TierFast, domain.JobStatusProcessing, base)
	seedJob(t, db, "j-blocked", "photo-a", domain.TierFace, domain.JobStatusPending, base.Add(time.Second))
	seedJob(t, db, "j-free", "photo-b", domain.TierInstant, domain.JobStatusPending, base.Add(2*time.Second))

	claimed, err := repo.NextPending(ctx)
	if err != nil {
		t.Fatalf("NextPending: %v", err)
	}
	if claimed == nil || claimed.ID != "j-free" {
		t.Fatalf("claimed %+v, want the other photo's job j-free", claimed)
	}
	if claimed.Status != domain.JobStatusProcessing || claimed.Attempts != 1 {
		t.Fatalf("claim did not flip status/attempts: %+v", claimed)
	}

	// Only the blocked photo's job remains, so nothing is claimable.
	if next, err := repo.NextPending(ctx); err != nil || next != nil {
		t.Fatalf("got job %+v (err %v), want nil while photo-a is busy", next, err)
	}

	if err := repo.MarkCompleted(ctx, "j-busy", domain.JobStatusCompleted); err != nil {
		t.Fatalf("complete busy job: %v", err)
	}
	claimed, err = repo.NextPending(ctx)
	if err != nil {
		t.Fatalf("NextPending after completion: %v", err)
	}
	if claimed == nil || claimed.ID != "j-blocked" {
		t.Fatalf("claimed %+v, want j-blocked once photo-a is idle", claimed)
	}
}

func TestNextPendingHonorsRunAt(t *testing.T) {
	db := repoTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job := seedJob(t, db, "j-backoff", "photo-a", domain.TierFast, domain.JobStatusPending, time.Now().Add(-time.Minute))
	future := time.Now().Add(time.Hour)
	if err := db.Model(job).Update("run_at", future).Error; err != nil {
		t.Fatalf("set run_at: %v", err)
	}

	if next, err := repo.NextPending(ctx); err != nil || next != nil {
		t.Fatalf("got job %+v (err %v), want nil before run_at elapses", next, err)
	}

	past := time.Now().Add(-time.Second)
	if err := db.Model(job).Update("run_at", past).Error; err != nil {
		t.Fatalf("set run_at: %v", err)
	}
	claimed, err := repo.NextPending(ctx)
	if err != nil {
		t.Fatalf("NextPending: %v", err)
	}
	if claimed == nil || claimed.ID != "j-backoff" {
		t.Fatalf("claimed %+v, want j-backoff once run_at has passed", claimed)
	}
	if claimed.RunAt != nil {
		t.Fatalf("run_at %v not cleared on claim", claimed.RunAt)
	}
}

func TestMarkFailedRetryStoresBackoff(t *testing.T) {
	db := repoTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	seedJob(t, db, "j1", "photo-a", domain.TierDeep, domain.JobStatusProcessing, time.Now())
	if err := repo.MarkFailed(ctx, "j1", "model endpoint 503", true, time.Hour); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	got, err := repo.GetByID(ctx, "j1")
	if err != nil || got == nil {
		t.Fatalf("reload job: %v", err)
	}
	if got.Status != domain.JobStatusPending {
		t.Fatalf("status %s, want pending", got.Status)
	}
	if got.RunAt == nil || time.Until(*got.RunAt) < 50*time.Minute {
		t.Fatalf("run_at %v, want roughly an hour out", got.RunAt)
	}

	if err := repo.MarkFailed(ctx, "j1", "model endpoint 503", false, 0); err != nil {
		t.Fatalf("MarkFailed terminal: %v", err)
	}
	got, err = repo.GetByID(ctx, "j1")
	if err != nil || got == nil {
		t.Fatalf("reload job: %v", err)
	}
	if got.Status != domain.JobStatusFailed || got.FinishedAt == nil {
		t.Fatalf("parked job %+v, want failed with finished_at", got)
	}
}
