package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jkwok/photosense/internal/domain"
	"github.com/jkwok/photosense/internal/logger"
	"github.com/jkwok/photosense/internal/repository"
)

type memObjectStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemObjectStorage() *memObjectStorage {
	return &memObjectStorage{objects: map[string][]byte{}}
}

func (m *memObjectStorage) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memObjectStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memObjectStorage) GetURL(key string) string { return "mem://" + key }

func (m *memObjectStorage) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "mem://" + key, nil
}

func (m *memObjectStorage) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memObjectStorage) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memObjectStorage) EnsureBucket(ctx context.Context) error { return nil }

type stubEnqueuer struct {
	jobs []string
}

func (s *stubEnqueuer) EnqueuePhoto(ctx context.Context, photoID string) (*domain.Job, error) {
	s.jobs = append(s.jobs, photoID)
	return &domain.Job{ID: uuid.New().String(), PhotoID: photoID, Tier: domain.TierInstant, Status: domain.JobStatusPending}, nil
}

type stubVectorRemover struct {
	deleted []string
}

func (s *stubVectorRemover) Delete(ctx context.Context, pointID string) error {
	s.deleted = append(s.deleted, pointID)
	return nil
}

type photoServiceFixture struct {
	svc      *PhotoService
	photos   *repository.PhotoRepository
	analyses *repository.AnalysisRepository
	faces    *repository.FaceRepository
	jobs     *repository.JobRepository
	store    *memObjectStorage
	enqueuer *stubEnqueuer
	vectors  *stubVectorRemover
}

func newPhotoServiceFixture(t *testing.T) *photoServiceFixture {
	t.Helper()
	db := testDB(t)
	f := &photoServiceFixture{
		photos:   repository.NewPhotoRepository(db),
		analyses: repository.NewAnalysisRepository(db),
		faces:    repository.NewFaceRepository(db),
		jobs:     repository.NewJobRepository(db),
		store:    newMemObjectStorage(),
		enqueuer: &stubEnqueuer{},
		vectors:  &stubVectorRemover{},
	}
	log := logger.New(&logger.Config{Level: "error"})
	f.svc = NewPhotoService(f.photos, f.analyses, f.faces, f.jobs, f.vectors, f.store, nil, f.enqueuer, log)
	return f
}

func TestUploadStoresAndEnqueues(t *testing.T) {
	f := newPhotoServiceFixture(t)
	ctx := context.Background()

	result, err := f.svc.Upload(ctx, &UploadInput{
		OwnerID:  "u1",
		Filename: "holiday.jpg",
		Data:     []byte("jpeg bytes"),
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if result.Duplicate {
		t.Fatal("first upload flagged duplicate")
	}
	if result.Photo.ContentHash == "" {
		t.Fatal("content hash not computed at upload")
	}
	if result.Job == nil || result.Job.Tier != domain.TierInstant {
		t.Fatalf("instant tier not enqueued, job %+v", result.Job)
	}
	if _, ok := f.store.objects[result.Photo.StorageKey]; !ok {
		t.Fatalf("original not stored at %s", result.Photo.StorageKey)
	}
	if len(f.enqueuer.jobs) != 1 || f.enqueuer.jobs[0] != result.Photo.ID {
		t.Fatalf("enqueuer calls %v", f.enqueuer.jobs)
	}

	again, err := f.svc.Upload(ctx, &UploadInput{OwnerID: "u1", Filename: "copy.jpg", Data: []byte("jpeg bytes")})
	if err != nil {
		t.Fatalf("second upload: %v", err)
	}
	if !again.Duplicate {
		t.Fatal("byte-identical re-upload not flagged as duplicate")
	}

	other, err := f.svc.Upload(ctx, &UploadInput{OwnerID: "u2", Filename: "copy.jpg", Data: []byte("jpeg bytes")})
	if err != nil {
		t.Fatalf("other owner upload: %v", err)
	}
	if other.Duplicate {
		t.Fatal("duplicate hint must be scoped per owner")
	}
}

func TestGetEmbedsAnalysisAndElapsed(t *testing.T) {
	f := newPhotoServiceFixture(t)
	ctx := context.Background()

	result, err := f.svc.Upload(ctx, &UploadInput{OwnerID: "u1", Filename: "a.jpg", Data: []byte("img")})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	id := result.Photo.ID

	started := time.Now().Add(-3 * time.Second)
	if err := f.photos.UpdateFields(ctx, id, map[string]interface{}{"analysis_started_at": &started}); err != nil {
		t.Fatalf("prime photo: %v", err)
	}
	record, err := f.analyses.GetOrCreate(ctx, id)
	if err != nil {
		t.Fatalf("create record: %v", err)
	}
	record.ShortDescription = "a beach"
	if err := f.analyses.Save(ctx, record); err != nil {
		t.Fatalf("save record: %v", err)
	}

	detail, err := f.svc.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if detail.Analysis == nil || detail.Analysis.ShortDescription != "a beach" {
		t.Fatalf("analysis not embedded: %+v", detail.Analysis)
	}
	if detail.AnalysisElapsedMs == nil || *detail.AnalysisElapsedMs < 3000 {
		t.Fatalf("elapsed %v, want >= 3000ms while analysis runs", detail.AnalysisElapsedMs)
	}

	now := time.Now()
	if err := f.photos.UpdateFields(ctx, id, map[string]interface{}{"analyzed_at": &now}); err != nil {
		t.Fatalf("finish photo: %v", err)
	}
	detail, err = f.svc.Get(ctx, id)
	if err != nil {
		t.Fatalf("get after completion: %v", err)
	}
	if detail.AnalysisElapsedMs != nil {
		t.Fatal("elapsed must clear once analysis completes")
	}

	if err := f.svc.Delete(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.svc.Get(ctx, id); !errors.Is(err, ErrPhotoNotFound) {
		t.Fatalf("got %v, want ErrPhotoNotFound for deleted photo", err)
	}
}

func TestUpdateMetadataIsPartial(t *testing.T) {
	f := newPhotoServiceFixture(t)
	ctx := context.Background()

	result, err := f.svc.Upload(ctx, &UploadInput{OwnerID: "u1", Filename: "a.jpg", Data: []byte("img")})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	id := result.Photo.ID
	taken := time.Date(2024, 7, 14, 12, 0, 0, 0, time.UTC)
	if err := f.photos.UpdateFields(ctx, id, map[string]interface{}{"taken_at": &taken}); err != nil {
		t.Fatalf("prime photo: %v", err)
	}

	name := "Rome"
	updated, err := f.svc.UpdateMetadata(ctx, id, &PhotoPatch{LocationName: &name})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if updated.LocationName != "Rome" {
		t.Fatalf("location %q, want Rome", updated.LocationName)
	}
	if updated.TakenAt == nil || !updated.TakenAt.Equal(taken) {
		t.Fatalf("taken_at changed by unrelated patch: %v", updated.TakenAt)
	}
}

func TestDeleteTearsDownDerivedState(t *testing.T) {
	f := newPhotoServiceFixture(t)
	ctx := context.Background()

	result, err := f.svc.Upload(ctx, &UploadInput{OwnerID: "u1", Filename: "a.jpg", Data: []byte("img")})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	photo := result.Photo

	record, err := f.analyses.GetOrCreate(ctx, photo.ID)
	if err != nil {
		t.Fatalf("create record: %v", err)
	}
	record.VectorPointID = photo.ID
	if err := f.analyses.Save(ctx, record); err != nil {
		t.Fatalf("save record: %v", err)
	}

	person := &domain.Person{ID: uuid.New().String(), OwnerID: "u1", Name: "Ana"}
	if err := f.faces.CreatePerson(ctx, person); err != nil {
		t.Fatalf("create person: %v", err)
	}
	face := &domain.Face{ID: uuid.New().String(), PhotoID: photo.ID, X: 1, Y: 1, Width: 5, Height: 5, Origin: domain.FaceOriginAuto}
	if err := f.faces.CreateFace(ctx, face); err != nil {
		t.Fatalf("create face: %v", err)
	}
	if err := f.faces.AssignPerson(ctx, face.ID, person.ID); err != nil {
		t.Fatalf("assign person: %v", err)
	}

	pending := &domain.Job{ID: uuid.New().String(), PhotoID: photo.ID, Tier: domain.TierDeep, Status: domain.JobStatusPending}
	if _, err := f.jobs.EnqueueDedup(ctx, pending); err != nil {
		t.Fatalf("enqueue job: %v", err)
	}

	if err := f.svc.Delete(ctx, photo.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	deleted, err := f.photos.IsDeleted(ctx, photo.ID)
	if err != nil || !deleted {
		t.Fatalf("photo not tombstoned: deleted=%t err=%v", deleted, err)
	}
	job, err := f.jobs.GetByID(ctx, pending.ID)
	if err != nil || job == nil {
		t.Fatalf("reload job: %v", err)
	}
	if job.Status != domain.JobStatusSkipped {
		t.Fatalf("job status %s, want skipped", job.Status)
	}
	if len(f.vectors.deleted) != 1 || f.vectors.deleted[0] != photo.ID {
		t.Fatalf("vector deletions %v", f.vectors.deleted)
	}
	if faces, _ := f.faces.ListByPhoto(ctx, photo.ID); len(faces) != 0 {
		t.Fatalf("faces left behind: %d", len(faces))
	}
	if p, _ := f.faces.GetPersonByID(ctx, person.ID); p != nil {
		t.Fatal("person with no remaining faces must be removed")
	}
	if _, ok := f.store.objects[photo.StorageKey]; ok {
		t.Fatal("original object not deleted")
	}

	if err := f.svc.Delete(ctx, photo.ID); err != nil {
		t.Fatalf("second delete must be a no-op, got %v", err)
	}
}
