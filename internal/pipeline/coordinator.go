package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jkwok/photosense/internal/cache"
	"github.com/jkwok/photosense/internal/config"
	"github.com/jkwok/photosense/internal/domain"
	"github.com/jkwok/photosense/internal/logger"
	"github.com/jkwok/photosense/internal/repository"
	"github.com/jkwok/photosense/internal/service"
	"github.com/jkwok/photosense/internal/storage"
)

// ErrAnalysisInProgress is returned when a reanalyze or redetect request
// collides with work already running or queued for the photo.
var ErrAnalysisInProgress = errors.New("analysis already in progress for photo")

// VisionModel is the image-understanding surface the tiers call.
// *service.VLMService satisfies it; tests substitute deterministic stubs.
type VisionModel interface {
	ClassifyImageWith(ctx context.Context, model string, imageData []byte, format string) (*service.FastResult, error)
	AnalyzeImageWith(ctx context.Context, model string, imageData []byte, format string) (*service.DeepResult, error)
	ExtractText(ctx context.Context, imageData []byte, format string) (string, error)
	FastModel() string
	DeepModel() string
}

// Embedder produces passage embeddings for analysis text.
type Embedder interface {
	EmbedPassage(ctx context.Context, text string) ([]float32, error)
	GetModel() string
}

// FaceDetector finds faces in an image, in natural pixel coordinates.
type FaceDetector interface {
	DetectFaces(ctx context.Context, imageData []byte, format string) ([]service.DetectedFace, error)
}

// VectorStore is the subset of the vector index the pipeline writes to.
type VectorStore interface {
	Upsert(ctx context.Context, pointID string, vector []float32, payload *repository.PhotoPayload) error
	Delete(ctx context.Context, pointID string) error
}

// Notifier receives pipeline lifecycle events for fan-out to clients.
type Notifier interface {
	Publish(photoID, event string, data interface{})
}

// Deps bundles the coordinator's collaborators.
type Deps struct {
	Photos   *repository.PhotoRepository
	Analyses *repository.AnalysisRepository
	Faces    *repository.FaceRepository
	Jobs     *repository.JobRepository
	Vectors  VectorStore
	Storage  storage.ObjectStorage
	Cache    *cache.Cache
	VLM      VisionModel
	Embedder Embedder
	Detector FaceDetector
	Notifier Notifier
	Log      *logger.Logger
}

// Coordinator runs the tiered analysis pipeline: a worker pool that claims
// jobs, serializes work per photo through PhotoLock, enforces per-tier
// timeouts, and chains tiers as each one completes.
type Coordinator struct {
	cfg     config.PipelineConfig
	faceSim float64

	photos   *repository.PhotoRepository
	analyses *repository.AnalysisRepository
	faces    *repository.FaceRepository
	jobs     *repository.JobRepository
	vectors  VectorStore
	store    storage.ObjectStorage
	cache    *cache.Cache
	vlm      VisionModel
	embedder Embedder
	detector FaceDetector
	notifier Notifier
	lock     *PhotoLock
	log      *logger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

const pollInterval = 500 * time.Millisecond

// NewCoordinator wires the pipeline together. faceSimilarity is the cosine
// threshold above which a detected face inherits an existing person label.
func NewCoordinator(cfg config.PipelineConfig, faceSimilarity float64, deps Deps) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		faceSim:  faceSimilarity,
		photos:   deps.Photos,
		analyses: deps.Analyses,
		faces:    deps.Faces,
		jobs:     deps.Jobs,
		vectors:  deps.Vectors,
		store:    deps.Storage,
		cache:    deps.Cache,
		vlm:      deps.VLM,
		embedder: deps.Embedder,
		detector: deps.Detector,
		notifier: deps.Notifier,
		lock:     NewPhotoLock(),
		log:      deps.Log,
	}
}

// Start launches the worker pool. Workers poll for pending jobs and drain
// the queue before going back to sleep.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	workers := c.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	logger.CtxInfo(ctx, "Starting pipeline workers: count=%d", workers)
	for i := 0; i < workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i)
	}
}

// Stop signals the workers and waits for in-flight jobs to finish.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

func (c *Coordinator) worker(ctx context.Context, id int) {
	defer c.wg.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for {
			job, err := c.jobs.NextPending(ctx)
			if err != nil {
				logger.CtxError(ctx, "Failed to claim job: worker=%d, error=%v", id, err)
				break
			}
			if job == nil {
				break
			}
			c.handleJob(ctx, job)
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// handleJob runs one claimed job end to end: delete check, photo lock,
// tier dispatch under its timeout, terminal bookkeeping, and chaining.
func (c *Coordinator) handleJob(ctx context.Context, job *domain.Job) {
	deleted, err := c.photos.IsDeleted(ctx, job.PhotoID)
	if err != nil {
		c.failJob(ctx, job, fmt.Errorf("failed to check photo: %w", err))
		return
	}
	if deleted {
		if err := c.jobs.MarkCompleted(ctx, job.ID, domain.JobStatusSkipped); err != nil {
			logger.CtxError(ctx, "Failed to mark job skipped: job_id=%s, error=%v", job.ID, err)
		}
		return
	}

	release, ok := c.lock.Acquire(job.PhotoID)
	if !ok {
		// Another tier holds the photo. Give the claim back untouched.
		if err := c.jobs.Requeue(ctx, job.ID); err != nil {
			logger.CtxError(ctx, "Failed to requeue job: job_id=%s, error=%v", job.ID, err)
		}
		return
	}
	defer release()

	tierCtx, cancel := context.WithTimeout(ctx, c.tierTimeout(job.Tier))
	status, runErr := c.runTier(tierCtx, job)
	cancel()

	if runErr != nil {
		c.failJob(ctx, job, runErr)
		return
	}

	if err := c.jobs.MarkCompleted(ctx, job.ID, status); err != nil {
		logger.CtxError(ctx, "Failed to finish job: job_id=%s, status=%s, error=%v", job.ID, status, err)
		return
	}
	c.afterSuccess(ctx, job, status)
}

func (c *Coordinator) runTier(ctx context.Context, job *domain.Job) (domain.JobStatus, error) {
	switch job.Tier {
	case domain.TierInstant:
		return c.runInstant(ctx, job)
	case domain.TierFast:
		return c.runFast(ctx, job)
	case domain.TierDeep:
		return c.runDeep(ctx, job)
	case domain.TierFace:
		return c.runFace(ctx, job)
	case domain.TierReanalyze:
		return c.runReanalyze(ctx, job)
	}
	return "", permanent(fmt.Errorf("unknown tier %q", job.Tier))
}

// afterSuccess chains the next tiers and publishes lifecycle events.
func (c *Coordinator) afterSuccess(ctx context.Context, job *domain.Job, status domain.JobStatus) {
	switch job.Tier {
	case domain.TierInstant:
		if _, err := c.enqueue(ctx, job.PhotoID, domain.TierFast, ""); err != nil {
			logger.CtxError(ctx, "Failed to enqueue fast tier: photo_id=%s, error=%v", job.PhotoID, err)
		}
		if _, err := c.enqueue(ctx, job.PhotoID, domain.TierFace, ""); err != nil {
			logger.CtxError(ctx, "Failed to enqueue face tier: photo_id=%s, error=%v", job.PhotoID, err)
		}
	case domain.TierFast:
		if _, err := c.enqueue(ctx, job.PhotoID, domain.TierDeep, ""); err != nil {
			logger.CtxError(ctx, "Failed to enqueue deep tier: photo_id=%s, error=%v", job.PhotoID, err)
		}
		c.publish(job.PhotoID, "analysis_updated", map[string]interface{}{"tier": job.Tier})
	case domain.TierDeep, domain.TierReanalyze:
		c.publish(job.PhotoID, "photo_analyzed", map[string]interface{}{"tier": job.Tier})
	case domain.TierFace:
		c.publish(job.PhotoID, "face_detection_completed", map[string]interface{}{"status": status})
	}
}

// failJob applies the retry policy. Permanent failures park the job as
// failed; transient ones requeue with an exponential run_at backoff until
// attempts run out. The backoff lives in the queue row rather than a
// worker sleep, so the photo lock is released immediately and other tiers
// for the photo keep moving.
func (c *Coordinator) failJob(ctx context.Context, job *domain.Job, runErr error) {
	retry := !isPermanent(runErr) && job.Attempts < c.cfg.MaxRetries
	logger.CtxWarn(ctx, "Tier failed: job_id=%s, tier=%s, photo_id=%s, attempt=%d, retry=%t, error=%v",
		job.ID, job.Tier, job.PhotoID, job.Attempts, retry, runErr)

	var backoff time.Duration
	if retry {
		backoff = c.backoff(job.Attempts)
	}
	if err := c.jobs.MarkFailed(ctx, job.ID, runErr.Error(), retry, backoff); err != nil {
		logger.CtxError(ctx, "Failed to record job failure: job_id=%s, error=%v", job.ID, err)
	}
	if !retry && job.Tier == domain.TierFace {
		if err := c.photos.SetFaceDetectionStatus(ctx, job.PhotoID, domain.FaceDetectionFailed); err != nil {
			logger.CtxError(ctx, "Failed to mark face detection failed: photo_id=%s, error=%v", job.PhotoID, err)
		}
	}
}

// backoff grows exponentially with the attempt number.
func (c *Coordinator) backoff(attempts int) time.Duration {
	d := c.cfg.RetryBackoff
	if d <= 0 {
		d = time.Second
	}
	for i := 1; i < attempts; i++ {
		d *= 2
	}
	return d
}

func (c *Coordinator) tierTimeout(tier domain.Tier) time.Duration {
	var d time.Duration
	switch tier {
	case domain.TierInstant:
		d = c.cfg.InstantTimeout
	case domain.TierFast:
		d = c.cfg.FastTimeout
	case domain.TierDeep, domain.TierReanalyze:
		d = c.cfg.DeepTimeout
	case domain.TierFace:
		d = c.cfg.FaceTimeout
	}
	if d <= 0 {
		d = time.Minute
	}
	return d
}

// EnqueuePhoto schedules a freshly uploaded photo for analysis, starting
// with the instant tier. Duplicate requests return the live job.
func (c *Coordinator) EnqueuePhoto(ctx context.Context, photoID string) (*domain.Job, error) {
	return c.enqueue(ctx, photoID, domain.TierInstant, "")
}

// RequestReanalyze schedules a full single-model reanalysis. It refuses
// with ErrAnalysisInProgress while any tier is running or queued for the
// photo, so a reanalysis never interleaves with tier writes.
func (c *Coordinator) RequestReanalyze(ctx context.Context, photoID, model string) (*domain.Job, error) {
	if c.lock.Locked(photoID) {
		return nil, ErrAnalysisInProgress
	}
	live, err := c.jobs.LiveCountByPhoto(ctx, photoID)
	if err != nil {
		return nil, err
	}
	if live > 0 {
		return nil, ErrAnalysisInProgress
	}
	return c.enqueue(ctx, photoID, domain.TierReanalyze, model)
}

// RequestRedetect schedules a fresh face-detection pass. Detector-origin
// faces are replaced wholesale; manual faces survive. Like reanalyze, it
// refuses while any job for the photo is live anywhere, not just under
// this process's lock.
func (c *Coordinator) RequestRedetect(ctx context.Context, photoID string) (*domain.Job, error) {
	if c.lock.Locked(photoID) {
		return nil, ErrAnalysisInProgress
	}
	live, err := c.jobs.LiveCountByPhoto(ctx, photoID)
	if err != nil {
		return nil, err
	}
	if live > 0 {
		return nil, ErrAnalysisInProgress
	}
	return c.enqueue(ctx, photoID, domain.TierFace, "")
}

func (c *Coordinator) enqueue(ctx context.Context, photoID string, tier domain.Tier, model string) (*domain.Job, error) {
	job := &domain.Job{
		ID:      uuid.New().String(),
		PhotoID: photoID,
		Tier:    tier,
		Status:  domain.JobStatusPending,
		Model:   model,
	}
	existing, err := c.jobs.EnqueueDedup(ctx, job)
	if errors.Is(err, repository.ErrJobExists) {
		return existing, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (c *Coordinator) publish(photoID, event string, data interface{}) {
	if c.notifier != nil {
		c.notifier.Publish(photoID, event, data)
	}
}

// download fetches an object's full contents from storage.
func (c *Coordinator) download(ctx context.Context, key string) ([]byte, error) {
	rc, err := c.store.Download(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", key, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// formatFromKey derives the image format extension from a storage key.
func formatFromKey(key string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(key), "."))
	if ext == "jpeg" {
		ext = "jpg"
	}
	return ext
}

// permanentError marks a failure that retrying cannot fix, such as an
// undecodable image.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	return &permanentError{err: err}
}

func isPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
