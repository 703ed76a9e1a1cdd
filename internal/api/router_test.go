package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/jkwok/photosense/internal/config"
	"github.com/jkwok/photosense/internal/logger"
	"github.com/jkwok/photosense/internal/pipeline"
	"github.com/jkwok/photosense/internal/repository"
	"github.com/jkwok/photosense/internal/service"
)

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (m *memStore) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStore) GetURL(key string) string { return "mem://" + key }

func (m *memStore) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "mem://" + key, nil
}

func (m *memStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memStore) EnsureBucket(ctx context.Context) error { return nil }

type noopVectors struct{}

func (noopVectors) Upsert(ctx context.Context, pointID string, vector []float32, payload *repository.PhotoPayload) error {
	return nil
}

func (noopVectors) Delete(ctx context.Context, pointID string) error { return nil }

func (noopVectors) Search(ctx context.Context, vector []float32, topK int, filters *repository.VectorFilters) ([]repository.VectorSearchResult, error) {
	return nil, nil
}

type noopEmbedding struct{}

func (noopEmbedding) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

// testRouter wires the HTTP surface over an in-memory database. The
// coordinator is constructed but never started, so enqueued jobs stay
// pending and handler behavior is observable without running tiers.
func testRouter(t *testing.T) *gin.Engine {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repository.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	log := logger.New(&logger.Config{Level: "error"})
	photoRepo := repository.NewPhotoRepository(db)
	analysisRepo := repository.NewAnalysisRepository(db)
	faceRepo := repository.NewFaceRepository(db)
	jobRepo := repository.NewJobRepository(db)
	historyRepo := repository.NewSearchHistoryRepository(db)
	store := newMemStore()

	coordinator := pipeline.NewCoordinator(config.PipelineConfig{Workers: 1, MaxRetries: 2}, 0.45, pipeline.Deps{
		Photos:   photoRepo,
		Analyses: analysisRepo,
		Faces:    faceRepo,
		Jobs:     jobRepo,
		Vectors:  noopVectors{},
		Storage:  store,
		Log:      log,
	})

	photoService := service.NewPhotoService(
		photoRepo, analysisRepo, faceRepo, jobRepo,
		noopVectors{}, store, nil, coordinator, log,
	)
	faceService := service.NewFaceService(faceRepo, photoRepo, log)
	searchService := service.NewSearchService(
		analysisRepo, noopVectors{}, noopEmbedding{}, photoRepo,
		historyRepo, nil, log, nil,
	)

	cfg := &config.Config{Server: config.ServerConfig{Mode: "test"}}
	return SetupRouter(cfg, RouterDeps{
		DB:          db,
		Jobs:        jobRepo,
		Photos:      photoService,
		Faces:       faceService,
		Search:      searchService,
		Coordinator: coordinator,
		Logger:      log,
	})
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func uploadPhoto(t *testing.T, r *gin.Engine, owner string) string {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "test.jpg")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write([]byte("jpeg-bytes-" + owner)); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/photos", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Owner-ID", owner)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Photo struct {
			ID string `json:"id"`
		} `json:"photo"`
		Job struct {
			ID   string `json:"id"`
			Tier string `json:"tier"`
		} `json:"job"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	if resp.Photo.ID == "" {
		t.Fatal("upload returned no photo id")
	}
	if resp.Job.Tier != "instant" {
		t.Fatalf("upload enqueued tier %q, want instant", resp.Job.Tier)
	}
	return resp.Photo.ID
}

func TestHealthReportsQueueDepth(t *testing.T) {
	r := testRouter(t)

	w := doJSON(t, r, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "ok" {
		t.Fatalf("status = %v", resp["status"])
	}
	if _, ok := resp["queue_depth"]; !ok {
		t.Fatal("missing queue_depth")
	}
}

func TestPhotoLifecycle(t *testing.T) {
	r := testRouter(t)
	id := uploadPhoto(t, r, "u1")

	w := doJSON(t, r, http.MethodGet, "/api/v1/photos/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/api/v1/photos/no-such-photo", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing photo status = %d, want 404", w.Code)
	}

	w = doJSON(t, r, http.MethodPatch, "/api/v1/photos/"+id, map[string]interface{}{
		"location_name": "Lisbon",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("patch status = %d, body %s", w.Code, w.Body.String())
	}
	var photo map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &photo); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if photo["location_name"] != "Lisbon" {
		t.Fatalf("location_name = %v", photo["location_name"])
	}

	w = doJSON(t, r, http.MethodDelete, "/api/v1/photos/"+id, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
	w = doJSON(t, r, http.MethodGet, "/api/v1/photos/"+id, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("deleted photo status = %d, want 404", w.Code)
	}
}

func TestReanalyzeConflictsWithLiveJob(t *testing.T) {
	r := testRouter(t)
	id := uploadPhoto(t, r, "u1")

	// The instant job from upload is still pending (no workers running), so
	// reanalysis must be refused.
	w := doJSON(t, r, http.MethodPost, "/api/v1/photos/"+id+"/reanalyze", map[string]string{
		"model": "better-model",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("reanalyze status = %d, want 409", w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/api/v1/photos/no-such-photo/reanalyze", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing photo reanalyze status = %d, want 404", w.Code)
	}
}

func TestManualFaceAndPersonFlow(t *testing.T) {
	r := testRouter(t)
	id := uploadPhoto(t, r, "u1")

	w := doJSON(t, r, http.MethodPost, "/api/v1/photos/"+id+"/faces", map[string]interface{}{
		"bbox":        map[string]int{"x": 0, "y": 0, "width": 0, "height": 0},
		"person_name": "Ana",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("degenerate bbox status = %d, want 400", w.Code)
	}

	// The uploaded photo has no decoded dimensions yet (instant tier never
	// ran), so any positive box is out of bounds.
	w = doJSON(t, r, http.MethodPost, "/api/v1/photos/"+id+"/faces", map[string]interface{}{
		"bbox": map[string]int{"x": 10, "y": 10, "width": 50, "height": 50},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("out-of-bounds bbox status = %d, want 400", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/api/v1/photos/"+id+"/faces", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list faces status = %d", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/api/v1/persons", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list persons status = %d", w.Code)
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	r := testRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/v1/search", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("search without q status = %d, want 400", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/api/v1/search?q=pizza&owner_id=u1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search status = %d, body %s", w.Code, w.Body.String())
	}
}
