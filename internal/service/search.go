package service

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jkwok/photosense/internal/cache"
	"github.com/jkwok/photosense/internal/domain"
	"github.com/jkwok/photosense/internal/logger"
	"github.com/jkwok/photosense/internal/repository"
)

// Zone weights for lexical scoring. A term hit in the description counts
// for more than the same hit in OCR text or tags.
const (
	zoneWeightDescription = 3.0
	zoneWeightText        = 2.0
	zoneWeightTags        = 1.0
)

// EmbeddingProvider generates query embeddings.
type EmbeddingProvider interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// LexicalSource provides lexical candidate retrieval and batch hydration.
type LexicalSource interface {
	LexicalCandidates(ctx context.Context, terms []string, filters repository.LexicalFilters, limit int) ([]repository.LexicalCandidate, error)
	GetByPhotoIDs(ctx context.Context, photoIDs []string) ([]domain.AnalysisRecord, error)
}

// VectorIndex provides vector similarity retrieval.
type VectorIndex interface {
	Search(ctx context.Context, vector []float32, topK int, filters *repository.VectorFilters) ([]repository.VectorSearchResult, error)
}

// HistoryRecorder persists executed queries and serves them back for the
// history endpoint.
type HistoryRecorder interface {
	Record(ctx context.Context, query *domain.SearchQuery) error
	Recent(ctx context.Context, ownerID string, limit int) ([]domain.SearchQuery, error)
}

// SearchConfig holds configuration for the search service.
type SearchConfig struct {
	LexicalWeight float64
	VectorWeight  float64
	TopK          int
}

// SearchService answers natural-language queries by merging lexical and
// vector candidate sets under structural filters.
type SearchService struct {
	lexical       LexicalSource
	vectors       VectorIndex
	embedding     EmbeddingProvider
	photoRepo     *repository.PhotoRepository
	history       HistoryRecorder
	cache         *cache.Cache
	logger        *logger.Logger
	lexicalWeight float64
	vectorWeight  float64
	topK          int
}

// NewSearchService creates a new search service.
// Parameters:
//   - lexical: lexical candidate source.
//   - vectors: vector index.
//   - embedding: query embedding provider.
//   - photoRepo: repository for photo records.
//   - history: search history recorder, may be nil.
//   - searchCache: response and embedding cache, may be nil.
//   - log: logger instance.
//   - cfg: search configuration settings.
//
// Returns:
//   - *SearchService: initialized search service.
func NewSearchService(
	lexical LexicalSource,
	vectors VectorIndex,
	embedding EmbeddingProvider,
	photoRepo *repository.PhotoRepository,
	history HistoryRecorder,
	searchCache *cache.Cache,
	log *logger.Logger,
	cfg *SearchConfig,
) *SearchService {
	lexicalWeight, vectorWeight := 0.5, 0.5
	topK := 20
	if cfg != nil {
		if cfg.LexicalWeight > 0 || cfg.VectorWeight > 0 {
			lexicalWeight = cfg.LexicalWeight
			vectorWeight = cfg.VectorWeight
		}
		if cfg.TopK > 0 {
			topK = cfg.TopK
		}
	}
	return &SearchService{
		lexical:       lexical,
		vectors:       vectors,
		embedding:     embedding,
		photoRepo:     photoRepo,
		history:       history,
		cache:         searchCache,
		logger:        log,
		lexicalWeight: lexicalWeight,
		vectorWeight:  vectorWeight,
		topK:          topK,
	}
}

// SearchRequest represents a search request.
type SearchRequest struct {
	Query         string `json:"query" binding:"required"`
	OwnerID       string `json:"owner_id"`
	TopK          int    `json:"top_k"`
	SceneCategory string `json:"scene_category,omitempty"`
	TakenAfter    string `json:"taken_after,omitempty"`  // RFC 3339
	TakenBefore   string `json:"taken_before,omitempty"` // RFC 3339
}

// SearchResult represents a single ranked photo.
type SearchResult struct {
	PhotoID          string     `json:"photo_id"`
	Score            float64    `json:"score"`
	LexicalScore     float64    `json:"lexical_score"`
	VectorScore      float64    `json:"vector_score"`
	ShortDescription string     `json:"short_description,omitempty"`
	SceneCategory    string     `json:"scene_category,omitempty"`
	ThumbnailKey     string     `json:"thumbnail_key,omitempty"`
	TakenAt          *time.Time `json:"taken_at,omitempty"`
}

// SearchResponse represents the search response.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Total   int            `json:"total"`
	Query   string         `json:"query"`
	Cached  bool           `json:"cached,omitempty"`
}

// log returns a logger from context if available, otherwise returns the default logger
func (s *SearchService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// Search performs a hybrid search.
//
// Candidates are gathered from the lexical index and the vector index
// independently, both under the same structural filters, then merged by
// photo id. A photo present in only one set keeps its score from that set
// with zero contribution from the other.
func (s *SearchService) Search(ctx context.Context, req *SearchRequest) (*SearchResponse, error) {
	if req.TopK <= 0 {
		req.TopK = s.topK
	}
	if req.TopK > 100 {
		req.TopK = 100
	}

	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldComponent: "search",
		logger.FieldOwnerID:   req.OwnerID,
	})

	normalized := cache.NormalizeQuery(req.Query)
	cacheKey := normalized + "|" + req.SceneCategory + "|" + req.TakenAfter + "|" + req.TakenBefore

	if s.cache != nil {
		var cached SearchResponse
		ok, err := s.cache.GetSearch(ctx, req.OwnerID, cacheKey, &cached)
		if err != nil {
			logger.CtxWarn(ctx, "Search cache read failed: error=%v", err)
		} else if ok {
			cached.Cached = true
			return &cached, nil
		}
	}

	explicit, err := parseExplicitFilters(req)
	if err != nil {
		return nil, err
	}
	filters, residual := ExtractFilters(req.Query, explicit, time.Now())

	logger.CtxInfo(ctx, "Performing search: query=%q, residual=%q, category=%q, top_k=%d",
		req.Query, residual, filters.SceneCategory, req.TopK)

	queryEmbedding, err := s.embedQuery(ctx, residual)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	terms := strings.Fields(strings.ToLower(residual))
	lexicalScores, err := s.lexicalCandidates(ctx, terms, req.OwnerID, filters, req.TopK)
	if err != nil {
		// Degrade to vector-only rather than failing the whole search.
		logger.CtxWarn(ctx, "Lexical retrieval failed: error=%v", err)
		lexicalScores = nil
	}

	vectorScores, err := s.vectorCandidates(ctx, queryEmbedding, req.OwnerID, filters, req.TopK)
	if err != nil {
		logger.CtxWarn(ctx, "Vector retrieval failed: error=%v", err)
		vectorScores = nil
	}
	if lexicalScores == nil && vectorScores == nil {
		return nil, fmt.Errorf("both retrieval paths failed")
	}

	merged := s.merge(lexicalScores, vectorScores)

	results, err := s.hydrate(ctx, merged, req.TopK)
	if err != nil {
		return nil, err
	}

	resp := &SearchResponse{
		Results: results,
		Total:   len(results),
		Query:   req.Query,
	}

	if s.cache != nil {
		if err := s.cache.SetSearch(ctx, req.OwnerID, cacheKey, resp); err != nil {
			logger.CtxWarn(ctx, "Search cache write failed: error=%v", err)
		}
	}

	s.recordHistory(ctx, req, queryEmbedding, len(results))

	return resp, nil
}

// parseExplicitFilters converts the request's wire-format filters.
func parseExplicitFilters(req *SearchRequest) (QueryFilters, error) {
	filters := QueryFilters{SceneCategory: req.SceneCategory}
	if req.TakenAfter != "" {
		t, err := time.Parse(time.RFC3339, req.TakenAfter)
		if err != nil {
			return filters, fmt.Errorf("invalid taken_after: %w", err)
		}
		filters.TakenAfter = &t
	}
	if req.TakenBefore != "" {
		t, err := time.Parse(time.RFC3339, req.TakenBefore)
		if err != nil {
			return filters, fmt.Errorf("invalid taken_before: %w", err)
		}
		filters.TakenBefore = &t
	}
	return filters, nil
}

// embedQuery resolves the query embedding through the cache when available.
func (s *SearchService) embedQuery(ctx context.Context, text string) ([]float32, error) {
	if s.cache != nil {
		vector, ok, err := s.cache.GetEmbedding(ctx, text)
		if err != nil {
			logger.CtxWarn(ctx, "Embedding cache read failed: error=%v", err)
		} else if ok {
			return vector, nil
		}
	}

	vector, err := s.embedding.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetEmbedding(ctx, text, vector); err != nil {
			logger.CtxWarn(ctx, "Embedding cache write failed: error=%v", err)
		}
	}
	return vector, nil
}

// scored pairs the raw lexical and vector signals for one photo.
type scored struct {
	photoID string
	lexical float64
	vector  float64
}

// lexicalCandidates retrieves and zone-scores the lexical set. Scores are
// normalized to [0,1] by the best candidate.
func (s *SearchService) lexicalCandidates(ctx context.Context, terms []string, ownerID string, filters QueryFilters, topK int) (map[string]float64, error) {
	if len(terms) == 0 {
		return map[string]float64{}, nil
	}

	candidates, err := s.lexical.LexicalCandidates(ctx, terms, repository.LexicalFilters{
		OwnerID:       ownerID,
		SceneCategory: filters.SceneCategory,
		TakenAfter:    filters.TakenAfter,
		TakenBefore:   filters.TakenBefore,
	}, topK*3)
	if err != nil {
		return nil, err
	}

	scores := make(map[string]float64, len(candidates))
	var max float64
	for _, c := range candidates {
		score := zoneScore(&c.Record, terms)
		if score <= 0 {
			continue
		}
		scores[c.Record.PhotoID] = score
		if score > max {
			max = score
		}
	}
	if max > 0 {
		for id := range scores {
			scores[id] /= max
		}
	}
	return scores, nil
}

// zoneScore computes the weighted zone score for one record: each query
// term contributes once per zone it appears in.
func zoneScore(record *domain.AnalysisRecord, terms []string) float64 {
	description := strings.ToLower(record.Description + " " + record.ShortDescription)
	text := strings.ToLower(record.ExtractedText)
	tags := strings.ToLower(strings.Join(record.Tags.Keys(), " "))

	var score float64
	for _, term := range terms {
		if strings.Contains(description, term) {
			score += zoneWeightDescription
		}
		if strings.Contains(text, term) {
			score += zoneWeightText
		}
		if strings.Contains(tags, term) {
			score += zoneWeightTags
		}
	}
	return score
}

// vectorCandidates retrieves the similarity set. Scores are normalized to
// [0,1] by the best candidate.
func (s *SearchService) vectorCandidates(ctx context.Context, vector []float32, ownerID string, filters QueryFilters, topK int) (map[string]float64, error) {
	results, err := s.vectors.Search(ctx, vector, topK*3, &repository.VectorFilters{
		OwnerID:       ownerID,
		SceneCategory: filters.SceneCategory,
		TakenAfter:    filters.TakenAfter,
		TakenBefore:   filters.TakenBefore,
	})
	if err != nil {
		return nil, err
	}

	scores := make(map[string]float64, len(results))
	var max float64
	for _, r := range results {
		if r.Payload == nil || r.Payload.PhotoID == "" {
			continue
		}
		score := float64(r.Score)
		if score <= 0 {
			continue
		}
		scores[r.Payload.PhotoID] = score
		if score > max {
			max = score
		}
	}
	if max > 0 {
		for id := range scores {
			scores[id] /= max
		}
	}
	return scores, nil
}

// merge combines both candidate sets into weighted scores. Membership in
// only one set means zero contribution from the other signal, never
// exclusion.
func (s *SearchService) merge(lexical, vector map[string]float64) []scored {
	byID := make(map[string]*scored, len(lexical)+len(vector))
	for id, score := range lexical {
		byID[id] = &scored{photoID: id, lexical: score}
	}
	for id, score := range vector {
		if entry, ok := byID[id]; ok {
			entry.vector = score
		} else {
			byID[id] = &scored{photoID: id, vector: score}
		}
	}

	merged := make([]scored, 0, len(byID))
	for _, entry := range byID {
		merged = append(merged, *entry)
	}
	return merged
}

// hydrate resolves photo rows for the merged set, drops deleted photos,
// sorts, and builds the response entries.
func (s *SearchService) hydrate(ctx context.Context, merged []scored, topK int) ([]SearchResult, error) {
	if len(merged) == 0 {
		return []SearchResult{}, nil
	}

	ids := make([]string, len(merged))
	for i, m := range merged {
		ids[i] = m.photoID
	}
	photos, err := s.photoRepo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load photos: %w", err)
	}
	photoByID := make(map[string]*domain.Photo, len(photos))
	for i := range photos {
		photoByID[photos[i].ID] = &photos[i]
	}

	records, err := s.lexical.GetByPhotoIDs(ctx, ids)
	if err != nil {
		logger.CtxWarn(ctx, "Failed to hydrate analysis records: error=%v", err)
	}
	recordByID := make(map[string]*domain.AnalysisRecord, len(records))
	for i := range records {
		recordByID[records[i].PhotoID] = &records[i]
	}

	results := make([]SearchResult, 0, len(merged))
	for _, m := range merged {
		photo, ok := photoByID[m.photoID]
		if !ok {
			// Deleted since indexing, GetByIDs filtered it out.
			continue
		}
		result := SearchResult{
			PhotoID:      m.photoID,
			Score:        s.lexicalWeight*m.lexical + s.vectorWeight*m.vector,
			LexicalScore: m.lexical,
			VectorScore:  m.vector,
			ThumbnailKey: photo.ThumbnailKey,
			TakenAt:      photo.TakenAt,
		}
		if record, ok := recordByID[m.photoID]; ok {
			result.ShortDescription = record.ShortDescription
			result.SceneCategory = record.SceneCategory
		}
		results = append(results, result)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return takenAtUnix(results[i].TakenAt) > takenAtUnix(results[j].TakenAt)
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func takenAtUnix(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.Unix()
}

// embeddingHash digests an embedding so history rows stay small. The full
// vector can always be regenerated from the query text.
func embeddingHash(vector []float32) string {
	if len(vector) == 0 {
		return ""
	}
	h := sha256.New()
	buf := make([]byte, 4)
	for _, v := range vector {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
		h.Write(buf)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// History returns an owner's most recent queries, newest first. An empty
// slice when history recording is disabled.
func (s *SearchService) History(ctx context.Context, ownerID string, limit int) ([]domain.SearchQuery, error) {
	if s.history == nil {
		return []domain.SearchQuery{}, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.history.Recent(ctx, ownerID, limit)
}

// recordHistory writes the query to search history. Fire-and-forget: the
// response never waits on or fails because of this write.
func (s *SearchService) recordHistory(ctx context.Context, req *SearchRequest, embedding []float32, resultCount int) {
	if s.history == nil {
		return
	}
	entry := &domain.SearchQuery{
		ID:            uuid.New().String(),
		OwnerID:       req.OwnerID,
		QueryText:     req.Query,
		EmbeddingHash: embeddingHash(embedding),
		ResultCount:   resultCount,
	}
	log := s.log(ctx)
	go func() {
		writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.history.Record(writeCtx, entry); err != nil {
			log.Warnf("Failed to record search history: query=%q, error=%v", req.Query, err)
		}
	}()
}
