// Package cache provides the Redis-backed caching layer.
//
// Three keyspaces are maintained:
//   - analysis results keyed by photo content hash, no expiry, so a
//     re-uploaded byte-identical photo skips inference entirely
//   - search responses keyed by normalized query, short TTL
//   - text embeddings keyed by query text hash, survives search cache misses
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	analysisPrefix  = "analysis:"
	searchPrefix    = "search:"
	embeddingPrefix = "embedding:"
)

// Config holds Redis connection settings.
type Config struct {
	Addr      string
	Password  string
	DB        int
	SearchTTL time.Duration
}

// Cache wraps a Redis client with the three keyspaces.
type Cache struct {
	client    *redis.Client
	searchTTL time.Duration
}

// New creates a Cache backed by the given Redis instance.
func New(cfg *Config) *Cache {
	return &Cache{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		searchTTL: cfg.SearchTTL,
	}
}

// NewWithClient wraps an existing client. Used by tests.
func NewWithClient(client *redis.Client, searchTTL time.Duration) *Cache {
	return &Cache{client: client, searchTTL: searchTTL}
}

// Ping verifies the connection.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (c *Cache) Close() error {
	return c.client.Close()
}

// GetAnalysis fetches a cached analysis result by photo content hash and
// unmarshals it into dest. Returns false on a miss.
func (c *Cache) GetAnalysis(ctx context.Context, contentHash string, dest interface{}) (bool, error) {
	return c.getJSON(ctx, analysisPrefix+contentHash, dest)
}

// SetAnalysis stores an analysis result keyed by content hash. No TTL:
// identical bytes always produce identical analysis.
func (c *Cache) SetAnalysis(ctx context.Context, contentHash string, value interface{}) error {
	return c.setJSON(ctx, analysisPrefix+contentHash, value, 0)
}

// InvalidateAnalysis drops a cached analysis, called when a photo is
// reanalyzed with a different model.
func (c *Cache) InvalidateAnalysis(ctx context.Context, contentHash string) error {
	err := c.client.Del(ctx, analysisPrefix+contentHash).Err()
	if err != nil && err != redis.Nil {
		return err
	}
	return nil
}

// GetSearch fetches a cached search response for a normalized query.
func (c *Cache) GetSearch(ctx context.Context, ownerID, normalizedQuery string, dest interface{}) (bool, error) {
	return c.getJSON(ctx, searchKey(ownerID, normalizedQuery), dest)
}

// SetSearch stores a search response under the short search TTL.
func (c *Cache) SetSearch(ctx context.Context, ownerID, normalizedQuery string, value interface{}) error {
	return c.setJSON(ctx, searchKey(ownerID, normalizedQuery), value, c.searchTTL)
}

// GetEmbedding fetches a cached text embedding by query text hash.
func (c *Cache) GetEmbedding(ctx context.Context, text string) ([]float32, bool, error) {
	var vector []float32
	ok, err := c.getJSON(ctx, embeddingPrefix+hashText(text), &vector)
	if err != nil || !ok {
		return nil, false, err
	}
	return vector, true, nil
}

// SetEmbedding stores a text embedding. Embeddings for a fixed model never
// change; the 24h TTL only bounds keyspace growth.
func (c *Cache) SetEmbedding(ctx context.Context, text string, vector []float32) error {
	return c.setJSON(ctx, embeddingPrefix+hashText(text), vector, 24*time.Hour)
}

// NormalizeQuery lowercases and collapses whitespace so trivially different
// spellings of the same query share a cache entry.
func NormalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

func searchKey(ownerID, normalizedQuery string) string {
	return searchPrefix + ownerID + ":" + hashText(normalizedQuery)
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) getJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("corrupt cache entry %s: %w", key, err)
	}
	return true, nil
}

func (c *Cache) setJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, raw, ttl).Err()
}
