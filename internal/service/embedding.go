package service

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
)

const (
	jinaEndpoint = "https://api.jina.ai/v1/embeddings"
)

// EmbeddingService handles text embedding generation
type EmbeddingService struct {
	client     *resty.Client
	model      string
	dimensions int
	endpoint   string
}

// EmbeddingConfig holds configuration for embedding service
type EmbeddingConfig struct {
	Model      string
	APIKey     string
	BaseURL    string
	Dimensions int
}

// NewEmbeddingService creates a new embedding service
func NewEmbeddingService(cfg *EmbeddingConfig) *EmbeddingService {
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")

	endpoint := cfg.BaseURL
	if endpoint == "" {
		endpoint = jinaEndpoint
	}

	return &EmbeddingService{
		client:     client,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		endpoint:   endpoint,
	}
}

// GetModel returns the model name being used
func (s *EmbeddingService) GetModel() string {
	return s.model
}

// Dimensions returns the configured vector size
func (s *EmbeddingService) Dimensions() int {
	return s.dimensions
}

// Jina API request/response structures
type jinaRequest struct {
	Model         string   `json:"model"`
	Task          string   `json:"task,omitempty"`
	Dimensions    int      `json:"dimensions,omitempty"`
	Input         []string `json:"input"`
	EmbeddingType string   `json:"embedding_type,omitempty"`
}

type jinaResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Detail string `json:"detail,omitempty"`
}

// EmbedPassage generates an embedding for stored document text, i.e. the
// analysis description that gets indexed.
func (s *EmbeddingService) EmbedPassage(ctx context.Context, text string) ([]float32, error) {
	return s.embed(ctx, text, "retrieval.passage")
}

// EmbedQuery generates an embedding optimized for query/search
func (s *EmbeddingService) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return s.embed(ctx, query, "retrieval.query")
}

func (s *EmbeddingService) embed(ctx context.Context, text, task string) ([]float32, error) {
	req := jinaRequest{
		Model:         s.model,
		Task:          task,
		Dimensions:    s.dimensions,
		Input:         []string{text},
		EmbeddingType: "float",
	}

	var resp jinaResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		Post(s.endpoint)

	if err != nil {
		return nil, fmt.Errorf("failed to call embedding API: %w", err)
	}

	if httpResp.StatusCode() != 200 {
		if resp.Detail != "" {
			return nil, fmt.Errorf("embedding API error: %s", resp.Detail)
		}
		return nil, fmt.Errorf("embedding API error: status %d", httpResp.StatusCode())
	}

	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}

	return resp.Data[0].Embedding, nil
}
