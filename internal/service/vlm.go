package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/jkwok/photosense/internal/prompts"
)

// VLMService handles image understanding using Vision Language Models.
// The fast and deep tiers share one client and endpoint but call different
// models with different prompts.
type VLMService struct {
	client    *resty.Client
	fastModel string
	deepModel string
	endpoint  string
}

// VLMConfig holds configuration for VLM service.
type VLMConfig struct {
	FastModel string
	DeepModel string
	APIKey    string
	BaseURL   string
}

// NewVLMService creates a new VLM service.
// Parameters:
//   - cfg: VLM configuration including models, API key, and base URL.
//
// Returns:
//   - *VLMService: initialized VLM client wrapper.
func NewVLMService(cfg *VLMConfig) *VLMService {
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	// Set timeout to prevent hanging requests
	client.SetTimeout(60 * time.Second)

	// Default to OpenAI compatible endpoint if not specified
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	return &VLMService{
		client:    client,
		fastModel: cfg.FastModel,
		deepModel: cfg.DeepModel,
		endpoint:  baseURL + "/chat/completions",
	}
}

// FastModel returns the model used for the fast tier.
func (s *VLMService) FastModel() string {
	return s.fastModel
}

// DeepModel returns the model used for the deep tier.
func (s *VLMService) DeepModel() string {
	return s.deepModel
}

// OpenAI-compatible Chat Completion API request/response structures
type openAIRequest struct {
	Model     string          `json:"model"`
	Messages  []openAIMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens"`
}

type openAIMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"` // string for system, []interface{} for user with images
}

type openAITextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type openAIImageContent struct {
	Type     string         `json:"type"`
	ImageURL openAIImageURL `json:"image_url"`
}

type openAIImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// FastResult is the structured output of the fast tier pass.
type FastResult struct {
	ShortDescription string `json:"short_description"`
	SceneCategory    string `json:"scene_category"`
	SceneSubcategory string `json:"scene_subcategory"`
	IsFood           bool   `json:"is_food"`
	IsDocument       bool   `json:"is_document"`
}

// DeepResult is the structured output of the deep tier pass.
type DeepResult struct {
	Description   string             `json:"description"`
	Objects       []string           `json:"objects"`
	Tags          map[string]float64 `json:"tags"`
	ExtractedText string             `json:"extracted_text"`
}

// ClassifyImage runs the fast tier pass on an image.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - imageData: raw image bytes (must be in a VLM-supported format: jpg, png).
//   - format: image format extension (jpg, png).
//
// Returns:
//   - *FastResult: parsed classification.
//   - error: non-nil if the API request fails or the output is not valid JSON.
func (s *VLMService) ClassifyImage(ctx context.Context, imageData []byte, format string) (*FastResult, error) {
	return s.ClassifyImageWith(ctx, s.fastModel, imageData, format)
}

// ClassifyImageWith runs the fast pass with an explicit model. Reanalyze
// uses it to run the whole pipeline on a caller-chosen model.
func (s *VLMService) ClassifyImageWith(ctx context.Context, model string, imageData []byte, format string) (*FastResult, error) {
	content, err := s.complete(ctx, model, prompts.FastSystemPrompt, prompts.FastUserPrompt, imageData, format, 200)
	if err != nil {
		return nil, err
	}

	var result FastResult
	if err := json.Unmarshal([]byte(stripJSONFences(content)), &result); err != nil {
		return nil, fmt.Errorf("fast pass returned invalid JSON: %w", err)
	}
	return &result, nil
}

// AnalyzeImage runs the deep tier pass on an image.
//
// Returns the full description, objects, weighted tags, and any text the
// model could read off the photo.
func (s *VLMService) AnalyzeImage(ctx context.Context, imageData []byte, format string) (*DeepResult, error) {
	return s.AnalyzeImageWith(ctx, s.deepModel, imageData, format)
}

// AnalyzeImageWith runs the deep pass with an explicit model.
func (s *VLMService) AnalyzeImageWith(ctx context.Context, model string, imageData []byte, format string) (*DeepResult, error) {
	content, err := s.complete(ctx, model, prompts.DeepSystemPrompt, prompts.DeepUserPrompt, imageData, format, 800)
	if err != nil {
		return nil, err
	}

	var result DeepResult
	if err := json.Unmarshal([]byte(stripJSONFences(content)), &result); err != nil {
		return nil, fmt.Errorf("deep pass returned invalid JSON: %w", err)
	}
	return &result, nil
}

// ExtractText runs a dedicated OCR pass on an image.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - imageData: raw image bytes.
//   - format: image format extension.
//
// Returns:
//   - string: extracted text (may be empty).
//   - error: non-nil if the API request fails.
func (s *VLMService) ExtractText(ctx context.Context, imageData []byte, format string) (string, error) {
	content, err := s.complete(ctx, s.deepModel, prompts.OCRSystemPrompt, prompts.OCRUserPrompt, imageData, format, 600)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

// complete sends one image chat completion and returns the raw text content.
func (s *VLMService) complete(ctx context.Context, model, systemPrompt, userPrompt string, imageData []byte, format string, maxTokens int) (string, error) {
	mimeType := getMIMEType(format)
	base64Image := base64.StdEncoding.EncodeToString(imageData)
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64Image)

	req := openAIRequest{
		Model: model,
		Messages: []openAIMessage{
			{
				Role:    "system",
				Content: systemPrompt,
			},
			{
				Role: "user",
				Content: []interface{}{
					openAITextContent{
						Type: "text",
						Text: userPrompt,
					},
					openAIImageContent{
						Type: "image_url",
						ImageURL: openAIImageURL{
							URL:    dataURL,
							Detail: "auto", // Use auto for better text recognition
						},
					},
				},
			},
		},
		MaxTokens: maxTokens,
	}

	var resp openAIResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		Post(s.endpoint)

	if err != nil {
		return "", fmt.Errorf("failed to call VLM API: %w", err)
	}

	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		errorMsg := fmt.Sprintf("HTTP %d", httpResp.StatusCode())
		if resp.Error != nil {
			errorMsg = fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode(), resp.Error.Message)
		} else {
			errorMsg = fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode(), string(httpResp.Body()))
		}
		return "", fmt.Errorf("VLM API returned error: %s", errorMsg)
	}

	if resp.Error != nil {
		return "", fmt.Errorf("VLM API error: %s", resp.Error.Message)
	}

	if len(resp.Choices) == 0 {
		errorMsg := fmt.Sprintf("no choices in response (status: %d)", httpResp.StatusCode())
		if len(httpResp.Body()) > 0 {
			errorMsg += fmt.Sprintf(", response body: %s", string(httpResp.Body()))
		}
		return "", fmt.Errorf("no response from VLM API: %s", errorMsg)
	}

	return resp.Choices[0].Message.Content, nil
}

// stripJSONFences removes markdown code fences that some models wrap around
// JSON output despite instructions.
func stripJSONFences(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(content, "```")
	}
	return strings.TrimSpace(content)
}

func getMIMEType(format string) string {
	switch format {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
