package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// FaceDetectService calls the face detector sidecar. The sidecar owns the
// model; this client only moves bytes and validates the response shape.
type FaceDetectService struct {
	client     *resty.Client
	endpoint   string
	minQuality float64
}

// FaceDetectConfig holds configuration for the detector sidecar.
type FaceDetectConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MinQuality float64
}

// DetectedFace is one detection in natural pixel coordinates of the
// original image.
type DetectedFace struct {
	X         int       `json:"x"`
	Y         int       `json:"y"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Quality   float64   `json:"quality"`
	Embedding []float32 `json:"embedding"`
}

// NewFaceDetectService creates a new detector client.
func NewFaceDetectService(cfg *FaceDetectConfig) *FaceDetectService {
	client := resty.New()
	client.SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	client.SetTimeout(timeout)

	return &FaceDetectService{
		client:     client,
		endpoint:   cfg.BaseURL + "/detect",
		minQuality: cfg.MinQuality,
	}
}

type detectRequest struct {
	Image  string `json:"image"` // base64
	Format string `json:"format"`
}

type detectResponse struct {
	Faces []DetectedFace `json:"faces"`
	Error string         `json:"error,omitempty"`
}

// DetectFaces runs detection on an image and returns faces above the
// configured quality floor.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - imageData: raw image bytes.
//   - format: image format extension (jpg, png).
//
// Returns:
//   - []DetectedFace: detections in natural pixels, may be empty.
//   - error: non-nil if the sidecar request fails.
func (s *FaceDetectService) DetectFaces(ctx context.Context, imageData []byte, format string) ([]DetectedFace, error) {
	req := detectRequest{
		Image:  base64.StdEncoding.EncodeToString(imageData),
		Format: format,
	}

	var resp detectResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		Post(s.endpoint)

	if err != nil {
		return nil, fmt.Errorf("failed to call face detector: %w", err)
	}

	if httpResp.StatusCode() != 200 {
		if resp.Error != "" {
			return nil, fmt.Errorf("face detector error: %s", resp.Error)
		}
		return nil, fmt.Errorf("face detector error: status %d", httpResp.StatusCode())
	}

	faces := make([]DetectedFace, 0, len(resp.Faces))
	for _, f := range resp.Faces {
		if f.Width <= 0 || f.Height <= 0 {
			continue
		}
		if f.Quality < s.minQuality {
			continue
		}
		faces = append(faces, f)
	}
	return faces, nil
}
