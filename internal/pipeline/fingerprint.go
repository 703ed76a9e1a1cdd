package pipeline

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// contentHash returns the SHA-256 of the original bytes, used as the
// analysis cache key: identical bytes always produce identical analysis.
func contentHash(imageData []byte) string {
	sum := sha256.Sum256(imageData)
	return hex.EncodeToString(sum[:])
}

// imageInfo holds what the instant tier learns from decoding the image.
type imageInfo struct {
	Width  int
	Height int
	Format string
}

// decodeInfo reads dimensions and format without decoding full pixel data.
// A decode failure here is the fatal-input signal: the photo is flagged
// corrupt and excluded from the model tiers.
func decodeInfo(imageData []byte) (*imageInfo, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return &imageInfo{Width: cfg.Width, Height: cfg.Height, Format: format}, nil
}

// perceptualHash computes a 64-bit difference hash as a hex string. Used
// for near-duplicate detection; a decode failure only disables dedup.
func perceptualHash(imageData []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}
	return fmt.Sprintf("%016x", computeDHash(img)), nil
}

// computeDHash computes a 64-bit difference hash: resize to 9x8 grayscale
// and compare horizontally adjacent pixels.
func computeDHash(img image.Image) uint64 {
	resized := resizeImage(img, 9, 8)
	gray := toGrayscale(resized)

	var hash uint64
	bit := 63
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			if gray[x][y] > gray[x+1][y] {
				hash |= 1 << bit
			}
			bit--
		}
	}
	return hash
}

// hammingDistance counts differing bits between two 64-bit hashes.
func hammingDistance(hash1, hash2 uint64) int {
	xor := hash1 ^ hash2
	distance := 0
	for xor != 0 {
		distance++
		xor &= xor - 1 // Clear lowest set bit
	}
	return distance
}

// makeThumbnail resizes an image to fit within maxSize while keeping aspect
// ratio and returns JPEG bytes. Small images pass through re-encoded so the
// thumbnail key always refers to a JPEG.
func makeThumbnail(imageData []byte, maxSize int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	newWidth, newHeight := width, height
	if width > maxSize || height > maxSize {
		if width > height {
			newWidth = maxSize
			newHeight = int(float64(height) * float64(maxSize) / float64(width))
		} else {
			newHeight = maxSize
			newWidth = int(float64(width) * float64(maxSize) / float64(height))
		}
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.BiLinear.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// cropJPEG cuts a box out of the image and encodes it as JPEG. The box is
// intersected with the image bounds first.
func cropJPEG(img image.Image, x, y, w, h int) ([]byte, error) {
	r := image.Rect(x, y, x+w, y+h).Intersect(img.Bounds())
	if r.Empty() {
		return nil, fmt.Errorf("crop box outside image")
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Copy(dst, image.Point{}, img, r, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("failed to encode crop: %w", err)
	}
	return buf.Bytes(), nil
}

// resizeImage scales an image to the specified dimensions.
func resizeImage(img image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}

// toGrayscale converts an image to a 2D array of grayscale values (0-255).
func toGrayscale(img *image.RGBA) [][]float64 {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	gray := make([][]float64, width)
	for x := 0; x < width; x++ {
		gray[x] = make([]float64, height)
		for y := 0; y < height; y++ {
			r, g, b, _ := img.At(x, y).RGBA()
			// ITU-R BT.601 luma formula.
			gray[x][y] = 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
		}
	}
	return gray
}

// cosineSimilarity computes the cosine similarity between two embeddings.
// Returns a value between -1 and 1, where 1 means identical.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
