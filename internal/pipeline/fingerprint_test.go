package pipeline

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"testing"
)

func encodeJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			// Diagonal gradient so the difference hash has structure.
			img.Set(x, y, color.RGBA{R: uint8(x * 3 % 256), G: uint8(y * 3 % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestContentHashIsStable(t *testing.T) {
	data := encodeJPEG(t, 40, 30)
	if contentHash(data) != contentHash(data) {
		t.Fatal("same bytes must hash identically")
	}
	other := encodeJPEG(t, 41, 30)
	if contentHash(data) == contentHash(other) {
		t.Fatal("different bytes must hash differently")
	}
}

func TestDecodeInfo(t *testing.T) {
	info, err := decodeInfo(encodeJPEG(t, 80, 60))
	if err != nil {
		t.Fatalf("decodeInfo: %v", err)
	}
	if info.Width != 80 || info.Height != 60 {
		t.Fatalf("got %dx%d, want 80x60", info.Width, info.Height)
	}
	if info.Format != "jpeg" {
		t.Fatalf("got format %q, want jpeg", info.Format)
	}

	if _, err := decodeInfo([]byte("not an image")); err == nil {
		t.Fatal("garbage bytes must not decode")
	}
}

func TestPerceptualHashMatchesItself(t *testing.T) {
	data := encodeJPEG(t, 120, 90)
	h1, err := perceptualHash(data)
	if err != nil {
		t.Fatalf("perceptualHash: %v", err)
	}
	h2, err := perceptualHash(data)
	if err != nil {
		t.Fatalf("perceptualHash: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("hash not deterministic: %s vs %s", h1, h2)
	}
	if len(h1) != 16 {
		t.Fatalf("hash %q is not 16 hex chars", h1)
	}
}

func TestHammingDistance(t *testing.T) {
	cases := []struct {
		a, b uint64
		want int
	}{
		{0, 0, 0},
		{0, 1, 1},
		{0xFF, 0x00, 8},
		{0xFFFFFFFFFFFFFFFF, 0, 64},
		{0b1010, 0b0101, 4},
	}
	for _, tc := range cases {
		if got := hammingDistance(tc.a, tc.b); got != tc.want {
			t.Errorf("hammingDistance(%x, %x) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestMakeThumbnailFitsBounds(t *testing.T) {
	thumb, err := makeThumbnail(encodeJPEG(t, 400, 200), 100)
	if err != nil {
		t.Fatalf("makeThumbnail: %v", err)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(thumb))
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	if format != "jpeg" {
		t.Fatalf("thumbnail format %q, want jpeg", format)
	}
	if cfg.Width != 100 || cfg.Height != 50 {
		t.Fatalf("thumbnail %dx%d, want 100x50", cfg.Width, cfg.Height)
	}
}

func TestMakeThumbnailKeepsSmallImages(t *testing.T) {
	thumb, err := makeThumbnail(encodeJPEG(t, 40, 30), 100)
	if err != nil {
		t.Fatalf("makeThumbnail: %v", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(thumb))
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	if cfg.Width != 40 || cfg.Height != 30 {
		t.Fatalf("thumbnail %dx%d, want original 40x30", cfg.Width, cfg.Height)
	}
}

func TestCosineSimilarity(t *testing.T) {
	cases := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1},
		{"orthogonal", []float32{1, 0, 0}, []float32{0, 1, 0}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := cosineSimilarity(tc.a, tc.b); math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("got %f, want %f", got, tc.want)
			}
		})
	}
}
