package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewWithClient(client, 5*time.Minute), mr
}

func TestAnalysisRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	type result struct {
		Description string   `json:"description"`
		Tags        []string `json:"tags"`
	}

	var miss result
	ok, err := c.GetAnalysis(ctx, "abc123", &miss)
	if err != nil {
		t.Fatalf("GetAnalysis: %v", err)
	}
	if ok {
		t.Fatal("expected miss on empty cache")
	}

	want := result{Description: "a dog on a beach", Tags: []string{"dog", "beach"}}
	if err := c.SetAnalysis(ctx, "abc123", want); err != nil {
		t.Fatalf("SetAnalysis: %v", err)
	}

	var got result
	ok, err = c.GetAnalysis(ctx, "abc123", &got)
	if err != nil || !ok {
		t.Fatalf("GetAnalysis after set: ok=%v err=%v", ok, err)
	}
	if got.Description != want.Description || len(got.Tags) != 2 {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestAnalysisInvalidate(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	if err := c.SetAnalysis(ctx, "h1", map[string]string{"d": "x"}); err != nil {
		t.Fatal(err)
	}
	if err := c.InvalidateAnalysis(ctx, "h1"); err != nil {
		t.Fatalf("InvalidateAnalysis: %v", err)
	}

	var dest map[string]string
	ok, err := c.GetAnalysis(ctx, "h1", &dest)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected miss after invalidation")
	}
}

func TestSearchTTLExpiry(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	if err := c.SetSearch(ctx, "u1", "pizza last month", []string{"p1", "p2"}); err != nil {
		t.Fatalf("SetSearch: %v", err)
	}

	var ids []string
	ok, err := c.GetSearch(ctx, "u1", "pizza last month", &ids)
	if err != nil || !ok {
		t.Fatalf("GetSearch: ok=%v err=%v", ok, err)
	}
	if len(ids) != 2 {
		t.Errorf("got %d ids, want 2", len(ids))
	}

	mr.FastForward(6 * time.Minute)

	ok, err = c.GetSearch(ctx, "u1", "pizza last month", &ids)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected miss after TTL expiry")
	}
}

func TestSearchKeyedByOwner(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	if err := c.SetSearch(ctx, "u1", "sunset", []string{"p1"}); err != nil {
		t.Fatal(err)
	}

	var ids []string
	ok, err := c.GetSearch(ctx, "u2", "sunset", &ids)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("cache entries must not leak across owners")
	}
}

func TestEmbeddingRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	_, ok, err := c.GetEmbedding(ctx, "golden retriever")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected miss")
	}

	want := []float32{0.1, -0.2, 0.3}
	if err := c.SetEmbedding(ctx, "golden retriever", want); err != nil {
		t.Fatalf("SetEmbedding: %v", err)
	}

	got, ok, err := c.GetEmbedding(ctx, "golden retriever")
	if err != nil || !ok {
		t.Fatalf("GetEmbedding: ok=%v err=%v", ok, err)
	}
	if len(got) != 3 || got[1] != -0.2 {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestNormalizeQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  Pizza  Last   Month ", "pizza last month"},
		{"SUNSET", "sunset"},
		{"dog\tbeach", "dog beach"},
	}
	for _, tt := range tests {
		if got := NormalizeQuery(tt.in); got != tt.want {
			t.Errorf("NormalizeQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
