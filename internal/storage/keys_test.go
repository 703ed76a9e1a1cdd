package storage

import "testing"

func TestPhotoKey(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		want     string
	}{
		{"jpeg upload", "IMG_2041.JPG", "photos/u1/p1.jpg"},
		{"png upload", "scan.png", "photos/u1/p1.png"},
		{"no extension", "upload", "photos/u1/p1.jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PhotoKey("u1", "p1", tt.filename)
			if got != tt.want {
				t.Errorf("PhotoKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestContentTypeForKey(t *testing.T) {
	if got := ContentTypeForKey("photos/u1/p1.png"); got != "image/png" {
		t.Errorf("ContentTypeForKey(png) = %q", got)
	}
	if got := ContentTypeForKey("photos/u1/p1.jpg"); got != "image/jpeg" {
		t.Errorf("ContentTypeForKey(jpg) = %q", got)
	}
	if got := ContentTypeForKey("photos/u1/p1"); got != "image/jpeg" {
		t.Errorf("ContentTypeForKey(no ext) = %q", got)
	}
}
