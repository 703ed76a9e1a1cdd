package storage

import (
	"fmt"
	"path"
	"strings"
)

// Object key layout:
//
//	photos/<owner>/<photo-id>.<ext>       original upload
//	thumbs/<owner>/<photo-id>.jpg         pipeline-generated thumbnail
//	faces/<owner>/<photo-id>/<face-id>.jpg face crop

// PhotoKey builds the storage key for an original photo.
func PhotoKey(ownerID, photoID, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" {
		ext = ".jpg"
	}
	return fmt.Sprintf("photos/%s/%s%s", ownerID, photoID, ext)
}

// ThumbnailKey builds the storage key for a photo's thumbnail.
func ThumbnailKey(ownerID, photoID string) string {
	return fmt.Sprintf("thumbs/%s/%s.jpg", ownerID, photoID)
}

// FaceCropKey builds the storage key for a single face crop.
func FaceCropKey(ownerID, photoID, faceID string) string {
	return fmt.Sprintf("faces/%s/%s/%s.jpg", ownerID, photoID, faceID)
}

// ContentTypeForKey maps a key extension to a MIME type for upload.
func ContentTypeForKey(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".heic":
		return "image/heic"
	default:
		return "image/jpeg"
	}
}
