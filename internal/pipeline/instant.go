package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jkwok/photosense/internal/domain"
	"github.com/jkwok/photosense/internal/logger"
	"github.com/jkwok/photosense/internal/storage"
)

// runInstant extracts everything knowable without model inference: image
// dimensions, EXIF capture time and GPS, content and perceptual hashes,
// and a thumbnail. An undecodable image is fatal: the photo is flagged
// corrupt and the model tiers never run for it.
func (c *Coordinator) runInstant(ctx context.Context, job *domain.Job) (domain.JobStatus, error) {
	photo, err := c.photos.GetByID(ctx, job.PhotoID)
	if err != nil {
		return "", fmt.Errorf("failed to load photo: %w", err)
	}

	data, err := c.download(ctx, photo.StorageKey)
	if err != nil {
		return "", err
	}

	info, err := decodeInfo(data)
	if err != nil {
		c.markCorrupt(ctx, photo.ID)
		return "", permanent(fmt.Errorf("corrupt image: %w", err))
	}

	now := time.Now()
	fields := map[string]interface{}{
		"width":               info.Width,
		"height":              info.Height,
		"content_hash":        contentHash(data),
		"analysis_started_at": &now,
	}

	meta := parseEXIF(data)
	if meta.TakenAt != nil {
		fields["taken_at"] = meta.TakenAt
	}
	if meta.Latitude != nil && meta.Longitude != nil {
		fields["latitude"] = meta.Latitude
		fields["longitude"] = meta.Longitude
	}
	if len(meta.Camera) > 0 {
		fields["camera_metadata"] = meta.Camera
	}

	if phash, err := perceptualHash(data); err == nil {
		fields["perceptual_hash"] = phash
		if dupID := c.findNearDuplicate(ctx, photo, phash); dupID != "" {
			logger.CtxInfo(ctx, "Near-duplicate detected: photo_id=%s, duplicate_of=%s", photo.ID, dupID)
			fields["duplicate_of"] = dupID
		}
	} else {
		logger.CtxWarn(ctx, "Perceptual hash failed: photo_id=%s, error=%v", photo.ID, err)
	}

	thumbKey, err := c.uploadThumbnail(ctx, photo, data)
	if err != nil {
		logger.CtxWarn(ctx, "Thumbnail generation failed: photo_id=%s, error=%v", photo.ID, err)
	} else {
		fields["thumbnail_key"] = thumbKey
	}

	// Delete wins: a photo removed mid-tier keeps its tombstone untouched.
	deleted, err := c.photos.IsDeleted(ctx, photo.ID)
	if err != nil {
		return "", fmt.Errorf("failed to check photo: %w", err)
	}
	if deleted {
		return domain.JobStatusSkipped, nil
	}
	if err := c.photos.UpdateFields(ctx, photo.ID, fields); err != nil {
		return "", fmt.Errorf("failed to save instant fields: %w", err)
	}

	logger.CtxInfo(ctx, "Instant tier completed: photo_id=%s, width=%d, height=%d, format=%s",
		photo.ID, info.Width, info.Height, info.Format)
	return domain.JobStatusCompleted, nil
}

// nearDuplicateThreshold is the maximum hamming distance between two
// difference hashes still treated as the same scene.
const nearDuplicateThreshold = 6

// findNearDuplicate scans the owner's existing perceptual hashes for the
// closest one within the threshold. Any failure only disables the hint.
func (c *Coordinator) findNearDuplicate(ctx context.Context, photo *domain.Photo, phash string) string {
	hash, err := strconv.ParseUint(phash, 16, 64)
	if err != nil {
		return ""
	}
	others, err := c.photos.PerceptualHashes(ctx, photo.OwnerID, photo.ID)
	if err != nil {
		logger.CtxWarn(ctx, "Duplicate scan failed: photo_id=%s, error=%v", photo.ID, err)
		return ""
	}
	bestID := ""
	bestDistance := nearDuplicateThreshold + 1
	for _, other := range others {
		otherHash, err := strconv.ParseUint(other.PerceptualHash, 16, 64)
		if err != nil {
			continue
		}
		if d := hammingDistance(hash, otherHash); d < bestDistance {
			bestID = other.ID
			bestDistance = d
		}
	}
	return bestID
}

// markCorrupt flags the photo and closes out the face tier so clients stop
// polling. Queued model tiers for the photo are cancelled.
func (c *Coordinator) markCorrupt(ctx context.Context, photoID string) {
	if err := c.photos.UpdateFields(ctx, photoID, map[string]interface{}{
		"corrupt":        true,
		"face_detection": domain.FaceDetectionSkipped,
	}); err != nil {
		logger.CtxError(ctx, "Failed to flag photo corrupt: photo_id=%s, error=%v", photoID, err)
	}
	if err := c.jobs.CancelByPhoto(ctx, photoID); err != nil {
		logger.CtxError(ctx, "Failed to cancel jobs: photo_id=%s, error=%v", photoID, err)
	}
}

// uploadThumbnail renders and stores the JPEG thumbnail, returning its key.
func (c *Coordinator) uploadThumbnail(ctx context.Context, photo *domain.Photo, data []byte) (string, error) {
	size := c.cfg.ThumbnailSize
	if size <= 0 {
		size = 512
	}
	thumb, err := makeThumbnail(data, size)
	if err != nil {
		return "", err
	}
	key := storage.ThumbnailKey(photo.OwnerID, photo.ID)
	if err := c.store.Upload(ctx, key, bytes.NewReader(thumb), int64(len(thumb)), "image/jpeg"); err != nil {
		return "", err
	}
	return key, nil
}
