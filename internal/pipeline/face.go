package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/google/uuid"

	"github.com/jkwok/photosense/internal/domain"
	"github.com/jkwok/photosense/internal/logger"
	"github.com/jkwok/photosense/internal/storage"
)

// labeledFaceScanLimit bounds how many labeled faces identity matching
// compares against.
const labeledFaceScanLimit = 2000

// runFace detects faces, matches them against already-labeled people, and
// replaces the previous detector output wholesale. Manually drawn faces are
// never touched, so relabeling survives any number of redetections.
func (c *Coordinator) runFace(ctx context.Context, job *domain.Job) (domain.JobStatus, error) {
	photo, err := c.photos.GetByID(ctx, job.PhotoID)
	if err != nil {
		return "", fmt.Errorf("failed to load photo: %w", err)
	}
	if photo.Corrupt {
		return domain.JobStatusSkipped, nil
	}

	if err := c.photos.SetFaceDetectionStatus(ctx, photo.ID, domain.FaceDetectionProcessing); err != nil {
		return "", fmt.Errorf("failed to mark face detection processing: %w", err)
	}

	data, err := c.download(ctx, photo.StorageKey)
	if err != nil {
		return "", err
	}

	detections, err := c.detector.DetectFaces(ctx, data, formatFromKey(photo.StorageKey))
	if err != nil {
		return "", fmt.Errorf("face detection failed: %w", err)
	}

	faces := make([]domain.Face, 0, len(detections))
	matched := make(map[string]string, len(detections)) // face ID -> person ID
	labeled := c.loadLabeledFaces(ctx)
	for _, d := range detections {
		face := domain.Face{
			ID:        uuid.New().String(),
			PhotoID:   photo.ID,
			X:         d.X,
			Y:         d.Y,
			Width:     d.Width,
			Height:    d.Height,
			Quality:   d.Quality,
			Origin:    domain.FaceOriginAuto,
			Embedding: domain.Vector(d.Embedding),
		}
		if personID := c.matchPerson(d.Embedding, labeled); personID != "" {
			matched[face.ID] = personID
		}
		faces = append(faces, face)
	}

	previous, err := c.faces.ListByPhoto(ctx, photo.ID)
	if err != nil {
		return "", fmt.Errorf("failed to list faces: %w", err)
	}

	deleted, err := c.photos.IsDeleted(ctx, photo.ID)
	if err != nil {
		return "", fmt.Errorf("failed to check photo: %w", err)
	}
	if deleted {
		return domain.JobStatusSkipped, nil
	}

	c.attachFaceCrops(ctx, photo, data, faces)
	if err := c.faces.ReplaceAutoFaces(ctx, photo.ID, faces); err != nil {
		return "", fmt.Errorf("failed to replace faces: %w", err)
	}
	c.dropStaleCrops(ctx, previous)
	for faceID, personID := range matched {
		if err := c.faces.AssignPerson(ctx, faceID, personID); err != nil {
			logger.CtxWarn(ctx, "Failed to bind matched person: face_id=%s, person_id=%s, error=%v", faceID, personID, err)
		}
	}

	all, err := c.faces.ListByPhoto(ctx, photo.ID)
	if err != nil {
		return "", fmt.Errorf("failed to count faces: %w", err)
	}
	if record, err := c.analyses.GetOrCreate(ctx, photo.ID); err == nil {
		record.FaceCount = len(all)
		if err := c.analyses.Save(ctx, record); err != nil {
			logger.CtxWarn(ctx, "Failed to save face count: photo_id=%s, error=%v", photo.ID, err)
		}
	}

	status := domain.FaceDetectionCompleted
	jobStatus := domain.JobStatusCompleted
	if len(all) == 0 {
		status = domain.FaceDetectionNoFaces
		jobStatus = domain.JobStatusNoFaces
	}
	if err := c.photos.UpdateFields(ctx, photo.ID, map[string]interface{}{
		"has_faces":      len(all) > 0,
		"face_detection": status,
	}); err != nil {
		return "", fmt.Errorf("failed to finish face detection: %w", err)
	}

	logger.CtxInfo(ctx, "Face tier completed: photo_id=%s, detected=%d, matched=%d, status=%s",
		photo.ID, len(detections), len(matched), status)
	return jobStatus, nil
}

// attachFaceCrops uploads a JPEG crop per detected face and stamps its key
// onto the row before insertion, so clients can show face chips without
// refetching the original. Failures only cost the crops.
func (c *Coordinator) attachFaceCrops(ctx context.Context, photo *domain.Photo, data []byte, faces []domain.Face) {
	if len(faces) == 0 {
		return
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		logger.CtxWarn(ctx, "Face crop decode failed: photo_id=%s, error=%v", photo.ID, err)
		return
	}
	for i := range faces {
		crop, err := cropJPEG(img, faces[i].X, faces[i].Y, faces[i].Width, faces[i].Height)
		if err != nil {
			logger.CtxWarn(ctx, "Face crop failed: face_id=%s, error=%v", faces[i].ID, err)
			continue
		}
		key := storage.FaceCropKey(photo.OwnerID, photo.ID, faces[i].ID)
		if err := c.store.Upload(ctx, key, bytes.NewReader(crop), int64(len(crop)), "image/jpeg"); err != nil {
			logger.CtxWarn(ctx, "Face crop upload failed: key=%s, error=%v", key, err)
			continue
		}
		faces[i].CropKey = key
	}
}

// dropStaleCrops removes the stored crops of detector faces that a
// redetection just replaced.
func (c *Coordinator) dropStaleCrops(ctx context.Context, previous []domain.Face) {
	for _, face := range previous {
		if face.Origin != domain.FaceOriginAuto || face.CropKey == "" {
			continue
		}
		if err := c.store.Delete(ctx, face.CropKey); err != nil {
			logger.CtxWarn(ctx, "Failed to delete stale face crop: key=%s, error=%v", face.CropKey, err)
		}
	}
}

// labeledFace pairs a person with one of their face embeddings.
type labeledFace struct {
	personID  string
	embedding []float32
}

func (c *Coordinator) loadLabeledFaces(ctx context.Context) []labeledFace {
	rows, err := c.faces.LabeledFacesWithEmbeddings(ctx, labeledFaceScanLimit)
	if err != nil {
		logger.CtxWarn(ctx, "Failed to load labeled faces, skipping identity match: error=%v", err)
		return nil
	}
	labeled := make([]labeledFace, 0, len(rows))
	for _, f := range rows {
		labeled = append(labeled, labeledFace{personID: f.PersonID, embedding: f.Embedding})
	}
	return labeled
}

// matchPerson returns the person whose labeled face is most similar to the
// embedding, or empty when nothing clears the similarity threshold.
func (c *Coordinator) matchPerson(embedding []float32, labeled []labeledFace) string {
	if len(embedding) == 0 {
		return ""
	}
	best := ""
	bestScore := c.faceSim
	for _, l := range labeled {
		if score := cosineSimilarity(embedding, l.embedding); score >= bestScore {
			best = l.personID
			bestScore = score
		}
	}
	return best
}
