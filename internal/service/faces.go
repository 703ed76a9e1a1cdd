package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkwok/photosense/internal/domain"
	"github.com/jkwok/photosense/internal/geometry"
	"github.com/jkwok/photosense/internal/logger"
	"github.com/jkwok/photosense/internal/repository"
)

// FaceService owns manual face creation and person labeling. Destructive
// redetection runs in the pipeline's face tier; the operations here only
// touch disjoint fields and so never need the photo's pipeline lock.
type FaceService struct {
	faceRepo  *repository.FaceRepository
	photoRepo *repository.PhotoRepository
	logger    *logger.Logger
}

// NewFaceService creates a new face service.
func NewFaceService(faceRepo *repository.FaceRepository, photoRepo *repository.PhotoRepository, log *logger.Logger) *FaceService {
	return &FaceService{
		faceRepo:  faceRepo,
		photoRepo: photoRepo,
		logger:    log,
	}
}

// ErrPhotoNotFound is returned for operations against missing or deleted photos.
var ErrPhotoNotFound = fmt.Errorf("photo not found")

// ErrFaceNotFound is returned when a face id does not resolve.
var ErrFaceNotFound = fmt.Errorf("face not found")

// ErrInvalidBounds is returned when a bounding box falls outside the photo.
var ErrInvalidBounds = fmt.Errorf("bounding box outside image bounds")

// ErrPersonNotFound is returned when a person id does not resolve.
var ErrPersonNotFound = fmt.Errorf("person not found")

// loadPhoto resolves a live photo, translating a missing row into
// ErrPhotoNotFound so handlers answer 404 rather than 500.
func (s *FaceService) loadPhoto(ctx context.Context, photoID string) (*domain.Photo, error) {
	photo, err := s.photoRepo.GetByID(ctx, photoID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPhotoNotFound
	}
	if err != nil {
		return nil, err
	}
	if photo.IsDeleted() {
		return nil, ErrPhotoNotFound
	}
	return photo, nil
}

// ListFaces returns a photo's faces in stable creation order, boxes in
// natural pixels.
func (s *FaceService) ListFaces(ctx context.Context, photoID string) ([]domain.Face, error) {
	if _, err := s.loadPhoto(ctx, photoID); err != nil {
		return nil, err
	}
	return s.faceRepo.ListByPhoto(ctx, photoID)
}

// AddManualFace creates a user-drawn face on a photo. The box arrives in
// natural pixel space (the client converts from display space before
// submission) and is clamped to the image after validation.
//
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - photoID: target photo.
//   - box: bounding box in natural pixels.
//   - personID: existing person to bind, empty when personName is used.
//   - personName: person name; a new Person is created on first use.
//
// Returns:
//   - *domain.Face: the created face.
//   - error: ErrPhotoNotFound, ErrInvalidBounds, or a database error.
func (s *FaceService) AddManualFace(ctx context.Context, photoID string, box geometry.Rect, personID, personName string) (*domain.Face, error) {
	photo, err := s.loadPhoto(ctx, photoID)
	if err != nil {
		return nil, err
	}

	if box.Width <= 0 || box.Height <= 0 {
		return nil, ErrInvalidBounds
	}
	bounds := geometry.Size{Width: photo.Width, Height: photo.Height}
	if box.X < 0 || box.Y < 0 || box.X+box.Width > bounds.Width || box.Y+box.Height > bounds.Height {
		// A box hanging one or two pixels over the edge is a rounding
		// artifact of the display transform, clamp it. Anything further out
		// is a caller bug.
		clamped := geometry.Clamp(box, bounds)
		if clamped.Width < box.Width-2 || clamped.Height < box.Height-2 {
			return nil, ErrInvalidBounds
		}
		box = clamped
	}

	resolvedPersonID, err := s.resolvePerson(ctx, photo.OwnerID, personID, personName)
	if err != nil {
		return nil, err
	}

	face := &domain.Face{
		ID:      uuid.New().String(),
		PhotoID: photoID,
		X:       box.X,
		Y:       box.Y,
		Width:   box.Width,
		Height:  box.Height,
		Origin:  domain.FaceOriginManual,
		Quality: 1.0, // user-asserted
	}
	if err := s.faceRepo.CreateFace(ctx, face); err != nil {
		return nil, err
	}

	if resolvedPersonID != "" {
		if err := s.faceRepo.AssignPerson(ctx, face.ID, resolvedPersonID); err != nil {
			return nil, err
		}
		face.PersonID = resolvedPersonID
	}

	if !photo.HasFaces {
		if err := s.photoRepo.UpdateFields(ctx, photoID, map[string]interface{}{"has_faces": true}); err != nil {
			logger.CtxWarn(ctx, "Failed to flip has_faces: photo_id=%s, error=%v", photoID, err)
		}
	}

	logger.CtxInfo(ctx, "Manual face added: photo_id=%s, face_id=%s, person_id=%s", photoID, face.ID, resolvedPersonID)
	return face, nil
}

// LabelFace rebinds a face to a person, creating the person on first use of
// a new name. Relabeling never deletes the face; an orphaned previous person
// is removed by the repository.
func (s *FaceService) LabelFace(ctx context.Context, faceID, personID, personName string) (*domain.Face, error) {
	face, err := s.faceRepo.GetFaceByID(ctx, faceID)
	if err != nil {
		return nil, err
	}
	if face == nil {
		return nil, ErrFaceNotFound
	}

	ownerID := ""
	photo, err := s.photoRepo.GetByID(ctx, face.PhotoID)
	if err == nil {
		ownerID = photo.OwnerID
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	resolvedPersonID, err := s.resolvePerson(ctx, ownerID, personID, personName)
	if err != nil {
		return nil, err
	}

	if err := s.faceRepo.AssignPerson(ctx, faceID, resolvedPersonID); err != nil {
		return nil, err
	}

	logger.CtxInfo(ctx, "Face relabeled: face_id=%s, person_id=%s", faceID, resolvedPersonID)
	return s.faceRepo.GetFaceByID(ctx, faceID)
}

// RemoveFace deletes a face and cleans up a person left with no faces.
func (s *FaceService) RemoveFace(ctx context.Context, faceID string) error {
	face, err := s.faceRepo.GetFaceByID(ctx, faceID)
	if err != nil {
		return err
	}
	if face == nil {
		return ErrFaceNotFound
	}

	if err := s.faceRepo.UnlinkAndCleanup(ctx, faceID); err != nil {
		return err
	}

	remaining, err := s.faceRepo.ListByPhoto(ctx, face.PhotoID)
	if err != nil {
		return err
	}
	if len(remaining) == 0 {
		if err := s.photoRepo.UpdateFields(ctx, face.PhotoID, map[string]interface{}{"has_faces": false}); err != nil {
			logger.CtxWarn(ctx, "Failed to clear has_faces: photo_id=%s, error=%v", face.PhotoID, err)
		}
	}
	return nil
}

// ListPersons returns person summaries with photo counts.
func (s *FaceService) ListPersons(ctx context.Context) ([]domain.PersonSummary, error) {
	return s.faceRepo.ListPersons(ctx)
}

// PersonFaces returns every face bound to a person, oldest first.
func (s *FaceService) PersonFaces(ctx context.Context, personID string) ([]domain.Face, error) {
	person, err := s.faceRepo.GetPersonByID(ctx, personID)
	if err != nil {
		return nil, err
	}
	if person == nil {
		return nil, ErrPersonNotFound
	}
	return s.faceRepo.ListFacesByPerson(ctx, personID)
}

// RenamePerson changes a person's display name.
func (s *FaceService) RenamePerson(ctx context.Context, personID, name string) (*domain.Person, error) {
	person, err := s.faceRepo.GetPersonByID(ctx, personID)
	if err != nil {
		return nil, err
	}
	if person == nil {
		return nil, ErrPersonNotFound
	}
	person.Name = name
	person.UpdatedAt = time.Now()
	if err := s.faceRepo.UpdatePerson(ctx, person); err != nil {
		return nil, err
	}
	return person, nil
}

// resolvePerson turns a (personID, personName) pair into a person id. An
// unknown name creates a new person owned by the photo's owner. Both empty
// means unbound.
func (s *FaceService) resolvePerson(ctx context.Context, ownerID, personID, personName string) (string, error) {
	if personID != "" {
		person, err := s.faceRepo.GetPersonByID(ctx, personID)
		if err != nil {
			return "", err
		}
		if person == nil {
			return "", fmt.Errorf("person %s not found", personID)
		}
		return person.ID, nil
	}
	if personName == "" {
		return "", nil
	}

	person, err := s.faceRepo.GetPersonByName(ctx, personName)
	if err != nil {
		return "", err
	}
	if person != nil {
		return person.ID, nil
	}

	person = &domain.Person{
		ID:      uuid.New().String(),
		OwnerID: ownerID,
		Name:    personName,
	}
	if err := s.faceRepo.CreatePerson(ctx, person); err != nil {
		return "", err
	}
	logger.CtxInfo(ctx, "Person created: person_id=%s, name=%s", person.ID, personName)
	return person.ID, nil
}
