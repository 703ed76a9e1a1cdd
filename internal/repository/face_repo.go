package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/jkwok/photosense/internal/domain"
)

// FaceRepository encapsulates face and person persistence.
type FaceRepository struct {
	db *gorm.DB
}

// NewFaceRepository creates a new face repository instance
func NewFaceRepository(db *gorm.DB) *FaceRepository {
	return &FaceRepository{db: db}
}

// CreateFace inserts a single face row.
func (r *FaceRepository) CreateFace(ctx context.Context, face *domain.Face) error {
	return r.db.WithContext(ctx).Create(face).Error
}

// GetFaceByID fetches a face by its ID.
//
// Returns:
//   - *domain.Face: the face, or nil when not found
//   - error: database error
func (r *FaceRepository) GetFaceByID(ctx context.Context, id string) (*domain.Face, error) {
	var face domain.Face
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&face).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &face, nil
}

// ListByPhoto returns all faces on a photo ordered by creation time,
// so the client sees a stable ordering across reloads.
func (r *FaceRepository) ListByPhoto(ctx context.Context, photoID string) ([]domain.Face, error) {
	var faces []domain.Face
	err := r.db.WithContext(ctx).
		Where("photo_id = ?", photoID).
		Order("created_at ASC, id ASC").
		Find(&faces).Error
	return faces, err
}

// ReplaceAutoFaces swaps the detector-origin faces of a photo for a new set
// inside one transaction. Manually drawn faces survive redetection. Persons
// whose labeled auto faces go away here get the same cleanup as any other
// unlink, so nobody is left with zero faces.
func (r *FaceRepository) ReplaceAutoFaces(ctx context.Context, photoID string, faces []domain.Face) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var unlinked []string
		if err := tx.Model(&domain.Face{}).
			Where("photo_id = ? AND origin = ? AND person_id <> ''", photoID, domain.FaceOriginAuto).
			Pluck("person_id", &unlinked).Error; err != nil {
			return err
		}
		if err := tx.Where("photo_id = ? AND origin = ?", photoID, domain.FaceOriginAuto).
			Delete(&domain.Face{}).Error; err != nil {
			return err
		}
		for i := range faces {
			if err := tx.Create(&faces[i]).Error; err != nil {
				return err
			}
		}
		// One cleanup per deleted face keeps the counts exact.
		for _, personID := range unlinked {
			if err := cleanupPerson(tx, personID); err != nil {
				return err
			}
		}
		return nil
	})
}

// AssignPerson rebinds a face to a person (or clears the binding when
// personID is empty) and keeps both persons' face counts in step. A person
// whose last face is unlinked is removed.
func (r *FaceRepository) AssignPerson(ctx context.Context, faceID, personID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var face domain.Face
		if err := tx.Where("id = ?", faceID).First(&face).Error; err != nil {
			return err
		}
		previous := face.PersonID
		if previous == personID {
			return nil
		}

		if err := tx.Model(&domain.Face{}).Where("id = ?", faceID).
			Update("person_id", personID).Error; err != nil {
			return err
		}

		if personID != "" {
			if err := tx.Model(&domain.Person{}).Where("id = ?", personID).
				Update("face_count", gorm.Expr("face_count + 1")).Error; err != nil {
				return err
			}
		}
		if previous != "" {
			if err := cleanupPerson(tx, previous); err != nil {
				return err
			}
		}
		return nil
	})
}

// cleanupPerson decrements a person's face count and deletes the person when
// no faces remain bound to them.
func cleanupPerson(tx *gorm.DB, personID string) error {
	if err := tx.Model(&domain.Person{}).Where("id = ?", personID).
		Update("face_count", gorm.Expr("face_count - 1")).Error; err != nil {
		return err
	}
	var count int64
	if err := tx.Model(&domain.Face{}).Where("person_id = ?", personID).
		Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return tx.Where("id = ?", personID).Delete(&domain.Person{}).Error
	}
	return nil
}

// UnlinkAndCleanup clears a face's person binding before face deletion and
// removes the person if that was their last face.
func (r *FaceRepository) UnlinkAndCleanup(ctx context.Context, faceID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var face domain.Face
		err := tx.Where("id = ?", faceID).First(&face).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Where("id = ?", faceID).Delete(&domain.Face{}).Error; err != nil {
			return err
		}
		if face.PersonID != "" {
			return cleanupPerson(tx, face.PersonID)
		}
		return nil
	})
}

// CreatePerson inserts a new person row.
func (r *FaceRepository) CreatePerson(ctx context.Context, person *domain.Person) error {
	return r.db.WithContext(ctx).Create(person).Error
}

// GetPersonByID fetches a person by ID, nil when absent.
func (r *FaceRepository) GetPersonByID(ctx context.Context, id string) (*domain.Person, error) {
	var person domain.Person
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&person).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &person, nil
}

// GetPersonByName looks a person up by exact name match.
func (r *FaceRepository) GetPersonByName(ctx context.Context, name string) (*domain.Person, error) {
	var person domain.Person
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&person).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &person, nil
}

// UpdatePerson persists all fields of a person.
func (r *FaceRepository) UpdatePerson(ctx context.Context, person *domain.Person) error {
	return r.db.WithContext(ctx).Save(person).Error
}

// ListPersons returns person summaries with the number of distinct photos
// each person appears in, ordered by face count descending.
func (r *FaceRepository) ListPersons(ctx context.Context) ([]domain.PersonSummary, error) {
	var summaries []domain.PersonSummary
	err := r.db.WithContext(ctx).
		Table("persons").
		Select("persons.id, persons.name, persons.face_count, COUNT(DISTINCT faces.photo_id) AS photo_count").
		Joins("LEFT JOIN faces ON faces.person_id = persons.id").
		Group("persons.id, persons.name, persons.face_count").
		Order("persons.face_count DESC, persons.name ASC").
		Scan(&summaries).Error
	return summaries, err
}

// ListFacesByPerson returns every face bound to a person.
func (r *FaceRepository) ListFacesByPerson(ctx context.Context, personID string) ([]domain.Face, error) {
	var faces []domain.Face
	err := r.db.WithContext(ctx).
		Where("person_id = ?", personID).
		Order("created_at ASC").
		Find(&faces).Error
	return faces, err
}

// LabeledFacesWithEmbeddings returns person-bound faces carrying an
// embedding. Used to match fresh detections against known identities.
func (r *FaceRepository) LabeledFacesWithEmbeddings(ctx context.Context, limit int) ([]domain.Face, error) {
	var faces []domain.Face
	err := r.db.WithContext(ctx).
		Where("person_id <> '' AND embedding <> '' AND embedding <> '[]'").
		Order("created_at DESC").
		Limit(limit).
		Find(&faces).Error
	return faces, err
}
