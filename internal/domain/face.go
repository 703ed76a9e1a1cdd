package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// FaceOrigin distinguishes detector output from user-drawn boxes.
type FaceOrigin string

const (
	FaceOriginAuto   FaceOrigin = "auto"
	FaceOriginManual FaceOrigin = "manual"
)

// Vector stores a float32 embedding as JSON text. Person centroids and face
// embeddings are small enough that JSON round-tripping is not a bottleneck.
type Vector []float32

// Value implements the driver.Valuer interface for database serialization.
func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return "[]", nil
	}
	return json.Marshal(v)
}

// Scan implements the sql.Scanner interface for database deserialization.
func (v *Vector) Scan(value interface{}) error {
	if value == nil {
		*v = Vector{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan Vector")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, v)
}

// Face is a detected or manually marked region believed to contain a face.
// The bounding box is always stored in the photo's natural pixel space.
type Face struct {
	ID      string `gorm:"type:text;primaryKey" json:"id"`
	PhotoID string `gorm:"type:text;not null;index:idx_faces_photo" json:"photo_id"`

	X      int `gorm:"not null" json:"x"`
	Y      int `gorm:"not null" json:"y"`
	Width  int `gorm:"not null" json:"width"`
	Height int `gorm:"not null" json:"height"`

	PersonID  string     `gorm:"type:text;index:idx_faces_person" json:"person_id,omitempty"`
	Quality   float64    `gorm:"default:0" json:"quality"`
	Origin    FaceOrigin `gorm:"type:text;not null;default:auto" json:"origin"`
	Embedding Vector     `gorm:"type:text" json:"-"`

	// CropKey points at the stored JPEG crop for detector-origin faces.
	// Manual faces have none.
	CropKey string `gorm:"type:text" json:"crop_key,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Face.
func (Face) TableName() string {
	return "faces"
}

// ValidateBounds checks that the box lies fully inside the owning photo's
// natural pixel dimensions.
func (f *Face) ValidateBounds(photoWidth, photoHeight int) error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("face box has non-positive size %dx%d", f.Width, f.Height)
	}
	if f.X < 0 || f.Y < 0 || f.X+f.Width > photoWidth || f.Y+f.Height > photoHeight {
		return fmt.Errorf("face box (%d,%d %dx%d) outside photo bounds %dx%d",
			f.X, f.Y, f.Width, f.Height, photoWidth, photoHeight)
	}
	return nil
}

// Person is an identity cluster linking faces across photos. A person with
// zero linked faces is removed rather than surfaced to clients.
type Person struct {
	ID        string    `gorm:"type:text;primaryKey" json:"id"`
	OwnerID   string    `gorm:"type:text;not null;index:idx_persons_owner" json:"owner_id"`
	Name      string    `gorm:"type:text" json:"name,omitempty"`
	FaceCount int       `gorm:"default:0" json:"face_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Person.
func (Person) TableName() string {
	return "persons"
}

// PersonSummary is the client-facing person listing row.
type PersonSummary struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	PhotoCount int    `json:"photo_count"`
	FaceCount  int    `json:"face_count"`
}
