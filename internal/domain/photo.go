package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// FaceDetectionStatus represents the terminal-state machine of the face tier.
// Values include FaceDetectionPending, FaceDetectionProcessing, FaceDetectionCompleted,
// FaceDetectionNoFaces, FaceDetectionFailed, and FaceDetectionSkipped.
type FaceDetectionStatus string

const (
	FaceDetectionPending    FaceDetectionStatus = "pending"
	FaceDetectionProcessing FaceDetectionStatus = "processing"
	FaceDetectionCompleted  FaceDetectionStatus = "completed"
	FaceDetectionNoFaces    FaceDetectionStatus = "no_faces"
	FaceDetectionFailed     FaceDetectionStatus = "failed"
	FaceDetectionSkipped    FaceDetectionStatus = "skipped"
)

// IsTerminal reports whether the status is final, i.e. a client may stop polling.
func (s FaceDetectionStatus) IsTerminal() bool {
	switch s {
	case FaceDetectionCompleted, FaceDetectionNoFaces, FaceDetectionFailed, FaceDetectionSkipped:
		return true
	}
	return false
}

// JSONMap is a custom type for storing arbitrary key/value metadata as JSON.
type JSONMap map[string]interface{}

// Value implements the driver.Valuer interface for database serialization.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return json.Marshal(m)
}

// Scan implements the sql.Scanner interface for database deserialization.
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = JSONMap{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan JSONMap")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, m)
}

// Photo represents a user photograph and the quick fields written by the
// instant tier. Enrichment lives in the 1:1 AnalysisRecord.
type Photo struct {
	ID           string `gorm:"type:text;primaryKey" json:"id"`
	OwnerID      string `gorm:"type:text;not null;index:idx_photos_owner" json:"owner_id"`
	StorageKey   string `gorm:"type:text;not null" json:"storage_key"`
	ThumbnailKey string `gorm:"type:text" json:"thumbnail_key,omitempty"`

	Width  int `json:"width"`
	Height int `json:"height"`

	TakenAt      *time.Time `json:"taken_at,omitempty"`
	UploadedAt   time.Time  `json:"uploaded_at"`
	Latitude     *float64   `json:"latitude,omitempty"`
	Longitude    *float64   `json:"longitude,omitempty"`
	LocationName string     `gorm:"type:text" json:"location_name,omitempty"`

	// Quick flags. Instant tier initializes them; fast/deep/face tiers refine them.
	HasText    bool `gorm:"default:false" json:"has_text"`
	HasFaces   bool `gorm:"default:false" json:"has_faces"`
	IsFood     bool `gorm:"default:false" json:"is_food"`
	IsDocument bool `gorm:"default:false" json:"is_document"`

	CameraMetadata JSONMap `gorm:"type:text" json:"camera_metadata,omitempty"`
	ContentHash    string  `gorm:"type:text;index:idx_photos_content_hash" json:"content_hash,omitempty"`
	PerceptualHash string  `gorm:"type:text" json:"perceptual_hash,omitempty"`
	Corrupt        bool    `gorm:"default:false" json:"corrupt,omitempty"`

	// DuplicateOf names an earlier photo of the same owner whose perceptual
	// hash sits within the near-duplicate distance. Advisory only; uploads
	// are never rejected for it.
	DuplicateOf string `gorm:"type:text" json:"duplicate_of,omitempty"`

	AnalysisStartedAt  *time.Time          `json:"analysis_started_at,omitempty"`
	AnalyzedAt         *time.Time          `json:"analyzed_at,omitempty"`
	AnalysisDurationMs int64               `gorm:"default:0" json:"analysis_duration_ms,omitempty"`
	FaceDetection      FaceDetectionStatus `gorm:"type:text;default:pending" json:"face_detection_status"`

	DeletedAt *time.Time `gorm:"index:idx_photos_deleted" json:"deleted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Photo.
func (Photo) TableName() string {
	return "photos"
}

// IsDeleted reports whether the photo has been soft-deleted.
// Deleted photos are excluded from every pipeline and from search.
func (p *Photo) IsDeleted() bool {
	return p.DeletedAt != nil
}
