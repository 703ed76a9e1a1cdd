package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// StringArray is a custom type for storing string arrays as JSON in the database.
type StringArray []string

// Value implements the driver.Valuer interface for database serialization.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan StringArray")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, a)
}

// TagMap stores weighted tags as JSON, keyed by tag with confidence in [0,1].
type TagMap map[string]float64

// Value implements the driver.Valuer interface for database serialization.
func (t TagMap) Value() (driver.Value, error) {
	if t == nil {
		return "{}", nil
	}
	return json.Marshal(t)
}

// Scan implements the sql.Scanner interface for database deserialization.
func (t *TagMap) Scan(value interface{}) error {
	if value == nil {
		*t = TagMap{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan TagMap")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, t)
}

// Keys returns the tag names in unspecified order.
func (t TagMap) Keys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	return keys
}

// AnalysisRecord holds the machine-derived enrichment for a photo.
// Exactly one record exists per photo; it is created lazily on the first
// tier write and replaced atomically only by an explicit reanalyze.
type AnalysisRecord struct {
	ID      string `gorm:"type:text;primaryKey" json:"id"`
	PhotoID string `gorm:"type:text;not null;uniqueIndex:idx_analysis_photo" json:"photo_id"`

	Description      string      `gorm:"type:text" json:"description,omitempty"`
	ShortDescription string      `gorm:"type:text" json:"short_description,omitempty"`
	ExtractedText    string      `gorm:"type:text" json:"extracted_text,omitempty"`
	Objects          StringArray `gorm:"type:text" json:"objects,omitempty"`
	FaceCount        int         `gorm:"default:0" json:"face_count"`
	SceneCategory    string      `gorm:"type:text;index:idx_analysis_scene" json:"scene_category,omitempty"`
	SceneSubcategory string      `gorm:"type:text" json:"scene_subcategory,omitempty"`
	Tags             TagMap      `gorm:"type:text" json:"tags,omitempty"`
	StructuredData   JSONMap     `gorm:"type:text" json:"structured_data,omitempty"`

	// SearchText is the derived lexical index field: description, extracted
	// text and tags concatenated, lowercased, for zone-scored lexical search.
	SearchText string `gorm:"type:text" json:"-"`

	EmbeddingModel string `gorm:"type:text" json:"embedding_model,omitempty"`
	VectorPointID  string `gorm:"type:text" json:"-"`

	Model              string  `gorm:"type:text" json:"model,omitempty"`
	ProcessingTimeMs   int64   `gorm:"default:0" json:"processing_time_ms"`
	Confidence         float64 `gorm:"default:0" json:"confidence"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for AnalysisRecord.
func (AnalysisRecord) TableName() string {
	return "analysis_records"
}

// SearchQuery records an executed search for later ranking-weight tuning.
// The write is fire-and-forget; a lost row never affects query correctness.
type SearchQuery struct {
	ID            string    `gorm:"type:text;primaryKey" json:"id"`
	OwnerID       string    `gorm:"type:text;index:idx_search_queries_owner" json:"owner_id"`
	QueryText     string    `gorm:"type:text;not null" json:"query_text"`
	EmbeddingHash string    `gorm:"type:text" json:"embedding_hash,omitempty"`
	ResultCount   int       `gorm:"default:0" json:"result_count"`
	ClickedPhoto  string    `gorm:"type:text" json:"clicked_photo,omitempty"`
	Relevant      *bool     `json:"relevant,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// TableName returns the database table name for SearchQuery.
func (SearchQuery) TableName() string {
	return "search_queries"
}
