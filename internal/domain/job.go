package domain

import "time"

// Tier identifies one stage of the analysis pipeline. Each tier is an
// independent, retryable unit of work.
type Tier string

const (
	TierInstant   Tier = "instant"
	TierFast      Tier = "fast"
	TierDeep      Tier = "deep"
	TierFace      Tier = "face"
	TierReanalyze Tier = "reanalyze"
)

// JobStatus represents the lifecycle state of a pipeline job.
// A terminal status is final: a new attempt is a new Job, never a resurrection.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusNoFaces    JobStatus = "no_faces"
	JobStatusSkipped    JobStatus = "skipped"
)

// IsTerminal reports whether the job has reached a final state.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusNoFaces, JobStatusSkipped:
		return true
	}
	return false
}

// Job is an ephemeral unit of pipeline work for one photo and one tier.
type Job struct {
	ID      string `gorm:"type:text;primaryKey" json:"id"`
	PhotoID string `gorm:"type:text;not null;index:idx_jobs_photo" json:"photo_id"`
	Tier    Tier   `gorm:"type:text;not null" json:"tier"`

	Status    JobStatus `gorm:"type:text;not null;default:pending;index:idx_jobs_status" json:"status"`
	Attempts  int       `gorm:"default:0" json:"attempts"`
	LastError string    `gorm:"type:text" json:"last_error,omitempty"`

	// Model carries the caller-selected model for reanalyze jobs; empty for
	// ordinary tiers, which use the configured model.
	Model string `gorm:"type:text" json:"model,omitempty"`

	// RunAt defers a requeued job until its retry backoff has elapsed.
	// Nil means runnable immediately.
	RunAt *time.Time `json:"run_at,omitempty"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Job.
func (Job) TableName() string {
	return "jobs"
}
