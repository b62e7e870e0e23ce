package domain

import "time"

// Job is the durable record of one clipping job
type Job struct {
	JobID          string
	Instruction    string
	Parameters     map[string]any
	Status         string
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	ErrorMessage   string
	ResultMetadata map[string]any
}

// TaskMessage is the body of a work queue message
type TaskMessage struct {
	Instruction string         `json:"instruction" validate:"required"`
	JobID       string         `json:"job_id,omitempty" validate:"omitempty,max=128"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	CreatedAt   string         `json:"created_at,omitempty"`
}

// ClippingResult is the persisted content of a finished job
type ClippingResult struct {
	JobID        string
	Title        string
	URL          string
	Content      string
	ArtifactURIs map[string]string
	CreatedAt    time.Time
}
