package dto

import "github.com/cuongbtq/news-clipping/internal/worker/domain"

type CreateJobRequest struct {
	Instruction string         `json:"instruction" binding:"required"`
	JobID       string         `json:"job_id" binding:"omitempty,max=128"`
	Parameters  map[string]any `json:"parameters"`
}

type CreateJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type ListJobsRequest struct {
	Status   string `form:"status" binding:"omitempty,oneof=pending processing completed failed"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID          string         `json:"job_id"`
	Instruction    string         `json:"instruction"`
	Parameters     map[string]any `json:"parameters,omitempty"`
	Status         string         `json:"status"`
	CreatedAt      string         `json:"created_at"`
	StartedAt      string         `json:"started_at,omitempty"`
	CompletedAt    string         `json:"completed_at,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	ResultMetadata map[string]any `json:"result_metadata,omitempty"`
}

type ResultDTO struct {
	Title        string            `json:"title"`
	URL          string            `json:"url"`
	Content      string            `json:"content"`
	ArtifactURIs map[string]string `json:"artifact_uris,omitempty"`
	CreatedAt    string            `json:"created_at"`
}

type JobDetailResponse struct {
	Job       JobDTO            `json:"job"`
	Result    *ResultDTO        `json:"result,omitempty"`
	Artifacts []domain.Artifact `json:"artifacts"`
}
