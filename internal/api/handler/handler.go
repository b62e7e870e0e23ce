package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/news-clipping/internal/worker/domain"
	"github.com/cuongbtq/news-clipping/internal/worker/storage"
	"github.com/cuongbtq/news-clipping/shared/rabbitmq"
)

// JobStore is the part of the job store the API needs
type JobStore interface {
	CreateJob(ctx context.Context, jobID, instruction string, params map[string]any) (*domain.Job, error)
	UpdateJob(ctx context.Context, jobID, status string, result map[string]any, errorMsg string) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]domain.Job, error)
	GetResult(ctx context.Context, jobID string) (*domain.ClippingResult, error)
	ListArtifacts(ctx context.Context, jobID string) ([]domain.Artifact, error)
	Ping(ctx context.Context) error
}

// TaskPublisher enqueues task messages
type TaskPublisher interface {
	PublishWithRetry(ctx context.Context, msg rabbitmq.Message) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger    *slog.Logger
	Store     JobStore
	Publisher TaskPublisher
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger    *slog.Logger
	store     JobStore
	publisher TaskPublisher
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:    deps.Logger,
		store:     deps.Store,
		publisher: deps.Publisher,
	}
}
