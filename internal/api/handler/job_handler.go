package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/news-clipping/internal/api/dto"
	"github.com/cuongbtq/news-clipping/internal/worker/domain"
	"github.com/cuongbtq/news-clipping/internal/worker/storage"
	"github.com/cuongbtq/news-clipping/shared/rabbitmq"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// CreateJob handles POST /api/v1/jobs
// Records the job as pending and enqueues it for the worker
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	jobID := strings.TrimSpace(req.JobID)
	if jobID == "" {
		jobID = newJobID()
	}

	ctx := c.Request.Context()
	if _, err := h.store.CreateJob(ctx, jobID, req.Instruction, req.Parameters); err != nil {
		if errors.Is(err, domain.ErrJobAlreadyCompleted) {
			c.JSON(http.StatusConflict, gin.H{
				"error": "Job already completed",
			})
			return
		}
		h.logger.Error("Failed to create job", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job",
		})
		return
	}

	body, err := json.Marshal(domain.TaskMessage{
		Instruction: req.Instruction,
		JobID:       jobID,
		Parameters:  req.Parameters,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		h.logger.Error("Failed to encode task message", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Parameters are not serializable",
		})
		return
	}

	msg := rabbitmq.Message{ID: jobID, Body: body, ContentType: "application/json"}
	if err := h.publisher.PublishWithRetry(ctx, msg); err != nil {
		h.logger.Error("Failed to enqueue job", slog.String("job_id", jobID), slog.String("error", err.Error()))
		if uerr := h.store.UpdateJob(ctx, jobID, domain.JobStatusFailed, nil, "failed to enqueue: "+err.Error()); uerr != nil {
			h.logger.Error("Failed to mark job as failed", slog.String("job_id", jobID), slog.String("error", uerr.Error()))
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Failed to enqueue job",
		})
		return
	}

	h.logger.Info("Job enqueued", slog.String("job_id", jobID))
	c.JSON(http.StatusAccepted, dto.CreateJobResponse{
		JobID:  jobID,
		Status: domain.JobStatusPending,
	})
}

// GetJob handles GET /api/v1/jobs/:job_id
// Returns the job with its stored result and artifacts
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id is required",
		})
		return
	}

	ctx := c.Request.Context()
	job, err := h.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to get job", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	resp := dto.JobDetailResponse{Job: toJobDTO(job), Artifacts: []domain.Artifact{}}

	result, err := h.store.GetResult(ctx, jobID)
	switch {
	case err == nil:
		resp.Result = &dto.ResultDTO{
			Title:        result.Title,
			URL:          result.URL,
			Content:      result.Content,
			ArtifactURIs: result.ArtifactURIs,
			CreatedAt:    result.CreatedAt.Format(time.RFC3339),
		}
	case !errors.Is(err, domain.ErrJobNotFound):
		h.logger.Error("Failed to get job result", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job result",
		})
		return
	}

	artifacts, err := h.store.ListArtifacts(ctx, jobID)
	if err != nil {
		h.logger.Error("Failed to list artifacts", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list artifacts",
		})
		return
	}
	if len(artifacts) > 0 {
		resp.Artifacts = artifacts
	}

	c.JSON(http.StatusOK, resp)
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs newest first with keyset pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	jobs, err := h.store.ListJobs(c.Request.Context(), storage.JobFilter{
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	resp := dto.ListJobsResponse{Jobs: make([]dto.JobDTO, len(jobs))}
	for i := range jobs {
		resp.Jobs[i] = toJobDTO(&jobs[i])
	}

	if hasMore {
		last := jobs[len(jobs)-1]
		resp.NextCursor = EncodeJobCursor(&storage.JobCursor{
			CreatedAt: last.CreatedAt,
			JobID:     last.JobID,
		})
	}

	c.JSON(http.StatusOK, resp)
}

func toJobDTO(job *domain.Job) dto.JobDTO {
	out := dto.JobDTO{
		JobID:          job.JobID,
		Instruction:    job.Instruction,
		Parameters:     job.Parameters,
		Status:         job.Status,
		CreatedAt:      job.CreatedAt.Format(time.RFC3339),
		ErrorMessage:   job.ErrorMessage,
		ResultMetadata: job.ResultMetadata,
	}
	if job.StartedAt != nil {
		out.StartedAt = job.StartedAt.Format(time.RFC3339)
	}
	if job.CompletedAt != nil {
		out.CompletedAt = job.CompletedAt.Format(time.RFC3339)
	}
	return out
}

// newJobID mirrors the worker's "job_" + 12 hex digits format
func newJobID() string {
	return "job_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
