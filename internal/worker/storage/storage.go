package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/news-clipping/internal/worker/domain"
	"github.com/cuongbtq/news-clipping/shared/postgresql"
	"github.com/jmoiron/sqlx"
)

// Storage is the JobStore: every method is one transactional call
type Storage struct {
	pg     *postgresql.Client
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(pg *postgresql.Client, logger *slog.Logger) *Storage {
	return &Storage{
		pg:     pg,
		db:     pg.GetDB(),
		logger: logger,
	}
}

type jobRow struct {
	JobID          string         `db:"job_id"`
	Instruction    string         `db:"instruction"`
	Parameters     []byte         `db:"parameters"`
	Status         string         `db:"status"`
	CreatedAt      time.Time      `db:"created_at"`
	StartedAt      sql.NullTime   `db:"started_at"`
	CompletedAt    sql.NullTime   `db:"completed_at"`
	ErrorMessage   sql.NullString `db:"error_message"`
	ResultMetadata []byte         `db:"result_metadata"`
}

const jobColumns = `job_id, instruction, parameters, status, created_at, started_at, completed_at, error_message, result_metadata`

func (r *jobRow) toDomain() (*domain.Job, error) {
	job := &domain.Job{
		JobID:        r.JobID,
		Instruction:  r.Instruction,
		Status:       r.Status,
		CreatedAt:    r.CreatedAt,
		ErrorMessage: r.ErrorMessage.String,
	}
	if r.StartedAt.Valid {
		t := r.StartedAt.Time
		job.StartedAt = &t
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		job.CompletedAt = &t
	}
	if len(r.Parameters) > 0 {
		if err := json.Unmarshal(r.Parameters, &job.Parameters); err != nil {
			return nil, fmt.Errorf("failed to decode parameters of job %s: %w", r.JobID, err)
		}
	}
	if len(r.ResultMetadata) > 0 {
		if err := json.Unmarshal(r.ResultMetadata, &job.ResultMetadata); err != nil {
			return nil, fmt.Errorf("failed to decode result metadata of job %s: %w", r.JobID, err)
		}
	}
	return job, nil
}

// jsonParam encodes v for a jsonb placeholder. lib/pq sends []byte as bytea,
// so the document travels as text.
func jsonParam(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// CreateJob records a job as pending. A redelivered message resets a failed or
// interrupted job back to pending; a completed job is left untouched and
// ErrJobAlreadyCompleted is returned.
func (s *Storage) CreateJob(ctx context.Context, jobID, instruction string, params map[string]any) (*domain.Job, error) {
	if params == nil {
		params = map[string]any{}
	}
	paramsJSON, err := jsonParam(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal parameters: %w", err)
	}

	query := `
		INSERT INTO clippings_app.clipping_jobs (job_id, instruction, parameters, status)
		VALUES ($1, $2, $3::jsonb, $4)
		ON CONFLICT (job_id) DO UPDATE
		SET status = EXCLUDED.status,
		    instruction = EXCLUDED.instruction,
		    parameters = EXCLUDED.parameters,
		    error_message = NULL,
		    completed_at = NULL
		WHERE clippings_app.clipping_jobs.status <> $5
		RETURNING ` + jobColumns

	var row jobRow
	err = s.db.GetContext(ctx, &row, query, jobID, instruction, paramsJSON, domain.JobStatusPending, domain.JobStatusCompleted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobAlreadyCompleted
		}
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Info("Job recorded",
		slog.String("job_id", jobID),
		slog.String("status", row.Status),
	)

	return row.toDomain()
}

// UpdateJob sets the status, merges result into result_metadata and records
// the error message. started_at is set once on the first processing update;
// completed_at is set on completed or failed.
func (s *Storage) UpdateJob(ctx context.Context, jobID, status string, result map[string]any, errorMsg string) error {
	resultJSON, err := jsonParam(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if result == nil {
		resultJSON = sql.NullString{}
	}

	query := `
		UPDATE clippings_app.clipping_jobs
		SET status = $2::text,
		    started_at = CASE
		        WHEN $2::text = $5::text AND started_at IS NULL THEN NOW()
		        ELSE started_at
		    END,
		    completed_at = CASE
		        WHEN $2::text IN ($6::text, $7::text) THEN NOW()
		        ELSE NULL
		    END,
		    result_metadata = CASE
		        WHEN $3::jsonb IS NULL THEN result_metadata
		        ELSE COALESCE(result_metadata, '{}'::jsonb) || $3::jsonb
		    END,
		    error_message = NULLIF($4, '')
		WHERE job_id = $1
	`

	res, err := s.db.ExecContext(ctx, query,
		jobID, status, resultJSON, errorMsg,
		domain.JobStatusProcessing, domain.JobStatusCompleted, domain.JobStatusFailed,
	)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrJobNotFound
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", status),
	)
	return nil
}

// SaveResult stores the job's content and its artifacts atomically
func (s *Storage) SaveResult(ctx context.Context, jobID, title, url, content string, artifacts []domain.Artifact) error {
	uris := make(map[string]string, len(artifacts))
	for _, a := range artifacts {
		uris[a.Format] = a.URI
	}
	urisJSON, err := jsonParam(uris)
	if err != nil {
		return fmt.Errorf("failed to marshal artifact uris: %w", err)
	}

	return s.pg.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO clippings_app.clipping_results (job_id, title, url, content, artifact_uris)
			VALUES ($1, $2, $3, $4, $5::jsonb)
			ON CONFLICT (job_id) DO UPDATE
			SET title = EXCLUDED.title,
			    url = EXCLUDED.url,
			    content = EXCLUDED.content,
			    artifact_uris = EXCLUDED.artifact_uris,
			    created_at = NOW()
		`, jobID, title, url, content, urisJSON)
		if err != nil {
			return fmt.Errorf("failed to save result: %w", err)
		}

		for _, a := range artifacts {
			// artifacts are immutable once recorded
			_, err := tx.ExecContext(ctx, `
				INSERT INTO clippings_app.clipping_artifacts (job_id, format, uri, size_bytes, storage_backend)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (job_id, format) DO NOTHING
			`, jobID, a.Format, a.URI, a.SizeBytes, a.Backend)
			if err != nil {
				return fmt.Errorf("failed to save %s artifact: %w", a.Format, err)
			}
		}

		s.logger.Info("Job result saved",
			slog.String("job_id", jobID),
			slog.Int("artifacts", len(artifacts)),
		)
		return nil
	})
}

// GetJob retrieves a job by its ID
func (s *Storage) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `SELECT `+jobColumns+` FROM clippings_app.clipping_jobs WHERE job_id = $1`, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return row.toDomain()
}

// JobFilter narrows ListJobs
type JobFilter struct {
	Status   string
	PageSize int
	Cursor   *JobCursor
}

// JobCursor is the keyset position of the last row of the previous page
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// ListJobs returns up to PageSize+1 jobs, newest first; the extra row tells
// the caller whether another page exists
func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM clippings_app.clipping_jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, job_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]domain.Job, 0, len(rows))
	for i := range rows {
		job, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, nil
}

// GetResult returns the saved content of a job, or ErrJobNotFound when none exists yet
func (s *Storage) GetResult(ctx context.Context, jobID string) (*domain.ClippingResult, error) {
	var row struct {
		JobID        string         `db:"job_id"`
		Title        sql.NullString `db:"title"`
		URL          sql.NullString `db:"url"`
		Content      sql.NullString `db:"content"`
		ArtifactURIs []byte         `db:"artifact_uris"`
		CreatedAt    time.Time      `db:"created_at"`
	}

	err := s.db.GetContext(ctx, &row, `
		SELECT job_id, title, url, content, artifact_uris, created_at
		FROM clippings_app.clipping_results
		WHERE job_id = $1
	`, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get result: %w", err)
	}

	result := &domain.ClippingResult{
		JobID:     row.JobID,
		Title:     row.Title.String,
		URL:       row.URL.String,
		Content:   row.Content.String,
		CreatedAt: row.CreatedAt,
	}
	if len(row.ArtifactURIs) > 0 {
		if err := json.Unmarshal(row.ArtifactURIs, &result.ArtifactURIs); err != nil {
			return nil, fmt.Errorf("failed to decode artifact uris: %w", err)
		}
	}
	return result, nil
}

// ListArtifacts returns the artifacts recorded for a job
func (s *Storage) ListArtifacts(ctx context.Context, jobID string) ([]domain.Artifact, error) {
	var rows []struct {
		Format    string `db:"format"`
		URI       string `db:"uri"`
		SizeBytes int64  `db:"size_bytes"`
		Backend   string `db:"storage_backend"`
	}

	err := s.db.SelectContext(ctx, &rows, `
		SELECT format, uri, size_bytes, storage_backend
		FROM clippings_app.clipping_artifacts
		WHERE job_id = $1
		ORDER BY format
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}

	artifacts := make([]domain.Artifact, len(rows))
	for i, r := range rows {
		artifacts[i] = domain.Artifact{Format: r.Format, URI: r.URI, SizeBytes: r.SizeBytes, Backend: r.Backend}
	}
	return artifacts, nil
}

// Ping reports database health
func (s *Storage) Ping(ctx context.Context) error {
	return s.pg.HealthCheck(ctx)
}
