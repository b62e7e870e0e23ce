package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/cuongbtq/news-clipping/internal/worker/domain"
	"github.com/cuongbtq/news-clipping/internal/worker/storage"
	"github.com/cuongbtq/news-clipping/shared/logger"
	"github.com/cuongbtq/news-clipping/shared/postgresql"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupStorage spins up a Postgres container, runs the embedded migrations and returns a Storage.
func setupStorage(t *testing.T) *storage.Storage {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("clippings_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	log := logger.Discard()
	require.NoError(t, storage.Migrate(connStr, log))
	// second run is a no-op
	require.NoError(t, storage.Migrate(connStr, log))

	db, err := sqlx.Connect("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return storage.NewStorage(postgresql.NewFromDB(db, log), log)
}

func TestStorage_JobLifecycle(t *testing.T) {
	s := setupStorage(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "job_0123456789ab", "Colete notícias sobre Lear", map[string]any{"cliente": "LEAR"})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, "LEAR", job.Parameters["cliente"])
	assert.Nil(t, job.StartedAt)

	require.NoError(t, s.UpdateJob(ctx, job.JobID, domain.JobStatusProcessing, nil, ""))
	got, err := s.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	require.NotNil(t, got.StartedAt)
	firstStart := *got.StartedAt
	assert.Nil(t, got.CompletedAt)

	require.NoError(t, s.UpdateJob(ctx, job.JobID, domain.JobStatusProcessing, map[string]any{"url": "https://example.com/"}, ""))
	require.NoError(t, s.UpdateJob(ctx, job.JobID, domain.JobStatusCompleted, map[string]any{"items": float64(2)}, ""))

	got, err = s.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Equal(t, firstStart, *got.StartedAt, "started_at is set only once")
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, "https://example.com/", got.ResultMetadata["url"], "result metadata is merged")
	assert.Equal(t, float64(2), got.ResultMetadata["items"])

	_, err = s.CreateJob(ctx, job.JobID, "again", nil)
	assert.ErrorIs(t, err, domain.ErrJobAlreadyCompleted)
}

func TestStorage_RedeliveryResetsFailedJob(t *testing.T) {
	s := setupStorage(t)
	ctx := context.Background()

	_, err := s.CreateJob(ctx, "job_failed00001", "instr", nil)
	require.NoError(t, err)
	require.NoError(t, s.UpdateJob(ctx, "job_failed00001", domain.JobStatusFailed, nil, "backend down"))

	job, err := s.CreateJob(ctx, "job_failed00001", "instr", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Empty(t, job.ErrorMessage)
	assert.Nil(t, job.CompletedAt)
}

func TestStorage_UpdateUnknownJob(t *testing.T) {
	s := setupStorage(t)

	err := s.UpdateJob(context.Background(), "missing", domain.JobStatusFailed, nil, "x")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	_, err = s.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestStorage_SaveResultAndArtifacts(t *testing.T) {
	s := setupStorage(t)
	ctx := context.Background()

	_, err := s.CreateJob(ctx, "job_result00001", "instr", nil)
	require.NoError(t, err)

	artifacts := []domain.Artifact{
		{Format: domain.FormatJSON, URI: "s3://clippings/job_result00001.json", SizeBytes: 120, Backend: domain.BackendObjectStore},
		{Format: domain.FormatMarkdown, URI: "file:///tmp/job_result00001.md", SizeBytes: 80, Backend: domain.BackendLocal},
	}
	require.NoError(t, s.SaveResult(ctx, "job_result00001", "Clipping LEAR", "https://example.com/", "content", artifacts))

	result, err := s.GetResult(ctx, "job_result00001")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/", result.URL)
	assert.Equal(t, "s3://clippings/job_result00001.json", result.ArtifactURIs[domain.FormatJSON])

	stored, err := s.ListArtifacts(ctx, "job_result00001")
	require.NoError(t, err)
	assert.ElementsMatch(t, artifacts, stored)
}

func TestStorage_ListJobsPagination(t *testing.T) {
	s := setupStorage(t)
	ctx := context.Background()

	for _, id := range []string{"job_a", "job_b", "job_c"} {
		_, err := s.CreateJob(ctx, id, "instr", nil)
		require.NoError(t, err)
	}
	require.NoError(t, s.UpdateJob(ctx, "job_b", domain.JobStatusFailed, nil, "boom"))

	page, err := s.ListJobs(ctx, storage.JobFilter{PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, page, 3, "one extra row signals another page")

	last := page[1]
	next, err := s.ListJobs(ctx, storage.JobFilter{
		PageSize: 2,
		Cursor:   &storage.JobCursor{CreatedAt: last.CreatedAt, JobID: last.JobID},
	})
	require.NoError(t, err)
	assert.Len(t, next, 1)

	failed, err := s.ListJobs(ctx, storage.JobFilter{Status: domain.JobStatusFailed, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "boom", failed[0].ErrorMessage)
}
