package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/news-clipping/internal/worker/domain"
	"github.com/cuongbtq/news-clipping/shared/rabbitmq"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

const publishTimeout = 30 * time.Second

// Publisher enqueues task messages
type Publisher interface {
	PublishWithRetry(ctx context.Context, msg rabbitmq.Message) error
}

// Config holds the schedule and the task it produces
type Config struct {
	Spec        string
	Timezone    string
	Instruction string
	Parameters  map[string]any
	Publisher   Publisher
	Logger      *slog.Logger
}

// Scheduler publishes one clipping task per cron tick
type Scheduler struct {
	cron        *cron.Cron
	entry       cron.EntryID
	loc         *time.Location
	instruction string
	parameters  map[string]any
	publisher   Publisher
	logger      *slog.Logger

	now func() time.Time
}

// New parses the schedule in the configured timezone
func New(cfg Config) (*Scheduler, error) {
	if cfg.Instruction == "" {
		return nil, fmt.Errorf("scheduler instruction is required")
	}

	loc := time.UTC
	if cfg.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
		}
	}

	s := &Scheduler{
		cron:        cron.New(cron.WithLocation(loc)),
		loc:         loc,
		instruction: cfg.Instruction,
		parameters:  cfg.Parameters,
		publisher:   cfg.Publisher,
		logger:      cfg.Logger,
		now:         time.Now,
	}

	entry, err := s.cron.AddFunc(cfg.Spec, s.tick)
	if err != nil {
		return nil, fmt.Errorf("invalid cron spec %q: %w", cfg.Spec, err)
	}
	s.entry = entry

	return s, nil
}

// Start runs the cron loop in the background
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started",
		slog.String("timezone", s.loc.String()),
		slog.Time("next_run", s.Next()),
	)
}

// Stop halts scheduling and waits for a running tick up to ctx
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("Scheduler stopped")
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out while a tick was publishing")
	}
}

// Next returns the next scheduled run, zero before Start
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// Trigger publishes one task immediately
func (s *Scheduler) Trigger(ctx context.Context) error {
	jobID := "job_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	body, err := json.Marshal(domain.TaskMessage{
		JobID:       jobID,
		Instruction: s.instruction,
		Parameters:  s.parameters,
		CreatedAt:   s.now().In(s.loc).Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to encode task message: %w", err)
	}

	// the message id pins the job id across redeliveries
	msg := rabbitmq.Message{ID: jobID, Body: body, ContentType: "application/json"}
	if err := s.publisher.PublishWithRetry(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish scheduled task: %w", err)
	}
	return nil
}

func (s *Scheduler) tick() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Scheduled tick panicked", slog.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := s.Trigger(ctx); err != nil {
		s.logger.Error("Scheduled task was not published", slog.String("error", err.Error()))
		return
	}
	s.logger.Info("Scheduled task published", slog.Time("next_run", s.Next()))
}
