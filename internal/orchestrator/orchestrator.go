// Package orchestrator sequences one clipping job: interpret, automate,
// structure and publish, then persists the outcome and only afterwards
// notifies, recording state in the job store at each boundary.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/cuongbtq/news-clipping/internal/automation"
	"github.com/cuongbtq/news-clipping/internal/interpreter"
	"github.com/cuongbtq/news-clipping/internal/notifier"
	"github.com/cuongbtq/news-clipping/internal/publisher"
	"github.com/cuongbtq/news-clipping/internal/structurer"
	"github.com/cuongbtq/news-clipping/internal/worker/domain"
)

// Stage labels, in execution order
const (
	StageInterpret = "interpret"
	StageAutomate  = "automate"
	StageStructure = "structure"
	StagePublish   = "publish"
	StageNotify    = "notify"
)

const (
	stageOK      = "ok"
	stageSkipped = "skipped"
)

// finishTimeout bounds persisting and announcing the outcome, which run even
// when the job context is already canceled
const finishTimeout = 30 * time.Second

// JobStore persists job state
type JobStore interface {
	CreateJob(ctx context.Context, jobID, instruction string, params map[string]any) (*domain.Job, error)
	UpdateJob(ctx context.Context, jobID, status string, result map[string]any, errorMsg string) error
	SaveResult(ctx context.Context, jobID, title, url, content string, artifacts []domain.Artifact) error
}

// Interpreter resolves the instruction into a task
type Interpreter interface {
	Interpret(ctx context.Context, instruction string) *interpreter.Result
}

// Automator runs the browser task
type Automator interface {
	Run(ctx context.Context, spec automation.TaskSpec) (*automation.Result, error)
}

// Publisher writes artifacts
type Publisher interface {
	Publish(ctx context.Context, doc *publisher.Document) ([]domain.Artifact, error)
}

// Notifier reports the job outcome
type Notifier interface {
	Dispatch(ctx context.Context, n *notifier.Notification) notifier.Result
}

// Config wires the collaborators
type Config struct {
	Store       JobStore
	Interpreter Interpreter
	Automator   Automator
	Publisher   Publisher
	Notifier    Notifier
	Defaults    Defaults
	Logger      *slog.Logger
}

// Orchestrator runs jobs
type Orchestrator struct {
	store       JobStore
	interpreter Interpreter
	automator   Automator
	publisher   Publisher
	notifier    Notifier
	defaults    Defaults
	logger      *slog.Logger

	stages []stage
}

type stage struct {
	name  string
	ready func(ec *ExecutionContext) bool
	run   func(ctx context.Context, ec *ExecutionContext, log *slog.Logger) error
}

// New creates an Orchestrator
func New(cfg *Config) *Orchestrator {
	o := &Orchestrator{
		store:       cfg.Store,
		interpreter: cfg.Interpreter,
		automator:   cfg.Automator,
		publisher:   cfg.Publisher,
		notifier:    cfg.Notifier,
		defaults:    cfg.Defaults,
		logger:      cfg.Logger,
	}
	o.stages = []stage{
		{name: StageInterpret, ready: always, run: o.interpret},
		{name: StageAutomate, ready: hasURL, run: o.automate},
		{name: StageStructure, ready: hasContent, run: o.structure},
		{name: StagePublish, ready: canPublish, run: o.publish},
	}
	return o
}

func always(*ExecutionContext) bool { return true }

func hasURL(ec *ExecutionContext) bool { return ec.failure == nil && ec.URL != "" }

func hasContent(ec *ExecutionContext) bool { return ec.failure == nil && ec.Content != "" }

func canPublish(ec *ExecutionContext) bool {
	return ec.failure == nil && (ec.Content != "" || ec.items() > 0)
}

// Process runs one job. msg.JobID must already be resolved. The returned error
// is nil when the job completed; otherwise the job has been recorded as failed
// and the error tells the caller whether redelivery can help.
func (o *Orchestrator) Process(ctx context.Context, msg domain.TaskMessage) error {
	log := o.logger.With(slog.String("job_id", msg.JobID))

	if _, err := o.store.CreateJob(ctx, msg.JobID, msg.Instruction, msg.Parameters); err != nil {
		if errors.Is(err, domain.ErrJobAlreadyCompleted) {
			return err
		}
		return domain.NewRetryableError(fmt.Errorf("failed to create job: %w", err))
	}

	if err := o.store.UpdateJob(ctx, msg.JobID, domain.JobStatusProcessing, nil, ""); err != nil {
		return domain.NewRetryableError(fmt.Errorf("failed to mark job processing: %w", err))
	}

	log.Info("Processing job", slog.String("instruction", truncate(msg.Instruction, 120)))

	ec := newExecutionContext(msg)
	for _, s := range o.stages {
		if !s.ready(ec) {
			ec.Stages[s.name] = stageSkipped
			log.Debug("Stage skipped", slog.String("stage", s.name))
			continue
		}

		started := time.Now()
		err := o.runStage(ctx, s, ec, log)
		if err != nil {
			ec.Stages[s.name] = "error: " + err.Error()
			if ec.failure == nil {
				ec.failure = err
			}
			log.Error("Stage failed", slog.String("stage", s.name), slog.Any("error", err))
			continue
		}
		ec.Stages[s.name] = stageOK
		log.Info("Stage finished", slog.String("stage", s.name), slog.Duration("duration", time.Since(started)))
	}

	finish, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	var err error
	if ec.failure != nil {
		err = o.fail(finish, ec, log)
	} else {
		err = o.complete(finish, ec, log)
	}

	// an interrupted job goes back to the queue, so there is nothing to announce yet
	if ec.failure != nil && ctx.Err() != nil {
		ec.Stages[StageNotify] = stageSkipped
		return err
	}
	o.announce(finish, ec, log)
	return err
}

// announce notifies the persisted outcome and records the delivery report
func (o *Orchestrator) announce(ctx context.Context, ec *ExecutionContext, log *slog.Logger) {
	s := stage{name: StageNotify, run: o.notify}
	if err := o.runStage(ctx, s, ec, log); err != nil {
		ec.Stages[StageNotify] = "error: " + err.Error()
		log.Error("Stage failed", slog.String("stage", StageNotify), slog.Any("error", err))
	} else {
		ec.Stages[StageNotify] = stageOK
	}

	status, errorMsg := domain.JobStatusCompleted, ""
	if ec.failure != nil {
		status, errorMsg = domain.JobStatusFailed, ec.failure.Error()
	}
	if err := o.store.UpdateJob(ctx, ec.JobID, status, ec.metadata(), errorMsg); err != nil {
		log.Warn("Failed to record notification report", slog.Any("error", err))
	}
}

func (o *Orchestrator) runStage(ctx context.Context, s stage, ec *ExecutionContext, log *slog.Logger) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("stage %s panicked: %v", s.name, p)
		}
	}()
	return s.run(ctx, ec, log)
}

func (o *Orchestrator) interpret(ctx context.Context, ec *ExecutionContext, log *slog.Logger) error {
	res := o.interpreter.Interpret(ctx, ec.Instruction)
	ec.Task = res.Task
	if res.Usage != nil {
		ec.Usage = append(ec.Usage, *res.Usage)
	}

	// message parameters win over interpreted ones
	maps.Copy(ec.Parameters, res.Task.Parameters)
	maps.Copy(ec.Parameters, ec.messageParams)

	ec.URL = strings.TrimSpace(res.Task.URL)
	if u := stringParam(ec.Parameters, "", "url"); u != "" {
		ec.URL = u
	}

	log.Info("Instruction interpreted",
		slog.String("url", ec.URL),
		slog.String("tipo", ec.Task.Type),
		slog.String("source", ec.Task.Source),
	)

	if ec.URL == "" {
		return domain.NewPermanentError(domain.ErrMissingURL)
	}

	ec.Spec = buildSpec(ec, o.defaults)
	if err := o.store.UpdateJob(ctx, ec.JobID, domain.JobStatusProcessing, map[string]any{
		"url":            ec.URL,
		"tipo":           ec.Task.Type,
		"interpretation": ec.Task.Source,
	}, ""); err != nil {
		log.Warn("Failed to record interpretation", slog.Any("error", err))
	}
	return nil
}

func (o *Orchestrator) automate(ctx context.Context, ec *ExecutionContext, log *slog.Logger) error {
	result, err := o.automator.Run(ctx, ec.Spec)
	ec.Automation = result
	if result != nil {
		ec.Usage = append(ec.Usage, result.Usage)
	}
	if err != nil {
		ec.AutomationErr = err
		if errors.Is(err, automation.ErrInvalidTask) {
			return domain.NewPermanentError(err)
		}
		return err
	}

	ec.Content = result.Payload
	log.Info("Automation finished",
		slog.String("outcome", string(result.Outcome)),
		slog.Int("steps", len(result.Steps)),
		slog.Int("attempts", len(result.Attempts)),
	)
	return nil
}

func (o *Orchestrator) structure(_ context.Context, ec *ExecutionContext, log *slog.Logger) error {
	ec.Structured = structurer.Structure(ec.Content)
	log.Info("Result structured",
		slog.Int("items", len(ec.Structured.Items)),
		slog.String("source", ec.Structured.Source),
		slog.Bool("extraction_failed", ec.Structured.ExtractionFailed),
	)
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, ec *ExecutionContext, log *slog.Logger) error {
	doc := &publisher.Document{
		JobID:       ec.JobID,
		URL:         ec.URL,
		Client:      ec.Spec.Client,
		GeneratedAt: time.Now().UTC(),
		Content:     ec.Content,
		Result:      ec.Structured,
	}
	if ec.Automation != nil {
		doc.Outcome = string(ec.Automation.Outcome)
	}

	artifacts, err := o.publisher.Publish(ctx, doc)
	ec.Artifacts = artifacts
	if err != nil {
		// storage problems never fail the job
		log.Warn("Some artifacts could not be published", slog.Any("error", err))
	}
	return nil
}

func (o *Orchestrator) notify(ctx context.Context, ec *ExecutionContext, log *slog.Logger) error {
	n := &notifier.Notification{
		JobID:      ec.JobID,
		Client:     ec.Spec.Client,
		Status:     domain.JobStatusCompleted,
		URL:        ec.URL,
		Items:      ec.items(),
		Artifacts:  ec.Artifacts,
		Recipients: listParam(ec.Parameters, nil, "email_destinatarios", "recipients"),
	}
	if n.Client == "" {
		n.Client = o.defaults.Client
	}
	if ec.Automation != nil {
		n.Outcome = string(ec.Automation.Outcome)
	}
	if ec.Structured != nil {
		n.Summary = ec.Structured.Summary()
	}
	if ec.failure != nil {
		n.Status = domain.JobStatusFailed
		n.Error = ec.failure.Error()
	}

	result := o.notifier.Dispatch(ctx, n)
	ec.Notification = &result
	log.Info("Notifications dispatched", slog.String("status", result.Status))
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, ec *ExecutionContext, log *slog.Logger) error {
	if err := o.store.UpdateJob(ctx, ec.JobID, domain.JobStatusFailed, ec.metadata(), ec.failure.Error()); err != nil {
		log.Error("Failed to mark job failed", slog.Any("error", err))
	}
	log.Error("Job failed", slog.Any("error", ec.failure))
	return fmt.Errorf("job %s failed: %w", ec.JobID, ec.failure)
}

func (o *Orchestrator) complete(ctx context.Context, ec *ExecutionContext, log *slog.Logger) error {
	client := ec.Spec.Client
	if client == "" {
		client = o.defaults.Client
	}
	title := fmt.Sprintf("Clipping %s - %s", client, ec.JobID)

	if err := o.store.SaveResult(ctx, ec.JobID, title, ec.URL, ec.Content, ec.Artifacts); err != nil {
		return o.persistFailure(ctx, ec, log, fmt.Errorf("failed to save result: %w", err))
	}
	if err := o.store.UpdateJob(ctx, ec.JobID, domain.JobStatusCompleted, ec.metadata(), ""); err != nil {
		return o.persistFailure(ctx, ec, log, fmt.Errorf("failed to mark job completed: %w", err))
	}

	log.Info("Job completed",
		slog.Int("items", ec.items()),
		slog.Int("artifacts", len(ec.Artifacts)),
		slog.Duration("duration", time.Since(ec.started)),
	)
	return nil
}

// persistFailure records a store error that happened after the pipeline ran
func (o *Orchestrator) persistFailure(ctx context.Context, ec *ExecutionContext, log *slog.Logger, err error) error {
	ec.failure = err
	if uerr := o.store.UpdateJob(ctx, ec.JobID, domain.JobStatusFailed, ec.metadata(), err.Error()); uerr != nil {
		log.Error("Failed to mark job failed", slog.Any("error", uerr))
	}
	return domain.NewRetryableError(err)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
