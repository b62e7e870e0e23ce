package automation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/news-clipping/internal/worker/domain"
)

const progressBuffer = 64

// Config bounds retries, attempt duration and step budget
type Config struct {
	MaxAttempts      int
	Backoff          []time.Duration
	AttemptTimeout   time.Duration
	MaxSteps         int
	ProgressInterval time.Duration
	ObserverGrace    time.Duration
	AllowedDomains   []string
}

// Runner executes automation attempts: Connecting -> Running -> resolved outcome,
// retrying connection-level failures with backoff
type Runner struct {
	backend Backend
	engine  Engine
	cfg     Config
	logger  *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewRunner creates a Runner
func NewRunner(backend Backend, engine Engine, cfg Config, logger *slog.Logger) *Runner {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 30 * time.Second
	}
	if cfg.ObserverGrace <= 0 {
		cfg.ObserverGrace = 5 * time.Second
	}
	return &Runner{
		backend: backend,
		engine:  engine,
		cfg:     cfg,
		logger:  logger,
		sleep:   sleepContext,
	}
}

// backoffFor returns the delay before retry number retry (0-based), capped at the last entry
func (r *Runner) backoffFor(retry int) time.Duration {
	if len(r.cfg.Backoff) == 0 {
		return 0
	}
	if retry >= len(r.cfg.Backoff) {
		return r.cfg.Backoff[len(r.cfg.Backoff)-1]
	}
	return r.cfg.Backoff[retry]
}

// Run executes the task. Success, partial and timeout outcomes return a nil
// error with the salvaged payload. Exhausted retries return *ExhaustedError.
func (r *Runner) Run(ctx context.Context, spec TaskSpec) (*Result, error) {
	if err := spec.Validate(r.cfg.AllowedDomains); err != nil {
		return nil, err
	}
	if r.cfg.MaxSteps <= 0 || r.cfg.AttemptTimeout <= 0 {
		return nil, fmt.Errorf("%w: step budget and attempt timeout must be positive", ErrInvalidTask)
	}

	task := spec.Render()
	log := r.logger.With(slog.String("url", spec.URL))
	result := &Result{Usage: domain.Usage{Component: "browser_agent"}}
	var messages []string

	for n := 1; n <= r.cfg.MaxAttempts; n++ {
		if n > 1 {
			delay := r.backoffFor(n - 2)
			log.Info("Retrying automation after backoff",
				slog.Int("attempt", n),
				slog.Duration("delay", delay),
			)
			if err := r.sleep(ctx, delay); err != nil {
				result.Outcome = OutcomeFailed
				return result, fmt.Errorf("automation retry canceled: %w", err)
			}
		}

		a, usage := r.attempt(ctx, n, task, log.With(slog.Int("attempt", n)))
		result.Attempts = append(result.Attempts, a)
		result.Usage.Add(usage)
		if usage.Model != "" {
			result.Usage.Model = usage.Model
		}

		if a.Outcome.HasPayload() {
			result.Outcome = a.Outcome
			result.Payload = a.FinalPayload
			result.Steps = a.Steps
			log.Info("Automation finished",
				slog.String("outcome", string(a.Outcome)),
				slog.Int("steps", len(a.Steps)),
				slog.Int("attempts", n),
			)
			return result, nil
		}

		messages = append(messages, fmt.Sprintf("attempt %d: %s", n, a.Error))

		if !a.retryable {
			result.Outcome = a.Outcome
			return result, fmt.Errorf("%w: %s", ErrAutomationFailed, a.Error)
		}
		if ctx.Err() != nil {
			result.Outcome = OutcomeFailed
			return result, fmt.Errorf("automation canceled: %w", ctx.Err())
		}

		log.Warn("Automation attempt failed",
			slog.String("outcome", string(a.Outcome)),
			slog.String("error", a.Error),
		)
	}

	result.Outcome = OutcomeExhausted
	return result, &ExhaustedError{Messages: messages}
}

// attempt runs one session with its watchdog and progress observer
func (r *Runner) attempt(ctx context.Context, n int, task string, log *slog.Logger) (a Attempt, usage domain.Usage) {
	a = Attempt{Number: n, StartedAt: time.Now()}
	defer func() { a.Duration = time.Since(a.StartedAt) }()

	// Connecting: probe over HTTP before any handshake, re-acquiring the endpoint every attempt
	if err := r.backend.Health(ctx); err != nil {
		connectionFailure(&a, "probe", err)
		return a, usage
	}

	endpoint, err := r.backend.AcquireEndpoint(ctx)
	if err != nil {
		connectionFailure(&a, "acquire endpoint", err)
		return a, usage
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	session, err := r.engine.Open(attemptCtx, endpoint)
	if err != nil {
		connectionFailure(&a, "handshake", err)
		return a, usage
	}

	var releaseOnce sync.Once
	release := func() {
		releaseOnce.Do(func() {
			defer func() {
				if p := recover(); p != nil {
					log.Error("Browser session release panicked", slog.Any("panic", p))
				}
			}()
			if err := session.Close(); err != nil {
				log.Warn("Failed to release browser session", slog.Any("error", err))
			}
		})
	}
	defer release()

	// Running
	done := make(chan struct{})
	progress := make(chan Step, progressBuffer)
	var fired atomic.Bool
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.watchdog(done, &fired, cancel, release, log)
	}()
	go func() {
		defer wg.Done()
		r.observe(done, progress, a.StartedAt, log)
	}()

	log.Info("Automation attempt started", slog.Int("max_steps", r.cfg.MaxSteps))

	var steps []Step
	final, runErr := session.Run(attemptCtx, task, r.cfg.MaxSteps, func(s Step) {
		steps = append(steps, s)
		select {
		case progress <- s:
		default:
		}
	})

	close(done)
	r.awaitObservers(&wg, log)
	usage = session.Usage()

	a.Steps = steps
	resolve(&a, final, runErr, fired.Load(), ctx.Err(), r.cfg.AttemptTimeout)
	return a, usage
}

func connectionFailure(a *Attempt, op string, err error) {
	a.Outcome = OutcomeConnectionError
	a.Error = (&ConnectionError{Op: op, Err: err}).Error()
	a.retryable = true
}

// resolve maps what the session produced onto an outcome
func resolve(a *Attempt, final string, runErr error, fired bool, parentErr error, timeout time.Duration) {
	switch {
	case strings.TrimSpace(final) != "":
		a.Outcome = OutcomeSuccess
		a.FinalPayload = final

	case parentErr != nil && !fired:
		a.Outcome = OutcomeFailed
		a.Error = "canceled: " + parentErr.Error()

	case fired && len(a.Steps) > 0:
		a.Outcome = OutcomeTimeout
		a.FinalPayload = summarizeSteps(a.Steps)
		a.Error = fmt.Sprintf("watchdog fired after %s", timeout)

	case fired:
		a.Outcome = OutcomeFailed
		a.Error = fmt.Sprintf("watchdog fired after %s with no recorded steps", timeout)
		a.retryable = true

	case len(a.Steps) > 0:
		a.Outcome = OutcomePartial
		a.FinalPayload = summarizeSteps(a.Steps)
		if runErr != nil {
			a.Error = runErr.Error()
		}

	case IsRetryable(runErr):
		a.Outcome = OutcomeConnectionError
		a.Error = runErr.Error()
		a.retryable = true

	case runErr != nil:
		a.Outcome = OutcomeFailed
		a.Error = runErr.Error()

	default:
		a.Outcome = OutcomeFailed
		a.Error = "session finished without recording any step"
	}
}

// watchdog closes the session and cancels the attempt when the timeout elapses
func (r *Runner) watchdog(done <-chan struct{}, fired *atomic.Bool, cancel context.CancelFunc, release func(), log *slog.Logger) {
	timer := time.NewTimer(r.cfg.AttemptTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		fired.Store(true)
		log.Warn("Automation attempt timed out, closing browser session",
			slog.Duration("timeout", r.cfg.AttemptTimeout),
		)
		release()
		cancel()
	}
}

// observe reports progress from step events. It keeps its own counters and
// never touches the attempt's history.
func (r *Runner) observe(done <-chan struct{}, progress <-chan Step, started time.Time, log *slog.Logger) {
	ticker := time.NewTicker(r.cfg.ProgressInterval)
	defer ticker.Stop()

	var count int
	var last Step
	for {
		select {
		case <-done:
			return
		case s := <-progress:
			count++
			last = s
		case <-ticker.C:
			log.Info("Automation progress",
				slog.Int("steps", count),
				slog.String("last_action", last.Action),
				slog.Duration("elapsed", time.Since(started)),
			)
		}
	}
}

func (r *Runner) awaitObservers(wg *sync.WaitGroup, log *slog.Logger) {
	stopped := make(chan struct{})
	go func() {
		wg.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(r.cfg.ObserverGrace):
		log.Warn("Automation observers did not stop within grace period",
			slog.Duration("grace", r.cfg.ObserverGrace),
		)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
