// Package worker consumes clipping tasks from RabbitMQ and runs them through
// the orchestrator on a bounded pool of goroutines.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/news-clipping/internal/worker/domain"
	"github.com/go-playground/validator/v10"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrDeliveriesClosed is returned by Start when the broker closes the delivery channel
var ErrDeliveriesClosed = errors.New("rabbitmq delivery channel closed")

// Consumer is the queue side of the RabbitMQ client
type Consumer interface {
	Consume(consumerTag string, prefetch int) (<-chan amqp.Delivery, error)
}

// Processor runs one decoded task
type Processor interface {
	Process(ctx context.Context, msg domain.TaskMessage) error
}

// Config holds worker configuration
type Config struct {
	Logger          *slog.Logger
	Consumer        Consumer
	Processor       Processor
	Counter         DeliveryCounter
	WorkerID        string
	Concurrency     int
	PrefetchCount   int
	MaxRedeliveries int
	ShutdownTimeout time.Duration
}

// Worker represents the background job worker
type Worker struct {
	logger          *slog.Logger
	consumer        Consumer
	processor       Processor
	counter         DeliveryCounter
	validate        *validator.Validate
	workerID        string
	concurrency     int
	prefetchCount   int
	maxRedeliveries int
	shutdownTimeout time.Duration

	jobsChan   chan *job
	wg         sync.WaitGroup
	stopChan   chan struct{}
	stopOnce   sync.Once
	jobCtx     context.Context
	cancelJobs context.CancelFunc
}

// job is one decoded delivery waiting for a pool slot
type job struct {
	msg      domain.TaskMessage
	delivery amqp.Delivery
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}
	counter := cfg.Counter
	if counter == nil {
		counter = NewMemoryCounter()
	}
	maxRedeliveries := cfg.MaxRedeliveries
	if maxRedeliveries <= 0 {
		maxRedeliveries = 5
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	return &Worker{
		logger:          cfg.Logger,
		consumer:        cfg.Consumer,
		processor:       cfg.Processor,
		counter:         counter,
		validate:        validator.New(),
		workerID:        cfg.WorkerID,
		concurrency:     concurrency,
		prefetchCount:   prefetch,
		maxRedeliveries: maxRedeliveries,
		shutdownTimeout: cfg.ShutdownTimeout,
		jobsChan:        make(chan *job),
		stopChan:        make(chan struct{}),
		jobCtx:          jobCtx,
		cancelJobs:      cancel,
	}
}

// Start consumes until ctx is canceled or the broker closes the deliveries
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Int("max_redeliveries", w.maxRedeliveries),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	w.spawnWorkerPool()
	return w.startMessageDispatcher(ctx, deliveries)
}

// Stop lets in-flight jobs finish. Jobs still running after the shutdown
// timeout are canceled, which closes their browser sessions.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping worker...")
		close(w.stopChan)

		done := make(chan struct{})
		go func() {
			w.wg.Wait()
			close(done)
		}()

		if w.shutdownTimeout > 0 {
			select {
			case <-done:
			case <-time.After(w.shutdownTimeout):
				w.logger.Warn("In-flight jobs did not finish in time, canceling",
					slog.Duration("shutdown_timeout", w.shutdownTimeout),
				)
				w.cancelJobs()
				<-done
			}
		} else {
			<-done
		}

		w.cancelJobs()
		w.logger.Info("Worker stopped")
	})
}
