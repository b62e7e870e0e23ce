package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/news-clipping/internal/worker/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// settleTimeout bounds counter calls made while settling a delivery
const settleTimeout = 5 * time.Second

// settle acknowledges the delivery according to the processing result.
// Completed jobs are acked, permanent failures and jobs over the redelivery
// ceiling are dead-lettered, everything else is requeued. A job cut short by
// shutdown is requeued without counting against the ceiling.
func (w *Worker) settle(j *job, err error, log *slog.Logger) {
	// job cancellation must not abort the bookkeeping for that job
	ctx, cancel := context.WithTimeout(context.WithoutCancel(w.jobCtx), settleTimeout)
	defer cancel()
	jobID := j.msg.JobID

	switch {
	case err == nil:
		if rerr := w.counter.Reset(ctx, jobID); rerr != nil {
			log.Warn("Failed to reset delivery counter", slog.Any("error", rerr))
		}
		w.ack(j.delivery, log)
		log.Info("Job completed successfully")

	case errors.Is(err, domain.ErrJobAlreadyCompleted):
		log.Warn("Redelivered message for a completed job, acknowledging")
		w.ack(j.delivery, log)

	case domain.IsPermanent(err):
		log.Error("Job failed permanently, dead-lettering", slog.Any("error", err))
		w.nack(j.delivery, false, jobID, log)

	case w.jobCtx.Err() != nil:
		log.Warn("Job interrupted by shutdown, requeueing", slog.Any("error", err))
		w.nack(j.delivery, true, jobID, log)

	default:
		requeue := w.shouldRequeue(ctx, j, log)
		log.Error("Job processing failed",
			slog.Any("error", err),
			slog.Bool("requeue", requeue),
		)
		w.nack(j.delivery, requeue, jobID, log)
	}
}

// shouldRequeue counts the failure and reports whether the job is still under the ceiling
func (w *Worker) shouldRequeue(ctx context.Context, j *job, log *slog.Logger) bool {
	failures, err := w.counter.Increment(ctx, j.msg.JobID)
	if err != nil {
		// without a count, allow a single redelivery
		log.Warn("Delivery counter unavailable", slog.Any("error", err))
		return !j.delivery.Redelivered
	}

	if failures >= int64(w.maxRedeliveries) {
		log.Warn("Job exceeded max redeliveries",
			slog.Int64("failures", failures),
			slog.Int("max_redeliveries", w.maxRedeliveries),
		)
		return false
	}
	return true
}

func (w *Worker) ack(d amqp.Delivery, log *slog.Logger) {
	if err := d.Ack(false); err != nil {
		log.Error("Failed to ACK message", slog.Any("error", err))
	}
}

func (w *Worker) nack(d amqp.Delivery, requeue bool, jobID string, log *slog.Logger) {
	if log == nil {
		log = w.logger
	}
	if err := d.Nack(false, requeue); err != nil {
		log.Error("Failed to NACK message", slog.String("job_id", jobID), slog.Any("error", err))
		return
	}
	log.Info("Message NACKed", slog.Bool("requeue", requeue))
}
