package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cuongbtq/news-clipping/internal/worker/domain"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// setupConsumer starts consuming with QoS bounded by the prefetch count
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	deliveries, err := w.consumer.Consume(w.workerID, w.prefetchCount)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", w.workerID),
		slog.Int("prefetch_count", w.prefetchCount),
	)
	return deliveries, nil
}

// startMessageDispatcher decodes deliveries and hands them to the pool
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	w.logger.Info("Message dispatcher started", slog.String("worker_id", w.workerID))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return ErrDeliveriesClosed
			}

			msg, err := w.decodeTask(delivery)
			if err != nil {
				w.logger.Error("Rejecting undecodable message",
					slog.String("message_id", delivery.MessageId),
					slog.Any("error", err),
					slog.String("body", truncate(string(delivery.Body), 256)),
				)
				w.nack(delivery, false, "", nil)
				continue
			}

			select {
			case w.jobsChan <- &job{msg: msg, delivery: delivery}:
				w.logger.Debug("Job dispatched to worker pool",
					slog.String("job_id", msg.JobID),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
			case <-ctx.Done():
				w.logger.Info("Message dispatcher stopped while dispatching job")
				w.nack(delivery, true, msg.JobID, nil)
				return nil
			}
		}
	}
}

// decodeTask parses and validates a delivery, resolving the job id
func (w *Worker) decodeTask(d amqp.Delivery) (domain.TaskMessage, error) {
	var msg domain.TaskMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		return msg, fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
	}

	msg.Instruction = strings.TrimSpace(msg.Instruction)
	msg.JobID = strings.TrimSpace(msg.JobID)
	if err := w.validate.Struct(msg); err != nil {
		return msg, fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
	}

	if msg.JobID == "" {
		msg.JobID = resolveJobID(d)
	}
	return msg, nil
}

// resolveJobID uses the AMQP message id, else mints a fresh id. Identical
// bodies are distinct submissions, so the body never names the job.
func resolveJobID(d amqp.Delivery) string {
	if id := strings.TrimSpace(d.MessageId); id != "" {
		return id
	}
	return "job_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// truncate cuts s to n runes
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
