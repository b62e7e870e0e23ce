package worker

import (
	"fmt"
	"log/slog"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool() {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(i)
	}
}

// workerLoop is the main processing loop for each worker goroutine
func (w *Worker) workerLoop(workerNum int) {
	defer w.wg.Done()

	slot := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Debug("Worker goroutine started", slog.String("worker_name", slot))

	for {
		select {
		case <-w.stopChan:
			w.logger.Debug("Worker goroutine stopping - stopChan closed", slog.String("worker_name", slot))
			return

		case j := <-w.jobsChan:
			log := w.logger.With(
				slog.String("job_id", j.msg.JobID),
				slog.String("worker_name", slot),
			)
			log.Info("Worker received job", slog.Uint64("delivery_tag", j.delivery.DeliveryTag))

			err := w.processJob(j)
			w.settle(j, err, log)
		}
	}
}

// processJob runs the job, turning a panic into an error so the delivery is still settled
func (w *Worker) processJob(j *job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panicked: %v", p)
		}
	}()
	return w.processor.Process(w.jobCtx, j.msg)
}
