package app

import (
	"context"
	"time"

	"docflow/api/internal/queue"
	"go.uber.org/zap"
)

type jobSource interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Delivery, error)
	Ack(ctx context.Context, d *queue.Delivery) error
	Recover(ctx context.Context) (int, error)
}

type jobHandler interface {
	HandleJob(ctx context.Context, job queue.Job) error
}

// Worker consumes background jobs until its context is cancelled. Every
// delivery is acked after one attempt; failures are only logged.
type Worker struct {
	source      jobSource
	handler     jobHandler
	logger      *zap.Logger
	pollTimeout time.Duration
	retryDelay  time.Duration
}

func NewWorker(source jobSource, handler jobHandler, logger *zap.Logger, pollTimeout time.Duration) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pollTimeout <= 0 {
		pollTimeout = 5 * time.Second
	}
	return &Worker{
		source:      source,
		handler:     handler,
		logger:      logger.With(zap.String("component", "worker")),
		pollTimeout: pollTimeout,
		retryDelay:  time.Second,
	}
}

func (w *Worker) Run(ctx context.Context) error {
	moved, err := w.source.Recover(ctx)
	if err != nil {
		w.logger.Warn("recover unacked jobs", zap.Error(err))
	} else if moved > 0 {
		w.logger.Info("re-queued unacked jobs", zap.Int("count", moved))
	}

	w.logger.Info("worker started", zap.Duration("poll_timeout", w.pollTimeout))
	for {
		if ctx.Err() != nil {
			w.logger.Info("worker stopped")
			return nil
		}

		d, err := w.source.Dequeue(ctx, w.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Error("dequeue job", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(w.retryDelay):
			}
			continue
		}
		if d == nil {
			continue
		}
		w.process(ctx, d)
	}
}

func (w *Worker) process(ctx context.Context, d *queue.Delivery) {
	logger := w.logger.With(zap.String("job", d.Job.Name), zap.Int64("document_id", d.Job.DocumentID))
	started := time.Now()

	if err := w.handler.HandleJob(ctx, d.Job); err != nil {
		logger.Error("job failed", zap.Error(err))
	} else {
		logger.Debug("job done", zap.Duration("elapsed", time.Since(started)))
	}

	// The ack must land even when shutdown cancelled ctx mid-job.
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := w.source.Ack(ackCtx, d); err != nil {
		logger.Warn("ack job", zap.Error(err))
	}
}
