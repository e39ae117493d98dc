package webhook

import (
	"context"
	"log/slog"
	"time"
)

// DefaultRetryInterval is how often the retry worker scans for due tasks.
const DefaultRetryInterval = 30 * time.Second

// RetryWorker periodically drains the retry queue. It owns no scheduling
// beyond a ticker; the backoff table decides when each task becomes due.
type RetryWorker struct {
	dispatcher *Dispatcher
	logger     *slog.Logger
	interval   time.Duration
	stopChan   chan struct{}
	doneChan   chan struct{}
}

// RetryWorkerConfig contains configuration for the retry worker.
type RetryWorkerConfig struct {
	// Interval is how often to process the retry queue. Default: 30s.
	Interval time.Duration
}

// NewRetryWorker creates a new retry worker.
func NewRetryWorker(dispatcher *Dispatcher, logger *slog.Logger, config RetryWorkerConfig) *RetryWorker {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Interval == 0 {
		config.Interval = DefaultRetryInterval
	}
	return &RetryWorker{
		dispatcher: dispatcher,
		logger:     logger,
		interval:   config.Interval,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}
}

// Start begins periodic retry processing in a goroutine. Call Stop to halt.
func (w *RetryWorker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop halts the worker and blocks until the current pass finishes.
func (w *RetryWorker) Stop() {
	close(w.stopChan)
	<-w.doneChan
}

func (w *RetryWorker) run(ctx context.Context) {
	defer close(w.doneChan)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("starting webhook retry worker", "interval", w.interval)

	// Process immediately on start
	w.process(ctx)

	for {
		select {
		case <-ticker.C:
			w.process(ctx)
		case <-w.stopChan:
			w.logger.Info("stopping webhook retry worker")
			return
		case <-ctx.Done():
			w.logger.Info("webhook retry worker context cancelled")
			return
		}
	}
}

func (w *RetryWorker) process(ctx context.Context) {
	summary, err := w.dispatcher.ProcessRetryQueue(ctx, time.Now().UTC())
	if err != nil {
		w.logger.Error("failed to process webhook retry queue", "error", err)
		return
	}
	if summary.Processed > 0 {
		w.logger.Info("processed webhook retry queue",
			"processed", summary.Processed,
			"succeeded", summary.Succeeded,
			"rescheduled", summary.Rescheduled,
			"dropped", summary.Dropped,
		)
	}
}
