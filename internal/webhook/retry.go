package webhook

import (
	"context"
	"errors"
	"sync"
	"time"
)

// retryBackoff maps retry count to the delay before the next attempt.
// A deterministic lookup table, not computed backoff: retries happen at
// 1, 5, 15, 30 and 60 minutes.
var retryBackoff = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
	60 * time.Minute,
}

// RetryDelay returns the backoff delay for the given retry count. Counts
// beyond the table use the final 60 minute delay.
func RetryDelay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount >= len(retryBackoff) {
		return retryBackoff[len(retryBackoff)-1]
	}
	return retryBackoff[retryCount]
}

// RetrySummary is the outcome of one retry-queue pass.
type RetrySummary struct {
	Processed   int // tasks picked up
	Succeeded   int // delivered and deleted
	Rescheduled int // failed retryably, backoff recomputed
	Dropped     int // deleted: ceiling reached, terminal failure, or inactive subscription
}

// ProcessRetryQueue processes all due retry tasks as of now. Tasks run
// concurrently and in isolation: one task's failure never aborts the others.
func (d *Dispatcher) ProcessRetryQueue(ctx context.Context, now time.Time) (*RetrySummary, error) {
	tasks, err := d.retries.ListDue(ctx, now, MaxRetries)
	if err != nil {
		return nil, err
	}

	summary := &RetrySummary{Processed: len(tasks)}
	if len(tasks) == 0 {
		return summary, nil
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, task := range tasks {
		wg.Add(1)
		go func(task *RetryTask) {
			defer wg.Done()
			outcome := d.processRetryTask(ctx, task, now)
			mu.Lock()
			switch outcome {
			case retrySucceeded:
				summary.Succeeded++
			case retryRescheduled:
				summary.Rescheduled++
			case retryDropped:
				summary.Dropped++
			}
			mu.Unlock()
		}(task)
	}
	wg.Wait()

	return summary, nil
}

type retryOutcome int

const (
	retrySucceeded retryOutcome = iota
	retryRescheduled
	retryDropped
)

// processRetryTask re-sends one stored payload and updates or removes the task.
func (d *Dispatcher) processRetryTask(ctx context.Context, task *RetryTask, now time.Time) retryOutcome {
	sub, err := d.subs.Get(ctx, task.SubscriptionID)
	if err != nil || !sub.IsActive {
		// Subscription gone or deactivated: terminal, no HTTP attempt.
		if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
			d.logger.ErrorContext(ctx, "failed to load subscription for retry",
				"task_id", task.ID, "subscription_id", task.SubscriptionID, "error", err)
		}
		d.deleteTask(ctx, task)
		if d.metrics != nil {
			d.metrics.IncRetries(RetryOutcomeDropped)
		}
		return retryDropped
	}

	attemptNumber := task.RetryCount + 1
	result := d.deliverAndRecord(ctx, sub, task.Event, task.DeliveryID, task.Payload, attemptNumber)

	if result.Success {
		d.deleteTask(ctx, task)
		if d.metrics != nil {
			d.metrics.IncRetries(RetryOutcomeSucceeded)
		}
		return retrySucceeded
	}

	if attemptNumber >= MaxRetries || !result.Retryable {
		d.logger.InfoContext(ctx, "dropping webhook retry task",
			"task_id", task.ID,
			"subscription_id", task.SubscriptionID,
			"retry_count", attemptNumber,
			"status", result.StatusCode,
		)
		d.deleteTask(ctx, task)
		if d.metrics != nil {
			d.metrics.IncRetries(RetryOutcomeDropped)
		}
		return retryDropped
	}

	task.RetryCount = attemptNumber
	task.NextRetryAt = now.Add(RetryDelay(attemptNumber))
	task.LastError = result.Error
	if err := d.retries.Update(ctx, task); err != nil {
		d.logger.ErrorContext(ctx, "failed to update webhook retry task",
			"task_id", task.ID, "error", err)
	}
	if d.metrics != nil {
		d.metrics.IncRetries(RetryOutcomeRescheduled)
	}
	return retryRescheduled
}

func (d *Dispatcher) deleteTask(ctx context.Context, task *RetryTask) {
	if err := d.retries.Delete(ctx, task.ID); err != nil && !errors.Is(err, ErrTaskNotFound) {
		d.logger.ErrorContext(ctx, "failed to delete webhook retry task",
			"task_id", task.ID, "error", err)
	}
}
