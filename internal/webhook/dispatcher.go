package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DeliveryTimeout is the fixed per-request timeout for delivery attempts.
	DeliveryTimeout = 10 * time.Second
	// MaxRetries is the retry ceiling: a task is dropped once RetryCount
	// would reach this value.
	MaxRetries = 5
)

// Envelope is the wire payload delivered to every matching subscription.
// All attempts of one logical dispatch (initial and retries) carry the same
// id and the same serialized bytes.
type Envelope struct {
	ID        string `json:"id"`
	Event     string `json:"event"`
	CreatedAt string `json:"createdAt"` // ISO-8601
	Data      any    `json:"data"`
}

// DeliveryResult is the per-subscription outcome of a dispatch.
type DeliveryResult struct {
	SubscriptionID string
	URL            string
	Success        bool
	StatusCode     int
	Error          string
	Retryable      bool
	RetryScheduled bool
}

// DispatchSummary is the outcome of one Dispatch call. Individual delivery
// failures are captured in Results, never raised as errors.
type DispatchSummary struct {
	DeliveryID string
	Results    []DeliveryResult
}

// DispatchOptions scopes a dispatch.
type DispatchOptions struct {
	// TeamID restricts delivery to subscriptions owned by the team.
	// Empty means no scope filter.
	TeamID string
}

// Dispatcher delivers event notifications to matching subscriptions and
// schedules retries for transient failures.
type Dispatcher struct {
	subs       SubscriptionRepository
	deliveries DeliveryRepository
	retries    RetryRepository
	client     *http.Client
	logger     *slog.Logger
	metrics    *Metrics
	now        func() time.Time
}

// DispatcherConfig contains optional dependencies for a Dispatcher.
type DispatcherConfig struct {
	// Client is the HTTP client used for deliveries. Defaults to a client
	// with DeliveryTimeout.
	Client *http.Client
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Metrics is optional; nil disables instrumentation.
	Metrics *Metrics
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(subs SubscriptionRepository, deliveries DeliveryRepository, retries RetryRepository, cfg DispatcherConfig) *Dispatcher {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: DeliveryTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		subs:       subs,
		deliveries: deliveries,
		retries:    retries,
		client:     client,
		logger:     logger,
		metrics:    cfg.Metrics,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch fans an event out to all active subscriptions matching the event
// type. Deliveries run concurrently and independently; one subscription's
// failure never blocks or fails another. The returned error covers only
// envelope marshaling and subscription listing — a webhook outage must not
// break the triggering document operation.
func (d *Dispatcher) Dispatch(ctx context.Context, event string, data any, opts DispatchOptions) (*DispatchSummary, error) {
	subs, err := d.subs.ListActiveByEvent(ctx, event, opts.TeamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	deliveryID := uuid.New().String()
	summary := &DispatchSummary{DeliveryID: deliveryID}
	if len(subs) == 0 {
		return summary, nil
	}

	envelope := Envelope{
		ID:        deliveryID,
		Event:     event,
		CreatedAt: d.now().Format(time.RFC3339),
		Data:      data,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal webhook envelope: %w", err)
	}

	results := make([]DeliveryResult, len(subs))
	var wg sync.WaitGroup
	for i, sub := range subs {
		wg.Add(1)
		go func(i int, sub *Subscription) {
			defer wg.Done()
			results[i] = d.deliverAndRecord(ctx, sub, event, deliveryID, body, 0)
		}(i, sub)
	}
	wg.Wait()

	summary.Results = results
	return summary, nil
}

// deliverAndRecord attempts one delivery, records the outcome, and enqueues
// a retry task when the failure is retryable and this was the initial attempt.
func (d *Dispatcher) deliverAndRecord(ctx context.Context, sub *Subscription, event, deliveryID string, body []byte, retryCount int) DeliveryResult {
	start := d.now()
	statusCode, statusText, err := d.attempt(ctx, sub, event, deliveryID, body, retryCount)
	success := err == nil && statusCode >= 200 && statusCode < 300

	result := DeliveryResult{
		SubscriptionID: sub.ID,
		URL:            sub.URL,
		Success:        success,
		StatusCode:     statusCode,
	}
	if err != nil {
		result.Error = err.Error()
	} else if !success {
		result.Error = statusText
	}
	if !success {
		result.Retryable = isRetryable(statusCode, err)
	}

	if d.metrics != nil {
		outcome := OutcomeSuccess
		if !success {
			outcome = OutcomeFailure
		}
		d.metrics.IncDeliveries(event, outcome)
		d.metrics.ObserveDeliveryDuration(event, d.now().Sub(start).Seconds())
	}

	if recErr := d.deliveries.Record(ctx, &DeliveryRecord{
		ID:             uuid.New().String(),
		SubscriptionID: sub.ID,
		DeliveryID:     deliveryID,
		Event:          event,
		Success:        success,
		StatusCode:     statusCode,
		StatusText:     statusText,
		RetryCount:     retryCount,
		CreatedAt:      d.now(),
	}); recErr != nil {
		d.logger.ErrorContext(ctx, "failed to record webhook delivery",
			"subscription_id", sub.ID, "delivery_id", deliveryID, "error", recErr)
	}

	if success {
		return result
	}

	d.logger.WarnContext(ctx, "webhook delivery failed",
		"subscription_id", sub.ID,
		"delivery_id", deliveryID,
		"event", event,
		"status", statusCode,
		"error", result.Error,
	)

	// Retries of retries are scheduled by the retry processor; only the
	// initial attempt creates the task.
	if retryCount == 0 && result.Retryable {
		task := &RetryTask{
			ID:             uuid.New().String(),
			SubscriptionID: sub.ID,
			DeliveryID:     deliveryID,
			Event:          event,
			Payload:        body,
			RetryCount:     0,
			NextRetryAt:    d.now().Add(RetryDelay(0)),
			LastError:      result.Error,
			CreatedAt:      d.now(),
		}
		if err := d.retries.Create(ctx, task); err != nil {
			d.logger.ErrorContext(ctx, "failed to enqueue webhook retry",
				"subscription_id", sub.ID, "delivery_id", deliveryID, "error", err)
		} else {
			result.RetryScheduled = true
		}
	}

	return result
}

// attempt issues one signed HTTP POST. Returns the HTTP status (0 when no
// response was received) and the status text.
func (d *Dispatcher) attempt(ctx context.Context, sub *Subscription, event, deliveryID string, body []byte, retryCount int) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("failed to build webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, Sign(body, sub.Secret))
	req.Header.Set(HeaderEvent, event)
	req.Header.Set(HeaderDelivery, deliveryID)
	if retryCount > 0 {
		req.Header.Set(HeaderRetry, strconv.Itoa(retryCount))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	return resp.StatusCode, resp.Status, nil
}

// isRetryable classifies a delivery failure. Network failures (no
// response), 5xx, 429 and 408 are retryable; all other 4xx are terminal.
// This classification is the single source of truth for whether a retry
// task is created or continued.
func isRetryable(statusCode int, err error) bool {
	if err != nil {
		return true
	}
	if statusCode >= 500 {
		return true
	}
	return statusCode == http.StatusTooManyRequests || statusCode == http.StatusRequestTimeout
}
