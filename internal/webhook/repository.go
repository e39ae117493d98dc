package webhook

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	// ErrSubscriptionNotFound is returned when a subscription does not exist.
	ErrSubscriptionNotFound = errors.New("webhook subscription not found")
	// ErrTaskNotFound is returned when a retry task does not exist.
	ErrTaskNotFound = errors.New("webhook retry task not found")
)

// SubscriptionRepository defines storage for webhook subscriptions.
type SubscriptionRepository interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	// ListByOwner returns all subscriptions for an owner, newest first.
	ListByOwner(ctx context.Context, ownerID string) ([]*Subscription, error)
	// ListActiveByEvent returns active subscriptions whose event set
	// contains the given event type, optionally scoped to a team
	// (teamID == "" means no scope filter).
	ListActiveByEvent(ctx context.Context, event, teamID string) ([]*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, id string) error
}

// DeliveryRepository defines storage for delivery attempt records.
type DeliveryRepository interface {
	// Record persists the outcome of one delivery attempt.
	Record(ctx context.Context, rec *DeliveryRecord) error
	// ListBySubscription returns delivery records for a subscription,
	// newest first. Limit 0 means no limit.
	ListBySubscription(ctx context.Context, subscriptionID string, limit int) ([]*DeliveryRecord, error)
}

// RetryRepository defines storage for pending retry tasks.
type RetryRepository interface {
	Create(ctx context.Context, task *RetryTask) error
	// ListDue returns tasks with NextRetryAt <= now and RetryCount < maxRetries.
	ListDue(ctx context.Context, now time.Time, maxRetries int) ([]*RetryTask, error)
	Update(ctx context.Context, task *RetryTask) error
	Delete(ctx context.Context, id string) error
}

// InMemorySubscriptionRepository implements SubscriptionRepository with
// in-memory storage. Used for testing and development. Thread-safe.
type InMemorySubscriptionRepository struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
}

// NewInMemorySubscriptionRepository creates a new in-memory subscription repository.
func NewInMemorySubscriptionRepository() *InMemorySubscriptionRepository {
	return &InMemorySubscriptionRepository{
		subs: make(map[string]*Subscription),
	}
}

func (r *InMemorySubscriptionRepository) Create(ctx context.Context, sub *Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *sub
	r.subs[sub.ID] = &stored
	return nil
}

func (r *InMemorySubscriptionRepository) Get(ctx context.Context, id string) (*Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	subCopy := *sub
	return &subCopy, nil
}

func (r *InMemorySubscriptionRepository) ListByOwner(ctx context.Context, ownerID string) ([]*Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*Subscription
	for _, sub := range r.subs {
		if sub.OwnerID == ownerID {
			subCopy := *sub
			results = append(results, &subCopy)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
	return results, nil
}

func (r *InMemorySubscriptionRepository) ListActiveByEvent(ctx context.Context, event, teamID string) ([]*Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*Subscription
	for _, sub := range r.subs {
		if !sub.IsActive || !sub.Subscribed(event) {
			continue
		}
		if teamID != "" && sub.TeamID != teamID {
			continue
		}
		subCopy := *sub
		results = append(results, &subCopy)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].ID < results[j].ID
	})
	return results, nil
}

func (r *InMemorySubscriptionRepository) Update(ctx context.Context, sub *Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[sub.ID]; !ok {
		return ErrSubscriptionNotFound
	}
	stored := *sub
	r.subs[sub.ID] = &stored
	return nil
}

func (r *InMemorySubscriptionRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[id]; !ok {
		return ErrSubscriptionNotFound
	}
	delete(r.subs, id)
	return nil
}

// InMemoryDeliveryRepository implements DeliveryRepository with in-memory
// storage. Thread-safe.
type InMemoryDeliveryRepository struct {
	mu      sync.RWMutex
	records []*DeliveryRecord
}

// NewInMemoryDeliveryRepository creates a new in-memory delivery repository.
func NewInMemoryDeliveryRepository() *InMemoryDeliveryRepository {
	return &InMemoryDeliveryRepository{}
}

func (r *InMemoryDeliveryRepository) Record(ctx context.Context, rec *DeliveryRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *rec
	r.records = append(r.records, &stored)
	return nil
}

func (r *InMemoryDeliveryRepository) ListBySubscription(ctx context.Context, subscriptionID string, limit int) ([]*DeliveryRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*DeliveryRecord
	for i := len(r.records) - 1; i >= 0; i-- {
		rec := r.records[i]
		if rec.SubscriptionID == subscriptionID {
			recCopy := *rec
			results = append(results, &recCopy)
			if limit > 0 && len(results) >= limit {
				break
			}
		}
	}
	return results, nil
}

// InMemoryRetryRepository implements RetryRepository with in-memory storage.
// Thread-safe.
type InMemoryRetryRepository struct {
	mu    sync.RWMutex
	tasks map[string]*RetryTask
}

// NewInMemoryRetryRepository creates a new in-memory retry repository.
func NewInMemoryRetryRepository() *InMemoryRetryRepository {
	return &InMemoryRetryRepository{
		tasks: make(map[string]*RetryTask),
	}
}

func (r *InMemoryRetryRepository) Create(ctx context.Context, task *RetryTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *task
	r.tasks[task.ID] = &stored
	return nil
}

func (r *InMemoryRetryRepository) ListDue(ctx context.Context, now time.Time, maxRetries int) ([]*RetryTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*RetryTask
	for _, task := range r.tasks {
		if task.RetryCount < maxRetries && !task.NextRetryAt.After(now) {
			taskCopy := *task
			results = append(results, &taskCopy)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].NextRetryAt.Before(results[j].NextRetryAt)
	})
	return results, nil
}

func (r *InMemoryRetryRepository) Update(ctx context.Context, task *RetryTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[task.ID]; !ok {
		return ErrTaskNotFound
	}
	stored := *task
	r.tasks[task.ID] = &stored
	return nil
}

func (r *InMemoryRetryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[id]; !ok {
		return ErrTaskNotFound
	}
	delete(r.tasks, id)
	return nil
}

// Tasks returns a snapshot of all pending tasks. Test hook.
func (r *InMemoryRetryRepository) Tasks() []*RetryTask {
	r.mu.RLock()
	defer r.mu.RUnlock()
	results := make([]*RetryTask, 0, len(r.tasks))
	for _, task := range r.tasks {
		taskCopy := *task
		results = append(results, &taskCopy)
	}
	return results
}
