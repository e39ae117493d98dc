package webhook

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/inkmark/inkmark/internal/tracing"
)

// PostgresSubscriptionRepository implements SubscriptionRepository using PostgreSQL.
type PostgresSubscriptionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresSubscriptionRepository creates a new PostgresSubscriptionRepository.
func NewPostgresSubscriptionRepository(db *sql.DB, logger *slog.Logger) *PostgresSubscriptionRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresSubscriptionRepository{db: db, logger: logger}
}

func (r *PostgresSubscriptionRepository) Create(ctx context.Context, sub *Subscription) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_subscriptions (
			id, owner_id, team_id, url, events, secret, is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sub.ID, sub.OwnerID, sub.TeamID, sub.URL, pq.Array(sub.Events),
		sub.Secret, sub.IsActive, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert subscription: %w", err)
	}
	return nil
}

func (r *PostgresSubscriptionRepository) Get(ctx context.Context, id string) (*Subscription, error) {
	var sub Subscription
	err := r.db.QueryRowContext(ctx, `
		SELECT id, owner_id, team_id, url, events, secret, is_active, created_at, updated_at
		FROM webhook_subscriptions WHERE id = $1`,
		id,
	).Scan(&sub.ID, &sub.OwnerID, &sub.TeamID, &sub.URL, pq.Array(&sub.Events),
		&sub.Secret, &sub.IsActive, &sub.CreatedAt, &sub.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return &sub, nil
}

func (r *PostgresSubscriptionRepository) ListByOwner(ctx context.Context, ownerID string) ([]*Subscription, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner_id, team_id, url, events, secret, is_active, created_at, updated_at
		FROM webhook_subscriptions
		WHERE owner_id = $1
		ORDER BY created_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

func (r *PostgresSubscriptionRepository) ListActiveByEvent(ctx context.Context, event, teamID string) (subs []*Subscription, err error) {
	// Dispatch-time hot path.
	ctx, endSpan := tracing.StartDBSpan(ctx, "webhook_subscriptions", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner_id, team_id, url, events, secret, is_active, created_at, updated_at
		FROM webhook_subscriptions
		WHERE is_active AND $1 = ANY(events) AND ($2 = '' OR team_id = $2)
		ORDER BY id`,
		event, teamID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

func (r *PostgresSubscriptionRepository) Update(ctx context.Context, sub *Subscription) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE webhook_subscriptions
		SET url = $2, events = $3, secret = $4, is_active = $5, updated_at = $6
		WHERE id = $1`,
		sub.ID, sub.URL, pq.Array(sub.Events), sub.Secret, sub.IsActive, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (r *PostgresSubscriptionRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM webhook_subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func scanSubscriptions(rows *sql.Rows) ([]*Subscription, error) {
	var subs []*Subscription
	for rows.Next() {
		var sub Subscription
		if err := rows.Scan(&sub.ID, &sub.OwnerID, &sub.TeamID, &sub.URL, pq.Array(&sub.Events),
			&sub.Secret, &sub.IsActive, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, &sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subscriptions: %w", err)
	}
	return subs, nil
}

// PostgresDeliveryRepository implements DeliveryRepository using PostgreSQL.
type PostgresDeliveryRepository struct {
	db *sql.DB
}

// NewPostgresDeliveryRepository creates a new PostgresDeliveryRepository.
func NewPostgresDeliveryRepository(db *sql.DB) *PostgresDeliveryRepository {
	return &PostgresDeliveryRepository{db: db}
}

func (r *PostgresDeliveryRepository) Record(ctx context.Context, rec *DeliveryRecord) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "webhook_deliveries", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (
			id, subscription_id, delivery_id, event, success,
			status_code, status_text, retry_count, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.SubscriptionID, rec.DeliveryID, rec.Event, rec.Success,
		rec.StatusCode, rec.StatusText, rec.RetryCount, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert delivery record: %w", err)
	}
	return nil
}

func (r *PostgresDeliveryRepository) ListBySubscription(ctx context.Context, subscriptionID string, limit int) ([]*DeliveryRecord, error) {
	query := `
		SELECT id, subscription_id, delivery_id, event, success,
		       status_code, status_text, retry_count, created_at
		FROM webhook_deliveries
		WHERE subscription_id = $1
		ORDER BY created_at DESC`
	args := []any{subscriptionID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query delivery records: %w", err)
	}
	defer rows.Close()

	var records []*DeliveryRecord
	for rows.Next() {
		var rec DeliveryRecord
		if err := rows.Scan(&rec.ID, &rec.SubscriptionID, &rec.DeliveryID, &rec.Event, &rec.Success,
			&rec.StatusCode, &rec.StatusText, &rec.RetryCount, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan delivery record: %w", err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate delivery records: %w", err)
	}
	return records, nil
}

// PostgresRetryRepository implements RetryRepository using PostgreSQL.
type PostgresRetryRepository struct {
	db *sql.DB
}

// NewPostgresRetryRepository creates a new PostgresRetryRepository.
func NewPostgresRetryRepository(db *sql.DB) *PostgresRetryRepository {
	return &PostgresRetryRepository{db: db}
}

func (r *PostgresRetryRepository) Create(ctx context.Context, task *RetryTask) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_retry_tasks (
			id, subscription_id, delivery_id, event, payload,
			retry_count, next_retry_at, last_error, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		task.ID, task.SubscriptionID, task.DeliveryID, task.Event, task.Payload,
		task.RetryCount, task.NextRetryAt, task.LastError, task.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert retry task: %w", err)
	}
	return nil
}

func (r *PostgresRetryRepository) ListDue(ctx context.Context, now time.Time, maxRetries int) ([]*RetryTask, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, subscription_id, delivery_id, event, payload,
		       retry_count, next_retry_at, last_error, created_at
		FROM webhook_retry_tasks
		WHERE next_retry_at <= $1 AND retry_count < $2
		ORDER BY next_retry_at ASC`,
		now, maxRetries,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query retry tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*RetryTask
	for rows.Next() {
		var task RetryTask
		if err := rows.Scan(&task.ID, &task.SubscriptionID, &task.DeliveryID, &task.Event, &task.Payload,
			&task.RetryCount, &task.NextRetryAt, &task.LastError, &task.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan retry task: %w", err)
		}
		tasks = append(tasks, &task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate retry tasks: %w", err)
	}
	return tasks, nil
}

func (r *PostgresRetryRepository) Update(ctx context.Context, task *RetryTask) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE webhook_retry_tasks
		SET retry_count = $2, next_retry_at = $3, last_error = $4
		WHERE id = $1`,
		task.ID, task.RetryCount, task.NextRetryAt, task.LastError,
	)
	if err != nil {
		return fmt.Errorf("failed to update retry task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (r *PostgresRetryRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM webhook_retry_tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete retry task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected == 0 {
		return ErrTaskNotFound
	}
	return nil
}
