package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/inkmark/inkmark/internal/tracing"
)

// PostgresRepository implements Repository using PostgreSQL.
//
// Chaining correctness relies on a per-document advisory lock taken inside
// the insert transaction: two concurrent appends for the same document
// serialize on pg_advisory_xact_lock, so neither can read a stale latest
// hash. Appends for different documents do not contend.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{
		db:     db,
		logger: logger,
	}
}

// Append chains and persists a new entry inside a single transaction.
func (r *PostgresRepository) Append(ctx context.Context, entry *Entry) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "audit_entries", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelReadCommitted,
	})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Always attempt rollback on function exit (no-op after successful commit)
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			r.logger.Warn("failed to rollback transaction",
				slog.String("error", err.Error()))
		}
	}()

	// Serialize appends per document for the duration of this transaction
	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
		entry.DocumentID,
	); err != nil {
		return fmt.Errorf("failed to acquire document lock: %w", err)
	}

	var previousHash sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT entry_hash FROM audit_entries
		WHERE document_id = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT 1`,
		entry.DocumentID,
	).Scan(&previousHash)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to load latest entry hash: %w", err)
	}

	entry.PreviousHash = ""
	if previousHash.Valid {
		entry.PreviousHash = previousHash.String
	}
	entry.EntryHash = ComputeEntryHash(entry)

	payload := []byte(entry.Payload)
	if payload == nil {
		payload = []byte{}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_entries (
			id, document_id, event_type, created_at,
			user_id, recipient_id, payload, ip_address, user_agent,
			entry_hash, previous_hash
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ID, entry.DocumentID, entry.EventType, entry.CreatedAt,
		entry.UserID, entry.RecipientID, payload, entry.IPAddress, entry.UserAgent,
		entry.EntryHash, entry.PreviousHash,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit audit entry: %w", err)
	}
	return nil
}

// ListByDocument returns all entries for a document ordered by timestamp
// ascending, insertion order for equal timestamps.
func (r *PostgresRepository) ListByDocument(ctx context.Context, documentID string) (entries []*Entry, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "audit_entries", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, document_id, event_type, created_at,
		       user_id, recipient_id, payload, ip_address, user_agent,
		       entry_hash, previous_hash
		FROM audit_entries
		WHERE document_id = $1
		ORDER BY created_at ASC, seq ASC`,
		documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e Entry
		var payload []byte
		if err := rows.Scan(
			&e.ID, &e.DocumentID, &e.EventType, &e.CreatedAt,
			&e.UserID, &e.RecipientID, &payload, &e.IPAddress, &e.UserAgent,
			&e.EntryHash, &e.PreviousHash,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if len(payload) > 0 {
			e.Payload = payload
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}
	return entries, nil
}
