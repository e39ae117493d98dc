package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNilRepository is returned when the service is built without a repository.
	ErrNilRepository = errors.New("ledger repository cannot be nil")
	// ErrInvalidDocumentID is returned when an empty document ID is provided.
	ErrInvalidDocumentID = errors.New("document ID cannot be empty")
	// ErrInvalidEventType is returned when an empty event type is provided.
	ErrInvalidEventType = errors.New("event type cannot be empty")
)

// Service implements the audit chain ledger on top of a Repository.
type Service struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a new ledger service.
func NewService(repo Repository, logger *slog.Logger) (*Service, error) {
	if repo == nil {
		return nil, ErrNilRepository
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		logger: logger,
		// Timestamps are truncated to microseconds so the hash preimage
		// survives a round trip through TIMESTAMPTZ, which drops
		// sub-microsecond precision.
		now: func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}, nil
}

// Append records a lifecycle event on a document's audit chain.
//
// Error handling is fail-closed: a storage failure is returned to the
// caller so it knows the event is unrecorded. Appends are never retried
// here; callers decide.
func (s *Service) Append(ctx context.Context, in AppendInput) (*Entry, error) {
	if in.DocumentID == "" {
		return nil, ErrInvalidDocumentID
	}
	if in.EventType == "" {
		return nil, ErrInvalidEventType
	}

	entry := &Entry{
		ID:          uuid.New().String(),
		DocumentID:  in.DocumentID,
		EventType:   in.EventType,
		CreatedAt:   s.now(),
		UserID:      in.UserID,
		RecipientID: in.RecipientID,
		Payload:     in.Payload,
		IPAddress:   in.IPAddress,
		UserAgent:   in.UserAgent,
	}

	if err := s.repo.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to append audit entry: %w", err)
	}
	return entry, nil
}

// ReadTrail loads a document's audit chain and verifies its integrity.
// Verification failure is informational: the full entry sequence is
// returned with Valid=false. An empty trail is valid.
func (s *Service) ReadTrail(ctx context.Context, documentID string) (*Trail, error) {
	if documentID == "" {
		return nil, ErrInvalidDocumentID
	}

	entries, err := s.repo.ListByDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit trail: %w", err)
	}

	valid := VerifyChain(entries)
	if !valid {
		s.logger.WarnContext(ctx, "audit chain verification failed",
			"document_id", documentID,
			"entries", len(entries),
		)
	}

	return &Trail{
		DocumentID: documentID,
		Entries:    entries,
		Valid:      valid,
	}, nil
}
