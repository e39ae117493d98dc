package ledger

import (
	"context"
	"sync"
)

// Repository defines storage for audit chain entries.
//
// Append must serialize per document: two concurrent appends for the same
// document must not both read the same latest entry and claim the same
// PreviousHash. Implementations chain the entry (set PreviousHash from the
// latest stored entry and compute EntryHash) inside their own critical
// section, then persist it.
type Repository interface {
	// Append chains and persists a new entry. The entry's ID, DocumentID,
	// EventType and CreatedAt must already be set; PreviousHash and
	// EntryHash are filled in by the repository.
	Append(ctx context.Context, entry *Entry) error

	// ListByDocument returns all entries for a document ordered by
	// timestamp ascending (insertion order for equal timestamps).
	ListByDocument(ctx context.Context, documentID string) ([]*Entry, error)
}

// InMemoryRepository is an in-memory implementation of Repository.
// Used for testing and development. Thread-safe via a mutex that also
// serves as the per-document append lock.
type InMemoryRepository struct {
	mu     sync.RWMutex
	chains map[string][]*Entry // documentID -> entries in append order
}

// NewInMemoryRepository creates a new in-memory ledger repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		chains: make(map[string][]*Entry),
	}
}

// Append chains and persists a new entry.
func (r *InMemoryRepository) Append(ctx context.Context, entry *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	chain := r.chains[entry.DocumentID]
	entry.PreviousHash = ""
	if len(chain) > 0 {
		entry.PreviousHash = chain[len(chain)-1].EntryHash
	}
	entry.EntryHash = ComputeEntryHash(entry)

	// Store a copy so the caller cannot mutate the chain afterwards
	stored := *entry
	r.chains[entry.DocumentID] = append(chain, &stored)
	return nil
}

// ListByDocument returns all entries for a document in append order.
func (r *InMemoryRepository) ListByDocument(ctx context.Context, documentID string) ([]*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chain := r.chains[documentID]
	results := make([]*Entry, 0, len(chain))
	for _, e := range chain {
		entryCopy := *e
		results = append(results, &entryCopy)
	}
	return results, nil
}

// Tamper overwrites a stored entry in place without rechaining.
// Test hook for exercising chain verification; never used in production.
func (r *InMemoryRepository) Tamper(documentID string, index int, mutate func(*Entry)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	chain := r.chains[documentID]
	if index < 0 || index >= len(chain) {
		return
	}
	mutate(chain[index])
}
