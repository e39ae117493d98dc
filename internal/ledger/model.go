// Package ledger provides the tamper-evident audit chain for document
// lifecycle events. Every entry commits to the hash of its predecessor, so
// any retroactive edit to a stored entry is detectable by recomputation.
package ledger

import (
	"encoding/json"
	"time"
)

// Entry represents a single immutable audit event for a document.
type Entry struct {
	ID         string
	DocumentID string
	EventType  string
	CreatedAt  time.Time

	// Optional actor fields
	UserID      string
	RecipientID string

	// Optional event payload (opaque JSON) and request metadata
	Payload   json.RawMessage
	IPAddress string
	UserAgent string

	// Tamper detection
	EntryHash    string // SHA-256 over the canonical serialization of this entry
	PreviousHash string // EntryHash of the prior entry for this document, "" for the first
}

// AppendInput represents the input for appending an audit entry.
type AppendInput struct {
	DocumentID  string
	EventType   string
	UserID      string
	RecipientID string
	Payload     json.RawMessage
	IPAddress   string
	UserAgent   string
}

// Trail is the result of reading a document's audit chain.
// Valid reports whether every stored hash matches recomputation and every
// PreviousHash matches the predecessor's EntryHash. A broken chain still
// returns the full entry sequence; verification is informational.
type Trail struct {
	DocumentID string
	Entries    []*Entry
	Valid      bool
}
