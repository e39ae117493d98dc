package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// hashTimeFormat is the timestamp encoding used in the hash preimage.
// Fixed so that verification is reproducible across processes.
const hashTimeFormat = time.RFC3339Nano

// ComputeEntryHash calculates the SHA-256 hash for an audit entry.
//
// The preimage is the pipe-joined canonical serialization
//
//	documentID|userID|recipientID|eventType|payload|timestamp|ip|userAgent|previousHash
//
// with absent optional fields serialized as empty strings (never omitted)
// and the timestamp rendered in UTC RFC3339Nano. The hash depends on the
// previous entry's hash, so modifying any entry invalidates the chain from
// that point forward.
func ComputeEntryHash(e *Entry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%s|%s|%s|%s",
		e.DocumentID, e.UserID, e.RecipientID, e.EventType,
		string(e.Payload), e.CreatedAt.UTC().Format(hashTimeFormat),
		e.IPAddress, e.UserAgent, e.PreviousHash)
	return hex.EncodeToString(h.Sum(nil))
}

// verifyEntry checks whether an entry's stored hash matches recomputation.
func verifyEntry(e *Entry) bool {
	return e.EntryHash == ComputeEntryHash(e)
}

// VerifyChain walks entries (oldest first) and reports whether the sequence
// forms an unbroken hash chain: every EntryHash matches recomputation and
// every PreviousHash matches the predecessor's EntryHash. An empty sequence
// is valid.
func VerifyChain(entries []*Entry) bool {
	prev := ""
	for _, e := range entries {
		if e.PreviousHash != prev {
			return false
		}
		if !verifyEntry(e) {
			return false
		}
		prev = e.EntryHash
	}
	return true
}
