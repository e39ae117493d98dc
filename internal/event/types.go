// Package event defines document lifecycle event types and the emitter that
// fans them out to the audit ledger, webhook subscribers and live listeners.
package event

// Document lifecycle event types.
const (
	TypeDocumentCreated   = "document.created"
	TypeDocumentSigned    = "document.signed"
	TypeDocumentCompleted = "document.completed"
	TypeDocumentDeleted   = "document.deleted"
	TypeRecipientViewed   = "recipient.viewed"
	TypeFormSubmitted     = "form.submitted"
)

var knownTypes = map[string]bool{
	TypeDocumentCreated:   true,
	TypeDocumentSigned:    true,
	TypeDocumentCompleted: true,
	TypeDocumentDeleted:   true,
	TypeRecipientViewed:   true,
	TypeFormSubmitted:     true,
}

// IsKnownType reports whether eventType is a recognized lifecycle event.
func IsKnownType(eventType string) bool {
	return knownTypes[eventType]
}

// Types returns all recognized event types.
func Types() []string {
	return []string{
		TypeDocumentCreated,
		TypeDocumentSigned,
		TypeDocumentCompleted,
		TypeDocumentDeleted,
		TypeRecipientViewed,
		TypeFormSubmitted,
	}
}
