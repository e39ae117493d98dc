package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/inkmark/inkmark/internal/event"
	"github.com/inkmark/inkmark/internal/middleware"
)

// maxEventBodyBytes caps the lifecycle event request body, including the
// opaque payload that is stored verbatim in the audit trail.
const maxEventBodyBytes = 64 * 1024

// IngestEventRequest represents the request body for recording a lifecycle event.
type IngestEventRequest struct {
	EventType   string          `json:"event_type"`
	RecipientID string          `json:"recipient_id,omitempty"`
	TeamID      string          `json:"team_id,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// IngestEventResponse is returned after a lifecycle event is recorded.
// Webhook delivery runs after the append; delivery failures never fail
// the response, they surface in delivery records and the retry queue.
type IngestEventResponse struct {
	Entry EntryResponse `json:"entry"`
}

// EventHandlers holds dependencies for document lifecycle event handlers.
type EventHandlers struct {
	emitter *event.Emitter
}

// NewEventHandlers creates a new EventHandlers instance.
func NewEventHandlers(emitter *event.Emitter) *EventHandlers {
	return &EventHandlers{emitter: emitter}
}

// IngestEvent handles POST /documents/{id}/events - records a lifecycle event
// in the audit trail and fans it out to webhook subscribers and live listeners.
func (h *EventHandlers) IngestEvent(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return
	}

	documentID := documentIDFromPath(r.URL.Path, "events")
	if documentID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Document ID is required")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBodyBytes+1))
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Failed to read request body")
		return
	}
	if len(body) > maxEventBodyBytes {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusRequestEntityTooLarge, ErrCodeValidation, "Request body too large")
		return
	}

	var req IngestEventRequest
	if err := json.Unmarshal(body, &req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	if req.EventType == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "event_type is required")
		return
	}

	result, err := h.emitter.Emit(r.Context(), event.Input{
		DocumentID:  documentID,
		Type:        req.EventType,
		UserID:      userID,
		RecipientID: req.RecipientID,
		TeamID:      req.TeamID,
		Payload:     req.Payload,
		IPAddress:   middleware.IPKeyFunc()(r),
		UserAgent:   r.UserAgent(),
	})
	if err != nil {
		if errors.Is(err, event.ErrUnknownEventType) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeUnknownEventType)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeUnknownEventType, "Unknown event type: "+req.EventType)
			return
		}
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to record event")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(IngestEventResponse{Entry: entryResponse(result.Entry)})
}
