// Package api provides HTTP handlers for live audit event WebSocket subscriptions.
package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/inkmark/inkmark/internal/event"
	"github.com/inkmark/inkmark/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: Implement proper CORS checking based on configuration
		// For now, allow all origins (should be restricted in production)
		return true
	},
}

// EventStreamHandlers holds dependencies for live event WebSocket handlers.
type EventStreamHandlers struct {
	broadcaster *event.WSBroadcaster
}

// NewEventStreamHandlers creates a new EventStreamHandlers instance.
func NewEventStreamHandlers(broadcaster *event.WSBroadcaster) *EventStreamHandlers {
	return &EventStreamHandlers{broadcaster: broadcaster}
}

// SubscribeToDocumentEvents handles WebSocket connections for real-time audit entries.
// GET /documents/{id}/events/ws
func (h *EventStreamHandlers) SubscribeToDocumentEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Extract document ID from URL path
	// Expected: /documents/{id}/events/ws
	pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/documents/"), "/")
	if len(pathParts) != 3 || pathParts[0] == "" || pathParts[1] != "events" || pathParts[2] != "ws" {
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid URL path")
		return
	}
	documentID := pathParts[0]

	// Upgrade HTTP connection to WebSocket
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.ErrorContext(ctx, "failed to upgrade websocket connection",
			"error", err,
			"document_id", documentID,
		)
		return
	}

	// Subscribe to appended entries for this document
	h.broadcaster.Subscribe(documentID, conn)

	requestID := middleware.GetRequestID(ctx)
	slog.InfoContext(ctx, "websocket client subscribed to document events",
		"document_id", documentID,
		"request_id", requestID,
	)

	// Handle connection lifecycle
	defer func() {
		h.broadcaster.Unsubscribe(conn)
		conn.Close()
		slog.InfoContext(ctx, "websocket client unsubscribed",
			"document_id", documentID,
			"request_id", requestID,
		)
	}()

	// Keep connection alive - read messages to detect disconnection
	// We don't expect clients to send messages, but we need to read to detect when they disconnect
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.WarnContext(ctx, "websocket connection closed unexpectedly",
					"error", err,
					"document_id", documentID,
				)
			}
			break
		}
	}
}
