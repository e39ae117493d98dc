package event

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// LiveEvent is the message pushed to WebSocket listeners of a document.
type LiveEvent struct {
	Type       string          `json:"type"`
	DocumentID string          `json:"documentId"`
	EntryID    string          `json:"entryId"`
	CreatedAt  time.Time       `json:"createdAt"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// wsClient pairs a connection with a write mutex. gorilla/websocket allows
// at most one concurrent writer per connection, and overlapping Broadcast
// calls for the same document would otherwise race on WriteMessage.
type wsClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsClient) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(messageType, data)
}

// WSBroadcaster manages WebSocket connections and pushes live events to
// listeners subscribed to a document.
type WSBroadcaster struct {
	mu          sync.RWMutex
	connections map[string]map[*websocket.Conn]*wsClient // documentID -> clients
}

// NewWSBroadcaster creates a new WebSocket broadcaster.
func NewWSBroadcaster() *WSBroadcaster {
	return &WSBroadcaster{
		connections: make(map[string]map[*websocket.Conn]*wsClient),
	}
}

// Subscribe registers a WebSocket connection for a document.
func (b *WSBroadcaster) Subscribe(documentID string, conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.connections[documentID] == nil {
		b.connections[documentID] = make(map[*websocket.Conn]*wsClient)
	}
	b.connections[documentID][conn] = &wsClient{conn: conn}
}

// Unsubscribe removes a WebSocket connection from all documents.
func (b *WSBroadcaster) Unsubscribe(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for docID, clients := range b.connections {
		delete(clients, conn)
		if len(clients) == 0 {
			delete(b.connections, docID)
		}
	}
}

// Broadcast sends a live event to all listeners of a document.
func (b *WSBroadcaster) Broadcast(documentID string, event *LiveEvent) {
	b.mu.RLock()
	clients := make([]*wsClient, 0, len(b.connections[documentID]))
	for _, c := range b.connections[documentID] {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	// Serialize event once
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal live event", "error", err)
		return
	}

	for _, c := range clients {
		if err := c.write(websocket.TextMessage, data); err != nil {
			slog.Warn("failed to send message to websocket client",
				"error", err,
				"document_id", documentID,
			)
			// Connection will be cleaned up when client disconnects
		}
	}
}

// ConnectionCount returns the number of active listeners for a document.
func (b *WSBroadcaster) ConnectionCount(documentID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.connections[documentID])
}
