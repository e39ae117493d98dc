package event

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/inkmark/inkmark/internal/ledger"
	"github.com/inkmark/inkmark/internal/webhook"
)

// ErrUnknownEventType is returned when an unrecognized event type is emitted.
var ErrUnknownEventType = errors.New("unknown event type")

// Input describes a single document lifecycle event to emit.
type Input struct {
	DocumentID  string
	Type        string
	UserID      string
	RecipientID string
	TeamID      string
	Payload     json.RawMessage
	IPAddress   string
	UserAgent   string
}

// Dispatcher delivers an event to matching webhook subscriptions.
type Dispatcher interface {
	Dispatch(ctx context.Context, event string, data any, opts webhook.DispatchOptions) (*webhook.DispatchSummary, error)
}

// Broadcaster pushes an event to connected live listeners.
type Broadcaster interface {
	Broadcast(documentID string, event *LiveEvent)
}

// Result reports what happened to an emitted event downstream.
type Result struct {
	Entry    *ledger.Entry
	Dispatch *webhook.DispatchSummary
}

// Emitter is the single entry point for document lifecycle events. The
// audit append is the source of truth: if it fails the event did not
// happen. Webhook delivery and live broadcast are best-effort fan-out.
type Emitter struct {
	ledger      *ledger.Service
	dispatcher  Dispatcher
	broadcaster Broadcaster
	logger      *slog.Logger
}

// NewEmitter creates an emitter. dispatcher and broadcaster may be nil,
// in which case the corresponding fan-out is skipped.
func NewEmitter(ledgerSvc *ledger.Service, dispatcher Dispatcher, broadcaster Broadcaster, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		ledger:      ledgerSvc,
		dispatcher:  dispatcher,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// Emit records the event on the document's audit chain and fans it out.
//
// The append is fatal: its error is returned and nothing is dispatched.
// Dispatch and broadcast failures are logged and captured in the result,
// never propagated; a dead subscriber endpoint must not fail document
// operations.
func (e *Emitter) Emit(ctx context.Context, in Input) (*Result, error) {
	if !IsKnownType(in.Type) {
		return nil, ErrUnknownEventType
	}

	entry, err := e.ledger.Append(ctx, ledger.AppendInput{
		DocumentID:  in.DocumentID,
		EventType:   in.Type,
		UserID:      in.UserID,
		RecipientID: in.RecipientID,
		Payload:     in.Payload,
		IPAddress:   in.IPAddress,
		UserAgent:   in.UserAgent,
	})
	if err != nil {
		return nil, err
	}

	result := &Result{Entry: entry}

	if e.dispatcher != nil {
		data := webhookData(entry)
		summary, err := e.dispatcher.Dispatch(ctx, in.Type, data, webhook.DispatchOptions{TeamID: in.TeamID})
		if err != nil {
			e.logger.ErrorContext(ctx, "webhook dispatch failed",
				"document_id", in.DocumentID,
				"event_type", in.Type,
				"error", err,
			)
		} else {
			result.Dispatch = summary
		}
	}

	if e.broadcaster != nil {
		e.broadcaster.Broadcast(in.DocumentID, &LiveEvent{
			Type:       in.Type,
			DocumentID: in.DocumentID,
			EntryID:    entry.ID,
			CreatedAt:  entry.CreatedAt,
			Payload:    in.Payload,
		})
	}

	return result, nil
}

// webhookData shapes the audit entry into the webhook envelope's data field.
func webhookData(entry *ledger.Entry) map[string]any {
	data := map[string]any{
		"documentId": entry.DocumentID,
		"eventType":  entry.EventType,
		"occurredAt": entry.CreatedAt,
	}
	if entry.UserID != "" {
		data["userId"] = entry.UserID
	}
	if entry.RecipientID != "" {
		data["recipientId"] = entry.RecipientID
	}
	if len(entry.Payload) > 0 {
		data["payload"] = entry.Payload
	}
	return data
}
