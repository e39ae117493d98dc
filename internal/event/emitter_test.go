package event

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/inkmark/inkmark/internal/ledger"
	"github.com/inkmark/inkmark/internal/webhook"
)

type fakeDispatcher struct {
	calls []fakeDispatchCall
	err   error
}

type fakeDispatchCall struct {
	event string
	data  any
	opts  webhook.DispatchOptions
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, event string, data any, opts webhook.DispatchOptions) (*webhook.DispatchSummary, error) {
	f.calls = append(f.calls, fakeDispatchCall{event: event, data: data, opts: opts})
	if f.err != nil {
		return nil, f.err
	}
	return &webhook.DispatchSummary{DeliveryID: "delivery-1"}, nil
}

type fakeBroadcaster struct {
	events []*LiveEvent
}

func (f *fakeBroadcaster) Broadcast(documentID string, event *LiveEvent) {
	f.events = append(f.events, event)
}

type failingRepo struct{}

func (failingRepo) Append(ctx context.Context, e *ledger.Entry) error { return errors.New("db down") }
func (failingRepo) ListByDocument(ctx context.Context, documentID string) ([]*ledger.Entry, error) {
	return nil, errors.New("db down")
}

func newTestEmitter(t *testing.T, dispatcher Dispatcher, broadcaster Broadcaster) (*Emitter, *ledger.Service) {
	t.Helper()
	svc, err := ledger.NewService(ledger.NewInMemoryRepository(), nil)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return NewEmitter(svc, dispatcher, broadcaster, nil), svc
}

func TestIsKnownType(t *testing.T) {
	for _, typ := range Types() {
		if !IsKnownType(typ) {
			t.Errorf("IsKnownType(%q) = false, want true", typ)
		}
	}
	for _, typ := range []string{"", "document.unknown", "DOCUMENT.CREATED", "recipient.signed"} {
		if IsKnownType(typ) {
			t.Errorf("IsKnownType(%q) = true, want false", typ)
		}
	}
}

func TestEmitter_Emit_UnknownType(t *testing.T) {
	emitter, _ := newTestEmitter(t, nil, nil)

	_, err := emitter.Emit(context.Background(), Input{DocumentID: "doc-1", Type: "document.exploded"})
	if !errors.Is(err, ErrUnknownEventType) {
		t.Errorf("Emit() error = %v, want ErrUnknownEventType", err)
	}
}

func TestEmitter_Emit_AppendsAndFansOut(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	broadcaster := &fakeBroadcaster{}
	emitter, svc := newTestEmitter(t, dispatcher, broadcaster)

	payload := json.RawMessage(`{"recipientEmail":"ann@example.com"}`)
	result, err := emitter.Emit(context.Background(), Input{
		DocumentID:  "doc-1",
		Type:        TypeDocumentSigned,
		UserID:      "user-1",
		RecipientID: "rcpt-1",
		TeamID:      "team-1",
		Payload:     payload,
	})
	if err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	if result.Entry == nil || result.Entry.EntryHash == "" {
		t.Fatal("Emit() should return the appended entry with its hash")
	}
	if result.Dispatch == nil || result.Dispatch.DeliveryID != "delivery-1" {
		t.Errorf("Emit() dispatch summary = %+v", result.Dispatch)
	}

	trail, err := svc.ReadTrail(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("ReadTrail() error = %v", err)
	}
	if len(trail.Entries) != 1 || !trail.Valid {
		t.Errorf("trail entries = %d, valid = %v; want 1, true", len(trail.Entries), trail.Valid)
	}

	if len(dispatcher.calls) != 1 {
		t.Fatalf("dispatch calls = %d, want 1", len(dispatcher.calls))
	}
	call := dispatcher.calls[0]
	if call.event != TypeDocumentSigned {
		t.Errorf("dispatched event = %q, want %q", call.event, TypeDocumentSigned)
	}
	if call.opts.TeamID != "team-1" {
		t.Errorf("dispatch team scope = %q, want team-1", call.opts.TeamID)
	}
	data, ok := call.data.(map[string]any)
	if !ok {
		t.Fatalf("dispatch data type = %T, want map", call.data)
	}
	if data["documentId"] != "doc-1" || data["userId"] != "user-1" || data["recipientId"] != "rcpt-1" {
		t.Errorf("dispatch data = %v", data)
	}

	if len(broadcaster.events) != 1 {
		t.Fatalf("broadcast events = %d, want 1", len(broadcaster.events))
	}
	if broadcaster.events[0].EntryID != result.Entry.ID {
		t.Error("broadcast event should reference the appended entry")
	}
}

func TestEmitter_Emit_AppendFailureIsFatal(t *testing.T) {
	svc, err := ledger.NewService(failingRepo{}, nil)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	dispatcher := &fakeDispatcher{}
	emitter := NewEmitter(svc, dispatcher, nil, nil)

	_, err = emitter.Emit(context.Background(), Input{DocumentID: "doc-1", Type: TypeDocumentCreated})
	if err == nil {
		t.Fatal("Emit() should fail when the audit append fails")
	}
	if len(dispatcher.calls) != 0 {
		t.Error("nothing should be dispatched when the audit append fails")
	}
}

func TestEmitter_Emit_DispatchFailureNotPropagated(t *testing.T) {
	dispatcher := &fakeDispatcher{err: errors.New("subscription store down")}
	emitter, svc := newTestEmitter(t, dispatcher, nil)

	result, err := emitter.Emit(context.Background(), Input{DocumentID: "doc-1", Type: TypeDocumentCreated})
	if err != nil {
		t.Fatalf("Emit() error = %v, dispatch failure must not propagate", err)
	}
	if result.Dispatch != nil {
		t.Error("dispatch summary should be nil on dispatch failure")
	}

	// The audit entry is still recorded.
	trail, err := svc.ReadTrail(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("ReadTrail() error = %v", err)
	}
	if len(trail.Entries) != 1 {
		t.Errorf("trail entries = %d, want 1", len(trail.Entries))
	}
}

func TestEmitter_Emit_NilFanOut(t *testing.T) {
	emitter, _ := newTestEmitter(t, nil, nil)

	result, err := emitter.Emit(context.Background(), Input{DocumentID: "doc-1", Type: TypeRecipientViewed})
	if err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	if result.Entry == nil {
		t.Error("Emit() should return the appended entry")
	}
	if result.Dispatch != nil {
		t.Error("dispatch summary should be nil without a dispatcher")
	}
}
