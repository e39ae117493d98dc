package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/inkmark/inkmark/internal/auth"
	"github.com/inkmark/inkmark/internal/config"
	"github.com/inkmark/inkmark/internal/event"
	"github.com/inkmark/inkmark/internal/ledger"
	"github.com/inkmark/inkmark/internal/middleware"
	"github.com/inkmark/inkmark/internal/webhook"
)

const routerTestSecret = "router-test-secret"

func newTestRouter(t *testing.T) (http.Handler, *auth.JWTService) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ledgerRepo := ledger.NewInMemoryRepository()
	ledgerSvc, err := ledger.NewService(ledgerRepo, logger)
	if err != nil {
		t.Fatalf("NewService() failed: %v", err)
	}

	subsRepo := webhook.NewInMemorySubscriptionRepository()
	dispatcher := webhook.NewDispatcher(subsRepo, webhook.NewInMemoryDeliveryRepository(), webhook.NewInMemoryRetryRepository(), webhook.DispatcherConfig{Logger: logger})
	broadcaster := event.NewWSBroadcaster()
	emitter := event.NewEmitter(ledgerSvc, dispatcher, broadcaster, logger)

	metrics := middleware.NewMetrics()
	registry := prometheus.NewRegistry()
	if err := metrics.Register(registry); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	jwtService := auth.NewJWTService(routerTestSecret)

	handler := buildHandler(routerDeps{
		cfg:         &config.Config{Env: config.DefaultEnv},
		logger:      logger,
		registry:    registry,
		httpMetrics: metrics,
		rateStore:   middleware.NewInMemoryRateLimitStore(),
		jwtService:  jwtService,
		subsRepo:    subsRepo,
		ledgerSvc:   ledgerSvc,
		emitter:     emitter,
		broadcaster: broadcaster,
	})
	return handler, jwtService
}

func bearerFor(t *testing.T, svc *auth.JWTService, userID string) string {
	t.Helper()
	token, err := svc.GenerateAccessToken(userID, userID+"@example.com")
	if err != nil {
		t.Fatalf("GenerateAccessToken() failed: %v", err)
	}
	return "Bearer " + token
}

func TestRouter_WebhookLifecycle(t *testing.T) {
	handler, jwtService := newTestRouter(t)
	authz := bearerFor(t, jwtService, "usr_router")

	// Create
	body, _ := json.Marshal(map[string]any{
		"url":    "https://example.com/hooks",
		"events": []string{event.TypeDocumentSigned},
	})
	req := httptest.NewRequest(http.MethodPost, "/webhooks", bytes.NewReader(body))
	req.Header.Set("Authorization", authz)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /webhooks status = %d, want 201 (body: %s)", w.Code, w.Body.String())
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode create response: %v", err)
	}

	// Get
	req = httptest.NewRequest(http.MethodGet, "/webhooks/"+created.ID, nil)
	req.Header.Set("Authorization", authz)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("GET /webhooks/{id} status = %d, want 200", w.Code)
	}

	// Rotate
	req = httptest.NewRequest(http.MethodPost, "/webhooks/"+created.ID+"/rotate", nil)
	req.Header.Set("Authorization", authz)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("POST /webhooks/{id}/rotate status = %d, want 200", w.Code)
	}

	// Delete
	req = httptest.NewRequest(http.MethodDelete, "/webhooks/"+created.ID, nil)
	req.Header.Set("Authorization", authz)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("DELETE /webhooks/{id} status = %d, want 204", w.Code)
	}
}

func TestRouter_EventIngestAndTrail(t *testing.T) {
	handler, jwtService := newTestRouter(t)
	authz := bearerFor(t, jwtService, "usr_router")

	body, _ := json.Marshal(map[string]any{
		"event_type": event.TypeDocumentSigned,
		"payload":    map[string]string{"field": "signature"},
	})
	req := httptest.NewRequest(http.MethodPost, "/documents/doc-1/events", bytes.NewReader(body))
	req.Header.Set("Authorization", authz)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /documents/{id}/events status = %d, want 201 (body: %s)", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/documents/doc-1/trail", nil)
	req.Header.Set("Authorization", authz)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /documents/{id}/trail status = %d, want 200", w.Code)
	}

	var trail struct {
		Valid   bool              `json:"valid"`
		Entries []json.RawMessage `json:"entries"`
	}
	if err := json.NewDecoder(w.Body).Decode(&trail); err != nil {
		t.Fatalf("failed to decode trail: %v", err)
	}
	if !trail.Valid || len(trail.Entries) != 1 {
		t.Errorf("trail valid=%v entries=%d, want valid with 1 entry", trail.Valid, len(trail.Entries))
	}

	req = httptest.NewRequest(http.MethodGet, "/documents/doc-1/trail/export?format=csv", nil)
	req.Header.Set("Authorization", authz)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("GET export status = %d, want 200", w.Code)
	}
}

func TestRouter_AuthRequired(t *testing.T) {
	handler, _ := newTestRouter(t)

	protected := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/webhooks"},
		{http.MethodPost, "/webhooks"},
		{http.MethodGet, "/webhooks/some-id"},
		{http.MethodPost, "/documents/doc-1/events"},
		{http.MethodGet, "/documents/doc-1/trail"},
		{http.MethodGet, "/documents/doc-1/trail/export"},
	}

	for _, tt := range protected {
		req := httptest.NewRequest(tt.method, tt.path, nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without token: status = %d, want 401", tt.method, tt.path, w.Code)
		}
	}
}

func TestRouter_PublicEndpoints(t *testing.T) {
	handler, _ := newTestRouter(t)

	public := []string{"/", "/health", "/ready", "/metrics"}
	for _, path := range public {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, w.Code)
		}
	}
}

func TestRouter_UnknownRoute(t *testing.T) {
	handler, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	handler, jwtService := newTestRouter(t)
	authz := bearerFor(t, jwtService, "usr_router")

	req := httptest.NewRequest(http.MethodPut, "/webhooks", nil)
	req.Header.Set("Authorization", authz)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("PUT /webhooks status = %d, want 405", w.Code)
	}
}

func TestRouter_RateLimitHeaders(t *testing.T) {
	handler, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Header().Get("X-RateLimit-Limit") == "" {
		t.Error("expected X-RateLimit-Limit header on responses")
	}
	if w.Header().Get("X-RateLimit-Remaining") == "" {
		t.Error("expected X-RateLimit-Remaining header on responses")
	}
}
