// Package api provides HTTP handlers for the Inkmark API.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/inkmark/inkmark/internal/event"
	"github.com/inkmark/inkmark/internal/middleware"
	"github.com/inkmark/inkmark/internal/webhook"
)

// CreateSubscriptionRequest represents the request body for creating a webhook subscription.
// Secret is optional; when absent a random one is generated server-side.
type CreateSubscriptionRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	TeamID string   `json:"team_id,omitempty"`
	Secret string   `json:"secret,omitempty"`
}

// UpdateSubscriptionRequest represents the request body for updating a subscription.
// Only includes mutable fields; the secret is regenerated via a dedicated endpoint.
type UpdateSubscriptionRequest struct {
	URL      *string  `json:"url,omitempty"`
	Events   []string `json:"events,omitempty"`
	IsActive *bool    `json:"is_active,omitempty"`
}

// SubscriptionResponse is the API shape of a webhook subscription.
// The signing secret is only included on creation and rotation.
type SubscriptionResponse struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Events    []string  `json:"events"`
	TeamID    string    `json:"team_id,omitempty"`
	IsActive  bool      `json:"is_active"`
	Secret    string    `json:"secret,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// minSuppliedSecretLength is the minimum length for a caller-supplied
// signing secret. Short HMAC keys are trivially brute-forced.
const minSuppliedSecretLength = 16

// SubscriptionHandlers holds dependencies for webhook subscription HTTP handlers.
type SubscriptionHandlers struct {
	repo webhook.SubscriptionRepository
}

// NewSubscriptionHandlers creates a new SubscriptionHandlers instance.
func NewSubscriptionHandlers(repo webhook.SubscriptionRepository) *SubscriptionHandlers {
	return &SubscriptionHandlers{repo: repo}
}

// validateWebhookURL validates a subscription endpoint URL.
// Returns error message if validation fails, empty string if valid.
func validateWebhookURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "url is required"
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "url is not a valid URL"
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "url must use http or https"
	}
	if u.Host == "" {
		return "url must include a host"
	}
	return ""
}

// validateEventList checks that every subscribed event type is recognized.
// Returns error message if validation fails, empty string if valid.
func validateEventList(events []string) string {
	if len(events) == 0 {
		return "at least one event type is required"
	}
	for _, e := range events {
		if !event.IsKnownType(e) {
			return "unknown event type: " + e
		}
	}
	return ""
}

func subscriptionResponse(sub *webhook.Subscription, includeSecret bool) SubscriptionResponse {
	resp := SubscriptionResponse{
		ID:        sub.ID,
		URL:       sub.URL,
		Events:    sub.Events,
		TeamID:    sub.TeamID,
		IsActive:  sub.IsActive,
		CreatedAt: sub.CreatedAt,
		UpdatedAt: sub.UpdatedAt,
	}
	if includeSecret {
		resp.Secret = sub.Secret
	}
	return resp
}

// ownerFromContext resolves the authenticated account for owner scoping.
func ownerFromContext(r *http.Request) string {
	return middleware.GetUserID(r.Context())
}

// CreateSubscription handles POST /webhooks - registers a new webhook subscription.
// The signing secret may be supplied by the caller; otherwise it is generated
// server-side. Either way it is returned once in the response.
func (h *SubscriptionHandlers) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	ownerID := ownerFromContext(r)
	if ownerID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return
	}

	var req CreateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	if errMsg := validateWebhookURL(req.URL); errMsg != "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInvalidWebhookURL)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidWebhookURL, errMsg)
		return
	}

	if errMsg := validateEventList(req.Events); errMsg != "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeNoSubscribedEvents)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeNoSubscribedEvents, errMsg)
		return
	}

	secret := strings.TrimSpace(req.Secret)
	if secret == "" {
		var err error
		secret, err = webhook.GenerateSecret()
		if err != nil {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to generate signing secret")
			return
		}
	} else if len(secret) < minSuppliedSecretLength {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "secret must be at least 16 characters")
		return
	}

	now := time.Now().UTC()
	sub := &webhook.Subscription{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		TeamID:    req.TeamID,
		URL:       strings.TrimSpace(req.URL),
		Events:    req.Events,
		Secret:    secret,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.repo.Create(r.Context(), sub); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to create subscription")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(subscriptionResponse(sub, true))
}

// ListSubscriptions handles GET /webhooks - lists the caller's subscriptions.
func (h *SubscriptionHandlers) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	ownerID := ownerFromContext(r)
	if ownerID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return
	}

	subs, err := h.repo.ListByOwner(r.Context(), ownerID)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to list subscriptions")
		return
	}

	resp := make([]SubscriptionResponse, 0, len(subs))
	for _, sub := range subs {
		resp = append(resp, subscriptionResponse(sub, false))
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"subscriptions": resp})
}

// GetSubscription handles GET /webhooks/{id}.
func (h *SubscriptionHandlers) GetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(subscriptionResponse(sub, false))
}

// UpdateSubscription handles PATCH /webhooks/{id} - updates URL, events, or active state.
func (h *SubscriptionHandlers) UpdateSubscription(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	var req UpdateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	if req.URL != nil {
		if errMsg := validateWebhookURL(*req.URL); errMsg != "" {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeInvalidWebhookURL)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidWebhookURL, errMsg)
			return
		}
		sub.URL = strings.TrimSpace(*req.URL)
	}
	if req.Events != nil {
		if errMsg := validateEventList(req.Events); errMsg != "" {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNoSubscribedEvents)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeNoSubscribedEvents, errMsg)
			return
		}
		sub.Events = req.Events
	}
	if req.IsActive != nil {
		sub.IsActive = *req.IsActive
	}
	sub.UpdatedAt = time.Now().UTC()

	if err := h.repo.Update(r.Context(), sub); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to update subscription")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(subscriptionResponse(sub, false))
}

// RotateSecret handles POST /webhooks/{id}/rotate - regenerates the signing secret.
// The new secret is returned once; deliveries signed with the old secret stop immediately.
func (h *SubscriptionHandlers) RotateSecret(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	secret, err := webhook.GenerateSecret()
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to generate signing secret")
		return
	}
	sub.Secret = secret
	sub.UpdatedAt = time.Now().UTC()

	if err := h.repo.Update(r.Context(), sub); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to rotate secret")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(subscriptionResponse(sub, true))
}

// DeleteSubscription handles DELETE /webhooks/{id}.
func (h *SubscriptionHandlers) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	if err := h.repo.Delete(r.Context(), sub.ID); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to delete subscription")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// loadOwned extracts the subscription ID from the path, loads it, and checks
// ownership. Writes the error response and returns ok=false on failure.
func (h *SubscriptionHandlers) loadOwned(w http.ResponseWriter, r *http.Request) (*webhook.Subscription, bool) {
	ownerID := ownerFromContext(r)
	if ownerID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return nil, false
	}

	pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/webhooks/"), "/")
	if len(pathParts) == 0 || pathParts[0] == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Subscription ID is required")
		return nil, false
	}
	id := pathParts[0]

	sub, err := h.repo.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, webhook.ErrSubscriptionNotFound) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Subscription not found")
			return nil, false
		}
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to load subscription")
		return nil, false
	}

	// Not-found rather than forbidden: do not leak other owners' subscription IDs.
	if sub.OwnerID != ownerID {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Subscription not found")
		return nil, false
	}

	return sub, true
}
