// Package webhook provides outbound webhook delivery for document lifecycle
// events: signed payloads, durable delivery history, and bounded retry of
// transient failures.
package webhook

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// SecretLength is the number of random bytes in a generated subscription secret.
const SecretLength = 32

// Subscription represents a registered delivery target.
type Subscription struct {
	ID        string
	OwnerID   string
	TeamID    string // optional scope
	URL       string
	Events    []string // event types this subscription receives
	Secret    string   // HMAC key for payload signatures
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Subscribed reports whether the subscription listens for the given event type.
func (s *Subscription) Subscribed(event string) bool {
	for _, e := range s.Events {
		if e == event {
			return true
		}
	}
	return false
}

// DeliveryRecord is the outcome of one delivery attempt (initial or retry).
// Created on every attempt, never mutated.
type DeliveryRecord struct {
	ID             string
	SubscriptionID string
	DeliveryID     string // correlates all attempts of one logical dispatch
	Event          string
	Success        bool
	StatusCode     int
	StatusText     string
	RetryCount     int
	CreatedAt      time.Time
}

// RetryTask is the pending retry state for a failed delivery.
// Deleted on success, on reaching the retry ceiling, on a non-retryable
// failure, or when the owning subscription becomes inactive.
type RetryTask struct {
	ID             string
	SubscriptionID string
	DeliveryID     string
	Event          string
	Payload        []byte // raw envelope bytes, re-signed verbatim on retry
	RetryCount     int    // 0-based; number of retries already attempted
	NextRetryAt    time.Time
	LastError      string
	CreatedAt      time.Time
}

// GenerateSecret returns a cryptographically random subscription secret
// encoded as a fixed-width hex string.
func GenerateSecret() (string, error) {
	buf := make([]byte, SecretLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate webhook secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
