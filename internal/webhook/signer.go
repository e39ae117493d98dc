package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Delivery request headers.
const (
	// HeaderSignature carries the hex HMAC-SHA256 of the raw request body,
	// keyed with the subscription secret.
	HeaderSignature = "X-Webhook-Signature"
	// HeaderEvent carries the event type.
	HeaderEvent = "X-Webhook-Event"
	// HeaderDelivery carries the correlation id shared by all attempts of
	// one logical dispatch.
	HeaderDelivery = "X-Webhook-Delivery"
	// HeaderRetry carries the retry count, present only on retried deliveries.
	HeaderRetry = "X-Webhook-Retry"
)

// Sign computes the hex HMAC-SHA256 signature of a payload with the given
// secret. Receivers recompute this over the raw request body to verify
// authenticity.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether a signature matches the payload and
// secret, using a constant-time comparison.
func VerifySignature(payload []byte, secret, signature string) bool {
	expected := Sign(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
