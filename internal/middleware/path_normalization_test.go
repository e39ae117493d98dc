package middleware

import (
	"testing"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected string
	}{
		// Static routes - no normalization
		{
			name:     "root path",
			path:     "/",
			expected: "/",
		},
		{
			name:     "webhooks collection",
			path:     "/webhooks",
			expected: "/webhooks",
		},
		{
			name:     "health endpoint",
			path:     "/health",
			expected: "/health",
		},
		{
			name:     "ready endpoint",
			path:     "/ready",
			expected: "/ready",
		},
		{
			name:     "metrics endpoint",
			path:     "/metrics",
			expected: "/metrics",
		},

		// Document patterns
		{
			name:     "document trail",
			path:     "/documents/123/trail",
			expected: "/documents/{id}/trail",
		},
		{
			name:     "document trail by uuid",
			path:     "/documents/550e8400-e29b-41d4-a716-446655440000/trail",
			expected: "/documents/{id}/trail",
		},
		{
			name:     "document trail export",
			path:     "/documents/123/trail/export",
			expected: "/documents/{id}/trail/export",
		},
		{
			name:     "document events",
			path:     "/documents/456/events",
			expected: "/documents/{id}/events",
		},
		{
			name:     "document live event stream",
			path:     "/documents/789/events/ws",
			expected: "/documents/{id}/events/ws",
		},

		// Webhook subscription patterns
		{
			name:     "webhook by id",
			path:     "/webhooks/sub-123",
			expected: "/webhooks/{id}",
		},
		{
			name:     "webhook by uuid",
			path:     "/webhooks/550e8400-e29b-41d4-a716-446655440000",
			expected: "/webhooks/{id}",
		},
		{
			name:     "webhook rotate secret",
			path:     "/webhooks/sub-456/rotate",
			expected: "/webhooks/{id}/rotate",
		},

		// Edge cases
		{
			name:     "trailing slash on collection",
			path:     "/webhooks/",
			expected: "/webhooks/",
		},
		{
			name:     "document without sub-resource",
			path:     "/documents/123",
			expected: "/documents/123",
		},
		{
			name:     "unknown route",
			path:     "/unknown/path",
			expected: "/unknown/path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := normalizePath(tt.path)
			if result != tt.expected {
				t.Errorf("normalizePath(%q) = %q, want %q", tt.path, result, tt.expected)
			}
		})
	}
}

func TestNormalizePath_CardinalityControl(t *testing.T) {
	// Test that different IDs normalize to the same pattern
	paths := []string{
		"/documents/1/trail",
		"/documents/2/trail",
		"/documents/999/trail",
		"/documents/550e8400-e29b-41d4-a716-446655440000/trail",
		"/documents/abc-def-ghi/trail",
	}

	expected := "/documents/{id}/trail"
	seen := make(map[string]bool)

	for _, path := range paths {
		result := normalizePath(path)
		if result != expected {
			t.Errorf("normalizePath(%q) = %q, want %q", path, result, expected)
		}
		seen[result] = true
	}

	// Should all normalize to the same pattern (low cardinality)
	if len(seen) != 1 {
		t.Errorf("Expected all paths to normalize to single pattern, got %d patterns: %v", len(seen), seen)
	}
}
