package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func profiledHandler(cfg ProfilingConfig) http.Handler {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("api response"))
	})
	return Profiling(cfg)(inner)
}

func TestProfiling_PassThrough(t *testing.T) {
	tests := []struct {
		name string
		cfg  ProfilingConfig
		path string
	}{
		{
			name: "disabled ignores pprof paths",
			cfg:  ProfilingConfig{Enabled: false, Environment: "development"},
			path: "/debug/pprof/",
		},
		{
			name: "production refuses pprof even when enabled",
			cfg:  ProfilingConfig{Enabled: true, Environment: "production"},
			path: "/debug/pprof/",
		},
		{
			name: "api routes bypass profiling",
			cfg:  ProfilingConfig{Enabled: true, Environment: "development"},
			path: "/documents/doc-1/trail",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()
			profiledHandler(tt.cfg).ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
			}
			if body := rec.Body.String(); body != "api response" {
				t.Errorf("body = %q, want the wrapped handler's response", body)
			}
		})
	}
}

func TestProfiling_ServesProfiles(t *testing.T) {
	cfg := ProfilingConfig{Enabled: true, Environment: "development"}

	// The index page plus the profile types worth grabbing from a
	// running dispatcher under load.
	paths := []string{
		"/debug/pprof/",
		"/debug/pprof/heap",
		"/debug/pprof/goroutine",
		"/debug/pprof/profile?seconds=1",
	}
	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			rec := httptest.NewRecorder()
			profiledHandler(cfg).ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Errorf("GET %s status = %d, want %d", path, rec.Code, http.StatusOK)
			}
		})
	}
}

func TestProfilingStatus(t *testing.T) {
	tests := []struct {
		name         string
		cfg          ProfilingConfig
		wantEnabled  string
		wantStatus   string
		wantEndpoint bool
	}{
		{
			name:        "disabled in production",
			cfg:         ProfilingConfig{Enabled: false, Environment: "production"},
			wantEnabled: `"profiling_enabled": false`,
			wantStatus:  `"status": "disabled"`,
		},
		{
			name:         "enabled in development",
			cfg:          ProfilingConfig{Enabled: true, Environment: "development"},
			wantEnabled:  `"profiling_enabled": true`,
			wantStatus:   `"status": "enabled"`,
			wantEndpoint: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/profiling/status", nil)
			rec := httptest.NewRecorder()
			ProfilingStatus(tt.cfg).ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
			}
			body := rec.Body.String()
			if !strings.Contains(body, tt.wantEnabled) {
				t.Errorf("body %q missing %q", body, tt.wantEnabled)
			}
			if !strings.Contains(body, tt.wantStatus) {
				t.Errorf("body %q missing %q", body, tt.wantStatus)
			}
			if tt.wantEndpoint && !strings.Contains(body, "/debug/pprof/") {
				t.Errorf("body %q missing endpoint list", body)
			}
		})
	}
}

func BenchmarkProfiling_NormalRoute(b *testing.B) {
	wrapped := profiledHandler(ProfilingConfig{Enabled: true, Environment: "development"})
	req := httptest.NewRequest(http.MethodGet, "/webhooks", nil)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)
	}
}
