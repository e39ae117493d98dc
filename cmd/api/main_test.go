// Package main contains integration tests for the API server lifecycle.
package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"
)

// startTestServer serves the fully wired handler on an ephemeral port and
// returns the base URL plus a channel closed when Serve returns.
func startTestServer(t *testing.T, handler http.Handler) (*http.Server, string, chan struct{}) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	server := &http.Server{
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stopped := make(chan struct{})
	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			t.Errorf("server error: %v", err)
		}
		close(stopped)
	}()

	return server, "http://" + ln.Addr().String(), stopped
}

func TestServer_ServesWiredHandler(t *testing.T) {
	handler, _ := newTestRouter(t)
	server, baseURL, stopped := startTestServer(t, handler)
	defer func() {
		server.Close()
		<-stopped
	}()

	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /health status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestServer_GracefulShutdown(t *testing.T) {
	handler, _ := newTestRouter(t)
	server, baseURL, stopped := startTestServer(t, handler)

	// The server must be reachable before shutdown begins.
	resp, err := http.Get(baseURL + "/ready")
	if err != nil {
		t.Fatalf("GET /ready error = %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after shutdown")
	}

	// New connections are refused once the listener is closed.
	if _, err := http.Get(baseURL + "/health"); err == nil {
		t.Error("expected request after shutdown to fail")
	}
}
