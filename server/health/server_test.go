// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/absmach/fluxbench/bench"
	"github.com/absmach/fluxbench/pool"
)

type mockPool struct {
	ready bool
	stats pool.Stats
}

func (m *mockPool) Ready() bool       { return m.ready }
func (m *mockPool) Stats() pool.Stats { return m.stats }

type mockRunner struct {
	phase bench.Phase
}

func (m *mockRunner) Phase() bench.Phase { return m.phase }

func TestAddrWithoutListener(t *testing.T) {
	server := New(Config{}, "run", nil, nil, slog.Default())
	if server.Addr() != "" {
		t.Fatalf("expected empty address before listen, got %q", server.Addr())
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := New(Config{}, "run", nil, nil, slog.Default())

	tests := []struct {
		name           string
		method         string
		expectedStatus int
	}{
		{
			name:           "GET request returns healthy",
			method:         http.MethodGet,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "POST request not allowed",
			method:         http.MethodPost,
			expectedStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "http://test/health", nil)
			rec := httptest.NewRecorder()

			server.handleHealth(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rec.Code)
			}

			if tt.expectedStatus == http.StatusOK {
				var response HealthResponse
				if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
					t.Fatalf("failed to decode response: %v", err)
				}
				if response.Status != "healthy" {
					t.Errorf("expected status healthy, got %q", response.Status)
				}
			}
		})
	}
}

func TestReadyEndpoint(t *testing.T) {
	tests := []struct {
		name           string
		pool           ClientPool
		method         string
		expectedStatus int
		expectedReady  bool
		expectedReason string
	}{
		{
			name:           "pool nil - not ready",
			pool:           nil,
			method:         http.MethodGet,
			expectedStatus: http.StatusServiceUnavailable,
			expectedReason: "client pool not initialized",
		},
		{
			name:           "clients connecting - not ready",
			pool:           &mockPool{ready: false},
			method:         http.MethodGet,
			expectedStatus: http.StatusServiceUnavailable,
			expectedReason: "clients not connected",
		},
		{
			name:           "clients subscribed - ready",
			pool:           &mockPool{ready: true},
			method:         http.MethodGet,
			expectedStatus: http.StatusOK,
			expectedReady:  true,
		},
		{
			name:           "POST request not allowed",
			pool:           &mockPool{ready: true},
			method:         http.MethodPost,
			expectedStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := New(Config{}, "run", tt.pool, nil, slog.Default())

			req := httptest.NewRequest(tt.method, "http://test/ready", nil)
			rec := httptest.NewRecorder()

			server.handleReady(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rec.Code)
			}
			if tt.expectedStatus == http.StatusMethodNotAllowed {
				return
			}

			var response ReadyResponse
			if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if tt.expectedReady && response.Status != "ready" {
				t.Errorf("expected ready status, got %q", response.Status)
			}
			if !tt.expectedReady && response.Status != "not_ready" {
				t.Errorf("expected not_ready status, got %q", response.Status)
			}
			if tt.expectedReason != "" && response.Details != tt.expectedReason {
				t.Errorf("expected details %q, got %q", tt.expectedReason, response.Details)
			}
		})
	}
}

func TestStatusEndpoint(t *testing.T) {
	p := &mockPool{
		ready: true,
		stats: pool.Stats{Handles: 5, Connected: 5, Received: 42, Dropped: 1},
	}
	server := New(Config{}, "run-7", p, &mockRunner{phase: bench.PhaseAwaitingCompletion}, slog.Default())

	req := httptest.NewRequest(http.MethodGet, "http://test/status", nil)
	rec := httptest.NewRecorder()
	server.handleStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var response StatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.RunID != "run-7" {
		t.Errorf("expected run id run-7, got %q", response.RunID)
	}
	if response.Phase != "awaiting_completion" {
		t.Errorf("expected phase awaiting_completion, got %q", response.Phase)
	}
	if !response.Ready || response.Clients != 5 || response.Received != 42 || response.Dropped != 1 {
		t.Errorf("unexpected status %+v", response)
	}

	empty := New(Config{}, "run", nil, nil, nil)
	rec = httptest.NewRecorder()
	empty.handleStatus(rec, httptest.NewRequest(http.MethodGet, "http://test/status", nil))
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Phase != "idle" {
		t.Errorf("expected idle phase, got %q", response.Phase)
	}
}

func TestServeAndShutdown(t *testing.T) {
	server := New(Config{Address: "127.0.0.1:0", ShutdownTimeout: time.Second}, "run", &mockPool{ready: true}, nil, slog.Default())
	if err := server.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()

	resp, err := http.Get("http://" + server.Addr() + "/ready")
	if err != nil {
		t.Fatalf("get /ready: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
