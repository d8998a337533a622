package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/panels/internal/client"
)

func withHealthServer(t *testing.T, status int, body string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	prev := panelsClient
	panelsClient = client.NewHTTPClient(srv.URL, "")
	t.Cleanup(func() { panelsClient = prev })
	healthCmd.SetContext(context.Background())
}

func TestHealthCommand_OK(t *testing.T) {
	withHealthServer(t, http.StatusOK, `{"status":"ok"}`)
	if err := healthCmd.RunE(healthCmd, nil); err != nil {
		t.Fatalf("health: %v", err)
	}
}

func TestHealthCommand_Failing(t *testing.T) {
	withHealthServer(t, http.StatusServiceUnavailable, `{"error":"store unavailable"}`)
	err := healthCmd.RunE(healthCmd, nil)
	if err == nil || !strings.Contains(err.Error(), "rest unhealthy") {
		t.Fatalf("err = %v", err)
	}
}

func TestPrintProbes(t *testing.T) {
	var buf bytes.Buffer
	printProbes(&buf, []probe{
		{Endpoint: "rest", Address: "http://localhost:8080", Status: "ok", Latency: 3 * time.Millisecond},
		{Endpoint: "grpc", Address: "localhost:9090", Error: "connection refused"},
	})
	out := buf.String()
	if !strings.Contains(out, "rest") || !strings.Contains(out, "3ms") {
		t.Errorf("missing rest probe:\n%s", out)
	}
	if !strings.Contains(out, "connection refused") {
		t.Errorf("missing grpc error:\n%s", out)
	}
}
