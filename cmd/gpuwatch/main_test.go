package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/gpuwatchhq/gpuwatch/internal/clock"
	"github.com/gpuwatchhq/gpuwatch/internal/config"
	"github.com/gpuwatchhq/gpuwatch/internal/events"
	"github.com/gpuwatchhq/gpuwatch/internal/health"
	"github.com/gpuwatchhq/gpuwatch/internal/metrics"
	"github.com/gpuwatchhq/gpuwatch/pkg/types"
)

func get(t *testing.T, srv *httptest.Server, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestMonitoringEndpoints(t *testing.T) {
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	c := clock.Fake(now)
	store := metrics.NewStore()
	checker := health.NewChecker(store, 3*time.Minute)
	srv := httptest.NewServer(newMonitoringMux(store, checker, c))
	defer srv.Close()

	if code, _ := get(t, srv, "/healthz"); code != http.StatusOK {
		t.Fatalf("expected healthz 200, got %d", code)
	}

	code, body := get(t, srv, "/readyz")
	if code != http.StatusServiceUnavailable {
		t.Fatalf("expected readyz 503 before first poll, got %d", code)
	}
	if !strings.Contains(body, "no successful poll yet") {
		t.Fatalf("unexpected readyz body %q", body)
	}

	events.NewMulti(store, checker).Record(events.New(types.EventPollSucceeded, now, map[string]any{events.DetailEligibleCount: 2}))
	if code, body := get(t, srv, "/readyz"); code != http.StatusOK {
		t.Fatalf("expected readyz 200 after poll, got %d: %s", code, body)
	}

	code, body = get(t, srv, "/metrics")
	if code != http.StatusOK {
		t.Fatalf("expected metrics 200, got %d", code)
	}
	for _, want := range []string{"gpuwatch_eligible_resources 2", "gpuwatch_ready 1"} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in metrics output", want)
		}
	}
}

func TestServeMonitoringStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serveMonitoring(ctx, "127.0.0.1:0", metrics.NewStore(), nil, clock.Real(), zerolog.Nop())
	}()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serveMonitoring returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("monitoring server did not stop")
	}
}

func TestRunInitWritesSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	var out bytes.Buffer
	if err := runInit([]string{"--config", path}, &out); err != nil {
		t.Fatalf("runInit returned error: %v", err)
	}
	if !strings.Contains(out.String(), path) {
		t.Fatalf("unexpected output %q", out.String())
	}
	if _, err := config.Load(context.Background(), path); err != nil {
		t.Fatalf("sample config does not load: %v", err)
	}
	if err := runInit([]string{"--config", path}, &out); err == nil {
		t.Fatal("expected second init to refuse overwrite")
	}
}

func TestRunFailsWithoutConfig(t *testing.T) {
	err := run(context.Background(), []string{"--config", filepath.Join(t.TempDir(), "absent.yaml"), "--metrics-addr", ""})
	if err == nil || !strings.Contains(err.Error(), "failed to load config") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunRejectsBadPublicKey(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "config.pub")
	if err := os.WriteFile(keyPath, []byte("not a key"), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	err := run(context.Background(), []string{"--config-pubkey", keyPath})
	if err == nil || !strings.Contains(err.Error(), "load config public key") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPrintUsage(t *testing.T) {
	var out bytes.Buffer
	printUsage(&out)
	for _, want := range []string{"gpuwatch run", "gpuwatch probe", "gpuwatch init"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("expected %q in usage", want)
		}
	}
}
