package app

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

	"github.com/hitoshi/pitchday/internal/config"
)

func loadTestConfig(t *testing.T) *config.Config {
	t.Helper()
	setTestEnv(t)
	cfg, err := Init(io.Discard)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	return cfg
}

func TestNewServer_MemoryBackendServesHealthAndMetrics(t *testing.T) {
	cfg := loadTestConfig(t)

	be, err := openBackend(context.Background(), cfg)
	if err != nil {
		t.Fatalf("openBackend: %v", err)
	}
	defer be.close()

	srv := newServer(cfg, be)
	defer srv.close()

	ts := httptest.NewServer(srv.handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/health status = %d, want 200", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	for _, name := range []string{"pitchday_live_subscriptions", "pitchday_http_status_total"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("/metrics should expose %s", name)
		}
	}
}

func TestNewServer_ProtectedRoutesRequireSession(t *testing.T) {
	cfg := loadTestConfig(t)

	be, err := openBackend(context.Background(), cfg)
	if err != nil {
		t.Fatalf("openBackend: %v", err)
	}
	defer be.close()

	srv := newServer(cfg, be)
	defer srv.close()

	req := httptest.NewRequest(http.MethodGet, "/api/leaderboard", nil)
	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestRunServe_StopsOnContextCancel(t *testing.T) {
	cfg := loadTestConfig(t)
	cfg.ServerPort = "0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServe(ctx, cfg) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("runServe returned %v, want nil", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("runServe did not stop after cancel")
	}
}

func TestRun_WorkerRequiresPostgres(t *testing.T) {
	setTestEnv(t)

	err := Run(&bytes.Buffer{}, []string{"worker"})
	if err == nil || !strings.Contains(err.Error(), "STORE_BACKEND") {
		t.Errorf("Run(worker) = %v, want STORE_BACKEND error", err)
	}
}

func TestRun_MigrateRequiresPostgres(t *testing.T) {
	setTestEnv(t)

	if err := Run(&bytes.Buffer{}, []string{"migrate"}); err == nil {
		t.Error("Run(migrate) with memory backend should fail")
	}
}

func TestRun_SeedUsersRequiresPath(t *testing.T) {
	setTestEnv(t)

	err := Run(&bytes.Buffer{}, []string{"seed-users"})
	if err == nil || !strings.Contains(err.Error(), "usage") {
		t.Errorf("Run(seed-users) = %v, want usage error", err)
	}
}

func TestRun_SeedFromFiles(t *testing.T) {
	setTestEnv(t)
	dir := t.TempDir()

	usersPath := filepath.Join(dir, "users.yaml")
	users := "users:\n  - name: Ada\n    email: ada@fund.vc\n    company: Analytical Capital\n"
	if err := os.WriteFile(usersPath, []byte(users), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := Run(&bytes.Buffer{}, []string{"seed-users", usersPath}); err != nil {
		t.Errorf("Run(seed-users) = %v", err)
	}

	startupsPath := filepath.Join(dir, "startups.csv")
	csv := "id,name,logo,description,fullDescription,website,linkedin\n1,Acme Robotics,,Robots,,https://acme.example,\n"
	if err := os.WriteFile(startupsPath, []byte(csv), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := Run(&bytes.Buffer{}, []string{"seed-startups", startupsPath}); err != nil {
		t.Errorf("Run(seed-startups) = %v", err)
	}
}

func TestRun_SeedMissingFileReturnsError(t *testing.T) {
	setTestEnv(t)

	if err := Run(&bytes.Buffer{}, []string{"seed-startups", filepath.Join(t.TempDir(), "missing.csv")}); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestRun_ClearTestData(t *testing.T) {
	setTestEnv(t)

	if err := Run(&bytes.Buffer{}, []string{"clear-test-data"}); err != nil {
		t.Errorf("Run(clear-test-data) = %v", err)
	}
}

func TestRunHealthcheck_ServerNotRunning(t *testing.T) {
	if err := runHealthcheck("1"); err == nil {
		t.Error("expected error when no server is listening")
	}
}
