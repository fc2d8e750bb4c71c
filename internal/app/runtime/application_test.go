package runtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/veritrace/platform/internal/config"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Paths.LogsDir = ""
	cfg.Ledger.LogPath = ""
	return cfg
}

func TestNewApplicationInMemory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "veritrace.yaml")
	raw := strings.Join([]string{
		"server:",
		"  host: 127.0.0.1",
		"  port: 8123",
		"  ops_port: 0",
		`paths:`,
		`  logs_dir: ""`,
		`ledger:`,
		`  log_path: ""`,
	}, "\n")
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	rt, err := NewApplication(path)
	if err != nil {
		t.Fatalf("NewApplication: %v", err)
	}
	defer rt.Shutdown(context.Background())

	if rt.ops != nil {
		t.Fatal("ops server should be nil when ops_port is 0")
	}
	if rt.api.Addr != "127.0.0.1:8123" {
		t.Fatalf("api addr = %q, want 127.0.0.1:8123", rt.api.Addr)
	}
	if rt.db != nil {
		t.Fatal("no database handle expected without a DSN")
	}

	rec := httptest.NewRecorder()
	rt.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /healthz status = %d", rec.Code)
	}
	if rec.Header().Get("X-Trace-ID") == "" {
		t.Fatal("response missing X-Trace-ID header")
	}

	rec = httptest.NewRecorder()
	rt.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /status status = %d, body %s", rec.Code, rec.Body.String())
	}
	var status struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status body: %v", err)
	}
	if status.Status != "operational" {
		t.Fatalf("platform status = %q, want operational", status.Status)
	}
}

func TestNewApplicationRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("auth:\n  enabled: true\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := NewApplication(path); err == nil {
		t.Fatal("expected error when auth is enabled without a jwt secret")
	}
}

func TestAuthChainGatesWrites(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Enabled = true
	cfg.Auth.JWTSecret = "runtime-test-secret"
	cfg.Auth.AdminPassword = "pw"

	rt, err := NewWithConfig(cfg)
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}
	defer rt.Shutdown(context.Background())

	rec := httptest.NewRecorder()
	rt.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/datasets", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("anonymous read status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pipeline/runs", strings.NewReader("{}"))
	rt.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous write status = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	rt.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /healthz status = %d, want 200 on auth skip path", rec.Code)
	}
}

func TestOpsHandlerEndpoints(t *testing.T) {
	h := opsHandler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics status = %d", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "veritrace_http_inflight_requests") {
		t.Fatal("metrics output missing platform collectors")
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /healthz status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /debug/pprof/ status = %d", rec.Code)
	}
}

func TestLoadConfigMissingFileFallsBack(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Fatalf("default port = %d, want 8000", cfg.Server.Port)
	}
}
