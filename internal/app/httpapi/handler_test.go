package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	app "github.com/veritrace/platform/internal/app"
	"github.com/veritrace/platform/internal/config"
	"github.com/veritrace/platform/internal/logging"
	"github.com/veritrace/platform/internal/middleware"
)

const spikeCSV = "id,amount\n1,10\n2,11\n3,9\n4,10\n5,12\n6,8\n7,10\n8,11\n9,9\n10,10\n11,10\n12,1000\n"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.ProcessedDir = filepath.Join(t.TempDir(), "processed")
	cfg.Paths.LogsDir = ""
	cfg.Ledger.LogPath = ""
	return cfg
}

func newTestHandler(t *testing.T, cfg *config.Config, stores app.Stores) (http.Handler, *app.Application) {
	t.Helper()
	application, err := app.New(cfg, stores, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("start application: %v", err)
	}
	t.Cleanup(func() { _ = application.Stop(context.Background()) })
	return NewHandler(application), application
}

func writeSource(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write source file: %v", err)
	}
	return path
}

func marshal(t *testing.T, v any) []byte {
	t.Helper()
	buf, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return buf
}

func doRequest(handler http.Handler, method, url string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, url, bytes.NewReader(body))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp
}

func decodeBody(t *testing.T, resp *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(resp.Body.Bytes(), dst); err != nil {
		t.Fatalf("unmarshal response %s: %v", resp.Body.String(), err)
	}
}

func errorCode(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	decodeBody(t, resp, &envelope)
	if envelope.Error.Code == "" {
		t.Fatalf("expected an error envelope, got %s", resp.Body.String())
	}
	return envelope.Error.Code
}

func TestHandlerPipelineLifecycle(t *testing.T) {
	handler, _ := newTestHandler(t, testConfig(t), app.Stores{})
	src := writeSource(t, "transactions.csv", spikeCSV)

	resp := doRequest(handler, http.MethodPost, "/api/v1/pipeline/runs",
		marshal(t, map[string]any{"source_path": src, "branch": "main"}))
	if resp.Code != http.StatusCreated {
		t.Fatalf("create run status = %d, body %s", resp.Code, resp.Body.String())
	}
	var run struct {
		ID            string `json:"id"`
		Status        string `json:"status"`
		RowsProcessed int    `json:"rows_processed"`
		AnomalyCount  int    `json:"anomaly_count"`
		CommitID      string `json:"commit_id"`
		TransactionID string `json:"transaction_id"`
		OutputPath    string `json:"output_path"`
	}
	decodeBody(t, resp, &run)
	if run.Status != "succeeded" || run.RowsProcessed != 12 || run.AnomalyCount != 1 {
		t.Fatalf("unexpected run summary %+v", run)
	}
	if run.CommitID == "" || run.TransactionID == "" {
		t.Fatalf("expected commit and transaction ids, got %+v", run)
	}

	resp = doRequest(handler, http.MethodGet, "/api/v1/pipeline/runs", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("list runs status = %d", resp.Code)
	}
	var runs []json.RawMessage
	decodeBody(t, resp, &runs)
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}

	resp = doRequest(handler, http.MethodGet, "/api/v1/pipeline/runs/"+run.ID, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("get run status = %d", resp.Code)
	}

	resp = doRequest(handler, http.MethodGet, "/api/v1/pipeline/runs/no-such-run", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("get missing run status = %d", resp.Code)
	}
	if code := errorCode(t, resp); code != "NOT_FOUND" {
		t.Fatalf("error code = %q, want NOT_FOUND", code)
	}

	resp = doRequest(handler, http.MethodPost, "/api/v1/pipeline/runs",
		marshal(t, map[string]any{"source_path": "/nowhere/else.csv"}))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("missing source status = %d, body %s", resp.Code, resp.Body.String())
	}

	resp = doRequest(handler, http.MethodPost, "/api/v1/pipeline/runs", marshal(t, map[string]any{}))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("empty request status = %d", resp.Code)
	}

	resp = doRequest(handler, http.MethodGet, "/api/v1/audit/records", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("list audit records status = %d", resp.Code)
	}
	var records []struct {
		TransactionID string `json:"transaction_id"`
		Operation     string `json:"operation"`
	}
	decodeBody(t, resp, &records)
	if len(records) != 1 || records[0].Operation != "pipeline_run" {
		t.Fatalf("unexpected audit records %+v", records)
	}

	resp = doRequest(handler, http.MethodGet, "/api/v1/audit/records/"+run.TransactionID, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("get audit record status = %d", resp.Code)
	}

	resp = doRequest(handler, http.MethodGet, "/api/v1/audit/records/"+run.TransactionID+"/verify", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("verify record status = %d", resp.Code)
	}
	var verification struct {
		Valid  bool   `json:"valid"`
		Reason string `json:"reason"`
	}
	decodeBody(t, resp, &verification)
	if !verification.Valid {
		t.Fatalf("expected a valid record, reason %q", verification.Reason)
	}

	resp = doRequest(handler, http.MethodGet, "/api/v1/audit/verify", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("verify chain status = %d", resp.Code)
	}
	var chain struct {
		Checked int  `json:"checked"`
		Valid   bool `json:"valid"`
	}
	decodeBody(t, resp, &chain)
	if chain.Checked != 1 || !chain.Valid {
		t.Fatalf("unexpected chain verification %+v", chain)
	}

	resp = doRequest(handler, http.MethodGet, "/api/v1/version/commits?branch=main", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("list commits status = %d", resp.Code)
	}
	var commits []struct {
		ID string `json:"commit_id"`
	}
	decodeBody(t, resp, &commits)
	if len(commits) != 1 || commits[0].ID != run.CommitID {
		t.Fatalf("unexpected commits %+v", commits)
	}

	resp = doRequest(handler, http.MethodGet, "/api/v1/version/commits/"+run.CommitID, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("get commit status = %d", resp.Code)
	}
	resp = doRequest(handler, http.MethodGet, "/api/v1/version/branches", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("list branches status = %d", resp.Code)
	}

	resp = doRequest(handler, http.MethodGet, "/api/v1/datasets", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("list datasets status = %d", resp.Code)
	}
	var datasets []struct {
		ID   string `json:"id"`
		Path string `json:"path"`
	}
	decodeBody(t, resp, &datasets)
	if len(datasets) != 1 || datasets[0].Path != run.OutputPath {
		t.Fatalf("unexpected datasets %+v", datasets)
	}

	resp = doRequest(handler, http.MethodGet, "/api/v1/datasets/search?q=transactions", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("search datasets status = %d", resp.Code)
	}
	decodeBody(t, resp, &datasets)
	if len(datasets) != 1 {
		t.Fatalf("expected search hit, got %+v", datasets)
	}

	resp = doRequest(handler, http.MethodGet, "/api/v1/audit/trail", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("audit trail status = %d", resp.Code)
	}
	var trail []struct {
		User   string `json:"user"`
		Method string `json:"method"`
		Path   string `json:"path"`
		Status int    `json:"status"`
	}
	decodeBody(t, resp, &trail)
	found := false
	for _, entry := range trail {
		if entry.Method == http.MethodPost && entry.Path == "/api/v1/pipeline/runs" && entry.Status == http.StatusCreated {
			found = true
			if entry.User != "anonymous" {
				t.Fatalf("expected anonymous trail user, got %q", entry.User)
			}
		}
	}
	if !found {
		t.Fatalf("pipeline run not recorded on the trail: %+v", trail)
	}

	resp = doRequest(handler, http.MethodGet, "/status", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("status endpoint = %d", resp.Code)
	}
	var status struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
	decodeBody(t, resp, &status)
	if status.Status != "operational" {
		t.Fatalf("platform status = %q, want operational", status.Status)
	}
	if status.Components["cache"] != "disabled" {
		t.Fatalf("expected cache disabled without redis, got %+v", status.Components)
	}

	for _, path := range []string{"/healthz", "/readyz"} {
		resp = doRequest(handler, http.MethodGet, path, nil)
		if resp.Code != http.StatusOK {
			t.Fatalf("%s status = %d", path, resp.Code)
		}
	}
}

func TestHandlerAdHocAnalysis(t *testing.T) {
	handler, _ := newTestHandler(t, testConfig(t), app.Stores{})
	src := writeSource(t, "transactions.csv", spikeCSV)

	resp := doRequest(handler, http.MethodPost, "/api/v1/ingest/describe",
		marshal(t, map[string]any{"path": src}))
	if resp.Code != http.StatusOK {
		t.Fatalf("describe status = %d, body %s", resp.Code, resp.Body.String())
	}
	var info struct {
		Rows    int    `json:"rows"`
		Columns int    `json:"columns"`
		Format  string `json:"format"`
	}
	decodeBody(t, resp, &info)
	if info.Rows != 12 || info.Columns != 2 || info.Format != "csv" {
		t.Fatalf("unexpected source info %+v", info)
	}

	resp = doRequest(handler, http.MethodPost, "/api/v1/quality/validate",
		marshal(t, map[string]any{"path": src}))
	if resp.Code != http.StatusOK {
		t.Fatalf("validate status = %d, body %s", resp.Code, resp.Body.String())
	}
	var report struct {
		Passed bool `json:"passed"`
		Summary struct {
			TotalRows int `json:"total_rows"`
		} `json:"summary"`
	}
	decodeBody(t, resp, &report)
	if !report.Passed || report.Summary.TotalRows != 12 {
		t.Fatalf("unexpected report %+v", report)
	}

	resp = doRequest(handler, http.MethodPost, "/api/v1/anomaly/detect",
		marshal(t, map[string]any{"path": src, "method": "zscore"}))
	if resp.Code != http.StatusOK {
		t.Fatalf("detect status = %d, body %s", resp.Code, resp.Body.String())
	}
	var result struct {
		Method       string `json:"method"`
		AnomalyCount int    `json:"anomaly_count"`
	}
	decodeBody(t, resp, &result)
	if result.Method != "zscore" || result.AnomalyCount != 1 {
		t.Fatalf("unexpected detection result %+v", result)
	}

	resp = doRequest(handler, http.MethodPost, "/api/v1/ingest/describe",
		marshal(t, map[string]any{"path": "/nowhere/gone.csv"}))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("describe missing source status = %d", resp.Code)
	}

	resp = doRequest(handler, http.MethodPost, "/api/v1/anomaly/detect",
		marshal(t, map[string]any{"path": src, "method": "tarot"}))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("unknown method status = %d", resp.Code)
	}

	resp = doRequest(handler, http.MethodPost, "/api/v1/ingest/describe",
		marshal(t, map[string]any{"path": src, "surprise": true}))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("unknown field status = %d", resp.Code)
	}
	if code := errorCode(t, resp); code != "INVALID_FORMAT" {
		t.Fatalf("error code = %q, want INVALID_FORMAT", code)
	}
}

func TestHandlerDatasetCRUD(t *testing.T) {
	handler, _ := newTestHandler(t, testConfig(t), app.Stores{})

	resp := doRequest(handler, http.MethodPost, "/api/v1/datasets",
		marshal(t, map[string]any{
			"path": "output/sales.csv",
			"name": "Sales",
			"tags": []string{"finance"},
		}))
	if resp.Code != http.StatusCreated {
		t.Fatalf("register dataset status = %d, body %s", resp.Code, resp.Body.String())
	}
	var ds struct {
		ID string `json:"id"`
	}
	decodeBody(t, resp, &ds)

	resp = doRequest(handler, http.MethodPatch, "/api/v1/datasets/"+ds.ID,
		marshal(t, map[string]any{"description": "Quarterly sales export"}))
	if resp.Code != http.StatusOK {
		t.Fatalf("patch dataset status = %d, body %s", resp.Code, resp.Body.String())
	}
	var updated struct {
		Description string `json:"description"`
		Name        string `json:"name"`
	}
	decodeBody(t, resp, &updated)
	if updated.Description != "Quarterly sales export" || updated.Name != "Sales" {
		t.Fatalf("unexpected patched dataset %+v", updated)
	}

	resp = doRequest(handler, http.MethodPatch, "/api/v1/datasets/"+ds.ID,
		marshal(t, map[string]any{"path": "output/moved.csv"}))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("patching the path should be rejected, got %d", resp.Code)
	}

	resp = doRequest(handler, http.MethodGet, "/api/v1/datasets?quality_passed=maybe", nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("bogus quality filter status = %d", resp.Code)
	}

	resp = doRequest(handler, http.MethodDelete, "/api/v1/datasets/"+ds.ID, nil)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("delete dataset status = %d", resp.Code)
	}
	resp = doRequest(handler, http.MethodGet, "/api/v1/datasets/"+ds.ID, nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("get deleted dataset status = %d", resp.Code)
	}
}

func TestHandlerAuthFlow(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.Enabled = true
	cfg.Auth.JWTSecret = "handler-test-secret"
	cfg.Auth.AdminPassword = "s3cret"
	handler, application := newTestHandler(t, cfg, app.Stores{})

	authMW := middleware.NewAuthMiddleware(
		application.Auth,
		logging.NewWithWriter("test", io.Discard),
		true,
		[]string{"/api/v1/auth/login", "/status", "/healthz", "/readyz"},
	)
	protected := authMW.Handler(handler)

	resp := doRequest(protected, http.MethodPost, "/api/v1/auth/login",
		marshal(t, map[string]any{"username": "admin", "password": "s3cret"}))
	if resp.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", resp.Code, resp.Body.String())
	}
	var login struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		Role        string `json:"role"`
	}
	decodeBody(t, resp, &login)
	if login.AccessToken == "" || login.TokenType != "bearer" || login.Role != "admin" {
		t.Fatalf("unexpected login response %+v", login)
	}

	resp = doRequest(protected, http.MethodPost, "/api/v1/auth/login",
		marshal(t, map[string]any{"username": "admin", "password": "wrong"}))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("bad login status = %d", resp.Code)
	}

	bearer := func(method, url string, body []byte) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, url, bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+login.AccessToken)
		resp := httptest.NewRecorder()
		protected.ServeHTTP(resp, req)
		return resp
	}

	resp = bearer(http.MethodGet, "/api/v1/auth/me", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("me status = %d, body %s", resp.Code, resp.Body.String())
	}
	var me struct {
		Name   string `json:"name"`
		Role   string `json:"role"`
		Method string `json:"method"`
	}
	decodeBody(t, resp, &me)
	if me.Name != "admin" || me.Role != "admin" || me.Method != "jwt" {
		t.Fatalf("unexpected identity %+v", me)
	}

	resp = doRequest(protected, http.MethodGet, "/api/v1/auth/me", nil)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous me status = %d", resp.Code)
	}

	resp = bearer(http.MethodPost, "/api/v1/tokens",
		marshal(t, map[string]any{"name": "ci", "role": "reader"}))
	if resp.Code != http.StatusCreated {
		t.Fatalf("issue token status = %d, body %s", resp.Code, resp.Body.String())
	}
	var issued struct {
		Token struct {
			ID   string `json:"id"`
			Role string `json:"role"`
		} `json:"token"`
		Key string `json:"key"`
	}
	decodeBody(t, resp, &issued)
	if !strings.HasPrefix(issued.Key, "vt_") || issued.Token.Role != "reader" {
		t.Fatalf("unexpected issued token %+v key %q", issued.Token, issued.Key)
	}

	resp = bearer(http.MethodGet, "/api/v1/tokens", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("list tokens status = %d", resp.Code)
	}

	keyed := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	keyed.Header.Set("X-API-Key", issued.Key)
	keyedResp := httptest.NewRecorder()
	protected.ServeHTTP(keyedResp, keyed)
	if keyedResp.Code != http.StatusOK {
		t.Fatalf("api key me status = %d, body %s", keyedResp.Code, keyedResp.Body.String())
	}
	decodeBody(t, keyedResp, &me)
	if me.Name != "ci" || me.Role != "reader" || me.Method != "api_key" {
		t.Fatalf("unexpected api key identity %+v", me)
	}

	keyed = httptest.NewRequest(http.MethodPost, "/api/v1/tokens", bytes.NewReader(marshal(t, map[string]any{"name": "rogue"})))
	keyed.Header.Set("X-API-Key", issued.Key)
	keyedResp = httptest.NewRecorder()
	protected.ServeHTTP(keyedResp, keyed)
	if keyedResp.Code != http.StatusForbidden {
		t.Fatalf("reader issuing tokens status = %d", keyedResp.Code)
	}
	if code := errorCode(t, keyedResp); code != "FORBIDDEN" {
		t.Fatalf("error code = %q, want FORBIDDEN", code)
	}

	resp = doRequest(protected, http.MethodGet, "/api/v1/pipeline/runs", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("anonymous read status = %d, want optional reads to pass", resp.Code)
	}
	resp = doRequest(protected, http.MethodPost, "/api/v1/pipeline/runs",
		marshal(t, map[string]any{"source_path": "/tmp/x.csv"}))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous write status = %d, want 401", resp.Code)
	}

	resp = bearer(http.MethodDelete, "/api/v1/tokens/"+issued.Token.ID, nil)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("revoke token status = %d", resp.Code)
	}
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("connection refused") }

func TestHandlerStatusDegraded(t *testing.T) {
	handler, _ := newTestHandler(t, testConfig(t), app.Stores{Health: downPinger{}})

	resp := doRequest(handler, http.MethodGet, "/status", nil)
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("degraded status endpoint = %d, want 503", resp.Code)
	}
	var status struct {
		Status string `json:"status"`
	}
	decodeBody(t, resp, &status)
	if status.Status != "degraded" {
		t.Fatalf("platform status = %q, want degraded", status.Status)
	}

	resp = doRequest(handler, http.MethodGet, "/readyz", nil)
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz status = %d, want 503", resp.Code)
	}
}
