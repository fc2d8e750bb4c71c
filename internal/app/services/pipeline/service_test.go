package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/veritrace/platform/internal/app/domain"
	"github.com/veritrace/platform/internal/app/domain/pipeline"
	anomalysvc "github.com/veritrace/platform/internal/app/services/anomaly"
	"github.com/veritrace/platform/internal/app/services/catalog"
	"github.com/veritrace/platform/internal/app/services/ingestion"
	"github.com/veritrace/platform/internal/app/services/ledger"
	qualitysvc "github.com/veritrace/platform/internal/app/services/quality"
	"github.com/veritrace/platform/internal/app/services/versioning"
	"github.com/veritrace/platform/internal/app/storage/memory"
	"github.com/veritrace/platform/internal/config"
)

func newTestService(t *testing.T) (*Service, *memory.Store, string) {
	t.Helper()
	store := memory.New()
	processed := filepath.Join(t.TempDir(), "processed")
	deps := Deps{
		Ingestion:  ingestion.New(nil),
		Quality:    qualitysvc.New(store, config.ValidationConfig{}, nil),
		Anomaly:    anomalysvc.New(config.AnomalyConfig{}, nil),
		Ledger:     ledger.New(store, config.LedgerConfig{}, nil),
		Versioning: versioning.New(store, config.VersioningConfig{}, nil),
		Catalog:    catalog.New(store, nil),
		Storage:    store,
	}
	svc := New(store, deps, config.PathsConfig{ProcessedDir: processed}, nil)
	return svc, store, processed
}

func writeSource(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write source file: %v", err)
	}
	return path
}

func TestService_RunFullPipeline(t *testing.T) {
	svc, _, processed := newTestService(t)
	ctx := context.Background()

	src := writeSource(t, "transactions.csv",
		"id,amount\n1,10\n2,11\n3,9\n4,10\n5,12\n6,8\n7,10\n8,11\n9,9\n10,10\n11,10\n12,1000\n")

	run, err := svc.Run(ctx, RunRequest{SourcePath: src})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Status != pipeline.StatusSucceeded {
		t.Fatalf("status = %q (error %q), want succeeded", run.Status, run.Error)
	}
	if run.Trigger != pipeline.TriggerAPI {
		t.Fatalf("trigger = %q, want api", run.Trigger)
	}
	if run.Branch != "main" {
		t.Fatalf("branch = %q, want main", run.Branch)
	}
	if run.RowsProcessed != 12 {
		t.Fatalf("rows processed = %d, want 12", run.RowsProcessed)
	}
	if !run.ValidationPassed {
		t.Fatalf("validation passed = false, report %+v", run.Report)
	}
	if run.QualityIssues != 1 {
		t.Fatalf("quality issues = %d, want 1 outlier issue", run.QualityIssues)
	}
	if run.AnomalyCount != 1 {
		t.Fatalf("anomaly count = %d, want 1", run.AnomalyCount)
	}
	if run.AnomalyRate < 0.08 || run.AnomalyRate > 0.09 {
		t.Fatalf("anomaly rate = %v, want 1/12", run.AnomalyRate)
	}
	if run.Source == nil || run.Report == nil || run.Anomalies == nil {
		t.Fatalf("stage artifacts missing: source=%v report=%v anomalies=%v",
			run.Source != nil, run.Report != nil, run.Anomalies != nil)
	}
	if run.FinishedAt.Before(run.StartedAt) {
		t.Fatalf("finished %v before started %v", run.FinishedAt, run.StartedAt)
	}

	wantOut := filepath.Join(processed, "transactions_processed.csv")
	if run.OutputPath != wantOut {
		t.Fatalf("output path = %q, want %q", run.OutputPath, wantOut)
	}
	raw, err := os.ReadFile(run.OutputPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	if lines[0] != "id,amount,anomaly_score,is_anomaly" {
		t.Fatalf("output header = %q", lines[0])
	}
	if len(lines) != 13 {
		t.Fatalf("output has %d lines, want header + 12 rows", len(lines))
	}
	if !strings.HasSuffix(lines[12], ",true") {
		t.Fatalf("spiked row not flagged in output: %q", lines[12])
	}
	if !strings.HasSuffix(lines[1], ",false") {
		t.Fatalf("normal row flagged in output: %q", lines[1])
	}

	sum := sha256.Sum256(raw)
	if run.OutputHash != hex.EncodeToString(sum[:]) {
		t.Fatalf("output hash = %q does not match file digest", run.OutputHash)
	}

	commit, err := svc.deps.Versioning.GetCommit(ctx, run.CommitID)
	if err != nil {
		t.Fatalf("get commit: %v", err)
	}
	if commit.Message != "Processed data from transactions.csv (12 rows)" {
		t.Fatalf("commit message = %q", commit.Message)
	}
	if commit.Branch != "main" {
		t.Fatalf("commit branch = %q", commit.Branch)
	}
	if commit.Metadata["run_id"] != run.ID || commit.Metadata["source"] != src {
		t.Fatalf("commit metadata = %#v", commit.Metadata)
	}

	rec, err := svc.deps.Ledger.Transaction(ctx, run.TransactionID)
	if err != nil {
		t.Fatalf("get ledger record: %v", err)
	}
	if rec.Operation != "pipeline_run" {
		t.Fatalf("ledger operation = %q", rec.Operation)
	}
	if rec.ContentHash != run.OutputHash {
		t.Fatalf("ledger content hash = %q, want %q", rec.ContentHash, run.OutputHash)
	}
	if rec.Metadata["commit_id"] != run.CommitID {
		t.Fatalf("ledger metadata = %#v", rec.Metadata)
	}

	ds, err := svc.deps.Catalog.GetByPath(ctx, run.OutputPath)
	if err != nil {
		t.Fatalf("get dataset: %v", err)
	}
	if ds.Source != src || ds.RowCount != 12 || ds.ColumnCount != 4 {
		t.Fatalf("dataset = %+v", ds)
	}
	if ds.QualityPassed == nil || !*ds.QualityPassed {
		t.Fatalf("dataset quality passed = %v", ds.QualityPassed)
	}
	if ds.PipelineRunID != run.ID || ds.LastCommitID != run.CommitID {
		t.Fatalf("dataset provenance = %+v", ds)
	}
	if ds.Metadata["transaction_id"] != run.TransactionID {
		t.Fatalf("dataset metadata = %#v", ds.Metadata)
	}

	got, err := svc.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != pipeline.StatusSucceeded || got.Report == nil {
		t.Fatalf("persisted run = %+v", got)
	}
}

func TestService_RunValidationFailureContinues(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	src := writeSource(t, "sparse.csv", "id,score\n1,5\n2,\n3,\n4,\n5,\n6,7\n")
	out := filepath.Join(t.TempDir(), "scored.csv")

	run, err := svc.Run(ctx, RunRequest{
		SourcePath: src,
		OutputPath: out,
		Branch:     "staging",
		Trigger:    pipeline.TriggerCLI,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Status != pipeline.StatusSucceeded {
		t.Fatalf("status = %q (error %q), want succeeded despite failed validation", run.Status, run.Error)
	}
	if run.ValidationPassed {
		t.Fatal("validation passed on a column with 4 of 6 values missing")
	}
	if run.QualityIssues == 0 {
		t.Fatal("no quality issues recorded")
	}
	if run.Trigger != pipeline.TriggerCLI || run.Branch != "staging" {
		t.Fatalf("run = trigger %q branch %q", run.Trigger, run.Branch)
	}
	if run.CommitID == "" || run.TransactionID == "" {
		t.Fatalf("provenance missing: commit %q tx %q", run.CommitID, run.TransactionID)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("output file: %v", err)
	}

	rec, err := svc.deps.Ledger.Transaction(ctx, run.TransactionID)
	if err != nil {
		t.Fatalf("get ledger record: %v", err)
	}
	if passed, ok := rec.Metadata["validation_passed"].(bool); !ok || passed {
		t.Fatalf("ledger metadata validation_passed = %#v", rec.Metadata["validation_passed"])
	}

	ds, err := svc.deps.Catalog.GetByPath(ctx, out)
	if err != nil {
		t.Fatalf("get dataset: %v", err)
	}
	if ds.QualityPassed == nil || *ds.QualityPassed {
		t.Fatalf("dataset quality passed = %v, want false", ds.QualityPassed)
	}
}

func TestService_RunMissingSource(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "nope.csv")
	run, err := svc.Run(ctx, RunRequest{SourcePath: src})
	if err == nil {
		t.Fatal("expected error for missing source")
	}
	if !domain.IsNotFound(err) {
		t.Fatalf("error = %v, want not-found", err)
	}
	if run.Status != pipeline.StatusFailed {
		t.Fatalf("status = %q, want failed", run.Status)
	}
	if run.Error == "" || run.FinishedAt.IsZero() {
		t.Fatalf("failed run not finalized: %+v", run)
	}

	got, err := svc.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != pipeline.StatusFailed {
		t.Fatalf("persisted status = %q, want failed", got.Status)
	}
}

func TestService_RunRequiresSource(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Run(ctx, RunRequest{})
	if err == nil {
		t.Fatal("expected error for empty source path")
	}
	de := domain.AsError(err)
	if de == nil || de.Kind != domain.KindPipeline {
		t.Fatalf("error = %v, want pipeline kind", err)
	}

	runs, err := svc.List(ctx, pipeline.Filter{})
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("rejected request persisted %d runs", len(runs))
	}
}

func TestService_ListFilters(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	src := writeSource(t, "ok.csv", "id,v\n1,10\n2,11\n3,12\n")
	if _, err := svc.Run(ctx, RunRequest{SourcePath: src}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := svc.Run(ctx, RunRequest{SourcePath: filepath.Join(t.TempDir(), "gone.csv")}); err == nil {
		t.Fatal("expected missing-source run to fail")
	}

	runs, err := svc.List(ctx, pipeline.Filter{})
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].Status != pipeline.StatusFailed {
		t.Fatalf("newest run status = %q, want the failed run first", runs[0].Status)
	}

	failed, err := svc.List(ctx, pipeline.Filter{Status: pipeline.StatusFailed})
	if err != nil {
		t.Fatalf("list failed runs: %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("got %d failed runs, want 1", len(failed))
	}

	limited, err := svc.List(ctx, pipeline.Filter{Limit: 1})
	if err != nil {
		t.Fatalf("list limited runs: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("got %d runs with limit 1", len(limited))
	}
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("connection refused") }

func TestService_Status(t *testing.T) {
	svc, _, _ := newTestService(t)

	st := svc.Status(context.Background())
	if st.Platform != "VeriTrace Data Reliability Platform" || st.Version == "" {
		t.Fatalf("status identity = %q %q", st.Platform, st.Version)
	}
	if st.Status != "operational" {
		t.Fatalf("status = %q, want operational", st.Status)
	}
	if st.Components["ingestion"] != pipeline.ComponentActive {
		t.Fatalf("ingestion component = %q", st.Components["ingestion"])
	}
	if st.Components["storage"] != pipeline.ComponentActive {
		t.Fatalf("storage component = %q", st.Components["storage"])
	}
	if st.Components["cache"] != pipeline.ComponentDisabled {
		t.Fatalf("cache component = %q, want disabled without a cache", st.Components["cache"])
	}
	if st.System == nil || st.System.GoVersion != runtime.Version() {
		t.Fatalf("system info = %+v", st.System)
	}
	if st.CheckedAt.IsZero() {
		t.Fatal("checked_at not set")
	}
}

func TestService_StatusDegraded(t *testing.T) {
	store := memory.New()
	svc := New(store, Deps{Storage: downPinger{}, Cache: downPinger{}}, config.PathsConfig{}, nil)

	st := svc.Status(context.Background())
	if st.Status != "degraded" {
		t.Fatalf("status = %q, want degraded when storage is down", st.Status)
	}
	if st.Components["storage"] != pipeline.ComponentDegraded {
		t.Fatalf("storage component = %q", st.Components["storage"])
	}
	if st.Components["cache"] != pipeline.ComponentDegraded {
		t.Fatalf("cache component = %q", st.Components["cache"])
	}

	svc = New(store, Deps{Storage: store, Cache: downPinger{}}, config.PathsConfig{}, nil)
	st = svc.Status(context.Background())
	if st.Status != "operational" {
		t.Fatalf("status = %q, a failing cache should not degrade the platform", st.Status)
	}
	if st.Components["cache"] != pipeline.ComponentDegraded {
		t.Fatalf("cache component = %q", st.Components["cache"])
	}
}
