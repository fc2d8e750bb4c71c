package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/veritrace/platform/internal/app/domain/audit"
	"github.com/veritrace/platform/internal/app/domain/dataset"
	"github.com/veritrace/platform/internal/app/domain/pipeline"
	"github.com/veritrace/platform/internal/app/domain/version"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "sqlmock")), mock
}

func TestCreateRunAssignsIdentity(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO pipeline_runs").WillReturnResult(sqlmock.NewResult(1, 1))

	run, err := store.CreateRun(context.Background(), pipeline.Run{
		SourcePath: "data/a.csv",
		Status:     pipeline.StatusRunning,
		Trigger:    pipeline.TriggerAPI,
	})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if run.ID == "" {
		t.Fatal("expected run ID to be assigned")
	}
	if run.StartedAt.IsZero() {
		t.Fatal("expected started_at to be set")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetRunNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("FROM pipeline_runs").WillReturnError(sql.ErrNoRows)

	if _, err := store.GetRun(context.Background(), "missing"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestGetRunRestoresDetail(t *testing.T) {
	store, mock := newMockStore(t)

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cols := []string{
		"id", "source_path", "output_path", "branch", "trigger_kind", "status",
		"rows_processed", "validation_passed", "anomaly_count", "anomaly_rate",
		"quality_issues", "commit_id", "transaction_id", "output_hash",
		"error_message", "detail", "started_at", "finished_at",
	}
	rows := sqlmock.NewRows(cols).AddRow(
		"run-1", "data/a.csv", "processed/a.csv", "main", "api", "succeeded",
		10, true, 0, 0.0,
		0, "abc123def456", "tx-1", "deadbeef",
		"", []byte(`{"source":{"path":"data/a.csv","format":"csv","rows":10}}`), started, nil,
	)
	mock.ExpectQuery("FROM pipeline_runs").WithArgs("run-1").WillReturnRows(rows)

	run, err := store.GetRun(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Source == nil || run.Source.Path != "data/a.csv" || run.Source.Rows != 10 {
		t.Fatalf("expected source detail to be restored, got %+v", run.Source)
	}
	if !run.FinishedAt.IsZero() {
		t.Fatalf("expected zero finished_at for NULL column, got %v", run.FinishedAt)
	}
	if run.Status != pipeline.StatusSucceeded {
		t.Fatalf("unexpected status %s", run.Status)
	}
}

func TestAppendAuditRecordStampsTime(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO audit_records").WillReturnResult(sqlmock.NewResult(1, 1))

	rec, err := store.AppendAuditRecord(context.Background(), audit.Record{
		TransactionID: "tx-1",
		Operation:     "data_commit",
		ContentHash:   "hash",
		Metadata:      map[string]any{"rows": 10},
	})
	if err != nil {
		t.Fatalf("append record: %v", err)
	}
	if rec.ID == "" || rec.RecordedAt.IsZero() {
		t.Fatalf("expected identity and timestamp, got %+v", rec)
	}
}

func TestLatestAuditRecordEmptyLedger(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("FROM audit_records").WillReturnError(sql.ErrNoRows)

	if _, err := store.LatestAuditRecord(context.Background()); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestListCommitsRestoresMetadata(t *testing.T) {
	store, mock := newMockStore(t)

	committed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "repository", "branch", "path", "message", "metadata", "committed_at"}).
		AddRow("abc123def456", "veritrace-repo", "main", "data/a.csv", "first", []byte(`{"rows":"10"}`), committed)
	mock.ExpectQuery("FROM data_commits").WithArgs("main", 5).WillReturnRows(rows)

	commits, err := store.ListCommits(context.Background(), "main", 5)
	if err != nil {
		t.Fatalf("list commits: %v", err)
	}
	if len(commits) != 1 {
		t.Fatalf("expected 1 commit, got %d", len(commits))
	}
	if commits[0].Metadata["rows"] != "10" {
		t.Fatalf("expected metadata to be restored, got %+v", commits[0].Metadata)
	}
}

func TestUpsertDatasetKeepsIdentityOnConflict(t *testing.T) {
	store, mock := newMockStore(t)

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "created_at"}).AddRow("ds-1", created)
	mock.ExpectQuery("INSERT INTO datasets").WillReturnRows(rows)

	ds, err := store.UpsertDataset(context.Background(), dataset.Dataset{Path: "data/a.csv", Name: "a"})
	if err != nil {
		t.Fatalf("upsert dataset: %v", err)
	}
	if ds.ID != "ds-1" {
		t.Fatalf("expected ID from conflict row, got %s", ds.ID)
	}
	if !ds.CreatedAt.Equal(created) {
		t.Fatalf("expected created_at from conflict row, got %v", ds.CreatedAt)
	}
}

func TestTouchServiceTokenMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE service_tokens").WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.TouchServiceToken(context.Background(), "missing", time.Now())
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}
