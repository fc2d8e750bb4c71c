package storage

import (
	"context"
	"time"

	"github.com/veritrace/platform/internal/app/domain/audit"
	"github.com/veritrace/platform/internal/app/domain/dataset"
	"github.com/veritrace/platform/internal/app/domain/pipeline"
	"github.com/veritrace/platform/internal/app/domain/quality"
	"github.com/veritrace/platform/internal/app/domain/token"
	"github.com/veritrace/platform/internal/app/domain/version"
)

// Implementations report a missing record with sql.ErrNoRows so callers can
// translate lookups into not-found responses regardless of the backend.

// RunStore persists pipeline runs.
type RunStore interface {
	CreateRun(ctx context.Context, run pipeline.Run) (pipeline.Run, error)
	UpdateRun(ctx context.Context, run pipeline.Run) (pipeline.Run, error)
	GetRun(ctx context.Context, id string) (pipeline.Run, error)
	ListRuns(ctx context.Context, filter pipeline.Filter) ([]pipeline.Run, error)
}

// AuditStore persists the append-only ledger of audit records. Lists are
// ordered newest first; a limit of zero or less returns the full ledger.
type AuditStore interface {
	AppendAuditRecord(ctx context.Context, rec audit.Record) (audit.Record, error)
	GetAuditRecord(ctx context.Context, transactionID string) (audit.Record, error)
	LatestAuditRecord(ctx context.Context) (audit.Record, error)
	ListAuditRecords(ctx context.Context, operation string, limit int) ([]audit.Record, error)
}

// CommitStore persists simulated version-control commits.
type CommitStore interface {
	CreateCommit(ctx context.Context, c version.Commit) (version.Commit, error)
	GetCommit(ctx context.Context, id string) (version.Commit, error)
	ListCommits(ctx context.Context, branch string, limit int) ([]version.Commit, error)
	ListBranches(ctx context.Context) ([]version.Branch, error)
}

// DatasetStore persists catalog entries keyed by dataset path.
type DatasetStore interface {
	UpsertDataset(ctx context.Context, ds dataset.Dataset) (dataset.Dataset, error)
	GetDataset(ctx context.Context, id string) (dataset.Dataset, error)
	GetDatasetByPath(ctx context.Context, path string) (dataset.Dataset, error)
	ListDatasets(ctx context.Context, filter dataset.Filter) ([]dataset.Dataset, error)
	DeleteDataset(ctx context.Context, id string) error
	SearchDatasets(ctx context.Context, query string, limit int) ([]dataset.Dataset, error)
}

// ReportStore persists data quality reports.
type ReportStore interface {
	CreateReport(ctx context.Context, rep quality.Report) (quality.Report, error)
	GetReport(ctx context.Context, id string) (quality.Report, error)
	ListReports(ctx context.Context, datasetPath string, limit int) ([]quality.Report, error)
}

// TokenStore persists API users and service tokens.
type TokenStore interface {
	CreateUser(ctx context.Context, u token.User) (token.User, error)
	GetUser(ctx context.Context, id string) (token.User, error)
	GetUserByUsername(ctx context.Context, username string) (token.User, error)

	CreateServiceToken(ctx context.Context, t token.ServiceToken) (token.ServiceToken, error)
	GetServiceTokenByHash(ctx context.Context, keyHash string) (token.ServiceToken, error)
	ListServiceTokens(ctx context.Context) ([]token.ServiceToken, error)
	TouchServiceToken(ctx context.Context, id string, usedAt time.Time) error
	DeleteServiceToken(ctx context.Context, id string) error
}
