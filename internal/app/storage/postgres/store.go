package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/veritrace/platform/internal/app/domain/anomaly"
	"github.com/veritrace/platform/internal/app/domain/audit"
	"github.com/veritrace/platform/internal/app/domain/dataset"
	"github.com/veritrace/platform/internal/app/domain/ingest"
	"github.com/veritrace/platform/internal/app/domain/pipeline"
	"github.com/veritrace/platform/internal/app/domain/quality"
	"github.com/veritrace/platform/internal/app/domain/token"
	"github.com/veritrace/platform/internal/app/domain/version"
	"github.com/veritrace/platform/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.RunStore = (*Store)(nil)
var _ storage.AuditStore = (*Store)(nil)
var _ storage.CommitStore = (*Store)(nil)
var _ storage.DatasetStore = (*Store)(nil)
var _ storage.ReportStore = (*Store)(nil)
var _ storage.TokenStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- RunStore ---------------------------------------------------------------

type runRow struct {
	ID               string       `db:"id"`
	SourcePath       string       `db:"source_path"`
	OutputPath       string       `db:"output_path"`
	Branch           string       `db:"branch"`
	Trigger          string       `db:"trigger_kind"`
	Status           string       `db:"status"`
	RowsProcessed    int          `db:"rows_processed"`
	ValidationPassed bool         `db:"validation_passed"`
	AnomalyCount     int          `db:"anomaly_count"`
	AnomalyRate      float64      `db:"anomaly_rate"`
	QualityIssues    int          `db:"quality_issues"`
	CommitID         string       `db:"commit_id"`
	TransactionID    string       `db:"transaction_id"`
	OutputHash       string       `db:"output_hash"`
	ErrorMessage     string       `db:"error_message"`
	Detail           []byte       `db:"detail"`
	StartedAt        time.Time    `db:"started_at"`
	FinishedAt       sql.NullTime `db:"finished_at"`
}

// runDetail carries the nested stage results as a single JSONB document.
type runDetail struct {
	Source    *ingest.SourceInfo `json:"source,omitempty"`
	Report    *quality.Report    `json:"report,omitempty"`
	Anomalies *anomaly.Result    `json:"anomalies,omitempty"`
}

const runColumns = `
	id, source_path, output_path, branch, trigger_kind, status,
	rows_processed, validation_passed, anomaly_count, anomaly_rate,
	quality_issues, commit_id, transaction_id, output_hash,
	error_message, detail, started_at, finished_at`

func (s *Store) CreateRun(ctx context.Context, run pipeline.Run) (pipeline.Run, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	detailJSON, err := json.Marshal(runDetail{Source: run.Source, Report: run.Report, Anomalies: run.Anomalies})
	if err != nil {
		return pipeline.Run{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`, run.ID, run.SourcePath, run.OutputPath, run.Branch, string(run.Trigger), string(run.Status),
		run.RowsProcessed, run.ValidationPassed, run.AnomalyCount, run.AnomalyRate,
		run.QualityIssues, run.CommitID, run.TransactionID, run.OutputHash,
		run.Error, detailJSON, run.StartedAt, nullTime(run.FinishedAt))
	if err != nil {
		return pipeline.Run{}, err
	}
	return run, nil
}

func (s *Store) UpdateRun(ctx context.Context, run pipeline.Run) (pipeline.Run, error) {
	existing, err := s.GetRun(ctx, run.ID)
	if err != nil {
		return pipeline.Run{}, err
	}
	run.StartedAt = existing.StartedAt

	detailJSON, err := json.Marshal(runDetail{Source: run.Source, Report: run.Report, Anomalies: run.Anomalies})
	if err != nil {
		return pipeline.Run{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE pipeline_runs
		SET output_path = $2, branch = $3, trigger_kind = $4, status = $5,
			rows_processed = $6, validation_passed = $7, anomaly_count = $8,
			anomaly_rate = $9, quality_issues = $10, commit_id = $11,
			transaction_id = $12, output_hash = $13, error_message = $14,
			detail = $15, finished_at = $16
		WHERE id = $1
	`, run.ID, run.OutputPath, run.Branch, string(run.Trigger), string(run.Status),
		run.RowsProcessed, run.ValidationPassed, run.AnomalyCount,
		run.AnomalyRate, run.QualityIssues, run.CommitID,
		run.TransactionID, run.OutputHash, run.Error,
		detailJSON, nullTime(run.FinishedAt))
	if err != nil {
		return pipeline.Run{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return pipeline.Run{}, sql.ErrNoRows
	}
	return run, nil
}

func (s *Store) GetRun(ctx context.Context, id string) (pipeline.Run, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+runColumns+`
		FROM pipeline_runs
		WHERE id = $1
	`, id)
	if err != nil {
		return pipeline.Run{}, err
	}
	return rowToRun(row)
}

func (s *Store) ListRuns(ctx context.Context, filter pipeline.Filter) ([]pipeline.Run, error) {
	var rows []runRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+runColumns+`
		FROM pipeline_runs
		WHERE ($1 = '' OR status = $1)
		ORDER BY seq DESC
		LIMIT NULLIF($2, 0)
	`, string(filter.Status), filter.Limit)
	if err != nil {
		return nil, err
	}

	runs := make([]pipeline.Run, 0, len(rows))
	for _, row := range rows {
		run, err := rowToRun(row)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func rowToRun(row runRow) (pipeline.Run, error) {
	var detail runDetail
	if len(row.Detail) > 0 {
		if err := json.Unmarshal(row.Detail, &detail); err != nil {
			return pipeline.Run{}, err
		}
	}

	run := pipeline.Run{
		ID:               row.ID,
		SourcePath:       row.SourcePath,
		OutputPath:       row.OutputPath,
		Branch:           row.Branch,
		Trigger:          pipeline.Trigger(row.Trigger),
		Status:           pipeline.Status(row.Status),
		RowsProcessed:    row.RowsProcessed,
		ValidationPassed: row.ValidationPassed,
		AnomalyCount:     row.AnomalyCount,
		AnomalyRate:      row.AnomalyRate,
		QualityIssues:    row.QualityIssues,
		CommitID:         row.CommitID,
		TransactionID:    row.TransactionID,
		OutputHash:       row.OutputHash,
		Error:            row.ErrorMessage,
		Source:           detail.Source,
		Report:           detail.Report,
		Anomalies:        detail.Anomalies,
		StartedAt:        row.StartedAt,
	}
	if row.FinishedAt.Valid {
		run.FinishedAt = row.FinishedAt.Time
	}
	return run, nil
}

// --- AuditStore -------------------------------------------------------------

type auditRow struct {
	ID                string    `db:"id"`
	TransactionID     string    `db:"transaction_id"`
	PrevTransactionID string    `db:"prev_transaction_id"`
	Operation         string    `db:"operation"`
	ContentHash       string    `db:"content_hash"`
	HashAlgorithm     string    `db:"hash_algorithm"`
	Author            string    `db:"author"`
	Metadata          []byte    `db:"metadata"`
	RecordedAt        time.Time `db:"recorded_at"`
}

const auditColumns = `
	id, transaction_id, prev_transaction_id, operation, content_hash,
	hash_algorithm, author, metadata, recorded_at`

func (s *Store) AppendAuditRecord(ctx context.Context, rec audit.Record) (audit.Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}

	metadataJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return audit.Record{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_records (`+auditColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, rec.ID, rec.TransactionID, rec.PrevTransactionID, rec.Operation, rec.ContentHash,
		rec.HashAlgorithm, rec.Author, metadataJSON, rec.RecordedAt)
	if err != nil {
		return audit.Record{}, err
	}
	return rec, nil
}

func (s *Store) GetAuditRecord(ctx context.Context, transactionID string) (audit.Record, error) {
	var row auditRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+auditColumns+`
		FROM audit_records
		WHERE transaction_id = $1
	`, transactionID)
	if err != nil {
		return audit.Record{}, err
	}
	return rowToRecord(row)
}

func (s *Store) LatestAuditRecord(ctx context.Context) (audit.Record, error) {
	var row auditRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+auditColumns+`
		FROM audit_records
		ORDER BY seq DESC
		LIMIT 1
	`)
	if err != nil {
		return audit.Record{}, err
	}
	return rowToRecord(row)
}

func (s *Store) ListAuditRecords(ctx context.Context, operation string, limit int) ([]audit.Record, error) {
	var rows []auditRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+auditColumns+`
		FROM audit_records
		WHERE ($1 = '' OR operation = $1)
		ORDER BY seq DESC
		LIMIT NULLIF($2, 0)
	`, operation, limit)
	if err != nil {
		return nil, err
	}

	records := make([]audit.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := rowToRecord(row)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func rowToRecord(row auditRow) (audit.Record, error) {
	rec := audit.Record{
		ID:                row.ID,
		TransactionID:     row.TransactionID,
		PrevTransactionID: row.PrevTransactionID,
		Operation:         row.Operation,
		ContentHash:       row.ContentHash,
		HashAlgorithm:     row.HashAlgorithm,
		Author:            row.Author,
		RecordedAt:        row.RecordedAt,
	}
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &rec.Metadata); err != nil {
			return audit.Record{}, err
		}
	}
	return rec, nil
}

// --- CommitStore ------------------------------------------------------------

type commitRow struct {
	ID          string    `db:"id"`
	Repository  string    `db:"repository"`
	Branch      string    `db:"branch"`
	Path        string    `db:"path"`
	Message     string    `db:"message"`
	Metadata    []byte    `db:"metadata"`
	CommittedAt time.Time `db:"committed_at"`
}

const commitColumns = `
	id, repository, branch, path, message, metadata, committed_at`

func (s *Store) CreateCommit(ctx context.Context, c version.Commit) (version.Commit, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CommittedAt.IsZero() {
		c.CommittedAt = time.Now().UTC()
	}

	metadataJSON, err := json.Marshal(c.Metadata)
	if err != nil {
		return version.Commit{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO data_commits (`+commitColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.ID, c.Repository, c.Branch, c.Path, c.Message, metadataJSON, c.CommittedAt)
	if err != nil {
		return version.Commit{}, err
	}
	return c, nil
}

func (s *Store) GetCommit(ctx context.Context, id string) (version.Commit, error) {
	var row commitRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+commitColumns+`
		FROM data_commits
		WHERE id = $1
	`, id)
	if err != nil {
		return version.Commit{}, err
	}
	return rowToCommit(row)
}

func (s *Store) ListCommits(ctx context.Context, branch string, limit int) ([]version.Commit, error) {
	var rows []commitRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+commitColumns+`
		FROM data_commits
		WHERE ($1 = '' OR branch = $1)
		ORDER BY seq DESC
		LIMIT NULLIF($2, 0)
	`, branch, limit)
	if err != nil {
		return nil, err
	}

	commits := make([]version.Commit, 0, len(rows))
	for _, row := range rows {
		c, err := rowToCommit(row)
		if err != nil {
			return nil, err
		}
		commits = append(commits, c)
	}
	return commits, nil
}

func (s *Store) ListBranches(ctx context.Context) ([]version.Branch, error) {
	var rows []struct {
		Name        string    `db:"name"`
		CommitCount int       `db:"commit_count"`
		HeadCommit  string    `db:"head_commit"`
		UpdatedAt   time.Time `db:"updated_at"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT branch AS name,
			COUNT(*) AS commit_count,
			(ARRAY_AGG(id ORDER BY seq DESC))[1] AS head_commit,
			MAX(committed_at) AS updated_at
		FROM data_commits
		GROUP BY branch
		ORDER BY branch
	`)
	if err != nil {
		return nil, err
	}

	branches := make([]version.Branch, 0, len(rows))
	for _, row := range rows {
		branches = append(branches, version.Branch{
			Name:        row.Name,
			CommitCount: row.CommitCount,
			HeadCommit:  row.HeadCommit,
			UpdatedAt:   row.UpdatedAt,
		})
	}
	return branches, nil
}

func rowToCommit(row commitRow) (version.Commit, error) {
	c := version.Commit{
		ID:          row.ID,
		Repository:  row.Repository,
		Branch:      row.Branch,
		Path:        row.Path,
		Message:     row.Message,
		CommittedAt: row.CommittedAt,
	}
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &c.Metadata); err != nil {
			return version.Commit{}, err
		}
	}
	return c, nil
}

// --- DatasetStore -----------------------------------------------------------

type datasetRow struct {
	ID            string       `db:"id"`
	Path          string       `db:"path"`
	Name          string       `db:"name"`
	Description   string       `db:"description"`
	Tags          []byte       `db:"tags"`
	Source        string       `db:"source"`
	RowCount      int          `db:"row_count"`
	ColumnCount   int          `db:"column_count"`
	QualityPassed sql.NullBool `db:"quality_passed"`
	LastCommitID  string       `db:"last_commit_id"`
	PipelineRunID string       `db:"pipeline_run_id"`
	Metadata      []byte       `db:"metadata"`
	CreatedAt     time.Time    `db:"created_at"`
	LastUpdated   time.Time    `db:"last_updated"`
}

const datasetColumns = `
	id, path, name, description, tags, source, row_count, column_count,
	quality_passed, last_commit_id, pipeline_run_id, metadata, created_at, last_updated`

func (s *Store) UpsertDataset(ctx context.Context, ds dataset.Dataset) (dataset.Dataset, error) {
	if ds.ID == "" {
		ds.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	ds.LastUpdated = now
	if ds.CreatedAt.IsZero() {
		ds.CreatedAt = now
	}

	tagsJSON, err := json.Marshal(ds.Tags)
	if err != nil {
		return dataset.Dataset{}, err
	}
	metadataJSON, err := json.Marshal(ds.Metadata)
	if err != nil {
		return dataset.Dataset{}, err
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO datasets (`+datasetColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (path) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			tags = EXCLUDED.tags,
			source = EXCLUDED.source,
			row_count = EXCLUDED.row_count,
			column_count = EXCLUDED.column_count,
			quality_passed = EXCLUDED.quality_passed,
			last_commit_id = EXCLUDED.last_commit_id,
			pipeline_run_id = EXCLUDED.pipeline_run_id,
			metadata = EXCLUDED.metadata,
			last_updated = EXCLUDED.last_updated
		RETURNING id, created_at
	`, ds.ID, ds.Path, ds.Name, ds.Description, tagsJSON, ds.Source, ds.RowCount, ds.ColumnCount,
		ds.QualityPassed, ds.LastCommitID, ds.PipelineRunID, metadataJSON, ds.CreatedAt, ds.LastUpdated).
		Scan(&ds.ID, &ds.CreatedAt)
	if err != nil {
		return dataset.Dataset{}, err
	}
	return ds, nil
}

func (s *Store) GetDataset(ctx context.Context, id string) (dataset.Dataset, error) {
	var row datasetRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+datasetColumns+`
		FROM datasets
		WHERE id = $1
	`, id)
	if err != nil {
		return dataset.Dataset{}, err
	}
	return rowToDataset(row)
}

func (s *Store) GetDatasetByPath(ctx context.Context, path string) (dataset.Dataset, error) {
	var row datasetRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+datasetColumns+`
		FROM datasets
		WHERE path = $1
	`, path)
	if err != nil {
		return dataset.Dataset{}, err
	}
	return rowToDataset(row)
}

func (s *Store) ListDatasets(ctx context.Context, filter dataset.Filter) ([]dataset.Dataset, error) {
	var rows []datasetRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+datasetColumns+`
		FROM datasets
		WHERE ($1 = '' OR EXISTS (
				SELECT 1 FROM jsonb_array_elements_text(tags) tag
				WHERE lower(tag) = lower($1)))
			AND ($2::boolean IS NULL OR quality_passed = $2)
		ORDER BY last_updated DESC, path
		LIMIT NULLIF($3, 0)
	`, filter.Tag, filter.QualityPassed, filter.Limit)
	if err != nil {
		return nil, err
	}
	return rowsToDatasets(rows)
}

func (s *Store) DeleteDataset(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM datasets
		WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) SearchDatasets(ctx context.Context, query string, limit int) ([]dataset.Dataset, error) {
	var rows []datasetRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+datasetColumns+`
		FROM datasets
		WHERE $1 = ''
			OR name ILIKE '%' || $1 || '%'
			OR path ILIKE '%' || $1 || '%'
			OR description ILIKE '%' || $1 || '%'
			OR EXISTS (
				SELECT 1 FROM jsonb_array_elements_text(tags) tag
				WHERE tag ILIKE '%' || $1 || '%')
		ORDER BY last_updated DESC, path
		LIMIT NULLIF($2, 0)
	`, query, limit)
	if err != nil {
		return nil, err
	}
	return rowsToDatasets(rows)
}

func rowsToDatasets(rows []datasetRow) ([]dataset.Dataset, error) {
	datasets := make([]dataset.Dataset, 0, len(rows))
	for _, row := range rows {
		ds, err := rowToDataset(row)
		if err != nil {
			return nil, err
		}
		datasets = append(datasets, ds)
	}
	return datasets, nil
}

func rowToDataset(row datasetRow) (dataset.Dataset, error) {
	ds := dataset.Dataset{
		ID:            row.ID,
		Path:          row.Path,
		Name:          row.Name,
		Description:   row.Description,
		Source:        row.Source,
		RowCount:      row.RowCount,
		ColumnCount:   row.ColumnCount,
		LastCommitID:  row.LastCommitID,
		PipelineRunID: row.PipelineRunID,
		CreatedAt:     row.CreatedAt,
		LastUpdated:   row.LastUpdated,
	}
	if row.QualityPassed.Valid {
		v := row.QualityPassed.Bool
		ds.QualityPassed = &v
	}
	if len(row.Tags) > 0 {
		if err := json.Unmarshal(row.Tags, &ds.Tags); err != nil {
			return dataset.Dataset{}, err
		}
	}
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &ds.Metadata); err != nil {
			return dataset.Dataset{}, err
		}
	}
	return ds, nil
}

// --- ReportStore ------------------------------------------------------------

type reportRow struct {
	ID          string    `db:"id"`
	DatasetPath string    `db:"dataset_path"`
	Passed      bool      `db:"passed"`
	Issues      []byte    `db:"issues"`
	Summary     []byte    `db:"summary"`
	GeneratedAt time.Time `db:"generated_at"`
}

const reportColumns = `
	id, dataset_path, passed, issues, summary, generated_at`

func (s *Store) CreateReport(ctx context.Context, rep quality.Report) (quality.Report, error) {
	if rep.ID == "" {
		rep.ID = uuid.NewString()
	}
	if rep.GeneratedAt.IsZero() {
		rep.GeneratedAt = time.Now().UTC()
	}

	issuesJSON, err := json.Marshal(rep.Issues)
	if err != nil {
		return quality.Report{}, err
	}
	summaryJSON, err := json.Marshal(rep.Summary)
	if err != nil {
		return quality.Report{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO quality_reports (`+reportColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rep.ID, rep.DatasetPath, rep.Passed, issuesJSON, summaryJSON, rep.GeneratedAt)
	if err != nil {
		return quality.Report{}, err
	}
	return rep, nil
}

func (s *Store) GetReport(ctx context.Context, id string) (quality.Report, error) {
	var row reportRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+reportColumns+`
		FROM quality_reports
		WHERE id = $1
	`, id)
	if err != nil {
		return quality.Report{}, err
	}
	return rowToReport(row)
}

func (s *Store) ListReports(ctx context.Context, datasetPath string, limit int) ([]quality.Report, error) {
	var rows []reportRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+reportColumns+`
		FROM quality_reports
		WHERE ($1 = '' OR dataset_path = $1)
		ORDER BY seq DESC
		LIMIT NULLIF($2, 0)
	`, datasetPath, limit)
	if err != nil {
		return nil, err
	}

	reports := make([]quality.Report, 0, len(rows))
	for _, row := range rows {
		rep, err := rowToReport(row)
		if err != nil {
			return nil, err
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

func rowToReport(row reportRow) (quality.Report, error) {
	rep := quality.Report{
		ID:          row.ID,
		DatasetPath: row.DatasetPath,
		Passed:      row.Passed,
		GeneratedAt: row.GeneratedAt,
	}
	if len(row.Issues) > 0 {
		if err := json.Unmarshal(row.Issues, &rep.Issues); err != nil {
			return quality.Report{}, err
		}
	}
	if len(row.Summary) > 0 {
		if err := json.Unmarshal(row.Summary, &rep.Summary); err != nil {
			return quality.Report{}, err
		}
	}
	return rep, nil
}

// --- TokenStore -------------------------------------------------------------

type userRow struct {
	ID           string    `db:"id"`
	Username     string    `db:"username"`
	PasswordHash string    `db:"password_hash"`
	Role         string    `db:"role"`
	CreatedAt    time.Time `db:"created_at"`
}

func (s *Store) CreateUser(ctx context.Context, u token.User) (token.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO platform_users (id, username, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, u.ID, u.Username, u.PasswordHash, u.Role, u.CreatedAt)
	if err != nil {
		return token.User{}, err
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (token.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, username, password_hash, role, created_at
		FROM platform_users
		WHERE id = $1
	`, id)
	if err != nil {
		return token.User{}, err
	}
	return rowToUser(row), nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (token.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, username, password_hash, role, created_at
		FROM platform_users
		WHERE username = $1
	`, username)
	if err != nil {
		return token.User{}, err
	}
	return rowToUser(row), nil
}

func rowToUser(row userRow) token.User {
	return token.User{
		ID:           row.ID,
		Username:     row.Username,
		PasswordHash: row.PasswordHash,
		Role:         row.Role,
		CreatedAt:    row.CreatedAt,
	}
}

type serviceTokenRow struct {
	ID         string       `db:"id"`
	Name       string       `db:"name"`
	KeyHash    string       `db:"key_hash"`
	Role       string       `db:"role"`
	LastUsedAt sql.NullTime `db:"last_used_at"`
	CreatedAt  time.Time    `db:"created_at"`
}

func (s *Store) CreateServiceToken(ctx context.Context, t token.ServiceToken) (token.ServiceToken, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO service_tokens (id, name, key_hash, role, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, t.ID, t.Name, t.KeyHash, t.Role, t.CreatedAt)
	if err != nil {
		return token.ServiceToken{}, err
	}
	return t, nil
}

func (s *Store) GetServiceTokenByHash(ctx context.Context, keyHash string) (token.ServiceToken, error) {
	var row serviceTokenRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, name, key_hash, role, last_used_at, created_at
		FROM service_tokens
		WHERE key_hash = $1
	`, keyHash)
	if err != nil {
		return token.ServiceToken{}, err
	}
	return rowToServiceToken(row), nil
}

func (s *Store) ListServiceTokens(ctx context.Context) ([]token.ServiceToken, error) {
	var rows []serviceTokenRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, name, key_hash, role, last_used_at, created_at
		FROM service_tokens
		ORDER BY created_at, name
	`)
	if err != nil {
		return nil, err
	}

	tokens := make([]token.ServiceToken, 0, len(rows))
	for _, row := range rows {
		tokens = append(tokens, rowToServiceToken(row))
	}
	return tokens, nil
}

func (s *Store) TouchServiceToken(ctx context.Context, id string, usedAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE service_tokens
		SET last_used_at = $2
		WHERE id = $1
	`, id, usedAt.UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) DeleteServiceToken(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM service_tokens
		WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func rowToServiceToken(row serviceTokenRow) token.ServiceToken {
	t := token.ServiceToken{
		ID:        row.ID,
		Name:      row.Name,
		KeyHash:   row.KeyHash,
		Role:      row.Role,
		CreatedAt: row.CreatedAt,
	}
	if row.LastUsedAt.Valid {
		used := row.LastUsedAt.Time
		t.LastUsedAt = &used
	}
	return t
}

// --- helpers ----------------------------------------------------------------

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
