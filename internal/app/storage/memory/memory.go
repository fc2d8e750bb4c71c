package memory

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

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

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
// Missing records are reported with sql.ErrNoRows, matching the PostgreSQL
// backend.
type Store struct {
	mu             sync.RWMutex
	runs           map[string]pipeline.Run
	runOrder       []string
	auditLog       []audit.Record
	auditByTx      map[string]int
	commits        []version.Commit
	commitByID     map[string]int
	datasets       map[string]dataset.Dataset
	datasetsByPath map[string]string
	reports        []quality.Report
	reportByID     map[string]int
	users          map[string]token.User
	usersByName    map[string]string
	serviceTokens  map[string]token.ServiceToken
	tokensByHash   map[string]string
}

var _ storage.RunStore = (*Store)(nil)
var _ storage.AuditStore = (*Store)(nil)
var _ storage.CommitStore = (*Store)(nil)
var _ storage.DatasetStore = (*Store)(nil)
var _ storage.ReportStore = (*Store)(nil)
var _ storage.TokenStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		runs:           make(map[string]pipeline.Run),
		auditByTx:      make(map[string]int),
		commitByID:     make(map[string]int),
		datasets:       make(map[string]dataset.Dataset),
		datasetsByPath: make(map[string]string),
		reportByID:     make(map[string]int),
		users:          make(map[string]token.User),
		usersByName:    make(map[string]string),
		serviceTokens:  make(map[string]token.ServiceToken),
		tokensByHash:   make(map[string]string),
	}
}

// Ping reports the store as always reachable.
func (s *Store) Ping(context.Context) error { return nil }

// RunStore implementation -----------------------------------------------------

func (s *Store) CreateRun(_ context.Context, run pipeline.Run) (pipeline.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == "" {
		run.ID = uuid.NewString()
	} else if _, exists := s.runs[run.ID]; exists {
		return pipeline.Run{}, fmt.Errorf("pipeline run %s already exists", run.ID)
	}

	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	s.runs[run.ID] = cloneRun(run)
	s.runOrder = append(s.runOrder, run.ID)
	return cloneRun(run), nil
}

func (s *Store) UpdateRun(_ context.Context, run pipeline.Run) (pipeline.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.runs[run.ID]
	if !ok {
		return pipeline.Run{}, sql.ErrNoRows
	}

	run.StartedAt = original.StartedAt

	s.runs[run.ID] = cloneRun(run)
	return cloneRun(run), nil
}

func (s *Store) GetRun(_ context.Context, id string) (pipeline.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return pipeline.Run{}, sql.ErrNoRows
	}
	return cloneRun(run), nil
}

func (s *Store) ListRuns(_ context.Context, filter pipeline.Filter) ([]pipeline.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]pipeline.Run, 0)
	for i := len(s.runOrder) - 1; i >= 0; i-- {
		run := s.runs[s.runOrder[i]]
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		result = append(result, cloneRun(run))
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

// AuditStore implementation ---------------------------------------------------

func (s *Store) AppendAuditRecord(_ context.Context, rec audit.Record) (audit.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.TransactionID == "" {
		return audit.Record{}, fmt.Errorf("audit record requires a transaction id")
	}
	if _, exists := s.auditByTx[rec.TransactionID]; exists {
		return audit.Record{}, fmt.Errorf("audit record %s already exists", rec.TransactionID)
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}

	s.auditLog = append(s.auditLog, cloneRecord(rec))
	s.auditByTx[rec.TransactionID] = len(s.auditLog) - 1
	return cloneRecord(rec), nil
}

func (s *Store) GetAuditRecord(_ context.Context, transactionID string) (audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.auditByTx[transactionID]
	if !ok {
		return audit.Record{}, sql.ErrNoRows
	}
	return cloneRecord(s.auditLog[idx]), nil
}

func (s *Store) LatestAuditRecord(_ context.Context) (audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.auditLog) == 0 {
		return audit.Record{}, sql.ErrNoRows
	}
	return cloneRecord(s.auditLog[len(s.auditLog)-1]), nil
}

func (s *Store) ListAuditRecords(_ context.Context, operation string, limit int) ([]audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]audit.Record, 0)
	for i := len(s.auditLog) - 1; i >= 0; i-- {
		rec := s.auditLog[i]
		if operation != "" && rec.Operation != operation {
			continue
		}
		result = append(result, cloneRecord(rec))
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// CommitStore implementation --------------------------------------------------

func (s *Store) CreateCommit(_ context.Context, c version.Commit) (version.Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.NewString()
	} else if _, exists := s.commitByID[c.ID]; exists {
		return version.Commit{}, fmt.Errorf("commit %s already exists", c.ID)
	}
	if c.CommittedAt.IsZero() {
		c.CommittedAt = time.Now().UTC()
	}

	s.commits = append(s.commits, cloneCommit(c))
	s.commitByID[c.ID] = len(s.commits) - 1
	return cloneCommit(c), nil
}

func (s *Store) GetCommit(_ context.Context, id string) (version.Commit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.commitByID[id]
	if !ok {
		return version.Commit{}, sql.ErrNoRows
	}
	return cloneCommit(s.commits[idx]), nil
}

func (s *Store) ListCommits(_ context.Context, branch string, limit int) ([]version.Commit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]version.Commit, 0)
	for i := len(s.commits) - 1; i >= 0; i-- {
		c := s.commits[i]
		if branch != "" && c.Branch != branch {
			continue
		}
		result = append(result, cloneCommit(c))
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) ListBranches(_ context.Context) ([]version.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byName := make(map[string]version.Branch)
	for _, c := range s.commits {
		b := byName[c.Branch]
		b.Name = c.Branch
		b.CommitCount++
		b.HeadCommit = c.ID
		b.UpdatedAt = c.CommittedAt
		byName[c.Branch] = b
	}

	result := make([]version.Branch, 0, len(byName))
	for _, b := range byName {
		result = append(result, b)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// DatasetStore implementation -------------------------------------------------

func (s *Store) UpsertDataset(_ context.Context, ds dataset.Dataset) (dataset.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ds.Path == "" {
		return dataset.Dataset{}, fmt.Errorf("dataset requires a path")
	}

	now := time.Now().UTC()
	if id, ok := s.datasetsByPath[ds.Path]; ok {
		original := s.datasets[id]
		ds.ID = original.ID
		ds.CreatedAt = original.CreatedAt
	} else {
		if ds.ID == "" {
			ds.ID = uuid.NewString()
		}
		ds.CreatedAt = now
	}
	ds.LastUpdated = now

	s.datasets[ds.ID] = cloneDataset(ds)
	s.datasetsByPath[ds.Path] = ds.ID
	return cloneDataset(ds), nil
}

func (s *Store) GetDataset(_ context.Context, id string) (dataset.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ds, ok := s.datasets[id]
	if !ok {
		return dataset.Dataset{}, sql.ErrNoRows
	}
	return cloneDataset(ds), nil
}

func (s *Store) GetDatasetByPath(_ context.Context, path string) (dataset.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.datasetsByPath[path]
	if !ok {
		return dataset.Dataset{}, sql.ErrNoRows
	}
	return cloneDataset(s.datasets[id]), nil
}

func (s *Store) ListDatasets(_ context.Context, filter dataset.Filter) ([]dataset.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]dataset.Dataset, 0, len(s.datasets))
	for _, ds := range s.datasets {
		if filter.Tag != "" && !hasTag(ds.Tags, filter.Tag) {
			continue
		}
		if filter.QualityPassed != nil {
			if ds.QualityPassed == nil || *ds.QualityPassed != *filter.QualityPassed {
				continue
			}
		}
		all = append(all, cloneDataset(ds))
	}
	sortDatasets(all)
	if filter.Limit > 0 && len(all) > filter.Limit {
		all = all[:filter.Limit]
	}
	return all, nil
}

func (s *Store) DeleteDataset(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ds, ok := s.datasets[id]
	if !ok {
		return sql.ErrNoRows
	}
	delete(s.datasets, id)
	delete(s.datasetsByPath, ds.Path)
	return nil
}

func (s *Store) SearchDatasets(_ context.Context, query string, limit int) ([]dataset.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(query))
	result := make([]dataset.Dataset, 0)
	for _, ds := range s.datasets {
		if needle != "" && !matchesDataset(ds, needle) {
			continue
		}
		result = append(result, cloneDataset(ds))
	}
	sortDatasets(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ReportStore implementation --------------------------------------------------

func (s *Store) CreateReport(_ context.Context, rep quality.Report) (quality.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rep.ID == "" {
		rep.ID = uuid.NewString()
	} else if _, exists := s.reportByID[rep.ID]; exists {
		return quality.Report{}, fmt.Errorf("quality report %s already exists", rep.ID)
	}
	if rep.GeneratedAt.IsZero() {
		rep.GeneratedAt = time.Now().UTC()
	}

	s.reports = append(s.reports, cloneReport(rep))
	s.reportByID[rep.ID] = len(s.reports) - 1
	return cloneReport(rep), nil
}

func (s *Store) GetReport(_ context.Context, id string) (quality.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.reportByID[id]
	if !ok {
		return quality.Report{}, sql.ErrNoRows
	}
	return cloneReport(s.reports[idx]), nil
}

func (s *Store) ListReports(_ context.Context, datasetPath string, limit int) ([]quality.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]quality.Report, 0)
	for i := len(s.reports) - 1; i >= 0; i-- {
		rep := s.reports[i]
		if datasetPath != "" && rep.DatasetPath != datasetPath {
			continue
		}
		result = append(result, cloneReport(rep))
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// TokenStore implementation ---------------------------------------------------

func (s *Store) CreateUser(_ context.Context, u token.User) (token.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.Username == "" {
		return token.User{}, fmt.Errorf("user requires a username")
	}
	if _, exists := s.usersByName[u.Username]; exists {
		return token.User{}, fmt.Errorf("user %s already exists", u.Username)
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	} else if _, exists := s.users[u.ID]; exists {
		return token.User{}, fmt.Errorf("user %s already exists", u.ID)
	}
	u.CreatedAt = time.Now().UTC()

	s.users[u.ID] = u
	s.usersByName[u.Username] = u.ID
	return u, nil
}

func (s *Store) GetUser(_ context.Context, id string) (token.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return token.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (token.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByName[username]
	if !ok {
		return token.User{}, sql.ErrNoRows
	}
	return s.users[id], nil
}

func (s *Store) CreateServiceToken(_ context.Context, t token.ServiceToken) (token.ServiceToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.KeyHash == "" {
		return token.ServiceToken{}, fmt.Errorf("service token requires a key hash")
	}
	if _, exists := s.tokensByHash[t.KeyHash]; exists {
		return token.ServiceToken{}, fmt.Errorf("service token %s already exists", t.Name)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	} else if _, exists := s.serviceTokens[t.ID]; exists {
		return token.ServiceToken{}, fmt.Errorf("service token %s already exists", t.ID)
	}
	t.CreatedAt = time.Now().UTC()

	s.serviceTokens[t.ID] = t
	s.tokensByHash[t.KeyHash] = t.ID
	return t, nil
}

func (s *Store) GetServiceTokenByHash(_ context.Context, keyHash string) (token.ServiceToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.tokensByHash[keyHash]
	if !ok {
		return token.ServiceToken{}, sql.ErrNoRows
	}
	return s.serviceTokens[id], nil
}

func (s *Store) ListServiceTokens(_ context.Context) ([]token.ServiceToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]token.ServiceToken, 0, len(s.serviceTokens))
	for _, t := range s.serviceTokens {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].Name < result[j].Name
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) TouchServiceToken(_ context.Context, id string, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.serviceTokens[id]
	if !ok {
		return sql.ErrNoRows
	}
	usedAt = usedAt.UTC()
	t.LastUsedAt = &usedAt
	s.serviceTokens[id] = t
	return nil
}

func (s *Store) DeleteServiceToken(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.serviceTokens[id]
	if !ok {
		return sql.ErrNoRows
	}
	delete(s.serviceTokens, id)
	delete(s.tokensByHash, t.KeyHash)
	return nil
}

// Helpers ---------------------------------------------------------------------

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

func matchesDataset(ds dataset.Dataset, needle string) bool {
	if strings.Contains(strings.ToLower(ds.Name), needle) ||
		strings.Contains(strings.ToLower(ds.Path), needle) ||
		strings.Contains(strings.ToLower(ds.Description), needle) {
		return true
	}
	for _, tag := range ds.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

func sortDatasets(all []dataset.Dataset) {
	sort.Slice(all, func(i, j int) bool {
		if all[i].LastUpdated.Equal(all[j].LastUpdated) {
			return all[i].Path < all[j].Path
		}
		return all[i].LastUpdated.After(all[j].LastUpdated)
	})
}

func cloneAnyMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func cloneStringMap(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func cloneRun(run pipeline.Run) pipeline.Run {
	if run.Source != nil {
		src := cloneSourceInfo(*run.Source)
		run.Source = &src
	}
	if run.Report != nil {
		rep := cloneReport(*run.Report)
		run.Report = &rep
	}
	if run.Anomalies != nil {
		res := cloneResult(*run.Anomalies)
		run.Anomalies = &res
	}
	return run
}

func cloneSourceInfo(src ingest.SourceInfo) ingest.SourceInfo {
	src.ColumnNames = append([]string(nil), src.ColumnNames...)
	if src.MissingValues != nil {
		mv := make(map[string]int, len(src.MissingValues))
		for k, v := range src.MissingValues {
			mv[k] = v
		}
		src.MissingValues = mv
	}
	if src.NumericSummary != nil {
		ns := make(map[string]ingest.Summary, len(src.NumericSummary))
		for k, v := range src.NumericSummary {
			ns[k] = v
		}
		src.NumericSummary = ns
	}
	return src
}

func cloneReport(rep quality.Report) quality.Report {
	rep.Issues = append([]quality.Issue(nil), rep.Issues...)
	rep.Summary.ColumnsWithIssues = append([]string(nil), rep.Summary.ColumnsWithIssues...)
	if rep.Summary.IssueTypes != nil {
		it := make([]string, len(rep.Summary.IssueTypes))
		copy(it, rep.Summary.IssueTypes)
		rep.Summary.IssueTypes = it
	}
	if rep.Summary.SeverityCounts != nil {
		sc := make(map[quality.Severity]int, len(rep.Summary.SeverityCounts))
		for k, v := range rep.Summary.SeverityCounts {
			sc[k] = v
		}
		rep.Summary.SeverityCounts = sc
	}
	return rep
}

func cloneResult(res anomaly.Result) anomaly.Result {
	res.Scores = append([]float64(nil), res.Scores...)
	res.Flags = append([]bool(nil), res.Flags...)
	res.ColumnsAnalyzed = append([]string(nil), res.ColumnsAnalyzed...)
	if res.Explanations != nil {
		ex := make([]anomaly.Explanation, len(res.Explanations))
		for i, e := range res.Explanations {
			e.Reasons = append([]anomaly.Reason(nil), e.Reasons...)
			ex[i] = e
		}
		res.Explanations = ex
	}
	return res
}

func cloneRecord(rec audit.Record) audit.Record {
	rec.Metadata = cloneAnyMap(rec.Metadata)
	return rec
}

func cloneCommit(c version.Commit) version.Commit {
	c.Metadata = cloneStringMap(c.Metadata)
	return c
}

func cloneDataset(ds dataset.Dataset) dataset.Dataset {
	ds.Tags = append([]string(nil), ds.Tags...)
	ds.Metadata = cloneAnyMap(ds.Metadata)
	if ds.QualityPassed != nil {
		v := *ds.QualityPassed
		ds.QualityPassed = &v
	}
	return ds
}
