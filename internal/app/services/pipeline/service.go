package pipeline

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/veritrace/platform/internal/app/domain"
	"github.com/veritrace/platform/internal/app/domain/ingest"
	"github.com/veritrace/platform/internal/app/domain/pipeline"
	"github.com/veritrace/platform/internal/app/frame"
	"github.com/veritrace/platform/internal/app/metrics"
	anomalysvc "github.com/veritrace/platform/internal/app/services/anomaly"
	"github.com/veritrace/platform/internal/app/services/catalog"
	"github.com/veritrace/platform/internal/app/services/ingestion"
	"github.com/veritrace/platform/internal/app/services/ledger"
	qualitysvc "github.com/veritrace/platform/internal/app/services/quality"
	"github.com/veritrace/platform/internal/app/services/versioning"
	"github.com/veritrace/platform/internal/app/storage"
	"github.com/veritrace/platform/internal/config"
	"github.com/veritrace/platform/pkg/logger"
)

const (
	platformName    = "VeriTrace Data Reliability Platform"
	platformVersion = "1.0.0"
)

// Pinger reports the health of a backing component.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps bundles the services the pipeline orchestrates. Storage and
// Cache are optional health probes used by Status.
type Deps struct {
	Ingestion  *ingestion.Service
	Quality    *qualitysvc.Service
	Anomaly    *anomalysvc.Service
	Ledger     *ledger.Service
	Versioning *versioning.Service
	Catalog    *catalog.Service

	Storage Pinger
	Cache   Pinger
}

// Service runs the full data reliability pipeline and tracks its runs.
type Service struct {
	runs  storage.RunStore
	deps  Deps
	paths config.PathsConfig
	log   *logger.Logger
}

// New constructs a pipeline service.
func New(runs storage.RunStore, deps Deps, paths config.PathsConfig, log *logger.Logger) *Service {
	if strings.TrimSpace(paths.ProcessedDir) == "" {
		paths.ProcessedDir = config.Default().Paths.ProcessedDir
	}
	if log == nil {
		log = logger.NewDefault("pipeline")
	}
	return &Service{
		runs:  runs,
		deps:  deps,
		paths: paths,
		log:   log,
	}
}

// RunRequest describes one pipeline execution. An empty output path
// derives one from the source name under the processed directory.
type RunRequest struct {
	SourcePath  string
	OutputPath  string
	Branch      string
	Trigger     pipeline.Trigger
	Format      ingest.Format
	Delimiter   string
	Sheet       string
	RecordsPath string
}

// Run executes the full pipeline: ingest, validate, detect anomalies,
// write the annotated output, version it, record it on the ledger and
// register it in the catalog. The run is persisted as running before
// the first stage and updated with the outcome. A failed quality
// report is recorded but does not stop the run.
func (s *Service) Run(ctx context.Context, req RunRequest) (pipeline.Run, error) {
	source := strings.TrimSpace(req.SourcePath)
	if source == "" {
		return pipeline.Run{}, domain.NewError(domain.KindPipeline, "source path is required")
	}
	output := strings.TrimSpace(req.OutputPath)
	if output == "" {
		output = s.defaultOutputPath(source)
	}
	trigger := req.Trigger
	if trigger == "" {
		trigger = pipeline.TriggerAPI
	}

	run := pipeline.Run{
		SourcePath: source,
		OutputPath: output,
		Branch:     strings.TrimSpace(req.Branch),
		Trigger:    trigger,
		Status:     pipeline.StatusRunning,
		StartedAt:  time.Now().UTC(),
	}
	run, err := s.runs.CreateRun(ctx, run)
	if err != nil {
		return pipeline.Run{}, fmt.Errorf("persist run: %w", err)
	}

	s.log.WithField("run_id", run.ID).
		WithField("source", source).
		WithField("output", output).
		Info("pipeline run started")

	if err := s.execute(ctx, &run, req); err != nil {
		run.Status = pipeline.StatusFailed
		run.Error = err.Error()
		run.FinishedAt = time.Now().UTC()
		if _, uerr := s.runs.UpdateRun(ctx, run); uerr != nil {
			s.log.WithError(uerr).WithField("run_id", run.ID).Error("persist failed run")
		}
		metrics.RecordPipelineRun(string(run.Trigger), string(run.Status), run.FinishedAt.Sub(run.StartedAt), run.RowsProcessed)
		s.log.WithError(err).WithField("run_id", run.ID).Error("pipeline run failed")
		return run, err
	}

	run.Status = pipeline.StatusSucceeded
	run.FinishedAt = time.Now().UTC()
	run, err = s.runs.UpdateRun(ctx, run)
	if err != nil {
		return run, fmt.Errorf("persist run result: %w", err)
	}
	metrics.RecordPipelineRun(string(run.Trigger), string(run.Status), run.FinishedAt.Sub(run.StartedAt), run.RowsProcessed)

	s.log.WithField("run_id", run.ID).
		WithField("rows", run.RowsProcessed).
		WithField("anomalies", run.AnomalyCount).
		WithField("passed", run.ValidationPassed).
		Info("pipeline run completed")
	return run, nil
}

func (s *Service) execute(ctx context.Context, run *pipeline.Run, req RunRequest) error {
	fr, info, err := s.deps.Ingestion.Ingest(ctx, ingestion.Request{
		Path:        run.SourcePath,
		Format:      req.Format,
		Delimiter:   req.Delimiter,
		Sheet:       req.Sheet,
		RecordsPath: req.RecordsPath,
	})
	if err != nil {
		return err
	}
	run.Source = &info
	run.RowsProcessed = info.Rows

	rep, err := s.deps.Quality.Validate(ctx, fr, run.SourcePath)
	if err != nil {
		return err
	}
	run.Report = &rep
	run.ValidationPassed = rep.Passed
	run.QualityIssues = rep.Summary.TotalIssues

	res, err := s.deps.Anomaly.Detect(ctx, fr, "")
	if err != nil {
		return err
	}
	run.Anomalies = &res
	run.AnomalyCount = res.AnomalyCount
	run.AnomalyRate = res.AnomalyRate

	if err := anomalysvc.Annotate(fr, res); err != nil {
		return domain.WrapError(domain.KindPipeline, "annotate output", err)
	}
	if err := s.writeOutput(run.OutputPath, fr); err != nil {
		return err
	}

	message := fmt.Sprintf("Processed data from %s (%d rows)", filepath.Base(run.SourcePath), run.RowsProcessed)
	commit, err := s.deps.Versioning.Commit(ctx, run.OutputPath, run.Branch, message, map[string]string{
		"source": run.SourcePath,
		"run_id": run.ID,
	})
	if err != nil {
		return err
	}
	run.CommitID = commit.ID
	run.Branch = commit.Branch

	hash, err := s.deps.Ledger.HashFile(run.OutputPath)
	if err != nil {
		return err
	}
	run.OutputHash = hash

	rec, err := s.deps.Ledger.Record(ctx, "pipeline_run", hash, "", map[string]any{
		"source_file":       run.SourcePath,
		"output_file":       run.OutputPath,
		"rows_processed":    run.RowsProcessed,
		"validation_passed": run.ValidationPassed,
		"anomaly_count":     run.AnomalyCount,
		"commit_id":         run.CommitID,
	})
	if err != nil {
		return err
	}
	run.TransactionID = rec.TransactionID

	if _, err := s.deps.Catalog.Register(ctx, catalog.RegisterRequest{
		Path:          run.OutputPath,
		Source:        run.SourcePath,
		RowCount:      run.RowsProcessed,
		ColumnCount:   fr.NumCols(),
		QualityPassed: &rep.Passed,
		LastCommitID:  run.CommitID,
		PipelineRunID: run.ID,
		Metadata: map[string]any{
			"transaction_id": run.TransactionID,
			"output_hash":    run.OutputHash,
			"anomaly_count":  run.AnomalyCount,
		},
	}); err != nil {
		return err
	}
	return nil
}

// Get returns one pipeline run by ID.
func (s *Service) Get(ctx context.Context, id string) (pipeline.Run, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return pipeline.Run{}, domain.NewError(domain.KindPipeline, "run id is required")
	}
	return s.runs.GetRun(ctx, id)
}

// List returns pipeline runs, newest first.
func (s *Service) List(ctx context.Context, filter pipeline.Filter) ([]pipeline.Run, error) {
	return s.runs.ListRuns(ctx, filter)
}

// Status reports platform health. The platform is degraded when the
// storage backend stops answering pings; a degraded cache only affects
// its own component entry because reads fall back to the stores.
func (s *Service) Status(ctx context.Context) pipeline.PlatformStatus {
	components := map[string]pipeline.ComponentHealth{
		"ingestion":  pipeline.ComponentActive,
		"validation": pipeline.ComponentActive,
		"versioning": pipeline.ComponentActive,
		"ledger":     pipeline.ComponentActive,
		"catalog":    pipeline.ComponentActive,
	}
	status := "operational"

	if s.deps.Storage != nil {
		if err := s.deps.Storage.Ping(ctx); err != nil {
			components["storage"] = pipeline.ComponentDegraded
			status = "degraded"
			s.log.WithError(err).Warn("storage ping failed")
		} else {
			components["storage"] = pipeline.ComponentActive
		}
	}
	switch {
	case s.deps.Cache == nil:
		components["cache"] = pipeline.ComponentDisabled
	default:
		if err := s.deps.Cache.Ping(ctx); err != nil {
			components["cache"] = pipeline.ComponentDegraded
			s.log.WithError(err).Warn("cache ping failed")
		} else {
			components["cache"] = pipeline.ComponentActive
		}
	}

	return pipeline.PlatformStatus{
		Platform:   platformName,
		Version:    platformVersion,
		Status:     status,
		Components: components,
		System:     systemInfo(),
		CheckedAt:  time.Now().UTC(),
	}
}

func (s *Service) defaultOutputPath(source string) string {
	base := filepath.Base(source)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(s.paths.ProcessedDir, stem+"_processed.csv")
}

func (s *Service) writeOutput(path string, fr *frame.Frame) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return domain.WrapError(domain.KindPipeline, "create output directory", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return domain.WrapError(domain.KindPipeline, "create output file", err)
	}
	defer f.Close()
	if err := fr.WriteCSV(f); err != nil {
		return domain.WrapError(domain.KindPipeline, "write output file", err)
	}
	return nil
}

func systemInfo() *pipeline.SystemInfo {
	info := &pipeline.SystemInfo{
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
	}
	if h, err := host.Info(); err == nil {
		info.Hostname = h.Hostname
		info.Platform = strings.TrimSpace(h.Platform + " " + h.PlatformVersion)
		info.UptimeSeconds = h.Uptime
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info.MemoryUsedPct = math.Round(vm.UsedPercent*100) / 100
	}
	return info
}
