package pipeline

import (
	"time"

	"github.com/veritrace/platform/internal/app/domain/anomaly"
	"github.com/veritrace/platform/internal/app/domain/ingest"
	"github.com/veritrace/platform/internal/app/domain/quality"
)

// Status is the lifecycle state of a pipeline run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Trigger records what started a run.
type Trigger string

const (
	TriggerAPI      Trigger = "api"
	TriggerCLI      Trigger = "cli"
	TriggerSchedule Trigger = "schedule"
)

// Run is one execution of the full reliability pipeline.
type Run struct {
	ID               string             `json:"id"`
	SourcePath       string             `json:"source_path"`
	OutputPath       string             `json:"output_path"`
	Branch           string             `json:"branch"`
	Trigger          Trigger            `json:"trigger"`
	Status           Status             `json:"status"`
	RowsProcessed    int                `json:"rows_processed"`
	ValidationPassed bool               `json:"validation_passed"`
	AnomalyCount     int                `json:"anomaly_count"`
	AnomalyRate      float64            `json:"anomaly_rate"`
	QualityIssues    int                `json:"quality_issues"`
	CommitID         string             `json:"commit_id,omitempty"`
	TransactionID    string             `json:"transaction_id,omitempty"`
	OutputHash       string             `json:"output_hash,omitempty"`
	Error            string             `json:"error,omitempty"`
	Source           *ingest.SourceInfo `json:"source,omitempty"`
	Report           *quality.Report    `json:"report,omitempty"`
	Anomalies        *anomaly.Result    `json:"anomalies,omitempty"`
	StartedAt        time.Time          `json:"started_at"`
	FinishedAt       time.Time          `json:"finished_at,omitempty"`
}

// Filter narrows run listings.
type Filter struct {
	Status Status
	Limit  int
}

// ComponentHealth is the reported state of one platform component.
type ComponentHealth string

const (
	ComponentActive   ComponentHealth = "active"
	ComponentDegraded ComponentHealth = "degraded"
	ComponentDisabled ComponentHealth = "disabled"
)

// SystemInfo describes the host the platform runs on.
type SystemInfo struct {
	Hostname      string  `json:"hostname"`
	Platform      string  `json:"platform"`
	UptimeSeconds uint64  `json:"uptime_seconds"`
	MemoryUsedPct float64 `json:"memory_used_pct"`
	GoVersion     string  `json:"go_version"`
	NumGoroutine  int     `json:"num_goroutine"`
}

// PlatformStatus is the health summary returned by the status endpoint.
type PlatformStatus struct {
	Platform   string                     `json:"platform"`
	Version    string                     `json:"version"`
	Status     string                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	System     *SystemInfo                `json:"system,omitempty"`
	CheckedAt  time.Time                  `json:"checked_at"`
}
