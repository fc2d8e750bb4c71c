package dataset

import "time"

// Dataset is one catalog entry, keyed by the dataset's path.
type Dataset struct {
	ID            string         `json:"id"`
	Path          string         `json:"path"`
	Name          string         `json:"name,omitempty"`
	Description   string         `json:"description,omitempty"`
	Tags          []string       `json:"tags,omitempty"`
	Source        string         `json:"source,omitempty"`
	RowCount      int            `json:"row_count,omitempty"`
	ColumnCount   int            `json:"column_count,omitempty"`
	QualityPassed *bool          `json:"quality_passed,omitempty"`
	LastCommitID  string         `json:"last_commit_id,omitempty"`
	PipelineRunID string         `json:"pipeline_run_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	LastUpdated   time.Time      `json:"last_updated"`
}

// Filter narrows catalog listings.
type Filter struct {
	Tag           string
	QualityPassed *bool
	Limit         int
}
