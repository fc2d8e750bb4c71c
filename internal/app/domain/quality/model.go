package quality

import "time"

// Severity grades a quality issue.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Check identifies which validation produced an issue.
type Check string

const (
	CheckMissingValues Check = "missing_values"
	CheckDuplicateRows Check = "duplicate_rows"
	CheckTypeMismatch  Check = "data_type_mismatch"
	CheckOutliers      Check = "outliers"
)

// AllColumns is the column marker for table-wide issues.
const AllColumns = "all_columns"

// Issue is one finding from a quality check.
type Issue struct {
	Check       Check    `json:"type"`
	Column      string   `json:"column"`
	Count       int      `json:"count,omitempty"`
	Percentage  float64  `json:"percentage,omitempty"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description,omitempty"`
}

// Summary aggregates the issues of a report.
type Summary struct {
	TotalRows         int              `json:"total_rows"`
	TotalColumns      int              `json:"total_columns"`
	TotalIssues       int              `json:"total_issues"`
	IssueTypes        []string         `json:"issue_types"`
	ColumnsWithIssues []string         `json:"columns_with_issues"`
	SeverityCounts    map[Severity]int `json:"severity_counts"`
}

// Report is the result of validating one dataset.
type Report struct {
	ID          string    `json:"id"`
	DatasetPath string    `json:"dataset_path"`
	Passed      bool      `json:"passed"`
	Issues      []Issue   `json:"issues"`
	Summary     Summary   `json:"summary"`
	GeneratedAt time.Time `json:"generated_at"`
}
