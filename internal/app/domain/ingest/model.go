package ingest

import "time"

// Format identifies a supported source file format.
type Format string

const (
	FormatAuto Format = "auto"
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// SourceInfo describes an ingested source file.
type SourceInfo struct {
	Path               string             `json:"path"`
	Format             Format             `json:"format"`
	Rows               int                `json:"rows"`
	Columns            int                `json:"columns"`
	ColumnNames        []string           `json:"column_names"`
	NumericColumns     int                `json:"numeric_columns"`
	CategoricalColumns int                `json:"categorical_columns"`
	MissingValues      map[string]int     `json:"missing_values"`
	NumericSummary     map[string]Summary `json:"numeric_summary,omitempty"`
	SizeBytes          int64              `json:"size_bytes"`
	SizeMB             float64            `json:"size_mb"`
	IngestedAt         time.Time          `json:"ingested_at"`
}

// Summary holds descriptive statistics for one numeric column.
type Summary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std"`
	Min    float64 `json:"min"`
	Median float64 `json:"median"`
	Max    float64 `json:"max"`
}
