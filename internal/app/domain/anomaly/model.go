package anomaly

// Method identifies a statistical detection method.
type Method string

const (
	MethodZScore Method = "zscore"
	MethodIQR    Method = "iqr"
	MethodMAD    Method = "mad"
)

// Reason explains why one column contributed to a row being flagged.
type Reason struct {
	Column     string  `json:"column"`
	Value      float64 `json:"value"`
	NormalMean float64 `json:"normal_mean"`
	NormalStd  float64 `json:"normal_std"`
	ZScore     float64 `json:"z_score"`
	Severity   string  `json:"severity"`
}

// Explanation collects the reasons for one flagged row.
type Explanation struct {
	RowIndex int      `json:"row_index"`
	Reasons  []Reason `json:"anomaly_reasons"`
}

// Result is the outcome of running detection over a table.
type Result struct {
	Method          Method        `json:"method"`
	TotalRows       int           `json:"total_rows"`
	AnomalyCount    int           `json:"anomaly_count"`
	AnomalyRate     float64       `json:"anomaly_rate"`
	Scores          []float64     `json:"-"`
	Flags           []bool        `json:"-"`
	ColumnsAnalyzed []string      `json:"columns_analyzed"`
	Explanations    []Explanation `json:"explanations,omitempty"`
	Summary         string        `json:"summary,omitempty"`
}
