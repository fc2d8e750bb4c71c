// Package frame provides the in-memory table that ingestion, validation
// and anomaly detection operate on. Cells are held as text with per
// column kinds inferred from the data.
package frame

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Kind is the inferred type of a column.
type Kind int

const (
	KindString Kind = iota
	KindNumeric
	KindBool
	KindTime
	KindNull
)

func (k Kind) String() string {
	switch k {
	case KindNumeric:
		return "numeric"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	case KindNull:
		return "null"
	default:
		return "string"
	}
}

var nullTokens = map[string]bool{
	"":     true,
	"null": true,
	"NULL": true,
	"Null": true,
	"nan":  true,
	"NaN":  true,
	"NAN":  true,
	"None": true,
	"n/a":  true,
	"N/A":  true,
}

// IsNullToken reports whether a raw cell value represents a missing value.
func IsNullToken(s string) bool {
	return nullTokens[strings.TrimSpace(s)]
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Frame is an immutable-width table of raw cell text.
type Frame struct {
	cols  []string
	kinds []Kind
	rows  [][]string
}

// New builds a frame from a header and rows, inferring column kinds.
// Every row must have exactly len(columns) cells.
func New(columns []string, rows [][]string) (*Frame, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("frame: no columns")
	}
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		if seen[c] {
			return nil, fmt.Errorf("frame: duplicate column %q", c)
		}
		seen[c] = true
	}
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("frame: row %d has %d cells, want %d", i, len(row), len(columns))
		}
	}

	f := &Frame{cols: columns, rows: rows}
	f.kinds = make([]Kind, len(columns))
	for i := range columns {
		f.kinds[i] = f.inferKind(i)
	}
	return f, nil
}

func (f *Frame) inferKind(col int) Kind {
	numeric, boolean, timestamp := true, true, true
	nonNull := 0

	for _, row := range f.rows {
		cell := row[col]
		if IsNullToken(cell) {
			continue
		}
		nonNull++
		cell = strings.TrimSpace(cell)

		if numeric {
			if _, err := strconv.ParseFloat(cell, 64); err != nil {
				numeric = false
			}
		}
		if boolean {
			switch strings.ToLower(cell) {
			case "true", "false":
			default:
				boolean = false
			}
		}
		if timestamp {
			if !parseableTime(cell) {
				timestamp = false
			}
		}
		if !numeric && !boolean && !timestamp {
			break
		}
	}

	switch {
	case nonNull == 0:
		return KindNull
	case boolean:
		return KindBool
	case numeric:
		return KindNumeric
	case timestamp:
		return KindTime
	default:
		return KindString
	}
}

func parseableTime(s string) bool {
	for _, layout := range timeLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// NumRows returns the number of data rows.
func (f *Frame) NumRows() int { return len(f.rows) }

// NumCols returns the number of columns.
func (f *Frame) NumCols() int { return len(f.cols) }

// Columns returns the column names in order.
func (f *Frame) Columns() []string {
	out := make([]string, len(f.cols))
	copy(out, f.cols)
	return out
}

// ColumnIndex returns the index of a named column.
func (f *Frame) ColumnIndex(name string) (int, bool) {
	for i, c := range f.cols {
		if c == name {
			return i, true
		}
	}
	return 0, false
}

// ColumnKind returns the inferred kind of column i.
func (f *Frame) ColumnKind(i int) Kind { return f.kinds[i] }

// Cell returns the raw text of a cell.
func (f *Frame) Cell(row, col int) string { return f.rows[row][col] }

// IsNull reports whether a cell is missing.
func (f *Frame) IsNull(row, col int) bool { return IsNullToken(f.rows[row][col]) }

// Float parses a cell as a number. ok is false for nulls and non-numbers.
func (f *Frame) Float(row, col int) (float64, bool) {
	cell := f.rows[row][col]
	if IsNullToken(cell) {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// MissingCount returns the number of null cells in column i.
func (f *Frame) MissingCount(col int) int {
	n := 0
	for _, row := range f.rows {
		if IsNullToken(row[col]) {
			n++
		}
	}
	return n
}

// NumericColumns returns the indices of numeric columns.
func (f *Frame) NumericColumns() []int {
	var out []int
	for i, k := range f.kinds {
		if k == KindNumeric {
			out = append(out, i)
		}
	}
	return out
}

// ColumnFloats returns the parsed values of a column and a mask marking
// which rows held a value.
func (f *Frame) ColumnFloats(col int) ([]float64, []bool) {
	values := make([]float64, len(f.rows))
	present := make([]bool, len(f.rows))
	for i := range f.rows {
		if v, ok := f.Float(i, col); ok {
			values[i] = v
			present[i] = true
		}
	}
	return values, present
}

// NumericParseRatio returns the fraction of non-null cells in a column
// that parse as numbers. Used to spot numbers stored as text.
func (f *Frame) NumericParseRatio(col int) float64 {
	nonNull, parsed := 0, 0
	for i := range f.rows {
		cell := f.rows[i][col]
		if IsNullToken(cell) {
			continue
		}
		nonNull++
		if _, err := strconv.ParseFloat(strings.TrimSpace(cell), 64); err == nil {
			parsed++
		}
	}
	if nonNull == 0 {
		return 0
	}
	return float64(parsed) / float64(nonNull)
}

// DuplicateRows returns the number of rows that repeat an earlier row.
func (f *Frame) DuplicateRows() int {
	seen := make(map[string]bool, len(f.rows))
	dups := 0
	for _, row := range f.rows {
		key := strings.Join(row, "\x1f")
		if seen[key] {
			dups++
		} else {
			seen[key] = true
		}
	}
	return dups
}

// AddColumn appends a column. values must have one entry per row.
func (f *Frame) AddColumn(name string, values []string) error {
	if len(values) != len(f.rows) {
		return fmt.Errorf("frame: column %q has %d values, want %d", name, len(values), len(f.rows))
	}
	if _, exists := f.ColumnIndex(name); exists {
		return fmt.Errorf("frame: column %q already exists", name)
	}
	f.cols = append(f.cols, name)
	for i := range f.rows {
		f.rows[i] = append(f.rows[i], values[i])
	}
	f.kinds = append(f.kinds, f.inferKind(len(f.cols)-1))
	return nil
}

// WriteCSV writes the frame with a header row. Null cells are written
// as empty fields.
func (f *Frame) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(f.cols); err != nil {
		return err
	}
	record := make([]string, len(f.cols))
	for _, row := range f.rows {
		for i, cell := range row {
			if IsNullToken(cell) {
				record[i] = ""
			} else {
				record[i] = cell
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Summary holds descriptive statistics for one numeric column. The
// standard deviation is the sample deviation.
type Summary struct {
	Count  int
	Mean   float64
	StdDev float64
	Min    float64
	Median float64
	Max    float64
}

// Stats describes a frame the way an ingestion report does.
type Stats struct {
	TotalRows          int
	TotalColumns       int
	NumericColumns     int
	CategoricalColumns int
	MissingValues      map[string]int
	NumericSummary     map[string]Summary
}

// Stats computes row, column, missing and numeric summaries.
func (f *Frame) Stats() Stats {
	st := Stats{
		TotalRows:     len(f.rows),
		TotalColumns:  len(f.cols),
		MissingValues: make(map[string]int, len(f.cols)),
	}

	for i, name := range f.cols {
		st.MissingValues[name] = f.MissingCount(i)
		switch f.kinds[i] {
		case KindNumeric:
			st.NumericColumns++
		case KindString:
			st.CategoricalColumns++
		}
	}

	if st.NumericColumns > 0 {
		st.NumericSummary = make(map[string]Summary, st.NumericColumns)
		for _, i := range f.NumericColumns() {
			values, present := f.ColumnFloats(i)
			obs := compact(values, present)
			if len(obs) == 0 {
				continue
			}
			st.NumericSummary[f.cols[i]] = Summary{
				Count:  len(obs),
				Mean:   Mean(obs),
				StdDev: StdDev(obs),
				Min:    minOf(obs),
				Median: Quantile(obs, 0.5),
				Max:    maxOf(obs),
			}
		}
	}
	return st
}

func compact(values []float64, present []bool) []float64 {
	out := make([]float64, 0, len(values))
	for i, ok := range present {
		if ok {
			out = append(out, values[i])
		}
	}
	return out
}

// Mean returns the arithmetic mean of values.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev returns the sample standard deviation of values.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := Mean(values)
	sum := 0.0
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

// Quantile returns the p-quantile (0..1) of values using linear
// interpolation between order statistics.
func Quantile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := p * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// Median returns the middle value of values.
func Median(values []float64) float64 {
	return Quantile(values, 0.5)
}

func minOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
