package anomaly

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/veritrace/platform/internal/app/domain"
	"github.com/veritrace/platform/internal/app/domain/anomaly"
	"github.com/veritrace/platform/internal/app/frame"
	"github.com/veritrace/platform/internal/config"
	"github.com/veritrace/platform/pkg/logger"
)

// maxExplained caps how many flagged rows get a full explanation.
const maxExplained = 10

// Service flags anomalous rows using statistical detection methods.
type Service struct {
	cfg config.AnomalyConfig
	log *logger.Logger
}

// New constructs an anomaly service. Unset config fields fall back to
// the built-in defaults.
func New(cfg config.AnomalyConfig, log *logger.Logger) *Service {
	def := config.Default().Anomaly
	if strings.TrimSpace(cfg.Method) == "" {
		cfg.Method = def.Method
	}
	if cfg.ZScoreThreshold <= 0 {
		cfg.ZScoreThreshold = def.ZScoreThreshold
	}
	if cfg.MADThreshold <= 0 {
		cfg.MADThreshold = def.MADThreshold
	}
	if cfg.IQRFactor <= 0 {
		cfg.IQRFactor = def.IQRFactor
	}
	if log == nil {
		log = logger.NewDefault("anomaly")
	}
	return &Service{cfg: cfg, log: log}
}

// Detect scores every row of the frame with the requested method. An
// empty method falls back to the configured one. Rows with null numeric
// cells are scored on their remaining columns.
func (s *Service) Detect(ctx context.Context, fr *frame.Frame, method anomaly.Method) (anomaly.Result, error) {
	if fr == nil || fr.NumRows() == 0 {
		return anomaly.Result{}, domain.NewError(domain.KindValidation, "no data to analyze")
	}
	m, err := s.resolveMethod(method)
	if err != nil {
		return anomaly.Result{}, err
	}

	res := anomaly.Result{
		Method:    m,
		TotalRows: fr.NumRows(),
		Scores:    make([]float64, fr.NumRows()),
		Flags:     make([]bool, fr.NumRows()),
	}

	cols := analyzedColumns(fr)
	if len(cols) == 0 {
		res.Summary = "No numeric data available for analysis"
		s.log.WithField("rows", fr.NumRows()).Warn("no numeric columns to analyze")
		return res, nil
	}

	var threshold float64
	switch m {
	case anomaly.MethodZScore:
		res.Scores = zscoreScores(fr.NumRows(), cols)
		threshold = s.cfg.ZScoreThreshold
	case anomaly.MethodIQR:
		res.Scores = iqrScores(fr.NumRows(), cols, s.cfg.IQRFactor)
		threshold = 0
	case anomaly.MethodMAD:
		res.Scores = madScores(fr.NumRows(), cols)
		threshold = s.cfg.MADThreshold
	}

	for i, score := range res.Scores {
		if score > threshold {
			res.Flags[i] = true
			res.AnomalyCount++
		}
	}
	res.AnomalyRate = float64(res.AnomalyCount) / float64(res.TotalRows)
	for _, col := range cols {
		res.ColumnsAnalyzed = append(res.ColumnsAnalyzed, col.name)
	}
	res.Explanations = explainFlagged(cols, res.Flags)
	res.Summary = fmt.Sprintf("%d of %d rows flagged by %s", res.AnomalyCount, res.TotalRows, m)

	s.log.WithField("method", string(m)).
		WithField("rows", res.TotalRows).
		WithField("anomalies", res.AnomalyCount).
		Info("anomaly detection completed")
	return res, nil
}

// Explain compares one row against the rows that were not flagged and
// reports the columns where it deviates by more than two standard
// deviations. Deviations beyond three are marked high.
func (s *Service) Explain(fr *frame.Frame, flags []bool, row int) []anomaly.Reason {
	if fr == nil || row < 0 || row >= fr.NumRows() || len(flags) != fr.NumRows() {
		return nil
	}
	return explainRow(analyzedColumns(fr), flags, row)
}

func (s *Service) resolveMethod(method anomaly.Method) (anomaly.Method, error) {
	if method == "" {
		method = anomaly.Method(strings.ToLower(s.cfg.Method))
	}
	switch method {
	case anomaly.MethodZScore, anomaly.MethodIQR, anomaly.MethodMAD:
		return method, nil
	default:
		return "", domain.NewError(domain.KindValidation, fmt.Sprintf("unknown anomaly method %q", string(method)))
	}
}

// Annotate appends anomaly_score and is_anomaly columns to the frame.
func Annotate(fr *frame.Frame, res anomaly.Result) error {
	scores := make([]string, len(res.Scores))
	flags := make([]string, len(res.Flags))
	for i := range res.Scores {
		scores[i] = strconv.FormatFloat(res.Scores[i], 'f', 4, 64)
		flags[i] = strconv.FormatBool(res.Flags[i])
	}
	if err := fr.AddColumn("anomaly_score", scores); err != nil {
		return err
	}
	return fr.AddColumn("is_anomaly", flags)
}

// column carries one numeric column worth analyzing.
type column struct {
	name    string
	values  []float64
	present []bool
}

// analyzedColumns returns the numeric columns with non-zero variance.
func analyzedColumns(fr *frame.Frame) []column {
	var cols []column
	for _, idx := range fr.NumericColumns() {
		values, present := fr.ColumnFloats(idx)
		sample := compact(values, present)
		if len(sample) < 2 || frame.StdDev(sample) == 0 {
			continue
		}
		cols = append(cols, column{
			name:    fr.Columns()[idx],
			values:  values,
			present: present,
		})
	}
	return cols
}

func zscoreScores(rows int, cols []column) []float64 {
	scores := make([]float64, rows)
	for _, col := range cols {
		sample := compact(col.values, col.present)
		mean := frame.Mean(sample)
		std := frame.StdDev(sample)
		for i := range scores {
			if !col.present[i] {
				continue
			}
			if z := math.Abs((col.values[i] - mean) / std); z > scores[i] {
				scores[i] = z
			}
		}
	}
	return scores
}

// iqrScores measures how far each cell sits beyond the Tukey fences,
// normalized by the interquartile range. Rows inside the fences score 0.
func iqrScores(rows int, cols []column, factor float64) []float64 {
	scores := make([]float64, rows)
	for _, col := range cols {
		sample := compact(col.values, col.present)
		q1 := frame.Quantile(sample, 0.25)
		q3 := frame.Quantile(sample, 0.75)
		iqr := q3 - q1
		lo := q1 - factor*iqr
		hi := q3 + factor*iqr

		for i := range scores {
			if !col.present[i] {
				continue
			}
			v := col.values[i]
			var sc float64
			switch {
			case v < lo:
				sc = exceedance(lo-v, iqr)
			case v > hi:
				sc = exceedance(v-hi, iqr)
			}
			if sc > scores[i] {
				scores[i] = sc
			}
		}
	}
	return scores
}

func exceedance(dist, iqr float64) float64 {
	if iqr == 0 {
		return 1
	}
	return dist / iqr
}

// madScores computes modified z-scores from the median absolute
// deviation. Columns where the MAD collapses to zero fall back to the
// mean absolute deviation.
func madScores(rows int, cols []column) []float64 {
	scores := make([]float64, rows)
	for _, col := range cols {
		sample := compact(col.values, col.present)
		med := frame.Median(sample)
		devs := make([]float64, len(sample))
		for i, v := range sample {
			devs[i] = math.Abs(v - med)
		}
		mad := frame.Median(devs)

		var modz func(v float64) float64
		if mad > 0 {
			modz = func(v float64) float64 { return 0.6745 * math.Abs(v-med) / mad }
		} else {
			meanDev := frame.Mean(devs)
			if meanDev == 0 {
				continue
			}
			modz = func(v float64) float64 { return math.Abs(v-med) / (1.2533 * meanDev) }
		}

		for i := range scores {
			if !col.present[i] {
				continue
			}
			if z := modz(col.values[i]); z > scores[i] {
				scores[i] = z
			}
		}
	}
	return scores
}

func explainFlagged(cols []column, flags []bool) []anomaly.Explanation {
	var out []anomaly.Explanation
	for i, flagged := range flags {
		if !flagged {
			continue
		}
		if len(out) == maxExplained {
			break
		}
		out = append(out, anomaly.Explanation{
			RowIndex: i,
			Reasons:  explainRow(cols, flags, i),
		})
	}
	return out
}

func explainRow(cols []column, flags []bool, row int) []anomaly.Reason {
	reasons := make([]anomaly.Reason, 0)
	for _, col := range cols {
		if !col.present[row] {
			continue
		}

		var normal []float64
		for i, ok := range col.present {
			if ok && !flags[i] {
				normal = append(normal, col.values[i])
			}
		}
		if len(normal) < 2 {
			continue
		}
		mean := frame.Mean(normal)
		std := frame.StdDev(normal)
		if std == 0 {
			continue
		}

		z := math.Abs((col.values[row] - mean) / std)
		if z <= 2 {
			continue
		}
		severity := "medium"
		if z > 3 {
			severity = "high"
		}
		reasons = append(reasons, anomaly.Reason{
			Column:     col.name,
			Value:      col.values[row],
			NormalMean: mean,
			NormalStd:  std,
			ZScore:     z,
			Severity:   severity,
		})
	}
	return reasons
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
