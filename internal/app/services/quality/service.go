package quality

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/veritrace/platform/internal/app/domain"
	"github.com/veritrace/platform/internal/app/domain/quality"
	"github.com/veritrace/platform/internal/app/frame"
	"github.com/veritrace/platform/internal/app/storage"
	"github.com/veritrace/platform/internal/config"
	"github.com/veritrace/platform/pkg/logger"
)

// Service validates tabular data against the configured quality checks
// and persists the resulting reports.
type Service struct {
	reports    storage.ReportStore
	thresholds config.ValidationConfig
	log        *logger.Logger
}

// New constructs a quality service. A zero thresholds value falls back
// to the built-in defaults.
func New(reports storage.ReportStore, thresholds config.ValidationConfig, log *logger.Logger) *Service {
	if thresholds == (config.ValidationConfig{}) {
		thresholds = config.Default().Validation
	}
	if log == nil {
		log = logger.NewDefault("quality")
	}
	return &Service{
		reports:    reports,
		thresholds: thresholds,
		log:        log,
	}
}

// Validate runs every quality check against the frame and stores the
// report. The report passes when no check raised a high severity issue.
func (s *Service) Validate(ctx context.Context, fr *frame.Frame, datasetPath string) (quality.Report, error) {
	if fr == nil || fr.NumRows() == 0 {
		return quality.Report{}, domain.NewError(domain.KindValidation, "no data to validate")
	}

	var issues []quality.Issue
	issues = append(issues, s.checkMissingValues(fr)...)
	issues = append(issues, s.checkDuplicateRows(fr)...)
	issues = append(issues, s.checkDataTypes(fr)...)
	issues = append(issues, s.checkOutliers(fr)...)

	rep := quality.Report{
		DatasetPath: strings.TrimSpace(datasetPath),
		Passed:      passed(issues),
		Issues:      issues,
		Summary:     summarize(fr, issues),
	}

	stored, err := s.reports.CreateReport(ctx, rep)
	if err != nil {
		return quality.Report{}, fmt.Errorf("store quality report: %w", err)
	}

	s.log.WithField("dataset", stored.DatasetPath).
		WithField("issues", len(issues)).
		WithField("passed", stored.Passed).
		Info("quality validation completed")
	return stored, nil
}

// Report returns a stored report by id.
func (s *Service) Report(ctx context.Context, id string) (quality.Report, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return quality.Report{}, fmt.Errorf("report id is required")
	}
	return s.reports.GetReport(ctx, id)
}

// Reports lists stored reports, newest first. datasetPath narrows the
// list to one dataset and limit caps it when positive.
func (s *Service) Reports(ctx context.Context, datasetPath string, limit int) ([]quality.Report, error) {
	return s.reports.ListReports(ctx, strings.TrimSpace(datasetPath), limit)
}

func (s *Service) checkMissingValues(fr *frame.Frame) []quality.Issue {
	var issues []quality.Issue
	total := fr.NumRows()
	for i, name := range fr.Columns() {
		missing := fr.MissingCount(i)
		if missing == 0 {
			continue
		}
		pct := float64(missing) / float64(total) * 100

		severity := quality.SeverityLow
		switch {
		case pct > s.thresholds.MissingHighPct:
			severity = quality.SeverityHigh
		case pct > s.thresholds.MissingMediumPct:
			severity = quality.SeverityMedium
		}

		issues = append(issues, quality.Issue{
			Check:       quality.CheckMissingValues,
			Column:      name,
			Count:       missing,
			Percentage:  round2(pct),
			Severity:    severity,
			Description: fmt.Sprintf("%d of %d values are missing", missing, total),
		})
	}
	return issues
}

func (s *Service) checkDuplicateRows(fr *frame.Frame) []quality.Issue {
	dups := fr.DuplicateRows()
	if dups == 0 {
		return nil
	}
	pct := float64(dups) / float64(fr.NumRows()) * 100

	severity := quality.SeverityLow
	if pct > s.thresholds.DuplicateMediumPct {
		severity = quality.SeverityMedium
	}

	return []quality.Issue{{
		Check:       quality.CheckDuplicateRows,
		Column:      quality.AllColumns,
		Count:       dups,
		Percentage:  round2(pct),
		Severity:    severity,
		Description: fmt.Sprintf("%d rows repeat an earlier row", dups),
	}}
}

// checkDataTypes flags text columns whose values mostly parse as
// numbers, which usually means a numeric column arrived quoted.
func (s *Service) checkDataTypes(fr *frame.Frame) []quality.Issue {
	var issues []quality.Issue
	for i, name := range fr.Columns() {
		if fr.ColumnKind(i) != frame.KindString {
			continue
		}
		ratio := fr.NumericParseRatio(i)
		if ratio < s.thresholds.NumericStringRatio {
			continue
		}
		issues = append(issues, quality.Issue{
			Check:       quality.CheckTypeMismatch,
			Column:      name,
			Percentage:  round2(ratio * 100),
			Severity:    quality.SeverityMedium,
			Description: "numeric values stored as text",
		})
	}
	return issues
}

func (s *Service) checkOutliers(fr *frame.Frame) []quality.Issue {
	var issues []quality.Issue
	total := fr.NumRows()
	for _, col := range fr.NumericColumns() {
		values, present := fr.ColumnFloats(col)
		var sample []float64
		for i, ok := range present {
			if ok {
				sample = append(sample, values[i])
			}
		}
		if len(sample) < 2 {
			continue
		}

		mean := frame.Mean(sample)
		std := frame.StdDev(sample)
		if std == 0 {
			continue
		}

		count := 0
		for _, v := range sample {
			if math.Abs((v-mean)/std) > s.thresholds.OutlierZScore {
				count++
			}
		}
		if count == 0 {
			continue
		}
		pct := float64(count) / float64(total) * 100

		severity := quality.SeverityLow
		if pct > s.thresholds.OutlierMediumPct {
			severity = quality.SeverityMedium
		}

		issues = append(issues, quality.Issue{
			Check:       quality.CheckOutliers,
			Column:      fr.Columns()[col],
			Count:       count,
			Percentage:  round2(pct),
			Severity:    severity,
			Description: fmt.Sprintf("%d values beyond %.1f standard deviations", count, s.thresholds.OutlierZScore),
		})
	}
	return issues
}

func passed(issues []quality.Issue) bool {
	for _, issue := range issues {
		if issue.Severity == quality.SeverityHigh {
			return false
		}
	}
	return true
}

func summarize(fr *frame.Frame, issues []quality.Issue) quality.Summary {
	types := make(map[string]bool)
	columns := make(map[string]bool)
	counts := map[quality.Severity]int{
		quality.SeverityHigh:   0,
		quality.SeverityMedium: 0,
		quality.SeverityLow:    0,
	}
	for _, issue := range issues {
		types[string(issue.Check)] = true
		if issue.Column != quality.AllColumns {
			columns[issue.Column] = true
		}
		counts[issue.Severity]++
	}
	return quality.Summary{
		TotalRows:         fr.NumRows(),
		TotalColumns:      fr.NumCols(),
		TotalIssues:       len(issues),
		IssueTypes:        sortedKeys(types),
		ColumnsWithIssues: sortedKeys(columns),
		SeverityCounts:    counts,
	}
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
