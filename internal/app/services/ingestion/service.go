package ingestion

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/veritrace/platform/internal/app/domain"
	"github.com/veritrace/platform/internal/app/domain/ingest"
	"github.com/veritrace/platform/internal/app/frame"
	"github.com/veritrace/platform/pkg/logger"
)

// Service reads source files into frames and reports their shape.
type Service struct {
	log *logger.Logger
}

// New constructs an ingestion service.
func New(log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("ingestion")
	}
	return &Service{log: log}
}

// Request describes one source file to read.
type Request struct {
	Path        string
	Format      ingest.Format // detected from the extension when empty or auto
	Delimiter   string        // CSV field separator, default ","
	Sheet       string        // XLSX sheet, default the first sheet
	RecordsPath string        // JSON path to the records array in nested documents
}

// Ingest reads the requested source into a frame and describes it.
func (s *Service) Ingest(ctx context.Context, req Request) (*frame.Frame, ingest.SourceInfo, error) {
	path := strings.TrimSpace(req.Path)
	if path == "" {
		return nil, ingest.SourceInfo{}, domain.NewError(domain.KindIngestion, "source path is required")
	}

	stat, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, ingest.SourceInfo{}, domain.NotFoundError(domain.KindIngestion, fmt.Sprintf("source file not found: %s", path))
	}
	if err != nil {
		return nil, ingest.SourceInfo{}, domain.WrapError(domain.KindIngestion, "stat source file", err)
	}
	if stat.IsDir() {
		return nil, ingest.SourceInfo{}, domain.NewError(domain.KindIngestion, fmt.Sprintf("source %s is a directory", path))
	}

	format, err := resolveFormat(path, req.Format)
	if err != nil {
		return nil, ingest.SourceInfo{}, err
	}

	var fr *frame.Frame
	switch format {
	case ingest.FormatCSV:
		fr, err = readCSV(path, req.Delimiter)
	case ingest.FormatJSON:
		fr, err = readJSON(path, req.RecordsPath)
	case ingest.FormatXLSX:
		fr, err = readXLSX(path, req.Sheet)
	}
	if err != nil {
		return nil, ingest.SourceInfo{}, err
	}
	if fr.NumRows() == 0 {
		return nil, ingest.SourceInfo{}, domain.NewError(domain.KindIngestion, fmt.Sprintf("source %s has no data rows", path))
	}

	info := describe(fr, path, format, stat.Size())
	s.log.WithField("path", path).
		WithField("format", string(format)).
		WithField("rows", info.Rows).
		WithField("columns", info.Columns).
		Info("source ingested")
	return fr, info, nil
}

// Describe reads the source and returns its stats without retaining the frame.
func (s *Service) Describe(ctx context.Context, req Request) (ingest.SourceInfo, error) {
	_, info, err := s.Ingest(ctx, req)
	return info, err
}

func resolveFormat(path string, requested ingest.Format) (ingest.Format, error) {
	switch requested {
	case ingest.FormatCSV, ingest.FormatJSON, ingest.FormatXLSX:
		return requested, nil
	case "", ingest.FormatAuto:
	default:
		return "", domain.NewError(domain.KindIngestion, fmt.Sprintf("unsupported format %q", string(requested)))
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return ingest.FormatCSV, nil
	case ".json":
		return ingest.FormatJSON, nil
	case ".xlsx", ".xlsm":
		return ingest.FormatXLSX, nil
	}
	return "", domain.NewError(domain.KindIngestion, fmt.Sprintf("cannot detect the format of %s", path))
}

func readCSV(path, delimiter string) (*frame.Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, domain.WrapError(domain.KindIngestion, "open source file", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	if delimiter != "" {
		runes := []rune(delimiter)
		if len(runes) != 1 {
			return nil, domain.NewError(domain.KindIngestion, fmt.Sprintf("invalid delimiter %q", delimiter))
		}
		reader.Comma = runes[0]
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, domain.WrapError(domain.KindIngestion, "parse csv", err)
	}
	if len(records) == 0 {
		return nil, domain.NewError(domain.KindIngestion, "csv file is empty")
	}

	fr, err := frame.New(records[0], records[1:])
	if err != nil {
		return nil, domain.WrapError(domain.KindIngestion, "build frame", err)
	}
	return fr, nil
}

func describe(fr *frame.Frame, path string, format ingest.Format, sizeBytes int64) ingest.SourceInfo {
	st := fr.Stats()

	info := ingest.SourceInfo{
		Path:               path,
		Format:             format,
		Rows:               st.TotalRows,
		Columns:            st.TotalColumns,
		ColumnNames:        fr.Columns(),
		NumericColumns:     st.NumericColumns,
		CategoricalColumns: st.CategoricalColumns,
		MissingValues:      st.MissingValues,
		SizeBytes:          sizeBytes,
		SizeMB:             math.Round(float64(sizeBytes)/(1024*1024)*100) / 100,
		IngestedAt:         time.Now().UTC(),
	}
	if len(st.NumericSummary) > 0 {
		info.NumericSummary = make(map[string]ingest.Summary, len(st.NumericSummary))
		for name, sum := range st.NumericSummary {
			info.NumericSummary[name] = ingest.Summary{
				Count:  sum.Count,
				Mean:   sum.Mean,
				StdDev: sum.StdDev,
				Min:    sum.Min,
				Median: sum.Median,
				Max:    sum.Max,
			}
		}
	}
	return info
}
