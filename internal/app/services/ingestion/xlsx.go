package ingestion

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/veritrace/platform/internal/app/domain"
	"github.com/veritrace/platform/internal/app/frame"
)

// readXLSX loads the named sheet of a workbook, defaulting to the first one.
func readXLSX(path, sheet string) (*frame.Frame, error) {
	book, err := excelize.OpenFile(path)
	if err != nil {
		return nil, domain.WrapError(domain.KindIngestion, "open workbook", err)
	}
	defer book.Close()

	if sheet == "" {
		sheets := book.GetSheetList()
		if len(sheets) == 0 {
			return nil, domain.NewError(domain.KindIngestion, "workbook has no sheets")
		}
		sheet = sheets[0]
	}

	records, err := book.GetRows(sheet)
	if err != nil {
		return nil, domain.WrapError(domain.KindIngestion, fmt.Sprintf("read sheet %q", sheet), err)
	}
	if len(records) == 0 {
		return nil, domain.NewError(domain.KindIngestion, fmt.Sprintf("sheet %q is empty", sheet))
	}

	// Short rows are padded: excelize drops trailing empty cells.
	header := records[0]
	rows := make([][]string, 0, len(records)-1)
	for i, rec := range records[1:] {
		if len(rec) > len(header) {
			return nil, domain.NewError(domain.KindIngestion, fmt.Sprintf("row %d has more cells than the header", i+2))
		}
		row := make([]string, len(header))
		copy(row, rec)
		rows = append(rows, row)
	}
	for len(rows) > 0 && isBlankRow(rows[len(rows)-1]) {
		rows = rows[:len(rows)-1]
	}

	fr, err := frame.New(header, rows)
	if err != nil {
		return nil, domain.WrapError(domain.KindIngestion, "build frame", err)
	}
	return fr, nil
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if cell != "" {
			return false
		}
	}
	return true
}
