package convert

import (
	"bytes"
	"context"
	"math"
	"strconv"

	"github.com/xuri/excelize/v2"
)

// Workbook is an opened spreadsheet.
type Workbook interface {
	// SheetNames lists worksheets in workbook order.
	SheetNames() []string

	// Rows returns the typed cell grid of a sheet: nil for blank cells,
	// float64 for numbers, bool for booleans and string for everything else.
	// Reading stops with ctx's error once ctx is done.
	Rows(ctx context.Context, sheet string) ([][]any, error)

	Close() error
}

// Parser opens raw upload bytes as a Workbook.
type Parser interface {
	Open(data []byte) (Workbook, error)
}

// defaultUnzipXMLSizeLimit matches the library default for in-memory sheet XML.
const defaultUnzipXMLSizeLimit = 16 << 20

// ExcelizeParser reads Office Open XML workbooks.
type ExcelizeParser struct {
	// UnzipSizeLimit caps the decompressed size of the archive. Zero keeps
	// the library default.
	UnzipSizeLimit int64
}

func (p ExcelizeParser) Open(data []byte) (Workbook, error) {
	var opts excelize.Options
	if p.UnzipSizeLimit > 0 {
		opts.UnzipSizeLimit = p.UnzipSizeLimit
		opts.UnzipXMLSizeLimit = min(p.UnzipSizeLimit, defaultUnzipXMLSizeLimit)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data), opts)
	if err != nil {
		return nil, err
	}
	return &excelizeWorkbook{f: f, data: data}, nil
}

type excelizeWorkbook struct {
	f    *excelize.File
	data []byte
}

func (w *excelizeWorkbook) SheetNames() []string {
	return w.f.GetSheetList()
}

// Rows streams the sheet once for values and once for declared cell types.
func (w *excelizeWorkbook) Rows(ctx context.Context, sheet string) ([][]any, error) {
	types, err := scanCellTypes(ctx, w.data, sheet)
	if err != nil {
		return nil, err
	}

	rows, err := w.f.Rows(sheet)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	grid := make([][]any, 0, 64)
	for cur := 1; rows.Next(); cur++ {
		if cur%ctxCheckRows == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		raw, err := rows.Columns(excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, err
		}
		if len(raw) == 0 {
			continue
		}
		for len(grid) < cur-1 {
			grid = append(grid, nil)
		}
		cells := make([]any, len(raw))
		for c, value := range raw {
			if value == "" {
				continue
			}
			cells[c] = typedValue(types.at(cur, c+1), value)
		}
		grid = append(grid, cells)
	}
	if err := rows.Error(); err != nil {
		return nil, err
	}
	return grid, nil
}

func (w *excelizeWorkbook) Close() error {
	return w.f.Close()
}

// typedValue maps a raw cell value to its JSON type. Cells without an
// explicit type are numbers when they parse as one.
func typedValue(typ excelize.CellType, raw string) any {
	switch typ {
	case excelize.CellTypeBool:
		return raw == "1" || raw == "TRUE" || raw == "true"
	case excelize.CellTypeUnset, excelize.CellTypeNumber:
		if f, err := strconv.ParseFloat(raw, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f
		}
		return raw
	default:
		return raw
	}
}
