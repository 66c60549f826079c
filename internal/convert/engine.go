// Package convert turns uploaded spreadsheets into row-keyed JSON records.
package convert

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/telhawk-systems/tabula/internal/metrics"
)

var (
	// ErrUnsupportedFormat means the file name does not end in .xlsx or .xls.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrMalformedInput means the bytes could not be read as a workbook.
	ErrMalformedInput = errors.New("malformed spreadsheet")

	// ErrUnreadableWorksheet means the workbook opened but its first sheet
	// could not be read into rows.
	ErrUnreadableWorksheet = errors.New("unreadable worksheet")

	// ErrNoWorksheet means the workbook has no sheets.
	ErrNoWorksheet = errors.New("workbook contains no worksheets")

	// ErrEmptyWorksheet means the first sheet projected to zero rows.
	ErrEmptyWorksheet = errors.New("worksheet is empty")
)

// acceptedName is case-sensitive: "REPORT.XLSX" is rejected.
var acceptedName = regexp.MustCompile(`\.(xlsx|xls)$`)

// ValidateName rejects file names without a spreadsheet extension.
func ValidateName(name string) error {
	if !acceptedName.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}
	return nil
}

// Engine converts the first worksheet of an upload.
type Engine struct {
	parser Parser
}

func NewEngine(parser Parser) *Engine {
	return &Engine{parser: parser}
}

// Convert validates name, parses data and projects the first worksheet.
// The parser is never invoked for a rejected name. A done ctx stops the
// sheet read and its error is returned as is.
func (e *Engine) Convert(ctx context.Context, data []byte, name string) (Projection, error) {
	if err := ValidateName(name); err != nil {
		return Projection{}, err
	}
	if err := ctx.Err(); err != nil {
		return Projection{}, err
	}

	start := time.Now()
	defer func() { metrics.ConversionDuration.Observe(time.Since(start).Seconds()) }()

	wb, err := e.parser.Open(data)
	if err != nil {
		return Projection{}, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	defer wb.Close()

	sheets := wb.SheetNames()
	if len(sheets) == 0 {
		return Projection{}, ErrNoWorksheet
	}

	grid, err := wb.Rows(ctx, sheets[0])
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Projection{}, ctxErr
		}
		return Projection{}, fmt.Errorf("%w: %q: %v", ErrUnreadableWorksheet, sheets[0], err)
	}

	records := project(grid)
	if len(records) == 0 {
		return Projection{}, ErrEmptyWorksheet
	}

	return Projection{
		SheetName:   sheets[0],
		Records:     records,
		RowCount:    len(records),
		ColumnCount: len(records[0]),
	}, nil
}
