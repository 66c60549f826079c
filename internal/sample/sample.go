// Package sample generates realistic spreadsheet uploads for demos, load
// tests and fixtures.
package sample

import (
	"errors"
	"fmt"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/xuri/excelize/v2"
)

// column produces one typed cell per row.
type column struct {
	header string
	value  func(f *gofakeit.Faker) any
}

var catalog = []column{
	{"Name", func(f *gofakeit.Faker) any { return f.Name() }},
	{"Email", func(f *gofakeit.Faker) any { return f.Email() }},
	{"Company", func(f *gofakeit.Faker) any { return f.Company() }},
	{"Amount", func(f *gofakeit.Faker) any { return f.Price(10, 5000) }},
	{"Quantity", func(f *gofakeit.Faker) any { return f.Number(1, 250) }},
	{"City", func(f *gofakeit.Faker) any { return f.City() }},
	{"Active", func(f *gofakeit.Faker) any { return f.Bool() }},
	{"Product", func(f *gofakeit.Faker) any { return f.ProductName() }},
	{"Country", func(f *gofakeit.Faker) any { return f.Country() }},
	{"Phone", func(f *gofakeit.Faker) any { return f.Phone() }},
}

// MaxColumns is the number of distinct generated columns.
var MaxColumns = len(catalog)

// Options describes the workbook to generate.
type Options struct {
	Rows    int
	Columns int

	// Seed makes output deterministic. Zero picks a random seed.
	Seed int64

	// SheetName of the data sheet; "Sheet1" when empty.
	SheetName string

	// ExtraSheets are appended after the data sheet, empty.
	ExtraSheets []string
}

// Workbook is a generated upload.
type Workbook struct {
	Data    []byte
	Headers []string
	Rows    [][]any
}

// Generate builds an .xlsx workbook with a header row followed by
// opts.Rows rows of fake data.
func Generate(opts Options) (*Workbook, error) {
	if opts.Columns < 1 || opts.Columns > MaxColumns {
		return nil, fmt.Errorf("columns must be between 1 and %d", MaxColumns)
	}
	if opts.Rows < 0 {
		return nil, errors.New("rows must not be negative")
	}
	if opts.SheetName == "" {
		opts.SheetName = "Sheet1"
	}

	faker := gofakeit.New(opts.Seed)
	cols := catalog[:opts.Columns]

	headers := make([]string, len(cols))
	for i, c := range cols {
		headers[i] = c.header
	}

	rows := make([][]any, opts.Rows)
	for r := range rows {
		row := make([]any, len(cols))
		for i, c := range cols {
			row[i] = c.value(faker)
		}
		rows[r] = row
	}

	header := make([]any, len(headers))
	for i, h := range headers {
		header[i] = h
	}

	data, err := Write(opts.SheetName, append([][]any{header}, rows...), opts.ExtraSheets...)
	if err != nil {
		return nil, err
	}
	return &Workbook{Data: data, Headers: headers, Rows: rows}, nil
}

// Write encodes grid into an .xlsx workbook whose first sheet is sheet.
// A nil cell is left blank.
func Write(sheet string, grid [][]any, extraSheets ...string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if sheet != "Sheet1" {
		if err := f.SetSheetName("Sheet1", sheet); err != nil {
			return nil, fmt.Errorf("rename sheet: %w", err)
		}
	}

	for r, row := range grid {
		for c, v := range row {
			if v == nil {
				continue
			}
			ref, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(sheet, ref, v); err != nil {
				return nil, fmt.Errorf("set %s: %w", ref, err)
			}
		}
	}

	for _, name := range extraSheets {
		if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("add sheet %q: %w", name, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("encode workbook: %w", err)
	}
	return buf.Bytes(), nil
}
