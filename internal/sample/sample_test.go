package sample

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestGenerate(t *testing.T) {
	wb, err := Generate(Options{Rows: 5, Columns: 4, Seed: 42})
	require.NoError(t, err)

	assert.Equal(t, []string{"Name", "Email", "Company", "Amount"}, wb.Headers)
	require.Len(t, wb.Rows, 5)

	f, err := excelize.OpenReader(bytes.NewReader(wb.Data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Sheet1"}, f.GetSheetList())
	rows, err := f.GetRows("Sheet1")
	require.NoError(t, err)
	require.Len(t, rows, 6)
	assert.Equal(t, wb.Headers, rows[0])
}

func TestGenerate_Deterministic(t *testing.T) {
	a, err := Generate(Options{Rows: 3, Columns: MaxColumns, Seed: 7})
	require.NoError(t, err)
	b, err := Generate(Options{Rows: 3, Columns: MaxColumns, Seed: 7})
	require.NoError(t, err)
	assert.Equal(t, a.Rows, b.Rows)
}

func TestGenerate_SheetsAndValidation(t *testing.T) {
	wb, err := Generate(Options{Rows: 1, Columns: 2, SheetName: "Data", ExtraSheets: []string{"Notes"}})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(wb.Data))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"Data", "Notes"}, f.GetSheetList())

	_, err = Generate(Options{Rows: 1, Columns: 0})
	assert.Error(t, err)
	_, err = Generate(Options{Rows: 1, Columns: MaxColumns + 1})
	assert.Error(t, err)
	_, err = Generate(Options{Rows: -1, Columns: 1})
	assert.Error(t, err)
}

func TestWrite_BlankCells(t *testing.T) {
	data, err := Write("Sheet1", [][]any{{"a", nil, "c"}, {1, 2, nil}})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	v, err := f.GetCellValue("Sheet1", "B1")
	require.NoError(t, err)
	assert.Empty(t, v)
}
