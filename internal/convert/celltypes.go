package convert

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ctxCheckRows is how many sheet rows are read between cancellation checks.
const ctxCheckRows = 256

const defaultWorkbookPath = "xl/workbook.xml"

var errSheetPartNotFound = errors.New("worksheet part not found")

type cellPos struct {
	row, col int
}

// cellTypeIndex holds the declared type of every cell that carries a t
// attribute other than "n". Missing cells read as untyped.
type cellTypeIndex map[cellPos]excelize.CellType

func (idx cellTypeIndex) at(row, col int) excelize.CellType {
	return idx[cellPos{row: row, col: col}]
}

var declaredTypes = map[string]excelize.CellType{
	"b":         excelize.CellTypeBool,
	"d":         excelize.CellTypeDate,
	"e":         excelize.CellTypeError,
	"s":         excelize.CellTypeSharedString,
	"str":       excelize.CellTypeFormula,
	"inlineStr": excelize.CellTypeInlineString,
}

// scanCellTypes reads the worksheet part of sheet once and indexes cell
// types. Looking types up cell by cell through excelize rescans the sheet
// rows for every call.
func scanCellTypes(ctx context.Context, data []byte, sheet string) (cellTypeIndex, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	parts := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		parts[strings.ToLower(f.Name)] = f
	}

	sheetPath, err := sheetPartPath(parts, sheet)
	if err != nil {
		return nil, err
	}
	part, ok := parts[strings.ToLower(sheetPath)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errSheetPartNotFound, sheetPath)
	}
	rc, err := part.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	idx := cellTypeIndex{}
	dec := xml.NewDecoder(rc)
	row, col, scanned := 0, 0, 0
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return idx, nil
		}
		if err != nil {
			return nil, err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "row":
				row, col = row+1, 0
				if n, err := strconv.Atoi(attr(el, "r")); err == nil && n > 0 {
					row = n
				}
				scanned++
				if scanned%ctxCheckRows == 0 {
					if err := ctx.Err(); err != nil {
						return nil, err
					}
				}
			case "c":
				col++
				if ref := attr(el, "r"); ref != "" {
					c, _, err := excelize.CellNameToCoordinates(ref)
					if err != nil {
						return nil, err
					}
					col = c
				}
				if typ, ok := declaredTypes[attr(el, "t")]; ok {
					idx[cellPos{row: row, col: col}] = typ
				}
			}
		case xml.EndElement:
			if el.Name.Local == "sheetData" {
				return idx, nil
			}
		}
	}
}

// sheetPartPath resolves a sheet name to its part path the way excelize
// does: package rels to the workbook, workbook sheet to rel id, rel id to
// target relative to the workbook directory.
func sheetPartPath(parts map[string]*zip.File, sheet string) (string, error) {
	wbPath := defaultWorkbookPath
	if err := eachElement(parts, "_rels/.rels", "Relationship", func(el xml.StartElement) bool {
		if strings.HasSuffix(attr(el, "Type"), "/officeDocument") {
			wbPath = strings.TrimPrefix(attr(el, "Target"), "/")
			return false
		}
		return true
	}); err != nil && !errors.Is(err, errSheetPartNotFound) {
		return "", err
	}

	var relID string
	if err := eachElement(parts, wbPath, "sheet", func(el xml.StartElement) bool {
		if !strings.EqualFold(attr(el, "name"), sheet) {
			return true
		}
		for _, a := range el.Attr {
			if a.Name.Local == "id" && a.Name.Space != "" {
				relID = a.Value
			}
		}
		return false
	}); err != nil {
		return "", err
	}
	if relID == "" {
		return "", fmt.Errorf("%w: sheet %q", errSheetPartNotFound, sheet)
	}

	wbDir := path.Dir(wbPath)
	relsPath := path.Join(wbDir, "_rels", path.Base(wbPath)+".rels")
	var target string
	if err := eachElement(parts, relsPath, "Relationship", func(el xml.StartElement) bool {
		if attr(el, "Id") == relID {
			target = attr(el, "Target")
			return false
		}
		return true
	}); err != nil {
		return "", err
	}
	if target == "" {
		return "", fmt.Errorf("%w: relationship %q", errSheetPartNotFound, relID)
	}
	if strings.HasPrefix(target, "/") {
		return strings.TrimPrefix(path.Clean(target), "/"), nil
	}
	return strings.TrimPrefix(path.Join(wbDir, target), "/"), nil
}

// eachElement calls fn for every start element named local in the part
// until fn returns false.
func eachElement(parts map[string]*zip.File, name, local string, fn func(xml.StartElement) bool) error {
	part, ok := parts[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("%w: %s", errSheetPartNotFound, name)
	}
	rc, err := part.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if el, ok := tok.(xml.StartElement); ok && el.Name.Local == local {
			if !fn(el) {
				return nil
			}
		}
	}
}

func attr(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local && a.Name.Space == "" {
			return a.Value
		}
	}
	return ""
}
