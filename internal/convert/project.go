package convert

import (
	"math"
	"strconv"
)

const emptyHeader = "__EMPTY"

// project turns a typed cell grid into records. The first row holding any
// value is the header row; columns before the first used column are
// dropped. Header naming follows the common spreadsheet-to-JSON
// convention: blank headers become __EMPTY, __EMPTY_1, ... and repeated
// headers get _1, _2 suffixes. Blank cells are omitted from a record and
// rows without any value are skipped. Only the empty string is blank:
// whitespace is a value.
func project(grid [][]any) []Record {
	headerRow, firstCol, lastCol := bounds(grid)
	if headerRow < 0 {
		return nil
	}

	headers := headerNames(grid[headerRow], firstCol, lastCol)

	var records []Record
	for _, row := range grid[headerRow+1:] {
		var rec Record
		for c := firstCol; c <= lastCol && c < len(row); c++ {
			if isBlank(row[c]) {
				continue
			}
			rec = append(rec, Field{Key: headers[c-firstCol], Value: row[c]})
		}
		if len(rec) > 0 {
			records = append(records, rec)
		}
	}
	return records
}

// bounds finds the header row and the used column range. headerRow is -1
// for a grid without values.
func bounds(grid [][]any) (headerRow, firstCol, lastCol int) {
	headerRow, firstCol, lastCol = -1, math.MaxInt, -1
	for r, row := range grid {
		for c, v := range row {
			if isBlank(v) {
				continue
			}
			if headerRow < 0 {
				headerRow = r
			}
			firstCol = min(firstCol, c)
			lastCol = max(lastCol, c)
		}
	}
	return headerRow, firstCol, lastCol
}

func headerNames(row []any, firstCol, lastCol int) []string {
	seen := make(map[string]int)
	names := make([]string, 0, lastCol-firstCol+1)

	for c := firstCol; c <= lastCol; c++ {
		var name string
		if c < len(row) && !isBlank(row[c]) {
			name = formatValue(row[c])
		} else {
			name = emptyHeader
		}

		counter := seen[name]
		if counter == 0 {
			seen[name] = 1
			names = append(names, name)
			continue
		}

		var candidate string
		for {
			candidate = name + "_" + strconv.Itoa(counter)
			counter++
			if seen[candidate] == 0 {
				break
			}
		}
		seen[name] = counter
		seen[candidate] = 1
		names = append(names, candidate)
	}
	return names
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	default:
		return false
	}
}

func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		if t {
			return "TRUE"
		}
		return "FALSE"
	default:
		return ""
	}
}
