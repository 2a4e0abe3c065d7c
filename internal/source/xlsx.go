package source

import (
	"bytes"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"github.com/zeebo/xxh3"
)

// xlsxDateLayout is how date-styled cells are rendered into Row text.
const xlsxDateLayout = "2006-01-02 15:04:05"

// readXLSX loads the first sheet. The first row is the header; excelize trims
// trailing empty cells, which surface as missing cells like short CSV rows.
// Cells are read unformatted: numbers keep a '.' decimal point and no
// grouping, and date-styled serials are converted to xlsxDateLayout.
func readXLSX(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &SourceUnreadableError{Path: path, Reason: "open", Err: err}
	}

	f, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return nil, &SourceUnreadableError{Path: path, Reason: "open workbook", Err: err}
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, &SourceUnreadableError{Path: path, Reason: "workbook has no sheets"}
	}
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, &SourceUnreadableError{Path: path, Reason: "read sheet " + sheet, Err: err}
	}
	if len(rows) == 0 {
		return nil, &SourceUnreadableError{Path: path, Reason: "sheet " + sheet + " is empty"}
	}

	t := &Table{
		Path:     path,
		Header:   StripHeaderBOM(rows[0]),
		Encoding: "xlsx",
		Decimal:  '.',
		Checksum: xxh3.Hash(raw),
	}
	dates := dateStyles{f: f, sheet: sheet, known: map[int]bool{}}
	for i, r := range rows[1:] {
		if isBlank(r) {
			continue
		}
		for col, c := range r {
			if s, ok := dates.convert(col+1, i+2, c); ok {
				r[col] = s
			}
		}
		t.Rows = append(t.Rows, Row(r))
	}
	return t, nil
}

// dateStyles recognizes cells whose number format is a date or time, caching
// the verdict per style index.
type dateStyles struct {
	f     *excelize.File
	sheet string
	known map[int]bool
}

// convert returns the cell at (col,row) as a date string when it holds a
// serial number under a date format.
func (d dateStyles) convert(col, row int, raw string) (string, bool) {
	serial, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return "", false
	}
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return "", false
	}
	idx, err := d.f.GetCellStyle(d.sheet, cell)
	if err != nil || !d.isDate(idx) {
		return "", false
	}
	tm, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return "", false
	}
	return tm.Round(time.Second).Format(xlsxDateLayout), true
}

func (d dateStyles) isDate(idx int) bool {
	if v, ok := d.known[idx]; ok {
		return v
	}
	v := false
	if st, err := d.f.GetStyle(idx); err == nil && st != nil {
		v = isBuiltinDateFormat(st.NumFmt) || (st.CustomNumFmt != nil && isDateFormat(*st.CustomNumFmt))
	}
	d.known[idx] = v
	return v
}

// isBuiltinDateFormat reports whether a built-in number format id renders a
// date or time.
func isBuiltinDateFormat(id int) bool {
	switch {
	case id >= 14 && id <= 22, id >= 27 && id <= 36, id >= 45 && id <= 47, id >= 50 && id <= 58:
		return true
	}
	return false
}

// isDateFormat reports whether a custom format code has date or time tokens
// outside quoted literals, escapes and bracketed sections.
func isDateFormat(code string) bool {
	var b strings.Builder
	quoted, bracket := false, false
	for i := 0; i < len(code); i++ {
		c := code[i]
		switch {
		case c == '"':
			quoted = !quoted
		case quoted:
		case c == '[':
			bracket = true
		case c == ']':
			bracket = false
		case bracket:
		case c == '\\' || c == '_' || c == '*':
			i++
		default:
			b.WriteByte(c)
		}
	}
	return strings.ContainsAny(strings.ToLower(b.String()), "ymdhs")
}

func isBlank(r []string) bool {
	for _, c := range r {
		if c != "" {
			return false
		}
	}
	return true
}
