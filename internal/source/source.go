// Package source loads a tabular file (CSV or XLSX) fully into memory as a
// header plus ragged rows of raw cell text. Cell interpretation is left to
// the normalize package; this package only deals with bytes, encodings and
// delimiters.
package source

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/zeebo/xxh3"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// DefaultDelimiter is the separator used by the CRM's CSV exports.
const DefaultDelimiter = ';'

// DefaultEncodings are tried in order; the first that decodes and parses wins.
var DefaultEncodings = []string{"utf-8", "latin-1", "iso-8859-1", "cp1252"}

const utf8BOM = "\uFEFF"

// Options configures Read. Zero values select the defaults.
type Options struct {
	Delimiter rune
	Encodings []string
}

// Row is one data record. Short rows are allowed; see Cell.
type Row []string

// Cell returns the i-th cell and whether the row has one at all.
func (r Row) Cell(i int) (string, bool) {
	if i < 0 || i >= len(r) {
		return "", false
	}
	return r[i], true
}

// Table is a fully loaded source file.
type Table struct {
	Path     string
	Header   []string
	Rows     []Row
	Encoding string
	Checksum uint64 // xxh3 of the raw file bytes
	// Decimal is the decimal separator fixed by the file format, or zero
	// when it depends on how the file was exported.
	Decimal rune

	index map[string]int
}

// Index returns the position of column name in the header, or -1.
func (t *Table) Index(name string) int {
	if t.index == nil {
		t.index = make(map[string]int, len(t.Header))
		for i, h := range t.Header {
			if _, dup := t.index[h]; !dup {
				t.index[h] = i
			}
		}
	}
	if i, ok := t.index[name]; ok {
		return i
	}
	return -1
}

// Get returns the cell of row r under column name.
func (t *Table) Get(r int, name string) (string, bool) {
	i := t.Index(name)
	if i < 0 || r < 0 || r >= len(t.Rows) {
		return "", false
	}
	return t.Rows[r].Cell(i)
}

// ChecksumHex renders Checksum the way it appears in reports.
func (t *Table) ChecksumHex() string { return fmt.Sprintf("%016x", t.Checksum) }

// SourceUnreadableError reports a file that cannot be imported at all.
type SourceUnreadableError struct {
	Path    string
	Reason  string
	Missing []string
	Err     error
}

func (e *SourceUnreadableError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "source %s unreadable", e.Path)
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, ": missing required columns %s", strings.Join(e.Missing, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *SourceUnreadableError) Unwrap() error { return e.Err }

// MissingColumns builds the error returned when a header lacks required columns.
func MissingColumns(path string, missing []string) error {
	return &SourceUnreadableError{Path: path, Missing: missing}
}

// IsUnreadable reports whether err is (or wraps) a SourceUnreadableError.
func IsUnreadable(err error) bool {
	var su *SourceUnreadableError
	return errors.As(err, &su)
}

// Stdin is the path that makes Read consume standard input.
const Stdin = "-"

// Read loads path. Files ending in .xlsx are read with excelize; everything
// else is treated as delimited text. Stdin reads delimited text from os.Stdin.
func Read(path string, opt Options) (*Table, error) {
	if path == Stdin {
		t, err := ReadCSV(os.Stdin, opt)
		if err != nil {
			return nil, err
		}
		t.Path = "stdin"
		return t, nil
	}
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return readXLSX(path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &SourceUnreadableError{Path: path, Reason: "open", Err: err}
	}
	t, err := ParseCSV(raw, opt)
	if err != nil {
		var su *SourceUnreadableError
		if errors.As(err, &su) {
			su.Path = path
		}
		return nil, err
	}
	t.Path = path
	return t, nil
}

// ReadCSV is ParseCSV over a reader.
func ReadCSV(r io.Reader, opt Options) (*Table, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, &SourceUnreadableError{Reason: "read", Err: err}
	}
	return ParseCSV(raw, opt)
}

// ParseCSV decodes raw with each candidate encoding in turn and parses the
// result as delimited text.
func ParseCSV(raw []byte, opt Options) (*Table, error) {
	comma := opt.Delimiter
	if comma == 0 {
		comma = DefaultDelimiter
	}
	encs := opt.Encodings
	if len(encs) == 0 {
		encs = DefaultEncodings
	}

	var lastErr error
	for _, name := range encs {
		text, err := decode(raw, name)
		if err != nil {
			lastErr = err
			continue
		}
		header, rows, err := parseDelimited(text, comma)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", name, err)
			continue
		}
		return &Table{
			Header:   header,
			Rows:     rows,
			Encoding: name,
			Checksum: xxh3.Hash(raw),
		}, nil
	}
	return nil, &SourceUnreadableError{Reason: "no candidate encoding could parse the file", Err: lastErr}
}

func decoderFor(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.ReplaceAll(name, "_", "-")) {
	case "utf-8", "utf8":
		return nil, nil
	case "latin-1", "latin1", "iso-8859-1", "iso8859-1":
		return charmap.ISO8859_1, nil
	case "cp1252", "windows-1252":
		return charmap.Windows1252, nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", name)
	}
}

func decode(raw []byte, name string) ([]byte, error) {
	enc, err := decoderFor(name)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		if !utf8.Valid(raw) {
			return nil, fmt.Errorf("%s: invalid byte sequence", name)
		}
		return raw, nil
	}
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

func parseDelimited(text []byte, comma rune) ([]string, []Row, error) {
	cr := csv.NewReader(bytes.NewReader(text))
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil, errors.New("file is empty")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	header = StripHeaderBOM(header)

	var rows []Row
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read record: %w", err)
		}
		rows = append(rows, Row(rec))
	}
	return header, rows, nil
}

// StripHeaderBOM removes a UTF-8 BOM from the first header cell if present.
func StripHeaderBOM(headers []string) []string {
	if len(headers) == 0 {
		return headers
	}
	headers[0] = strings.TrimPrefix(headers[0], utf8BOM)
	return headers
}
