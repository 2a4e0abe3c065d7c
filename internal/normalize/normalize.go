// Package normalize converts raw tabular cell values into canonical typed
// values. Every conversion is total: input that cannot be interpreted for the
// requested kind becomes Null rather than an error, so a single dirty cell
// never stops an import.
package normalize

import (
	"database/sql/driver"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind is the expected kind of a source column.
type Kind string

const (
	KindText    Kind = "text"
	KindNumeric Kind = "numeric"
	KindDate    Kind = "date"
	KindBoolean Kind = "boolean"
)

// ParseKind maps a kind name (as written in schema files) to a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindText, KindNumeric, KindDate, KindBoolean:
		return k, nil
	case "":
		return KindText, nil
	default:
		return "", fmt.Errorf("unknown field kind %q", s)
	}
}

// TimestampLayout is the canonical textual form of every date value.
const TimestampLayout = "2006-01-02 15:04:05"

// dateLayouts are tried in order; the first successful parse wins. The
// single-digit day/month verbs also accept zero-padded input.
var dateLayouts = []string{
	"2006/1/2",
	"2006-1-2",
	"2/1/2006",
	"2-1-2006",
	"2006/1/2 15:04:05",
	"2006-1-2 15:04:05",
	"2/1/2006 15:04:05",
	"2-1-2006 15:04:05",
}

var (
	affirmative = map[string]bool{"SI": true, "SÍ": true, "YES": true, "1": true, "TRUE": true}
	negative    = map[string]bool{"NO": true, "0": true, "FALSE": true}
)

// Normalizer applies Normalize with a fixed decimal convention and reports
// unparseable dates through Logger.
type Normalizer struct {
	// Decimal is the decimal separator of the source locale: '.' (default) or ','.
	Decimal rune
	Logger  *slog.Logger
}

// Normalize converts one cell. present is false when the row has no cell for
// the column at all.
func (n Normalizer) Normalize(raw string, present bool, kind Kind) Value {
	v := normalize(raw, present, kind, n.Decimal)
	if kind == KindDate && v.IsNull() && !isNullToken(raw, present) && n.Logger != nil {
		n.Logger.Warn("could not convert date", "value", strings.TrimSpace(raw))
	}
	return v
}

// Normalize converts one cell using the '.' decimal convention.
func Normalize(raw string, present bool, kind Kind) Value {
	return normalize(raw, present, kind, '.')
}

func normalize(raw string, present bool, kind Kind, decimal rune) Value {
	if isNullToken(raw, present) {
		return Null()
	}
	s := strings.TrimSpace(raw)

	switch kind {
	case KindNumeric:
		f, ok := parseNumber(s, decimal)
		if !ok {
			return Null()
		}
		return Numeric(f)
	case KindDate:
		t, ok := ParseDate(s)
		if !ok {
			return Null()
		}
		return Timestamp(t)
	case KindBoolean:
		u := strings.ToUpper(s)
		switch {
		case affirmative[u]:
			return Bool(true)
		case negative[u]:
			return Bool(false)
		}
		return Null()
	default:
		return Text(s)
	}
}

func isNullToken(raw string, present bool) bool {
	if !present {
		return true
	}
	s := strings.TrimSpace(raw)
	return s == "" || strings.EqualFold(s, "NULL")
}

// ParseDate tries the known layouts in order.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseNumber(s string, decimal rune) (float64, bool) {
	if decimal == ',' {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}
	s = strings.ReplaceAll(s, " ", "")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// ValueKind tags the variant held by a Value.
type ValueKind uint8

const (
	NullValue ValueKind = iota
	TextValue
	NumericValue
	TimestampValue
	BoolValue
)

// Value is a canonical field value. The zero Value is Null.
type Value struct {
	kind ValueKind
	s    string
	f    float64
	t    time.Time
	b    bool
}

func Null() Value                 { return Value{} }
func Text(s string) Value         { return Value{kind: TextValue, s: s} }
func Numeric(f float64) Value     { return Value{kind: NumericValue, f: f} }
func Timestamp(t time.Time) Value { return Value{kind: TimestampValue, t: t} }
func Bool(b bool) Value           { return Value{kind: BoolValue, b: b} }

func (v Value) Kind() ValueKind { return v.kind }
func (v Value) IsNull() bool    { return v.kind == NullValue }
func (v Value) Float() float64  { return v.f }
func (v Value) Time() time.Time { return v.t }
func (v Value) Truth() bool     { return v.b }

// String renders the value the way it is written to the database. Null
// renders as the empty string.
func (v Value) String() string {
	switch v.kind {
	case TextValue:
		return v.s
	case NumericValue:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case TimestampValue:
		return v.t.Format(TimestampLayout)
	case BoolValue:
		if v.b {
			return "1"
		}
		return "0"
	default:
		return ""
	}
}

// Value implements driver.Valuer. Timestamps are sent in canonical text form
// and booleans as 1/0 so every supported backend accepts them.
func (v Value) Value() (driver.Value, error) {
	switch v.kind {
	case TextValue:
		return v.s, nil
	case NumericValue:
		return v.f, nil
	case TimestampValue:
		return v.t.Format(TimestampLayout), nil
	case BoolValue:
		if v.b {
			return int64(1), nil
		}
		return int64(0), nil
	default:
		return nil, nil
	}
}
