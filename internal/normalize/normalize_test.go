package normalize

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"
)

/*
TestNormalize_NullTokens verifies that blank cells, the literal NULL in any
case, and missing cells all normalize to Null for every kind.
*/
func TestNormalize_NullTokens(t *testing.T) {
	kinds := []Kind{KindText, KindNumeric, KindDate, KindBoolean}
	inputs := []string{"", "   ", "NULL", "null", " Null "}

	for _, k := range kinds {
		for _, in := range inputs {
			if v := Normalize(in, true, k); !v.IsNull() {
				t.Fatalf("Normalize(%q, %s) = %v; want Null", in, k, v)
			}
		}
		if v := Normalize("anything", false, k); !v.IsNull() {
			t.Fatalf("missing cell under %s = %v; want Null", k, v)
		}
	}
}

func TestNormalize_Text(t *testing.T) {
	v := Normalize("  Juan Pérez \t", true, KindText)
	if v.Kind() != TextValue || v.String() != "Juan Pérez" {
		t.Fatalf("got %#v; want trimmed text", v)
	}
}

func TestNormalize_Numeric(t *testing.T) {
	tests := []struct {
		in      string
		decimal rune
		want    float64
		null    bool
	}{
		{in: "42", want: 42},
		{in: " 79.90 ", want: 79.9},
		{in: "1e3", want: 1000},
		{in: "79,90", decimal: ',', want: 79.9},
		{in: "1.234,5", decimal: ',', want: 1234.5},
		{in: "abc", null: true},
		{in: "NaN", null: true},
		{in: "+Inf", null: true},
	}
	for _, tc := range tests {
		n := Normalizer{Decimal: tc.decimal}
		v := n.Normalize(tc.in, true, KindNumeric)
		if tc.null {
			if !v.IsNull() {
				t.Fatalf("%q: got %v; want Null", tc.in, v)
			}
			continue
		}
		if v.Kind() != NumericValue || v.Float() != tc.want {
			t.Fatalf("%q: got %#v; want %v", tc.in, v, tc.want)
		}
	}
}

/*
TestNormalize_Dates covers every accepted layout and checks that the
canonical rendering is always YYYY-MM-DD HH:MM:SS.
*/
func TestNormalize_Dates(t *testing.T) {
	tests := map[string]string{
		"2025/01/15":          "2025-01-15 00:00:00",
		"2025-01-15":          "2025-01-15 00:00:00",
		"15/01/2025":          "2025-01-15 00:00:00",
		"15-01-2025":          "2025-01-15 00:00:00",
		"5/1/2025":            "2025-01-05 00:00:00",
		"2025/01/15 14:30:00": "2025-01-15 14:30:00",
		"2025-01-15 14:30:00": "2025-01-15 14:30:00",
		"15/01/2025 08:05:09": "2025-01-15 08:05:09",
	}
	for in, want := range tests {
		v := Normalize(in, true, KindDate)
		if v.Kind() != TimestampValue {
			t.Fatalf("%q: got %#v; want timestamp", in, v)
		}
		if got := v.String(); got != want {
			t.Fatalf("%q: got %q; want %q", in, got, want)
		}
	}
}

func TestNormalizer_UnparseableDateWarns(t *testing.T) {
	var buf bytes.Buffer
	n := Normalizer{Logger: slog.New(slog.NewTextHandler(&buf, nil))}

	v := n.Normalize("not-a-date", true, KindDate)
	if !v.IsNull() {
		t.Fatalf("got %v; want Null", v)
	}
	out := buf.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "not-a-date") {
		t.Fatalf("expected a warning mentioning the value, got %q", out)
	}

	buf.Reset()
	_ = n.Normalize("NULL", true, KindDate)
	if buf.Len() != 0 {
		t.Fatalf("null token must not warn, got %q", buf.String())
	}
}

func TestNormalize_Boolean(t *testing.T) {
	for _, in := range []string{"SI", "sí", "Yes", "1", "true"} {
		v := Normalize(in, true, KindBoolean)
		if v.Kind() != BoolValue || !v.Truth() {
			t.Fatalf("%q: got %#v; want true", in, v)
		}
	}
	for _, in := range []string{"no", "0", "FALSE"} {
		v := Normalize(in, true, KindBoolean)
		if v.Kind() != BoolValue || v.Truth() {
			t.Fatalf("%q: got %#v; want false", in, v)
		}
	}
	if v := Normalize("maybe", true, KindBoolean); !v.IsNull() {
		t.Fatalf("maybe: got %#v; want Null", v)
	}
}

func TestValue_DriverValue(t *testing.T) {
	ts := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		v    Value
		want any
	}{
		{Null(), nil},
		{Text("x"), "x"},
		{Numeric(1.5), 1.5},
		{Timestamp(ts), "2025-01-15 00:00:00"},
		{Bool(true), int64(1)},
		{Bool(false), int64(0)},
	}
	for _, tc := range tests {
		got, err := tc.v.Value()
		if err != nil {
			t.Fatalf("Value() error = %v", err)
		}
		if got != tc.want {
			t.Fatalf("Value() = %#v; want %#v", got, tc.want)
		}
	}
}

func TestParseKind(t *testing.T) {
	if k, err := ParseKind(" Date "); err != nil || k != KindDate {
		t.Fatalf("ParseKind(Date) = %v, %v", k, err)
	}
	if k, err := ParseKind(""); err != nil || k != KindText {
		t.Fatalf("ParseKind(\"\") = %v, %v", k, err)
	}
	if _, err := ParseKind("blob"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}
