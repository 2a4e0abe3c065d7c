package skiplog

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func readAll(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open for read: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("readall: %v", err)
	}
	return rows
}

// TestNew_CreatesDirFileAndHeader verifies that New creates missing parent
// directories and writes the fixed header row immediately.
func TestNew_CreatesDirFileAndHeader(t *testing.T) {
	t.Parallel()

	target := filepath.Join(t.TempDir(), "skipped", "clientes.csv")
	r, err := New(target)
	if err != nil {
		t.Fatalf("New error = %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close error = %v", err)
	}

	rows := readAll(t, target)
	if len(rows) != 1 {
		t.Fatalf("expected exactly 1 row (header), got %d: %#v", len(rows), rows)
	}
	if !reflect.DeepEqual(rows[0], Header) {
		t.Fatalf("header mismatch\ngot : %#v\nwant: %#v", rows[0], Header)
	}
}

// TestRecorder_Add_WritesRowsAndCounts ensures Add increments per-reason
// counters and appends properly quoted CSV rows.
func TestRecorder_Add_WritesRowsAndCounts(t *testing.T) {
	t.Parallel()

	target := filepath.Join(t.TempDir(), "skipped.csv")
	r, err := New(target)
	if err != nil {
		t.Fatalf("New error = %v", err)
	}

	r.Add("duplicate_skipped", 2, "999111", "existing id 4", []string{"999111", "Ana, P"})
	r.Add("omitted", 3, "", "missing telefono", []string{"", "Luis"})
	r.Add("duplicate_skipped", 5, "888", "existing id 9", []string{"888", `Eva "E"`})

	if err := r.Close(); err != nil {
		t.Fatalf("Close error = %v", err)
	}

	rows := readAll(t, target)
	if len(rows) != 4 {
		t.Fatalf("rows = %d; want header + 3", len(rows))
	}
	want := []string{"duplicate_skipped", "2", "999111", "existing id 4", "999111;Ana, P"}
	if !reflect.DeepEqual(rows[1], want) {
		t.Fatalf("row 1 = %#v; want %#v", rows[1], want)
	}
	if rows[3][4] != `888;Eva "E"` {
		t.Fatalf("quoted raw not preserved: %q", rows[3][4])
	}

	got := r.Counts()
	if got["duplicate_skipped"] != 2 || got["omitted"] != 1 {
		t.Fatalf("counts = %v", got)
	}
}

func TestFileName(t *testing.T) {
	ts := time.Date(2025, 1, 15, 9, 5, 0, 0, time.UTC)
	if got := FileName("clientes", ts); got != "skipped_clientes_20250115_090500.csv" {
		t.Fatalf("FileName = %q", got)
	}
}
