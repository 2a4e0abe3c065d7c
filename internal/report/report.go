// Package report renders import results for people: a summary table on the
// console and one log line per row.
package report

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"crmloader/internal/importer"
)

var outcomeLabels = map[importer.Outcome]string{
	importer.Inserted:         "Inserted",
	importer.Updated:          "Updated",
	importer.DuplicateSkipped: "Duplicates skipped",
	importer.Omitted:          "Omitted",
	importer.Error:            "Errors",
}

// Text returns the summary table for res.
func Text(res *importer.Results) string {
	if res == nil {
		return "no results\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Import summary: %s (%s)\n", res.Table, res.Mode)

	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Outcome", "Rows"})
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})

	for _, o := range importer.Outcomes() {
		t.AppendRow(table.Row{outcomeLabels[o], res.Count(o)})
	}
	if res.RolledBack > 0 {
		t.AppendRow(table.Row{"  of which rolled back", res.RolledBack})
	}
	t.AppendSeparator()
	t.AppendRow(table.Row{"Total rows", res.Total})
	if res.Processed != res.Total {
		t.AppendRow(table.Row{"Processed", res.Processed})
	}
	t.AppendRow(table.Row{"Commits", res.Commits})

	b.WriteString(t.Render())
	b.WriteString("\n")

	meta := table.NewWriter()
	meta.SetStyle(table.StyleLight)
	meta.Style().Options.DrawBorder = false
	meta.Style().Options.SeparateColumns = false
	if res.Source != "" {
		meta.AppendRow(table.Row{"Source", res.Source})
	}
	if res.Encoding != "" {
		meta.AppendRow(table.Row{"Encoding", res.Encoding})
	}
	if res.Checksum != "" {
		meta.AppendRow(table.Row{"Checksum", res.Checksum})
	}
	if len(res.Ignored) > 0 {
		meta.AppendRow(table.Row{"Ignored columns", strings.Join(res.Ignored, ", ")})
	}
	if res.RunID != "" {
		meta.AppendRow(table.Row{"Run", res.RunID})
	}
	if !res.Finished.IsZero() {
		meta.AppendRow(table.Row{"Elapsed", res.Duration().Round(time.Millisecond).String()})
	}
	if meta.Length() > 0 {
		b.WriteString(meta.Render())
		b.WriteString("\n")
	}
	return b.String()
}

// Emit writes the summary to w and one line per row to log. Write errors are
// ignored; reporting never fails an import.
func Emit(log *slog.Logger, w io.Writer, res *importer.Results) {
	if w != nil {
		_, _ = io.WriteString(w, Text(res))
	}
	if log == nil || res == nil {
		return
	}
	for _, r := range res.Rows {
		attrs := []any{"line", r.Line, "outcome", r.Outcome.String()}
		if r.Key != "" {
			attrs = append(attrs, "key", r.Key)
		}
		if r.Message != "" {
			attrs = append(attrs, "msg", r.Message)
		}
		log.Info("row result", attrs...)
	}
	log.Info("summary",
		"inserted", res.Inserted, "updated", res.Updated,
		"duplicate_skipped", res.DuplicateSkipped, "omitted", res.Omitted,
		"errors", res.Errors, "total", res.Total)
}
