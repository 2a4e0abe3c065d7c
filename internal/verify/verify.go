// Package verify spot-checks an import: it looks up the first rows of the
// source by natural key and counts the rows of the tables involved.
package verify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/sync/errgroup"

	"crmloader/internal/classify"
	"crmloader/internal/schema"
	"crmloader/internal/source"
	"crmloader/internal/store"
)

// Reader is the read-only store surface verify needs. store.Reader satisfies it.
type Reader interface {
	FindByNaturalKey(ctx context.Context, kl store.KeyLookup, key string, excludeID *int64) (*store.Match, error)
	Count(ctx context.Context, table string) (int64, error)
}

// maxParallel bounds concurrent lookups against the database.
const maxParallel = 4

// Check is the result for one sampled source row.
type Check struct {
	Line  int
	Key   string
	Found bool
	ID    int64
	Name  string
}

// Report is the outcome of a verification.
type Report struct {
	Table  string
	Checks []Check
	Counts map[string]int64
}

// Found counts sampled rows present in the store.
func (r *Report) Found() int {
	n := 0
	for _, c := range r.Checks {
		if c.Found {
			n++
		}
	}
	return n
}

// Missing counts sampled rows absent from the store.
func (r *Report) Missing() int { return len(r.Checks) - r.Found() }

// Run checks the first sample rows of tbl that carry a natural key, and
// counts rows in the descriptor table and every referenced table.
func Run(ctx context.Context, rd Reader, desc *schema.Descriptor, tbl *source.Table, sample int) (*Report, error) {
	rep := &Report{Table: desc.Table, Counts: map[string]int64{}}

	tables := []string{desc.Table}
	for _, ref := range desc.References {
		tables = append(tables, ref.Table)
	}

	var checks []Check
	if desc.NaturalKey != "" {
		for i := range tbl.Rows {
			if len(checks) >= sample {
				break
			}
			raw, _ := tbl.Get(i, desc.NaturalKey)
			key := classify.NormalizeKey(raw)
			if key == "" {
				continue
			}
			checks = append(checks, Check{Line: i + 2, Key: key})
		}
	}

	kl := store.KeyLookup{
		Table:         desc.Table,
		IDColumn:      desc.IDColumn,
		KeyColumn:     desc.NaturalKey,
		DisplayColumn: desc.DisplayColumn,
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)
	for i := range checks {
		g.Go(func() error {
			m, err := rd.FindByNaturalKey(gctx, kl, checks[i].Key, nil)
			if err != nil {
				return fmt.Errorf("line %d: %w", checks[i].Line, err)
			}
			if m != nil {
				checks[i].Found = true
				checks[i].ID = m.ID
				checks[i].Name = m.Name.String
			}
			return nil
		})
	}
	seen := map[string]bool{}
	for _, t := range tables {
		if seen[t] {
			continue
		}
		seen[t] = true
		g.Go(func() error {
			n, err := rd.Count(gctx, t)
			if err != nil {
				return err
			}
			mu.Lock()
			rep.Counts[t] = n
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	rep.Checks = checks
	return rep, nil
}

// Text renders the report as tables.
func (r *Report) Text() string {
	var b strings.Builder

	if len(r.Checks) > 0 {
		fmt.Fprintf(&b, "Sampled rows in %s\n", r.Table)
		t := table.NewWriter()
		t.SetStyle(table.StyleLight)
		t.Style().Format.Footer = text.FormatDefault
		t.AppendHeader(table.Row{"Line", "Key", "Status", "ID", "Name"})
		for _, c := range r.Checks {
			if c.Found {
				t.AppendRow(table.Row{c.Line, c.Key, "found", c.ID, c.Name})
			} else {
				t.AppendRow(table.Row{c.Line, c.Key, "MISSING", "", ""})
			}
		}
		t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d/%d found", r.Found(), len(r.Checks)), "", ""})
		b.WriteString(t.Render())
		b.WriteString("\n")
	}

	names := make([]string, 0, len(r.Counts))
	for n := range r.Counts {
		names = append(names, n)
	}
	sort.Strings(names)
	ct := table.NewWriter()
	ct.SetStyle(table.StyleLight)
	ct.AppendHeader(table.Row{"Table", "Rows"})
	for _, n := range names {
		ct.AppendRow(table.Row{n, r.Counts[n]})
	}
	b.WriteString(ct.Render())
	b.WriteString("\n")
	return b.String()
}
