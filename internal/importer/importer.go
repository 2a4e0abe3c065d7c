// Package importer runs a tabular source through normalization,
// classification and statement execution against one store session,
// committing in batches and accounting for every row.
//
// Per-row problems (missing required fields, missing parent rows, database
// errors on a single statement) become row outcomes and never stop the run.
// Only an unreadable source, a broken column mapping (query.ErrEmptyStatement)
// or a failed commit end it early.
package importer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"crmloader/internal/classify"
	"crmloader/internal/metrics"
	"crmloader/internal/normalize"
	"crmloader/internal/query"
	"crmloader/internal/schema"
	"crmloader/internal/source"
	"crmloader/internal/store"
)

// DefaultBatchSize is the number of executed statements per commit.
const DefaultBatchSize = 100

// Store is the transactional session an import writes through.
// *store.Session satisfies it.
type Store interface {
	Builder() query.Builder
	Exec(ctx context.Context, st query.Statement) (sql.Result, error)
	Commit(ctx context.Context) (int, error)
	Rollback() error
	InTx() bool
	FindByNaturalKey(ctx context.Context, kl store.KeyLookup, key string, excludeID *int64) (*store.Match, error)
	Exists(ctx context.Context, table, column string, value any) (bool, error)
}

// SkipRecorder receives rows that did not land. *skiplog.Recorder satisfies it.
type SkipRecorder interface {
	Add(reason string, line int, key, detail string, raw []string)
}

// ProgressFunc is called after every row with the completed percentage.
type ProgressFunc func(percent float64, current, total int)

// Options tune a run. Zero values select defaults.
type Options struct {
	Mode      Mode
	BatchSize int
	// Decimal is the numeric decimal separator of the source ('.' or ',').
	Decimal  rune
	Progress ProgressFunc
	Skips    SkipRecorder
	// Report is called once with the final results, in the Reporting state.
	Report func(*Results)
	Logger *slog.Logger
	RunID  string
	// Now stamps updated_at columns. Defaults to time.Now.
	Now func() time.Time
}

// Importer imports rows for one descriptor through one store session.
// It is single-use and not safe for concurrent use.
type Importer struct {
	desc  *schema.Descriptor
	store Store
	opt   Options
	log   *slog.Logger
	state State

	classifier classify.Classifier
	pending    int
	// batchStart indexes the first row of the uncommitted batch in Results.Rows.
	batchStart int
}

// New prepares an import. It fails when the mode cannot be honored by the
// descriptor (update modes need a natural key).
func New(desc *schema.Descriptor, st Store, opt Options) (*Importer, error) {
	if opt.Mode == "" {
		opt.Mode = InsertOnly
	}
	if _, err := ParseMode(string(opt.Mode)); err != nil {
		return nil, err
	}
	if opt.Mode != InsertOnly && desc.NaturalKey == "" {
		return nil, fmt.Errorf("mode %s needs a natural key, and %s has none", opt.Mode, desc.Name)
	}
	if opt.BatchSize <= 0 {
		opt.BatchSize = DefaultBatchSize
	}
	if opt.Decimal == 0 {
		opt.Decimal = '.'
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.RunID == "" {
		opt.RunID = uuid.NewString()
	}
	log := opt.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	log = log.With("run_id", opt.RunID, "table", desc.Table)

	return &Importer{
		desc:  desc,
		store: st,
		opt:   opt,
		log:   log,
		state: Idle,
		classifier: classify.Classifier{
			Finder: st,
			Lookup: store.KeyLookup{
				Table:         desc.Table,
				IDColumn:      desc.IDColumn,
				KeyColumn:     desc.NaturalKey,
				DisplayColumn: desc.DisplayColumn,
			},
		},
	}, nil
}

// State returns the current lifecycle state.
func (im *Importer) State() State { return im.state }

func (im *Importer) setState(s State) {
	im.log.Debug("state change", "from", im.state.String(), "to", s.String())
	im.state = s
}

// ImportFile reads path and runs the import.
func (im *Importer) ImportFile(ctx context.Context, path string, srcOpt source.Options) (*Results, error) {
	im.setState(Reading)
	start := time.Now()
	tbl, err := source.Read(path, srcOpt)
	metrics.RecordStep(im.desc.Name, "read", err, time.Since(start))
	if err != nil {
		im.setState(Failed)
		im.log.Error("source unreadable", "path", path, "err", err)
		return nil, err
	}
	im.log.Info("source loaded", "path", path, "rows", len(tbl.Rows),
		"encoding", tbl.Encoding, "checksum", tbl.ChecksumHex())
	return im.Run(ctx, tbl)
}

// Run imports an already loaded table. On cancellation the pending batch is
// committed and the partial results are returned with ctx.Err().
func (im *Importer) Run(ctx context.Context, tbl *source.Table) (res *Results, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordStep(im.desc.Name, "import", err, time.Since(start))
		if res != nil {
			im.recordMetrics(res)
		}
	}()

	if im.state == Idle {
		im.setState(Reading)
	}
	hc := im.desc.Check(tbl.Header)
	if !hc.OK() {
		im.setState(Failed)
		err := source.MissingColumns(tbl.Path, hc.Missing)
		im.log.Error("required columns missing", "missing", hc.Missing)
		return nil, err
	}
	if len(hc.Ignored) > 0 {
		im.log.Warn("ignoring undeclared columns", "columns", hc.Ignored)
	}

	res = &Results{
		RunID:    im.opt.RunID,
		Table:    im.desc.Table,
		Mode:     im.opt.Mode,
		Source:   tbl.Path,
		Encoding: tbl.Encoding,
		Checksum: tbl.ChecksumHex(),
		Ignored:  hc.Ignored,
		Total:    len(tbl.Rows),
		Started:  start,
	}
	im.log.Info("import started", "mode", string(im.opt.Mode), "rows", res.Total, "batch_size", im.opt.BatchSize)

	im.setState(RowLoop)
	for i, row := range tbl.Rows {
		if cerr := ctx.Err(); cerr != nil {
			im.log.Warn("import cancelled", "processed", res.Processed, "total", res.Total)
			if err := im.commit(ctx, res); err != nil {
				return im.fail(res, err)
			}
			res.Finished = time.Now()
			im.setState(Failed)
			return res, cerr
		}

		rl, ferr := im.processRow(ctx, tbl, i, row)
		if ferr != nil {
			im.log.Error("fatal error, aborting import", "line", i+2, "err", ferr)
			if rerr := im.store.Rollback(); rerr != nil {
				im.log.Error("rollback failed", "err", rerr)
			}
			return im.fail(res, ferr)
		}
		res.add(rl)
		im.logRow(rl, row)

		if im.pending >= im.opt.BatchSize {
			if err := im.commit(ctx, res); err != nil {
				return im.fail(res, err)
			}
		}
		if im.opt.Progress != nil {
			im.opt.Progress(float64(i+1)/float64(res.Total)*100, i+1, res.Total)
		}
	}

	if err := im.commit(ctx, res); err != nil {
		return im.fail(res, err)
	}
	res.Finished = time.Now()

	im.setState(Reporting)
	if im.opt.Report != nil {
		im.opt.Report(res)
	}
	im.setState(Done)
	im.log.Info("import finished",
		"inserted", res.Inserted, "updated", res.Updated,
		"duplicate_skipped", res.DuplicateSkipped, "omitted", res.Omitted,
		"errors", res.Errors, "total", res.Total, "commits", res.Commits,
		"elapsed", res.Duration().String())
	return res, nil
}

// fail ends the run. The uncommitted batch is gone by now, so its rows are
// reported as rolled back.
func (im *Importer) fail(res *Results, err error) (*Results, error) {
	if n := res.rollBack(im.batchStart, err); n > 0 {
		im.log.Warn("uncommitted rows rolled back", "rows", n)
	}
	res.Finished = time.Now()
	im.setState(Failed)
	return res, err
}

// commit makes the open transaction durable, if there is one.
func (im *Importer) commit(ctx context.Context, res *Results) error {
	if !im.store.InTx() {
		return nil
	}
	im.setState(Committing)
	n, err := im.store.Commit(context.WithoutCancel(ctx))
	if err != nil {
		im.log.Error("commit failed", "processed", res.Processed, "err", err)
		return &CommitError{Processed: res.Processed, Err: err}
	}
	res.Commits++
	im.pending = 0
	im.batchStart = len(res.Rows)
	im.log.Info(fmt.Sprintf("batch #%d: committed %d statements", res.Commits, n), "processed", res.Processed)
	im.setState(RowLoop)
	return nil
}

// processRow decides and applies the outcome of one row. A non-nil error is
// fatal for the whole import.
func (im *Importer) processRow(ctx context.Context, tbl *source.Table, i int, row source.Row) (RowLog, error) {
	line := i + 2
	rl := RowLog{Line: line}
	dec := im.opt.Decimal
	if tbl.Decimal != 0 {
		dec = tbl.Decimal
	}
	norm := normalize.Normalizer{Decimal: dec, Logger: im.log.With("line", line)}

	for _, col := range im.desc.Required {
		raw, ok := row.Cell(tbl.Index(col))
		if normalize.Normalize(raw, ok, im.desc.Fields[col]).IsNull() {
			rl.Outcome, rl.Message = Omitted, "missing required field "+col
			return rl, nil
		}
	}

	fields := make(query.Fields, len(tbl.Header))
	for _, col := range tbl.Header {
		kind, ok := im.desc.KindOf(col)
		if !ok {
			continue
		}
		if _, dup := fields[col]; dup {
			continue
		}
		raw, present := row.Cell(tbl.Index(col))
		fields[col] = norm.Normalize(raw, present, kind)
	}

	var excludeID *int64
	if im.desc.IDColumn != "" {
		if v, ok := fields[im.desc.IDColumn]; ok {
			if id, ok := intValue(v); ok {
				excludeID = &id
			}
			delete(fields, im.desc.IDColumn)
		}
	}

	if im.desc.NaturalKey != "" {
		rl.Key = classify.NormalizeKey(fields[im.desc.NaturalKey].String())
	}

	for _, ref := range im.desc.References {
		v := fields[ref.Column]
		if v.IsNull() {
			continue
		}
		ok, err := im.store.Exists(ctx, ref.Table, ref.TargetColumn, bindValue(v))
		if err != nil {
			rl.Outcome, rl.Message = Error, err.Error()
			return rl, nil
		}
		if !ok {
			rl.Outcome = Omitted
			rl.Message = fmt.Sprintf("%s %s not found in %s", ref.Column, v.String(), ref.Table)
			return rl, nil
		}
	}

	var existing *classify.Existing
	if im.desc.NaturalKey != "" {
		var err error
		existing, err = im.classifier.Classify(ctx, fields[im.desc.NaturalKey].String(), excludeID)
		if err != nil {
			rl.Outcome, rl.Message = Error, err.Error()
			return rl, nil
		}
	}

	switch {
	case existing != nil && im.opt.Mode == InsertOnly:
		rl.Outcome = DuplicateSkipped
		rl.Message = fmt.Sprintf("duplicate of %s id %d (%s)", im.desc.Table, existing.ID, existing.Name)
		return rl, nil

	case existing != nil:
		return im.update(ctx, rl, fields, existing)

	case im.opt.Mode == UpdateOnly:
		// No match: nothing to update.
		rl.Outcome = DuplicateSkipped
		rl.Message = "no existing row to update"
		return rl, nil

	default:
		return im.insert(ctx, rl, fields)
	}
}

func (im *Importer) insert(ctx context.Context, rl RowLog, fields query.Fields) (RowLog, error) {
	st, err := im.store.Builder().Insert(im.desc.Table, fields, im.desc.IDColumn)
	if err != nil {
		return rl, err
	}
	if _, err := im.store.Exec(ctx, st); err != nil {
		rl.Outcome, rl.Message = Error, err.Error()
		return rl, nil
	}
	im.pending++
	rl.Outcome = Inserted
	return rl, nil
}

func (im *Importer) update(ctx context.Context, rl RowLog, fields query.Fields, existing *classify.Existing) (RowLog, error) {
	set := make(query.Fields, len(fields))
	for c, v := range fields {
		if !v.IsNull() {
			set[c] = v
		}
	}
	st, err := im.store.Builder().Update(im.desc.Table, set, im.desc.IDColumn, existing.ID,
		im.desc.UpdatedAtColumn, im.opt.Now())
	if err != nil {
		return rl, err
	}
	if _, err := im.store.Exec(ctx, st); err != nil {
		rl.Outcome, rl.Message = Error, err.Error()
		return rl, nil
	}
	im.pending++
	rl.Outcome = Updated
	rl.Message = fmt.Sprintf("updated id %d", existing.ID)
	return rl, nil
}

func (im *Importer) logRow(rl RowLog, raw source.Row) {
	attrs := []any{"line", rl.Line, "outcome", rl.Outcome.String()}
	if rl.Key != "" {
		attrs = append(attrs, "key", rl.Key)
	}
	if rl.Message != "" {
		attrs = append(attrs, "msg", rl.Message)
	}
	switch rl.Outcome {
	case Error:
		im.log.Error("row failed", attrs...)
	case Omitted, DuplicateSkipped:
		im.log.Info("row skipped", attrs...)
	default:
		im.log.Debug("row imported", attrs...)
	}
	if im.opt.Skips != nil && rl.Outcome != Inserted && rl.Outcome != Updated {
		im.opt.Skips.Add(rl.Outcome.String(), rl.Line, rl.Key, rl.Message, raw)
	}
}

func (im *Importer) recordMetrics(res *Results) {
	for _, o := range Outcomes() {
		metrics.RecordRows(im.desc.Name, o.String(), int64(res.Count(o)))
	}
	metrics.RecordCommits(im.desc.Name, int64(res.Commits))
}

// intValue returns v as an int64 when it is an integral number.
func intValue(v normalize.Value) (int64, bool) {
	if v.Kind() != normalize.NumericValue {
		return 0, false
	}
	f := v.Float()
	if f != math.Trunc(f) || math.Abs(f) > math.MaxInt64/2 {
		return 0, false
	}
	return int64(f), true
}

// bindValue sends integral numbers as integers so key comparisons use the
// column's integer type on every backend.
func bindValue(v normalize.Value) any {
	if id, ok := intValue(v); ok {
		return id
	}
	return v
}

// IsFatal reports whether err ended an import early (as opposed to a context
// cancellation with partial results).
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
