package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"crmloader/internal/config"
	"crmloader/internal/importer"
	"crmloader/internal/logging"
	"crmloader/internal/metrics"
	"crmloader/internal/metrics/datadog"
	"crmloader/internal/metrics/prompush"
	"crmloader/internal/report"
	"crmloader/internal/skiplog"
	"crmloader/internal/source"
)

func (a *app) importCmd(use, kind, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " FILE",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runImport(cmd, kind, args[0])
		},
	}
}

// runImport performs one import end to end: logger, metrics, database
// session, skipped-row file, importer, report.
func (a *app) runImport(cmd *cobra.Command, kind, path string) error {
	ctx := cmd.Context()
	cfg := a.cfg
	now := a.deps.Now()

	desc, err := a.descriptor(kind)
	if err != nil {
		return err
	}

	log, logPath, closeLog, err := logging.New(logging.Options{
		Dir:     cfg.LogDir,
		Kind:    desc.Name,
		Verbose: cfg.Verbose,
		Console: cmd.ErrOrStderr(),
		Now:     now,
	})
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	runID := uuid.NewString()
	log = log.With("run_id", runID)
	if logPath != "" {
		log.Info("logging to file", "path", logPath)
	}

	if err := setupMetrics(cfg, runID); err != nil {
		return err
	}
	defer func() {
		if ferr := metrics.Flush(); ferr != nil {
			log.Warn("metrics flush failed", "err", ferr)
		}
		metrics.SetBackend(nil)
	}()

	dsn, err := cfg.DSN()
	if err != nil {
		return err
	}
	db, err := a.deps.OpenDB(ctx, cfg.DBDriver, dsn)
	if err != nil {
		log.Error("database connection failed", "driver", cfg.DBDriver, "err", err)
		return err
	}
	defer db.Close()
	db.Logger = log

	sess, err := db.Session(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			log.Warn("closing session", "err", cerr)
		}
	}()

	opt := importer.Options{
		Mode:      cfg.ImportMode(),
		BatchSize: cfg.BatchSize,
		Decimal:   cfg.DecimalRune(),
		Progress:  progressFunc(log, cmd.ErrOrStderr()),
		Report:    func(res *importer.Results) { report.Emit(log, cmd.OutOrStdout(), res) },
		Logger:    log,
		RunID:     runID,
		Now:       a.deps.Now,
	}
	if cfg.SkippedDir != "" {
		rec, err := skiplog.New(filepath.Join(cfg.SkippedDir, skiplog.FileName(desc.Name, now)))
		if err != nil {
			return err
		}
		defer func() {
			if cerr := rec.Close(); cerr != nil {
				log.Warn("closing skipped-row file", "err", cerr)
			}
			log.Info("skipped rows written", "path", rec.Path(), "reasons", rec.Counts())
		}()
		opt.Skips = rec
	}

	im, err := importer.New(desc, sess, opt)
	if err != nil {
		return err
	}
	res, err := im.ImportFile(ctx, path, source.Options{
		Delimiter: cfg.DelimiterRune(),
		Encodings: cfg.Encodings,
	})
	if err != nil {
		// Partial results of an aborted run are still reported.
		if res != nil && im.State() != importer.Done {
			report.Emit(log, cmd.OutOrStdout(), res)
		}
		if res != nil && !importer.IsFatal(err) {
			return fmt.Errorf("import interrupted after %d of %d rows: %w", res.Processed, res.Total, err)
		}
		return fmt.Errorf("import %s: %w", path, err)
	}
	return nil
}

// setupMetrics installs the configured metrics backend.
func setupMetrics(cfg *config.Config, runID string) error {
	switch cfg.MetricsBackend {
	case "prompush":
		b, err := prompush.NewBackend("crm_import", cfg.PushgatewayURL, runID)
		if err != nil {
			return err
		}
		metrics.SetBackend(b)
	case "datadog":
		b, err := datadog.NewBackend(datadog.Config{
			Addr:       cfg.DatadogAddr,
			Namespace:  "crm.",
			GlobalTags: []string{"run_id:" + runID},
		})
		if err != nil {
			return err
		}
		metrics.SetBackend(b)
	default:
		metrics.SetBackend(nil)
	}
	return nil
}

// progressFunc redraws a progress line when w is a terminal and otherwise
// logs at every completed tenth of the file.
func progressFunc(log *slog.Logger, w io.Writer) importer.ProgressFunc {
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return func(pct float64, cur, total int) {
			fmt.Fprintf(w, "\r%5.1f%% (%d/%d)", pct, cur, total)
			if cur == total {
				fmt.Fprintln(w)
			}
		}
	}
	last := -1
	return func(pct float64, cur, total int) {
		step := int(pct) / 10
		if step == last {
			return
		}
		last = step
		log.Debug("progress", "percent", fmt.Sprintf("%.0f", pct), "row", cur, "total", total)
	}
}
