package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"crmloader/internal/schema"
	"crmloader/internal/source"
	"crmloader/internal/verify"
)

func (a *app) verifyCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "verify FILE",
		Short: "Check that the first rows of an export are present in the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runVerify(cmd, kind, args[0])
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "clients", "export kind: clients or history")
	return cmd
}

func (a *app) runVerify(cmd *cobra.Command, kind, path string) error {
	ctx := cmd.Context()
	cfg := a.cfg

	var name string
	switch kind {
	case "clients":
		name = schema.Clients
	case "history":
		name = schema.History
	default:
		return fmt.Errorf("unknown kind %q", kind)
	}
	desc, err := a.descriptor(name)
	if err != nil {
		return err
	}

	tbl, err := source.Read(path, source.Options{Delimiter: cfg.DelimiterRune(), Encodings: cfg.Encodings})
	if err != nil {
		return err
	}

	dsn, err := cfg.DSN()
	if err != nil {
		return err
	}
	db, err := a.deps.OpenDB(ctx, cfg.DBDriver, dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	rep, err := verify.Run(ctx, db.Reader(), desc, tbl, cfg.VerifySample)
	if err != nil {
		return fmt.Errorf("verify %s: %w", path, err)
	}
	_, _ = io.WriteString(cmd.OutOrStdout(), rep.Text())
	return nil
}
