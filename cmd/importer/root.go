package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"crmloader/internal/config"
	"crmloader/internal/schema"
)

// app is the state shared by the subcommands of one invocation.
type app struct {
	deps Deps
	cfg  *config.Config
}

func newRootCmd(deps Deps) *cobra.Command {
	a := &app{deps: deps}

	root := &cobra.Command{
		Use:   "importer",
		Short: "Import CRM exports into the CRM database",
		Long: `importer loads client and client-history exports (semicolon CSV or XLSX)
into the CRM database. Rows are matched against existing clients by phone
number; depending on --mode duplicates are skipped, updated, or upserted.

Configuration is layered: defaults, --config YAML file, CRM_* environment
variables, then flags.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "schemas" {
				return nil
			}
			cfgFile, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			a.cfg = cfg
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		a.importCmd("clients", schema.Clients, "Import a client export"),
		a.importCmd("history", schema.History, "Import a client-history export"),
		a.verifyCmd(),
		schemasCmd(),
	)
	return root
}

// descriptor returns the schema for kind, or the --schema-file override.
func (a *app) descriptor(kind string) (*schema.Descriptor, error) {
	if a.cfg != nil && a.cfg.SchemaFile != "" {
		return schema.Load(a.cfg.SchemaFile)
	}
	return schema.Builtin(kind)
}

func schemasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schemas [NAME...]",
		Short: "Print the built-in schema descriptors as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			names := args
			if len(names) == 0 {
				names = schema.BuiltinNames()
			}
			out := cmd.OutOrStdout()
			for i, n := range names {
				d, err := schema.Builtin(n)
				if err != nil {
					return err
				}
				b, err := schema.Marshal(d)
				if err != nil {
					return fmt.Errorf("marshal %s: %w", n, err)
				}
				if i > 0 {
					fmt.Fprintln(out, "---")
				}
				if _, err := out.Write(b); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
