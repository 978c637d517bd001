package main

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/noah-isme/sqlclassroom-api/pkg/sandbox"
)

func snapshotCommand(flags *engineFlags) *cobra.Command {
	var (
		inline     string
		file       string
		schemaOnly bool
	)
	cmd := &cobra.Command{
		Use:   "snapshot DUMP",
		Short: "Print the tables and rows of a dump.",
		Long:  `Snapshot loads a dump, optionally applies a trusted script, and prints the resulting schema and rows as JSON.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dump, err := os.ReadFile(args[0])
			if err != nil {
				return errors.Wrapf(err, "read %s", args[0])
			}
			script, err := readScript(inline, file)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			m, logr, err := flags.open(ctx)
			if err != nil {
				return err
			}
			defer m.Close() //nolint:errcheck
			defer logr.Sync() //nolint:errcheck

			snap, err := run(ctx, m, dump, script, sandbox.ExecOptions{Trusted: true})
			if err != nil {
				return err
			}
			if schemaOnly {
				snap = snap.SchemaOnly()
			}
			return writeJSON(cmd.OutOrStdout(), snap)
		},
	}
	cmd.Flags().StringVar(&inline, "sql", "", "script applied before the snapshot")
	cmd.Flags().StringVarP(&file, "file", "f", "", "file holding the script")
	cmd.Flags().BoolVar(&schemaOnly, "schema-only", false, "omit row data")
	return cmd
}
