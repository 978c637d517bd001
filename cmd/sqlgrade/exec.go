package main

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/noah-isme/sqlclassroom-api/pkg/sandbox"
)

type execOutput struct {
	Columns      []string      `json:"columns"`
	Results      []sandbox.Row `json:"results"`
	RowsAffected int64         `json:"rows_affected"`
	Statements   int           `json:"statements"`
	Truncated    bool          `json:"truncated"`
	Seconds      float64       `json:"execution_time"`
}

func execCommand(flags *engineFlags) *cobra.Command {
	var (
		inline       string
		file         string
		restrictions []string
	)
	cmd := &cobra.Command{
		Use:   "exec DUMP",
		Short: "Run a script as a student would.",
		Long:  `Exec loads a dump, runs the script under the student guard and prints the last result set.`,
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
			if script == "" {
				return errors.New("a script is required (--sql or --file)")
			}

			ctx := cmd.Context()
			m, logr, err := flags.open(ctx)
			if err != nil {
				return err
			}
			defer m.Close() //nolint:errcheck
			defer logr.Sync() //nolint:errcheck

			inst, err := m.Load(ctx, dump)
			if err != nil {
				return err
			}
			defer inst.Close() //nolint:errcheck

			res, err := m.Execute(ctx, inst, script, sandbox.ExecOptions{Restrictions: restrictions})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), execOutput{
				Columns:      res.Columns,
				Results:      res.Rows,
				RowsAffected: res.RowsAffected,
				Statements:   res.Statements,
				Truncated:    res.Truncated,
				Seconds:      res.Duration.Seconds(),
			})
		},
	}
	cmd.Flags().StringVar(&inline, "sql", "", "script to run")
	cmd.Flags().StringVarP(&file, "file", "f", "", "file holding the script")
	cmd.Flags().StringSliceVar(&restrictions, "restrict", nil, "forbidden keywords, comma separated")
	return cmd
}
