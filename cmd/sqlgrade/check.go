package main

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/sqlclassroom-api/pkg/diff"
	"github.com/noah-isme/sqlclassroom-api/pkg/sandbox"
)

var errIncorrect = errors.New("submission incorrect")

// errReference marks failures of the reference outcome. They are never the
// fault of the solution.
var errReference = errors.New("reference outcome failed")

type verdict struct {
	Correct bool        `json:"correct"`
	Details diff.Report `json:"details"`
}

type failure struct {
	Error          string `json:"error"`
	Kind           string `json:"kind"`
	StatementIndex *int   `json:"statement_index,omitempty"`
}

func checkCommand(flags *engineFlags) *cobra.Command {
	var (
		inline string
		file   string
	)
	cmd := &cobra.Command{
		Use:   "check BUNDLE",
		Short: "Grade a solution against a task bundle.",
		Long:  `Check runs the solution and the reference outcome of the bundle in separate sandboxes and prints the table differences. The exit status is 1 when the solution is incorrect.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bundle, err := LoadBundle(args[0])
			if err != nil {
				return err
			}
			solution, err := readScript(inline, file)
			if err != nil {
				return err
			}
			if solution == "" {
				return errors.New("a solution is required (--sql or --file)")
			}

			ctx := cmd.Context()
			m, logr, err := flags.open(ctx)
			if err != nil {
				return err
			}
			defer m.Close() //nolint:errcheck
			defer logr.Sync() //nolint:errcheck

			report, err := grade(ctx, m, bundle, solution)
			if err != nil {
				var se *sandbox.Error
				if errors.As(err, &se) && se.StudentFacing() && !errors.Is(err, errReference) {
					f := failure{Error: se.Error(), Kind: string(se.Kind)}
					if se.Statement >= 0 {
						f.StatementIndex = &se.Statement
					}
					if werr := writeJSON(cmd.OutOrStdout(), f); werr != nil {
						return werr
					}
					return errIncorrect
				}
				logr.Error("grading failed", zap.String("bundle", args[0]), zap.Error(err))
				return err
			}

			if err := writeJSON(cmd.OutOrStdout(), verdict{Correct: report.Correct(), Details: report}); err != nil {
				return err
			}
			if !report.Correct() {
				return errIncorrect
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&inline, "sql", "", "solution script")
	cmd.Flags().StringVarP(&file, "file", "f", "", "file holding the solution script")
	return cmd
}

// grade builds the student and reference databases concurrently and diffs
// them.
func grade(ctx context.Context, m *sandbox.Manager, b *Bundle, solution string) (diff.Report, error) {
	original, err := b.OriginalDump()
	if err != nil {
		return nil, err
	}
	etalonDump, err := b.EtalonDump()
	if err != nil {
		return nil, err
	}

	var student, etalon *sandbox.Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		student, err = run(gctx, m, original, solution, sandbox.ExecOptions{Restrictions: b.Restrictions})
		return err
	})
	g.Go(func() error {
		var err error
		if etalonDump != nil {
			etalon, err = run(gctx, m, etalonDump, "", sandbox.ExecOptions{Trusted: true})
		} else {
			etalon, err = run(gctx, m, original, b.EtalonScript, sandbox.ExecOptions{Trusted: true})
		}
		if err != nil {
			return errors.Mark(errors.Wrap(err, "reference outcome"), errReference)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var opts []diff.Option
	if b.IgnoreRowOrder {
		opts = append(opts, diff.WithIgnoreRowOrder())
	}
	if b.StrictSchema {
		opts = append(opts, diff.WithStrictSchema())
	}
	return diff.Compare(student, etalon, opts...)
}

func run(ctx context.Context, m *sandbox.Manager, dump []byte, script string, eo sandbox.ExecOptions) (*sandbox.Snapshot, error) {
	inst, err := m.Load(ctx, dump)
	if err != nil {
		return nil, err
	}
	defer inst.Close() //nolint:errcheck

	if script != "" {
		if _, err := m.Execute(ctx, inst, script, eo); err != nil {
			return nil, err
		}
	}
	return m.Snapshot(ctx, inst)
}
