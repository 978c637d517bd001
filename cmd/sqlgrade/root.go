package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/noah-isme/sqlclassroom-api/pkg/config"
	"github.com/noah-isme/sqlclassroom-api/pkg/logger"
	"github.com/noah-isme/sqlclassroom-api/pkg/sandbox"
)

// engineFlags are shared by every subcommand that opens a sandbox.
type engineFlags struct {
	engine        string
	dsn           string
	role          string
	workDir       string
	timeout       time.Duration
	maxStatements int
	maxRows       int
	logLevel      string
}

func (f *engineFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.engine, "engine", config.EngineSQLite, "sandbox engine: sqlite, postgres or mysql")
	fs.StringVar(&f.dsn, "dsn", "", "admin connection string for the postgres and mysql engines")
	fs.StringVar(&f.role, "role", "", "non superuser role that owns postgres instances (password via SANDBOX_POSTGRES_ROLE_PASSWORD)")
	fs.StringVar(&f.workDir, "work-dir", "", "directory for sqlite instance files (default: temporary)")
	fs.DurationVar(&f.timeout, "timeout", 5*time.Second, "per script execution timeout")
	fs.IntVar(&f.maxStatements, "max-statements", 100, "maximum statements per script")
	fs.IntVar(&f.maxRows, "max-rows", 1000, "maximum rows returned by exec")
	fs.StringVar(&f.logLevel, "log-level", "warn", "log level")
}

func (f *engineFlags) sandboxConfig() config.SandboxConfig {
	cfg := config.SandboxConfig{
		Engine:        f.engine,
		WorkDir:       f.workDir,
		Timeout:       f.timeout,
		MaxStatements: f.maxStatements,
		MaxResultRows: f.maxRows,
		MaxInstances:  4,
		AllocRetries:  3,
		AllocBackoff:  200 * time.Millisecond,
	}
	switch f.engine {
	case config.EnginePostgres:
		cfg.PostgresDSN = f.dsn
		cfg.PostgresRole = f.role
		cfg.PostgresRolePassword = os.Getenv("SANDBOX_POSTGRES_ROLE_PASSWORD")
	case config.EngineMySQL:
		cfg.MySQLDSN = f.dsn
	}
	return cfg
}

// open builds a manager for the selected engine. Callers close it.
func (f *engineFlags) open(ctx context.Context) (*sandbox.Manager, *zap.Logger, error) {
	cfg := f.sandboxConfig()
	if err := cfg.Validate(); err != nil {
		return nil, nil, errors.Wrap(err, "invalid engine flags")
	}
	logr, err := logger.Build(config.EnvDevelopment, config.LogConfig{Level: f.logLevel, Format: "console"})
	if err != nil {
		return nil, nil, err
	}
	engine, err := sandbox.NewEngine(ctx, cfg)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open %s engine", cfg.Engine)
	}
	return sandbox.NewManager(engine, sandbox.OptionsFromConfig(cfg, logr, nil)), logr, nil
}

func newRootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "sqlgrade",
		Short:         "Run and grade SQL scripts in disposable sandboxes",
		Long:          `sqlgrade loads SQL dumps into throwaway databases, runs scripts against them and compares the outcome with a reference solution.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	var flags engineFlags
	flags.register(root.PersistentFlags())

	root.AddCommand(checkCommand(&flags))
	root.AddCommand(snapshotCommand(&flags))
	root.AddCommand(execCommand(&flags))
	return root
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readScript(inline, file string) (string, error) {
	switch {
	case inline != "" && file != "":
		return "", errors.New("use either --sql or --file, not both")
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", errors.Wrapf(err, "read %s", file)
		}
		return string(data), nil
	default:
		return inline, nil
	}
}
