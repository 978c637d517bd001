package sandbox

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/noah-isme/sqlclassroom-api/pkg/config"
	"github.com/noah-isme/sqlclassroom-api/pkg/retry"
)

// NewEngine opens the engine selected by cfg.Engine. SQLite is the default.
func NewEngine(ctx context.Context, cfg config.SandboxConfig) (Engine, error) {
	switch cfg.Engine {
	case config.EngineSQLite, "":
		return NewSQLiteEngine(SQLiteOptions{Dir: cfg.WorkDir})
	case config.EnginePostgres:
		return NewPostgresEngine(ctx, PostgresOptions{
			DSN:              cfg.PostgresDSN,
			Role:             cfg.PostgresRole,
			RolePassword:     cfg.PostgresRolePassword,
			StatementTimeout: cfg.Timeout,
		})
	case config.EngineMySQL:
		return NewMySQLEngine(ctx, cfg.MySQLDSN, cfg.Timeout)
	default:
		return nil, errors.Newf("unknown sandbox engine %q", cfg.Engine)
	}
}

// OptionsFromConfig maps the sandbox section of the service config.
func OptionsFromConfig(cfg config.SandboxConfig, logger *zap.Logger, observer Observer) Options {
	return Options{
		Timeout:        cfg.Timeout,
		MaxStatements:  cfg.MaxStatements,
		MaxScriptBytes: cfg.MaxScriptBytes,
		MaxResultRows:  cfg.MaxResultRows,
		MaxInstances:   cfg.MaxInstances,
		Alloc: retry.Settings{
			InitialBackoff: cfg.AllocBackoff,
			Multiplier:     2,
			MaxBackoff:     10 * cfg.AllocBackoff,
			MaxRetries:     cfg.AllocRetries,
		},
		Logger:   logger,
		Observer: observer,
	}
}
