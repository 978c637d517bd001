package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Env:  EnvDevelopment,
		Port: 8080,
		Database: DatabaseConfig{
			Host: "localhost",
			Port: 5432,
			User: "postgres",
			Name: "sql_classroom",
		},
		Sandbox: SandboxConfig{
			Engine:        EngineSQLite,
			Timeout:       5 * time.Second,
			MaxStatements: 100,
			MaxInstances:  4,
		},
		Dumps: DumpsConfig{
			Store:          StoreLocal,
			MaxUploadBytes: 1024,
		},
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateRejectsUnknownEngine(t *testing.T) {
	cfg := validConfig()
	cfg.Sandbox.Engine = "oracle"
	require.Error(t, cfg.Validate())
}

func TestValidateRequiresEngineDSN(t *testing.T) {
	cfg := validConfig()
	cfg.Sandbox.Engine = EnginePostgres
	require.Error(t, cfg.Validate())

	cfg.Sandbox.PostgresDSN = "postgres://sandbox@localhost:5432/postgres"
	require.Error(t, cfg.Validate())

	cfg.Sandbox.PostgresRole = "sandbox_student"
	require.NoError(t, cfg.Validate())
}

func TestValidateRequiresBucketForRemoteStores(t *testing.T) {
	cfg := validConfig()
	cfg.Dumps.Store = StoreS3
	require.Error(t, cfg.Validate())

	cfg.Dumps.Bucket = "classroom-dumps"
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsTinyTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.Sandbox.Timeout = time.Millisecond
	require.Error(t, cfg.Validate())
}

func TestParseDurationFallback(t *testing.T) {
	require.Equal(t, 3*time.Second, parseDuration("", 3*time.Second))
	require.Equal(t, 3*time.Second, parseDuration("soon", 3*time.Second))
	require.Equal(t, 250*time.Millisecond, parseDuration("250ms", time.Second))
}

func TestSplitAndTrim(t *testing.T) {
	require.Nil(t, splitAndTrim(""))
	require.Equal(t, []string{"a", "b"}, splitAndTrim(" a, ,b "))
}
