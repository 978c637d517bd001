package config

import (
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v3"
	"github.com/go-ozzo/ozzo-validation/v3/is"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Sandbox engine names.
const (
	EngineSQLite   = "sqlite"
	EnginePostgres = "postgres"
	EngineMySQL    = "mysql"
)

// Dump store backends.
const (
	StoreLocal = "local"
	StoreS3    = "s3"
	StoreGCS   = "gcs"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Auth       AuthConfig
	CORS       CORSConfig
	Log        LogConfig
	Sandbox    SandboxConfig
	Dumps      DumpsConfig
	Evaluation EvaluationConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience []string
}

// AuthConfig toggles bearer token enforcement on evaluation routes. When
// disabled, callers without a token are identified by their session id.
// Teacher routes always require a token.
type AuthConfig struct {
	Enabled bool
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// SandboxConfig controls how disposable evaluation databases are created.
type SandboxConfig struct {
	Engine         string
	WorkDir        string
	PostgresDSN    string
	MySQLDSN       string
	Timeout        time.Duration
	MaxStatements  int
	MaxScriptBytes int
	MaxResultRows  int
	MaxInstances   int64
	AllocRetries   int
	AllocBackoff   time.Duration

	// PostgresRole owns the instance databases and runs student sessions.
	// It must not be a superuser and the DSN role needs membership in it.
	PostgresRole         string
	PostgresRolePassword string
}

// DumpsConfig selects where uploaded SQL dumps are stored.
type DumpsConfig struct {
	Store           string
	LocalDir        string
	Bucket          string
	Prefix          string
	Region          string
	MaxUploadBytes  int64
	SignedURLSecret string
	SignedURLTTL    time.Duration
}

// EvaluationConfig tunes the submission orchestrator.
type EvaluationConfig struct {
	SessionTTL      time.Duration
	EtalonCacheTTL  time.Duration
	RateLimit       float64
	RateBurst       int
	RecorderWorkers int
	RecorderRetries int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:   v.GetString("JWT_SECRET"),
		Issuer:   v.GetString("JWT_ISSUER"),
		Audience: splitAndTrim(v.GetString("JWT_AUDIENCE")),
	}
	cfg.Auth = AuthConfig{Enabled: v.GetBool("AUTH_ENABLED")}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Sandbox = SandboxConfig{
		Engine:         strings.ToLower(v.GetString("SANDBOX_ENGINE")),
		WorkDir:        v.GetString("SANDBOX_WORK_DIR"),
		PostgresDSN:    v.GetString("SANDBOX_POSTGRES_DSN"),
		MySQLDSN:       v.GetString("SANDBOX_MYSQL_DSN"),
		Timeout:        parseDuration(v.GetString("SANDBOX_TIMEOUT"), 5*time.Second),
		MaxStatements:  v.GetInt("SANDBOX_MAX_STATEMENTS"),
		MaxScriptBytes: v.GetInt("SANDBOX_MAX_SCRIPT_BYTES"),
		MaxResultRows:  v.GetInt("SANDBOX_MAX_RESULT_ROWS"),
		MaxInstances:   v.GetInt64("SANDBOX_MAX_INSTANCES"),
		AllocRetries:   v.GetInt("SANDBOX_ALLOC_RETRIES"),
		AllocBackoff:   parseDuration(v.GetString("SANDBOX_ALLOC_BACKOFF"), 200*time.Millisecond),

		PostgresRole:         v.GetString("SANDBOX_POSTGRES_ROLE"),
		PostgresRolePassword: v.GetString("SANDBOX_POSTGRES_ROLE_PASSWORD"),
	}

	cfg.Dumps = DumpsConfig{
		Store:           strings.ToLower(v.GetString("DUMP_STORE")),
		LocalDir:        v.GetString("DUMP_LOCAL_DIR"),
		Bucket:          v.GetString("DUMP_BUCKET"),
		Prefix:          v.GetString("DUMP_PREFIX"),
		Region:          v.GetString("DUMP_REGION"),
		MaxUploadBytes:  v.GetInt64("DUMP_MAX_UPLOAD_BYTES"),
		SignedURLSecret: v.GetString("DUMP_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("DUMP_SIGNED_URL_TTL"), 15*time.Minute),
	}

	cfg.Evaluation = EvaluationConfig{
		SessionTTL:      parseDuration(v.GetString("EVAL_SESSION_TTL"), 30*time.Minute),
		EtalonCacheTTL:  parseDuration(v.GetString("EVAL_ETALON_CACHE_TTL"), time.Hour),
		RateLimit:       v.GetFloat64("EVAL_RATE_LIMIT"),
		RateBurst:       v.GetInt("EVAL_RATE_BURST"),
		RecorderWorkers: v.GetInt("EVAL_RECORDER_WORKERS"),
		RecorderRetries: v.GetInt("EVAL_RECORDER_RETRIES"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that defaults cannot guarantee.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Env, validation.Required, validation.In(EnvDevelopment, EnvProduction)),
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	); err != nil {
		return err
	}
	if err := c.Database.Validate(); err != nil {
		return err
	}
	if err := c.Sandbox.Validate(); err != nil {
		return err
	}
	return c.Dumps.Validate()
}

// Validate checks the metadata database settings.
func (c DatabaseConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Host, validation.Required, is.Host),
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.User, validation.Required),
		validation.Field(&c.Name, validation.Required),
	)
}

// Validate checks the sandbox engine selection and quotas.
func (c SandboxConfig) Validate() error {
	if err := validation.ValidateStruct(&c,
		validation.Field(&c.Engine, validation.Required, validation.In(EngineSQLite, EnginePostgres, EngineMySQL)),
		validation.Field(&c.Timeout, validation.Required, validation.Min(100*time.Millisecond)),
		validation.Field(&c.MaxStatements, validation.Min(1)),
		validation.Field(&c.MaxInstances, validation.Min(int64(1))),
	); err != nil {
		return err
	}
	switch c.Engine {
	case EnginePostgres:
		return validation.ValidateStruct(&c,
			validation.Field(&c.PostgresDSN, validation.Required),
			validation.Field(&c.PostgresRole, validation.Required),
		)
	case EngineMySQL:
		return validation.ValidateStruct(&c, validation.Field(&c.MySQLDSN, validation.Required))
	}
	return nil
}

// Validate checks the dump store selection.
func (c DumpsConfig) Validate() error {
	if err := validation.ValidateStruct(&c,
		validation.Field(&c.Store, validation.Required, validation.In(StoreLocal, StoreS3, StoreGCS)),
		validation.Field(&c.MaxUploadBytes, validation.Min(int64(1))),
	); err != nil {
		return err
	}
	if c.Store != StoreLocal {
		return validation.ValidateStruct(&c, validation.Field(&c.Bucket, validation.Required))
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "sql_classroom")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("JWT_AUDIENCE", "")
	v.SetDefault("AUTH_ENABLED", true)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SANDBOX_ENGINE", EngineSQLite)
	v.SetDefault("SANDBOX_WORK_DIR", "")
	v.SetDefault("SANDBOX_POSTGRES_DSN", "")
	v.SetDefault("SANDBOX_POSTGRES_ROLE", "")
	v.SetDefault("SANDBOX_POSTGRES_ROLE_PASSWORD", "")
	v.SetDefault("SANDBOX_MYSQL_DSN", "")
	v.SetDefault("SANDBOX_TIMEOUT", "5s")
	v.SetDefault("SANDBOX_MAX_STATEMENTS", 100)
	v.SetDefault("SANDBOX_MAX_SCRIPT_BYTES", 64*1024)
	v.SetDefault("SANDBOX_MAX_RESULT_ROWS", 1000)
	v.SetDefault("SANDBOX_MAX_INSTANCES", 16)
	v.SetDefault("SANDBOX_ALLOC_RETRIES", 3)
	v.SetDefault("SANDBOX_ALLOC_BACKOFF", "200ms")

	v.SetDefault("DUMP_STORE", StoreLocal)
	v.SetDefault("DUMP_LOCAL_DIR", "./dumps")
	v.SetDefault("DUMP_BUCKET", "")
	v.SetDefault("DUMP_PREFIX", "teacher-databases")
	v.SetDefault("DUMP_REGION", "us-east-1")
	v.SetDefault("DUMP_MAX_UPLOAD_BYTES", 20*1024*1024)
	v.SetDefault("DUMP_SIGNED_URL_SECRET", "dev_dumps_secret")
	v.SetDefault("DUMP_SIGNED_URL_TTL", "15m")

	v.SetDefault("EVAL_SESSION_TTL", "30m")
	v.SetDefault("EVAL_ETALON_CACHE_TTL", "1h")
	v.SetDefault("EVAL_RATE_LIMIT", 2.0)
	v.SetDefault("EVAL_RATE_BURST", 5)
	v.SetDefault("EVAL_RECORDER_WORKERS", 2)
	v.SetDefault("EVAL_RECORDER_RETRIES", 3)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// viper reports a missing explicit config file as a *fs.PathError rather than
// ConfigFileNotFoundError.
func isMissingFile(err error) bool {
	return strings.Contains(err.Error(), "no such file or directory")
}
