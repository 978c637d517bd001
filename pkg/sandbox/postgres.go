package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresOptions configure the PostgreSQL engine.
type PostgresOptions struct {
	// DSN belongs to the admin role that creates and drops instance
	// databases. It must be a member of Role.
	DSN string
	// Role owns every instance database and runs all instance sessions. It
	// must not be a superuser.
	Role         string
	RolePassword string
	// StatementTimeout is applied server side as a backstop.
	StatementTimeout time.Duration
}

// PostgresEngine creates one database per instance on a shared server.
type PostgresEngine struct {
	admin            *pgxpool.Pool
	base             *pgx.ConnConfig
	role             string
	rolePassword     string
	statementTimeout time.Duration
}

func NewPostgresEngine(ctx context.Context, opts PostgresOptions) (*PostgresEngine, error) {
	if opts.Role == "" {
		return nil, errors.New("sandbox postgres role is required")
	}
	base, err := pgx.ParseConfig(opts.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "parse sandbox postgres dsn")
	}
	admin, err := pgxpool.New(ctx, opts.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "connect sandbox postgres")
	}
	if err := admin.Ping(ctx); err != nil {
		admin.Close()
		return nil, errors.Wrap(err, "ping sandbox postgres")
	}
	var super bool
	if err := admin.QueryRow(ctx, "SELECT rolsuper FROM pg_roles WHERE rolname = $1", opts.Role).Scan(&super); err != nil {
		admin.Close()
		return nil, errors.Wrapf(err, "look up sandbox role %s", opts.Role)
	}
	if super {
		admin.Close()
		return nil, errors.Newf("sandbox role %s must not be a superuser", opts.Role)
	}
	return &PostgresEngine{
		admin:            admin,
		base:             base,
		role:             opts.Role,
		rolePassword:     opts.RolePassword,
		statementTimeout: opts.StatementTimeout,
	}, nil
}

func (e *PostgresEngine) Dialect() Dialect { return DialectPostgres }

func (e *PostgresEngine) Close() error {
	e.admin.Close()
	return nil
}

// instanceSetup returns the admin statements that create an instance
// database owned by role and closed to every other non superuser role.
func instanceSetup(name, role string) []string {
	db := pgx.Identifier{name}.Sanitize()
	owner := pgx.Identifier{role}.Sanitize()
	return []string{
		"CREATE DATABASE " + db + " TEMPLATE template0 OWNER " + owner,
		"REVOKE ALL ON DATABASE " + db + " FROM PUBLIC",
		"GRANT CONNECT, TEMPORARY ON DATABASE " + db + " TO " + owner,
	}
}

// instanceConfig connects to the instance database as the sandbox role.
func instanceConfig(base *pgx.ConnConfig, name, role, password string) *pgx.ConnConfig {
	cfg := base.Copy()
	cfg.Database = name
	cfg.User = role
	cfg.Password = password
	return cfg
}

func (e *PostgresEngine) Open(ctx context.Context, id string) (Backend, error) {
	name := "sandbox_" + id
	b := &postgresBackend{admin: e.admin, name: name}
	for i, stmt := range instanceSetup(name, e.role) {
		if _, err := e.admin.Exec(ctx, stmt); err != nil {
			if i > 0 {
				_ = b.Close(ctx)
			}
			return nil, errors.Wrapf(err, "prepare database %s", name)
		}
	}

	conn, err := pgx.ConnectConfig(ctx, instanceConfig(e.base, name, e.role, e.rolePassword))
	if err != nil {
		_ = b.Close(ctx)
		return nil, errors.Wrapf(err, "connect database %s", name)
	}
	b.conn = conn

	if e.statementTimeout > 0 {
		// Server side backstop; the client deadline normally fires first.
		ms := (e.statementTimeout + time.Second).Milliseconds()
		if _, err := conn.Exec(ctx, fmt.Sprintf("SET statement_timeout = %d", ms)); err != nil {
			_ = b.Close(ctx)
			return nil, errors.Wrap(err, "set statement timeout")
		}
	}
	return b, nil
}

// Classify maps SQLSTATE codes onto error kinds.
func (e *PostgresEngine) Classify(err error) ErrorKind {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return ErrorKindRuntime
	}
	switch pgErr.Code {
	case "42601":
		return ErrorKindSyntax
	case "42501":
		return ErrorKindForbidden
	case "57014":
		return ErrorKindTimeout
	}
	return ErrorKindRuntime
}

type postgresBackend struct {
	admin *pgxpool.Pool
	name  string
	conn  *pgx.Conn
}

// Restrict is a no-op. Instance sessions run as the sandbox role, which only
// owns its instance database; the guard rejects DO blocks and untrusted
// languages for student scripts.
func (b *postgresBackend) Restrict(bool) {}

// LoadScript sends the dump over the simple query protocol, which accepts
// many statements at once. COPY ... FROM stdin blocks are not supported.
func (b *postgresBackend) LoadScript(ctx context.Context, script string) error {
	_, err := b.conn.Exec(ctx, script)
	return err
}

func (b *postgresBackend) Exec(ctx context.Context, stmt Statement, maxRows int) (*StatementResult, error) {
	rows, err := b.conn.Query(ctx, stmt.SQL, pgx.QueryExecModeSimpleProtocol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	res := &StatementResult{HasResultSet: len(fields) > 0, Rows: make([][]Value, 0)}
	for _, f := range fields {
		res.Columns = append(res.Columns, f.Name)
	}
	for rows.Next() {
		if maxRows > 0 && len(res.Rows) >= maxRows {
			res.Truncated = true
			break
		}
		raw, err := rows.Values()
		if err != nil {
			return nil, err
		}
		res.Rows = append(res.Rows, pgRow(fields, raw))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if tag := rows.CommandTag(); !tag.Select() {
		res.RowsAffected = tag.RowsAffected()
	}
	return res, nil
}

func (b *postgresBackend) Tables(ctx context.Context) ([]string, error) {
	rows, err := b.conn.Query(ctx, `SELECT pg_class.relname
FROM pg_class
JOIN pg_namespace ON (pg_class.relnamespace = pg_namespace.oid)
WHERE relkind IN ('r', 'p') AND pg_namespace.nspname = current_schema()
ORDER BY pg_class.relname`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "error decoding table name")
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (b *postgresBackend) Columns(ctx context.Context, table string) ([]Column, error) {
	rows, err := b.conn.Query(ctx, `SELECT
    a.attname,
    format_type(a.atttypid, a.atttypmod),
    a.attnotnull,
    COALESCE(array_position(ix.indkey::int2[], a.attnum), 0)
FROM pg_attribute a
LEFT JOIN pg_index ix ON ix.indrelid = a.attrelid AND ix.indisprimary
WHERE a.attrelid = $1::regclass AND a.attnum > 0 AND NOT a.attisdropped
ORDER BY a.attnum`, pgx.Identifier{table}.Sanitize())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			col Column
			pos int32
		)
		if err := rows.Scan(&col.Name, &col.Type, &col.NotNull, &pos); err != nil {
			return nil, errors.Wrap(err, "error decoding column metadata")
		}
		col.PKPosition = int(pos)
		col.PrimaryKey = pos > 0
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

func (b *postgresBackend) Rows(ctx context.Context, table string, columns []Column) ([][]Value, error) {
	quote := func(s string) string { return pgx.Identifier{s}.Sanitize() }
	rows, err := b.conn.Query(ctx, selectAll(table, columns, quote))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	out := make([][]Value, 0)
	for rows.Next() {
		raw, err := rows.Values()
		if err != nil {
			return nil, err
		}
		out = append(out, pgRow(fields, raw))
	}
	return out, rows.Err()
}

// Close drops the instance database after terminating any session still
// attached to it.
func (b *postgresBackend) Close(ctx context.Context) error {
	var errs error
	if b.conn != nil {
		errs = errors.CombineErrors(errs, b.conn.Close(ctx))
	}
	if _, err := b.admin.Exec(ctx,
		`SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1 AND pid <> pg_backend_pid()`,
		b.name,
	); err != nil {
		errs = errors.CombineErrors(errs, err)
	}
	if _, err := b.admin.Exec(ctx, "DROP DATABASE IF EXISTS "+pgx.Identifier{b.name}.Sanitize()); err != nil {
		errs = errors.CombineErrors(errs, errors.Wrapf(err, "drop database %s", b.name))
	}
	return errs
}

func pgRow(fields []pgconn.FieldDescription, raw []interface{}) []Value {
	row := make([]Value, len(raw))
	for i, v := range raw {
		if i < len(fields) && fields[i].DataTypeOID == pgtype.NumericOID && v != nil {
			if n, ok := v.(pgtype.Numeric); ok {
				if lit, err := n.Value(); err == nil && lit != nil {
					row[i] = DecimalValue(fmt.Sprint(lit))
					continue
				}
			}
		}
		row[i] = FromDriver(v)
	}
	return row
}
