package sandbox

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-sql-driver/mysql"
)

// MySQLEngine creates one schema per instance on a shared server.
type MySQLEngine struct {
	admin            *sql.DB
	base             *mysql.Config
	statementTimeout time.Duration
}

func NewMySQLEngine(ctx context.Context, dsn string, statementTimeout time.Duration) (*MySQLEngine, error) {
	base, err := mysql.ParseDSN(strings.TrimPrefix(dsn, "mysql://"))
	if err != nil {
		return nil, errors.Wrapf(err, "error parsing DSN for %q", dsn)
	}
	admin, err := sql.Open("mysql", base.FormatDSN())
	if err != nil {
		return nil, errors.Wrap(err, "open sandbox mysql")
	}
	if err := admin.PingContext(ctx); err != nil {
		_ = admin.Close()
		return nil, errors.Wrap(err, "ping sandbox mysql")
	}
	return &MySQLEngine{admin: admin, base: base, statementTimeout: statementTimeout}, nil
}

func (e *MySQLEngine) Dialect() Dialect { return DialectMySQL }

func (e *MySQLEngine) Close() error { return e.admin.Close() }

func (e *MySQLEngine) Open(ctx context.Context, id string) (Backend, error) {
	name := "sandbox_" + id
	if _, err := e.admin.ExecContext(ctx, "CREATE DATABASE "+quoteBacktick(name)); err != nil {
		return nil, errors.Wrapf(err, "create database %s", name)
	}
	b := &mysqlBackend{admin: e.admin, name: name}

	cfg := e.base.Clone()
	cfg.DBName = name
	cfg.MultiStatements = true
	b.loadDSN = cfg.FormatDSN()

	cfg.MultiStatements = false
	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		_ = b.Close(ctx)
		return nil, errors.Wrap(err, "open instance database")
	}
	db.SetMaxOpenConns(1)
	b.db = db

	conn, err := db.Conn(ctx)
	if err != nil {
		_ = b.Close(ctx)
		return nil, errors.Wrapf(err, "connect database %s", name)
	}
	b.conn = conn

	if e.statementTimeout > 0 {
		ms := (e.statementTimeout + time.Second).Milliseconds()
		if _, err := conn.ExecContext(ctx, fmt.Sprintf("SET SESSION MAX_EXECUTION_TIME = %d", ms)); err != nil {
			_ = b.Close(ctx)
			return nil, errors.Wrap(err, "set statement timeout")
		}
	}
	return b, nil
}

// Classify maps MySQL error numbers onto error kinds.
func (e *MySQLEngine) Classify(err error) ErrorKind {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return ErrorKindRuntime
	}
	switch myErr.Number {
	case 1064, 1149:
		return ErrorKindSyntax
	case 1044, 1045, 1142, 1143, 1227, 1370:
		return ErrorKindForbidden
	case 1317, 3024:
		return ErrorKindTimeout
	}
	return ErrorKindRuntime
}

type mysqlBackend struct {
	admin   *sql.DB
	name    string
	loadDSN string
	db      *sql.DB
	conn    *sql.Conn
}

// Restrict is a no-op: instance connections cannot run more than one
// statement per call and the guard covers the rest.
func (b *mysqlBackend) Restrict(bool) {}

// LoadScript replays the dump on a short lived multi statement connection.
func (b *mysqlBackend) LoadScript(ctx context.Context, script string) error {
	if strings.TrimSpace(script) == "" {
		return nil
	}
	db, err := sql.Open("mysql", b.loadDSN)
	if err != nil {
		return err
	}
	defer db.Close()
	_, err = db.ExecContext(ctx, script)
	return err
}

func (b *mysqlBackend) Exec(ctx context.Context, stmt Statement, maxRows int) (*StatementResult, error) {
	if !stmt.ReturnsRows() {
		res, err := b.conn.ExecContext(ctx, stmt.SQL)
		if err != nil {
			return nil, err
		}
		n, _ := res.RowsAffected()
		return &StatementResult{RowsAffected: n}, nil
	}

	rows, err := b.conn.QueryContext(ctx, stmt.SQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	cols, values, truncated, err := scanAll(rows, maxRows, mysqlConverter(types))
	if err != nil {
		return nil, err
	}
	return &StatementResult{
		Columns:      cols,
		Rows:         values,
		HasResultSet: len(cols) > 0,
		Truncated:    truncated,
	}, nil
}

func (b *mysqlBackend) Tables(ctx context.Context) ([]string, error) {
	rows, err := b.conn.QueryContext(ctx, `SELECT table_name FROM information_schema.tables
WHERE table_schema = database() AND table_type = 'BASE TABLE'
ORDER BY table_name`)
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

func (b *mysqlBackend) Columns(ctx context.Context, table string) ([]Column, error) {
	rows, err := b.conn.QueryContext(ctx, `SELECT
c.column_name, c.column_type, c.is_nullable, COALESCE(k.ordinal_position, 0)
FROM information_schema.columns c
LEFT JOIN information_schema.key_column_usage k
  ON k.table_schema = c.table_schema AND k.table_name = c.table_name
  AND k.column_name = c.column_name AND k.constraint_name = 'PRIMARY'
WHERE c.table_schema = database() AND c.table_name = ?
ORDER BY c.ordinal_position`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			col        Column
			isNullable string
		)
		if err := rows.Scan(&col.Name, &col.Type, &isNullable, &col.PKPosition); err != nil {
			return nil, errors.Wrap(err, "error decoding column metadata")
		}
		col.NotNull = isNullable == "NO"
		col.PrimaryKey = col.PKPosition > 0
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

func (b *mysqlBackend) Rows(ctx context.Context, table string, columns []Column) ([][]Value, error) {
	rows, err := b.conn.QueryContext(ctx, selectAll(table, columns, quoteBacktick))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	_, values, _, err := scanAll(rows, 0, mysqlConverter(types))
	return values, err
}

func (b *mysqlBackend) Close(ctx context.Context) error {
	var errs error
	if b.conn != nil {
		errs = errors.CombineErrors(errs, b.conn.Close())
	}
	if b.db != nil {
		errs = errors.CombineErrors(errs, b.db.Close())
	}
	if _, err := b.admin.ExecContext(ctx, "DROP DATABASE IF EXISTS "+quoteBacktick(b.name)); err != nil {
		errs = errors.CombineErrors(errs, errors.Wrapf(err, "drop database %s", b.name))
	}
	return errs
}

// mysqlConverter decodes text protocol values using the column types, since
// the driver hands every non NULL value over as bytes.
func mysqlConverter(types []*sql.ColumnType) func(int, interface{}) Value {
	return func(col int, raw interface{}) Value {
		b, ok := raw.([]byte)
		if !ok || col >= len(types) {
			return FromDriver(raw)
		}
		s := string(b)
		switch types[col].DatabaseTypeName() {
		case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "BIGINT", "YEAR",
			"UNSIGNED TINYINT", "UNSIGNED SMALLINT", "UNSIGNED MEDIUMINT", "UNSIGNED INT", "UNSIGNED BIGINT":
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return IntValue(n)
			}
			return DecimalValue(s)
		case "DECIMAL":
			return DecimalValue(s)
		case "FLOAT", "DOUBLE":
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return FloatValue(f)
			}
			return TextValue(s)
		case "BIT", "BINARY", "VARBINARY", "TINYBLOB", "BLOB", "MEDIUMBLOB", "LONGBLOB", "GEOMETRY":
			return BytesValue(b)
		default:
			return TextValue(s)
		}
	}
}

func quoteBacktick(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}
