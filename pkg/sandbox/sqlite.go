package sandbox

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/mattn/go-sqlite3"
)

// Authorizer action and result codes from sqlite3.h.
const (
	sqliteAuthOK   = 0
	sqliteAuthDeny = 1

	sqliteActionPragma   = 19
	sqliteActionAttach   = 24
	sqliteActionDetach   = 25
	sqliteActionFunction = 31
)

var sqliteDeniedFunctions = map[string]struct{}{
	"load_extension": {},
	"readfile":       {},
	"writefile":      {},
	"edit":           {},
	"fts3_tokenizer": {},
}

// SQLiteOptions configure the SQLite engine.
type SQLiteOptions struct {
	// Dir holds one sub directory per instance. A temporary directory is
	// created and removed on Close when empty.
	Dir string
	// MaxPages caps the database file size in pages. Zero means unlimited.
	MaxPages int
}

// SQLiteEngine backs every instance with a private database file.
type SQLiteEngine struct {
	dir      string
	ownsDir  bool
	maxPages int
}

func NewSQLiteEngine(opts SQLiteOptions) (*SQLiteEngine, error) {
	e := &SQLiteEngine{dir: opts.Dir, maxPages: opts.MaxPages}
	if e.dir == "" {
		dir, err := os.MkdirTemp("", "sqlclassroom-sandbox-")
		if err != nil {
			return nil, errors.Wrap(err, "create sandbox work dir")
		}
		e.dir = dir
		e.ownsDir = true
	} else if err := os.MkdirAll(e.dir, 0o700); err != nil {
		return nil, errors.Wrap(err, "create sandbox work dir")
	}
	return e, nil
}

func (e *SQLiteEngine) Dialect() Dialect { return DialectSQLite }

func (e *SQLiteEngine) Close() error {
	if e.ownsDir {
		return os.RemoveAll(e.dir)
	}
	return nil
}

func (e *SQLiteEngine) Open(ctx context.Context, id string) (Backend, error) {
	dir := filepath.Join(e.dir, id)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrap(err, "create instance dir")
	}
	b := &sqliteBackend{dir: dir}

	dsn := "file:" + filepath.ToSlash(filepath.Join(dir, "sandbox.db")) + "?" + url.Values{
		"_foreign_keys": {"on"},
		"_busy_timeout": {"1000"},
	}.Encode()
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, errors.Wrap(err, "open sqlite")
	}
	db.SetMaxOpenConns(1)
	b.db = db

	conn, err := db.Conn(ctx)
	if err != nil {
		_ = b.Close(ctx)
		return nil, errors.Wrap(err, "connect sqlite")
	}
	b.conn = conn

	pragmas := []string{"PRAGMA journal_mode = MEMORY", "PRAGMA trusted_schema = OFF"}
	if e.maxPages > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA max_page_count = %d", e.maxPages))
	}
	for _, p := range pragmas {
		if _, err := conn.ExecContext(ctx, p); err != nil {
			_ = b.Close(ctx)
			return nil, errors.Wrapf(err, "apply %q", p)
		}
	}

	err = conn.Raw(func(driverConn interface{}) error {
		sc, ok := driverConn.(*sqlite3.SQLiteConn)
		if !ok {
			return errors.Newf("unexpected sqlite driver connection %T", driverConn)
		}
		sc.RegisterAuthorizer(b.authorize)
		return nil
	})
	if err != nil {
		_ = b.Close(ctx)
		return nil, err
	}
	return b, nil
}

// Classify maps go-sqlite3 errors onto error kinds.
func (e *SQLiteEngine) Classify(err error) ErrorKind {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return ErrorKindRuntime
	}
	switch se.Code {
	case sqlite3.ErrAuth:
		return ErrorKindForbidden
	case sqlite3.ErrInterrupt:
		return ErrorKindTimeout
	}
	msg := strings.ToLower(se.Error())
	switch {
	case strings.Contains(msg, "not authorized"):
		return ErrorKindForbidden
	case strings.Contains(msg, "syntax error"),
		strings.Contains(msg, "incomplete input"),
		strings.Contains(msg, "unrecognized token"):
		return ErrorKindSyntax
	}
	return ErrorKindRuntime
}

type sqliteBackend struct {
	dir        string
	db         *sql.DB
	conn       *sql.Conn
	restricted atomic.Bool
}

func (b *sqliteBackend) authorize(action int, arg1, arg2, _ string) int {
	if !b.restricted.Load() {
		return sqliteAuthOK
	}
	switch action {
	case sqliteActionAttach, sqliteActionDetach:
		return sqliteAuthDeny
	case sqliteActionPragma:
		// Listed pragmas only read, whatever their argument; the guard
		// rejects the assignment form before it gets here.
		if _, ok := sqlitePragmas[strings.ToUpper(arg1)]; ok {
			return sqliteAuthOK
		}
		return sqliteAuthDeny
	case sqliteActionFunction:
		if _, denied := sqliteDeniedFunctions[strings.ToLower(arg2)]; denied {
			return sqliteAuthDeny
		}
	}
	return sqliteAuthOK
}

func (b *sqliteBackend) Restrict(on bool) { b.restricted.Store(on) }

func (b *sqliteBackend) LoadScript(ctx context.Context, script string) error {
	if strings.TrimSpace(script) == "" {
		return nil
	}
	_, err := b.conn.ExecContext(ctx, script)
	return err
}

func (b *sqliteBackend) Exec(ctx context.Context, stmt Statement, maxRows int) (*StatementResult, error) {
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
	cols, values, truncated, err := scanAll(rows, maxRows, nil)
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

func (b *sqliteBackend) Tables(ctx context.Context) ([]string, error) {
	rows, err := b.conn.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite\_%' ESCAPE '\' ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (b *sqliteBackend) Columns(ctx context.Context, table string) ([]Column, error) {
	rows, err := b.conn.QueryContext(ctx, "PRAGMA table_info("+quoteDouble(table)+")")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			cid     int
			col     Column
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &col.Name, &col.Type, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		col.NotNull = notNull != 0
		col.PrimaryKey = pk > 0
		col.PKPosition = pk
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

func (b *sqliteBackend) Rows(ctx context.Context, table string, columns []Column) ([][]Value, error) {
	rows, err := b.conn.QueryContext(ctx, selectAll(table, columns, quoteDouble))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	_, values, _, err := scanAll(rows, 0, nil)
	return values, err
}

func (b *sqliteBackend) Close(ctx context.Context) error {
	var errs error
	if b.conn != nil {
		errs = errors.CombineErrors(errs, b.conn.Close())
	}
	if b.db != nil {
		errs = errors.CombineErrors(errs, b.db.Close())
	}
	if err := os.RemoveAll(b.dir); err != nil {
		errs = errors.CombineErrors(errs, err)
	}
	return errs
}

// selectAll builds the row query used by snapshots: every column in
// declaration order, sorted by primary key when the table has one.
func selectAll(table string, columns []Column, quote func(string) string) string {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	if len(columns) == 0 {
		sb.WriteString("*")
	}
	for i, c := range columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(quote(c.Name))
	}
	sb.WriteString(" FROM ")
	sb.WriteString(quote(table))
	if pk := primaryKey(columns); len(pk) > 0 {
		sb.WriteString(" ORDER BY ")
		for i, c := range pk {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(quote(c.Name))
		}
	}
	return sb.String()
}

// scanAll drains rows into values. convert overrides FromDriver per column.
func scanAll(rows *sql.Rows, maxRows int, convert func(col int, raw interface{}) Value) ([]string, [][]Value, bool, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, false, err
	}
	values := make([][]Value, 0)
	truncated := false
	raw := make([]interface{}, len(cols))
	dest := make([]interface{}, len(cols))
	for i := range raw {
		dest[i] = &raw[i]
	}
	for rows.Next() {
		if maxRows > 0 && len(values) >= maxRows {
			truncated = true
			break
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, nil, false, err
		}
		row := make([]Value, len(cols))
		for i, v := range raw {
			if convert != nil {
				row[i] = convert(i, v)
			} else {
				row[i] = FromDriver(v)
			}
		}
		values = append(values, row)
	}
	return cols, values, truncated, rows.Err()
}

func quoteDouble(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
