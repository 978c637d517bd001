package sandbox

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func newMockMySQLBackend(t *testing.T) (*mysqlBackend, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	conn, err := db.Conn(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &mysqlBackend{conn: conn}, mock
}

func TestMySQLIntrospection(t *testing.T) {
	b, mock := newMockMySQLBackend(t)
	ctx := context.Background()

	mock.ExpectQuery("FROM information_schema.tables").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("people"))
	mock.ExpectQuery("FROM information_schema.columns c").
		WithArgs("people").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "column_type", "is_nullable", "pk"}).
			AddRow("id", "int", "NO", 1).
			AddRow("name", "varchar(40)", "YES", 0))

	tables, err := b.Tables(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"people"}, tables)

	cols, err := b.Columns(ctx, "people")
	require.NoError(t, err)
	require.Equal(t, []Column{
		{Name: "id", Type: "int", NotNull: true, PrimaryKey: true, PKPosition: 1},
		{Name: "name", Type: "varchar(40)"},
	}, cols)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLRowsDecodeTextProtocol(t *testing.T) {
	b, mock := newMockMySQLBackend(t)
	cols := []Column{
		{Name: "id", PrimaryKey: true, PKPosition: 1},
		{Name: "price"},
		{Name: "ratio"},
		{Name: "name"},
		{Name: "blob"},
	}
	rows := mock.NewRowsWithColumnDefinition(
		mock.NewColumn("id").OfType("INT", int64(0)),
		mock.NewColumn("price").OfType("DECIMAL", ""),
		mock.NewColumn("ratio").OfType("DOUBLE", float64(0)),
		mock.NewColumn("name").OfType("VARCHAR", ""),
		mock.NewColumn("blob").OfType("BLOB", []byte(nil)),
	).AddRow([]byte("1"), []byte("10.50"), []byte("0.25"), []byte("John"), []byte{0xff}).
		AddRow([]byte("2"), nil, []byte("1"), []byte("Jane"), nil)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id`, `price`, `ratio`, `name`, `blob` FROM `people` ORDER BY `id`")).
		WillReturnRows(rows)

	values, err := b.Rows(context.Background(), "people", cols)
	require.NoError(t, err)
	require.Equal(t, [][]Value{
		{IntValue(1), DecimalValue("10.50"), FloatValue(0.25), TextValue("John"), BytesValue([]byte{0xff})},
		{IntValue(2), NullValue(), FloatValue(1), TextValue("Jane"), NullValue()},
	}, values)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLExecReportsAffectedRows(t *testing.T) {
	b, mock := newMockMySQLBackend(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE people SET name = 'X'")).
		WillReturnResult(sqlmock.NewResult(0, 2))

	res, err := b.Exec(context.Background(), Split(DialectMySQL, "UPDATE people SET name = 'X';")[0], 0)
	require.NoError(t, err)
	require.Equal(t, int64(2), res.RowsAffected)
	require.False(t, res.HasResultSet)
}

func TestServerEngineClassify(t *testing.T) {
	my := &MySQLEngine{}
	require.Equal(t, ErrorKindSyntax, my.Classify(&mysql.MySQLError{Number: 1064, Message: "You have an error in your SQL syntax"}))
	require.Equal(t, ErrorKindForbidden, my.Classify(&mysql.MySQLError{Number: 1142}))
	require.Equal(t, ErrorKindTimeout, my.Classify(&mysql.MySQLError{Number: 3024}))
	require.Equal(t, ErrorKindRuntime, my.Classify(&mysql.MySQLError{Number: 1062}))

	pg := &PostgresEngine{}
	require.Equal(t, ErrorKindSyntax, pg.Classify(&pgconn.PgError{Code: "42601"}))
	require.Equal(t, ErrorKindForbidden, pg.Classify(&pgconn.PgError{Code: "42501"}))
	require.Equal(t, ErrorKindTimeout, pg.Classify(&pgconn.PgError{Code: "57014"}))
	require.Equal(t, ErrorKindRuntime, pg.Classify(&pgconn.PgError{Code: "23505"}))
}

func TestSelectAllQuoting(t *testing.T) {
	cols := []Column{{Name: "b", PrimaryKey: true, PKPosition: 2}, {Name: `we"ird`}, {Name: "a", PrimaryKey: true, PKPosition: 1}}
	require.Equal(t, `SELECT "b", "we""ird", "a" FROM "t" ORDER BY "a", "b"`, selectAll("t", cols, quoteDouble))
	require.Equal(t, "SELECT * FROM `t`", selectAll("t", nil, quoteBacktick))
}
