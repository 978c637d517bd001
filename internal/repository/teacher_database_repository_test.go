package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sqlclassroom-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

var teacherDatabaseRowColumns = []string{"id", "name", "teacher_id", "storage_key", "checksum", "size_bytes", "uploaded_at"}

func TestTeacherDatabaseRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewTeacherDatabaseRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO teacher_databases")).
		WithArgs(sqlmock.AnyArg(), "shop", "teacher-1", "teacher-1/x.sql", "abc", int64(42), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	dump := &models.TeacherDatabase{Name: "shop", TeacherID: "teacher-1", StorageKey: "teacher-1/x.sql", Checksum: "abc", SizeBytes: 42}
	require.NoError(t, repo.Create(context.Background(), dump))
	require.NotEmpty(t, dump.ID)
	require.False(t, dump.UploadedAt.IsZero())

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, teacher_id, storage_key, checksum, size_bytes, uploaded_at FROM teacher_databases WHERE id = $1")).
		WithArgs(dump.ID).
		WillReturnRows(sqlmock.NewRows(teacherDatabaseRowColumns).
			AddRow(dump.ID, "shop", "teacher-1", "teacher-1/x.sql", "abc", 42, time.Now()))

	fetched, err := repo.GetByID(context.Background(), dump.ID)
	require.NoError(t, err)
	require.Equal(t, "shop", fetched.Name)
	require.Equal(t, int64(42), fetched.SizeBytes)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTeacherDatabaseRepositoryGetMissing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewTeacherDatabaseRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM teacher_databases WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestTeacherDatabaseRepositoryListByTeacher(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewTeacherDatabaseRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM teacher_databases WHERE 1=1 AND teacher_id = $1 ORDER BY uploaded_at DESC LIMIT 20 OFFSET 0")).
		WithArgs("teacher-1").
		WillReturnRows(sqlmock.NewRows(teacherDatabaseRowColumns).
			AddRow("d-1", "shop", "teacher-1", "k1", "c1", 10, time.Now()).
			AddRow("d-2", "school", "teacher-1", "k2", "c2", 20, time.Now()))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM teacher_databases WHERE 1=1 AND teacher_id = $1")).
		WithArgs("teacher-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	dumps, total, err := repo.List(context.Background(), models.TeacherDatabaseFilter{TeacherID: "teacher-1", Limit: 500})
	require.NoError(t, err)
	require.Len(t, dumps, 2)
	require.Equal(t, 2, total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTeacherDatabaseRepositoryDeleteAndReferences(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewTeacherDatabaseRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM tasks WHERE original_db_id = $1 OR etalon_db_id = $1")).
		WithArgs("d-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	referenced, err := repo.IsReferenced(context.Background(), "d-1")
	require.NoError(t, err)
	require.True(t, referenced)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM teacher_databases WHERE id = $1")).
		WithArgs("d-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Delete(context.Background(), "d-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}
