package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sqlclassroom-api/internal/models"
)

var submissionRowColumns = []string{"id", "task_id", "user_id", "query", "is_correct", "details", "error_kind", "error_message", "execution_time_ms", "submitted_at"}

func TestSubmissionRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSubmissionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO submissions")).
		WithArgs(sqlmock.AnyArg(), "task-1", "user-1", "SELECT 1", true, sqlmock.AnyArg(), nil, nil, int64(12), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	sub := &models.Submission{TaskID: "task-1", UserID: "user-1", Query: "SELECT 1", IsCorrect: true, ExecutionTimeMS: 12}
	require.NoError(t, repo.Create(context.Background(), sub))
	require.NotEmpty(t, sub.ID)
	require.Equal(t, "{}", string(sub.Details))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmissionRepositoryList(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSubmissionRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM submissions WHERE 1=1 AND task_id = $1 AND user_id = $2 ORDER BY submitted_at DESC LIMIT 5 OFFSET 10")).
		WithArgs("task-1", "user-1").
		WillReturnRows(sqlmock.NewRows(submissionRowColumns).
			AddRow("s-1", "task-1", "user-1", "SELECT 1", false, `{"users":{"status":"row_count_mismatch"}}`, nil, nil, 7, time.Now()))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM submissions WHERE 1=1 AND task_id = $1 AND user_id = $2")).
		WithArgs("task-1", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(11))

	subs, total, err := repo.List(context.Background(), models.SubmissionFilter{TaskID: "task-1", UserID: "user-1", Limit: 5, Offset: 10})
	require.NoError(t, err)
	require.Equal(t, 11, total)
	require.Len(t, subs, 1)
	require.JSONEq(t, `{"users":{"status":"row_count_mismatch"}}`, string(subs[0].Details))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmissionRepositoryListByTask(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSubmissionRepository(db)

	kind := "syntax_error"
	mock.ExpectQuery(regexp.QuoteMeta("FROM submissions WHERE task_id = $1 ORDER BY submitted_at ASC")).
		WithArgs("task-1").
		WillReturnRows(sqlmock.NewRows(submissionRowColumns).
			AddRow("s-1", "task-1", "user-1", "SELEC 1", false, nil, kind, "statement 1: near \"SELEC\"", 1, time.Now()))

	subs, err := repo.ListByTask(context.Background(), "task-1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.Equal(t, kind, *subs[0].ErrorKind)
	require.NoError(t, mock.ExpectationsWereMet())
}
