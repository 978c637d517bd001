package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sqlclassroom-api/internal/dto"
	"github.com/noah-isme/sqlclassroom-api/internal/middleware"
	"github.com/noah-isme/sqlclassroom-api/internal/models"
	"github.com/noah-isme/sqlclassroom-api/pkg/diff"
	appErrors "github.com/noah-isme/sqlclassroom-api/pkg/errors"
	"github.com/noah-isme/sqlclassroom-api/pkg/sandbox"
)

type evaluationServiceMock struct {
	actor    models.Actor
	sql      string
	taskID   string
	err      error
	preview  *sandbox.ExecutionResult
	submit   *dto.SubmitResponse
	snapshot *sandbox.Snapshot
	execDBID string
}

func (m *evaluationServiceMock) GetTask(_ context.Context, taskID string) (*models.Task, error) {
	m.taskID = taskID
	if m.err != nil {
		return nil, m.err
	}
	return &models.Task{ID: taskID, Title: "Rename"}, nil
}

func (m *evaluationServiceMock) Preview(_ context.Context, taskID, sql string, actor models.Actor) (*sandbox.ExecutionResult, error) {
	m.taskID, m.sql, m.actor = taskID, sql, actor
	return m.preview, m.err
}

func (m *evaluationServiceMock) Submit(_ context.Context, taskID, sql string, actor models.Actor) (*dto.SubmitResponse, error) {
	m.taskID, m.sql, m.actor = taskID, sql, actor
	return m.submit, m.err
}

func (m *evaluationServiceMock) TaskSchema(_ context.Context, taskID string) (*sandbox.Snapshot, error) {
	m.taskID = taskID
	return m.snapshot, m.err
}

func (m *evaluationServiceMock) DatabaseSchema(_ context.Context, databaseID string) (*sandbox.Snapshot, error) {
	m.execDBID = databaseID
	return m.snapshot, m.err
}

func (m *evaluationServiceMock) ExecuteSQL(_ context.Context, databaseID, query string) (*sandbox.ExecutionResult, error) {
	m.execDBID, m.sql = databaseID, query
	return m.preview, m.err
}

func newJSONContext(method, path, body string) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestEvaluationHandlerExecute(t *testing.T) {
	svc := &evaluationServiceMock{preview: &sandbox.ExecutionResult{
		Columns:    []string{"name"},
		Rows:       []sandbox.Row{{"name": sandbox.TextValue("John")}},
		Statements: 1,
		Duration:   1500 * time.Millisecond,
	}}
	h := NewEvaluationHandler(svc)

	c, w := newJSONContext(http.MethodPost, "/api/tasks/1/execute/", `{"sql":"SELECT name FROM users"}`)
	c.Params = gin.Params{{Key: "id", Value: "1"}}
	c.Request.Header.Set(middleware.SessionHeader, "sid-1")
	h.Execute(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "SELECT name FROM users", svc.sql)
	require.Equal(t, "sid-1", svc.actor.SessionID)

	body := decodeBody(t, w)
	require.Equal(t, []interface{}{"name"}, body["columns"])
	require.Equal(t, []interface{}{map[string]interface{}{"name": "John"}}, body["results"])
	require.Equal(t, 1.5, body["execution_time"])
}

func TestEvaluationHandlerExecuteRequiresSQL(t *testing.T) {
	h := NewEvaluationHandler(&evaluationServiceMock{})

	c, w := newJSONContext(http.MethodPost, "/api/tasks/1/execute/", `{}`)
	h.Execute(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeBody(t, w)
	require.Equal(t, appErrors.ErrValidation.Code, body["code"])
	require.Equal(t, "sql is required", body["error"])
}

func TestEvaluationHandlerExecuteSandboxError(t *testing.T) {
	appErr := appErrors.WithDetail(appErrors.Clone(appErrors.ErrSQLSyntax, `statement 2: near "SELEC": syntax error`), "statement_index", 1)
	appErr = appErrors.WithDetail(appErr, "stage", "execute_student")
	h := NewEvaluationHandler(&evaluationServiceMock{err: appErr})

	c, w := newJSONContext(http.MethodPost, "/api/tasks/1/execute/", `{"sql":"SELECT 1; SELEC 2"}`)
	h.Execute(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeBody(t, w)
	require.Equal(t, appErrors.ErrSQLSyntax.Code, body["code"])
	require.Equal(t, float64(1), body["statement_index"])
	require.Equal(t, "execute_student", body["stage"])
}

func TestEvaluationHandlerSubmitAcceptsEmptyBody(t *testing.T) {
	svc := &evaluationServiceMock{submit: &dto.SubmitResponse{Correct: true, Details: diff.Report{}}}
	h := NewEvaluationHandler(svc)

	c, w := newJSONContext(http.MethodPost, "/api/tasks/7/submit/", "")
	c.Params = gin.Params{{Key: "id", Value: "7"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "student-1", Role: models.RoleStudent})
	h.Submit(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "7", svc.taskID)
	require.Empty(t, svc.sql)
	require.Equal(t, "student-1", svc.actor.UserID)
	body := decodeBody(t, w)
	require.Equal(t, true, body["correct"])
	require.Equal(t, map[string]interface{}{}, body["details"])
}

func TestEvaluationHandlerSubmitRejectsMalformedBody(t *testing.T) {
	h := NewEvaluationHandler(&evaluationServiceMock{})

	c, w := newJSONContext(http.MethodPost, "/api/tasks/7/submit/", "{")
	h.Submit(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEvaluationHandlerSchema(t *testing.T) {
	svc := &evaluationServiceMock{snapshot: &sandbox.Snapshot{
		Tables: []string{"users"},
		Schema: map[string][]sandbox.Column{"users": {{Name: "id", Type: "INTEGER", PrimaryKey: true, PKPosition: 1}}},
	}}
	h := NewEvaluationHandler(svc)

	c, w := newJSONContext(http.MethodGet, "/api/database-schema/db-1/", "")
	c.Params = gin.Params{{Key: "dbId", Value: "db-1"}}
	h.DatabaseSchema(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "db-1", svc.execDBID)
	body := decodeBody(t, w)
	require.Equal(t, []interface{}{"users"}, body["tables"])
	require.Contains(t, body["schema"], "users")
	require.NotContains(t, body, "rows")
}

func TestEvaluationHandlerExecuteSQL(t *testing.T) {
	svc := &evaluationServiceMock{preview: &sandbox.ExecutionResult{Columns: []string{}, Rows: []sandbox.Row{}}}
	h := NewEvaluationHandler(svc)

	c, w := newJSONContext(http.MethodPost, "/api/execute-sql/", `{"query":"SELECT 1"}`)
	h.ExecuteSQL(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "database_id is required", decodeBody(t, w)["error"])

	c, w = newJSONContext(http.MethodPost, "/api/execute-sql/", `{"query":"SELECT 1","database_id":"db-1"}`)
	h.ExecuteSQL(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "db-1", svc.execDBID)
}

func TestEvaluationHandlerGetTaskNotFound(t *testing.T) {
	h := NewEvaluationHandler(&evaluationServiceMock{err: appErrors.Clone(appErrors.ErrNotFound, "task not found")})

	c, w := newJSONContext(http.MethodGet, "/api/tasks/9/", "")
	c.Params = gin.Params{{Key: "id", Value: "9"}}
	h.GetTask(c)
	require.Equal(t, http.StatusNotFound, w.Code)
}
