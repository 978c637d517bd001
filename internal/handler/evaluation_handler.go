package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sqlclassroom-api/internal/dto"
	"github.com/noah-isme/sqlclassroom-api/internal/middleware"
	"github.com/noah-isme/sqlclassroom-api/internal/models"
	"github.com/noah-isme/sqlclassroom-api/pkg/response"
	"github.com/noah-isme/sqlclassroom-api/pkg/sandbox"
)

type evaluationService interface {
	GetTask(ctx context.Context, taskID string) (*models.Task, error)
	Preview(ctx context.Context, taskID, sql string, actor models.Actor) (*sandbox.ExecutionResult, error)
	Submit(ctx context.Context, taskID, sql string, actor models.Actor) (*dto.SubmitResponse, error)
	TaskSchema(ctx context.Context, taskID string) (*sandbox.Snapshot, error)
	DatabaseSchema(ctx context.Context, databaseID string) (*sandbox.Snapshot, error)
	ExecuteSQL(ctx context.Context, databaseID, query string) (*sandbox.ExecutionResult, error)
}

// EvaluationHandler exposes task execution and grading endpoints.
type EvaluationHandler struct {
	service evaluationService
}

// NewEvaluationHandler builds a new handler.
func NewEvaluationHandler(service evaluationService) *EvaluationHandler {
	return &EvaluationHandler{service: service}
}

// GetTask godoc
// @Summary Get task
// @Tags Tasks
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} models.Task
// @Failure 404 {object} response.ErrorBody
// @Router /tasks/{id}/ [get]
func (h *EvaluationHandler) GetTask(c *gin.Context) {
	task, err := h.service.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, task)
}

// Execute godoc
// @Summary Preview a script against the task database
// @Tags Tasks
// @Accept json
// @Produce json
// @Param id path string true "Task ID"
// @Param payload body dto.ExecuteRequest true "Script"
// @Success 200 {object} dto.PreviewResponse
// @Failure 400 {object} response.ErrorBody
// @Failure 403 {object} response.ErrorBody
// @Failure 408 {object} response.ErrorBody
// @Router /tasks/{id}/execute/ [post]
func (h *EvaluationHandler) Execute(c *gin.Context) {
	var req dto.ExecuteRequest
	if err := bindJSON(c, &req, false); err != nil {
		response.Error(c, err)
		return
	}
	res, err := h.service.Preview(c.Request.Context(), c.Param("id"), req.SQL, middleware.CurrentActor(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.NewPreviewResponse(res))
}

// Submit godoc
// @Summary Grade a script
// @Description An empty body submits the script last previewed in this session.
// @Tags Tasks
// @Accept json
// @Produce json
// @Param id path string true "Task ID"
// @Param payload body dto.SubmitRequest false "Script"
// @Success 200 {object} dto.SubmitResponse
// @Failure 400 {object} response.ErrorBody
// @Failure 403 {object} response.ErrorBody
// @Failure 408 {object} response.ErrorBody
// @Router /tasks/{id}/submit/ [post]
func (h *EvaluationHandler) Submit(c *gin.Context) {
	var req dto.SubmitRequest
	if err := bindJSON(c, &req, true); err != nil {
		response.Error(c, err)
		return
	}
	res, err := h.service.Submit(c.Request.Context(), c.Param("id"), req.SQL, middleware.CurrentActor(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res)
}

// TaskSchema godoc
// @Summary Describe the task database
// @Tags Tasks
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} dto.SchemaResponse
// @Router /tasks/{id}/schema/ [get]
func (h *EvaluationHandler) TaskSchema(c *gin.Context) {
	snap, err := h.service.TaskSchema(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.NewSchemaResponse(snap))
}

// DatabaseSchema godoc
// @Summary Describe a teacher database
// @Tags Databases
// @Produce json
// @Param dbId path string true "Database ID"
// @Success 200 {object} dto.SchemaResponse
// @Router /database-schema/{dbId}/ [get]
func (h *EvaluationHandler) DatabaseSchema(c *gin.Context) {
	snap, err := h.service.DatabaseSchema(c.Request.Context(), c.Param("dbId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.NewSchemaResponse(snap))
}

// ExecuteSQL godoc
// @Summary Run a query against a teacher database
// @Tags Databases
// @Accept json
// @Produce json
// @Param payload body dto.ExecuteSQLRequest true "Query"
// @Success 200 {object} dto.PreviewResponse
// @Router /execute-sql/ [post]
func (h *EvaluationHandler) ExecuteSQL(c *gin.Context) {
	var req dto.ExecuteSQLRequest
	if err := bindJSON(c, &req, false); err != nil {
		response.Error(c, err)
		return
	}
	res, err := h.service.ExecuteSQL(c.Request.Context(), req.DatabaseID, req.Query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.NewPreviewResponse(res))
}
