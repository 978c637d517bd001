package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sqlclassroom-api/internal/dto"
	"github.com/noah-isme/sqlclassroom-api/internal/middleware"
	"github.com/noah-isme/sqlclassroom-api/internal/models"
	appErrors "github.com/noah-isme/sqlclassroom-api/pkg/errors"
	"github.com/noah-isme/sqlclassroom-api/pkg/response"
)

type submissionService interface {
	History(ctx context.Context, query dto.HistoryQuery, actor models.Actor) (*dto.SubmissionList, error)
	Export(ctx context.Context, taskID, format string, actor models.Actor) (*dto.ExportFile, error)
}

// SubmissionHandler exposes recorded submissions.
type SubmissionHandler struct {
	service submissionService
}

// NewSubmissionHandler builds a new handler.
func NewSubmissionHandler(service submissionService) *SubmissionHandler {
	return &SubmissionHandler{service: service}
}

// History godoc
// @Summary List own submissions
// @Tags Submissions
// @Produce json
// @Param task_id query string false "Task ID"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} dto.SubmissionList
// @Router /sql-history/ [get]
func (h *SubmissionHandler) History(c *gin.Context) {
	var query dto.HistoryQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	list, err := h.service.History(c.Request.Context(), query, middleware.CurrentActor(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, list)
}

// Export godoc
// @Summary Export task submissions
// @Tags Submissions
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Task ID"
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Router /tasks/{id}/submissions/export [get]
func (h *SubmissionHandler) Export(c *gin.Context) {
	file, err := h.service.Export(c.Request.Context(), c.Param("id"), c.DefaultQuery("format", "csv"), middleware.CurrentActor(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, file.ContentType, file.Data)
}
