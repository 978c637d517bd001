package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sqlclassroom-api/internal/dto"
	"github.com/noah-isme/sqlclassroom-api/internal/middleware"
	"github.com/noah-isme/sqlclassroom-api/internal/models"
	"github.com/noah-isme/sqlclassroom-api/internal/service"
	appErrors "github.com/noah-isme/sqlclassroom-api/pkg/errors"
	"github.com/noah-isme/sqlclassroom-api/pkg/response"
)

type databaseService interface {
	Upload(ctx context.Context, req dto.UploadDatabaseRequest, actor models.Actor) (*dto.TeacherDatabaseResponse, error)
	List(ctx context.Context, query dto.ListQuery, actor models.Actor) (*dto.TeacherDatabaseList, error)
	Get(ctx context.Context, id string, actor models.Actor) (*dto.TeacherDatabaseResponse, error)
	Download(ctx context.Context, id, token string, actor models.Actor) (*service.DumpDownload, error)
	Delete(ctx context.Context, id string, actor models.Actor) error
}

// DatabaseHandler exposes teacher database endpoints.
type DatabaseHandler struct {
	service        databaseService
	maxUploadBytes int64
}

// NewDatabaseHandler builds a new handler.
func NewDatabaseHandler(service databaseService, maxUploadBytes int64) *DatabaseHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 20 * 1024 * 1024
	}
	return &DatabaseHandler{service: service, maxUploadBytes: maxUploadBytes}
}

// Upload godoc
// @Summary Upload a SQL dump
// @Tags Databases
// @Accept multipart/form-data
// @Produce json
// @Param name formData string true "Display name"
// @Param sql_dump formData file true "SQL dump"
// @Success 201 {object} dto.TeacherDatabaseResponse
// @Failure 400 {object} response.ErrorBody
// @Router /teacher-databases/ [post]
func (h *DatabaseHandler) Upload(c *gin.Context) {
	header, err := c.FormFile("sql_dump")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "sql_dump file is required"))
		return
	}
	if header.Size > h.maxUploadBytes {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("sql_dump exceeds %d bytes limit", h.maxUploadBytes)))
		return
	}
	file, err := header.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "unable to read sql_dump"))
		return
	}
	defer file.Close()

	body, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "unable to read sql_dump"))
		return
	}
	req := dto.UploadDatabaseRequest{Name: c.PostForm("name"), Dump: body}
	if err := validate.Struct(req); err != nil {
		response.Error(c, validationError(err))
		return
	}

	resp, err := h.service.Upload(c.Request.Context(), req, middleware.CurrentActor(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, resp)
}

// List godoc
// @Summary List own SQL dumps
// @Tags Databases
// @Produce json
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} dto.TeacherDatabaseList
// @Router /teacher-databases/ [get]
func (h *DatabaseHandler) List(c *gin.Context) {
	var query dto.ListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	list, err := h.service.List(c.Request.Context(), query, middleware.CurrentActor(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, list)
}

// Get godoc
// @Summary Get SQL dump metadata with a signed download link
// @Tags Databases
// @Produce json
// @Param id path string true "Database ID"
// @Success 200 {object} dto.TeacherDatabaseResponse
// @Router /teacher-databases/{id}/ [get]
func (h *DatabaseHandler) Get(c *gin.Context) {
	resp, err := h.service.Get(c.Request.Context(), c.Param("id"), middleware.CurrentActor(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resp)
}

// Download godoc
// @Summary Download a SQL dump
// @Tags Databases
// @Produce application/sql
// @Param id path string true "Database ID"
// @Param token query string true "Signed token"
// @Success 200 {file} file
// @Router /teacher-databases/{id}/download [get]
func (h *DatabaseHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	dl, err := h.service.Download(c.Request.Context(), c.Param("id"), token, middleware.CurrentActor(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer dl.Body.Close()

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", dl.Filename))
	c.Header("Cache-Control", "no-store")
	size := dl.SizeBytes
	if size <= 0 {
		size = -1
	}
	c.DataFromReader(http.StatusOK, size, "application/sql", dl.Body, nil)
}

// Delete godoc
// @Summary Delete a SQL dump
// @Tags Databases
// @Param id path string true "Database ID"
// @Success 204
// @Failure 409 {object} response.ErrorBody
// @Router /teacher-databases/{id}/ [delete]
func (h *DatabaseHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), middleware.CurrentActor(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
