package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/sqlclassroom-api/pkg/errors"
)

// ErrorBody is the error contract consumed by the frontend: a flat message
// plus a machine readable code.
type ErrorBody struct {
	Error string `json:"error" example:"statement 1: near \"SELEC\": syntax error"`
	Code  string `json:"code" example:"SQL_SYNTAX_ERROR"`
}

// JSON sends a bare success payload.
func JSON(c *gin.Context, status int, data interface{}) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	c.JSON(status, data)
}

// Created responds with HTTP 201 Created.
func Created(c *gin.Context, data interface{}) {
	JSON(c, http.StatusCreated, data)
}

// Error sends an error response converting the error to the common structure.
// Internal errors never leak their wrapped cause.
func Error(c *gin.Context, err error) {
	appErr := appErrors.FromError(err)
	if appErr.Err != nil {
		_ = c.Error(appErr.Err)
	}
	body := gin.H{"error": appErr.Message, "code": appErr.Code}
	for k, v := range appErr.Details {
		if k == "error" || k == "code" {
			continue
		}
		body[k] = v
	}
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	c.JSON(appErr.Status, body)
}

// NoContent sends a 204 response.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
