package dto

import (
	"time"

	"github.com/noah-isme/sqlclassroom-api/internal/models"
)

// UploadDatabaseRequest carries a parsed multipart upload.
type UploadDatabaseRequest struct {
	Name string `form:"name" validate:"required,max=200"`
	Dump []byte `form:"-" validate:"required"`
}

// TeacherDatabaseResponse is the public view of a dump record.
type TeacherDatabaseResponse struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	TeacherID   string     `json:"teacher_id"`
	Checksum    string     `json:"checksum"`
	SizeBytes   int64      `json:"size_bytes"`
	UploadedAt  time.Time  `json:"uploaded_at"`
	DownloadURL string     `json:"download_url,omitempty"`
	ExpiresAt   *time.Time `json:"download_expires_at,omitempty"`
}

// TeacherDatabaseList wraps a page of dumps.
type TeacherDatabaseList struct {
	Items      []TeacherDatabaseResponse `json:"items"`
	Pagination models.Pagination         `json:"pagination"`
}

// ListQuery holds limit/offset query parameters.
type ListQuery struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}
