package dto

import "github.com/noah-isme/sqlclassroom-api/internal/models"

// HistoryQuery filters GET /sql-history/.
type HistoryQuery struct {
	TaskID string `form:"task_id"`
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
}

// SubmissionList wraps a page of submissions.
type SubmissionList struct {
	Items      []models.Submission `json:"items"`
	Pagination models.Pagination   `json:"pagination"`
}

// ExportFile is a rendered submission export.
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}
