package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Submission records one graded attempt of a task.
type Submission struct {
	ID              string         `db:"id" json:"id"`
	TaskID          string         `db:"task_id" json:"task_id"`
	UserID          string         `db:"user_id" json:"user_id"`
	Query           string         `db:"query" json:"query"`
	IsCorrect       bool           `db:"is_correct" json:"is_correct"`
	Details         types.JSONText `db:"details" json:"details,omitempty"`
	ErrorKind       *string        `db:"error_kind" json:"error_kind,omitempty"`
	ErrorMessage    *string        `db:"error_message" json:"error_message,omitempty"`
	ExecutionTimeMS int64          `db:"execution_time_ms" json:"execution_time_ms"`
	SubmittedAt     time.Time      `db:"submitted_at" json:"submitted_at"`
}

// SubmissionFilter narrows submission listings.
type SubmissionFilter struct {
	TaskID string
	UserID string
	Limit  int
	Offset int
}
