package dto

import (
	"github.com/noah-isme/sqlclassroom-api/pkg/diff"
	"github.com/noah-isme/sqlclassroom-api/pkg/sandbox"
)

// ExecuteRequest is the body of POST /tasks/{id}/execute/.
type ExecuteRequest struct {
	SQL string `json:"sql" validate:"required" example:"SELECT * FROM users;"`
}

// SubmitRequest is the body of POST /tasks/{id}/submit/. An empty SQL
// submits the last previewed script of the session.
type SubmitRequest struct {
	SQL string `json:"sql" example:"UPDATE users SET name = 'Jane' WHERE id = 2;"`
}

// ExecuteSQLRequest is the body of POST /execute-sql/.
type ExecuteSQLRequest struct {
	Query      string `json:"query" validate:"required"`
	DatabaseID string `json:"database_id" validate:"required"`
}

// PreviewResponse carries the rows of the last result set of a script.
type PreviewResponse struct {
	Results       []sandbox.Row `json:"results"`
	Columns       []string      `json:"columns"`
	RowsAffected  int64         `json:"rows_affected"`
	Statements    int           `json:"statements"`
	Truncated     bool          `json:"truncated"`
	ExecutionTime float64       `json:"execution_time"`
}

// SubmitResponse is the grading verdict. Details is empty when correct.
type SubmitResponse struct {
	Correct bool        `json:"correct"`
	Details diff.Report `json:"details"`
}

// SchemaResponse describes the tables of a database.
type SchemaResponse struct {
	Tables []string                    `json:"tables"`
	Schema map[string][]sandbox.Column `json:"schema"`
}

// NewPreviewResponse converts an execution result.
func NewPreviewResponse(res *sandbox.ExecutionResult) PreviewResponse {
	return PreviewResponse{
		Results:       res.Rows,
		Columns:       res.Columns,
		RowsAffected:  res.RowsAffected,
		Statements:    res.Statements,
		Truncated:     res.Truncated,
		ExecutionTime: res.Duration.Seconds(),
	}
}

// NewSchemaResponse strips row data from a snapshot.
func NewSchemaResponse(snap *sandbox.Snapshot) SchemaResponse {
	tables := snap.Tables
	if tables == nil {
		tables = []string{}
	}
	schema := snap.Schema
	if schema == nil {
		schema = map[string][]sandbox.Column{}
	}
	return SchemaResponse{Tables: tables, Schema: schema}
}
