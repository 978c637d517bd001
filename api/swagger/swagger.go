package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "SQL Classroom API",
        "description": "Sandboxed execution and grading of student SQL scripts",
        "version": "1.0.0"
    },
    "basePath": "/api",
    "schemes": [
        "http",
        "https"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Tasks", "description": "Preview, submit and inspect tasks"},
        {"name": "Databases", "description": "Teacher SQL dumps"},
        {"name": "Submissions", "description": "Recorded grading attempts"}
    ],
    "paths": {
        "/tasks/{id}/": {
            "get": {
                "tags": ["Tasks"],
                "summary": "Get task",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/Task"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ErrorBody"}}
                }
            }
        },
        "/tasks/{id}/execute/": {
            "post": {
                "tags": ["Tasks"],
                "summary": "Preview a script against the task database",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ExecuteRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/PreviewResponse"}},
                    "400": {"description": "Syntax or runtime error", "schema": {"$ref": "#/definitions/ErrorBody"}},
                    "403": {"description": "Forbidden operation", "schema": {"$ref": "#/definitions/ErrorBody"}},
                    "408": {"description": "Execution timeout", "schema": {"$ref": "#/definitions/ErrorBody"}},
                    "429": {"description": "Rate limited", "schema": {"$ref": "#/definitions/ErrorBody"}}
                }
            }
        },
        "/tasks/{id}/submit/": {
            "post": {
                "tags": ["Tasks"],
                "summary": "Grade a script",
                "description": "An empty body submits the script last previewed in this session.",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": false, "schema": {"$ref": "#/definitions/SubmitRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/SubmitResponse"}},
                    "400": {"description": "Syntax or runtime error", "schema": {"$ref": "#/definitions/ErrorBody"}},
                    "403": {"description": "Forbidden operation", "schema": {"$ref": "#/definitions/ErrorBody"}},
                    "408": {"description": "Execution timeout", "schema": {"$ref": "#/definitions/ErrorBody"}}
                }
            }
        },
        "/tasks/{id}/schema/": {
            "get": {
                "tags": ["Tasks"],
                "summary": "Describe the task database",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/SchemaResponse"}}
                }
            }
        },
        "/tasks/{id}/submissions/export": {
            "get": {
                "tags": ["Submissions"],
                "summary": "Export task submissions",
                "security": [{"BearerAuth": []}],
                "produces": ["text/csv", "application/pdf"],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]}
                ],
                "responses": {
                    "200": {"description": "File", "schema": {"type": "file"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ErrorBody"}}
                }
            }
        },
        "/teacher-databases/": {
            "get": {
                "tags": ["Databases"],
                "summary": "List own SQL dumps",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "limit", "in": "query", "type": "integer"},
                    {"name": "offset", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/TeacherDatabaseList"}}
                }
            },
            "post": {
                "tags": ["Databases"],
                "summary": "Upload a SQL dump",
                "security": [{"BearerAuth": []}],
                "consumes": ["multipart/form-data"],
                "parameters": [
                    {"name": "name", "in": "formData", "required": true, "type": "string"},
                    {"name": "sql_dump", "in": "formData", "required": true, "type": "file"}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/TeacherDatabase"}},
                    "400": {"description": "Invalid dump", "schema": {"$ref": "#/definitions/ErrorBody"}}
                }
            }
        },
        "/teacher-databases/{id}/": {
            "get": {
                "tags": ["Databases"],
                "summary": "Get SQL dump metadata with a signed download link",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/TeacherDatabase"}}
                }
            },
            "delete": {
                "tags": ["Databases"],
                "summary": "Delete a SQL dump",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "Deleted"},
                    "409": {"description": "Used by a task", "schema": {"$ref": "#/definitions/ErrorBody"}}
                }
            }
        },
        "/teacher-databases/{id}/download": {
            "get": {
                "tags": ["Databases"],
                "summary": "Download a SQL dump",
                "security": [{"BearerAuth": []}],
                "produces": ["application/sql"],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "token", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "File", "schema": {"type": "file"}}
                }
            }
        },
        "/database-schema/{dbId}/": {
            "get": {
                "tags": ["Databases"],
                "summary": "Describe a teacher database",
                "parameters": [
                    {"name": "dbId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/SchemaResponse"}}
                }
            }
        },
        "/execute-sql/": {
            "post": {
                "tags": ["Databases"],
                "summary": "Run a query against a teacher database",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ExecuteSQLRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/PreviewResponse"}}
                }
            }
        },
        "/sql-history/": {
            "get": {
                "tags": ["Submissions"],
                "summary": "List own submissions",
                "parameters": [
                    {"name": "task_id", "in": "query", "type": "string"},
                    {"name": "limit", "in": "query", "type": "integer"},
                    {"name": "offset", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/SubmissionList"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ErrorBody"}}
                }
            }
        }
    },
    "definitions": {
        "Task": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "title": {"type": "string"},
                "description": {"type": "string"},
                "original_db_id": {"type": "string"},
                "etalon_db_id": {"type": "string"},
                "due_date": {"type": "string", "format": "date-time"},
                "restrictions": {"type": "array", "items": {"type": "string"}},
                "ignore_row_order": {"type": "boolean"},
                "strict_schema": {"type": "boolean"}
            }
        },
        "ExecuteRequest": {
            "type": "object",
            "required": ["sql"],
            "properties": {
                "sql": {"type": "string", "example": "SELECT * FROM users;"}
            }
        },
        "SubmitRequest": {
            "type": "object",
            "properties": {
                "sql": {"type": "string"}
            }
        },
        "ExecuteSQLRequest": {
            "type": "object",
            "required": ["query", "database_id"],
            "properties": {
                "query": {"type": "string"},
                "database_id": {"type": "string"}
            }
        },
        "PreviewResponse": {
            "type": "object",
            "properties": {
                "results": {"type": "array", "items": {"type": "object"}},
                "columns": {"type": "array", "items": {"type": "string"}},
                "rows_affected": {"type": "integer"},
                "statements": {"type": "integer"},
                "truncated": {"type": "boolean"},
                "execution_time": {"type": "number"}
            }
        },
        "SubmitResponse": {
            "type": "object",
            "properties": {
                "correct": {"type": "boolean"},
                "details": {"type": "object", "additionalProperties": {"$ref": "#/definitions/TableDiff"}}
            }
        },
        "TableDiff": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "enum": ["extra_table", "missing_table", "row_count_mismatch", "column_mismatch"]},
                "student_count": {"type": "integer"},
                "etalon_count": {"type": "integer"},
                "missing_columns": {"type": "array", "items": {"type": "string"}},
                "extra_columns": {"type": "array", "items": {"type": "string"}},
                "differences": {"type": "array", "items": {"$ref": "#/definitions/RowDiff"}}
            }
        },
        "RowDiff": {
            "type": "object",
            "properties": {
                "row_index": {"type": "integer"},
                "student": {"type": "object"},
                "etalon": {"type": "object"},
                "diff_columns": {"type": "array", "items": {"type": "object"}}
            }
        },
        "SchemaResponse": {
            "type": "object",
            "properties": {
                "tables": {"type": "array", "items": {"type": "string"}},
                "schema": {"type": "object", "additionalProperties": {"type": "array", "items": {"$ref": "#/definitions/Column"}}}
            }
        },
        "Column": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "type": {"type": "string"},
                "notnull": {"type": "boolean"},
                "pk": {"type": "boolean"}
            }
        },
        "TeacherDatabase": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "name": {"type": "string"},
                "teacher_id": {"type": "string"},
                "checksum": {"type": "string"},
                "size_bytes": {"type": "integer"},
                "uploaded_at": {"type": "string", "format": "date-time"},
                "download_url": {"type": "string"},
                "download_expires_at": {"type": "string", "format": "date-time"}
            }
        },
        "TeacherDatabaseList": {
            "type": "object",
            "properties": {
                "items": {"type": "array", "items": {"$ref": "#/definitions/TeacherDatabase"}},
                "pagination": {"$ref": "#/definitions/Pagination"}
            }
        },
        "Submission": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "task_id": {"type": "string"},
                "user_id": {"type": "string"},
                "query": {"type": "string"},
                "is_correct": {"type": "boolean"},
                "details": {"type": "object"},
                "error_kind": {"type": "string"},
                "error_message": {"type": "string"},
                "execution_time_ms": {"type": "integer"},
                "submitted_at": {"type": "string", "format": "date-time"}
            }
        },
        "SubmissionList": {
            "type": "object",
            "properties": {
                "items": {"type": "array", "items": {"$ref": "#/definitions/Submission"}},
                "pagination": {"$ref": "#/definitions/Pagination"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "limit": {"type": "integer"},
                "offset": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "ErrorBody": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "code": {"type": "string"},
                "stage": {"type": "string"},
                "statement_index": {"type": "integer"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
