package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sqlclassroom-api/internal/models"
)

const submissionColumns = "id, task_id, user_id, query, is_correct, details, error_kind, error_message, execution_time_ms, submitted_at"

// SubmissionRepository persists graded attempts.
type SubmissionRepository struct {
	db *sqlx.DB
}

// NewSubmissionRepository constructs the repository.
func NewSubmissionRepository(db *sqlx.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

// Create inserts a submission row with generated defaults.
func (r *SubmissionRepository) Create(ctx context.Context, sub *models.Submission) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = time.Now().UTC()
	}
	if len(sub.Details) == 0 {
		sub.Details = []byte("{}")
	}
	const query = `INSERT INTO submissions (id, task_id, user_id, query, is_correct, details, error_kind, error_message, execution_time_ms, submitted_at)
VALUES (:id, :task_id, :user_id, :query, :is_correct, :details, :error_kind, :error_message, :execution_time_ms, :submitted_at)`
	if _, err := r.db.NamedExecContext(ctx, query, sub); err != nil {
		return fmt.Errorf("create submission: %w", err)
	}
	return nil
}

// List returns submissions matching filter, newest first, with the total count.
func (r *SubmissionRepository) List(ctx context.Context, filter models.SubmissionFilter) ([]models.Submission, int, error) {
	where, args := submissionWhere(filter)
	limit, offset := normalizeWindow(filter.Limit, filter.Offset)

	query := fmt.Sprintf("SELECT %s FROM submissions WHERE %s ORDER BY submitted_at DESC LIMIT %d OFFSET %d",
		submissionColumns, where, limit, offset)
	subs := make([]models.Submission, 0)
	if err := r.db.SelectContext(ctx, &subs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list submissions: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM submissions WHERE "+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count submissions: %w", err)
	}
	return subs, total, nil
}

// ListByTask returns every submission of a task in submission order.
func (r *SubmissionRepository) ListByTask(ctx context.Context, taskID string) ([]models.Submission, error) {
	query := "SELECT " + submissionColumns + " FROM submissions WHERE task_id = $1 ORDER BY submitted_at ASC"
	subs := make([]models.Submission, 0)
	if err := r.db.SelectContext(ctx, &subs, query, taskID); err != nil {
		return nil, fmt.Errorf("list task submissions: %w", err)
	}
	return subs, nil
}

func submissionWhere(filter models.SubmissionFilter) (string, []interface{}) {
	conditions := []string{"1=1"}
	args := []interface{}{}
	if filter.TaskID != "" {
		conditions = append(conditions, fmt.Sprintf("task_id = $%d", len(args)+1))
		args = append(args, filter.TaskID)
	}
	if filter.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)+1))
		args = append(args, filter.UserID)
	}
	return strings.Join(conditions, " AND "), args
}
