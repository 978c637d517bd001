package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sqlclassroom-api/internal/models"
)

// TaskRepository reads task definitions. Tasks are authored elsewhere.
type TaskRepository struct {
	db *sqlx.DB
}

// NewTaskRepository constructs the repository.
func NewTaskRepository(db *sqlx.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// GetByID returns a task. sql.ErrNoRows is returned unwrapped.
func (r *TaskRepository) GetByID(ctx context.Context, id string) (*models.Task, error) {
	const query = `SELECT id, title, description, original_db_id, etalon_db_id, etalon_script, due_date,
restrictions, ignore_row_order, strict_schema, created_at, updated_at
FROM tasks WHERE id = $1`
	var task models.Task
	if err := r.db.GetContext(ctx, &task, query, id); err != nil {
		return nil, err
	}
	return &task, nil
}
