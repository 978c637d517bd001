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

const teacherDatabaseColumns = "id, name, teacher_id, storage_key, checksum, size_bytes, uploaded_at"

// TeacherDatabaseRepository persists dump metadata.
type TeacherDatabaseRepository struct {
	db *sqlx.DB
}

// NewTeacherDatabaseRepository constructs the repository.
func NewTeacherDatabaseRepository(db *sqlx.DB) *TeacherDatabaseRepository {
	return &TeacherDatabaseRepository{db: db}
}

// Create inserts a dump row, generating the id and upload time when missing.
func (r *TeacherDatabaseRepository) Create(ctx context.Context, dump *models.TeacherDatabase) error {
	if dump.ID == "" {
		dump.ID = uuid.NewString()
	}
	if dump.UploadedAt.IsZero() {
		dump.UploadedAt = time.Now().UTC()
	}
	const query = `INSERT INTO teacher_databases (id, name, teacher_id, storage_key, checksum, size_bytes, uploaded_at)
VALUES (:id, :name, :teacher_id, :storage_key, :checksum, :size_bytes, :uploaded_at)`
	if _, err := r.db.NamedExecContext(ctx, query, dump); err != nil {
		return fmt.Errorf("create teacher database: %w", err)
	}
	return nil
}

// GetByID returns a dump row. sql.ErrNoRows is returned unwrapped.
func (r *TeacherDatabaseRepository) GetByID(ctx context.Context, id string) (*models.TeacherDatabase, error) {
	query := "SELECT " + teacherDatabaseColumns + " FROM teacher_databases WHERE id = $1"
	var dump models.TeacherDatabase
	if err := r.db.GetContext(ctx, &dump, query, id); err != nil {
		return nil, err
	}
	return &dump, nil
}

// List returns dumps matching filter, newest first, with the total count.
func (r *TeacherDatabaseRepository) List(ctx context.Context, filter models.TeacherDatabaseFilter) ([]models.TeacherDatabase, int, error) {
	conditions := []string{"1=1"}
	args := []interface{}{}
	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}
	where := strings.Join(conditions, " AND ")
	limit, offset := normalizeWindow(filter.Limit, filter.Offset)

	query := fmt.Sprintf("SELECT %s FROM teacher_databases WHERE %s ORDER BY uploaded_at DESC LIMIT %d OFFSET %d",
		teacherDatabaseColumns, where, limit, offset)
	dumps := make([]models.TeacherDatabase, 0)
	if err := r.db.SelectContext(ctx, &dumps, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list teacher databases: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM teacher_databases WHERE "+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count teacher databases: %w", err)
	}
	return dumps, total, nil
}

// Delete removes the dump row.
func (r *TeacherDatabaseRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM teacher_databases WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete teacher database: %w", err)
	}
	return nil
}

// IsReferenced reports whether any task still points at the dump.
func (r *TeacherDatabaseRepository) IsReferenced(ctx context.Context, id string) (bool, error) {
	var count int
	const query = "SELECT COUNT(*) FROM tasks WHERE original_db_id = $1 OR etalon_db_id = $1"
	if err := r.db.GetContext(ctx, &count, query, id); err != nil {
		return false, fmt.Errorf("check teacher database references: %w", err)
	}
	return count > 0, nil
}

func normalizeWindow(limit, offset int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
