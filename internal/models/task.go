package models

import (
	"time"

	"github.com/lib/pq"
)

// Task is a read-only exercise definition. Exactly one of EtalonDBID and
// EtalonScript describes the reference outcome.
type Task struct {
	ID             string         `db:"id" json:"id"`
	Title          string         `db:"title" json:"title"`
	Description    string         `db:"description" json:"description"`
	OriginalDBID   string         `db:"original_db_id" json:"original_db_id"`
	EtalonDBID     *string        `db:"etalon_db_id" json:"etalon_db_id,omitempty"`
	EtalonScript   *string        `db:"etalon_script" json:"-"`
	DueDate        *time.Time     `db:"due_date" json:"due_date,omitempty"`
	Restrictions   pq.StringArray `db:"restrictions" json:"restrictions"`
	IgnoreRowOrder bool           `db:"ignore_row_order" json:"ignore_row_order"`
	StrictSchema   bool           `db:"strict_schema" json:"strict_schema"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// HasEtalonDump reports whether the reference outcome is a precomputed dump.
func (t *Task) HasEtalonDump() bool {
	return t.EtalonDBID != nil && *t.EtalonDBID != ""
}

// HasEtalonScript reports whether the reference outcome is a script applied
// to the original database.
func (t *Task) HasEtalonScript() bool {
	return t.EtalonScript != nil && *t.EtalonScript != ""
}
