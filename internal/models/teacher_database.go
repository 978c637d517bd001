package models

import "time"

// TeacherDatabase is the metadata of an uploaded SQL dump. The dump body
// lives in the dump store under StorageKey and is never modified.
type TeacherDatabase struct {
	ID         string    `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	TeacherID  string    `db:"teacher_id" json:"teacher_id"`
	StorageKey string    `db:"storage_key" json:"-"`
	Checksum   string    `db:"checksum" json:"checksum"`
	SizeBytes  int64     `db:"size_bytes" json:"size_bytes"`
	UploadedAt time.Time `db:"uploaded_at" json:"uploaded_at"`
}

// TeacherDatabaseFilter narrows dump listings.
type TeacherDatabaseFilter struct {
	TeacherID string
	Limit     int
	Offset    int
}
