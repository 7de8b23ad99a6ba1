package models

import (
	"time"
)

// Status tracks a document through the generation pipeline. Transitions
// are forward-only: Pending -> Processing -> Completed or Failed.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusProcessing Status = "Processing"
	StatusCompleted  Status = "Completed"
	StatusFailed     Status = "Failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions can occur.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Document struct {
	FileID      string    `json:"file_id" db:"file_id"`
	UserID      string    `json:"user_id" db:"user_id"`
	Filename    string    `json:"filename" db:"filename"`
	SizeBytes   int64     `json:"size" db:"size_bytes"`
	ContentType string    `json:"type" db:"content_type"`
	ContentHash string    `json:"-" db:"content_hash"`
	StoredName  string    `json:"stored_filename" db:"stored_name"`
	UploadedAt  time.Time `json:"upload_time" db:"uploaded_at"`
}

type Chunk struct {
	ID         int64     `json:"chunk_id" db:"id"`
	FileID     string    `json:"file_id" db:"file_id"`
	ChunkIndex int       `json:"chunk_index" db:"chunk_index"`
	Content    string    `json:"content" db:"content"`
	Label      string    `json:"label" db:"label"`
	StartPos   int       `json:"start_pos" db:"start_pos"`
	EndPos     int       `json:"end_pos" db:"end_pos"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

type Question struct {
	ID        string    `json:"question_id" db:"id"`
	ChunkID   int64     `json:"chunk_id" db:"chunk_id"`
	Question  string    `json:"question" db:"question"`
	Label     string    `json:"label" db:"label"`
	Answered  bool      `json:"answered" db:"answered"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
