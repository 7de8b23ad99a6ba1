// Package metadata is the durable record of documents, chunks, and
// generated questions. Postgres backs production; an in-memory double
// backs tests.
package metadata

import (
	"context"
	"errors"

	"github.com/insightflow/backend/internal/models"
)

var (
	ErrNotFound = errors.New("metadata: not found")

	// ErrDuplicate signals that the same user already uploaded identical
	// content. CreateDocument returns it together with the existing row.
	ErrDuplicate = errors.New("metadata: duplicate document")
)

type Store interface {
	// CreateDocument inserts doc unless (user_id, content_hash) already
	// exists, in which case the existing document is returned alongside
	// ErrDuplicate.
	CreateDocument(ctx context.Context, doc *models.Document) (*models.Document, error)
	GetDocument(ctx context.Context, fileID string) (*models.Document, error)
	GetUserDocument(ctx context.Context, userID, fileID string) (*models.Document, error)
	ListDocuments(ctx context.Context, userID string, skip, limit int) ([]models.Document, error)
	ListAllDocuments(ctx context.Context) ([]models.Document, error)
	// DeleteDocument removes the document row; chunks and questions go
	// with it.
	DeleteDocument(ctx context.Context, userID, fileID string) error

	// CreateChunks inserts all chunks for a document and returns them
	// with assigned IDs, in chunk-index order.
	CreateChunks(ctx context.Context, chunks []models.Chunk) ([]models.Chunk, error)
	GetChunk(ctx context.Context, chunkID int64) (*models.Chunk, error)
	ListChunks(ctx context.Context, fileID string) ([]models.Chunk, error)

	CreateQuestions(ctx context.Context, questions []models.Question) error
	GetQuestion(ctx context.Context, questionID string) (*models.Question, error)
	ListQuestionsByFile(ctx context.Context, fileID string) ([]models.Question, error)
	MarkQuestionAnswered(ctx context.Context, questionID string) error
}
