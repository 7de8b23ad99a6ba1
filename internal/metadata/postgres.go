package metadata

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/insightflow/backend/internal/models"
)

type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

const documentColumns = "file_id, user_id, filename, size_bytes, content_type, content_hash, stored_name, uploaded_at"

func (s *Postgres) CreateDocument(ctx context.Context, doc *models.Document) (*models.Document, error) {
	var created models.Document
	err := s.db.QueryRow(ctx,
		`INSERT INTO documents (file_id, user_id, filename, size_bytes, content_type, content_hash, stored_name)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id, content_hash) DO NOTHING
		 RETURNING `+documentColumns,
		doc.FileID, doc.UserID, doc.Filename, doc.SizeBytes, doc.ContentType, doc.ContentHash, doc.StoredName,
	).Scan(&created.FileID, &created.UserID, &created.Filename, &created.SizeBytes,
		&created.ContentType, &created.ContentHash, &created.StoredName, &created.UploadedAt)
	if err == nil {
		return &created, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("insert document: %w", err)
	}

	// Conflict: hand back the document this user already uploaded.
	existing, err := s.getBy(ctx, "user_id = $1 AND content_hash = $2", doc.UserID, doc.ContentHash)
	if err != nil {
		return nil, fmt.Errorf("load duplicate document: %w", err)
	}
	return existing, ErrDuplicate
}

func (s *Postgres) GetDocument(ctx context.Context, fileID string) (*models.Document, error) {
	return s.getBy(ctx, "file_id = $1", fileID)
}

func (s *Postgres) GetUserDocument(ctx context.Context, userID, fileID string) (*models.Document, error) {
	return s.getBy(ctx, "user_id = $1 AND file_id = $2", userID, fileID)
}

func (s *Postgres) getBy(ctx context.Context, where string, args ...any) (*models.Document, error) {
	var doc models.Document
	err := s.db.QueryRow(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE "+where, args...,
	).Scan(&doc.FileID, &doc.UserID, &doc.Filename, &doc.SizeBytes,
		&doc.ContentType, &doc.ContentHash, &doc.StoredName, &doc.UploadedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &doc, nil
}

func (s *Postgres) ListDocuments(ctx context.Context, userID string, skip, limit int) ([]models.Document, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx,
		"SELECT "+documentColumns+` FROM documents
		 WHERE user_id = $1 ORDER BY uploaded_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, skip,
	)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

func (s *Postgres) ListAllDocuments(ctx context.Context) ([]models.Document, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+documentColumns+" FROM documents ORDER BY uploaded_at DESC",
	)
	if err != nil {
		return nil, fmt.Errorf("list all documents: %w", err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

func scanDocuments(rows pgx.Rows) ([]models.Document, error) {
	var docs []models.Document
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(&d.FileID, &d.UserID, &d.Filename, &d.SizeBytes,
			&d.ContentType, &d.ContentHash, &d.StoredName, &d.UploadedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *Postgres) DeleteDocument(ctx context.Context, userID, fileID string) error {
	tag, err := s.db.Exec(ctx,
		"DELETE FROM documents WHERE user_id = $1 AND file_id = $2", userID, fileID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) CreateChunks(ctx context.Context, chunks []models.Chunk) ([]models.Chunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin chunks tx: %w", err)
	}
	defer tx.Rollback(ctx)

	created := make([]models.Chunk, len(chunks))
	for i, c := range chunks {
		err := tx.QueryRow(ctx,
			`INSERT INTO chunks (file_id, chunk_index, content, label, start_pos, end_pos)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING id, file_id, chunk_index, content, label, start_pos, end_pos, created_at`,
			c.FileID, c.ChunkIndex, c.Content, c.Label, c.StartPos, c.EndPos,
		).Scan(&created[i].ID, &created[i].FileID, &created[i].ChunkIndex, &created[i].Content,
			&created[i].Label, &created[i].StartPos, &created[i].EndPos, &created[i].CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert chunk %d: %w", c.ChunkIndex, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit chunks: %w", err)
	}
	return created, nil
}

func (s *Postgres) GetChunk(ctx context.Context, chunkID int64) (*models.Chunk, error) {
	var c models.Chunk
	err := s.db.QueryRow(ctx,
		`SELECT id, file_id, chunk_index, content, label, start_pos, end_pos, created_at
		 FROM chunks WHERE id = $1`,
		chunkID,
	).Scan(&c.ID, &c.FileID, &c.ChunkIndex, &c.Content, &c.Label, &c.StartPos, &c.EndPos, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chunk: %w", err)
	}
	return &c, nil
}

func (s *Postgres) ListChunks(ctx context.Context, fileID string) ([]models.Chunk, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, file_id, chunk_index, content, label, start_pos, end_pos, created_at
		 FROM chunks WHERE file_id = $1 ORDER BY chunk_index`,
		fileID,
	)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		var c models.Chunk
		if err := rows.Scan(&c.ID, &c.FileID, &c.ChunkIndex, &c.Content,
			&c.Label, &c.StartPos, &c.EndPos, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *Postgres) CreateQuestions(ctx context.Context, questions []models.Question) error {
	if len(questions) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin questions tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, q := range questions {
		if _, err := tx.Exec(ctx,
			`INSERT INTO questions (id, chunk_id, question, label, answered)
			 VALUES ($1, $2, $3, $4, $5)`,
			q.ID, q.ChunkID, q.Question, q.Label, q.Answered,
		); err != nil {
			return fmt.Errorf("insert question: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *Postgres) ListQuestionsByFile(ctx context.Context, fileID string) ([]models.Question, error) {
	rows, err := s.db.Query(ctx,
		`SELECT q.id, q.chunk_id, q.question, q.label, q.answered, q.created_at
		 FROM questions q
		 JOIN chunks c ON c.id = q.chunk_id
		 WHERE c.file_id = $1
		 ORDER BY c.chunk_index, q.id`,
		fileID,
	)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	var questions []models.Question
	for rows.Next() {
		var q models.Question
		if err := rows.Scan(&q.ID, &q.ChunkID, &q.Question, &q.Label, &q.Answered, &q.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func (s *Postgres) GetQuestion(ctx context.Context, questionID string) (*models.Question, error) {
	var q models.Question
	err := s.db.QueryRow(ctx,
		`SELECT id, chunk_id, question, label, answered, created_at
		 FROM questions WHERE id = $1`,
		questionID,
	).Scan(&q.ID, &q.ChunkID, &q.Question, &q.Label, &q.Answered, &q.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get question: %w", err)
	}
	return &q, nil
}

func (s *Postgres) MarkQuestionAnswered(ctx context.Context, questionID string) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE questions SET answered = TRUE WHERE id = $1", questionID)
	if err != nil {
		return fmt.Errorf("mark question answered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
