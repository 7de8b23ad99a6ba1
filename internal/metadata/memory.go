package metadata

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/insightflow/backend/internal/models"
)

// Memory is an in-memory Store used in tests. Safe for concurrent use;
// the pipeline writes questions from several goroutines.
type Memory struct {
	mu        sync.Mutex
	documents map[string]models.Document // file_id -> document
	chunks    map[int64]models.Chunk     // chunk id -> chunk
	questions map[string]models.Question // question id -> question
	nextChunk int64
}

func NewMemory() *Memory {
	return &Memory{
		documents: make(map[string]models.Document),
		chunks:    make(map[int64]models.Chunk),
		questions: make(map[string]models.Question),
		nextChunk: 1,
	}
}

func (s *Memory) CreateDocument(_ context.Context, doc *models.Document) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range s.documents {
		if d.UserID == doc.UserID && d.ContentHash == doc.ContentHash {
			existing := d
			return &existing, ErrDuplicate
		}
	}

	created := *doc
	if created.UploadedAt.IsZero() {
		created.UploadedAt = time.Now().UTC()
	}
	s.documents[created.FileID] = created
	return &created, nil
}

func (s *Memory) GetDocument(_ context.Context, fileID string) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.documents[fileID]
	if !ok {
		return nil, ErrNotFound
	}
	doc := d
	return &doc, nil
}

func (s *Memory) GetUserDocument(_ context.Context, userID, fileID string) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.documents[fileID]
	if !ok || d.UserID != userID {
		return nil, ErrNotFound
	}
	doc := d
	return &doc, nil
}

func (s *Memory) ListDocuments(_ context.Context, userID string, skip, limit int) ([]models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var docs []models.Document
	for _, d := range s.documents {
		if d.UserID == userID {
			docs = append(docs, d)
		}
	}
	sortDocuments(docs)

	if skip >= len(docs) {
		return nil, nil
	}
	docs = docs[skip:]
	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	return docs, nil
}

func (s *Memory) ListAllDocuments(_ context.Context) ([]models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs := make([]models.Document, 0, len(s.documents))
	for _, d := range s.documents {
		docs = append(docs, d)
	}
	sortDocuments(docs)
	return docs, nil
}

func sortDocuments(docs []models.Document) {
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].UploadedAt.Equal(docs[j].UploadedAt) {
			return docs[i].FileID < docs[j].FileID
		}
		return docs[i].UploadedAt.After(docs[j].UploadedAt)
	})
}

func (s *Memory) DeleteDocument(_ context.Context, userID, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.documents[fileID]
	if !ok || d.UserID != userID {
		return ErrNotFound
	}
	delete(s.documents, fileID)

	for id, c := range s.chunks {
		if c.FileID != fileID {
			continue
		}
		delete(s.chunks, id)
		for qid, q := range s.questions {
			if q.ChunkID == id {
				delete(s.questions, qid)
			}
		}
	}
	return nil
}

func (s *Memory) CreateChunks(_ context.Context, chunks []models.Chunk) ([]models.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created := make([]models.Chunk, len(chunks))
	for i, c := range chunks {
		c.ID = s.nextChunk
		s.nextChunk++
		if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now().UTC()
		}
		s.chunks[c.ID] = c
		created[i] = c
	}
	return created, nil
}

func (s *Memory) GetChunk(_ context.Context, chunkID int64) (*models.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chunks[chunkID]
	if !ok {
		return nil, ErrNotFound
	}
	chunk := c
	return &chunk, nil
}

func (s *Memory) ListChunks(_ context.Context, fileID string) ([]models.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var chunks []models.Chunk
	for _, c := range s.chunks {
		if c.FileID == fileID {
			chunks = append(chunks, c)
		}
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ChunkIndex < chunks[j].ChunkIndex })
	return chunks, nil
}

func (s *Memory) CreateQuestions(_ context.Context, questions []models.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, q := range questions {
		if q.CreatedAt.IsZero() {
			q.CreatedAt = time.Now().UTC()
		}
		s.questions[q.ID] = q
	}
	return nil
}

func (s *Memory) ListQuestionsByFile(_ context.Context, fileID string) ([]models.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chunkIndex := make(map[int64]int)
	for id, c := range s.chunks {
		if c.FileID == fileID {
			chunkIndex[id] = c.ChunkIndex
		}
	}

	var questions []models.Question
	for _, q := range s.questions {
		if _, ok := chunkIndex[q.ChunkID]; ok {
			questions = append(questions, q)
		}
	}
	sort.Slice(questions, func(i, j int) bool {
		ci, cj := chunkIndex[questions[i].ChunkID], chunkIndex[questions[j].ChunkID]
		if ci != cj {
			return ci < cj
		}
		return questions[i].ID < questions[j].ID
	})
	return questions, nil
}

func (s *Memory) GetQuestion(_ context.Context, questionID string) (*models.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.questions[questionID]
	if !ok {
		return nil, ErrNotFound
	}
	question := q
	return &question, nil
}

func (s *Memory) MarkQuestionAnswered(_ context.Context, questionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.questions[questionID]
	if !ok {
		return ErrNotFound
	}
	q.Answered = true
	s.questions[questionID] = q
	return nil
}
