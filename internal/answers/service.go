// Package answers resolves a generated question against its source chunk
// through the LLM gateway. Responses are cached by question+context hash so
// repeated queries for the same pair never hit a provider twice.
package answers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/insightflow/backend/internal/cache"
	"github.com/insightflow/backend/internal/config"
	"github.com/insightflow/backend/internal/llm"
	"github.com/insightflow/backend/internal/metadata"
	"github.com/insightflow/backend/internal/models"
	"github.com/insightflow/backend/pkg/tokenizer"
)

const (
	queryTemperature  = 0.4
	queryMaxTokens    = 5120
	streamTemperature = 0.7
	streamMaxTokens   = 7680

	systemPrompt = "You are a helpful assistant. Answer the question using the provided context. " +
		"If the answer is not in the context, share your thoughts instead of saying 'I don't know'."
)

// QueryRequest identifies a stored question and the chunk that must serve as
// its context. Provider and Model are optional overrides.
type QueryRequest struct {
	QuestionID string `json:"question_id"`
	ChunkID    int64  `json:"chunk_id"`
	Provider   string `json:"provider,omitempty"`
	Model      string `json:"model,omitempty"`
}

// Answer is the resolved response. The same struct is stored in the cache, so
// a hit replays the original answer with Cached set.
type Answer struct {
	QuestionID string `json:"question_id"`
	Question   string `json:"question"`
	Answer     string `json:"answer"`
	Provider   string `json:"provider,omitempty"`
	Model      string `json:"model,omitempty"`
	Tokens     int    `json:"tokens,omitempty"`
	Cached     bool   `json:"cached"`
}

type Service struct {
	gateway  llm.Gateway
	meta     metadata.Store
	cache    cache.Cache
	cacheTTL time.Duration
	logger   *slog.Logger
}

func NewService(gw llm.Gateway, meta metadata.Store, c cache.Cache, cfg config.LLMConfig, logger *slog.Logger) *Service {
	ttl := cfg.AnswerCacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		gateway:  gw,
		meta:     meta,
		cache:    c,
		cacheTTL: ttl,
		logger:   logger,
	}
}

// Answer runs a synchronous query. The question must belong to the chunk
// named in the request; a mismatch reads the same as a missing question.
func (s *Service) Answer(ctx context.Context, req QueryRequest) (*Answer, error) {
	chunk, question, err := s.lookup(ctx, req)
	if err != nil {
		return nil, err
	}

	key := cacheKey(question.Question, chunk.Content)
	if cached, ok := s.cached(ctx, key); ok {
		s.markAnswered(ctx, question.ID)
		return cached, nil
	}

	resp, err := s.gateway.Chat(ctx, llm.ChatRequest{
		Provider:    req.Provider,
		Model:       req.Model,
		Messages:    promptMessages(question.Question, chunk.Content),
		Temperature: queryTemperature,
		MaxTokens:   queryMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("answer question %s: %w", question.ID, err)
	}
	s.logger.Info("answer generated",
		"question_id", question.ID,
		"model", resp.Model,
		"tokens", resp.TotalTokens,
		"cost_usd", resp.CostUSD,
		"latency_ms", resp.LatencyMs)

	answer := &Answer{
		QuestionID: question.ID,
		Question:   question.Question,
		Answer:     resp.Content,
		Provider:   resp.Provider,
		Model:      resp.Model,
		Tokens:     resp.TotalTokens,
	}
	if err := s.cache.Set(ctx, key, answer, s.cacheTTL); err != nil {
		s.logger.Warn("answer cache write failed", "question_id", question.ID, "error", err)
	}
	s.markAnswered(ctx, question.ID)
	return answer, nil
}

// AnswerStream streams the answer token by token. A cache hit replays the
// stored answer as a single chunk. On a clean stream the accumulated text is
// cached so the next query, streaming or not, is served locally.
func (s *Service) AnswerStream(ctx context.Context, req QueryRequest) (<-chan llm.StreamChunk, error) {
	chunk, question, err := s.lookup(ctx, req)
	if err != nil {
		return nil, err
	}

	key := cacheKey(question.Question, chunk.Content)
	if cached, ok := s.cached(ctx, key); ok {
		out := make(chan llm.StreamChunk, 2)
		out <- llm.StreamChunk{Content: cached.Answer}
		out <- llm.StreamChunk{Done: true}
		close(out)
		s.markAnswered(ctx, question.ID)
		return out, nil
	}

	upstream, err := s.gateway.ChatStream(ctx, llm.ChatRequest{
		Provider:    req.Provider,
		Model:       req.Model,
		Messages:    promptMessages(question.Question, chunk.Content),
		Temperature: streamTemperature,
		MaxTokens:   streamMaxTokens,
		Stream:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("stream answer for question %s: %w", question.ID, err)
	}

	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		var full strings.Builder
		failed := false
		tokens := 0
		for sc := range upstream {
			if sc.Error != nil {
				failed = true
			}
			if sc.InputTokens+sc.OutputTokens > 0 {
				tokens = sc.InputTokens + sc.OutputTokens
			}
			full.WriteString(sc.Content)
			select {
			case out <- sc:
			case <-ctx.Done():
				return
			}
		}
		if failed || full.Len() == 0 {
			return
		}
		// Most compatible endpoints omit usage on streams; estimate so the
		// cached entry still carries a count.
		if tokens == 0 {
			tokens = tokenizer.CountTokens(full.String())
		}
		answer := &Answer{
			QuestionID: question.ID,
			Question:   question.Question,
			Answer:     full.String(),
			Provider:   req.Provider,
			Model:      req.Model,
			Tokens:     tokens,
		}
		if err := s.cache.Set(ctx, key, answer, s.cacheTTL); err != nil {
			s.logger.Warn("answer cache write failed", "question_id", question.ID, "error", err)
		}
		s.markAnswered(ctx, question.ID)
	}()
	return out, nil
}

func (s *Service) lookup(ctx context.Context, req QueryRequest) (*models.Chunk, *models.Question, error) {
	chunk, err := s.meta.GetChunk(ctx, req.ChunkID)
	if err != nil {
		return nil, nil, fmt.Errorf("chunk %d: %w", req.ChunkID, err)
	}
	question, err := s.meta.GetQuestion(ctx, req.QuestionID)
	if err != nil {
		return nil, nil, fmt.Errorf("question %s: %w", req.QuestionID, err)
	}
	if question.ChunkID != chunk.ID {
		return nil, nil, fmt.Errorf("question %s not under chunk %d: %w", req.QuestionID, req.ChunkID, metadata.ErrNotFound)
	}
	return chunk, question, nil
}

func (s *Service) cached(ctx context.Context, key string) (*Answer, bool) {
	var stored Answer
	_, ok, err := s.cache.Get(ctx, key, &stored)
	if err != nil {
		s.logger.Warn("answer cache read failed", "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	stored.Cached = true
	return &stored, true
}

func (s *Service) markAnswered(ctx context.Context, questionID string) {
	if err := s.meta.MarkQuestionAnswered(ctx, questionID); err != nil {
		s.logger.Warn("mark question answered failed", "question_id", questionID, "error", err)
	}
}

func cacheKey(question, chunkText string) string {
	sum := sha256.Sum256([]byte(question + "\n" + chunkText))
	return "answer:" + hex.EncodeToString(sum[:])
}

func promptMessages(question, chunkText string) []llm.Message {
	return []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: fmt.Sprintf("Question:\n%s\n\nContext:\n%s", question, chunkText)},
	}
}
