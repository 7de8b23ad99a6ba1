// Package knowledge turns an uploaded document into labeled study
// questions: chunk, generate per chunk, persist, advance status.
package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"unicode/utf8"

	"github.com/insightflow/backend/internal/llm"
)

// GeneratedQuestion is one question/label pair produced for a chunk.
type GeneratedQuestion struct {
	Question string `json:"question"`
	Label    string `json:"label"`
}

// GeneratorConfig tunes question generation.
type GeneratorConfig struct {
	Provider string
	Model    string
	// Tags the model may label questions with.
	Tags []string
	// QuestionDensity asks for one question per this many characters.
	QuestionDensity int
	// DropMarkPercent is the 0-100 chance of stripping a trailing
	// question mark, for a more conversational tone.
	DropMarkPercent int
}

// Generator produces labeled questions for a chunk of text via a single
// structured LLM call.
type Generator struct {
	gateway llm.Gateway
	cfg     GeneratorConfig

	// intn is rand.Intn unless a test pins it.
	intn func(n int) int
}

func NewGenerator(gw llm.Gateway, cfg GeneratorConfig) *Generator {
	if cfg.QuestionDensity <= 0 {
		cfg.QuestionDensity = 500
	}
	if cfg.DropMarkPercent <= 0 || cfg.DropMarkPercent > 100 {
		cfg.DropMarkPercent = 60
	}
	if len(cfg.Tags) == 0 {
		cfg.Tags = []string{"Concept", "Fact", "Application", "Analysis"}
	}
	return &Generator{gateway: gw, cfg: cfg, intn: rand.Intn}
}

// Target returns how many questions to request for text: one per
// QuestionDensity characters, at least one.
func (g *Generator) Target(text string) int {
	n := utf8.RuneCountInString(text) / g.cfg.QuestionDensity
	if n < 1 {
		return 1
	}
	return n
}

// Generate asks the model for questions about chunkText and returns at
// most target of them. Malformed output is retried once with the same
// input before the error surfaces to the caller.
func (g *Generator) Generate(ctx context.Context, chunkText string, target int) ([]GeneratedQuestion, error) {
	raw, err := g.generateOnce(ctx, chunkText, target)
	if err != nil {
		raw, err = g.generateOnce(ctx, chunkText, target)
		if err != nil {
			return nil, err
		}
	}

	questions := make([]GeneratedQuestion, 0, len(raw))
	for _, q := range raw {
		q.Question = strings.TrimSpace(q.Question)
		if g.intn(100) < g.cfg.DropMarkPercent {
			q.Question = strings.TrimRight(q.Question, "?？")
		}
		if q.Question == "" {
			continue
		}
		q.Label = strings.TrimSpace(q.Label)
		questions = append(questions, q)
	}
	if len(questions) > target {
		questions = questions[:target]
	}
	return questions, nil
}

func (g *Generator) generateOnce(ctx context.Context, chunkText string, target int) ([]GeneratedQuestion, error) {
	resp, err := g.gateway.Chat(ctx, llm.ChatRequest{
		Provider: g.cfg.Provider,
		Model:    g.cfg.Model,
		Messages: []llm.Message{
			{Role: "system", Content: g.systemPrompt()},
			{Role: "user", Content: userPrompt(chunkText, target)},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return nil, fmt.Errorf("generate questions: %w", err)
	}

	var questions []GeneratedQuestion
	if err := json.Unmarshal([]byte(stripFences(resp.Content)), &questions); err != nil {
		return nil, fmt.Errorf("parse questions: %w", err)
	}
	return questions, nil
}

func (g *Generator) systemPrompt() string {
	return fmt.Sprintf(`You are an expert text analyst who extracts key information from documents and turns it into study questions.

You must respond with ONLY a valid JSON array matching this structure:

[{"question": "<string>", "label": "<string>"}]

Every question must be answerable from the provided text alone.
Every label must be exactly one of: %s.
Do not include any text outside the JSON array. No markdown, no explanation.`, strings.Join(g.cfg.Tags, ", "))
}

func userPrompt(text string, target int) string {
	return fmt.Sprintf("Generate no fewer than %d high-quality questions from the following text (length: %d characters):\n\n%s",
		target, utf8.RuneCountInString(text), text)
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
