package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// CompatibleProvider talks to any server exposing the OpenAI chat
// completion API (vLLM, llama.cpp, LM Studio, proxies). Streaming
// payloads go through ParseEvent so reasoning and content deltas stay
// distinguishable.
type CompatibleProvider struct {
	baseURL    string
	httpClient *http.Client
}

func NewCompatibleProvider(baseURL string) *CompatibleProvider {
	return &CompatibleProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

func (p *CompatibleProvider) Name() string { return "compatible" }

func (p *CompatibleProvider) Models() []string { return nil }

type compatChatReq struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	TopP        float64   `json:"top_p,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
	Stream      bool      `json:"stream"`
}

type compatChatResp struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (p *CompatibleProvider) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	resp, err := p.post(ctx, compatChatReq{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
		Stop:        req.Stop,
		Stream:      false,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var cResp compatChatResp
	if err := json.NewDecoder(resp.Body).Decode(&cResp); err != nil {
		return nil, fmt.Errorf("compatible decode: %w", err)
	}

	content := ""
	if len(cResp.Choices) > 0 {
		content = cResp.Choices[0].Message.Content
	}

	return &ChatResponse{
		ID:           cResp.ID,
		Provider:     "compatible",
		Model:        req.Model,
		Content:      content,
		InputTokens:  cResp.Usage.PromptTokens,
		OutputTokens: cResp.Usage.CompletionTokens,
		TotalTokens:  cResp.Usage.TotalTokens,
		CostUSD:      CalculateCost(req.Model, cResp.Usage.PromptTokens, cResp.Usage.CompletionTokens),
		LatencyMs:    time.Since(start).Milliseconds(),
	}, nil
}

func (p *CompatibleProvider) ChatCompletionStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	resp, err := p.post(ctx, compatChatReq{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      true,
	})
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamChunk, 64)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

			evt, err := ParseEvent([]byte(payload))
			if err != nil {
				ch <- StreamChunk{Error: err, Done: true}
				return
			}

			switch evt.Kind {
			case EventDone:
				ch <- StreamChunk{Done: true}
				return
			case EventReasoning:
				ch <- StreamChunk{Reasoning: evt.Reasoning}
			case EventContent, EventMessage, EventText:
				if evt.Content != "" {
					ch <- StreamChunk{Content: evt.Content}
				}
			}
		}
		if err := scanner.Err(); err != nil {
			ch <- StreamChunk{Error: err, Done: true}
			return
		}
		ch <- StreamChunk{Done: true}
	}()

	return ch, nil
}

func (p *CompatibleProvider) post(ctx context.Context, body compatChatReq) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("compatible marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("compatible request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("compatible chat: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("compatible chat: status %d: %s", resp.StatusCode, msg)
	}
	return resp, nil
}
