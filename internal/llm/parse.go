package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Compatible endpoints answer in a handful of wire shapes: streaming
// deltas (reasoning or content), a full message object, or a bare JSON
// string. ParseEvent decodes one payload into exactly one of those
// shapes; anything else is a parse error, never a silent fallback.

type EventKind int

const (
	EventUnknown EventKind = iota
	EventReasoning
	EventContent
	EventMessage
	EventText
	EventDone
)

func (k EventKind) String() string {
	switch k {
	case EventReasoning:
		return "reasoning"
	case EventContent:
		return "content"
	case EventMessage:
		return "message"
	case EventText:
		return "text"
	case EventDone:
		return "done"
	}
	return "unknown"
}

type Event struct {
	Kind      EventKind
	Reasoning string
	Content   string
}

var ErrUnknownShape = errors.New("llm: response shape not recognized")

// wireEvent mirrors the OpenAI-compatible completion payload closely
// enough to tell the known shapes apart.
type wireEvent struct {
	Choices []struct {
		Delta *struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"delta"`
		Message *struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

const doneSentinel = "[DONE]"

func ParseEvent(data []byte) (Event, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return Event{}, fmt.Errorf("%w: empty payload", ErrUnknownShape)
	}
	if trimmed == doneSentinel {
		return Event{Kind: EventDone}, nil
	}

	var wire wireEvent
	if err := json.Unmarshal([]byte(trimmed), &wire); err == nil && len(wire.Choices) > 0 {
		choice := wire.Choices[0]
		switch {
		case choice.Delta != nil && choice.Delta.ReasoningContent != "":
			return Event{Kind: EventReasoning, Reasoning: choice.Delta.ReasoningContent}, nil
		case choice.Delta != nil && choice.Delta.Content != "":
			return Event{Kind: EventContent, Content: choice.Delta.Content}, nil
		case choice.Message != nil:
			return Event{Kind: EventMessage, Content: choice.Message.Content}, nil
		case choice.FinishReason != nil && *choice.FinishReason != "":
			return Event{Kind: EventDone}, nil
		case choice.Delta != nil:
			// Heartbeat delta with no text yet.
			return Event{Kind: EventContent}, nil
		}
		return Event{}, fmt.Errorf("%w: choice carries neither delta nor message", ErrUnknownShape)
	}

	var text string
	if err := json.Unmarshal([]byte(trimmed), &text); err == nil {
		return Event{Kind: EventText, Content: text}, nil
	}

	return Event{}, fmt.Errorf("%w: %.80s", ErrUnknownShape, trimmed)
}
