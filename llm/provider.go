package llm

import (
	"context"
	"encoding/json"

	"relaychat/model"
)

type EventType string

const (
	EventStepStart      EventType = "step-start"
	EventTextDelta      EventType = "text-delta"
	EventReasoningDelta EventType = "reasoning-delta"
	EventToolCall       EventType = "tool-call"
	EventToolResult     EventType = "tool-result"
	EventStepFinish     EventType = "step-finish"
	EventFinish         EventType = "finish"
	EventError          EventType = "error"
)

// Event is one item of a provider stream. A stream ends with exactly one EventFinish or EventError.
type Event struct {
	Type  EventType
	Delta string

	ToolCall   *ToolCall
	ToolResult *ToolResult

	// Set on EventFinish: the assistant messages of the whole run, in order.
	Messages     []model.Message
	FinishReason string
	Usage        Usage

	Err error
}

type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

type ToolResult struct {
	ToolCallID string
	ToolName   string
	Output     json.RawMessage
	IsError    bool
}

type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

type Request struct {
	System   string
	Messages []model.Message
	Tools    *Registry
	MaxSteps int
}

// Provider produces a model response as a stream of events. The returned channel is closed after
// the terminal event. Implementations must stop producing when ctx is done.
type Provider interface {
	Stream(ctx context.Context, req Request) <-chan Event
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, req Request) <-chan Event

func (f ProviderFunc) Stream(ctx context.Context, req Request) <-chan Event {
	return f(ctx, req)
}
