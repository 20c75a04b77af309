package llm

import (
	"encoding/json"
	"strings"

	"relaychat/model"
)

// MessageBuilder assembles an assistant message from stream events. Contiguous deltas of the
// same kind are merged into one part.
type MessageBuilder struct {
	parts []model.Part
	open  *strings.Builder
	kind  model.PartType
}

func (b *MessageBuilder) AddText(delta string) {
	b.addDelta(model.PartText, delta)
}

func (b *MessageBuilder) AddReasoning(delta string) {
	b.addDelta(model.PartReasoning, delta)
}

func (b *MessageBuilder) addDelta(kind model.PartType, delta string) {
	if delta == "" {
		return
	}
	if b.open == nil || b.kind != kind {
		b.flush()
		b.open = &strings.Builder{}
		b.kind = kind
	}
	b.open.WriteString(delta)
}

func (b *MessageBuilder) AddToolCall(call ToolCall) {
	b.flush()
	b.parts = append(b.parts, model.Part{
		Type:       model.PartToolCall,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Input:      normalizeJSON(call.Input),
	})
}

func (b *MessageBuilder) AddToolResult(result ToolResult) {
	b.flush()
	b.parts = append(b.parts, model.Part{
		Type:       model.PartToolResult,
		ToolCallID: result.ToolCallID,
		ToolName:   result.ToolName,
		Output:     normalizeJSON(result.Output),
		IsError:    result.IsError,
	})
}

// Close ends the current text or reasoning block, so the next delta starts a new part.
func (b *MessageBuilder) Close() {
	b.flush()
}

func (b *MessageBuilder) flush() {
	if b.open == nil {
		return
	}
	b.parts = append(b.parts, model.Part{Type: b.kind, Text: b.open.String()})
	b.open = nil
}

func (b *MessageBuilder) Empty() bool {
	return len(b.parts) == 0 && b.open == nil
}

// Message returns the assistant message built so far.
func (b *MessageBuilder) Message() model.Message {
	parts := make([]model.Part, len(b.parts), len(b.parts)+1)
	copy(parts, b.parts)
	if b.open != nil {
		parts = append(parts, model.Part{Type: b.kind, Text: b.open.String()})
	}
	return model.Message{Role: model.RoleAssistant, Parts: parts}
}

// normalizeJSON keeps valid JSON as is and stores anything else as a JSON string.
func normalizeJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	if json.Valid(raw) {
		return raw
	}
	b, _ := json.Marshal(string(raw))
	return b
}
