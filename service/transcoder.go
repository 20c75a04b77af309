package service

import (
	"encoding/json"
	"strconv"

	"github.com/tidwall/gjson"

	"relaychat/llm"
)

const (
	FrameStart               = "start"
	FrameStartStep           = "start-step"
	FrameTextStart           = "text-start"
	FrameTextDelta           = "text-delta"
	FrameTextEnd             = "text-end"
	FrameReasoningStart      = "reasoning-start"
	FrameReasoningDelta      = "reasoning-delta"
	FrameReasoningEnd        = "reasoning-end"
	FrameToolInputAvailable  = "tool-input-available"
	FrameToolOutputAvailable = "tool-output-available"
	FrameToolOutputError     = "tool-output-error"
	FrameFinishStep          = "finish-step"
	FrameFinish              = "finish"
	FrameError               = "error"

	// GenericErrorText is what clients see for a failed stream outside dev mode.
	GenericErrorText = "error"
)

// Frame is one event of the client stream, encoded as a JSON object.
type Frame struct {
	Type         string          `json:"type"`
	ID           string          `json:"id,omitempty"`
	Delta        string          `json:"delta,omitempty"`
	MessageID    string          `json:"messageId,omitempty"`
	ChatID       string          `json:"chatId,omitempty"`
	ToolCallID   string          `json:"toolCallId,omitempty"`
	ToolName     string          `json:"toolName,omitempty"`
	Input        json.RawMessage `json:"input,omitempty"`
	Output       json.RawMessage `json:"output,omitempty"`
	ErrorText    string          `json:"errorText,omitempty"`
	FinishReason string          `json:"finishReason,omitempty"`
}

// StreamWriter delivers frames to the client. Every frame must be flushed before WriteFrame
// returns.
type StreamWriter interface {
	WriteFrame(frame Frame) error
	// WriteDone terminates the stream.
	WriteDone() error
}

// transcoder turns provider events into client frames. Text and reasoning deltas are wrapped
// in start/end frames that share a block id.
type transcoder struct {
	messageID string
	chatID    string

	openType string
	openID   string
	blocks   int
}

func newTranscoder(messageID, chatID string) *transcoder {
	return &transcoder{messageID: messageID, chatID: chatID}
}

func (t *transcoder) start() Frame {
	return Frame{Type: FrameStart, MessageID: t.messageID, ChatID: t.chatID}
}

// frames converts e. errorText replaces the cause of error events.
func (t *transcoder) frames(e llm.Event, errorText func(error) string) []Frame {
	switch e.Type {
	case llm.EventStepStart:
		return append(t.closeBlock(), Frame{Type: FrameStartStep})
	case llm.EventTextDelta:
		return append(t.openBlock(FrameTextStart), Frame{Type: FrameTextDelta, ID: t.openID, Delta: e.Delta})
	case llm.EventReasoningDelta:
		return append(t.openBlock(FrameReasoningStart), Frame{Type: FrameReasoningDelta, ID: t.openID, Delta: e.Delta})
	case llm.EventToolCall:
		if e.ToolCall == nil {
			return nil
		}
		return append(t.closeBlock(), Frame{
			Type:       FrameToolInputAvailable,
			ToolCallID: e.ToolCall.ID,
			ToolName:   e.ToolCall.Name,
			Input:      e.ToolCall.Input,
		})
	case llm.EventToolResult:
		if e.ToolResult == nil {
			return nil
		}
		frames := t.closeBlock()
		if e.ToolResult.IsError {
			text := gjson.GetBytes(e.ToolResult.Output, "error").String()
			if text == "" {
				text = GenericErrorText
			}
			return append(frames, Frame{Type: FrameToolOutputError, ToolCallID: e.ToolResult.ToolCallID, ErrorText: text})
		}
		return append(frames, Frame{Type: FrameToolOutputAvailable, ToolCallID: e.ToolResult.ToolCallID, Output: e.ToolResult.Output})
	case llm.EventStepFinish:
		return append(t.closeBlock(), Frame{Type: FrameFinishStep})
	case llm.EventFinish:
		return append(t.closeBlock(), Frame{Type: FrameFinish, FinishReason: e.FinishReason})
	case llm.EventError:
		return append(t.closeBlock(), t.errorFrame(e.Err, errorText))
	}
	return nil
}

func (t *transcoder) errorFrame(err error, errorText func(error) string) Frame {
	return Frame{Type: FrameError, ErrorText: errorText(err)}
}

func (t *transcoder) openBlock(startType string) []Frame {
	if t.openType == startType {
		return nil
	}
	frames := t.closeBlock()
	t.openType = startType
	t.openID = strconv.Itoa(t.blocks)
	t.blocks++
	return append(frames, Frame{Type: startType, ID: t.openID})
}

func (t *transcoder) closeBlock() []Frame {
	if t.openType == "" {
		return nil
	}
	end := FrameTextEnd
	if t.openType == FrameReasoningStart {
		end = FrameReasoningEnd
	}
	frame := Frame{Type: end, ID: t.openID}
	t.openType, t.openID = "", ""
	return []Frame{frame}
}
