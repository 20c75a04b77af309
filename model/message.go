package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type PartType string

const (
	PartText       PartType = "text"
	PartReasoning  PartType = "reasoning"
	PartToolCall   PartType = "tool-call"
	PartToolResult PartType = "tool-result"
	PartFile       PartType = "file"
	PartSource     PartType = "source"
)

// Message is one conversational turn. It is stored as an opaque JSON payload.
type Message struct {
	ID    string `json:"id,omitempty"`
	Role  Role   `json:"role" binding:"required"`
	Parts []Part `json:"parts" binding:"required,min=1,dive"`
}

// Part is one typed fragment of a message. Type selects which of the other fields are meaningful:
//
//	text, reasoning: Text
//	tool-call:       ToolCallID, ToolName, Input
//	tool-result:     ToolCallID, ToolName, Output, IsError
//	file:            URL, MediaType, Filename
//	source:          SourceID, URL, Title
type Part struct {
	Type       PartType        `json:"type" binding:"required"`
	Text       string          `json:"text,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	IsError    bool            `json:"isError,omitempty"`
	URL        string          `json:"url,omitempty"`
	MediaType  string          `json:"mediaType,omitempty"`
	Filename   string          `json:"filename,omitempty"`
	SourceID   string          `json:"sourceId,omitempty"`
	Title      string          `json:"title,omitempty"`
}

func TextPart(text string) Part {
	return Part{Type: PartText, Text: text}
}

func ReasoningPart(text string) Part {
	return Part{Type: PartReasoning, Text: text}
}

func (p Part) Validate() error {
	switch p.Type {
	case PartText, PartReasoning:
		if p.Text == "" {
			return fmt.Errorf("%s part requires text", p.Type)
		}
	case PartToolCall:
		if p.ToolCallID == "" || p.ToolName == "" {
			return errors.New("tool-call part requires toolCallId and toolName")
		}
		if len(p.Input) > 0 && !json.Valid(p.Input) {
			return errors.New("tool-call input must be valid JSON")
		}
	case PartToolResult:
		if p.ToolCallID == "" || p.ToolName == "" {
			return errors.New("tool-result part requires toolCallId and toolName")
		}
		if len(p.Output) > 0 && !json.Valid(p.Output) {
			return errors.New("tool-result output must be valid JSON")
		}
	case PartFile:
		if p.URL == "" || p.MediaType == "" {
			return errors.New("file part requires url and mediaType")
		}
	case PartSource:
		if p.SourceID == "" || p.URL == "" {
			return errors.New("source part requires sourceId and url")
		}
	default:
		// closed set: misspelled types such as "text174" are rejected rather than stored
		return fmt.Errorf("unknown part type %q", p.Type)
	}
	return nil
}

// Validate checks the role and every part, returning one message per problem.
func (m Message) Validate() []string {
	var problems []string
	switch m.Role {
	case RoleSystem, RoleUser, RoleAssistant:
	default:
		problems = append(problems, fmt.Sprintf("unknown role %q", m.Role))
	}
	if len(m.Parts) == 0 {
		problems = append(problems, "message requires at least one part")
	}
	for i, p := range m.Parts {
		if err := p.Validate(); err != nil {
			problems = append(problems, fmt.Sprintf("parts[%d]: %s", i, err))
		}
	}
	return problems
}

// Text joins the text parts of the message.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type != PartText {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(p.Text)
	}
	return b.String()
}

// FirstText returns the text of the first part when it is a text part.
func (m Message) FirstText() string {
	if len(m.Parts) > 0 && m.Parts[0].Type == PartText {
		return m.Parts[0].Text
	}
	return ""
}
