package llm

import (
	"fmt"
	"strings"

	"github.com/openai/openai-go"

	"relaychat/model"
)

const missingToolResult = `{"error":"tool call did not complete"}`

// ToOpenAIMessages converts a stored conversation into chat completion messages. Assistant
// messages holding tool calls are split into one assistant message per step followed by its
// tool messages. Calls without a stored result get an error result so the request stays valid.
func ToOpenAIMessages(system string, messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if system != "" {
		out = append(out, textMessage(openai.ChatCompletionMessageParamRoleSystem, system))
	}
	for _, m := range messages {
		switch m.Role {
		case model.RoleSystem:
			if text := m.Text(); text != "" {
				out = append(out, textMessage(openai.ChatCompletionMessageParamRoleSystem, text))
			}
		case model.RoleUser:
			if msg, ok := userMessage(m); ok {
				out = append(out, msg)
			}
		case model.RoleAssistant:
			out = append(out, assistantMessages(m)...)
		}
	}
	return out
}

func textMessage(role openai.ChatCompletionMessageParamRole, text string) openai.ChatCompletionMessageParam {
	return openai.ChatCompletionMessageParam{
		Role:    openai.F(role),
		Content: openai.F[any](text),
	}
}

func userMessage(m model.Message) (openai.ChatCompletionMessageParam, bool) {
	var (
		parts    []openai.ChatCompletionContentPartUnionParam
		hasImage bool
	)
	for _, p := range m.Parts {
		switch p.Type {
		case model.PartText:
			parts = append(parts, openai.TextPart(p.Text))
		case model.PartFile:
			if strings.HasPrefix(p.MediaType, "image/") {
				parts = append(parts, openai.ImagePart(p.URL))
				hasImage = true
				continue
			}
			name := p.Filename
			if name == "" {
				name = p.URL
			}
			parts = append(parts, openai.TextPart(fmt.Sprintf("[attached file %s (%s): %s]", name, p.MediaType, p.URL)))
		}
	}
	if len(parts) == 0 {
		return openai.ChatCompletionMessageParam{}, false
	}
	if !hasImage {
		return textMessage(openai.ChatCompletionMessageParamRoleUser, m.Text()+fileNotes(m)), true
	}
	return openai.ChatCompletionMessageParam{
		Role:    openai.F(openai.ChatCompletionMessageParamRoleUser),
		Content: openai.F[any](parts),
	}, true
}

func fileNotes(m model.Message) string {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type != model.PartFile {
			continue
		}
		name := p.Filename
		if name == "" {
			name = p.URL
		}
		fmt.Fprintf(&b, "\n[attached file %s (%s): %s]", name, p.MediaType, p.URL)
	}
	return b.String()
}

type assistantStep struct {
	text  strings.Builder
	calls []model.Part
}

func assistantMessages(m model.Message) []openai.ChatCompletionMessageParamUnion {
	var (
		out     []openai.ChatCompletionMessageParamUnion
		step    = &assistantStep{}
		results = map[string]model.Part{}
	)
	flush := func() {
		out = append(out, step.messages(results)...)
		step = &assistantStep{}
	}
	for _, p := range m.Parts {
		switch p.Type {
		case model.PartText:
			// text after a tool call belongs to the next step
			if len(step.calls) > 0 {
				flush()
			}
			if step.text.Len() > 0 {
				step.text.WriteString("\n")
			}
			step.text.WriteString(p.Text)
		case model.PartToolCall:
			step.calls = append(step.calls, p)
		case model.PartToolResult:
			results[p.ToolCallID] = p
		}
	}
	flush()
	return out
}

func (s *assistantStep) messages(results map[string]model.Part) []openai.ChatCompletionMessageParamUnion {
	if s.text.Len() == 0 && len(s.calls) == 0 {
		return nil
	}
	msg := openai.ChatCompletionMessageParam{
		Role: openai.F(openai.ChatCompletionMessageParamRoleAssistant),
	}
	if s.text.Len() > 0 {
		msg.Content = openai.F[any](s.text.String())
	}
	if len(s.calls) == 0 {
		return []openai.ChatCompletionMessageParamUnion{msg}
	}

	calls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(s.calls))
	for _, c := range s.calls {
		calls = append(calls, toolCallParam(c.ToolCallID, c.ToolName, string(normalizeJSON(c.Input))))
	}
	msg.ToolCalls = openai.F[any](calls)

	out := []openai.ChatCompletionMessageParamUnion{msg}
	for _, c := range s.calls {
		content := missingToolResult
		if r, ok := results[c.ToolCallID]; ok && len(r.Output) > 0 {
			content = string(r.Output)
		}
		out = append(out, toolMessage(c.ToolCallID, content))
	}
	return out
}

func toolCallParam(id, name, arguments string) openai.ChatCompletionMessageToolCallParam {
	return openai.ChatCompletionMessageToolCallParam{
		ID:   openai.F(id),
		Type: openai.F(openai.ChatCompletionMessageToolCallTypeFunction),
		Function: openai.F(openai.ChatCompletionMessageToolCallFunctionParam{
			Name:      openai.F(name),
			Arguments: openai.F(arguments),
		}),
	}
}

func toolMessage(toolCallID, content string) openai.ChatCompletionMessageParam {
	return openai.ChatCompletionMessageParam{
		Role:       openai.F(openai.ChatCompletionMessageParamRoleTool),
		ToolCallID: openai.F(toolCallID),
		Content:    openai.F[any](content),
	}
}

func toolParams(registry *Registry) []openai.ChatCompletionToolParam {
	tools := registry.List()
	params := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		params = append(params, openai.ChatCompletionToolParam{
			Type: openai.F(openai.ChatCompletionToolTypeFunction),
			Function: openai.F(openai.FunctionDefinitionParam{
				Name:        openai.String(t.Name()),
				Description: openai.String(t.Description()),
				Parameters:  openai.F(openai.FunctionParameters(t.Parameters())),
			}),
		})
	}
	return params
}
