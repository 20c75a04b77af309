package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// OpenAIProvider streams chat completions from an OpenAI compatible endpoint and runs the tool
// loop between steps.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	logger *logrus.Logger
}

func NewOpenAIProvider(client *openai.Client, model string, logger *logrus.Logger) *OpenAIProvider {
	return &OpenAIProvider{client: client, model: model, logger: logger}
}

func (p *OpenAIProvider) Stream(ctx context.Context, req Request) <-chan Event {
	events := make(chan Event)
	go func() {
		defer close(events)
		p.run(ctx, req, func(e Event) bool {
			select {
			case events <- e:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()
	return events
}

type stepResult struct {
	text         string
	calls        []ToolCall
	finishReason string
	usage        Usage
}

func (p *OpenAIProvider) run(ctx context.Context, req Request, send func(Event) bool) {
	messages := ToOpenAIMessages(req.System, req.Messages)
	tools := toolParams(req.Tools)
	maxSteps := req.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 1
	}

	var (
		builder MessageBuilder
		usage   Usage
		reason  string
	)
	for step := 0; step < maxSteps; step++ {
		if !send(Event{Type: EventStepStart}) {
			return
		}

		result, err := p.step(ctx, messages, tools, &builder, send)
		usage = usage.Add(result.usage)
		if err != nil {
			send(Event{Type: EventError, Err: err, Usage: usage})
			return
		}
		reason = result.finishReason

		if len(result.calls) > 0 {
			assistant := openai.ChatCompletionMessageParam{
				Role: openai.F(openai.ChatCompletionMessageParamRoleAssistant),
			}
			if result.text != "" {
				assistant.Content = openai.F[any](result.text)
			}
			params := make([]openai.ChatCompletionMessageToolCallParam, 0, len(result.calls))
			for _, call := range result.calls {
				params = append(params, toolCallParam(call.ID, call.Name, string(call.Input)))
			}
			assistant.ToolCalls = openai.F[any](params)
			messages = append(messages, assistant)

			for _, call := range result.calls {
				call := call
				builder.AddToolCall(call)
				if !send(Event{Type: EventToolCall, ToolCall: &call}) {
					return
				}
				res := req.Tools.Call(ctx, call)
				builder.AddToolResult(res)
				if !send(Event{Type: EventToolResult, ToolResult: &res}) {
					return
				}
				messages = append(messages, toolMessage(call.ID, string(res.Output)))
			}
		}

		if !send(Event{Type: EventStepFinish, FinishReason: reason, Usage: result.usage}) {
			return
		}
		if len(result.calls) == 0 {
			break
		}
		if step == maxSteps-1 && p.logger != nil {
			p.logger.WithField("maxSteps", maxSteps).Info("step budget exhausted")
		}
	}

	final := builder.Message()
	finish := Event{Type: EventFinish, FinishReason: reason, Usage: usage}
	if len(final.Parts) > 0 {
		finish.Messages = append(finish.Messages, final)
	}
	send(finish)
}

// step runs one streaming completion, forwarding deltas as they arrive.
func (p *OpenAIProvider) step(
	ctx context.Context,
	messages []openai.ChatCompletionMessageParamUnion,
	tools []openai.ChatCompletionToolParam,
	builder *MessageBuilder,
	send func(Event) bool,
) (stepResult, error) {
	params := openai.ChatCompletionNewParams{
		Messages: openai.F(messages),
		Model:    openai.F(openai.ChatModel(p.model)),
		StreamOptions: openai.F(openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.F(true),
		}),
	}
	if len(tools) > 0 {
		params.Tools = openai.F(tools)
	}

	var result stepResult
	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	var text strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		if chunk.Usage.TotalTokens > 0 {
			result.usage = Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		// reasoning models on compatible endpoints put their thinking in a non-standard field
		if reasoning := gjson.Get(delta.JSON.RawJSON(), "reasoning_content").String(); reasoning != "" {
			builder.AddReasoning(reasoning)
			if !send(Event{Type: EventReasoningDelta, Delta: reasoning}) {
				return result, ctx.Err()
			}
		}
		if delta.Content != "" {
			builder.AddText(delta.Content)
			text.WriteString(delta.Content)
			if !send(Event{Type: EventTextDelta, Delta: delta.Content}) {
				return result, ctx.Err()
			}
		}
	}
	builder.Close()
	if err := stream.Err(); err != nil {
		return result, fmt.Errorf("completion stream error: %w", err)
	}

	result.text = text.String()
	if len(acc.Choices) > 0 {
		choice := acc.Choices[0]
		result.finishReason = finishReason(string(choice.FinishReason))
		for i, tc := range choice.Message.ToolCalls {
			id := tc.ID
			if id == "" {
				id = fmt.Sprintf("call_%d", i)
			}
			result.calls = append(result.calls, ToolCall{
				ID:    id,
				Name:  tc.Function.Name,
				Input: normalizeJSON(json.RawMessage(tc.Function.Arguments)),
			})
		}
	}
	return result, nil
}

func finishReason(reason string) string {
	switch reason {
	case "tool_calls", "function_call":
		return "tool-calls"
	case "content_filter":
		return "content-filter"
	case "":
		return "unknown"
	default:
		return reason
	}
}
