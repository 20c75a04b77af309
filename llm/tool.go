package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"relaychat/platform"
)

// Tool is a function the model may call during a run.
type Tool interface {
	Name() string
	Description() string
	// Parameters is the JSON schema of the tool input.
	Parameters() map[string]any
	Execute(ctx context.Context, input json.RawMessage) (any, error)
}

type Registry struct {
	tools   map[string]Tool
	logger  *logrus.Logger
	metrics *platform.Metrics
}

func NewRegistry(logger *logrus.Logger, metrics *platform.Metrics, tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools)), logger: logger, metrics: metrics}
	for _, t := range tools {
		r.tools[t.Name()] = t
	}
	return r
}

// List returns the tools sorted by name.
func (r *Registry) List() []Tool {
	if r == nil {
		return nil
	}
	list := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })
	return list
}

// Call executes call and always returns a result. Unknown tools, bad input and tool failures
// are reported to the model as error results.
func (r *Registry) Call(ctx context.Context, call ToolCall) ToolResult {
	result := ToolResult{ToolCallID: call.ID, ToolName: call.Name}

	var tool Tool
	if r != nil {
		tool = r.tools[call.Name]
	}
	if tool == nil {
		result.IsError = true
		result.Output = errorOutput(fmt.Errorf("unknown tool %q", call.Name))
		return result
	}

	input := call.Input
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	out, err := tool.Execute(ctx, input)
	if err == nil {
		result.Output, err = json.Marshal(out)
	}
	if err != nil {
		if r.logger != nil {
			r.logger.WithFields(logrus.Fields{"tool": call.Name, "toolCallId": call.ID}).Warnf("tool call failed, %s", err)
		}
		r.metrics.ToolCalled(call.Name, false)
		result.IsError = true
		result.Output = errorOutput(err)
		return result
	}
	r.metrics.ToolCalled(call.Name, true)
	return result
}

func errorOutput(err error) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return b
}
