package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// runSteps drives a multi-step generation: each step streams one completion;
// when the model stops to call tools that the active tool set can execute,
// the results are appended to the history and another step runs, up to
// stepLimit steps in total.
func runSteps(ctx context.Context, model LanguageModel, req CompletionRequest, stepLimit int, out chan<- Event) {
	if stepLimit < 1 {
		stepLimit = 1
	}

	history := append([]Message(nil), req.Messages...)
	var total Usage
	reason := FinishOther

	for step := 0; step < stepLimit; step++ {
		if !send(ctx, out, Event{Type: EventStepStart}) {
			return
		}

		stepReq := req
		stepReq.Messages = history
		events, err := model.Stream(ctx, stepReq)
		if err != nil {
			send(ctx, out, Event{Type: EventError, Err: err})
			return
		}

		var text strings.Builder
		var calls []ToolCall
		finished := false

		for ev := range events {
			switch ev.Type {
			case EventTextDelta:
				text.WriteString(ev.Delta)
			case EventToolCall:
				calls = append(calls, *ev.ToolCall)
			case EventFinish:
				finished = true
				reason = ev.FinishReason
				total = total.add(ev.Usage)
				continue
			case EventError:
				send(ctx, out, ev)
				return
			}
			if !send(ctx, out, ev) {
				return
			}
		}

		if !finished {
			if err := ctx.Err(); err != nil {
				send(ctx, out, Event{Type: EventError, Err: err})
			} else {
				send(ctx, out, Event{Type: EventError, Err: fmt.Errorf("model %s: stream ended without finishing", model.ModelID())})
			}
			return
		}

		if !send(ctx, out, Event{Type: EventStepFinish, FinishReason: reason}) {
			return
		}

		if reason != FinishToolCalls || len(calls) == 0 || !canExecute(req.Tools, calls) {
			break
		}

		history = append(history, Message{Role: RoleAssistant, Content: text.String(), ToolCalls: calls})
		for _, call := range calls {
			result := executeTool(ctx, req.Tools[call.Name], call)
			if !send(ctx, out, Event{Type: EventToolResult, ToolResult: &result}) {
				return
			}
			history = append(history, Message{
				Role:       RoleTool,
				Content:    string(result.Output),
				ToolCallID: call.ID,
				ToolName:   call.Name,
			})
		}
	}

	send(ctx, out, Event{Type: EventFinish, FinishReason: reason, Usage: total})
}

func canExecute(tools ToolSet, calls []ToolCall) bool {
	for _, c := range calls {
		if t, ok := tools[c.Name]; !ok || t.Execute == nil {
			return false
		}
	}
	return true
}

func executeTool(ctx context.Context, tool Tool, call ToolCall) ToolResult {
	result := ToolResult{ToolCallID: call.ID, Name: call.Name}
	output, err := tool.Execute(ctx, call.Arguments)
	if err != nil {
		result.Err = err
		msg, _ := json.Marshal(map[string]string{"error": err.Error()})
		result.Output = msg
		return result
	}
	result.Output = output
	return result
}
