package llm

import (
	"context"
	"encoding/json"
)

// Message roles understood by providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is the provider-neutral input representation of one chat message.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall // assistant only
	ToolCallID string     // tool only
	ToolName   string     // tool only
}

// ToolCall is a complete tool invocation requested by a model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolResult is the outcome of executing a ToolCall.
type ToolResult struct {
	ToolCallID string
	Name       string
	Output     json.RawMessage
	Err        error
}

// Tool is an executable capability a model may call during a turn.
type Tool struct {
	Description string
	Parameters  json.RawMessage // JSON schema
	Execute     func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

// ToolSet maps tool names to implementations. A nil set disables tool calling.
type ToolSet map[string]Tool

// FinishReason explains why a generation step ended.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCalls     FinishReason = "tool-calls"
	FinishContentFilter FinishReason = "content-filter"
	FinishOther         FinishReason = "other"
)

// Usage reports token counts when the provider supplies them.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

func (u Usage) add(o Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + o.InputTokens,
		OutputTokens: u.OutputTokens + o.OutputTokens,
	}
}

// EventType identifies an element of an incremental output stream.
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

// Event is one element of a streamed generation. Exactly one terminal event
// (EventFinish or EventError) is sent before the channel closes, unless the
// context is cancelled first.
type Event struct {
	Type         EventType
	Delta        string
	ToolCall     *ToolCall
	ToolResult   *ToolResult
	FinishReason FinishReason
	Usage        Usage
	Err          error
}

// CompletionRequest is a single generation step.
type CompletionRequest struct {
	System      string
	Messages    []Message
	Tools       ToolSet
	MaxTokens   int
	Temperature *float32
}

// LanguageModel is the chat/title capability of a provider.
type LanguageModel interface {
	// Stream runs one generation step and returns its incremental output.
	Stream(ctx context.Context, req CompletionRequest) (<-chan Event, error)
	// Generate runs one generation step and returns the full text.
	Generate(ctx context.Context, req CompletionRequest) (string, error)
	ModelID() string
}

// Image is a generated image.
type Image struct {
	Base64    string `json:"base64"`
	MediaType string `json:"media_type"`
}

// ImageModel is the image-generation capability of a provider.
type ImageModel interface {
	GenerateImage(ctx context.Context, prompt string) (*Image, error)
	ModelID() string
}

// send delivers ev unless ctx is done. It reports whether the event was sent.
func send(ctx context.Context, ch chan<- Event, ev Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
