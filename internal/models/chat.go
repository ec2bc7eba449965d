package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Part types the server produces or inspects. Anything else is carried through untouched.
const (
	PartText      = "text"
	PartReasoning = "reasoning"
	PartStepStart = "step-start"
	PartFile      = "file"

	toolPartPrefix = "tool-"
)

// Tool part states.
const (
	ToolStateInputAvailable  = "input-available"
	ToolStateOutputAvailable = "output-available"
	ToolStateOutputError     = "output-error"
)

// Conversation is a titled, owned thread of messages.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is the persisted form of a single turn entry.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"chat_id"`
	Role           string    `json:"role"`
	Parts          []Part    `json:"parts"`
	CreatedAt      time.Time `json:"created_at"`
}

// Part is one content element of a message. The orchestrator only looks at text,
// reasoning and tool parts; the rest is stored as sent.
type Part struct {
	Type       string          `json:"type" validate:"required"`
	Text       string          `json:"text,omitempty"`
	State      string          `json:"state,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	ErrorText  string          `json:"errorText,omitempty"`
	URL        string          `json:"url,omitempty"`
	MediaType  string          `json:"mediaType,omitempty"`
	Filename   string          `json:"filename,omitempty"`

	// extra holds the fields not modelled above (providerMetadata, sourceId,
	// data of data-* parts, ...), re-emitted verbatim on encode.
	extra map[string]json.RawMessage
}

// partFields is Part without its methods, for the default codec.
type partFields Part

var knownPartKeys = []string{
	"type", "text", "state", "toolCallId", "input", "output",
	"errorText", "url", "mediaType", "filename",
}

func (p *Part) UnmarshalJSON(data []byte) error {
	var fields partFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, k := range knownPartKeys {
		delete(raw, k)
	}
	if len(raw) == 0 {
		raw = nil
	}

	*p = Part(fields)
	p.extra = raw
	return nil
}

func (p Part) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(partFields(p))
	if err != nil || len(p.extra) == 0 {
		return known, err
	}

	merged := make(map[string]json.RawMessage, len(p.extra)+len(knownPartKeys))
	for k, v := range p.extra {
		merged[k] = v
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// IsTool reports whether the part describes a tool invocation.
func (p Part) IsTool() bool {
	return strings.HasPrefix(p.Type, toolPartPrefix)
}

// ToolName returns the tool name encoded in a tool part type.
func (p Part) ToolName() string {
	return strings.TrimPrefix(p.Type, toolPartPrefix)
}

// ToolPartType builds the part type for a tool invocation.
func ToolPartType(name string) string {
	return toolPartPrefix + name
}

// UIMessage is the client-facing representation of a message.
type UIMessage struct {
	ID        string     `json:"id" validate:"required"`
	Role      string     `json:"role" validate:"required,oneof=user assistant system tool"`
	Parts     []Part     `json:"parts" validate:"dive"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

// ChatRequest is the payload of the create/continue endpoint.
type ChatRequest struct {
	ID       string      `json:"id" validate:"required"`
	Messages []UIMessage `json:"messages" validate:"required,min=1,dive"`
}

// DeleteChatRequest is the payload of the delete endpoint.
type DeleteChatRequest struct {
	ID string `json:"id" validate:"required"`
}

// ConversationResponse is returned when a conversation is loaded.
type ConversationResponse struct {
	Conversation *Conversation `json:"chat"`
	Messages     []UIMessage   `json:"messages"`
}
