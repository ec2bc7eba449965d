package services

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"chatrelay-backend/internal/llm"
	"chatrelay-backend/internal/models"
)

// ConvertToUIMessages maps stored messages to their client representation,
// preserving order.
func ConvertToUIMessages(messages []*models.Message) []models.UIMessage {
	out := make([]models.UIMessage, 0, len(messages))
	for _, m := range messages {
		createdAt := m.CreatedAt
		out = append(out, models.UIMessage{
			ID:        m.ID,
			Role:      m.Role,
			Parts:     m.Parts,
			CreatedAt: &createdAt,
		})
	}
	return out
}

// MostRecentUserMessage returns the last message with role user.
func MostRecentUserMessage(messages []models.UIMessage) (models.UIMessage, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			return messages[i], true
		}
	}
	return models.UIMessage{}, false
}

// FromUIMessage builds the stored form of ui. The timestamp is always the
// server's; any client-supplied createdAt is ignored.
func FromUIMessage(conversationID string, ui models.UIMessage, now time.Time) *models.Message {
	return &models.Message{
		ID:             ui.ID,
		ConversationID: conversationID,
		Role:           ui.Role,
		Parts:          ui.Parts,
		CreatedAt:      now,
	}
}

// MessageText concatenates the text parts of a message.
func MessageText(ui models.UIMessage) string {
	var b strings.Builder
	for _, p := range ui.Parts {
		if p.Type == models.PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// ToModelMessages converts UI history into provider messages. Reasoning is
// dropped. An assistant message is split at step boundaries so that each
// step's tool calls are followed by their results. Tool invocations without
// a result are dropped since providers reject unanswered calls.
func ToModelMessages(messages []models.UIMessage) []llm.Message {
	var out []llm.Message
	for _, m := range messages {
		switch m.Role {
		case models.RoleUser, models.RoleSystem:
			if text := userContent(m.Parts); text != "" {
				out = append(out, llm.Message{Role: m.Role, Content: text})
			}
		case models.RoleAssistant:
			out = append(out, assistantMessages(m.Parts)...)
		}
	}
	return out
}

func userContent(parts []models.Part) string {
	var chunks []string
	for _, p := range parts {
		switch p.Type {
		case models.PartText:
			if p.Text != "" {
				chunks = append(chunks, p.Text)
			}
		case models.PartFile:
			name := p.Filename
			if name == "" {
				name = "attachment"
			}
			chunks = append(chunks, fmt.Sprintf("[%s (%s): %s]", name, p.MediaType, p.URL))
		}
	}
	return strings.Join(chunks, "\n")
}

func assistantMessages(parts []models.Part) []llm.Message {
	var out []llm.Message
	var text strings.Builder
	var calls []llm.ToolCall
	var results []llm.Message

	flush := func() {
		if text.Len() > 0 || len(calls) > 0 {
			out = append(out, llm.Message{Role: llm.RoleAssistant, Content: text.String(), ToolCalls: calls})
			out = append(out, results...)
		}
		text.Reset()
		calls, results = nil, nil
	}

	for _, p := range parts {
		switch {
		case p.Type == models.PartStepStart:
			flush()
		case p.Type == models.PartText:
			text.WriteString(p.Text)
		case p.IsTool():
			output, ok := toolOutput(p)
			if !ok {
				continue
			}
			args := p.Input
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			calls = append(calls, llm.ToolCall{ID: p.ToolCallID, Name: p.ToolName(), Arguments: args})
			results = append(results, llm.Message{
				Role:       llm.RoleTool,
				Content:    string(output),
				ToolCallID: p.ToolCallID,
				ToolName:   p.ToolName(),
			})
		}
	}
	flush()
	return out
}

func toolOutput(p models.Part) (json.RawMessage, bool) {
	switch p.State {
	case models.ToolStateOutputAvailable:
		if len(p.Output) == 0 {
			return json.RawMessage("null"), true
		}
		return p.Output, true
	case models.ToolStateOutputError:
		msg, _ := json.Marshal(map[string]string{"error": p.ErrorText})
		return msg, true
	}
	return nil, false
}
