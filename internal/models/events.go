package models

// WebSocket message types
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Event types published to a user's live channel.
const (
	EventConversationCreated = "conversation_created"
	EventConversationDeleted = "conversation_deleted"
	EventMessagesSaved       = "messages_saved"
)

type ConversationEvent struct {
	ConversationID string `json:"chat_id"`
	Title          string `json:"title,omitempty"`
}

type MessagesSavedEvent struct {
	ConversationID string   `json:"chat_id"`
	MessageIDs     []string `json:"message_ids"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
