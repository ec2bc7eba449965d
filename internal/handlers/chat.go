package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"chatrelay-backend/internal/middleware"
	"chatrelay-backend/internal/models"
	"chatrelay-backend/internal/services"
	"chatrelay-backend/internal/stream"
)

const (
	// SelectedModelCookie carries the model the user picked in the client.
	SelectedModelCookie = "selected-model"
	SelectedModelHeader = "X-Selected-Model"

	maxChatBodyBytes = 4 << 20
)

type chatService interface {
	Authorize(caller services.Caller) error
	BeginTurn(ctx context.Context, caller services.Caller, req services.TurnRequest) (*services.Turn, error)
	DeleteConversation(ctx context.Context, caller services.Caller, id string) error
	GetConversation(ctx context.Context, caller services.Caller, id string) (*models.ConversationResponse, error)
	ListConversations(ctx context.Context, caller services.Caller, limit int) ([]*models.Conversation, error)
}

type ChatHandler struct {
	chat     chatService
	validate *validator.Validate
}

func NewChatHandler(chat chatService) *ChatHandler {
	return &ChatHandler{
		chat:     chat,
		validate: newValidator(),
	}
}

func callerFrom(r *http.Request) services.Caller {
	userID, ok := middleware.UserFromContext(r.Context())
	return services.Caller{UserID: userID, Authenticated: ok}
}

func selectedModel(r *http.Request) string {
	if c, err := r.Cookie(SelectedModelCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return r.Header.Get(SelectedModelHeader)
}

// Create handles POST /chat: it validates the turn, then streams the
// assistant response as a UI message stream.
func (h *ChatHandler) Create(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r)
	if err := h.chat.Authorize(caller); err != nil {
		handleServiceError(w, r, err)
		return
	}

	var req models.ChatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", validationFields(err), r))
		return
	}

	// Checked before BeginTurn stores anything.
	sw, err := stream.NewWriter(w)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Streaming unsupported", r))
		return
	}

	turn, err := h.chat.BeginTurn(r.Context(), caller, services.TurnRequest{
		ConversationID: req.ID,
		Messages:       req.Messages,
		Model:          selectedModel(r),
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	stream.SetHeaders(w)
	w.WriteHeader(http.StatusOK)

	if err := turn.Stream(r.Context(), sw); err != nil {
		slog.Info("Chat stream ended early",
			"chat_id", req.ID,
			"message_id", turn.MessageID(),
			"request_id", r.Header.Get(middleware.RequestIDHeader),
			"error", err)
	}
}

// Delete handles DELETE /chat.
func (h *ChatHandler) Delete(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r)
	if !caller.Authenticated {
		handleServiceError(w, r, &services.UnauthorizedError{Message: "Unauthorized"})
		return
	}

	var req models.DeleteChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", validationFields(err), r))
		return
	}

	if err := h.chat.DeleteConversation(r.Context(), caller, req.ID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Chat deleted"})
}

func (h *ChatHandler) Get(w http.ResponseWriter, r *http.Request) {
	resp, err := h.chat.GetConversation(r.Context(), callerFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	convs, err := h.chat.ListConversations(r.Context(), callerFrom(r), limit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"chats": convs})
}
