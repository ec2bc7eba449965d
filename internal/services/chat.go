// Package services implements the chat orchestration: authorization, the
// conversation lifecycle and streamed turns against the model gateway.
package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"chatrelay-backend/internal/llm"
	"chatrelay-backend/internal/models"
	"chatrelay-backend/internal/observability"
	"chatrelay-backend/internal/repository"
)

var tracer = otel.Tracer("chatrelay-backend/internal/services")

const (
	defaultStepLimit    = 5
	defaultModelTimeout = 2 * time.Minute
	persistTimeout      = 10 * time.Second

	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// Caller identifies who issued a request. The zero value is anonymous.
type Caller struct {
	UserID        uuid.UUID
	Authenticated bool
}

// ConversationStore is the durable conversation record store. Lookups of an
// absent id return repository.ErrNotFound.
type ConversationStore interface {
	GetByID(ctx context.Context, id string) (*models.Conversation, error)
	CreateIfAbsent(ctx context.Context, c *models.Conversation) (*models.Conversation, bool, error)
	Delete(ctx context.Context, id string) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Conversation, error)
}

// MessageStore is the append-only message history.
type MessageStore interface {
	Append(ctx context.Context, messages ...*models.Message) error
	ListByConversation(ctx context.Context, conversationID string) ([]*models.Message, error)
}

// ModelGateway is the subset of the model gateway the orchestrator needs.
type ModelGateway interface {
	Resolve(role llm.Role, name string) (llm.Capability, error)
	StreamChat(ctx context.Context, req llm.StreamRequest) (<-chan llm.Event, error)
	GenerateTitle(ctx context.Context, message string) (string, error)
}

type ChatOptions struct {
	AllowAnonymous bool
	StepLimit      int
	ModelTimeout   time.Duration
	SmoothDelay    time.Duration
}

type ChatService struct {
	conversations ConversationStore
	messages      MessageStore
	gateway       ModelGateway
	events        EventPublisher
	metrics       *observability.ChatMetrics
	opts          ChatOptions

	// creations collapses concurrent first turns on one conversation id.
	creations singleflight.Group

	now   func() time.Time
	newID func() string
}

func NewChatService(conversations ConversationStore, messages MessageStore, gateway ModelGateway, events EventPublisher, metrics *observability.ChatMetrics, opts ChatOptions) *ChatService {
	if events == nil {
		events = noopPublisher{}
	}
	if opts.StepLimit <= 0 {
		opts.StepLimit = defaultStepLimit
	}
	if opts.ModelTimeout <= 0 {
		opts.ModelTimeout = defaultModelTimeout
	}
	return &ChatService{
		conversations: conversations,
		messages:      messages,
		gateway:       gateway,
		events:        events,
		metrics:       metrics,
		opts:          opts,
		now:           func() time.Time { return time.Now().UTC() },
		newID:         uuid.NewString,
	}
}

// Authorize checks that caller may chat at all.
func (s *ChatService) Authorize(caller Caller) error {
	if !caller.Authenticated && !s.opts.AllowAnonymous {
		return &UnauthorizedError{Message: "Unauthorized"}
	}
	return nil
}

// TurnRequest is everything a create/continue call carries.
type TurnRequest struct {
	ConversationID string
	Messages       []models.UIMessage
	Model          string
}

// BeginTurn validates req and, for authenticated callers, makes sure the
// conversation exists and belongs to the caller before recording the user
// message. Every error is returned before the model is invoked.
func (s *ChatService) BeginTurn(ctx context.Context, caller Caller, req TurnRequest) (*Turn, error) {
	ctx, span := tracer.Start(ctx, "ChatService.BeginTurn")
	defer span.End()
	span.SetAttributes(
		attribute.String("chat.id", req.ConversationID),
		attribute.String("chat.model", req.Model),
		attribute.Bool("chat.authenticated", caller.Authenticated),
	)

	if err := s.Authorize(caller); err != nil {
		return nil, err
	}
	if req.Model == "" {
		return nil, &BadRequestError{Message: "No model selected", Fields: map[string]string{"model": "required"}}
	}
	if _, err := s.gateway.Resolve(llm.RoleChat, req.Model); err != nil {
		if errors.Is(err, llm.ErrUnknownModel) {
			return nil, &BadRequestError{Message: "Unknown model", Fields: map[string]string{"model": "unknown"}}
		}
		return nil, &InternalError{Message: "Failed to resolve model", Err: err}
	}
	if req.ConversationID == "" {
		return nil, &BadRequestError{Message: "Missing chat id", Fields: map[string]string{"id": "required"}}
	}
	userMessage, ok := MostRecentUserMessage(req.Messages)
	if !ok {
		return nil, &BadRequestError{Message: "No user message found", Fields: map[string]string{"messages": "user message required"}}
	}

	if caller.Authenticated {
		conv, err := s.ensureConversation(ctx, caller, req.ConversationID, userMessage)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if conv.UserID != caller.UserID {
			return nil, &ForbiddenError{Message: "Forbidden"}
		}

		if err := s.messages.Append(ctx, FromUIMessage(req.ConversationID, userMessage, s.now())); err != nil {
			if errors.Is(err, repository.ErrMessageConflict) {
				return nil, &BadRequestError{Message: "Message id already in use", Fields: map[string]string{"messages": "duplicate id"}}
			}
			s.metrics.PersistFailed(models.RoleUser)
			span.RecordError(err)
			return nil, &InternalError{Message: "Failed to save message", Err: err}
		}
	}

	return &Turn{
		svc:            s,
		caller:         caller,
		conversationID: req.ConversationID,
		model:          req.Model,
		history:        req.Messages,
		messageID:      s.newID(),
	}, nil
}

// ensureConversation loads the conversation, creating it with a generated
// title when absent. Title generation and creation form one unit: concurrent
// first turns on the same id share a single attempt, and the insert is a
// no-op when another instance won the race.
func (s *ChatService) ensureConversation(ctx context.Context, caller Caller, id string, userMessage models.UIMessage) (*models.Conversation, error) {
	conv, err := s.conversations.GetByID(ctx, id)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, &InternalError{Message: "Failed to load chat", Err: err}
	}

	v, err, _ := s.creations.Do(id, func() (interface{}, error) {
		// Shared by every waiter, so it must not die with the first caller.
		unitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ModelTimeout)
		defer cancel()

		title, err := s.gateway.GenerateTitle(unitCtx, MessageText(userMessage))
		if err != nil {
			return nil, &InternalError{Message: "Failed to generate title", Err: err}
		}
		s.metrics.TitleGenerated()

		stored, created, err := s.conversations.CreateIfAbsent(unitCtx, &models.Conversation{
			ID:        id,
			UserID:    caller.UserID,
			Title:     title,
			CreatedAt: s.now(),
		})
		if err != nil {
			return nil, &InternalError{Message: "Failed to create chat", Err: err}
		}
		if created {
			slog.Info("Conversation created", "chat_id", id, "user_id", caller.UserID)
			s.publish(unitCtx, stored.UserID, models.EventConversationCreated, models.ConversationEvent{
				ConversationID: stored.ID,
				Title:          stored.Title,
			})
		}
		return stored, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Conversation), nil
}

// DeleteConversation removes a conversation and its messages. Only the owner
// may delete.
func (s *ChatService) DeleteConversation(ctx context.Context, caller Caller, id string) error {
	ctx, span := tracer.Start(ctx, "ChatService.DeleteConversation")
	defer span.End()

	conv, err := s.ownedConversation(ctx, caller, id)
	if err != nil {
		return err
	}

	if err := s.conversations.Delete(ctx, conv.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &NotFoundError{Message: "Chat not found"}
		}
		span.RecordError(err)
		return &InternalError{Message: "Failed to delete chat", Err: err}
	}

	s.metrics.ConversationDeleted()
	s.publish(ctx, caller.UserID, models.EventConversationDeleted, models.ConversationEvent{ConversationID: conv.ID})
	return nil
}

// GetConversation returns a conversation with its full history.
func (s *ChatService) GetConversation(ctx context.Context, caller Caller, id string) (*models.ConversationResponse, error) {
	conv, err := s.ownedConversation(ctx, caller, id)
	if err != nil {
		return nil, err
	}

	messages, err := s.messages.ListByConversation(ctx, conv.ID)
	if err != nil {
		return nil, &InternalError{Message: "Failed to load messages", Err: err}
	}
	return &models.ConversationResponse{
		Conversation: conv,
		Messages:     ConvertToUIMessages(messages),
	}, nil
}

// ListConversations returns the caller's conversations, newest first.
func (s *ChatService) ListConversations(ctx context.Context, caller Caller, limit int) ([]*models.Conversation, error) {
	if !caller.Authenticated {
		return nil, &UnauthorizedError{Message: "Unauthorized"}
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	convs, err := s.conversations.ListByUser(ctx, caller.UserID, limit)
	if err != nil {
		return nil, &InternalError{Message: "Failed to load chats", Err: err}
	}
	if convs == nil {
		convs = []*models.Conversation{}
	}
	return convs, nil
}

func (s *ChatService) ownedConversation(ctx context.Context, caller Caller, id string) (*models.Conversation, error) {
	if !caller.Authenticated {
		return nil, &UnauthorizedError{Message: "Unauthorized"}
	}
	if id == "" {
		return nil, &BadRequestError{Message: "Missing chat id", Fields: map[string]string{"id": "required"}}
	}

	conv, err := s.conversations.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Message: "Chat not found"}
	}
	if err != nil {
		return nil, &InternalError{Message: "Failed to load chat", Err: err}
	}
	if conv.UserID != caller.UserID {
		return nil, &ForbiddenError{Message: "Forbidden"}
	}
	return conv, nil
}

func (s *ChatService) publish(ctx context.Context, userID uuid.UUID, eventType string, payload interface{}) {
	if err := s.events.Publish(ctx, userID, models.WSMessage{Type: eventType, Payload: payload}); err != nil {
		slog.Warn("Failed to publish event", "type", eventType, "user_id", userID, "error", err)
	}
}
