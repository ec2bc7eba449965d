package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"chatrelay-backend/internal/llm"
	"chatrelay-backend/internal/models"
	"chatrelay-backend/internal/observability"
	"chatrelay-backend/internal/stream"
)

// streamErrorText is all a client learns about a failed generation.
const streamErrorText = "An error occurred."

// Turn is a validated create/continue request whose user message, for
// authenticated callers, is already stored.
type Turn struct {
	svc            *ChatService
	caller         Caller
	conversationID string
	model          string
	history        []models.UIMessage
	messageID      string
}

// MessageID is the id the assistant message of this turn will be stored under.
func (t *Turn) MessageID() string { return t.messageID }

// Stream runs the model and writes its output to w as UI message stream
// chunks. Model failures end the stream with an error chunk and a nil return.
// A non-nil error means the client went away or could not be written to; the
// model is cancelled and nothing is persisted.
func (t *Turn) Stream(ctx context.Context, w stream.ChunkWriter) error {
	s := t.svc
	ctx, span := tracer.Start(ctx, "Turn.Stream",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("chat.id", t.conversationID),
			attribute.String("chat.model", t.model),
			attribute.String("chat.message_id", t.messageID),
		),
	)
	defer span.End()

	runCtx, cancel := context.WithTimeout(ctx, s.opts.ModelTimeout)
	defer cancel()

	started := time.Now()
	outcome := observability.OutcomeModelError
	s.metrics.StreamStarted()
	defer func() { s.metrics.StreamFinished(t.model, outcome, time.Since(started)) }()

	// settle releases buffered output and closes the open block, so an error
	// chunk follows everything the model produced.
	settle := func() error { return nil }

	// interrupted classifies a failure that happened while streaming.
	interrupted := func(err error) error {
		cancel()
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			outcome = observability.OutcomeTimeout
			slog.Warn("Model timed out", "chat_id", t.conversationID, "model", t.model, "timeout", s.opts.ModelTimeout)
			return t.fail(w, settle)
		}
		outcome = observability.OutcomeDisconnected
		slog.Info("Chat stream aborted", "chat_id", t.conversationID, "model", t.model, "error", err)
		return err
	}

	if err := w.WriteChunk(stream.Chunk{Type: stream.ChunkStart, MessageID: t.messageID}); err != nil {
		return interrupted(err)
	}

	events, err := s.gateway.StreamChat(runCtx, llm.StreamRequest{
		Model:     t.model,
		System:    SystemPrompt(t.model),
		Messages:  ToModelMessages(t.history),
		StepLimit: s.opts.StepLimit,
	})
	if err != nil {
		slog.Error("Failed to start model stream", "chat_id", t.conversationID, "model", t.model, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "stream start failed")
		return t.fail(w, settle)
	}

	a := newAssembler(w, s.newID)
	smoother := stream.NewSmoother(s.opts.SmoothDelay, a.delta)
	settle = func() error {
		if err := smoother.Flush(); err != nil {
			return err
		}
		return a.closeBlock()
	}
	firstChunk := true

	for ev := range events {
		var werr error
		switch ev.Type {
		case llm.EventTextDelta, llm.EventReasoningDelta:
			if firstChunk {
				s.metrics.FirstChunk(t.model, time.Since(started))
				firstChunk = false
			}
			kind := models.PartText
			if ev.Type == llm.EventReasoningDelta {
				kind = models.PartReasoning
			}
			werr = smoother.Push(runCtx, kind, ev.Delta)

		case llm.EventError:
			if runCtx.Err() != nil {
				// Cancellation surfaced by the provider; handled once the channel closes.
				continue
			}
			slog.Error("Model stream failed", "chat_id", t.conversationID, "model", t.model, "error", ev.Err)
			span.RecordError(ev.Err)
			span.SetStatus(codes.Error, "model stream failed")
			if err := t.fail(w, settle); err != nil {
				return interrupted(err)
			}
			return nil

		case llm.EventFinish:
			if werr = smoother.Flush(); werr != nil {
				return interrupted(werr)
			}
			if werr = t.complete(ctx, w, a, ev); werr != nil {
				return interrupted(werr)
			}
			outcome = observability.OutcomeCompleted
			return nil

		default:
			if werr = smoother.Flush(); werr != nil {
				break
			}
			werr = a.apply(ev)
		}

		if werr != nil {
			return interrupted(werr)
		}
	}

	// The gateway closes the channel without a terminal event only when the
	// context is done.
	if err := runCtx.Err(); err != nil {
		return interrupted(err)
	}
	slog.Error("Model stream ended without finishing", "chat_id", t.conversationID, "model", t.model)
	if err := t.fail(w, settle); err != nil {
		return interrupted(err)
	}
	return nil
}

func (t *Turn) fail(w stream.ChunkWriter, settle func() error) error {
	if err := settle(); err != nil {
		return err
	}
	if err := w.WriteChunk(stream.Chunk{Type: stream.ChunkError, ErrorText: streamErrorText}); err != nil {
		return err
	}
	return w.Done()
}

// complete terminates the stream and, for authenticated callers, stores the
// assistant message.
func (t *Turn) complete(ctx context.Context, w stream.ChunkWriter, a *assembler, ev llm.Event) error {
	if err := a.closeBlock(); err != nil {
		return err
	}
	if err := w.WriteChunk(stream.Chunk{Type: stream.ChunkFinish}); err != nil {
		return err
	}
	if err := w.Done(); err != nil {
		return err
	}

	t.svc.metrics.Tokens(t.model, ev.Usage.InputTokens, ev.Usage.OutputTokens)
	if t.caller.Authenticated {
		t.persist(ctx, a.parts)
	}
	return nil
}

// persist stores the assistant message. The client already has the content,
// so failures are only logged and counted.
func (t *Turn) persist(ctx context.Context, parts []models.Part) {
	s := t.svc
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	msg := &models.Message{
		ID:             t.messageID,
		ConversationID: t.conversationID,
		Role:           models.RoleAssistant,
		Parts:          parts,
		CreatedAt:      s.now(),
	}
	if err := s.messages.Append(ctx, msg); err != nil {
		s.metrics.PersistFailed(models.RoleAssistant)
		slog.Error("Failed to save assistant message",
			"chat_id", t.conversationID, "message_id", t.messageID, "error", err)
		return
	}

	s.publish(ctx, t.caller.UserID, models.EventMessagesSaved, models.MessagesSavedEvent{
		ConversationID: t.conversationID,
		MessageIDs:     []string{msg.ID},
	})
}

// assembler writes stream chunks and mirrors them into the parts of the
// assistant message being built.
type assembler struct {
	w     stream.ChunkWriter
	newID func() string
	parts []models.Part

	open   string // part type of the open text or reasoning block
	openID string
}

func newAssembler(w stream.ChunkWriter, newID func() string) *assembler {
	return &assembler{w: w, newID: newID}
}

func (a *assembler) apply(ev llm.Event) error {
	switch ev.Type {
	case llm.EventStepStart:
		a.parts = append(a.parts, models.Part{Type: models.PartStepStart})
		return a.w.WriteChunk(stream.Chunk{Type: stream.ChunkStartStep})
	case llm.EventToolCall:
		return a.toolCall(ev.ToolCall)
	case llm.EventToolResult:
		return a.toolResult(ev.ToolResult)
	case llm.EventStepFinish:
		if err := a.closeBlock(); err != nil {
			return err
		}
		return a.w.WriteChunk(stream.Chunk{Type: stream.ChunkFinishStep})
	}
	return nil
}

// delta appends text to the open block of kind, opening a new block first if needed.
func (a *assembler) delta(kind, text string) error {
	if a.open != kind {
		if err := a.closeBlock(); err != nil {
			return err
		}
		a.open = kind
		a.openID = a.newID()
		a.parts = append(a.parts, models.Part{Type: kind})
		if err := a.w.WriteChunk(stream.Chunk{Type: blockChunk(kind, "start"), ID: a.openID}); err != nil {
			return err
		}
	}
	a.parts[len(a.parts)-1].Text += text
	return a.w.WriteChunk(stream.Chunk{Type: blockChunk(kind, "delta"), ID: a.openID, Delta: text})
}

func (a *assembler) closeBlock() error {
	if a.open == "" {
		return nil
	}
	kind, id := a.open, a.openID
	a.open, a.openID = "", ""
	return a.w.WriteChunk(stream.Chunk{Type: blockChunk(kind, "end"), ID: id})
}

func (a *assembler) toolCall(call *llm.ToolCall) error {
	if err := a.closeBlock(); err != nil {
		return err
	}
	a.parts = append(a.parts, models.Part{
		Type:       models.ToolPartType(call.Name),
		ToolCallID: call.ID,
		State:      models.ToolStateInputAvailable,
		Input:      call.Arguments,
	})
	return a.w.WriteChunk(stream.Chunk{
		Type:       stream.ChunkToolInputAvailable,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Input:      call.Arguments,
	})
}

func (a *assembler) toolResult(res *llm.ToolResult) error {
	for i := range a.parts {
		p := &a.parts[i]
		if !p.IsTool() || p.ToolCallID != res.ToolCallID {
			continue
		}
		if res.Err != nil {
			p.State = models.ToolStateOutputError
			p.ErrorText = res.Err.Error()
			return a.w.WriteChunk(stream.Chunk{
				Type:       stream.ChunkToolOutputError,
				ToolCallID: res.ToolCallID,
				ErrorText:  p.ErrorText,
			})
		}
		p.State = models.ToolStateOutputAvailable
		p.Output = res.Output
		return a.w.WriteChunk(stream.Chunk{
			Type:       stream.ChunkToolOutputAvailable,
			ToolCallID: res.ToolCallID,
			Output:     res.Output,
		})
	}
	slog.Warn("Dropping result for unknown tool call", "tool_call_id", res.ToolCallID, "tool", res.Name)
	return nil
}

func blockChunk(kind, phase string) string {
	if kind == models.PartReasoning {
		return "reasoning-" + phase
	}
	return "text-" + phase
}
