package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
)

// geminiModel implements LanguageModel on top of the Gemini SDK. Tool calling
// is not wired for this provider; tool messages in the history are sent as text.
type geminiModel struct {
	client *genai.Client
	model  string
}

func (m *geminiModel) ModelID() string { return m.model }

func (m *geminiModel) prepare(req CompletionRequest) (*genai.ChatSession, []genai.Part, error) {
	if len(req.Tools) > 0 {
		return nil, nil, fmt.Errorf("gemini model %s: tool calling is not supported", m.model)
	}

	gm := m.client.GenerativeModel(m.model)
	if req.System != "" {
		gm.SystemInstruction = genai.NewUserContent(genai.Text(req.System))
	}
	if req.Temperature != nil {
		gm.SetTemperature(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		gm.SetMaxOutputTokens(int32(req.MaxTokens))
	}

	contents := toGeminiContents(req.Messages)
	if len(contents) == 0 || contents[len(contents)-1].Role != "user" {
		return nil, nil, errors.New("gemini: conversation must end with a user message")
	}

	cs := gm.StartChat()
	cs.History = contents[:len(contents)-1]
	return cs, contents[len(contents)-1].Parts, nil
}

// Stream runs one streaming generation.
func (m *geminiModel) Stream(ctx context.Context, req CompletionRequest) (<-chan Event, error) {
	cs, last, err := m.prepare(req)
	if err != nil {
		return nil, err
	}

	iter := cs.SendMessageStream(ctx, last...)

	out := make(chan Event)
	go func() {
		defer close(out)

		reason := FinishOther
		var usage Usage
		for {
			resp, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				break
			}
			if err != nil {
				send(ctx, out, Event{Type: EventError, Err: fmt.Errorf("Gemini API error: %w", err)})
				return
			}

			if resp.UsageMetadata != nil {
				usage = Usage{
					InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
					OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
				}
			}
			for _, cand := range resp.Candidates {
				if text := candidateText(cand); text != "" {
					if !send(ctx, out, Event{Type: EventTextDelta, Delta: text}) {
						return
					}
				}
				if cand.FinishReason != genai.FinishReasonUnspecified {
					reason = mapGeminiFinish(cand.FinishReason)
				}
			}
		}

		send(ctx, out, Event{Type: EventFinish, FinishReason: reason, Usage: usage})
	}()

	return out, nil
}

// Generate runs one non-streaming generation.
func (m *geminiModel) Generate(ctx context.Context, req CompletionRequest) (string, error) {
	cs, last, err := m.prepare(req)
	if err != nil {
		return "", err
	}
	resp, err := cs.SendMessage(ctx, last...)
	if err != nil {
		return "", fmt.Errorf("Gemini API error: %w", err)
	}

	var text strings.Builder
	for _, cand := range resp.Candidates {
		text.WriteString(candidateText(cand))
	}
	return text.String(), nil
}

func candidateText(cand *genai.Candidate) string {
	if cand == nil || cand.Content == nil {
		return ""
	}
	var text strings.Builder
	for _, part := range cand.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	return text.String()
}

// toGeminiContents maps the history onto Gemini's user/model turns, merging
// adjacent entries that land on the same side.
func toGeminiContents(messages []Message) []*genai.Content {
	var out []*genai.Content
	for _, msg := range messages {
		role := "user"
		text := msg.Content
		switch msg.Role {
		case RoleAssistant:
			role = "model"
		case RoleSystem:
			continue
		case RoleTool:
			text = fmt.Sprintf("[%s result] %s", msg.ToolName, msg.Content)
		}
		if text == "" {
			continue
		}

		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Parts = append(out[n-1].Parts, genai.Text(text))
			continue
		}
		out = append(out, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(text)}})
	}
	return out
}

func mapGeminiFinish(r genai.FinishReason) FinishReason {
	switch r {
	case genai.FinishReasonStop:
		return FinishStop
	case genai.FinishReasonMaxTokens:
		return FinishLength
	case genai.FinishReasonSafety, genai.FinishReasonRecitation:
		return FinishContentFilter
	default:
		return FinishOther
	}
}
