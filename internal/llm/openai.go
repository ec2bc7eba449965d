package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/sashabaranov/go-openai"
)

// openAIModel implements LanguageModel for OpenAI and OpenAI-compatible APIs.
type openAIModel struct {
	client *openai.Client
	model  string
}

func newOpenAIClient(apiKey, baseURL string) *openai.Client {
	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(clientConfig)
}

func (m *openAIModel) ModelID() string { return m.model }

func (m *openAIModel) request(req CompletionRequest) openai.ChatCompletionRequest {
	creq := openai.ChatCompletionRequest{
		Model:     m.model,
		Messages:  toOpenAIMessages(req.System, req.Messages),
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature != nil {
		creq.Temperature = *req.Temperature
	}
	for _, name := range sortedToolNames(req.Tools) {
		t := req.Tools[name]
		creq.Tools = append(creq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return creq
}

// Stream runs one completion step against the streaming endpoint.
func (m *openAIModel) Stream(ctx context.Context, req CompletionRequest) (<-chan Event, error) {
	creq := m.request(req)
	creq.Stream = true
	creq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := m.client.CreateChatCompletionStream(ctx, creq)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		defer stream.Close()

		calls := map[int]*ToolCall{}
		var order []int
		var usage Usage
		reason := FinishOther

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				send(ctx, out, Event{Type: EventError, Err: fmt.Errorf("stream error: %w", err)})
				return
			}

			if resp.Usage != nil {
				usage = Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens}
			}

			for _, choice := range resp.Choices {
				if choice.Delta.Content != "" {
					if !send(ctx, out, Event{Type: EventTextDelta, Delta: choice.Delta.Content}) {
						return
					}
				}
				for i, tc := range choice.Delta.ToolCalls {
					idx := i
					if tc.Index != nil {
						idx = *tc.Index
					}
					call, ok := calls[idx]
					if !ok {
						call = &ToolCall{}
						calls[idx] = call
						order = append(order, idx)
					}
					if tc.ID != "" {
						call.ID = tc.ID
					}
					if tc.Function.Name != "" {
						call.Name = tc.Function.Name
					}
					call.Arguments = append(call.Arguments, []byte(tc.Function.Arguments)...)
				}
				if choice.FinishReason != "" {
					reason = mapOpenAIFinish(choice.FinishReason)
				}
			}
		}

		sort.Ints(order)
		for _, idx := range order {
			call := calls[idx]
			if len(call.Arguments) == 0 {
				call.Arguments = json.RawMessage("{}")
			}
			if !send(ctx, out, Event{Type: EventToolCall, ToolCall: call}) {
				return
			}
		}

		send(ctx, out, Event{Type: EventFinish, FinishReason: reason, Usage: usage})
	}()

	return out, nil
}

// Generate runs one non-streaming completion.
func (m *openAIModel) Generate(ctx context.Context, req CompletionRequest) (string, error) {
	resp, err := m.client.CreateChatCompletion(ctx, m.request(req))
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no response from OpenAI")
	}
	slog.Debug("Received response from OpenAI", "model", m.model, "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}

// openAIImageModel implements ImageModel with the images endpoint.
type openAIImageModel struct {
	client *openai.Client
	model  string
}

func (m *openAIImageModel) ModelID() string { return m.model }

func (m *openAIImageModel) GenerateImage(ctx context.Context, prompt string) (*Image, error) {
	resp, err := m.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          m.model,
		N:              1,
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate image: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, errors.New("no image in response")
	}
	return &Image{Base64: resp.Data[0].B64JSON, MediaType: "image/png"}, nil
}

func toOpenAIMessages(system string, messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, msg := range messages {
		om := openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content}
		switch msg.Role {
		case RoleAssistant:
			for _, tc := range msg.ToolCalls {
				om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				})
			}
		case RoleTool:
			om.ToolCallID = msg.ToolCallID
			om.Name = msg.ToolName
		}
		out = append(out, om)
	}
	return out
}

func mapOpenAIFinish(r openai.FinishReason) FinishReason {
	switch r {
	case openai.FinishReasonStop:
		return FinishStop
	case openai.FinishReasonLength:
		return FinishLength
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return FinishToolCalls
	case openai.FinishReasonContentFilter:
		return FinishContentFilter
	default:
		return FinishOther
	}
}

func sortedToolNames(tools ToolSet) []string {
	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
