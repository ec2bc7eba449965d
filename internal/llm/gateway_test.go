package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubImageModel struct{ prompt string }

func (m *stubImageModel) ModelID() string { return "stub-image" }

func (m *stubImageModel) GenerateImage(ctx context.Context, prompt string) (*Image, error) {
	m.prompt = prompt
	return &Image{Base64: "eA==", MediaType: "image/png"}, nil
}

func TestGateway_Resolve(t *testing.T) {
	chat := &scriptedModel{id: "chat"}
	title := &scriptedModel{id: "title"}
	g := NewWithModels(map[string]LanguageModel{"chat-model": chat, "title-model": title}, nil, "title-model")

	c, err := g.Resolve(RoleChat, "chat-model")
	require.NoError(t, err)
	assert.Equal(t, "chat", c.Language.ModelID())

	c, err = g.Resolve(RoleTitleGeneration, "")
	require.NoError(t, err)
	assert.Equal(t, "title-model", c.Name)

	_, err = g.Resolve(RoleChat, "gpt-9")
	assert.True(t, errors.Is(err, ErrUnknownModel))

	_, err = g.Resolve(RoleImageGeneration, "chat-model")
	assert.True(t, errors.Is(err, ErrUnknownModel))

	_, err = g.Resolve(Role("embedding"), "chat-model")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnknownModel))
}

func TestGateway_StreamChatUnknownModel(t *testing.T) {
	g := NewWithModels(map[string]LanguageModel{}, nil, "")

	ch, err := g.StreamChat(context.Background(), StreamRequest{Model: "missing"})
	assert.Nil(t, ch)
	assert.True(t, errors.Is(err, ErrUnknownModel))
}

func TestGateway_StreamChat(t *testing.T) {
	chat := &scriptedModel{steps: [][]Event{{textDelta("hi"), finish(FinishStop)}}}
	g := NewWithModels(map[string]LanguageModel{"chat-model": chat}, nil, "")

	ch, err := g.StreamChat(context.Background(), StreamRequest{
		Model:     "chat-model",
		System:    "sys",
		Messages:  []Message{{Role: RoleUser, Content: "hello"}},
		StepLimit: 5,
	})
	require.NoError(t, err)
	evs := drain(ch)

	assert.Equal(t, []EventType{EventStepStart, EventTextDelta, EventStepFinish, EventFinish}, eventTypes(evs))
	require.Len(t, chat.requests, 1)
	assert.Equal(t, "sys", chat.requests[0].System)
}

func TestGateway_GenerateTitle(t *testing.T) {
	title := &scriptedModel{generated: `"Packing list: Iceland"`}
	g := NewWithModels(map[string]LanguageModel{"title-model": title}, nil, "title-model")

	got, err := g.GenerateTitle(context.Background(), "What should I pack for Iceland?")
	require.NoError(t, err)
	assert.Equal(t, "Packing list Iceland", got)

	require.Len(t, title.requests, 1)
	req := title.requests[0]
	assert.Equal(t, titleInstructions, req.System)
	assert.Equal(t, "What should I pack for Iceland?", req.Messages[0].Content)
}

func TestGateway_GenerateTitleError(t *testing.T) {
	title := &scriptedModel{genErr: errors.New("quota")}
	g := NewWithModels(map[string]LanguageModel{"title-model": title}, nil, "title-model")

	_, err := g.GenerateTitle(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota")
}

func TestGateway_GenerateImage(t *testing.T) {
	img := &stubImageModel{}
	g := NewWithModels(nil, map[string]ImageModel{"small-model": img}, "")

	out, err := g.GenerateImage(context.Background(), "small-model", "a lighthouse")
	require.NoError(t, err)
	assert.Equal(t, "eA==", out.Base64)
	assert.Equal(t, "a lighthouse", img.prompt)

	_, err = g.GenerateImage(context.Background(), "big-model", "x")
	assert.True(t, errors.Is(err, ErrUnknownModel))
}

func TestNew_DefaultCatalog(t *testing.T) {
	g, err := New(context.Background(), Config{OpenAIAPIKey: "k"})
	require.NoError(t, err)
	defer g.Close()

	c, err := g.Resolve(RoleChat, "chat-model-reasoning")
	require.NoError(t, err)
	_, ok := c.Language.(*reasoningModel)
	assert.True(t, ok)

	c, err = g.Resolve(RoleImageGeneration, "")
	require.NoError(t, err)
	assert.Equal(t, "small-model", c.Name)
}

func TestNew_GeminiRequiresKey(t *testing.T) {
	cat := DefaultCatalog()
	cat.LanguageModels["chat-model"] = ModelSpec{Provider: ProviderGemini, Model: "gemini-1.5-flash"}

	_, err := New(context.Background(), Config{OpenAIAPIKey: "k", Catalog: cat})
	assert.Error(t, err)
}
