// Package llm resolves logical model names to provider capabilities and runs
// streamed, multi-step generations against them.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/api/option"
)

var tracer = otel.Tracer("chatrelay-backend/internal/llm")

// ErrUnknownModel is returned when a logical name has no capability for a role.
var ErrUnknownModel = errors.New("unknown model")

// Role is a named function a provider fulfils.
type Role string

const (
	RoleChat            Role = "chat"
	RoleTitleGeneration Role = "title-generation"
	RoleImageGeneration Role = "image-generation"
)

// Capability is the resolved callable behind a (role, logical name) pair.
type Capability struct {
	Role     Role
	Name     string
	Language LanguageModel
	Image    ImageModel
}

// Config carries provider credentials and the capability table.
type Config struct {
	OpenAIAPIKey  string
	OpenAIBaseURL string
	GeminiAPIKey  string
	Catalog       Catalog
}

// Gateway owns the provider clients and the resolved capability table.
type Gateway struct {
	language     map[string]LanguageModel
	images       map[string]ImageModel
	titleModel   string
	defaultImage string
	gemini       *genai.Client
}

// New builds a Gateway from cfg. A Gemini client is only created when the
// catalog references the Gemini provider.
func New(ctx context.Context, cfg Config) (*Gateway, error) {
	if cfg.Catalog.LanguageModels == nil {
		cfg.Catalog = DefaultCatalog()
	}
	if err := cfg.Catalog.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model catalog: %w", err)
	}

	var oa *openai.Client
	openAI := func() *openai.Client {
		if oa == nil {
			oa = newOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
		}
		return oa
	}

	g := &Gateway{
		language:     make(map[string]LanguageModel, len(cfg.Catalog.LanguageModels)),
		images:       make(map[string]ImageModel, len(cfg.Catalog.ImageModels)),
		titleModel:   cfg.Catalog.TitleModel,
		defaultImage: cfg.Catalog.DefaultImage,
	}

	for name, spec := range cfg.Catalog.LanguageModels {
		var model LanguageModel
		switch spec.Provider {
		case ProviderOpenAI:
			model = &openAIModel{client: openAI(), model: spec.Model}
		case ProviderGemini:
			if g.gemini == nil {
				if cfg.GeminiAPIKey == "" {
					return nil, fmt.Errorf("language model %q requires GEMINI_API_KEY", name)
				}
				client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
				if err != nil {
					return nil, fmt.Errorf("failed to create Gemini client: %w", err)
				}
				g.gemini = client
			}
			model = &geminiModel{client: g.gemini, model: spec.Model}
		}
		if spec.ReasoningTag != "" {
			model = WithReasoningExtraction(model, spec.ReasoningTag)
		}
		g.language[name] = model
	}

	for name, spec := range cfg.Catalog.ImageModels {
		g.images[name] = &openAIImageModel{client: openAI(), model: spec.Model}
	}

	slog.Info("Model gateway initialized",
		"language_models", len(g.language),
		"image_models", len(g.images),
		"title_model", g.titleModel)
	return g, nil
}

// NewWithModels builds a Gateway from already constructed capabilities.
func NewWithModels(language map[string]LanguageModel, images map[string]ImageModel, titleModel string) *Gateway {
	if images == nil {
		images = map[string]ImageModel{}
	}
	return &Gateway{language: language, images: images, titleModel: titleModel}
}

// Close releases provider clients.
func (g *Gateway) Close() {
	if g.gemini != nil {
		g.gemini.Close()
	}
}

// Resolve returns the capability registered for role under name. An empty
// name selects the configured title or default image model for those roles.
func (g *Gateway) Resolve(role Role, name string) (Capability, error) {
	switch role {
	case RoleChat, RoleTitleGeneration:
		if role == RoleTitleGeneration && name == "" {
			name = g.titleModel
		}
		if m, ok := g.language[name]; ok {
			return Capability{Role: role, Name: name, Language: m}, nil
		}
	case RoleImageGeneration:
		if name == "" {
			name = g.defaultImage
		}
		if m, ok := g.images[name]; ok {
			return Capability{Role: role, Name: name, Image: m}, nil
		}
	default:
		return Capability{}, fmt.Errorf("unknown capability role %q", role)
	}
	return Capability{}, fmt.Errorf("%w: %s model %q", ErrUnknownModel, role, name)
}

// StreamRequest describes a chat turn to run against a logical model.
type StreamRequest struct {
	Model     string
	System    string
	Messages  []Message
	StepLimit int
	Tools     ToolSet
	MaxTokens int
}

// StreamChat runs a multi-step chat generation and returns its event stream.
// The channel is closed after the terminal event or when ctx is done.
func (g *Gateway) StreamChat(ctx context.Context, req StreamRequest) (<-chan Event, error) {
	capability, err := g.Resolve(RoleChat, req.Model)
	if err != nil {
		return nil, err
	}

	out := make(chan Event)
	go func() {
		defer close(out)

		ctx, span := tracer.Start(ctx, "Gateway.StreamChat")
		span.SetAttributes(
			attribute.String("llm.model", req.Model),
			attribute.String("llm.provider_model", capability.Language.ModelID()),
			attribute.Int("llm.step_limit", req.StepLimit),
		)
		defer span.End()

		runSteps(ctx, capability.Language, CompletionRequest{
			System:    req.System,
			Messages:  req.Messages,
			Tools:     req.Tools,
			MaxTokens: req.MaxTokens,
		}, req.StepLimit, out)
	}()
	return out, nil
}

// GenerateTitle derives a short conversation title from the first user message.
func (g *Gateway) GenerateTitle(ctx context.Context, message string) (string, error) {
	ctx, span := tracer.Start(ctx, "Gateway.GenerateTitle")
	defer span.End()

	capability, err := g.Resolve(RoleTitleGeneration, "")
	if err != nil {
		return "", err
	}

	title, err := capability.Language.Generate(ctx, CompletionRequest{
		System:   titleInstructions,
		Messages: []Message{{Role: RoleUser, Content: message}},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "title generation failed")
		return "", fmt.Errorf("failed to generate title: %w", err)
	}
	return cleanTitle(title), nil
}

// GenerateImage runs the image-generation capability registered under name.
// An empty name selects the default image model.
func (g *Gateway) GenerateImage(ctx context.Context, name, prompt string) (*Image, error) {
	ctx, span := tracer.Start(ctx, "Gateway.GenerateImage")
	defer span.End()

	capability, err := g.Resolve(RoleImageGeneration, name)
	if err != nil {
		return nil, err
	}
	return capability.Image.GenerateImage(ctx, prompt)
}
