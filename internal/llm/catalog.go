package llm

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Provider names accepted in a catalog.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// ModelSpec binds a logical model name to a concrete provider model.
type ModelSpec struct {
	Provider     string `yaml:"provider"`
	Model        string `yaml:"model"`
	ReasoningTag string `yaml:"reasoning_tag,omitempty"`
}

// Catalog is the capability table keyed by logical names.
type Catalog struct {
	LanguageModels map[string]ModelSpec `yaml:"language_models"`
	ImageModels    map[string]ModelSpec `yaml:"image_models"`
	TitleModel     string               `yaml:"title_model"`
	DefaultImage   string               `yaml:"default_image_model"`
}

// DefaultCatalog returns the built-in model table.
func DefaultCatalog() Catalog {
	return Catalog{
		LanguageModels: map[string]ModelSpec{
			"chat-model":           {Provider: ProviderOpenAI, Model: "gpt-4o-mini"},
			"chat-model-reasoning": {Provider: ProviderOpenAI, Model: "deepseek-r1-distill-llama-70b", ReasoningTag: "think"},
			"title-model":          {Provider: ProviderOpenAI, Model: "gpt-4o-mini"},
			"artifact-model":       {Provider: ProviderOpenAI, Model: "gpt-4o-mini"},
		},
		ImageModels: map[string]ModelSpec{
			"small-model": {Provider: ProviderOpenAI, Model: "dall-e-3"},
		},
		TitleModel:   "title-model",
		DefaultImage: "small-model",
	}
}

// LoadCatalog reads a YAML catalog from path. Missing sections fall back to
// the built-in defaults.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("failed to read model catalog: %w", err)
	}

	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("failed to parse model catalog: %w", err)
	}

	def := DefaultCatalog()
	if len(c.LanguageModels) == 0 {
		c.LanguageModels = def.LanguageModels
	}
	if len(c.ImageModels) == 0 {
		c.ImageModels = def.ImageModels
	}
	if c.TitleModel == "" {
		c.TitleModel = def.TitleModel
	}
	if c.DefaultImage == "" {
		c.DefaultImage = def.DefaultImage
	}
	return c, c.Validate()
}

// Validate checks that every entry names a known provider and model.
func (c Catalog) Validate() error {
	check := func(kind, name string, s ModelSpec) error {
		if s.Provider != ProviderOpenAI && s.Provider != ProviderGemini {
			return fmt.Errorf("%s %q: unknown provider %q", kind, name, s.Provider)
		}
		if s.Model == "" {
			return fmt.Errorf("%s %q: model is required", kind, name)
		}
		return nil
	}
	for name, s := range c.LanguageModels {
		if err := check("language model", name, s); err != nil {
			return err
		}
	}
	for name, s := range c.ImageModels {
		if err := check("image model", name, s); err != nil {
			return err
		}
		if s.Provider == ProviderGemini {
			return fmt.Errorf("image model %q: provider %q cannot generate images", name, s.Provider)
		}
	}
	if _, ok := c.LanguageModels[c.TitleModel]; !ok {
		return fmt.Errorf("title model %q is not a language model", c.TitleModel)
	}
	return nil
}
