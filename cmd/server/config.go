package main

import (
	"fmt"
	"os"

	"github.com/marcosvr/gemchat/internal/handlers"
	"github.com/marcosvr/gemchat/internal/services"
	"gopkg.in/yaml.v3"
)

type modelConfig interface {
	llm(systemPrompt string) (handlers.LLM, error)
	titleGen(systemPrompt string) (handlers.TitleGenerator, error)
}

// BaseModelConfig contains the common fields for all model configurations.
type BaseModelConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

type config struct {
	Port         string `yaml:"port"`
	DBPath       string `yaml:"dbPath"`
	SystemPrompt string `yaml:"systemPrompt"`
	TitlePrompt  string `yaml:"titlePrompt"`

	// Models maps a registry name to its provider configuration. The
	// defaultModel names the entry used when a request does not pick one.
	DefaultModel string                 `yaml:"defaultModel"`
	TitleModel   string                 `yaml:"titleModel"`
	Models       map[string]modelConfig `yaml:"models"`
}

type geminiConfig struct {
	BaseModelConfig `yaml:",inline"`
	APIKey          string `yaml:"apiKey"`
}

type groqConfig struct {
	BaseModelConfig `yaml:",inline"`
	APIKey          string `yaml:"apiKey"`
}

type ollamaConfig struct {
	BaseModelConfig `yaml:",inline"`
	Host            string `yaml:"host"`
}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port         string                    `yaml:"port"`
		DBPath       string                    `yaml:"dbPath"`
		SystemPrompt string                    `yaml:"systemPrompt"`
		TitlePrompt  string                    `yaml:"titlePrompt"`
		DefaultModel string                    `yaml:"defaultModel"`
		TitleModel   string                    `yaml:"titleModel"`
		Models       map[string]map[string]any `yaml:"models"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	c.DBPath = rawConfig.DBPath
	c.SystemPrompt = rawConfig.SystemPrompt
	c.TitlePrompt = rawConfig.TitlePrompt
	c.DefaultModel = rawConfig.DefaultModel
	c.TitleModel = rawConfig.TitleModel
	c.Models = make(map[string]modelConfig, len(rawConfig.Models))

	for name, raw := range rawConfig.Models {
		provider, ok := raw["provider"].(string)
		if !ok {
			return fmt.Errorf("model %q: provider is required", name)
		}

		rawYAML, err := yaml.Marshal(raw)
		if err != nil {
			return err
		}

		var mc modelConfig
		switch provider {
		case "gemini":
			mc = &geminiConfig{}
		case "groq":
			mc = &groqConfig{}
		case "ollama":
			mc = &ollamaConfig{}
		default:
			return fmt.Errorf("model %q: unknown provider: %s", name, provider)
		}

		if err := yaml.Unmarshal(rawYAML, mc); err != nil {
			return err
		}
		c.Models[name] = mc
	}

	if len(c.Models) == 0 {
		return fmt.Errorf("at least one model is required")
	}
	if c.DefaultModel == "" {
		return fmt.Errorf("defaultModel is required")
	}
	if _, ok := c.Models[c.DefaultModel]; !ok {
		return fmt.Errorf("defaultModel %q is not configured", c.DefaultModel)
	}
	if c.TitleModel == "" {
		c.TitleModel = c.DefaultModel
	}
	if _, ok := c.Models[c.TitleModel]; !ok {
		return fmt.Errorf("titleModel %q is not configured", c.TitleModel)
	}

	return nil
}

func (g geminiConfig) newGemini(systemPrompt string) (services.Gemini, error) {
	if g.Model == "" {
		return services.Gemini{}, fmt.Errorf("model is required")
	}

	apiKey := g.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return services.Gemini{}, fmt.Errorf("api key is required")
	}
	return services.NewGemini(apiKey, g.Model, systemPrompt), nil
}

func (g geminiConfig) llm(systemPrompt string) (handlers.LLM, error) {
	return g.newGemini(systemPrompt)
}

func (g geminiConfig) titleGen(systemPrompt string) (handlers.TitleGenerator, error) {
	return g.newGemini(systemPrompt)
}

func (g groqConfig) newGroq(systemPrompt string) (services.Groq, error) {
	if g.Model == "" {
		return services.Groq{}, fmt.Errorf("model is required")
	}

	apiKey := g.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GROQ_API_KEY")
	}
	if apiKey == "" {
		return services.Groq{}, fmt.Errorf("api key is required")
	}
	return services.NewGroq(apiKey, g.Model, systemPrompt), nil
}

func (g groqConfig) llm(systemPrompt string) (handlers.LLM, error) {
	return g.newGroq(systemPrompt)
}

func (g groqConfig) titleGen(systemPrompt string) (handlers.TitleGenerator, error) {
	return g.newGroq(systemPrompt)
}

func (o ollamaConfig) newOllama(systemPrompt string) (services.Ollama, error) {
	if o.Model == "" {
		return services.Ollama{}, fmt.Errorf("model is required")
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	return services.NewOllama(host, o.Model, systemPrompt), nil
}

func (o ollamaConfig) llm(systemPrompt string) (handlers.LLM, error) {
	return o.newOllama(systemPrompt)
}

func (o ollamaConfig) titleGen(systemPrompt string) (handlers.TitleGenerator, error) {
	return o.newOllama(systemPrompt)
}
