package agent

import (
	"fmt"
	"os"
)

// NewEngine creates an Engine for the given provider. Empty arguments
// fall back to environment variables and then to per-provider defaults.
// Supported providers: anthropic (default), openai, plus OpenAI-compatible
// endpoints (deepseek, ollama) via base URL overrides.
func NewEngine(provider, apiKey, model, baseURL string) (Engine, string, error) {
	if provider == "" {
		provider = os.Getenv("AGENT_PROVIDER")
	}
	if provider == "" {
		provider = "anthropic"
	}

	switch provider {
	case "anthropic":
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, "", fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
		if model == "" {
			model = os.Getenv("ANTHROPIC_MODEL")
		}
		if model == "" {
			model = "claude-sonnet-4-20250514"
		}
		return NewAnthropicEngine(apiKey, model), model, nil

	case "openai":
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, "", fmt.Errorf("OPENAI_API_KEY not set")
		}
		if model == "" {
			model = os.Getenv("OPENAI_MODEL")
		}
		if model == "" {
			model = "gpt-4o-mini"
		}
		if baseURL == "" {
			baseURL = os.Getenv("OPENAI_BASE_URL")
		}
		return NewOpenAIEngine(apiKey, model, baseURL), model, nil

	case "deepseek":
		if apiKey == "" {
			apiKey = os.Getenv("DEEPSEEK_API_KEY")
		}
		if apiKey == "" {
			return nil, "", fmt.Errorf("DEEPSEEK_API_KEY not set")
		}
		if model == "" {
			model = os.Getenv("DEEPSEEK_MODEL")
		}
		if model == "" {
			model = "deepseek-chat"
		}
		return NewOpenAIEngine(apiKey, model, "https://api.deepseek.com/v1"), model, nil

	case "ollama":
		if baseURL == "" {
			baseURL = os.Getenv("OLLAMA_BASE_URL")
		}
		if baseURL == "" {
			baseURL = "http://localhost:11434/v1"
		}
		if model == "" {
			model = os.Getenv("OLLAMA_MODEL")
		}
		if model == "" {
			model = "llama3.1"
		}
		if apiKey == "" {
			apiKey = os.Getenv("OLLAMA_API_KEY")
		}
		if apiKey == "" {
			apiKey = "ollama"
		}
		return NewOpenAIEngine(apiKey, model, baseURL), model, nil

	default:
		return nil, "", fmt.Errorf("unknown provider: %s (supported: anthropic, openai, deepseek, ollama)", provider)
	}
}

// NewEngineFromEnv creates an Engine based on environment variables alone.
func NewEngineFromEnv() (Engine, string, error) {
	return NewEngine("", "", "", "")
}
