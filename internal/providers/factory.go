package providers

import (
	"fmt"
	"os"

	"github.com/Sirius1942/Omniparser-tars/internal/engine"
)

// Settings selects and configures a provider. Zero-value fields fall back
// to environment variables and provider defaults.
type Settings struct {
	Provider string // "openai", "anthropic", "kimi"
	APIKey   string
	Model    string
	BaseURL  string
}

// NewLLMClient creates an engine.LLMClient for the configured provider and
// returns it together with the resolved model name.
func NewLLMClient(s Settings) (engine.LLMClient, string, error) {
	provider := s.Provider
	if provider == "" {
		provider = os.Getenv("LLM_PROVIDER")
	}
	if provider == "" {
		provider = "openai"
	}

	switch provider {
	case "openai":
		apiKey := firstNonEmpty(s.APIKey, os.Getenv("OPENAI_API_KEY"))
		if apiKey == "" {
			return nil, "", fmt.Errorf("OPENAI_API_KEY not set")
		}
		model := firstNonEmpty(s.Model, os.Getenv("OPENAI_MODEL"), "gpt-4o")
		baseURL := firstNonEmpty(s.BaseURL, os.Getenv("OPENAI_BASE_URL"))

		client, err := NewOpenAIClient(apiKey, baseURL)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create OpenAI client: %w", err)
		}
		return client, model, nil

	case "anthropic":
		apiKey := firstNonEmpty(s.APIKey, os.Getenv("ANTHROPIC_API_KEY"))
		if apiKey == "" {
			return nil, "", fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
		model := firstNonEmpty(s.Model, os.Getenv("ANTHROPIC_MODEL"), "claude-sonnet-4-20250514")

		client, err := NewAnthropicClient(apiKey)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create Anthropic client: %w", err)
		}
		return client, model, nil

	case "kimi":
		// Kimi exposes an OpenAI-compatible API via BytePlus ModelArk.
		apiKey := firstNonEmpty(s.APIKey, os.Getenv("KIMI_API_KEY"))
		if apiKey == "" {
			return nil, "", fmt.Errorf("KIMI_API_KEY not set")
		}
		model := firstNonEmpty(s.Model, os.Getenv("KIMI_MODEL"), "kimi-k2-250711")
		baseURL := firstNonEmpty(s.BaseURL, os.Getenv("KIMI_BASE_URL"),
			"https://ark.ap-southeast.bytepluses.com/api/v3")

		client, err := NewOpenAIClient(apiKey, baseURL)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create Kimi client: %w", err)
		}
		return client, model, nil

	default:
		return nil, "", fmt.Errorf("unsupported provider: %s (use openai, anthropic, or kimi)", provider)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
