package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Config holds the runtime configuration for the control loop.
type Config struct {
	LLMProvider string  `json:"llm_provider,omitempty"` // openai, anthropic, kimi
	APIKey      string  `json:"api_key,omitempty"`
	Model       string  `json:"model,omitempty"`
	BaseURL     string  `json:"base_url,omitempty"` // Optional override for API base URL
	Temperature float32 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`

	MaxIterations    int     `json:"max_iterations,omitempty"`
	QualityThreshold float64 `json:"quality_threshold,omitempty"`

	MCPServerURL   string `json:"mcp_server_url,omitempty"`  // Remote tool server (SSE)
	ScreenshotDir  string `json:"screenshot_dir,omitempty"`  // Where screenshot payloads are saved
	CheckpointPath string `json:"checkpoint_path,omitempty"` // SQLite checkpoint database
}

// Defaults returns the configuration both loop variants shipped with.
func Defaults() Config {
	return Config{
		LLMProvider:      "openai",
		Model:            "gpt-4o",
		Temperature:      0.3,
		MaxTokens:        2000,
		MaxIterations:    3,
		QualityThreshold: 8.0,
		ScreenshotDir:    "screenshots",
	}
}

// Load reads configuration from a JSON file, layered over defaults. A
// missing file is not an error: defaults plus environment overrides apply.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config json: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv lets environment variables override file values, following the
// usual precedence: env > file > defaults.
func (c *Config) applyEnv() {
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		c.LLMProvider = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv("MCP_SERVER_URL"); v != "" {
		c.MCPServerURL = v
	}
	if v := os.Getenv("SCREENSHOT_DIR"); v != "" {
		c.ScreenshotDir = v
	}
	if v := os.Getenv("CHECKPOINT_PATH"); v != "" {
		c.CheckpointPath = v
	}
	if v := os.Getenv("MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxIterations = n
		}
	}
	if v := os.Getenv("QUALITY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			c.QualityThreshold = f
		}
	}
}

// Save writes the configuration to disk with restricted permissions.
func Save(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
