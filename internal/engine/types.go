package engine

import (
	"context"
	"fmt"
)

// MessageRole represents the role of a chat message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// ChatMessage is the provider-agnostic message we pass around.
type ChatMessage struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// Validate checks if the ChatMessage is valid.
func (m ChatMessage) Validate() error {
	switch m.Role {
	case RoleSystem, RoleUser, RoleAssistant:
		return nil
	default:
		return fmt.Errorf("invalid message role: %s", m.Role)
	}
}

// Usage holds token accounting returned by providers.
type Usage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// LLMResponse is a normalized result of one chat call.
type LLMResponse struct {
	Content      string
	Usage        Usage
	FinishReason string // "stop" | "length" | "content_filter"
}

// ChatOptions keeps knobs we forward to the SDK.
type ChatOptions struct {
	Temperature     float32
	MaxOutputTokens int
	RetryConfig     *RetryConfig // Optional retry configuration (nil = use defaults)
}

// LLMClient abstracts the chat-completion provider (OpenAI, Anthropic, etc.).
// Each phase sends a short role-tagged prompt and receives a single text blob;
// structured-output parsing happens on our side, never the provider's.
type LLMClient interface {
	Chat(ctx context.Context, model string, messages []ChatMessage, opts ChatOptions) (LLMResponse, error)
}

// ToolInvoker dispatches a named tool call and normalizes the result.
// The returned map always carries a "success" bool; failures carry an
// "error" string instead of propagating as Go errors, so a failed tool
// never aborts the phase that requested it.
type ToolInvoker interface {
	Invoke(ctx context.Context, name string, args map[string]any) map[string]any
	AvailableTools() []string
}

// CheckpointSaver persists task state between phases so a monitoring UI or
// a later process can pick up where a run left off. Optional: a nil saver
// disables checkpointing entirely.
type CheckpointSaver interface {
	Save(ctx context.Context, st *TaskState) error
	Load(ctx context.Context, taskID string) (*TaskState, error)
}
