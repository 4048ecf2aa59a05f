package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/meguminnnnnnnnn/go-openai"

	"github.com/Sirius1942/Omniparser-tars/internal/engine"
)

// OpenAIClient implements engine.LLMClient by calling the OpenAI SDK
// directly. Also used for OpenAI-compatible endpoints via a custom base
// URL (Azure, local gateways).
type OpenAIClient struct {
	client  *openai.Client
	baseURL string
}

// NewOpenAIClient creates a new OpenAI client for the engine.
func NewOpenAIClient(apiKey, baseURL string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIClient{
		client:  openai.NewClientWithConfig(config),
		baseURL: baseURL,
	}, nil
}

// Chat implements engine.LLMClient.Chat.
func (c *OpenAIClient) Chat(ctx context.Context, modelName string, messages []engine.ChatMessage, opts engine.ChatOptions) (engine.LLMResponse, error) {
	openaiMsgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		role := openai.ChatMessageRoleUser
		switch msg.Role {
		case engine.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case engine.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		openaiMsgs = append(openaiMsgs, openai.ChatCompletionMessage{
			Role:    role,
			Content: msg.Content,
		})
	}

	req := openai.ChatCompletionRequest{
		Model:    modelName,
		Messages: openaiMsgs,
	}
	if opts.MaxOutputTokens > 0 {
		req.MaxTokens = opts.MaxOutputTokens
	}
	if opts.Temperature > 0 {
		req.Temperature = &opts.Temperature
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		httpStatus := extractHTTPStatus(err)
		return engine.LLMResponse{}, engine.WrapLLMError(err, httpStatus)
	}

	if len(resp.Choices) == 0 {
		return engine.LLMResponse{}, fmt.Errorf("empty response from OpenAI")
	}
	choice := resp.Choices[0]

	finishReason := "stop"
	if choice.FinishReason == openai.FinishReasonLength {
		finishReason = "length"
	} else if choice.FinishReason == openai.FinishReasonContentFilter {
		finishReason = "content_filter"
	}

	return engine.LLMResponse{
		Content: choice.Message.Content,
		Usage: engine.Usage{
			Prompt:     resp.Usage.PromptTokens,
			Completion: resp.Usage.CompletionTokens,
			Total:      resp.Usage.TotalTokens,
		},
		FinishReason: finishReason,
	}, nil
}

// extractHTTPStatus pulls an HTTP status code out of an SDK error message.
// The SDKs do not expose status codes uniformly, so this falls back to
// string matching on the common ones.
func extractHTTPStatus(err error) int {
	if err == nil {
		return 0
	}
	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "429"):
		return http.StatusTooManyRequests
	case strings.Contains(errStr, "500"):
		return http.StatusInternalServerError
	case strings.Contains(errStr, "502"):
		return http.StatusBadGateway
	case strings.Contains(errStr, "503"):
		return http.StatusServiceUnavailable
	case strings.Contains(errStr, "504"):
		return http.StatusGatewayTimeout
	case strings.Contains(errStr, "401"):
		return http.StatusUnauthorized
	case strings.Contains(errStr, "403"):
		return http.StatusForbidden
	case strings.Contains(errStr, "400"):
		return http.StatusBadRequest
	case strings.Contains(errStr, "402"):
		return http.StatusPaymentRequired
	}
	return 0
}
