package engine

import (
	"context"
	"time"
)

// Hook receives observability callbacks from the loop. Implement only what
// you need by embedding NopHook.
type Hook interface {
	OnPhaseStart(ctx context.Context, st *TaskState, phase Phase)
	OnPhaseEnd(ctx context.Context, st *TaskState, phase Phase, summary string)
	OnBeforeLLM(ctx context.Context, st *TaskState, phase Phase, messages []ChatMessage)
	OnAfterLLM(ctx context.Context, st *TaskState, phase Phase, resp LLMResponse)
	OnParseFallback(ctx context.Context, st *TaskState, phase Phase, err error)
	OnToolCall(ctx context.Context, st *TaskState, name string, args map[string]any)
	OnToolResult(ctx context.Context, st *TaskState, rec ToolUsageRecord)
	OnRetryAttempt(ctx context.Context, st *TaskState, attempt, maxAttempts int, delay time.Duration, err error)
	OnCheckpoint(ctx context.Context, st *TaskState, err error)
	OnDecision(ctx context.Context, st *TaskState, d Decision)
	OnDone(ctx context.Context, st *TaskState)
}

// NopHook lets you implement only the hooks you need.
type NopHook struct{}

func (NopHook) OnPhaseStart(context.Context, *TaskState, Phase)                        {}
func (NopHook) OnPhaseEnd(context.Context, *TaskState, Phase, string)                  {}
func (NopHook) OnBeforeLLM(context.Context, *TaskState, Phase, []ChatMessage)          {}
func (NopHook) OnAfterLLM(context.Context, *TaskState, Phase, LLMResponse)             {}
func (NopHook) OnParseFallback(context.Context, *TaskState, Phase, error)              {}
func (NopHook) OnToolCall(context.Context, *TaskState, string, map[string]any)         {}
func (NopHook) OnToolResult(context.Context, *TaskState, ToolUsageRecord)              {}
func (NopHook) OnRetryAttempt(context.Context, *TaskState, int, int, time.Duration, error) {}
func (NopHook) OnCheckpoint(context.Context, *TaskState, error)                        {}
func (NopHook) OnDecision(context.Context, *TaskState, Decision)                       {}
func (NopHook) OnDone(context.Context, *TaskState)                                     {}

// Hooks fans out to every registered hook in order.
type Hooks []Hook

func (h Hooks) OnPhaseStart(ctx context.Context, st *TaskState, phase Phase) {
	for _, hook := range h {
		hook.OnPhaseStart(ctx, st, phase)
	}
}

func (h Hooks) OnPhaseEnd(ctx context.Context, st *TaskState, phase Phase, summary string) {
	for _, hook := range h {
		hook.OnPhaseEnd(ctx, st, phase, summary)
	}
}

func (h Hooks) OnBeforeLLM(ctx context.Context, st *TaskState, phase Phase, messages []ChatMessage) {
	for _, hook := range h {
		hook.OnBeforeLLM(ctx, st, phase, messages)
	}
}

func (h Hooks) OnAfterLLM(ctx context.Context, st *TaskState, phase Phase, resp LLMResponse) {
	for _, hook := range h {
		hook.OnAfterLLM(ctx, st, phase, resp)
	}
}

func (h Hooks) OnParseFallback(ctx context.Context, st *TaskState, phase Phase, err error) {
	for _, hook := range h {
		hook.OnParseFallback(ctx, st, phase, err)
	}
}

func (h Hooks) OnToolCall(ctx context.Context, st *TaskState, name string, args map[string]any) {
	for _, hook := range h {
		hook.OnToolCall(ctx, st, name, args)
	}
}

func (h Hooks) OnToolResult(ctx context.Context, st *TaskState, rec ToolUsageRecord) {
	for _, hook := range h {
		hook.OnToolResult(ctx, st, rec)
	}
}

func (h Hooks) OnRetryAttempt(ctx context.Context, st *TaskState, attempt, maxAttempts int, delay time.Duration, err error) {
	for _, hook := range h {
		hook.OnRetryAttempt(ctx, st, attempt, maxAttempts, delay, err)
	}
}

func (h Hooks) OnCheckpoint(ctx context.Context, st *TaskState, err error) {
	for _, hook := range h {
		hook.OnCheckpoint(ctx, st, err)
	}
}

func (h Hooks) OnDecision(ctx context.Context, st *TaskState, d Decision) {
	for _, hook := range h {
		hook.OnDecision(ctx, st, d)
	}
}

func (h Hooks) OnDone(ctx context.Context, st *TaskState) {
	for _, hook := range h {
		hook.OnDone(ctx, st)
	}
}
