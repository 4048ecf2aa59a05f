package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ZapHook logs loop progress through a structured logger.
type ZapHook struct {
	L *zap.Logger
}

func NewZapHook(l *zap.Logger) ZapHook {
	if l == nil {
		l = zap.NewNop()
	}
	return ZapHook{L: l}
}

func (h ZapHook) OnPhaseStart(_ context.Context, st *TaskState, phase Phase) {
	h.L.Info("phase start",
		zap.String("task_id", st.TaskID),
		zap.String("phase", string(phase)),
		zap.Int("iteration", st.IterationCount))
}

func (h ZapHook) OnPhaseEnd(_ context.Context, st *TaskState, phase Phase, summary string) {
	h.L.Info("phase end",
		zap.String("task_id", st.TaskID),
		zap.String("phase", string(phase)),
		zap.String("summary", summary))
}

func (h ZapHook) OnBeforeLLM(_ context.Context, st *TaskState, phase Phase, messages []ChatMessage) {
	h.L.Debug("llm call",
		zap.String("phase", string(phase)),
		zap.Int("messages", len(messages)))
}

func (h ZapHook) OnAfterLLM(_ context.Context, st *TaskState, phase Phase, resp LLMResponse) {
	h.L.Debug("llm reply",
		zap.String("phase", string(phase)),
		zap.String("finish", resp.FinishReason),
		zap.Int("prompt_tokens", resp.Usage.Prompt),
		zap.Int("completion_tokens", resp.Usage.Completion),
		zap.Int("cumulative_tokens", st.Totals.Total))
}

func (h ZapHook) OnParseFallback(_ context.Context, _ *TaskState, phase Phase, err error) {
	h.L.Warn("structured output fallback",
		zap.String("phase", string(phase)),
		zap.Error(err))
}

func (h ZapHook) OnToolCall(_ context.Context, _ *TaskState, name string, args map[string]any) {
	h.L.Info("tool call", zap.String("tool", name), zap.Any("args", args))
}

func (h ZapHook) OnToolResult(_ context.Context, _ *TaskState, rec ToolUsageRecord) {
	success, _ := rec.Result["success"].(bool)
	if success {
		h.L.Info("tool result", zap.String("tool", rec.ToolName))
		return
	}
	errMsg, _ := rec.Result["error"].(string)
	h.L.Warn("tool failed", zap.String("tool", rec.ToolName), zap.String("error", errMsg))
}

func (h ZapHook) OnRetryAttempt(_ context.Context, _ *TaskState, attempt, maxAttempts int, delay time.Duration, err error) {
	h.L.Warn("llm retry",
		zap.Int("attempt", attempt),
		zap.Int("max_attempts", maxAttempts),
		zap.Duration("delay", delay),
		zap.Error(err))
}

func (h ZapHook) OnCheckpoint(_ context.Context, st *TaskState, err error) {
	if err != nil {
		h.L.Warn("checkpoint save failed", zap.String("task_id", st.TaskID), zap.Error(err))
		return
	}
	h.L.Debug("checkpoint saved",
		zap.String("task_id", st.TaskID),
		zap.String("phase", string(st.CurrentPhase)))
}

func (h ZapHook) OnDecision(_ context.Context, st *TaskState, d Decision) {
	h.L.Info("cycle decision",
		zap.Int("iteration", st.IterationCount),
		zap.Bool("continue", d.Continue),
		zap.String("reason", d.Reason))
}

func (h ZapHook) OnDone(_ context.Context, st *TaskState) {
	h.L.Info("task complete",
		zap.String("task_id", st.TaskID),
		zap.Int("iterations", st.IterationCount),
		zap.Float64("quality_score", st.Critique.QualityScore),
		zap.Int("tools_used", len(st.ToolUsage)),
		zap.Int("total_tokens", st.Totals.Total))
}
