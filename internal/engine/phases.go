package engine

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// PhaseExecutor runs one node of the orchestration graph. Executors mutate
// the task state and recover from every in-loop failure internally: a
// model-call error, a timeout, and a malformed reply all collapse into the
// parser's deterministic default for that phase. Nothing inside a phase
// aborts the run.
type PhaseExecutor interface {
	Phase() Phase
	Run(ctx context.Context, st *TaskState)
}

// execEnv bundles the collaborators every executor shares.
type execEnv struct {
	llm          LLMClient
	model        string
	opts         ChatOptions
	parser       ResponseParser
	hooks        Hooks
	tools        ToolInvoker
	phaseTimeout time.Duration
	maxToolCalls int // per tool-use phase, bounds per-cycle cost
	recentTools  int // tool records shown to the critique prompt
}

// chat performs one chat-completion call for a phase, with the configured
// per-phase timeout and retry policy. On failure it returns the error and
// an empty reply; the caller feeds the empty reply to the parser, which
// maps it to the phase default. That keeps the model-failure path and the
// parse-failure path identical.
func (e *execEnv) chat(ctx context.Context, st *TaskState, phase Phase, msgs []ChatMessage) (string, error) {
	if e.phaseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.phaseTimeout)
		defer cancel()
	}

	e.hooks.OnBeforeLLM(ctx, st, phase, msgs)

	retryCfg := e.opts.RetryConfig
	if retryCfg == nil {
		cfg := DefaultRetryConfig()
		retryCfg = &cfg
	}

	resp, err := retryLLMCall(ctx, retryCfg.LLMPolicy, e.llm, e.model, msgs, e.opts,
		func(attempt int, delay time.Duration, retryErr error) {
			e.hooks.OnRetryAttempt(ctx, st, attempt, retryCfg.LLMPolicy.MaxRetries, delay, retryErr)
		})
	if err != nil {
		return "", fmt.Errorf("%s call failed: %w", phase, err)
	}

	st.AddUsage(resp.Usage)
	e.hooks.OnAfterLLM(ctx, st, phase, resp)
	return resp.Content, nil
}

// fallback records a recovered failure in the audit trail and the hooks.
func (e *execEnv) fallback(ctx context.Context, st *TaskState, phase Phase, err error) {
	if err == nil {
		return
	}
	e.hooks.OnParseFallback(ctx, st, phase, err)
	st.Append(ChatMessage{
		Role:    RoleAssistant,
		Content: fmt.Sprintf("[%s] fell back to default output: %v", phase, err),
	})
}

// finish stamps the phase onto the state and appends the compressed
// human-readable summary to the audit trail.
func (e *execEnv) finish(ctx context.Context, st *TaskState, phase Phase, summary string) {
	st.CurrentPhase = phase
	st.Append(ChatMessage{Role: RoleAssistant, Content: summary})
	e.hooks.OnPhaseEnd(ctx, st, phase, summary)
}

// --- PDCA variant -----------------------------------------------------------

type planExecutor struct{ env *execEnv }

func (e *planExecutor) Phase() Phase { return PhasePlan }

func (e *planExecutor) Run(ctx context.Context, st *TaskState) {
	raw, callErr := e.env.chat(ctx, st, PhasePlan, buildPlanMessages(st))
	rec, parseErr := e.env.parser.ParsePlan(raw)
	e.env.fallback(ctx, st, PhasePlan, firstErr(callErr, parseErr))

	st.Plan = rec
	e.env.finish(ctx, st, PhasePlan,
		fmt.Sprintf("drafted a plan: %d goals, %d steps, confidence %.2f",
			len(rec.Goals), len(rec.Steps), rec.Confidence))
}

type doExecutor struct{ env *execEnv }

func (e *doExecutor) Phase() Phase { return PhaseDo }

func (e *doExecutor) Run(ctx context.Context, st *TaskState) {
	raw, callErr := e.env.chat(ctx, st, PhaseDo, buildDoMessages(st))
	rec, parseErr := e.env.parser.ParseExecution(raw)
	e.env.fallback(ctx, st, PhaseDo, firstErr(callErr, parseErr))

	st.Execution = rec
	e.env.finish(ctx, st, PhaseDo,
		fmt.Sprintf("executed %d steps, progress %.0f%%",
			len(rec.ExecutedSteps), float64(rec.OverallProgress)))
}

type checkExecutor struct{ env *execEnv }

func (e *checkExecutor) Phase() Phase { return PhaseCheck }

func (e *checkExecutor) Run(ctx context.Context, st *TaskState) {
	raw, callErr := e.env.chat(ctx, st, PhaseCheck, buildCheckMessages(st))
	rec, parseErr := e.env.parser.ParseCritique(raw)
	e.env.fallback(ctx, st, PhaseCheck, firstErr(callErr, parseErr))

	st.Critique = rec
	e.env.finish(ctx, st, PhaseCheck,
		fmt.Sprintf("assessment: %s (score %.1f/10)", rec.OverallAssessment, rec.QualityScore))
}

type actExecutor struct{ env *execEnv }

func (e *actExecutor) Phase() Phase { return PhaseAct }

func (e *actExecutor) Run(ctx context.Context, st *TaskState) {
	raw, callErr := e.env.chat(ctx, st, PhaseAct, buildActMessages(st))
	rec, parseErr := e.env.parser.ParseAct(raw)
	e.env.fallback(ctx, st, PhaseAct, firstErr(callErr, parseErr))

	st.Act = rec
	// Carried into the next Plan prompt as feedback.
	st.ImprovementActions = rec.ImprovementActions
	e.env.finish(ctx, st, PhaseAct,
		fmt.Sprintf("defined %d improvement actions, continue=%v",
			len(rec.ImprovementActions), rec.ShouldContinueCycle))
}

// --- ACT variant ------------------------------------------------------------

type actionExecutor struct{ env *execEnv }

func (e *actionExecutor) Phase() Phase { return PhaseAction }

func (e *actionExecutor) Run(ctx context.Context, st *TaskState) {
	raw, callErr := e.env.chat(ctx, st, PhaseAction, buildActionMessages(st, e.availableTools()))
	plan, exec, parseErr := e.env.parser.ParseAction(raw)
	e.env.fallback(ctx, st, PhaseAction, firstErr(callErr, parseErr))

	st.Plan = plan
	st.Execution = exec
	e.env.finish(ctx, st, PhaseAction,
		fmt.Sprintf("action plan: %s, %d steps, tools wanted: %s",
			plan.ActionType, len(plan.Steps), toolListOrNone(plan.ToolsNeeded)))
}

func (e *actionExecutor) availableTools() []string {
	if e.env.tools == nil {
		return nil
	}
	return e.env.tools.AvailableTools()
}

type criticismExecutor struct{ env *execEnv }

func (e *criticismExecutor) Phase() Phase { return PhaseCriticism }

func (e *criticismExecutor) Run(ctx context.Context, st *TaskState) {
	raw, callErr := e.env.chat(ctx, st, PhaseCriticism, buildCriticismMessages(st, e.env.recentTools))
	rec, parseErr := e.env.parser.ParseCritique(raw)
	e.env.fallback(ctx, st, PhaseCriticism, firstErr(callErr, parseErr))

	st.Critique = rec
	st.ImprovementActions = suggestionsToActions(rec.ImprovementSuggestions)
	e.env.finish(ctx, st, PhaseCriticism,
		fmt.Sprintf("criticism: %s (score %.1f/10, continue=%v)",
			rec.OverallAssessment, rec.QualityScore, rec.ShouldContinue))
}

type toolUseExecutor struct{ env *execEnv }

func (e *toolUseExecutor) Phase() Phase { return PhaseToolUse }

func (e *toolUseExecutor) Run(ctx context.Context, st *TaskState) {
	// The phase timeout bounds tool dispatch the same way it bounds the
	// model call: a stuck remote tool surfaces as a failed record.
	if e.env.phaseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.env.phaseTimeout)
		defer cancel()
	}

	recs := e.candidates(ctx, st)

	if len(recs) > e.env.maxToolCalls {
		recs = recs[:e.env.maxToolCalls]
	}

	invoked := 0
	for _, r := range recs {
		if r.Tool == "" {
			continue
		}
		args := r.Parameters
		if args == nil {
			args = map[string]any{}
		}
		e.env.hooks.OnToolCall(ctx, st, r.Tool, args)
		result := e.env.tools.Invoke(ctx, r.Tool, args)
		rec := ToolUsageRecord{
			ToolName:  r.Tool,
			Arguments: args,
			Result:    result,
			Timestamp: time.Now(),
		}
		st.AppendToolRecord(rec)
		e.env.hooks.OnToolResult(ctx, st, rec)
		invoked++
	}

	summary := fmt.Sprintf("invoked %d tools", invoked)
	if invoked == 0 {
		summary = "no extra tools needed"
	}
	e.env.finish(ctx, st, PhaseToolUse, summary)
}

// candidates determines which tools to invoke: the names the action phase
// asked for, or, failing that, a secondary tool-selection call.
func (e *toolUseExecutor) candidates(ctx context.Context, st *TaskState) []ToolRecommendation {
	if len(st.Plan.ToolsNeeded) > 0 {
		recs := make([]ToolRecommendation, 0, len(st.Plan.ToolsNeeded))
		for _, name := range st.Plan.ToolsNeeded {
			recs = append(recs, ToolRecommendation{Tool: name, Purpose: "required by action plan"})
		}
		return recs
	}

	raw, callErr := e.env.chat(ctx, st, PhaseToolUse, buildToolSelectMessages(st, e.env.tools.AvailableTools()))
	rec, parseErr := e.env.parser.ParseToolPlan(raw)
	e.env.fallback(ctx, st, PhaseToolUse, firstErr(callErr, parseErr))
	return rec.RecommendedTools
}

// --- helpers ----------------------------------------------------------------

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func toolListOrNone(tools []string) string {
	if len(tools) == 0 {
		return "none"
	}
	return strings.Join(tools, ", ")
}

func suggestionsToActions(suggestions []ImprovementSuggestion) []string {
	if len(suggestions) == 0 {
		return nil
	}
	actions := make([]string, 0, len(suggestions))
	for _, s := range suggestions {
		if s.Suggestion != "" {
			actions = append(actions, s.Suggestion)
		}
	}
	return actions
}
