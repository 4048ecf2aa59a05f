package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// scriptedLLM returns canned replies in order, cycling when exhausted.
type scriptedLLM struct {
	mu      sync.Mutex
	replies []string
	calls   int
}

func (s *scriptedLLM) Chat(_ context.Context, _ string, _ []ChatMessage, _ ChatOptions) (LLMResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reply := s.replies[s.calls%len(s.replies)]
	s.calls++
	return LLMResponse{
		Content:      reply,
		Usage:        Usage{Prompt: 10, Completion: 5, Total: 15},
		FinishReason: "stop",
	}, nil
}

func (s *scriptedLLM) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// failingLLM errors on every call.
type failingLLM struct{}

func (failingLLM) Chat(context.Context, string, []ChatMessage, ChatOptions) (LLMResponse, error) {
	return LLMResponse{}, errors.New("connection refused")
}

// fakeInvoker records invocations and succeeds or fails uniformly.
type fakeInvoker struct {
	mu      sync.Mutex
	names   []string
	fail    bool
	toolSet []string
}

func (f *fakeInvoker) Invoke(_ context.Context, name string, _ map[string]any) map[string]any {
	f.mu.Lock()
	f.names = append(f.names, name)
	f.mu.Unlock()
	if f.fail {
		return map[string]any{"success": false, "error": "device offline"}
	}
	return map[string]any{"success": true, "output": "ok"}
}

func (f *fakeInvoker) AvailableTools() []string {
	if f.toolSet != nil {
		return f.toolSet
	}
	return []string{"calculator", "take_screenshot"}
}

func (f *fakeInvoker) invoked() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.names...)
}

// countingSaver counts checkpoint writes.
type countingSaver struct {
	mu    sync.Mutex
	saves int
}

func (c *countingSaver) Save(context.Context, *TaskState) error {
	c.mu.Lock()
	c.saves++
	c.mu.Unlock()
	return nil
}

func (c *countingSaver) Load(context.Context, string) (*TaskState, error) {
	return nil, errors.New("not found")
}

// decisionHook records every termination decision for ordering checks.
type decisionHook struct {
	NopHook
	mu         sync.Mutex
	iterations []int
}

func (h *decisionHook) OnDecision(_ context.Context, st *TaskState, _ Decision) {
	h.mu.Lock()
	h.iterations = append(h.iterations, st.IterationCount)
	h.mu.Unlock()
}

const (
	planReply  = "```json\n{\"goals\":[\"finish\"],\"steps\":[{\"step\":1,\"action\":\"work\"}],\"tools_needed\":[],\"confidence\":0.8}\n```"
	doReply    = `{"executed_steps":[{"step":1,"action_taken":"worked","result":"partial"}],"success":true,"overall_progress":60}`
	checkLow   = `{"overall_assessment":"needs work","quality_score":4.0,"should_continue":true}`
	checkHigh  = `{"overall_assessment":"excellent","quality_score":9.2,"should_continue":false}`
	actGoAgain = `{"improvement_actions":["tighten step 1"],"should_continue_cycle":true}`
)

func noRetry() *RetryConfig {
	return &RetryConfig{LLMPolicy: RetryPolicy{MaxRetries: 0}}
}

func newTestRunner(t *testing.T, variant Variant, llm LLMClient, tools ToolInvoker, extra ...Hook) *Runner {
	t.Helper()
	cfg := DefaultRunnerConfig()
	cfg.RetryConfig = noRetry()
	r, err := NewRunnerBuilder().
		WithVariant(variant).
		WithLLM(llm).
		WithTools(tools).
		WithConfig(cfg).
		WithHooks(extra...).
		Build()
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	return r
}

func TestPDCAStopsWhenQualityReached(t *testing.T) {
	llm := &scriptedLLM{replies: []string{planReply, doReply, checkHigh, actGoAgain}}
	r := newTestRunner(t, VariantPDCA, llm, nil)

	st, sum, err := r.ProcessTask(context.Background(), "write a short poem")
	if err != nil {
		t.Fatalf("ProcessTask() error: %v", err)
	}
	if !st.IsComplete || st.CurrentPhase != PhaseComplete {
		t.Errorf("state not terminal: phase=%s complete=%v", st.CurrentPhase, st.IsComplete)
	}
	if sum.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", sum.Iterations)
	}
	if sum.FinalQualityScore != 9.2 {
		t.Errorf("final score = %v, want 9.2", sum.FinalQualityScore)
	}
	if sum.HitIterationCap {
		t.Error("run stopped on quality, not the cap")
	}
	if got := llm.callCount(); got != 4 {
		t.Errorf("LLM calls = %d, want 4 (one per phase)", got)
	}
	if sum.TotalTokens != 4*15 {
		t.Errorf("token total = %d, want %d", sum.TotalTokens, 4*15)
	}
}

func TestPDCAStopsAtIterationCap(t *testing.T) {
	// Quality never improves and the model always wants another cycle.
	llm := &scriptedLLM{replies: []string{planReply, doReply, checkLow, actGoAgain}}
	hook := &decisionHook{}
	r := newTestRunner(t, VariantPDCA, llm, nil, hook)

	st, sum, err := r.ProcessTask(context.Background(), "impossible standards")
	if err != nil {
		t.Fatalf("ProcessTask() error: %v", err)
	}
	if sum.Iterations != 3 {
		t.Errorf("iterations = %d, want exactly 3", sum.Iterations)
	}
	if !sum.HitIterationCap {
		t.Error("summary should report the iteration cap")
	}
	if got := llm.callCount(); got != 12 {
		t.Errorf("LLM calls = %d, want 12 (4 phases x 3 cycles)", got)
	}
	if !st.IsComplete {
		t.Error("state must be terminal")
	}

	// The iteration counter is strictly monotonic across decisions.
	want := []int{1, 2, 3}
	if len(hook.iterations) != len(want) {
		t.Fatalf("decisions = %v, want %v", hook.iterations, want)
	}
	for i, n := range want {
		if hook.iterations[i] != n {
			t.Errorf("decision %d saw iteration %d, want %d", i, hook.iterations[i], n)
		}
	}
}

func TestPDCATerminatesOnGarbageReplies(t *testing.T) {
	// Free prose on every call: each phase falls back to its default, and
	// the default act record does not continue the cycle.
	llm := &scriptedLLM{replies: []string{"Let me think about this some more."}}
	r := newTestRunner(t, VariantPDCA, llm, nil)

	st, sum, err := r.ProcessTask(context.Background(), "anything")
	if err != nil {
		t.Fatalf("ProcessTask() error: %v", err)
	}
	if !st.IsComplete {
		t.Fatal("run must terminate")
	}
	if sum.Iterations != 1 {
		t.Errorf("iterations = %d, want 1 (default act stops the cycle)", sum.Iterations)
	}
	if sum.FinalQualityScore != 7.0 {
		t.Errorf("final score = %v, want default 7.0", sum.FinalQualityScore)
	}
}

func TestPDCATerminatesWhenLLMAlwaysFails(t *testing.T) {
	r := newTestRunner(t, VariantPDCA, failingLLM{}, nil)

	st, sum, err := r.ProcessTask(context.Background(), "no model available")
	if err != nil {
		t.Fatalf("ProcessTask() error: %v", err)
	}
	if !st.IsComplete {
		t.Fatal("run must terminate even when every call fails")
	}
	if sum.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", sum.Iterations)
	}
	// The audit trail should record the fallbacks.
	var sawFallback bool
	for _, msg := range st.MessageHistory() {
		if strings.Contains(msg.Content, "fell back to default output") {
			sawFallback = true
			break
		}
	}
	if !sawFallback {
		t.Error("audit trail missing fallback entries")
	}
}

func TestEmptyTaskDescriptionStillCompletes(t *testing.T) {
	llm := &scriptedLLM{replies: []string{planReply, doReply, checkHigh, actGoAgain}}
	r := newTestRunner(t, VariantPDCA, llm, nil)

	st, _, err := r.ProcessTask(context.Background(), "")
	if err != nil {
		t.Fatalf("ProcessTask() error: %v", err)
	}
	if !st.IsComplete {
		t.Error("empty description must still run to completion")
	}
}

func TestACTToolCallCap(t *testing.T) {
	// The action names five tools; only three may run in one cycle.
	actionFiveTools := `{"action_type":"tool_use","goals":["g"],"steps":[{"step":1,"action":"a"}],` +
		`"tools_needed":["wake_screen","take_screenshot","click_screen","input_text","go_home"],"confidence":0.9,` +
		`"execution_result":{"success":true,"overall_progress":70}}`
	critiqueStop := `{"overall_assessment":"done","quality_score":8.5,"should_continue":false}`

	llm := &scriptedLLM{replies: []string{actionFiveTools, critiqueStop}}
	inv := &fakeInvoker{}
	r := newTestRunner(t, VariantACT, llm, inv)

	st, sum, err := r.ProcessTask(context.Background(), "drive the device")
	if err != nil {
		t.Fatalf("ProcessTask() error: %v", err)
	}
	if got := inv.invoked(); len(got) != 3 {
		t.Fatalf("invoked %d tools %v, want 3", len(got), got)
	}
	if sum.ToolsUsedCount != 3 {
		t.Errorf("summary tool count = %d, want 3", sum.ToolsUsedCount)
	}
	// Order follows the plan's listing.
	want := []string{"wake_screen", "take_screenshot", "click_screen"}
	for i, name := range want {
		if inv.invoked()[i] != name {
			t.Errorf("tool %d = %s, want %s", i, inv.invoked()[i], name)
		}
	}
	if !st.IsComplete {
		t.Error("state must be terminal")
	}
}

func TestACTToolFailureDoesNotAbort(t *testing.T) {
	actionOneTool := `{"action_type":"tool_use","goals":["g"],"steps":[{"step":1,"action":"a"}],` +
		`"tools_needed":["take_screenshot"],"confidence":0.9}`
	critiqueStop := `{"overall_assessment":"blocked","quality_score":3.0,"should_continue":false}`

	llm := &scriptedLLM{replies: []string{actionOneTool, critiqueStop}}
	inv := &fakeInvoker{fail: true}
	r := newTestRunner(t, VariantACT, llm, inv)

	st, _, err := r.ProcessTask(context.Background(), "screenshot please")
	if err != nil {
		t.Fatalf("ProcessTask() error: %v", err)
	}
	log := st.ToolLog()
	if len(log) != 1 {
		t.Fatalf("tool log has %d entries, want 1", len(log))
	}
	if log[0].Result["success"] != false {
		t.Errorf("tool result = %v, want success=false", log[0].Result)
	}
	if !st.IsComplete {
		t.Error("a failed tool must not abort the run")
	}
}

func TestACTSkipsToolPhaseWithoutTools(t *testing.T) {
	actionNoTools := `{"action_type":"direct_response","goals":["g"],"steps":[{"step":1,"action":"answer"}],` +
		`"tools_needed":[],"confidence":0.9}`
	critiqueStop := `{"overall_assessment":"fine","quality_score":9.0,"should_continue":false}`

	llm := &scriptedLLM{replies: []string{actionNoTools, critiqueStop}}
	inv := &fakeInvoker{}
	r := newTestRunner(t, VariantACT, llm, inv)

	if _, _, err := r.ProcessTask(context.Background(), "plain question"); err != nil {
		t.Fatalf("ProcessTask() error: %v", err)
	}
	if got := inv.invoked(); len(got) != 0 {
		t.Errorf("no tools should run, got %v", got)
	}
	// Two calls: action and criticism, no tool-selection call.
	if got := llm.callCount(); got != 2 {
		t.Errorf("LLM calls = %d, want 2", got)
	}
}

func TestACTSecondaryToolSelection(t *testing.T) {
	// The action declares tool_use without naming tools, so the tool phase
	// makes a secondary selection call.
	actionToolUseUnnamed := `{"action_type":"tool_use","goals":["g"],"steps":[{"step":1,"action":"a"}],` +
		`"tools_needed":[],"confidence":0.9}`
	toolPlan := `{"recommended_tools":[{"tool":"calculator","purpose":"math","parameters":{"expression":"2+2"}}]}`
	critiqueStop := `{"overall_assessment":"done","quality_score":9.0,"should_continue":false}`

	llm := &scriptedLLM{replies: []string{actionToolUseUnnamed, toolPlan, critiqueStop}}
	inv := &fakeInvoker{}
	r := newTestRunner(t, VariantACT, llm, inv)

	if _, _, err := r.ProcessTask(context.Background(), "compute"); err != nil {
		t.Fatalf("ProcessTask() error: %v", err)
	}
	got := inv.invoked()
	if len(got) != 1 || got[0] != "calculator" {
		t.Errorf("invoked = %v, want [calculator]", got)
	}
}

func TestCheckpointsSavedPerPhase(t *testing.T) {
	llm := &scriptedLLM{replies: []string{planReply, doReply, checkHigh, actGoAgain}}
	saver := &countingSaver{}

	cfg := DefaultRunnerConfig()
	cfg.RetryConfig = noRetry()
	r, err := NewRunnerBuilder().
		WithVariant(VariantPDCA).
		WithLLM(llm).
		WithConfig(cfg).
		WithCheckpoints(saver).
		Build()
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	if _, _, err := r.ProcessTask(context.Background(), "checkpointed run"); err != nil {
		t.Fatalf("ProcessTask() error: %v", err)
	}
	// Four phases plus the terminal snapshot.
	if saver.saves != 5 {
		t.Errorf("saves = %d, want 5", saver.saves)
	}
}

func TestProcessTaskHonorsCancellation(t *testing.T) {
	llm := &scriptedLLM{replies: []string{planReply, doReply, checkLow, actGoAgain}}
	r := newTestRunner(t, VariantPDCA, llm, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := r.ProcessTask(ctx, "cancelled before start")
	if err == nil {
		t.Fatal("want error for cancelled context")
	}
}

func TestBuilderRequiresLLM(t *testing.T) {
	if _, err := NewRunnerBuilder().Build(); err == nil {
		t.Fatal("Build() must fail without an LLM client")
	}
}

func TestBuilderRejectsUnknownVariant(t *testing.T) {
	_, err := NewRunnerBuilder().
		WithLLM(&scriptedLLM{replies: []string{"x"}}).
		WithVariant(Variant("spiral")).
		Build()
	if err == nil {
		t.Fatal("Build() must reject unknown variants")
	}
}

func TestTaskIDsAreUnique(t *testing.T) {
	llm := &scriptedLLM{replies: []string{planReply, doReply, checkHigh, actGoAgain}}
	r := newTestRunner(t, VariantPDCA, llm, nil)

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		st, _, err := r.ProcessTask(context.Background(), "same task")
		if err != nil {
			t.Fatalf("ProcessTask() error: %v", err)
		}
		if seen[st.TaskID] {
			t.Fatalf("duplicate task ID %s", st.TaskID)
		}
		seen[st.TaskID] = true
	}
}

func TestGraphTransitionBudget(t *testing.T) {
	// A miswired graph must halt through the transition budget rather than
	// spin forever.
	env := &execEnv{
		llm:          &scriptedLLM{replies: []string{planReply}},
		model:        "m",
		hooks:        nil,
		maxToolCalls: 3,
		recentTools:  3,
		opts:         ChatOptions{RetryConfig: noRetry()},
	}
	g := newPDCAGraph(env, PolicyConfig{MaxIterations: 2, QualityThreshold: 8.0}, nil, nil)
	// Sabotage the back-edge so no transition terminates.
	g.edges[PhaseAct] = func(*TaskState) Phase { return PhasePlan }

	st := NewTaskState("t1", "task")
	done := make(chan error, 1)
	go func() { done <- g.Execute(context.Background(), st) }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("Execute() must fail once the transition budget is spent")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Execute() did not halt")
	}
}
