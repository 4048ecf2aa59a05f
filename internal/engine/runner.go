package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunnerConfig holds the knobs for one runner instance. It is passed in
// explicitly so multiple concurrent runners with different configurations
// can coexist; nothing is read from ambient globals.
type RunnerConfig struct {
	Model            string
	Temperature      float32
	MaxOutputTokens  int
	Policy           PolicyConfig
	RetryConfig      *RetryConfig
	PhaseTimeout     time.Duration // 0 = no per-phase timeout
	MaxToolCalls     int           // per tool-use phase
	RecentToolWindow int           // tool records shown to criticism prompts
}

// DefaultRunnerConfig mirrors the sampling parameters both loop variants
// shipped with: low temperature for structured output, short replies.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Model:            "gpt-4o",
		Temperature:      0.3,
		MaxOutputTokens:  2000,
		Policy:           DefaultPolicyConfig(),
		MaxToolCalls:     3,
		RecentToolWindow: 3,
	}
}

// Summary is the derived result returned alongside the final state.
// Callers distinguish "completed with high confidence" from "completed by
// hitting the iteration cap" by comparing FinalQualityScore against the
// configured threshold.
type Summary struct {
	TaskID            string   `json:"task_id"`
	Task              string   `json:"task"`
	Iterations        int      `json:"iterations"`
	FinalQualityScore float64  `json:"final_quality_score"`
	FinalAssessment   string   `json:"final_assessment,omitempty"`
	ToolsUsedCount    int      `json:"tools_used_count"`
	ImprovementsMade  []string `json:"improvements_made,omitempty"`
	HitIterationCap   bool     `json:"hit_iteration_cap"`
	TotalTokens       int      `json:"total_tokens"`
}

// Runner is the public entry point: it owns one configured loop variant
// and processes tasks through it.
type Runner struct {
	variant Variant
	llm     LLMClient
	tools   ToolInvoker
	cfg     RunnerConfig
	hooks   Hooks
	saver   CheckpointSaver
}

// toolProber is implemented by tool invokers that need a one-time
// availability probe (e.g. listing tools from a remote server).
type toolProber interface {
	Probe(ctx context.Context) error
}

// RunnerBuilder assembles a Runner, validating required collaborators.
type RunnerBuilder struct {
	variant Variant
	llm     LLMClient
	tools   ToolInvoker
	cfg     RunnerConfig
	hooks   Hooks
	saver   CheckpointSaver
}

// NewRunnerBuilder starts a builder with default configuration and the
// PDCA variant.
func NewRunnerBuilder() *RunnerBuilder {
	return &RunnerBuilder{
		variant: VariantPDCA,
		cfg:     DefaultRunnerConfig(),
	}
}

// NewPDCARunner builds a Plan-Do-Check-Act runner with defaults.
func NewPDCARunner(llm LLMClient, tools ToolInvoker) (*Runner, error) {
	return NewRunnerBuilder().WithVariant(VariantPDCA).WithLLM(llm).WithTools(tools).Build()
}

// NewACTRunner builds an Action-Criticism-ToolUse runner with defaults.
func NewACTRunner(llm LLMClient, tools ToolInvoker) (*Runner, error) {
	return NewRunnerBuilder().WithVariant(VariantACT).WithLLM(llm).WithTools(tools).Build()
}

func (b *RunnerBuilder) WithVariant(v Variant) *RunnerBuilder {
	b.variant = v
	return b
}

func (b *RunnerBuilder) WithLLM(llm LLMClient) *RunnerBuilder {
	b.llm = llm
	return b
}

func (b *RunnerBuilder) WithTools(tools ToolInvoker) *RunnerBuilder {
	b.tools = tools
	return b
}

func (b *RunnerBuilder) WithConfig(cfg RunnerConfig) *RunnerBuilder {
	b.cfg = cfg
	return b
}

func (b *RunnerBuilder) WithHooks(hooks ...Hook) *RunnerBuilder {
	b.hooks = append(b.hooks, hooks...)
	return b
}

func (b *RunnerBuilder) WithCheckpoints(saver CheckpointSaver) *RunnerBuilder {
	b.saver = saver
	return b
}

// Build validates the configuration. A missing LLM client is the one
// unrecoverable condition: everything inside the loop degrades gracefully,
// but without a model endpoint there is no loop to run.
func (b *RunnerBuilder) Build() (*Runner, error) {
	if b.llm == nil {
		return nil, fmt.Errorf("LLM client not configured: use WithLLM")
	}
	switch b.variant {
	case VariantPDCA, VariantACT:
	default:
		return nil, fmt.Errorf("unknown variant: %q", b.variant)
	}
	cfg := b.cfg
	if cfg.MaxToolCalls <= 0 {
		cfg.MaxToolCalls = 3
	}
	if cfg.RecentToolWindow <= 0 {
		cfg.RecentToolWindow = 3
	}
	if cfg.Policy.MaxIterations <= 0 {
		cfg.Policy = DefaultPolicyConfig()
	}
	return &Runner{
		variant: b.variant,
		llm:     b.llm,
		tools:   b.tools,
		cfg:     cfg,
		hooks:   b.hooks,
		saver:   b.saver,
	}, nil
}

// ProcessTask runs one task through the configured loop variant and
// returns the final state plus a derived summary. The task description may
// be empty; the loop still runs and terminates within the iteration cap.
func (r *Runner) ProcessTask(ctx context.Context, description string) (*TaskState, Summary, error) {
	// Probe remote tool availability once per run. A failed probe is not
	// fatal: the invoker falls back to its static tool list.
	if prober, ok := r.tools.(toolProber); ok {
		if err := prober.Probe(ctx); err != nil {
			r.hooks.OnParseFallback(ctx, nil, r.entryPhase(), fmt.Errorf("tool probe failed, using static tool list: %w", err))
		}
	}

	st := NewTaskState(uuid.NewString(), description)

	env := &execEnv{
		llm:   r.llm,
		model: r.cfg.Model,
		opts: ChatOptions{
			Temperature:     r.cfg.Temperature,
			MaxOutputTokens: r.cfg.MaxOutputTokens,
			RetryConfig:     r.cfg.RetryConfig,
		},
		hooks:        r.hooks,
		tools:        r.tools,
		phaseTimeout: r.cfg.PhaseTimeout,
		maxToolCalls: r.cfg.MaxToolCalls,
		recentTools:  r.cfg.RecentToolWindow,
	}

	var g *Graph
	if r.variant == VariantACT {
		g = newACTGraph(env, r.cfg.Policy, r.hooks, r.saver)
	} else {
		g = newPDCAGraph(env, r.cfg.Policy, r.hooks, r.saver)
	}

	if err := g.Execute(ctx, st); err != nil {
		return st, r.summarize(st), err
	}
	return st, r.summarize(st), nil
}

func (r *Runner) entryPhase() Phase {
	if r.variant == VariantACT {
		return PhaseAction
	}
	return PhasePlan
}

func (r *Runner) summarize(st *TaskState) Summary {
	return Summary{
		TaskID:            st.TaskID,
		Task:              st.TaskDescription,
		Iterations:        st.IterationCount,
		FinalQualityScore: st.Critique.QualityScore,
		FinalAssessment:   st.Critique.OverallAssessment,
		ToolsUsedCount:    len(st.ToolUsage),
		ImprovementsMade:  st.ImprovementActions,
		HitIterationCap:   st.IterationCount >= r.cfg.Policy.MaxIterations,
		TotalTokens:       st.Totals.Total,
	}
}
