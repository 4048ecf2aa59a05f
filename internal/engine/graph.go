package engine

import (
	"context"
	"fmt"
)

// transitionFunc picks the next phase after a node has run.
type transitionFunc func(st *TaskState) Phase

// Graph is the orchestration state machine: named phase nodes, a transition
// table, and a single back-edge to the entry phase guarded by the
// termination policy. It is deliberately an explicit table rather than
// recursive calls so the back-edge and the iteration bound stay visible and
// testable in isolation.
type Graph struct {
	variant Variant
	entry   Phase
	nodes   map[Phase]PhaseExecutor
	edges   map[Phase]transitionFunc
	policy  PolicyConfig
	hooks   Hooks
	saver   CheckpointSaver
}

// newPDCAGraph wires the strictly linear Plan -> Do -> Check -> Act cycle.
// Act consults the termination policy for the back-edge.
func newPDCAGraph(env *execEnv, policy PolicyConfig, hooks Hooks, saver CheckpointSaver) *Graph {
	g := &Graph{
		variant: VariantPDCA,
		entry:   PhasePlan,
		nodes: map[Phase]PhaseExecutor{
			PhasePlan:  &planExecutor{env: env},
			PhaseDo:    &doExecutor{env: env},
			PhaseCheck: &checkExecutor{env: env},
			PhaseAct:   &actExecutor{env: env},
		},
		policy: policy,
		hooks:  hooks,
		saver:  saver,
	}
	g.edges = map[Phase]transitionFunc{
		PhasePlan:  func(*TaskState) Phase { return PhaseDo },
		PhaseDo:    func(*TaskState) Phase { return PhaseCheck },
		PhaseCheck: func(*TaskState) Phase { return PhaseAct },
		PhaseAct:   g.cycleEdge,
	}
	return g
}

// newACTGraph wires Action -> [ToolUse] -> Criticism. Action branches to
// ToolUse only when the plan named tools; Criticism consults the
// termination policy directly.
func newACTGraph(env *execEnv, policy PolicyConfig, hooks Hooks, saver CheckpointSaver) *Graph {
	g := &Graph{
		variant: VariantACT,
		entry:   PhaseAction,
		nodes: map[Phase]PhaseExecutor{
			PhaseAction:    &actionExecutor{env: env},
			PhaseToolUse:   &toolUseExecutor{env: env},
			PhaseCriticism: &criticismExecutor{env: env},
		},
		policy: policy,
		hooks:  hooks,
		saver:  saver,
	}
	g.edges = map[Phase]transitionFunc{
		PhaseAction: func(st *TaskState) Phase {
			// Tools run when the action named them, or declared itself a
			// tool-use action without naming any (a secondary selection
			// call picks them in that case).
			if env.tools != nil && (len(st.Plan.ToolsNeeded) > 0 || st.Plan.ActionType == "tool_use") {
				return PhaseToolUse
			}
			return PhaseCriticism
		},
		PhaseToolUse:   func(*TaskState) Phase { return PhaseCriticism },
		PhaseCriticism: g.cycleEdge,
	}
	return g
}

// cycleEdge is the single back-edge of the machine. A full cycle has just
// completed, so the iteration counter advances before the policy decides
// whether to loop or stop.
func (g *Graph) cycleEdge(st *TaskState) Phase {
	st.IterationCount++
	d := Decide(st, g.policy, g.variant)
	g.hooks.OnDecision(context.Background(), st, d)
	if d.Continue {
		return g.entry
	}
	return PhaseComplete
}

// Execute drives the state machine to the Complete node. Each node runs to
// completion before the graph advances; no two nodes execute concurrently
// within one task. The transition budget is a backstop on top of the
// termination policy so a miswired table can never loop forever.
func (g *Graph) Execute(ctx context.Context, st *TaskState) error {
	maxTransitions := (len(g.nodes) + 1) * (g.policy.MaxIterations + 1)

	cur := g.entry
	for i := 0; cur != PhaseComplete; i++ {
		if i >= maxTransitions {
			return fmt.Errorf("transition budget exceeded at phase %s after %d transitions", cur, i)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("task cancelled in phase %s: %w", cur, ctx.Err())
		default:
		}

		node, ok := g.nodes[cur]
		if !ok {
			return fmt.Errorf("no executor registered for phase %s", cur)
		}

		g.hooks.OnPhaseStart(ctx, st, cur)
		node.Run(ctx, st)
		g.checkpoint(ctx, st)

		cur = g.edges[cur](st)
	}

	st.CurrentPhase = PhaseComplete
	st.IsComplete = true
	st.Append(ChatMessage{
		Role: RoleAssistant,
		Content: fmt.Sprintf("task complete after %d iterations (final score %.1f/10, %d tool calls)",
			st.IterationCount, st.Critique.QualityScore, len(st.ToolUsage)),
	})
	g.checkpoint(ctx, st)
	g.hooks.OnDone(ctx, st)
	return nil
}

// checkpoint persists state if a saver is attached. Persistence failures
// are logged through the hooks and never abort the run.
func (g *Graph) checkpoint(ctx context.Context, st *TaskState) {
	if g.saver == nil {
		return
	}
	err := g.saver.Save(ctx, st)
	g.hooks.OnCheckpoint(ctx, st, err)
}
