package engine

// PolicyConfig bounds the cycle.
type PolicyConfig struct {
	MaxIterations    int     // hard cap on full cycles
	QualityThreshold float64 // quality_score at or above which the run stops
}

// DefaultPolicyConfig mirrors the bounds both loop variants shipped with.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		MaxIterations:    3,
		QualityThreshold: 8.0,
	}
}

// Decision is the termination policy's verdict after a cycle.
type Decision struct {
	Continue bool
	Reason   string
}

// Decide is the termination policy: a pure function of state deciding
// whether the loop starts another cycle. Rules are evaluated in a fixed
// priority order; the iteration cap and the quality threshold both override
// an affirmative continue signal from the model.
//
// IterationCount counts completed cycles: the graph increments it at the
// end of each full cycle, before consulting Decide. Decide itself has no
// side effects.
func Decide(st *TaskState, cfg PolicyConfig, variant Variant) Decision {
	if cfg.MaxIterations > 0 && st.IterationCount >= cfg.MaxIterations {
		return Decision{Continue: false, Reason: "iteration cap reached"}
	}
	if st.Critique.QualityScore >= cfg.QualityThreshold {
		return Decision{Continue: false, Reason: "quality threshold met"}
	}
	if !continueSignal(st, variant) {
		return Decision{Continue: false, Reason: "model signalled completion"}
	}
	return Decision{Continue: true, Reason: "quality below threshold, model wants another cycle"}
}

// continueSignal reads the variant-specific continue flag: the Act phase's
// should_continue_cycle for PDCA, the critique's should_continue for ACT.
func continueSignal(st *TaskState, variant Variant) bool {
	if variant == VariantPDCA {
		return st.Act.ShouldContinueCycle
	}
	return st.Critique.ShouldContinue
}
