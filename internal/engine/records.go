package engine

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// FlexFloat decodes a JSON number or a numeric string. Models frequently
// return progress percentages as "50" instead of 50.
type FlexFloat float64

func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "%")
		if s == "" {
			*f = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			*f = 0
			return nil // lenient: non-numeric strings collapse to zero
		}
		*f = FlexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = FlexFloat(v)
	return nil
}

// PlanStep is a single ordered step of a plan.
type PlanStep struct {
	Step            int    `json:"step"`
	Action          string `json:"action"`
	Reasoning       string `json:"reasoning,omitempty"`
	ExpectedOutcome string `json:"expected_outcome,omitempty"`
	Timeline        string `json:"timeline,omitempty"`
}

// PlanRecord is the output of the Plan (PDCA) or Action (ACT) phase.
type PlanRecord struct {
	ActionType      string     `json:"action_type,omitempty"`
	Goals           []string   `json:"goals"`
	Steps           []PlanStep `json:"steps"`
	ToolsNeeded     []string   `json:"tools_needed"`
	ResourcesNeeded []string   `json:"resources_needed,omitempty"`
	SuccessCriteria []string   `json:"success_criteria,omitempty"`
	PotentialRisks  []string   `json:"potential_risks,omitempty"`
	Confidence      float64    `json:"confidence"`
}

// DefaultPlanRecord is the deterministic fallback when the model replies in
// free prose instead of the requested JSON: a minimal single-step plan that
// keeps the loop moving.
func DefaultPlanRecord() PlanRecord {
	return PlanRecord{
		ActionType: "basic execution",
		Goals:      []string{"complete the given task"},
		Steps: []PlanStep{
			{Step: 1, Action: "start working on the task", ExpectedOutcome: "task progress"},
		},
		ToolsNeeded: nil,
		Confidence:  0.7,
	}
}

// ExecutedStep records one step of simulated execution.
type ExecutedStep struct {
	Step        int    `json:"step"`
	ActionTaken string `json:"action_taken"`
	Result      string `json:"result"`
	Issues      string `json:"issues,omitempty"`
}

// ExecutionRecord is the output of the Do (PDCA) phase, or the embedded
// execution_result of the Action (ACT) phase.
type ExecutionRecord struct {
	ExecutedSteps      []ExecutedStep `json:"executed_steps,omitempty"`
	Success            bool           `json:"success"`
	Output             string         `json:"output,omitempty"`
	OverallProgress    FlexFloat      `json:"overall_progress"`
	Challenges         []string       `json:"challenges,omitempty"`
	UnexpectedOutcomes []string       `json:"unexpected_outcomes,omitempty"`
	NextSteps          []string       `json:"next_steps,omitempty"`
}

func DefaultExecutionRecord() ExecutionRecord {
	return ExecutionRecord{
		ExecutedSteps: []ExecutedStep{
			{Step: 1, ActionTaken: "performed the basic task", Result: "made progress"},
		},
		Success:         true,
		Output:          "basic task execution",
		OverallProgress: 50,
	}
}

// ImprovementSuggestion is one targeted suggestion from the critique.
type ImprovementSuggestion struct {
	Area       string `json:"area"`
	Suggestion string `json:"suggestion"`
	Priority   string `json:"priority,omitempty"`
}

// CritiqueRecord is the output of the Check (PDCA) or Criticism (ACT) phase.
// QualityScore lives on a 0-10 scale; parsing clamps out-of-range values.
type CritiqueRecord struct {
	OverallAssessment      string                  `json:"overall_assessment,omitempty"`
	QualityScore           float64                 `json:"quality_score"`
	Strengths              []string                `json:"strengths,omitempty"`
	Weaknesses             []string                `json:"weaknesses,omitempty"`
	ImprovementSuggestions []ImprovementSuggestion `json:"improvement_suggestions,omitempty"`
	ShouldContinue         bool                    `json:"should_continue"`
	NextFocus              string                  `json:"next_focus,omitempty"`
}

// DefaultCritiqueRecord is a neutral critique: passable score, no request
// to continue. A run whose critiques all fail to parse therefore terminates
// after one cycle instead of spinning.
func DefaultCritiqueRecord() CritiqueRecord {
	return CritiqueRecord{
		OverallAssessment: "average",
		QualityScore:      7.0,
		Strengths:         []string{"task essentially completed"},
		Weaknesses:        []string{"could be refined further"},
		ShouldContinue:    false,
		NextFocus:         "wrap up",
	}
}

// ActRecord is the output of the Act (PDCA) phase.
type ActRecord struct {
	ImprovementActions   []string `json:"improvement_actions"`
	ProcessChanges       []string `json:"process_changes,omitempty"`
	ResourceAdjustments  []string `json:"resource_adjustments,omitempty"`
	ShouldContinueCycle  bool     `json:"should_continue_cycle"`
	ReasonToContinue     string   `json:"reason_to_continue,omitempty"`
	ExpectedImprovements []string `json:"expected_improvements,omitempty"`
}

func DefaultActRecord() ActRecord {
	return ActRecord{
		ImprovementActions:  []string{"streamline the execution process"},
		ShouldContinueCycle: false,
		ReasonToContinue:    "task essentially complete",
	}
}

// ToolRecommendation names one tool the model wants invoked, with arguments.
type ToolRecommendation struct {
	Tool       string         `json:"tool"`
	Purpose    string         `json:"purpose,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ToolPlanRecord is the output of the secondary tool-selection call made
// when the action phase did not name any tools explicitly.
type ToolPlanRecord struct {
	RecommendedTools []ToolRecommendation `json:"recommended_tools"`
	Reasoning        string               `json:"reasoning,omitempty"`
}

// DefaultToolPlanRecord recommends nothing: a failed tool-selection call
// simply means the phase runs zero tools.
func DefaultToolPlanRecord() ToolPlanRecord {
	return ToolPlanRecord{}
}
