package engine

import (
	"sync"
	"time"
)

// Variant selects which cycle the orchestration graph runs.
type Variant string

const (
	VariantPDCA Variant = "pdca" // Plan -> Do -> Check -> Act
	VariantACT  Variant = "act"  // Action -> [ToolUse] -> Criticism
)

// Phase represents one node of the orchestration state machine.
type Phase string

const (
	PhasePlan      Phase = "plan"
	PhaseDo        Phase = "do"
	PhaseCheck     Phase = "check"
	PhaseAct       Phase = "act"
	PhaseAction    Phase = "action"
	PhaseCriticism Phase = "criticism"
	PhaseToolUse   Phase = "tool_use"
	PhaseComplete  Phase = "complete"
)

// ToolUsageRecord is one entry of the append-only tool-call log.
type ToolUsageRecord struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
	Result    map[string]any `json:"result"`
	Timestamp time.Time      `json:"timestamp"`
}

// TaskState is the single mutable record threaded through all phases of one
// task run. It has exactly one owner (the running graph); History and
// ToolUsage appends go through the mutex so an external observer can read
// snapshots at any point without torn reads.
type TaskState struct {
	TaskID          string `json:"task_id"`
	TaskDescription string `json:"task_description"` // immutable after creation

	CurrentPhase Phase `json:"current_phase"`

	Plan      PlanRecord      `json:"plan"`
	Execution ExecutionRecord `json:"execution_result"`
	Critique  CritiqueRecord  `json:"critique"`
	Act       ActRecord       `json:"act"`

	ImprovementActions []string `json:"improvement_actions"`

	IterationCount int  `json:"iteration_count"` // full cycles started, never decremented
	IsComplete     bool `json:"is_complete"`     // monotonic, set by the terminal transition only

	ToolUsage []ToolUsageRecord `json:"tool_usage"`
	History   []ChatMessage     `json:"message_history"`

	Totals Usage `json:"token_totals"`

	mu sync.Mutex
}

// NewTaskState creates the initial state for one task run. The task
// description becomes the first user message of the audit trail.
func NewTaskState(taskID, description string) *TaskState {
	return &TaskState{
		TaskID:          taskID,
		TaskDescription: description,
		History: []ChatMessage{
			{Role: RoleUser, Content: description},
		},
	}
}

// Append adds a message to the audit trail.
func (s *TaskState) Append(msg ChatMessage) {
	s.mu.Lock()
	s.History = append(s.History, msg)
	s.mu.Unlock()
}

// AppendToolRecord adds one entry to the tool-call log.
func (s *TaskState) AppendToolRecord(rec ToolUsageRecord) {
	s.mu.Lock()
	s.ToolUsage = append(s.ToolUsage, rec)
	s.mu.Unlock()
}

// MessageHistory returns a copy of the audit trail safe to read while the
// run is still in flight.
func (s *TaskState) MessageHistory() []ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChatMessage, len(s.History))
	copy(out, s.History)
	return out
}

// ToolLog returns a copy of the tool-call log.
func (s *TaskState) ToolLog() []ToolUsageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ToolUsageRecord, len(s.ToolUsage))
	copy(out, s.ToolUsage)
	return out
}

// RecentToolRecords returns up to n of the most recent tool-call records.
// Criticism prompts include only the tail of the log to bound prompt size.
func (s *TaskState) RecentToolRecords(n int) []ToolUsageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || len(s.ToolUsage) == 0 {
		return nil
	}
	start := len(s.ToolUsage) - n
	if start < 0 {
		start = 0
	}
	out := make([]ToolUsageRecord, len(s.ToolUsage)-start)
	copy(out, s.ToolUsage[start:])
	return out
}

// AddUsage accumulates token usage across all LLM calls of the run.
func (s *TaskState) AddUsage(u Usage) {
	s.Totals.Prompt += u.Prompt
	s.Totals.Completion += u.Completion
	s.Totals.Total += u.Total
}
