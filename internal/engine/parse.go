package engine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ResponseParser extracts a phase-specific JSON record from an LLM's
// free-text reply. Every Parse* method is total: on malformed input it
// returns the phase's deterministic default record together with the parse
// error, never a panic and never a retry. Retry policy belongs to the
// LLM client, not here.
//
// Extraction tolerates a fenced ```json block or prose surrounding the
// first JSON object. Duplicate keys follow standard JSON semantics (last
// value wins); no deduplication is attempted.
type ResponseParser struct{}

var jsonFenceRe = regexp.MustCompile("```(?:json)?\\s*\\n?([\\s\\S]*?)```")

// extractJSON pulls the first JSON object out of raw text.
func extractJSON(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", fmt.Errorf("empty reply")
	}

	if m := jsonFenceRe.FindStringSubmatch(trimmed); len(m) > 1 {
		trimmed = strings.TrimSpace(m[1])
	}

	start := strings.Index(trimmed, "{")
	if start == -1 {
		return "", fmt.Errorf("no JSON object found")
	}

	dec := json.NewDecoder(strings.NewReader(trimmed[start:]))
	dec.UseNumber()

	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return "", fmt.Errorf("malformed JSON object: %w", err)
	}
	return string(raw), nil
}

// ParsePlan parses a Plan/Action reply. The fallback is a minimal
// single-step plan so the loop proceeds regardless of what the model said.
func (ResponseParser) ParsePlan(raw string) (PlanRecord, error) {
	text, err := extractJSON(raw)
	if err != nil {
		return DefaultPlanRecord(), err
	}
	var rec PlanRecord
	if err := json.Unmarshal([]byte(text), &rec); err != nil {
		return DefaultPlanRecord(), fmt.Errorf("plan decode: %w", err)
	}
	if len(rec.Steps) == 0 {
		return DefaultPlanRecord(), fmt.Errorf("plan missing steps")
	}
	if rec.Confidence == 0 {
		rec.Confidence = 0.7
	}
	return rec, nil
}

// ParseAction parses an Action reply, which carries both the plan and an
// embedded execution_result. Either half falls back independently.
func (p ResponseParser) ParseAction(raw string) (PlanRecord, ExecutionRecord, error) {
	plan, planErr := p.ParsePlan(raw)

	text, err := extractJSON(raw)
	if err != nil {
		return plan, DefaultExecutionRecord(), planErr
	}
	var wrapper struct {
		ExecutionResult *ExecutionRecord `json:"execution_result"`
	}
	if err := json.Unmarshal([]byte(text), &wrapper); err != nil || wrapper.ExecutionResult == nil {
		return plan, DefaultExecutionRecord(), planErr
	}
	return plan, *wrapper.ExecutionResult, planErr
}

// ParseExecution parses a Do/Execution reply.
func (ResponseParser) ParseExecution(raw string) (ExecutionRecord, error) {
	text, err := extractJSON(raw)
	if err != nil {
		return DefaultExecutionRecord(), err
	}
	var rec ExecutionRecord
	if err := json.Unmarshal([]byte(text), &rec); err != nil {
		return DefaultExecutionRecord(), fmt.Errorf("execution decode: %w", err)
	}
	if rec.OverallProgress < 0 {
		rec.OverallProgress = 0
	}
	if rec.OverallProgress > 100 {
		rec.OverallProgress = 100
	}
	return rec, nil
}

// ParseCritique parses a Check/Criticism reply. The quality score is
// clamped into [0,10]; replies missing the field entirely fall back to the
// neutral default record.
func (ResponseParser) ParseCritique(raw string) (CritiqueRecord, error) {
	text, err := extractJSON(raw)
	if err != nil {
		return DefaultCritiqueRecord(), err
	}

	// Distinguish "quality_score absent" from an explicit zero.
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &probe); err != nil {
		return DefaultCritiqueRecord(), fmt.Errorf("critique decode: %w", err)
	}
	if _, ok := probe["quality_score"]; !ok {
		return DefaultCritiqueRecord(), fmt.Errorf("critique missing quality_score")
	}

	var rec CritiqueRecord
	if err := json.Unmarshal([]byte(text), &rec); err != nil {
		return DefaultCritiqueRecord(), fmt.Errorf("critique decode: %w", err)
	}
	if rec.QualityScore < 0 {
		rec.QualityScore = 0
	}
	if rec.QualityScore > 10 {
		rec.QualityScore = 10
	}
	return rec, nil
}

// ParseAct parses an Act reply.
func (ResponseParser) ParseAct(raw string) (ActRecord, error) {
	text, err := extractJSON(raw)
	if err != nil {
		return DefaultActRecord(), err
	}
	var rec ActRecord
	if err := json.Unmarshal([]byte(text), &rec); err != nil {
		return DefaultActRecord(), fmt.Errorf("act decode: %w", err)
	}
	return rec, nil
}

// ParseToolPlan parses the secondary tool-selection reply. A failed parse
// recommends no tools.
func (ResponseParser) ParseToolPlan(raw string) (ToolPlanRecord, error) {
	text, err := extractJSON(raw)
	if err != nil {
		return DefaultToolPlanRecord(), err
	}
	var rec ToolPlanRecord
	if err := json.Unmarshal([]byte(text), &rec); err != nil {
		return DefaultToolPlanRecord(), fmt.Errorf("tool plan decode: %w", err)
	}
	return rec, nil
}
