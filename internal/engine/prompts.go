package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Phase prompt templates. Each phase sends a fixed system prompt with the
// expected JSON contract spelled out, plus a user message assembled from
// current state. Prompts stay short: each phase emits one JSON object, not
// prose.

const planSystemPrompt = `You are a professional project-management AI assistant. Create a detailed execution plan for the given task.

Reply in exactly this JSON format:
{
    "goals": ["goal 1", "goal 2"],
    "steps": [
        {"step": 1, "action": "concrete action", "expected_outcome": "expected result", "timeline": "time estimate"},
        {"step": 2, "action": "concrete action", "expected_outcome": "expected result", "timeline": "time estimate"}
    ],
    "tools_needed": ["tool names, if any"],
    "resources_needed": ["resource 1", "resource 2"],
    "success_criteria": ["criterion 1", "criterion 2"],
    "potential_risks": ["risk 1", "risk 2"],
    "confidence": 0.8
}`

const doSystemPrompt = `You are a task-execution AI assistant. Execute the given plan step by step and record the process.

Reply in exactly this JSON format:
{
    "executed_steps": [
        {"step": 1, "action_taken": "what was actually done", "result": "outcome", "issues": "problems encountered"}
    ],
    "overall_progress": 50,
    "challenges": ["challenge 1", "challenge 2"],
    "unexpected_outcomes": ["surprise 1"]
}`

const checkSystemPrompt = `You are a strict quality-assessment AI assistant. Evaluate the execution result against the original plan, objectively and constructively.

Reply in exactly this JSON format:
{
    "overall_assessment": "excellent/good/average/needs improvement",
    "quality_score": 8.5,
    "strengths": ["strength 1", "strength 2"],
    "weaknesses": ["issue 1", "issue 2"],
    "improvement_suggestions": [
        {"area": "area to improve", "suggestion": "concrete suggestion", "priority": "high/medium/low"}
    ],
    "should_continue": true,
    "next_focus": "what the next cycle should focus on"
}
The quality_score is on a 0-10 scale.`

const actSystemPrompt = `You are a continuous-improvement AI assistant. Based on the assessment, define concrete improvement actions for the next cycle.

Reply in exactly this JSON format:
{
    "improvement_actions": ["concrete action 1", "concrete action 2"],
    "process_changes": ["process change 1"],
    "resource_adjustments": ["adjustment 1"],
    "should_continue_cycle": true,
    "reason_to_continue": "why another cycle is worthwhile",
    "expected_improvements": ["expected improvement 1"]
}`

const actionSystemPrompt = `You are a professional task-execution AI assistant. Create a concrete action plan for the given task and simulate executing it.

Reply in exactly this JSON format:
{
    "action_type": "information gathering/problem solving/content creation/data analysis",
    "steps": [
        {"step": 1, "action": "concrete action", "reasoning": "why"},
        {"step": 2, "action": "concrete action", "reasoning": "why"}
    ],
    "execution_result": {
        "success": true,
        "output": "execution output",
        "challenges": ["challenges encountered"],
        "next_steps": ["suggested follow-ups"]
    },
    "tools_needed": ["names of tools to invoke, if any"],
    "confidence": 0.8
}

%s`

const toolSelectSystemPrompt = `You are an intelligent tool-selection assistant. Given the task and the current execution state, decide which tools to invoke.

%s

Reply in exactly this JSON format:
{
    "recommended_tools": [
        {"tool": "tool name", "purpose": "why", "parameters": {"param1": "value1"}}
    ],
    "reasoning": "why these tools"
}`

// compactJSON renders a record for prompt injection; indentation wastes
// tokens for no model benefit.
func compactJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func availableToolsBlock(tools []string) string {
	if len(tools) == 0 {
		return "No external tools are available for this run."
	}
	return "Available tools: " + strings.Join(tools, ", ")
}

func buildPlanMessages(st *TaskState) []ChatMessage {
	user := fmt.Sprintf("Task: %s", st.TaskDescription)
	if len(st.ImprovementActions) > 0 {
		user += fmt.Sprintf("\n\nImprovement actions from the previous cycle: %s",
			strings.Join(st.ImprovementActions, "; "))
	}
	return []ChatMessage{
		{Role: RoleSystem, Content: planSystemPrompt},
		{Role: RoleUser, Content: user},
	}
}

func buildDoMessages(st *TaskState) []ChatMessage {
	return []ChatMessage{
		{Role: RoleSystem, Content: doSystemPrompt},
		{Role: RoleUser, Content: "Execute this plan:\n" + compactJSON(st.Plan)},
	}
}

func buildCheckMessages(st *TaskState) []ChatMessage {
	user := fmt.Sprintf("Original plan:\n%s\n\nExecution result:\n%s",
		compactJSON(st.Plan), compactJSON(st.Execution))
	return []ChatMessage{
		{Role: RoleSystem, Content: checkSystemPrompt},
		{Role: RoleUser, Content: user},
	}
}

func buildActMessages(st *TaskState) []ChatMessage {
	return []ChatMessage{
		{Role: RoleSystem, Content: actSystemPrompt},
		{Role: RoleUser, Content: "Assessment:\n" + compactJSON(st.Critique)},
	}
}

func buildActionMessages(st *TaskState, tools []string) []ChatMessage {
	feedback := "none"
	if st.Critique.NextFocus != "" || len(st.Critique.Weaknesses) > 0 {
		feedback = compactJSON(st.Critique)
	}
	user := fmt.Sprintf("Task: %s\n\nPrevious criticism: %s", st.TaskDescription, feedback)
	return []ChatMessage{
		{Role: RoleSystem, Content: fmt.Sprintf(actionSystemPrompt, availableToolsBlock(tools))},
		{Role: RoleUser, Content: user},
	}
}

func buildCriticismMessages(st *TaskState, recentTools int) []ChatMessage {
	user := fmt.Sprintf("Evaluate this execution:\nAction plan:\n%s", compactJSON(st.Plan))
	if recent := st.RecentToolRecords(recentTools); len(recent) > 0 {
		user += "\n\nRecent tool usage:\n" + compactJSON(recent)
	}
	return []ChatMessage{
		{Role: RoleSystem, Content: checkSystemPrompt},
		{Role: RoleUser, Content: user},
	}
}

func buildToolSelectMessages(st *TaskState, tools []string) []ChatMessage {
	user := fmt.Sprintf("Task: %s\nCurrent execution state: %s",
		st.TaskDescription, compactJSON(st.Execution))
	return []ChatMessage{
		{Role: RoleSystem, Content: fmt.Sprintf(toolSelectSystemPrompt, availableToolsBlock(tools))},
		{Role: RoleUser, Content: user},
	}
}
