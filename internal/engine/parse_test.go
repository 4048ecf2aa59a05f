package engine

import (
	"encoding/json"
	"testing"
)

func TestParsePlan(t *testing.T) {
	p := ResponseParser{}

	tests := []struct {
		name      string
		raw       string
		wantErr   bool
		wantSteps int
	}{
		{
			name:      "fenced json",
			raw:       "Here is the plan:\n```json\n{\"goals\":[\"g\"],\"steps\":[{\"step\":1,\"action\":\"do it\"}],\"tools_needed\":[],\"confidence\":0.9}\n```",
			wantErr:   false,
			wantSteps: 1,
		},
		{
			name:      "bare json with surrounding prose",
			raw:       "Sure! {\"goals\":[\"g\"],\"steps\":[{\"step\":1,\"action\":\"a\"},{\"step\":2,\"action\":\"b\"}],\"confidence\":0.8} hope that helps",
			wantErr:   false,
			wantSteps: 2,
		},
		{
			name:      "free prose falls back",
			raw:       "I think we should start by researching the topic thoroughly.",
			wantErr:   true,
			wantSteps: 1, // default single-step plan
		},
		{
			name:      "empty reply falls back",
			raw:       "",
			wantErr:   true,
			wantSteps: 1,
		},
		{
			name:      "truncated json falls back",
			raw:       "{\"goals\":[\"g\"],\"steps\":[{\"step\":1,",
			wantErr:   true,
			wantSteps: 1,
		},
		{
			name:      "json without steps falls back",
			raw:       "{\"goals\":[\"g\"],\"confidence\":0.5}",
			wantErr:   true,
			wantSteps: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := p.ParsePlan(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePlan() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(rec.Steps) != tt.wantSteps {
				t.Errorf("got %d steps, want %d", len(rec.Steps), tt.wantSteps)
			}
			if tt.wantErr && rec.Confidence != 0.7 {
				t.Errorf("fallback confidence = %v, want 0.7", rec.Confidence)
			}
		})
	}
}

func TestParsePlanConfidenceDefault(t *testing.T) {
	p := ResponseParser{}
	rec, err := p.ParsePlan(`{"goals":["g"],"steps":[{"step":1,"action":"a"}]}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Confidence != 0.7 {
		t.Errorf("missing confidence should default to 0.7, got %v", rec.Confidence)
	}
}

func TestParseExecutionProgressClamp(t *testing.T) {
	p := ResponseParser{}

	tests := []struct {
		name string
		raw  string
		want float64
	}{
		{"in range", `{"success":true,"overall_progress":75}`, 75},
		{"above range", `{"success":true,"overall_progress":150}`, 100},
		{"below range", `{"success":true,"overall_progress":-10}`, 0},
		{"string number", `{"success":true,"overall_progress":"60"}`, 60},
		{"percent suffix", `{"success":true,"overall_progress":"85%"}`, 85},
		{"non numeric string", `{"success":true,"overall_progress":"almost done"}`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := p.ParseExecution(tt.raw)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if float64(rec.OverallProgress) != tt.want {
				t.Errorf("progress = %v, want %v", float64(rec.OverallProgress), tt.want)
			}
		})
	}
}

func TestParseExecutionFallback(t *testing.T) {
	p := ResponseParser{}
	rec, err := p.ParseExecution("no json here")
	if err == nil {
		t.Fatal("want error for prose reply")
	}
	if !rec.Success || float64(rec.OverallProgress) != 50 {
		t.Errorf("fallback record = %+v, want default (success, 50%%)", rec)
	}
}

func TestParseCritique(t *testing.T) {
	p := ResponseParser{}

	tests := []struct {
		name      string
		raw       string
		wantErr   bool
		wantScore float64
	}{
		{
			name:      "valid critique",
			raw:       `{"overall_assessment":"good","quality_score":8.5,"should_continue":false}`,
			wantErr:   false,
			wantScore: 8.5,
		},
		{
			name:      "explicit zero kept",
			raw:       `{"quality_score":0,"should_continue":true}`,
			wantErr:   false,
			wantScore: 0,
		},
		{
			name:      "score above scale clamped",
			raw:       `{"quality_score":15}`,
			wantErr:   false,
			wantScore: 10,
		},
		{
			name:      "negative score clamped",
			raw:       `{"quality_score":-3}`,
			wantErr:   false,
			wantScore: 0,
		},
		{
			name:      "missing score falls back",
			raw:       `{"overall_assessment":"fine"}`,
			wantErr:   true,
			wantScore: 7.0,
		},
		{
			name:      "prose falls back",
			raw:       "Looks pretty good to me overall.",
			wantErr:   true,
			wantScore: 7.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := p.ParseCritique(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCritique() error = %v, wantErr %v", err, tt.wantErr)
			}
			if rec.QualityScore != tt.wantScore {
				t.Errorf("score = %v, want %v", rec.QualityScore, tt.wantScore)
			}
			if tt.wantErr && rec.ShouldContinue {
				t.Error("fallback critique must not request continuation")
			}
		})
	}
}

func TestParseAct(t *testing.T) {
	p := ResponseParser{}

	rec, err := p.ParseAct(`{"improvement_actions":["a","b"],"should_continue_cycle":true}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.ImprovementActions) != 2 || !rec.ShouldContinueCycle {
		t.Errorf("unexpected record: %+v", rec)
	}

	rec, err = p.ParseAct("nothing structured")
	if err == nil {
		t.Fatal("want error for prose reply")
	}
	if rec.ShouldContinueCycle {
		t.Error("fallback act must not continue the cycle")
	}
}

func TestParseAction(t *testing.T) {
	p := ResponseParser{}

	raw := `{"action_type":"tool_use","goals":["g"],"steps":[{"step":1,"action":"calc"}],` +
		`"tools_needed":["calculator"],"confidence":0.9,` +
		`"execution_result":{"success":true,"output":"done","overall_progress":90}}`

	plan, exec, err := p.ParseAction(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.ActionType != "tool_use" || len(plan.ToolsNeeded) != 1 {
		t.Errorf("unexpected plan: %+v", plan)
	}
	if exec.Output != "done" || float64(exec.OverallProgress) != 90 {
		t.Errorf("unexpected execution: %+v", exec)
	}

	// Missing execution_result: plan parses, execution defaults.
	plan, exec, err = p.ParseAction(`{"goals":["g"],"steps":[{"step":1,"action":"a"}]}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if float64(exec.OverallProgress) != 50 {
		t.Errorf("execution should default, got %+v", exec)
	}
	if len(plan.Steps) != 1 {
		t.Errorf("plan should parse, got %+v", plan)
	}
}

func TestParseToolPlan(t *testing.T) {
	p := ResponseParser{}

	rec, err := p.ParseToolPlan(`{"recommended_tools":[{"tool":"calculator","parameters":{"expression":"2+2"}}]}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.RecommendedTools) != 1 || rec.RecommendedTools[0].Tool != "calculator" {
		t.Errorf("unexpected record: %+v", rec)
	}

	rec, err = p.ParseToolPlan("cannot decide")
	if err == nil {
		t.Fatal("want error for prose reply")
	}
	if len(rec.RecommendedTools) != 0 {
		t.Error("fallback tool plan must recommend nothing")
	}
}

func TestParseDuplicateKeysLastWins(t *testing.T) {
	p := ResponseParser{}
	rec, err := p.ParseCritique(`{"quality_score":3,"quality_score":6}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.QualityScore != 6 {
		t.Errorf("score = %v, want 6 (last value wins)", rec.QualityScore)
	}
}

func TestExtractJSONNestedBraces(t *testing.T) {
	raw := `prefix {"outer":{"inner":"{not json}"},"n":1} suffix`
	text, err := extractJSON(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		t.Fatalf("extracted text is not valid JSON: %v", err)
	}
	if m["n"] != float64(1) {
		t.Errorf("unexpected object: %v", m)
	}
}
