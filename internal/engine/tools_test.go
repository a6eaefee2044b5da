package engine_test

import (
	"errors"
	"testing"

	"goalflow/internal/engine"
	"goalflow/internal/schema"
)

func TestApplyUnknownTool(t *testing.T) {
	eng := newEngine()
	_, err := eng.Apply(baseDoc(), engine.ToolCall{Tool: "dropTable", Params: map[string]any{"x": 1}})
	var ut *engine.UnknownToolError
	if !errors.As(err, &ut) {
		t.Fatalf("expected UnknownToolError, got %v", err)
	}
	if err.Error() != "Unknown tool: dropTable" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestApplyAddTask(t *testing.T) {
	eng := newEngine()
	out, err := eng.Apply(baseDoc(), engine.ToolCall{Tool: "addTask", Params: map[string]any{
		"goal_id": "goal1",
		"task":    map[string]any{"description": "X", "assignee": map[string]any{"type": "human"}},
	}})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(out.Goals[0].Tasks) != 1 || out.Goals[0].Tasks[0].ID == "" {
		t.Fatalf("task not added: %+v", out.Goals[0].Tasks)
	}
}

func TestApplyParamErrors(t *testing.T) {
	eng := newEngine()
	cases := []struct {
		name string
		call engine.ToolCall
		path string
		code string
	}{
		{
			name: "missing goal id",
			call: engine.ToolCall{Tool: "addTask", Params: map[string]any{"task": map[string]any{"description": "X"}}},
			path: "goal_id",
			code: schema.CodeMissingRequired,
		},
		{
			name: "assignee as string",
			call: engine.ToolCall{Tool: "addTask", Params: map[string]any{"goal_id": "goal1", "task": map[string]any{"description": "X", "assignee": "human"}}},
			path: "task.assignee",
			code: schema.CodeInvalidType,
		},
		{
			name: "unknown param",
			call: engine.ToolCall{Tool: "deleteGoal", Params: map[string]any{"goal_id": "goal1", "force": true}},
			path: "force",
			code: schema.CodeInvalidType,
		},
		{
			name: "missing entity",
			call: engine.ToolCall{Tool: "addConstraint", Params: map[string]any{"goal_id": "goal1"}},
			path: "constraint",
			code: schema.CodeMissingRequired,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := eng.Apply(baseDoc(), tc.call)
			var verr *schema.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Issues[0].Path != tc.path || verr.Issues[0].Code != tc.code {
				t.Fatalf("unexpected issue %+v", verr.Issues[0])
			}
		})
	}
}

func TestApplyMoveAndReorder(t *testing.T) {
	eng := newEngine()
	doc, err := eng.Apply(baseDoc(), engine.ToolCall{Tool: "addGoal", Params: map[string]any{"goal": map[string]any{"id": "goal2", "name": "Build"}}})
	if err != nil {
		t.Fatalf("add goal: %v", err)
	}
	doc, err = eng.Apply(doc, engine.ToolCall{Tool: "reorderGoals", Params: map[string]any{"goal_ids": []any{"goal2", "goal1"}}})
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if doc.Goals[0].ID != "goal2" {
		t.Fatalf("reorder not applied")
	}
	_, err = eng.Apply(doc, engine.ToolCall{Tool: "moveElement", Params: map[string]any{
		"element_type": "widget", "element_id": "x", "from_goal_id": "goal1", "to_goal_id": "goal2",
	}})
	var verr *schema.ValidationError
	if !errors.As(err, &verr) || verr.Issues[0].Code != schema.CodeInvalidEnum {
		t.Fatalf("expected invalid element_type, got %v", err)
	}
}

func TestCatalogCoversEveryTool(t *testing.T) {
	specs := engine.Catalog()
	if len(specs) != len(engine.Tools()) {
		t.Fatalf("catalog has %d entries, want %d", len(specs), len(engine.Tools()))
	}
	for _, s := range specs {
		if s.Description == "" || s.Params == nil {
			t.Fatalf("tool %s lacks description or params", s.Name)
		}
		if _, err := engine.ParseTool(s.Name); err != nil {
			t.Fatalf("catalog tool %s does not parse: %v", s.Name, err)
		}
	}
}

func TestApplyAddPolicyKeepsEmptyConditionParts(t *testing.T) {
	eng := newEngine()
	conditions := map[string]map[string]any{
		"empty all_of": {"all_of": []any{}},
		"empty any_of": {"any_of": []any{}},
		"null value":   {"field": "amount", "operator": "equals", "value": nil},
	}
	for name, cond := range conditions {
		t.Run(name, func(t *testing.T) {
			out, err := eng.Apply(baseDoc(), engine.ToolCall{Tool: "addPolicy", Params: map[string]any{
				"goal_id": "goal1",
				"policy":  map[string]any{"name": "Gate", "if": cond, "then": map[string]any{"action": "notify"}},
			}})
			if err != nil {
				t.Fatalf("apply: %v", err)
			}
			if len(out.Goals[0].Policies) != 1 {
				t.Fatalf("policy not added: %+v", out.Goals[0].Policies)
			}
			if res := schema.ValidateDocument(out); !res.Valid {
				t.Fatalf("stored document does not validate: %+v", res.Errors)
			}
		})
	}
}
