package engine

import (
	"encoding/json"

	"goalflow/internal/domain"
	"goalflow/internal/schema"
)

// Tool names one mutation an agent (or API client) may request.
type Tool string

const (
	ToolAddGoal              Tool = "addGoal"
	ToolUpdateGoal           Tool = "updateGoal"
	ToolDeleteGoal           Tool = "deleteGoal"
	ToolReorderGoals         Tool = "reorderGoals"
	ToolDuplicateGoal        Tool = "duplicateGoal"
	ToolAddConstraint        Tool = "addConstraint"
	ToolUpdateConstraint     Tool = "updateConstraint"
	ToolDeleteConstraint     Tool = "deleteConstraint"
	ToolAddPolicy            Tool = "addPolicy"
	ToolUpdatePolicy         Tool = "updatePolicy"
	ToolDeletePolicy         Tool = "deletePolicy"
	ToolAddTask              Tool = "addTask"
	ToolUpdateTask           Tool = "updateTask"
	ToolDeleteTask           Tool = "deleteTask"
	ToolAddForm              Tool = "addForm"
	ToolUpdateForm           Tool = "updateForm"
	ToolDeleteForm           Tool = "deleteForm"
	ToolMoveElement          Tool = "moveElement"
	ToolUpdateMetadata       Tool = "updateMetadata"
	ToolUpdateGlobalSettings Tool = "updateGlobalSettings"
)

var allTools = []Tool{
	ToolAddGoal, ToolUpdateGoal, ToolDeleteGoal, ToolReorderGoals, ToolDuplicateGoal,
	ToolAddConstraint, ToolUpdateConstraint, ToolDeleteConstraint,
	ToolAddPolicy, ToolUpdatePolicy, ToolDeletePolicy,
	ToolAddTask, ToolUpdateTask, ToolDeleteTask,
	ToolAddForm, ToolUpdateForm, ToolDeleteForm,
	ToolMoveElement, ToolUpdateMetadata, ToolUpdateGlobalSettings,
}

// ParseTool resolves a tool name. Unknown names fail before any params are read.
func ParseTool(name string) (Tool, error) {
	for _, t := range allTools {
		if string(t) == name {
			return t, nil
		}
	}
	return "", &UnknownToolError{Name: name}
}

// Tools lists every tool in catalog order.
func Tools() []Tool {
	out := make([]Tool, len(allTools))
	copy(out, allTools)
	return out
}

// ToolCall is one requested mutation.
type ToolCall struct {
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params,omitempty"`
}

// ToolSpec documents a tool for prompts, the CLI and the HTTP API.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Params      map[string]any `json:"params"`
}

func Catalog() []ToolSpec {
	out := make([]ToolSpec, len(allTools))
	for i, t := range allTools {
		out[i] = t.spec()
	}
	return out
}

var (
	exampleTask = map[string]any{
		"description": "Draft the summary",
		"assignee":    map[string]any{"type": "human", "role": "analyst"},
		"depends_on":  []any{},
	}
	exampleConstraint = map[string]any{
		"description": "Finish before the review",
		"type":        "time",
		"enforcement": "hard",
		"deadline":    "2025-01-31",
	}
	examplePolicy = map[string]any{
		"name": "Escalate late work",
		"if":   map[string]any{"field": "status", "operator": "equals", "value": "late"},
		"then": map[string]any{"action": "notify", "params": map[string]any{"channel": "ops"}},
	}
	exampleForm = map[string]any{
		"name":   "Intake",
		"type":   "structured",
		"fields": []any{map[string]any{"name": "amount", "type": "number", "required": true}},
	}
)

func (t Tool) spec() ToolSpec {
	s := ToolSpec{Name: string(t)}
	switch t {
	case ToolAddGoal:
		s.Description = "Append a goal. Order is assigned automatically."
		s.Params = map[string]any{"goal": map[string]any{"name": "Collect data", "description": "optional"}}
	case ToolUpdateGoal:
		s.Description = "Change goal name or description. Order and child collections cannot be updated here."
		s.Params = map[string]any{"goal_id": "goal_...", "updates": map[string]any{"name": "New name"}}
	case ToolDeleteGoal:
		s.Description = "Delete a goal and everything in it. Remaining goals are renumbered."
		s.Params = map[string]any{"goal_id": "goal_..."}
	case ToolReorderGoals:
		s.Description = "Reorder goals. goal_ids must list every goal id exactly once."
		s.Params = map[string]any{"goal_ids": []any{"goal_b", "goal_a"}}
	case ToolDuplicateGoal:
		s.Description = "Copy a goal with fresh ids. Copied tasks lose their dependencies."
		s.Params = map[string]any{"goal_id": "goal_...", "name": "optional new name"}
	case ToolAddConstraint:
		s.Description = "Add a constraint to a goal."
		s.Params = map[string]any{"goal_id": "goal_...", "constraint": exampleConstraint}
	case ToolUpdateConstraint:
		s.Description = "Merge updates into a constraint."
		s.Params = map[string]any{"constraint_id": "constraint_...", "updates": map[string]any{"enforcement": "soft"}}
	case ToolDeleteConstraint:
		s.Description = "Delete a constraint."
		s.Params = map[string]any{"constraint_id": "constraint_..."}
	case ToolAddPolicy:
		s.Description = "Add an if/then policy to a goal."
		s.Params = map[string]any{"goal_id": "goal_...", "policy": examplePolicy}
	case ToolUpdatePolicy:
		s.Description = "Merge updates into a policy."
		s.Params = map[string]any{"policy_id": "policy_...", "updates": map[string]any{"name": "New name"}}
	case ToolDeletePolicy:
		s.Description = "Delete a policy."
		s.Params = map[string]any{"policy_id": "policy_..."}
	case ToolAddTask:
		s.Description = "Add a task to a goal. depends_on may reference tasks in any goal."
		s.Params = map[string]any{"goal_id": "goal_...", "task": exampleTask}
	case ToolUpdateTask:
		s.Description = "Merge updates into a task."
		s.Params = map[string]any{"task_id": "task_...", "updates": map[string]any{"priority": "high"}}
	case ToolDeleteTask:
		s.Description = "Delete a task and remove it from other tasks' depends_on."
		s.Params = map[string]any{"task_id": "task_..."}
	case ToolAddForm:
		s.Description = "Add a form to a goal."
		s.Params = map[string]any{"goal_id": "goal_...", "form": exampleForm}
	case ToolUpdateForm:
		s.Description = "Merge updates into a form."
		s.Params = map[string]any{"form_id": "form_...", "updates": map[string]any{"name": "New name"}}
	case ToolDeleteForm:
		s.Description = "Delete a form."
		s.Params = map[string]any{"form_id": "form_..."}
	case ToolMoveElement:
		s.Description = "Move a constraint, policy, task or form to another goal."
		s.Params = map[string]any{"element_type": "task", "element_id": "task_...", "from_goal_id": "goal_a", "to_goal_id": "goal_b"}
	case ToolUpdateMetadata:
		s.Description = "Merge updates into document metadata."
		s.Params = map[string]any{"updates": map[string]any{"tags": []any{"finance"}}}
	case ToolUpdateGlobalSettings:
		s.Description = "Merge updates into global settings."
		s.Params = map[string]any{"updates": map[string]any{"timezone": "UTC", "max_parallel_tasks": 4}}
	}
	return s
}

type goalParams struct {
	Goal *domain.Goal `json:"goal"`
}

type goalRefParams struct {
	GoalID  string         `json:"goal_id"`
	Name    string         `json:"name"`
	Updates map[string]any `json:"updates"`
}

type reorderParams struct {
	GoalIDs []string `json:"goal_ids"`
}

type constraintParams struct {
	GoalID       string             `json:"goal_id"`
	ConstraintID string             `json:"constraint_id"`
	Constraint   *domain.Constraint `json:"constraint"`
	Updates      map[string]any     `json:"updates"`
}

type policyParams struct {
	GoalID   string         `json:"goal_id"`
	PolicyID string         `json:"policy_id"`
	Policy   *domain.Policy `json:"policy"`
	Updates  map[string]any `json:"updates"`
}

type taskParams struct {
	GoalID  string         `json:"goal_id"`
	TaskID  string         `json:"task_id"`
	Task    *domain.Task   `json:"task"`
	Updates map[string]any `json:"updates"`
}

type formParams struct {
	GoalID  string         `json:"goal_id"`
	FormID  string         `json:"form_id"`
	Form    *domain.Form   `json:"form"`
	Updates map[string]any `json:"updates"`
}

type moveParams struct {
	ElementType string `json:"element_type"`
	ElementID   string `json:"element_id"`
	FromGoalID  string `json:"from_goal_id"`
	ToGoalID    string `json:"to_goal_id"`
}

type updatesParams struct {
	Updates map[string]any `json:"updates"`
}

// Apply dispatches a tool call to the matching operation.
func (e Engine) Apply(doc *domain.Document, call ToolCall) (*domain.Document, error) {
	tool, err := ParseTool(call.Tool)
	if err != nil {
		return nil, err
	}
	switch tool {
	case ToolAddGoal:
		var p goalParams
		if err := readParams(domain.KindGoal, call.Params, &p); err != nil {
			return nil, err
		}
		if p.Goal == nil {
			return nil, missing(domain.KindGoal, "goal")
		}
		return e.AddGoal(doc, *p.Goal)
	case ToolUpdateGoal:
		var p goalRefParams
		if err := readParams(domain.KindGoal, call.Params, &p); err != nil {
			return nil, err
		}
		if err := required(domain.KindGoal, "goal_id", p.GoalID, "updates", p.Updates); err != nil {
			return nil, err
		}
		return e.UpdateGoal(doc, p.GoalID, p.Updates)
	case ToolDeleteGoal:
		var p goalRefParams
		if err := readParams(domain.KindGoal, call.Params, &p); err != nil {
			return nil, err
		}
		if err := required(domain.KindGoal, "goal_id", p.GoalID); err != nil {
			return nil, err
		}
		return e.DeleteGoal(doc, p.GoalID)
	case ToolReorderGoals:
		var p reorderParams
		if err := readParams(domain.KindGoal, call.Params, &p); err != nil {
			return nil, err
		}
		if p.GoalIDs == nil {
			return nil, missing(domain.KindGoal, "goal_ids")
		}
		return e.ReorderGoals(doc, p.GoalIDs)
	case ToolDuplicateGoal:
		var p goalRefParams
		if err := readParams(domain.KindGoal, call.Params, &p); err != nil {
			return nil, err
		}
		if err := required(domain.KindGoal, "goal_id", p.GoalID); err != nil {
			return nil, err
		}
		return e.DuplicateGoal(doc, p.GoalID, p.Name)
	case ToolAddConstraint, ToolUpdateConstraint, ToolDeleteConstraint:
		var p constraintParams
		if err := readParams(domain.KindConstraint, call.Params, &p); err != nil {
			return nil, err
		}
		switch tool {
		case ToolAddConstraint:
			if err := required(domain.KindConstraint, "goal_id", p.GoalID, "constraint", p.Constraint); err != nil {
				return nil, err
			}
			return e.AddConstraint(doc, p.GoalID, *p.Constraint)
		case ToolUpdateConstraint:
			if err := required(domain.KindConstraint, "constraint_id", p.ConstraintID, "updates", p.Updates); err != nil {
				return nil, err
			}
			return e.UpdateConstraint(doc, p.ConstraintID, p.Updates)
		default:
			if err := required(domain.KindConstraint, "constraint_id", p.ConstraintID); err != nil {
				return nil, err
			}
			return e.DeleteConstraint(doc, p.ConstraintID)
		}
	case ToolAddPolicy, ToolUpdatePolicy, ToolDeletePolicy:
		var p policyParams
		if err := readParams(domain.KindPolicy, call.Params, &p); err != nil {
			return nil, err
		}
		switch tool {
		case ToolAddPolicy:
			if err := required(domain.KindPolicy, "goal_id", p.GoalID, "policy", p.Policy); err != nil {
				return nil, err
			}
			return e.AddPolicy(doc, p.GoalID, *p.Policy)
		case ToolUpdatePolicy:
			if err := required(domain.KindPolicy, "policy_id", p.PolicyID, "updates", p.Updates); err != nil {
				return nil, err
			}
			return e.UpdatePolicy(doc, p.PolicyID, p.Updates)
		default:
			if err := required(domain.KindPolicy, "policy_id", p.PolicyID); err != nil {
				return nil, err
			}
			return e.DeletePolicy(doc, p.PolicyID)
		}
	case ToolAddTask, ToolUpdateTask, ToolDeleteTask:
		var p taskParams
		if err := readParams(domain.KindTask, call.Params, &p); err != nil {
			return nil, err
		}
		switch tool {
		case ToolAddTask:
			if err := required(domain.KindTask, "goal_id", p.GoalID, "task", p.Task); err != nil {
				return nil, err
			}
			return e.AddTask(doc, p.GoalID, *p.Task)
		case ToolUpdateTask:
			if err := required(domain.KindTask, "task_id", p.TaskID, "updates", p.Updates); err != nil {
				return nil, err
			}
			return e.UpdateTask(doc, p.TaskID, p.Updates)
		default:
			if err := required(domain.KindTask, "task_id", p.TaskID); err != nil {
				return nil, err
			}
			return e.DeleteTask(doc, p.TaskID)
		}
	case ToolAddForm, ToolUpdateForm, ToolDeleteForm:
		var p formParams
		if err := readParams(domain.KindForm, call.Params, &p); err != nil {
			return nil, err
		}
		switch tool {
		case ToolAddForm:
			if err := required(domain.KindForm, "goal_id", p.GoalID, "form", p.Form); err != nil {
				return nil, err
			}
			return e.AddForm(doc, p.GoalID, *p.Form)
		case ToolUpdateForm:
			if err := required(domain.KindForm, "form_id", p.FormID, "updates", p.Updates); err != nil {
				return nil, err
			}
			return e.UpdateForm(doc, p.FormID, p.Updates)
		default:
			if err := required(domain.KindForm, "form_id", p.FormID); err != nil {
				return nil, err
			}
			return e.DeleteForm(doc, p.FormID)
		}
	case ToolMoveElement:
		var p moveParams
		if err := readParams(domain.KindGoal, call.Params, &p); err != nil {
			return nil, err
		}
		if err := required(domain.KindGoal, "element_type", p.ElementType, "element_id", p.ElementID,
			"from_goal_id", p.FromGoalID, "to_goal_id", p.ToGoalID); err != nil {
			return nil, err
		}
		return e.MoveElement(doc, domain.Kind(p.ElementType), p.ElementID, p.FromGoalID, p.ToGoalID)
	case ToolUpdateMetadata:
		var p updatesParams
		if err := readParams(domain.KindMetadata, call.Params, &p); err != nil {
			return nil, err
		}
		if err := required(domain.KindMetadata, "updates", p.Updates); err != nil {
			return nil, err
		}
		return e.UpdateMetadata(doc, p.Updates)
	case ToolUpdateGlobalSettings:
		var p updatesParams
		if err := readParams(domain.KindGlobalSettings, call.Params, &p); err != nil {
			return nil, err
		}
		if err := required(domain.KindGlobalSettings, "updates", p.Updates); err != nil {
			return nil, err
		}
		return e.UpdateGlobalSettings(doc, p.Updates)
	}
	return nil, &UnknownToolError{Name: call.Tool}
}

func readParams(kind domain.Kind, params map[string]any, out any) error {
	if params == nil {
		params = map[string]any{}
	}
	data, err := json.Marshal(params)
	if err != nil {
		return &schema.ValidationError{Kind: kind, Issues: []schema.Issue{{
			Path:    "(root)",
			Code:    schema.CodeInvalidType,
			Message: "params are not valid JSON: " + err.Error(),
		}}}
	}
	return decode(kind, data, out)
}

// required takes name/value pairs and reports every empty one.
func required(kind domain.Kind, pairs ...any) error {
	var issues []schema.Issue
	for i := 0; i+1 < len(pairs); i += 2 {
		name, _ := pairs[i].(string)
		if isEmpty(pairs[i+1]) {
			issues = append(issues, schema.Issue{Path: name, Code: schema.CodeMissingRequired, Message: name + " is required"})
		}
	}
	if len(issues) == 0 {
		return nil
	}
	return &schema.ValidationError{Kind: kind, Issues: issues}
}

func missing(kind domain.Kind, name string) error {
	return required(kind, name, nil)
}

func isEmpty(v any) bool {
	switch typed := v.(type) {
	case nil:
		return true
	case string:
		return typed == ""
	case map[string]any:
		return typed == nil
	case *domain.Constraint:
		return typed == nil
	case *domain.Policy:
		return typed == nil
	case *domain.Task:
		return typed == nil
	case *domain.Form:
		return typed == nil
	default:
		return false
	}
}
