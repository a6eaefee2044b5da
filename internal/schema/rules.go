package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"

	"goalflow/internal/domain"
)

type checker struct {
	errors   []Issue
	warnings []Issue
}

func (c *checker) result() Result {
	errs := c.errors
	if errs == nil {
		errs = []Issue{}
	}
	warns := c.warnings
	if warns == nil {
		warns = []Issue{}
	}
	return Result{Valid: len(errs) == 0, Errors: errs, Warnings: warns}
}

func (c *checker) fail(path, code, msg string) {
	if path == "" {
		path = rootPath
	}
	c.errors = append(c.errors, Issue{Path: path, Message: msg, Code: code})
}

func (c *checker) warn(path, code, msg string) {
	if path == "" {
		path = rootPath
	}
	c.warnings = append(c.warnings, Issue{Path: path, Message: msg, Code: code})
}

func (c *checker) document(v any) {
	obj, ok := c.object("", "document", v)
	if !ok {
		return
	}
	c.requireString(obj, "", "id")
	c.requireString(obj, "", "name")
	c.requireString(obj, "", "objective")
	if n, ok := c.requireNumber(obj, "", "version", true); ok && n < 1 {
		c.warn("version", CodeInvalidValue, fmt.Sprintf("version should be >= 1, got %v", n))
	}
	if raw, ok := c.require(obj, "", "metadata"); ok {
		c.metadata("metadata", raw)
	}
	if items, ok := c.requireArray(obj, "", "goals"); ok {
		for i, g := range items {
			c.goal(index("goals", i), g)
		}
	}
	if raw, ok := obj["global_settings"]; ok && raw != nil {
		c.settings("global_settings", raw)
	}
}

func (c *checker) metadata(path string, v any) {
	obj, ok := c.object(path, "metadata", v)
	if !ok {
		return
	}
	c.optionalString(obj, path, "created_at")
	c.optionalString(obj, path, "last_modified")
	c.optionalString(obj, path, "author")
	c.optionalString(obj, path, "source")
	c.optionalStringArray(obj, path, "tags")
}

func (c *checker) settings(path string, v any) {
	obj, ok := c.object(path, "global_settings", v)
	if !ok {
		return
	}
	c.optionalString(obj, path, "timezone")
	for _, key := range []string{"default_timeout_minutes", "max_parallel_tasks"} {
		if n, ok := c.optionalNumber(obj, path, key, true); ok && n <= 0 {
			c.warn(join(path, key), CodeInvalidValue, fmt.Sprintf("%s should be > 0, got %v", key, n))
		}
	}
	c.optionalStringArray(obj, path, "notification_channels")
	if raw, ok := obj["variables"]; ok && raw != nil {
		c.object(join(path, "variables"), "variables", raw)
	}
}

func (c *checker) goal(path string, v any) {
	obj, ok := c.object(path, "goal", v)
	if !ok {
		return
	}
	c.requireString(obj, path, "id")
	c.requireString(obj, path, "name")
	c.optionalString(obj, path, "description")
	if n, ok := c.requireNumber(obj, path, "order", true); ok && n < 1 {
		c.warn(join(path, "order"), CodeInvalidValue, fmt.Sprintf("order should be >= 1, got %v", n))
	}
	if items, ok := c.requireArray(obj, path, "constraints"); ok {
		for i, item := range items {
			c.constraint(index(join(path, "constraints"), i), item)
		}
	}
	if items, ok := c.requireArray(obj, path, "policies"); ok {
		for i, item := range items {
			c.policy(index(join(path, "policies"), i), item)
		}
	}
	if items, ok := c.requireArray(obj, path, "tasks"); ok {
		for i, item := range items {
			c.task(index(join(path, "tasks"), i), item)
		}
	}
	if items, ok := c.requireArray(obj, path, "forms"); ok {
		for i, item := range items {
			c.form(index(join(path, "forms"), i), item)
		}
	}
}

func (c *checker) constraint(path string, v any) {
	obj, ok := c.object(path, "constraint", v)
	if !ok {
		return
	}
	c.requireString(obj, path, "id")
	c.requireString(obj, path, "description")
	typ, _ := c.requireEnum(obj, path, "type", domain.ConstraintTypes())
	c.requireEnum(obj, path, "enforcement", domain.EnforcementLevels())
	for _, key := range []string{"value", "unit", "deadline", "metric", "scope"} {
		c.optionalString(obj, path, key)
	}
	_, hasThreshold := c.optionalNumber(obj, path, "threshold", false)
	switch domain.ConstraintType(typ) {
	case domain.ConstraintTime:
		if !present(obj, "deadline") {
			c.warn(join(path, "deadline"), CodeRecommended, "time constraints should specify a deadline")
		}
	case domain.ConstraintBudget, domain.ConstraintResource:
		if !hasThreshold {
			c.warn(join(path, "threshold"), CodeRecommended, fmt.Sprintf("%s constraints should specify a threshold", typ))
		}
	}
}

func (c *checker) policy(path string, v any) {
	obj, ok := c.object(path, "policy", v)
	if !ok {
		return
	}
	c.requireString(obj, path, "id")
	c.requireString(obj, path, "name")
	c.optionalString(obj, path, "description")
	if raw, ok := c.require(obj, path, "if"); ok {
		c.condition(join(path, "if"), raw)
	}
	if raw, ok := c.require(obj, path, "then"); ok {
		thenPath := join(path, "then")
		if action, ok := c.object(thenPath, "then", raw); ok {
			c.requireString(action, thenPath, "action")
			if params, ok := action["params"]; ok && params != nil {
				c.object(join(thenPath, "params"), "params", params)
			}
		}
	}
}

const conditionShapes = `{field, operator, value}, {all_of: [...]}, {any_of: [...]} or {condition: "..."}`

func (c *checker) condition(path string, v any) {
	obj, ok := c.object(path, "condition", v)
	if !ok {
		return
	}
	variants := 0
	for _, key := range []string{"all_of", "any_of", "condition"} {
		if present(obj, key) {
			variants++
		}
	}
	simple := present(obj, "field") || present(obj, "operator")
	if simple {
		variants++
	}
	switch {
	case variants == 0:
		c.fail(path, CodeInvalidType, "condition must be one of "+conditionShapes)
		return
	case variants > 1:
		c.fail(path, CodeInvalidType, "condition mixes variants; use exactly one of "+conditionShapes)
		return
	}
	for _, key := range []string{"all_of", "any_of"} {
		if !present(obj, key) {
			continue
		}
		items, ok := c.requireArray(obj, path, key)
		if !ok {
			return
		}
		if len(items) == 0 {
			c.warn(join(path, key), CodeInvalidValue, key+" has no conditions")
		}
		for i, item := range items {
			c.condition(index(join(path, key), i), item)
		}
		return
	}
	if present(obj, "condition") {
		c.requireString(obj, path, "condition")
		return
	}
	c.requireString(obj, path, "field")
	op, ok := c.requireString(obj, path, "operator")
	if ok && !slices.Contains(domain.ConditionOperators, op) {
		c.warn(join(path, "operator"), CodeInvalidValue,
			fmt.Sprintf("unknown operator %q; expected one of %s", op, strings.Join(domain.ConditionOperators, ", ")))
	}
	if op != "exists" {
		if _, ok := obj["value"]; !ok {
			c.fail(join(path, "value"), CodeMissingRequired, "value is required")
		}
	}
}

func (c *checker) task(path string, v any) {
	obj, ok := c.object(path, "task", v)
	if !ok {
		return
	}
	id, _ := c.requireString(obj, path, "id")
	c.optionalString(obj, path, "name")
	c.requireString(obj, path, "description")
	if raw, ok := c.require(obj, path, "assignee"); ok {
		c.assignee(join(path, "assignee"), raw)
	}
	if deps, ok := c.optionalStringArray(obj, path, "depends_on"); ok && id != "" && slices.Contains(deps, id) {
		c.warn(join(path, "depends_on"), CodeInvalidValue, "task depends on itself")
	}
	if n, ok := c.optionalNumber(obj, path, "timeout_minutes", true); ok && n <= 0 {
		c.warn(join(path, "timeout_minutes"), CodeInvalidValue, fmt.Sprintf("timeout_minutes should be > 0, got %v", n))
	}
	if p, ok := c.optionalString(obj, path, "priority"); ok && p != "" && !slices.Contains(domain.TaskPriorities, p) {
		c.warn(join(path, "priority"), CodeInvalidValue,
			fmt.Sprintf("unknown priority %q; expected one of %s", p, strings.Join(domain.TaskPriorities, ", ")))
	}
	c.optionalStringArray(obj, path, "inputs")
	c.optionalStringArray(obj, path, "outputs")
}

func (c *checker) assignee(path string, v any) {
	obj, ok := c.object(path, "assignee", v)
	if !ok {
		return
	}
	typ, ok := c.requireEnum(obj, path, "type", domain.AssigneeTypes())
	c.optionalString(obj, path, "model")
	c.optionalString(obj, path, "role")
	c.optionalString(obj, path, "name")
	caps, _ := c.optionalStringArray(obj, path, "capabilities")
	if ok && domain.AssigneeType(typ) == domain.AssigneeAIAgent && !present(obj, "model") && len(caps) == 0 {
		c.warn(path, CodeRecommended, "ai_agent assignees should specify a model or capabilities")
	}
}

func (c *checker) form(path string, v any) {
	obj, ok := c.object(path, "form", v)
	if !ok {
		return
	}
	c.requireString(obj, path, "id")
	c.requireString(obj, path, "name")
	typ, _ := c.requireEnum(obj, path, "type", domain.FormTypes())
	c.optionalString(obj, path, "description")
	c.optionalString(obj, path, "source")
	fields, hasFields := c.optionalArray(obj, path, "fields")
	for i, f := range fields {
		fieldPath := index(join(path, "fields"), i)
		if fo, ok := c.object(fieldPath, "field", f); ok {
			c.requireString(fo, fieldPath, "name")
			c.optionalString(fo, fieldPath, "label")
			c.optionalString(fo, fieldPath, "type")
			c.optionalStringArray(fo, fieldPath, "options")
		}
	}
	prompts, _ := c.optionalStringArray(obj, path, "prompts")
	hasTrigger := false
	if raw, ok := obj["trigger"]; ok && raw != nil {
		hasTrigger = true
		trigPath := join(path, "trigger")
		if trig, ok := c.object(trigPath, "trigger", raw); ok {
			c.requireEnum(trig, trigPath, "type", domain.TriggerTypes())
			c.optionalString(trig, trigPath, "schedule")
			c.optionalString(trig, trigPath, "event")
		}
	}
	switch domain.FormType(typ) {
	case domain.FormStructured:
		if !hasFields || len(fields) == 0 {
			c.warn(join(path, "fields"), CodeRecommended, "structured forms should define fields")
		}
	case domain.FormConversational:
		if len(prompts) == 0 {
			c.warn(join(path, "prompts"), CodeRecommended, "conversational forms should define prompts")
		}
	case domain.FormAutomated:
		if !hasTrigger {
			c.warn(join(path, "trigger"), CodeRecommended, "automated forms should define a trigger")
		}
	}
}

// object asserts v is a JSON object.
func (c *checker) object(path, what string, v any) (map[string]any, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		c.fail(path, CodeInvalidType, fmt.Sprintf("%s must be an object, got %s", what, typeName(v)))
		return nil, false
	}
	return obj, true
}

func (c *checker) require(obj map[string]any, path, key string) (any, bool) {
	v, ok := obj[key]
	if !ok || v == nil {
		c.fail(join(path, key), CodeMissingRequired, key+" is required")
		return nil, false
	}
	return v, true
}

func (c *checker) requireString(obj map[string]any, path, key string) (string, bool) {
	v, ok := c.require(obj, path, key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		c.fail(join(path, key), CodeInvalidType, fmt.Sprintf("%s must be a string, got %s", key, typeName(v)))
		return "", false
	}
	if strings.TrimSpace(s) == "" {
		c.fail(join(path, key), CodeMissingRequired, key+" is required")
		return "", false
	}
	return s, true
}

func (c *checker) optionalString(obj map[string]any, path, key string) (string, bool) {
	v, ok := obj[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		c.fail(join(path, key), CodeInvalidType, fmt.Sprintf("%s must be a string, got %s", key, typeName(v)))
		return "", false
	}
	return s, true
}

func (c *checker) requireEnum(obj map[string]any, path, key string, allowed []string) (string, bool) {
	s, ok := c.requireString(obj, path, key)
	if !ok {
		return "", false
	}
	if !slices.Contains(allowed, s) {
		c.fail(join(path, key), CodeInvalidEnum,
			fmt.Sprintf("invalid %s %q: must be one of %s", key, s, strings.Join(allowed, ", ")))
		return s, false
	}
	return s, true
}

func (c *checker) requireNumber(obj map[string]any, path, key string, integer bool) (float64, bool) {
	if _, ok := c.require(obj, path, key); !ok {
		return 0, false
	}
	return c.optionalNumber(obj, path, key, integer)
}

func (c *checker) optionalNumber(obj map[string]any, path, key string, integer bool) (float64, bool) {
	v, ok := obj[key]
	if !ok || v == nil {
		return 0, false
	}
	n, ok := number(v)
	if !ok {
		c.fail(join(path, key), CodeInvalidType, fmt.Sprintf("%s must be a number, got %s", key, typeName(v)))
		return 0, false
	}
	if integer && n != math.Trunc(n) {
		c.fail(join(path, key), CodeInvalidType, fmt.Sprintf("%s must be an integer, got %v", key, n))
		return 0, false
	}
	return n, true
}

func (c *checker) requireArray(obj map[string]any, path, key string) ([]any, bool) {
	if _, ok := c.require(obj, path, key); !ok {
		return nil, false
	}
	return c.optionalArray(obj, path, key)
}

func (c *checker) optionalArray(obj map[string]any, path, key string) ([]any, bool) {
	v, ok := obj[key]
	if !ok || v == nil {
		return nil, false
	}
	items, ok := v.([]any)
	if !ok {
		c.fail(join(path, key), CodeInvalidType, fmt.Sprintf("%s must be an array, got %s", key, typeName(v)))
		return nil, false
	}
	return items, true
}

func (c *checker) optionalStringArray(obj map[string]any, path, key string) ([]string, bool) {
	items, ok := c.optionalArray(obj, path, key)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(items))
	valid := true
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			c.fail(index(join(path, key), i), CodeInvalidType,
				fmt.Sprintf("%s entries must be strings, got %s", key, typeName(item)))
			valid = false
			continue
		}
		out = append(out, s)
	}
	return out, valid
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func present(obj map[string]any, key string) bool {
	v, ok := obj[key]
	return ok && v != nil
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func index(path string, i int) string {
	return fmt.Sprintf("%s[%d]", path, i)
}
