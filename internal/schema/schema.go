// Package schema validates workflow documents and their entities.
//
// Validation runs over the generic JSON tree (objects, arrays, strings,
// numbers) so raw JSON input and typed domain values share one set of rules.
// Errors block a mutation; warnings are surfaced but never fail strict checks.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"goalflow/internal/domain"
)

// Issue codes. The agent retry guidance keys off these, so they are stable.
const (
	CodeMissingRequired = "MISSING_REQUIRED_FIELD"
	CodeInvalidType     = "INVALID_TYPE"
	CodeInvalidEnum     = "INVALID_ENUM_VALUE"
	CodeInvalidValue    = "INVALID_VALUE"
	CodeRecommended     = "RECOMMENDED_FIELD"
)

const rootPath = "(root)"

type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Field returns the last path segment without any index suffix,
// e.g. "goals[0].tasks[2].assignee" -> "assignee".
func (i Issue) Field() string {
	p := i.Path
	if idx := strings.LastIndex(p, "."); idx >= 0 {
		p = p[idx+1:]
	}
	if idx := strings.Index(p, "["); idx >= 0 {
		p = p[:idx]
	}
	return p
}

type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

// ValidationError is returned by the strict validators.
type ValidationError struct {
	Kind   domain.Kind
	Issues []Issue
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		parts[i] = is.Path + ": " + is.Message
	}
	return fmt.Sprintf("%s validation failed: %s", e.Kind.Label(), strings.Join(parts, "; "))
}

// Strict converts a result into a *ValidationError when it carries errors.
func Strict(kind domain.Kind, res Result) error {
	if len(res.Errors) == 0 {
		return nil
	}
	return &ValidationError{Kind: kind, Issues: res.Errors}
}

// ValidateValue validates a generic JSON value as the given entity kind.
func ValidateValue(kind domain.Kind, v any) Result {
	c := &checker{}
	switch kind {
	case domain.KindDocument:
		c.document(v)
	case domain.KindGoal:
		c.goal("", v)
	case domain.KindConstraint:
		c.constraint("", v)
	case domain.KindPolicy:
		c.policy("", v)
	case domain.KindTask:
		c.task("", v)
	case domain.KindForm:
		c.form("", v)
	case domain.KindMetadata:
		c.metadata("", v)
	case domain.KindGlobalSettings:
		c.settings("", v)
	default:
		c.fail("", CodeInvalidValue, fmt.Sprintf("unknown entity kind %q", kind))
	}
	return c.result()
}

// ValidateJSON decodes raw JSON and validates it as the given kind.
func ValidateJSON(kind domain.Kind, data []byte) Result {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		c := &checker{}
		c.fail("", CodeInvalidType, fmt.Sprintf("invalid JSON: %v", err))
		return c.result()
	}
	return ValidateValue(kind, v)
}

func ValidateDocument(doc *domain.Document) Result {
	if doc == nil {
		c := &checker{}
		c.fail("", CodeMissingRequired, "document is required")
		return c.result()
	}
	return validateTyped(domain.KindDocument, doc)
}

func ValidateGoal(g domain.Goal) Result { return validateTyped(domain.KindGoal, g) }
func ValidateConstraint(c domain.Constraint) Result { return validateTyped(domain.KindConstraint, c) }
func ValidatePolicy(p domain.Policy) Result { return validateTyped(domain.KindPolicy, p) }
func ValidateTask(t domain.Task) Result { return validateTyped(domain.KindTask, t) }
func ValidateForm(f domain.Form) Result { return validateTyped(domain.KindForm, f) }

func ValidateDocumentStrict(doc *domain.Document) error {
	return Strict(domain.KindDocument, ValidateDocument(doc))
}

func ValidateGoalStrict(g domain.Goal) error {
	return Strict(domain.KindGoal, ValidateGoal(g))
}

func ValidateConstraintStrict(c domain.Constraint) error {
	return Strict(domain.KindConstraint, ValidateConstraint(c))
}

func ValidatePolicyStrict(p domain.Policy) error {
	return Strict(domain.KindPolicy, ValidatePolicy(p))
}

func ValidateTaskStrict(t domain.Task) error {
	return Strict(domain.KindTask, ValidateTask(t))
}

func ValidateFormStrict(f domain.Form) error {
	return Strict(domain.KindForm, ValidateForm(f))
}

// ToValue projects a typed value onto the generic JSON tree.
func ToValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func validateTyped(kind domain.Kind, v any) Result {
	generic, err := ToValue(v)
	if err != nil {
		c := &checker{}
		c.fail("", CodeInvalidType, fmt.Sprintf("cannot encode %s: %v", strings.ToLower(kind.Label()), err))
		return c.result()
	}
	return ValidateValue(kind, generic)
}
