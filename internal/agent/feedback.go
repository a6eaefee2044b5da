package agent

import (
	"fmt"
	"strings"

	"goalflow/internal/domain"
	"goalflow/internal/schema"
)

const (
	hintGeneric = "Review the error, then check field types, required fields and allowed enum values before retrying."
	hintNameID  = "Every new entity needs its required text fields: goals, policies and forms need a non-empty name, constraints and tasks need a description. Leave id out to have one generated; use existing ids only when referring to entities."
	hintAssign  = `A task assignee must be an object such as {"type": "human", "role": "reviewer"} or {"type": "ai_agent", "model": "...", "capabilities": ["..."]}. type must be "human" or "ai_agent".`
	hintEnum    = "Use exactly one of the allowed values listed in the error message; values are lower case with underscores."
)

var hintEnforcement = fmt.Sprintf("enforcement must be one of %s. Use \"hard\" for mandatory limits and \"soft\" for preferences.",
	strings.Join(domain.EnforcementLevels(), ", "))

// Feedback describes the previous failed attempt for the next prompt.
type Feedback struct {
	Attempt  int            `json:"attempt"`
	Tool     string         `json:"tool,omitempty"`
	Kind     ErrorKind      `json:"kind"`
	Message  string         `json:"message"`
	Guidance string         `json:"guidance"`
	Issues   []schema.Issue `json:"issues,omitempty"`
}

func newFeedback(e *Error) Feedback {
	issues := issuesOf(e.Err)
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return Feedback{
		Attempt:  e.Attempt,
		Tool:     e.Tool,
		Kind:     e.Kind,
		Message:  msg,
		Guidance: guidance(e.Kind, issues),
		Issues:   issues,
	}
}

// guidance picks a targeted hint for validation failures by issue code and
// field; everything else gets the generic hint.
func guidance(kind ErrorKind, issues []schema.Issue) string {
	if kind != KindValidationFailed {
		return hintGeneric
	}
	for _, is := range issues {
		field := is.Field()
		switch {
		case is.Code == schema.CodeMissingRequired && (field == "name" || field == "id" || field == "description"):
			return hintNameID
		case strings.Contains(is.Path, "assignee"):
			return hintAssign
		case is.Code == schema.CodeInvalidEnum && field == "enforcement":
			return hintEnforcement
		case is.Code == schema.CodeInvalidEnum:
			return hintEnum
		}
	}
	return hintGeneric
}

func (f Feedback) render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Previous attempt %d failed.\n", f.Attempt)
	if f.Tool != "" {
		fmt.Fprintf(&b, "Failing tool: %s\n", f.Tool)
	}
	fmt.Fprintf(&b, "Error category: %s\n", f.Kind)
	fmt.Fprintf(&b, "Error: %s\n", f.Message)
	for _, is := range f.Issues {
		fmt.Fprintf(&b, "- %s [%s]: %s\n", is.Path, is.Code, is.Message)
	}
	fmt.Fprintf(&b, "Guidance: %s\n", f.Guidance)
	b.WriteString("The document is unchanged; propose the complete list of tool calls again.")
	return b.String()
}
