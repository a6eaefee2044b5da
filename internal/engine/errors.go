package engine

import (
	"fmt"
	"strings"

	"goalflow/internal/domain"
)

// NotFoundError reports an id that does not resolve in the document.
// ValidIDs is filled for goal lookups so callers can correct the reference.
type NotFoundError struct {
	Kind     domain.Kind
	ID       string
	ValidIDs []string
}

func (e *NotFoundError) Error() string {
	msg := fmt.Sprintf("%s not found: %s", e.Kind.Label(), e.ID)
	if len(e.ValidIDs) > 0 {
		msg += fmt.Sprintf(" (valid %s ids: %s)", e.Kind, strings.Join(e.ValidIDs, ", "))
	} else if e.Kind == domain.KindGoal {
		msg += " (document has no goals)"
	}
	return msg
}

// InvariantError reports a structurally invalid request, e.g. a reorder
// that is not a permutation or a dependency cycle.
type InvariantError struct {
	Op     string
	Reason string
}

func (e *InvariantError) Error() string {
	if e.Op == "" {
		return e.Reason
	}
	return e.Op + ": " + e.Reason
}

type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return "Unknown tool: " + e.Name
}

func invariant(op, format string, args ...any) error {
	return &InvariantError{Op: op, Reason: fmt.Sprintf(format, args...)}
}
