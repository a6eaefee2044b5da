package engine

import (
	"fmt"

	"goalflow/internal/domain"
	"goalflow/internal/schema"
)

// Violations lists the cross-entity rules a document breaks: duplicate ids
// within a collection type, goal orders that are not exactly 1..N, and
// task dependencies that dangle, point at their own task or form a cycle.
// Schema checks cover each entity on its own; these need the whole document.
func Violations(doc *domain.Document) []schema.Issue {
	if doc == nil {
		return nil
	}
	var issues []schema.Issue
	add := func(path, format string, args ...any) {
		issues = append(issues, schema.Issue{Path: path, Message: fmt.Sprintf(format, args...), Code: schema.CodeInvalidValue})
	}

	goalSeen := map[string]bool{}
	orderSeen := map[int]bool{}
	for gi, g := range doc.Goals {
		if goalSeen[g.ID] {
			add(fmt.Sprintf("goals[%d].id", gi), "goal id %q is used more than once", g.ID)
		}
		goalSeen[g.ID] = true
		switch {
		case g.Order < 1 || g.Order > len(doc.Goals):
			add(fmt.Sprintf("goals[%d].order", gi), "goal order %d is outside 1..%d", g.Order, len(doc.Goals))
		case orderSeen[g.Order]:
			add(fmt.Sprintf("goals[%d].order", gi), "goal order %d is used more than once", g.Order)
		}
		orderSeen[g.Order] = true
	}

	issues = append(issues, duplicateIDs(constraints, doc, "constraints")...)
	issues = append(issues, duplicateIDs(policies, doc, "policies")...)
	issues = append(issues, duplicateIDs(tasks, doc, "tasks")...)
	issues = append(issues, duplicateIDs(forms, doc, "forms")...)

	graph := map[string][]string{}
	for gi, g := range doc.Goals {
		for ti, t := range g.Tasks {
			path := fmt.Sprintf("goals[%d].tasks[%d].depends_on", gi, ti)
			for _, dep := range t.DependsOn {
				switch {
				case dep == t.ID:
					add(path, "task %q depends on itself", t.ID)
				case !tasks.has(doc, dep):
					add(path, "task %q depends on unknown task %q", t.ID, dep)
				}
			}
			graph[t.ID] = t.DependsOn
		}
	}
	if hasCycle(graph) {
		add("goals", "task dependencies form a cycle")
	}
	return issues
}

func duplicateIDs[T any](el element[T], doc *domain.Document, field string) []schema.Issue {
	var issues []schema.Issue
	seen := map[string]bool{}
	for gi := range doc.Goals {
		items := *el.list(&doc.Goals[gi])
		for i := range items {
			id := *el.id(&items[i])
			if seen[id] {
				issues = append(issues, schema.Issue{
					Path:    fmt.Sprintf("goals[%d].%s[%d].id", gi, field, i),
					Message: fmt.Sprintf("%s id %q is used more than once", el.kind, id),
					Code:    schema.CodeInvalidValue,
				})
			}
			seen[id] = true
		}
	}
	return issues
}

// CheckInvariants returns a ValidationError listing every violation, or nil.
// Operations keep these rules by construction; documents that arrive whole
// (imports) are checked with this.
func CheckInvariants(doc *domain.Document) error {
	issues := Violations(doc)
	if len(issues) == 0 {
		return nil
	}
	return &schema.ValidationError{Kind: domain.KindDocument, Issues: issues}
}
