package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"goalflow/internal/domain"
	"goalflow/internal/engine"
)

const capabilities = `You edit structured workflow documents. A document has goals; each goal holds constraints, policies, tasks and forms.
You never edit the document directly. Instead you propose tool calls that are applied in order to the current document.
Rules:
- Refer to existing entities only by the ids shown in the document summary.
- Leave "id" out of new entities; ids are generated.
- Task depends_on may only list existing task ids and must not form cycles.
- Enum fields accept only the listed values:
  constraint type: %s
  constraint enforcement: %s
  task assignee type: %s
  form type: %s
  trigger type: %s
  condition operator: %s`

const responseFormat = `Respond with a single JSON object and nothing else:
{"toolCalls": [{"tool": "<tool name>", "params": {...}}], "reasoning": "<one or two sentences>"}
Use an empty toolCalls list only when the request cannot be expressed with the tools.`

// systemPrompt is fixed for a loop: capability description, tool catalog
// and response format.
func systemPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, capabilities,
		strings.Join(domain.ConstraintTypes(), ", "),
		strings.Join(domain.EnforcementLevels(), ", "),
		strings.Join(domain.AssigneeTypes(), ", "),
		strings.Join(domain.FormTypes(), ", "),
		strings.Join(domain.TriggerTypes(), ", "),
		strings.Join(domain.ConditionOperators, ", "))
	b.WriteString("\n\nTools:\n")
	for _, spec := range engine.Catalog() {
		params, _ := json.Marshal(spec.Params)
		fmt.Fprintf(&b, "- %s: %s\n  params example: %s\n", spec.Name, spec.Description, params)
	}
	b.WriteString("\n")
	b.WriteString(responseFormat)
	return b.String()
}

// summarize renders the document outline the model works from. Text taken
// from the document is redacted like user input.
func summarize(doc *domain.Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Document: %s\n", redact(doc.Name, 200))
	fmt.Fprintf(&b, "Objective: %s\n", redact(doc.Objective, 300))
	fmt.Fprintf(&b, "Goals (%d):\n", len(doc.Goals))
	for _, g := range doc.Goals {
		fmt.Fprintf(&b, "%d. %s [id: %s]\n", g.Order, redact(g.Name, 120), g.ID)
		fmt.Fprintf(&b, "   constraints: %d%s\n", len(g.Constraints), idList(len(g.Constraints), func(i int) string { return g.Constraints[i].ID }))
		fmt.Fprintf(&b, "   policies: %d%s\n", len(g.Policies), idList(len(g.Policies), func(i int) string { return g.Policies[i].ID }))
		fmt.Fprintf(&b, "   tasks: %d%s\n", len(g.Tasks), idList(len(g.Tasks), func(i int) string { return g.Tasks[i].ID }))
		fmt.Fprintf(&b, "   forms: %d%s\n", len(g.Forms), idList(len(g.Forms), func(i int) string { return g.Forms[i].ID }))
	}
	return b.String()
}

func idList(n int, id func(i int) string) string {
	if n == 0 {
		return ""
	}
	ids := make([]string, n)
	for i := range ids {
		ids[i] = id(i)
	}
	return " (" + strings.Join(ids, ", ") + ")"
}

func userPrompt(summary, request string, fb *Feedback) string {
	var b strings.Builder
	b.WriteString(summary)
	b.WriteString("\nRequest:\n")
	b.WriteString(request)
	b.WriteString("\n")
	if fb != nil {
		b.WriteString("\n")
		b.WriteString(fb.render())
		b.WriteString("\n")
	}
	return b.String()
}
