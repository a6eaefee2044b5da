package engine

import (
	"slices"

	"goalflow/internal/domain"
)

// checkDependencies verifies that every depends_on id of candidate resolves
// to a task in the document and that the resulting graph stays acyclic.
// candidate may or may not already be in the document.
func checkDependencies(doc *domain.Document, candidate *domain.Task) error {
	for _, dep := range candidate.DependsOn {
		if dep == candidate.ID {
			return invariant("task dependencies", "task %q depends on itself", candidate.ID)
		}
		if !tasks.has(doc, dep) {
			return &NotFoundError{Kind: domain.KindTask, ID: dep}
		}
	}

	graph := map[string][]string{}
	for _, g := range doc.Goals {
		for _, t := range g.Tasks {
			if t.ID != candidate.ID {
				graph[t.ID] = t.DependsOn
			}
		}
	}
	graph[candidate.ID] = candidate.DependsOn
	if hasCycle(graph) {
		return invariant("task dependencies", "depends_on of task %q would create a cycle", candidate.ID)
	}
	return nil
}

// hasCycle runs Kahn's algorithm over id -> dependency ids.
func hasCycle(graph map[string][]string) bool {
	inDegree := make(map[string]int, len(graph))
	dependents := make(map[string][]string, len(graph))
	for id, deps := range graph {
		if _, ok := inDegree[id]; !ok {
			inDegree[id] = 0
		}
		for _, dep := range deps {
			if _, ok := graph[dep]; !ok {
				continue
			}
			dependents[dep] = append(dependents[dep], id)
			inDegree[id]++
		}
	}

	queue := make([]string, 0, len(graph))
	for id, d := range inDegree {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range dependents[node] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	return visited != len(graph)
}

func stripDependency(doc *domain.Document, id string) {
	for gi := range doc.Goals {
		for ti := range doc.Goals[gi].Tasks {
			t := &doc.Goals[gi].Tasks[ti]
			if !slices.Contains(t.DependsOn, id) {
				continue
			}
			t.DependsOn = slices.DeleteFunc(t.DependsOn, func(dep string) bool { return dep == id })
		}
	}
}
