package engine

import (
	"slices"
	"sort"
	"strings"

	"goalflow/internal/domain"
	"goalflow/internal/schema"
)

// goalManaged are goal fields that UpdateGoal refuses; they have dedicated operations.
var goalManaged = []string{"order", "constraints", "policies", "tasks", "forms"}

// AddGoal appends a goal with order = max(existing)+1. Nested elements
// without ids get fresh ones.
func (e Engine) AddGoal(in *domain.Document, g domain.Goal) (*domain.Document, error) {
	doc, err := prepare(in)
	if err != nil {
		return nil, err
	}
	g = g.Clone()
	if g.ID == "" {
		g.ID = e.newID(domain.KindGoal)
	} else if slices.Contains(goalIDs(doc), g.ID) {
		return nil, invariant("add goal", "goal id %q already exists", g.ID)
	}
	if err := e.assignElementIDs(doc, &g); err != nil {
		return nil, err
	}
	g.Order = maxOrder(doc) + 1
	if err := schema.ValidateGoalStrict(g); err != nil {
		return nil, err
	}
	doc.Goals = append(doc.Goals, g)
	added := &doc.Goals[len(doc.Goals)-1]
	for i := range added.Tasks {
		if err := checkDependencies(doc, &added.Tasks[i]); err != nil {
			return nil, err
		}
	}
	return e.commit(doc)
}

func (e Engine) UpdateGoal(in *domain.Document, goalID string, updates map[string]any) (*domain.Document, error) {
	for _, key := range goalManaged {
		if _, ok := updates[key]; ok {
			return nil, invariant("update goal", "%s cannot be changed with updateGoal; use reorderGoals or the element operations", key)
		}
	}
	doc, err := prepare(in)
	if err != nil {
		return nil, err
	}
	gi, err := e.findGoal(doc, goalID)
	if err != nil {
		return nil, err
	}
	next, err := merge(domain.KindGoal, doc.Goals[gi], updates)
	if err != nil {
		return nil, err
	}
	next.Normalize()
	if err := schema.ValidateGoalStrict(next); err != nil {
		return nil, err
	}
	doc.Goals[gi] = next
	return e.commit(doc)
}

// DeleteGoal removes the goal with everything it contains and renumbers the
// remaining goals 1..N. Dependencies on the removed tasks are dropped.
func (e Engine) DeleteGoal(in *domain.Document, goalID string) (*domain.Document, error) {
	doc, err := prepare(in)
	if err != nil {
		return nil, err
	}
	gi, err := e.findGoal(doc, goalID)
	if err != nil {
		return nil, err
	}
	removed := doc.Goals[gi]
	doc.Goals = append(doc.Goals[:gi], doc.Goals[gi+1:]...)
	for _, t := range removed.Tasks {
		stripDependency(doc, t.ID)
	}
	sort.SliceStable(doc.Goals, func(i, j int) bool { return doc.Goals[i].Order < doc.Goals[j].Order })
	renumber(doc)
	return e.commit(doc)
}

// ReorderGoals sets goal order to the position of each id in ids, which
// must be an exact permutation of the document's goal ids.
func (e Engine) ReorderGoals(in *domain.Document, ids []string) (*domain.Document, error) {
	doc, err := prepare(in)
	if err != nil {
		return nil, err
	}
	if len(ids) != len(doc.Goals) {
		return nil, invariant("reorder goals", "expected %d goal ids, got %d (goal ids: %s)",
			len(doc.Goals), len(ids), strings.Join(goalIDs(doc), ", "))
	}
	byID := make(map[string]domain.Goal, len(doc.Goals))
	for _, g := range doc.Goals {
		byID[g.ID] = g
	}
	seen := make(map[string]bool, len(ids))
	ordered := make([]domain.Goal, 0, len(ids))
	for _, id := range ids {
		g, ok := byID[id]
		if !ok {
			return nil, invariant("reorder goals", "unknown goal id %q (goal ids: %s)", id, strings.Join(goalIDs(doc), ", "))
		}
		if seen[id] {
			return nil, invariant("reorder goals", "goal id %q listed more than once", id)
		}
		seen[id] = true
		ordered = append(ordered, g)
	}
	doc.Goals = ordered
	renumber(doc)
	return e.commit(doc)
}

// DuplicateGoal appends a deep copy of a goal. Every copied element gets a
// fresh id and copied tasks start with no dependencies.
func (e Engine) DuplicateGoal(in *domain.Document, goalID, name string) (*domain.Document, error) {
	doc, err := prepare(in)
	if err != nil {
		return nil, err
	}
	gi, err := e.findGoal(doc, goalID)
	if err != nil {
		return nil, err
	}
	cp := doc.Goals[gi].Clone()
	cp.ID = e.newID(domain.KindGoal)
	if name != "" {
		cp.Name = name
	} else {
		cp.Name += " (Copy)"
	}
	for i := range cp.Constraints {
		cp.Constraints[i].ID = e.newID(domain.KindConstraint)
	}
	for i := range cp.Policies {
		cp.Policies[i].ID = e.newID(domain.KindPolicy)
	}
	for i := range cp.Tasks {
		cp.Tasks[i].ID = e.newID(domain.KindTask)
		cp.Tasks[i].DependsOn = nil
	}
	for i := range cp.Forms {
		cp.Forms[i].ID = e.newID(domain.KindForm)
	}
	cp.Order = maxOrder(doc) + 1
	if err := schema.ValidateGoalStrict(cp); err != nil {
		return nil, err
	}
	doc.Goals = append(doc.Goals, cp)
	return e.commit(doc)
}

func (e Engine) UpdateMetadata(in *domain.Document, updates map[string]any) (*domain.Document, error) {
	doc, err := prepare(in)
	if err != nil {
		return nil, err
	}
	next, err := merge(domain.KindMetadata, doc.Metadata, updates)
	if err != nil {
		return nil, err
	}
	doc.Metadata = next
	return e.commit(doc)
}

func (e Engine) UpdateGlobalSettings(in *domain.Document, updates map[string]any) (*domain.Document, error) {
	doc, err := prepare(in)
	if err != nil {
		return nil, err
	}
	var current domain.GlobalSettings
	if doc.GlobalSettings != nil {
		current = *doc.GlobalSettings
	}
	next, err := merge(domain.KindGlobalSettings, current, updates)
	if err != nil {
		return nil, err
	}
	doc.GlobalSettings = &next
	return e.commit(doc)
}

// assignElementIDs gives nested elements of a new goal ids and rejects
// caller-supplied ids that already exist in the document or repeat within g.
func (e Engine) assignElementIDs(doc *domain.Document, g *domain.Goal) error {
	if err := assignIDs(e, constraints, doc, g); err != nil {
		return err
	}
	if err := assignIDs(e, policies, doc, g); err != nil {
		return err
	}
	if err := assignIDs(e, tasks, doc, g); err != nil {
		return err
	}
	return assignIDs(e, forms, doc, g)
}

func assignIDs[T any](e Engine, el element[T], doc *domain.Document, g *domain.Goal) error {
	items := *el.list(g)
	seen := map[string]bool{}
	for i := range items {
		id := el.id(&items[i])
		if *id == "" {
			*id = e.newID(el.kind)
		} else if seen[*id] || el.has(doc, *id) {
			return invariant("add goal", "%s id %q already exists", el.kind, *id)
		}
		seen[*id] = true
	}
	return nil
}

func maxOrder(doc *domain.Document) int {
	maxOrd := 0
	for _, g := range doc.Goals {
		maxOrd = max(maxOrd, g.Order)
	}
	return maxOrd
}

// renumber assigns order 1..N following the slice position.
func renumber(doc *domain.Document) {
	for i := range doc.Goals {
		doc.Goals[i].Order = i + 1
	}
}
