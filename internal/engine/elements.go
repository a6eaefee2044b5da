package engine

import (
	"goalflow/internal/domain"
	"goalflow/internal/schema"
)

// element describes one goal child collection so the add/update/delete/move
// plumbing is written once.
type element[T any] struct {
	kind     domain.Kind
	list     func(g *domain.Goal) *[]T
	id       func(v *T) *string
	validate func(v T) error
}

var (
	constraints = element[domain.Constraint]{
		kind:     domain.KindConstraint,
		list:     func(g *domain.Goal) *[]domain.Constraint { return &g.Constraints },
		id:       func(c *domain.Constraint) *string { return &c.ID },
		validate: schema.ValidateConstraintStrict,
	}
	policies = element[domain.Policy]{
		kind:     domain.KindPolicy,
		list:     func(g *domain.Goal) *[]domain.Policy { return &g.Policies },
		id:       func(p *domain.Policy) *string { return &p.ID },
		validate: schema.ValidatePolicyStrict,
	}
	tasks = element[domain.Task]{
		kind:     domain.KindTask,
		list:     func(g *domain.Goal) *[]domain.Task { return &g.Tasks },
		id:       func(t *domain.Task) *string { return &t.ID },
		validate: schema.ValidateTaskStrict,
	}
	forms = element[domain.Form]{
		kind:     domain.KindForm,
		list:     func(g *domain.Goal) *[]domain.Form { return &g.Forms },
		id:       func(f *domain.Form) *string { return &f.ID },
		validate: schema.ValidateFormStrict,
	}
)

// locate scans every goal for the element with the given id.
func (el element[T]) locate(doc *domain.Document, id string) (goal, idx int, err error) {
	for gi := range doc.Goals {
		items := *el.list(&doc.Goals[gi])
		for i := range items {
			if *el.id(&items[i]) == id {
				return gi, i, nil
			}
		}
	}
	return -1, -1, &NotFoundError{Kind: el.kind, ID: id}
}

func (el element[T]) has(doc *domain.Document, id string) bool {
	_, _, err := el.locate(doc, id)
	return err == nil
}

// add appends item to the goal, assigning an id when it has none.
// check runs after the id is settled and before validation.
func add[T any](e Engine, el element[T], in *domain.Document, goalID string, item T, check func(doc *domain.Document, v *T) error) (*domain.Document, error) {
	doc, err := prepare(in)
	if err != nil {
		return nil, err
	}
	gi, err := e.findGoal(doc, goalID)
	if err != nil {
		return nil, err
	}
	id := el.id(&item)
	if *id == "" {
		*id = e.newID(el.kind)
	} else if el.has(doc, *id) {
		return nil, invariant("add "+string(el.kind), "%s id %q already exists", el.kind, *id)
	}
	if check != nil {
		if err := check(doc, &item); err != nil {
			return nil, err
		}
	}
	if err := el.validate(item); err != nil {
		return nil, err
	}
	list := el.list(&doc.Goals[gi])
	*list = append(*list, item)
	return e.commit(doc)
}

func update[T any](e Engine, el element[T], in *domain.Document, id string, updates map[string]any, check func(doc *domain.Document, v *T) error) (*domain.Document, error) {
	doc, err := prepare(in)
	if err != nil {
		return nil, err
	}
	gi, idx, err := el.locate(doc, id)
	if err != nil {
		return nil, err
	}
	list := el.list(&doc.Goals[gi])
	next, err := merge(el.kind, (*list)[idx], updates)
	if err != nil {
		return nil, err
	}
	if check != nil {
		if err := check(doc, &next); err != nil {
			return nil, err
		}
	}
	if err := el.validate(next); err != nil {
		return nil, err
	}
	(*list)[idx] = next
	return e.commit(doc)
}

func remove[T any](e Engine, el element[T], in *domain.Document, id string, after func(doc *domain.Document)) (*domain.Document, error) {
	doc, err := prepare(in)
	if err != nil {
		return nil, err
	}
	gi, idx, err := el.locate(doc, id)
	if err != nil {
		return nil, err
	}
	list := el.list(&doc.Goals[gi])
	*list = append((*list)[:idx], (*list)[idx+1:]...)
	if after != nil {
		after(doc)
	}
	return e.commit(doc)
}

func move[T any](e Engine, el element[T], in *domain.Document, id, fromGoalID, toGoalID string) (*domain.Document, error) {
	if fromGoalID == toGoalID {
		return nil, invariant("move "+string(el.kind), "source and destination goal are both %q", fromGoalID)
	}
	doc, err := prepare(in)
	if err != nil {
		return nil, err
	}
	from, err := e.findGoal(doc, fromGoalID)
	if err != nil {
		return nil, err
	}
	to, err := e.findGoal(doc, toGoalID)
	if err != nil {
		return nil, err
	}
	src := el.list(&doc.Goals[from])
	idx := -1
	for i := range *src {
		if *el.id(&(*src)[i]) == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, &NotFoundError{Kind: el.kind, ID: id}
	}
	item := (*src)[idx]
	*src = append((*src)[:idx], (*src)[idx+1:]...)
	dst := el.list(&doc.Goals[to])
	*dst = append(*dst, item)
	return e.commit(doc)
}

func (e Engine) AddConstraint(doc *domain.Document, goalID string, c domain.Constraint) (*domain.Document, error) {
	return add(e, constraints, doc, goalID, c.Clone(), nil)
}

func (e Engine) UpdateConstraint(doc *domain.Document, id string, updates map[string]any) (*domain.Document, error) {
	return update(e, constraints, doc, id, updates, nil)
}

func (e Engine) DeleteConstraint(doc *domain.Document, id string) (*domain.Document, error) {
	return remove(e, constraints, doc, id, nil)
}

func (e Engine) AddPolicy(doc *domain.Document, goalID string, p domain.Policy) (*domain.Document, error) {
	return add(e, policies, doc, goalID, p.Clone(), nil)
}

func (e Engine) UpdatePolicy(doc *domain.Document, id string, updates map[string]any) (*domain.Document, error) {
	return update(e, policies, doc, id, updates, nil)
}

func (e Engine) DeletePolicy(doc *domain.Document, id string) (*domain.Document, error) {
	return remove(e, policies, doc, id, nil)
}

func (e Engine) AddTask(doc *domain.Document, goalID string, t domain.Task) (*domain.Document, error) {
	return add(e, tasks, doc, goalID, t.Clone(), checkDependencies)
}

func (e Engine) UpdateTask(doc *domain.Document, id string, updates map[string]any) (*domain.Document, error) {
	return update(e, tasks, doc, id, updates, checkDependencies)
}

// DeleteTask also strips the id from every other task's depends_on.
func (e Engine) DeleteTask(doc *domain.Document, id string) (*domain.Document, error) {
	return remove(e, tasks, doc, id, func(doc *domain.Document) {
		stripDependency(doc, id)
	})
}

func (e Engine) AddForm(doc *domain.Document, goalID string, f domain.Form) (*domain.Document, error) {
	return add(e, forms, doc, goalID, f.Clone(), nil)
}

func (e Engine) UpdateForm(doc *domain.Document, id string, updates map[string]any) (*domain.Document, error) {
	return update(e, forms, doc, id, updates, nil)
}

func (e Engine) DeleteForm(doc *domain.Document, id string) (*domain.Document, error) {
	return remove(e, forms, doc, id, nil)
}

// MoveElement removes an element from one goal and appends it unchanged to
// another. Task dependencies are document-wide, so they survive the move.
func (e Engine) MoveElement(doc *domain.Document, kind domain.Kind, id, fromGoalID, toGoalID string) (*domain.Document, error) {
	switch kind {
	case domain.KindConstraint:
		return move(e, constraints, doc, id, fromGoalID, toGoalID)
	case domain.KindPolicy:
		return move(e, policies, doc, id, fromGoalID, toGoalID)
	case domain.KindTask:
		return move(e, tasks, doc, id, fromGoalID, toGoalID)
	case domain.KindForm:
		return move(e, forms, doc, id, fromGoalID, toGoalID)
	default:
		return nil, &schema.ValidationError{Kind: domain.KindGoal, Issues: []schema.Issue{{
			Path:    "element_type",
			Code:    schema.CodeInvalidEnum,
			Message: `invalid element_type "` + string(kind) + `": must be one of constraint, policy, task, form`,
		}}}
	}
}
