package engine_test

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"testing"
	"time"

	"goalflow/internal/domain"
	"goalflow/internal/engine"
	"goalflow/internal/schema"
)

var fixedNow = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newEngine() engine.Engine {
	n := 0
	return engine.Engine{
		Now: func() time.Time { return fixedNow },
		NewID: func(prefix string) string {
			n++
			return fmt.Sprintf("%s_%d", prefix, n)
		},
	}
}

func human() domain.Assignee { return domain.Assignee{Type: domain.AssigneeHuman} }

func baseDoc() *domain.Document {
	return &domain.Document{
		ID:        "document_1",
		Name:      "Launch",
		Version:   1,
		Objective: "Ship it",
		Metadata:  domain.Metadata{CreatedAt: "2023-12-01T00:00:00Z", LastModified: "2023-12-01T00:00:00Z"},
		Goals: []domain.Goal{
			{ID: "goal1", Name: "Plan", Order: 1, Constraints: []domain.Constraint{}, Policies: []domain.Policy{}, Tasks: []domain.Task{}, Forms: []domain.Form{}},
		},
	}
}

// mustDoc takes an operation's result pair: mustDoc(t)(eng.AddGoal(...)).
func mustDoc(t *testing.T) func(*domain.Document, error) *domain.Document {
	return func(doc *domain.Document, err error) *domain.Document {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return doc
	}
}

func TestAddTaskScenario(t *testing.T) {
	eng := newEngine()
	in := baseDoc()
	out := mustDoc(t)(eng.AddTask(in, "goal1", domain.Task{Description: "X", Assignee: human()}))

	if len(out.Goals[0].Tasks) != 1 {
		t.Fatalf("expected one task, got %d", len(out.Goals[0].Tasks))
	}
	if out.Goals[0].Tasks[0].ID != "task_1" {
		t.Fatalf("expected generated id, got %q", out.Goals[0].Tasks[0].ID)
	}
	if out.Metadata.LastModified != "2024-01-01T00:00:00Z" {
		t.Fatalf("last_modified = %q", out.Metadata.LastModified)
	}
	if len(in.Goals[0].Tasks) != 0 || in.Metadata.LastModified != "2023-12-01T00:00:00Z" {
		t.Fatalf("input document was mutated")
	}
}

func TestDefaultIDFormat(t *testing.T) {
	eng := engine.Engine{Now: func() time.Time { return fixedNow }}
	out := mustDoc(t)(eng.AddGoal(baseDoc(), domain.Goal{Name: "Build"}))
	id := out.Goals[1].ID
	want := regexp.MustCompile(fmt.Sprintf(`^goal_%d_[0-9a-f]{9}$`, fixedNow.UnixMilli()))
	if !want.MatchString(id) {
		t.Fatalf("unexpected id %q", id)
	}
}

func TestFailedOperationLeavesInputUntouched(t *testing.T) {
	eng := newEngine()
	in := mustDoc(t)(eng.AddTask(baseDoc(), "goal1", domain.Task{ID: "t1", Description: "X", Assignee: human()}))
	before := in.Clone()

	_, err := eng.UpdateTask(in, "t1", map[string]any{"assignee": map[string]any{"type": "robot"}})
	var verr *schema.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if verr.Issues[0].Code != schema.CodeInvalidEnum {
		t.Fatalf("unexpected code %s", verr.Issues[0].Code)
	}
	if !reflect.DeepEqual(before, in) {
		t.Fatalf("input changed after failed update")
	}
}

func TestGoalNotFoundListsValidIDs(t *testing.T) {
	eng := newEngine()
	_, err := eng.AddTask(baseDoc(), "missing", domain.Task{Description: "X", Assignee: human()})
	var nf *engine.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if nf.ID != "missing" || !reflect.DeepEqual(nf.ValidIDs, []string{"goal1"}) {
		t.Fatalf("unexpected error %+v", nf)
	}
	if !strings.Contains(err.Error(), "goal1") {
		t.Fatalf("message should list valid ids: %v", err)
	}
}

func TestGoalOrdering(t *testing.T) {
	eng := newEngine()
	doc := baseDoc()
	doc = mustDoc(t)(eng.AddGoal(doc, domain.Goal{Name: "Build", Order: 42}))
	doc = mustDoc(t)(eng.AddGoal(doc, domain.Goal{Name: "Ship"}))
	if doc.Goals[1].Order != 2 || doc.Goals[2].Order != 3 {
		t.Fatalf("expected orders 2 and 3, got %d and %d", doc.Goals[1].Order, doc.Goals[2].Order)
	}

	doc = mustDoc(t)(eng.DeleteGoal(doc, "goal1"))
	for i, g := range doc.Goals {
		if g.Order != i+1 {
			t.Fatalf("goal %s order %d, want %d", g.ID, g.Order, i+1)
		}
	}

	ids := []string{doc.Goals[1].ID, doc.Goals[0].ID}
	doc = mustDoc(t)(eng.ReorderGoals(doc, ids))
	if doc.Goals[0].ID != ids[0] || doc.Goals[0].Order != 1 || doc.Goals[1].Order != 2 {
		t.Fatalf("reorder not applied: %+v", doc.Goals)
	}
}

func TestReorderRequiresPermutation(t *testing.T) {
	eng := newEngine()
	doc := mustDoc(t)(eng.AddGoal(baseDoc(), domain.Goal{ID: "goal2", Name: "Build"}))
	cases := [][]string{
		{"goal1"},
		{"goal1", "goal1"},
		{"goal1", "goal3"},
		{"goal1", "goal2", "goal3"},
	}
	for _, ids := range cases {
		_, err := eng.ReorderGoals(doc, ids)
		var inv *engine.InvariantError
		if !errors.As(err, &inv) {
			t.Fatalf("%v: expected InvariantError, got %v", ids, err)
		}
	}
}

func TestDuplicateGoal(t *testing.T) {
	eng := newEngine()
	doc := baseDoc()
	doc = mustDoc(t)(eng.AddTask(doc, "goal1", domain.Task{ID: "t1", Description: "a", Assignee: human()}))
	doc = mustDoc(t)(eng.AddTask(doc, "goal1", domain.Task{ID: "t2", Description: "b", Assignee: human(), DependsOn: []string{"t1"}}))
	doc = mustDoc(t)(eng.AddConstraint(doc, "goal1", domain.Constraint{ID: "c1", Description: "x", Type: domain.ConstraintQuality, Enforcement: domain.EnforcementSoft}))

	out := mustDoc(t)(eng.DuplicateGoal(doc, "goal1", ""))
	if len(out.Goals) != 2 {
		t.Fatalf("expected two goals")
	}
	cp := out.Goals[1]
	if cp.Name != "Plan (Copy)" || cp.Order != 2 || cp.ID == "goal1" {
		t.Fatalf("unexpected copy %+v", cp)
	}
	for _, task := range cp.Tasks {
		if task.ID == "t1" || task.ID == "t2" {
			t.Fatalf("task id reused: %s", task.ID)
		}
		if len(task.DependsOn) != 0 {
			t.Fatalf("copied task kept dependencies: %v", task.DependsOn)
		}
	}
	if cp.Constraints[0].ID == "c1" {
		t.Fatalf("constraint id reused")
	}
	if got := out.Goals[0].Tasks[1].DependsOn; len(got) != 1 || got[0] != "t1" {
		t.Fatalf("original dependencies changed: %v", got)
	}

	named := mustDoc(t)(eng.DuplicateGoal(doc, "goal1", "Replan"))
	if named.Goals[1].Name != "Replan" {
		t.Fatalf("explicit name ignored: %q", named.Goals[1].Name)
	}
}

func TestTaskDependencies(t *testing.T) {
	eng := newEngine()
	doc := mustDoc(t)(eng.AddGoal(baseDoc(), domain.Goal{ID: "goal2", Name: "Build"}))
	doc = mustDoc(t)(eng.AddTask(doc, "goal1", domain.Task{ID: "a", Description: "a", Assignee: human()}))
	doc = mustDoc(t)(eng.AddTask(doc, "goal2", domain.Task{ID: "b", Description: "b", Assignee: human(), DependsOn: []string{"a"}}))

	_, err := eng.AddTask(doc, "goal1", domain.Task{ID: "c", Description: "c", Assignee: human(), DependsOn: []string{"nope"}})
	var nf *engine.NotFoundError
	if !errors.As(err, &nf) || nf.Kind != domain.KindTask {
		t.Fatalf("expected task NotFoundError, got %v", err)
	}

	_, err = eng.UpdateTask(doc, "a", map[string]any{"depends_on": []any{"a"}})
	var inv *engine.InvariantError
	if !errors.As(err, &inv) {
		t.Fatalf("expected InvariantError for self dependency, got %v", err)
	}

	_, err = eng.UpdateTask(doc, "a", map[string]any{"depends_on": []any{"b"}})
	if !errors.As(err, &inv) {
		t.Fatalf("expected InvariantError for cycle, got %v", err)
	}

	doc = mustDoc(t)(eng.DeleteTask(doc, "a"))
	if deps := doc.Goals[1].Tasks[0].DependsOn; len(deps) != 0 {
		t.Fatalf("dangling dependency left: %v", deps)
	}
}

func TestDeleteGoalStripsDependencies(t *testing.T) {
	eng := newEngine()
	doc := mustDoc(t)(eng.AddGoal(baseDoc(), domain.Goal{ID: "goal2", Name: "Build"}))
	doc = mustDoc(t)(eng.AddTask(doc, "goal1", domain.Task{ID: "a", Description: "a", Assignee: human()}))
	doc = mustDoc(t)(eng.AddTask(doc, "goal2", domain.Task{ID: "b", Description: "b", Assignee: human(), DependsOn: []string{"a"}}))
	doc = mustDoc(t)(eng.DeleteGoal(doc, "goal1"))
	if len(doc.Goals) != 1 || len(doc.Goals[0].Tasks[0].DependsOn) != 0 || doc.Goals[0].Order != 1 {
		t.Fatalf("unexpected document %+v", doc.Goals)
	}
}

func TestUpdateKeepsID(t *testing.T) {
	eng := newEngine()
	doc := mustDoc(t)(eng.AddTask(baseDoc(), "goal1", domain.Task{ID: "t1", Description: "a", Assignee: human()}))
	doc = mustDoc(t)(eng.UpdateTask(doc, "t1", map[string]any{"id": "other", "description": "b", "priority": "high"}))
	task := doc.Goals[0].Tasks[0]
	if task.ID != "t1" || task.Description != "b" || task.Priority != "high" {
		t.Fatalf("unexpected task %+v", task)
	}
}

func TestUpdateGoalRejectsManagedFields(t *testing.T) {
	eng := newEngine()
	for _, key := range []string{"order", "tasks"} {
		_, err := eng.UpdateGoal(baseDoc(), "goal1", map[string]any{key: 3})
		var inv *engine.InvariantError
		if !errors.As(err, &inv) {
			t.Fatalf("%s: expected InvariantError, got %v", key, err)
		}
	}
	doc := mustDoc(t)(eng.UpdateGoal(baseDoc(), "goal1", map[string]any{"name": "Replan"}))
	if doc.Goals[0].Name != "Replan" || doc.Goals[0].Order != 1 {
		t.Fatalf("unexpected goal %+v", doc.Goals[0])
	}
}

func TestUpdateTypeMismatch(t *testing.T) {
	eng := newEngine()
	doc := mustDoc(t)(eng.AddTask(baseDoc(), "goal1", domain.Task{ID: "t1", Description: "a", Assignee: human()}))
	_, err := eng.UpdateTask(doc, "t1", map[string]any{"timeout_minutes": "soon"})
	var verr *schema.ValidationError
	if !errors.As(err, &verr) || verr.Issues[0].Code != schema.CodeInvalidType {
		t.Fatalf("expected INVALID_TYPE, got %v", err)
	}
}

func TestDuplicateSuppliedID(t *testing.T) {
	eng := newEngine()
	_, err := eng.AddGoal(baseDoc(), domain.Goal{ID: "goal1", Name: "Again"})
	var inv *engine.InvariantError
	if !errors.As(err, &inv) {
		t.Fatalf("expected InvariantError, got %v", err)
	}
}

func TestMoveElement(t *testing.T) {
	eng := newEngine()
	doc := mustDoc(t)(eng.AddGoal(baseDoc(), domain.Goal{ID: "goal2", Name: "Build"}))
	doc = mustDoc(t)(eng.AddForm(doc, "goal1", domain.Form{ID: "f1", Name: "Intake", Type: domain.FormConversational, Prompts: []string{"why?"}}))
	doc = mustDoc(t)(eng.AddForm(doc, "goal2", domain.Form{ID: "f2", Name: "Review", Type: domain.FormConversational, Prompts: []string{"ok?"}}))

	out := mustDoc(t)(eng.MoveElement(doc, domain.KindForm, "f1", "goal1", "goal2"))
	if len(out.Goals[0].Forms) != 0 || len(out.Goals[1].Forms) != 2 || out.Goals[1].Forms[1].ID != "f1" {
		t.Fatalf("unexpected forms %+v", out.Goals)
	}

	_, err := eng.MoveElement(doc, domain.KindForm, "f1", "goal1", "goal1")
	var inv *engine.InvariantError
	if !errors.As(err, &inv) {
		t.Fatalf("expected InvariantError, got %v", err)
	}

	_, err = eng.MoveElement(doc, domain.KindForm, "f2", "goal1", "goal2")
	var nf *engine.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestMetadataAndSettings(t *testing.T) {
	eng := newEngine()
	doc := mustDoc(t)(eng.UpdateMetadata(baseDoc(), map[string]any{"tags": []any{"q1"}, "author": "ana"}))
	if doc.Metadata.Author != "ana" || len(doc.Metadata.Tags) != 1 {
		t.Fatalf("unexpected metadata %+v", doc.Metadata)
	}
	doc = mustDoc(t)(eng.UpdateGlobalSettings(doc, map[string]any{"timezone": "UTC", "max_parallel_tasks": 3}))
	if doc.GlobalSettings == nil || *doc.GlobalSettings.MaxParallelTasks != 3 {
		t.Fatalf("unexpected settings %+v", doc.GlobalSettings)
	}
}

func TestNewDocument(t *testing.T) {
	eng := newEngine()
	doc, err := eng.NewDocument("Launch", "Ship it", "ana")
	if err != nil {
		t.Fatalf("new document: %v", err)
	}
	if doc.Version != 1 || doc.Goals == nil || doc.Metadata.CreatedAt == "" {
		t.Fatalf("unexpected document %+v", doc)
	}
	if _, err := eng.NewDocument("", "Ship it", "ana"); err == nil {
		t.Fatalf("expected error for empty name")
	}
}

func TestCheckInvariants(t *testing.T) {
	task := func(id string, deps ...string) domain.Task {
		return domain.Task{ID: id, Description: id, Assignee: human(), DependsOn: deps}
	}
	goal := func(id string, order int, ts ...domain.Task) domain.Goal {
		return domain.Goal{ID: id, Name: id, Order: order, Tasks: ts}
	}
	cases := []struct {
		name  string
		goals []domain.Goal
		path  string
	}{
		{name: "valid", goals: []domain.Goal{goal("g1", 2, task("t1")), goal("g2", 1, task("t2", "t1"))}},
		{name: "duplicate goal id", goals: []domain.Goal{goal("g1", 1), goal("g1", 2)}, path: "goals[1].id"},
		{name: "repeated order", goals: []domain.Goal{goal("g1", 7), goal("g2", 7)}, path: "goals[0].order"},
		{name: "order gap", goals: []domain.Goal{goal("g1", 1), goal("g2", 3)}, path: "goals[1].order"},
		{name: "duplicate task id", goals: []domain.Goal{goal("g1", 1, task("t1")), goal("g2", 2, task("t1"))}, path: "goals[1].tasks[0].id"},
		{name: "dangling dependency", goals: []domain.Goal{goal("g1", 1, task("t1", "ghost"))}, path: "goals[0].tasks[0].depends_on"},
		{name: "self dependency", goals: []domain.Goal{goal("g1", 1, task("t1", "t1"))}, path: "goals[0].tasks[0].depends_on"},
		{name: "cycle", goals: []domain.Goal{goal("g1", 1, task("t1", "t2"), task("t2", "t1"))}, path: "goals"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc := baseDoc()
			doc.Goals = tc.goals
			err := engine.CheckInvariants(doc)
			if tc.path == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var verr *schema.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Issues[0].Path != tc.path || verr.Issues[0].Code != schema.CodeInvalidValue {
				t.Fatalf("unexpected first issue %+v", verr.Issues[0])
			}
		})
	}
}

func TestOperationsKeepInvariants(t *testing.T) {
	eng := newEngine()
	doc := mustDoc(t)(eng.AddGoal(baseDoc(), domain.Goal{Name: "Build"}))
	doc = mustDoc(t)(eng.AddTask(doc, "goal1", domain.Task{ID: "t1", Description: "a", Assignee: human()}))
	doc = mustDoc(t)(eng.AddTask(doc, doc.Goals[1].ID, domain.Task{Description: "b", Assignee: human(), DependsOn: []string{"t1"}}))
	doc = mustDoc(t)(eng.DuplicateGoal(doc, "goal1", ""))
	doc = mustDoc(t)(eng.DeleteGoal(doc, "goal1"))
	if err := engine.CheckInvariants(doc); err != nil {
		t.Fatalf("operations produced a broken document: %v", err)
	}
}
