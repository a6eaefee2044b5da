package diff_test

import (
	"strings"
	"testing"

	"goalflow/internal/diff"
	"goalflow/internal/domain"
)

func TestTextHunks(t *testing.T) {
	before := "a\nb\nc\nd\ne\nf\ng\nh\n"
	after := "a\nB\nc\nd\ne\nf\ng\nH\n"
	res := diff.Text(before, after, 1, 0)
	if res.Added != 2 || res.Removed != 2 {
		t.Fatalf("added=%d removed=%d", res.Added, res.Removed)
	}
	if len(res.Hunks) != 2 {
		t.Fatalf("expected 2 hunks, got %d", len(res.Hunks))
	}
	first := res.Hunks[0].Lines
	if first[0].Text != "a" || first[0].Type != diff.LineContext {
		t.Fatalf("unexpected first hunk %+v", first)
	}
}

func TestTextLimit(t *testing.T) {
	res := diff.Text(strings.Repeat("x\n", 10), "y\n", 3, 5)
	if !res.Truncated || len(res.Hunks) != 0 {
		t.Fatalf("expected truncated result, got %+v", res)
	}
}

func TestDocuments(t *testing.T) {
	before := &domain.Document{ID: "d", Name: "Old", Version: 1, Objective: "o", Goals: []domain.Goal{}}
	after := &domain.Document{ID: "d", Name: "New", Version: 2, Objective: "o", Goals: []domain.Goal{}}
	res, err := diff.Documents(before, after, 0, 0)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	var added []string
	for _, h := range res.Hunks {
		for _, l := range h.Lines {
			if l.Type == diff.LineAdded {
				added = append(added, strings.TrimSpace(l.Text))
			}
		}
	}
	if strings.Join(added, "|") != `"name": "New",|"version": 2,` {
		t.Fatalf("unexpected added lines %q", added)
	}
}
