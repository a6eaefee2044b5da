// Package engine applies validated, atomic mutations to workflow documents.
//
// Every operation works on a deep copy of its input. The copy is returned
// only when the touched entity and the whole document pass strict
// validation; otherwise the input is left as it was and an error explains why.
package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"goalflow/internal/domain"
	"goalflow/internal/schema"
)

type Engine struct {
	Now   func() time.Time
	NewID func(prefix string) string
}

func New() Engine {
	return Engine{Now: time.Now}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// newID returns "{prefix}_{unixMillis}_{random}". The random part comes from
// a UUID; ids are unique but not monotonic.
func (e Engine) newID(kind domain.Kind) string {
	if e.NewID != nil {
		return e.NewID(string(kind))
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("%s_%d_%s", kind, e.now().UnixMilli(), suffix)
}

// NewDocument returns an empty document that passes strict validation.
func (e Engine) NewDocument(name, objective, author string) (*domain.Document, error) {
	ts := e.now().UTC().Format(time.RFC3339)
	doc := &domain.Document{
		ID:        e.newID(domain.KindDocument),
		Name:      name,
		Version:   1,
		Objective: objective,
		Metadata: domain.Metadata{
			CreatedAt:    ts,
			LastModified: ts,
			Author:       author,
		},
		Goals: []domain.Goal{},
	}
	if err := schema.ValidateDocumentStrict(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// prepare clones the input so an operation can never touch the caller's value.
func prepare(doc *domain.Document) (*domain.Document, error) {
	if doc == nil {
		return nil, invariant("", "document is required")
	}
	return doc.Clone(), nil
}

// commit runs the post-mutation document check and stamps last_modified.
func (e Engine) commit(doc *domain.Document) (*domain.Document, error) {
	if err := schema.ValidateDocumentStrict(doc); err != nil {
		return nil, err
	}
	doc.Metadata.LastModified = e.now().UTC().Format(time.RFC3339)
	return doc, nil
}

func (e Engine) findGoal(doc *domain.Document, goalID string) (int, error) {
	for i := range doc.Goals {
		if doc.Goals[i].ID == goalID {
			return i, nil
		}
	}
	return -1, &NotFoundError{Kind: domain.KindGoal, ID: goalID, ValidIDs: goalIDs(doc)}
}

func goalIDs(doc *domain.Document) []string {
	ids := make([]string, len(doc.Goals))
	for i, g := range doc.Goals {
		ids[i] = g.ID
	}
	return ids
}
