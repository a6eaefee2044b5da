package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"goalflow/internal/domain"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrExists          = errors.New("already exists")
	ErrVersionConflict = errors.New("version conflict")
)

// Store keeps the immutable version history of every document.
// Versions start at 1 and grow by one per save.
type Store interface {
	CreateDocument(ctx context.Context, doc *domain.Document, actorID string) (Version, error)
	// SaveVersion stores doc as baseVersion+1. It fails with
	// ErrVersionConflict when baseVersion is not the latest version.
	SaveVersion(ctx context.Context, doc *domain.Document, baseVersion int, actorID, summary string) (Version, error)
	GetVersion(ctx context.Context, documentID string, version int) (Version, error)
	GetLatest(ctx context.Context, documentID string) (Version, error)
	ListVersions(ctx context.Context, documentID string) ([]domain.VersionInfo, error)
	ListDocuments(ctx context.Context) ([]domain.DocumentInfo, error)
}

type Version struct {
	domain.VersionInfo
	Document *domain.Document `json:"document"`
}

// ConflictError reports the latest version when a save loses the race.
type ConflictError struct {
	DocumentID string
	Base       int
	Latest     int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("document %s: base version %d is stale (latest %d)", e.DocumentID, e.Base, e.Latest)
}

func (e *ConflictError) Unwrap() error { return ErrVersionConflict }

func encodeDocument(doc *domain.Document) ([]byte, error) {
	if doc == nil || doc.ID == "" {
		return nil, fmt.Errorf("document id is required")
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document %s: %w", doc.ID, err)
	}
	return data, nil
}

func decodeDocument(data []byte) (*domain.Document, error) {
	var doc domain.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return &doc, nil
}
