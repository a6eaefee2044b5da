package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"goalflow/internal/domain"
)

// PGRepo is the Postgres Store used when several servers share history.
type PGRepo struct {
	Pool *pgxpool.Pool
	Now  func() time.Time
}

var _ Store = PGRepo{}

func (r PGRepo) now() time.Time {
	if r.Now == nil {
		return time.Now().UTC()
	}
	return r.Now().UTC()
}

func (r PGRepo) CreateDocument(ctx context.Context, doc *domain.Document, actorID string) (Version, error) {
	body, err := encodeDocument(doc)
	if err != nil {
		return Version{}, err
	}
	now := r.now()
	tx, err := r.Pool.Begin(ctx)
	if err != nil {
		return Version{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	tag, err := tx.Exec(ctx, `INSERT INTO documents(id,name,created_by,created_at) VALUES ($1,$2,$3,$4) ON CONFLICT (id) DO NOTHING`,
		doc.ID, doc.Name, actorID, now)
	if err != nil {
		return Version{}, fmt.Errorf("insert document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Version{}, fmt.Errorf("document %s: %w", doc.ID, ErrExists)
	}
	info := domain.VersionInfo{DocumentID: doc.ID, Version: 1, ActorID: actorID, Summary: "created", CreatedAt: now.Format(time.RFC3339)}
	if err := r.insertVersion(ctx, tx, info, now, body); err != nil {
		return Version{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Version{}, err
	}
	return Version{VersionInfo: info, Document: doc.Clone()}, nil
}

func (r PGRepo) SaveVersion(ctx context.Context, doc *domain.Document, baseVersion int, actorID, summary string) (Version, error) {
	body, err := encodeDocument(doc)
	if err != nil {
		return Version{}, err
	}
	tx, err := r.Pool.Begin(ctx)
	if err != nil {
		return Version{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	// Lock the document row so concurrent saves on the same base serialize.
	var name string
	err = tx.QueryRow(ctx, `SELECT name FROM documents WHERE id=$1 FOR UPDATE`, doc.ID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Version{}, fmt.Errorf("document %s: %w", doc.ID, ErrNotFound)
	}
	if err != nil {
		return Version{}, err
	}
	var latest int
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(version),0) FROM document_versions WHERE document_id=$1`, doc.ID).Scan(&latest); err != nil {
		return Version{}, err
	}
	if latest != baseVersion {
		return Version{}, &ConflictError{DocumentID: doc.ID, Base: baseVersion, Latest: latest}
	}
	now := r.now()
	info := domain.VersionInfo{DocumentID: doc.ID, Version: baseVersion + 1, ActorID: actorID, Summary: summary, CreatedAt: now.Format(time.RFC3339)}
	if err := r.insertVersion(ctx, tx, info, now, body); err != nil {
		return Version{}, err
	}
	if name != doc.Name {
		if _, err := tx.Exec(ctx, `UPDATE documents SET name=$1 WHERE id=$2`, doc.Name, doc.ID); err != nil {
			return Version{}, fmt.Errorf("update document name: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Version{}, err
	}
	return Version{VersionInfo: info, Document: doc.Clone()}, nil
}

func (r PGRepo) insertVersion(ctx context.Context, tx pgx.Tx, info domain.VersionInfo, at time.Time, body []byte) error {
	_, err := tx.Exec(ctx, `INSERT INTO document_versions(document_id,version,body,actor_id,summary,created_at) VALUES ($1,$2,$3::jsonb,$4,$5,$6)`,
		info.DocumentID, info.Version, string(body), info.ActorID, nullable(info.Summary), at)
	if err != nil {
		return fmt.Errorf("insert version %d: %w", info.Version, err)
	}
	return nil
}

const pgVersionColumns = `document_id, version, body::text, actor_id, COALESCE(summary, ''), created_at`

func scanPGVersion(row pgx.Row) (Version, error) {
	var (
		v    Version
		body string
		at   time.Time
	)
	err := row.Scan(&v.DocumentID, &v.Version, &body, &v.ActorID, &v.Summary, &at)
	if errors.Is(err, pgx.ErrNoRows) {
		return v, ErrNotFound
	}
	if err != nil {
		return v, err
	}
	v.CreatedAt = at.UTC().Format(time.RFC3339)
	v.Document, err = decodeDocument([]byte(body))
	return v, err
}

func (r PGRepo) GetVersion(ctx context.Context, documentID string, version int) (Version, error) {
	v, err := scanPGVersion(r.Pool.QueryRow(ctx, `SELECT `+pgVersionColumns+` FROM document_versions WHERE document_id=$1 AND version=$2`, documentID, version))
	if errors.Is(err, ErrNotFound) {
		return v, fmt.Errorf("document %s version %d: %w", documentID, version, ErrNotFound)
	}
	return v, err
}

func (r PGRepo) GetLatest(ctx context.Context, documentID string) (Version, error) {
	v, err := scanPGVersion(r.Pool.QueryRow(ctx, `SELECT `+pgVersionColumns+` FROM document_versions WHERE document_id=$1 ORDER BY version DESC LIMIT 1`, documentID))
	if errors.Is(err, ErrNotFound) {
		return v, fmt.Errorf("document %s: %w", documentID, ErrNotFound)
	}
	return v, err
}

func (r PGRepo) ListVersions(ctx context.Context, documentID string) ([]domain.VersionInfo, error) {
	rows, err := r.Pool.Query(ctx, `SELECT document_id, version, actor_id, COALESCE(summary, ''), created_at FROM document_versions WHERE document_id=$1 ORDER BY version`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list versions %s: %w", documentID, err)
	}
	defer rows.Close()
	var res []domain.VersionInfo
	for rows.Next() {
		var (
			v  domain.VersionInfo
			at time.Time
		)
		if err := rows.Scan(&v.DocumentID, &v.Version, &v.ActorID, &v.Summary, &at); err != nil {
			return nil, err
		}
		v.CreatedAt = at.UTC().Format(time.RFC3339)
		res = append(res, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("document %s: %w", documentID, ErrNotFound)
	}
	return res, nil
}

func (r PGRepo) ListDocuments(ctx context.Context) ([]domain.DocumentInfo, error) {
	rows, err := r.Pool.Query(ctx, `SELECT d.id, d.name, d.created_by, d.created_at, MAX(v.version), MAX(v.created_at)
FROM documents d JOIN document_versions v ON v.document_id = d.id
GROUP BY d.id, d.name, d.created_by, d.created_at
ORDER BY d.created_at DESC, d.id`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	res := []domain.DocumentInfo{}
	for rows.Next() {
		var (
			d                domain.DocumentInfo
			created, updated time.Time
		)
		if err := rows.Scan(&d.ID, &d.Name, &d.CreatedBy, &created, &d.LatestVersion, &updated); err != nil {
			return nil, err
		}
		d.CreatedAt = created.UTC().Format(time.RFC3339)
		d.UpdatedAt = updated.UTC().Format(time.RFC3339)
		res = append(res, d)
	}
	return res, rows.Err()
}
