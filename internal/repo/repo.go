package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"goalflow/internal/domain"
)

// Repo is the SQLite Store.
type Repo struct {
	DB  *sql.DB
	Now func() time.Time
}

var _ Store = Repo{}

func (r Repo) now() string {
	if r.Now == nil {
		return time.Now().UTC().Format(time.RFC3339)
	}
	return r.Now().UTC().Format(time.RFC3339)
}

func (r Repo) CreateDocument(ctx context.Context, doc *domain.Document, actorID string) (Version, error) {
	body, err := encodeDocument(doc)
	if err != nil {
		return Version{}, err
	}
	now := r.now()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return Version{}, err
	}
	defer tx.Rollback()
	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM documents WHERE id=?`, doc.ID).Scan(&exists); err != nil {
		return Version{}, err
	}
	if exists > 0 {
		return Version{}, fmt.Errorf("document %s: %w", doc.ID, ErrExists)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO documents(id,name,created_by,created_at) VALUES (?,?,?,?)`,
		doc.ID, doc.Name, actorID, now); err != nil {
		return Version{}, fmt.Errorf("insert document: %w", err)
	}
	info := domain.VersionInfo{DocumentID: doc.ID, Version: 1, ActorID: actorID, Summary: "created", CreatedAt: now}
	if err := insertVersion(ctx, tx, info, body); err != nil {
		return Version{}, err
	}
	if err := tx.Commit(); err != nil {
		return Version{}, err
	}
	return Version{VersionInfo: info, Document: doc.Clone()}, nil
}

func (r Repo) SaveVersion(ctx context.Context, doc *domain.Document, baseVersion int, actorID, summary string) (Version, error) {
	body, err := encodeDocument(doc)
	if err != nil {
		return Version{}, err
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return Version{}, err
	}
	defer tx.Rollback()
	var latest sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(version) FROM document_versions WHERE document_id=?`, doc.ID).Scan(&latest); err != nil {
		return Version{}, err
	}
	if !latest.Valid {
		return Version{}, fmt.Errorf("document %s: %w", doc.ID, ErrNotFound)
	}
	if int(latest.Int64) != baseVersion {
		return Version{}, &ConflictError{DocumentID: doc.ID, Base: baseVersion, Latest: int(latest.Int64)}
	}
	info := domain.VersionInfo{DocumentID: doc.ID, Version: baseVersion + 1, ActorID: actorID, Summary: summary, CreatedAt: r.now()}
	if err := insertVersion(ctx, tx, info, body); err != nil {
		return Version{}, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE documents SET name=? WHERE id=?`, doc.Name, doc.ID); err != nil {
		return Version{}, fmt.Errorf("update document name: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Version{}, err
	}
	return Version{VersionInfo: info, Document: doc.Clone()}, nil
}

func insertVersion(ctx context.Context, tx *sql.Tx, info domain.VersionInfo, body []byte) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO document_versions(document_id,version,body_json,actor_id,summary,created_at) VALUES (?,?,?,?,?,?)`,
		info.DocumentID, info.Version, string(body), info.ActorID, nullable(info.Summary), info.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert version %d: %w", info.Version, err)
	}
	return nil
}

const versionColumns = `document_id,version,body_json,actor_id,COALESCE(summary,'') AS summary,created_at`

func scanVersion(row *sql.Row) (Version, error) {
	var (
		v    Version
		body string
	)
	err := row.Scan(&v.DocumentID, &v.Version, &body, &v.ActorID, &v.Summary, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	if err != nil {
		return v, err
	}
	v.Document, err = decodeDocument([]byte(body))
	return v, err
}

func (r Repo) GetVersion(ctx context.Context, documentID string, version int) (Version, error) {
	v, err := scanVersion(r.DB.QueryRowContext(ctx, `SELECT `+versionColumns+` FROM document_versions WHERE document_id=? AND version=?`, documentID, version))
	if err == ErrNotFound {
		return v, fmt.Errorf("document %s version %d: %w", documentID, version, ErrNotFound)
	}
	return v, err
}

func (r Repo) GetLatest(ctx context.Context, documentID string) (Version, error) {
	v, err := scanVersion(r.DB.QueryRowContext(ctx, `SELECT `+versionColumns+` FROM document_versions WHERE document_id=? ORDER BY version DESC LIMIT 1`, documentID))
	if err == ErrNotFound {
		return v, fmt.Errorf("document %s: %w", documentID, ErrNotFound)
	}
	return v, err
}

func (r Repo) ListVersions(ctx context.Context, documentID string) ([]domain.VersionInfo, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT document_id,version,actor_id,COALESCE(summary,''),created_at FROM document_versions WHERE document_id=? ORDER BY version`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.VersionInfo
	for rows.Next() {
		var v domain.VersionInfo
		if err := rows.Scan(&v.DocumentID, &v.Version, &v.ActorID, &v.Summary, &v.CreatedAt); err != nil {
			return nil, err
		}
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

func (r Repo) ListDocuments(ctx context.Context) ([]domain.DocumentInfo, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT d.id,d.name,d.created_by,d.created_at,MAX(v.version),MAX(v.created_at)
FROM documents d JOIN document_versions v ON v.document_id=d.id
GROUP BY d.id,d.name,d.created_by,d.created_at
ORDER BY d.created_at DESC, d.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.DocumentInfo{}
	for rows.Next() {
		var d domain.DocumentInfo
		if err := rows.Scan(&d.ID, &d.Name, &d.CreatedBy, &d.CreatedAt, &d.LatestVersion, &d.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
