// Package events persists the audit trail of tool calls made against documents.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"goalflow/internal/agent"
)

const (
	TypeAgentCall = "agent.call"
	TypeToolApply = "tool.apply"
)

// Sink receives audit entries once a run or a direct tool call finishes.
type Sink interface {
	Record(ctx context.Context, documentID, actorID string, entries []agent.AuditEntry) error
}

// Event is a stored audit entry.
type Event struct {
	ID         int64  `json:"id"`
	Type       string `json:"type"`
	DocumentID string `json:"document_id"`
	ActorID    string `json:"actor_id"`
	agent.AuditEntry
}

func eventType(e agent.AuditEntry) string {
	if e.Attempt == 0 {
		return TypeToolApply
	}
	return TypeAgentCall
}

// Writer stores events in the workspace database.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

func (w Writer) Record(ctx context.Context, documentID, actorID string, entries []agent.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if w.Now == nil {
		w.Now = time.Now
	}
	tx, err := w.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, e := range entries {
		if err := w.Append(ctx, tx, documentID, actorID, e); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, documentID, actorID string, e agent.AuditEntry) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = w.Now()
	}
	params := e.Params
	if params == nil {
		params = map[string]any{}
	}
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,document_id,actor_id,run_id,attempt,idx,tool,status,error,payload_json) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		ts.UTC().Format(time.RFC3339Nano), eventType(e), documentID, actorID, nullable(e.RunID), e.Attempt, e.Index, e.Tool, e.Status, nullable(e.Error), string(data))
	return err
}

// List returns the events of a document in insertion order. A positive
// limit keeps only the most recent ones.
func (w Writer) List(ctx context.Context, documentID string, limit int) ([]Event, error) {
	query := `SELECT id,ts,type,document_id,actor_id,COALESCE(run_id,''),attempt,idx,tool,status,COALESCE(error,''),payload_json FROM events WHERE document_id=? ORDER BY id DESC`
	args := []any{documentID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := w.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []Event{}
	for rows.Next() {
		var (
			ev      Event
			ts      string
			payload string
		)
		if err := rows.Scan(&ev.ID, &ts, &ev.Type, &ev.DocumentID, &ev.ActorID, &ev.RunID, &ev.Attempt, &ev.Index, &ev.Tool, &ev.Status, &ev.Error, &payload); err != nil {
			return nil, err
		}
		ev.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		if payload != "" && payload != "{}" {
			if err := json.Unmarshal([]byte(payload), &ev.Params); err != nil {
				return nil, fmt.Errorf("decode event %d payload: %w", ev.ID, err)
			}
		}
		res = append(res, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(res)-1; i < j; i, j = i+1, j-1 {
		res[i], res[j] = res[j], res[i]
	}
	return res, nil
}

// Multi fans entries out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Record(ctx context.Context, documentID, actorID string, entries []agent.AuditEntry) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, documentID, actorID, entries); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
