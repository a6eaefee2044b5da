// Package app exposes the document operations shared by the CLI and the
// HTTP server: versioned storage, direct tool calls, agent edits and audit.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"goalflow/internal/agent"
	"goalflow/internal/diff"
	"goalflow/internal/domain"
	"goalflow/internal/engine"
	"goalflow/internal/events"
	"goalflow/internal/logging"
	"goalflow/internal/repo"
	"goalflow/internal/schema"
)

var ErrAgentUnavailable = errors.New("no language model configured")

// AuditLister reads recorded audit events back.
type AuditLister interface {
	List(ctx context.Context, documentID string, limit int) ([]events.Event, error)
}

type Service struct {
	Store  repo.Store
	Engine engine.Engine
	Agent  *agent.Loop
	Sink   events.Sink
	Events AuditLister
	Log    *slog.Logger
	Now    func() time.Time

	closers []func()
}

func (s *Service) logger() *slog.Logger {
	if s.Log == nil {
		return logging.Nop()
	}
	return s.Log
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// Close releases the store, cache and sink connections opened for s.
func (s *Service) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

func actorOrDefault(actorID string) string {
	if actorID == "" {
		return "local-user"
	}
	return actorID
}

func (s *Service) CreateDocument(ctx context.Context, name, objective, actorID string) (repo.Version, error) {
	actorID = actorOrDefault(actorID)
	doc, err := s.Engine.NewDocument(name, objective, actorID)
	if err != nil {
		return repo.Version{}, err
	}
	v, err := s.Store.CreateDocument(ctx, doc, actorID)
	if err != nil {
		return repo.Version{}, err
	}
	s.logger().InfoContext(ctx, "document.created", "document_id", doc.ID, "actor_id", actorID, "request_id", logging.RequestID(ctx))
	return v, nil
}

// ImportDocument stores an externally authored document. The raw JSON is
// validated before decoding so type errors carry precise paths.
func (s *Service) ImportDocument(ctx context.Context, raw []byte, actorID string) (repo.Version, error) {
	actorID = actorOrDefault(actorID)
	if err := schema.Strict(domain.KindDocument, schema.ValidateJSON(domain.KindDocument, raw)); err != nil {
		return repo.Version{}, err
	}
	doc, err := DecodeDocument(raw)
	if err != nil {
		return repo.Version{}, err
	}
	if err := schema.ValidateDocumentStrict(doc); err != nil {
		return repo.Version{}, err
	}
	if err := engine.CheckInvariants(doc); err != nil {
		return repo.Version{}, err
	}
	v, err := s.Store.CreateDocument(ctx, doc, actorID)
	if err != nil {
		return repo.Version{}, err
	}
	s.logger().InfoContext(ctx, "document.imported", "document_id", doc.ID, "actor_id", actorID, "goals", len(doc.Goals))
	return v, nil
}

// Document returns a stored version; version 0 means the latest.
func (s *Service) Document(ctx context.Context, documentID string, version int) (repo.Version, error) {
	if version <= 0 {
		return s.Store.GetLatest(ctx, documentID)
	}
	return s.Store.GetVersion(ctx, documentID, version)
}

func (s *Service) ListDocuments(ctx context.Context) ([]domain.DocumentInfo, error) {
	return s.Store.ListDocuments(ctx)
}

func (s *Service) History(ctx context.Context, documentID string) ([]domain.VersionInfo, error) {
	return s.Store.ListVersions(ctx, documentID)
}

// base loads the version an operation starts from. A zero baseVersion
// means the latest version.
func (s *Service) base(ctx context.Context, documentID string, baseVersion int) (repo.Version, error) {
	latest, err := s.Store.GetLatest(ctx, documentID)
	if err != nil {
		return repo.Version{}, err
	}
	if baseVersion > 0 && baseVersion != latest.Version {
		return repo.Version{}, &repo.ConflictError{DocumentID: documentID, Base: baseVersion, Latest: latest.Version}
	}
	return latest, nil
}

// ApplyTool runs one tool call against a version and saves the result as
// the next version. The call is audited whether or not it succeeds.
func (s *Service) ApplyTool(ctx context.Context, documentID string, baseVersion int, call engine.ToolCall, actorID string) (repo.Version, error) {
	actorID = actorOrDefault(actorID)
	base, err := s.base(ctx, documentID, baseVersion)
	if err != nil {
		return repo.Version{}, err
	}
	entry := agent.AuditEntry{Tool: call.Tool, Params: call.Params, Timestamp: s.now().UTC()}
	next, applyErr := s.Engine.Apply(base.Document, call)
	if applyErr != nil {
		entry.Status, entry.Error = agent.StatusError, applyErr.Error()
	} else {
		entry.Status = agent.StatusSuccess
	}
	s.record(ctx, documentID, actorID, []agent.AuditEntry{entry})
	if applyErr != nil {
		s.logger().WarnContext(ctx, "tool.failed", "document_id", documentID, "tool", call.Tool, "error", applyErr)
		return repo.Version{}, applyErr
	}
	v, err := s.Store.SaveVersion(ctx, next, base.Version, actorID, call.Tool)
	if err != nil {
		return repo.Version{}, err
	}
	s.logger().InfoContext(ctx, "tool.applied", "document_id", documentID, "tool", call.Tool, "version", v.Version)
	return v, nil
}

type EditResult struct {
	Result  *agent.Result
	Version *repo.Version
}

// Edit runs the agent loop on the requested version. A successful run is
// saved as the next version; audit entries are recorded either way.
func (s *Service) Edit(ctx context.Context, documentID string, baseVersion int, request, actorID string) (*EditResult, error) {
	if s.Agent == nil {
		return nil, ErrAgentUnavailable
	}
	actorID = actorOrDefault(actorID)
	base, err := s.base(ctx, documentID, baseVersion)
	if err != nil {
		return nil, err
	}
	res := s.Agent.Run(ctx, agent.Request{Document: base.Document, Text: request})
	s.record(ctx, documentID, actorID, res.Audit)
	out := &EditResult{Result: res}
	if !res.Success {
		s.logger().InfoContext(ctx, "edit.failed", "document_id", documentID, "run_id", res.RunID, "kind", res.Err.Kind, "attempts", res.Attempts)
		return out, nil
	}
	v, err := s.Store.SaveVersion(ctx, res.Document, base.Version, actorID, editSummary(res))
	if err != nil {
		return out, err
	}
	out.Version = &v
	s.logger().InfoContext(ctx, "edit.saved", "document_id", documentID, "run_id", res.RunID, "version", v.Version)
	return out, nil
}

func editSummary(res *agent.Result) string {
	tools := make([]string, len(res.ToolCalls))
	for i, c := range res.ToolCalls {
		tools[i] = c.Tool
	}
	return "agent: " + strings.Join(tools, ", ")
}

func (s *Service) record(ctx context.Context, documentID, actorID string, entries []agent.AuditEntry) {
	if s.Sink == nil || len(entries) == 0 {
		return
	}
	// Audit failures are logged; they never undo an edit.
	if err := s.Sink.Record(ctx, documentID, actorID, entries); err != nil {
		s.logger().ErrorContext(ctx, "audit.record_failed", "document_id", documentID, "entries", len(entries), "error", err)
	}
}

// Diff compares two versions; to=0 means the latest.
func (s *Service) Diff(ctx context.Context, documentID string, from, to int) (diff.Result, error) {
	after, err := s.Document(ctx, documentID, to)
	if err != nil {
		return diff.Result{}, err
	}
	if from <= 0 {
		from = after.Version - 1
	}
	if from < 1 {
		from = 1
	}
	before, err := s.Store.GetVersion(ctx, documentID, from)
	if err != nil {
		return diff.Result{}, err
	}
	return diff.Documents(before.Document, after.Document, 3, diff.DefaultMaxLines)
}

func (s *Service) Audit(ctx context.Context, documentID string, limit int) ([]events.Event, error) {
	if s.Events == nil {
		return []events.Event{}, nil
	}
	if _, err := s.Store.GetLatest(ctx, documentID); err != nil {
		return nil, err
	}
	return s.Events.List(ctx, documentID, limit)
}

// Validate checks raw document JSON without storing it. Cross-entity rules
// (unique ids, goal order, dependencies) are checked once the shape is valid.
func Validate(raw []byte) schema.Result {
	res := schema.ValidateJSON(domain.KindDocument, raw)
	if !res.Valid {
		return res
	}
	doc, err := DecodeDocument(raw)
	if err != nil {
		var verr *schema.ValidationError
		if errors.As(err, &verr) {
			res.Errors = append(res.Errors, verr.Issues...)
		}
		res.Valid = false
		return res
	}
	if issues := engine.Violations(doc); len(issues) > 0 {
		res.Errors = append(res.Errors, issues...)
		res.Valid = false
	}
	return res
}

func wrapf(err error, format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, err)...)
}
