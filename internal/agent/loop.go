// Package agent turns a natural-language request into validated document
// mutations. A run sanitizes the request, asks the model for tool calls,
// applies them to a working copy and retries with feedback when they fail.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"goalflow/internal/domain"
	"goalflow/internal/engine"
	"goalflow/internal/logging"
	"goalflow/internal/schema"
)

// Model is the external language model. It is called once per attempt.
type Model interface {
	Invoke(ctx context.Context, system, user string) (string, error)
}

type Config struct {
	MaxRetries           int
	MinRequestLength     int
	MaxRequestLength     int
	ContextRequestLength int
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:           2,
		MinRequestLength:     5,
		MaxRequestLength:     1000,
		ContextRequestLength: 500,
	}
}

type State string

const (
	StateIdle       State = "idle"
	StateSanitizing State = "sanitizing"
	StateInvoking   State = "invoking"
	StateExecuting  State = "executing"
	StateRetrying   State = "retrying"
	StateSuccess    State = "success"
	StateFailed     State = "failed"
)

// Loop is immutable after New and safe for concurrent runs.
type Loop struct {
	model  Model
	engine engine.Engine
	cfg    Config
	log    *slog.Logger
	now    func() time.Time
	system string
}

type Option func(*Loop)

func WithConfig(cfg Config) Option {
	return func(l *Loop) {
		def := DefaultConfig()
		if cfg.MaxRetries < 0 {
			cfg.MaxRetries = 0
		}
		if cfg.MinRequestLength <= 0 {
			cfg.MinRequestLength = def.MinRequestLength
		}
		if cfg.MaxRequestLength <= 0 {
			cfg.MaxRequestLength = def.MaxRequestLength
		}
		if cfg.ContextRequestLength <= 0 {
			cfg.ContextRequestLength = def.ContextRequestLength
		}
		l.cfg = cfg
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(l *Loop) {
		if log != nil {
			l.log = log
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Loop) {
		if now != nil {
			l.now = now
		}
	}
}

func New(model Model, eng engine.Engine, opts ...Option) *Loop {
	l := &Loop{
		model:  model,
		engine: eng,
		cfg:    DefaultConfig(),
		log:    logging.Nop(),
		now:    time.Now,
		system: systemPrompt(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Config returns the effective configuration.
func (l *Loop) Config() Config { return l.cfg }

// Request is one edit. Audit is optional; a fresh log is used when nil.
type Request struct {
	Document *domain.Document
	Text     string
	Audit    *AuditLog
}

// Call is a proposed tool call annotated with its outcome.
type Call struct {
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params,omitempty"`
	Status string         `json:"status"`
	Error  string         `json:"error,omitempty"`
}

type Result struct {
	RunID     string
	Success   bool
	Document  *domain.Document
	Reasoning string
	ToolCalls []Call
	Attempts  int
	// Message is safe to show to end users. Err holds the internal detail.
	Message          string
	Err              *Error
	ValidationIssues []schema.Issue
	Audit            []AuditEntry
	Trace            []State
}

// run carries the mutable state of one Run.
type run struct {
	req       Request
	id        string
	audit     *AuditLog
	entries   []AuditEntry
	state     State
	trace     []State
	request   string
	summary   string
	attempt   int
	feedback  *Feedback
	lastErr   *Error
	calls     []engine.ToolCall
	reasoning string
	annotated []Call
	document  *domain.Document
}

func (r *run) to(s State) {
	r.state = s
	r.trace = append(r.trace, s)
}

// record appends to the caller's log and keeps this run's own copy, since
// the log may be shared across runs.
func (r *run) record(e AuditEntry) {
	r.audit.Append(e)
	r.entries = append(r.entries, e)
}

// Run drives one request through the state machine until success or failure.
func (l *Loop) Run(ctx context.Context, req Request) *Result {
	r := &run{req: req, id: uuid.NewString(), audit: req.Audit}
	if r.audit == nil {
		r.audit = NewAuditLog()
	}
	log := l.log.With("run_id", r.id)
	if rid := logging.RequestID(ctx); rid != "" {
		log = log.With("request_id", rid)
	}
	r.to(StateIdle)
	r.to(StateSanitizing)

	for r.state != StateSuccess && r.state != StateFailed {
		switch r.state {
		case StateSanitizing:
			l.sanitize(r)
		case StateInvoking:
			l.invoke(ctx, r, log)
		case StateExecuting:
			l.execute(r, log)
		case StateRetrying:
			l.retry(ctx, r, log)
		default:
			r.lastErr = &Error{Kind: KindInvariantViolated, Err: fmt.Errorf("unexpected state %q", r.state)}
			r.to(StateFailed)
		}
	}
	return l.finish(r, log)
}

func (l *Loop) sanitize(r *run) {
	if r.req.Document == nil {
		r.lastErr = &Error{Kind: KindRequestRejected, Err: &RejectedError{Reason: "no document to edit"}}
		r.to(StateFailed)
		return
	}
	if err := checkRequest(r.req.Text, l.cfg); err != nil {
		r.lastErr = &Error{Kind: KindRequestRejected, Err: err}
		r.to(StateFailed)
		return
	}
	r.request = redact(r.req.Text, l.cfg.ContextRequestLength)
	r.summary = summarize(r.req.Document)
	r.to(StateInvoking)
}

func (l *Loop) invoke(ctx context.Context, r *run, log *slog.Logger) {
	r.attempt++
	r.calls, r.reasoning, r.annotated = nil, "", nil
	log.Info("agent.invoke", "attempt", r.attempt, "retry", r.feedback != nil)

	raw, err := l.model.Invoke(ctx, l.system, userPrompt(r.summary, r.request, r.feedback))
	if err != nil {
		r.lastErr = &Error{Kind: KindModelUnavailable, Attempt: r.attempt, Err: err}
		r.to(StateRetrying)
		return
	}
	calls, reasoning, err := parseResponse(raw)
	if err != nil {
		r.lastErr = &Error{Kind: KindMalformedModelResponse, Attempt: r.attempt, Err: err}
		r.to(StateRetrying)
		return
	}
	if len(calls) == 0 {
		r.lastErr = &Error{Kind: KindNoOperations, Attempt: r.attempt, Err: ErrNoOperations}
		r.reasoning = reasoning
		r.to(StateFailed)
		return
	}
	r.calls, r.reasoning = calls, reasoning
	r.to(StateExecuting)
}

// execute applies the calls to a working copy; the copy is kept only if
// every call succeeds.
func (l *Loop) execute(r *run, log *slog.Logger) {
	working := r.req.Document.Clone()
	r.annotated = make([]Call, 0, len(r.calls))
	for i, call := range r.calls {
		entry := AuditEntry{
			RunID:     r.id,
			Attempt:   r.attempt,
			Index:     i,
			Tool:      call.Tool,
			Params:    call.Params,
			Timestamp: l.now().UTC(),
		}
		next, err := l.engine.Apply(working, call)
		if err != nil {
			entry.Status, entry.Error = StatusError, err.Error()
			r.record(entry)
			r.annotated = append(r.annotated, Call{Tool: call.Tool, Params: call.Params, Status: StatusError, Error: err.Error()})
			r.lastErr = &Error{Kind: classify(err), Attempt: r.attempt, Tool: call.Tool, Err: err}
			log.Warn("agent.call_failed", "attempt", r.attempt, "index", i, "tool", call.Tool, "kind", r.lastErr.Kind, "error", err)
			r.to(StateRetrying)
			return
		}
		entry.Status = StatusSuccess
		r.record(entry)
		r.annotated = append(r.annotated, Call{Tool: call.Tool, Params: call.Params, Status: StatusSuccess})
		working = next
	}
	r.document = working
	r.to(StateSuccess)
}

func (l *Loop) retry(ctx context.Context, r *run, log *slog.Logger) {
	if r.attempt >= 1+l.cfg.MaxRetries {
		log.Warn("agent.exhausted", "attempts", r.attempt, "kind", r.lastErr.Kind)
		r.to(StateFailed)
		return
	}
	if err := ctx.Err(); err != nil {
		r.lastErr = &Error{Kind: KindModelUnavailable, Attempt: r.attempt, Err: errors.Join(err, r.lastErr)}
		r.to(StateFailed)
		return
	}
	fb := newFeedback(r.lastErr)
	r.feedback = &fb
	log.Info("agent.retry", "attempt", r.attempt, "kind", fb.Kind, "tool", fb.Tool)
	r.to(StateInvoking)
}

func (l *Loop) finish(r *run, log *slog.Logger) *Result {
	res := &Result{
		RunID:     r.id,
		Reasoning: r.reasoning,
		ToolCalls: r.annotated,
		Attempts:  r.attempt,
		Audit:     r.entries,
		Trace:     r.trace,
	}
	if r.state == StateSuccess {
		res.Success = true
		res.Document = r.document
		res.Message = fmt.Sprintf("Applied %d change(s).", len(r.annotated))
		log.Info("agent.success", "attempts", r.attempt, "calls", len(r.annotated))
		return res
	}
	res.Err = r.lastErr
	res.Message = userMessage(r.lastErr.Kind, r.attempt, r.lastErr.Err)
	res.ValidationIssues = issuesOf(r.lastErr.Err)
	log.Info("agent.failed", "attempts", r.attempt, "kind", r.lastErr.Kind)
	return res
}
