package server

import (
	"goalflow/internal/agent"
	"goalflow/internal/app"
	"goalflow/internal/diff"
	"goalflow/internal/domain"
	"goalflow/internal/repo"
	"goalflow/internal/schema"
)

// Request payloads

// CreateDocumentRequest creates an empty document from name and objective,
// or imports a complete document when Document is set.
type CreateDocumentRequest struct {
	Name      string         `json:"name,omitempty" example:"Quarterly close"`
	Objective string         `json:"objective,omitempty" example:"Close the books by day 5"`
	Document  map[string]any `json:"document,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type ApplyOperationRequest struct {
	Tool        string         `json:"tool" example:"addTask"`
	Params      map[string]any `json:"params,omitempty" jsonschema:"type=object,additionalProperties=true"`
	BaseVersion int            `json:"base_version,omitempty" doc:"Version the call applies to; 0 means latest"`
}

type EditRequest struct {
	Request     string `json:"request" example:"Add a review task to the planning goal"`
	BaseVersion int    `json:"base_version,omitempty"`
}

// Response payloads

type VersionResponse struct {
	DocumentID string           `json:"document_id"`
	Version    int              `json:"version"`
	ActorID    string           `json:"actor_id"`
	Summary    string           `json:"summary,omitempty"`
	CreatedAt  string           `json:"created_at"`
	Document   *domain.Document `json:"document"`
}

func versionResponse(v repo.Version) VersionResponse {
	return VersionResponse{
		DocumentID: v.DocumentID,
		Version:    v.Version,
		ActorID:    v.ActorID,
		Summary:    v.Summary,
		CreatedAt:  v.CreatedAt,
		Document:   v.Document,
	}
}

type EditResponse struct {
	Success          bool             `json:"success"`
	RunID            string           `json:"run_id"`
	Message          string           `json:"message"`
	Reasoning        string           `json:"reasoning,omitempty"`
	Attempts         int              `json:"attempts"`
	ToolCalls        []agent.Call     `json:"tool_calls"`
	ErrorKind        string           `json:"error_kind,omitempty"`
	ValidationIssues []schema.Issue   `json:"validation_issues,omitempty"`
	Version          *VersionResponse `json:"version,omitempty"`
}

func editResponse(out *app.EditResult) EditResponse {
	res := out.Result
	resp := EditResponse{
		Success:          res.Success,
		RunID:            res.RunID,
		Message:          res.Message,
		Reasoning:        res.Reasoning,
		Attempts:         res.Attempts,
		ToolCalls:        res.ToolCalls,
		ValidationIssues: res.ValidationIssues,
	}
	if resp.ToolCalls == nil {
		resp.ToolCalls = []agent.Call{}
	}
	if res.Err != nil {
		resp.ErrorKind = string(res.Err.Kind)
	}
	if out.Version != nil {
		v := versionResponse(*out.Version)
		resp.Version = &v
	}
	return resp
}

// DiffResponse is the wire form of a version diff. It has its own name so
// the OpenAPI schema does not clash with the validation result.
type DiffResponse struct {
	Hunks     []diff.Hunk `json:"hunks"`
	Added     int         `json:"added"`
	Removed   int         `json:"removed"`
	Truncated bool        `json:"truncated"`
}

func diffResponse(d diff.Result) DiffResponse {
	resp := DiffResponse{
		Hunks:     d.Hunks,
		Added:     d.Added,
		Removed:   d.Removed,
		Truncated: d.Truncated,
	}
	if resp.Hunks == nil {
		resp.Hunks = []diff.Hunk{}
	}
	return resp
}
