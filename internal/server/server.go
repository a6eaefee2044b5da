package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"goalflow/internal/app"
	"goalflow/internal/engine"
	"goalflow/internal/events"
	"goalflow/internal/logging"
	"goalflow/internal/repo"
	"goalflow/internal/schema"
)

// Config for the HTTP API handler.
type Config struct {
	Service  *app.Service
	BasePath string
	Log      *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"version_conflict"`
	Message string         `json:"message" example:"document d1: base version 3 is stale (latest 4)"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"latest\":4}"`
}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the goalflow API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Service == nil {
		return nil, errors.New("server: service is required")
	}
	log := cfg.Log
	if log == nil {
		log = logging.Nop()
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, detailsOf(errs))
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Request shape errors are the caller's fault, not a document rule.
			status = http.StatusBadRequest
		}
		return newAPIError(status, "", msg, detailsOf(errs))
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID, middleware.Recoverer, identify, accessLog(log))
	hcfg := huma.DefaultConfig("goalflow API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	s := cfg.Service
	registerDocs(router, basePath)
	registerHealth(group)
	registerTools(group)
	registerValidate(group)
	registerDocuments(group, s)
	registerOperations(group, s)
	registerAudit(group, s)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func detailsOf(errs []error) map[string]any {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	return map[string]any{"errors": msgs}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var (
		conflict *repo.ConflictError
		notFound *engine.NotFoundError
		verr     *schema.ValidationError
		inv      *engine.InvariantError
		unknown  *engine.UnknownToolError
	)
	switch {
	case errors.As(err, &conflict):
		return newAPIError(http.StatusConflict, "version_conflict", err.Error(), map[string]any{"base": conflict.Base, "latest": conflict.Latest})
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, repo.ErrExists):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	case errors.As(err, &notFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), map[string]any{"kind": string(notFound.Kind), "id": notFound.ID, "valid_ids": notFound.ValidIDs})
	case errors.As(err, &verr):
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), map[string]any{"issues": verr.Issues})
	case errors.As(err, &inv):
		return newAPIError(http.StatusUnprocessableEntity, "invariant_violated", err.Error(), nil)
	case errors.As(err, &unknown):
		return newAPIError(http.StatusBadRequest, "unknown_tool", err.Error(), map[string]any{"tool": unknown.Name})
	case errors.Is(err, app.ErrAgentUnavailable):
		return newAPIError(http.StatusServiceUnavailable, "agent_unavailable", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>goalflow API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Send X-Actor-Id to attribute changes to a caller.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerTools(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tools",
		Method:      http.MethodGet,
		Path:        "/tools",
		Summary:     "List mutation tools",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []engine.ToolSpec `json:"body"`
	}, error) {
		return &struct {
			Body []engine.ToolSpec `json:"body"`
		}{Body: engine.Catalog()}, nil
	})
}

func registerValidate(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "validate-document",
		Method:      http.MethodPost,
		Path:        "/validate",
		Summary:     "Validate a document without storing it",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body map[string]any `json:"body" jsonschema:"type=object,additionalProperties=true"`
	}) (*struct {
		Body schema.Result `json:"body"`
	}, error) {
		raw, err := json.Marshal(input.Body)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid document body", nil)
		}
		res := app.Validate(raw)
		return &struct {
			Body schema.Result `json:"body"`
		}{Body: res}, nil
	})
}

type documentPath struct {
	DocumentID string `path:"document_id"`
}

func registerDocuments(api huma.API, s *app.Service) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-document",
		Method:        http.MethodPost,
		Path:          "/documents",
		Summary:       "Create or import a document",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CreateDocumentRequest `json:"body"`
	}) (*struct {
		Body VersionResponse `json:"body"`
	}, error) {
		var (
			v   repo.Version
			err error
		)
		actor := actorFromContext(ctx)
		if input.Body.Document != nil {
			raw, mErr := json.Marshal(input.Body.Document)
			if mErr != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid document", nil)
			}
			v, err = s.ImportDocument(ctx, raw, actor)
		} else {
			if strings.TrimSpace(input.Body.Name) == "" || strings.TrimSpace(input.Body.Objective) == "" {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "name and objective are required", nil)
			}
			v, err = s.CreateDocument(ctx, input.Body.Name, input.Body.Objective, actor)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VersionResponse `json:"body"`
		}{Body: versionResponse(v)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-documents",
		Method:      http.MethodGet,
		Path:        "/documents",
		Summary:     "List documents",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		docs, err := s.ListDocuments(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{"items": docs}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-document",
		Method:      http.MethodGet,
		Path:        "/documents/{document_id}",
		Summary:     "Get the latest version of a document",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *documentPath) (*struct {
		Body VersionResponse `json:"body"`
	}, error) {
		v, err := s.Document(ctx, input.DocumentID, 0)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VersionResponse `json:"body"`
		}{Body: versionResponse(v)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-versions",
		Method:      http.MethodGet,
		Path:        "/documents/{document_id}/versions",
		Summary:     "List the versions of a document",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *documentPath) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		history, err := s.History(ctx, input.DocumentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{"items": history}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/documents/{document_id}/versions/{version}",
		Summary:     "Get one version of a document",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DocumentID string `path:"document_id"`
		Version    int    `path:"version" minimum:"1"`
	}) (*struct {
		Body VersionResponse `json:"body"`
	}, error) {
		v, err := s.Document(ctx, input.DocumentID, input.Version)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VersionResponse `json:"body"`
		}{Body: versionResponse(v)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "diff-versions",
		Method:      http.MethodGet,
		Path:        "/documents/{document_id}/diff",
		Summary:     "Line diff between two versions",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DocumentID string `path:"document_id"`
		From       int    `query:"from" doc:"Defaults to the version before to"`
		To         int    `query:"to" doc:"Defaults to the latest version"`
	}) (*struct {
		Body DiffResponse `json:"body"`
	}, error) {
		d, err := s.Diff(ctx, input.DocumentID, input.From, input.To)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DiffResponse `json:"body"`
		}{Body: diffResponse(d)}, nil
	})
}

func registerOperations(api huma.API, s *app.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "apply-operation",
		Method:      http.MethodPost,
		Path:        "/documents/{document_id}/operations",
		Summary:     "Apply one tool call and save the result as a new version",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		DocumentID string                `path:"document_id"`
		Body       ApplyOperationRequest `json:"body"`
	}) (*struct {
		Body VersionResponse `json:"body"`
	}, error) {
		call := engine.ToolCall{Tool: input.Body.Tool, Params: input.Body.Params}
		v, err := s.ApplyTool(ctx, input.DocumentID, input.Body.BaseVersion, call, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VersionResponse `json:"body"`
		}{Body: versionResponse(v)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "edit-document",
		Method:      http.MethodPost,
		Path:        "/documents/{document_id}/edit",
		Summary:     "Edit a document from a natural-language request",
		Description: "Runs the agent loop. A failed run is reported in the body with success=false and leaves the document unchanged.",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		DocumentID string      `path:"document_id"`
		Body       EditRequest `json:"body"`
	}) (*struct {
		Body EditResponse `json:"body"`
	}, error) {
		out, err := s.Edit(ctx, input.DocumentID, input.Body.BaseVersion, input.Body.Request, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EditResponse `json:"body"`
		}{Body: editResponse(out)}, nil
	})
}

func registerAudit(api huma.API, s *app.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "list-audit",
		Method:      http.MethodGet,
		Path:        "/documents/{document_id}/audit",
		Summary:     "List audited tool calls",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DocumentID string `path:"document_id"`
		Limit      int    `query:"limit" default:"100" minimum:"0" maximum:"1000"`
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		items, err := s.Audit(ctx, input.DocumentID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []events.Event{}
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{"items": items}}, nil
	})
}
