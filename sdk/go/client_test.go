package goalflowsdk_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	goalflowsdk "goalflow/sdk/go"
)

func TestClientRoutesAndHeaders(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.Path)
		if got := r.Header.Get("X-Actor-Id"); got != "alice" {
			t.Errorf("actor header = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/documents":
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["name"] != "Launch" {
				t.Errorf("unexpected create body %v", body)
			}
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"document_id":"doc_1","version":1,"actor_id":"alice","created_at":"2024-01-01T00:00:00Z","document":{"id":"doc_1"}}`))
		case "/v1/documents/doc_1/operations":
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["tool"] != "addGoal" || body["base_version"] != float64(1) {
				t.Errorf("unexpected operation body %v", body)
			}
			w.Write([]byte(`{"document_id":"doc_1","version":2,"actor_id":"alice","summary":"addGoal","created_at":"2024-01-01T00:00:00Z","document":{}}`))
		case "/v1/documents/doc_1/versions":
			w.Write([]byte(`{"items":[{"document_id":"doc_1","version":1},{"document_id":"doc_1","version":2}]}`))
		case "/v1/documents/doc_1/versions/1":
			w.Write([]byte(`{"document_id":"doc_1","version":1,"document":{}}`))
		case "/v1/documents/doc_1/edit":
			w.Write([]byte(`{"success":false,"run_id":"r1","message":"not found","attempts":3,"tool_calls":[],"error_kind":"NotFound"}`))
		case "/v1/validate":
			w.Write([]byte(`{"valid":false,"errors":[{"path":"objective","message":"objective is required","code":"MISSING_REQUIRED_FIELD"}],"warnings":[]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	c := goalflowsdk.New(srv.URL, "alice")
	v, err := c.CreateDocument(ctx, "Launch", "Ship")
	if err != nil || v.DocumentID != "doc_1" || v.Version != 1 {
		t.Fatalf("create: %v %+v", err, v)
	}
	v, err = c.ApplyOperation(ctx, "doc_1", 1, "addGoal", map[string]any{"goal": map[string]any{"name": "Plan"}})
	if err != nil || v.Version != 2 || v.Summary != "addGoal" {
		t.Fatalf("apply: %v %+v", err, v)
	}
	history, err := c.History(ctx, "doc_1")
	if err != nil || len(history) != 2 {
		t.Fatalf("history: %v %+v", err, history)
	}
	if v, err = c.GetDocument(ctx, "doc_1", 1); err != nil || v.Version != 1 {
		t.Fatalf("get: %v %+v", err, v)
	}
	edit, err := c.Edit(ctx, "doc_1", 0, "remove the missing goal")
	if err != nil || edit.Success || edit.ErrorKind != "NotFound" || edit.Attempts != 3 {
		t.Fatalf("edit: %v %+v", err, edit)
	}
	res, err := c.Validate(ctx, map[string]any{"id": "x"})
	if err != nil || res.Valid || res.Errors[0].Code != "MISSING_REQUIRED_FIELD" {
		t.Fatalf("validate: %v %+v", err, res)
	}
	if len(seen) != 6 {
		t.Fatalf("expected 6 requests, got %v", seen)
	}
}

func TestClientDecodesErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":{"code":"version_conflict","message":"stale","details":{"base":1,"latest":2}}}`))
	}))
	defer srv.Close()

	c := goalflowsdk.New(srv.URL, "")
	_, err := c.ApplyOperation(context.Background(), "doc_1", 1, "addGoal", nil)
	if !goalflowsdk.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	apiErr := err.(*goalflowsdk.APIError)
	if apiErr.StatusCode != http.StatusConflict || apiErr.Details["latest"] != float64(2) {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}
