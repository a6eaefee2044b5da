package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"goalflow/internal/agent"
	"goalflow/internal/app"
	"goalflow/internal/db"
	"goalflow/internal/engine"
	"goalflow/internal/events"
	"goalflow/internal/migrate"
	"goalflow/internal/repo"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

type fixedModel struct{ reply string }

func (m fixedModel) Invoke(context.Context, string, string) (string, error) { return m.reply, nil }

const addGoalReply = `{"toolCalls":[{"tool":"addGoal","params":{"goal":{"name":"Review"}}}],"reasoning":"adds a review goal"}`

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	var n atomic.Int64
	now := func() time.Time { return time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC) }
	eng := engine.Engine{Now: now, NewID: func(prefix string) string { return fmt.Sprintf("%s_%d", prefix, n.Add(1)) }}
	writer := events.Writer{DB: conn, Now: now}
	svc := &app.Service{
		Store:  repo.Repo{DB: conn, Now: now},
		Engine: eng,
		Agent:  agent.New(fixedModel{reply: addGoalReply}, eng, agent.WithClock(now)),
		Sink:   writer,
		Events: writer,
		Now:    now,
	}
	handler, err := New(Config{Service: svc, BasePath: "/v1"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type envelope struct {
	Error apiErrorBody `json:"error"`
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v: %s", err, string(data))
	}
	return env.Error
}

func createDocument(t *testing.T, srv *testServer) VersionResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/documents", map[string]any{
		"name":      "Quarterly close",
		"objective": "Close the books",
	}, map[string]string{ActorHeader: "alice"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	var v VersionResponse
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("unmarshal version: %v", err)
	}
	return v
}

func TestDocumentLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	created := createDocument(t, srv)
	if created.Version != 1 || created.ActorID != "alice" || created.Document == nil {
		t.Fatalf("unexpected created version %+v", created)
	}
	id := created.DocumentID

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/documents/"+id+"/operations", map[string]any{
		"tool":         "addGoal",
		"params":       map[string]any{"goal": map[string]any{"name": "Reconcile"}},
		"base_version": 1,
	}, map[string]string{ActorHeader: "bob"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("apply status %d: %s", res.StatusCode, string(data))
	}
	var applied VersionResponse
	_ = json.Unmarshal(data, &applied)
	if applied.Version != 2 || len(applied.Document.Goals) != 1 || applied.ActorID != "bob" {
		t.Fatalf("unexpected applied version %+v", applied)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/documents/"+id, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/documents/"+id+"/versions/1", nil, nil)
	var first VersionResponse
	_ = json.Unmarshal(data, &first)
	if res.StatusCode != http.StatusOK || len(first.Document.Goals) != 0 {
		t.Fatalf("version 1 should be untouched: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/documents/"+id+"/versions", nil, nil)
	var versions struct {
		Items []map[string]any `json:"items"`
	}
	_ = json.Unmarshal(data, &versions)
	if res.StatusCode != http.StatusOK || len(versions.Items) != 2 {
		t.Fatalf("versions: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/documents/"+id+"/diff?from=1&to=2", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "Reconcile") {
		t.Fatalf("diff: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/documents/"+id+"/audit", nil, nil)
	var audit struct {
		Items []events.Event `json:"items"`
	}
	_ = json.Unmarshal(data, &audit)
	if res.StatusCode != http.StatusOK || len(audit.Items) != 1 || audit.Items[0].ActorID != "bob" {
		t.Fatalf("audit: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/documents", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), id) {
		t.Fatalf("list: %d %s", res.StatusCode, string(data))
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	id := createDocument(t, srv).DocumentID
	ops := srv.URL + "/v1/documents/" + id + "/operations"

	cases := []struct {
		name   string
		method string
		url    string
		body   any
		status int
		code   string
	}{
		{"missing document", http.MethodGet, srv.URL + "/v1/documents/nope", nil, http.StatusNotFound, "not_found"},
		{"unknown tool", http.MethodPost, ops, map[string]any{"tool": "dropTable"}, http.StatusBadRequest, "unknown_tool"},
		{"missing goal", http.MethodPost, ops, map[string]any{"tool": "deleteGoal", "params": map[string]any{"goal_id": "g9"}}, http.StatusNotFound, "not_found"},
		{"invalid enum", http.MethodPost, ops, map[string]any{"tool": "addGoal", "params": map[string]any{"goal": map[string]any{"name": "X", "constraints": []any{map[string]any{"description": "d", "type": "time", "enforcement": "maybe"}}}}}, http.StatusUnprocessableEntity, "validation_failed"},
		{"stale base", http.MethodPost, ops, map[string]any{"tool": "addGoal", "params": map[string]any{"goal": map[string]any{"name": "X"}}, "base_version": 7}, http.StatusConflict, "version_conflict"},
		{"create without name", http.MethodPost, srv.URL + "/v1/documents", map[string]any{"objective": "o"}, http.StatusBadRequest, "bad_request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, data := doJSON(t, client, tc.method, tc.url, tc.body, nil)
			if res.StatusCode != tc.status {
				t.Fatalf("status %d, want %d: %s", res.StatusCode, tc.status, string(data))
			}
			if body := decodeError(t, data); body.Code != tc.code || body.Message == "" {
				t.Fatalf("unexpected envelope %+v", body)
			}
		})
	}
}

func TestValidationDetails(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	id := createDocument(t, srv).DocumentID
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/documents/"+id+"/operations", map[string]any{
		"tool":   "addGoal",
		"params": map[string]any{"goal": map[string]any{}},
	}, nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	body := decodeError(t, data)
	issues, ok := body.Details["issues"].([]any)
	if !ok || len(issues) == 0 {
		t.Fatalf("expected issues in details: %+v", body)
	}
	first := issues[0].(map[string]any)
	if first["code"] != "MISSING_REQUIRED_FIELD" {
		t.Fatalf("unexpected issue %+v", first)
	}
}

func TestValidateEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/validate", map[string]any{
		"id":   "d1",
		"name": "X",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var result struct {
		Valid  bool             `json:"valid"`
		Errors []map[string]any `json:"errors"`
	}
	_ = json.Unmarshal(data, &result)
	if result.Valid || len(result.Errors) == 0 {
		t.Fatalf("expected invalid result: %s", string(data))
	}
}

func TestEditEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	id := createDocument(t, srv).DocumentID
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/documents/"+id+"/edit", map[string]any{
		"request": "add a review goal",
	}, map[string]string{ActorHeader: "carol"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var out EditResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out.Success || out.Version == nil || out.Version.Version != 2 || out.Version.ActorID != "carol" {
		t.Fatalf("unexpected edit response %s", string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/documents/"+id+"/edit", map[string]any{
		"request": "hi",
	}, nil)
	_ = json.Unmarshal(data, &out)
	if res.StatusCode != http.StatusOK || out.Success || out.ErrorKind != string(agent.KindRequestRejected) {
		t.Fatalf("short request should be rejected in the body: %d %s", res.StatusCode, string(data))
	}
}

func TestToolsAndOpenAPI(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/tools", nil, nil)
	var tools []engine.ToolSpec
	_ = json.Unmarshal(data, &tools)
	if res.StatusCode != http.StatusOK || len(tools) != len(engine.Tools()) {
		t.Fatalf("tools: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "/v1/documents/{document_id}/edit") {
		t.Fatalf("openapi: %d", res.StatusCode)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK || res.Header.Get("X-Request-Id") == "" {
		t.Fatalf("health: %d, request id %q", res.StatusCode, res.Header.Get("X-Request-Id"))
	}
}

func TestOpenAPISchemaNames(t *testing.T) {
	handler, err := New(Config{Service: &app.Service{}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/openapi.json", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("openapi status %d", rec.Code)
	}
	var doc struct {
		Paths      map[string]any `json:"paths"`
		Components struct {
			Schemas map[string]any `json:"schemas"`
		} `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode openapi: %v", err)
	}
	for _, p := range []string{"/v1/validate", "/v1/documents/{document_id}/diff"} {
		if _, ok := doc.Paths[p]; !ok {
			t.Fatalf("openapi lacks path %s", p)
		}
	}
	for _, name := range []string{"Result", "DiffResponse", "Hunk", "Issue"} {
		if _, ok := doc.Components.Schemas[name]; !ok {
			t.Fatalf("openapi lacks schema %s", name)
		}
	}
}
