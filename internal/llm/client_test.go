package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"goalflow/internal/llm"
	"goalflow/internal/resilience"
)

func TestInvokeSendsChatRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer key")
		}
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body.Model != "test-model" || len(body.Messages) != 2 || body.Messages[0].Role != "system" || body.Messages[1].Content != "hi" {
			t.Errorf("unexpected body %+v", body)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"toolCalls\":[]}"}}]}`))
	}))
	defer srv.Close()

	c := llm.NewClient(llm.Config{BaseURL: srv.URL + "/", Model: "test-model", APIKey: "sk-test"})
	out, err := c.Invoke(context.Background(), "sys", "hi")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out != `{"toolCalls":[]}` {
		t.Fatalf("unexpected reply %q", out)
	}
}

func TestInvokeStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, llm.ErrUnauthorized},
		{http.StatusForbidden, llm.ErrUnauthorized},
		{http.StatusTooManyRequests, llm.ErrRateLimited},
		{http.StatusBadGateway, llm.ErrUnavailable},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		_, err := llm.NewClient(llm.Config{BaseURL: srv.URL}).Invoke(context.Background(), "s", "u")
		srv.Close()
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
	}
}

func TestInvokeEmptyReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()
	_, err := llm.NewClient(llm.Config{BaseURL: srv.URL}).Invoke(context.Background(), "s", "u")
	if !errors.Is(err, llm.ErrEmptyReply) {
		t.Fatalf("expected empty reply error, got %v", err)
	}
}

func TestBreakerShortCircuits(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	c := llm.NewClient(llm.Config{BaseURL: srv.URL})
	c.SetBreaker(resilience.NewBreaker(1, time.Hour))
	_, _ = c.Invoke(context.Background(), "s", "u")
	_, err := c.Invoke(context.Background(), "s", "u")
	if !errors.Is(err, llm.ErrUnavailable) || !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if hits != 1 {
		t.Fatalf("expected one upstream call, got %d", hits)
	}
}
