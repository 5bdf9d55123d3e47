package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func userRequest() ChatRequest {
	return ChatRequest{
		Model:    "gpt-test",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	}
}

func TestComplete_PlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"cmpl-1","choices":[{"index":0,"message":{"role":"assistant","content":"Hello!"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	c := NewClient("test-key", srv.URL, 0)
	resp, err := c.Complete(context.Background(), userRequest())
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got := resp.Choices[0].Message.Content; got != "Hello!" {
		t.Errorf("content = %q, want %q", got, "Hello!")
	}
}

func TestComplete_ToolCallsRoundTrip(t *testing.T) {
	var got ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		fmt.Fprint(w, `{"id":"cmpl-1","choices":[{"index":0,"message":{"role":"assistant","content":null,
			"tool_calls":[{"id":"call_1","type":"function","function":{"name":"addTask","arguments":"{\"taskData\":\"{\\\"title\\\":\\\"buy milk\\\"}\"}"}}]},
			"finish_reason":"tool_calls"}]}`)
	}))
	defer srv.Close()

	temp := 0.7
	req := userRequest()
	req.Temperature = &temp
	req.Tools = []Tool{{
		Type: "function",
		Function: FunctionDef{
			Name:       "listTasks",
			Parameters: json.RawMessage(`{"type":"object","properties":{}}`),
		},
	}}

	c := NewClient("test-key", srv.URL, 0)
	resp, err := c.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if len(got.Tools) != 1 || got.Tools[0].Function.Name != "listTasks" {
		t.Errorf("server saw tools = %+v", got.Tools)
	}
	if got.Temperature == nil || *got.Temperature != 0.7 {
		t.Errorf("server saw temperature = %v", got.Temperature)
	}

	calls := resp.Choices[0].Message.ToolCalls
	if len(calls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(calls))
	}
	if calls[0].ID != "call_1" || calls[0].Function.Name != "addTask" {
		t.Errorf("call = %+v", calls[0])
	}
	if calls[0].Function.Arguments != `{"taskData":"{\"title\":\"buy milk\"}"}` {
		t.Errorf("arguments = %s", calls[0].Function.Arguments)
	}
}

func TestComplete_AuthHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"id":"x","choices":[{"message":{"role":"assistant","content":"ok"}}]}`)
	}))
	defer srv.Close()

	c := NewClient("test-key", srv.URL, 0)
	if _, err := c.Complete(context.Background(), userRequest()); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if want := "Bearer test-key"; gotAuth != want {
		t.Errorf("Authorization = %q, want %q", gotAuth, want)
	}
}

func TestComplete_MissingAPIKey(t *testing.T) {
	var called atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Store(true)
	}))
	defer srv.Close()

	c := NewClient("", srv.URL, 0)
	_, err := c.Complete(context.Background(), userRequest())
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("err = %v, want ErrMissingAPIKey", err)
	}
	if called.Load() {
		t.Error("server should not be contacted without an API key")
	}
}

func TestComplete_MissingModel(t *testing.T) {
	c := NewClient("k", "http://127.0.0.1:1", 0)
	req := userRequest()
	req.Model = ""
	if _, err := c.Complete(context.Background(), req); !errors.Is(err, ErrMissingModel) {
		t.Fatalf("err = %v, want ErrMissingModel", err)
	}
}

func TestComplete_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	c := NewClient("bad", srv.URL, 0)
	_, err := c.Complete(context.Background(), userRequest())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "Incorrect API key provided") {
		t.Errorf("error = %q, want provider message", err)
	}
}

func TestComplete_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"x","choices":[]}`)
	}))
	defer srv.Close()

	c := NewClient("k", srv.URL, 0)
	if _, err := c.Complete(context.Background(), userRequest()); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestComplete_RateLimit_Retry(t *testing.T) {
	var attempt atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempt.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"id":"x","choices":[{"message":{"role":"assistant","content":"ok"}}]}`)
	}))
	defer srv.Close()

	c := NewClient("test-key", srv.URL, 0)
	if _, err := c.Complete(context.Background(), userRequest()); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got := attempt.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
}

func TestComplete_RateLimit_Exhausted(t *testing.T) {
	var attempt atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient("test-key", srv.URL, 0)
	_, err := c.Complete(context.Background(), userRequest())
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("error = %q, want it to contain %q", err.Error(), "rate limited")
	}
	if got := attempt.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestComplete_ContextCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := NewClient("k", srv.URL, 0).Complete(ctx, userRequest())
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error after context cancellation")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Complete did not return promptly after cancellation")
	}
}
