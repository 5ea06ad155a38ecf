package brain

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestHTTPChatterPlainContentField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":"hello from brain"}`))
	}))
	defer srv.Close()

	c := NewHTTPChatter(srv.URL)
	resp, err := c.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.Content != "hello from brain" {
		t.Fatalf("Content = %q", resp.Content)
	}
}

func TestHTTPChatterOpenAIShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"choice reply"}}]}`))
	}))
	defer srv.Close()

	c := NewHTTPChatter(srv.URL)
	resp, err := c.Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.Content != "choice reply" {
		t.Fatalf("Content = %q", resp.Content)
	}
}

func TestHTTPChatterErrorStatus(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewHTTPChatter(srv.URL)
	if _, err := c.Chat(context.Background(), ChatRequest{}); err == nil {
		t.Fatalf("Chat() expected error for 400, got nil")
	}
	if calls != 1 {
		t.Fatalf("made %d requests for a non-retryable status, want 1", calls)
	}
}

func TestHTTPChatterRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":"second time lucky"}`))
	}))
	defer srv.Close()

	c := NewHTTPChatter(srv.URL)
	resp, err := c.Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.Content != "second time lucky" {
		t.Fatalf("Content = %q", resp.Content)
	}
	if calls.Load() != 2 {
		t.Fatalf("made %d requests, want 2", calls.Load())
	}
}
