package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testSchema() ResponseSchema {
	return ResponseSchema{
		Name: "test",
		Schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"ok": map[string]any{"type": "number"}},
			"required":   []string{"ok"},
		},
	}
}

func TestCerebras_NoKey(t *testing.T) {
	c := NewCerebrasClient("", "model", "https://api.cerebras.ai/v1")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.GenerateStructured(ctx, "sys", "hi", testSchema()); !errors.Is(err, ErrUnconfigured) {
		t.Fatalf("expected ErrUnconfigured, got %v", err)
	}
}

func TestCerebras_TransportFailureIsUnavailable(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status_500", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"message":"oops"}`))
		}},
		{"status_429", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"message":"quota"}`))
		}},
		{"empty_choices", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			c := NewCerebrasClient("key", "model", srv.URL)
			if _, err := c.GenerateStructured(context.Background(), "sys", "hi", testSchema()); !errors.Is(err, ErrUnavailable) {
				t.Fatalf("expected ErrUnavailable, got %v", err)
			}
		})
	}
}

func TestCerebras_ReturnsContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "model",
			"choices": []map[string]any{
				{
					"index":         0,
					"finish_reason": "stop",
					"message":       map[string]any{"role": "assistant", "content": ` {"ok": 1} `},
				},
			},
		})
	}))
	defer srv.Close()

	c := NewCerebrasClient("key", "model", srv.URL)
	got, err := c.GenerateStructured(context.Background(), "sys", "hi", testSchema())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got != `{"ok": 1}` {
		t.Fatalf("content mismatch: %q", got)
	}
}
