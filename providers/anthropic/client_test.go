package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/PipeOpsHQ/campaign-engine/types"
)

func TestClientGenerate_ForcedToolReturnsInput(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "key" {
			t.Errorf("missing api key header")
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if req["system"] != "system" {
			t.Errorf("unexpected system prompt: %#v", req["system"])
		}
		choice, _ := req["tool_choice"].(map[string]any)
		if choice["name"] != draftToolName {
			t.Errorf("expected forced tool choice, got %#v", req["tool_choice"])
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"claude-x","content":[{"type":"text","text":"ignored"},{"type":"tool_use","name":"submit_draft","input":{"subject":"s"}}],"usage":{"input_tokens":6,"output_tokens":2}}`))
	}))
	defer ts.Close()

	client, err := New("key", WithBaseURL(ts.URL), WithHTTPClient(ts.Client()))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	resp, err := client.Generate(context.Background(), types.Request{
		SystemPrompt:   "system",
		Messages:       []types.Message{{Role: types.RoleUser, Content: "hello"}},
		ResponseSchema: map[string]any{"type": "object"},
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if resp.Message.Content != `{"subject":"s"}` {
		t.Fatalf("unexpected content: %q", resp.Message.Content)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 8 {
		t.Fatalf("unexpected usage: %#v", resp.Usage)
	}
}

func TestClientGenerate_PlainText(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if _, ok := req["tools"]; ok {
			t.Errorf("tools should be omitted without a response schema")
		}
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":" hi "}]}`))
	}))
	defer ts.Close()

	client, err := New("key", WithBaseURL(ts.URL), WithHTTPClient(ts.Client()))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	resp, err := client.Generate(context.Background(), types.Request{
		Messages: []types.Message{{Role: types.RoleUser, Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if resp.Message.Content != "hi" || resp.Usage != nil {
		t.Fatalf("unexpected response: %#v", resp)
	}
}
