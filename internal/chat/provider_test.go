package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/roadbotai/roadbot/internal/faults"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewProvider(nil, srv.URL, "test-key", 0)
}

func TestChatParsesToolCalls(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", auth)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["tool_choice"] != "auto" {
			t.Errorf("tool_choice = %v", body["tool_choice"])
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"","tool_calls":[
			{"id":"call_1","type":"function","function":{"name":"highway_knowledge_retriever","arguments":"{\"query\":\"车辆故障\"}"}}
		]},"finish_reason":"tool_calls"}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`))
	})

	resp, err := p.Chat(context.Background(), Request{
		Model:    "qwen-max",
		Messages: []Message{{Role: "user", Content: "我的车坏了"}},
		Tools:    []map[string]any{{"type": "function"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(resp.ToolCalls))
	}
	tc := resp.ToolCalls[0]
	if tc.Name != "highway_knowledge_retriever" || tc.Arguments["query"] != "车辆故障" {
		t.Fatalf("unexpected tool call: %+v", tc)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Fatalf("usage = %+v", resp.Usage)
	}
}

func TestChatRateLimitIsQuotaFault(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := p.Chat(context.Background(), Request{Model: "m"})
	if faults.CodeOf(err) != faults.CodeLLMQuota {
		t.Fatalf("code = %s, want %s", faults.CodeOf(err), faults.CodeLLMQuota)
	}
}

func TestDescribeSendsDataURL(t *testing.T) {
	t.Parallel()

	var got map[string]any
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"一张高速公路标志的照片"},"finish_reason":"stop"}]}`))
	})

	desc, err := p.Describe(context.Background(), "qwen-vl-max", "image/png", []byte{1, 2, 3}, "描述这张图片")
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if desc != "一张高速公路标志的照片" {
		t.Fatalf("description = %q", desc)
	}

	messages := got["messages"].([]any)
	content := messages[0].(map[string]any)["content"].([]any)
	imagePart := content[1].(map[string]any)["image_url"].(map[string]any)
	if url := imagePart["url"].(string); !strings.HasPrefix(url, "data:image/png;base64,") {
		t.Fatalf("unexpected data URL: %q", url)
	}
}

func TestEmbedReturnsVector(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`))
	})

	vec, err := p.Embed(context.Background(), "text-embedding-v2", "高速收费标准")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("vector = %v", vec)
	}
}

func TestEmbedEmptyDataIsError(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	})
	if _, err := p.Embed(context.Background(), "m", "x"); err == nil {
		t.Fatal("expected error for empty embedding data")
	}
}
