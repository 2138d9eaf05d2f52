package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func writeOpenAISSEJSON(w io.Writer, f http.Flusher, payload any) {
	b, _ := json.Marshal(payload)
	_, _ = io.WriteString(w, "data: ")
	_, _ = w.Write(b)
	_, _ = io.WriteString(w, "\n\n")
	f.Flush()
}

func writeAnthropicSSEJSON(w io.Writer, f http.Flusher, v map[string]any) {
	if t, _ := v["type"].(string); strings.TrimSpace(t) != "" {
		_, _ = io.WriteString(w, "event: "+t+"\n")
	}
	b, _ := json.Marshal(v)
	_, _ = io.WriteString(w, "data: ")
	_, _ = w.Write(b)
	_, _ = io.WriteString(w, "\n\n")
	f.Flush()
}

type openAIMock struct {
	skipCompleted bool

	mu  sync.Mutex
	req map[string]any
}

func (m *openAIMock) handle(w http.ResponseWriter, r *http.Request) {
	if strings.TrimSpace(r.Header.Get("Authorization")) != "Bearer sk-test" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !strings.HasSuffix(r.URL.Path, "/responses") {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	body, _ := io.ReadAll(r.Body)
	_ = r.Body.Close()
	var req map[string]any
	_ = json.Unmarshal(body, &req)
	m.mu.Lock()
	m.req = req
	m.mu.Unlock()

	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	f := w.(http.Flusher)
	writeOpenAISSEJSON(w, f, map[string]any{
		"type":     "response.created",
		"response": map[string]any{"id": "resp_1", "created_at": time.Now().Unix(), "model": "gpt-test"},
	})
	writeOpenAISSEJSON(w, f, map[string]any{"type": "response.reasoning_summary_text.delta", "delta": "consider the file"})
	writeOpenAISSEJSON(w, f, map[string]any{"type": "response.output_text.delta", "delta": "<read_file><path>a.go"})
	writeOpenAISSEJSON(w, f, map[string]any{"type": "response.output_text.delta", "delta": "</path></read_file>"})
	if !m.skipCompleted {
		writeOpenAISSEJSON(w, f, map[string]any{
			"type":     "response.completed",
			"response": map[string]any{"id": "resp_1", "model": "gpt-test", "status": "completed"},
		})
	}
	_, _ = io.WriteString(w, "data: [DONE]\n\n")
	f.Flush()
}

func (m *openAIMock) request() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.req
}

func TestOpenAIClient_ChatStream(t *testing.T) {
	t.Parallel()

	mock := &openAIMock{}
	srv := httptest.NewServer(http.HandlerFunc(mock.handle))
	t.Cleanup(srv.Close)

	c, err := New("openai_compatible", srv.URL+"/v1", "sk-test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	text, reasoning, err := Collect(c.ChatStream(ctx, Request{
		Model:    "gpt-test",
		System:   "be brief",
		Messages: []Message{{Role: RoleUser, Text: "open a.go"}},
	}))
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	if text != "<read_file><path>a.go</path></read_file>" {
		t.Fatalf("text=%q", text)
	}
	if reasoning != "consider the file" {
		t.Fatalf("reasoning=%q", reasoning)
	}
	req := mock.request()
	if got, _ := req["instructions"].(string); got != "be brief" {
		t.Fatalf("instructions=%q, want %q", got, "be brief")
	}
	if got, _ := req["model"].(string); got != "gpt-test" {
		t.Fatalf("model=%q", got)
	}
	if input, _ := req["input"].([]any); len(input) != 1 {
		t.Fatalf("input=%v, want one message", req["input"])
	}
}

func TestOpenAIClient_MissingCompletedIsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc((&openAIMock{skipCompleted: true}).handle))
	t.Cleanup(srv.Close)

	c, err := New("openai", srv.URL+"/v1", "sk-test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = c.Chat(context.Background(), Request{Model: "gpt-test", Messages: []Message{{Role: RoleUser, Text: "hi"}}})
	if err == nil || !strings.Contains(err.Error(), "response.completed") {
		t.Fatalf("err=%v, want missing response.completed", err)
	}
}

func TestAnthropicClient_ChatStream(t *testing.T) {
	t.Parallel()

	var (
		mu  sync.Mutex
		got map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(r.Header.Get("x-api-key")) != "sk-ant-test" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if !strings.HasSuffix(r.URL.Path, "/messages") {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		mu.Lock()
		_ = json.Unmarshal(body, &got)
		mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		f := w.(http.Flusher)
		writeAnthropicSSEJSON(w, f, map[string]any{"type": "message_start", "message": map[string]any{}})
		writeAnthropicSSEJSON(w, f, map[string]any{"type": "content_block_start", "index": 0, "content_block": map[string]any{"type": "thinking", "thinking": ""}})
		writeAnthropicSSEJSON(w, f, map[string]any{"type": "content_block_delta", "index": 0, "delta": map[string]any{"type": "thinking_delta", "thinking": "plan it"}})
		writeAnthropicSSEJSON(w, f, map[string]any{"type": "content_block_stop", "index": 0})
		writeAnthropicSSEJSON(w, f, map[string]any{"type": "content_block_start", "index": 1, "content_block": map[string]any{"type": "text", "text": ""}})
		writeAnthropicSSEJSON(w, f, map[string]any{"type": "content_block_delta", "index": 1, "delta": map[string]any{"type": "text_delta", "text": "done"}})
		writeAnthropicSSEJSON(w, f, map[string]any{"type": "content_block_stop", "index": 1})
		writeAnthropicSSEJSON(w, f, map[string]any{
			"type":  "message_delta",
			"delta": map[string]any{"stop_reason": "end_turn", "stop_sequence": nil},
			"usage": map[string]any{"output_tokens": 1},
		})
		writeAnthropicSSEJSON(w, f, map[string]any{"type": "message_stop"})
	}))
	t.Cleanup(srv.Close)

	c, err := New("anthropic", srv.URL, "sk-ant-test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var frags []Fragment
	for f, err := range c.ChatStream(context.Background(), Request{
		Model:                "claude-test",
		System:               "sys",
		Messages:             []Message{{Role: RoleUser, Text: "a"}, {Role: RoleUser, Text: "b"}},
		MaxOutputTokens:      8000,
		ThinkingBudgetTokens: 2048,
	}) {
		if err != nil {
			t.Fatalf("ChatStream: %v", err)
		}
		frags = append(frags, f)
	}
	want := []Fragment{{Kind: FragmentReasoning, Text: "plan it"}, {Kind: FragmentText, Text: "done"}}
	if len(frags) != len(want) {
		t.Fatalf("frags=%v, want %v", frags, want)
	}
	for i := range want {
		if frags[i] != want[i] {
			t.Fatalf("frags[%d]=%v, want %v", i, frags[i], want[i])
		}
	}

	mu.Lock()
	defer mu.Unlock()
	msgs, _ := got["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("messages=%v, want consecutive user messages merged", got["messages"])
	}
	if _, ok := got["thinking"].(map[string]any); !ok {
		t.Fatalf("thinking missing from request: %v", got)
	}
}

func TestBuildAnthropicMessages_Alternates(t *testing.T) {
	t.Parallel()

	out := buildAnthropicMessages([]Message{
		{Role: RoleAssistant, Text: "hello"},
		{Role: RoleUser, Text: "x"},
		{Role: RoleUser, Text: ""},
		{Role: RoleAssistant, Text: "y"},
	})
	wantRoles := []string{"user", "assistant", "user", "assistant", "user"}
	if len(out) != len(wantRoles) {
		t.Fatalf("len=%d, want %d", len(out), len(wantRoles))
	}
	for i, m := range out {
		if string(m.Role) != wantRoles[i] {
			t.Fatalf("role[%d]=%q, want %q", i, m.Role, wantRoles[i])
		}
	}
}

func TestNew_Rejects(t *testing.T) {
	t.Parallel()

	if _, err := New("openai", "", " "); err == nil {
		t.Fatalf("expected missing key error")
	}
	if _, err := New("gemini", "", "k"); err == nil {
		t.Fatalf("expected unsupported provider error")
	}
	c, err := New("openai", "", "k")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Chat(context.Background(), Request{}); err == nil || err.Error() != "missing model" {
		t.Fatalf("err=%v, want missing model", err)
	}
}

func TestTruncateTokens(t *testing.T) {
	t.Parallel()

	short := "hello world"
	if got, truncated := TruncateTokens(short, 100); got != short || truncated {
		t.Fatalf("TruncateTokens(short)=%q,%v", got, truncated)
	}
	long := strings.Repeat("alpha beta gamma ", 400)
	got, truncated := TruncateTokens(long, 50)
	if !truncated {
		t.Fatalf("expected truncation")
	}
	if !strings.Contains(got, "[truncated ") {
		t.Fatalf("missing marker: %q", got[len(got)-40:])
	}
	if !strings.HasPrefix(long, strings.SplitN(got, "\n[truncated", 2)[0]) {
		t.Fatalf("head is not a prefix of the input")
	}
	if n, err := EstimateTokens(short); err != nil || n <= 0 {
		t.Fatalf("EstimateTokens=%d,%v", n, err)
	}
}
