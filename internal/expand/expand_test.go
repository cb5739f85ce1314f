package expand

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kayz/sdxlprompt/internal/config"
)

func TestOllamaExpandAssemblesStream(t *testing.T) {
	var got ollamaGenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		io.WriteString(w, `{"response":"knight portrait, ","done":false}`+"\n")
		io.WriteString(w, "\n")
		io.WriteString(w, `{"response":"studio lighting ","done":false}`+"\n")
		io.WriteString(w, `{"response":"","done":true}`+"\n")
		io.WriteString(w, `{"response":"ignored after done","done":false}`+"\n")
	}))
	defer srv.Close()

	e := NewOllama(config.LLMConfig{BaseURL: srv.URL + "/", Model: "test-model", Temperature: 0.35, TopP: 0.9})
	out, err := e.Expand(context.Background(), Request{Idea: "  knight portrait "})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if out != "knight portrait, studio lighting" {
		t.Fatalf("unexpected output %q", out)
	}
	if got.Model != "test-model" || !got.Stream {
		t.Fatalf("unexpected request %+v", got)
	}
	if !strings.HasPrefix(got.Prompt, "You are an SDXL prompt expander.") || !strings.HasSuffix(got.Prompt, "NOW EXPAND THIS HINT:\nknight portrait") {
		t.Fatalf("unexpected prompt %q", got.Prompt)
	}
	if got.Options["top_p"] == nil || got.Options["temperature"] == nil {
		t.Fatalf("expected sampling options, got %v", got.Options)
	}
}

func TestOllamaExpandUsesRequestSystem(t *testing.T) {
	var got ollamaGenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		io.WriteString(w, `{"response":"ok","done":true}`)
	}))
	defer srv.Close()

	e := NewOllama(config.LLMConfig{BaseURL: srv.URL})
	if _, err := e.Expand(context.Background(), Request{Idea: "fox", System: "SYSTEM:\n"}); err != nil {
		t.Fatalf("expand: %v", err)
	}
	if got.Prompt != "SYSTEM:\nfox" {
		t.Fatalf("unexpected prompt %q", got.Prompt)
	}
	if got.Model != defaultOllamaModel {
		t.Fatalf("expected default model, got %q", got.Model)
	}
}

func TestOllamaExpandStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	e := NewOllama(config.LLMConfig{BaseURL: srv.URL, MaxRetries: 3, RetryBackoff: time.Millisecond})
	_, err := e.Expand(context.Background(), Request{Idea: "fox"})
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Fatalf("expected 404 StatusError, got %v", err)
	}
	if !strings.Contains(err.Error(), "ollama error: 404 model not found") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestOllamaRetriesTransientFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, `{"response":"second time","done":true}`)
	}))
	defer srv.Close()

	e := NewOllama(config.LLMConfig{BaseURL: srv.URL, MaxRetries: 1, RetryBackoff: time.Millisecond})
	out, err := e.Expand(context.Background(), Request{Idea: "fox"})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if out != "second time" || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected success on retry, got %q after %d calls", out, calls)
	}
}

func TestAnthropicRetriesOverloaded(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&calls, 1) {
		case 1:
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(529)
			io.WriteString(w, `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`)
		case 2:
			http.Error(w, "upstream connect error", http.StatusBadGateway)
		default:
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",`+
				`"content":[{"type":"text","text":"fox in fresh snow"}],"stop_reason":"end_turn",`+
				`"usage":{"input_tokens":10,"output_tokens":5}}`)
		}
	}))
	defer srv.Close()

	e, err := NewAnthropic(config.LLMConfig{
		APIKey: "k", BaseURL: srv.URL, Model: "claude-test",
		MaxRetries: 2, RetryBackoff: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewAnthropic: %v", err)
	}
	out, err := e.Expand(context.Background(), Request{Idea: "fox"})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if out != "fox in fresh snow" || atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected success on third attempt, got %q after %d calls", out, calls)
	}
}

func TestAnthropicDoesNotRetryInvalidRequest(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"type":"error","error":{"type":"invalid_request_error","message":"bad model"}}`)
	}))
	defer srv.Close()

	e, _ := NewAnthropic(config.LLMConfig{APIKey: "k", BaseURL: srv.URL, MaxRetries: 2, RetryBackoff: time.Millisecond})
	if _, err := e.Expand(context.Background(), Request{Idea: "fox"}); err == nil {
		t.Fatalf("expected invalid request error")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("invalid request retried: %d calls", n)
	}
}

func TestOllamaStreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"error":"out of memory"}`+"\n")
	}))
	defer srv.Close()

	_, err := NewOllama(config.LLMConfig{BaseURL: srv.URL}).Expand(context.Background(), Request{Idea: "fox"})
	if err == nil || !strings.Contains(err.Error(), "out of memory") {
		t.Fatalf("expected stream error, got %v", err)
	}
}

func TestOllamaEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"response":"   ","done":true}`)
	}))
	defer srv.Close()

	_, err := NewOllama(config.LLMConfig{BaseURL: srv.URL}).Expand(context.Background(), Request{Idea: "fox"})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestOpenAICompatExpand(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"m",
"choices":[{"index":0,"message":{"role":"assistant","content":"  red fox in snow  "},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	e := NewOpenAICompat(config.LLMConfig{BaseURL: srv.URL + "/v1", Model: "m", Temperature: 0.5, TopP: 0.9})
	out, err := e.Expand(context.Background(), Request{Idea: "red fox"})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if out != "red fox in snow" {
		t.Fatalf("unexpected output %q", out)
	}
	msgs, _ := got["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected system+user messages, got %v", got["messages"])
	}
	user, _ := msgs[1].(map[string]any)
	if user["content"] != "red fox" {
		t.Fatalf("unexpected user message %v", user)
	}
}

func TestOpenAICompatNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"m","choices":[]}`)
	}))
	defer srv.Close()

	_, err := NewOpenAICompat(config.LLMConfig{BaseURL: srv.URL}).Expand(context.Background(), Request{Idea: "x"})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestNewSelectsProvider(t *testing.T) {
	cases := map[string]string{"": "ollama", "ollama": "ollama", "OpenAI": "openai"}
	for provider, want := range cases {
		e, err := New(config.LLMConfig{Provider: provider})
		if err != nil {
			t.Fatalf("New(%q): %v", provider, err)
		}
		if e.Name() != want {
			t.Fatalf("New(%q) = %s, want %s", provider, e.Name(), want)
		}
	}

	if _, err := New(config.LLMConfig{Provider: "anthropic"}); err == nil {
		t.Fatalf("expected missing key error for anthropic")
	}
	a, err := New(config.LLMConfig{Provider: "anthropic", APIKey: "k"})
	if err != nil || a.Name() != "anthropic" || a.Model() != defaultAnthropicModel {
		t.Fatalf("unexpected anthropic expander %v %v", a, err)
	}
	if _, err := New(config.LLMConfig{Provider: "gemini"}); err == nil {
		t.Fatalf("expected unknown provider error")
	}
}

func TestSystemInstructionMentionsMarker(t *testing.T) {
	s := SystemInstruction()
	if !strings.Contains(s, "'negative:'") || !strings.Contains(s, "ONE single-line") {
		t.Fatalf("instruction lost its rules: %q", s)
	}
}
