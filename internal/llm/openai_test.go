package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewOpenAIClient(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		client := NewOpenAIClient(OpenAIConfig{
			APIKey: "test-key",
		})

		if client.model != "gpt-4o-mini" {
			t.Errorf("model = %q, want %q", client.model, "gpt-4o-mini")
		}

		if client.systemPrompt != DefaultSystemPrompt {
			t.Error("systemPrompt should default to DefaultSystemPrompt")
		}

		if client.apiURL != openaiAPIURL {
			t.Errorf("apiURL = %q, want %q", client.apiURL, openaiAPIURL)
		}

		if client.apiKey != "test-key" {
			t.Errorf("apiKey = %q, want %q", client.apiKey, "test-key")
		}
	})

	t.Run("custom model", func(t *testing.T) {
		client := NewOpenAIClient(OpenAIConfig{
			APIKey: "test-key",
			Model:  "gpt-4o",
		})

		if client.model != "gpt-4o" {
			t.Errorf("model = %q, want %q", client.model, "gpt-4o")
		}
	})

	t.Run("custom system prompt", func(t *testing.T) {
		customPrompt := "Custom system prompt for testing"
		client := NewOpenAIClient(OpenAIConfig{
			APIKey:       "test-key",
			SystemPrompt: customPrompt,
		})

		if client.systemPrompt != customPrompt {
			t.Errorf("systemPrompt = %q, want %q", client.systemPrompt, customPrompt)
		}
	})
}

func TestSetSystemPrompt(t *testing.T) {
	client := NewOpenAIClient(OpenAIConfig{
		APIKey: "test-key",
	})

	client.SetSystemPrompt("New custom prompt")
	if got := client.GetSystemPrompt(); got != "New custom prompt" {
		t.Errorf("GetSystemPrompt() = %q, want %q", got, "New custom prompt")
	}

	client.SetSystemPrompt("")
	if got := client.GetSystemPrompt(); got != "New custom prompt" {
		t.Error("empty prompt should not change current prompt")
	}
}

func TestBuildRequest(t *testing.T) {
	client := NewOpenAIClient(OpenAIConfig{APIKey: "k", SystemPrompt: "Be brief.", MaxTokens: 120})

	req := client.buildRequest([]Message{
		{Role: "user", Content: "Hi"},
		{Role: "assistant", Content: "Hello."},
		{Role: "user", Content: "How are you?"},
	})

	if !req.Stream || req.StreamOptions == nil || !req.StreamOptions.IncludeUsage {
		t.Error("request should stream and ask for usage")
	}
	if req.MaxTokens != 120 {
		t.Errorf("MaxTokens = %d, want 120", req.MaxTokens)
	}
	if len(req.Messages) != 4 {
		t.Fatalf("got %d messages, want 4", len(req.Messages))
	}
	if req.Messages[0].Role != "system" || !strings.Contains(req.Messages[0].Content, "Be brief.") {
		t.Errorf("first message = %+v, want system prompt", req.Messages[0])
	}
	if !strings.HasPrefix(req.Messages[0].Content, VoiceGuardrails) {
		t.Error("system prompt should start with the voice guardrails")
	}
	if req.Messages[3].Content != "How are you?" {
		t.Errorf("last message = %+v", req.Messages[3])
	}
}

func sseServer(t *testing.T, lines ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, l := range lines {
			fmt.Fprintf(w, "%s\n\n", l)
		}
	}))
}

func drain(s *Stream) string {
	var b strings.Builder
	for tok := range s.Tokens() {
		b.WriteString(tok)
	}
	return b.String()
}

func TestGenerateResponseStreamsTokens(t *testing.T) {
	srv := sseServer(t,
		`data: {"choices":[{"delta":{"role":"assistant"}}]}`,
		`data: {"choices":[{"delta":{"content":"Hello"}}]}`,
		`: keep-alive`,
		`data: {"choices":[{"delta":{"content":" there."}}]}`,
		`data: {"choices":[],"usage":{"prompt_tokens":42,"completion_tokens":3}}`,
		`data: [DONE]`,
	)
	defer srv.Close()

	client := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", APIURL: srv.URL})
	stream, err := client.GenerateResponse(context.Background(), []Message{{Role: "user", Content: "Hi"}})
	if err != nil {
		t.Fatalf("GenerateResponse: %v", err)
	}

	if got := drain(stream); got != "Hello there." {
		t.Errorf("text = %q, want %q", got, "Hello there.")
	}
	if err := stream.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
	if u := stream.Usage(); u.PromptTokens != 42 || u.CompletionTokens != 3 {
		t.Errorf("Usage() = %+v, want {42 3}", u)
	}
}

func TestGenerateResponseMidStreamError(t *testing.T) {
	srv := sseServer(t,
		`data: {"choices":[{"delta":{"content":"Partial"}}]}`,
		`data: {"error":{"message":"overloaded"}}`,
	)
	defer srv.Close()

	client := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", APIURL: srv.URL})
	stream, err := client.GenerateResponse(context.Background(), nil)
	if err != nil {
		t.Fatalf("GenerateResponse: %v", err)
	}

	if got := drain(stream); got != "Partial" {
		t.Errorf("text = %q, want %q", got, "Partial")
	}
	if err := stream.Err(); err == nil || !strings.Contains(err.Error(), "overloaded") {
		t.Errorf("Err() = %v, want overloaded error", err)
	}
}

func TestGenerateResponseTruncatedStream(t *testing.T) {
	srv := sseServer(t, `data: {"choices":[{"delta":{"content":"Cut"}}]}`)
	defer srv.Close()

	client := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", APIURL: srv.URL})
	stream, err := client.GenerateResponse(context.Background(), nil)
	if err != nil {
		t.Fatalf("GenerateResponse: %v", err)
	}
	drain(stream)
	if err := stream.Err(); err != io.ErrUnexpectedEOF {
		t.Errorf("Err() = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestGenerateResponseHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewOpenAIClient(OpenAIConfig{APIKey: "nope", APIURL: srv.URL})
	if _, err := client.GenerateResponse(context.Background(), nil); err == nil {
		t.Error("expected error for 401 response")
	}
}

func TestClientInterface(t *testing.T) {
	// Verify OpenAIClient implements Client interface
	var _ Client = (*OpenAIClient)(nil)
}
