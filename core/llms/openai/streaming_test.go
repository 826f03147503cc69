package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/koscakluka/ema-live/core/llms"
)

func newSSEServer(t *testing.T, status int, lines []string, received *requestBody) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if received != nil {
			if err := json.NewDecoder(r.Body).Decode(received); err != nil {
				t.Errorf("failed to decode request: %v", err)
			}
		}
		w.WriteHeader(status)
		for _, line := range lines {
			fmt.Fprintf(w, "%s\n\n", line)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func collect(t *testing.T, stream llms.Stream) (string, error) {
	t.Helper()

	var text strings.Builder
	for chunk, err := range stream.Chunks(context.Background()) {
		if err != nil {
			return text.String(), err
		}
		if content, ok := chunk.(llms.StreamContentChunk); ok {
			text.WriteString(content.Content())
		}
	}
	return text.String(), nil
}

func TestStreamYieldsContentIncrements(t *testing.T) {
	var received requestBody
	server := newSSEServer(t, http.StatusOK, []string{
		`data: {"choices":[{"delta":{"content":"Hello"}}]}`,
		`data: {"choices":[{"delta":{"content":" there"}}]}`,
		`data: [DONE]`,
	}, &received)

	client, err := NewClient(llms.ProviderConfig{BaseURL: server.URL, Model: "test-model"})
	if err != nil {
		t.Fatalf("expected client, got %v", err)
	}

	text, err := collect(t, client.Generate(context.Background(), llms.Prompt{
		Instructions: "be nice",
		History:      []llms.Message{llms.UserMessage("hi")},
	}))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if text != "Hello there" {
		t.Fatalf("expected %q, got %q", "Hello there", text)
	}

	if received.Model != "test-model" || !received.Stream {
		t.Fatalf("unexpected request body %+v", received)
	}
	if len(received.Messages) != 2 || received.Messages[0].Role != messageRoleSystem {
		t.Fatalf("expected system + user messages, got %+v", received.Messages)
	}
}

func TestStreamReportsNonOKStatus(t *testing.T) {
	server := newSSEServer(t, http.StatusTooManyRequests, nil, nil)

	client, err := NewClient(llms.ProviderConfig{BaseURL: server.URL + "/v1/", Model: "m"})
	if err != nil {
		t.Fatalf("expected client, got %v", err)
	}

	if _, err := collect(t, client.Generate(context.Background(), llms.Prompt{})); err == nil {
		t.Fatalf("expected error for non-OK status")
	}
}

func TestToMessagesDropsEmptyAssistantEntries(t *testing.T) {
	messages, err := toMessages(llms.Prompt{History: []llms.Message{
		llms.UserMessage("tell me a story"),
		llms.AssistantMessage(""),
		llms.UserMessage("never mind"),
	}})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(messages) != 2 {
		t.Fatalf("expected two messages, got %+v", messages)
	}
	if messages[1].Content != "never mind" {
		t.Fatalf("expected last message to be the new prompt, got %q", messages[1].Content)
	}
}

func TestRegisteredAliases(t *testing.T) {
	for _, name := range []string{"openai", "groq", "ollama"} {
		if _, err := llms.New(name, llms.ProviderConfig{Model: "m"}); err != nil {
			t.Fatalf("expected %s to be registered, got %v", name, err)
		}
	}

	if _, err := llms.New("hfendpoint", llms.ProviderConfig{Model: "tgi"}); err == nil {
		t.Fatalf("expected hfendpoint without base url to fail")
	}
}
