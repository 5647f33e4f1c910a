package providers

import (
	"testing"

	"github.com/haasonsaas/nexus/pkg/chatapi"
)

func TestChatCompletionsAdapterMissingMessages(t *testing.T) {
	a := ChatCompletionsAdapter{}
	_, err := a.TranslateRequest(&chatapi.Request{Model: "gpt-4o"}, emptyContext("gpt-4o"))
	if err != ErrMissingMessages {
		t.Fatalf("expected ErrMissingMessages, got %v", err)
	}
}

func TestChatCompletionsAdapterTranslateRequest(t *testing.T) {
	a := ChatCompletionsAdapter{}
	req := &chatapi.Request{
		Model: "gpt-4o",
		Messages: []chatapi.Message{
			{Role: chatapi.RoleUser, Content: chatapi.Content{Text: "hi"}},
		},
	}
	wire, err := a.TranslateRequest(req, emptyContext("gpt-4o"))
	if err != nil {
		t.Fatalf("TranslateRequest: %v", err)
	}
	if wire.Endpoint != "/v1/chat/completions" {
		t.Fatalf("unexpected endpoint %q", wire.Endpoint)
	}
	if wire.Body["model"] != "gpt-4o" {
		t.Fatalf("unexpected model %v", wire.Body["model"])
	}
}

func TestChatCompletionsAdapterStreamChunk(t *testing.T) {
	a := ChatCompletionsAdapter{}

	if chunk, done, err := a.TranslateStreamChunk("  "); chunk != nil || done || err != nil {
		t.Fatalf("expected nil/false/nil for blank line, got %v %v %v", chunk, done, err)
	}
	if chunk, done, err := a.TranslateStreamChunk(chatapi.DoneSentinel); !done || chunk != nil || err != nil {
		t.Fatalf("expected done=true, got %v %v %v", chunk, done, err)
	}
	if chunk, _, err := a.TranslateStreamChunk(`{"id":"1","choices":[{"delta":{"content":"hi"}}]}`); err != nil || chunk == nil {
		t.Fatalf("expected parsed chunk, got %v err=%v", chunk, err)
	}
	if chunk, done, err := a.TranslateStreamChunk("not json"); chunk != nil || done || err != nil {
		t.Fatalf("expected silent nil for invalid json, got %v %v %v", chunk, done, err)
	}
}
