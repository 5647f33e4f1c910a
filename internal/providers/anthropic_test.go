package providers

import (
	"testing"

	"github.com/haasonsaas/nexus/pkg/chatapi"
)

func TestAnthropicAdapterLiftsSystemMessage(t *testing.T) {
	a := &AnthropicAdapter{}
	req := &chatapi.Request{
		Model: "claude-sonnet-4-20250514",
		Messages: []chatapi.Message{
			{Role: chatapi.RoleSystem, Content: chatapi.Content{Text: "be concise"}},
			{Role: chatapi.RoleUser, Content: chatapi.Content{Text: "hi"}},
		},
	}
	wire, err := a.TranslateRequest(req, emptyContext(req.Model))
	if err != nil {
		t.Fatalf("TranslateRequest: %v", err)
	}
	if wire.Body["system"] != "be concise" {
		t.Fatalf("expected system lifted out, got %v", wire.Body["system"])
	}
	messages, ok := wire.Body["messages"].([]any)
	if !ok || len(messages) != 1 {
		t.Fatalf("expected one non-system message, got %#v", wire.Body["messages"])
	}
}

func TestAnthropicAdapterToolChoiceStringNormalizes(t *testing.T) {
	a := &AnthropicAdapter{}
	req := &chatapi.Request{
		Model:      "claude-sonnet-4-20250514",
		ToolChoice: "auto",
		Messages:   []chatapi.Message{{Role: chatapi.RoleUser, Content: chatapi.Content{Text: "hi"}}},
	}
	wire, err := a.TranslateRequest(req, emptyContext(req.Model))
	if err != nil {
		t.Fatalf("TranslateRequest: %v", err)
	}
	choice, ok := wire.Body["tool_choice"].(map[string]any)
	if !ok || choice["type"] != "auto" {
		t.Fatalf("expected normalized tool_choice, got %#v", wire.Body["tool_choice"])
	}
}

func TestAnthropicAdapterStreamAssemblesToolCall(t *testing.T) {
	a := &AnthropicAdapter{}

	if _, done, _ := a.TranslateStreamChunk(`{"type":"message_start","message":{"id":"m1","model":"claude-sonnet-4-20250514"}}`); done {
		t.Fatalf("message_start should not be done")
	}
	if _, _, _ = a.TranslateStreamChunk(`{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"call_1","name":"get_time"}}`); a.currentToolID != "call_1" {
		t.Fatalf("expected tool id tracked, got %q", a.currentToolID)
	}
	if _, _, _ = a.TranslateStreamChunk(`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{}"}}`); a.currentToolBuf.String() != "{}" {
		t.Fatalf("expected partial json accumulated, got %q", a.currentToolBuf.String())
	}
	chunk, done, err := a.TranslateStreamChunk(`{"type":"content_block_stop","index":0}`)
	if err != nil || done || chunk == nil {
		t.Fatalf("unexpected content_block_stop result: %v %v %v", chunk, done, err)
	}
	if len(chunk.Choices[0].Delta.ToolCalls) != 1 || chunk.Choices[0].Delta.ToolCalls[0].Function.Name != "get_time" {
		t.Fatalf("expected assembled tool call, got %+v", chunk.Choices[0].Delta.ToolCalls)
	}

	_, done, _ = a.TranslateStreamChunk(`{"type":"message_stop"}`)
	if !done {
		t.Fatalf("expected message_stop to report done")
	}
}
