package providers

import (
	"testing"

	"github.com/haasonsaas/nexus/pkg/chatapi"
)

func TestGeminiAdapterRenamesAssistantRole(t *testing.T) {
	a := GeminiAdapter{}
	req := &chatapi.Request{
		Model: "gemini-2.0-flash",
		Messages: []chatapi.Message{
			{Role: chatapi.RoleUser, Content: chatapi.Content{Text: "hi"}},
			{Role: chatapi.RoleAssistant, Content: chatapi.Content{Text: "hello"}},
		},
	}
	wire, err := a.TranslateRequest(req, emptyContext(req.Model))
	if err != nil {
		t.Fatalf("TranslateRequest: %v", err)
	}
	contents, ok := wire.Body["contents"].([]map[string]any)
	if !ok || len(contents) != 2 {
		t.Fatalf("expected two contents entries, got %#v", wire.Body["contents"])
	}
	if contents[1]["role"] != "model" {
		t.Fatalf("expected assistant renamed to model, got %v", contents[1]["role"])
	}
}

func TestGeminiAdapterTranslateResponse(t *testing.T) {
	a := GeminiAdapter{}
	body := []byte(`{"candidates":[{"content":{"parts":[{"text":"hi"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":1,"candidatesTokenCount":2,"totalTokenCount":3}}`)
	resp, err := a.TranslateResponse(body)
	if err != nil {
		t.Fatalf("TranslateResponse: %v", err)
	}
	if resp.Choices[0].Message.Content.AsString() != "hi" {
		t.Fatalf("unexpected content %q", resp.Choices[0].Message.Content.AsString())
	}
	if resp.Choices[0].FinishReason != "stop" {
		t.Fatalf("expected normalized finish reason, got %q", resp.Choices[0].FinishReason)
	}
	if resp.Usage.TotalTokens != 3 {
		t.Fatalf("expected total tokens 3, got %d", resp.Usage.TotalTokens)
	}
}
