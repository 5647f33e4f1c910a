package providers

import (
	"encoding/json"
	"strings"

	"github.com/haasonsaas/nexus/pkg/chatapi"
)

// ResponsesAdapter translates the internal Chat-Completions-shaped request into the
// OpenAI Responses API shape (POST /v1/responses), grounded on how the teacher's
// openai.go builds requests against github.com/openai/openai-go/v3's responses client.
//
// A ResponsesAdapter value is scoped to a single stream: roleSent tracks whether the
// opening {delta:{role:"assistant"}} chunk has already gone out, so TranslateRequest
// must not be called concurrently with TranslateStreamChunk on the same value.
type ResponsesAdapter struct {
	roleSent bool
}

func (*ResponsesAdapter) NeedsStreamingTranslation() bool { return true }

func (r *ResponsesAdapter) TranslateRequest(req *chatapi.Request, rc RequestContext) (WireRequest, error) {
	r.roleSent = false
	input := make([]map[string]any, 0, len(req.Messages))

	for _, m := range req.Messages {
		switch m.Role {
		case chatapi.RoleSystem:
			input = append(input, map[string]any{
				"role":    "system",
				"content": []map[string]any{{"type": "input_text", "text": m.Content.AsString()}},
			})

		case chatapi.RoleUser:
			input = append(input, map[string]any{
				"role":    "user",
				"content": userContentParts(m.Content),
			})

		case chatapi.RoleAssistant:
			if len(m.ToolCalls) > 0 {
				for _, tc := range m.ToolCalls {
					callID := tc.ID
					entry := map[string]any{
						"type":      "function_call",
						"call_id":   callID,
						"name":      tc.Function.Name,
						"arguments": tc.Function.Arguments,
					}
					input = append(input, entry)
				}
			}
			if !m.Content.IsEmpty() {
				input = append(input, map[string]any{
					"role":    "assistant",
					"content": []map[string]any{{"type": "output_text", "text": m.Content.AsString()}},
				})
			}

		case chatapi.RoleTool:
			input = append(input, map[string]any{
				"type":    "function_call_output",
				"call_id": m.ToolCallID,
				"output":  m.Content.AsString(),
			})
		}
	}

	body := map[string]any{
		"model": req.Model,
		"input": input,
	}
	if req.Stream {
		body["stream"] = true
	}
	if req.MaxTokens != nil {
		body["max_output_tokens"] = *req.MaxTokens
	}
	if req.PreviousResponseID != "" {
		body["previous_response_id"] = req.PreviousResponseID
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, map[string]any{
				"type":       "function",
				"name":       t.Function.Name,
				"parameters": t.Function.Parameters,
			})
		}
		body["tools"] = tools
	}
	if rc.SupportsReasoningControl {
		if req.ReasoningEffort != "" {
			body["reasoning_effort"] = req.ReasoningEffort
		}
		if req.Verbosity != "" {
			body["verbosity"] = req.Verbosity
		}
	}

	return WireRequest{Endpoint: "/v1/responses", Body: body}, nil
}

// userContentParts preserves multimodal parts verbatim and wraps plain text as a single
// input_text part, matching the Responses API's content-array shape for user turns.
func userContentParts(c chatapi.Content) []map[string]any {
	if c.Parts != nil {
		parts := make([]map[string]any, 0, len(c.Parts))
		for _, p := range c.Parts {
			switch p.Type {
			case "image_url":
				if p.ImageURL != nil {
					parts = append(parts, map[string]any{"type": "input_image", "image_url": p.ImageURL.URL})
				}
			default:
				parts = append(parts, map[string]any{"type": "input_text", "text": p.Text})
			}
		}
		return parts
	}
	return []map[string]any{{"type": "input_text", "text": c.Text}}
}

type responsesOutputContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responsesOutputItem struct {
	Content []responsesOutputContent `json:"content"`
}

type responsesBody struct {
	ID     string                `json:"id"`
	Model  string                `json:"model"`
	Status string                `json:"status"`
	Output []responsesOutputItem `json:"output"`
	Usage  struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (*ResponsesAdapter) TranslateResponse(body []byte) (*chatapi.Response, error) {
	var rb responsesBody
	if err := json.Unmarshal(body, &rb); err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, item := range rb.Output {
		for _, c := range item.Content {
			if c.Type == "output_text" {
				text.WriteString(c.Text)
			}
		}
	}

	finishReason := ""
	if rb.Status == "completed" {
		finishReason = "stop"
	}

	return &chatapi.Response{
		ID:     rb.ID,
		Object: "chat.completion",
		Model:  rb.Model,
		Choices: []chatapi.Choice{{
			Index:        0,
			Message:      chatapi.Message{Role: chatapi.RoleAssistant, Content: chatapi.Content{Text: text.String()}},
			FinishReason: finishReason,
		}},
		Usage: chatapi.Usage{
			PromptTokens:     rb.Usage.InputTokens,
			CompletionTokens: rb.Usage.OutputTokens,
			TotalTokens:      rb.Usage.InputTokens + rb.Usage.OutputTokens,
		},
	}, nil
}

type responsesStreamEvent struct {
	Type     string `json:"type"`
	Delta    string `json:"delta"`
	Response struct {
		ID    string `json:"id"`
		Model string `json:"model"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	} `json:"response"`
}

// TranslateStreamChunk is stateful across calls for a single stream: the first text
// delta emits a role-setting chunk before the content chunk, matching how a Chat
// Completions stream opens with {delta:{role:"assistant"}}. Each ResponsesAdapter value
// is scoped to one stream by the facade, so this field does not leak across requests.
func (r *ResponsesAdapter) TranslateStreamChunk(raw string) (*chatapi.Chunk, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false, nil
	}
	if raw == chatapi.DoneSentinel {
		return nil, true, nil
	}

	var evt responsesStreamEvent
	if err := json.Unmarshal([]byte(raw), &evt); err != nil {
		return nil, false, nil
	}

	switch evt.Type {
	case "response.output_text.delta":
		delta := chatapi.Delta{Content: evt.Delta}
		if !r.roleSent {
			delta.Role = "assistant"
			r.roleSent = true
		}
		return &chatapi.Chunk{
			ID:      evt.Response.ID,
			Object:  "chat.completion.chunk",
			Model:   evt.Response.Model,
			Choices: []chatapi.ChunkChoice{{Delta: delta, FinishReason: nil}},
		}, false, nil

	case "response.completed":
		stop := "stop"
		return &chatapi.Chunk{
			ID:      evt.Response.ID,
			Object:  "chat.completion.chunk",
			Model:   evt.Response.Model,
			Choices: []chatapi.ChunkChoice{{Delta: chatapi.Delta{}, FinishReason: &stop}},
			Usage: &chatapi.Usage{
				PromptTokens:     evt.Response.Usage.InputTokens,
				CompletionTokens: evt.Response.Usage.OutputTokens,
				TotalTokens:      evt.Response.Usage.InputTokens + evt.Response.Usage.OutputTokens,
			},
		}, false, nil

	default:
		return nil, false, nil
	}
}
