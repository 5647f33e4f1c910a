package providers

import (
	"encoding/json"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/nexus/pkg/chatapi"
)

// ErrMissingMessages is returned when a ChatCompletions request carries no messages.
var ErrMissingMessages = errors.New("missing_messages")

// ChatCompletionsAdapter is the near-identity adapter for OpenAI-compatible chat
// completion endpoints (OpenAI itself, OpenRouter, Copilot-proxy, any self-hosted
// OpenAI-shaped server). It is also the baseline every other adapter is measured
// against: the internal request/response format IS this format.
//
// The wire body is built as an openai.ChatCompletionRequest, the same SDK type the
// teacher's OpenAIProvider hands to its client, then round-tripped through JSON into
// WireRequest.Body so the facade's single shared http.Client still owns dispatch --
// the SDK contributes the request shape, not a second transport.
type ChatCompletionsAdapter struct{}

func (ChatCompletionsAdapter) NeedsStreamingTranslation() bool { return false }

func (ChatCompletionsAdapter) TranslateRequest(req *chatapi.Request, rc RequestContext) (WireRequest, error) {
	if len(req.Messages) == 0 {
		return WireRequest{}, ErrMissingMessages
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		entry := openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    normalizeToString(m.Content),
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		if len(m.ToolCalls) > 0 {
			entry.ToolCalls = asOpenAIToolCalls(m.ToolCalls)
		}
		messages = append(messages, entry)
	}

	creq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   req.Stream,
	}
	if req.Temperature != nil {
		creq.Temperature = float32(*req.Temperature)
	}
	if req.MaxTokens != nil {
		creq.MaxTokens = *req.MaxTokens
	}
	if len(req.Tools) > 0 {
		creq.Tools = asOpenAITools(req.Tools)
	}
	if rc.SupportsReasoningControl && req.ReasoningEffort != "" {
		creq.ReasoningEffort = req.ReasoningEffort
	}

	body, err := wireBody(creq)
	if err != nil {
		return WireRequest{}, err
	}
	if req.ToolChoice != nil {
		body["tool_choice"] = req.ToolChoice
	}
	if rc.SupportsReasoningControl && req.Verbosity != "" {
		body["verbosity"] = req.Verbosity
	}

	return WireRequest{Endpoint: "/v1/chat/completions", Body: body}, nil
}

// wireBody round-trips an SDK request struct through JSON into a plain map, so every
// adapter can keep producing a map[string]any body (what the facade and its tests
// expect) while letting the SDK type own field names, tags, and omitempty rules.
func wireBody(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	body := make(map[string]any)
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, err
	}
	return body, nil
}

func asOpenAIToolCalls(calls []chatapi.ToolCall) []openai.ToolCall {
	out := make([]openai.ToolCall, 0, len(calls))
	for _, c := range calls {
		index := c.Index
		out = append(out, openai.ToolCall{
			Index: &index,
			ID:    c.ID,
			Type:  openai.ToolType(c.Type),
			Function: openai.FunctionCall{
				Name:      c.Function.Name,
				Arguments: c.Function.Arguments,
			},
		})
	}
	return out
}

func asOpenAITools(tools []chatapi.Tool) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolType(t.Type),
			Function: &openai.FunctionDefinition{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		})
	}
	return out
}

func (ChatCompletionsAdapter) TranslateResponse(body []byte) (*chatapi.Response, error) {
	trimmed := strings.TrimSpace(string(body))
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var asString string
		if err := json.Unmarshal(body, &asString); err == nil {
			body = []byte(asString)
		}
	}
	var resp chatapi.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (ChatCompletionsAdapter) TranslateStreamChunk(raw string) (*chatapi.Chunk, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false, nil
	}
	if raw == chatapi.DoneSentinel {
		return nil, true, nil
	}
	var chunk chatapi.Chunk
	if err := json.Unmarshal([]byte(raw), &chunk); err != nil {
		return nil, false, nil
	}
	return &chunk, false, nil
}
