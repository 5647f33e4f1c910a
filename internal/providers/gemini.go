package providers

import (
	"encoding/json"
	"strings"

	"github.com/haasonsaas/nexus/pkg/chatapi"
)

// GeminiAdapter translates the internal request/response shape to and from Google's
// Gemini generateContent/streamGenerateContent API, grounded on the teacher's
// providers/google.go and toolconv/gemini.go (both built atop google.golang.org/genai).
type GeminiAdapter struct{}

func (GeminiAdapter) NeedsStreamingTranslation() bool { return true }

func (GeminiAdapter) TranslateRequest(req *chatapi.Request, rc RequestContext) (WireRequest, error) {
	var systemInstruction map[string]any
	contents := make([]map[string]any, 0, len(req.Messages))

	for _, m := range req.Messages {
		if m.Role == chatapi.RoleSystem {
			systemInstruction = map[string]any{
				"parts": []map[string]any{{"text": m.Content.AsString()}},
			}
			continue
		}

		role := "user"
		if m.Role == chatapi.RoleAssistant {
			role = "model"
		}

		var parts []map[string]any
		if text := m.Content.AsString(); text != "" {
			parts = append(parts, map[string]any{"text": text})
		}
		for _, p := range m.Content.Parts {
			if p.Type == "image_url" && p.ImageURL != nil {
				parts = append(parts, map[string]any{"inlineData": map[string]any{"data": p.ImageURL.URL}})
			}
		}
		for _, tc := range m.ToolCalls {
			var args map[string]any
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
			parts = append(parts, map[string]any{
				"functionCall": map[string]any{"name": tc.Function.Name, "args": args},
			})
		}
		if m.Role == chatapi.RoleTool {
			role = "function"
			parts = []map[string]any{{
				"functionResponse": map[string]any{
					"name":     m.Name,
					"response": map[string]any{"content": m.Content.AsString()},
				},
			}}
		}

		contents = append(contents, map[string]any{"role": role, "parts": parts})
	}

	body := map[string]any{"contents": contents}
	if systemInstruction != nil {
		body["systemInstruction"] = systemInstruction
	}

	genConfig := map[string]any{}
	if req.Temperature != nil {
		genConfig["temperature"] = *req.Temperature
	}
	if req.MaxTokens != nil {
		genConfig["maxOutputTokens"] = *req.MaxTokens
	}
	if len(genConfig) > 0 {
		body["generationConfig"] = genConfig
	}

	if len(req.Tools) > 0 {
		decls := make([]map[string]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, map[string]any{
				"name":        t.Function.Name,
				"description": t.Function.Description,
				"parameters":  t.Function.Parameters,
			})
		}
		body["tools"] = []map[string]any{{"functionDeclarations": decls}}
	}

	endpoint := ":generateContent"
	if req.Stream {
		endpoint = ":streamGenerateContent"
	}
	return WireRequest{Endpoint: endpoint, Body: body}, nil
}

type geminiPart struct {
	Text         string `json:"text"`
	FunctionCall *struct {
		Name string          `json:"name"`
		Args json.RawMessage `json:"args"`
	} `json:"functionCall"`
}

type geminiCandidate struct {
	Content struct {
		Parts []geminiPart `json:"parts"`
	} `json:"content"`
	FinishReason string `json:"finishReason"`
}

type geminiBody struct {
	Candidates []geminiCandidate `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

func (GeminiAdapter) TranslateResponse(body []byte) (*chatapi.Response, error) {
	var gb geminiBody
	if err := json.Unmarshal(body, &gb); err != nil {
		return nil, err
	}

	var text strings.Builder
	var toolCalls []chatapi.ToolCall
	finishReason := ""
	if len(gb.Candidates) > 0 {
		cand := gb.Candidates[0]
		finishReason = mapGeminiFinishReason(cand.FinishReason)
		for i, part := range cand.Content.Parts {
			if part.FunctionCall != nil {
				toolCalls = append(toolCalls, chatapi.ToolCall{
					Index: i,
					ID:    part.FunctionCall.Name,
					Type:  "function",
					Function: chatapi.FunctionCall{
						Name:      part.FunctionCall.Name,
						Arguments: string(part.FunctionCall.Args),
					},
				})
				continue
			}
			text.WriteString(part.Text)
		}
	}

	return &chatapi.Response{
		Object: "chat.completion",
		Choices: []chatapi.Choice{{
			Message: chatapi.Message{
				Role:      chatapi.RoleAssistant,
				Content:   chatapi.Content{Text: text.String()},
				ToolCalls: toolCalls,
			},
			FinishReason: finishReason,
		}},
		Usage: chatapi.Usage{
			PromptTokens:     gb.UsageMetadata.PromptTokenCount,
			CompletionTokens: gb.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      gb.UsageMetadata.TotalTokenCount,
		},
	}, nil
}

func mapGeminiFinishReason(reason string) string {
	switch reason {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	default:
		return strings.ToLower(reason)
	}
}

// TranslateStreamChunk handles one JSON object from Gemini's streamGenerateContent
// response, which is a JSON array of geminiBody fragments rather than true SSE "data:"
// framing; each line reaches this method through the orchestrator's SSE parser as a raw
// (non-data) line.
func (GeminiAdapter) TranslateStreamChunk(raw string) (*chatapi.Chunk, bool, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "[")
	raw = strings.TrimSuffix(raw, "]")
	raw = strings.TrimSuffix(raw, ",")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false, nil
	}

	var gb geminiBody
	if err := json.Unmarshal([]byte(raw), &gb); err != nil {
		return nil, false, nil
	}
	if len(gb.Candidates) == 0 {
		return nil, false, nil
	}

	cand := gb.Candidates[0]
	var textBuf strings.Builder
	var toolCalls []chatapi.ToolCall
	for i, part := range cand.Content.Parts {
		if part.FunctionCall != nil {
			toolCalls = append(toolCalls, chatapi.ToolCall{
				Index: i,
				ID:    part.FunctionCall.Name,
				Type:  "function",
				Function: chatapi.FunctionCall{
					Name:      part.FunctionCall.Name,
					Arguments: string(part.FunctionCall.Args),
				},
			})
			continue
		}
		textBuf.WriteString(part.Text)
	}

	delta := chatapi.Delta{Content: textBuf.String(), ToolCalls: toolCalls}
	var finish *string
	if cand.FinishReason != "" {
		f := mapGeminiFinishReason(cand.FinishReason)
		finish = &f
	}

	chunk := &chatapi.Chunk{
		Object:  "chat.completion.chunk",
		Choices: []chatapi.ChunkChoice{{Delta: delta, FinishReason: finish}},
		Usage: &chatapi.Usage{
			PromptTokens:     gb.UsageMetadata.PromptTokenCount,
			CompletionTokens: gb.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      gb.UsageMetadata.TotalTokenCount,
		},
	}
	return chunk, false, nil
}
