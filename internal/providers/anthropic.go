package providers

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/haasonsaas/nexus/pkg/chatapi"
)

// AnthropicVersion is the API version header every Messages request must carry, grounded
// on the teacher's anthropic-sdk-go usage (the SDK client sets this internally; requests
// here go out through the facade's own http.Client, so Facade.applyAuth sets it explicitly).
const AnthropicVersion = "2023-06-01"

// AnthropicAdapter translates the internal request/response shape to and from
// Anthropic's Messages API, grounded on the teacher's providers/anthropic.go and
// toolconv/anthropic.go content-block handling.
//
// TranslateRequest builds an anthropic.MessageNewParams the same way the teacher's
// AnthropicProvider.convertMessages/convertTools do, using the SDK's own content-block
// and tool-union constructors, then round-trips it through JSON into WireRequest.Body --
// the SDK owns the request shape, the facade's shared http.Client still owns dispatch.
type AnthropicAdapter struct {
	roleSent       bool
	currentToolID  string
	currentToolBuf strings.Builder
	currentName    string
}

func (*AnthropicAdapter) NeedsStreamingTranslation() bool { return true }

func (a *AnthropicAdapter) TranslateRequest(req *chatapi.Request, rc RequestContext) (WireRequest, error) {
	a.roleSent = false

	var system string
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == chatapi.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content.AsString()
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if text := m.Content.AsString(); text != "" && m.Role != chatapi.RoleTool {
			content = append(content, anthropic.NewTextBlock(text))
		}
		for _, tc := range m.ToolCalls {
			var input map[string]any
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Function.Name))
		}
		if m.Role == chatapi.RoleTool {
			content = append(content, anthropic.NewToolResultBlock(m.ToolCallID, m.Content.AsString(), false))
		}

		if m.Role == chatapi.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(content...))
		} else {
			// Tool results are sent back as a user-role message, per the teacher's
			// convertMessages (Anthropic has no separate "tool" role).
			messages = append(messages, anthropic.NewUserMessage(content...))
		}
	}

	maxTokens := int64(4096)
	if req.MaxTokens != nil {
		maxTokens = int64(*req.MaxTokens)
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			var schema anthropic.ToolInputSchemaParam
			if err := json.Unmarshal(t.Function.Parameters, &schema); err != nil {
				return WireRequest{}, fmt.Errorf("anthropic: invalid tool schema for %s: %w", t.Function.Name, err)
			}
			toolParam := anthropic.ToolUnionParamOfTool(schema, t.Function.Name)
			if toolParam.OfTool != nil {
				toolParam.OfTool.Description = anthropic.String(t.Function.Description)
			}
			tools = append(tools, toolParam)
		}
		params.Tools = tools
	}

	body, err := wireBody(params)
	if err != nil {
		return WireRequest{}, err
	}
	if req.Stream {
		body["stream"] = true
	}
	// The SDK encodes System as an array of text blocks; the wire body carries it as one
	// top-level string instead.
	if system != "" {
		body["system"] = system
	}
	if choice, ok := req.ToolChoice.(string); ok && choice != "" {
		body["tool_choice"] = map[string]any{"type": choice}
	} else if req.ToolChoice != nil {
		body["tool_choice"] = req.ToolChoice
	}

	return WireRequest{Endpoint: "/v1/messages", Body: body}, nil
}

type anthropicContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text"`
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

type anthropicMessageBody struct {
	ID      string                  `json:"id"`
	Model   string                  `json:"model"`
	Content []anthropicContentBlock `json:"content"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	StopReason string `json:"stop_reason"`
}

func (*AnthropicAdapter) TranslateResponse(body []byte) (*chatapi.Response, error) {
	var mb anthropicMessageBody
	if err := json.Unmarshal(body, &mb); err != nil {
		return nil, err
	}

	var text strings.Builder
	var toolCalls []chatapi.ToolCall
	for i, block := range mb.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			toolCalls = append(toolCalls, chatapi.ToolCall{
				Index: i,
				ID:    block.ID,
				Type:  "function",
				Function: chatapi.FunctionCall{
					Name:      block.Name,
					Arguments: string(block.Input),
				},
			})
		}
	}

	finishReason := mapAnthropicStopReason(mb.StopReason)

	return &chatapi.Response{
		ID:     mb.ID,
		Object: "chat.completion",
		Model:  mb.Model,
		Choices: []chatapi.Choice{{
			Message: chatapi.Message{
				Role:      chatapi.RoleAssistant,
				Content:   chatapi.Content{Text: text.String()},
				ToolCalls: toolCalls,
			},
			FinishReason: finishReason,
		}},
		Usage: chatapi.Usage{
			PromptTokens:     mb.Usage.InputTokens,
			CompletionTokens: mb.Usage.OutputTokens,
			TotalTokens:      mb.Usage.InputTokens + mb.Usage.OutputTokens,
		},
	}, nil
}

func mapAnthropicStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return reason
	}
}

type anthropicStreamEvent struct {
	Type         string `json:"type"`
	Index        int    `json:"index"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Message struct {
		ID    string `json:"id"`
		Model string `json:"model"`
	} `json:"message"`
}

func (a *AnthropicAdapter) TranslateStreamChunk(raw string) (*chatapi.Chunk, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false, nil
	}
	if raw == chatapi.DoneSentinel {
		return nil, true, nil
	}

	var evt anthropicStreamEvent
	if err := json.Unmarshal([]byte(raw), &evt); err != nil {
		return nil, false, nil
	}

	base := func(delta chatapi.Delta, finish *string) *chatapi.Chunk {
		return &chatapi.Chunk{
			ID:      evt.Message.ID,
			Object:  "chat.completion.chunk",
			Model:   evt.Message.Model,
			Choices: []chatapi.ChunkChoice{{Delta: delta, FinishReason: finish}},
		}
	}

	switch evt.Type {
	case "message_start":
		a.roleSent = false
		return nil, false, nil

	case "content_block_start":
		if evt.ContentBlock.Type == "tool_use" {
			a.currentToolID = evt.ContentBlock.ID
			a.currentName = evt.ContentBlock.Name
			a.currentToolBuf.Reset()
		}
		return nil, false, nil

	case "content_block_delta":
		switch evt.Delta.Type {
		case "text_delta":
			delta := chatapi.Delta{Content: evt.Delta.Text}
			if !a.roleSent {
				delta.Role = "assistant"
				a.roleSent = true
			}
			return base(delta, nil), false, nil
		case "input_json_delta":
			a.currentToolBuf.WriteString(evt.Delta.PartialJSON)
			return nil, false, nil
		}
		return nil, false, nil

	case "content_block_stop":
		if a.currentToolID != "" {
			delta := chatapi.Delta{ToolCalls: []chatapi.ToolCall{{
				Index: evt.Index,
				ID:    a.currentToolID,
				Type:  "function",
				Function: chatapi.FunctionCall{
					Name:      a.currentName,
					Arguments: a.currentToolBuf.String(),
				},
			}}}
			a.currentToolID = ""
			a.currentName = ""
			a.currentToolBuf.Reset()
			return base(delta, nil), false, nil
		}
		return nil, false, nil

	case "message_delta":
		if evt.Delta.StopReason != "" {
			finish := mapAnthropicStopReason(evt.Delta.StopReason)
			return base(chatapi.Delta{}, &finish), false, nil
		}
		return nil, false, nil

	case "message_stop":
		return nil, true, nil

	default:
		return nil, false, nil
	}
}
