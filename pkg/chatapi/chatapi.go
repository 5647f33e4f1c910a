// Package chatapi defines the wire-shared, OpenAI-Chat-Completions-shaped types that
// flow between the proxy, the orchestrator, the provider adapters, and the persistence
// engine. Every provider, regardless of its own wire format, is translated to and from
// this shape at its adapter boundary.
package chatapi

import "encoding/json"

// Role is the author of a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// MessageStatus is the persistence lifecycle state of a stored message.
type MessageStatus string

const (
	StatusDraft MessageStatus = "draft"
	StatusFinal MessageStatus = "final"
	StatusError MessageStatus = "error"
)

// ContentPart is one element of a multimodal content array. Only Type is required;
// Text is set for "text"/"input_text"/"output_text" parts, ImageURL for "image_url".
type ContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *ImageURLPart `json:"image_url,omitempty"`
}

type ImageURLPart struct {
	URL string `json:"url"`
}

// Content is either a plain string or a []ContentPart, matching the Chat Completions
// wire shape where "content" may be either depending on the message.
type Content struct {
	Text  string
	Parts []ContentPart
}

// IsEmpty reports whether the content carries neither text nor parts.
func (c Content) IsEmpty() bool {
	return c.Text == "" && len(c.Parts) == 0
}

// MarshalJSON emits a bare string when only Text is set, else the parts array.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON accepts either a JSON string or an array of content parts.
func (c *Content) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		c.Text = text
		c.Parts = nil
		return nil
	}
	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	c.Parts = parts
	c.Text = ""
	return nil
}

// AsString renders the content as a single string, concatenating text parts.
func (c Content) AsString() string {
	if c.Parts == nil {
		return c.Text
	}
	out := ""
	for _, p := range c.Parts {
		if p.Type == "text" || p.Type == "input_text" || p.Type == "output_text" {
			out += p.Text
		}
	}
	return out
}

// FunctionCall is the name+arguments payload of a single tool call.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is a model-issued request to invoke a named tool, addressed by Index within
// the owning assistant message for streaming accumulation purposes.
type ToolCall struct {
	Index    int          `json:"index"`
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// Message is one row of a conversation, in both its wire shape (sent to/from providers)
// and its persisted shape (seq/status/timing are populated only for stored rows).
type Message struct {
	ID           string     `json:"id,omitempty"`
	ConversationID string   `json:"conversation_id,omitempty"`
	Seq          int64      `json:"seq,omitempty"`
	Role         Role       `json:"role"`
	Content      Content    `json:"content"`
	Name         string     `json:"name,omitempty"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID   string     `json:"tool_call_id,omitempty"`

	Status       MessageStatus `json:"status,omitempty"`
	FinishReason string        `json:"finish_reason,omitempty"`
	TokensIn     int           `json:"tokens_in,omitempty"`
	TokensOut    int           `json:"tokens_out,omitempty"`
	TokensTotal  int           `json:"tokens_total,omitempty"`
	ResponseID   string        `json:"response_id,omitempty"`
}

// Tool is the uniform internal representation of a callable tool, in the OpenAI
// function-calling shape. Tools are held in this shape regardless of upstream
// provider; translation to provider-specific shapes happens only inside an adapter's
// TranslateRequest.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Usage carries normalized token accounting, regardless of upstream field names.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Request is the internal, Chat-Completions-shaped request passed to a provider
// facade. Reserved fields present on an inbound client body (conversation_id,
// provider_id, client_operation, streamingEnabled, toolsEnabled, provider_stream, ...)
// are stripped by the proxy before a Request is constructed.
type Request struct {
	Model              string          `json:"model"`
	Messages           []Message       `json:"messages"`
	Tools              []Tool          `json:"tools,omitempty"`
	ToolChoice         any             `json:"tool_choice,omitempty"`
	Temperature        *float64        `json:"temperature,omitempty"`
	MaxTokens          *int            `json:"max_tokens,omitempty"`
	Stream             bool            `json:"stream,omitempty"`
	ReasoningEffort    string          `json:"reasoning_effort,omitempty"`
	Verbosity          string          `json:"verbosity,omitempty"`
	PreviousResponseID string          `json:"previous_response_id,omitempty"`
}

// Response is a non-streaming chat.completion object.
type Response struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Chunk is a chat.completion.chunk SSE frame, uniform across every upstream.
type Chunk struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *Usage       `json:"usage,omitempty"`
}

type ChunkChoice struct {
	Index        int   `json:"index"`
	Delta        Delta `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// Delta is a free-form incremental update. Content/Role/ToolCalls mirror the standard
// OpenAI streaming delta; ToolCall/ToolOutput are orchestrator-emitted extensions
// carrying tool execution results back to the client over the same SSE channel.
type Delta struct {
	Role       string     `json:"role,omitempty"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCall   *ToolCallEvent `json:"tool_call,omitempty"`
	ToolOutput *ToolOutputEvent `json:"tool_output,omitempty"`
}

// ToolCallEvent is emitted by the orchestrator when it dispatches a tool call.
type ToolCallEvent struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Index     int    `json:"index"`
}

// ToolOutputEvent is emitted by the orchestrator once a tool call has completed.
type ToolOutputEvent struct {
	ToolCallID string          `json:"tool_call_id"`
	Output     json.RawMessage `json:"output"`
	Status     string          `json:"status"`
	DurationMS int64           `json:"duration_ms"`
	Index      int             `json:"index"`
}

// DoneSentinel is the literal terminal SSE payload.
const DoneSentinel = "[DONE]"
