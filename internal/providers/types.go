// Package providers implements wire-format translation between the gateway's internal
// Chat-Completions-shaped request/response format and each upstream provider's native
// API, plus the per-provider facade that owns credentials, base URLs, and HTTP dispatch.
package providers

import (
	"encoding/json"
	"strings"

	"github.com/haasonsaas/nexus/pkg/chatapi"
)

// reservedRequestFields are stripped from the internal request before any adapter sees
// it. They carry proxy-layer intent, not model-facing request data.
var reservedRequestFields = []string{
	"conversation_id", "provider_id", "client_operation", "streamingEnabled",
	"toolsEnabled", "researchMode", "qualityLevel", "client_request_id",
	"custom_request_params_id", "provider_stream", "providerStream", "intent",
}

// RequestContext carries per-call facts an adapter needs beyond the request body
// itself: whether the target model supports reasoning controls, and so on.
type RequestContext struct {
	Model                    string
	SupportsReasoningControl bool
}

// WireRequest is what an adapter produces: the upstream path to call and a body ready
// for JSON encoding. Body is a plain map: the ChatCompletions and Anthropic adapters fill
// it by round-tripping an SDK request struct through wireBody, and the Responses and
// Gemini adapters build it directly.
type WireRequest struct {
	Endpoint string
	Body     map[string]any
}

// Adapter is the common capability set every wire-format translator implements.
// ChatCompletions, ResponsesAPI, AnthropicMessages, and Gemini are its four concrete
// variants; none embed one another, each composes shared helpers below by value.
type Adapter interface {
	TranslateRequest(req *chatapi.Request, rc RequestContext) (WireRequest, error)
	TranslateResponse(body []byte) (*chatapi.Response, error)
	TranslateStreamChunk(raw string) (chunk *chatapi.Chunk, done bool, err error)
	NeedsStreamingTranslation() bool
}

// stripReservedFields removes proxy-only keys from a loosely typed request map. No
// adapter in this package calls it; the typed chatapi.Request never carries these keys.
func stripReservedFields(m map[string]any) {
	for _, k := range reservedRequestFields {
		delete(m, k)
	}
}

// normalizeToString flattens chatapi.Content to a plain string for wire shapes that do
// not support multimodal parts (most non-assistant roles in most adapters).
func normalizeToString(c chatapi.Content) string {
	return c.AsString()
}

// canonicalArguments re-serializes a JSON arguments string with sorted keys, so two
// functionally identical argument strings compare equal regardless of key order or
// whitespace. Invalid JSON passes through unchanged.
func canonicalArguments(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	out, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return string(out)
}

// emptyContext is a convenience for call sites that only need a model name.
func emptyContext(model string) RequestContext {
	return RequestContext{Model: model}
}
