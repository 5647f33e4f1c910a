package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/haasonsaas/nexus/pkg/chatapi"
)

// longFormTimeout bounds a single non-streaming or streaming completion call; it is long
// because a slow model may legitimately take over a minute to finish a response.
const longFormTimeout = 120 * time.Second

// listModelsTimeout bounds the lightweight model-listing call.
const listModelsTimeout = 15 * time.Second

// providerDefault holds the class-static fallback used when a facade's configured base
// URL is the empty string; it is never a stand-in for a configuration-supplied URL.
type providerDefault struct {
	baseURL     string
	openAIShape bool // trailing "/v1" is stripped from custom URLs only for this family
}

var providerDefaults = map[string]providerDefault{
	"openai":           {baseURL: "https://api.openai.com/v1", openAIShape: true},
	"openai_responses": {baseURL: "https://api.openai.com/v1", openAIShape: true},
	"openrouter":       {baseURL: "https://openrouter.ai/api/v1", openAIShape: true},
	"copilot_proxy":    {baseURL: "https://api.githubcopilot.com", openAIShape: true},
	"anthropic":        {baseURL: "https://api.anthropic.com"},
	"gemini":           {baseURL: "https://generativelanguage.googleapis.com/v1beta"},
}

// adapterFor returns a fresh Adapter for providerID. A fresh value is required per
// stream: ResponsesAdapter and AnthropicAdapter carry streaming-translation state
// (roleSent, in-flight tool-call accumulation) scoped to one request.
func adapterFor(providerID string) (Adapter, error) {
	switch providerID {
	case "openai", "openrouter", "copilot_proxy":
		return ChatCompletionsAdapter{}, nil
	case "openai_responses":
		return &ResponsesAdapter{}, nil
	case "anthropic":
		return &AnthropicAdapter{}, nil
	case "gemini":
		return GeminiAdapter{}, nil
	default:
		return nil, fmt.Errorf("providers: unknown provider id %q", providerID)
	}
}

// Facade owns one provider's credentials, resolved base URL, and HTTP dispatch. It is
// the only thing the orchestrator and proxy talk to; neither ever touches an Adapter
// directly.
type Facade struct {
	ProviderID   string
	APIKey       string
	BaseURL      string
	Headers      map[string]string
	DefaultModel string

	longClient *http.Client
	listClient *http.Client
	retry      retryPolicy
}

// NewFacade builds a facade for providerID. baseURL may be empty, in which case
// EffectiveBaseURL falls back to the provider's class-static default.
func NewFacade(providerID, apiKey, baseURL string, headers map[string]string) *Facade {
	return &Facade{
		ProviderID: providerID,
		APIKey:     apiKey,
		BaseURL:    baseURL,
		Headers:    headers,
		longClient: &http.Client{Timeout: longFormTimeout},
		listClient: &http.Client{Timeout: listModelsTimeout},
		retry:      newRetryPolicy(),
	}
}

// EffectiveBaseURL resolves settings.baseUrl || defaults.baseUrl; an empty-string
// override always falls back to the class-static default, never to some other
// configuration value. Trailing "/v1" is stripped from a custom URL only for the
// OpenAI-compatible family; Anthropic and Gemini use their defaults verbatim.
func (f *Facade) EffectiveBaseURL() string {
	def := providerDefaults[f.ProviderID]
	base := f.BaseURL
	if base == "" {
		return def.baseURL
	}
	if def.openAIShape {
		base = strings.TrimSuffix(strings.TrimRight(base, "/"), "/v1")
	}
	return base
}

func (f *Facade) newAdapter() (Adapter, error) {
	return adapterFor(f.ProviderID)
}

// GetToolsetSpec returns tools in the uniform internal OpenAI-function shape,
// unchanged, regardless of the facade's provider. Conversion to a provider-specific
// tool shape happens only inside an adapter's TranslateRequest, never here; merging
// those two steps was a recurring source of double-translated or silently dropped
// tools in earlier iterations of this kind of gateway.
func (f *Facade) GetToolsetSpec(toolsIn []chatapi.Tool) []chatapi.Tool {
	return toolsIn
}

func (f *Facade) buildHTTPRequest(ctx context.Context, wire WireRequest) (*http.Request, error) {
	payload, err := json.Marshal(wire.Body)
	if err != nil {
		return nil, fmt.Errorf("providers: marshal request body: %w", err)
	}

	url := f.EffectiveBaseURL() + wire.Endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	f.applyAuth(req)
	for k, v := range f.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func (f *Facade) applyAuth(req *http.Request) {
	switch f.ProviderID {
	case "anthropic":
		req.Header.Set("x-api-key", f.APIKey)
		req.Header.Set("anthropic-version", AnthropicVersion)
	case "gemini":
		q := req.URL.Query()
		q.Set("key", f.APIKey)
		req.URL.RawQuery = q.Encode()
	default:
		req.Header.Set("Authorization", "Bearer "+f.APIKey)
	}
}

// TranslateRequest exposes the resolved adapter's translation without dispatching it,
// used by callers that need the wire body without making a call (tests, debugging).
func (f *Facade) TranslateRequest(req *chatapi.Request, rc RequestContext) (Adapter, WireRequest, error) {
	adapter, err := f.newAdapter()
	if err != nil {
		return nil, WireRequest{}, err
	}
	wire, err := adapter.TranslateRequest(req, rc)
	if err != nil {
		return nil, WireRequest{}, err
	}
	return adapter, wire, nil
}

// SendRequest translates req, performs a non-streaming HTTP call, and translates the
// response back to internal shape.
func (f *Facade) SendRequest(ctx context.Context, req *chatapi.Request, rc RequestContext) (*chatapi.Response, error) {
	adapter, wire, err := f.TranslateRequest(req, rc)
	if err != nil {
		return nil, err
	}
	body, status, err := f.doRequest(ctx, wire)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, &ProviderModelsError{Provider: f.ProviderID, Status: status, Body: string(body)}
	}
	return adapter.TranslateResponse(body)
}

// SendRawRequest translates req, performs the HTTP call, and returns the raw response
// body without translation — used for the streaming path, where the facade's caller
// (the orchestrator) consumes the body as an SSE source and calls TranslateStreamChunk
// line by line.
func (f *Facade) SendRawRequest(ctx context.Context, req *chatapi.Request, rc RequestContext) (io.ReadCloser, Adapter, int, error) {
	adapter, wire, err := f.TranslateRequest(req, rc)
	if err != nil {
		return nil, nil, 0, err
	}

	var body io.ReadCloser
	var status int
	retryErr := f.retry.retry(ctx, isRetryableHTTPError, func() error {
		httpReq, err := f.buildHTTPRequest(ctx, wire)
		if err != nil {
			return err
		}
		resp, err := f.longClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("providers: %s request failed: %w", f.ProviderID, err)
		}
		if body != nil {
			body.Close()
		}
		body, status = resp.Body, resp.StatusCode
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return &httpStatusError{status: resp.StatusCode}
		}
		return nil
	})
	if retryErr != nil {
		var statusErr *httpStatusError
		if !errors.As(retryErr, &statusErr) {
			return nil, nil, 0, retryErr
		}
		// attempt budget exhausted on a retryable status; fall through with the last
		// response so the caller's own status>=400 handling can report it.
	}
	return body, adapter, status, nil
}

// StreamRequest is identical to SendRequest's dispatch path unless a concrete provider
// needs a distinct streaming entrypoint; none currently does, so it delegates to
// SendRawRequest.
func (f *Facade) StreamRequest(ctx context.Context, req *chatapi.Request, rc RequestContext) (io.ReadCloser, Adapter, int, error) {
	return f.SendRawRequest(ctx, req, rc)
}

// doRequest dispatches wire with the facade's retry policy, classifying 429/5xx
// responses and network-level timeouts as retryable (ported from the agent package's
// BaseProvider.Retry and OpenAIProvider.isRetryableError). A retryable status that
// survives the full attempt budget is still returned to the caller rather than as an
// error, so SendRequest's own status>=400 handling produces the final ProviderModelsError.
func (f *Facade) doRequest(ctx context.Context, wire WireRequest) ([]byte, int, error) {
	var body []byte
	var status int
	retryErr := f.retry.retry(ctx, isRetryableHTTPError, func() error {
		httpReq, err := f.buildHTTPRequest(ctx, wire)
		if err != nil {
			return err
		}
		resp, err := f.longClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("providers: %s request failed: %w", f.ProviderID, err)
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("providers: read %s response: %w", f.ProviderID, err)
		}
		body, status = b, resp.StatusCode
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return &httpStatusError{status: resp.StatusCode}
		}
		return nil
	})
	if retryErr != nil {
		var statusErr *httpStatusError
		if !errors.As(retryErr, &statusErr) {
			return nil, status, retryErr
		}
	}
	return body, status, nil
}

// SupportsTools reports whether this provider's family supports tool/function calling.
func (f *Facade) SupportsTools() bool {
	return true
}

// SupportsReasoningControls reports whether model accepts reasoning_effort/verbosity:
// true only on the "openai" and "openai_responses" providers, and only for models whose
// name starts with "o" or "gpt-5". The proxy clears both fields when this returns false.
func (f *Facade) SupportsReasoningControls(model string) bool {
	switch f.ProviderID {
	case "openai", "openai_responses":
		return strings.HasPrefix(model, "o") || strings.HasPrefix(model, "gpt-5")
	default:
		return false
	}
}

// SupportsPromptCaching reports whether this provider has an explicit prompt-caching
// mechanism (Anthropic's cache_control blocks); the gateway does not set cache_control
// itself.
func (f *Facade) SupportsPromptCaching() bool {
	return f.ProviderID == "anthropic"
}

// NeedsStreamingTranslation reports whether this provider's native stream format
// differs from the uniform chat.completion.chunk shape.
func (f *Facade) NeedsStreamingTranslation() bool {
	adapter, err := f.newAdapter()
	if err != nil {
		return false
	}
	return adapter.NeedsStreamingTranslation()
}

// Model is a normalized model listing entry.
type Model struct {
	ID string `json:"id"`
}

// ListModels fetches and normalizes the provider's model catalog. Upstream shapes vary
// widely; this method absorbs all of that so callers only ever see []Model.
func (f *Facade) ListModels(ctx context.Context) ([]Model, error) {
	url := f.EffectiveBaseURL() + f.listModelsPath()

	var body []byte
	var status int
	retryErr := f.retry.retry(ctx, isRetryableHTTPError, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		f.applyAuth(req)
		for k, v := range f.Headers {
			req.Header.Set(k, v)
		}

		resp, err := f.listClient.Do(req)
		if err != nil {
			return fmt.Errorf("providers: %s list models failed: %w", f.ProviderID, err)
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		body, status = b, resp.StatusCode
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return &httpStatusError{status: resp.StatusCode}
		}
		return nil
	})
	if retryErr != nil {
		var statusErr *httpStatusError
		if !errors.As(retryErr, &statusErr) {
			return nil, retryErr
		}
	}
	if status >= 400 {
		return nil, &ProviderModelsError{Provider: f.ProviderID, Status: status, Body: string(body)}
	}
	return normalizeModelList(body)
}

func (f *Facade) listModelsPath() string {
	return "/models"
}

// normalizeModelList handles three upstream shapes: OpenAI-style {data:[{id,...}]},
// Gemini-style {models:[{name:"models/<id>", displayName}]}, and raw arrays (of
// strings, wrapped as {id}, or of objects requiring an id/name).
func normalizeModelList(body []byte) ([]Model, error) {
	var openAIShape struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &openAIShape); err == nil && len(openAIShape.Data) > 0 {
		out := make([]Model, 0, len(openAIShape.Data))
		for _, m := range openAIShape.Data {
			if m.ID != "" {
				out = append(out, Model{ID: m.ID})
			}
		}
		return out, nil
	}

	var geminiShape struct {
		Models []struct {
			Name        string `json:"name"`
			DisplayName string `json:"displayName"`
		} `json:"models"`
	}
	if err := json.Unmarshal(body, &geminiShape); err == nil && len(geminiShape.Models) > 0 {
		out := make([]Model, 0, len(geminiShape.Models))
		for _, m := range geminiShape.Models {
			id := m.Name
			if idx := strings.LastIndex(id, "/"); idx >= 0 {
				id = id[idx+1:]
			}
			if id != "" {
				out = append(out, Model{ID: id})
			}
		}
		return out, nil
	}

	var rawStrings []string
	if err := json.Unmarshal(body, &rawStrings); err == nil {
		out := make([]Model, 0, len(rawStrings))
		for _, s := range rawStrings {
			if s != "" {
				out = append(out, Model{ID: s})
			}
		}
		return out, nil
	}

	var rawObjects []map[string]any
	if err := json.Unmarshal(body, &rawObjects); err == nil {
		out := make([]Model, 0, len(rawObjects))
		for _, o := range rawObjects {
			if id, ok := o["id"].(string); ok && id != "" {
				out = append(out, Model{ID: id})
				continue
			}
			if name, ok := o["name"].(string); ok && name != "" {
				if idx := strings.LastIndex(name, "/"); idx >= 0 {
					name = name[idx+1:]
				}
				out = append(out, Model{ID: name})
			}
		}
		return out, nil
	}

	return nil, fmt.Errorf("providers: unrecognized model list shape")
}
