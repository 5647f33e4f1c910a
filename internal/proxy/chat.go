package proxy

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus/internal/auth"
	"github.com/haasonsaas/nexus/internal/orchestrator"
	"github.com/haasonsaas/nexus/internal/providers"
	"github.com/haasonsaas/nexus/internal/sse"
	"github.com/haasonsaas/nexus/internal/store"
	"github.com/haasonsaas/nexus/internal/streamreg"
	"github.com/haasonsaas/nexus/pkg/chatapi"
)

// chatRequestBody is the wire shape accepted by POST /v1/chat/completions: the internal
// chatapi.Request plus every reserved/proxy-only field. Declaring these fields here,
// rather than decoding into a bare map, is what "strips reserved fields" in practice --
// they simply never reach the chatapi.Request embedded below.
type chatRequestBody struct {
	chatapi.Request

	ConversationID        string          `json:"conversation_id"`
	ProviderID            string          `json:"provider_id"`
	SystemPrompt          string          `json:"system_prompt"`
	Stream                *bool           `json:"stream"`
	ProviderStream        *bool           `json:"provider_stream"`
	MaxToolIterations     float64         `json:"max_tool_iterations"`
	ToolConcurrency       int             `json:"tool_concurrency"`
	Intent                *intentEnvelope `json:"intent"`

	// Reserved fields accepted but never forwarded upstream.
	StreamingEnabled      *bool  `json:"streamingEnabled"`
	ToolsEnabled          *bool  `json:"toolsEnabled"`
	ResearchMode          *bool  `json:"researchMode"`
	QualityLevel          string `json:"qualityLevel"`
	ClientRequestID       string `json:"client_request_id"`
	CustomRequestParamsID string `json:"custom_request_params_id"`
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("x-session-id")
	if sessionID == "" {
		sessionID = "anonymous"
	}
	if !s.limiter.allow(w, sessionID) {
		writeError(w, http.StatusTooManyRequests, kindRateLimitExceeded, "rate limit exceeded for this session")
		return
	}

	var body chatRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, kindInvalidRequest, "invalid JSON body: "+err.Error())
		return
	}

	facade, providerID, ok := s.facadeFor(firstNonEmpty(body.ProviderID, r.Header.Get("x-provider-id")))
	if !ok {
		writeError(w, http.StatusBadRequest, kindInvalidRequest, "unknown provider: "+providerID)
		return
	}

	conversationID := firstNonEmpty(body.ConversationID, r.Header.Get("x-conversation-id"))
	ctx := r.Context()
	userID := ""
	if u, ok := auth.UserFromContext(ctx); ok {
		userID = u.ID
	}

	conversationID, wireMessages, verr := s.reconcileIncoming(ctx, conversationID, userID, providerID, &body)
	if verr != nil {
		writeErrorDetailed(w, http.StatusBadRequest, kindValidation, verr.message, verr.code, body.intentClientOperation(), verr.details)
		return
	}

	storedPrompt := ""
	if conv, err := s.store.GetConversation(ctx, conversationID); err == nil {
		if v, ok := conv.Metadata["system_prompt"].(string); ok {
			storedPrompt = v
		}
	}
	resolved := orchestrator.ResolveSystemPrompt(wireMessages, body.SystemPrompt, storedPrompt, time.Now())
	wireMessages = orchestrator.PrependSystemMessage(wireMessages, resolved)

	if err := orchestrator.ValidateReasoningEffort(body.ReasoningEffort); err != nil {
		writeError(w, http.StatusBadRequest, kindValidation, err.Error())
		return
	}
	if err := orchestrator.ValidateVerbosity(body.Verbosity); err != nil {
		writeError(w, http.StatusBadRequest, kindValidation, err.Error())
		return
	}

	reasoningEffort, verbosity := body.ReasoningEffort, body.Verbosity
	rc := providers.RequestContext{Model: body.Model, SupportsReasoningControl: facade.SupportsReasoningControls(body.Model)}
	if !rc.SupportsReasoningControl {
		reasoningEffort, verbosity = "", ""
	}

	clientStream := true
	if body.Stream != nil {
		clientStream = *body.Stream
	}
	upstreamStream := clientStream
	if body.ProviderStream != nil {
		upstreamStream = *body.ProviderStream
	}

	gate := store.NewCheckpointGate(s.checkpointMinChars, s.checkpointInterval, s.checkpointEnabled)

	req := &chatapi.Request{
		Model:              body.Model,
		Messages:           wireMessages,
		Tools:              body.Tools,
		ToolChoice:         body.ToolChoice,
		Temperature:        body.Temperature,
		MaxTokens:          body.MaxTokens,
		Stream:             upstreamStream,
		ReasoningEffort:     reasoningEffort,
		Verbosity:          verbosity,
		PreviousResponseID: body.PreviousResponseID,
	}
	opts := orchestrator.Options{
		MaxIterations:      int(math.Floor(body.MaxToolIterations)),
		ToolConcurrency:    firstPositive(body.ToolConcurrency, s.toolConcurrency),
		CheckpointMinChars: s.checkpointMinChars,
		Stream:             upstreamStream,
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = s.maxIterations
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if body.ClientRequestID != "" {
		var ownerPtr *string
		if userID != "" {
			ownerPtr = &userID
		}
		s.aborts.Register(body.ClientRequestID, streamreg.AbortHandleFunc(func(string) { cancel() }), ownerPtr)
		defer s.aborts.Unregister(body.ClientRequestID)
	}

	if clientStream {
		s.runStreaming(runCtx, w, facade, rc, req, opts, conversationID, gate)
		return
	}
	s.runBuffered(runCtx, w, facade, rc, req, opts, conversationID, gate)
}

func (s *Server) runStreaming(ctx context.Context, w http.ResponseWriter, facade *providers.Facade, rc providers.RequestContext, req *chatapi.Request, opts orchestrator.Options, conversationID string, gate *store.CheckpointGate) {
	sse.SetHeaders(w)
	sink := newSSESink(ctx, w, uuid.NewString(), req.Model, s.store, conversationID, gate, s.metrics)

	if s.metrics != nil {
		s.metrics.ActiveStreams.Inc()
		defer s.metrics.ActiveStreams.Dec()
	}
	start := time.Now()
	err := orchestrator.Run(ctx, facade, rc, req, s.registry, sink, opts)
	s.observeProvider(facade, req.Model, err, start)
	if err != nil {
		if ctx.Err() != nil {
			if id := sink.MessageID(); id != "" {
				_ = s.store.MarkError(context.Background(), id)
			}
			_ = sse.WriteDone(w)
			return
		}
		s.logger.Error("chat completion stream failed", "error", err, "conversation_id", conversationID)
		if id := sink.MessageID(); id != "" {
			_ = s.store.MarkError(context.Background(), id)
		}
		_ = sse.WriteEvent(w, map[string]any{"error": kindProviderError, "message": err.Error()})
		_ = sse.WriteDone(w)
		return
	}

	if _, err := sink.Finalize(context.Background(), "stop"); err != nil {
		s.logger.Error("failed to finalize assistant message", "error", err, "conversation_id", conversationID)
	}
}

func (s *Server) runBuffered(ctx context.Context, w http.ResponseWriter, facade *providers.Facade, rc providers.RequestContext, req *chatapi.Request, opts orchestrator.Options, conversationID string, gate *store.CheckpointGate) {
	sink := newBufferSink(ctx, s.store, conversationID, gate, s.metrics)

	start := time.Now()
	err := orchestrator.Run(ctx, facade, rc, req, s.registry, sink, opts)
	s.observeProvider(facade, req.Model, err, start)
	if err != nil {
		if ctx.Err() != nil {
			if id := sink.MessageID(); id != "" {
				_ = s.store.MarkError(context.Background(), id)
			}
			writeError(w, http.StatusGatewayTimeout, kindUpstreamError, "request aborted")
			return
		}
		s.logger.Error("chat completion failed", "error", err, "conversation_id", conversationID)
		if id := sink.MessageID(); id != "" {
			_ = s.store.MarkError(context.Background(), id)
		}
		writeError(w, http.StatusBadGateway, kindProviderError, err.Error())
		return
	}

	messageID, finalizeErr := sink.Finalize(context.Background())
	if finalizeErr != nil {
		s.logger.Error("failed to finalize assistant message", "error", finalizeErr, "conversation_id", conversationID)
	}

	content := sink.content.String()
	resp := chatapi.Response{
		ID:      messageID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []chatapi.Choice{{
			Index:        0,
			Message:      chatapi.Message{Role: chatapi.RoleAssistant, Content: chatapi.Content{Text: content}},
			FinishReason: sink.finishReason,
		}},
	}
	if sink.usage != nil {
		resp.Usage = *sink.usage
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (body *chatRequestBody) intentClientOperation() string {
	if body.Intent == nil {
		return ""
	}
	return body.Intent.ClientOperation
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
