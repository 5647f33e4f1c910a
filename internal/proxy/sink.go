package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/haasonsaas/nexus/internal/metrics"
	"github.com/haasonsaas/nexus/internal/orchestrator"
	"github.com/haasonsaas/nexus/internal/sse"
	"github.com/haasonsaas/nexus/internal/store"
	"github.com/haasonsaas/nexus/pkg/chatapi"
)

func toolOutputEvent(r orchestrator.ToolCallResult) chatapi.ToolOutputEvent {
	return chatapi.ToolOutputEvent{
		ToolCallID: r.ToolCallID,
		Output:     json.RawMessage(quoteJSONString(r.Output)),
		Status:     r.Status,
		DurationMS: r.DurationMS,
		Index:      r.Index,
	}
}

// quoteJSONString renders s as a JSON string literal; tool output is always
// transported as a string per the Open Question decision recorded in DESIGN.md.
func quoteJSONString(s string) string {
	encoded, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(encoded)
}

// sseSink writes every orchestrator event as a chat.completion.chunk SSE frame and
// checkpoints accumulated content to the store as it grows, matching spec.md §4.H's
// "emit text deltas... and checkpoint via G". It satisfies orchestrator.Sink.
//
// The final assistant row's draft is allocated lazily, on first content delta (or at
// Finalize if the turn never streamed any content), rather than up front: any tool-call
// iterations persisted mid-turn via PersistToolTurn must get lower seq values than the
// final content row, which is only possible if the final row's seq is allocated after
// them.
type sseSink struct {
	ctx       context.Context
	w         http.ResponseWriter
	id        string
	model     string
	created   int64
	firstSent bool

	store          *store.Store
	conversationID string
	messageID      string
	seq            int64
	gate           *store.CheckpointGate
	buffer         strings.Builder
	metrics        *metrics.Metrics
}

func newSSESink(ctx context.Context, w http.ResponseWriter, id, model string, s *store.Store, conversationID string, gate *store.CheckpointGate, m *metrics.Metrics) *sseSink {
	return &sseSink{ctx: ctx, w: w, id: id, model: model, created: time.Now().Unix(), store: s, conversationID: conversationID, gate: gate, metrics: m}
}

func (s *sseSink) ensureDraft() {
	if s.store == nil || s.conversationID == "" || s.messageID != "" {
		return
	}
	messageID, seq, err := s.store.BeginDraft(s.ctx, s.conversationID)
	if err != nil {
		return
	}
	s.messageID, s.seq = messageID, seq
}

func (s *sseSink) Content(delta string) {
	if !s.firstSent {
		s.firstSent = true
		_ = sse.WriteEvent(s.w, sse.ChunkEnvelope(s.id, s.model, s.created, chatapi.Delta{Role: "assistant"}, nil))
	}
	_ = sse.WriteEvent(s.w, sse.ChunkEnvelope(s.id, s.model, s.created, chatapi.Delta{Content: delta}, nil))

	s.buffer.WriteString(delta)
	s.ensureDraft()
	s.maybeCheckpoint()
}

func (s *sseSink) maybeCheckpoint() {
	if s.store == nil || s.messageID == "" || s.gate == nil {
		return
	}
	if s.gate.ShouldCheckpoint(s.buffer.Len()) {
		_ = s.store.Checkpoint(s.ctx, s.messageID, s.buffer.String())
		s.gate.Reset(s.buffer.Len())
		if s.metrics != nil {
			s.metrics.CheckpointCounter.Inc()
		}
	}
}

func (s *sseSink) ToolCalls(calls []chatapi.ToolCallEvent) {
	for i := range calls {
		_ = sse.WriteEvent(s.w, sse.ChunkEnvelope(s.id, s.model, s.created, chatapi.Delta{ToolCall: &calls[i]}, nil))
	}
}

func (s *sseSink) ToolComplete(result orchestrator.ToolCallResult) {
	event := toolOutputEvent(result)
	_ = sse.WriteEvent(s.w, sse.ChunkEnvelope(s.id, s.model, s.created, chatapi.Delta{ToolOutput: &event}, nil))
	s.metrics.ObserveTool(result.Name, result.Status, time.Duration(result.DurationMS)*time.Millisecond)
}

// PersistToolTurn stores the assistant(tool_calls) row and each tool(...) result row
// for one orchestrator iteration, ahead of the final content row, so the stored order
// matches user, assistant(tool_calls), tool(...), assistant(final).
func (s *sseSink) PersistToolTurn(calls []chatapi.ToolCall, results []orchestrator.ToolCallResult) {
	if s.store == nil || s.conversationID == "" {
		return
	}
	messageID, seq, err := s.store.BeginDraft(s.ctx, s.conversationID)
	if err != nil {
		return
	}
	_ = s.store.FinalizeAssistant(s.ctx, s.conversationID, messageID, seq, "", "tool_calls", 0, 0, 0, "", calls)
	for _, r := range results {
		_, _ = s.store.AppendToolMessage(s.ctx, s.conversationID, r.ToolCallID, r.Output, r.Status)
	}
}

func (s *sseSink) Finish(finishReason string, usage *chatapi.Usage) {
	_ = sse.WriteEvent(s.w, sse.ChunkEnvelope(s.id, s.model, s.created, chatapi.Delta{}, &finishReason))
	_ = sse.WriteDone(s.w)
}

// Buffered returns the content accumulated so far, used after a streamed turn finishes
// to decide whether finalization has anything to persist.
func (s *sseSink) Buffered() string { return s.buffer.String() }

// Finalize persists the final assistant content row, allocating its draft now if the
// turn never streamed any content delta. Returns the empty string if the store was
// never wired (messageID never allocated and never will be).
func (s *sseSink) Finalize(ctx context.Context, finishReason string) (string, error) {
	s.ensureDraft()
	if s.messageID == "" {
		return "", nil
	}
	err := s.store.FinalizeAssistant(ctx, s.conversationID, s.messageID, s.seq, s.buffer.String(), finishReason, 0, 0, 0, "", nil)
	return s.messageID, err
}

// MessageID returns the draft/final message id once allocated, or "" if no draft has
// been begun yet (e.g. the turn failed before any content streamed).
func (s *sseSink) MessageID() string { return s.messageID }

// bufferSink accumulates a full turn's output in memory for the non-streaming JSON
// response path. It satisfies orchestrator.Sink. Like sseSink, its final message draft
// is allocated lazily so its seq sorts after any tool-turn rows persisted mid-run.
type bufferSink struct {
	ctx          context.Context
	content      strings.Builder
	finishReason string
	usage        *chatapi.Usage
	toolEvents   []chatapi.ToolCallEvent
	toolResults  []chatapi.ToolOutputEvent

	store          *store.Store
	conversationID string
	messageID      string
	seq            int64
	gate           *store.CheckpointGate
	metrics        *metrics.Metrics
}

func newBufferSink(ctx context.Context, s *store.Store, conversationID string, gate *store.CheckpointGate, m *metrics.Metrics) *bufferSink {
	return &bufferSink{ctx: ctx, store: s, conversationID: conversationID, gate: gate, metrics: m}
}

func (b *bufferSink) ensureDraft() {
	if b.store == nil || b.conversationID == "" || b.messageID != "" {
		return
	}
	messageID, seq, err := b.store.BeginDraft(b.ctx, b.conversationID)
	if err != nil {
		return
	}
	b.messageID, b.seq = messageID, seq
}

func (b *bufferSink) Content(delta string) {
	b.content.WriteString(delta)
	b.ensureDraft()
	if b.store != nil && b.messageID != "" && b.gate != nil && b.gate.ShouldCheckpoint(b.content.Len()) {
		_ = b.store.Checkpoint(b.ctx, b.messageID, b.content.String())
		b.gate.Reset(b.content.Len())
		if b.metrics != nil {
			b.metrics.CheckpointCounter.Inc()
		}
	}
}

func (b *bufferSink) ToolCalls(calls []chatapi.ToolCallEvent) {
	b.toolEvents = append(b.toolEvents, calls...)
}

func (b *bufferSink) ToolComplete(result orchestrator.ToolCallResult) {
	b.toolResults = append(b.toolResults, toolOutputEvent(result))
	b.metrics.ObserveTool(result.Name, result.Status, time.Duration(result.DurationMS)*time.Millisecond)
}

// PersistToolTurn stores the assistant(tool_calls) row and each tool(...) result row
// for one orchestrator iteration, ahead of the final content row.
func (b *bufferSink) PersistToolTurn(calls []chatapi.ToolCall, results []orchestrator.ToolCallResult) {
	if b.store == nil || b.conversationID == "" {
		return
	}
	messageID, seq, err := b.store.BeginDraft(b.ctx, b.conversationID)
	if err != nil {
		return
	}
	_ = b.store.FinalizeAssistant(b.ctx, b.conversationID, messageID, seq, "", "tool_calls", 0, 0, 0, "", calls)
	for _, r := range results {
		_, _ = b.store.AppendToolMessage(b.ctx, b.conversationID, r.ToolCallID, r.Output, r.Status)
	}
}

func (b *bufferSink) Finish(finishReason string, usage *chatapi.Usage) {
	b.finishReason = finishReason
	b.usage = usage
}

// Finalize persists the final assistant content row, allocating its draft now if the
// turn never streamed any content delta.
func (b *bufferSink) Finalize(ctx context.Context) (string, error) {
	b.ensureDraft()
	if b.messageID == "" {
		return "", nil
	}
	tokensIn, tokensOut, tokensTotal := 0, 0, 0
	if b.usage != nil {
		tokensIn, tokensOut, tokensTotal = b.usage.PromptTokens, b.usage.CompletionTokens, b.usage.TotalTokens
	}
	err := b.store.FinalizeAssistant(ctx, b.conversationID, b.messageID, b.seq, b.content.String(), b.finishReason, tokensIn, tokensOut, tokensTotal, "", nil)
	return b.messageID, err
}

// MessageID returns the draft/final message id once allocated, or "" if no draft has
// been begun yet.
func (b *bufferSink) MessageID() string { return b.messageID }
