// Package orchestrator drives the iterative request/response/tool-call loop that
// turns one incoming chat request into zero or more model calls, dispatching tool
// calls between them and streaming normalized chunks to a Sink as they arrive.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/haasonsaas/nexus/internal/providers"
	"github.com/haasonsaas/nexus/internal/sse"
	"github.com/haasonsaas/nexus/pkg/chatapi"
)

// Sink receives normalized output as a turn progresses. Content and ToolCalls may be
// called many times per turn; Finish fires at most once, when Run ends without error
// (including the max-iterations stop). When Run returns an error, including a
// cancelled context, Finish is not called.
type Sink interface {
	Content(delta string)
	ToolCalls(calls []chatapi.ToolCallEvent)
	ToolComplete(result ToolCallResult)
	// PersistToolTurn records one iteration's assistant(tool_calls) message and the
	// tool(...) messages produced by executing it, so the next iteration's (and the
	// next request's) BuildWireMessages sees the full round trip, not just the final
	// content. Called once per iteration that asks for tool calls, before the loop
	// turns back to the model.
	PersistToolTurn(calls []chatapi.ToolCall, results []ToolCallResult)
	Finish(finishReason string, usage *chatapi.Usage)
}

// ModelCaller is the subset of *providers.Facade the loop depends on, narrowed so
// tests can supply a fake.
type ModelCaller interface {
	StreamRequest(ctx context.Context, req *chatapi.Request, rc providers.RequestContext) (io.ReadCloser, providers.Adapter, int, error)
	SendRequest(ctx context.Context, req *chatapi.Request, rc providers.RequestContext) (*chatapi.Response, error)
}

// Options configures one Run invocation.
type Options struct {
	MaxIterations      int
	ToolConcurrency    int
	CheckpointMinChars int
	Stream             bool
}

// Run executes the iterative loop: call the model, and if it asks for tool calls,
// dispatch them and call the model again, until it produces a plain content response,
// an abort is observed, or MaxIterations is reached.
func Run(ctx context.Context, caller ModelCaller, rc providers.RequestContext, req *chatapi.Request, registry Registry, sink Sink, opts Options) error {
	maxIter := ClampMaxIterations(opts.MaxIterations)
	concurrency := opts.ToolConcurrency
	if concurrency < 1 {
		concurrency = 1
	}

	working := *req
	workingMessages := append([]chatapi.Message(nil), req.Messages...)

	for iter := 0; iter < maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		working.Messages = workingMessages

		pendingCalls, finishReason, usage, err := runOneTurn(ctx, caller, rc, &working, sink, opts.Stream)
		if err != nil {
			return err
		}

		if len(pendingCalls) == 0 {
			sink.Finish(finishReason, usage)
			return nil
		}

		assistantMsg := chatapi.Message{Role: "assistant", ToolCalls: pendingCalls}
		workingMessages = append(workingMessages, assistantMsg)

		events := make([]chatapi.ToolCallEvent, len(pendingCalls))
		for i, c := range pendingCalls {
			events[i] = chatapi.ToolCallEvent{ID: c.ID, Name: c.Function.Name, Arguments: c.Function.Arguments, Index: c.Index}
		}
		sink.ToolCalls(events)

		results := ExecuteToolCalls(ctx, pendingCalls, registry, concurrency, sink.ToolComplete)
		sink.PersistToolTurn(pendingCalls, results)
		for _, r := range results {
			workingMessages = append(workingMessages, chatapi.Message{
				Role:       "tool",
				Content:    chatapi.Content{Text: r.Output},
				ToolCallID: r.ToolCallID,
			})
		}

		if err := ctx.Err(); err != nil {
			return err
		}
	}

	sink.Content("\n\n[Maximum iterations reached]")
	sink.Finish("length", nil)
	return nil
}

// runOneTurn performs exactly one model call (streaming or not) and returns any
// tool calls the model asked for, plus the finish reason/usage when it didn't.
func runOneTurn(ctx context.Context, caller ModelCaller, rc providers.RequestContext, req *chatapi.Request, sink Sink, streaming bool) ([]chatapi.ToolCall, string, *chatapi.Usage, error) {
	if !streaming {
		resp, err := caller.SendRequest(ctx, req, rc)
		if err != nil {
			return nil, "", nil, err
		}
		usage := resp.Usage
		if len(resp.Choices) == 0 {
			return nil, "stop", &usage, nil
		}
		choice := resp.Choices[0]
		if len(choice.Message.ToolCalls) > 0 {
			return choice.Message.ToolCalls, choice.FinishReason, &usage, nil
		}
		sink.Content(choice.Message.Content.AsString())
		return nil, choice.FinishReason, &usage, nil
	}

	body, adapter, status, err := caller.StreamRequest(ctx, req, rc)
	if err != nil {
		return nil, "", nil, err
	}
	defer body.Close()
	if status >= 400 {
		raw, _ := io.ReadAll(body)
		return nil, "", nil, fmt.Errorf("orchestrator: upstream status %d: %s", status, string(raw))
	}

	return consumeStream(body, adapter, sink)
}

// consumeStream reads body as an SSE source, translating each event through adapter
// and forwarding content/tool-call deltas to sink. It returns accumulated tool calls
// (if the model asked for any), the terminal finish reason, and usage.
func consumeStream(body io.Reader, adapter providers.Adapter, sink Sink) ([]chatapi.ToolCall, string, *chatapi.Usage, error) {
	accumulator := newToolCallAccumulator()
	finishReason := "stop"
	var usage *chatapi.Usage
	done := false

	handleChunk := func(raw string) {
		if done {
			return
		}
		chunk, isDone, err := adapter.TranslateStreamChunk(raw)
		if err != nil || chunk == nil {
			return
		}
		if isDone {
			done = true
		}
		applyChunk(chunk, accumulator, sink, &finishReason, &usage)
	}

	carry := ""
	buf := make([]byte, 8192)
	for !done {
		n, readErr := body.Read(buf)
		if n > 0 {
			carry = sse.Parse(buf[:n], carry, sse.Callbacks{
				OnEvent: func(obj map[string]any) {
					reencoded, err := json.Marshal(obj)
					if err != nil {
						return
					}
					handleChunk(string(reencoded))
				},
				OnDone: func() { done = true },
				OnRawLine: func(line string) {
					handleChunk(line)
				},
			})
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return nil, "", nil, readErr
		}
	}

	calls := accumulator.finalize()
	if len(calls) > 0 {
		finishReason = "tool_calls"
	}
	return calls, finishReason, usage, nil
}

func applyChunk(chunk *chatapi.Chunk, acc *toolCallAccumulator, sink Sink, finishReason *string, usage **chatapi.Usage) {
	if len(chunk.Choices) == 0 {
		if chunk.Usage != nil {
			*usage = chunk.Usage
		}
		return
	}
	choice := chunk.Choices[0]
	if choice.Delta.Content != "" {
		sink.Content(choice.Delta.Content)
	}
	if len(choice.Delta.ToolCalls) > 0 {
		acc.apply(choice.Delta.ToolCalls)
	}
	if choice.FinishReason != nil && *choice.FinishReason != "" {
		*finishReason = *choice.FinishReason
	}
	if chunk.Usage != nil {
		*usage = chunk.Usage
	}
}
