package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/nexus/pkg/chatapi"
)

// ToolHandler executes one tool call's parsed arguments and returns its output as a
// string (non-string results are stringified by the caller that registers the handler,
// per the Open Question decision in DESIGN.md).
type ToolHandler func(ctx context.Context, arguments json.RawMessage) (string, error)

// Registry maps a tool name to its handler.
type Registry map[string]ToolHandler

// ToolCallResult is the outcome of dispatching one tool call, always carrying its
// original position so callers can reassemble ORIGINAL call order after parallel
// execution completes out of order.
type ToolCallResult struct {
	ToolCallID string
	Name       string
	Output     string
	Status     string // "success" or "error"
	DurationMS int64
	Index      int
}

// ExecuteToolCalls runs calls concurrently with at most concurrency in flight,
// preserving the original call order in the returned slice regardless of completion
// order. onComplete, if non-nil, fires once per result as it finishes (errors it
// returns, if it were allowed to, would be swallowed; it returns nothing by design).
// N=0 returns nil immediately without spawning anything.
func ExecuteToolCalls(ctx context.Context, calls []chatapi.ToolCall, registry Registry, concurrency int, onComplete func(ToolCallResult)) []ToolCallResult {
	if len(calls) == 0 {
		return nil
	}
	if concurrency < 1 {
		concurrency = 1
	}

	results := make([]ToolCallResult, len(calls))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc chatapi.ToolCall) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = ToolCallResult{ToolCallID: tc.ID, Name: tc.Function.Name, Status: "error", Output: "Error: context cancelled", Index: idx}
				safeComplete(onComplete, results[idx])
				return
			}

			results[idx] = dispatchOne(ctx, idx, tc, registry)
			safeComplete(onComplete, results[idx])
		}(i, call)
	}

	wg.Wait()
	return results
}

func safeComplete(onComplete func(ToolCallResult), r ToolCallResult) {
	if onComplete == nil {
		return
	}
	defer func() { _ = recover() }()
	onComplete(r)
}

func dispatchOne(ctx context.Context, index int, call chatapi.ToolCall, registry Registry) (result ToolCallResult) {
	start := time.Now()
	result = ToolCallResult{ToolCallID: call.ID, Name: call.Function.Name, Index: index}

	defer func() {
		result.DurationMS = time.Since(start).Milliseconds()
		if r := recover(); r != nil {
			result.Status = "error"
			result.Output = fmt.Sprintf("Tool %s failed: %v", call.Function.Name, r)
		}
	}()

	argsRaw := strings.TrimSpace(call.Function.Arguments)
	if argsRaw == "" {
		argsRaw = "{}"
	}
	var parsed json.RawMessage
	if !json.Valid([]byte(argsRaw)) {
		result.Status = "error"
		result.Output = fmt.Sprintf("Error: Invalid JSON arguments: %s", call.Function.Arguments)
		return result
	}
	parsed = json.RawMessage(argsRaw)

	handler, ok := registry[call.Function.Name]
	if !ok {
		result.Status = "error"
		result.Output = fmt.Sprintf("Error: Unknown tool: %s", call.Function.Name)
		return result
	}

	out, err := handler(ctx, parsed)
	if err != nil {
		result.Status = "error"
		result.Output = fmt.Sprintf("Tool %s failed: %v", call.Function.Name, err)
		return result
	}
	result.Status = "success"
	result.Output = out
	return result
}

// recoverStack is kept around for callers that want to log a panic's stack trace; the
// panic itself is already converted to an error-shaped output by dispatchOne.
func recoverStack() string {
	return string(debug.Stack())
}
