package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/haasonsaas/nexus/pkg/chatapi"
)

func TestExecuteToolCallsZeroReturnsNilImmediately(t *testing.T) {
	results := ExecuteToolCalls(context.Background(), nil, Registry{}, 4, nil)
	if results != nil {
		t.Fatalf("expected nil, got %#v", results)
	}
}

func TestExecuteToolCallsPreservesOrder(t *testing.T) {
	calls := make([]chatapi.ToolCall, 5)
	for i := range calls {
		calls[i] = chatapi.ToolCall{ID: fmt.Sprintf("call-%d", i), Function: chatapi.FunctionCall{Name: "echo", Arguments: fmt.Sprintf(`{"n":%d}`, i)}}
	}

	registry := Registry{
		"echo": func(ctx context.Context, args json.RawMessage) (string, error) {
			var v struct{ N int }
			_ = json.Unmarshal(args, &v)
			return fmt.Sprintf("got-%d", v.N), nil
		},
	}

	results := ExecuteToolCalls(context.Background(), calls, registry, 3, nil)
	for i, r := range results {
		want := fmt.Sprintf("got-%d", i)
		if r.Output != want || r.Status != "success" {
			t.Fatalf("result[%d] = %#v, want output %q", i, r, want)
		}
	}
}

func TestExecuteToolCallsUnknownToolIsError(t *testing.T) {
	calls := []chatapi.ToolCall{{ID: "c1", Function: chatapi.FunctionCall{Name: "missing", Arguments: "{}"}}}
	results := ExecuteToolCalls(context.Background(), calls, Registry{}, 1, nil)
	if results[0].Status != "error" {
		t.Fatalf("expected error status, got %#v", results[0])
	}
}

func TestExecuteToolCallsInvalidJSONIsError(t *testing.T) {
	calls := []chatapi.ToolCall{{ID: "c1", Function: chatapi.FunctionCall{Name: "echo", Arguments: "{not json"}}}
	registry := Registry{"echo": func(ctx context.Context, args json.RawMessage) (string, error) { return "", nil }}
	results := ExecuteToolCalls(context.Background(), calls, registry, 1, nil)
	if results[0].Status != "error" {
		t.Fatalf("expected error status, got %#v", results[0])
	}
}

func TestExecuteToolCallsEmptyArgumentsDefaultToEmptyObject(t *testing.T) {
	calls := []chatapi.ToolCall{{ID: "c1", Function: chatapi.FunctionCall{Name: "echo", Arguments: ""}}}
	var seen json.RawMessage
	registry := Registry{"echo": func(ctx context.Context, args json.RawMessage) (string, error) {
		seen = args
		return "ok", nil
	}}
	results := ExecuteToolCalls(context.Background(), calls, registry, 1, nil)
	if string(seen) != "{}" || results[0].Status != "success" {
		t.Fatalf("expected {} arguments and success, got args=%s result=%#v", seen, results[0])
	}
}

func TestExecuteToolCallsPanicBecomesError(t *testing.T) {
	calls := []chatapi.ToolCall{{ID: "c1", Function: chatapi.FunctionCall{Name: "boom", Arguments: "{}"}}}
	registry := Registry{"boom": func(ctx context.Context, args json.RawMessage) (string, error) {
		panic("kaboom")
	}}
	results := ExecuteToolCalls(context.Background(), calls, registry, 1, nil)
	if results[0].Status != "error" {
		t.Fatalf("expected panic converted to error result, got %#v", results[0])
	}
}

func TestExecuteToolCallsHandlerErrorBecomesError(t *testing.T) {
	calls := []chatapi.ToolCall{{ID: "c1", Function: chatapi.FunctionCall{Name: "fails", Arguments: "{}"}}}
	registry := Registry{"fails": func(ctx context.Context, args json.RawMessage) (string, error) {
		return "", errors.New("boom")
	}}
	results := ExecuteToolCalls(context.Background(), calls, registry, 1, nil)
	if results[0].Status != "error" {
		t.Fatalf("expected handler error to become error result, got %#v", results[0])
	}
}

func TestExecuteToolCallsOnCompletePanicIsSwallowed(t *testing.T) {
	calls := []chatapi.ToolCall{{ID: "c1", Function: chatapi.FunctionCall{Name: "echo", Arguments: "{}"}}}
	registry := Registry{"echo": func(ctx context.Context, args json.RawMessage) (string, error) { return "ok", nil }}
	results := ExecuteToolCalls(context.Background(), calls, registry, 1, func(r ToolCallResult) { panic("onComplete boom") })
	if results[0].Status != "success" {
		t.Fatalf("expected success despite onComplete panic, got %#v", results[0])
	}
}
