package orchestrator

import "github.com/haasonsaas/nexus/pkg/chatapi"

// toolCallAccumulator assembles streamed tool_calls deltas (which arrive as partial
// fragments keyed by Index — id and name on the first fragment, arguments dribbled
// in across subsequent ones) into complete chatapi.ToolCall values.
type toolCallAccumulator struct {
	byIndex map[int]*chatapi.ToolCall
	order   []int
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{byIndex: make(map[int]*chatapi.ToolCall)}
}

func (a *toolCallAccumulator) apply(deltas []chatapi.ToolCall) {
	for _, d := range deltas {
		existing, ok := a.byIndex[d.Index]
		if !ok {
			cloned := d
			a.byIndex[d.Index] = &cloned
			a.order = append(a.order, d.Index)
			continue
		}
		if d.ID != "" {
			existing.ID = d.ID
		}
		if d.Type != "" {
			existing.Type = d.Type
		}
		if d.Function.Name != "" {
			existing.Function.Name = d.Function.Name
		}
		existing.Function.Arguments += d.Function.Arguments
	}
}

func (a *toolCallAccumulator) finalize() []chatapi.ToolCall {
	if len(a.order) == 0 {
		return nil
	}
	out := make([]chatapi.ToolCall, 0, len(a.order))
	for _, idx := range a.order {
		out = append(out, *a.byIndex[idx])
	}
	return out
}
