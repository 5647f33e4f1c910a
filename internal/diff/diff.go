// Package diff implements the Message Diff engine (Component F): it aligns a stored
// message sequence against a client-supplied incoming sequence and classifies the
// changes needed to reconcile them, including tool-call/tool-output sub-diffing.
package diff

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/haasonsaas/nexus/pkg/chatapi"
)

// Op is the kind of change a message row requires.
type Op string

const (
	OpUnchanged Op = "unchanged"
	OpInsert    Op = "insert"
	OpUpdate    Op = "update"
	OpDelete    Op = "delete"
)

// MessageOp pairs a stored/incoming index with the operation to apply.
type MessageOp struct {
	Op             Op
	StoredIndex    int // -1 if not applicable (pure insert)
	IncomingIndex  int // -1 if not applicable (pure delete)
	Message        chatapi.Message
}

// ToolCallUpdate describes a tool-call row whose arguments/name changed in place.
type ToolCallUpdate struct {
	CallIndex int
	ToolCall  chatapi.ToolCall
}

// ToolOutputChange describes a tool-output insert or update, keyed by tool_call_id.
type ToolOutputChange struct {
	ToolCallID string
	Output     string
	Status     string
}

// Result is the outcome of computing a diff between stored and incoming.
type Result struct {
	Valid        bool
	Fallback     bool
	Reason       string
	AnchorOffset int // index in stored at which incoming alignment begins

	Ops []MessageOp

	ToolCallsToUpdate   []ToolCallUpdate
	ToolOutputsToInsert []ToolOutputChange
	ToolOutputsToUpdate []ToolOutputChange
}

// normalizedContent canonicalizes message content for comparison: strings are
// trimmed, structured array content is canonicalized to its JSON form.
func normalizedContent(c chatapi.Content) string {
	if c.Parts == nil {
		return strings.TrimSpace(c.Text)
	}
	encoded, err := json.Marshal(c.Parts)
	if err != nil {
		return strings.TrimSpace(c.Text)
	}
	return string(encoded)
}

func canonicalArguments(raw string) string {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return strings.TrimSpace(raw)
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return strings.TrimSpace(raw)
	}
	return string(encoded)
}

func sameRoleAndContent(a, b chatapi.Message) bool {
	return a.Role == b.Role && normalizedContent(a.Content) == normalizedContent(b.Content)
}

func toolCallsEqual(a, b []chatapi.ToolCall) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Function.Name != b[i].Function.Name {
			return false
		}
		if canonicalArguments(a[i].Function.Arguments) != canonicalArguments(b[i].Function.Arguments) {
			return false
		}
	}
	return true
}

func fullyEqual(a, b chatapi.Message) bool {
	if !sameRoleAndContent(a, b) {
		return false
	}
	if !toolCallsEqual(a.ToolCalls, b.ToolCalls) {
		return false
	}
	return true
}

// Compute aligns incoming against stored and classifies the resulting operations.
//
// Alignment tries a full-prefix match first (incoming[0..n] == stored[0..n]); failing
// that, suffix alignment finds the smallest k >= 0 such that incoming[0..m] ==
// stored[k..k+m] for m = len(incoming). If neither produces a full match and both
// sequences are non-empty, the result is a fallback with Valid=false.
func Compute(stored, incoming []chatapi.Message) Result {
	if len(incoming) == 0 || len(stored) == 0 {
		if len(incoming) == 0 && len(stored) == 0 {
			return Result{Valid: true, AnchorOffset: 0}
		}
		return Result{Valid: false, Fallback: true, Reason: "insufficient overlap"}
	}

	// Full-prefix match: anchor offset 0, aligned region covers min(len) messages.
	if matchesAt(stored, incoming, 0) {
		return classify(stored, incoming, 0)
	}

	// Suffix alignment: smallest k >= 0 with incoming[0..m] == stored[k..k+m].
	m := len(incoming)
	maxK := len(stored) - m
	if maxK < 0 {
		maxK = 0
	}
	for k := 0; k <= maxK; k++ {
		if matchesRange(stored, incoming, k, m) {
			return classify(stored, incoming, k)
		}
	}

	return Result{Valid: false, Fallback: true, Reason: "misaligned"}
}

func matchesAt(stored, incoming []chatapi.Message, offset int) bool {
	n := len(incoming)
	if offset+n > len(stored) {
		n = len(stored) - offset
	}
	return matchesRange(stored, incoming, offset, n)
}

func matchesRange(stored, incoming []chatapi.Message, offset, n int) bool {
	for i := 0; i < n; i++ {
		if offset+i >= len(stored) || i >= len(incoming) {
			return false
		}
		if !sameRoleAndContent(stored[offset+i], incoming[i]) {
			return false
		}
	}
	return true
}

func classify(stored, incoming []chatapi.Message, anchor int) Result {
	res := Result{Valid: true, AnchorOffset: anchor}

	for i := 0; i < anchor; i++ {
		res.Ops = append(res.Ops, MessageOp{Op: OpUnchanged, StoredIndex: i, IncomingIndex: -1, Message: stored[i]})
	}

	aligned := len(incoming)
	if anchor+aligned > len(stored) {
		aligned = len(stored) - anchor
	}

	for i := 0; i < aligned; i++ {
		s := stored[anchor+i]
		inc := incoming[i]
		if fullyEqual(s, inc) {
			res.Ops = append(res.Ops, MessageOp{Op: OpUnchanged, StoredIndex: anchor + i, IncomingIndex: i, Message: s})
			continue
		}
		res.Ops = append(res.Ops, MessageOp{Op: OpUpdate, StoredIndex: anchor + i, IncomingIndex: i, Message: inc})

		if len(s.ToolCalls) != len(inc.ToolCalls) {
			return Result{Valid: false, Fallback: true, Reason: "Tool call count changed", AnchorOffset: anchor}
		}
		for idx := range inc.ToolCalls {
			if s.ToolCalls[idx].Function.Name != inc.ToolCalls[idx].Function.Name ||
				canonicalArguments(s.ToolCalls[idx].Function.Arguments) != canonicalArguments(inc.ToolCalls[idx].Function.Arguments) {
				res.ToolCallsToUpdate = append(res.ToolCallsToUpdate, ToolCallUpdate{CallIndex: idx, ToolCall: inc.ToolCalls[idx]})
			}
		}
	}

	for i := anchor + aligned; i < len(stored); i++ {
		res.Ops = append(res.Ops, MessageOp{Op: OpDelete, StoredIndex: i, IncomingIndex: -1, Message: stored[i]})
	}
	for i := aligned; i < len(incoming); i++ {
		res.Ops = append(res.Ops, MessageOp{Op: OpInsert, StoredIndex: -1, IncomingIndex: i, Message: incoming[i]})
	}

	sort.SliceStable(res.ToolCallsToUpdate, func(i, j int) bool {
		return res.ToolCallsToUpdate[i].CallIndex < res.ToolCallsToUpdate[j].CallIndex
	})

	return res
}

// ToolOutputDiff matches tool-output rows by tool_call_id between a stored and
// incoming assistant/tool message pair, producing inserts for new call ids and
// updates for call ids whose output or status changed.
func ToolOutputDiff(stored, incoming map[string]ToolOutputChange) (inserts, updates []ToolOutputChange) {
	for id, inc := range incoming {
		cur, ok := stored[id]
		if !ok {
			inserts = append(inserts, inc)
			continue
		}
		if cur.Output != inc.Output || cur.Status != inc.Status {
			updates = append(updates, inc)
		}
	}
	sort.Slice(inserts, func(i, j int) bool { return inserts[i].ToolCallID < inserts[j].ToolCallID })
	sort.Slice(updates, func(i, j int) bool { return updates[i].ToolCallID < updates[j].ToolCallID })
	return inserts, updates
}
