package store

import (
	"context"
	"testing"

	"github.com/haasonsaas/nexus/pkg/chatapi"
)

// newLiveStore opens a real in-memory SQLite database. The draft/checkpoint/finalize
// lifecycle exercises enough distinct prepared statements across transactions that
// mocking each one individually (as conversation_test.go does for simple CRUD) would
// mostly be re-asserting the SQL text rather than the lifecycle behavior; an in-memory
// database gives a truer end-to-end check of seq allocation and status transitions.
func newLiveStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDraftCheckpointFinalizeLifecycle(t *testing.T) {
	s := newLiveStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, Conversation{UserID: "user-1"})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	if _, err := s.AppendUserMessage(ctx, conv.ID, chatapi.RoleUser, "Hello"); err != nil {
		t.Fatalf("AppendUserMessage: %v", err)
	}

	msgID, seq, err := s.BeginDraft(ctx, conv.ID)
	if err != nil {
		t.Fatalf("BeginDraft: %v", err)
	}
	if seq != 2 {
		t.Fatalf("expected seq 2, got %d", seq)
	}

	if err := s.Checkpoint(ctx, msgID, "Hello wor"); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	toolCalls := []chatapi.ToolCall{{ID: "call_1", Function: chatapi.FunctionCall{Name: "get_time", Arguments: "{}"}}}
	if err := s.FinalizeAssistant(ctx, conv.ID, msgID, seq, "Hello world", "tool_calls", 10, 5, 15, "resp_1", toolCalls); err != nil {
		t.Fatalf("FinalizeAssistant: %v", err)
	}

	last, err := s.GetLastMessage(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetLastMessage: %v", err)
	}
	if last.Status != chatapi.StatusFinal {
		t.Fatalf("expected final status, got %s", last.Status)
	}
	if last.Content != "Hello world" {
		t.Fatalf("expected finalized content, got %q", last.Content)
	}
	if len(last.ToolCalls) != 1 || last.ToolCalls[0].ToolName != "get_time" {
		t.Fatalf("expected attached tool call, got %+v", last.ToolCalls)
	}
}

func TestMarkErrorPreservesLastCheckpoint(t *testing.T) {
	s := newLiveStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, Conversation{UserID: "user-1"})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	msgID, _, err := s.BeginDraft(ctx, conv.ID)
	if err != nil {
		t.Fatalf("BeginDraft: %v", err)
	}
	if err := s.Checkpoint(ctx, msgID, "partial output"); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if err := s.MarkError(ctx, msgID); err != nil {
		t.Fatalf("MarkError: %v", err)
	}

	last, err := s.GetLastMessage(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetLastMessage: %v", err)
	}
	if last.Status != chatapi.StatusError {
		t.Fatalf("expected error status, got %s", last.Status)
	}
	if last.Content != "partial output" {
		t.Fatalf("expected preserved content, got %q", last.Content)
	}
}

func TestSeqAllocationIsGapFreeAndAscending(t *testing.T) {
	s := newLiveStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, Conversation{UserID: "user-1"})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	for i, role := range []chatapi.Role{chatapi.RoleUser, chatapi.RoleAssistant, chatapi.RoleUser} {
		msg, err := s.AppendUserMessage(ctx, conv.ID, role, "content")
		if err != nil {
			t.Fatalf("AppendUserMessage[%d]: %v", i, err)
		}
		if msg.Seq != int64(i+1) {
			t.Fatalf("expected seq %d, got %d", i+1, msg.Seq)
		}
	}
}
