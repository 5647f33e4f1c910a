package proxy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/haasonsaas/nexus/internal/store"
	"github.com/haasonsaas/nexus/pkg/chatapi"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestHandleEditMessageForksConversation(t *testing.T) {
	db := newTestStore(t)
	s := &Server{store: db}

	conv, err := db.CreateConversation(t.Context(), store.Conversation{UserID: "user-1"})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	first, err := db.AppendUserMessage(t.Context(), conv.ID, chatapi.RoleUser, "hello")
	if err != nil {
		t.Fatalf("AppendUserMessage: %v", err)
	}
	second, err := db.AppendUserMessage(t.Context(), conv.ID, chatapi.RoleAssistant, "hi there")
	if err != nil {
		t.Fatalf("AppendUserMessage (assistant): %v", err)
	}

	body, _ := json.Marshal(editRequestBody{Intent: &intentEnvelope{
		Type:            intentEditMessage,
		ClientOperation: "edit-1",
		MessageID:       first.ID,
		ExpectedSeq:     first.Seq,
		Content:         "hello, edited",
	}})

	req := httptest.NewRequest("PUT", "/v1/conversations/"+conv.ID+"/messages/"+first.ID+"/edit", bytes.NewReader(body))
	req.SetPathValue("id", conv.ID)
	req.SetPathValue("mid", first.ID)
	w := httptest.NewRecorder()

	s.handleEditMessage(w, req)

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp editResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success=true")
	}
	if resp.ForkConversationID == "" || resp.ForkConversationID == conv.ID {
		t.Fatalf("expected a distinct fork conversation id, got %q", resp.ForkConversationID)
	}
	if len(resp.Operations.Updated) != 1 || resp.Operations.Updated[0].ID != first.ID {
		t.Fatalf("expected operations.updated[0].id == %q, got %+v", first.ID, resp.Operations.Updated)
	}
	if len(resp.Operations.Deleted) != 1 || resp.Operations.Deleted[0] != second.ID {
		t.Fatalf("expected operations.deleted == [%q], got %+v", second.ID, resp.Operations.Deleted)
	}

	original, err := db.GetMessagesPage(t.Context(), conv.ID, 0, 100)
	if err != nil {
		t.Fatalf("GetMessagesPage(original): %v", err)
	}
	if len(original) != 2 {
		t.Fatalf("expected the original conversation to keep both messages, got %d", len(original))
	}

	forked, err := db.GetMessagesPage(t.Context(), resp.ForkConversationID, 0, 100)
	if err != nil {
		t.Fatalf("GetMessagesPage(fork): %v", err)
	}
	if len(forked) != 1 {
		t.Fatalf("expected the fork to contain only the edited tail, got %d", len(forked))
	}
	if forked[0].Content != "hello, edited" {
		t.Fatalf("expected edited content, got %q", forked[0].Content)
	}
}

func TestHandleEditMessageRejectsSeqMismatch(t *testing.T) {
	db := newTestStore(t)
	s := &Server{store: db}

	conv, err := db.CreateConversation(t.Context(), store.Conversation{UserID: "user-1"})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	first, err := db.AppendUserMessage(t.Context(), conv.ID, chatapi.RoleUser, "hello")
	if err != nil {
		t.Fatalf("AppendUserMessage: %v", err)
	}

	body, _ := json.Marshal(editRequestBody{Intent: &intentEnvelope{
		Type:            intentEditMessage,
		ClientOperation: "edit-1",
		MessageID:       first.ID,
		ExpectedSeq:     first.Seq + 1,
		Content:         "hello, edited",
	}})

	req := httptest.NewRequest("PUT", "/v1/conversations/"+conv.ID+"/messages/"+first.ID+"/edit", bytes.NewReader(body))
	req.SetPathValue("id", conv.ID)
	req.SetPathValue("mid", first.ID)
	w := httptest.NewRecorder()

	s.handleEditMessage(w, req)

	if w.Code != 400 {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	var resp errorEnvelope
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ErrorCode != "seq_mismatch" {
		t.Fatalf("expected seq_mismatch, got %q", resp.ErrorCode)
	}
}

func TestHandleEditMessageRejectsAssistantMessage(t *testing.T) {
	db := newTestStore(t)
	s := &Server{store: db}

	conv, err := db.CreateConversation(t.Context(), store.Conversation{UserID: "user-1"})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if _, err := db.AppendUserMessage(t.Context(), conv.ID, chatapi.RoleUser, "hello"); err != nil {
		t.Fatalf("AppendUserMessage: %v", err)
	}
	assistantMsg, err := db.AppendUserMessage(t.Context(), conv.ID, chatapi.RoleAssistant, "hi there")
	if err != nil {
		t.Fatalf("AppendUserMessage (assistant): %v", err)
	}

	body, _ := json.Marshal(editRequestBody{Intent: &intentEnvelope{
		Type:            intentEditMessage,
		ClientOperation: "edit-1",
		MessageID:       assistantMsg.ID,
		ExpectedSeq:     assistantMsg.Seq,
		Content:         "nope",
	}})

	req := httptest.NewRequest("PUT", "/v1/conversations/"+conv.ID+"/messages/"+assistantMsg.ID+"/edit", bytes.NewReader(body))
	req.SetPathValue("id", conv.ID)
	req.SetPathValue("mid", assistantMsg.ID)
	w := httptest.NewRecorder()

	s.handleEditMessage(w, req)

	if w.Code != 400 {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	var resp errorEnvelope
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ErrorCode != "edit_not_allowed" {
		t.Fatalf("expected edit_not_allowed, got %q", resp.ErrorCode)
	}
}
