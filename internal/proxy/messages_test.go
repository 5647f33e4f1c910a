package proxy

import (
	"encoding/json"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/haasonsaas/nexus/internal/store"
	"github.com/haasonsaas/nexus/pkg/chatapi"
)

func TestHandleGetMessagesReturnsPage(t *testing.T) {
	db := newTestStore(t)
	s := &Server{store: db}

	conv, err := db.CreateConversation(t.Context(), store.Conversation{UserID: "user-1"})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	for _, text := range []string{"one", "two", "three"} {
		if _, err := db.AppendUserMessage(t.Context(), conv.ID, chatapi.RoleUser, text); err != nil {
			t.Fatalf("AppendUserMessage: %v", err)
		}
	}

	req := httptest.NewRequest("GET", "/v1/conversations/"+conv.ID+"/messages?"+url.Values{"limit": {"2"}}.Encode(), nil)
	req.SetPathValue("id", conv.ID)
	w := httptest.NewRecorder()

	s.handleGetMessages(w, req)

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Messages []messageView `json:"messages"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Messages) != 2 {
		t.Fatalf("expected 2 messages (limit applied), got %d", len(resp.Messages))
	}
	if resp.Messages[0].Content != "one" {
		t.Errorf("expected first message content %q, got %q", "one", resp.Messages[0].Content)
	}
}

func TestHandleGetMessagesUnknownConversation(t *testing.T) {
	db := newTestStore(t)
	s := &Server{store: db}

	req := httptest.NewRequest("GET", "/v1/conversations/missing/messages", nil)
	req.SetPathValue("id", "missing")
	w := httptest.NewRecorder()

	s.handleGetMessages(w, req)

	if w.Code != 404 {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleGetMessagesRejectsBadLimit(t *testing.T) {
	db := newTestStore(t)
	s := &Server{store: db}

	conv, err := db.CreateConversation(t.Context(), store.Conversation{UserID: "user-1"})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	req := httptest.NewRequest("GET", "/v1/conversations/"+conv.ID+"/messages?limit=-1", nil)
	req.SetPathValue("id", conv.ID)
	w := httptest.NewRecorder()

	s.handleGetMessages(w, req)

	if w.Code != 400 {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}
