package proxy

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/haasonsaas/nexus/internal/streamreg"
)

func TestHandleAbortRejectsMissingRequestID(t *testing.T) {
	s := &Server{aborts: streamreg.New()}

	req := httptest.NewRequest("POST", "/v1/chat/abort", bytes.NewBufferString(`{}`))
	w := httptest.NewRecorder()
	s.handleAbort(w, req)

	if w.Code != 400 {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandleAbortReportsRegisteredRequest(t *testing.T) {
	s := &Server{aborts: streamreg.New()}
	called := false
	s.aborts.Register("req-1", streamreg.AbortHandleFunc(func(string) { called = true }), nil)

	req := httptest.NewRequest("POST", "/v1/chat/abort", bytes.NewBufferString(`{"request_id":"req-1"}`))
	w := httptest.NewRecorder()
	s.handleAbort(w, req)

	var resp abortResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Aborted {
		t.Fatalf("expected aborted=true")
	}
	if !called {
		t.Fatalf("expected the registered abort handle to be invoked")
	}
}

func TestHandleAbortUnknownRequestIDReportsFalse(t *testing.T) {
	s := &Server{aborts: streamreg.New()}

	req := httptest.NewRequest("POST", "/v1/chat/abort", bytes.NewBufferString(`{"request_id":"nope"}`))
	w := httptest.NewRecorder()
	s.handleAbort(w, req)

	var resp abortResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Aborted {
		t.Fatalf("expected aborted=false for an unregistered request id")
	}
}
