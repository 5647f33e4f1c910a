package proxy

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/haasonsaas/nexus/internal/store"
)

type toolCallView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type toolOutputView struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
	Status     string `json:"status"`
}

type messageView struct {
	ID           string           `json:"id"`
	Seq          int64            `json:"seq"`
	Role         string           `json:"role"`
	Content      string           `json:"content"`
	Name         string           `json:"name,omitempty"`
	ToolCallID   string           `json:"tool_call_id,omitempty"`
	Status       string           `json:"status"`
	FinishReason string           `json:"finish_reason,omitempty"`
	TokensIn     int              `json:"tokens_in,omitempty"`
	TokensOut    int              `json:"tokens_out,omitempty"`
	TokensTotal  int              `json:"tokens_total,omitempty"`
	ResponseID   string           `json:"response_id,omitempty"`
	ToolCalls    []toolCallView   `json:"tool_calls,omitempty"`
	ToolOutputs  []toolOutputView `json:"tool_outputs,omitempty"`
}

func toMessageView(m store.Message) messageView {
	v := messageView{
		ID: m.ID, Seq: m.Seq, Role: string(m.Role), Content: m.Content, Name: m.Name,
		ToolCallID: m.ToolCallID, Status: string(m.Status), FinishReason: m.FinishReason,
		TokensIn: m.TokensIn, TokensOut: m.TokensOut, TokensTotal: m.TokensTotal, ResponseID: m.ResponseID,
	}
	for _, tc := range m.ToolCalls {
		v.ToolCalls = append(v.ToolCalls, toolCallView{ID: tc.ID, Name: tc.ToolName, Arguments: tc.Arguments})
	}
	for _, to := range m.ToolOutputs {
		v.ToolOutputs = append(v.ToolOutputs, toolOutputView{ToolCallID: to.ToolCallID, Output: to.Output, Status: to.Status})
	}
	return v
}

const defaultMessagePageLimit = 50

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")

	afterSeq := int64(0)
	if raw := r.URL.Query().Get("after_seq"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, kindInvalidRequest, "after_seq must be an integer")
			return
		}
		afterSeq = parsed
	}
	limit := defaultMessagePageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, kindInvalidRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	if _, err := s.store.GetConversation(r.Context(), conversationID); err != nil {
		writeErrorDetailed(w, http.StatusNotFound, kindValidation, "no such conversation", "conversation_not_found", "", nil)
		return
	}

	rows, err := s.store.GetMessagesPage(r.Context(), conversationID, afterSeq, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, kindInternal, "failed to load messages: "+err.Error())
		return
	}

	views := make([]messageView, 0, len(rows))
	for _, row := range rows {
		views = append(views, toMessageView(row))
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"messages": views})
}
