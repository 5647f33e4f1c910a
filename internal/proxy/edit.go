package proxy

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/haasonsaas/nexus/internal/store"
	"github.com/haasonsaas/nexus/pkg/chatapi"
)

type editRequestBody struct {
	Intent *intentEnvelope `json:"intent"`
}

type editResponse struct {
	Success            bool           `json:"success"`
	ForkConversationID string         `json:"fork_conversation_id"`
	Operations         editOperations `json:"operations"`
}

// editedMessageRef identifies a message by id in an edit response's operations summary.
type editedMessageRef struct {
	ID string `json:"id"`
}

// editOperations summarizes what an edit-as-fork did to the original conversation's
// tail, from the client's point of view: the edited message is reported as updated (in
// place, by its original id) even though the fork physically stores it as a new row;
// every message after it is reported as deleted, since the fork's tail no longer
// contains them.
type editOperations struct {
	Updated []editedMessageRef `json:"updated"`
	Deleted []string           `json:"deleted"`
}

// handleEditMessage implements PUT /v1/conversations/:id/messages/:mid/edit: it forks
// the conversation up to (but excluding) the edited message, then appends the edited
// content as the new tail of the fork, leaving the original conversation untouched.
func (s *Server) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := r.PathValue("id")
	messageID := r.PathValue("mid")

	var body editRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, kindInvalidRequest, "invalid JSON body: "+err.Error())
		return
	}
	if body.Intent == nil || body.Intent.Type != intentEditMessage {
		writeErrorDetailed(w, http.StatusBadRequest, kindValidation, "intent.type must be edit_message", "invalid_intent", "", nil)
		return
	}
	if body.Intent.MessageID == "" {
		body.Intent.MessageID = messageID
	}

	target, err := s.store.GetMessageByID(ctx, body.Intent.MessageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErrorDetailed(w, http.StatusNotFound, kindValidation, "no such message", "conversation_not_found", body.Intent.ClientOperation, nil)
			return
		}
		writeError(w, http.StatusInternalServerError, kindInternal, err.Error())
		return
	}
	if target.ConversationID != conversationID {
		writeErrorDetailed(w, http.StatusNotFound, kindValidation, "message does not belong to this conversation", "conversation_not_found", body.Intent.ClientOperation, nil)
		return
	}

	if verr := validateEditMessage(body.Intent, editTarget{role: target.Role}); verr != nil {
		writeErrorDetailed(w, http.StatusBadRequest, kindValidation, verr.message, verr.code, body.Intent.ClientOperation, verr.details)
		return
	}
	if body.Intent.ExpectedSeq != target.Seq {
		writeErrorDetailed(w, http.StatusBadRequest, kindValidation, "expected_seq does not match the message's current seq", "seq_mismatch", body.Intent.ClientOperation, map[string]any{
			"field": "expected_seq", "expected": target.Seq, "actual": body.Intent.ExpectedSeq,
		})
		return
	}

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, kindInternal, err.Error())
		return
	}
	forked, err := s.store.ForkConversation(ctx, conv, target.Seq-1)
	if err != nil {
		writeError(w, http.StatusInternalServerError, kindInternal, "failed to fork conversation: "+err.Error())
		return
	}
	if _, err := s.store.AppendUserMessage(ctx, forked.ID, chatapi.RoleUser, body.Intent.Content); err != nil {
		writeError(w, http.StatusInternalServerError, kindInternal, "failed to append edited message: "+err.Error())
		return
	}

	tail, err := s.store.GetMessagesPage(ctx, conversationID, target.Seq, 1<<30)
	if err != nil {
		writeError(w, http.StatusInternalServerError, kindInternal, "failed to compute deleted operations: "+err.Error())
		return
	}
	deleted := make([]string, 0, len(tail))
	for _, m := range tail {
		deleted = append(deleted, m.ID)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(editResponse{
		Success:            true,
		ForkConversationID: forked.ID,
		Operations: editOperations{
			Updated: []editedMessageRef{{ID: target.ID}},
			Deleted: deleted,
		},
	})
}
