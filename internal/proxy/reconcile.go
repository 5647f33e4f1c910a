package proxy

import (
	"context"
	"errors"
	"fmt"

	"github.com/haasonsaas/nexus/internal/diff"
	"github.com/haasonsaas/nexus/internal/store"
	"github.com/haasonsaas/nexus/pkg/chatapi"
)

// reconcileIncoming resolves conversationID (creating one if absent), applies the
// append_message intent or the implicit legacy diff reconciliation, and returns the
// conversation id to use plus the full wire message history ready for the orchestrator.
func (s *Server) reconcileIncoming(ctx context.Context, conversationID, userID, providerID string, body *chatRequestBody) (string, []chatapi.Message, *validationError) {
	if conversationID == "" {
		if len(body.Messages) == 0 {
			return "", nil, newValidationError("missing_required_field", "messages must be non-empty", nil)
		}
		owner := userID
		if owner == "" {
			owner = "anonymous"
		}
		conv, err := s.store.CreateConversation(ctx, store.Conversation{UserID: owner, Model: body.Model, ProviderID: providerID})
		if err != nil {
			return "", nil, newValidationError("internal_error", fmt.Sprintf("failed to create conversation: %v", err), nil)
		}
		for _, m := range body.Messages {
			if err := persistIncoming(ctx, s.store, conv.ID, m); err != nil {
				return "", nil, newValidationError("internal_error", err.Error(), nil)
			}
		}
		wire, err := s.store.BuildWireMessages(ctx, conv.ID)
		if err != nil {
			return "", nil, newValidationError("internal_error", err.Error(), nil)
		}
		return conv.ID, wire, nil
	}

	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil, newValidationError("conversation_not_found", "no such conversation", nil)
		}
		return "", nil, newValidationError("internal_error", err.Error(), nil)
	}

	tailSeq := int64(0)
	if last, err := s.store.GetLastMessage(ctx, conversationID); err == nil {
		tailSeq = last.Seq
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", nil, newValidationError("internal_error", err.Error(), nil)
	}

	if body.Intent != nil {
		if body.Intent.Type != intentAppendMessage {
			return "", nil, newValidationError("invalid_intent", "unsupported intent type for this endpoint", nil)
		}
		if verr := validateAppendMessage(body.Intent, conversationID, tailSeq, body.Messages); verr != nil {
			return "", nil, verr
		}
		for _, m := range body.Messages {
			if err := persistIncoming(ctx, s.store, conversationID, m); err != nil {
				return "", nil, newValidationError("internal_error", err.Error(), nil)
			}
		}
	} else {
		stored, err := s.store.BuildWireMessages(ctx, conversationID)
		if err != nil {
			return "", nil, newValidationError("internal_error", err.Error(), nil)
		}
		if verr := reconcileLegacy(ctx, s.store, conversationID, stored, body.Messages); verr != nil {
			return "", nil, verr
		}
	}

	wire, err := s.store.BuildWireMessages(ctx, conversationID)
	if err != nil {
		return "", nil, newValidationError("internal_error", err.Error(), nil)
	}
	return conversationID, wire, nil
}

func persistIncoming(ctx context.Context, s *store.Store, conversationID string, msg chatapi.Message) error {
	if msg.Role == chatapi.RoleTool {
		_, err := s.AppendToolMessage(ctx, conversationID, msg.ToolCallID, msg.Content.AsString(), "success")
		return err
	}
	_, err := s.AppendUserMessage(ctx, conversationID, msg.Role, msg.Content.AsString())
	return err
}

// reconcileLegacy applies the implicit (no intent envelope) reconciliation path: the
// incoming messages represent the client's current view of the whole conversation.
// Compute aligns it against the stored rows; any stored row that no longer matches, and
// everything after it, is trimmed and replaced by the incoming tail.
func reconcileLegacy(ctx context.Context, s *store.Store, conversationID string, stored, incoming []chatapi.Message) *validationError {
	result := diff.Compute(stored, incoming)
	if !result.Valid {
		return newValidationError("seq_mismatch", "incoming messages do not align with the stored conversation", map[string]any{
			"reason": result.Reason,
		})
	}

	truncateSeq := int64(-1)
	for _, op := range result.Ops {
		if op.Op == diff.OpUpdate || op.Op == diff.OpDelete {
			seq := stored[op.StoredIndex].Seq
			if truncateSeq < 0 || seq-1 < truncateSeq {
				truncateSeq = seq - 1
			}
		}
	}
	if truncateSeq >= 0 {
		if err := s.DeleteMessagesFrom(ctx, conversationID, truncateSeq); err != nil {
			return newValidationError("internal_error", fmt.Sprintf("failed to trim conversation tail: %v", err), nil)
		}
	}

	for _, op := range result.Ops {
		trimmedUnchanged := op.Op == diff.OpUnchanged && truncateSeq >= 0 && stored[op.StoredIndex].Seq > truncateSeq
		if op.Op != diff.OpUpdate && op.Op != diff.OpInsert && !trimmedUnchanged {
			continue
		}
		msg := op.Message
		var err error
		if msg.Role == chatapi.RoleTool {
			_, err = s.AppendToolMessage(ctx, conversationID, msg.ToolCallID, msg.Content.AsString(), "success")
		} else {
			_, err = s.AppendUserMessage(ctx, conversationID, msg.Role, msg.Content.AsString())
		}
		if err != nil {
			return newValidationError("internal_error", fmt.Sprintf("failed to persist reconciled message: %v", err), nil)
		}
	}
	return nil
}
