package proxy

import (
	"fmt"

	"github.com/haasonsaas/nexus/pkg/chatapi"
)

// intentEnvelope is the optional body wrapper carrying an explicit client operation.
// Absence of the envelope preserves legacy (implicit reconciliation) behavior.
type intentEnvelope struct {
	Type             string `json:"type"`
	ClientOperation  string `json:"client_operation"`
	AfterMessageID   string `json:"after_message_id"`
	AfterSeq         *int64 `json:"after_seq"`
	MessageID        string `json:"message_id"`
	ExpectedSeq      int64  `json:"expected_seq"`
	Content          string `json:"content"`
}

const (
	intentAppendMessage = "append_message"
	intentEditMessage   = "edit_message"
)

// validationError carries an error_code and optional details, distinct from a plain Go
// error so handlers can map it straight to the {validation_error, error_code} envelope.
type validationError struct {
	code    string
	message string
	details any
}

func (e *validationError) Error() string { return e.message }

func newValidationError(code, message string, details any) *validationError {
	return &validationError{code: code, message: message, details: details}
}

// validateAppendMessage checks the append_message intent against the body it arrived
// with, per spec.md §4.I: conversation_id set implies after_message_id/after_seq are
// both required, and after_seq must equal the conversation's current tail seq.
func validateAppendMessage(intent *intentEnvelope, conversationID string, currentTailSeq int64, messages []chatapi.Message) *validationError {
	if intent.ClientOperation == "" {
		return newValidationError("missing_required_field", "intent.client_operation is required", nil)
	}
	if conversationID != "" {
		if intent.AfterMessageID == "" {
			return newValidationError("missing_required_field", "intent.after_message_id is required when conversation_id is set", nil)
		}
		if intent.AfterSeq == nil {
			return newValidationError("missing_required_field", "intent.after_seq is required when conversation_id is set", nil)
		}
		if *intent.AfterSeq != currentTailSeq {
			return newValidationError("seq_mismatch", "intent.after_seq does not match the conversation's current tail seq", map[string]any{
				"field":    "after_seq",
				"expected": currentTailSeq,
				"actual":   *intent.AfterSeq,
			})
		}
	}
	if len(messages) == 0 {
		return newValidationError("missing_required_field", "messages must be non-empty", nil)
	}
	if messages[0].Role != chatapi.RoleUser {
		return newValidationError("invalid_intent", fmt.Sprintf("first message must have role %q", chatapi.RoleUser), nil)
	}
	return nil
}

// validateEditMessage checks the edit_message intent's required fields and that the
// referenced row (role) is editable.
func validateEditMessage(intent *intentEnvelope, target editTarget) *validationError {
	if intent.ClientOperation == "" {
		return newValidationError("missing_required_field", "intent.client_operation is required", nil)
	}
	if intent.MessageID == "" {
		return newValidationError("missing_required_field", "intent.message_id is required", nil)
	}
	if intent.ExpectedSeq <= 0 {
		return newValidationError("missing_required_field", "intent.expected_seq must be > 0", nil)
	}
	if intent.Content == "" {
		return newValidationError("missing_required_field", "intent.content is required", nil)
	}
	if target.role != chatapi.RoleUser {
		return newValidationError("edit_not_allowed", "only user messages may be edited", nil)
	}
	return nil
}

// editTarget is the minimal projection validateEditMessage needs from a store.Message,
// kept separate so this file does not import internal/store for a single field check.
type editTarget struct {
	role chatapi.Role
}
