package proxy

import (
	"testing"

	"github.com/haasonsaas/nexus/pkg/chatapi"
)

func seqPtr(v int64) *int64 { return &v }

func TestValidateAppendMessage(t *testing.T) {
	userMsgs := []chatapi.Message{{Role: chatapi.RoleUser, Content: chatapi.Content{Text: "hi"}}}

	tests := []struct {
		name           string
		intent         *intentEnvelope
		conversationID string
		tailSeq        int64
		messages       []chatapi.Message
		wantCode       string
	}{
		{
			name:           "missing client_operation",
			intent:         &intentEnvelope{},
			conversationID: "",
			messages:       userMsgs,
			wantCode:       "missing_required_field",
		},
		{
			name:           "new conversation does not require after_message_id",
			intent:         &intentEnvelope{ClientOperation: "op-1"},
			conversationID: "",
			messages:       userMsgs,
			wantCode:       "",
		},
		{
			name:           "existing conversation requires after_message_id",
			intent:         &intentEnvelope{ClientOperation: "op-1", AfterSeq: seqPtr(3)},
			conversationID: "conv-1",
			tailSeq:        3,
			messages:       userMsgs,
			wantCode:       "missing_required_field",
		},
		{
			name:           "existing conversation requires after_seq",
			intent:         &intentEnvelope{ClientOperation: "op-1", AfterMessageID: "msg-1"},
			conversationID: "conv-1",
			tailSeq:        3,
			messages:       userMsgs,
			wantCode:       "missing_required_field",
		},
		{
			name:           "after_seq mismatch",
			intent:         &intentEnvelope{ClientOperation: "op-1", AfterMessageID: "msg-1", AfterSeq: seqPtr(2)},
			conversationID: "conv-1",
			tailSeq:        3,
			messages:       userMsgs,
			wantCode:       "seq_mismatch",
		},
		{
			name:           "empty messages rejected",
			intent:         &intentEnvelope{ClientOperation: "op-1", AfterMessageID: "msg-1", AfterSeq: seqPtr(3)},
			conversationID: "conv-1",
			tailSeq:        3,
			messages:       nil,
			wantCode:       "missing_required_field",
		},
		{
			name:           "first message must be user role",
			intent:         &intentEnvelope{ClientOperation: "op-1", AfterMessageID: "msg-1", AfterSeq: seqPtr(3)},
			conversationID: "conv-1",
			tailSeq:        3,
			messages:       []chatapi.Message{{Role: chatapi.RoleAssistant, Content: chatapi.Content{Text: "hi"}}},
			wantCode:       "invalid_intent",
		},
		{
			name:           "valid append",
			intent:         &intentEnvelope{ClientOperation: "op-1", AfterMessageID: "msg-1", AfterSeq: seqPtr(3)},
			conversationID: "conv-1",
			tailSeq:        3,
			messages:       userMsgs,
			wantCode:       "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateAppendMessage(tt.intent, tt.conversationID, tt.tailSeq, tt.messages)
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error code %q, got nil", tt.wantCode)
			}
			if err.code != tt.wantCode {
				t.Fatalf("expected code %q, got %q (%s)", tt.wantCode, err.code, err.message)
			}
		})
	}
}

func TestValidateEditMessage(t *testing.T) {
	tests := []struct {
		name     string
		intent   *intentEnvelope
		target   editTarget
		wantCode string
	}{
		{
			name:     "missing client_operation",
			intent:   &intentEnvelope{MessageID: "msg-1", ExpectedSeq: 1, Content: "edited"},
			target:   editTarget{role: chatapi.RoleUser},
			wantCode: "missing_required_field",
		},
		{
			name:     "missing message_id",
			intent:   &intentEnvelope{ClientOperation: "op-1", ExpectedSeq: 1, Content: "edited"},
			target:   editTarget{role: chatapi.RoleUser},
			wantCode: "missing_required_field",
		},
		{
			name:     "expected_seq must be positive",
			intent:   &intentEnvelope{ClientOperation: "op-1", MessageID: "msg-1", Content: "edited"},
			target:   editTarget{role: chatapi.RoleUser},
			wantCode: "missing_required_field",
		},
		{
			name:     "content required",
			intent:   &intentEnvelope{ClientOperation: "op-1", MessageID: "msg-1", ExpectedSeq: 1},
			target:   editTarget{role: chatapi.RoleUser},
			wantCode: "missing_required_field",
		},
		{
			name:     "only user messages editable",
			intent:   &intentEnvelope{ClientOperation: "op-1", MessageID: "msg-1", ExpectedSeq: 1, Content: "edited"},
			target:   editTarget{role: chatapi.RoleAssistant},
			wantCode: "edit_not_allowed",
		},
		{
			name:     "valid edit",
			intent:   &intentEnvelope{ClientOperation: "op-1", MessageID: "msg-1", ExpectedSeq: 1, Content: "edited"},
			target:   editTarget{role: chatapi.RoleUser},
			wantCode: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateEditMessage(tt.intent, tt.target)
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error code %q, got nil", tt.wantCode)
			}
			if err.code != tt.wantCode {
				t.Fatalf("expected code %q, got %q (%s)", tt.wantCode, err.code, err.message)
			}
		})
	}
}
