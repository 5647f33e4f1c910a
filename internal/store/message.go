package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus/pkg/chatapi"
)

// Message mirrors the Message entity, plus its attached ToolCalls/ToolOutputs.
type Message struct {
	ID             string
	ConversationID string
	Seq            int64
	Role           chatapi.Role
	Content        string
	Name           string
	ToolCallID     string
	Status         chatapi.MessageStatus
	FinishReason   string
	TokensIn       int
	TokensOut      int
	TokensTotal    int
	ResponseID     string
	CreatedAt      time.Time
	UpdatedAt      time.Time

	ToolCalls   []ToolCall
	ToolOutputs []ToolOutput
}

// ToolCall is one persisted row of the tool_calls child table.
type ToolCall struct {
	ID         string
	MessageID  string
	CallIndex  int
	ToolName   string
	Arguments  string
	TextOffset *int
}

// ToolOutput is one persisted row of the tool_outputs child table.
type ToolOutput struct {
	ID         string
	ToolCallID string
	MessageID  string
	Output     string
	Status     string
}

// allocateSeq returns the next gap-free seq for conversationID, serialized under the
// conversation's lock. It and BeginDraft, which reads the next seq under the same lock,
// are the only points at which seq values are issued.
func (s *Store) allocateSeq(ctx context.Context, conversationID string) (int64, error) {
	mu := s.lockFor(conversationID)
	mu.Lock()
	defer mu.Unlock()

	var max int64
	if err := s.stmtMaxSeq.QueryRowContext(ctx, conversationID).Scan(&max); err != nil {
		return 0, fmt.Errorf("store: allocate seq: %w", err)
	}
	return max + 1, nil
}

// BeginDraft allocates the next seq under the per-conversation lock and inserts an
// empty draft assistant row. Only one draft may exist at the tail of a conversation at
// a time; callers are responsible for finalizing or erroring out a prior draft before
// starting a new one.
func (s *Store) BeginDraft(ctx context.Context, conversationID string) (messageID string, seq int64, err error) {
	mu := s.lockFor(conversationID)
	mu.Lock()
	defer mu.Unlock()

	var max int64
	if err := s.stmtMaxSeq.QueryRowContext(ctx, conversationID).Scan(&max); err != nil {
		return "", 0, fmt.Errorf("store: begin draft: allocate seq: %w", err)
	}
	seq = max + 1
	messageID = uuid.NewString()
	now := nowUTC()

	if _, err := s.stmtInsertDraft.ExecContext(ctx, messageID, conversationID, seq, string(chatapi.RoleAssistant), now, now); err != nil {
		return "", 0, fmt.Errorf("store: begin draft: insert: %w", err)
	}
	return messageID, seq, nil
}

// Checkpoint writes the current full content of a still-draft message. It is a no-op
// (but not an error) if the row is no longer in draft status.
func (s *Store) Checkpoint(ctx context.Context, messageID, content string) error {
	if _, err := s.stmtCheckpoint.ExecContext(ctx, content, nowUTC(), messageID); err != nil {
		return fmt.Errorf("store: checkpoint: %w", err)
	}
	return nil
}

// FinalizeAssistant transactionally sets a draft (or not-yet-inserted) assistant
// message to final, recording finish reason, token counts, the upstream response id,
// and any tool calls the model emitted. If no row with messageID exists (draft
// insertion had failed), it falls back to a single INSERT ... status='final' using
// messageID and seq.
func (s *Store) FinalizeAssistant(ctx context.Context, conversationID, messageID string, seq int64, content string, finishReason string, tokensIn, tokensOut, tokensTotal int, responseID string, toolCalls []chatapi.ToolCall) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: finalize: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := nowUTC()

	res, err := tx.StmtContext(ctx, s.stmtFinalizeMessage).ExecContext(ctx, content, nil, finishReason, tokensIn, tokensOut, tokensTotal, responseID, now, messageID)
	if err != nil {
		return fmt.Errorf("store: finalize: update: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		if _, err := tx.StmtContext(ctx, s.stmtInsertFinal).ExecContext(ctx, messageID, conversationID, seq, string(chatapi.RoleAssistant), content, nil, "", "", finishReason, tokensIn, tokensOut, tokensTotal, responseID, now, now); err != nil {
			return fmt.Errorf("store: finalize: insert fallback: %w", err)
		}
	}

	for i, tc := range toolCalls {
		id := tc.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, err := tx.StmtContext(ctx, s.stmtInsertToolCall).ExecContext(ctx, id, messageID, i, tc.Function.Name, tc.Function.Arguments, nil); err != nil {
			return fmt.Errorf("store: finalize: insert tool call: %w", err)
		}
	}

	if err := s.touchConversation(ctx, tx, conversationID, now); err != nil {
		return fmt.Errorf("store: finalize: touch conversation: %w", err)
	}

	return tx.Commit()
}

// MarkError flips a message to status='error'/finish_reason='error', leaving content
// at its last checkpointed value. The row is never deleted.
func (s *Store) MarkError(ctx context.Context, messageID string) error {
	if _, err := s.stmtMarkError.ExecContext(ctx, nowUTC(), messageID); err != nil {
		return fmt.Errorf("store: mark error: %w", err)
	}
	return nil
}

// AppendUserMessage inserts a final user (or system) message, allocating its seq under
// the conversation lock, and bumps the conversation's updated_at.
func (s *Store) AppendUserMessage(ctx context.Context, conversationID string, role chatapi.Role, content string) (Message, error) {
	seq, err := s.allocateSeq(ctx, conversationID)
	if err != nil {
		return Message{}, err
	}
	return s.insertFinal(ctx, conversationID, seq, role, content, "", "", "", 0, 0, 0, "")
}

// AppendToolMessage inserts a final tool-role message referencing toolCallID, and
// records the corresponding tool_outputs row. Non-string tool outputs must be
// stringified by the caller before reaching this boundary (see DESIGN.md's Open
// Question notes); status is "success" or "error".
func (s *Store) AppendToolMessage(ctx context.Context, conversationID, toolCallID, content, status string) (Message, error) {
	seq, err := s.allocateSeq(ctx, conversationID)
	if err != nil {
		return Message{}, err
	}
	msg, err := s.insertFinal(ctx, conversationID, seq, chatapi.RoleTool, content, "", toolCallID, "", 0, 0, 0, "")
	if err != nil {
		return Message{}, err
	}

	outputID := uuid.NewString()
	if _, err := s.stmtInsertToolOutput.ExecContext(ctx, outputID, toolCallID, msg.ID, content, status); err != nil {
		return Message{}, fmt.Errorf("store: append tool message: insert output: %w", err)
	}
	msg.ToolOutputs = []ToolOutput{{ID: outputID, ToolCallID: toolCallID, MessageID: msg.ID, Output: content, Status: status}}
	return msg, nil
}

func (s *Store) insertFinal(ctx context.Context, conversationID string, seq int64, role chatapi.Role, content, name, toolCallID, finishReason string, tokensIn, tokensOut, tokensTotal int, responseID string) (Message, error) {
	id := uuid.NewString()
	now := nowUTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, fmt.Errorf("store: insert message: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.StmtContext(ctx, s.stmtInsertFinal).ExecContext(ctx, id, conversationID, seq, string(role), content, nil, name, toolCallID, finishReason, tokensIn, tokensOut, tokensTotal, responseID, now, now); err != nil {
		return Message{}, fmt.Errorf("store: insert message: %w", err)
	}
	if err := s.touchConversation(ctx, tx, conversationID, now); err != nil {
		return Message{}, fmt.Errorf("store: insert message: touch conversation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Message{}, fmt.Errorf("store: insert message: commit: %w", err)
	}

	return Message{
		ID: id, ConversationID: conversationID, Seq: seq, Role: role, Content: content,
		Name: name, ToolCallID: toolCallID, Status: chatapi.StatusFinal, FinishReason: finishReason,
		CreatedAt: now, UpdatedAt: now,
	}, nil
}

// GetMessagesPage returns up to limit messages with seq > afterSeq, each with its
// tool_calls[] and tool_outputs[] attached.
func (s *Store) GetMessagesPage(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]Message, error) {
	rows, err := s.stmtGetMessagesPage.QueryContext(ctx, conversationID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("store: get messages page: %w", err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	for i := range messages {
		if err := s.attachChildren(ctx, &messages[i]); err != nil {
			return nil, err
		}
	}
	return messages, nil
}

// GetLastMessage returns the highest-seq message in conversationID, with children
// attached.
func (s *Store) GetLastMessage(ctx context.Context, conversationID string) (Message, error) {
	row := s.stmtGetLastMessage.QueryRowContext(ctx, conversationID)
	msg, err := scanMessageRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Message{}, ErrNotFound
		}
		return Message{}, err
	}
	if err := s.attachChildren(ctx, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// GetMessageByID fetches a single message row by id, with children attached. Used by
// the edit-as-fork flow to validate the message being edited.
func (s *Store) GetMessageByID(ctx context.Context, id string) (Message, error) {
	row := s.stmtGetMessageByID.QueryRowContext(ctx, id)
	msg, err := scanMessageRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Message{}, ErrNotFound
		}
		return Message{}, err
	}
	if err := s.attachChildren(ctx, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (s *Store) attachChildren(ctx context.Context, msg *Message) error {
	tcRows, err := s.stmtGetToolCalls.QueryContext(ctx, msg.ID)
	if err != nil {
		return fmt.Errorf("store: attach tool calls: %w", err)
	}
	defer tcRows.Close()
	for tcRows.Next() {
		var tc ToolCall
		var offset sql.NullInt64
		if err := tcRows.Scan(&tc.ID, &tc.CallIndex, &tc.ToolName, &tc.Arguments, &offset); err != nil {
			return fmt.Errorf("store: scan tool call: %w", err)
		}
		tc.MessageID = msg.ID
		if offset.Valid {
			v := int(offset.Int64)
			tc.TextOffset = &v
		}
		msg.ToolCalls = append(msg.ToolCalls, tc)
	}

	toRows, err := s.stmtGetToolOutputs.QueryContext(ctx, msg.ID)
	if err != nil {
		return fmt.Errorf("store: attach tool outputs: %w", err)
	}
	defer toRows.Close()
	for toRows.Next() {
		var to ToolOutput
		if err := toRows.Scan(&to.ID, &to.ToolCallID, &to.MessageID, &to.Output, &to.Status); err != nil {
			return fmt.Errorf("store: scan tool output: %w", err)
		}
		msg.ToolOutputs = append(msg.ToolOutputs, to)
	}
	return nil
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var out []Message
	for rows.Next() {
		msg, err := scanMessageRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanMessageRow(row scannable) (Message, error) {
	var msg Message
	var name, toolCallID, finishReason, responseID sql.NullString
	if err := row.Scan(&msg.ID, &msg.ConversationID, &msg.Seq, &msg.Role, &msg.Content, &name, &toolCallID, &msg.Status, &finishReason, &msg.TokensIn, &msg.TokensOut, &msg.TokensTotal, &responseID, &msg.CreatedAt, &msg.UpdatedAt); err != nil {
		return Message{}, fmt.Errorf("store: scan message: %w", err)
	}
	msg.Name = name.String
	msg.ToolCallID = toolCallID.String
	msg.FinishReason = finishReason.String
	msg.ResponseID = responseID.String
	return msg, nil
}

// BuildWireMessages reconstructs a wire-ready chatapi.Message list for conversationID,
// suitable for re-invoking a provider: user/system/assistant rows carry their attached
// tool_calls, interleaved with role:"tool" rows whose content is the output string.
// Any "<thinking>" prefix in a stored assistant message is preserved verbatim.
func (s *Store) BuildWireMessages(ctx context.Context, conversationID string) ([]chatapi.Message, error) {
	rows, err := s.GetMessagesPage(ctx, conversationID, 0, 1<<30)
	if err != nil {
		return nil, err
	}

	out := make([]chatapi.Message, 0, len(rows))
	for _, row := range rows {
		if row.Status == chatapi.StatusDraft {
			continue
		}
		m := chatapi.Message{
			ID:             row.ID,
			ConversationID: row.ConversationID,
			Seq:            row.Seq,
			Role:           row.Role,
			Content:        chatapi.Content{Text: row.Content},
			Name:           row.Name,
			ToolCallID:     row.ToolCallID,
			Status:         row.Status,
			FinishReason:   row.FinishReason,
			TokensIn:       row.TokensIn,
			TokensOut:      row.TokensOut,
			TokensTotal:    row.TokensTotal,
			ResponseID:     row.ResponseID,
		}
		for _, tc := range row.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, chatapi.ToolCall{
				Index: tc.CallIndex,
				ID:    tc.ID,
				Type:  "function",
				Function: chatapi.FunctionCall{
					Name:      tc.ToolName,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, m)
	}
	return out, nil
}

// DeleteMessagesFrom removes every message with seq > afterSeq. Its caller is the
// proxy's legacy diff reconciliation, which trims a conversation's tail before
// re-appending the incoming messages; edit-as-fork does not use it.
func (s *Store) DeleteMessagesFrom(ctx context.Context, conversationID string, afterSeq int64) error {
	if _, err := s.stmtDeleteMessagesFrom.ExecContext(ctx, conversationID, afterSeq); err != nil {
		return fmt.Errorf("store: delete messages from: %w", err)
	}
	return nil
}

// ForkConversation creates a new conversation that is a copy of source up to and
// including upToSeq, used by the edit_message intent (§4.F "Edit as fork"). The
// original conversation is left untouched.
func (s *Store) ForkConversation(ctx context.Context, source Conversation, upToSeq int64) (Conversation, error) {
	forked := source
	forked.ID = uuid.NewString()
	forked, err := s.CreateConversation(ctx, forked)
	if err != nil {
		return Conversation{}, fmt.Errorf("store: fork conversation: create: %w", err)
	}

	rows, err := s.GetMessagesPage(ctx, source.ID, 0, 1<<30)
	if err != nil {
		return Conversation{}, fmt.Errorf("store: fork conversation: read source: %w", err)
	}

	for _, row := range rows {
		if row.Seq > upToSeq {
			break
		}
		switch row.Role {
		case chatapi.RoleTool:
			if _, err := s.AppendToolMessage(ctx, forked.ID, row.ToolCallID, row.Content, "success"); err != nil {
				return Conversation{}, fmt.Errorf("store: fork conversation: copy tool message: %w", err)
			}
		default:
			if _, err := s.AppendUserMessage(ctx, forked.ID, row.Role, row.Content); err != nil {
				return Conversation{}, fmt.Errorf("store: fork conversation: copy message: %w", err)
			}
		}
	}

	return forked, nil
}
