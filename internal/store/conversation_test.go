package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}

	for _, stmt := range []string{
		`INSERT INTO conversations`, `SELECT id, user_id, session_id`, `UPDATE conversations SET updated_at`,
		`UPDATE conversations SET deleted_at`, `UPDATE conversations SET deleted_at = \? WHERE deleted_at IS NULL`,
		`SELECT COALESCE\(MAX`, `INSERT INTO messages \(id, conversation_id, seq, role, content, status`,
		`UPDATE messages SET content = \?, updated_at`, `UPDATE messages SET content = \?, content_json`,
		`UPDATE messages SET status = 'error'`, `INSERT INTO messages \(id, conversation_id, seq, role, content, content_json`,
		`SELECT id, conversation_id, seq, role, content, name, tool_call_id, status, finish_reason, tokens_in, tokens_out, tokens_total, response_id, created_at, updated_at FROM messages WHERE conversation_id = \? AND seq >`,
		`SELECT id, conversation_id, seq, role, content, name, tool_call_id, status, finish_reason, tokens_in, tokens_out, tokens_total, response_id, created_at, updated_at FROM messages WHERE conversation_id = \? ORDER BY seq DESC`,
		`SELECT id, conversation_id, seq, role, content, name, tool_call_id, status, finish_reason, tokens_in, tokens_out, tokens_total, response_id, created_at, updated_at FROM messages WHERE id`,
		`DELETE FROM messages`, `INSERT INTO tool_calls`, `SELECT id, call_index, tool_name, arguments, text_offset FROM tool_calls`,
		`INSERT INTO tool_outputs`, `SELECT id, tool_call_id, message_id, output, status FROM tool_outputs`,
	} {
		mock.ExpectPrepare(stmt)
	}

	s := &Store{db: db}
	if err := s.prepareStatements(); err != nil {
		t.Fatalf("prepareStatements: %v", err)
	}
	return s, mock
}

func TestCreateConversationInsertsRow(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectExec(`INSERT INTO conversations`).WillReturnResult(sqlmock.NewResult(1, 1))

	conv, err := s.CreateConversation(context.Background(), Conversation{ID: "conv-1", UserID: "user-1"})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if conv.ID != "conv-1" {
		t.Fatalf("expected id conv-1, got %s", conv.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetConversationNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`SELECT id, user_id, session_id`).WillReturnError(sql.ErrNoRows)

	_, err := s.GetConversation(context.Background(), "missing")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSweepExpiredConversationsReturnsAffectedCount(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectExec(`UPDATE conversations SET deleted_at = \? WHERE deleted_at IS NULL`).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.SweepExpiredConversations(context.Background(), time.Now().Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("SweepExpiredConversations: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 affected, got %d", n)
	}
}
