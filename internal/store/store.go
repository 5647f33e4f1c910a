// Package store implements the Persistence Engine (Component G): a SQLite-backed
// conversation/message store with gap-free per-conversation sequence numbers, a
// draft->checkpoint->final/error message lifecycle, and tool_calls/tool_outputs child
// tables. It is the only component permitted to mutate conversation rows; every other
// component consumes row snapshots returned from here.
//
// The prepared-statement-plus-transaction idiom below is carried over from the
// teacher's CockroachDB session store, re-targeted at SQLite via database/sql and
// mattn/go-sqlite3.
package store

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite-backed Persistence Engine.
type Store struct {
	db *sql.DB

	stmtInsertConversation *sql.Stmt
	stmtGetConversation    *sql.Stmt
	stmtTouchConversation  *sql.Stmt
	stmtSoftDeleteConv     *sql.Stmt
	stmtSweepConversations *sql.Stmt

	stmtMaxSeq          *sql.Stmt
	stmtInsertDraft      *sql.Stmt
	stmtCheckpoint       *sql.Stmt
	stmtFinalizeMessage  *sql.Stmt
	stmtMarkError        *sql.Stmt
	stmtInsertFinal      *sql.Stmt
	stmtGetMessagesPage  *sql.Stmt
	stmtGetLastMessage   *sql.Stmt
	stmtGetMessageByID   *sql.Stmt
	stmtDeleteMessagesFrom *sql.Stmt

	stmtInsertToolCall  *sql.Stmt
	stmtGetToolCalls    *sql.Stmt
	stmtInsertToolOutput *sql.Stmt
	stmtGetToolOutputs  *sql.Stmt

	seqLocks sync.Map // conversation id -> *sync.Mutex
}

// Open opens (creating if necessary) the SQLite database at dsn, applies the schema,
// configures the connection pool, and prepares every statement used by the engine.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	// SQLite allows only one writer at a time; a single connection avoids
	// "database is locked" errors under concurrent checkpoint writes.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	s := &Store{db: db}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	session_id TEXT,
	title TEXT,
	model TEXT,
	provider_id TEXT,
	metadata TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	deleted_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	content_json TEXT,
	name TEXT,
	tool_call_id TEXT,
	status TEXT NOT NULL,
	finish_reason TEXT,
	tokens_in INTEGER NOT NULL DEFAULT 0,
	tokens_out INTEGER NOT NULL DEFAULT 0,
	tokens_total INTEGER NOT NULL DEFAULT 0,
	response_id TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conv_seq ON messages(conversation_id, seq);

CREATE TABLE IF NOT EXISTS tool_calls (
	id TEXT NOT NULL,
	message_id TEXT NOT NULL,
	call_index INTEGER NOT NULL,
	tool_name TEXT NOT NULL,
	arguments TEXT NOT NULL,
	text_offset INTEGER,
	PRIMARY KEY (message_id, call_index)
);
CREATE INDEX IF NOT EXISTS idx_tool_calls_id ON tool_calls(id);

CREATE TABLE IF NOT EXISTS tool_outputs (
	id TEXT PRIMARY KEY,
	tool_call_id TEXT NOT NULL,
	message_id TEXT NOT NULL,
	output TEXT NOT NULL,
	status TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tool_outputs_call ON tool_outputs(tool_call_id);
`

func (s *Store) prepareStatements() error {
	var err error
	prep := func(dst **sql.Stmt, query string) {
		if err != nil {
			return
		}
		*dst, err = s.db.Prepare(query)
	}

	prep(&s.stmtInsertConversation, `INSERT INTO conversations (id, user_id, session_id, title, model, provider_id, metadata, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	prep(&s.stmtGetConversation, `SELECT id, user_id, session_id, title, model, provider_id, metadata, created_at, updated_at, deleted_at FROM conversations WHERE id = ? AND deleted_at IS NULL`)
	prep(&s.stmtTouchConversation, `UPDATE conversations SET updated_at = ? WHERE id = ?`)
	prep(&s.stmtSoftDeleteConv, `UPDATE conversations SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`)
	prep(&s.stmtSweepConversations, `UPDATE conversations SET deleted_at = ? WHERE deleted_at IS NULL AND updated_at < ?`)

	prep(&s.stmtMaxSeq, `SELECT COALESCE(MAX(seq), 0) FROM messages WHERE conversation_id = ?`)
	prep(&s.stmtInsertDraft, `INSERT INTO messages (id, conversation_id, seq, role, content, status, created_at, updated_at) VALUES (?, ?, ?, ?, '', 'draft', ?, ?)`)
	prep(&s.stmtCheckpoint, `UPDATE messages SET content = ?, updated_at = ? WHERE id = ? AND status = 'draft'`)
	prep(&s.stmtFinalizeMessage, `UPDATE messages SET content = ?, content_json = ?, status = 'final', finish_reason = ?, tokens_in = ?, tokens_out = ?, tokens_total = ?, response_id = ?, updated_at = ? WHERE id = ?`)
	prep(&s.stmtMarkError, `UPDATE messages SET status = 'error', finish_reason = 'error', updated_at = ? WHERE id = ?`)
	prep(&s.stmtInsertFinal, `INSERT INTO messages (id, conversation_id, seq, role, content, content_json, name, tool_call_id, status, finish_reason, tokens_in, tokens_out, tokens_total, response_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'final', ?, ?, ?, ?, ?, ?, ?)`)
	prep(&s.stmtGetMessagesPage, `SELECT id, conversation_id, seq, role, content, name, tool_call_id, status, finish_reason, tokens_in, tokens_out, tokens_total, response_id, created_at, updated_at FROM messages WHERE conversation_id = ? AND seq > ? ORDER BY seq ASC LIMIT ?`)
	prep(&s.stmtGetLastMessage, `SELECT id, conversation_id, seq, role, content, name, tool_call_id, status, finish_reason, tokens_in, tokens_out, tokens_total, response_id, created_at, updated_at FROM messages WHERE conversation_id = ? ORDER BY seq DESC LIMIT 1`)
	prep(&s.stmtGetMessageByID, `SELECT id, conversation_id, seq, role, content, name, tool_call_id, status, finish_reason, tokens_in, tokens_out, tokens_total, response_id, created_at, updated_at FROM messages WHERE id = ?`)
	prep(&s.stmtDeleteMessagesFrom, `DELETE FROM messages WHERE conversation_id = ? AND seq > ?`)

	prep(&s.stmtInsertToolCall, `INSERT INTO tool_calls (id, message_id, call_index, tool_name, arguments, text_offset) VALUES (?, ?, ?, ?, ?, ?)`)
	prep(&s.stmtGetToolCalls, `SELECT id, call_index, tool_name, arguments, text_offset FROM tool_calls WHERE message_id = ? ORDER BY call_index ASC`)
	prep(&s.stmtInsertToolOutput, `INSERT INTO tool_outputs (id, tool_call_id, message_id, output, status) VALUES (?, ?, ?, ?, ?)`)
	prep(&s.stmtGetToolOutputs, `SELECT id, tool_call_id, message_id, output, status FROM tool_outputs WHERE message_id = ?`)

	if err != nil {
		return fmt.Errorf("store: prepare statements: %w", err)
	}
	return nil
}

// Close closes every prepared statement and the underlying database handle.
func (s *Store) Close() error {
	stmts := []*sql.Stmt{
		s.stmtInsertConversation, s.stmtGetConversation, s.stmtTouchConversation,
		s.stmtSoftDeleteConv, s.stmtSweepConversations, s.stmtMaxSeq, s.stmtInsertDraft,
		s.stmtCheckpoint, s.stmtFinalizeMessage, s.stmtMarkError, s.stmtInsertFinal,
		s.stmtGetMessagesPage, s.stmtGetLastMessage, s.stmtGetMessageByID,
		s.stmtDeleteMessagesFrom, s.stmtInsertToolCall, s.stmtGetToolCalls,
		s.stmtInsertToolOutput, s.stmtGetToolOutputs,
	}
	for _, stmt := range stmts {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}

// lockFor returns the per-conversation mutex serializing seq allocation (allocateSeq,
// BeginDraft) for conversationID, creating it on first use. FinalizeAssistant does not
// take it.
func (s *Store) lockFor(conversationID string) *sync.Mutex {
	actual, _ := s.seqLocks.LoadOrStore(conversationID, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

func nowUTC() time.Time { return time.Now().UTC() }
