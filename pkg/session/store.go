package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/knollapp/knoll/pkg/reasoning"
)

// Store persists conversation sessions and their messages in SQLite.
// One session exists per sender identity; messages are ordered by a
// per-session sequence number.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// New opens (or creates) the session database at dbPath.
func New(dbPath string, logger zerolog.Logger) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=1&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL keeps readers unblocked while a turn is being written.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger.With().Str("module", "session").Logger(),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Info().Str("path", dbPath).Msg("Session store initialized")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id          TEXT PRIMARY KEY,
			sender_id   TEXT NOT NULL UNIQUE,
			created_at  TIMESTAMP NOT NULL,
			last_active TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			id           TEXT PRIMARY KEY,
			session_id   TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			seq          INTEGER NOT NULL,
			role         TEXT NOT NULL,
			content      TEXT NOT NULL,
			tool_calls   TEXT,
			tool_call_id TEXT,
			created_at   TIMESTAMP NOT NULL,
			UNIQUE(session_id, seq)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// EnsureSession resolves the session for a sender, creating it lazily
// on first contact.
func (s *Store) EnsureSession(ctx context.Context, senderID string) (string, error) {
	if senderID == "" {
		return "", fmt.Errorf("sender id cannot be empty")
	}

	var sessionID string
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM sessions WHERE sender_id = ?", senderID).Scan(&sessionID)
	if err == nil {
		return sessionID, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("failed to look up session: %w", err)
	}

	sessionID = uuid.NewString()
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO sessions (id, sender_id, created_at, last_active) VALUES (?, ?, ?, ?)",
		sessionID, senderID, now, now)
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.Info().Str("sender_id", senderID).Str("session_id", sessionID).
		Msg("Session created")
	return sessionID, nil
}

// SaveMessage persists a single message and returns its id.
func (s *Store) SaveMessage(ctx context.Context, sessionID string, msg reasoning.Message) (string, error) {
	ids, err := s.SaveTurn(ctx, sessionID, []reasoning.Message{msg})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// SaveTurn persists a set of messages in one transaction. Either every
// message lands or none does: a partially saved tool-calling turn
// poisons all future replays through the orphan-reference rule, so a
// failure rolls the whole batch back and is returned to the caller.
// Returned ids match the input order.
func (s *Store) SaveTurn(ctx context.Context, sessionID string, msgs []reasoning.Message) ([]string, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id cannot be empty")
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("no messages to save")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) FROM messages WHERE session_id = ?", sessionID).Scan(&seq)
	if err != nil {
		return nil, fmt.Errorf("failed to read message sequence: %w", err)
	}

	now := time.Now().UTC()
	ids := make([]string, 0, len(msgs))

	for _, msg := range msgs {
		id, err := gonanoid.New()
		if err != nil {
			return nil, fmt.Errorf("failed to generate message id: %w", err)
		}

		var toolCalls interface{}
		if len(msg.ToolCalls) > 0 {
			data, err := json.Marshal(msg.ToolCalls)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal tool calls: %w", err)
			}
			toolCalls = string(data)
		}

		seq++
		_, err = tx.ExecContext(ctx,
			`INSERT INTO messages (id, session_id, seq, role, content, tool_calls, tool_call_id, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, sessionID, seq, msg.Role, msg.Content, toolCalls, nullable(msg.ToolCallID), now)
		if err != nil {
			return nil, fmt.Errorf("failed to insert message: %w", err)
		}
		ids = append(ids, id)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE sessions SET last_active = ? WHERE id = ?", now, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to touch session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit turn: %w", err)
	}

	s.logger.Debug().Str("session_id", sessionID).Int("messages", len(msgs)).
		Msg("Turn saved")
	return ids, nil
}

// LoadMessages returns all messages of a session in insertion order.
func (s *Store) LoadMessages(ctx context.Context, sessionID string) ([]reasoning.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, tool_calls, tool_call_id
		 FROM messages WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []reasoning.Message
	for rows.Next() {
		var msg reasoning.Message
		var toolCalls, toolCallID sql.NullString

		if err := rows.Scan(&msg.Role, &msg.Content, &toolCalls, &toolCallID); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}

		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
				s.logger.Warn().Err(err).Str("session_id", sessionID).
					Msg("Skipping message with unparseable tool calls")
				continue
			}
		}
		msg.ToolCallID = toolCallID.String

		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}

	return msgs, nil
}

// DeleteIdleSessions removes sessions whose last activity is older
// than the retention window. Returns the number of sessions removed.
func (s *Store) DeleteIdleSessions(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-retention)
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM sessions WHERE last_active < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete idle sessions: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
