// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Conversations aggregate with atomic counters, messages written in batches

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lithammer/shortuuid/v4"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection serializes writers and keeps :memory: databases shared
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id                  TEXT PRIMARY KEY,
			user_id             TEXT NOT NULL,
			created_at          INTEGER NOT NULL,
			last_message_at     INTEGER NOT NULL,
			updated_at          INTEGER NOT NULL,
			total_message_count INTEGER NOT NULL DEFAULT 0,
			last_message        TEXT NOT NULL DEFAULT '',
			title               TEXT NOT NULL DEFAULT 'New Chat'
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, updated_at DESC);

		CREATE TABLE IF NOT EXISTS messages (
			id                TEXT PRIMARY KEY,
			conversation_id   TEXT NOT NULL,
			role              TEXT NOT NULL,
			content           TEXT NOT NULL,
			timestamp         INTEGER NOT NULL,
			event             TEXT,
			event_data        TEXT,
			token_usage       TEXT,
			attachments       TEXT,
			is_cx_interaction INTEGER NOT NULL DEFAULT 0,
			rate              INTEGER NOT NULL DEFAULT 0,

			CHECK (role IN ('user', 'assistant', 'humanAgent', 'system'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_ts
			ON messages(conversation_id, timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Ping verifies the database is reachable
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// NewMessageID reserves a fresh message identifier
func (s *SQLiteStore) NewMessageID() string {
	return shortuuid.New()
}

// GetConversation retrieves a conversation aggregate by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `
		SELECT id, user_id, created_at, last_message_at, updated_at, total_message_count, last_message, title
		FROM conversations
		WHERE id = ?
	`

	var c Conversation
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID,
		&c.UserID,
		&c.CreatedAt,
		&c.LastMessageAt,
		&c.UpdatedAt,
		&c.TotalMessageCount,
		&c.LastMessage,
		&c.Title,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return &c, nil
}

// UpsertConversation creates the aggregate or atomically adds to its counter.
// The increment happens inside a single statement so concurrent writers never lose updates.
func (s *SQLiteStore) UpsertConversation(ctx context.Context, u *ConversationUpsert) (*Conversation, error) {
	title := u.Title
	if title == "" {
		title = DefaultTitle
	}

	query := `
		INSERT INTO conversations (id, user_id, created_at, last_message_at, updated_at, total_message_count, last_message, title)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			total_message_count = conversations.total_message_count + excluded.total_message_count,
			last_message_at     = excluded.last_message_at,
			updated_at          = excluded.updated_at,
			last_message        = excluded.last_message
		RETURNING id, user_id, created_at, last_message_at, updated_at, total_message_count, last_message, title
	`

	var c Conversation
	err := s.db.QueryRowContext(ctx, query,
		u.ID,
		u.UserID,
		u.At,
		u.At,
		u.At,
		u.MessageCount,
		u.LastMessage,
		title,
	).Scan(
		&c.ID,
		&c.UserID,
		&c.CreatedAt,
		&c.LastMessageAt,
		&c.UpdatedAt,
		&c.TotalMessageCount,
		&c.LastMessage,
		&c.Title,
	)
	if err != nil {
		return nil, fmt.Errorf("upserting conversation: %w", err)
	}

	s.logger.Debug("upserted conversation",
		"id", c.ID,
		"added", u.MessageCount,
		"total", c.TotalMessageCount)
	return &c, nil
}

// SaveMessages writes all messages in one transaction.
// Messages without an ID get one assigned here.
func (s *SQLiteStore) SaveMessages(ctx context.Context, conversationID string, msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (
			id, conversation_id, role, content, timestamp,
			event, event_data, token_usage, attachments, is_cx_interaction, rate
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, msg := range msgs {
		if msg.ID == "" {
			msg.ID = s.NewMessageID()
		}
		msg.ConversationID = conversationID

		eventData, err := marshalNullable(msg.EventData)
		if err != nil {
			return fmt.Errorf("encoding event data: %w", err)
		}
		tokenUsage, err := marshalNullable(msg.TokenUsage)
		if err != nil {
			return fmt.Errorf("encoding token usage: %w", err)
		}
		attachments, err := marshalNullable(msg.Attachments)
		if err != nil {
			return fmt.Errorf("encoding attachments: %w", err)
		}

		_, err = stmt.ExecContext(ctx,
			msg.ID,
			conversationID,
			string(msg.Role),
			msg.Content,
			msg.Timestamp,
			nullString(msg.Event),
			eventData,
			tokenUsage,
			attachments,
			boolToInt(msg.IsCxInteraction),
			msg.Rate,
		)
		if err != nil {
			if isConstraintViolation(err) {
				return fmt.Errorf("%w: %s", ErrDuplicateMessage, msg.ID)
			}
			return fmt.Errorf("inserting message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}

	s.logger.Debug("saved messages", "conversation_id", conversationID, "count", len(msgs))
	return nil
}

// ListMessages returns the most recent messages of a conversation, oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, q MessageQuery) ([]*Message, error) {
	where := []string{"conversation_id = ?"}
	if !q.IncludeInternal {
		where = append(where,
			"is_cx_interaction = 0",
			"(event IS NULL OR event != '"+EventHumanAgentJoined+"')")
	}

	query := fmt.Sprintf(`
		SELECT id, conversation_id, role, content, timestamp,
		       event, event_data, token_usage, attachments, is_cx_interaction, rate
		FROM messages
		WHERE %s
		ORDER BY timestamp DESC, rowid DESC
		LIMIT ?
	`, strings.Join(where, " AND "))

	rows, err := s.db.QueryContext(ctx, query, conversationID, clampLimit(q.Limit))
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	// Query returns newest first; callers want chronological order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func scanMessage(rows *sql.Rows) (*Message, error) {
	var msg Message
	var role string
	var event, eventData, tokenUsage, attachments sql.NullString
	var isCx int

	if err := rows.Scan(
		&msg.ID,
		&msg.ConversationID,
		&role,
		&msg.Content,
		&msg.Timestamp,
		&event,
		&eventData,
		&tokenUsage,
		&attachments,
		&isCx,
		&msg.Rate,
	); err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}

	msg.Role = Role(role)
	msg.Event = event.String
	msg.IsCxInteraction = isCx != 0

	if err := unmarshalNullable(eventData, &msg.EventData); err != nil {
		return nil, fmt.Errorf("decoding event data: %w", err)
	}
	if err := unmarshalNullable(tokenUsage, &msg.TokenUsage); err != nil {
		return nil, fmt.Errorf("decoding token usage: %w", err)
	}
	if err := unmarshalNullable(attachments, &msg.Attachments); err != nil {
		return nil, fmt.Errorf("decoding attachments: %w", err)
	}
	return &msg, nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// marshalNullable encodes v as JSON, storing nil/empty values as NULL
func marshalNullable[T any](v T) (sql.NullString, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	if string(data) == "null" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalNullable(ns sql.NullString, dst any) error {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(ns.String), dst)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
