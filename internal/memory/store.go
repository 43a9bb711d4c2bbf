// Package memory provides thread-keyed conversation persistence.
//
// Each conversation is identified by an opaque thread id. History is
// append-only and ordered: messages are replayed to the model verbatim
// in insertion order, never reordered or deduplicated. Clearing a chat
// allocates a fresh thread id rather than rewriting an old one.
package memory

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Message represents one conversation message.
type Message struct {
	Role      string    `json:"role"` // system, user, assistant, tool
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation holds the state of a single conversation thread.
type Conversation struct {
	ID        string    `json:"id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is a SQLite-backed conversation store. All public methods are
// safe for concurrent use across thread ids; callers must not write to
// the same thread id from two goroutines at once (single writer per
// thread).
type Store struct {
	db *sql.DB
}

// NewStore creates a conversation store at the given database path.
// The schema is created automatically on first use.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return NewStoreWithDB(db)
}

// NewStoreWithDB creates a conversation store using an existing
// database connection. The caller retains ownership of db only until
// this call returns; Close releases it.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id         TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		seq             INTEGER NOT NULL,
		role            TEXT NOT NULL,
		content         TEXT NOT NULL,
		timestamp       TIMESTAMP NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// GetOrCreateConversation ensures a conversation exists and returns it
// without its messages.
func (s *Store) GetOrCreateConversation(id string) (*Conversation, error) {
	now := time.Now()

	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO conversations (id, created_at, updated_at)
		VALUES (?, ?, ?)
	`, id, now, now)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	return &Conversation{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// AddMessage appends a message to a conversation. The sequence number
// is assigned monotonically so replay order matches insertion order
// even when timestamps collide.
func (s *Store) AddMessage(conversationID, role, content string) error {
	now := time.Now()
	msgID, _ := uuid.NewV7()

	if _, err := s.GetOrCreateConversation(conversationID); err != nil {
		return err
	}

	_, err := s.db.Exec(`
		INSERT INTO messages (id, conversation_id, seq, role, content, timestamp)
		VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?), ?, ?, ?)
	`, msgID.String(), conversationID, conversationID, role, content, now)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	_, err = s.db.Exec(`
		UPDATE conversations SET updated_at = ? WHERE id = ?
	`, now, conversationID)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}

	return nil
}

// GetMessages retrieves a conversation's messages in insertion order.
// A conversation that doesn't exist yields an empty slice; a storage
// failure is an error, never silently an empty history.
func (s *Store) GetMessages(conversationID string) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT role, content, timestamp
		FROM messages
		WHERE conversation_id = ?
		ORDER BY seq ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Role, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}

	return messages, nil
}

// GetConversation retrieves a conversation with its messages.
// Returns nil if not found.
func (s *Store) GetConversation(id string) *Conversation {
	row := s.db.QueryRow(`
		SELECT id, created_at, updated_at FROM conversations WHERE id = ?
	`, id)

	var conv Conversation
	if err := row.Scan(&conv.ID, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return nil
	}

	conv.Messages, _ = s.GetMessages(id)
	return &conv
}

// Clear removes a conversation and its messages.
func (s *Store) Clear(conversationID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM conversations WHERE id = ?`, conversationID); err != nil {
		return err
	}

	return tx.Commit()
}

// ListConversations returns all conversations, most recently updated
// first, without their messages.
func (s *Store) ListConversations() []*Conversation {
	rows, err := s.db.Query(`
		SELECT id, created_at, updated_at FROM conversations ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		var conv Conversation
		if err := rows.Scan(&conv.ID, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			continue
		}
		convs = append(convs, &conv)
	}
	return convs
}

// Stats returns storage statistics.
func (s *Store) Stats() map[string]any {
	var convCount, msgCount int

	_ = s.db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&convCount)
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&msgCount)

	return map[string]any{
		"conversations": convCount,
		"messages":      msgCount,
		"storage":       "sqlite",
	}
}
