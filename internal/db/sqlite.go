package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/checkmate-ai/checkmate-server/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a conversation id is unknown.
var ErrNotFound = errors.New("conversation not found")

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL,
    owner_id TEXT NOT NULL,
    model_id TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id INTEGER NOT NULL,
    role TEXT NOT NULL CHECK (role IN ('system', 'user', 'assistant')),
    content TEXT NOT NULL,
    model_id TEXT NOT NULL DEFAULT '',
    token_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation
    ON messages(conversation_id, id);

CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT ''
);`

type Database struct {
	db *sql.DB
}

func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Serialized appends per connection keep message ordering stable
	// under concurrent requests.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		return nil, err
	}

	return &Database{db: db}, nil
}

func (db *Database) Close() error {
	return db.db.Close()
}

func (db *Database) CreateConversation(ctx context.Context, ownerID, title, modelID string) (*models.Conversation, error) {
	query := `
        INSERT INTO conversations (title, owner_id, model_id, created_at, updated_at)
        VALUES (?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
        RETURNING id, created_at, updated_at`

	conv := &models.Conversation{Title: title, OwnerID: ownerID, ModelID: modelID}
	err := db.db.QueryRowContext(ctx, query, title, ownerID, modelID).
		Scan(&conv.ID, &conv.CreatedAt, &conv.UpdatedAt)
	return conv, err
}

func (db *Database) GetConversation(ctx context.Context, id int64) (*models.Conversation, error) {
	query := `
        SELECT id, title, owner_id, model_id, created_at, updated_at
        FROM conversations
        WHERE id = ?`

	conv := &models.Conversation{}
	err := db.db.QueryRowContext(ctx, query, id).
		Scan(&conv.ID, &conv.Title, &conv.OwnerID, &conv.ModelID, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return conv, err
}

// AppendMessage persists one message and bumps the conversation's
// updated_at in the same transaction. Content is never updated afterwards.
func (db *Database) AppendMessage(ctx context.Context, convID int64, role models.Role, content, modelID string, tokenCount int) (*models.Message, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role %q", role)
	}

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var exists int64
	err = tx.QueryRowContext(ctx, "SELECT id FROM conversations WHERE id = ?", convID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	msg := &models.Message{
		ConvID:     convID,
		Role:       role,
		Content:    content,
		ModelID:    modelID,
		TokenCount: tokenCount,
	}
	err = tx.QueryRowContext(ctx, `
        INSERT INTO messages (conversation_id, role, content, model_id, token_count, created_at)
        VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
        RETURNING id, created_at`,
		convID, role, content, modelID, tokenCount,
	).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE conversations SET updated_at = CURRENT_TIMESTAMP WHERE id = ?", convID); err != nil {
		return nil, fmt.Errorf("failed to bump conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return msg, nil
}

// GetHistory returns the most recent limit messages of a conversation,
// oldest first.
func (db *Database) GetHistory(ctx context.Context, convID int64, limit int) ([]models.Message, error) {
	if _, err := db.GetConversation(ctx, convID); err != nil {
		return nil, err
	}

	query := `
        SELECT id, conversation_id, role, content, model_id, token_count, created_at
        FROM (
            SELECT id, conversation_id, role, content, model_id, token_count, created_at
            FROM messages
            WHERE conversation_id = ?
            ORDER BY id DESC
            LIMIT ?
        )
        ORDER BY id ASC`

	rows, err := db.db.QueryContext(ctx, query, convID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		err := rows.Scan(&msg.ID, &msg.ConvID, &msg.Role, &msg.Content, &msg.ModelID, &msg.TokenCount, &msg.CreatedAt)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (db *Database) ListConversations(ctx context.Context, ownerID string) ([]models.Conversation, error) {
	query := `
        SELECT id, title, owner_id, model_id, created_at, updated_at
        FROM conversations
        WHERE owner_id = ?
        ORDER BY updated_at DESC`

	rows, err := db.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conversations := make([]models.Conversation, 0)
	for rows.Next() {
		var conv models.Conversation
		err := rows.Scan(&conv.ID, &conv.Title, &conv.OwnerID, &conv.ModelID, &conv.CreatedAt, &conv.UpdatedAt)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

func (db *Database) DeleteConversation(ctx context.Context, id int64) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE conversation_id = ?", id); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

func (db *Database) UpdateConversationTitle(ctx context.Context, id int64, title string) error {
	res, err := db.db.ExecContext(ctx, "UPDATE conversations SET title = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?", title, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Setting returns the stored value for key, or "" when unset.
func (db *Database) Setting(ctx context.Context, key string) (string, error) {
	var value string
	err := db.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// SeedDefaults inserts the default system settings, keeping any values an
// operator already changed.
func (db *Database) SeedDefaults(ctx context.Context, defaults map[string]string) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for key, value := range defaults {
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO settings (key, value) VALUES (?, ?)
            ON CONFLICT(key) DO NOTHING`, key, value); err != nil {
			return fmt.Errorf("failed to seed setting %s: %w", key, err)
		}
	}

	return tx.Commit()
}
