// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/routerchat/internal/model"
)

// ErrChatNotFound is returned for an unknown chat id.
var ErrChatNotFound = errors.New("chat not found")

// DefaultMaxChats bounds the number of stored chats.
const DefaultMaxChats = 500

// =============================================================================
// TYPES
// =============================================================================

// Chat is one saved conversation.
type Chat struct {
	ID           int64
	Name         string
	SystemPrompt string
	Model        model.ModelRef
	TotalCost    float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Messages     []model.ChatMessage
}

// ChatMeta describes a chat without its messages.
type ChatMeta struct {
	ID           int64
	Name         string
	Model        model.ModelRef
	TotalCost    float64
	MessageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ChatFromSession snapshots a session into a new, unsaved chat. An empty
// name is replaced by a timestamped default when the chat is added.
func ChatFromSession(sess *model.Session, name string) *Chat {
	clone := sess.Clone()
	return &Chat{
		Name:         name,
		SystemPrompt: clone.SystemPrompt,
		Model:        clone.Model,
		Messages:     clone.Messages,
	}
}

// Session returns the chat as a live session.
func (c *Chat) Session() *model.Session {
	return &model.Session{
		Messages:     model.CloneMessages(c.Messages),
		SystemPrompt: c.SystemPrompt,
		Model:        c.Model,
	}
}

// DefaultName is the name given to chats saved without one.
func DefaultName(t time.Time) string {
	return "Chat " + t.Format("2006-01-02 15:04:05")
}

// =============================================================================
// STORE
// =============================================================================

// Store is the chat database.
type Store struct {
	db       *sql.DB
	maxChats int
	logger   *zap.Logger
	now      func() time.Time
}

// Open opens or creates the database at path.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", p, err)
		}
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", SchemaVersion)); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set schema version: %w", err)
	}

	return &Store{
		db:       db,
		maxChats: DefaultMaxChats,
		logger:   logger.With(zap.String("component", "storage")),
		now:      time.Now,
	}, nil
}

// SetMaxChats changes the retention limit. Zero means unlimited.
func (s *Store) SetMaxChats(n int) {
	s.maxChats = n
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// WRITES
// =============================================================================

// Add inserts a new chat and sets its ID and timestamps.
func (s *Store) Add(ctx context.Context, chat *Chat) (int64, error) {
	now := s.now()
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = now
	}
	chat.UpdatedAt = now
	if strings.TrimSpace(chat.Name) == "" {
		chat.Name = DefaultName(chat.CreatedAt)
	}
	chat.TotalCost = model.TotalCost(chat.Messages)

	blob, err := msgpack.Marshal(chat.Messages)
	if err != nil {
		return 0, fmt.Errorf("failed to encode messages: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (name, system_prompt, model_id, model_name, provider,
			total_cost, message_count, search_text, created_at, updated_at, messages)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		chat.Name, chat.SystemPrompt, chat.Model.ModelID, chat.Model.ModelName, chat.Model.Provider,
		chat.TotalCost, len(chat.Messages), searchText(chat), chat.CreatedAt.UnixMilli(), chat.UpdatedAt.UnixMilli(), blob)
	if err != nil {
		return 0, fmt.Errorf("failed to insert chat: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read chat id: %w", err)
	}
	chat.ID = id

	s.logger.Debug("chat added", zap.Int64("chat_id", id), zap.Int("messages", len(chat.Messages)))
	s.enforceLimit(ctx)
	return id, nil
}

// Put overwrites an existing chat. A chat without an ID is added instead.
func (s *Store) Put(ctx context.Context, chat *Chat) error {
	if chat.ID == 0 {
		_, err := s.Add(ctx, chat)
		return err
	}

	chat.UpdatedAt = s.now()
	if strings.TrimSpace(chat.Name) == "" {
		chat.Name = DefaultName(chat.CreatedAt)
	}
	chat.TotalCost = model.TotalCost(chat.Messages)

	blob, err := msgpack.Marshal(chat.Messages)
	if err != nil {
		return fmt.Errorf("failed to encode messages: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE chats SET name = ?, system_prompt = ?, model_id = ?, model_name = ?, provider = ?,
			total_cost = ?, message_count = ?, search_text = ?, updated_at = ?, messages = ?
		WHERE id = ?`,
		chat.Name, chat.SystemPrompt, chat.Model.ModelID, chat.Model.ModelName, chat.Model.Provider,
		chat.TotalCost, len(chat.Messages), searchText(chat), chat.UpdatedAt.UnixMilli(), blob, chat.ID)
	if err != nil {
		return fmt.Errorf("failed to update chat %d: %w", chat.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("chat %d: %w", chat.ID, ErrChatNotFound)
	}
	return nil
}

// Delete removes a chat.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete chat %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("chat %d: %w", id, ErrChatNotFound)
	}
	return nil
}

// enforceLimit removes the least recently updated chats over the limit.
func (s *Store) enforceLimit(ctx context.Context) {
	if s.maxChats <= 0 {
		return
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM chats WHERE id IN (
			SELECT id FROM chats ORDER BY updated_at DESC, id DESC LIMIT -1 OFFSET ?
		)`, s.maxChats)
	if err != nil {
		s.logger.Warn("failed to prune old chats", zap.Error(err))
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Info("pruned old chats", zap.Int64("removed", n))
	}
}

// searchText is the lowercased haystack Search matches against.
func searchText(chat *Chat) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(chat.Name))
	for _, m := range chat.Messages {
		if m.IsError {
			continue
		}
		b.WriteByte('\n')
		b.WriteString(strings.ToLower(m.Text))
	}
	return b.String()
}

// =============================================================================
// READS
// =============================================================================

// Get loads a chat with its messages.
func (s *Store) Get(ctx context.Context, id int64) (*Chat, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, system_prompt, model_id, model_name, provider, total_cost,
			created_at, updated_at, messages
		FROM chats WHERE id = ?`, id)

	var (
		chat             Chat
		created, updated int64
		blob             []byte
	)
	err := row.Scan(&chat.ID, &chat.Name, &chat.SystemPrompt,
		&chat.Model.ModelID, &chat.Model.ModelName, &chat.Model.Provider,
		&chat.TotalCost, &created, &updated, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chat %d: %w", id, ErrChatNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load chat %d: %w", id, err)
	}

	chat.CreatedAt = time.UnixMilli(created)
	chat.UpdatedAt = time.UnixMilli(updated)
	if len(blob) > 0 {
		if err := msgpack.Unmarshal(blob, &chat.Messages); err != nil {
			return nil, fmt.Errorf("failed to decode messages of chat %d: %w", id, err)
		}
	}
	return &chat, nil
}

// List returns all chats, most recently updated first.
func (s *Store) List(ctx context.Context) ([]ChatMeta, error) {
	return s.queryMetas(ctx, `
		SELECT id, name, model_id, model_name, provider, total_cost, message_count, created_at, updated_at
		FROM chats ORDER BY updated_at DESC, id DESC`)
}

// Search returns chats whose name or message text contains query,
// case-insensitively, most recently updated first.
func (s *Store) Search(ctx context.Context, query string) ([]ChatMeta, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return s.List(ctx)
	}
	return s.queryMetas(ctx, `
		SELECT id, name, model_id, model_name, provider, total_cost, message_count, created_at, updated_at
		FROM chats WHERE instr(search_text, ?) > 0 ORDER BY updated_at DESC, id DESC`, query)
}

func (s *Store) queryMetas(ctx context.Context, query string, args ...any) ([]ChatMeta, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	var metas []ChatMeta
	for rows.Next() {
		var (
			m                ChatMeta
			created, updated int64
		)
		if err := rows.Scan(&m.ID, &m.Name, &m.Model.ModelID, &m.Model.ModelName, &m.Model.Provider,
			&m.TotalCost, &m.MessageCount, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan chat: %w", err)
		}
		m.CreatedAt = time.UnixMilli(created)
		m.UpdatedAt = time.UnixMilli(updated)
		metas = append(metas, m)
	}
	return metas, rows.Err()
}
