// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

// SchemaVersion is stored in PRAGMA user_version.
const SchemaVersion = 1

// Schema creates the chat table.
const Schema = `
CREATE TABLE IF NOT EXISTS chats (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    system_prompt TEXT NOT NULL DEFAULT '',
    model_id TEXT NOT NULL DEFAULT '',
    model_name TEXT NOT NULL DEFAULT '',
    provider TEXT NOT NULL DEFAULT '',
    total_cost REAL NOT NULL DEFAULT 0,
    message_count INTEGER NOT NULL DEFAULT 0,
    search_text TEXT NOT NULL DEFAULT '', -- lowercased names and message text
    created_at INTEGER NOT NULL,          -- unix ms
    updated_at INTEGER NOT NULL,          -- unix ms
    messages BLOB                         -- msgpack []model.ChatMessage
);

CREATE INDEX IF NOT EXISTS idx_chats_updated_at ON chats(updated_at);
`
